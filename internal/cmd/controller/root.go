// Package controller sets up the CLI commands for the flotilla binary.
package controller

import (
	"github.com/spf13/cobra"

	command "github.com/flotilla-gitops/flotilla/internal/cmd"
	"github.com/flotilla-gitops/flotilla/pkg/version"
)

type Flotilla struct {
	command.DebugConfig
}

func (f *Flotilla) PersistentPre(_ *cobra.Command, _ []string) error {
	return f.SetupDebug()
}

func (f *Flotilla) Run(cmd *cobra.Command, _ []string) error {
	return cmd.Help()
}

func App() *cobra.Command {
	root := command.Command(&Flotilla{}, cobra.Command{
		Use:           "flotilla",
		Version:       version.FriendlyVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	})

	root.AddCommand(
		NewUp(),
		NewRender(),
		NewVersion(),
	)

	return root
}

func NewVersion() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := cmd.OutOrStdout().Write([]byte(version.FriendlyVersion() + "\n"))
			return err
		},
	}
}
