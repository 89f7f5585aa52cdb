package controller

import (
	"fmt"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	command "github.com/flotilla-gitops/flotilla/internal/cmd"
	"github.com/flotilla-gitops/flotilla/internal/config"
	"github.com/flotilla-gitops/flotilla/internal/graph"
	"github.com/flotilla-gitops/flotilla/pkg/version"
)

func NewRender() *cobra.Command {
	return command.Command(&Render{}, cobra.Command{
		Short: "Resolve and print the application graph without applying anything",
	})
}

type Render struct {
	Config   string `usage:"Path to the controller config file" short:"c" env:"FLOTILLA_CONFIG"`
	Repo     string `usage:"Git repository URL holding the root manifest" env:"FLOTILLA_REPO"`
	Branch   string `usage:"Git branch to track" env:"FLOTILLA_BRANCH"`
	Dir      string `usage:"Local directory source, takes precedence over repo" short:"d"`
	Overlay  string `usage:"Environment overlay to render" short:"o"`
	Revision string `usage:"Revision to render, defaults to the latest" short:"r"`
}

func (r *Render) Run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(r.Config)
	if err != nil {
		return err
	}
	if r.Repo != "" {
		cfg.Repo.URL = r.Repo
	}
	if r.Branch != "" {
		cfg.Repo.Branch = r.Branch
	}
	if r.Dir != "" {
		cfg.Repo.Dir = r.Dir
	}
	if r.Overlay != "" {
		cfg.Overlay = r.Overlay
	}

	src, repo, err := newSource(cfg)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	revision := r.Revision
	if revision == "" {
		revision, err = src.Latest(ctx)
		if err != nil {
			return err
		}
	}
	snap, err := src.Checkout(ctx, revision)
	if err != nil {
		return err
	}

	builder := &graph.Builder{
		Repo:          repo,
		EngineVersion: version.Version,
	}
	result, err := builder.Build(snap, cfg.Overlay)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(result)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), string(data))
	return nil
}
