// Package main provides the entrypoint for the flotilla binary.
package main

import (
	"github.com/rancher/wrangler/v2/pkg/signals"
	"github.com/sirupsen/logrus"

	"github.com/flotilla-gitops/flotilla/internal/cmd/controller"
)

func main() {
	ctx := signals.SetupSignalContext()
	cmd := controller.App()
	if err := cmd.ExecuteContext(ctx); err != nil {
		logrus.Fatal(err)
	}
}
