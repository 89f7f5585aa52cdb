package controller

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/flotilla-gitops/flotilla/internal/backend/mem"
	command "github.com/flotilla-gitops/flotilla/internal/cmd"
	"github.com/flotilla-gitops/flotilla/internal/config"
	"github.com/flotilla-gitops/flotilla/internal/graph"
	"github.com/flotilla-gitops/flotilla/internal/rollout"
	"github.com/flotilla-gitops/flotilla/internal/server"
	"github.com/flotilla-gitops/flotilla/internal/source"
	"github.com/flotilla-gitops/flotilla/pkg/version"
)

func NewUp() *cobra.Command {
	return command.Command(&Up{}, cobra.Command{
		Short: "Run the reconciliation engine and its HTTP surface",
	})
}

type Up struct {
	Config  string `usage:"Path to the controller config file" short:"c" env:"FLOTILLA_CONFIG"`
	Repo    string `usage:"Git repository URL holding the root manifest" env:"FLOTILLA_REPO"`
	Branch  string `usage:"Git branch to track" env:"FLOTILLA_BRANCH"`
	Dir     string `usage:"Local directory source, takes precedence over repo" short:"d"`
	Overlay string `usage:"Environment overlay to render" short:"o"`
	Listen  string `usage:"HTTP listen address"`
}

func (u *Up) Run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(u.Config)
	if err != nil {
		return err
	}
	if u.Repo != "" {
		cfg.Repo.URL = u.Repo
	}
	if u.Branch != "" {
		cfg.Repo.Branch = u.Branch
	}
	if u.Dir != "" {
		cfg.Repo.Dir = u.Dir
	}
	if u.Overlay != "" {
		cfg.Overlay = u.Overlay
	}
	if u.Listen != "" {
		cfg.Listen = u.Listen
	}

	src, repo, err := newSource(cfg)
	if err != nil {
		return err
	}

	builder := &graph.Builder{
		Repo:          repo,
		EngineVersion: version.Version,
	}

	coord := rollout.New(src, mem.New(), builder, rollout.Options{
		Overlay:            cfg.Overlay,
		SourcePollInterval: cfg.SourcePollInterval.Duration,
		DriftPollInterval:  cfg.DriftPollInterval.Duration,
		HealthTimeout:      cfg.HealthTimeout.Duration,
		HealthInterval:     cfg.HealthInterval.Duration,
	})

	logrus.WithFields(logrus.Fields{
		"repo":    repo,
		"overlay": cfg.Overlay,
		"listen":  cfg.Listen,
	}).Info("starting flotilla")

	ctx := cmd.Context()
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return coord.Run(ctx)
	})
	group.Go(func() error {
		return server.New(coord).ListenAndServe(ctx, cfg.Listen)
	})
	return group.Wait()
}

func newSource(cfg *config.Config) (source.Source, string, error) {
	if cfg.Repo.Dir != "" {
		return source.NewDirSource(cfg.Repo.Dir), cfg.Repo.Dir, nil
	}
	if cfg.Repo.URL == "" {
		return nil, "", fmt.Errorf("no source configured, set repo.url or repo.dir")
	}
	var auth *source.GitAuth
	if cfg.Repo.Username != "" || cfg.Repo.Password != "" || len(cfg.Repo.CABundle) > 0 || cfg.Repo.InsecureSkipTLSVerify {
		auth = &source.GitAuth{
			Username:          cfg.Repo.Username,
			Password:          cfg.Repo.Password,
			CABundle:          cfg.Repo.CABundle,
			InsecureTLSVerify: cfg.Repo.InsecureSkipTLSVerify,
		}
	}
	return source.NewGitSource(cfg.Repo.URL, cfg.Repo.Branch, auth), cfg.Repo.URL, nil
}
