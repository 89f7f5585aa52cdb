// Package config implements the file based configuration for the flotilla
// controller.
package config

import (
	"fmt"
	"os"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/yaml"

	"github.com/flotilla-gitops/flotilla/pkg/durations"
)

const (
	// GitUsernameEnv and GitPasswordEnv override the repo credentials from
	// the config file, so secrets can be kept out of it.
	GitUsernameEnv = "FLOTILLA_GIT_USERNAME"
	GitPasswordEnv = "FLOTILLA_GIT_PASSWORD"

	DefaultListen = ":8080"
)

// Config is the controller configuration, stored as YAML in a single file.
type Config struct {
	// Repo is the source of truth holding the root manifest.
	Repo Repo `json:"repo,omitempty"`

	// Overlay selects the environment overlay to render, empty means none.
	Overlay string `json:"overlay,omitempty"`

	// Listen is the address the HTTP API binds to, defaults to :8080.
	Listen string `json:"listen,omitempty"`

	// SourcePollInterval determines how often the repo is checked for new
	// revisions, defaults to 15s.
	SourcePollInterval metav1.Duration `json:"sourcePollInterval,omitempty"`

	// DriftPollInterval determines how often deployed applications are
	// compared against their rendered manifests, defaults to 15s.
	DriftPollInterval metav1.Duration `json:"driftPollInterval,omitempty"`

	// HealthTimeout bounds how long a sync waits for resources to become
	// healthy, defaults to 5m.
	HealthTimeout metav1.Duration `json:"healthTimeout,omitempty"`

	// HealthInterval is the poll interval while waiting for health,
	// defaults to 2s.
	HealthInterval metav1.Duration `json:"healthInterval,omitempty"`
}

// Repo points at either a git repository or a local directory. Dir takes
// precedence when both are set.
type Repo struct {
	URL    string `json:"url,omitempty"`
	Branch string `json:"branch,omitempty"`
	Dir    string `json:"dir,omitempty"`

	Username              string `json:"username,omitempty"`
	Password              string `json:"password,omitempty"`
	CABundle              []byte `json:"caBundle,omitempty"`
	InsecureSkipTLSVerify bool   `json:"insecureSkipTLSVerify,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Listen:             DefaultListen,
		SourcePollInterval: metav1.Duration{Duration: durations.DefaultSourcePollInterval},
		DriftPollInterval:  metav1.Duration{Duration: durations.DefaultDriftPollInterval},
		HealthTimeout:      metav1.Duration{Duration: durations.DefaultHealthTimeout},
		HealthInterval:     metav1.Duration{Duration: durations.DefaultHealthCheckInterval},
	}
}

// Load reads the config file at path, fills in defaults and applies
// credential overrides from the environment. An empty path returns the
// defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := ReadConfig(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if v := os.Getenv(GitUsernameEnv); v != "" {
		cfg.Repo.Username = v
	}
	if v := os.Getenv(GitPasswordEnv); v != "" {
		cfg.Repo.Password = v
	}

	return cfg, nil
}

func ReadConfig(data []byte, cfg *Config) error {
	if len(data) == 0 {
		return nil
	}
	return yaml.UnmarshalStrict(data, cfg)
}
