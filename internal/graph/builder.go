// Package graph expands the root template and a named overlay into the
// complete application set. The builder is a pure function of the
// (revision, overlay) pair: it never consults live cluster state.
package graph

import (
	"sort"
	"strings"

	"github.com/rancher/wrangler/v2/pkg/data"
	"k8s.io/apimachinery/pkg/util/validation"

	"github.com/flotilla-gitops/flotilla/internal/errdefs"
	"github.com/flotilla-gitops/flotilla/internal/source"
	"github.com/flotilla-gitops/flotilla/pkg/apis/flotilla/v1alpha1"
	"github.com/flotilla-gitops/flotilla/pkg/durations"
)

type Builder struct {
	// Repo is recorded as the source repository of every built
	// application.
	Repo string

	// EngineVersion is checked against the manifest's minEngineVersion
	// constraint. Empty skips the check.
	EngineVersion string
}

// Result is the expanded application set plus the root identity it came
// from.
type Result struct {
	RootName     string                 `json:"rootName"`
	Revision     string                 `json:"revision"`
	Overlay      string                 `json:"overlay,omitempty"`
	Applications []v1alpha1.Application `json:"applications"`
}

// Build produces the ordered application set for one desired-state
// revision and one overlay. Construction-time failures (ConfigError,
// ConflictError) return no partial result.
func (b *Builder) Build(snap source.Snapshot, overlayName string) (*Result, error) {
	defaults, err := loadDefaultValues(snap)
	if err != nil {
		return nil, err
	}

	chain, err := resolveOverlays(snap, overlayName)
	if err != nil {
		return nil, err
	}

	values := mergeValues(defaults, chain)

	manifest, err := renderRoot(snap, overlayName, values)
	if err != nil {
		return nil, err
	}
	if err := checkEngineVersion(manifest, b.EngineVersion); err != nil {
		return nil, err
	}

	match, err := newMatcher(chain)
	if err != nil {
		return nil, err
	}

	var (
		apps   []v1alpha1.Application
		byName = map[string]bool{}
		owners = map[string]string{}
	)

	for _, tmpl := range manifest.Applications {
		if errs := validation.IsDNS1123Subdomain(tmpl.Name); len(errs) > 0 {
			return nil, errdefs.NewConfig("invalid application name %q: %s", tmpl.Name, strings.Join(errs, ", "))
		}
		if tmpl.Path == "" {
			return nil, errdefs.NewConfig("application %q has no path", tmpl.Name)
		}

		override := overrideFor(chain, tmpl.Name)

		enabled := tmpl.Enabled == nil || *tmpl.Enabled
		if override.Enabled != nil {
			enabled = *override.Enabled
		}
		if !enabled || !match.matches(tmpl.Name) {
			continue
		}

		app := v1alpha1.Application{
			Name: tmpl.Name,
			Source: v1alpha1.Source{
				Repo:     b.Repo,
				Revision: snap.Revision(),
				Path:     tmpl.Path,
			},
			Destination: resolveDestination(manifest.Defaults.Destination, tmpl, override),
			Wave:        resolveWave(manifest.Defaults.Wave, tmpl.Wave, override.Wave),
			Paused:      tmpl.Paused || (override.Paused != nil && *override.Paused),
			Values:      data.MergeMaps(tmpl.Values, override.Values),
			SyncPolicy:  resolvePolicy(manifest.Defaults.SyncPolicy, tmpl.SyncPolicy, override.SyncPolicy),
		}

		if byName[app.Name] {
			return nil, errdefs.NewConflict("duplicate application name %q", app.Name)
		}
		byName[app.Name] = true

		dest := app.Destination.String()
		if owner, ok := owners[dest]; ok {
			return nil, errdefs.NewConflict("applications %q and %q both own destination %s", owner, app.Name, dest)
		}
		owners[dest] = app.Name

		apps = append(apps, app)
	}

	sort.Slice(apps, func(i, j int) bool {
		if apps[i].Wave != apps[j].Wave {
			return apps[i].Wave < apps[j].Wave
		}
		return apps[i].Name < apps[j].Name
	})

	return &Result{
		RootName:     manifest.Metadata.Name,
		Revision:     snap.Revision(),
		Overlay:      overlayName,
		Applications: apps,
	}, nil
}

func resolveDestination(def v1alpha1.Destination, tmpl v1alpha1.ApplicationTemplate, override v1alpha1.ApplicationOverride) v1alpha1.Destination {
	dest := def
	if tmpl.Cluster != "" {
		dest.Cluster = tmpl.Cluster
	}
	if tmpl.Namespace != "" {
		dest.Namespace = tmpl.Namespace
	}
	if override.Cluster != "" {
		dest.Cluster = override.Cluster
	}
	if override.Namespace != "" {
		dest.Namespace = override.Namespace
	}
	if dest.Namespace == "" {
		dest.Namespace = tmpl.Name
	}
	return dest
}

func resolveWave(def int, tmpl, override *int) int {
	wave := def
	if tmpl != nil {
		wave = *tmpl
	}
	if override != nil {
		wave = *override
	}
	return wave
}

// resolvePolicy picks the most specific sync policy and fills in the retry
// defaults.
func resolvePolicy(def, tmpl, override *v1alpha1.SyncPolicy) v1alpha1.SyncPolicy {
	var policy v1alpha1.SyncPolicy
	switch {
	case override != nil:
		policy = *override
	case tmpl != nil:
		policy = *tmpl
	case def != nil:
		policy = *def
	}

	// the retry policy is copied so applications sharing a defaults or
	// overlay struct never alias one instance
	retry := &v1alpha1.RetryPolicy{}
	if policy.Retry != nil {
		*retry = *policy.Retry
	}
	policy.Retry = retry
	if retry.Limit <= 0 {
		retry.Limit = 5
	}
	if retry.BackoffBase.Duration <= 0 {
		retry.BackoffBase.Duration = durations.DefaultRetryBackoffBase
	}
	if retry.BackoffFactor <= 0 {
		retry.BackoffFactor = 2
	}
	if retry.BackoffMaxDuration.Duration <= 0 {
		retry.BackoffMaxDuration.Duration = durations.DefaultRetryBackoffMax
	}
	return policy
}
