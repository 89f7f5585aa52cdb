package graph

import (
	"path"

	"github.com/gobwas/glob"
	"github.com/rancher/wrangler/v2/pkg/data"
	"sigs.k8s.io/yaml"

	"github.com/flotilla-gitops/flotilla/internal/errdefs"
	"github.com/flotilla-gitops/flotilla/internal/source"
	"github.com/flotilla-gitops/flotilla/pkg/apis/flotilla/v1alpha1"
)

const (
	// OverlayDir holds one YAML file per named overlay.
	OverlayDir = "overlays"
	// ValuesFile holds the template's default values.
	ValuesFile = "values.yaml"
)

// resolveOverlays loads the named overlay and everything it extends,
// depth-first, base layers first. A missing reference or a cycle is a
// ConfigError.
func resolveOverlays(snap source.Snapshot, name string) ([]v1alpha1.Overlay, error) {
	if name == "" {
		return nil, nil
	}

	var (
		chain []v1alpha1.Overlay
		seen  = map[string]bool{}
	)

	var load func(name string) error
	load = func(name string) error {
		if seen[name] {
			return nil
		}
		seen[name] = true

		content, err := snap.Read(path.Join(OverlayDir, name+".yaml"))
		if err != nil {
			return errdefs.NewConfig("failed to resolve overlay %q: %v", name, err)
		}

		var overlay v1alpha1.Overlay
		if err := yaml.UnmarshalStrict(content, &overlay); err != nil {
			return errdefs.NewConfig("failed to parse overlay %q: %v", name, err)
		}
		if overlay.Name == "" {
			overlay.Name = name
		}

		for _, base := range overlay.Extends {
			if err := load(base); err != nil {
				return err
			}
		}

		chain = append(chain, overlay)
		return nil
	}

	if err := load(name); err != nil {
		return nil, err
	}
	return chain, nil
}

// mergeValues layers the overlay chain's values over the template defaults,
// later layers winning key-by-key.
func mergeValues(defaults map[string]interface{}, chain []v1alpha1.Overlay) map[string]interface{} {
	result := defaults
	for _, overlay := range chain {
		if overlay.Values != nil {
			result = data.MergeMaps(result, overlay.Values)
		}
	}
	if result == nil {
		result = map[string]interface{}{}
	}
	return result
}

// overrideFor collects the per-application overrides from the chain, later
// layers winning field-by-field.
func overrideFor(chain []v1alpha1.Overlay, app string) v1alpha1.ApplicationOverride {
	var result v1alpha1.ApplicationOverride
	for _, overlay := range chain {
		override, ok := overlay.Applications[app]
		if !ok {
			continue
		}
		if override.Enabled != nil {
			result.Enabled = override.Enabled
		}
		if override.Wave != nil {
			result.Wave = override.Wave
		}
		if override.Cluster != "" {
			result.Cluster = override.Cluster
		}
		if override.Namespace != "" {
			result.Namespace = override.Namespace
		}
		if override.Paused != nil {
			result.Paused = override.Paused
		}
		if override.Values != nil {
			result.Values = data.MergeMaps(result.Values, override.Values)
		}
		if override.SyncPolicy != nil {
			result.SyncPolicy = override.SyncPolicy
		}
	}
	return result
}

// matcher compiles the include/exclude globs of the full chain. Exclusion
// wins; an empty include set admits every name.
type matcher struct {
	include []glob.Glob
	exclude []glob.Glob
}

func newMatcher(chain []v1alpha1.Overlay) (*matcher, error) {
	m := &matcher{}
	for _, overlay := range chain {
		for _, pattern := range overlay.Include {
			g, err := glob.Compile(pattern)
			if err != nil {
				return nil, errdefs.NewConfig("invalid include pattern %q in overlay %s: %v", pattern, overlay.Name, err)
			}
			m.include = append(m.include, g)
		}
		for _, pattern := range overlay.Exclude {
			g, err := glob.Compile(pattern)
			if err != nil {
				return nil, errdefs.NewConfig("invalid exclude pattern %q in overlay %s: %v", pattern, overlay.Name, err)
			}
			m.exclude = append(m.exclude, g)
		}
	}
	return m, nil
}

func (m *matcher) matches(name string) bool {
	for _, g := range m.exclude {
		if g.Match(name) {
			return false
		}
	}
	if len(m.include) == 0 {
		return true
	}
	for _, g := range m.include {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// loadDefaultValues reads the template's values.yaml; absence is fine.
func loadDefaultValues(snap source.Snapshot) (map[string]interface{}, error) {
	content, err := snap.Read(ValuesFile)
	if err != nil {
		return map[string]interface{}{}, nil
	}

	values := map[string]interface{}{}
	if err := yaml.Unmarshal(content, &values); err != nil {
		return nil, errdefs.NewConfig("failed to parse %s: %v", ValuesFile, err)
	}
	return values, nil
}
