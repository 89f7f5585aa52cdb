package graph

import (
	"bytes"
	"strings"
	"text/template"

	"github.com/Masterminds/semver/v3"
	"github.com/Masterminds/sprig/v3"
	"sigs.k8s.io/yaml"

	"github.com/flotilla-gitops/flotilla/internal/errdefs"
	"github.com/flotilla-gitops/flotilla/internal/source"
	"github.com/flotilla-gitops/flotilla/pkg/apis/flotilla/v1alpha1"
)

// RootFile is the root template; its rendered output is the root manifest
// that expands into the child application set.
const RootFile = "root.yaml"

// templateContext is the data visible to the root template.
type templateContext struct {
	Values   map[string]interface{}
	Overlay  string
	Revision string
}

// renderRoot renders root.yaml with the merged values and parses the
// result. Every failure mode here is a ConfigError: no partial manifest is
// ever returned.
func renderRoot(snap source.Snapshot, overlayName string, values map[string]interface{}) (*v1alpha1.RootManifest, error) {
	content, err := snap.Read(RootFile)
	if err != nil {
		return nil, errdefs.NewConfig("failed to read %s at revision %s: %v", RootFile, snap.Revision(), err)
	}

	rendered, err := render(RootFile, string(content), templateContext{
		Values:   values,
		Overlay:  overlayName,
		Revision: snap.Revision(),
	})
	if err != nil {
		return nil, errdefs.NewConfig("failed to render %s: %v", RootFile, err)
	}

	manifest := &v1alpha1.RootManifest{}
	if err := yaml.UnmarshalStrict(rendered, manifest); err != nil {
		return nil, errdefs.NewConfig("failed to parse rendered %s: %v", RootFile, err)
	}

	if manifest.APIVersion != v1alpha1.RootAPIVersion || manifest.Kind != v1alpha1.RootKind {
		return nil, errdefs.NewConfig("%s is not a %s/%s document (got %s/%s)",
			RootFile, v1alpha1.RootAPIVersion, v1alpha1.RootKind, manifest.APIVersion, manifest.Kind)
	}
	if manifest.Metadata.Name == "" {
		return nil, errdefs.NewConfig("%s has no metadata.name", RootFile)
	}

	return manifest, nil
}

func render(name, text string, data templateContext) ([]byte, error) {
	tmpl, err := template.New(name).
		Funcs(sprig.TxtFuncMap()).
		Option("missingkey=error").
		Parse(text)
	if err != nil {
		return nil, err
	}

	buf := &bytes.Buffer{}
	if err := tmpl.Execute(buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// checkEngineVersion enforces the manifest's minEngineVersion constraint.
func checkEngineVersion(manifest *v1alpha1.RootManifest, engineVersion string) error {
	if manifest.MinEngineVersion == "" || engineVersion == "" {
		return nil
	}

	constraint, err := semver.NewConstraint(manifest.MinEngineVersion)
	if err != nil {
		return errdefs.NewConfig("invalid minEngineVersion %q: %v", manifest.MinEngineVersion, err)
	}

	current, err := semver.NewVersion(strings.TrimPrefix(engineVersion, "v"))
	if err != nil {
		return errdefs.NewConfig("cannot parse engine version %q: %v", engineVersion, err)
	}

	if !constraint.Check(current) {
		return errdefs.NewConfig("engine version %s does not satisfy minEngineVersion %q", engineVersion, manifest.MinEngineVersion)
	}
	return nil
}
