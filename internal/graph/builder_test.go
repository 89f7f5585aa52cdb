package graph

import (
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flotilla-gitops/flotilla/internal/errdefs"
	"github.com/flotilla-gitops/flotilla/pkg/apis/flotilla/v1alpha1"
)

// fakeSnapshot serves an in-memory file tree as a desired-state snapshot.
type fakeSnapshot struct {
	revision string
	files    map[string]string
}

func (s *fakeSnapshot) Revision() string { return s.revision }

func (s *fakeSnapshot) List(dir string) ([]string, error) {
	var paths []string
	for p := range s.files {
		if strings.HasPrefix(p, dir+"/") {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func (s *fakeSnapshot) Read(path string) ([]byte, error) {
	content, ok := s.files[path]
	if !ok {
		return nil, fmt.Errorf("%s: file not found", path)
	}
	return []byte(content), nil
}

const rootManifest = `apiVersion: flotilla.dev/v1alpha1
kind: Root
metadata:
  name: platform
defaults:
  destination:
    cluster: local
  syncPolicy:
    automated: true
    prune: true
applications:
  - name: infra
    path: manifests/infra
    wave: -1
  - name: app-a
    path: manifests/app-a
  - name: app-b
    path: manifests/app-b
    values:
      replicas: {{ .Values.replicas }}
`

func platformSnapshot() *fakeSnapshot {
	return &fakeSnapshot{
		revision: "rev1",
		files: map[string]string{
			"root.yaml":   rootManifest,
			"values.yaml": "replicas: 2\nregion: local\n",
			"overlays/base.yaml": `values:
  region: us-east-1
`,
			"overlays/prod.yaml": `extends:
  - base
exclude:
  - app-b
values:
  replicas: 5
applications:
  app-a:
    wave: 2
    namespace: prod-a
`,
		},
	}
}

func TestBuildExpandsApplications(t *testing.T) {
	b := &Builder{Repo: "https://git.test/platform"}

	result, err := b.Build(platformSnapshot(), "")
	require.NoError(t, err)

	assert.Equal(t, "platform", result.RootName)
	assert.Equal(t, "rev1", result.Revision)
	require.Len(t, result.Applications, 3)

	// sorted by wave, then name
	assert.Equal(t, "infra", result.Applications[0].Name)
	assert.Equal(t, -1, result.Applications[0].Wave)
	assert.Equal(t, "app-a", result.Applications[1].Name)
	assert.Equal(t, "app-b", result.Applications[2].Name)

	infra := result.Applications[0]
	assert.Equal(t, "https://git.test/platform", infra.Source.Repo)
	assert.Equal(t, "rev1", infra.Source.Revision)
	assert.Equal(t, "manifests/infra", infra.Source.Path)
	assert.Equal(t, "local", infra.Destination.Cluster)
	// namespace defaults to the application name
	assert.Equal(t, "infra", infra.Destination.Namespace)
	assert.True(t, infra.SyncPolicy.Automated)
	assert.True(t, infra.SyncPolicy.Prune)

	// retry defaults are always filled in
	require.NotNil(t, infra.SyncPolicy.Retry)
	assert.Equal(t, 5, infra.SyncPolicy.Retry.Limit)
	assert.Equal(t, float64(2), infra.SyncPolicy.Retry.BackoffFactor)

	// template values are rendered from values.yaml
	appB := result.Applications[2]
	assert.Equal(t, float64(2), appB.Values["replicas"])
}

func TestBuildRetryPoliciesAreIndependent(t *testing.T) {
	b := &Builder{Repo: "https://git.test/platform"}

	result, err := b.Build(platformSnapshot(), "")
	require.NoError(t, err)
	require.Len(t, result.Applications, 3)

	// applications inheriting the same defaults must not share one
	// retry policy instance
	infra := result.Applications[0]
	appA := result.Applications[1]
	require.NotNil(t, infra.SyncPolicy.Retry)
	require.NotNil(t, appA.SyncPolicy.Retry)
	assert.NotSame(t, infra.SyncPolicy.Retry, appA.SyncPolicy.Retry)

	infra.SyncPolicy.Retry.Limit = 99
	assert.Equal(t, 5, appA.SyncPolicy.Retry.Limit)
}

func TestBuildIsDeterministic(t *testing.T) {
	b := &Builder{Repo: "https://git.test/platform"}

	first, err := b.Build(platformSnapshot(), "prod")
	require.NoError(t, err)
	second, err := b.Build(platformSnapshot(), "prod")
	require.NoError(t, err)

	assert.Empty(t, cmp.Diff(first, second))
}

func TestBuildOverlayPrecedence(t *testing.T) {
	b := &Builder{Repo: "https://git.test/platform"}

	result, err := b.Build(platformSnapshot(), "prod")
	require.NoError(t, err)

	// app-b is excluded by the prod overlay
	names := make([]string, 0, len(result.Applications))
	for _, app := range result.Applications {
		names = append(names, app.Name)
	}
	assert.Equal(t, []string{"infra", "app-a"}, names)

	// per-application override wins over the template
	var appA v1alpha1.Application
	for _, app := range result.Applications {
		if app.Name == "app-a" {
			appA = app
		}
	}
	assert.Equal(t, 2, appA.Wave)
	assert.Equal(t, "prod-a", appA.Destination.Namespace)
}

func TestBuildUnknownOverlay(t *testing.T) {
	b := &Builder{}

	_, err := b.Build(platformSnapshot(), "staging")
	require.Error(t, err)
	assert.True(t, errdefs.IsConfig(err))
}

func TestBuildRejectsDuplicateNames(t *testing.T) {
	snap := &fakeSnapshot{
		revision: "rev1",
		files: map[string]string{
			"root.yaml": `apiVersion: flotilla.dev/v1alpha1
kind: Root
metadata:
  name: platform
applications:
  - name: app-a
    path: one
  - name: app-a
    path: two
    namespace: other
`,
		},
	}

	_, err := (&Builder{}).Build(snap, "")
	require.Error(t, err)
	assert.True(t, errdefs.IsConflict(err))
	assert.Contains(t, err.Error(), "duplicate application name")
}

func TestBuildRejectsDestinationOverlap(t *testing.T) {
	snap := &fakeSnapshot{
		revision: "rev1",
		files: map[string]string{
			"root.yaml": `apiVersion: flotilla.dev/v1alpha1
kind: Root
metadata:
  name: platform
applications:
  - name: app-a
    path: one
    namespace: shared
  - name: app-b
    path: two
    namespace: shared
`,
		},
	}

	_, err := (&Builder{}).Build(snap, "")
	require.Error(t, err)
	assert.True(t, errdefs.IsConflict(err))
	assert.Contains(t, err.Error(), "both own destination")
}

func TestBuildRejectsMalformedTemplate(t *testing.T) {
	for name, files := range map[string]map[string]string{
		"missing value": {
			"root.yaml": `apiVersion: flotilla.dev/v1alpha1
kind: Root
metadata:
  name: platform
applications:
  - name: app-a
    path: {{ .Values.nope }}
`,
		},
		"invalid yaml": {
			"root.yaml": "apiVersion: [broken\n",
		},
		"wrong kind": {
			"root.yaml": `apiVersion: v1
kind: ConfigMap
metadata:
  name: platform
`,
		},
		"no name": {
			"root.yaml": `apiVersion: flotilla.dev/v1alpha1
kind: Root
metadata: {}
`,
		},
		"invalid application name": {
			"root.yaml": `apiVersion: flotilla.dev/v1alpha1
kind: Root
metadata:
  name: platform
applications:
  - name: Not_A_DNS_Name
    path: one
`,
		},
		"no path": {
			"root.yaml": `apiVersion: flotilla.dev/v1alpha1
kind: Root
metadata:
  name: platform
applications:
  - name: app-a
`,
		},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := (&Builder{}).Build(&fakeSnapshot{revision: "rev1", files: files}, "")
			require.Error(t, err)
			assert.True(t, errdefs.IsConfig(err), "expected a config error, got %v", err)
		})
	}
}

func TestBuildMinEngineVersion(t *testing.T) {
	snap := &fakeSnapshot{
		revision: "rev1",
		files: map[string]string{
			"root.yaml": `apiVersion: flotilla.dev/v1alpha1
kind: Root
metadata:
  name: platform
minEngineVersion: ">= 1.0.0"
applications:
  - name: app-a
    path: one
`,
		},
	}

	_, err := (&Builder{EngineVersion: "v1.2.3"}).Build(snap, "")
	require.NoError(t, err)

	_, err = (&Builder{EngineVersion: "v0.9.0"}).Build(snap, "")
	require.Error(t, err)
	assert.True(t, errdefs.IsConfig(err))

	// no engine version skips the check
	_, err = (&Builder{}).Build(snap, "")
	require.NoError(t, err)
}

func TestBuildDisabledAndPaused(t *testing.T) {
	snap := &fakeSnapshot{
		revision: "rev1",
		files: map[string]string{
			"root.yaml": `apiVersion: flotilla.dev/v1alpha1
kind: Root
metadata:
  name: platform
applications:
  - name: app-a
    path: one
    enabled: false
  - name: app-b
    path: two
    paused: true
`,
			"overlays/dev.yaml": `applications:
  app-a:
    enabled: true
`,
		},
	}

	result, err := (&Builder{}).Build(snap, "")
	require.NoError(t, err)
	require.Len(t, result.Applications, 1)
	assert.Equal(t, "app-b", result.Applications[0].Name)
	assert.True(t, result.Applications[0].Paused)

	// the overlay re-enables app-a
	result, err = (&Builder{}).Build(snap, "dev")
	require.NoError(t, err)
	assert.Len(t, result.Applications, 2)
}
