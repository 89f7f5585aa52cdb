package summary

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flotilla-gitops/flotilla/pkg/apis/flotilla/v1alpha1"
)

func child(name string, sync v1alpha1.SyncStatus, health v1alpha1.HealthStatus) Child {
	return Child{
		App:    v1alpha1.Application{Name: name},
		Status: v1alpha1.ApplicationStatus{Sync: sync, Health: health},
	}
}

func TestHealthFor(t *testing.T) {
	tests := []struct {
		name     string
		children []Child
		want     v1alpha1.HealthStatus
	}{
		{"no children", nil, v1alpha1.HealthUnknown},
		{
			"all healthy",
			[]Child{
				child("a", v1alpha1.Synced, v1alpha1.Healthy),
				child("b", v1alpha1.Synced, v1alpha1.Healthy),
			},
			v1alpha1.Healthy,
		},
		{
			"one degraded degrades the root",
			[]Child{
				child("a", v1alpha1.Synced, v1alpha1.Healthy),
				child("b", v1alpha1.Synced, v1alpha1.Degraded),
			},
			v1alpha1.Degraded,
		},
		{
			"missing counts as degraded",
			[]Child{
				child("a", v1alpha1.Synced, v1alpha1.Missing),
			},
			v1alpha1.Degraded,
		},
		{
			"progressing wins over healthy",
			[]Child{
				child("a", v1alpha1.Synced, v1alpha1.Healthy),
				child("b", v1alpha1.SyncUnknown, v1alpha1.Progressing),
			},
			v1alpha1.Progressing,
		},
		{
			"only suspended remains",
			[]Child{
				child("a", v1alpha1.Synced, v1alpha1.Healthy),
				child("b", v1alpha1.SyncUnknown, v1alpha1.Suspended),
			},
			v1alpha1.Suspended,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HealthFor(tt.children))
		})
	}
}

func TestHealthForToleratedFailure(t *testing.T) {
	canary := child("canary", v1alpha1.Synced, v1alpha1.Degraded)
	canary.App.SyncPolicy.TolerateFailure = true

	children := []Child{
		child("a", v1alpha1.Synced, v1alpha1.Healthy),
		canary,
	}

	// a tolerated failure never degrades the root
	assert.Equal(t, v1alpha1.Suspended, HealthFor(children))
}

func TestSyncFor(t *testing.T) {
	assert.Equal(t, v1alpha1.SyncUnknown, SyncFor(nil))

	assert.Equal(t, v1alpha1.Synced, SyncFor([]Child{
		child("a", v1alpha1.Synced, v1alpha1.Healthy),
	}))

	assert.Equal(t, v1alpha1.OutOfSync, SyncFor([]Child{
		child("a", v1alpha1.Synced, v1alpha1.Healthy),
		child("b", v1alpha1.OutOfSync, v1alpha1.Healthy),
	}))

	assert.Equal(t, v1alpha1.SyncUnknown, SyncFor([]Child{
		child("a", v1alpha1.Synced, v1alpha1.Healthy),
		child("b", v1alpha1.SyncUnknown, v1alpha1.Progressing),
	}))
}

func TestSummarizeCounts(t *testing.T) {
	failing := child("b", v1alpha1.OutOfSync, v1alpha1.Degraded)
	failing.App.Wave = 2
	failing.Status.LastSyncResult = &v1alpha1.LastSyncResult{Error: "apply failed"}

	status := Summarize("platform", "rev1", "prod", []Child{
		child("a", v1alpha1.Synced, v1alpha1.Healthy),
		failing,
		child("c", v1alpha1.SyncUnknown, v1alpha1.Progressing),
	})

	assert.Equal(t, "platform", status.Name)
	assert.Equal(t, "rev1", status.Revision)
	assert.Equal(t, "prod", status.Overlay)
	assert.Equal(t, v1alpha1.OutOfSync, status.Sync)
	assert.Equal(t, v1alpha1.Degraded, status.Health)

	assert.Equal(t, 3, status.Summary.Desired)
	assert.Equal(t, 1, status.Summary.Healthy)
	assert.Equal(t, 1, status.Summary.Degraded)
	assert.Equal(t, 1, status.Summary.Progressing)

	require.Len(t, status.Summary.NonHealthy, 2)
	assert.Equal(t, "b", status.Summary.NonHealthy[0].Name)
	assert.Equal(t, 2, status.Summary.NonHealthy[0].Wave)
	assert.Equal(t, "apply failed", status.Summary.NonHealthy[0].Message)
}

func TestSummarizeCapsNonHealthyDetail(t *testing.T) {
	var children []Child
	for i := 0; i < 25; i++ {
		children = append(children, child(fmt.Sprintf("app-%02d", i), v1alpha1.OutOfSync, v1alpha1.Progressing))
	}

	status := Summarize("platform", "rev1", "", children)
	assert.Equal(t, 25, status.Summary.Desired)
	assert.Equal(t, 25, status.Summary.Progressing)
	assert.Len(t, status.Summary.NonHealthy, 10)
}
