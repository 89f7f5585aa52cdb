package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/flotilla-gitops/flotilla/internal/backend"
	"github.com/flotilla-gitops/flotilla/internal/backend/mem"
	"github.com/flotilla-gitops/flotilla/internal/errdefs"
	"github.com/flotilla-gitops/flotilla/internal/mocks"
	"github.com/flotilla-gitops/flotilla/pkg/apis/flotilla/v1alpha1"
)

const configMaps = `apiVersion: v1
kind: ConfigMap
metadata:
  name: web
data:
  color: blue
---
apiVersion: v1
kind: ConfigMap
metadata:
  name: worker
data:
  color: green
`

func appSnapshot(revision, manifests string) *testSnapshot {
	return &testSnapshot{
		revision: revision,
		files:    map[string]string{"manifests/app/all.yaml": manifests},
	}
}

// fastReconciler shrinks every wait so failure paths run in microseconds.
func fastReconciler(app v1alpha1.Application, snap *testSnapshot, be backend.Backend) *Reconciler {
	app.Source.Revision = snap.revision
	app.SyncPolicy.Retry.BackoffBase = metav1.Duration{Duration: time.Millisecond}
	app.SyncPolicy.Retry.BackoffMaxDuration = metav1.Duration{Duration: 2 * time.Millisecond}

	r := NewReconciler(app, "platform", snap, be)
	r.HealthTimeout = 20 * time.Millisecond
	r.HealthInterval = time.Millisecond
	return r
}

func cmKey(namespace, name string) backend.ResourceKey {
	return backend.ResourceKey{
		GVK:       schema.GroupVersionKind{Version: "v1", Kind: "ConfigMap"},
		Namespace: namespace,
		Name:      name,
	}
}

func TestSyncAppliesAndIsIdempotent(t *testing.T) {
	be := mem.New()
	r := fastReconciler(testApp("app"), appSnapshot("rev1", configMaps), be)
	ctx := context.Background()

	require.NoError(t, r.Sync(ctx))

	app := r.App()
	assert.Equal(t, 2, be.Len(app.Destination))
	assert.Equal(t, 2, be.Applies())

	status := r.Status()
	assert.Equal(t, v1alpha1.Synced, status.Sync)
	assert.Equal(t, v1alpha1.Healthy, status.Health)
	require.NotNil(t, status.LastSyncResult)
	assert.Equal(t, v1alpha1.SyncSucceeded, status.LastSyncResult.Outcome)
	assert.Equal(t, "rev1", status.LastSyncResult.Revision)
	assert.Equal(t, 1, status.LastSyncResult.Attempts)

	// converged state applies nothing
	require.NoError(t, r.Sync(ctx))
	assert.Equal(t, 2, be.Applies())
}

func TestSyncAlreadyConvergedCountsAsSynced(t *testing.T) {
	be := mem.New()
	snap := appSnapshot("rev1", configMaps)
	ctx := context.Background()

	first := fastReconciler(testApp("app"), snap, be)
	require.NoError(t, first.Sync(ctx))
	applied := be.Applies()

	// a reconciler created over an already-converged destination has
	// nothing to apply, but its empty cycle is still a completed sync
	second := fastReconciler(testApp("app"), snap, be)
	require.True(t, second.NeverSynced())

	require.NoError(t, second.Sync(ctx))
	assert.False(t, second.NeverSynced())
	assert.Equal(t, applied, be.Applies())
	assert.Equal(t, v1alpha1.Synced, second.Status().Sync)
}

func TestSyncBackoffGrowsUntilCapped(t *testing.T) {
	be := mem.New()
	var attempts []time.Time
	be.ApplyErr = func(v1alpha1.Destination, *unstructured.Unstructured) error {
		attempts = append(attempts, time.Now())
		return fmt.Errorf("admission denied")
	}

	app := testApp("app")
	app.SyncPolicy.Retry = &v1alpha1.RetryPolicy{
		Limit:              4,
		BackoffBase:        metav1.Duration{Duration: 20 * time.Millisecond},
		BackoffFactor:      4,
		BackoffMaxDuration: metav1.Duration{Duration: 100 * time.Millisecond},
	}
	app.Source.Revision = "rev1"
	r := NewReconciler(app, "platform", appSnapshot("rev1", configMaps), be)

	err := r.Sync(context.Background())
	require.Error(t, err)
	require.Len(t, attempts, 4)

	// 20ms, then 80ms, then capped at 100ms instead of 320ms
	first := attempts[1].Sub(attempts[0])
	second := attempts[2].Sub(attempts[1])
	third := attempts[3].Sub(attempts[2])

	assert.GreaterOrEqual(t, first, 20*time.Millisecond)
	assert.Greater(t, second, first)
	assert.Greater(t, third, second)
	assert.Less(t, third, 250*time.Millisecond)
}

func TestPauseDuringSyncStaysSuspended(t *testing.T) {
	be := mem.New()
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	be.ApplyErr = func(v1alpha1.Destination, *unstructured.Unstructured) error {
		once.Do(func() { close(started) })
		<-release
		return nil
	}

	r := fastReconciler(testApp("app"), appSnapshot("rev1", configMaps), be)

	done := make(chan error, 1)
	go func() { done <- r.Sync(context.Background()) }()

	<-started
	r.Pause()
	close(release)
	require.NoError(t, <-done)

	// a pause issued mid-sync survives the sync's health transitions
	assert.Equal(t, v1alpha1.Suspended, r.Status().Health)
}

func TestSyncRetriesUntilDegraded(t *testing.T) {
	be := mem.New()
	calls := 0
	be.ApplyErr = func(v1alpha1.Destination, *unstructured.Unstructured) error {
		calls++
		return fmt.Errorf("admission denied")
	}

	app := testApp("app")
	app.SyncPolicy.Retry.Limit = 3
	r := fastReconciler(app, appSnapshot("rev1", configMaps), be)

	err := r.Sync(context.Background())
	require.Error(t, err)
	assert.True(t, errdefs.IsApply(err))

	// exactly limit attempts, no more
	assert.Equal(t, 3, calls)
	var e *errdefs.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, 3, e.Attempts)
	assert.Equal(t, "app", e.Application)
	assert.NotEmpty(t, e.Resource)

	status := r.Status()
	assert.Equal(t, v1alpha1.Degraded, status.Health)
	require.NotNil(t, status.LastSyncResult)
	assert.Equal(t, v1alpha1.SyncFailed, status.LastSyncResult.Outcome)
	assert.Equal(t, 3, status.LastSyncResult.Attempts)
}

func TestSyncRecoversFromTransientFailure(t *testing.T) {
	be := mem.New()
	calls := 0
	be.ApplyErr = func(v1alpha1.Destination, *unstructured.Unstructured) error {
		calls++
		if calls <= 2 {
			return fmt.Errorf("conflict, try again")
		}
		return nil
	}

	r := fastReconciler(testApp("app"), appSnapshot("rev1", configMaps), be)

	require.NoError(t, r.Sync(context.Background()))

	status := r.Status()
	assert.Equal(t, v1alpha1.Healthy, status.Health)
	assert.Equal(t, 3, status.LastSyncResult.Attempts)
	assert.Equal(t, 2, be.Len(r.App().Destination))
}

func TestSyncUnavailableDestination(t *testing.T) {
	be := mem.New()
	app := testApp("app")
	be.Unavailable[app.Destination.String()] = true

	r := fastReconciler(app, appSnapshot("rev1", configMaps), be)

	err := r.Sync(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, backend.ErrUnavailable))
	// unobservable destinations are not retried
	assert.Equal(t, v1alpha1.Missing, r.Status().Health)
	assert.Equal(t, 1, r.Status().LastSyncResult.Attempts)
}

func TestSyncPausedIsNoop(t *testing.T) {
	be := mem.New()
	app := testApp("app")
	app.Paused = true

	r := fastReconciler(app, appSnapshot("rev1", configMaps), be)

	require.NoError(t, r.Sync(context.Background()))
	assert.Equal(t, 0, be.Applies())
	assert.Equal(t, v1alpha1.Suspended, r.Status().Health)

	r.Resume()
	require.NoError(t, r.Sync(context.Background()))
	assert.Equal(t, 2, be.Applies())
}

func TestSyncHealthTimeout(t *testing.T) {
	be := mem.New()
	app := testApp("app")
	app.SyncPolicy.Retry.Limit = 2

	// a deployment that never reports ready replicas
	r := fastReconciler(app, appSnapshot("rev1", `apiVersion: apps/v1
kind: Deployment
metadata:
  name: web
spec:
  replicas: 2
`), be)

	err := r.Sync(context.Background())
	require.Error(t, err)
	assert.True(t, errdefs.IsApply(err))
	assert.Equal(t, v1alpha1.Degraded, r.Status().Health)
}

func TestDetectDriftSelfHeal(t *testing.T) {
	be := mem.New()
	app := testApp("app")
	app.SyncPolicy.SelfHeal = true

	r := fastReconciler(app, appSnapshot("rev1", configMaps), be)
	ctx := context.Background()
	require.NoError(t, r.Sync(ctx))

	key := cmKey("app", "web")
	require.True(t, be.Mutate(app.Destination, key, func(obj *unstructured.Unstructured) {
		require.NoError(t, unstructured.SetNestedField(obj.Object, "red", "data", "color"))
	}))

	require.NoError(t, r.DetectDrift(ctx))

	live, err := be.Get(ctx, app.Destination, key)
	require.NoError(t, err)
	color, _, _ := unstructured.NestedString(live.Object, "data", "color")
	assert.Equal(t, "blue", color)
	assert.Equal(t, v1alpha1.Synced, r.Status().Sync)
}

func TestDetectDriftReportOnly(t *testing.T) {
	be := mem.New()
	r := fastReconciler(testApp("app"), appSnapshot("rev1", configMaps), be)
	ctx := context.Background()
	require.NoError(t, r.Sync(ctx))
	applied := be.Applies()

	key := cmKey("app", "web")
	require.True(t, be.Mutate(r.App().Destination, key, func(obj *unstructured.Unstructured) {
		require.NoError(t, unstructured.SetNestedField(obj.Object, "red", "data", "color"))
	}))

	require.NoError(t, r.DetectDrift(ctx))

	// without self-heal the drift is only reported
	assert.Equal(t, applied, be.Applies())
	status := r.Status()
	assert.Equal(t, v1alpha1.OutOfSync, status.Sync)
	assert.Len(t, status.ModifiedResources, 1)
}

func TestSyncPrunesRemovedResources(t *testing.T) {
	be := mem.New()
	app := testApp("app")
	app.SyncPolicy.Prune = true

	r := fastReconciler(app, appSnapshot("rev1", configMaps), be)
	ctx := context.Background()
	require.NoError(t, r.Sync(ctx))
	require.Equal(t, 2, be.Len(app.Destination))

	// the worker configmap leaves the desired state
	app.Source.Revision = "rev2"
	r.SetDesired(app, appSnapshot("rev2", `apiVersion: v1
kind: ConfigMap
metadata:
  name: web
data:
  color: blue
`))
	assert.Equal(t, v1alpha1.SyncUnknown, r.Status().Sync)

	require.NoError(t, r.Sync(ctx))
	assert.Equal(t, 1, be.Len(app.Destination))
	assert.Equal(t, 1, be.Deletes())

	_, err := be.Get(ctx, app.Destination, cmKey("app", "worker"))
	assert.True(t, errors.Is(err, backend.ErrNotFound))
}

func TestSyncWithoutPruneKeepsRemovedResources(t *testing.T) {
	be := mem.New()
	app := testApp("app")

	r := fastReconciler(app, appSnapshot("rev1", configMaps), be)
	ctx := context.Background()
	require.NoError(t, r.Sync(ctx))

	app.Source.Revision = "rev2"
	r.SetDesired(app, appSnapshot("rev2", `apiVersion: v1
kind: ConfigMap
metadata:
  name: web
data:
  color: blue
`))

	require.NoError(t, r.Sync(ctx))
	assert.Equal(t, 2, be.Len(app.Destination))
	assert.Equal(t, 0, be.Deletes())
}

func TestDeleteConfirmsRemoval(t *testing.T) {
	be := mem.New()
	app := testApp("app")
	r := fastReconciler(app, appSnapshot("rev1", configMaps), be)
	ctx := context.Background()
	require.NoError(t, r.Sync(ctx))
	require.False(t, r.Finalized())

	require.NoError(t, r.Delete(ctx, false))
	assert.Equal(t, 0, be.Len(app.Destination))
	assert.True(t, r.Finalized())
}

func TestCompareObservationFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	be := mocks.NewMockBackend(ctrl)
	be.EXPECT().List(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, fmt.Errorf("apiserver flapping"))

	r := fastReconciler(testApp("app"), appSnapshot("rev1", configMaps), be)

	_, err := r.Compare(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to observe")
	assert.Contains(t, err.Error(), "apiserver flapping")
}

func TestCompareUnavailableDestination(t *testing.T) {
	ctrl := gomock.NewController(t)
	be := mocks.NewMockBackend(ctrl)
	be.EXPECT().List(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, backend.ErrUnavailable)

	r := fastReconciler(testApp("app"), appSnapshot("rev1", configMaps), be)

	_, err := r.Compare(context.Background())
	require.ErrorIs(t, err, backend.ErrUnavailable)
	assert.Equal(t, v1alpha1.Missing, r.Status().Health)
}

func TestDeleteOrphanKeepsResources(t *testing.T) {
	be := mem.New()
	app := testApp("app")
	r := fastReconciler(app, appSnapshot("rev1", configMaps), be)
	ctx := context.Background()
	require.NoError(t, r.Sync(ctx))

	require.NoError(t, r.Delete(ctx, true))
	assert.Equal(t, 2, be.Len(app.Destination))
	assert.True(t, r.Finalized())
}
