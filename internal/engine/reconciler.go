// Package engine runs the per-application convergence loop: diff desired
// against live state, apply in order, wait for health, retry with backoff,
// prune last and report drift.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/jpillora/backoff"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/flotilla-gitops/flotilla/internal/backend"
	"github.com/flotilla-gitops/flotilla/internal/errdefs"
	"github.com/flotilla-gitops/flotilla/internal/source"
	"github.com/flotilla-gitops/flotilla/pkg/apis/flotilla/v1alpha1"
	"github.com/flotilla-gitops/flotilla/pkg/durations"
)

// Reconciler owns the convergence loop of one application. All state
// transitions go through it; the scheduler and the coordinator only call
// its exported methods.
type Reconciler struct {
	backend backend.Backend
	log     *logrus.Entry

	// sem serializes applies: a drift correction never overlaps a
	// scheduled sync.
	sem *semaphore.Weighted

	HealthTimeout  time.Duration
	HealthInterval time.Duration

	mu        sync.Mutex
	app       v1alpha1.Application
	rootName  string
	snap      source.Snapshot
	status    v1alpha1.ApplicationStatus
	finalizer bool
	synced    bool // at least one successful sync cycle
	paused    bool
}

func NewReconciler(app v1alpha1.Application, rootName string, snap source.Snapshot, be backend.Backend) *Reconciler {
	health := v1alpha1.HealthUnknown
	if app.Paused {
		health = v1alpha1.Suspended
	}
	return &Reconciler{
		backend:        be,
		log:            logrus.WithField("application", app.Name),
		sem:            semaphore.NewWeighted(1),
		HealthTimeout:  durations.DefaultHealthTimeout,
		HealthInterval: durations.DefaultHealthCheckInterval,
		app:            app,
		rootName:       rootName,
		snap:           snap,
		finalizer:      true,
		paused:         app.Paused,
		status: v1alpha1.ApplicationStatus{
			Sync:   v1alpha1.SyncUnknown,
			Health: health,
		},
	}
}

func (r *Reconciler) App() v1alpha1.Application {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.app
}

func (r *Reconciler) Status() v1alpha1.ApplicationStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// SetDesired replaces the application's desired state after a root
// reevaluation. The next compare picks up the new revision.
func (r *Reconciler) SetDesired(app v1alpha1.Application, snap source.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.app.Source.Revision != app.Source.Revision {
		r.status.Sync = v1alpha1.SyncUnknown
	}
	r.app = app
	r.snap = snap
}

// NeverSynced reports whether the application has completed an apply cycle
// yet. Non-automated applications still get their first apply on creation;
// afterwards they wait for a manual sync.
func (r *Reconciler) NeverSynced() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.synced
}

func (r *Reconciler) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = true
	r.status.Health = v1alpha1.Suspended
}

func (r *Reconciler) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.paused {
		r.paused = false
		r.status.Health = v1alpha1.HealthUnknown
		r.status.Sync = v1alpha1.SyncUnknown
	}
}

func (r *Reconciler) suspended() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused
}

// Compare diffs desired against live state and updates the sync status. It
// never mutates live state.
func (r *Reconciler) Compare(ctx context.Context) (*Plan, error) {
	r.mu.Lock()
	app, snap, rootName := r.app, r.snap, r.rootName
	r.mu.Unlock()

	desired, err := renderManifests(snap, app, rootName)
	if err != nil {
		return nil, errdefs.NewConfig("application %s: %v", app.Name, err)
	}

	live, err := r.backend.List(ctx, app.Destination, map[string]string{v1alpha1.ApplicationLabel: app.Name})
	if err != nil {
		if errors.Is(err, backend.ErrUnavailable) {
			r.setHealth(v1alpha1.Missing)
		}
		return nil, fmt.Errorf("failed to observe %s: %w", app.Destination, err)
	}

	plan, err := diff(desired, live)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if plan.Empty() {
		r.status.Sync = v1alpha1.Synced
		r.status.ModifiedResources = nil
	} else {
		r.status.Sync = v1alpha1.OutOfSync
		r.status.ModifiedResources = plan.Modified()
	}
	r.mu.Unlock()

	return plan, nil
}

// Sync runs the full convergence cycle, retrying per the application's
// retry policy. On exhaustion the application goes Degraded and the failure
// is returned, never swallowed.
func (r *Reconciler) Sync(ctx context.Context) error {
	if r.suspended() {
		return nil
	}

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer r.sem.Release(1)

	r.mu.Lock()
	app := r.app
	retry := *app.SyncPolicy.Retry
	revision := r.snap.Revision()
	r.mu.Unlock()

	delay := &backoff.Backoff{
		Min:    retry.BackoffBase.Duration,
		Max:    retry.BackoffMaxDuration.Duration,
		Factor: retry.BackoffFactor,
	}

	var lastErr error
	attempts := 0
	for attempts < retry.Limit {
		attempts++

		err := r.syncOnce(ctx)
		if err == nil {
			r.recordResult(revision, v1alpha1.SyncSucceeded, attempts, nil)
			return nil
		}
		lastErr = err

		if errors.Is(err, backend.ErrUnavailable) {
			r.setHealth(v1alpha1.Missing)
			r.recordResult(revision, v1alpha1.SyncFailed, attempts, err)
			return err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		r.setHealth(v1alpha1.Progressing)
		r.log.WithField("attempt", attempts).WithError(err).Warn("apply failed")

		if attempts >= retry.Limit {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay.Duration()):
		}
	}

	r.setHealth(v1alpha1.Degraded)
	r.recordResult(revision, v1alpha1.SyncFailed, attempts, lastErr)

	failure := &errdefs.Error{
		Kind:        errdefs.KindApply,
		Application: app.Name,
		Attempts:    attempts,
		Cause:       lastErr,
	}
	var inner *errdefs.Error
	if errors.As(lastErr, &inner) && inner.Resource != "" {
		failure.Resource = inner.Resource
	}
	return failure
}

// syncOnce is one compare-apply-wait-prune pass.
func (r *Reconciler) syncOnce(ctx context.Context) error {
	plan, err := r.Compare(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	app := r.app
	r.mu.Unlock()

	if plan.Empty() {
		if err := r.waitHealthy(ctx); err != nil {
			return err
		}
		// an already-converged cycle still counts as a completed sync,
		// otherwise a non-automated application would be auto-applied
		// again on the next revision
		r.mu.Lock()
		r.synced = true
		r.mu.Unlock()
		return nil
	}

	r.setHealth(v1alpha1.Progressing)
	r.log.Tracef("computed plan: %s", spew.Sdump(plan))

	if err := r.applyPlan(ctx, plan); err != nil {
		return err
	}

	// PruneLast: obsolete resources are only removed once everything
	// else in the application is stable.
	if err := r.waitHealthy(ctx); err != nil {
		return err
	}
	if app.SyncPolicy.Prune && len(plan.Delete) > 0 {
		if err := r.prune(ctx, plan.Delete); err != nil {
			return err
		}
	}

	r.mu.Lock()
	r.status.Sync = v1alpha1.Synced
	r.status.ModifiedResources = nil
	r.synced = true
	r.mu.Unlock()
	return nil
}

func (r *Reconciler) applyPlan(ctx context.Context, plan *Plan) error {
	r.mu.Lock()
	app := r.app
	r.mu.Unlock()

	apply := func(obj *unstructured.Unstructured) error {
		if err := r.backend.Apply(ctx, app.Destination, obj); err != nil {
			return errdefs.NewApply(app.Name, backend.KeyFor(obj).String(), err)
		}
		return nil
	}

	for _, obj := range plan.Create {
		if err := apply(obj); err != nil {
			return err
		}
	}
	for _, op := range plan.Update {
		if err := apply(op.Desired); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) prune(ctx context.Context, keys []backend.ResourceKey) error {
	r.mu.Lock()
	app := r.app
	r.mu.Unlock()

	for _, key := range keys {
		err := r.backend.Delete(ctx, app.Destination, key)
		if err != nil && !errors.Is(err, backend.ErrNotFound) {
			return errdefs.NewApply(app.Name, key.String(), err)
		}
	}
	return nil
}

// waitHealthy polls live state until the application is healthy, a
// resource degrades, or the bounded wait elapses (a TimeoutError, retried
// like any apply failure).
func (r *Reconciler) waitHealthy(ctx context.Context) error {
	r.mu.Lock()
	app := r.app
	r.mu.Unlock()

	deadline := time.Now().Add(r.HealthTimeout)
	for {
		live, err := r.backend.List(ctx, app.Destination, map[string]string{v1alpha1.ApplicationLabel: app.Name})
		if err != nil {
			return err
		}

		health := aggregateHealth(live)
		switch health {
		case v1alpha1.Healthy:
			r.setHealth(v1alpha1.Healthy)
			return nil
		case v1alpha1.Degraded:
			r.setHealth(v1alpha1.Degraded)
			return errdefs.NewApply(app.Name, "", fmt.Errorf("a resource reported a terminal failure"))
		}

		if time.Now().After(deadline) {
			return errdefs.NewTimeout(app.Name, fmt.Errorf("not healthy after %s", r.HealthTimeout))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.HealthInterval):
		}
	}
}

// DetectDrift compares live state outside of a revision change. With
// self-heal on, drifted resources are re-applied immediately; otherwise the
// drift is recorded and reported only.
func (r *Reconciler) DetectDrift(ctx context.Context) error {
	if r.suspended() {
		return nil
	}
	if !r.sem.TryAcquire(1) {
		// a sync is running, its outcome supersedes this poll
		return nil
	}
	defer r.sem.Release(1)

	plan, err := r.Compare(ctx)
	if err != nil {
		return err
	}
	if plan.Empty() {
		return nil
	}

	r.mu.Lock()
	app := r.app
	r.mu.Unlock()

	if !app.SyncPolicy.SelfHeal {
		drift := errdefs.NewDrift(app.Name, "", fmt.Sprintf("%d resources diverged from desired state", len(plan.Modified())))
		r.log.Warn(drift.Error())
		return nil
	}

	r.log.WithField("resources", len(plan.Modified())).Info("correcting drift")
	if err := r.applyPlan(ctx, plan); err != nil {
		return err
	}
	if app.SyncPolicy.Prune && len(plan.Delete) > 0 {
		if err := r.prune(ctx, plan.Delete); err != nil {
			return err
		}
	}

	r.mu.Lock()
	r.status.Sync = v1alpha1.Synced
	r.status.ModifiedResources = nil
	r.mu.Unlock()
	return nil
}

// Delete removes the application's owned resources, confirms they are
// gone, and only then clears the protective finalizer. With orphan=true
// the resources are left in place.
func (r *Reconciler) Delete(ctx context.Context, orphan bool) error {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer r.sem.Release(1)

	r.mu.Lock()
	app := r.app
	r.mu.Unlock()

	selector := map[string]string{v1alpha1.ApplicationLabel: app.Name}

	if !orphan {
		live, err := r.backend.List(ctx, app.Destination, selector)
		if err != nil {
			return err
		}
		for _, obj := range live {
			err := r.backend.Delete(ctx, app.Destination, backend.KeyFor(obj))
			if err != nil && !errors.Is(err, backend.ErrNotFound) {
				return errdefs.NewApply(app.Name, backend.KeyFor(obj).String(), err)
			}
		}

		deadline := time.Now().Add(durations.DeleteConfirmTimeout)
		for {
			live, err := r.backend.List(ctx, app.Destination, selector)
			if err != nil {
				return err
			}
			if len(live) == 0 {
				break
			}
			if time.Now().After(deadline) {
				return errdefs.NewTimeout(app.Name, fmt.Errorf("owned resources still present after %s", durations.DeleteConfirmTimeout))
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(durations.DeleteConfirmInterval):
			}
		}
	}

	r.mu.Lock()
	r.finalizer = false
	r.mu.Unlock()
	return nil
}

// Finalized reports whether the protective finalizer has been cleared.
func (r *Reconciler) Finalized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.finalizer
}

// setHealth never overrides a pause: a suspend issued while a sync is in
// flight must survive the sync's own health transitions.
func (r *Reconciler) setHealth(health v1alpha1.HealthStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.paused {
		return
	}
	r.status.Health = health
}

func (r *Reconciler) recordResult(revision string, outcome v1alpha1.SyncOutcome, attempts int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := &v1alpha1.LastSyncResult{
		Revision:  revision,
		Timestamp: metav1.Now(),
		Outcome:   outcome,
		Attempts:  attempts,
	}
	if err != nil {
		result.Error = err.Error()
	}
	r.status.LastSyncResult = result
}
