// Package rollout coordinates the whole life of a root application: it
// reevaluates the root template on desired-state changes, keeps one
// reconciler per child application, drives them through the wave scheduler
// and answers the query/command surface.
package rollout

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/flotilla-gitops/flotilla/internal/backend"
	"github.com/flotilla-gitops/flotilla/internal/engine"
	"github.com/flotilla-gitops/flotilla/internal/graph"
	"github.com/flotilla-gitops/flotilla/internal/metrics"
	"github.com/flotilla-gitops/flotilla/internal/scheduler"
	"github.com/flotilla-gitops/flotilla/internal/source"
	"github.com/flotilla-gitops/flotilla/pkg/apis/flotilla/v1alpha1"
	"github.com/flotilla-gitops/flotilla/pkg/durations"
	"github.com/flotilla-gitops/flotilla/pkg/summary"
)

type Options struct {
	// Overlay is the environment the root is evaluated for.
	Overlay string

	SourcePollInterval time.Duration
	DriftPollInterval  time.Duration

	// HealthTimeout and HealthInterval are handed to every reconciler.
	HealthTimeout  time.Duration
	HealthInterval time.Duration
}

func (o *Options) setDefaults() {
	if o.SourcePollInterval <= 0 {
		o.SourcePollInterval = durations.DefaultSourcePollInterval
	}
	if o.DriftPollInterval <= 0 {
		o.DriftPollInterval = durations.DefaultDriftPollInterval
	}
	if o.HealthTimeout <= 0 {
		o.HealthTimeout = durations.DefaultHealthTimeout
	}
	if o.HealthInterval <= 0 {
		o.HealthInterval = durations.DefaultHealthCheckInterval
	}
}

type Coordinator struct {
	src     source.Source
	backend backend.Backend
	builder *graph.Builder
	sched   *scheduler.Scheduler
	opts    Options
	log     *logrus.Entry

	// evalSem keeps overlapping reevaluations from racing; a poll tick
	// that fires during a running rollout is skipped.
	evalSem *semaphore.Weighted

	mu          sync.Mutex
	rootName    string
	revision    string
	reconcilers map[string]*engine.Reconciler
	lastErr     error
}

func New(src source.Source, be backend.Backend, builder *graph.Builder, opts Options) *Coordinator {
	opts.setDefaults()
	return &Coordinator{
		src:         src,
		backend:     be,
		builder:     builder,
		sched:       scheduler.New(),
		opts:        opts,
		log:         logrus.WithField("component", "rollout"),
		evalSem:     semaphore.NewWeighted(1),
		reconcilers: map[string]*engine.Reconciler{},
	}
}

// Reevaluate rebuilds the application graph from the latest desired-state
// revision and rolls it out wave by wave. Construction errors abort before
// any apply; a repeated invocation with unchanged inputs reproduces the
// identical graph and resumes where a cancelled run left off.
func (c *Coordinator) Reevaluate(ctx context.Context) error {
	if err := c.evalSem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.evalSem.Release(1)

	revision, err := c.src.Latest(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve desired-state revision: %w", err)
	}

	snap, err := c.src.Checkout(ctx, revision)
	if err != nil {
		return fmt.Errorf("failed to checkout revision %s: %w", revision, err)
	}

	result, err := c.builder.Build(snap, c.opts.Overlay)
	if err != nil {
		// no partial graph is ever executed
		return err
	}

	c.log.WithFields(logrus.Fields{
		"root":         result.RootName,
		"revision":     revision,
		"applications": len(result.Applications),
	}).Info("evaluated root application")

	removed := c.applyGraph(result, snap)
	for _, rec := range removed {
		app := rec.App()
		if err := rec.Delete(ctx, !app.SyncPolicy.Prune); err != nil {
			return err
		}
		metrics.Forget(app.Name)
	}

	err = c.sched.Run(ctx, result.Applications, c.syncApp)
	metrics.RecordRollout(err)

	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	return err
}

// applyGraph reconciles the reconciler set against the freshly built graph
// and returns the reconcilers of applications that left the desired state.
func (c *Coordinator) applyGraph(result *graph.Result, snap source.Snapshot) []*engine.Reconciler {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rootName = result.RootName
	c.revision = result.Revision

	desired := map[string]bool{}
	for _, app := range result.Applications {
		desired[app.Name] = true
		if rec, ok := c.reconcilers[app.Name]; ok {
			rec.SetDesired(app, snap)
			continue
		}
		rec := engine.NewReconciler(app, result.RootName, snap, c.backend)
		rec.HealthTimeout = c.opts.HealthTimeout
		rec.HealthInterval = c.opts.HealthInterval
		c.reconcilers[app.Name] = rec
	}

	var removed []*engine.Reconciler
	for name, rec := range c.reconcilers {
		if !desired[name] {
			removed = append(removed, rec)
			delete(c.reconcilers, name)
		}
	}
	return removed
}

// syncApp is the scheduler's SyncFunc. Non-automated applications are only
// applied on their first rollout; afterwards they are compared, report
// OutOfSync and wait for a manual sync instead of blocking the wave.
func (c *Coordinator) syncApp(ctx context.Context, app v1alpha1.Application) error {
	rec := c.reconciler(app.Name)
	if rec == nil {
		return fmt.Errorf("no reconciler for application %s", app.Name)
	}

	var err error
	if !app.SyncPolicy.Automated && !rec.NeverSynced() {
		_, err = rec.Compare(ctx)
		if err == nil && rec.Status().Sync == v1alpha1.OutOfSync {
			c.log.WithField("application", app.Name).Info("out of sync, awaiting manual sync")
		}
	} else {
		err = rec.Sync(ctx)
		outcome := v1alpha1.SyncSucceeded
		if err != nil {
			outcome = v1alpha1.SyncFailed
		}
		metrics.RecordSync(app.Name, outcome)
	}

	metrics.RecordHealth(app.Name, rec.Status().Health)
	return err
}

// Run evaluates the root once and then keeps polling: the desired-state
// source for new revisions, and every application for live-state drift.
func (c *Coordinator) Run(ctx context.Context) error {
	if err := c.Reevaluate(ctx); err != nil {
		c.log.WithError(err).Error("initial rollout failed")
	}

	sourceTicker := time.NewTicker(c.opts.SourcePollInterval)
	defer sourceTicker.Stop()
	driftTicker := time.NewTicker(c.opts.DriftPollInterval)
	defer driftTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-sourceTicker.C:
			revision, err := c.src.Latest(ctx)
			if err != nil {
				c.log.WithError(err).Warn("failed to poll desired-state source")
				continue
			}
			c.mu.Lock()
			changed := revision != c.revision
			c.mu.Unlock()
			if !changed {
				continue
			}
			c.log.WithField("revision", revision).Info("desired state changed")
			if err := c.Reevaluate(ctx); err != nil {
				c.log.WithError(err).Error("rollout failed")
			}

		case <-driftTicker.C:
			for _, rec := range c.allReconcilers() {
				if err := rec.DetectDrift(ctx); err != nil {
					c.log.WithField("application", rec.App().Name).
						WithError(err).Warn("drift detection failed")
				}
				metrics.RecordHealth(rec.App().Name, rec.Status().Health)
			}
		}
	}
}

// Stop suspends wave advancement of a running rollout. In-flight applies
// finish their current attempt.
func (c *Coordinator) Stop() {
	c.sched.Stop()
}

// TriggerSync runs one synchronous convergence cycle for a single
// application, regardless of its automated policy.
func (c *Coordinator) TriggerSync(ctx context.Context, name string) error {
	rec := c.reconciler(name)
	if rec == nil {
		return fmt.Errorf("unknown application %s", name)
	}

	err := rec.Sync(ctx)
	outcome := v1alpha1.SyncSucceeded
	if err != nil {
		outcome = v1alpha1.SyncFailed
	}
	metrics.RecordSync(name, outcome)
	metrics.RecordHealth(name, rec.Status().Health)
	return err
}

func (c *Coordinator) Pause(name string) error {
	rec := c.reconciler(name)
	if rec == nil {
		return fmt.Errorf("unknown application %s", name)
	}
	rec.Pause()
	metrics.RecordHealth(name, v1alpha1.Suspended)
	return nil
}

func (c *Coordinator) Resume(name string) error {
	rec := c.reconciler(name)
	if rec == nil {
		return fmt.Errorf("unknown application %s", name)
	}
	rec.Resume()
	return nil
}

// Teardown deletes the root: children are deleted in reverse wave order
// and the call only returns once every child's finalizer is cleared, so no
// owned workload survives unless its policy orphans it.
func (c *Coordinator) Teardown(ctx context.Context) error {
	c.sched.Stop()

	recs := c.allReconcilers()
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].App().Wave > recs[j].App().Wave
	})

	for _, rec := range recs {
		app := rec.App()
		if err := rec.Delete(ctx, !app.SyncPolicy.Prune); err != nil {
			return err
		}
		if !rec.Finalized() {
			return fmt.Errorf("application %s still holds its finalizer", app.Name)
		}
		metrics.Forget(app.Name)
	}

	c.mu.Lock()
	c.reconcilers = map[string]*engine.Reconciler{}
	c.mu.Unlock()
	return nil
}

// Applications returns the per-application view for the query surface,
// wave order first.
func (c *Coordinator) Applications() []summary.Child {
	children := make([]summary.Child, 0)
	for _, rec := range c.allReconcilers() {
		children = append(children, summary.Child{App: rec.App(), Status: rec.Status()})
	}
	sort.Slice(children, func(i, j int) bool {
		if children[i].App.Wave != children[j].App.Wave {
			return children[i].App.Wave < children[j].App.Wave
		}
		return children[i].App.Name < children[j].App.Name
	})
	return children
}

func (c *Coordinator) Application(name string) (summary.Child, error) {
	rec := c.reconciler(name)
	if rec == nil {
		return summary.Child{}, fmt.Errorf("unknown application %s", name)
	}
	return summary.Child{App: rec.App(), Status: rec.Status()}, nil
}

// RootStatus is the aggregate read endpoint.
func (c *Coordinator) RootStatus() v1alpha1.RootStatus {
	c.mu.Lock()
	rootName, revision := c.rootName, c.revision
	c.mu.Unlock()

	return summary.Summarize(rootName, revision, c.opts.Overlay, c.Applications())
}

func (c *Coordinator) reconciler(name string) *engine.Reconciler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconcilers[name]
}

func (c *Coordinator) allReconcilers() []*engine.Reconciler {
	c.mu.Lock()
	defer c.mu.Unlock()

	recs := make([]*engine.Reconciler, 0, len(c.reconcilers))
	for _, rec := range c.reconcilers {
		recs = append(recs, rec)
	}
	return recs
}
