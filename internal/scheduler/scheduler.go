// Package scheduler drives applications through apply in sync-wave order.
// All members of a wave run concurrently; the next wave starts only when
// every member reached a terminal state. This replaces run-this-then-that
// scripting with a declared, inspectable ordering.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	stdsync "sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/flotilla-gitops/flotilla/pkg/apis/flotilla/v1alpha1"
)

// SyncFunc converges one application and blocks until it reached a terminal
// state. A nil return means Healthy (or an accepted skip); an error means a
// terminal failure.
type SyncFunc func(ctx context.Context, app v1alpha1.Application) error

// Wave is one concurrency group of the rollout.
type Wave struct {
	Number       int
	Applications []v1alpha1.Application
}

// Waves groups applications by sync wave, ascending. Order within a wave is
// unspecified; members must be independent.
func Waves(apps []v1alpha1.Application) []Wave {
	byWave := map[int][]v1alpha1.Application{}
	for _, app := range apps {
		byWave[app.Wave] = append(byWave[app.Wave], app)
	}

	numbers := make([]int, 0, len(byWave))
	for n := range byWave {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	waves := make([]Wave, 0, len(numbers))
	for _, n := range numbers {
		waves = append(waves, Wave{Number: n, Applications: byWave[n]})
	}
	return waves
}

// WaveError reports the wave that halted a strict rollout and its failing
// members. Later waves were never started.
type WaveError struct {
	Wave   int
	Failed []string
	Causes []error
}

func (e *WaveError) Error() string {
	return fmt.Sprintf("wave %d halted the rollout, failed applications: %s", e.Wave, strings.Join(e.Failed, ", "))
}

func (e *WaveError) Unwrap() []error {
	return e.Causes
}

// ErrStopped is returned when a stop request suspended the rollout between
// waves. Re-running with the same inputs resumes it.
var ErrStopped = fmt.Errorf("rollout stopped before completion")

type Scheduler struct {
	log     *logrus.Entry
	stopped atomic.Bool
}

func New() *Scheduler {
	return &Scheduler{log: logrus.WithField("component", "scheduler")}
}

// Stop suspends wave advancement. In-flight members finish their current
// apply attempt; no later wave starts until the next Run.
func (s *Scheduler) Stop() {
	s.stopped.Store(true)
}

// Run executes the rollout wave by wave. A wave member's terminal failure
// blocks advancement unless the member's policy tolerates it; with any
// non-tolerated failure the rollout halts with a WaveError.
func (s *Scheduler) Run(ctx context.Context, apps []v1alpha1.Application, sync SyncFunc) error {
	s.stopped.Store(false)

	for _, wave := range Waves(apps) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.stopped.Load() {
			s.log.WithField("wave", wave.Number).Info("rollout suspended before wave")
			return ErrStopped
		}

		s.log.WithFields(logrus.Fields{
			"wave":    wave.Number,
			"members": len(wave.Applications),
		}).Info("starting wave")

		var (
			mu     stdsync.Mutex
			failed []string
			causes []error
			group  errgroup.Group
		)

		for _, app := range wave.Applications {
			app := app
			group.Go(func() error {
				err := sync(ctx, app)
				if err == nil {
					return nil
				}
				if app.SyncPolicy.TolerateFailure {
					s.log.WithField("application", app.Name).WithError(err).
						Warn("terminal failure tolerated by policy")
					return nil
				}
				mu.Lock()
				failed = append(failed, app.Name)
				causes = append(causes, err)
				mu.Unlock()
				// the wave barrier collects failures; siblings keep
				// running independently
				return nil
			})
		}
		_ = group.Wait()

		if len(failed) > 0 {
			sort.Strings(failed)
			return &WaveError{Wave: wave.Number, Failed: failed, Causes: causes}
		}
	}

	return nil
}
