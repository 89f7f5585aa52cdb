// Package summary rolls per-application sync and health state up into the
// root's aggregate status. It is a pure reduction with no write authority
// over child state.
package summary

import (
	"github.com/flotilla-gitops/flotilla/pkg/apis/flotilla/v1alpha1"
)

// maxNonHealthy caps the detail list so a large rollout cannot bloat the
// aggregate status.
const maxNonHealthy = 10

// Child is one application's contribution to the rollup.
type Child struct {
	App    v1alpha1.Application
	Status v1alpha1.ApplicationStatus
}

// Increment counts one child into the summary.
func Increment(s *v1alpha1.Summary, child Child) {
	s.Desired++
	switch child.Status.Health {
	case v1alpha1.Healthy:
		s.Healthy++
	case v1alpha1.Progressing:
		s.Progressing++
	case v1alpha1.Degraded:
		s.Degraded++
	case v1alpha1.Suspended:
		s.Suspended++
	case v1alpha1.Missing:
		s.Missing++
	default:
		s.Unknown++
	}

	if child.Status.Health != v1alpha1.Healthy && len(s.NonHealthy) < maxNonHealthy {
		detail := v1alpha1.NonHealthyApplication{
			Name:   child.App.Name,
			Wave:   child.App.Wave,
			Health: child.Status.Health,
		}
		if r := child.Status.LastSyncResult; r != nil && r.Error != "" {
			detail.Message = r.Error
		}
		s.NonHealthy = append(s.NonHealthy, detail)
	}
}

// HealthFor reduces the children to the root health:
//   - Degraded or Missing in any non-tolerated child degrades the root;
//   - anything still moving (Progressing, Unknown) keeps it Progressing;
//   - all Healthy means Healthy;
//   - otherwise only Suspended or tolerated failures remain: Suspended.
func HealthFor(children []Child) v1alpha1.HealthStatus {
	if len(children) == 0 {
		return v1alpha1.HealthUnknown
	}

	var progressing, suspended bool
	for _, child := range children {
		switch child.Status.Health {
		case v1alpha1.Degraded, v1alpha1.Missing:
			if !child.App.SyncPolicy.TolerateFailure {
				return v1alpha1.Degraded
			}
			suspended = true
		case v1alpha1.Progressing, v1alpha1.HealthUnknown:
			progressing = true
		case v1alpha1.Suspended:
			suspended = true
		}
	}

	if progressing {
		return v1alpha1.Progressing
	}
	if suspended {
		return v1alpha1.Suspended
	}
	return v1alpha1.Healthy
}

// SyncFor reduces the children to the root sync status: the root is Synced
// only when every child is Synced, and Unknown until every child has been
// compared at least once.
func SyncFor(children []Child) v1alpha1.SyncStatus {
	if len(children) == 0 {
		return v1alpha1.SyncUnknown
	}

	sync := v1alpha1.Synced
	for _, child := range children {
		switch child.Status.Sync {
		case v1alpha1.OutOfSync:
			return v1alpha1.OutOfSync
		case v1alpha1.SyncUnknown:
			sync = v1alpha1.SyncUnknown
		}
	}
	return sync
}

// Summarize computes the full aggregate for a root.
func Summarize(name, revision, overlay string, children []Child) v1alpha1.RootStatus {
	status := v1alpha1.RootStatus{
		Name:     name,
		Revision: revision,
		Overlay:  overlay,
		Sync:     SyncFor(children),
		Health:   HealthFor(children),
	}
	for _, child := range children {
		Increment(&status.Summary, child)
	}
	return status
}
