package v1alpha1

import (
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

type SyncStatus string

const (
	// SyncUnknown: the application has not been compared against live
	// state yet.
	SyncUnknown SyncStatus = "Unknown"
	// Synced: live state matches the desired state at the recorded
	// revision.
	Synced SyncStatus = "Synced"
	// OutOfSync: a diff against live state found resources to add,
	// change or prune.
	OutOfSync SyncStatus = "OutOfSync"
)

type HealthStatus string

var (
	// HealthUnknown: no health information is available yet.
	HealthUnknown HealthStatus = "Unknown"
	// Progressing: an apply is running or applied resources are not
	// ready yet.
	Progressing HealthStatus = "Progressing"
	// Healthy: all applied resources report ready.
	Healthy HealthStatus = "Healthy"
	// Degraded: the apply exhausted its retries, or an applied resource
	// reports a terminal failure.
	Degraded HealthStatus = "Degraded"
	// Suspended: reconciliation is paused by an explicit operator
	// action; drift and revision changes are ignored until resumed.
	Suspended HealthStatus = "Suspended"
	// Missing: the destination resource set cannot be observed.
	Missing HealthStatus = "Missing"

	// StateRank ranks health states so the highest ranked non-healthy
	// state can be reported in a summary.
	StateRank = map[HealthStatus]int{
		Degraded:      6,
		Missing:       5,
		Progressing:   4,
		HealthUnknown: 3,
		Suspended:     2,
		Healthy:       1,
	}
)

// Terminal reports whether the state can gate wave advancement; a wave is
// done once every member is terminal.
func (h HealthStatus) Terminal() bool {
	return h == Healthy || h == Degraded || h == Suspended || h == Missing
}

type SyncOutcome string

const (
	SyncSucceeded SyncOutcome = "Succeeded"
	SyncFailed    SyncOutcome = "Failed"
)

// Source points into the desired-state tree.
type Source struct {
	// Repo is the URL of the desired-state repository.
	Repo string `json:"repo,omitempty"`
	// Revision is an immutable snapshot identifier, e.g. a commit SHA.
	Revision string `json:"revision,omitempty"`
	// Path is the directory holding the application's manifests.
	Path string `json:"path,omitempty"`
}

// Destination is the target cluster and namespace. Each application owns a
// disjoint destination by convention; overlapping ownership is rejected at
// graph construction.
type Destination struct {
	Cluster   string `json:"cluster,omitempty"`
	Namespace string `json:"namespace,omitempty"`
}

func (d Destination) String() string {
	return d.Cluster + "/" + d.Namespace
}

// RetryPolicy bounds apply retries. Delay for attempt n is
// backoffBase * backoffFactor^n, capped at backoffMaxDuration.
type RetryPolicy struct {
	Limit              int             `json:"limit,omitempty"`
	BackoffBase        metav1.Duration `json:"backoffBase,omitempty"`
	BackoffFactor      float64         `json:"backoffFactor,omitempty"`
	BackoffMaxDuration metav1.Duration `json:"backoffMaxDuration,omitempty"`
}

type SyncPolicy struct {
	// Automated applies changes as soon as they are detected. When
	// false the application reports OutOfSync and waits for a manual
	// sync.
	Automated bool `json:"automated,omitempty"`
	// Prune deletes live resources that are no longer in the desired
	// state, after all other resources of the application are stable.
	Prune bool `json:"prune,omitempty"`
	// SelfHeal re-applies drifted resources without a revision change.
	SelfHeal bool `json:"selfHeal,omitempty"`
	// TolerateFailure marks a terminal failure of this application as
	// non-blocking for wave advancement.
	TolerateFailure bool `json:"tolerateFailure,omitempty"`
	// Retry policy for failed applies.
	Retry *RetryPolicy `json:"retry,omitempty"`
}

// Application is the unit of declarative desired state. Applications are
// created, updated and deleted exclusively by re-evaluating the root
// manifest; any out-of-band edit is drift.
type Application struct {
	// Name is unique across the full expanded application set.
	Name string `json:"name"`

	Source      Source      `json:"source,omitempty"`
	Destination Destination `json:"destination,omitempty"`

	// Wave is a signed integer; lower waves deploy first, ties deploy
	// concurrently.
	Wave int `json:"wave,omitempty"`

	// Paused starts the application Suspended until an explicit resume.
	Paused bool `json:"paused,omitempty"`

	// Values parameterize the application's manifest templates.
	Values map[string]interface{} `json:"values,omitempty"`

	SyncPolicy SyncPolicy `json:"syncPolicy,omitempty"`
}

// LastSyncResult records the outcome of the most recent apply cycle.
type LastSyncResult struct {
	Revision  string      `json:"revision,omitempty"`
	Timestamp metav1.Time `json:"timestamp,omitempty"`
	Outcome   SyncOutcome `json:"outcome,omitempty"`
	// Error holds the terminal failure detail, including the failing
	// resource if known.
	Error string `json:"error,omitempty"`
	// Attempts is the number of applies used, including retries.
	Attempts int `json:"attempts,omitempty"`
}

type ApplicationStatus struct {
	Sync   SyncStatus   `json:"sync,omitempty"`
	Health HealthStatus `json:"health,omitempty"`

	LastSyncResult *LastSyncResult `json:"lastSyncResult,omitempty"`

	// ModifiedResources lists live resources that diverge from desired
	// state, for drift reporting.
	ModifiedResources []ModifiedStatus `json:"modifiedResources,omitempty"`
}

// ModifiedStatus is the drift detail for a single resource.
type ModifiedStatus struct {
	Kind       string `json:"kind,omitempty"`
	APIVersion string `json:"apiVersion,omitempty"`
	Namespace  string `json:"namespace,omitempty"`
	Name       string `json:"name,omitempty"`
	Create     bool   `json:"missing,omitempty"`
	Delete     bool   `json:"delete,omitempty"`
	Patch      string `json:"patch,omitempty"`
}

func (in ModifiedStatus) String() string {
	msg := fmt.Sprintf("%s/%s %s/%s", in.APIVersion, in.Kind, in.Namespace, in.Name)
	if in.Create {
		return msg + " missing"
	} else if in.Delete {
		return msg + " extra"
	}
	return msg + " modified " + in.Patch
}
