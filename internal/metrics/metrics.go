package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/flotilla-gitops/flotilla/pkg/apis/flotilla/v1alpha1"
)

const metricPrefix = "flotilla"

var (
	healthStates = []v1alpha1.HealthStatus{
		v1alpha1.HealthUnknown,
		v1alpha1.Progressing,
		v1alpha1.Healthy,
		v1alpha1.Degraded,
		v1alpha1.Suspended,
		v1alpha1.Missing,
	}

	applicationState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricPrefix,
		Name:      "application_state",
		Help:      "Health state of an application, one series per state, 1 for the current state.",
	}, []string{"name", "state"})

	syncsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricPrefix,
		Name:      "application_syncs_total",
		Help:      "Completed sync cycles per application and outcome.",
	}, []string{"name", "outcome"})

	rolloutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricPrefix,
		Name:      "rollouts_total",
		Help:      "Completed root rollouts by outcome.",
	}, []string{"outcome"})
)

func RecordHealth(name string, health v1alpha1.HealthStatus) {
	for _, state := range healthStates {
		value := float64(0)
		if state == health {
			value = 1
		}
		applicationState.WithLabelValues(name, string(state)).Set(value)
	}
}

func RecordSync(name string, outcome v1alpha1.SyncOutcome) {
	syncsTotal.WithLabelValues(name, string(outcome)).Inc()
}

func RecordRollout(err error) {
	outcome := "succeeded"
	if err != nil {
		outcome = "failed"
	}
	rolloutsTotal.WithLabelValues(outcome).Inc()
}

// Forget drops all series of a deleted application.
func Forget(name string) {
	applicationState.DeletePartialMatch(prometheus.Labels{"name": name})
	syncsTotal.DeletePartialMatch(prometheus.Labels{"name": name})
}
