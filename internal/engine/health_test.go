package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/flotilla-gitops/flotilla/pkg/apis/flotilla/v1alpha1"
)

func workload(kind string, spec, status map[string]interface{}) *unstructured.Unstructured {
	u := obj(kind, "w", nil)
	if spec != nil {
		u.Object["spec"] = spec
	}
	if status != nil {
		u.Object["status"] = status
	}
	return u
}

func TestResourceHealth(t *testing.T) {
	tests := []struct {
		name string
		obj  *unstructured.Unstructured
		want v1alpha1.HealthStatus
	}{
		{
			name: "deployment ready",
			obj: workload("Deployment",
				map[string]interface{}{"replicas": int64(3)},
				map[string]interface{}{"readyReplicas": int64(3)}),
			want: v1alpha1.Healthy,
		},
		{
			name: "deployment progressing",
			obj: workload("Deployment",
				map[string]interface{}{"replicas": int64(3)},
				map[string]interface{}{"readyReplicas": int64(1)}),
			want: v1alpha1.Progressing,
		},
		{
			name: "deployment default replicas",
			obj: workload("Deployment", nil,
				map[string]interface{}{"readyReplicas": int64(1)}),
			want: v1alpha1.Healthy,
		},
		{
			name: "statefulset no status",
			obj:  workload("StatefulSet", map[string]interface{}{"replicas": int64(1)}, nil),
			want: v1alpha1.Progressing,
		},
		{
			name: "daemonset ready",
			obj: workload("DaemonSet", nil, map[string]interface{}{
				"desiredNumberScheduled": int64(2), "numberReady": int64(2)}),
			want: v1alpha1.Healthy,
		},
		{
			name: "job failed",
			obj:  workload("Job", nil, map[string]interface{}{"failed": int64(1)}),
			want: v1alpha1.Degraded,
		},
		{
			name: "job succeeded",
			obj:  workload("Job", nil, map[string]interface{}{"succeeded": int64(1)}),
			want: v1alpha1.Healthy,
		},
		{
			name: "job running",
			obj:  workload("Job", nil, map[string]interface{}{"active": int64(1)}),
			want: v1alpha1.Progressing,
		},
		{
			name: "pod running",
			obj:  workload("Pod", nil, map[string]interface{}{"phase": "Running"}),
			want: v1alpha1.Healthy,
		},
		{
			name: "pod failed",
			obj:  workload("Pod", nil, map[string]interface{}{"phase": "Failed"}),
			want: v1alpha1.Degraded,
		},
		{
			name: "kind without readiness signal",
			obj:  obj("ConfigMap", "cm", nil),
			want: v1alpha1.Healthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resourceHealth(tt.obj))
		})
	}
}

func TestAggregateHealth(t *testing.T) {
	healthy := obj("ConfigMap", "cm", nil)
	progressing := workload("Deployment", map[string]interface{}{"replicas": int64(2)}, nil)
	degraded := workload("Job", nil, map[string]interface{}{"failed": int64(1)})

	assert.Equal(t, v1alpha1.Healthy, aggregateHealth([]*unstructured.Unstructured{healthy}))
	assert.Equal(t, v1alpha1.Progressing, aggregateHealth([]*unstructured.Unstructured{healthy, progressing}))
	// one degraded resource degrades the whole application
	assert.Equal(t, v1alpha1.Degraded, aggregateHealth([]*unstructured.Unstructured{healthy, progressing, degraded}))
	assert.Equal(t, v1alpha1.Healthy, aggregateHealth(nil))
}
