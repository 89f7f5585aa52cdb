package engine

import (
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/flotilla-gitops/flotilla/pkg/apis/flotilla/v1alpha1"
)

// resourceHealth assesses a single live resource. Workload kinds are ready
// once their observed replica counts match the requested ones; anything
// without a readiness signal counts as healthy once applied.
func resourceHealth(obj *unstructured.Unstructured) v1alpha1.HealthStatus {
	switch obj.GetKind() {
	case "Deployment", "StatefulSet", "ReplicaSet":
		return replicatedHealth(obj, "readyReplicas")
	case "DaemonSet":
		return daemonSetHealth(obj)
	case "Job":
		return jobHealth(obj)
	case "Pod":
		return podHealth(obj)
	default:
		return v1alpha1.Healthy
	}
}

// aggregateHealth reduces the health of all live resources of an
// application: any degraded resource degrades the application, otherwise
// any progressing resource leaves it progressing.
func aggregateHealth(objs []*unstructured.Unstructured) v1alpha1.HealthStatus {
	health := v1alpha1.Healthy
	for _, obj := range objs {
		h := resourceHealth(obj)
		if v1alpha1.StateRank[h] > v1alpha1.StateRank[health] {
			health = h
		}
	}
	return health
}

func replicatedHealth(obj *unstructured.Unstructured, readyField string) v1alpha1.HealthStatus {
	desired, found, _ := unstructured.NestedInt64(obj.Object, "spec", "replicas")
	if !found {
		desired = 1
	}
	ready, _, _ := unstructured.NestedInt64(obj.Object, "status", readyField)
	if ready >= desired {
		return v1alpha1.Healthy
	}
	return v1alpha1.Progressing
}

func daemonSetHealth(obj *unstructured.Unstructured) v1alpha1.HealthStatus {
	desired, _, _ := unstructured.NestedInt64(obj.Object, "status", "desiredNumberScheduled")
	ready, _, _ := unstructured.NestedInt64(obj.Object, "status", "numberReady")
	if ready >= desired {
		return v1alpha1.Healthy
	}
	return v1alpha1.Progressing
}

func jobHealth(obj *unstructured.Unstructured) v1alpha1.HealthStatus {
	failed, _, _ := unstructured.NestedInt64(obj.Object, "status", "failed")
	if failed > 0 {
		return v1alpha1.Degraded
	}
	succeeded, _, _ := unstructured.NestedInt64(obj.Object, "status", "succeeded")
	if succeeded > 0 {
		return v1alpha1.Healthy
	}
	return v1alpha1.Progressing
}

func podHealth(obj *unstructured.Unstructured) v1alpha1.HealthStatus {
	phase, _, _ := unstructured.NestedString(obj.Object, "status", "phase")
	switch phase {
	case "Running", "Succeeded":
		return v1alpha1.Healthy
	case "Failed":
		return v1alpha1.Degraded
	default:
		return v1alpha1.Progressing
	}
}
