package engine

import (
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/flotilla-gitops/flotilla/internal/backend"
	"github.com/flotilla-gitops/flotilla/pkg/apis/flotilla/v1alpha1"
)

// Plan is the classified result of one diff between desired and live state.
// Create and Update keep the desired apply order; Delete lists live
// resources that left the desired state.
type Plan struct {
	Create    []*unstructured.Unstructured
	Update    []UpdateOp
	Delete    []backend.ResourceKey
	Unchanged int
}

type UpdateOp struct {
	Desired *unstructured.Unstructured
	// Patch is the merge patch from normalized live to desired, kept
	// for drift reporting.
	Patch string
}

func (p *Plan) Empty() bool {
	return len(p.Create) == 0 && len(p.Update) == 0 && len(p.Delete) == 0
}

// Modified renders the plan as per-resource drift detail.
func (p *Plan) Modified() []v1alpha1.ModifiedStatus {
	var result []v1alpha1.ModifiedStatus
	for _, obj := range p.Create {
		result = append(result, v1alpha1.ModifiedStatus{
			APIVersion: obj.GetAPIVersion(),
			Kind:       obj.GetKind(),
			Namespace:  obj.GetNamespace(),
			Name:       obj.GetName(),
			Create:     true,
		})
	}
	for _, op := range p.Update {
		result = append(result, v1alpha1.ModifiedStatus{
			APIVersion: op.Desired.GetAPIVersion(),
			Kind:       op.Desired.GetKind(),
			Namespace:  op.Desired.GetNamespace(),
			Name:       op.Desired.GetName(),
			Patch:      op.Patch,
		})
	}
	for _, key := range p.Delete {
		result = append(result, v1alpha1.ModifiedStatus{
			APIVersion: key.GVK.GroupVersion().String(),
			Kind:       key.GVK.Kind,
			Namespace:  key.Namespace,
			Name:       key.Name,
			Delete:     true,
		})
	}
	return result
}

// diff classifies every desired resource as unchanged, added or modified,
// and every live resource missing from desired as removed-from-desired.
func diff(desired, live []*unstructured.Unstructured) (*Plan, error) {
	liveByKey := map[backend.ResourceKey]*unstructured.Unstructured{}
	for _, obj := range live {
		liveByKey[backend.KeyFor(obj)] = obj
	}

	plan := &Plan{}
	desiredKeys := map[backend.ResourceKey]bool{}

	for _, obj := range desired {
		key := backend.KeyFor(obj)
		desiredKeys[key] = true

		liveObj, ok := liveByKey[key]
		if !ok {
			plan.Create = append(plan.Create, obj)
			continue
		}

		patch, modified, err := mergePatch(liveObj, obj)
		if err != nil {
			return nil, fmt.Errorf("failed to diff %s: %w", key, err)
		}
		if modified {
			plan.Update = append(plan.Update, UpdateOp{Desired: obj, Patch: patch})
		} else {
			plan.Unchanged++
		}
	}

	for _, obj := range live {
		key := backend.KeyFor(obj)
		if !desiredKeys[key] {
			plan.Delete = append(plan.Delete, key)
		}
	}

	return plan, nil
}

// mergePatch computes the merge patch from normalized live to desired.
// An empty patch object means the resource is unchanged.
func mergePatch(live, desired *unstructured.Unstructured) (string, bool, error) {
	liveJSON, err := json.Marshal(normalize(live).Object)
	if err != nil {
		return "", false, err
	}
	desiredJSON, err := json.Marshal(normalize(desired).Object)
	if err != nil {
		return "", false, err
	}

	patch, err := jsonpatch.CreateMergePatch(liveJSON, desiredJSON)
	if err != nil {
		return "", false, err
	}
	if string(patch) == "{}" {
		return "", false, nil
	}
	return string(patch), true, nil
}

// normalize strips server-populated fields so they never show up as drift.
func normalize(obj *unstructured.Unstructured) *unstructured.Unstructured {
	u := obj.DeepCopy()
	unstructured.RemoveNestedField(u.Object, "status")
	unstructured.RemoveNestedField(u.Object, "metadata", "resourceVersion")
	unstructured.RemoveNestedField(u.Object, "metadata", "uid")
	unstructured.RemoveNestedField(u.Object, "metadata", "generation")
	unstructured.RemoveNestedField(u.Object, "metadata", "creationTimestamp")
	unstructured.RemoveNestedField(u.Object, "metadata", "managedFields")
	return u
}
