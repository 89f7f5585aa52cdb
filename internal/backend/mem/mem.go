// Package mem holds an in-memory backend. It backs standalone runs and
// tests, counts mutations so idempotence can be asserted, and supports
// failure injection per resource.
package mem

import (
	"context"
	"sync"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/flotilla-gitops/flotilla/internal/backend"
	"github.com/flotilla-gitops/flotilla/pkg/apis/flotilla/v1alpha1"
)

type Backend struct {
	mu      sync.Mutex
	objects map[string]map[backend.ResourceKey]*unstructured.Unstructured

	applies int
	deletes int

	// ApplyErr, when set, is consulted per apply; returning a non-nil
	// error fails that apply.
	ApplyErr func(dest v1alpha1.Destination, obj *unstructured.Unstructured) error

	// Unavailable marks whole destinations as unobservable.
	Unavailable map[string]bool
}

func New() *Backend {
	return &Backend{
		objects:     map[string]map[backend.ResourceKey]*unstructured.Unstructured{},
		Unavailable: map[string]bool{},
	}
}

func (b *Backend) Get(_ context.Context, dest v1alpha1.Destination, key backend.ResourceKey) (*unstructured.Unstructured, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.Unavailable[dest.String()] {
		return nil, backend.ErrUnavailable
	}
	obj, ok := b.objects[dest.String()][key]
	if !ok {
		return nil, backend.ErrNotFound
	}
	return obj.DeepCopy(), nil
}

func (b *Backend) List(_ context.Context, dest v1alpha1.Destination, selector map[string]string) ([]*unstructured.Unstructured, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.Unavailable[dest.String()] {
		return nil, backend.ErrUnavailable
	}

	var result []*unstructured.Unstructured
	for _, obj := range b.objects[dest.String()] {
		if matches(obj.GetLabels(), selector) {
			result = append(result, obj.DeepCopy())
		}
	}
	return result, nil
}

func (b *Backend) Apply(_ context.Context, dest v1alpha1.Destination, obj *unstructured.Unstructured) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.Unavailable[dest.String()] {
		return backend.ErrUnavailable
	}
	if b.ApplyErr != nil {
		if err := b.ApplyErr(dest, obj); err != nil {
			return err
		}
	}

	if b.objects[dest.String()] == nil {
		b.objects[dest.String()] = map[backend.ResourceKey]*unstructured.Unstructured{}
	}
	b.objects[dest.String()][backend.KeyFor(obj)] = obj.DeepCopy()
	b.applies++
	return nil
}

func (b *Backend) Delete(_ context.Context, dest v1alpha1.Destination, key backend.ResourceKey) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.Unavailable[dest.String()] {
		return backend.ErrUnavailable
	}
	if _, ok := b.objects[dest.String()][key]; !ok {
		return backend.ErrNotFound
	}
	delete(b.objects[dest.String()], key)
	b.deletes++
	return nil
}

// Mutate edits a stored object in place, bypassing the apply counters, to
// simulate out-of-band drift.
func (b *Backend) Mutate(dest v1alpha1.Destination, key backend.ResourceKey, fn func(obj *unstructured.Unstructured)) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	obj, ok := b.objects[dest.String()][key]
	if !ok {
		return false
	}
	fn(obj)
	return true
}

func (b *Backend) Applies() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.applies
}

func (b *Backend) Deletes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.deletes
}

// Len returns the number of objects stored at dest.
func (b *Backend) Len(dest v1alpha1.Destination) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects[dest.String()])
}

func matches(labels, selector map[string]string) bool {
	for k, v := range selector {
		if labels[k] != v {
			return false
		}
	}
	return true
}
