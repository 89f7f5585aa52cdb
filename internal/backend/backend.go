// Package backend abstracts the declarative-state cluster API the engine
// applies resources to. The engine only needs typed CRUD plus listing by
// ownership labels; watching is done by polling List.
package backend

import (
	"context"
	"errors"
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/flotilla-gitops/flotilla/pkg/apis/flotilla/v1alpha1"
)

//go:generate mockgen --build_flags=--mod=mod -destination=../mocks/backend_mock.go -package=mocks github.com/flotilla-gitops/flotilla/internal/backend Backend

var (
	// ErrNotFound is returned by Get and Delete for absent resources.
	ErrNotFound = errors.New("resource not found")
	// ErrUnavailable is returned when the destination cannot be
	// observed at all; the owning application reports Missing.
	ErrUnavailable = errors.New("destination unavailable")
)

// ResourceKey identifies one resource instance at a destination.
type ResourceKey struct {
	GVK       schema.GroupVersionKind
	Namespace string
	Name      string
}

func KeyFor(obj *unstructured.Unstructured) ResourceKey {
	return ResourceKey{
		GVK:       obj.GroupVersionKind(),
		Namespace: obj.GetNamespace(),
		Name:      obj.GetName(),
	}
}

func (k ResourceKey) String() string {
	return fmt.Sprintf("%s %s/%s", k.GVK.Kind, k.Namespace, k.Name)
}

type Backend interface {
	Get(ctx context.Context, dest v1alpha1.Destination, key ResourceKey) (*unstructured.Unstructured, error)
	// List returns all resources at dest whose labels contain selector.
	List(ctx context.Context, dest v1alpha1.Destination, selector map[string]string) ([]*unstructured.Unstructured, error)
	// Apply upserts obj at dest.
	Apply(ctx context.Context, dest v1alpha1.Destination, obj *unstructured.Unstructured) error
	Delete(ctx context.Context, dest v1alpha1.Destination, key ResourceKey) error
}
