// Package source provides access to the desired-state tree. A snapshot is
// an immutable view at one revision; builders and reconcilers never read
// the tree any other way, so the same revision always renders the same
// output.
package source

import "context"

//go:generate mockgen --build_flags=--mod=mod -destination=../mocks/source_mock.go -package=mocks github.com/flotilla-gitops/flotilla/internal/source Source,Snapshot

type Snapshot interface {
	// Revision returns the immutable snapshot identifier.
	Revision() string
	// List returns the paths of all files under dir, relative to the
	// tree root, in lexical order.
	List(dir string) ([]string, error)
	// Read returns the content of the file at path.
	Read(path string) ([]byte, error)
}

type Source interface {
	// Latest resolves the current head revision.
	Latest(ctx context.Context) (string, error)
	// Checkout materializes a snapshot of the tree at revision.
	Checkout(ctx context.Context, revision string) (Snapshot, error)
}
