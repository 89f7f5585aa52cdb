package source

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	httpgit "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"
)

// GitAuth carries optional credentials for the desired-state repository.
type GitAuth struct {
	Username string
	Password string
	CABundle []byte

	InsecureTLSVerify bool
}

// GitSource serves a git repository as desired state. Snapshots are read
// from the commit tree in memory, no working copy is written to disk.
type GitSource struct {
	url    string
	branch string
	auth   *GitAuth

	// repo caches the last fetched repository so Checkout of an
	// already-seen revision does not clone again.
	repo *gogit.Repository
}

func NewGitSource(url, branch string, auth *GitAuth) *GitSource {
	if branch == "" {
		branch = "master"
	}
	return &GitSource{url: url, branch: branch, auth: auth}
}

// Latest runs ls-remote against the repository and returns the branch HEAD.
func (s *GitSource) Latest(ctx context.Context) (string, error) {
	rem := gogit.NewRemote(memory.NewStorage(), &config.RemoteConfig{
		URLs: []string{s.url},
	})

	refs, err := rem.ListContext(ctx, &gogit.ListOptions{
		Auth:            s.authMethod(),
		CABundle:        s.caBundle(),
		InsecureSkipTLS: s.insecureTLSVerify(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to list %s: %w", s.url, err)
	}

	refBranch := fmt.Sprintf("refs/heads/%s", s.branch)
	for _, ref := range refs {
		if ref.Name().IsBranch() && ref.Name().String() == refBranch {
			return ref.Hash().String(), nil
		}
	}

	return "", fmt.Errorf("branch %s not found in %s", s.branch, s.url)
}

func (s *GitSource) Checkout(ctx context.Context, revision string) (Snapshot, error) {
	if s.repo != nil {
		if snap, err := snapshotAt(s.repo, revision); err == nil {
			return snap, nil
		}
	}

	repo, err := gogit.CloneContext(ctx, memory.NewStorage(), nil, &gogit.CloneOptions{
		URL:             s.url,
		Auth:            s.authMethod(),
		CABundle:        s.caBundle(),
		InsecureSkipTLS: s.insecureTLSVerify(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to clone %s: %w", s.url, err)
	}
	s.repo = repo

	return snapshotAt(repo, revision)
}

func (s *GitSource) authMethod() transport.AuthMethod {
	if s.auth == nil || s.auth.Username == "" {
		return nil
	}
	return &httpgit.BasicAuth{Username: s.auth.Username, Password: s.auth.Password}
}

func (s *GitSource) caBundle() []byte {
	if s.auth == nil {
		return nil
	}
	return s.auth.CABundle
}

func (s *GitSource) insecureTLSVerify() bool {
	return s.auth != nil && s.auth.InsecureTLSVerify
}

// snapshotAt resolves revision to a commit in repo and wraps its tree.
func snapshotAt(repo *gogit.Repository, revision string) (Snapshot, error) {
	hash, err := repo.ResolveRevision(plumbing.Revision(revision))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve revision %s: %w", revision, err)
	}

	commit, err := repo.CommitObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("failed to read commit %s: %w", hash, err)
	}

	tree, err := commit.Tree()
	if err != nil {
		return nil, err
	}

	return &gitSnapshot{revision: revision, tree: tree}, nil
}

type gitSnapshot struct {
	revision string
	tree     *object.Tree
}

func (s *gitSnapshot) Revision() string {
	return s.revision
}

func (s *gitSnapshot) List(dir string) ([]string, error) {
	prefix := strings.TrimSuffix(dir, "/")
	if prefix != "" {
		prefix += "/"
	}

	var paths []string
	err := s.tree.Files().ForEach(func(f *object.File) error {
		if strings.HasPrefix(f.Name, prefix) {
			paths = append(paths, f.Name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(paths)
	return paths, nil
}

func (s *gitSnapshot) Read(path string) ([]byte, error) {
	f, err := s.tree.File(path)
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			return nil, fmt.Errorf("no file %s at revision %s", path, s.revision)
		}
		return nil, err
	}

	content, err := f.Contents()
	if err != nil {
		return nil, err
	}
	return []byte(content), nil
}
