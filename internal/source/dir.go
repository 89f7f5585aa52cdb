package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DirSource serves a local directory as desired state. The revision is a
// digest over the tree contents, so an unchanged directory keeps its
// revision and a reevaluation of the same revision is a no-op.
type DirSource struct {
	root string
}

func NewDirSource(root string) *DirSource {
	return &DirSource{root: root}
}

func (s *DirSource) Latest(_ context.Context) (string, error) {
	_, revision, err := s.capture()
	return revision, err
}

// Checkout copies the tree into memory, so the snapshot stays consistent
// with its revision even when the directory keeps changing underneath.
func (s *DirSource) Checkout(_ context.Context, revision string) (Snapshot, error) {
	files, current, err := s.capture()
	if err != nil {
		return nil, err
	}
	if revision != "" && revision != current {
		return nil, fmt.Errorf("revision %s is not available in %s, directory is at %s", revision, s.root, current)
	}
	return &dirSnapshot{revision: current, files: files}, nil
}

// capture reads the full tree once, digesting the same bytes it returns.
func (s *DirSource) capture() (map[string][]byte, string, error) {
	paths, err := walk(s.root)
	if err != nil {
		return nil, "", err
	}

	files := make(map[string][]byte, len(paths))
	h := sha256.New()
	for _, p := range paths {
		data, err := os.ReadFile(filepath.Join(s.root, p))
		if err != nil {
			return nil, "", err
		}
		fmt.Fprintf(h, "%s\n%d\n", p, len(data))
		h.Write(data)
		files[p] = data
	}
	return files, hex.EncodeToString(h.Sum(nil)), nil
}

type dirSnapshot struct {
	revision string
	files    map[string][]byte
}

func (s *dirSnapshot) Revision() string {
	return s.revision
}

func (s *dirSnapshot) List(dir string) ([]string, error) {
	prefix := strings.TrimSuffix(filepath.ToSlash(dir), "/") + "/"
	if dir == "" || dir == "." {
		prefix = ""
	}
	var paths []string
	for p := range s.files {
		if strings.HasPrefix(p, prefix) {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func (s *dirSnapshot) Read(path string) ([]byte, error) {
	data, ok := s.files[filepath.ToSlash(path)]
	if !ok {
		return nil, fmt.Errorf("%s: file not found at revision %s", path, s.revision)
	}
	return data, nil
}

func walk(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}
