package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
)

// LocalSource serves images from a directory on disk.
type LocalSource struct {
	root string
}

// NewLocalSource checks that root is a directory.
func NewLocalSource(root string) (*LocalSource, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("image root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("image root %s is not a directory", root)
	}
	return &LocalSource{root: root}, nil
}

func (s *LocalSource) Root() string { return s.root }

func (s *LocalSource) path(name string) string {
	return filepath.Join(s.root, filepath.FromSlash(name))
}

func (s *LocalSource) Open(_ context.Context, name string) (io.ReadCloser, error) {
	return os.Open(s.path(name))
}

func (s *LocalSource) Stat(_ context.Context, name string) (int64, error) {
	info, err := os.Stat(s.path(name))
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%s is a directory: %w", name, fs.ErrNotExist)
	}
	return info.Size(), nil
}

// List walks the tree under prefix and returns image files in sorted order.
func (s *LocalSource) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	start := s.path(prefix)
	err := filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !IsImage(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(out)
	logf(s.root, "listed %d images under %q", len(out), prefix)
	return out, nil
}
