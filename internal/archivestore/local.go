package archivestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore keeps archives as files under dir/prefix.
type LocalStore struct {
	dir string
}

// NewLocalStore creates the archive directory if needed.
func NewLocalStore(dir, prefix string) (*LocalStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("NewLocalStore: dir is required")
	}
	full, err := filepath.Abs(filepath.Join(dir, prefix))
	if err != nil {
		return nil, fmt.Errorf("NewLocalStore: resolving %s: %w", dir, err)
	}
	if err := os.MkdirAll(full, 0o700); err != nil {
		return nil, fmt.Errorf("NewLocalStore: creating %s: %w", full, err)
	}
	return &LocalStore{dir: full}, nil
}

func (s *LocalStore) Close() error { return nil }

// Put writes through a temporary file and renames it into place.
func (s *LocalStore) Put(ctx context.Context, name string, data []byte) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("Put: invalid archive name %q", name)
	}
	target := filepath.Join(s.dir, name)

	tmp, err := os.CreateTemp(s.dir, "."+name+".*")
	if err != nil {
		return "", fmt.Errorf("Put: creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("Put: writing %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("Put: closing %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", fmt.Errorf("Put: renaming %s: %w", name, err)
	}
	return target, nil
}

// Get reads an archive by location. Locations outside the store directory
// are rejected.
func (s *LocalStore) Get(ctx context.Context, location string) ([]byte, error) {
	path := location
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.dir, path)
	}
	path = filepath.Clean(path)
	if filepath.Dir(path) != s.dir {
		return nil, fmt.Errorf("Get: %s is outside the archive directory", location)
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("Get: %s: %w", location, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("Get: reading %s: %w", location, err)
	}
	return data, nil
}

func (s *LocalStore) List(ctx context.Context, namePrefix string) ([]Object, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("List: reading %s: %w", s.dir, err)
	}

	var out []Object
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasPrefix(name, namePrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("List: stat %s: %w", name, err)
		}
		out = append(out, Object{
			Name:     name,
			Location: filepath.Join(s.dir, name),
			Size:     info.Size(),
			Updated:  info.ModTime().UTC(),
		})
	}
	sortNewestFirst(out)
	return out, nil
}
