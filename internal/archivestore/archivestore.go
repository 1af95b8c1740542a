// Package archivestore persists backup archives outside the record store.
package archivestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/spendalizer/internal/config"
)

// ErrNotFound is returned by Get for a location that holds no archive.
var ErrNotFound = errors.New("archive not found")

// Object describes a stored archive.
type Object struct {
	Name     string    `json:"name"`
	Location string    `json:"location"`
	Size     int64     `json:"size"`
	Updated  time.Time `json:"updated"`
}

// Store provides an interface for archive storage operations.
type Store interface {
	// Put stores data under name and returns its location.
	Put(ctx context.Context, name string, data []byte) (string, error)

	// Get returns the bytes stored at a location previously returned by Put or List.
	Get(ctx context.Context, location string) ([]byte, error)

	// List returns stored archives whose names start with namePrefix, newest first.
	List(ctx context.Context, namePrefix string) ([]Object, error)

	Close() error
}

// New builds the archive store selected by cfg.
func New(ctx context.Context, cfg config.ArchiveConfig) (Store, error) {
	switch cfg.Driver {
	case config.ArchiveLocal:
		s, err := NewLocalStore(cfg.Local.Dir, cfg.Prefix)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.ArchiveGCS:
		s, err := NewGCSStore(ctx, cfg.GCS.Bucket, cfg.Prefix)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("archivestore: unknown driver %q", cfg.Driver)
	}
}
