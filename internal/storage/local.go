package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"github.com/jaki95/tunecache/internal/pathguard"
)

// LocalStore implements ArchiveStore on the local filesystem
type LocalStore struct {
	dir string
}

// NewLocalStore creates the archive directory if needed
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory %s: %w", dir, err)
	}
	return &LocalStore{dir: dir}, nil
}

func (s *LocalStore) path(name string) (string, error) {
	if err := pathguard.ValidateSegment(name); err != nil {
		return "", fmt.Errorf("archive name %q: %w", name, err)
	}
	return filepath.Join(s.dir, name), nil
}

func (s *LocalStore) Exists(_ context.Context, name string) (bool, error) {
	path, err := s.path(name)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Create writes into a hidden temporary file next to the target; Commit
// fsyncs and renames it into place.
func (s *LocalStore) Create(_ context.Context, name string) (PendingObject, error) {
	path, err := s.path(name)
	if err != nil {
		return nil, err
	}
	pf, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return nil, fmt.Errorf("create pending archive file: %w", err)
	}
	return &localPending{pf: pf}, nil
}

func (s *LocalStore) Open(_ context.Context, name string) (*Object, error) {
	path, err := s.path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, name)
		}
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Object{ReadCloser: f, Size: info.Size()}, nil
}

type localPending struct {
	pf *renameio.PendingFile
}

func (p *localPending) Write(b []byte) (int, error) {
	return p.pf.Write(b)
}

func (p *localPending) Commit() error {
	if err := p.pf.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace archive file: %w", err)
	}
	return nil
}

func (p *localPending) Abort() error {
	return p.pf.Cleanup()
}
