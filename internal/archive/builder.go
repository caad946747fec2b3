// Package archive bundles the archival files of several ready tracks into a
// single zip stored under a key derived from the requested id sequence.
package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jaki95/tunecache/internal/domain"
	"github.com/jaki95/tunecache/internal/job"
	"github.com/jaki95/tunecache/internal/metrics"
	"github.com/jaki95/tunecache/internal/pathguard"
	"github.com/jaki95/tunecache/internal/storage"
)

var (
	ErrEmptyRequest       = errors.New("archive request has no tracks")
	ErrConstituentMissing = errors.New("archive constituent not ready")
	ErrInvalidName        = errors.New("invalid archive name")
)

// TrackSource gives access to the archival file of a ready track and its display name.
type TrackSource interface {
	Archival(id string) (path, name string, err error)
}

type Builder struct {
	store   storage.ArchiveStore
	tracks  TrackSource
	jobs    *job.Manager
	timeout time.Duration
}

func NewBuilder(store storage.ArchiveStore, tracks TrackSource, cooldown, timeout time.Duration) *Builder {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Builder{
		store:   store,
		tracks:  tracks,
		jobs:    job.NewManager("archive", cooldown),
		timeout: timeout,
	}
}

// Ensure returns the bundle filename for ids right away and, unless the
// bundle already exists or is being built, starts building it in the
// background. During a failure cooldown the filename is returned together
// with an error wrapping job.ErrCoolingDown.
func (b *Builder) Ensure(ctx context.Context, ids []string) (string, error) {
	if len(ids) == 0 {
		return "", ErrEmptyRequest
	}
	for _, id := range ids {
		if err := pathguard.ValidateSegment(id); err != nil {
			return "", err
		}
	}

	name := Filename(Key(ids))
	exists, err := b.store.Exists(ctx, name)
	if err != nil {
		return "", fmt.Errorf("check archive %s: %w", name, err)
	}
	if exists {
		return name, nil
	}

	ids = append([]string(nil), ids...)
	outcome, err := b.jobs.Start(name, func() error {
		return b.build(name, ids)
	})
	if err != nil {
		return name, err
	}
	if outcome == job.Started {
		slog.Info("Started archive", "name", name, "tracks", len(ids))
	}
	return name, nil
}

func (b *Builder) Status(ctx context.Context, name string) (domain.Status, error) {
	if err := validateName(name); err != nil {
		return domain.Status{}, err
	}
	exists, err := b.store.Exists(ctx, name)
	if err != nil {
		return domain.Status{}, err
	}
	if exists {
		return domain.Status{State: domain.StateReady}, nil
	}
	switch phase, lastErr := b.jobs.State(name); phase {
	case job.PhaseRunning:
		return domain.Status{State: domain.StateInProgress}, nil
	case job.PhaseFailed:
		return domain.Status{State: domain.StateFailed, Error: lastErr.Error()}, nil
	default:
		return domain.Status{State: domain.StateAbsent}, nil
	}
}

// Open returns a finished bundle. It returns storage.ErrNotExist while the bundle is absent.
func (b *Builder) Open(ctx context.Context, name string) (*storage.Object, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	return b.store.Open(ctx, name)
}

func (b *Builder) Wait(ctx context.Context, name string) error {
	return b.jobs.Wait(ctx, name)
}

func (b *Builder) Drain(ctx context.Context) error {
	return b.jobs.Drain(ctx)
}

func validateName(name string) error {
	key, ok := strings.CutSuffix(name, ".zip")
	if !ok || len(key) != 32 || strings.Trim(key, "0123456789abcdef") != "" {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

type entry struct {
	path string
	name string
}

func (b *Builder) build(name string, ids []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	if exists, err := b.store.Exists(ctx, name); err == nil && exists {
		return nil
	}

	done := metrics.TrackInFlight("archive")
	defer done()

	// Every constituent must be ready before anything is written.
	entries := make([]entry, 0, len(ids))
	names := newEntryNames()
	for _, id := range ids {
		path, display, err := b.tracks.Archival(id)
		if err != nil {
			metrics.RecordArchiveBuild("missing")
			// Nothing was written, so the next request may try again right away.
			return job.Transient(fmt.Errorf("%w: %s: %v", ErrConstituentMissing, id, err))
		}
		entries = append(entries, entry{path: path, name: names.unique(display)})
	}

	pending, err := b.store.Create(ctx, name)
	if err != nil {
		metrics.RecordArchiveBuild("error")
		return fmt.Errorf("create archive %s: %w", name, err)
	}
	defer pending.Abort()

	zw := zip.NewWriter(pending)
	for _, e := range entries {
		if err := addFile(zw, e); err != nil {
			metrics.RecordArchiveBuild("error")
			return fmt.Errorf("add %s to archive: %w", e.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		metrics.RecordArchiveBuild("error")
		return fmt.Errorf("finish archive %s: %w", name, err)
	}
	if err := pending.Commit(); err != nil {
		metrics.RecordArchiveBuild("error")
		return err
	}

	metrics.RecordArchiveBuild("ok")
	slog.Info("Archive ready", "name", name, "entries", len(entries))
	return nil
}

func addFile(zw *zip.Writer, e entry) error {
	f, err := os.Open(e.path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     e.name,
		Method:   zip.Deflate,
		Modified: info.ModTime(),
	})
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}

// entryNames hands out distinct entry names, suffixing repeats with " (n)".
type entryNames map[string]bool

func newEntryNames() entryNames {
	return make(entryNames)
}

func (n entryNames) unique(name string) string {
	if !n[name] {
		n[name] = true
		return name
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, i, ext)
		if !n[candidate] {
			n[candidate] = true
			return candidate
		}
	}
}
