// Package trackcache produces and caches the derived artifacts of a track:
// the archival m4a and the HLS preview. Work for a track id runs at most once
// at a time and its results only become visible once complete.
package trackcache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/jaki95/tunecache/internal/audio"
	"github.com/jaki95/tunecache/internal/domain"
	"github.com/jaki95/tunecache/internal/job"
	"github.com/jaki95/tunecache/internal/metrics"
	"github.com/jaki95/tunecache/internal/pathguard"
	"github.com/jaki95/tunecache/internal/resolver"
)

var (
	ErrTooLarge = errors.New("track exceeds maximum length")
	ErrNotReady = errors.New("track not ready")
)

// File names inside a track directory.
const (
	ArchivalFile   = "audio.m4a"
	PlaylistFile   = "hls.m3u8"
	SegmentPattern = "segment_%03d.ts"
	FilenameFile   = "filename.txt"
)

const (
	tracksDir  = "tracks"
	stagingDir = "staging"

	DefaultMaxTrackSeconds = 1200
)

type Options struct {
	Dir              string
	MaxTrackSeconds  int
	MaxConcurrent    int
	TranscodeTimeout time.Duration
	FailureCooldown  time.Duration
}

// Cache owns <dir>/tracks/<id>/ and <dir>/staging/.
type Cache struct {
	opts       Options
	tracks     string
	staging    string
	resolver   resolver.Resolver
	transcoder audio.Transcoder
	jobs       *job.Manager
	sem        *semaphore.Weighted
}

func New(opts Options, r resolver.Resolver, t audio.Transcoder) (*Cache, error) {
	if opts.MaxTrackSeconds <= 0 {
		opts.MaxTrackSeconds = DefaultMaxTrackSeconds
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	if opts.TranscodeTimeout <= 0 {
		opts.TranscodeTimeout = 10 * time.Minute
	}

	c := &Cache{
		opts:       opts,
		tracks:     filepath.Join(opts.Dir, tracksDir),
		staging:    filepath.Join(opts.Dir, stagingDir),
		resolver:   r,
		transcoder: t,
		jobs:       job.NewManager("track", opts.FailureCooldown),
		sem:        semaphore.NewWeighted(int64(opts.MaxConcurrent)),
	}
	for _, dir := range []string{c.tracks, c.staging} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return c, nil
}

// TracksDir is the root under which every ready track has its own directory.
func (c *Cache) TracksDir() string {
	return c.tracks
}

// Ensure starts producing the artifacts for id unless they are ready or
// already being produced. It never waits for the work itself.
// Tracks longer than the configured maximum are rejected with ErrTooLarge
// before anything else happens.
func (c *Cache) Ensure(id string, meta domain.Metadata) (domain.Status, error) {
	if err := pathguard.ValidateSegment(id); err != nil {
		return domain.Status{}, err
	}
	if meta.Length > c.opts.MaxTrackSeconds {
		metrics.RecordAdmissionRejection()
		slog.Warn("Rejected oversized track", "id", id, "length", meta.Length, "max", c.opts.MaxTrackSeconds)
		return domain.Status{}, fmt.Errorf("%w: %d > %d seconds", ErrTooLarge, meta.Length, c.opts.MaxTrackSeconds)
	}
	if c.IsReady(id) {
		return domain.Status{State: domain.StateReady}, nil
	}

	outcome, err := c.jobs.Start(id, func() error {
		return c.produce(id, meta)
	})
	if err != nil {
		return domain.Status{State: domain.StateFailed, Error: err.Error()}, err
	}
	if outcome == job.Started {
		slog.Info("Started track", "id", id, "length", meta.Length)
	}
	return domain.Status{State: domain.StateInProgress}, nil
}

// IsReady reports whether both the archival file and the preview playlist of id exist.
// Track directories only appear by atomic rename of a complete attempt, so once
// true this stays true.
func (c *Cache) IsReady(id string) bool {
	if pathguard.ValidateSegment(id) != nil {
		return false
	}
	dir := filepath.Join(c.tracks, id)
	for _, name := range []string{PlaylistFile, ArchivalFile} {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil || !info.Mode().IsRegular() {
			return false
		}
	}
	return true
}

func (c *Cache) Status(id string) domain.Status {
	if c.IsReady(id) {
		return domain.Status{State: domain.StateReady}
	}
	switch phase, err := c.jobs.State(id); phase {
	case job.PhaseRunning:
		return domain.Status{State: domain.StateInProgress}
	case job.PhaseFailed:
		return domain.Status{State: domain.StateFailed, Error: err.Error()}
	default:
		return domain.Status{State: domain.StateAbsent}
	}
}

// Archival returns the path of the archival file of a ready track and the
// display filename recorded for it.
func (c *Cache) Archival(id string) (string, string, error) {
	if !c.IsReady(id) {
		return "", "", fmt.Errorf("%w: %s", ErrNotReady, id)
	}
	dir := filepath.Join(c.tracks, id)

	name := id + ".m4a"
	if data, err := os.ReadFile(filepath.Join(dir, FilenameFile)); err == nil {
		if s := strings.TrimSpace(string(data)); s != "" {
			name = s
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", "", fmt.Errorf("read display filename of %s: %w", id, err)
	}
	return filepath.Join(dir, ArchivalFile), name, nil
}

// Wait blocks until the in-flight attempt for id ends. It returns
// job.ErrNotFound if nothing is running.
func (c *Cache) Wait(ctx context.Context, id string) error {
	return c.jobs.Wait(ctx, id)
}

// Drain waits for every in-flight attempt to finish.
func (c *Cache) Drain(ctx context.Context) error {
	return c.jobs.Drain(ctx)
}

// InFlight lists the ids currently being produced.
func (c *Cache) InFlight() []string {
	return c.jobs.Running()
}

// Sweep removes staging directories left behind by a previous process.
// It must only be called before any Ensure.
func (c *Cache) Sweep() error {
	entries, err := os.ReadDir(c.staging)
	if err != nil {
		return fmt.Errorf("read staging directory: %w", err)
	}
	var errs []error
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(c.staging, e.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	if len(entries) > 0 {
		slog.Info("Swept staging directory", "removed", len(entries))
	}
	return errors.Join(errs...)
}

// produce runs one attempt: resolve, transcode both renditions into a fresh
// staging directory, verify, then rename the directory into place.
func (c *Cache) produce(id string, meta domain.Metadata) error {
	// Another attempt may have committed between the caller's check and Start.
	if c.IsReady(id) {
		return nil
	}

	done := metrics.TrackInFlight("track")
	defer done()

	if err := c.sem.Acquire(context.Background(), 1); err != nil {
		return err
	}
	defer c.sem.Release(1)

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.TranscodeTimeout)
	defer cancel()

	src, err := c.resolver.Resolve(ctx, id)
	if err != nil {
		metrics.RecordTranscode("resolve_error", time.Since(start))
		return fmt.Errorf("resolve %s: %w", id, err)
	}

	// Staging names must not grow with the id, which may already use the
	// whole name length the filesystem allows.
	stage := filepath.Join(c.staging, uuid.NewString())
	if err := os.Mkdir(stage, 0o755); err != nil {
		metrics.RecordTranscode("commit_error", time.Since(start))
		return fmt.Errorf("create staging directory: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if err := os.RemoveAll(stage); err != nil {
				slog.Warn("Failed to remove staging directory", "path", stage, "error", err)
			}
		}
	}()

	// Both renditions always run to completion; one failing does not cancel the other.
	var g errgroup.Group
	g.Go(func() error {
		return c.transcoder.Archival(ctx, audio.ArchivalParams{
			SourceURL:  src.URL,
			CoverURL:   meta.Thumbnail,
			Title:      meta.Title,
			Artist:     meta.Authors,
			Length:     meta.Length,
			OutputPath: filepath.Join(stage, ArchivalFile),
		})
	})
	g.Go(func() error {
		return c.transcoder.Preview(ctx, audio.PreviewParams{
			SourceURL:      src.URL,
			Length:         meta.Length,
			PlaylistPath:   filepath.Join(stage, PlaylistFile),
			SegmentPattern: filepath.Join(stage, SegmentPattern),
		})
	})
	if err := g.Wait(); err != nil {
		metrics.RecordTranscode("transcode_error", time.Since(start))
		return fmt.Errorf("transcode %s: %w", id, err)
	}

	if err := renameio.WriteFile(filepath.Join(stage, FilenameFile), []byte(domain.DisplayFilename(meta, "m4a")), 0o644); err != nil {
		metrics.RecordTranscode("commit_error", time.Since(start))
		return fmt.Errorf("write display filename: %w", err)
	}

	if err := verify(stage); err != nil {
		metrics.RecordTranscode("commit_error", time.Since(start))
		return fmt.Errorf("verify %s: %w", id, err)
	}

	if err := c.commit(id, stage); err != nil {
		metrics.RecordTranscode("commit_error", time.Since(start))
		return fmt.Errorf("commit %s: %w", id, err)
	}
	committed = true

	metrics.RecordTranscode("ok", time.Since(start))
	slog.Info("Track ready", "id", id, "duration", time.Since(start))
	return nil
}

func (c *Cache) commit(id, stage string) error {
	final := filepath.Join(c.tracks, id)

	// Only this attempt may write id, so anything already at final is a
	// leftover that never became ready.
	if _, err := os.Lstat(final); err == nil {
		slog.Warn("Replacing incomplete track directory", "id", id)
		if err := os.RemoveAll(final); err != nil {
			return err
		}
	}
	return os.Rename(stage, final)
}
