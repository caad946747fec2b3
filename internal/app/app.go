// Package app builds the dependency graph shared by the server and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jaki95/tunecache/config"
	"github.com/jaki95/tunecache/internal/archive"
	"github.com/jaki95/tunecache/internal/audio"
	"github.com/jaki95/tunecache/internal/catalog"
	"github.com/jaki95/tunecache/internal/pathguard"
	"github.com/jaki95/tunecache/internal/resolver"
	"github.com/jaki95/tunecache/internal/storage"
	"github.com/jaki95/tunecache/internal/trackcache"
)

// Container holds the wired services.
type Container struct {
	Config   *config.Config
	Catalog  catalog.Catalog
	Tracks   *trackcache.Cache
	Archives *archive.Builder
	Guard    *pathguard.Guard

	closers []func() error
}

// Wire builds every service from cfg.
func Wire(ctx context.Context, cfg *config.Config) (*Container, error) {
	res := resolver.NewClient(cfg.Resolver.URL, resolver.Options{
		APIKey:            cfg.Resolver.APIKey,
		Timeout:           cfg.Resolver.Timeout,
		RequestsPerSecond: cfg.Resolver.RequestsPerSecond,
	})

	transcoder := audio.NewFFmpeg(audio.Options{
		Binary:         cfg.Transcoder.FFmpegPath,
		AudioCodec:     cfg.Transcoder.AudioCodec,
		AudioBitrate:   cfg.Transcoder.AudioBitrate,
		PreviewBitrate: cfg.Transcoder.PreviewBitrate,
		PreviewSeconds: cfg.Transcoder.PreviewSeconds,
		SegmentSeconds: cfg.Transcoder.SegmentSeconds,
	})

	tracks, err := trackcache.New(trackcache.Options{
		Dir:              cfg.Cache.Dir,
		MaxTrackSeconds:  cfg.Cache.MaxTrackSeconds,
		MaxConcurrent:    cfg.Cache.MaxConcurrentTracks,
		TranscodeTimeout: cfg.Cache.TranscodeTimeout,
		FailureCooldown:  *cfg.Cache.FailureCooldown,
	}, res, transcoder)
	if err != nil {
		return nil, fmt.Errorf("failed to create track cache: %w", err)
	}

	guard, err := pathguard.New(tracks.TracksDir())
	if err != nil {
		return nil, fmt.Errorf("failed to create path guard: %w", err)
	}

	c := &Container{
		Config: cfg,
		Catalog: catalog.NewCached(catalog.NewPageCatalog(cfg.Catalog.WatchURL, catalog.Options{
			UserAgent: cfg.Catalog.UserAgent,
			Timeout:   cfg.Catalog.Timeout,
		}), cfg.Catalog.CacheTTL),
		Tracks: tracks,
		Guard:  guard,
	}

	store, err := c.newStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	c.Archives = archive.NewBuilder(store, tracks, *cfg.Cache.FailureCooldown, cfg.Cache.TranscodeTimeout)

	return c, nil
}

func (c *Container) newStore(ctx context.Context, cfg config.StorageConfig) (storage.ArchiveStore, error) {
	switch cfg.Type {
	case "gcs":
		store, err := storage.NewGCSStore(ctx, cfg.GCS.Bucket, cfg.GCS.Prefix, cfg.GCS.CredentialsFile)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, store.Close)
		slog.Info("Using GCS archive storage", "bucket", cfg.GCS.Bucket, "prefix", cfg.GCS.Prefix)
		return store, nil
	default:
		store, err := storage.NewLocalStore(cfg.ArchiveDir)
		if err != nil {
			return nil, err
		}
		slog.Info("Using local archive storage", "dir", cfg.ArchiveDir)
		return store, nil
	}
}

// Drain waits for in-flight tracks first, then archives.
func (c *Container) Drain(ctx context.Context) error {
	return errors.Join(c.Tracks.Drain(ctx), c.Archives.Drain(ctx))
}

func (c *Container) Close() error {
	var errs []error
	for _, fn := range c.closers {
		errs = append(errs, fn())
	}
	return errors.Join(errs...)
}
