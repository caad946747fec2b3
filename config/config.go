package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel int `yaml:"log_level"`

	Server     ServerConfig     `yaml:"server"`
	Cache      CacheConfig      `yaml:"cache"`
	Transcoder TranscoderConfig `yaml:"transcoder"`
	Resolver   ResolverConfig   `yaml:"resolver"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	Storage    StorageConfig    `yaml:"storage"`
}

type ServerConfig struct {
	Port            string        `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type CacheConfig struct {
	// Root of the track cache. Track artifact sets live under <dir>/tracks.
	Dir string `yaml:"dir"`

	// Tracks longer than this are rejected before any work is started.
	MaxTrackSeconds int `yaml:"max_track_seconds"`

	// Upper bound on tracks transcoding at once. Each track runs two ffmpeg processes.
	MaxConcurrentTracks int `yaml:"max_concurrent_tracks"`

	TranscodeTimeout time.Duration `yaml:"transcode_timeout"`

	// How long a failed track or archive is reported as failed before the
	// next request is allowed to retry it. An explicit 0 retries at once.
	FailureCooldown *time.Duration `yaml:"failure_cooldown"`
}

type TranscoderConfig struct {
	FFmpegPath     string `yaml:"ffmpeg_path"`
	AudioCodec     string `yaml:"audio_codec"`
	AudioBitrate   string `yaml:"audio_bitrate"`
	PreviewBitrate string `yaml:"preview_bitrate"`
	PreviewSeconds int    `yaml:"preview_seconds"`
	SegmentSeconds int    `yaml:"segment_seconds"`
}

type ResolverConfig struct {
	URL               string        `yaml:"url"`
	APIKey            string        `yaml:"api_key"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

type CatalogConfig struct {
	WatchURL  string        `yaml:"watch_url"`
	UserAgent string        `yaml:"user_agent"`
	Timeout   time.Duration `yaml:"timeout"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

type StorageConfig struct {
	// Type of archive storage: "local" or "gcs"
	Type string `yaml:"type"`

	// Local storage options
	ArchiveDir string `yaml:"archive_dir"`

	GCS GCSConfig `yaml:"gcs"`
}

type GCSConfig struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	CredentialsFile string `yaml:"credentials_file"`
}

// Environment variables that override values from the config file.
const (
	EnvResolverURL    = "TUNECACHE_RESOLVER_URL"
	EnvResolverAPIKey = "TUNECACHE_RESOLVER_API_KEY"
	EnvCacheDir       = "TUNECACHE_CACHE_DIR"
)

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config *Config

	// Unmarshal the YAML data into the struct
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, err
	}
	if config == nil {
		config = &Config{}
	}

	config.applyEnv()
	config.SetDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvResolverURL); v != "" {
		c.Resolver.URL = v
	}
	if v := os.Getenv(EnvResolverAPIKey); v != "" {
		c.Resolver.APIKey = v
	}
	if v := os.Getenv(EnvCacheDir); v != "" {
		c.Cache.Dir = v
	}
}

// SetDefaults fills every unset field with its default.
func (c *Config) SetDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}

	if c.Cache.Dir == "" {
		c.Cache.Dir = "dl"
	}
	if c.Cache.MaxTrackSeconds == 0 {
		c.Cache.MaxTrackSeconds = 1200
	}
	if c.Cache.MaxConcurrentTracks == 0 {
		c.Cache.MaxConcurrentTracks = 2
	}
	if c.Cache.TranscodeTimeout == 0 {
		c.Cache.TranscodeTimeout = 10 * time.Minute
	}
	if c.Cache.FailureCooldown == nil {
		cooldown := 30 * time.Second
		c.Cache.FailureCooldown = &cooldown
	}

	if c.Transcoder.FFmpegPath == "" {
		c.Transcoder.FFmpegPath = "ffmpeg"
	}
	if c.Transcoder.AudioCodec == "" {
		c.Transcoder.AudioCodec = "aac"
	}
	if c.Transcoder.AudioBitrate == "" {
		c.Transcoder.AudioBitrate = "192k"
	}
	if c.Transcoder.PreviewBitrate == "" {
		c.Transcoder.PreviewBitrate = "128k"
	}
	if c.Transcoder.PreviewSeconds == 0 {
		c.Transcoder.PreviewSeconds = 10
	}
	if c.Transcoder.SegmentSeconds == 0 {
		c.Transcoder.SegmentSeconds = 2
	}

	if c.Resolver.URL == "" {
		c.Resolver.URL = "http://localhost:9000"
	}
	if c.Resolver.Timeout == 0 {
		c.Resolver.Timeout = 15 * time.Second
	}
	if c.Resolver.RequestsPerSecond == 0 {
		c.Resolver.RequestsPerSecond = 5
	}

	if c.Catalog.WatchURL == "" {
		c.Catalog.WatchURL = "https://www.youtube.com/watch"
	}
	if c.Catalog.Timeout == 0 {
		c.Catalog.Timeout = 15 * time.Second
	}
	if c.Catalog.CacheTTL == 0 {
		c.Catalog.CacheTTL = 10 * time.Minute
	}

	if c.Storage.Type == "" {
		c.Storage.Type = "local"
	}
	if c.Storage.ArchiveDir == "" {
		c.Storage.ArchiveDir = filepath.Join(c.Cache.Dir, "archives")
	}
}

func (c *Config) Validate() error {
	var errs []error

	if c.Cache.MaxTrackSeconds < 0 {
		errs = append(errs, fmt.Errorf("cache.max_track_seconds must not be negative"))
	}
	if c.Cache.MaxConcurrentTracks < 0 {
		errs = append(errs, fmt.Errorf("cache.max_concurrent_tracks must not be negative"))
	}
	if c.Cache.FailureCooldown != nil && *c.Cache.FailureCooldown < 0 {
		errs = append(errs, fmt.Errorf("cache.failure_cooldown must not be negative"))
	}

	switch c.Transcoder.AudioCodec {
	case "aac", "copy":
	default:
		errs = append(errs, fmt.Errorf("transcoder.audio_codec must be aac or copy, got %q", c.Transcoder.AudioCodec))
	}

	switch c.Storage.Type {
	case "local":
	case "gcs":
		if c.Storage.GCS.Bucket == "" {
			errs = append(errs, fmt.Errorf("storage.gcs.bucket is required for gcs storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.type %q", c.Storage.Type))
	}

	return errors.Join(errs...)
}
