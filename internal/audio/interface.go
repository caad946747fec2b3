package audio

import (
	"context"
)

// Transcoder produces the derived artifacts of a single track. Both calls are
// independent subprocess invocations and may run concurrently.
type Transcoder interface {
	Archival(ctx context.Context, p ArchivalParams) error
	Preview(ctx context.Context, p PreviewParams) error
}

// ArchivalParams describes the full-length tagged audio file with embedded cover.
type ArchivalParams struct {
	SourceURL  string
	CoverURL   string
	Title      string
	Artist     string
	Length     int
	OutputPath string
}

// PreviewParams describes the short HLS rendition taken from the middle of the track.
type PreviewParams struct {
	SourceURL      string
	Length         int
	PlaylistPath   string
	SegmentPattern string
}
