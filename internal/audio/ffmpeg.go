// Package audio invokes FFmpeg to produce the archival and preview renditions
// of a track.
package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os/exec"
	"strconv"
	"strings"
	"time"
	"unicode"
)

var (
	ErrInvalidSource = errors.New("invalid source url")
	ErrInvalidLength = errors.New("invalid track length")
)

// Only network inputs are accepted; this keeps file:, concat: and friends
// out of reach of untrusted URLs.
const protocolWhitelist = "http,https,tcp,tls,crypto"

const maxStderrBytes = 8 << 10

// FFmpegError wraps FFmpeg command errors with additional context
type FFmpegError struct {
	Cmd    string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %s\nCommand: %s\nOutput: %s", e.Err, e.Cmd, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}

// ExitCode returns the process exit code, or -1 if the process did not exit normally.
func (e *FFmpegError) ExitCode() int {
	var exitErr *exec.ExitError
	if errors.As(e.Err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// newFFmpegError creates a new FFmpegError with truncated command line
func newFFmpegError(cmd *exec.Cmd, stderr string, err error) *FFmpegError {
	cmdStr := cmd.String()
	if len(cmdStr) > 200 {
		cmdStr = cmdStr[:200] + "..."
	}
	return &FFmpegError{
		Cmd:    cmdStr,
		Stderr: stderr,
		Err:    err,
	}
}

type Options struct {
	Binary         string
	AudioCodec     string // "aac" or "copy"
	AudioBitrate   string
	PreviewBitrate string
	PreviewSeconds int
	SegmentSeconds int
}

type FFmpeg struct {
	opts Options
}

func NewFFmpeg(opts Options) *FFmpeg {
	if opts.Binary == "" {
		opts.Binary = "ffmpeg"
	}
	if opts.AudioCodec == "" {
		opts.AudioCodec = "aac"
	}
	if opts.PreviewSeconds <= 0 {
		opts.PreviewSeconds = 10
	}
	if opts.SegmentSeconds <= 0 {
		opts.SegmentSeconds = 2
	}
	return &FFmpeg{opts: opts}
}

// Archival muxes the source audio with the cover image and writes a tagged
// m4a truncated to the track length.
func (f *FFmpeg) Archival(ctx context.Context, p ArchivalParams) error {
	slog.Debug("Producing archival audio", "output", p.OutputPath, "length", p.Length)

	args, err := f.archivalArgs(p)
	if err != nil {
		return fmt.Errorf("archival: %w", err)
	}
	return f.run(ctx, args)
}

// Preview writes a short audio-only HLS clip starting at the middle of the track.
func (f *FFmpeg) Preview(ctx context.Context, p PreviewParams) error {
	slog.Debug("Producing preview stream", "playlist", p.PlaylistPath, "start", PreviewStart(p.Length))

	args, err := f.previewArgs(p)
	if err != nil {
		return fmt.Errorf("preview: %w", err)
	}
	return f.run(ctx, args)
}

// PreviewStart is the offset in seconds where the preview begins.
func PreviewStart(length int) int {
	return length / 2
}

func (f *FFmpeg) archivalArgs(p ArchivalParams) ([]string, error) {
	if err := validateSource(p.SourceURL); err != nil {
		return nil, err
	}
	if p.CoverURL != "" {
		if err := validateSource(p.CoverURL); err != nil {
			return nil, fmt.Errorf("cover: %w", err)
		}
	}
	if p.Length <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLength, p.Length)
	}

	args := commonArgs()
	args = append(args, "-protocol_whitelist", protocolWhitelist, "-i", p.SourceURL)
	if p.CoverURL != "" {
		args = append(args,
			"-protocol_whitelist", protocolWhitelist, "-i", p.CoverURL,
			"-map", "0:a:0",
			"-map", "1:v:0",
			"-c:v", "mjpeg",
			"-disposition:v:0", "attached_pic",
		)
	} else {
		args = append(args, "-map", "0:a:0", "-vn")
	}

	if f.opts.AudioCodec == "copy" {
		args = append(args, "-c:a", "copy")
	} else {
		args = append(args, "-c:a", f.opts.AudioCodec)
		if f.opts.AudioBitrate != "" {
			args = append(args, "-b:a", f.opts.AudioBitrate)
		}
	}

	// Each tag is a single argv element, so its value can never be parsed
	// as another option.
	args = append(args,
		"-t", strconv.Itoa(p.Length),
		"-metadata", "title="+sanitizeTag(p.Title),
		"-metadata", "artist="+sanitizeTag(p.Artist),
		"-movflags", "+faststart",
		"-f", "mp4",
		p.OutputPath,
	)
	return args, nil
}

func (f *FFmpeg) previewArgs(p PreviewParams) ([]string, error) {
	if err := validateSource(p.SourceURL); err != nil {
		return nil, err
	}
	if p.Length <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLength, p.Length)
	}

	args := commonArgs()
	args = append(args,
		"-ss", strconv.Itoa(PreviewStart(p.Length)),
		"-protocol_whitelist", protocolWhitelist, "-i", p.SourceURL,
		"-t", strconv.Itoa(f.opts.PreviewSeconds),
		"-vn",
		"-c:a", "aac",
	)
	if f.opts.PreviewBitrate != "" {
		args = append(args, "-b:a", f.opts.PreviewBitrate)
	}
	args = append(args,
		"-f", "hls",
		"-hls_time", strconv.Itoa(f.opts.SegmentSeconds),
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", p.SegmentPattern,
		p.PlaylistPath,
	)
	return args, nil
}

func commonArgs() []string {
	return []string{"-hide_banner", "-nostdin", "-loglevel", "error", "-y"}
}

func (f *FFmpeg) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, f.opts.Binary, args...)
	stderr := &tailBuffer{max: maxStderrBytes}
	cmd.Stderr = stderr
	// Children that inherit stderr must not keep Wait blocked after a kill.
	cmd.WaitDelay = 5 * time.Second

	slog.Debug("Executing ffmpeg", "args", strings.Join(args, " "))

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ffErr := newFFmpegError(cmd, stderr.String(), err)
		slog.Error("ffmpeg failed", "exit_code", ffErr.ExitCode(), "stderr", ffErr.Stderr)
		return ffErr
	}
	return nil
}

func validateSource(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q not allowed", ErrInvalidSource, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidSource)
	}
	return nil
}

// sanitizeTag drops control characters so tag values stay on one line and
// never contain NUL, which exec rejects.
func sanitizeTag(s string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s))
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	max int
	buf []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	return strings.TrimSpace(string(b.buf))
}
