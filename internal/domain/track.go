package domain

import (
	"strings"
	"unicode"
)

// Metadata describes a track as reported by the catalog. Every text field is
// untrusted and must not reach a shell or a filesystem path unescaped.
type Metadata struct {
	Length    int    `json:"length"`
	Title     string `json:"title"`
	Authors   string `json:"authors"`
	Thumbnail string `json:"thumbnail"`
}

// State is the lifecycle position of a track or archive.
type State string

const (
	StateAbsent     State = "absent"
	StateInProgress State = "in_progress"
	StateFailed     State = "failed"
	StateReady      State = "ready"
)

// Status is what callers poll while waiting for an artifact.
type Status struct {
	State State  `json:"status"`
	Error string `json:"error,omitempty"`
}

// DisplayFilename is the name a track's archival file carries inside bundles.
func DisplayFilename(meta Metadata, ext string) string {
	name := strings.TrimSpace(meta.Title)
	if authors := strings.TrimSpace(meta.Authors); authors != "" {
		name = authors + " - " + name
	}
	return SanitizeFilename(name) + "." + ext
}

// SanitizeFilename replaces characters that are invalid in filenames on common
// platforms and strips control characters.
func SanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsControl(r):
			continue
		case strings.ContainsRune(`/\:*?"<>|`, r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}

	result := strings.Trim(b.String(), " .")
	if len(result) > 200 {
		result = strings.TrimRight(truncateUTF8(result, 200), " .")
	}
	if result == "" {
		result = "untitled"
	}
	return result
}

func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

func utf8RuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
