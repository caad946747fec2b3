package trackcache

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/grafov/m3u8"

	"github.com/jaki95/tunecache/internal/pathguard"
)

var ErrIncomplete = errors.New("incomplete artifacts")

// verify checks that a staging directory holds a non-empty archival file and
// a closed VOD playlist whose segments are all present next to it.
func verify(dir string) error {
	info, err := os.Stat(filepath.Join(dir, ArchivalFile))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIncomplete, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%w: empty %s", ErrIncomplete, ArchivalFile)
	}

	f, err := os.Open(filepath.Join(dir, PlaylistFile))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIncomplete, err)
	}
	defer f.Close()

	p, listType, err := m3u8.DecodeFrom(bufio.NewReader(f), true)
	if err != nil {
		return fmt.Errorf("%w: parse playlist: %v", ErrIncomplete, err)
	}
	if listType != m3u8.MEDIA {
		return fmt.Errorf("%w: playlist is not a media playlist", ErrIncomplete)
	}
	media := p.(*m3u8.MediaPlaylist)
	if !media.Closed {
		return fmt.Errorf("%w: playlist has no end tag", ErrIncomplete)
	}

	segments := 0
	for _, seg := range media.Segments {
		if seg == nil {
			continue
		}
		if err := pathguard.ValidateSegment(seg.URI); err != nil {
			return fmt.Errorf("%w: segment %q: %v", ErrIncomplete, seg.URI, err)
		}
		if _, err := os.Stat(filepath.Join(dir, seg.URI)); err != nil {
			return fmt.Errorf("%w: %v", ErrIncomplete, err)
		}
		segments++
	}
	if segments == 0 {
		return fmt.Errorf("%w: playlist has no segments", ErrIncomplete)
	}
	return nil
}
