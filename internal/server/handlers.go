package server

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jaki95/tunecache/internal/catalog"
	"github.com/jaki95/tunecache/internal/domain"
	"github.com/jaki95/tunecache/internal/job"
	"github.com/jaki95/tunecache/internal/pathguard"
	"github.com/jaki95/tunecache/internal/trackcache"
)

var contentTypes = map[string]string{
	".m3u8": "application/vnd.apple.mpegurl",
	".ts":   "video/mp2t",
	".m4a":  "audio/mp4",
	".txt":  "text/plain; charset=utf-8",
}

// requestTrack handles POST /api/dl?id=. It answers immediately: 200 when the
// track is ready, 202 while it is being produced, 403 when it is too long and
// 503 while a recent failure cools down.
func (s *Server) requestTrack(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: ErrMissingID.Error()})
		return
	}
	if err := pathguard.ValidateSegment(id); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	slog.Info("Received dl request", "id", id)

	if s.deps.Tracks.IsReady(id) {
		c.JSON(http.StatusOK, domain.Status{State: domain.StateReady})
		return
	}

	st, err := s.ensure(c, id)
	if err != nil {
		s.writeEnsureError(c, st, err)
		return
	}
	if st.State == domain.StateReady {
		c.JSON(http.StatusOK, st)
		return
	}
	c.JSON(http.StatusAccepted, st)
}

// ensure looks up metadata and hands the track to the cache.
func (s *Server) ensure(c *gin.Context, id string) (domain.Status, error) {
	meta, err := s.deps.Catalog.Metadata(c.Request.Context(), id)
	if err != nil {
		return domain.Status{}, fmt.Errorf("metadata for %s: %w", id, err)
	}
	return s.deps.Tracks.Ensure(id, meta)
}

func (s *Server) writeEnsureError(c *gin.Context, st domain.Status, err error) {
	switch {
	case errors.Is(err, trackcache.ErrTooLarge):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: err.Error()})
	case errors.Is(err, job.ErrCoolingDown):
		c.JSON(http.StatusServiceUnavailable, st)
	case errors.Is(err, catalog.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case errors.Is(err, pathguard.ErrInvalidSegment):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	default:
		slog.Error("Failed to start track", "error", err)
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: err.Error()})
	}
}

// serveTrackFile handles GET /api/dl/:id/*file. A request for a missing
// playlist also starts producing the track, so players can poll the playlist
// URL directly.
func (s *Server) serveTrackFile(c *gin.Context) {
	id := c.Param("id")
	file := strings.TrimPrefix(c.Param("file"), "/")

	path, err := s.deps.Guard.Resolve(id, file)
	if err != nil {
		slog.Warn("Rejected file request", "id", id, "file", file, "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Error("Failed to stat track file", "path", path, "error", err)
		}
		if file == trackcache.PlaylistFile {
			if _, err := s.ensure(c, id); errors.Is(err, trackcache.ErrTooLarge) {
				c.JSON(http.StatusForbidden, ErrorResponse{Error: err.Error()})
				return
			} else if err != nil && !errors.Is(err, job.ErrCoolingDown) {
				slog.Warn("Could not start track from playlist request", "id", id, "error", err)
			}
		}
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not found"})
		return
	}

	if ct, ok := contentTypes[filepath.Ext(path)]; ok {
		c.Header("Content-Type", ct)
	}
	c.File(path)
}

func (s *Server) trackStatus(c *gin.Context) {
	id := c.Param("id")
	if err := pathguard.ValidateSegment(id); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.deps.Tracks.Status(id))
}
