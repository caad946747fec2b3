package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jaki95/tunecache/internal/archive"
	"github.com/jaki95/tunecache/internal/domain"
	"github.com/jaki95/tunecache/internal/job"
	"github.com/jaki95/tunecache/internal/pathguard"
	"github.com/jaki95/tunecache/internal/storage"
)

// createArchive handles POST /api/archive. The filename is returned at once;
// clients poll the archive status or the download URL.
func (s *Server) createArchive(c *gin.Context) {
	var req ArchiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request format"})
		return
	}

	name, err := s.deps.Archives.Ensure(c.Request.Context(), req.Songs)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, ArchiveResponse{Filename: name})
	case errors.Is(err, job.ErrCoolingDown):
		c.JSON(http.StatusOK, ArchiveResponse{Filename: name, Status: domain.StateFailed, Error: err.Error()})
	case errors.Is(err, archive.ErrEmptyRequest), errors.Is(err, pathguard.ErrInvalidSegment):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	default:
		slog.Error("Failed to start archive", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to start archive"})
	}
}

func (s *Server) archiveStatus(c *gin.Context) {
	st, err := s.deps.Archives.Status(c.Request.Context(), c.Param("name"))
	if err != nil {
		if errors.Is(err, archive.ErrInvalidName) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
		slog.Error("Failed to read archive status", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to read archive status"})
		return
	}
	c.JSON(http.StatusOK, st)
}

// downloadArchive handles GET /api/dl/:id where id is a bundle filename.
func (s *Server) downloadArchive(c *gin.Context) {
	name := c.Param("id")

	obj, err := s.deps.Archives.Open(c.Request.Context(), name)
	if err != nil {
		switch {
		case errors.Is(err, archive.ErrInvalidName):
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		case errors.Is(err, storage.ErrNotExist):
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "not found"})
		default:
			slog.Error("Failed to open archive", "name", name, "error", err)
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to open archive"})
		}
		return
	}
	defer obj.Close()

	c.DataFromReader(http.StatusOK, obj.Size, "application/zip", obj, map[string]string{
		"Content-Disposition": `attachment; filename="` + name + `"`,
	})
}
