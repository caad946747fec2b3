package server

import (
	"github.com/jaki95/tunecache/internal/domain"
)

// ArchiveRequest is the body of POST /api/archive.
type ArchiveRequest struct {
	Songs []string `json:"songs" binding:"required"`
}

// ArchiveResponse names the bundle that will hold the requested tracks.
type ArchiveResponse struct {
	Filename string       `json:"filename"`
	Status   domain.State `json:"status,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// ErrorResponse represents a generic error payload used for error responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse reports liveness and the amount of background work.
type HealthResponse struct {
	Status         string `json:"status"`
	TracksInFlight int    `json:"tracks_in_flight"`
}
