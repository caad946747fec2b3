// Package server exposes the track cache and archive builder over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jaki95/tunecache/internal/catalog"
	"github.com/jaki95/tunecache/internal/domain"
	"github.com/jaki95/tunecache/internal/pathguard"
	"github.com/jaki95/tunecache/internal/storage"
)

// Tracks is the track cache as seen by the handlers.
type Tracks interface {
	Ensure(id string, meta domain.Metadata) (domain.Status, error)
	IsReady(id string) bool
	Status(id string) domain.Status
	InFlight() []string
}

// Archives is the archive builder as seen by the handlers.
type Archives interface {
	Ensure(ctx context.Context, ids []string) (string, error)
	Status(ctx context.Context, name string) (domain.Status, error)
	Open(ctx context.Context, name string) (*storage.Object, error)
}

type Deps struct {
	Catalog  catalog.Catalog
	Tracks   Tracks
	Archives Archives
	Guard    *pathguard.Guard
}

// Server handles HTTP requests for tracks and archives
type Server struct {
	deps   Deps
	router *gin.Engine

	mu         sync.Mutex
	httpServer *http.Server
}

// New creates a new HTTP server instance
func New(deps Deps) *Server {
	router := gin.New()
	router.Use(gin.Recovery(), requestID(), requestLogger())

	s := &Server{
		deps:   deps,
		router: router,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.router.Group("/api")
	{
		api.POST("/dl", s.requestTrack)
		api.GET("/dl/:id", s.downloadArchive)
		api.GET("/dl/:id/*file", s.serveTrackFile)
		api.GET("/tracks/:id/status", s.trackStatus)
		api.POST("/archive", s.createArchive)
		api.GET("/archive/:name/status", s.archiveStatus)
	}
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on port until Shutdown is called.
func (s *Server) Start(port string) error {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	slog.Info("HTTP server listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:         "ok",
		TracksInFlight: len(s.deps.Tracks.InFlight()),
	})
}
