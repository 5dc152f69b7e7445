// Package server exposes the local status API: queue statistics, dead
// letter management and the recent activity feed. It binds to
// loopback; it is an operator surface, not a public endpoint.
package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rezonia/nfe-collector/internal/outbox"
	"github.com/rezonia/nfe-collector/internal/pipeline"
)

// Config holds server configuration
type Config struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Debug        bool
}

// Server represents the status API server
type Server struct {
	config   *Config
	router   *gin.Engine
	queue    *outbox.Queue
	activity *pipeline.ActivityLog
	started  time.Time
}

// NewServer creates a new status API server over the shared queue and
// activity feed.
func NewServer(config *Config, queue *outbox.Queue, activity *pipeline.ActivityLog) *Server {
	if !config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if config.Debug {
		router.Use(gin.Logger())
	}

	s := &Server{
		config:   config,
		router:   router,
		queue:    queue,
		activity: activity,
		started:  time.Now().UTC(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// Health check
	s.router.GET("/health", s.handleHealth)

	// API v1
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/queue/stats", s.handleQueueStats)
		v1.GET("/queue/deadletter", s.handleDeadLetters)
		v1.GET("/queue/deadletter/:id", s.handleDeadLetter)
		v1.POST("/queue/deadletter/:id/requeue", s.handleRequeue)
		v1.GET("/activity", s.handleActivity)
	}
}

// Run starts the HTTP server
func (s *Server) Run() error {
	srv := &http.Server{
		Addr:         s.config.Address,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	return srv.ListenAndServe()
}

// Handler returns the http.Handler for use with custom servers
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleQueueStats(c *gin.Context) {
	stats, err := s.queue.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleDeadLetters(c *gin.Context) {
	items, err := s.queue.DeadLetters(c.Request.Context(), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]DeadLetterResponse, len(items))
	for i, item := range items {
		out[i] = toDeadLetterResponse(item, false)
	}
	c.JSON(http.StatusOK, gin.H{"items": out, "count": len(out)})
}

func (s *Server) handleDeadLetter(c *gin.Context) {
	item, err := s.queue.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, outbox.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "dead letter not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if item.Status != outbox.StatusDeadLetter {
		c.JSON(http.StatusNotFound, gin.H{"error": "item is not dead-lettered"})
		return
	}
	c.JSON(http.StatusOK, toDeadLetterResponse(*item, true))
}

func (s *Server) handleRequeue(c *gin.Context) {
	id := c.Param("id")
	if err := s.queue.Requeue(c.Request.Context(), id); err != nil {
		if errors.Is(err, outbox.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "dead letter not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": string(outbox.StatusPending)})
}

func (s *Server) handleActivity(c *gin.Context) {
	entries := s.activity.Entries()
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}
