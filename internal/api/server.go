// Package api exposes a small HTTP surface for health checks and
// operational status.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"deal-radar/internal/platform"
	"deal-radar/internal/publish"
	"deal-radar/internal/storage"
	"deal-radar/internal/version"
)

// statusStore is the read surface the status endpoint needs.
type statusStore interface {
	storage.PlatformStore
	storage.ItemStore
}

// Options configure the HTTP server.
type Options struct {
	Listen    string
	Platforms []platform.Code
}

// Server serves /health and /status.
type Server struct {
	opts  Options
	store statusStore
	gate  *publish.Gate
	log   zerolog.Logger
	http  *http.Server
}

// NewServer builds the server and its routes.
func NewServer(store statusStore, gate *publish.Gate, opts Options, log zerolog.Logger) *Server {
	s := &Server{
		opts:  opts,
		store: store,
		gate:  gate,
		log:   log.With().Str("component", "api").Logger(),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/health", s.health)
	router.GET("/status", s.status)

	s.http = &http.Server{
		Addr:              opts.Listen,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("listen", s.opts.Listen).Msg("http server starting")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": version.Version,
	})
}

func (s *Server) status(c *gin.Context) {
	ctx := c.Request.Context()
	platforms := make([]gin.H, 0, len(s.opts.Platforms))
	for _, code := range s.opts.Platforms {
		p, err := s.store.EnsurePlatform(ctx, string(code), code.Name())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		count, err := s.store.CountItems(ctx, p.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		platforms = append(platforms, gin.H{
			"code":  string(code),
			"name":  code.Name(),
			"items": count,
		})
	}

	used, max := s.gate.WindowUsage()
	c.JSON(http.StatusOK, gin.H{
		"platforms": platforms,
		"publishing": gin.H{
			"window_used": used,
			"window_max":  max,
		},
	})
}
