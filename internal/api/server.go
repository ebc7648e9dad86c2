package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"xdigest/internal/metrics"
	"xdigest/pkg/logger"
	"xdigest/pkg/ratelimit"
	"xdigest/pkg/scraper"
)

// Runner executes digest runs
type Runner interface {
	Run(ctx context.Context, req scraper.RunRequest) (*scraper.RunResult, error)
}

// QuotaChecker reports a user's admission state without recording anything
type QuotaChecker interface {
	Admit(ctx context.Context, userID string) (ratelimit.Admission, error)
}

// Artifacts maps digest names to files
type Artifacts interface {
	Path(name string) (string, error)
}

// Pinger checks a backing service
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the HTTP API
type Handler struct {
	Runner    Runner
	Quota     QuotaChecker
	Artifacts Artifacts
	DB        Pinger
	Logger    logger.Logger
}

// NewRouter registers every route on a new engine
func NewRouter(h *Handler) *gin.Engine {
	if h.Logger == nil {
		h.Logger = logger.GetLogger()
	}
	h.Logger = h.Logger.WithField("component", "api")

	r := gin.New()
	r.Use(gin.Recovery(), h.requestLogger())

	r.GET("/health", h.HealthCheckHandler)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := r.Group("/v1")
	v1.POST("/digests", h.CreateDigestHandler)
	v1.GET("/digests/:name", h.DownloadDigestHandler)
	v1.GET("/users/:id/quota", h.QuotaHandler)

	return r
}

func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.Logger.DebugWithFields("Request handled", map[string]interface{}{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start),
		})
	}
}

// Serve runs the router on addr until ctx is done, then shuts down gracefully
func Serve(ctx context.Context, addr string, readTimeout, writeTimeout time.Duration, router http.Handler, log logger.Logger) error {
	log = logger.OrGlobal(log)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: readTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.LogComponentStart(log, "api", map[string]interface{}{"addr": addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	logger.LogComponentStop(log, "api", "context cancelled")
	return err
}
