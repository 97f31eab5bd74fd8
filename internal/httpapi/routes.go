// Package httpapi serves the tendency service over HTTP with gin.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/muffinbran/pitch-tendency-analyzer/internal/db"
	"github.com/muffinbran/pitch-tendency-analyzer/internal/tendency"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Service is what the HTTP handlers call. *tendency.Service satisfies it.
type Service interface {
	Submit(ctx context.Context, p tendency.SessionPayload) (tendency.Ack, error)
	Tendencies(ctx context.Context, filter db.InstrumentFilter) ([]tendency.Summary, error)
	Instruments(ctx context.Context) ([]tendency.Instrument, error)
	DeleteSession(ctx context.Context, id string) error
}

// Options configures NewRouter.
type Options struct {
	// AllowedOrigins lists origins allowed by CORS. "*" allows any.
	AllowedOrigins []string
	// Logger receives one line per request. Nil uses slog.Default().
	Logger *slog.Logger
	// Metrics serves /metrics. Nil uses promhttp.Handler().
	Metrics http.Handler
}

// NewRouter builds the gin engine with every route and middleware installed.
func NewRouter(svc Service, opts Options) *gin.Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}

	router := gin.New()
	router.Use(gin.Recovery(), RequestID(), RequestLogger(logger), CORS(opts.AllowedOrigins))
	SetupRoutes(router, svc, metrics)
	return router
}

// SetupRoutes registers the API on router.
func SetupRoutes(router *gin.Engine, svc Service, metrics http.Handler) {
	router.GET("/health", HealthCheck)
	router.GET("/metrics", gin.WrapH(metrics))

	api := router.Group("/api")
	{
		api.GET("/tendencies", GetTendencies(svc))
		api.GET("/instruments", ListInstruments(svc))

		sessions := api.Group("/sessions")
		{
			sessions.POST("", SubmitSession(svc))
			sessions.DELETE("/:sessionId", DeleteSession(svc))
		}
	}
}

// Serve runs handler on addr until ctx is cancelled, then shuts down
// gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
