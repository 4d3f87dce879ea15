// Package api exposes the process controller over HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/spherical/module-creator/internal/events"
	"github.com/spherical/module-creator/internal/observability"
	"github.com/spherical/module-creator/internal/process"
)

// Config holds router settings.
type Config struct {
	// MaxUploadBytes caps the size of an uploaded document.
	MaxUploadBytes int64
	// RunContext is the parent context of background runs. Runs outlive
	// the request that started them, so it should live as long as the
	// server.
	RunContext context.Context
}

// Server holds the HTTP handlers.
type Server struct {
	ctrl   *process.Controller
	broker *events.Broker
	log    *observability.Logger
	cfg    Config
}

// NewServer creates the handler set.
func NewServer(logger *observability.Logger, ctrl *process.Controller, broker *events.Broker, cfg Config) *Server {
	if logger == nil {
		logger = observability.Nop()
	}
	if cfg.RunContext == nil {
		cfg.RunContext = context.Background()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 32 << 20
	}
	return &Server{
		ctrl:   ctrl,
		broker: broker,
		log:    logger.WithComponent("api"),
		cfg:    cfg,
	}
}

// NewRouter creates the API router with all routes configured.
func NewRouter(s *Server) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", s.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/runs", s.CreateRun)
		r.Get("/state", s.State)
		r.Get("/events", s.Events)
		r.Get("/document", s.Document)
	})

	return r
}

// requestLogger logs each request with its chi request id.
func requestLogger(log *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ctx := observability.ContextWithRequestID(r.Context(), chimiddleware.GetReqID(r.Context()))
			r = r.WithContext(ctx)

			defer func() {
				log.WithContext(ctx).Debug().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Int("bytes", ww.BytesWritten()).
					Msg("request")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
