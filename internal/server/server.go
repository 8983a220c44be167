// Package server exposes an entity store over HTTP/JSON.
//
// Unary operations are POSTs with a JSON body. Watches stream one JSON frame
// per line (NDJSON) and flush after every frame; the response stays open
// until the client goes away, the subscription fails, or the store shuts
// down.
package server

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/roach88/attrstore/internal/api"
	"github.com/roach88/attrstore/internal/engine"
)

// Version is reported by the ping endpoint.
const Version = "0.1.0"

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 16 << 20

// Server routes HTTP requests to a Store.
type Server struct {
	store    *engine.Store
	logger   *slog.Logger
	registry *prometheus.Registry
	origins  []string
	requests *prometheus.CounterVec
	router   chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithRegistry serves the registry's metrics on /metrics and records
// request counts into it. Without a registry /metrics is not mounted.
func WithRegistry(r *prometheus.Registry) Option {
	return func(s *Server) {
		s.registry = r
	}
}

// WithCORSOrigins allows browser clients from the given origins.
func WithCORSOrigins(origins ...string) Option {
	return func(s *Server) {
		s.origins = origins
	}
}

// New creates a Server for store.
func New(store *engine.Store, opts ...Option) *Server {
	s := &Server{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry != nil {
		s.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attrstore_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"})
		s.registry.MustRegister(s.requests)
	}
	s.router = s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if len(s.origins) > 0 {
		r.Use(cors.New(cors.Options{
			AllowedOrigins: s.origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost},
			AllowedHeaders: []string{"Content-Type"},
			ExposedHeaders: []string{api.HeaderSubscriptionID, api.HeaderSubscriptionStart},
		}).Handler)
	}
	r.Use(s.logRequests)

	r.Get(api.PathPing, s.handlePing)
	r.Post(api.PathAttributeTypes, s.handleCreateAttributeType)
	r.Post(api.PathGetEntity, s.handleGetEntity)
	r.Post(api.PathQueryEntities, s.handleQueryEntities)
	r.Post(api.PathUpdateEntity, s.handleUpdateEntity)
	r.Post(api.PathDeleteEntity, s.handleDeleteEntity)
	r.Post(api.PathWatchEntities, s.handleWatchEntities)
	r.Post(api.PathWatchEntityRows, s.handleWatchEntityRows)

	if s.registry != nil {
		r.Handle(api.PathMetrics, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, &engine.Error{Code: engine.CodeNotFound, Message: "no route for " + r.URL.Path})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", api.ContentTypeJSON)
		w.WriteHeader(http.StatusMethodNotAllowed)
		writeJSONBody(w, api.ErrorBody{Code: engine.CodeInvalidArgument, Message: r.Method + " not allowed"})
	})

	return r
}

// logRequests logs each request at debug, or at warn when it failed
// server-side, and counts it when metrics are enabled.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		attrs := []any{
			"method", r.Method,
			"route", route,
			"status", status,
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		}
		if status >= http.StatusInternalServerError {
			s.logger.Warn("request failed", attrs...)
		} else {
			s.logger.Debug("request", attrs...)
		}
		if s.requests != nil {
			s.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		}
	})
}
