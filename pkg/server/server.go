package server

import (
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/adfharrison1/docbind/pkg/api"
)

// RequestIDHeader carries the id assigned to every request.
const RequestIDHeader = "X-Request-ID"

// Server holds references to the router and API handler.
type Server struct {
	router  *mux.Router
	handler *api.Handler
	logger  *log.Logger
}

type Option func(*Server)

func WithLogger(logger *log.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a new instance of Server.
func NewServer(handler *api.Handler, options ...Option) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		handler: handler,
		logger:  log.Default(),
	}
	for _, option := range options {
		option(s)
	}

	s.handler.RegisterRoutes(s.router)

	// Use the logging middleware for all routes
	s.router.Use(s.requestLoggerMiddleware)

	// Customize NotFoundHandler to log 404s
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Printf("WARN: No route found for %s %s", r.Method, r.URL.Path)
		api.WriteJSONError(w, http.StatusNotFound, "no route for "+r.Method+" "+r.URL.Path)
	})

	return s
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// requestLoggerMiddleware tags each request with an id and logs the method,
// URL path, status and duration.
func (s *Server) requestLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Printf("INFO: [%s] Request %s %s -> %d took %s", id, r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}

// Router exposes the internal mux.Router.
func (s *Server) Router() http.Handler {
	return s.router
}
