package api

import (
	"context"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/planpath/planpath/internal/config"
	"github.com/planpath/planpath/pkg/cerr"
	"github.com/planpath/planpath/pkg/clog"
)

type Server struct {
	server   *http.Server
	env      *config.Env
	handlers *Handlers
}

func NewServer(env *config.Env, handlers *Handlers) *Server {
	return &Server{
		env:      env,
		handlers: handlers,
	}
}

// ListenAndServe starts the HTTP server. The provided context is used as the
// base context for all incoming requests; cancelling it also cancels open
// event streams so shutdown does not wait for them.
func (s *Server) ListenAndServe(ctx context.Context) error {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(
				clog.SlogChiMiddleware(),
				cerr.NewJSONResponseChiMiddleware(),
			)
			r.NotFound(func(w http.ResponseWriter, r *http.Request) {
				cerr.SetNewJSONError(r.Context(), cerr.NotFound, "not found", nil)
			})
			s.handlers.Routes(r)
		})
		// SSE writes its body incrementally and skips the JSON middleware.
		r.With(clog.SlogChiMiddleware()).Get("/events", s.handlers.StreamEvents)
	})

	mux := http.NewServeMux()
	mux.Handle("/health", &HealthChecker{})
	mux.Handle("/api/", r)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"*"},
	}).Handler(mux)

	addr := net.JoinHostPort(s.env.HTTPHost, s.env.HTTPPort)
	s.server = &http.Server{
		Addr:        addr,
		Handler:     h2c.NewHandler(corsHandler, &http2.Server{}),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

type HealthChecker struct{}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
