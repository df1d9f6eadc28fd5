// Package gatewayserver wires the Browser Session Handler into an HTTP
// server, following the teacher's dashboard.Server shape (chi router,
// recoverer/real-IP middleware, graceful shutdown).
package gatewayserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/nixfleet-labs/homebase-gateway/internal/browser"
)

// Server is the gateway's browser-facing HTTP/WS surface (spec §4.H).
type Server struct {
	log        zerolog.Logger
	addr       string
	router     *chi.Mux
	httpServer *http.Server
}

// New wires the router. handler serves the /ws endpoint.
func New(log zerolog.Logger, listenAddr string, handler *browser.Handler) *Server {
	s := &Server{
		log:  log.With().Str("component", "gateway-server").Logger(),
		addr: listenAddr,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/ws", handler.ServeHTTP)
	r.Post("/admin/devices", handler.HandleAddDevice)

	s.router = r
	return s
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Run starts the HTTP server and blocks until it exits.
func (s *Server) Run() error {
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.router,
	}
	s.log.Info().Str("addr", s.addr).Msg("starting browser server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
