// Package server owns HTTP lifecycle: mux construction, the middleware
// chain, the websocket hub, and graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/engram-memory/engram/internal/api"
	"github.com/engram-memory/engram/internal/assemble"
	"github.com/engram-memory/engram/internal/config"
	"github.com/engram-memory/engram/internal/engine"
)

// shutdownGrace bounds how long in-flight requests may run after a stop
// signal.
const shutdownGrace = 10 * time.Second

// Server is the HTTP front of the subsystem.
type Server struct {
	httpServer *http.Server
	hub        *api.Hub
	log        zerolog.Logger
}

// New builds the server, wires the event hub into the engine, and installs
// the middleware chain.
func New(cfg *config.Config, e *engine.Engine, a *assemble.Assembler, log zerolog.Logger) *Server {
	hub := api.NewHub(log)
	e.SetBroadcast(hub.Broadcast)

	mux := http.NewServeMux()
	api.NewHandler(e, a, hub, log).Register(mux)

	var handler http.Handler = mux
	handler = api.RequireAuth(cfg.Security, handler)
	handler = api.RateLimit(50, 100, handler)
	handler = api.SecurityHeaders(handler)

	addr := net.JoinHostPort(cfg.Server.Host, fmt.Sprintf("%d", cfg.Server.Port))
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		hub: hub,
		log: log,
	}
}

// Run serves until ctx is cancelled, then drains connections gracefully.
func (s *Server) Run(ctx context.Context) error {
	go s.hub.Run()

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.hub.Shutdown()
		return err
	case <-ctx.Done():
	}

	s.log.Info().Msg("shutting down http server")
	s.hub.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
