// Package server wires the HTTP listener: TLS setup, the gateway's router,
// and the graceful-shutdown sequence (stop accepting, drain the HTTP
// server, then tear down the room engines).
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/obsliveshare/relay/internal/config"
	"github.com/obsliveshare/relay/internal/gateway"
	"github.com/obsliveshare/relay/internal/registry"
)

const shutdownTimeout = 10 * time.Second

// Server owns the process's single HTTP(S) listener.
type Server struct {
	cfg     config.ServerConfig
	gw      *gateway.Gateway
	httpSrv *http.Server
	log     *slog.Logger
}

// New builds a Server from cfg, serving gw's router.
func New(cfg config.ServerConfig, gw *gateway.Gateway, rateLimiter *registry.RateLimiter, log *slog.Logger) *Server {
	router := gw.Router(rateLimiter, cfg.CORSOrigin)
	return &Server{
		cfg: cfg,
		gw:  gw,
		log: log,
		httpSrv: &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Port),
			Handler: router,
		},
	}
}

// Run blocks serving HTTP(S) until ctx is cancelled, then drains
// connections and shuts down the room engines, per spec §4.3/§4.4's
// graceful-shutdown sequences.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.cfg.TLSCert != "" && s.cfg.TLSKey != "" {
			s.httpSrv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			s.log.Info("listening", "addr", s.httpSrv.Addr, "tls", true)
			err = s.httpSrv.ListenAndServeTLS(s.cfg.TLSCert, s.cfg.TLSKey)
		} else {
			s.log.Info("listening", "addr", s.httpSrv.Addr, "tls", false)
			err = s.httpSrv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		s.log.Error("http shutdown error", "err", err)
	}
	s.gw.Shutdown(shutdownCtx)
	return <-errCh
}
