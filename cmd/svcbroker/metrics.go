package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"svcbroker/internal/logger"
)

// metricsServer serves the Prometheus registry on /metrics.
type metricsServer struct {
	server   *http.Server
	listener net.Listener
	done     chan struct{}
}

// startMetricsServer listens on addr and serves in the background.
func startMetricsServer(addr string, gatherer prometheus.Gatherer) (*metricsServer, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}

	s := &metricsServer{
		server: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: ln,
		done:     make(chan struct{}),
	}

	log := logger.WithComponent("metrics")
	go func() {
		defer close(s.done)
		log.Info().Str("address", ln.Addr().String()).Msg("Metrics server listening")
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server failed")
		}
	}()
	return s, nil
}

// Addr returns the address the server is listening on.
func (s *metricsServer) Addr() string {
	return s.listener.Addr().String()
}

// Stop shuts the server down and waits for the serve loop to return.
func (s *metricsServer) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		log := logger.WithComponent("metrics")
		log.Error().Err(err).Msg("Metrics server shutdown error")
	}
	<-s.done
}
