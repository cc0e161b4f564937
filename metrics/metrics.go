// Copyright (c) 2024 Hemi Labs, Inc.
// Use of this source code is governed by the MIT License,
// which can be found in the LICENSE file.

// Package metrics runs a small always-on HTTP server exposing whatever
// Prometheus collectors its caller registers, mirroring the teacher's
// deucalion-backed wiring in service/tbc/tbc.go (Config.PrometheusListenAddress
// + a collectors slice passed into Run). The teacher's own deucalion package
// isn't part of this retrieval pack, so this is a from-scratch reconstruction
// of the same shape using prometheus/client_golang's promhttp handler
// directly, rather than a dependency whose current API this module has never
// actually seen.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/juju/loggo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var log = loggo.GetLogger("metrics")

// Config mirrors the single field the teacher's services expose for this
// concern. Server does not check for an empty ListenAddress itself;
// cmd/ipfs-json-to-csv leaves the server unstarted when it is empty.
type Config struct {
	ListenAddress string
}

// Server is the minimal HTTP+registry pair needed to expose collectors.
type Server struct {
	cfg      *Config
	registry *prometheus.Registry
}

// New validates cfg and prepares a Server; it does not bind a listener yet.
func New(cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	return &Server{
		cfg:      cfg,
		registry: prometheus.NewRegistry(),
	}, nil
}

// Run registers collectors and serves /metrics until ctx is canceled or the
// listener fails, matching the Run(ctx, collectors) shape of the teacher's
// deucalion.Run.
func (s *Server) Run(ctx context.Context, collectors []prometheus.Collector) error {
	for _, c := range collectors {
		if err := s.registry.Register(c); err != nil {
			return fmt.Errorf("register collector: %w", err)
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	l, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %v: %w", s.cfg.ListenAddress, err)
	}

	srv := &http.Server{Handler: mux}
	errC := make(chan error, 1)
	go func() {
		errC <- srv.Serve(l)
	}()

	log.Infof("metrics server listening on %v", s.cfg.ListenAddress)

	select {
	case <-ctx.Done():
		_ = srv.Close()
		return ctx.Err()
	case err := <-errC:
		if errors.Is(err, http.ErrServerClosed) {
			return context.Canceled
		}
		return err
	}
}
