// Package server serves the HTTP API and a gRPC health endpoint on one
// listener. Connections are split by protocol with cmux.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/soheilhy/cmux"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the name reported by the gRPC health service alongside the
// overall ("") status.
const ServiceName = "eventrisk.Assessor"

// Server owns the HTTP and gRPC servers sharing a listener.
type Server struct {
	http   *http.Server
	grpc   *grpc.Server
	health *health.Server
	logger *slog.Logger

	// ShutdownTimeout bounds graceful shutdown of both servers.
	ShutdownTimeout time.Duration
}

// New wraps handler. Timeouts follow the API's needs: generation steps run
// detached, so no request waits on the AI backend for long.
func New(handler http.Handler, logger *slog.Logger) *Server {
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	reflection.Register(gs)

	return &Server{
		http: &http.Server{
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		grpc:            gs,
		health:          hs,
		logger:          logger,
		ShutdownTimeout: 20 * time.Second,
	}
}

// Serve accepts on ln until ctx is cancelled or a server fails, then shuts
// both servers down. It returns nil after a shutdown caused by ctx.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	m := cmux.New(ln)
	grpcL := m.MatchWithWriters(cmux.HTTP2MatchHeaderFieldSendSettings("content-type", "application/grpc"))
	httpL := m.Match(cmux.Any())

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := s.grpc.Serve(grpcL); err != nil && gctx.Err() == nil {
			return goerr.Wrap(err, "grpc serve")
		}
		return nil
	})
	g.Go(func() error {
		if err := s.http.Serve(httpL); err != nil && !errors.Is(err, http.ErrServerClosed) && gctx.Err() == nil {
			return goerr.Wrap(err, "http serve")
		}
		return nil
	})
	g.Go(func() error {
		if err := m.Serve(); err != nil && gctx.Err() == nil {
			return goerr.Wrap(err, "listener mux")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.shutdown()
		m.Close()
		return nil
	})

	s.logger.Info("server: listening", "addr", ln.Addr().String())
	return g.Wait()
}

func (s *Server) shutdown() {
	s.logger.Info("server: shutting down")
	s.health.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		s.logger.Warn("server: http shutdown", "error", err)
	}

	stopped := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpc.Stop()
	}
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return goerr.Wrap(err, "listen", goerr.V("addr", addr))
	}
	return s.Serve(ctx, ln)
}
