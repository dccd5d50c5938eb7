// Package grpcapi exposes a gRPC health endpoint for load balancers and
// orchestration probes.
package grpcapi

import (
	"context"
	"database/sql"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Server runs the standard gRPC health service and keeps its status in sync
// with database reachability.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	db     *sql.DB
	log    *zap.Logger
	done   chan struct{}
}

func New(db *sql.DB, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		grpc:   grpc.NewServer(),
		health: health.NewServer(),
		db:     db,
		log:    log,
		done:   make(chan struct{}),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	return s
}

// Serve listens on addr and probes the database every interval, flipping
// the reported status on change. It blocks until Stop is called or the
// listener fails.
func (s *Server) Serve(addr string, interval time.Duration) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}

	go s.watch(interval)

	s.log.Info("grpc health server listening", zap.String("addr", addr))
	return s.grpc.Serve(lis)
}

func (s *Server) watch(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.probe()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.probe()
		}
	}
}

func (s *Server) probe() {
	status := healthpb.HealthCheckResponse_SERVING
	if s.db != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			s.log.Warn("database probe failed", zap.Error(err))
		}
	}
	s.health.SetServingStatus("", status)
}

// Stop drains in-flight RPCs and shuts the server down.
func (s *Server) Stop() {
	close(s.done)
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
