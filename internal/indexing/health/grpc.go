package health

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// GRPCServer exposes the standard gRPC health service. The empty service
// name reflects the whole system; each component is also served under its
// own name.
type GRPCServer struct {
	monitor  *Monitor
	addr     string
	interval time.Duration
	server   *grpc.Server
	health   *grpchealth.Server
	log      *slog.Logger
}

// NewGRPCServer creates a health server listening on port.
func NewGRPCServer(monitor *Monitor, port int, log *slog.Logger) *GRPCServer {
	if log == nil {
		log = slog.Default()
	}
	srv := grpc.NewServer()
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	return &GRPCServer{
		monitor:  monitor,
		addr:     fmt.Sprintf(":%d", port),
		interval: 10 * time.Second,
		server:   srv,
		health:   hs,
		log:      log.With("component", "grpc_health"),
	}
}

// Start serves until ctx is done.
func (s *GRPCServer) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go s.refreshLoop(ctx)
	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		s.server.GracefulStop()
	}()

	s.log.Info("gRPC health server listening", "addr", s.addr)
	if err := s.server.Serve(lis); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (s *GRPCServer) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}

// Refresh pushes the current report into the health service.
func (s *GRPCServer) Refresh(ctx context.Context) {
	report := s.monitor.CheckHealth(ctx)
	s.health.SetServingStatus("", servingStatus(report.SystemStatus))
	for name, c := range report.Components {
		s.health.SetServingStatus(name, servingStatus(c.Status))
	}
}

// Check answers a health check in-process.
func (s *GRPCServer) Check(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := s.health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

func servingStatus(s SystemStatus) healthpb.HealthCheckResponse_ServingStatus {
	if s == StatusCritical {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	return healthpb.HealthCheckResponse_SERVING
}
