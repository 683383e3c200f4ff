package grpc

import (
	"context"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the name reported to health checks for the whole service.
const ServiceName = "settlement.v1.SettlementService"

// Server exposes the standard gRPC health protocol so orchestrators and other
// go_cart services can health-check this one the same way they check each other.
type Server struct {
	srv    *grpc.Server
	health *health.Server
}

func NewServer(opts ...grpc.ServerOption) *Server {
	srv := grpc.NewServer(opts...)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	// Enable reflection for grpcurl/grpcui
	reflection.Register(srv)

	s := &Server{srv: srv, health: hs}
	s.SetServing(false)
	return s
}

func (s *Server) Serve(lis net.Listener) error {
	return s.srv.Serve(lis)
}

// SetServing flips both the overall and the named service status.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Shutdown reports NOT_SERVING and stops gracefully, forcing a stop when ctx
// expires first.
func (s *Server) Shutdown(ctx context.Context) {
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.srv.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		s.srv.Stop()
	}
}
