// Package health exposes the standard gRPC health checking service so
// orchestrators can probe whether the bridge can reach its hosted model.
package health

import (
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Server serves grpc.health.v1.Health for one named service.
type Server struct {
	service  string
	grpc     *grpc.Server
	health   *health.Server
	listener net.Listener
	logger   *zap.Logger
}

// Listen binds addr. The service starts as NOT_SERVING.
func Listen(addr, service string, logger *zap.Logger) (*Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	hs := health.NewServer()
	hs.SetServingStatus(service, healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	return &Server{
		service:  service,
		grpc:     gs,
		health:   hs,
		listener: lis,
		logger:   logger.Named("grpc_health"),
	}, nil
}

// Addr is the bound address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve blocks until Stop is called.
func (s *Server) Serve() error {
	s.logger.Info("gRPC health listening", zap.String("addr", s.listener.Addr().String()))
	return s.grpc.Serve(s.listener)
}

// SetServing flips the reported status of the service and the server as a whole.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(s.service, status)
	s.health.SetServingStatus("", status)
}

// Stop marks everything NOT_SERVING and stops the gRPC server gracefully.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
