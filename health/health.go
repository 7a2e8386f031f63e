package health

import (
	"net"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is reported alongside the overall ("") status
const ServiceName = "exchange.Gateway"

// Server exposes the gRPC health checking protocol
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	logger log.Logger
}

// NewServer returns a Server reporting NOT_SERVING until SetServing is called.
func NewServer(logger log.Logger) *Server {
	s := &Server{
		grpc:   grpc.NewServer(),
		health: health.NewServer(),
		logger: logger,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.SetServing(false)
	return s
}

// SetServing flips the reported status of the gateway.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	level.Info(s.logger).Log("msg", "health status", "status", status)
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	level.Info(s.logger).Log("msg", "grpc health listening", "addr", lis.Addr())
	return s.grpc.Serve(lis)
}

// Stop reports NOT_SERVING to watchers and then stops gracefully.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
