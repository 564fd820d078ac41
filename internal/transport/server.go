// Package transport exposes the process health over gRPC.
package transport

import (
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service entry for the dispatch pipeline.
const ServiceName = "mapdispatch"

type Server struct {
	grpc   *grpc.Server
	health *health.Server
	lis    net.Listener
}

func StartServer(port int) (*Server, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, err
	}
	return newServer(lis), nil
}

func newServer(lis net.Listener) *Server {
	s := &Server{
		grpc:   grpc.NewServer(),
		health: health.NewServer(),
		lis:    lis,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.SetServing(true)
	return s
}

// SetServing flips both the overall and the pipeline status.
func (s *Server) SetServing(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

func (s *Server) Addr() net.Addr { return s.lis.Addr() }

func (s *Server) Serve() error {
	return s.grpc.Serve(s.lis)
}

// Stop reports NOT_SERVING to watchers, then drains in-flight RPCs.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
