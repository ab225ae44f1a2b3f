// Package grpc exposes the standard gRPC health service so orchestrators can
// probe the server over the same port family as the other back-office tools.
package grpc

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/dmitrijs2005/fermentstation/internal/logging"
)

// ServiceName is the service reported next to the overall ("") status.
const ServiceName = "fermentstation.Backoffice"

const (
	defaultCheckInterval = 10 * time.Second
	checkTimeout         = 2 * time.Second
)

type GRPCServer struct {
	address  string
	logger   logging.Logger
	health   *health.Server
	ping     func(ctx context.Context) error
	interval time.Duration
}

// NewGRPCServer builds a server listening on address. ping is polled every
// interval to derive the serving status; a nil ping always reports SERVING.
func NewGRPCServer(address string, l logging.Logger, ping func(ctx context.Context) error, interval time.Duration) *GRPCServer {
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	return &GRPCServer{
		address:  address,
		logger:   l.With("module", "grpc_server"),
		health:   health.NewServer(),
		ping:     ping,
		interval: interval,
	}
}

func (s *GRPCServer) newServer() *grpc.Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.recoveryInterceptor, s.loggingInterceptor))
	healthpb.RegisterHealthServer(srv, s.health)
	return srv
}

func (s *GRPCServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.serve(ctx, listen)
}

func (s *GRPCServer) serve(ctx context.Context, listen net.Listener) error {
	srv := s.newServer()

	s.check(ctx)
	go s.watch(ctx)

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		s.health.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil {
		return err
	}
	return nil
}

func (s *GRPCServer) watch(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.check(ctx)
		}
	}
}

// check pings the dependency and publishes the result for both service names.
func (s *GRPCServer) check(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	if s.ping != nil {
		pctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := s.ping(pctx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn(ctx, "health check failed", "error", err)
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}
