// Package grpcserver runs the RPC listener with admission control
// installed as a unary interceptor.
package grpcserver

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	healthsvc "google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/coursekit/admission/internal/log"
	"github.com/coursekit/admission/internal/xerrors"
)

type Options struct {
	Logger      log.Logger
	Port        int
	Interceptor grpc.UnaryServerInterceptor

	// Register adds application services to the server before it starts
	// listening. The health service is always registered.
	Register func(*grpc.Server)
}

// Start the RPC server
// Returns stop(ctx) for graceful shutdown
func Start(ctx context.Context, opts *Options) (func(context.Context) error, error) {
	addr := fmt.Sprintf(":%d", opts.Port)

	var serverOpts []grpc.ServerOption
	if opts.Interceptor != nil {
		serverOpts = append(serverOpts, grpc.ChainUnaryInterceptor(opts.Interceptor))
	}
	srv := grpc.NewServer(serverOpts...)

	hs := healthsvc.NewServer()
	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	grpc_health_v1.RegisterHealthServer(srv, hs)

	if opts.Register != nil {
		opts.Register(srv)
	}

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp4", addr)

	if err != nil {
		return nil, xerrors.EnsureTrace(err)
	}

	go func() {
		opts.Logger.Info(ctx, "grpc server listening", "addr", addr)
		if err := srv.Serve(ln); err != nil {
			opts.Logger.Error(ctx, err, "grpc server error")
		}
	}()

	var once sync.Once
	stop := func(sctx context.Context) error {
		once.Do(func() {
			opts.Logger.Info(sctx, "grpc server shutting down")
			hs.Shutdown() // flips health to NOT_SERVING so LBs drain first

			done := make(chan struct{})
			go func() {
				srv.GracefulStop()
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				srv.Stop()
			case <-sctx.Done():
				srv.Stop()
			}
		})
		return nil
	}
	return stop, nil
}
