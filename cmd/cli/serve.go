package cli

import (
	"context"
	"net"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/turtacn/secstate/internal/application/bootstrap"
	"github.com/turtacn/secstate/internal/config"
	grpcsecurity "github.com/turtacn/secstate/internal/interfaces/grpc"
	httpserver "github.com/turtacn/secstate/internal/interfaces/http"
	"github.com/turtacn/secstate/pkg/logger"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the diagnostics API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, loader, log, err := loadConfig(opts)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, loader, log)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, loader *config.Loader, log logger.Logger) error {
	app, err := bootstrap.New(ctx, cfg, log, bootstrap.Options{})
	if err != nil {
		return err
	}
	defer app.Close(context.Background())

	if cfg.CSP.Watch && loader.ConfigFile() != "" {
		app.WatchCSP(ctx, loader)
	}

	router := httpserver.NewRouter(httpserver.RouterDependencies{
		Config:   &cfg.Server,
		Security: &cfg.Security,
		Manager:  app.Manager,
		Health:   app.Health,
		Gatherer: app.Registry,
		Tracer:   app.Tracing.Tracer(),
		Metrics:  app.Metrics,
		Logger:   log.WithComponent("http"),
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.StartServer(ctx, router, &cfg.Server, log)
	})
	if cfg.Server.GRPCPort != 0 {
		g.Go(func() error {
			return serveGRPC(ctx, app, cfg, log.WithComponent("grpc"))
		})
	}
	return g.Wait()
}

// serveGRPC exposes the standard gRPC health service behind the abuse guard
// and the diagnostics rate limit.
func serveGRPC(ctx context.Context, app *bootstrap.App, cfg *config.Config, log logger.Logger) error {
	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr())
	if err != nil {
		return err
	}
	policy := cfg.Security.GuardPolicy(httpserver.DiagnosticsRateLimitKey)
	chain := grpcsecurity.NewInterceptorChain(log, app.Manager, httpserver.DiagnosticsRateLimitKey, policy)
	srv := grpc.NewServer(chain.ChainUnaryInterceptors())
	healthpb.RegisterHealthServer(srv, health.NewServer())

	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()
	log.Info(ctx, "starting grpc health server", logger.Fields{"address": lis.Addr().String()})
	return srv.Serve(lis)
}
