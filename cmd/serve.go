// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/canonical/license-service/internal/config"
	"github.com/canonical/license-service/internal/db"
	"github.com/canonical/license-service/internal/identity"
	"github.com/canonical/license-service/internal/logging"
	"github.com/canonical/license-service/internal/monitoring/prometheus"
	"github.com/canonical/license-service/internal/tracing"
	"github.com/canonical/license-service/pkg/authentication"
	"github.com/canonical/license-service/pkg/subscriptions"
	"github.com/canonical/license-service/pkg/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve starts the web server",
	Long:  `Launch the web application, list of environment variables is available in the readme`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := serve(); err != nil {
			fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func loadSpecs() *config.EnvSpec {
	specs := new(config.EnvSpec)
	if err := envconfig.Process("", specs); err != nil {
		panic(fmt.Errorf("issues with environment sourcing: %s", err))
	}
	return specs
}

func newDBClient(specs *config.EnvSpec, tracer tracing.TracingInterface, monitor *prometheus.Monitor, logger logging.LoggerInterface) (*db.DBClient, error) {
	dbConfig := db.Config{
		DSN:             specs.DSN,
		MaxConns:        specs.DBMaxConns,
		MinConns:        specs.DBMinConns,
		MaxConnLifetime: specs.DBMaxConnLifetime,
		MaxConnIdleTime: specs.DBMaxConnIdleTime,
		TracingEnabled:  specs.TracingEnabled,
	}

	dbClient, err := db.NewDBClient(dbConfig, tracer, monitor, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create database client: %v", err)
	}
	return dbClient, nil
}

func newAuthenticationMiddleware(ctx context.Context, specs *config.EnvSpec, tracer tracing.TracingInterface, monitor *prometheus.Monitor, logger logging.LoggerInterface) (func(http.Handler) http.Handler, error) {
	if !specs.AuthenticationEnabled {
		logger.Info("Authentication is disabled, trusting the identity header")
		return nil, nil
	}

	verifier, err := authentication.NewJWTAuthenticator(
		ctx,
		specs.OIDCIssuer,
		specs.OIDCJWKSURL,
		specs.OIDCAllowedSubjects,
		specs.OIDCRequiredScope,
		tracer,
		monitor,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create JWT authenticator: %w", err)
	}

	logger.Info("Authentication is enabled")
	return authentication.NewMiddleware(verifier, tracer, monitor, logger).Authenticate(), nil
}

func serve() error {
	specs := loadSpecs()

	logger := logging.NewLogger(specs.LogLevel)
	logger.Debugf("env vars: %v", specs)
	defer logger.Sync()

	monitor := prometheus.NewMonitor("license-service", logger)
	tracer := tracing.NewTracer(tracing.NewConfig(specs.TracingEnabled, specs.OtelGRPCEndpoint, specs.OtelHTTPEndpoint, logger))

	dbClient, err := newDBClient(specs, tracer, monitor, logger)
	if err != nil {
		return err
	}
	defer dbClient.Close()

	app, err := newApplication(specs, dbClient, tracer, monitor, logger)
	if err != nil {
		return err
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	authn, err := newAuthenticationMiddleware(ctx, specs, tracer, monitor, logger)
	if err != nil {
		return err
	}

	// Start gRPC health server
	lis, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%v", specs.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen on grpc port: %v", err)
	}

	healthServer := health.NewServer()
	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	go func() {
		logger.Infof("Starting gRPC server on port %v", specs.GRPCPort)
		if err := grpcServer.Serve(lis); err != nil {
			logger.Errorf("failed to serve gRPC: %v", err)
		}
	}()

	go subscriptions.NewSweeper(app.subscriptions, specs.SweepInterval, logger).Run(ctx)

	router := web.NewRouter(
		app.apis(specs, tracer, monitor, logger),
		dbClient,
		web.Middlewares{
			Authentication: authn,
			Identity:       identity.NewMiddleware(tracer, monitor, logger).HTTPMiddleware,
		},
		tracer,
		monitor,
		logger,
	)
	logger.Infof("Starting HTTP server on port %v", specs.Port)

	srv := &http.Server{
		Addr:         fmt.Sprintf("0.0.0.0:%v", specs.Port),
		WriteTimeout: time.Second * 60,
		ReadTimeout:  time.Second * 15,
		IdleTimeout:  time.Second * 60,
		Handler:      router,
	}

	var serverError error
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Security().SystemStartup()
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverError = fmt.Errorf("server error: %w", err)
			c <- os.Interrupt
		}
	}()

	<-c

	// Create a deadline to wait for.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	logger.Security().SystemShutdown()
	healthServer.Shutdown()
	stop()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		serverError = fmt.Errorf("server shutdown error: %w", err)
	}
	grpcServer.GracefulStop()

	return serverError
}
