package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/modeltree/internal/api"
	"github.com/signalsfoundry/modeltree/internal/config"
	"github.com/signalsfoundry/modeltree/internal/logging"
	"github.com/signalsfoundry/modeltree/internal/observability"
	"github.com/signalsfoundry/modeltree/timectrl"
)

func newServeCmd(a *app) *cobra.Command {
	var grpcAddr, metricsAddr, modelPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the structure API for a simulation, running it alongside",
		RunE: func(cmd *cobra.Command, args []string) error {
			if grpcAddr != "" {
				a.cfg.Server.GRPCAddr = grpcAddr
			}
			if cmd.Flags().Changed("metrics-addr") {
				a.cfg.Server.MetricsAddr = metricsAddr
			}
			if modelPath != "" {
				a.cfg.Simulation.Model = modelPath
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, a.cfg, a.log, nil)
		},
	}
	cmd.Flags().StringVar(&grpcAddr, "grpc-addr", "", "TCP address the gRPC server listens on")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "HTTP address for Prometheus /metrics; empty disables it")
	cmd.Flags().StringVar(&modelPath, "model", "", "model file to load")
	cmd.Flags().IntVar(&a.steps, "steps", -1, "timesteps to run; 0 runs until shutdown")
	return cmd
}

// serve runs the gRPC server, the metrics endpoint and the simulation until
// ctx is done or one of them fails. ready, when set, receives the gRPC
// listen address.
func serve(ctx context.Context, cfg config.Config, log logging.Logger, ready chan<- net.Addr) error {
	shutdownTracing, err := observability.InitTracing(ctx, cfg.TracingSetup(), log)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	reg := prometheus.NewRegistry()
	apiMetrics, structureMetrics, err := newCollectors(reg)
	if err != nil {
		return err
	}

	s, err := buildSimulation(cfg, log, structureMetrics)
	if err != nil {
		return err
	}

	server := api.NewServer(api.NewStructureService(s, log), log, apiMetrics)
	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return err
	}
	if ready != nil {
		ready <- lis.Addr()
	}

	var metricsSrv *http.Server
	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", apiMetrics.Handler())
		metricsSrv = &http.Server{
			Addr:              cfg.Server.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info(gctx, "serving structure API", logging.String("addr", lis.Addr().String()))
		return server.Serve(lis)
	})

	if metricsSrv != nil {
		g.Go(func() error {
			log.Info(gctx, "serving Prometheus metrics", logging.String("addr", metricsSrv.Addr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	mode, _ := timectrl.ParseMode(cfg.Simulation.Mode)
	if cfg.Simulation.Steps > 0 || mode == timectrl.RealTime {
		g.Go(func() error {
			return s.Run(gctx, cfg.Simulation.Steps)
		})
	} else {
		// An unbounded accelerated run would never yield; serve the tree
		// for editing only.
		log.Info(gctx, "simulation not started; set steps or realtime mode to run it")
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info(context.Background(), "shutting down")
		server.GracefulStop()
		if metricsSrv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}
		return nil
	})

	return g.Wait()
}
