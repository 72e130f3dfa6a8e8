package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/leo-router/internal/config"
	"github.com/signalsfoundry/leo-router/internal/logging"
	"github.com/signalsfoundry/leo-router/internal/observability"
	"github.com/signalsfoundry/leo-router/internal/recorder"
	"github.com/signalsfoundry/leo-router/internal/sim"
)

// loadConfig parses the daemon flags and loads the configuration. The
// daemon paces simulation time by the wall clock unless the file, the
// environment or -accelerated says otherwise.
func loadConfig(args []string) (*config.Config, error) {
	fs := flag.NewFlagSet("routerd", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML configuration file")
	grpcAddr := fs.String("grpc-addr", "", "TCP address of the gRPC health server (overrides server.grpc_addr)")
	metricsAddr := fs.String("metrics-addr", "", "HTTP address for Prometheus /metrics (overrides server.metrics_addr)")
	accelerated := fs.Bool("accelerated", false, "run simulation time as fast as possible instead of wall-clock paced (overrides simulation.accelerated)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg, err := config.LoadWithDefaults(*configPath, map[string]any{"simulation.accelerated": false})
	if err != nil {
		return nil, err
	}
	if *grpcAddr != "" {
		cfg.Server.GRPCAddr = *grpcAddr
	}
	if *metricsAddr != "" {
		cfg.Server.MetricsAddr = *metricsAddr
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "accelerated" {
			cfg.Simulation.Accelerated = *accelerated
		}
	})
	return cfg, nil
}

// RoutingService is the health service name that turns SERVING once the
// initial routing cycle has installed forwarding tables.
const RoutingService = "leorouter.Routing"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "routerd: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.Logging.Logging())
	d, err := newDaemon(ctx, cfg, prometheus.NewRegistry(), log)
	if err != nil {
		log.Error(ctx, "failed to initialise daemon", logging.Err(err))
		os.Exit(1)
	}
	if err := d.serve(ctx); err != nil {
		log.Error(ctx, "daemon exited", logging.Err(err))
		os.Exit(1)
	}
}

type daemon struct {
	cfg       *config.Config
	log       logging.Logger
	sim       *sim.Simulation
	collector *observability.ServerCollector
	health    *health.Server
	grpc      *grpc.Server
	shutdown  func(context.Context) error

	grpcLis    net.Listener
	metricsLis net.Listener
}

func newDaemon(ctx context.Context, cfg *config.Config, reg *prometheus.Registry, log logging.Logger) (*daemon, error) {
	shutdown, err := observability.InitTracing(ctx, cfg.Tracing.Observability(), log)
	if err != nil {
		return nil, err
	}
	collector, err := observability.NewServerCollector(reg)
	if err != nil {
		return nil, fmt.Errorf("metrics collector: %w", err)
	}

	var sinks []recorder.Sink
	if cfg.Recorder.QuestDBAddress != "" {
		q, err := recorder.NewQuestDBSink(ctx, cfg.Recorder.QuestDBAddress)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, q)
	}
	if cfg.Recorder.ParquetPath != "" {
		pq, err := recorder.NewParquetSink(cfg.Recorder.ParquetPath)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, pq)
	}

	s, err := sim.New(cfg,
		sim.WithLogger(log),
		sim.WithRegisterer(reg),
		sim.WithRecorder(recorder.New(cfg.Start(), log, sinks...)),
	)
	if err != nil {
		return nil, err
	}
	collector.SetConstellationCounts(s.Counts())

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(RoutingService, healthpb.HealthCheckResponse_NOT_SERVING)

	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			observability.RequestIDUnaryServerInterceptor(log),
			collector.UnaryServerInterceptor(),
		),
	)
	healthpb.RegisterHealthServer(server, hs)

	grpcLis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return nil, fmt.Errorf("listen for gRPC on %q: %w", cfg.Server.GRPCAddr, err)
	}
	metricsLis, err := net.Listen("tcp", cfg.Server.MetricsAddr)
	if err != nil {
		grpcLis.Close()
		return nil, fmt.Errorf("listen for metrics on %q: %w", cfg.Server.MetricsAddr, err)
	}

	return &daemon{
		cfg:        cfg,
		log:        log,
		sim:        s,
		collector:  collector,
		health:     hs,
		grpc:       server,
		shutdown:   shutdown,
		grpcLis:    grpcLis,
		metricsLis: metricsLis,
	}, nil
}

// serve runs the initial routing cycle, flips health to SERVING and then
// steps the simulation until ctx is done.
func (d *daemon) serve(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", d.collector.Handler())
	metricsSrv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsSrv.Serve(d.metricsLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.log.Warn(ctx, "metrics server exited", logging.Err(err))
		}
	}()
	d.log.Info(ctx, "serving Prometheus metrics", logging.String("addr", d.metricsLis.Addr().String()))

	go func() {
		if err := d.grpc.Serve(d.grpcLis); err != nil {
			d.log.Error(ctx, "gRPC server exited", logging.Err(err))
		}
	}()
	d.log.Info(ctx, "starting gRPC health server", logging.String("addr", d.grpcLis.Addr().String()))

	defer d.close(metricsSrv)

	if err := d.sim.Start(ctx); err != nil {
		return err
	}
	d.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	d.health.SetServingStatus(RoutingService, healthpb.HealthCheckResponse_SERVING)

	err := d.sim.Run(ctx, d.cfg.Simulation.Duration)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if err == nil {
		// A bounded run keeps serving the last tables until shutdown.
		<-ctx.Done()
	}
	return err
}

func (d *daemon) close(metricsSrv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	d.log.Info(ctx, "shutting down routerd")
	d.health.Shutdown()
	d.grpc.GracefulStop()
	_ = metricsSrv.Shutdown(ctx)
	if err := d.sim.Stop(ctx); err != nil {
		d.log.Warn(ctx, "simulation stop failed", logging.Err(err))
	}
	observability.ShutdownWithTimeout(ctx, d.shutdown, d.log)
}
