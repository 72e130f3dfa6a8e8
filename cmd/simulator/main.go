package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/signalsfoundry/leo-router/internal/config"
	"github.com/signalsfoundry/leo-router/internal/logging"
	"github.com/signalsfoundry/leo-router/internal/observability"
	"github.com/signalsfoundry/leo-router/internal/recorder"
	"github.com/signalsfoundry/leo-router/internal/report"
	"github.com/signalsfoundry/leo-router/internal/routing"
	"github.com/signalsfoundry/leo-router/internal/sim"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "simulator: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("simulator", flag.ContinueOnError)
	fs.SetOutput(stdout)
	configPath := fs.String("config", "", "path to a YAML configuration file")
	duration := fs.Duration("duration", 0, "simulation time to run (overrides simulation.duration)")
	parquetPath := fs.String("parquet", "", "record one row per routing cycle to this Parquet file")
	questdbAddr := fs.String("questdb", "", "stream routing cycles to this QuestDB ILP address")
	dumpNode := fs.String("dump-node", "", "print the final forwarding table of this node")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *duration > 0 {
		cfg.Simulation.Duration = *duration
	}
	if *parquetPath != "" {
		cfg.Recorder.ParquetPath = *parquetPath
	}
	if *questdbAddr != "" {
		cfg.Recorder.QuestDBAddress = *questdbAddr
	}

	logCfg := cfg.Logging.Logging()
	logCfg.Output = stdout
	log := logging.New(logCfg)

	shutdown, err := observability.InitTracing(ctx, cfg.Tracing.Observability(), log)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdown, log)

	rec, err := newRecorder(ctx, cfg, log)
	if err != nil {
		return err
	}

	var rows []recorder.TickRow
	start := cfg.Start()
	s, err := sim.New(cfg,
		sim.WithLogger(log),
		sim.WithRecorder(rec),
		sim.WithListener(func(rep routing.RebuildReport) {
			rows = append(rows, recorder.Row(start, rep))
			log.Info(ctx, "routing cycle",
				logging.String("variant", rep.Variant.String()),
				logging.String("sim_time", rep.SimTime.Format(time.RFC3339Nano)),
				logging.Int("links", rep.Links),
				logging.Int("entries", rep.Entries),
				logging.Int("ground_added", rep.Churn.Added),
				logging.Int("ground_removed", rep.Churn.Removed),
				logging.Int("partitions", rep.Partitions),
				logging.Duration("took", rep.Duration),
			)
		}),
	)
	if err != nil {
		_ = rec.Close(ctx)
		return err
	}

	if err := s.Start(ctx); err != nil {
		_ = s.Stop(ctx)
		return err
	}
	runErr := s.Run(ctx, cfg.Simulation.Duration)
	if errors.Is(runErr, context.Canceled) {
		log.Info(ctx, "simulation interrupted", logging.Duration("elapsed", s.Clock().Elapsed()))
		runErr = nil
	}
	if err := s.Stop(context.WithoutCancel(ctx)); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		return runErr
	}

	if *dumpNode != "" {
		table, err := s.Table(*dumpNode)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "forwarding table of %s:\n", *dumpNode)
		for _, e := range table.Entries() {
			fmt.Fprintf(stdout, "  rank %d  %-15s -> if %d\n", e.Rank, e.Destination, e.InterfaceID)
		}
	}
	fmt.Fprintln(stdout, report.Summarize(rows))
	return nil
}

func newRecorder(ctx context.Context, cfg *config.Config, log logging.Logger) (*recorder.Recorder, error) {
	var sinks []recorder.Sink
	if cfg.Recorder.ParquetPath != "" {
		pq, err := recorder.NewParquetSink(cfg.Recorder.ParquetPath)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, pq)
	}
	if cfg.Recorder.QuestDBAddress != "" {
		q, err := recorder.NewQuestDBSink(ctx, cfg.Recorder.QuestDBAddress)
		if err != nil {
			for _, s := range sinks {
				_ = s.Close(ctx)
			}
			return nil, err
		}
		sinks = append(sinks, q)
	}
	return recorder.New(cfg.Start(), log, sinks...), nil
}
