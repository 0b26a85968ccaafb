package bootstrap

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/lechuhuuha/memcload/config"
	"github.com/lechuhuuha/memcload/internal/cache"
	"github.com/lechuhuuha/memcload/internal/deadletter"
	"github.com/lechuhuuha/memcload/internal/dispatcher"
	"github.com/lechuhuuha/memcload/internal/report"
	"github.com/lechuhuuha/memcload/internal/service"
	"github.com/lechuhuuha/memcload/internal/writer"
	loggerpkg "github.com/lechuhuuha/memcload/logger"
	"github.com/lechuhuuha/memcload/util"
)

// App wires the cache writer, pipeline and dispatcher for one invocation.
type App struct {
	cli    CLIConfig
	cfg    *config.Config
	logger loggerpkg.Logger
	runID  string

	// newRunner is swapped in tests. closeFn releases whatever the runner built.
	newRunner func(ctx context.Context) (runner dispatcher.Runner, closeFn func(), err error)
}

// NewApp returns a configured App instance.
func NewApp(cli CLIConfig, cfg *config.Config, logger loggerpkg.Logger) (*App, error) {
	if logger == nil {
		logger = loggerpkg.NewNop()
	}
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	runID := util.GetEnv(util.EnvRunID, "")
	if runID == "" {
		runID = uuid.NewString()
	}
	a := &App{cli: cli, cfg: cfg, logger: logger.With(loggerpkg.F("run_id", runID)), runID: runID}
	a.newRunner = a.defaultRunner
	return a, nil
}

// Run executes the selected mode: self-test, single-file ingest, or dispatch.
func (a *App) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if a.cli.SelfTest {
		return SelfTest(a.logger)
	}

	run := func(ctx context.Context) error {
		if a.cli.IngestFile != "" {
			return a.ingestFile(ctx, a.cli.IngestFile)
		}
		return a.dispatch(ctx)
	}

	if util.CaptureProfiles() {
		target := util.ProfileTarget{RunID: a.runID, File: a.cli.IngestFile}
		dir := util.GetEnv(util.ProfileDir, util.DefaultProfileDir)
		a.logger.Info("profiling enabled", loggerpkg.F("dir", dir), loggerpkg.F("profile", target.Label()))
		return util.WithProfiling(ctx, dir, target, a.logger, run)
	}
	return run(ctx)
}

// ingestFile runs one file in this process. Used by child processes.
func (a *App) ingestFile(ctx context.Context, path string) error {
	pipeline, closeFn, err := a.buildPipeline(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	_, err = pipeline.Process(ctx, path)
	return err
}

func (a *App) dispatch(ctx context.Context) error {
	if a.cfg.Metrics.Addr != "" {
		shutdown, err := StartMetricsServer(a.cfg.Metrics.Addr, a.logger)
		if err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer shutdown()
	}

	runner, closeFn, err := a.newRunner(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	d := dispatcher.New(runner, a.logger, dispatcher.Config{
		Pattern:         a.cfg.Pattern,
		Processes:       a.cfg.Dispatcher.Processes,
		ProcessedPrefix: a.cfg.ProcessedPrefix,
	})
	a.logger.Info("memcload started",
		loggerpkg.F("pattern", a.cfg.Pattern),
		loggerpkg.F("mode", a.cfg.Pipeline.Mode),
		loggerpkg.F("isolation", a.cfg.Dispatcher.Isolation),
		loggerpkg.F("dry_run", a.cfg.DryRun))

	results, err := d.Run(ctx)
	renamed, failed := 0, 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			continue
		}
		renamed++
	}
	a.logger.Info("memcload finished", loggerpkg.F("renamed", renamed), loggerpkg.F("unprocessed", failed))
	return err
}

// defaultRunner builds the cache pool and side outputs only for in-process
// isolation; child processes wire their own.
func (a *App) defaultRunner(ctx context.Context) (dispatcher.Runner, func(), error) {
	if a.cfg.Dispatcher.Isolation == config.IsolationGoroutine {
		pipeline, closeFn, err := a.buildPipeline(ctx)
		if err != nil {
			return nil, nil, err
		}
		return dispatcher.LocalRunner{Pipeline: pipeline}, closeFn, nil
	}
	r, err := dispatcher.NewExecRunner(childArgs(os.Args[1:]))
	if err != nil {
		return nil, nil, err
	}
	r.Env = append(os.Environ(), util.EnvRunID+"="+a.runID)
	return r, func() {}, nil
}

// childArgs drops any ingest-file flag so the child receives exactly one.
func childArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == dispatcher.IngestFileFlag || arg == "-"+dispatcher.IngestFileFlag:
			i++
		case strings.HasPrefix(arg, dispatcher.IngestFileFlag+"=") || strings.HasPrefix(arg, "-"+dispatcher.IngestFileFlag+"="):
		default:
			out = append(out, arg)
		}
	}
	return out
}

// buildPipeline wires cache clients, writer and side outputs. closeFn
// releases them.
func (a *App) buildPipeline(ctx context.Context) (*service.Pipeline, func(), error) {
	cfg := a.cfg
	poolSize := cfg.Cache.PoolSize
	if poolSize <= 0 {
		poolSize = cfg.Pipeline.Workers
	}
	clients := cache.NewPool(a.cacheFactory(), poolSize)
	w := writer.New(clients, a.logger, &writer.Config{
		MaxRetries:    cfg.Cache.MaxRetries,
		BackoffFactor: cfg.Cache.BackoffFactor,
	})

	dead, err := a.deadLetterSink()
	if err != nil {
		_ = clients.Close()
		return nil, nil, err
	}
	reports, err := a.reportStore(ctx)
	if err != nil {
		_ = clients.Close()
		_ = dead.Close()
		return nil, nil, err
	}

	pipeline := service.NewPipeline(cfg.DestinationMap(), w, service.Sinks{
		DeadLetters: dead,
		Reports:     reports,
	}, a.logger, &service.PipelineConfig{
		Workers:            cfg.Pipeline.Workers,
		BatchSize:          cfg.Pipeline.BatchSize,
		JobQueueSize:       cfg.Pipeline.JobQueueSize,
		Mode:               cfg.WriteMode(),
		ErrorRateThreshold: cfg.Pipeline.ErrorRateThreshold,
		DryRun:             cfg.DryRun,
		RunID:              a.runID,
		PushGateway:        cfg.Metrics.PushGateway,
	})

	closeFn := func() {
		if err := dead.Close(); err != nil {
			a.logger.Warn("failed to close dead letter sink", loggerpkg.Err(err))
		}
		if err := clients.Close(); err != nil {
			a.logger.Warn("failed to close cache clients", loggerpkg.Err(err))
		}
	}
	return pipeline, closeFn, nil
}

func (a *App) cacheFactory() cache.Factory {
	cfg := a.cfg.Cache
	switch {
	case a.cfg.DryRun:
		return cache.DryRunFactory(a.logger)
	case cfg.Backend == config.BackendRedis:
		return cache.RedisFactory(cache.RedisOptions{Timeout: cfg.Timeout, PoolSize: cfg.PoolSize, DB: cfg.RedisDB})
	default:
		return cache.MemcacheFactory(cache.MemcacheOptions{Timeout: cfg.Timeout, MaxIdleConns: cfg.MaxIdleConns})
	}
}

func (a *App) deadLetterSink() (deadletter.Sink, error) {
	cfg := a.cfg.DeadLetter
	var sinks deadletter.Multi
	if cfg.Dir != "" {
		sinks = append(sinks, deadletter.NewFileSink(cfg.Dir))
	}
	if len(cfg.Kafka.Brokers) > 0 {
		k, err := deadletter.NewKafkaSink(deadletter.KafkaConfig{
			Brokers:        cfg.Kafka.Brokers,
			Topic:          cfg.Kafka.Topic,
			BatchSize:      cfg.Kafka.BatchSize,
			BatchTimeout:   cfg.Kafka.BatchTimeout,
			RequireAllAcks: cfg.Kafka.RequireAllAcks,
		}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("configure kafka dead letters: %w", err)
		}
		sinks = append(sinks, k)
	}
	if len(sinks) == 0 {
		return deadletter.Nop{}, nil
	}
	return sinks, nil
}

func (a *App) reportStore(ctx context.Context) (report.Store, error) {
	cfg := a.cfg.Report
	switch cfg.Backend {
	case config.ReportFile:
		return report.NewFileStore(cfg.Dir), nil
	case config.ReportMinIO:
		store, err := report.NewMinIOStore(report.MinIOOptions{
			Endpoint:  cfg.MinIO.Endpoint,
			Bucket:    cfg.MinIO.Bucket,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			UseSSL:    cfg.MinIO.UseSSL,
			Prefix:    cfg.MinIO.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("configure minio reports: %w", err)
		}
		if err := store.CheckReady(ctx); err != nil {
			return nil, fmt.Errorf("minio reports not ready: %w", err)
		}
		return store, nil
	default:
		return report.Nop{}, nil
	}
}
