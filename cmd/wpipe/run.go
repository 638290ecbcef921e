package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/wp-labs/wp-open-api/config"
	"github.com/wp-labs/wp-open-api/connector"
	"github.com/wp-labs/wp-open-api/connector/sink"
	"github.com/wp-labs/wp-open-api/connector/source"
	natsconnector "github.com/wp-labs/wp-open-api/connectors/nats"
	"github.com/wp-labs/wp-open-api/health"
	"github.com/wp-labs/wp-open-api/metric"
	"github.com/wp-labs/wp-open-api/natsclient"
	"github.com/wp-labs/wp-open-api/registry"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var (
		configPaths     []string
		shutdownTimeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a pipeline until its sources end or a signal arrives",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPaths)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runPipeline(ctx, cfg, opts.logger, shutdownTimeout)
		},
	}
	configFlag(cmd, &configPaths)
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout",
		getEnvDuration("WPIPE_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: WPIPE_SHUTDOWN_TIMEOUT)")
	return cmd
}

// loadConfig loads and validates the pipeline layers.
func loadConfig(paths []string) (*config.Config, error) {
	loader := config.NewLoader()
	for _, p := range paths {
		loader.AddLayer(p)
	}
	loader.EnableValidation(true)
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func runPipeline(ctx context.Context, cfg *config.Config, logger *slog.Logger, shutdownTimeout time.Duration) error {
	runID := uuid.NewString()
	logger = logger.With("run_id", runID)
	logger.Info("Starting wpipe", "version", Version, "work_root", cfg.WorkRoot)

	metricsRegistry := metric.NewMetricsRegistry()
	monitor := health.NewMonitor()
	if cfg.Metrics.Enabled {
		srv := metric.NewServer(cfg.Metrics.Addr(), cfg.Metrics.Path, metricsRegistry)
		srv.Handle("/healthz", monitor.Handler(appName))
		if err := srv.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer stopWithTimeout(srv.Stop, shutdownTimeout, logger, "metrics server")
		logger.Info("Metrics server listening", "addr", srv.Address(), "path", cfg.Metrics.Path)
	}

	var natsClient *natsclient.Client
	if cfg.NATS.Enabled() {
		client, err := connectNATS(ctx, cfg.NATS, runID, metricsRegistry, logger)
		if err != nil {
			return err
		}
		defer stopWithTimeout(client.Close, shutdownTimeout, logger, "NATS client")
		natsClient = client

		monitor.Running("nats")
		client.OnHealthChange(func(healthy bool) {
			if healthy {
				monitor.Running("nats")
				return
			}
			monitor.Degrade("nats", natsclient.ErrNotConnected)
		})
	}

	deps := connector.Dependencies{
		NATSClient:      natsClient,
		MetricsRegistry: metricsRegistry,
		Logger:          logger,
	}
	reg := registry.New()
	if err := registry.RegisterBuiltins(reg, deps); err != nil {
		return fmt.Errorf("register connectors: %w", err)
	}

	p, err := buildPipeline(ctx, cfg, reg, logger)
	if err != nil {
		return err
	}
	p.metrics = deps.Metrics()
	p.health = monitor

	if natsClient != nil {
		bridge := natsconnector.NewControlBridge(natsClient, cfg.NATS.ControlSubject, p.ctrl, logger)
		if err := bridge.Start(ctx); err != nil {
			stopWithTimeout(p.stop, shutdownTimeout, logger, "sinks")
			return fmt.Errorf("start control bridge: %w", err)
		}
		defer func() {
			if err := bridge.Stop(); err != nil {
				logger.Warn("control bridge stop failed", "error", err)
			}
		}()
	}

	logger.Info("Pipeline running", "sources", len(p.sources), "sink_groups", len(p.groups))
	runErr := p.run(ctx)

	logger.Info("Pipeline stopping", "delivered", p.delivered.Load())
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := p.stop(shutdownCtx); err != nil {
		logger.Error("Error stopping sinks", "error", err)
		if runErr == nil {
			runErr = fmt.Errorf("stop sinks: %w", err)
		}
	}
	if runErr != nil {
		return runErr
	}
	logger.Info("wpipe shutdown complete")
	return nil
}

func connectNATS(
	ctx context.Context,
	cfg config.NATSConfig,
	runID string,
	metricsRegistry *metric.MetricsRegistry,
	logger *slog.Logger,
) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithName(appName + "-" + runID[:8]),
		natsclient.WithLogger(logger),
		natsclient.WithMaxReconnects(cfg.MaxReconnects),
		natsclient.WithReconnectWait(cfg.ReconnectWait.Std()),
		natsclient.WithMetrics(metricsRegistry),
	}
	if cfg.PingInterval > 0 {
		opts = append(opts, natsclient.WithPingInterval(cfg.PingInterval.Std()))
	}
	if cfg.DrainTimeout > 0 {
		opts = append(opts, natsclient.WithDrainTimeout(cfg.DrainTimeout.Std()))
	}
	if cfg.MaxBackoff > 0 {
		opts = append(opts, natsclient.WithMaxBackoff(cfg.MaxBackoff.Std()))
	}
	switch {
	case cfg.Token != "":
		opts = append(opts, natsclient.WithToken(cfg.Token))
	case cfg.Username != "":
		opts = append(opts, natsclient.WithCredentials(cfg.Username, cfg.Password))
	}
	if cfg.TLS.Enabled {
		opts = append(opts, natsclient.WithTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.CAFile))
	}

	client, err := natsclient.NewClient(strings.Join(cfg.URLs, ","), opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	logger.Info("Connecting to NATS", "urls", cfg.URLs)
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		_ = client.Close(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("NATS connection timeout: %w", err)
	}
	return client, nil
}

// buildPipeline builds every sink replica and every enabled source. On
// failure the sinks built so far are stopped and the sources closed.
func buildPipeline(ctx context.Context, cfg *config.Config, reg *registry.Registry, logger *slog.Logger) (*pump, error) {
	p := &pump{ctrl: source.NewBroadcaster(0), logger: logger}

	groups, err := cfg.ResolveSinkGroups(reg)
	if err != nil {
		return nil, err
	}
	sourceSpecs, err := cfg.SourceSpecs(reg)
	if err != nil {
		return nil, err
	}

	fail := func(err error) (*pump, error) {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if stopErr := p.stop(stopCtx); stopErr != nil {
			logger.Warn("stopping partially built sinks failed", "error", stopErr)
		}
		for _, h := range p.sources {
			if closeErr := h.Source.Close(stopCtx); closeErr != nil {
				logger.Warn("closing built source failed", "source", h.Meta.Name, "error", closeErr)
			}
		}
		return nil, err
	}

	for _, g := range groups {
		sg := &sinkGroup{name: g.Name}
		p.groups = append(p.groups, sg)
		root := filepath.Join(cfg.WorkRoot, "sinks", g.Name)
		if err := os.MkdirAll(root, 0o755); err != nil {
			return fail(fmt.Errorf("create work root for %s: %w", g.Name, err))
		}

		for r := 0; r < g.Replicas; r++ {
			bctx := sink.NewBuildCtx(root).WithReplica(r, g.Replicas).WithLimit(g.RateLimitRPS)
			members := make([]sink.Sink, 0, len(g.Specs))
			for _, spec := range g.Specs {
				h, err := buildSink(ctx, reg, spec, bctx)
				if err != nil {
					for _, m := range members {
						_ = m.Stop(context.WithoutCancel(ctx))
					}
					return fail(err)
				}
				logger.Debug("sink built", "sink", h.Name, "kind", spec.Kind, "replica", r)
				members = append(members, h.Sink)
			}
			sg.replicas = append(sg.replicas, sink.NewFanout(members...))
		}
	}

	for _, spec := range sourceSpecs {
		f, err := reg.Source(spec.Kind)
		if err != nil {
			return fail(err)
		}
		root := filepath.Join(cfg.WorkRoot, "sources", spec.Name)
		if err := os.MkdirAll(root, 0o755); err != nil {
			return fail(fmt.Errorf("create work root for %s: %w", spec.Name, err))
		}
		ins, err := f.Build(ctx, spec, source.BuildCtx{WorkRoot: root})
		if err != nil {
			return fail(fmt.Errorf("build source %s: %w", spec.Name, err))
		}
		logger.Debug("source built", "source", spec.Name, "instances", ins.String())
		p.sources = append(p.sources, ins.Sources...)
		if ins.Acceptor != nil {
			p.acceptors = append(p.acceptors, *ins.Acceptor)
		}
	}
	return p, nil
}

func buildSink(ctx context.Context, reg *registry.Registry, spec sink.Spec, bctx sink.BuildCtx) (sink.Handle, error) {
	f, err := reg.Sink(spec.Kind)
	if err != nil {
		return sink.Handle{}, err
	}
	h, err := f.Build(ctx, spec, bctx)
	if err != nil {
		return sink.Handle{}, fmt.Errorf("build sink %s: %w", spec.FullName(), err)
	}
	return h, nil
}

func stopWithTimeout(stop func(context.Context) error, timeout time.Duration, logger *slog.Logger, what string) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := stop(ctx); err != nil {
		logger.Warn("stop failed", "component", what, "error", err)
	}
}
