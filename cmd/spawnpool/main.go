// Command spawnpool prewarms object pools from configuration, drives them with
// a paced simulation and reports pool statistics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/coachpo/spawnpool/config"
	"github.com/coachpo/spawnpool/internal/logging"
	"github.com/coachpo/spawnpool/internal/pool"
	"github.com/coachpo/spawnpool/internal/scene"
	"github.com/coachpo/spawnpool/internal/simulation"
	"github.com/coachpo/spawnpool/lib/telemetry"
)

const (
	managerName                = "spawnpool"
	instrumentationName        = "github.com/coachpo/spawnpool/internal/pool"
	metricsReadHeaderTimeout   = 5 * time.Second
	serverShutdownTimeout      = 5 * time.Second
	lifecycleShutdownTimeout   = 5 * time.Second
	poolManagerShutdownTimeout = 5 * time.Second
	telemetryShutdownTimeout   = 5 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "spawnpool: %v\n", err)
		os.Exit(1)
	}
}

// summary is printed to stdout once the simulation ends.
type summary struct {
	Report   simulation.Report `json:"report"`
	Snapshot pool.Snapshot     `json:"snapshot"`
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	flags := flag.NewFlagSet("spawnpool", flag.ContinueOnError)
	cfgPath := flags.String("config", "", fmt.Sprintf("Path to configuration file (default: %s)", config.DefaultPath))
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.LoadOrDefault(ctx, *cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("configuration initialised",
		zap.String("env", string(cfg.Environment)),
		zap.Int("prefabs", len(cfg.Prefabs)))

	otelProvider, err := telemetry.Init(ctx, cfg.Telemetry, cfg.Environment)
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}
	logger.Info("telemetry initialised", zap.Bool("exporting", otelProvider.Exporting()))

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	world := scene.NewWorld()
	manager := pool.NewManager(world,
		pool.WithName(managerName),
		pool.WithLogger(logger.Named("pool")),
		pool.WithMetrics(pool.NewMetrics(registry)),
		pool.WithTracer(otelProvider.Tracer(instrumentationName)),
	)
	if err := pool.ObserveManager(manager, otelProvider.Meter(instrumentationName)); err != nil {
		return fmt.Errorf("observe pools: %w", err)
	}

	templates, err := prewarm(ctx, world, manager, cfg.Prefabs)
	if err != nil {
		return err
	}
	logger.Info("pools prewarmed", zap.Int("pools", manager.Len()))

	var lifecycle conc.WaitGroup
	var server *http.Server
	if cfg.Metrics.Addr != "" {
		server = &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           newMux(registry, manager),
			ReadHeaderTimeout: metricsReadHeaderTimeout,
		}
		startServer(&lifecycle, logger, server)
		logger.Info("metrics listening", zap.String("addr", server.Addr))
	}

	driver, err := simulation.New(manager, templates, cfg.Simulation, simulation.WithLogger(logger.Named("simulation")))
	if err != nil {
		return fmt.Errorf("build simulation: %w", err)
	}
	report, runErr := driver.Run(ctx)
	if runErr != nil {
		logger.Error("simulation failed", zap.Error(runErr))
	}

	out, err := pool.EncodeJSON(summary{Report: report, Snapshot: pool.TakeSnapshot(manager)})
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	if _, err := fmt.Fprintln(stdout, string(out)); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}

	shutdownErr := shutdown(logger, shutdownPlan{
		server:    server,
		lifecycle: &lifecycle,
		manager:   manager,
		telemetry: otelProvider.Shutdown,
	})
	return errors.Join(runErr, shutdownErr)
}

func prewarm(ctx context.Context, world *scene.World, manager *pool.Manager, prefabs []config.PrefabConfig) ([]pool.Prefab, error) {
	templates := make([]pool.Prefab, 0, len(prefabs))
	for _, p := range prefabs {
		tpl := world.NewTemplate(p.Name, p.PoolCount)
		if err := manager.Prewarm(ctx, tpl); err != nil {
			return nil, fmt.Errorf("prewarm %s: %w", p.Name, err)
		}
		templates = append(templates, tpl)
	}
	return templates, nil
}

func newMux(registry *prometheus.Registry, manager *pool.Manager) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	mux.HandleFunc("GET /debug/pools", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := pool.WriteSnapshot(w, manager); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return mux
}

func startServer(lifecycle *conc.WaitGroup, logger *zap.Logger, server *http.Server) {
	lifecycle.Go(func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", zap.Error(err))
		}
	})
}

type shutdownPlan struct {
	server    *http.Server
	lifecycle *conc.WaitGroup
	manager   *pool.Manager
	telemetry func(context.Context) error
}

func shutdown(logger *zap.Logger, plan shutdownPlan) error {
	var failures []error
	step := func(name string, timeout time.Duration, fn func(context.Context) error) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		logger.Debug("shutdown step", zap.String("step", name))
		if err := fn(ctx); err != nil {
			logger.Warn("shutdown step failed", zap.String("step", name), zap.Error(err))
			failures = append(failures, fmt.Errorf("%s: %w", name, err))
		}
	}

	if plan.server != nil {
		step("metrics server", serverShutdownTimeout, plan.server.Shutdown)
	}
	if plan.lifecycle != nil {
		step("lifecycle goroutines", lifecycleShutdownTimeout, func(ctx context.Context) error {
			done := make(chan struct{})
			go func() {
				plan.lifecycle.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return fmt.Errorf("timeout waiting for goroutines: %w", ctx.Err())
			}
		})
	}
	if plan.manager != nil {
		step("pool manager", poolManagerShutdownTimeout, plan.manager.Shutdown)
	}
	if plan.telemetry != nil {
		step("telemetry", telemetryShutdownTimeout, plan.telemetry)
	}
	logger.Info("shutdown completed")
	return errors.Join(failures...)
}
