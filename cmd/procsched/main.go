//go:build unix

// Command procsched runs programs from a task directory under a round-robin
// job-control scheduler.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	procsched "github.com/Swind/go-proc-scheduler"
	"github.com/Swind/go-proc-scheduler/config"
	"github.com/Swind/go-proc-scheduler/core"
	promexp "github.com/Swind/go-proc-scheduler/observability/prometheus"
	"github.com/Swind/go-proc-scheduler/proc"
)

var (
	configFlag      string
	quantumFlag     time.Duration
	dirFlag         string
	shellFlag       string
	noShellFlag     bool
	failFastFlag    bool
	stubFlag        string
	metricsAddrFlag string
	debugFlag       bool

	rootCmd = &cobra.Command{
		Use:   "procsched [flags] [task...]",
		Short: "Run programs under a round-robin job-control scheduler",
		Long: `procsched launches every named program from the task directory, then the
controller shell, and time-slices them with SIGSTOP/SIGCONT until all of them
have exited.`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, args)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
)

func init() {
	rootCmd.Flags().StringVarP(&configFlag, "config", "c", "", "YAML configuration file")
	rootCmd.Flags().DurationVarP(&quantumFlag, "quantum", "q", core.DefaultQuantum, "time slice per dispatch")
	rootCmd.Flags().StringVarP(&dirFlag, "dir", "d", "", "directory task names are resolved against")
	rootCmd.Flags().StringVar(&shellFlag, "shell", "", "controller shell program inside the task directory")
	rootCmd.Flags().BoolVar(&noShellFlag, "no-shell", false, "do not launch the controller shell")
	rootCmd.Flags().BoolVar(&failFastFlag, "fail-fast", true, "stop the scheduler when an exec request cannot spawn")
	rootCmd.Flags().StringVar(&stubFlag, "stub", "", "self-pause stub: reexec or shell")
	rootCmd.Flags().StringVar(&metricsAddrFlag, "metrics-addr", "", "serve Prometheus metrics on this address")
	rootCmd.Flags().BoolVar(&debugFlag, "debug", false, "enable debug logging")

	rootCmd.MarkFlagsMutuallyExclusive("shell", "no-shell")
	if err := rootCmd.Flags().MarkHidden("stub"); err != nil {
		panic(err)
	}
}

// loadConfig reads the config file, if any, and applies flags that were set
// explicitly on top of it. Positional tasks are appended to the file's list.
func loadConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configFlag != "" {
		loaded, err := config.Load(configFlag)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("quantum") {
		cfg.Quantum = quantumFlag
	}
	if flags.Changed("dir") {
		cfg.TaskDir = dirFlag
	}
	if flags.Changed("shell") {
		cfg.Shell.Enabled = true
		cfg.Shell.Program = shellFlag
	}
	if noShellFlag {
		cfg.Shell.Enabled = false
	}
	if flags.Changed("fail-fast") {
		cfg.Spawn.FailFast = failFastFlag
	}
	if flags.Changed("stub") {
		cfg.Spawn.Stub = stubFlag
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = metricsAddrFlag
	}
	if debugFlag {
		cfg.Log.Debug = true
	}
	cfg.Tasks = append(cfg.Tasks, args...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.Tasks) == 0 && !cfg.Shell.Enabled {
		return nil, fmt.Errorf("no tasks given and the controller shell is disabled: %w", core.ErrNoTasks)
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := core.NewDefaultLoggerTo(os.Stderr, cfg.Log.Debug)

	stub, err := proc.ParseStubMode(cfg.Spawn.Stub)
	if err != nil {
		return err
	}

	schedCfg := cfg.SchedulerConfig()
	schedCfg.Logger = logger
	schedCfg.Metrics = &core.NilMetrics{}

	var (
		reg    *prom.Registry
		poller *promexp.SnapshotPoller
	)
	if cfg.Metrics.Addr != "" {
		reg = prom.NewRegistry()
		exporter, err := promexp.NewMetricsExporter(cfg.Metrics.Namespace, reg, promexp.ExporterOptions{})
		if err != nil {
			return fmt.Errorf("metrics exporter: %w", err)
		}
		schedCfg.Metrics = exporter
		poller, err = promexp.NewSnapshotPoller(cfg.Metrics.Namespace, reg, cfg.Metrics.PollInterval)
		if err != nil {
			return fmt.Errorf("snapshot poller: %w", err)
		}
	}

	rt, err := procsched.New(procsched.Options{
		TaskDir:   cfg.TaskDir,
		Stub:      stub,
		Scheduler: schedCfg,
	})
	if err != nil {
		return err
	}

	// Tasks launched before a failure are stopped; kill them on the way out.
	abort := func(err error) error {
		if abortErr := rt.Abort(); abortErr != nil {
			logger.Warn("abort failed", core.F("error", abortErr))
		}
		return err
	}
	for _, name := range cfg.Tasks {
		if _, err := rt.AddTask(ctx, name); err != nil {
			return abort(err)
		}
	}
	if cfg.Shell.Enabled {
		if _, err := rt.AddController(ctx, cfg.Shell.Program); err != nil {
			return abort(err)
		}
	}

	if poller != nil {
		poller.AddScheduler("procsched", rt.Scheduler())
		poller.Start(ctx)
		defer poller.Stop()

		srv := serveMetrics(cfg.Metrics.Addr, reg, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("scheduler starting",
		core.F("run_id", rt.Scheduler().RunID()),
		core.F("task_dir", rt.TaskDir()),
		core.F("quantum", cfg.Quantum),
		core.F("tasks", len(cfg.Tasks)),
		core.F("shell", cfg.Shell.Enabled))

	err = rt.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("scheduler interrupted")
		return nil
	}
	return err
}

func serveMetrics(addr string, reg *prom.Registry, logger core.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", core.F("addr", addr), core.F("error", err))
		}
	}()
	logger.Info("serving metrics", core.F("addr", addr))
	return srv
}

func main() {
	proc.MaybeRunStub()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "procsched: %v\n", err)
		os.Exit(1)
	}
}
