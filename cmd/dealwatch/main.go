package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/bakkerme/dealwatch/internal/api"
	"github.com/bakkerme/dealwatch/internal/config"
	"github.com/bakkerme/dealwatch/internal/core"
	"github.com/bakkerme/dealwatch/internal/observability/otelx"
	"github.com/bakkerme/dealwatch/internal/retry"
	"github.com/bakkerme/dealwatch/internal/runner"
	"github.com/bakkerme/dealwatch/internal/runner/factory"
)

func main() {
	env := config.LoadEnv()

	configPath := flag.String("config", env.ConfigPath, "path to dealwatch document")
	flowID := flag.String("flow-id", env.FlowID, "flow identifier")
	runOnce := flag.Bool("run-once", env.RunOnce, "run once and exit")
	allowPartial := flag.Bool("allow-partial", env.AllowPartialSourceErrors, "continue if some sources fail")
	useDev := flag.Bool("dev", env.Discord.UseDev, "send to the development webhook")
	noIdempotency := flag.Bool("no-idempotency", env.DisableIdempotency, "send every qualifying event, ignoring notification history")
	only := flag.String("only", strings.Join(env.OnlySources, ","), "comma separated list of sources to run")
	apiAddr := flag.String("api-addr", env.APIAddr, "address for the status API, empty to disable")
	flag.Parse()

	env.Discord.UseDev = *useDev
	env.DisableIdempotency = *noIdempotency

	logger, closeLog, err := newLogger(env.LogLevel, env.LogFile)
	if err != nil {
		log.Fatalf("failed to set up logging: %v", err)
	}
	defer closeLog()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otelx.Init(ctx, logger, env.OTel)
	if err != nil {
		logger.Error("failed to initialise tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	if err := run(ctx, logger, env, options{
		configPath:   *configPath,
		flowID:       *flowID,
		runOnce:      *runOnce,
		allowPartial: *allowPartial,
		only:         config.SplitList(*only),
		apiAddr:      *apiAddr,
	}); err != nil {
		logger.Error("dealwatch failed", "error", err)
		closeLog()
		os.Exit(1)
	}
}

type options struct {
	configPath   string
	flowID       string
	runOnce      bool
	allowPartial bool
	only         []string
	apiAddr      string
}

func run(ctx context.Context, logger *slog.Logger, env config.EnvConfig, opts options) error {
	doc, err := config.LoadDocument(opts.configPath)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}

	f := factory.NewFromEnvConfig(logger, env)
	defer func() {
		if err := f.Close(); err != nil {
			logger.Warn("failed to close notification stores", "error", err)
		}
	}()

	flow, err := doc.ParseToFlowWithFactory(f)
	if err != nil {
		return fmt.Errorf("build flow: %w", err)
	}
	flow.ID = opts.flowID

	r := runner.New(logger, runner.Config{
		AllowPartialSourceErrors: opts.allowPartial,
		Only:                     opts.only,
		Retry:                    retryConfig(doc.Workflow.Retry),
	})

	// A failed probe is reported but never stops the process; each delivery
	// handles its own failures.
	if err := r.Probe(ctx, flow); err != nil {
		logger.Error("output probe failed, continuing", "error", err)
	}

	if opts.runOnce || len(flow.Triggers) == 0 {
		_, err := r.RunOnce(ctx, flow)
		return err
	}

	if err := r.Start(ctx, flow); err != nil {
		return fmt.Errorf("start triggers: %w", err)
	}
	defer stopTriggers(logger, flow)
	logger.Info("waiting for triggers", "flow", flow.Name, "triggers", len(flow.Triggers))

	if opts.apiAddr == "" {
		<-ctx.Done()
		return nil
	}

	alerts := f.Alerts()
	outputs := make([]api.Output, 0, len(alerts))
	for _, alert := range alerts {
		outputs = append(outputs, alert)
	}
	server := api.NewServer(ctx, r, flow, outputs, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(opts.apiAddr) }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func stopTriggers(logger *slog.Logger, flow *core.Flow) {
	for _, trigger := range flow.Triggers {
		if trigger == nil {
			continue
		}
		if err := trigger.Stop(); err != nil {
			logger.Warn("failed to stop trigger", "trigger", trigger.Name(), "error", err)
		}
	}
}

// retryConfig maps the document's retry block. Without one, outputs get a
// single attempt.
func retryConfig(cfg *config.RetryConfig) retry.Config {
	if cfg == nil {
		return retry.Config{Attempts: 1}
	}
	return retry.Config{
		Attempts:  cfg.Attempts,
		BaseDelay: cfg.BaseDelay.Std(),
		MaxDelay:  cfg.MaxDelay.Std(),
		Jitter:    time.Second,
	}
}

// newLogger writes to stdout and, when path is set, to a log file too. A
// directory path gets a timestamped file per run.
func newLogger(level, path string) (*slog.Logger, func(), error) {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if path == "" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts)), func() {}, nil
	}

	if info, err := os.Stat(path); (err == nil && info.IsDir()) || strings.HasSuffix(path, string(filepath.Separator)) {
		path = filepath.Join(path, "dealwatch_"+time.Now().Format("20060102_150405")+".log")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(io.MultiWriter(os.Stdout, file), opts))
	logger.Info("logging to file", "path", path)

	var closed bool
	return logger, func() {
		if !closed {
			closed = true
			_ = file.Close()
		}
	}, nil
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
