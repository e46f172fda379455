// Package bootstrap wires configuration, logging and lifecycle for the binaries
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"portsim/internal/config"
	"portsim/internal/core"
	"portsim/pkg/logging"
)

// App holds the core dependencies shared by the binaries.
type App struct {
	Cfg    *config.Config
	Logger core.ILogger
}

// NewApp loads the configuration (defaults when path is empty) and builds the
// logger.
func NewApp(configPath string) (*App, error) {
	return NewAppWithLevel(configPath, "")
}

// NewAppWithLevel is NewApp with the log level forced over the configured one.
// An empty level keeps the configured level.
func NewAppWithLevel(configPath, level string) (*App, error) {
	var cfg *config.Config
	if configPath == "" {
		cfg = config.DefaultConfig()
	} else {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		cfg = loaded
	}
	if level != "" {
		cfg.Logging.Level = level
	}

	logger, err := logging.NewZapLogger(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	logging.SetGlobalLogger(logger)

	return &App{Cfg: cfg, Logger: logger}, nil
}

// Runner is a component that runs until its context is canceled.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context) error

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }

// Run starts every runner and blocks until all finish, one fails, or a
// termination signal arrives.
func (a *App) Run(runners ...Runner) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	a.Logger.Info("starting application")
	for _, runner := range runners {
		r := runner
		g.Go(func() error {
			return r.Run(ctx)
		})
	}

	if err := g.Wait(); err != nil && err != context.Canceled {
		a.Logger.Error("application stopped with error", "error", err)
		return err
	}

	a.Logger.Info("application shut down gracefully")
	return nil
}
