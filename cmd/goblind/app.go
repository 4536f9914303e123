package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/goblinos/goblind/pkg/config"
	"github.com/goblinos/goblind/pkg/cost"
	"github.com/goblinos/goblind/pkg/events"
	"github.com/goblinos/goblind/pkg/goblin"
	"github.com/goblinos/goblind/pkg/history"
	"github.com/goblinos/goblind/pkg/orchestration"
	"github.com/goblinos/goblind/pkg/stream"
	"github.com/goblinos/goblind/pkg/supervisor"
	"github.com/goblinos/goblind/pkg/vault"
)

// App wires every component behind the command surface.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	vault      vault.Vault
	catalog    *config.Catalog
	rates      *cost.Table
	ledger     *cost.Ledger
	history    *history.Store
	bus        *events.Bus
	supervisor *supervisor.Supervisor
	executor   *stream.Executor
	engine     *orchestration.Engine
	goblins    *goblin.Service
}

// appOptions overrides pieces that tests or subcommands need to control.
type appOptions struct {
	Vault   vault.Vault
	WorkDir string
	Sinks   []events.Sink
}

func newApp(cfg *config.Config, logger *slog.Logger, opts appOptions) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	v := opts.Vault
	if v == nil {
		var err error
		v, err = vault.Open(cfg.Vault.Backend, cfg.Vault.AuthFile)
		if err != nil {
			return nil, err
		}
	}

	catalog, err := config.LoadCatalog(cfg.Models)
	if err != nil {
		logger.Warn("using built-in provider catalog", "path", cfg.Models, "error", err)
		catalog = config.NewCatalog(config.DefaultProviders())
	}

	workDir := opts.WorkDir
	if workDir == "" {
		if workDir, err = os.Getwd(); err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
	}

	a := &App{
		cfg:     cfg,
		logger:  logger,
		vault:   v,
		catalog: catalog,
		rates:   cost.LoadTableOrDefault(cfg.CostRates, logger),
		ledger:  cost.NewLedger(),
		history: history.NewStore(),
		bus:     events.NewBus(opts.Sinks...),
	}

	a.supervisor = supervisor.New(supervisor.Options{
		Runtime: cfg.Runtime,
		WorkDir: workDir,
		SecretEnv: func() []string {
			return vault.EnvFor(a.vault, a.catalog.Providers())
		},
		Logger: logger,
	})
	a.executor = stream.New(stream.Options{
		Runtime:  a.supervisor,
		Rates:    a.rates,
		Ledger:   a.ledger,
		History:  a.history,
		Events:   a.bus,
		Interval: cfg.Stream.Interval(),
		Logger:   logger,
	})
	a.engine = orchestration.NewEngine(orchestration.Options{
		Dispatcher: a.executor,
		Rates:      a.rates,
		Events:     a.bus,
		Logger:     logger,
	})
	a.goblins = goblin.NewService(a.supervisor, a.history, logger)

	return a, nil
}

// Close stops streams and the worker.
func (a *App) Close() {
	a.executor.Close()
	if _, err := a.supervisor.Stop(); err != nil {
		a.logger.Warn("failed to stop runtime", "error", err)
	}
}

// sendEvent forwards a UI event name. Only accepted while the runtime runs.
func (a *App) sendEvent(_ context.Context, event string) (string, error) {
	if !a.supervisor.Status().Running {
		return "", errors.New(supervisor.MsgNotRunning)
	}
	a.logger.Debug("ui event", "event", event)
	return fmt.Sprintf("Event '%s' processed", event), nil
}
