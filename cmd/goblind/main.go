// Command goblind supervises the goblin runtime and serves its command surface.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/goblinos/goblind/pkg/config"
	"github.com/goblinos/goblind/pkg/events"
	debughttp "github.com/goblinos/goblind/pkg/http"
	"github.com/goblinos/goblind/pkg/logger"
	"github.com/goblinos/goblind/pkg/rpc"
)

type rootFlags struct {
	configPath string
	debug      bool
	httpAddr   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("goblind failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "goblind",
		Short:         "Goblin runtime supervisor and orchestration engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (default ~/.goblinos/goblind.json)")
	root.PersistentFlags().BoolVar(&flags.debug, "debug", false, "enable debug logging")
	root.PersistentFlags().StringVar(&flags.httpAddr, "http", "", "enable the debug HTTP server on this address (e.g. ':6060')")

	root.AddCommand(
		newRPCCmd(flags),
		newPlanCmd(flags),
		newEstimateCmd(flags),
		newRunCmd(flags),
		newTaskCmd(flags),
		newProvidersCmd(flags),
	)
	return root
}

// setup loads config, installs the default logger and builds the app.
func setup(flags *rootFlags, opts appOptions) (*App, func(), error) {
	configPath := flags.configPath
	if configPath == "" {
		var err error
		if configPath, err = config.GetDefaultConfigPath(); err != nil {
			return nil, nil, fmt.Errorf("failed to get config path: %w", err)
		}
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	level := logger.ParseLogLevel(cfg.Log.Level)
	if flags.debug {
		level = slog.LevelDebug
	}
	log, logCloser, err := logger.New(logger.Config{
		Level:    level,
		Format:   cfg.Log.Format,
		FilePath: cfg.Log.File,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	slog.SetDefault(log)
	log.Debug("loaded configuration", "path", configPath)

	app, err := newApp(cfg, log, opts)
	if err != nil {
		logCloser.Close()
		return nil, nil, err
	}

	var debugSrv *debughttp.Server
	if flags.httpAddr != "" {
		debugSrv = debughttp.NewServer(flags.httpAddr,
			debughttp.NewMetricsHandler(app.supervisor, app.executor, app.ledger, app.bus),
			debughttp.NewEventsHandler(app.bus, log),
			log)
		if _, err := debugSrv.Start(); err != nil {
			log.Warn("debug server disabled", "addr", flags.httpAddr, "error", err)
			debugSrv = nil
		}
	}

	cleanup := func() {
		app.Close()
		if debugSrv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			debugSrv.Shutdown(ctx)
		}
		logCloser.Close()
	}
	return app, cleanup, nil
}

func newRPCCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "rpc",
		Short: "Serve JSON commands on stdin/stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := setup(flags, appOptions{})
			if err != nil {
				return err
			}
			defer cleanup()

			server := rpc.NewServer(cmd.InOrStdin(), cmd.OutOrStdout(), app.logger)
			return app.runRPC(server)
		},
	}
}

func newPlanCmd(flags *rootFlags) *cobra.Command {
	var defaultGoblin string
	cmd := &cobra.Command{
		Use:   "plan <text>",
		Short: "Parse orchestration text into a plan without running it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := setup(flags, appOptions{})
			if err != nil {
				return err
			}
			defer cleanup()
			return printJSON(cmd.OutOrStdout(), app.engine.Preview(strings.Join(args, " "), defaultGoblin))
		},
	}
	cmd.Flags().StringVar(&defaultGoblin, "goblin", "", "goblin for steps without a goblin: prefix")
	return cmd
}

func newEstimateCmd(flags *rootFlags) *cobra.Command {
	var provider, codeFile string
	cmd := &cobra.Command{
		Use:   "estimate <text>",
		Short: "Estimate the cost of an orchestration",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var code string
			if codeFile != "" {
				data, err := os.ReadFile(codeFile)
				if err != nil {
					return fmt.Errorf("failed to read code input: %w", err)
				}
				code = string(data)
			}

			app, cleanup, err := setup(flags, appOptions{})
			if err != nil {
				return err
			}
			defer cleanup()
			return printJSON(cmd.OutOrStdout(), app.engine.EstimateCost(strings.Join(args, " "), code, provider))
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "provider whose default rate is used (default openai)")
	cmd.Flags().StringVar(&codeFile, "code", "", "file whose contents are sent as code context")
	return cmd
}

func newRunCmd(flags *rootFlags) *cobra.Command {
	var defaultGoblin string
	cmd := &cobra.Command{
		Use:   "run <text>",
		Short: "Start the runtime and execute an orchestration",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			app, cleanup, err := setup(flags, appOptions{Sinks: []events.Sink{eventPrinter(out)}})
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if _, err := app.supervisor.Start(ctx); err != nil {
				return err
			}
			plan := app.engine.Execute(ctx, strings.Join(args, " "), defaultGoblin)
			if err := printJSON(out, plan); err != nil {
				return err
			}
			if plan.Failed() {
				return errors.New("orchestration failed")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&defaultGoblin, "goblin", "", "goblin for steps without a goblin: prefix")
	return cmd
}

func newTaskCmd(flags *rootFlags) *cobra.Command {
	var argsJSON string
	cmd := &cobra.Command{
		Use:   "task <goblin> <task>",
		Short: "Dispatch one task and stream its progress",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var taskArgs any
			if argsJSON != "" {
				if err := json.Unmarshal([]byte(argsJSON), &taskArgs); err != nil {
					return fmt.Errorf("invalid --args: %w", err)
				}
			}

			out := cmd.OutOrStdout()
			app, cleanup, err := setup(flags, appOptions{Sinks: []events.Sink{eventPrinter(out)}})
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if _, err := app.supervisor.Start(ctx); err != nil {
				return err
			}
			taskID, err := app.executor.Dispatch(ctx, args[0], strings.Join(args[1:], " "), taskArgs)
			if err != nil {
				return err
			}
			app.logger.Info("task dispatched", "taskId", taskID)

			go func() {
				<-ctx.Done()
				app.executor.Cancel(taskID)
			}()
			app.executor.Wait()
			return nil
		},
	}
	cmd.Flags().StringVar(&argsJSON, "args", "", "task context as JSON (e.g. '{\"provider\":\"openai\"}')")
	return cmd
}

func newProvidersCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "providers [provider]",
		Short: "List providers, or the models of one provider",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := setup(flags, appOptions{})
			if err != nil {
				return err
			}
			defer cleanup()

			if len(args) == 1 {
				return printJSON(cmd.OutOrStdout(), app.catalog.Models(args[0]))
			}
			return printJSON(cmd.OutOrStdout(), app.catalog.Providers())
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// eventPrinter writes each event as one JSON line.
func eventPrinter(w io.Writer) events.Sink {
	var mu sync.Mutex
	enc := json.NewEncoder(w)
	return events.SinkFunc(func(name string, payload any) {
		mu.Lock()
		defer mu.Unlock()
		enc.Encode(rpc.RPCEvent{Type: "event", Event: name, Data: payload})
	})
}
