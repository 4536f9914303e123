package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goblinos/goblind/pkg/rpc"
)

// register binds every command of the UI surface to the app.
func (a *App) register(server *rpc.Server) {
	server.Handle(rpc.CommandStartRuntime, func(ctx context.Context, _ json.RawMessage) (any, error) {
		return a.supervisor.Start(ctx)
	})
	server.Handle(rpc.CommandStopRuntime, func(context.Context, json.RawMessage) (any, error) {
		return a.supervisor.Stop()
	})
	server.Handle(rpc.CommandStatus, func(context.Context, json.RawMessage) (any, error) {
		return a.supervisor.Status(), nil
	})
	server.Handle(rpc.CommandSendEvent, rpc.Typed(func(ctx context.Context, req rpc.SendEventRequest) (any, error) {
		return a.sendEvent(ctx, req.Event)
	}))

	server.Handle(rpc.CommandListGoblins, func(ctx context.Context, _ json.RawMessage) (any, error) {
		return a.goblins.List(ctx)
	})
	server.Handle(rpc.CommandGetGoblinStats, rpc.Typed(func(ctx context.Context, req rpc.GoblinRequest) (any, error) {
		return a.goblins.Stats(ctx, req.GoblinID)
	}))
	server.Handle(rpc.CommandGetGoblinHistory, rpc.Typed(func(ctx context.Context, req rpc.HistoryRequest) (any, error) {
		return a.goblins.History(ctx, req.GoblinID, req.Limit)
	}))

	server.Handle(rpc.CommandGetProviders, func(context.Context, json.RawMessage) (any, error) {
		return a.catalog.Providers(), nil
	})
	server.Handle(rpc.CommandGetProviderModels, rpc.Typed(func(_ context.Context, req rpc.ProviderRequest) (any, error) {
		return a.catalog.Models(req.Provider), nil
	}))
	server.Handle(rpc.CommandGetCostSummary, func(context.Context, json.RawMessage) (any, error) {
		return a.ledger.Summary(), nil
	})

	server.Handle(rpc.CommandParseOrchestration, rpc.Typed(func(_ context.Context, req rpc.OrchestrationRequest) (any, error) {
		return a.engine.Preview(req.Text, req.DefaultGoblin), nil
	}))
	server.Handle(rpc.CommandExecuteOrchestration, rpc.Typed(func(ctx context.Context, req rpc.OrchestrationRequest) (any, error) {
		return a.engine.Execute(ctx, req.Text, req.DefaultGoblin), nil
	}))
	server.Handle(rpc.CommandEstimateCost, rpc.Typed(func(_ context.Context, req rpc.EstimateRequest) (any, error) {
		return a.engine.EstimateCost(req.OrchestrationText, req.CodeInput, req.Provider), nil
	}))

	server.Handle(rpc.CommandExecuteTask, rpc.Typed(func(ctx context.Context, req rpc.ExecuteTaskRequest) (any, error) {
		if req.GoblinID == "" {
			return nil, errors.New("goblinId is required")
		}
		var args any
		if len(req.Args) > 0 {
			if err := json.Unmarshal(req.Args, &args); err != nil {
				return nil, &rpc.InvalidDataError{Err: err}
			}
		}
		return a.executor.Dispatch(ctx, req.GoblinID, req.Task, args)
	}))
	server.Handle(rpc.CommandCancelTask, rpc.Typed(func(_ context.Context, req rpc.CancelTaskRequest) (any, error) {
		return map[string]bool{"cancelled": a.executor.Cancel(req.TaskID)}, nil
	}))

	server.Handle(rpc.CommandStoreAPIKey, rpc.Typed(a.storeAPIKey))
	server.Handle(rpc.CommandSetProviderAPIKey, rpc.Typed(a.storeAPIKey))
	server.Handle(rpc.CommandGetAPIKey, rpc.Typed(func(_ context.Context, req rpc.ProviderRequest) (any, error) {
		if err := requireProvider(req.Provider); err != nil {
			return nil, err
		}
		key, ok, err := a.vault.Get(req.Provider)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		return key, nil
	}))
	server.Handle(rpc.CommandClearAPIKey, rpc.Typed(func(_ context.Context, req rpc.ProviderRequest) (any, error) {
		if err := requireProvider(req.Provider); err != nil {
			return nil, err
		}
		return nil, a.vault.Clear(req.Provider)
	}))
}

func (a *App) storeAPIKey(_ context.Context, req rpc.APIKeyRequest) (any, error) {
	if err := requireProvider(req.Provider); err != nil {
		return nil, err
	}
	if req.Key == "" {
		return nil, errors.New("key is required")
	}
	return nil, a.vault.Store(req.Provider, req.Key)
}

func requireProvider(provider string) error {
	if strings.TrimSpace(provider) == "" {
		return errors.New("provider is required")
	}
	return nil
}

// runRPC serves the command surface until input closes.
func (a *App) runRPC(server *rpc.Server) error {
	a.register(server)
	a.bus.AddSink(server)

	server.Publish("server_start", map[string]any{
		"version":   a.cfg.Runtime.Version,
		"timestamp": time.Now().UnixMilli(),
	})

	a.logger.Info("RPC server started")
	err := server.Run()
	a.logger.Info("RPC server stopped, cleaning up")
	server.Close()
	if err != nil {
		return fmt.Errorf("rpc server: %w", err)
	}
	return nil
}
