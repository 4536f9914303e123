package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goblinos/goblind/pkg/config"
	"github.com/goblinos/goblind/pkg/rpc"
	"github.com/goblinos/goblind/pkg/vault"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Stream.IntervalMs = 1
	app, err := newApp(cfg, nil, appOptions{Vault: vault.NewMemory(), WorkDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(app.Close)
	return app
}

// exchange runs the command lines through a fresh rpc server and returns
// the responses keyed by id.
func exchange(t *testing.T, app *App, commands ...string) map[string]rpc.RPCResponse {
	t.Helper()
	out := &lockedBuffer{}
	server := rpc.NewServer(strings.NewReader(strings.Join(commands, "\n")), out, nil)
	require.NoError(t, app.runRPC(server))

	responses := make(map[string]rpc.RPCResponse)
	scanner := bufio.NewScanner(strings.NewReader(out.String()))
	for scanner.Scan() {
		var resp rpc.RPCResponse
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
		if resp.Type == "response" {
			responses[resp.ID] = resp
		}
	}
	return responses
}

func cmdLine(id, typ string, data any) string {
	raw, _ := json.Marshal(map[string]any{"id": id, "type": typ, "data": data})
	return string(raw)
}

func TestRuntimeCommandsWhenStopped(t *testing.T) {
	app := newTestApp(t)

	got := exchange(t, app,
		cmdLine("status", rpc.CommandStatus, nil),
		cmdLine("stop", rpc.CommandStopRuntime, nil),
		cmdLine("event", rpc.CommandSendEvent, map[string]string{"event": "refresh"}),
		cmdLine("start", rpc.CommandStartRuntime, nil),
	)

	status := got["status"].Data.(map[string]any)
	assert.Equal(t, false, status["running"])
	assert.Equal(t, "0.1.0", status["version"])
	assert.Nil(t, status["uptime"])

	assert.True(t, got["stop"].Success)
	assert.Equal(t, "Runtime is not running", got["stop"].Data)

	assert.False(t, got["event"].Success)
	assert.Equal(t, "Runtime is not running", got["event"].Error)

	// The temp work dir has no goblin-runtime directory.
	assert.False(t, got["start"].Success)
	assert.NotEmpty(t, got["start"].Error)
}

func TestGoblinHistoryFallsBackToLocalStore(t *testing.T) {
	app := newTestApp(t)
	app.history.Record("websmith", "first")
	app.history.Record("websmith", "second")

	got := exchange(t, app,
		cmdLine("h", rpc.CommandGetGoblinHistory, map[string]any{"goblinId": "websmith", "limit": 1}),
		cmdLine("l", rpc.CommandListGoblins, nil),
	)

	require.True(t, got["h"].Success)
	entries := got["h"].Data.([]any)
	require.Len(t, entries, 1)
	assert.Equal(t, "second", entries[0].(map[string]any)["message"])

	assert.False(t, got["l"].Success)
	assert.Equal(t, "runtime is not running", got["l"].Error)
}

func TestProviderCommands(t *testing.T) {
	app := newTestApp(t)

	got := exchange(t, app,
		cmdLine("p", rpc.CommandGetProviders, nil),
		cmdLine("m", rpc.CommandGetProviderModels, map[string]string{"provider": "anthropic"}),
		cmdLine("u", rpc.CommandGetProviderModels, map[string]string{"provider": "nobody"}),
		cmdLine("c", rpc.CommandGetCostSummary, nil),
	)

	assert.Contains(t, got["p"].Data, "ollama")
	assert.NotEmpty(t, got["m"].Data)
	assert.Equal(t, []any{}, got["u"].Data)

	summary := got["c"].Data.(map[string]any)
	assert.Equal(t, float64(0), summary["total_cost"])
}

func TestAPIKeyCommands(t *testing.T) {
	app := newTestApp(t)

	got := exchange(t, app,
		cmdLine("store", rpc.CommandStoreAPIKey, map[string]string{"provider": "openai", "key": "sk-1"}),
		cmdLine("set", rpc.CommandSetProviderAPIKey, map[string]string{"provider": "gemini", "key": "g-1"}),
		cmdLine("missing", rpc.CommandStoreAPIKey, map[string]string{"provider": "openai"}),
	)
	assert.True(t, got["store"].Success)
	assert.True(t, got["set"].Success)
	assert.False(t, got["missing"].Success)

	got = exchange(t, app,
		cmdLine("get", rpc.CommandGetAPIKey, map[string]string{"provider": "openai"}),
		cmdLine("absent", rpc.CommandGetAPIKey, map[string]string{"provider": "deepseek"}),
		cmdLine("clear", rpc.CommandClearAPIKey, map[string]string{"provider": "gemini"}),
		cmdLine("clear-absent", rpc.CommandClearAPIKey, map[string]string{"provider": "deepseek"}),
	)
	assert.Equal(t, "sk-1", got["get"].Data)
	assert.True(t, got["absent"].Success)
	assert.Nil(t, got["absent"].Data)
	assert.True(t, got["clear"].Success)
	assert.True(t, got["clear-absent"].Success)

	assert.Equal(t, []string{"OPENAI_API_KEY=sk-1"}, vault.EnvFor(app.vault, app.catalog.Providers()))
}

func TestOrchestrationCommands(t *testing.T) {
	app := newTestApp(t)

	got := exchange(t, app,
		cmdLine("parse", rpc.CommandParseOrchestration, map[string]string{"text": "websmith: build page THEN review"}),
		cmdLine("estimate", rpc.CommandEstimateCost, map[string]string{"orchestrationText": "write docs"}),
		cmdLine("exec", rpc.CommandExecuteOrchestration, map[string]string{"text": "a: one THEN b: two"}),
		cmdLine("task", rpc.CommandExecuteTask, map[string]any{"goblinId": "websmith", "task": "x"}),
		cmdLine("cancel", rpc.CommandCancelTask, map[string]string{"taskId": "nope"}),
	)

	plan := got["parse"].Data.(map[string]any)
	steps := plan["steps"].([]any)
	require.Len(t, steps, 2)
	assert.Equal(t, "websmith", steps[1].(map[string]any)["goblin"])
	assert.Equal(t, "pending", plan["status"])

	estimate := got["estimate"].Data.(map[string]any)
	assert.Equal(t, "openai", estimate["provider"])
	assert.Equal(t, "USD", estimate["currency"])

	executed := got["exec"].Data.(map[string]any)
	assert.Equal(t, "failed", executed["status"])
	for _, s := range executed["steps"].([]any) {
		step := s.(map[string]any)
		assert.Equal(t, "failed", step["status"])
		assert.Equal(t, "runtime is not running", step["result"].(map[string]any)["error"])
	}

	assert.False(t, got["task"].Success)
	assert.Equal(t, map[string]any{"cancelled": false}, got["cancel"].Data)
}

func TestRootPlanCommand(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "goblind.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{"vault":{"backend":"memory"},"log":{"level":"error"}}`), 0644))

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"--config", cfgPath, "plan", "--goblin", "scribe", "draft", "THEN", "coder:", "ship"})
	require.NoError(t, root.Execute())

	var plan map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &plan))
	steps := plan["steps"].([]any)
	require.Len(t, steps, 2)
	assert.Equal(t, "scribe", steps[0].(map[string]any)["goblin"])
	assert.Equal(t, "coder", steps[1].(map[string]any)["goblin"])
	assert.Equal(t, "ship", steps[1].(map[string]any)["task"])
}

func TestEventPrinterWritesLines(t *testing.T) {
	var out lockedBuffer
	sink := eventPrinter(&out)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sink.Publish("task-stream", map[string]string{"taskId": fmt.Sprint(i)})
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 10)
	for _, line := range lines {
		var ev rpc.RPCEvent
		require.NoError(t, json.Unmarshal([]byte(line), &ev))
		assert.Equal(t, "task-stream", ev.Event)
	}
}
