package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer collects server output safely across goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) lines(t *testing.T) []map[string]any {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []map[string]any
	scanner := bufio.NewScanner(strings.NewReader(b.buf.String()))
	for scanner.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &m))
		out = append(out, m)
	}
	return out
}

func byID(lines []map[string]any) map[string]map[string]any {
	out := make(map[string]map[string]any)
	for _, l := range lines {
		if id, ok := l["id"].(string); ok {
			out[id] = l
		}
	}
	return out
}

func TestHandleCommand(t *testing.T) {
	server := NewServer(strings.NewReader(""), io.Discard, nil)
	server.Handle(CommandGetGoblinStats, Typed(func(ctx context.Context, req GoblinRequest) (any, error) {
		return map[string]string{"id": req.GoblinID}, nil
	}))
	server.Handle(CommandStopRuntime, func(context.Context, json.RawMessage) (any, error) {
		return nil, errors.New("boom")
	})

	resp := server.handleCommand(RPCCommand{ID: "1", Type: CommandGetGoblinStats, Data: json.RawMessage(`{"goblinId":"websmith"}`)})
	assert.True(t, resp.Success)
	assert.Equal(t, "response", resp.Type)
	assert.Equal(t, CommandGetGoblinStats, resp.Command)
	assert.Equal(t, map[string]string{"id": "websmith"}, resp.Data)

	resp = server.handleCommand(RPCCommand{ID: "2", Type: CommandStopRuntime})
	assert.False(t, resp.Success)
	assert.Equal(t, "boom", resp.Error)

	resp = server.handleCommand(RPCCommand{ID: "3", Type: "fly"})
	assert.False(t, resp.Success)
	assert.Equal(t, "Unknown command: fly", resp.Error)

	resp = server.handleCommand(RPCCommand{ID: "4", Type: CommandGetGoblinStats, Data: json.RawMessage(`[1]`)})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "Invalid data")
}

func TestHandlerPanicBecomesError(t *testing.T) {
	server := NewServer(strings.NewReader(""), io.Discard, nil)
	server.Handle(CommandStatus, func(context.Context, json.RawMessage) (any, error) {
		panic("nil map")
	})

	resp := server.handleCommand(RPCCommand{ID: "1", Type: CommandStatus})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "nil map")
}

func TestRunProcessesStream(t *testing.T) {
	input := strings.Join([]string{
		`{"id":"a","type":"ping"}`,
		`not json`,
		``,
		`{"id":"b","type":"get_providers"}`,
		`{"id":"c","type":"missing"}`,
	}, "\n")
	out := &syncBuffer{}
	server := NewServer(strings.NewReader(input), out, nil)
	server.Handle(CommandGetProviders, func(context.Context, json.RawMessage) (any, error) {
		return []string{"ollama", "openai"}, nil
	})

	require.NoError(t, server.Run())

	lines := out.lines(t)
	require.Len(t, lines, 4)
	responses := byID(lines)

	assert.Equal(t, true, responses["a"]["success"])
	assert.Equal(t, "ok", responses["a"]["data"].(map[string]any)["status"])
	assert.Equal(t, []any{"ollama", "openai"}, responses["b"]["data"])
	assert.Equal(t, false, responses["c"]["success"])

	var parseErrors int
	for _, l := range lines {
		if msg, ok := l["error"].(string); ok && strings.HasPrefix(msg, "Failed to parse command") {
			parseErrors++
		}
	}
	assert.Equal(t, 1, parseErrors)
}

func TestSlowCommandDoesNotBlockOthers(t *testing.T) {
	release := make(chan struct{})
	pr, pw := io.Pipe()
	out := &syncBuffer{}
	server := NewServer(pr, out, nil)
	server.Handle(CommandExecuteOrchestration, func(ctx context.Context, _ json.RawMessage) (any, error) {
		<-release
		return "done", nil
	})

	runErr := make(chan error, 1)
	go func() { runErr <- server.Run() }()

	_, err := io.WriteString(pw, `{"id":"slow","type":"execute_orchestration"}`+"\n"+`{"id":"fast","type":"ping"}`+"\n")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := byID(out.lines(t))["fast"]
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	_, slowDone := byID(out.lines(t))["slow"]
	assert.False(t, slowDone)

	close(release)
	require.NoError(t, pw.Close())
	require.NoError(t, <-runErr)
	assert.Contains(t, byID(out.lines(t)), "slow")
}

func TestPublishWritesEvent(t *testing.T) {
	out := &syncBuffer{}
	server := NewServer(strings.NewReader(""), out, nil)

	server.Publish("task-stream", map[string]any{"taskId": "t1", "progress": 0.5})
	server.Publish("bad", func() {})

	lines := out.lines(t)
	require.Len(t, lines, 1)
	assert.Equal(t, "event", lines[0]["type"])
	assert.Equal(t, "task-stream", lines[0]["event"])
	assert.Equal(t, "t1", lines[0]["data"].(map[string]any)["taskId"])
}

func TestTypedAcceptsMissingData(t *testing.T) {
	var got HistoryRequest
	h := Typed(func(ctx context.Context, req HistoryRequest) (any, error) {
		got = req
		return nil, nil
	})

	_, err := h(context.Background(), nil)
	require.NoError(t, err)
	_, err = h(context.Background(), json.RawMessage("null"))
	require.NoError(t, err)
	assert.Equal(t, HistoryRequest{}, got)

	_, err = h(context.Background(), json.RawMessage(`{"goblinId":"g","limit":3}`))
	require.NoError(t, err)
	assert.Equal(t, HistoryRequest{GoblinID: "g", Limit: 3}, got)
}

func TestCommandParsing(t *testing.T) {
	var cmd RPCCommand
	require.NoError(t, json.Unmarshal([]byte(`{"type":"execute_task","id":"x","data":{"goblinId":"g","task":"t","args":{"provider":"openai"}}}`), &cmd))
	assert.Equal(t, CommandExecuteTask, cmd.Type)

	var req ExecuteTaskRequest
	require.NoError(t, json.Unmarshal(cmd.Data, &req))
	assert.Equal(t, "g", req.GoblinID)
	assert.JSONEq(t, `{"provider":"openai"}`, string(req.Args))
}
