package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// HandlerFunc serves one command. The returned value becomes the response data.
type HandlerFunc func(ctx context.Context, data json.RawMessage) (any, error)

// Server handles RPC communication over a line-oriented JSON stream.
// Each command runs on its own goroutine; responses carry the command id.
type Server struct {
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger

	in      io.Reader
	writeMu sync.Mutex
	out     *bufio.Writer

	handlers map[string]HandlerFunc
}

// NewServer creates a server reading commands from in and writing responses
// and events to out.
func NewServer(in io.Reader, out io.Writer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger.With("component", "rpc"),
		in:       in,
		out:      bufio.NewWriter(out),
		handlers: make(map[string]HandlerFunc),
	}
	s.Handle(CommandPing, func(context.Context, json.RawMessage) (any, error) {
		return map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		}, nil
	})
	return s
}

// Handle registers the handler for a command, replacing any previous one.
func (s *Server) Handle(command string, handler HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[command] = handler
}

// InvalidDataError reports a command payload that could not be decoded.
type InvalidDataError struct {
	Err error
}

func (e *InvalidDataError) Error() string {
	return fmt.Sprintf("Invalid data: %v", e.Err)
}

func (e *InvalidDataError) Unwrap() error { return e.Err }

// Typed adapts a handler taking a decoded request struct.
func Typed[T any](fn func(ctx context.Context, req T) (any, error)) HandlerFunc {
	return func(ctx context.Context, data json.RawMessage) (any, error) {
		var req T
		if len(data) > 0 && string(data) != "null" {
			if err := json.Unmarshal(data, &req); err != nil {
				return nil, &InvalidDataError{Err: err}
			}
		}
		return fn(ctx, req)
	}
}

// Run reads commands until the input closes, then waits for in-flight
// commands to finish.
func (s *Server) Run() error {
	scanner := bufio.NewScanner(s.in)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var cmd RPCCommand
		if err := json.Unmarshal(line, &cmd); err != nil {
			s.sendResponse(s.errorResponse("", "", fmt.Sprintf("Failed to parse command: %v", err)))
			continue
		}

		s.wg.Add(1)
		go func(cmd RPCCommand) {
			defer s.wg.Done()
			s.sendResponse(s.handleCommand(cmd))
		}(cmd)
	}

	s.logger.Debug("input closed, waiting for in-flight commands")
	s.wg.Wait()

	if err := scanner.Err(); err != nil && err != io.EOF {
		return err
	}
	return nil
}

// handleCommand processes a single command.
func (s *Server) handleCommand(cmd RPCCommand) (resp RPCResponse) {
	s.mu.RLock()
	handler, ok := s.handlers[cmd.Type]
	s.mu.RUnlock()

	if !ok {
		return s.errorResponse(cmd.ID, cmd.Type, fmt.Sprintf("Unknown command: %s", cmd.Type))
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("command panicked", "command", cmd.Type, "panic", r)
			resp = s.errorResponse(cmd.ID, cmd.Type, fmt.Sprintf("internal error: %v", r))
		}
	}()

	data, err := handler(s.ctx, cmd.Data)
	if err != nil {
		s.logger.Debug("command failed", "command", cmd.Type, "error", err)
		return s.errorResponse(cmd.ID, cmd.Type, err.Error())
	}
	return s.successResponse(cmd.ID, cmd.Type, data)
}

// successResponse creates a successful response.
func (s *Server) successResponse(id, command string, data any) RPCResponse {
	return RPCResponse{
		ID:      id,
		Type:    "response",
		Command: command,
		Success: true,
		Data:    data,
	}
}

// errorResponse creates an error response.
func (s *Server) errorResponse(id, command, errMsg string) RPCResponse {
	return RPCResponse{
		ID:      id,
		Type:    "response",
		Command: command,
		Success: false,
		Error:   errMsg,
	}
}

func (s *Server) sendResponse(resp RPCResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("failed to encode response", "command", resp.Command, "error", err)
		data, _ = json.Marshal(s.errorResponse(resp.ID, resp.Command, fmt.Sprintf("failed to encode response: %v", err)))
	}
	s.writeLine(data)
}

// Publish writes an event line. It implements events.Sink.
func (s *Server) Publish(name string, payload any) {
	data, err := json.Marshal(RPCEvent{Type: "event", Event: name, Data: payload})
	if err != nil {
		s.logger.Warn("failed to encode event", "event", name, "error", err)
		return
	}
	s.writeLine(data)
}

func (s *Server) writeLine(data []byte) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.out.Write(data)
	s.out.WriteByte('\n')
	if err := s.out.Flush(); err != nil {
		s.logger.Warn("failed to write to client", "error", err)
	}
}

// Context returns the server's context. It is cancelled by Close.
func (s *Server) Context() context.Context {
	return s.ctx
}

// Close cancels the context handed to running commands.
func (s *Server) Close() {
	s.cancel()
}
