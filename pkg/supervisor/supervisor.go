// Package supervisor owns the lifecycle of the goblin runtime worker process.
package supervisor

import (
	"bufio"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/goblinos/goblind/pkg/config"
	"github.com/goblinos/goblind/pkg/worker"
)

//go:embed bridge.js
var bridgeScript string

// Messages returned by Start and Stop.
const (
	MsgStarted        = "Runtime started"
	MsgAlreadyRunning = "Runtime is already running"
	MsgStopped        = "Runtime stopped"
	MsgNotRunning     = "Runtime is not running"
)

const (
	defaultKillGrace  = 2 * time.Second
	drainOutputWindow = 2 * time.Second
)

// Status is a snapshot of the runtime state.
type Status struct {
	Running bool   `json:"running"`
	Version string `json:"version"`
	// Uptime is not tracked and is always nil.
	Uptime *uint64 `json:"uptime"`
	Ready  bool    `json:"ready"`
	PID    int     `json:"pid,omitempty"`
}

// Options configures a Supervisor.
type Options struct {
	Runtime config.RuntimeConfig

	// WorkDir is where the runtime directory and goblins.yaml are searched
	// from. Empty means the process working directory.
	WorkDir string

	// SecretEnv returns extra KEY=value pairs for the worker, typically
	// provider API keys. Called on every start.
	SecretEnv func() []string

	Logger    *slog.Logger
	KillGrace time.Duration
}

// Supervisor starts, stops and talks to at most one worker process.
type Supervisor struct {
	opts   Options
	logger *slog.Logger

	mu   sync.Mutex
	proc *process

	starts singleflight.Group
}

type process struct {
	cmd     *exec.Cmd
	client  *worker.Client
	stdout  io.Closer
	stderr  io.Closer
	exited  chan struct{}
	waitErr error
}

// New creates a stopped supervisor.
func New(opts Options) *Supervisor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.KillGrace == 0 {
		opts.KillGrace = defaultKillGrace
	}
	if opts.Runtime.Command == "" {
		opts.Runtime.Command = "node"
	}
	if opts.Runtime.Version == "" {
		opts.Runtime.Version = "0.1.0"
	}
	return &Supervisor{
		opts:   opts,
		logger: logger.With("component", "supervisor"),
	}
}

// Start launches the worker unless one is already running. Concurrent calls
// share a single launch.
func (s *Supervisor) Start(ctx context.Context) (string, error) {
	if s.running() {
		return MsgAlreadyRunning, nil
	}

	v, err, _ := s.starts.Do("start", func() (any, error) {
		if s.running() {
			return MsgAlreadyRunning, nil
		}

		s.logger.Info("starting goblin runtime")
		p, err := s.launch(ctx)
		if err != nil {
			s.logger.Error("failed to start goblin runtime", "error", err)
			return "", err
		}

		s.mu.Lock()
		s.proc = p
		s.mu.Unlock()

		go s.watch(p)
		s.logger.Info("goblin runtime started", "pid", p.cmd.Process.Pid)
		return MsgStarted, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Stop terminates the worker. Stopping a stopped supervisor is a no-op.
func (s *Supervisor) Stop() (string, error) {
	s.mu.Lock()
	p := s.proc
	s.proc = nil
	s.mu.Unlock()

	if p == nil {
		return MsgNotRunning, nil
	}

	_ = p.client.Close()
	if err := terminateProcess(p.cmd, p.exited, s.opts.KillGrace); err != nil {
		s.logger.Warn("failed to kill goblin runtime", "pid", p.cmd.Process.Pid, "error", err)
	}
	s.logger.Info("goblin runtime stopped")
	return MsgStopped, nil
}

// Status reports whether the worker is running.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	p := s.proc
	s.mu.Unlock()

	st := Status{Version: s.opts.Runtime.Version}
	if p != nil {
		st.Running = true
		st.Ready = p.client.Ready()
		st.PID = p.cmd.Process.Pid
	}
	return st
}

// Call sends one request to the running worker.
func (s *Supervisor) Call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	s.mu.Lock()
	p := s.proc
	s.mu.Unlock()

	if p == nil {
		return nil, &worker.NotRunningError{}
	}
	return p.client.Call(ctx, method, params)
}

// Done is closed when the current worker session ends. When nothing is
// running the returned channel is already closed.
func (s *Supervisor) Done() <-chan struct{} {
	s.mu.Lock()
	p := s.proc
	s.mu.Unlock()

	if p == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return p.client.Done()
}

func (s *Supervisor) running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc != nil
}

func (s *Supervisor) launch(ctx context.Context) (*process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rc := s.opts.Runtime

	workDir := s.opts.WorkDir
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, &LaunchError{Stage: "locate", Err: fmt.Errorf("failed to get current dir: %w", err)}
		}
		workDir = wd
	}

	runtimeDir, err := config.LocateRuntimeDir(rc.Dir, workDir)
	if err != nil {
		return nil, &LaunchError{Stage: "locate", Err: err}
	}

	search := config.NewConfigSearch(rc)
	search.WorkDir = workDir
	goblinsConfig, err := search.Find()
	if err != nil {
		return nil, &LaunchError{Stage: "config", Err: err}
	}

	args := rc.Args
	if len(args) == 0 {
		args = []string{"-e", bridgeScript}
	}
	cmd := exec.Command(rc.Command, args...)
	cmd.Dir = runtimeDir
	cmd.Env = s.environ(goblinsConfig)
	configureProcess(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &LaunchError{Stage: "spawn", Err: fmt.Errorf("create stdin pipe: %w", err)}
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stdin.Close()
		return nil, &LaunchError{Stage: "spawn", Err: fmt.Errorf("create stdout pipe: %w", err)}
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdin.Close()
		stdoutR.Close()
		stdoutW.Close()
		return nil, &LaunchError{Stage: "spawn", Err: fmt.Errorf("create stderr pipe: %w", err)}
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		stdin.Close()
		for _, f := range []*os.File{stdoutR, stdoutW, stderrR, stderrW} {
			f.Close()
		}
		return nil, &LaunchError{Stage: "spawn", Err: err}
	}
	// The child holds its own copies.
	stdoutW.Close()
	stderrW.Close()

	s.logger.Debug("spawned goblin runtime",
		"command", rc.Command,
		"dir", runtimeDir,
		"config", goblinsConfig,
		"pid", cmd.Process.Pid)

	client := worker.NewClient(stdin, stdoutR,
		worker.WithLogger(s.logger),
		worker.WithReadyTimeout(rc.ReadyTimeout()))

	p := &process{
		cmd:    cmd,
		client: client,
		stdout: stdoutR,
		stderr: stderrR,
		exited: make(chan struct{}),
	}
	go s.logStderr(stderrR, cmd.Process.Pid)
	return p, nil
}

func (s *Supervisor) environ(goblinsConfig string) []string {
	env := append(os.Environ(),
		"GOBLINOS_CONFIG="+goblinsConfig,
		"GOBLIN_PROJECT_ROOT="+filepath.Dir(goblinsConfig),
	)

	keys := make([]string, 0, len(s.opts.Runtime.Env))
	for k := range s.opts.Runtime.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+s.opts.Runtime.Env[k])
	}

	if s.opts.SecretEnv != nil {
		env = append(env, s.opts.SecretEnv()...)
	}
	return env
}

// watch reaps the worker. A worker that exits on its own, or closes its
// output, clears the state so the next Start launches a fresh one. Output is
// drained after the state is cleared.
func (s *Supervisor) watch(p *process) {
	go func() {
		p.waitErr = p.cmd.Wait()
		close(p.exited)
	}()

	select {
	case <-p.exited:
	case <-p.client.Done():
		// The channel is dead. Give the worker a moment to exit, then make sure it does.
		select {
		case <-p.exited:
		case <-time.After(s.opts.KillGrace):
			if s.owns(p) {
				s.logger.Warn("goblin runtime closed its output, terminating", "pid", p.cmd.Process.Pid)
				if err := terminateProcess(p.cmd, p.exited, s.opts.KillGrace); err != nil {
					s.logger.Warn("failed to kill goblin runtime", "pid", p.cmd.Process.Pid, "error", err)
				}
			}
			<-p.exited
		}
	}

	s.mu.Lock()
	current := s.proc == p
	if current {
		s.proc = nil
	}
	s.mu.Unlock()

	if current {
		var exitErr *exec.ExitError
		if p.waitErr != nil && !errors.As(p.waitErr, &exitErr) {
			s.logger.Warn("goblin runtime wait failed", "error", p.waitErr)
		}
		s.logger.Warn("goblin runtime exited", "pid", p.cmd.Process.Pid, "state", p.cmd.ProcessState.String())
	}

	select {
	case <-p.client.Done():
	case <-time.After(drainOutputWindow):
	}
	_ = p.client.Close()
	_ = p.stdout.Close()
	_ = p.stderr.Close()
}

func (s *Supervisor) owns(p *process) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc == p
}

func (s *Supervisor) logStderr(r io.Reader, pid int) {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 4*1024*1024)
	for scanner.Scan() {
		s.logger.Debug(scanner.Text(), "source", "worker", "pid", pid)
	}
}
