// Package worker implements the newline-delimited JSON channel to the goblin
// runtime process.
package worker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultReadyTimeout bounds how long the first call waits for {"ready":true}.
const DefaultReadyTimeout = 10 * time.Second

// Client multiplexes calls over one worker's stdin/stdout. Replies are
// matched to callers by request id by a single reader goroutine, so Call is
// safe for concurrent use.
type Client struct {
	stdin        io.WriteCloser
	logger       *slog.Logger
	readyTimeout time.Duration

	writeMu sync.Mutex

	mu        sync.Mutex
	pending   map[string]chan callResult
	order     []string
	abandoned map[string]struct{}
	ready     bool
	err       error

	readyCh   chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	doneOnce  sync.Once
}

type callResult struct {
	resp Response
	err  error
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithReadyTimeout sets how long the first call waits for the ready signal.
// A non-positive timeout disables waiting.
func WithReadyTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.readyTimeout = d
	}
}

// NewClient starts reading stdout and returns a client writing to stdin.
func NewClient(stdin io.WriteCloser, stdout io.Reader, opts ...Option) *Client {
	c := &Client{
		stdin:        stdin,
		logger:       slog.Default(),
		readyTimeout: DefaultReadyTimeout,
		pending:      make(map[string]chan callResult),
		abandoned:    make(map[string]struct{}),
		readyCh:      make(chan struct{}),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.readyTimeout <= 0 {
		c.markReady()
	}

	go c.readLoop(stdout)
	return c
}

// Call sends method with params and waits for the matching reply.
func (c *Client) Call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	if c == nil {
		return nil, &NotRunningError{}
	}
	if err := c.waitReady(ctx); err != nil {
		return nil, err
	}

	req := Request{ID: method + "-" + uuid.NewString(), Method: method, Params: params}
	line, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", method, err)
	}
	line = append(line, '\n')

	ch := make(chan callResult, 1)
	if err := c.register(req.ID, ch); err != nil {
		return nil, err
	}

	if err := c.write(line); err != nil {
		c.forget(req.ID, false)
		return nil, &WriteError{Err: err}
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		if res.resp.HasError {
			return nil, &RemoteError{Method: method, Message: res.resp.Error}
		}
		return res.resp.Result, nil
	case <-ctx.Done():
		c.forget(req.ID, true)
		return nil, ctx.Err()
	}
}

// Ready reports whether the worker signalled readiness (or the ready wait timed out).
func (c *Client) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Done is closed once the client can no longer carry calls.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the terminal error after Done is closed.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close closes the worker's stdin and fails outstanding calls. It does not
// wait for writeMu: closing stdin is what unblocks a write stuck on a worker
// that stopped reading.
func (c *Client) Close() error {
	c.shutdown(&ReadError{Err: ErrStopped})
	return c.stdin.Close()
}

func (c *Client) waitReady(ctx context.Context) error {
	select {
	case <-c.readyCh:
		return nil
	default:
	}

	timer := time.NewTimer(c.readyTimeout)
	defer timer.Stop()

	select {
	case <-c.readyCh:
		return nil
	case <-c.done:
		return c.Err()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		c.logger.Warn("worker did not signal ready, proceeding", "timeout", c.readyTimeout)
		c.markReady()
		return nil
	}
}

func (c *Client) markReady() {
	c.mu.Lock()
	c.ready = true
	c.mu.Unlock()
	c.readyOnce.Do(func() { close(c.readyCh) })
}

func (c *Client) register(id string, ch chan callResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.pending[id] = ch
	c.order = append(c.order, id)
	return nil
}

// forget drops a pending id. An abandoned call was already written, so it
// keeps its slot in order: its late reply, with or without an id, consumes
// that slot and is dropped.
func (c *Client) forget(id string, abandon bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[id]; !ok {
		return
	}
	delete(c.pending, id)
	if abandon {
		c.abandoned[id] = struct{}{}
		return
	}
	c.removeOrderLocked(id)
}

// retireLocked removes every trace of id once its reply has been consumed.
func (c *Client) retireLocked(id string) {
	delete(c.pending, id)
	delete(c.abandoned, id)
	c.removeOrderLocked(id)
}

func (c *Client) removeOrderLocked(id string) {
	for i, pid := range c.order {
		if pid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *Client) write(line []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.stdin.Write(line)
	return err
}

func (c *Client) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	buf := make([]byte, 0, 1024*1024)
	scanner.Buffer(buf, 16*1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		c.handleLine(line)
	}

	err := scanner.Err()
	if err == nil {
		err = ErrOutputClosed
	}
	c.shutdown(&ReadError{Err: err})
}

func (c *Client) handleLine(line []byte) {
	resp, ready, ok := decodeLine(line)
	if !ok {
		c.logger.Debug("skipping non-JSON worker output", "line", truncate(string(line), 200))
		return
	}
	if ready {
		c.logger.Debug("worker ready")
		c.markReady()
		return
	}
	c.deliver(resp)
}

// deliver hands resp to the caller with the same id. Replies without a known
// id consume the oldest outstanding slot; if that call was abandoned the
// reply is dropped.
func (c *Client) deliver(resp Response) {
	c.mu.Lock()
	id := resp.ID
	ch, ok := c.pending[id]
	_, dead := c.abandoned[id]
	if !ok && !dead && len(c.order) > 0 {
		id = c.order[0]
		ch, ok = c.pending[id]
		_, dead = c.abandoned[id]
	}
	if ok || dead {
		c.retireLocked(id)
	}
	c.mu.Unlock()

	if dead {
		c.logger.Debug("dropping reply for abandoned call", "replyId", resp.ID, "requestId", id)
		return
	}
	if !ok {
		c.logger.Debug("dropping unsolicited worker reply", "id", resp.ID)
		return
	}
	if id != resp.ID {
		c.logger.Debug("worker reply matched by position", "replyId", resp.ID, "requestId", id)
	}
	ch <- callResult{resp: resp}
}

func (c *Client) shutdown(err error) {
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return
	}
	c.err = err
	pending := c.pending
	c.pending = make(map[string]chan callResult)
	c.abandoned = make(map[string]struct{})
	c.order = nil
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- callResult{err: err}
	}
	c.doneOnce.Do(func() { close(c.done) })
}

func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[:limit-3] + "..."
}
