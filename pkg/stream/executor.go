// Package stream dispatches single goblin tasks and emits simulated progress
// for them.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/goblinos/goblind/pkg/cost"
	"github.com/goblinos/goblind/pkg/events"
	"github.com/goblinos/goblind/pkg/history"
	"github.com/goblinos/goblind/pkg/worker"
)

const (
	// DefaultInterval is the pause before each chunk.
	DefaultInterval = 500 * time.Millisecond
	// DefaultChunks is used when the worker does not advertise chunks.
	DefaultChunks = 5

	unknownProvider = "unknown"
)

// Runtime is the worker connection tasks are dispatched through.
type Runtime interface {
	Call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error)
	// Done is closed when the current worker session ends.
	Done() <-chan struct{}
}

// Options configures an Executor.
type Options struct {
	Runtime  Runtime
	Rates    *cost.Table
	Ledger   *cost.Ledger
	History  *history.Store
	Events   events.Sink
	Interval time.Duration
	Logger   *slog.Logger
}

// Executor sends tasks to the worker and runs one progress stream per
// dispatched task.
type Executor struct {
	opts   Options
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	runs map[string][]*run

	active    atomic.Int64
	completed atomic.Int64
	cancelled atomic.Int64
}

type run struct {
	taskID   string
	goblin   string
	task     string
	args     any
	response json.RawMessage
	provider string
	hasProv  bool
	model    string
	cancel   context.CancelFunc
	done     <-chan struct{}
}

// New creates an executor.
func New(opts Options) *Executor {
	if opts.Rates == nil {
		opts.Rates = cost.DefaultTable()
	}
	if opts.Events == nil {
		opts.Events = events.Discard
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		opts:   opts,
		logger: logger.With("component", "stream"),
		ctx:    ctx,
		cancel: cancel,
		runs:   make(map[string][]*run),
	}
}

// Send dispatches the task and returns its id and the worker's response
// without starting a progress stream.
func (e *Executor) Send(ctx context.Context, goblin, task string, args any) (string, json.RawMessage, error) {
	if e.opts.Runtime == nil {
		return "", nil, &worker.NotRunningError{}
	}
	params := map[string]any{
		"task": map[string]any{
			"goblin":        goblin,
			"task":          task,
			"system_prompt": SystemPrompt(task),
			"context":       args,
		},
	}
	resp, err := e.opts.Runtime.Call(ctx, worker.MethodExecuteTask, params)
	if err != nil {
		return "", nil, err
	}

	taskID := ""
	if v := gjson.GetBytes(resp, "taskId"); v.Type == gjson.String {
		taskID = v.String()
	}
	if taskID == "" {
		taskID = fmt.Sprintf("task_%s_%s", goblin, uuid.NewString())
	}

	if e.opts.History != nil {
		e.opts.History.Record(goblin, fmt.Sprintf("%s (%s)", task, taskID))
	}
	e.logger.Debug("task dispatched", "goblin", goblin, "task", task, "taskId", taskID)
	return taskID, resp, nil
}

// Dispatch sends the task and starts its progress stream in the background.
// It returns once the worker accepted the task.
func (e *Executor) Dispatch(ctx context.Context, goblin, task string, args any) (string, error) {
	taskID, resp, err := e.Send(ctx, goblin, task, args)
	if err != nil {
		return "", err
	}

	runCtx, cancel := context.WithCancel(e.ctx)
	r := &run{
		taskID:   taskID,
		goblin:   goblin,
		task:     task,
		args:     args,
		response: resp,
		cancel:   cancel,
		done:     e.opts.Runtime.Done(),
	}
	r.provider, r.hasProv, r.model = providerAndModel(args)

	e.mu.Lock()
	e.runs[taskID] = append(e.runs[taskID], r)
	e.mu.Unlock()

	e.active.Add(1)
	e.wg.Add(1)
	go e.stream(runCtx, r)
	return taskID, nil
}

// Cancel stops the progress streams of taskID. It reports whether any was running.
func (e *Executor) Cancel(taskID string) bool {
	e.mu.Lock()
	runs := e.runs[taskID]
	e.mu.Unlock()

	for _, r := range runs {
		r.cancel()
	}
	return len(runs) > 0
}

// Close cancels every stream and waits for them to stop.
func (e *Executor) Close() {
	e.cancel()
	e.wg.Wait()
}

// Wait blocks until all running streams have finished.
func (e *Executor) Wait() {
	e.wg.Wait()
}

// Stats reports stream counts.
func (e *Executor) Stats() Stats {
	return Stats{
		Active:    e.active.Load(),
		Completed: e.completed.Load(),
		Cancelled: e.cancelled.Load(),
	}
}

func (e *Executor) stream(ctx context.Context, r *run) {
	defer e.wg.Done()
	defer e.forget(r)
	defer r.cancel()

	chunks := chunkCount(r.response)
	provider := r.provider
	if !r.hasProv {
		provider = unknownProvider
	}

	timer := time.NewTimer(e.opts.Interval)
	defer timer.Stop()

	for i := 0; i < chunks; i++ {
		if i > 0 {
			timer.Reset(e.opts.Interval)
		}
		select {
		case <-ctx.Done():
			e.stopped(r, "cancelled")
			return
		case <-r.done:
			e.stopped(r, "runtime stopped")
			return
		case <-timer.C:
		}

		text := chunkText(i, r.task, r.goblin)
		tokens := cost.EstimateTokens(text)
		delta := e.opts.Rates.EstimateCost(provider, r.model, tokens)
		if e.opts.Ledger != nil {
			e.opts.Ledger.Record(provider, r.model, tokens, delta)
		}

		e.opts.Events.Publish(events.TaskStream, Progress{
			TaskID:     r.taskID,
			Chunk:      text,
			Progress:   progress(i, chunks),
			Provider:   provider,
			CostDelta:  delta,
			TokenCount: tokens,
		})
	}

	// Total is recomputed from the chunk texts, not summed from the deltas.
	var total float64
	for i := 0; i < chunks; i++ {
		total += e.opts.Rates.EstimateCost(provider, r.model, cost.EstimateTokens(chunkText(i, r.task, r.goblin)))
	}

	result := Result{
		TaskID: r.taskID,
		Goblin: r.goblin,
		Task:   r.task,
		Args:   r.args,
		Result: r.response,
		Cost:   total,
	}
	if r.hasProv {
		p := r.provider
		result.Provider = &p
	}
	e.opts.Events.Publish(events.TaskStream, result)

	e.active.Add(-1)
	e.completed.Add(1)
	e.logger.Debug("task stream finished", "taskId", r.taskID, "chunks", chunks, "cost", total)
}

func (e *Executor) stopped(r *run, reason string) {
	e.active.Add(-1)
	e.cancelled.Add(1)
	e.logger.Debug("task stream stopped", "taskId", r.taskID, "reason", reason)
}

func (e *Executor) forget(r *run) {
	e.mu.Lock()
	defer e.mu.Unlock()

	runs := e.runs[r.taskID]
	for i, other := range runs {
		if other == r {
			runs = append(runs[:i], runs[i+1:]...)
			break
		}
	}
	if len(runs) == 0 {
		delete(e.runs, r.taskID)
	} else {
		e.runs[r.taskID] = runs
	}
}

func chunkText(i int, task, goblin string) string {
	return fmt.Sprintf("Chunk %d for task %s on %s", i, task, goblin)
}

// progress is i/(chunks-1); a single chunk is complete at once.
func progress(i, chunks int) float64 {
	if chunks <= 1 {
		return 1.0
	}
	return float64(i) / float64(chunks-1)
}

func chunkCount(resp json.RawMessage) int {
	if v := gjson.GetBytes(resp, "chunks"); v.IsArray() {
		return len(v.Array())
	}
	return DefaultChunks
}

func providerAndModel(args any) (provider string, ok bool, model string) {
	if args == nil {
		return "", false, ""
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "", false, ""
	}
	if v := gjson.GetBytes(data, "provider"); v.Type == gjson.String {
		provider, ok = v.String(), true
	}
	if v := gjson.GetBytes(data, "model"); v.Type == gjson.String {
		model = v.String()
	}
	return provider, ok, model
}
