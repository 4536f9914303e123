package orchestration

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/goblinos/goblind/pkg/cost"
	"github.com/goblinos/goblind/pkg/events"
	"github.com/goblinos/goblind/pkg/worker"
)

// Defaults used by EstimateCost.
const (
	EstimateGoblin   = "code-writer"
	EstimateProvider = "openai"
	outputMultiplier = 2
)

// Dispatcher sends one task to the worker and returns its task id. It must
// not start any progress streaming.
type Dispatcher interface {
	Send(ctx context.Context, goblin, task string, args any) (string, json.RawMessage, error)
}

// Options configures an Engine.
type Options struct {
	Dispatcher Dispatcher
	Rates      *cost.Table
	Events     events.Sink
	Logger     *slog.Logger
}

// Engine previews, executes and prices plans.
type Engine struct {
	dispatcher Dispatcher
	rates      *cost.Table
	events     events.Sink
	logger     *slog.Logger
	now        func() time.Time
}

// Progress is published on every step transition during Execute.
type Progress struct {
	PlanID string `json:"planId"`
	Step   Step   `json:"step"`
}

// StepCost is the estimate for one step.
type StepCost struct {
	StepID        string  `json:"stepId"`
	Goblin        string  `json:"goblin"`
	Task          string  `json:"task"`
	EstimatedCost float64 `json:"estimatedCost"`
	TokenEstimate int     `json:"tokenEstimate"`
}

// Estimate is the projected cost of a plan.
type Estimate struct {
	TotalCost float64    `json:"totalCost"`
	StepCosts []StepCost `json:"stepCosts"`
	Currency  string     `json:"currency"`
	Provider  string     `json:"provider"`
}

// NewEngine creates an engine.
func NewEngine(opts Options) *Engine {
	if opts.Rates == nil {
		opts.Rates = cost.DefaultTable()
	}
	if opts.Events == nil {
		opts.Events = events.Discard
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		dispatcher: opts.Dispatcher,
		rates:      opts.Rates,
		events:     opts.Events,
		logger:     logger.With("component", "orchestration"),
		now:        time.Now,
	}
}

// Preview parses text without contacting the worker.
func (e *Engine) Preview(text, defaultGoblin string) *Plan {
	return Parse(text, defaultGoblin, e.now())
}

// Execute runs every step in order. A failed step does not stop the plan;
// the plan fails if any step failed.
func (e *Engine) Execute(ctx context.Context, text, defaultGoblin string) *Plan {
	plan := e.Preview(text, defaultGoblin)
	e.logger.Info("executing plan", "planId", plan.ID, "steps", len(plan.Steps))

	plan.Status = StatusRunning
	for i := range plan.Steps {
		step := &plan.Steps[i]

		started := e.now().UnixMilli()
		step.Status = StatusRunning
		step.StartedAt = &started
		e.publish(plan, step)

		taskID, err := e.dispatch(ctx, step)

		completed := e.now().UnixMilli()
		if completed < started {
			completed = started
		}
		step.CompletedAt = &completed
		if err != nil {
			step.Status = StatusFailed
			step.Result = &StepResult{Error: err.Error()}
			e.logger.Warn("plan step failed", "planId", plan.ID, "step", step.ID, "goblin", step.Goblin, "error", err)
		} else {
			step.Status = StatusCompleted
			step.Result = &StepResult{TaskID: taskID}
			e.logger.Debug("plan step completed", "planId", plan.ID, "step", step.ID, "taskId", taskID)
		}
		e.publish(plan, step)
	}

	plan.Status = StatusCompleted
	if plan.Failed() {
		plan.Status = StatusFailed
	}
	e.logger.Info("plan finished", "planId", plan.ID, "status", plan.Status)
	return plan
}

func (e *Engine) dispatch(ctx context.Context, step *Step) (string, error) {
	if e.dispatcher == nil {
		return "", &worker.NotRunningError{}
	}
	taskID, _, err := e.dispatcher.Send(ctx, step.Goblin, step.Task, nil)
	return taskID, err
}

func (e *Engine) publish(plan *Plan, step *Step) {
	e.events.Publish(events.OrchestrationProgress, Progress{PlanID: plan.ID, Step: *step})
}

// EstimateCost prices a plan without running it. Output is assumed to be
// twice the input, and only the provider default rate is used.
func (e *Engine) EstimateCost(text, codeContext, provider string) Estimate {
	if provider == "" {
		provider = EstimateProvider
	}
	plan := e.Preview(text, EstimateGoblin)
	rate := e.rates.Rate(provider, "")
	contextTokens := cost.EstimateTokens(codeContext)

	est := Estimate{
		StepCosts: make([]StepCost, 0, len(plan.Steps)),
		Currency:  "USD",
		Provider:  provider,
	}
	for _, step := range plan.Steps {
		in := cost.EstimateTokens(step.Task) + contextTokens
		out := in * outputMultiplier
		stepCost := float64(in+out) * rate

		est.TotalCost += stepCost
		est.StepCosts = append(est.StepCosts, StepCost{
			StepID:        step.ID,
			Goblin:        step.Goblin,
			Task:          step.Task,
			EstimatedCost: stepCost,
			TokenEstimate: in,
		})
	}
	return est
}
