// Package orchestration parses flat goblin plans and runs them step by step.
package orchestration

import (
	"fmt"
	"strings"
	"time"
)

// Separator splits plan text into steps.
const Separator = "THEN"

// DefaultGoblin receives steps that do not name a goblin.
const DefaultGoblin = "websmith"

// Step and plan states.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// StepResult is what a finished step produced: a task id or an error.
type StepResult struct {
	TaskID string `json:"taskId,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Step is one goblin task in a plan. Times are milliseconds since the epoch.
type Step struct {
	ID          string      `json:"id"`
	Goblin      string      `json:"goblin"`
	Task        string      `json:"task"`
	Status      string      `json:"status"`
	Result      *StepResult `json:"result"`
	StartedAt   *int64      `json:"started_at"`
	CompletedAt *int64      `json:"completed_at"`
}

// Plan is an ordered list of steps parsed from one text.
type Plan struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Steps       []Step `json:"steps"`
	CreatedAt   int64  `json:"created_at"`
	Status      string `json:"status"`
}

// Parse splits text on THEN into pending steps. A "goblin: task" step names
// its goblin; other steps go to defaultGoblin (DefaultGoblin when empty).
// Ids derive from now, so plans parsed in the same millisecond share them.
func Parse(text, defaultGoblin string, now time.Time) *Plan {
	if defaultGoblin == "" {
		defaultGoblin = DefaultGoblin
	}
	ms := now.UnixMilli()

	plan := &Plan{
		ID:          fmt.Sprintf("plan_%d", ms),
		Description: text,
		Steps:       []Step{},
		CreatedAt:   ms,
		Status:      StatusPending,
	}

	idx := 0
	for _, token := range strings.Split(text, Separator) {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}

		goblin, task := defaultGoblin, token
		if before, after, ok := strings.Cut(token, ":"); ok {
			goblin = strings.TrimSpace(before)
			task = strings.TrimSpace(after)
		}

		plan.Steps = append(plan.Steps, Step{
			ID:     fmt.Sprintf("plan_step_%d_%d", ms, idx),
			Goblin: goblin,
			Task:   task,
			Status: StatusPending,
		})
		idx++
	}
	return plan
}

// Failed reports whether any step failed.
func (p *Plan) Failed() bool {
	for _, s := range p.Steps {
		if s.Status == StatusFailed {
			return true
		}
	}
	return false
}
