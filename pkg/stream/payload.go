package stream

import "encoding/json"

// Progress is published once per simulated chunk.
type Progress struct {
	TaskID     string  `json:"taskId"`
	Chunk      string  `json:"chunk"`
	Progress   float64 `json:"progress"`
	Provider   string  `json:"provider"`
	CostDelta  float64 `json:"cost_delta"`
	TokenCount int     `json:"token_count"`
}

// Result is published after the last chunk.
type Result struct {
	TaskID string          `json:"taskId"`
	Goblin string          `json:"goblin"`
	Task   string          `json:"task"`
	Args   any             `json:"args"`
	Result json.RawMessage `json:"result"`
	// Provider is null when the task args named none.
	Provider *string `json:"provider"`
	Cost     float64 `json:"cost"`
}

// Stats counts streams by state.
type Stats struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Cancelled int64 `json:"cancelled"`
}
