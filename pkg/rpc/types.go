package rpc

import "encoding/json"

// RPCCommand represents a command received on stdin.
type RPCCommand struct {
	ID   string          `json:"id,omitempty"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// RPCResponse represents a response sent to stdout.
type RPCResponse struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Command string `json:"command"`
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RPCEvent is an unsolicited notification sent to stdout.
type RPCEvent struct {
	Type  string `json:"type"`
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Command type constants
const (
	CommandStartRuntime         = "start_runtime"
	CommandStopRuntime          = "stop_runtime"
	CommandStatus               = "status"
	CommandSendEvent            = "send_event"
	CommandListGoblins          = "list_goblins"
	CommandGetGoblinStats       = "get_goblin_stats"
	CommandGetGoblinHistory     = "get_goblin_history"
	CommandGetProviders         = "get_providers"
	CommandGetProviderModels    = "get_provider_models"
	CommandGetCostSummary       = "get_cost_summary"
	CommandParseOrchestration   = "parse_orchestration"
	CommandExecuteOrchestration = "execute_orchestration"
	CommandEstimateCost         = "estimate_cost"
	CommandExecuteTask          = "execute_task"
	CommandCancelTask           = "cancel_task"
	CommandStoreAPIKey          = "store_api_key"
	CommandGetAPIKey            = "get_api_key"
	CommandClearAPIKey          = "clear_api_key"
	CommandSetProviderAPIKey    = "set_provider_api_key"
	CommandPing                 = "ping"
)

// GoblinRequest addresses one goblin.
type GoblinRequest struct {
	GoblinID string `json:"goblinId"`
}

// HistoryRequest asks for a goblin's recent history.
type HistoryRequest struct {
	GoblinID string `json:"goblinId"`
	Limit    int    `json:"limit,omitempty"`
}

// ProviderRequest names a provider.
type ProviderRequest struct {
	Provider string `json:"provider"`
}

// APIKeyRequest carries a provider secret.
type APIKeyRequest struct {
	Provider string `json:"provider"`
	Key      string `json:"key"`
}

// OrchestrationRequest carries plan text.
type OrchestrationRequest struct {
	Text          string `json:"text"`
	DefaultGoblin string `json:"defaultGoblin,omitempty"`
}

// EstimateRequest asks for a plan cost estimate.
type EstimateRequest struct {
	OrchestrationText string `json:"orchestrationText"`
	CodeInput         string `json:"codeInput,omitempty"`
	Provider          string `json:"provider,omitempty"`
}

// ExecuteTaskRequest dispatches one goblin task.
type ExecuteTaskRequest struct {
	GoblinID string          `json:"goblinId"`
	Task     string          `json:"task"`
	Args     json.RawMessage `json:"args,omitempty"`
}

// CancelTaskRequest stops a task's progress stream.
type CancelTaskRequest struct {
	TaskID string `json:"taskId"`
}

// SendEventRequest forwards a UI event to the runtime.
type SendEventRequest struct {
	Event string `json:"event"`
}
