package worker

import (
	"bytes"
	"encoding/json"
)

// Methods understood by the goblin runtime worker.
const (
	MethodListGoblins      = "listGoblins"
	MethodGetGoblinStats   = "getGoblinStats"
	MethodGetGoblinHistory = "getGoblinHistory"
	MethodExecuteTask      = "executeTask"
)

// Request is one call written to the worker's stdin. Params are flattened
// next to id and method on the wire.
type Request struct {
	ID     string
	Method string
	Params map[string]any
}

// MarshalJSON encodes the request as a single flat object.
func (r Request) MarshalJSON() ([]byte, error) {
	payload := make(map[string]any, len(r.Params)+2)
	for k, v := range r.Params {
		payload[k] = v
	}
	payload["id"] = r.ID
	payload["method"] = r.Method
	return json.Marshal(payload)
}

// Response is one decoded reply line.
type Response struct {
	ID string
	// Result holds the result field, or the whole line when the reply has none.
	Result   json.RawMessage
	Error    string
	HasError bool
}

type wireFrame struct {
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
	Ready  bool            `json:"ready"`
}

// decodeLine parses one output line. ok is false for lines that are not JSON.
func decodeLine(line []byte) (resp Response, ready bool, ok bool) {
	if !json.Valid(line) {
		return Response{}, false, false
	}
	whole := append(json.RawMessage(nil), line...)
	if line[0] != '{' {
		return Response{Result: whole}, false, true
	}

	var frame wireFrame
	if err := json.Unmarshal(line, &frame); err != nil {
		return Response{}, false, false
	}
	if frame.Ready && len(frame.ID) == 0 && len(frame.Result) == 0 && len(frame.Error) == 0 {
		return Response{}, true, true
	}

	resp = Response{ID: decodeID(frame.ID), Result: frame.Result}
	if len(frame.Result) == 0 {
		resp.Result = whole
	}
	if len(frame.Error) > 0 && !isNull(frame.Error) {
		resp.HasError = true
		resp.Error = "unknown error"
		var msg string
		if err := json.Unmarshal(frame.Error, &msg); err == nil {
			resp.Error = msg
		}
	}
	return resp, false, true
}

func decodeID(raw json.RawMessage) string {
	if len(raw) == 0 || isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
