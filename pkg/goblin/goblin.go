// Package goblin answers queries about the goblins hosted by the worker.
package goblin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tidwall/gjson"

	"github.com/goblinos/goblind/pkg/history"
	"github.com/goblinos/goblind/pkg/worker"
)

// DefaultHistoryLimit is used when a history query gives no limit.
const DefaultHistoryLimit = 10

// Caller issues worker calls.
type Caller interface {
	Call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error)
}

// Stats describes one goblin.
type Stats struct {
	ID       string  `json:"id"`
	Status   string  `json:"status"`
	LastSeen *uint64 `json:"lastSeen"`
}

// Service queries goblins through the worker, using the local history store
// when the worker cannot answer.
type Service struct {
	caller Caller
	store  *history.Store
	logger *slog.Logger
}

// NewService creates a service.
func NewService(caller Caller, store *history.Store, logger *slog.Logger) *Service {
	if store == nil {
		store = history.NewStore()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{caller: caller, store: store, logger: logger.With("component", "goblin")}
}

func (s *Service) call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	if s.caller == nil {
		return nil, &worker.NotRunningError{}
	}
	return s.caller.Call(ctx, method, params)
}

// List returns the goblin ids. Non-string entries are skipped.
func (s *Service) List(ctx context.Context) ([]string, error) {
	resp, err := s.call(ctx, worker.MethodListGoblins, nil)
	if err != nil {
		return nil, err
	}
	r := gjson.ParseBytes(resp)
	if !r.IsArray() {
		return nil, fmt.Errorf("unexpected response format for goblin list: %s", resp)
	}
	ids := make([]string, 0)
	for _, item := range r.Array() {
		if item.Type == gjson.String {
			ids = append(ids, item.String())
		}
	}
	return ids, nil
}

// Stats returns the status of one goblin. Missing fields default to the
// requested id and "unknown".
func (s *Service) Stats(ctx context.Context, goblinID string) (Stats, error) {
	resp, err := s.call(ctx, worker.MethodGetGoblinStats, map[string]any{"goblinId": goblinID})
	if err != nil {
		return Stats{}, err
	}
	r := gjson.ParseBytes(resp)
	if !r.IsObject() {
		return Stats{}, fmt.Errorf("unexpected response format for goblin stats: %s", resp)
	}

	st := Stats{ID: goblinID, Status: "unknown"}
	if v := r.Get("id"); v.Type == gjson.String {
		st.ID = v.String()
	}
	if v := r.Get("status"); v.Type == gjson.String {
		st.Status = v.String()
	}
	if v := r.Get("lastSeen"); v.Type == gjson.Number && v.Num >= 0 {
		seen := v.Uint()
		st.LastSeen = &seen
	}
	return st, nil
}

// History returns recent entries for a goblin, newest first as the worker
// orders them. Any worker failure falls back to the local store.
func (s *Service) History(ctx context.Context, goblinID string, limit int) ([]history.Entry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	resp, err := s.call(ctx, worker.MethodGetGoblinHistory, map[string]any{
		"goblinId": goblinID,
		"limit":    limit,
	})
	if err != nil {
		s.logger.Debug("history unavailable from worker, using local store", "goblin", goblinID, "error", err)
		return s.store.Read(goblinID, limit), nil
	}

	r := gjson.ParseBytes(resp)
	if !r.IsArray() {
		return nil, fmt.Errorf("unexpected response format for history: %s", resp)
	}
	entries := make([]history.Entry, 0)
	for _, item := range r.Array() {
		if !item.IsObject() {
			continue
		}
		entries = append(entries, history.Entry{
			Timestamp: item.Get("ts").Int(),
			Message:   item.Get("message").String(),
		})
	}
	return entries, nil
}

// Record adds a message to the local history.
func (s *Service) Record(goblinID, message string) {
	s.store.Record(goblinID, message)
}
