package cost

import "sync"

// Summary is a snapshot of accumulated spend.
type Summary struct {
	TotalCost      float64            `json:"total_cost"`
	CostByProvider map[string]float64 `json:"cost_by_provider"`
	CostByModel    map[string]float64 `json:"cost_by_model"`
	Tokens         int                `json:"tokens"`
}

// Ledger accumulates estimated spend by provider and model.
type Ledger struct {
	mu         sync.Mutex
	total      float64
	tokens     int
	byProvider map[string]float64
	byModel    map[string]float64
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		byProvider: make(map[string]float64),
		byModel:    make(map[string]float64),
	}
}

// Record adds one cost observation. An empty model is only counted per provider.
func (l *Ledger) Record(provider, model string, tokens int, cost float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.total += cost
	l.tokens += tokens
	l.byProvider[provider] += cost
	if model != "" {
		l.byModel[model] += cost
	}
}

// Summary returns a copy of the accumulated totals.
func (l *Ledger) Summary() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Summary{
		TotalCost:      l.total,
		Tokens:         l.tokens,
		CostByProvider: make(map[string]float64, len(l.byProvider)),
		CostByModel:    make(map[string]float64, len(l.byModel)),
	}
	for k, v := range l.byProvider {
		s.CostByProvider[k] = v
	}
	for k, v := range l.byModel {
		s.CostByModel[k] = v
	}
	return s
}
