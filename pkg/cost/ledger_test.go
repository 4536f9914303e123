package cost

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLedgerSummary(t *testing.T) {
	l := NewLedger()
	l.Record("openai", "gpt-4", 10, 0.5)
	l.Record("openai", "", 5, 0.25)
	l.Record("ollama", "llama2", 2, 0.125)

	s := l.Summary()
	assert.InDelta(t, 0.875, s.TotalCost, 1e-12)
	assert.Equal(t, 17, s.Tokens)
	assert.InDelta(t, 0.75, s.CostByProvider["openai"], 1e-12)
	assert.InDelta(t, 0.125, s.CostByProvider["ollama"], 1e-12)
	assert.Equal(t, map[string]float64{"gpt-4": 0.5, "llama2": 0.125}, s.CostByModel)

	// Snapshot is detached from the ledger.
	s.CostByProvider["openai"] = 0
	assert.InDelta(t, 0.75, l.Summary().CostByProvider["openai"], 1e-12)
}

func TestLedgerConcurrentRecord(t *testing.T) {
	l := NewLedger()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Record("p", "m", 1, 1)
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, l.Summary().Tokens)
	assert.Equal(t, 50.0, l.Summary().TotalCost)
}
