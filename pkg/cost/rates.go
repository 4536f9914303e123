package cost

import (
	"fmt"
	"log/slog"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// FallbackRate is the per-token rate used for providers missing from the table.
const FallbackRate = 0.00002

// ProviderRates holds the per-token rates of one provider.
type ProviderRates struct {
	Models  map[string]float64 `yaml:"models,omitempty" json:"models,omitempty"`
	Default float64            `yaml:"default" json:"default"`
}

// Table maps provider -> model -> cost per token. It is not mutated after load.
type Table struct {
	Providers map[string]ProviderRates `yaml:"providers" json:"providers"`
	// Fallback overrides FallbackRate when non-zero.
	Fallback float64 `yaml:"fallback,omitempty" json:"fallback,omitempty"`
}

// DefaultTable returns the built-in rate table.
func DefaultTable() *Table {
	return &Table{
		Providers: map[string]ProviderRates{
			"openai": {
				Models: map[string]float64{
					"gpt-4-turbo": 0.00006,
					"gpt-4":       0.0002,
				},
				Default: 0.00003,
			},
			"anthropic": {Default: 0.000025},
			"ollama":    {Default: 0.000001},
			"gemini":    {Default: 0.00004},
		},
	}
}

// LoadTable reads a rate table from a YAML or JSON file.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cost rates: %w", err)
	}

	var table Table
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("failed to parse cost rates %s: %w", path, err)
	}
	if len(table.Providers) == 0 {
		return nil, fmt.Errorf("cost rates %s: no providers defined", path)
	}
	return &table, nil
}

// LoadTableOrDefault loads path and falls back to DefaultTable when the path
// is empty, missing or malformed.
func LoadTableOrDefault(path string, logger *slog.Logger) *Table {
	if path == "" {
		return DefaultTable()
	}
	table, err := LoadTable(path)
	if err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("using built-in cost rates", "path", path, "error", err)
		return DefaultTable()
	}
	return table
}

// Rate returns the cost per token for provider and model. An empty model
// selects the provider default.
func (t *Table) Rate(provider, model string) float64 {
	rates, ok := t.Providers[provider]
	if !ok {
		return t.fallback()
	}
	if model != "" && rates.Models != nil {
		if rate, ok := rates.Models[model]; ok {
			return rate
		}
	}
	return rates.Default
}

// EstimateCost returns tokens multiplied by the provider/model rate.
func (t *Table) EstimateCost(provider, model string, tokens int) float64 {
	return float64(tokens) * t.Rate(provider, model)
}

// ProviderNames returns the providers in the table, sorted.
func (t *Table) ProviderNames() []string {
	names := make([]string, 0, len(t.Providers))
	for name := range t.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (t *Table) fallback() float64 {
	if t.Fallback > 0 {
		return t.Fallback
	}
	return FallbackRate
}
