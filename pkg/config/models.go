package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Provider is one entry of the provider catalog.
type Provider struct {
	Name   string
	Models []string
}

// DefaultProviders returns the built-in provider catalog.
func DefaultProviders() []Provider {
	return []Provider{
		{Name: "ollama", Models: []string{"llama2", "codellama", "mistral"}},
		{Name: "openai", Models: []string{"gpt-4", "gpt-4-turbo", "gpt-3.5-turbo"}},
		{Name: "anthropic", Models: []string{"claude-3-opus", "claude-3-sonnet", "claude-3-haiku"}},
		{Name: "gemini", Models: []string{"gemini-pro", "gemini-pro-vision"}},
		{Name: "deepseek", Models: []string{"deepseek-chat", "deepseek-coder"}},
	}
}

// Catalog answers provider and model listings.
type Catalog struct {
	providers []Provider
}

// NewCatalog builds a catalog from providers, keeping their order.
func NewCatalog(providers []Provider) *Catalog {
	return &Catalog{providers: providers}
}

type modelsFile struct {
	Providers map[string]providerConfig `json:"providers"`
}

type providerConfig struct {
	Models []modelConfig `json:"models,omitempty"`
}

type modelConfig struct {
	ID string `json:"id"`
}

// LoadCatalog returns the default catalog overlaid with a models.json file.
// Providers in the file replace the built-in model list; new providers are
// appended in name order. A missing file yields the defaults.
func LoadCatalog(path string) (*Catalog, error) {
	providers := DefaultProviders()
	if strings.TrimSpace(path) == "" {
		return NewCatalog(providers), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewCatalog(providers), nil
		}
		return nil, fmt.Errorf("failed to read models file: %w", err)
	}

	var file modelsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse models file: %w", err)
	}

	names := make([]string, 0, len(file.Providers))
	for name := range file.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		models := make([]string, 0, len(file.Providers[raw].Models))
		for _, m := range file.Providers[raw].Models {
			if id := strings.TrimSpace(m.ID); id != "" {
				models = append(models, id)
			}
		}

		replaced := false
		for i := range providers {
			if providers[i].Name == name {
				providers[i].Models = models
				replaced = true
				break
			}
		}
		if !replaced {
			providers = append(providers, Provider{Name: name, Models: models})
		}
	}

	return NewCatalog(providers), nil
}

// Providers returns provider names in catalog order.
func (c *Catalog) Providers() []string {
	names := make([]string, 0, len(c.providers))
	for _, p := range c.providers {
		names = append(names, p.Name)
	}
	return names
}

// Models returns the models of provider, or an empty list when unknown.
func (c *Catalog) Models(provider string) []string {
	for _, p := range c.providers {
		if p.Name == provider {
			return append([]string(nil), p.Models...)
		}
	}
	return []string{}
}
