// Package vault stores provider API keys.
package vault

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Vault keeps one secret per provider.
type Vault interface {
	// Store saves key for provider, replacing any previous value.
	Store(provider, key string) error
	// Get returns the key for provider. ok is false when none is stored.
	Get(provider string) (key string, ok bool, err error)
	// Clear removes the key for provider. Clearing an absent key is not an error.
	Clear(provider string) error
}

// VaultError wraps a backend failure.
type VaultError struct {
	Op       string
	Provider string
	Err      error
}

func (e *VaultError) Error() string {
	return fmt.Sprintf("failed to %s API key for %s: %v", e.Op, e.Provider, e.Err)
}

func (e *VaultError) Unwrap() error { return e.Err }

// EnvName returns the environment variable a provider key is exported as.
func EnvName(provider string) string {
	name := strings.ToUpper(strings.TrimSpace(provider))
	name = strings.NewReplacer("-", "_", ".", "_", " ", "_").Replace(name)
	return name + "_API_KEY"
}

// EnvFor renders KEY=value pairs for the providers that have a stored key.
// Lookup failures are skipped.
func EnvFor(v Vault, providers []string) []string {
	if v == nil {
		return nil
	}
	var env []string
	for _, p := range providers {
		key, ok, err := v.Get(p)
		if err != nil || !ok || key == "" {
			continue
		}
		env = append(env, EnvName(p)+"="+key)
	}
	return env
}

// Memory is an in-process vault.
type Memory struct {
	mu   sync.RWMutex
	keys map[string]string
}

// NewMemory creates an empty in-memory vault.
func NewMemory() *Memory {
	return &Memory{keys: make(map[string]string)}
}

func (m *Memory) Store(provider, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[provider] = key
	return nil
}

func (m *Memory) Get(provider string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok := m.keys[provider]
	return key, ok, nil
}

func (m *Memory) Clear(provider string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, provider)
	return nil
}

// Providers lists the providers with a stored key.
func (m *Memory) Providers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.keys))
	for name := range m.keys {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open returns the backend named by backend: keyring, file or memory.
func Open(backend, authFile string) (Vault, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", "keyring":
		return NewKeyring(DefaultService), nil
	case "file":
		return NewFile(authFile), nil
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown vault backend %q", backend)
	}
}
