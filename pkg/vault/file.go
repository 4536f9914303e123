package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// authEntry is the object form of an auth.json entry.
type authEntry struct {
	Type   string `json:"type,omitempty"`
	Key    string `json:"key,omitempty"`
	APIKey string `json:"apiKey,omitempty"`
	Token  string `json:"token,omitempty"`
}

// File stores keys in a JSON auth file. Entries may be plain strings or
// objects carrying apiKey, key or token. The file is written with 0600.
type File struct {
	Path string
	mu   sync.Mutex
}

// NewFile creates a file vault at path.
func NewFile(path string) *File {
	return &File{Path: path}
}

func (f *File) Store(provider, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, err := f.read()
	if err != nil {
		return &VaultError{Op: "store", Provider: provider, Err: err}
	}
	entry, err := json.Marshal(authEntry{Type: "api_key", APIKey: key})
	if err != nil {
		return &VaultError{Op: "store", Provider: provider, Err: err}
	}
	raw[normalize(provider)] = entry
	if err := f.write(raw); err != nil {
		return &VaultError{Op: "store", Provider: provider, Err: err}
	}
	return nil
}

func (f *File) Get(provider string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, err := f.read()
	if err != nil {
		return "", false, &VaultError{Op: "retrieve", Provider: provider, Err: err}
	}
	entryRaw, ok := lookup(raw, provider)
	if !ok {
		return "", false, nil
	}

	var key string
	if err := json.Unmarshal(entryRaw, &key); err == nil {
		key = strings.TrimSpace(key)
		return key, key != "", nil
	}

	var entry authEntry
	if err := json.Unmarshal(entryRaw, &entry); err != nil {
		return "", false, &VaultError{
			Op:       "retrieve",
			Provider: provider,
			Err:      fmt.Errorf("invalid auth entry in %s", f.Path),
		}
	}
	for _, v := range []string{entry.APIKey, entry.Key, entry.Token} {
		if v != "" {
			return v, true, nil
		}
	}
	return "", false, nil
}

func (f *File) Clear(provider string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, err := f.read()
	if err != nil {
		return &VaultError{Op: "clear", Provider: provider, Err: err}
	}
	removed := false
	for name := range raw {
		if strings.EqualFold(name, normalize(provider)) {
			delete(raw, name)
			removed = true
		}
	}
	if !removed {
		return nil
	}
	if err := f.write(raw); err != nil {
		return &VaultError{Op: "clear", Provider: provider, Err: err}
	}
	return nil
}

func (f *File) read() (map[string]json.RawMessage, error) {
	raw := make(map[string]json.RawMessage)
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return raw, nil
		}
		return nil, fmt.Errorf("failed to read auth file: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return raw, nil
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse auth file: %w", err)
	}
	return raw, nil
}

func (f *File) write(raw map[string]json.RawMessage) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0700); err != nil {
		return fmt.Errorf("failed to create auth directory: %w", err)
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write auth file: %w", err)
	}
	return os.Rename(tmp, f.Path)
}

func lookup(raw map[string]json.RawMessage, provider string) (json.RawMessage, bool) {
	key := normalize(provider)
	if v, ok := raw[key]; ok {
		return v, true
	}
	for name, v := range raw {
		if strings.EqualFold(name, key) {
			return v, true
		}
	}
	return nil, false
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
