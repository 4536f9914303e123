package vault

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func exerciseVault(t *testing.T, v Vault) {
	t.Helper()

	_, ok, err := v.Get("openai")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, v.Store("openai", "sk-one"))
	key, ok, err := v.Get("openai")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "sk-one", key)

	require.NoError(t, v.Store("openai", "sk-two"))
	key, _, err = v.Get("openai")
	require.NoError(t, err)
	assert.Equal(t, "sk-two", key)

	require.NoError(t, v.Clear("openai"))
	_, ok, err = v.Get("openai")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, v.Clear("openai"), "clearing an absent key succeeds")
}

func TestMemoryVault(t *testing.T) {
	exerciseVault(t, NewMemory())
}

func TestKeyringVault(t *testing.T) {
	keyring.MockInit()
	exerciseVault(t, NewKeyring(""))
}

func TestKeyringVaultError(t *testing.T) {
	keyring.MockInitWithError(errors.New("keyring locked"))
	t.Cleanup(keyring.MockInit)

	v := NewKeyring(DefaultService)
	err := v.Store("anthropic", "k")

	var vaultErr *VaultError
	require.ErrorAs(t, err, &vaultErr)
	assert.Equal(t, "store", vaultErr.Op)
	assert.Contains(t, err.Error(), "keyring locked")

	_, _, err = v.Get("anthropic")
	assert.ErrorAs(t, err, &vaultErr)
}

func TestFileVault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "goblinos", "auth.json")
	exerciseVault(t, NewFile(path))

	require.NoError(t, NewFile(path).Store("gemini", "g-key"))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestFileVaultEntryForms(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.json")
	data := `{
  "openai": "  sk-plain  ",
  "Anthropic": {"apiKey": "ak"},
  "gemini": {"key": "gk"},
  "deepseek": {"token": "dt"},
  "ollama": {"type": "none"},
  "broken": 42
}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0600))
	v := NewFile(path)

	tests := []struct {
		provider string
		want     string
		ok       bool
	}{
		{"openai", "sk-plain", true},
		{"anthropic", "ak", true},
		{"gemini", "gk", true},
		{"deepseek", "dt", true},
		{"ollama", "", false},
		{"missing", "", false},
	}
	for _, tt := range tests {
		key, ok, err := v.Get(tt.provider)
		require.NoError(t, err, tt.provider)
		assert.Equal(t, tt.ok, ok, tt.provider)
		assert.Equal(t, tt.want, key, tt.provider)
	}

	_, _, err := v.Get("broken")
	var vaultErr *VaultError
	assert.ErrorAs(t, err, &vaultErr)
}

func TestFileVaultMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0600))

	err := NewFile(path).Store("openai", "k")
	var vaultErr *VaultError
	require.ErrorAs(t, err, &vaultErr)
	assert.Contains(t, err.Error(), "failed to parse auth file")
}

func TestEnvFor(t *testing.T) {
	v := NewMemory()
	require.NoError(t, v.Store("openai", "sk"))
	require.NoError(t, v.Store("deepseek", ""))

	env := EnvFor(v, []string{"openai", "anthropic", "deepseek"})
	assert.Equal(t, []string{"OPENAI_API_KEY=sk"}, env)
	assert.Nil(t, EnvFor(nil, []string{"openai"}))
	assert.Equal(t, "GOBLIN_CLOUD_API_KEY", EnvName("goblin-cloud"))
}

func TestOpen(t *testing.T) {
	v, err := Open("memory", "")
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, v)

	v, err = Open("file", "/tmp/auth.json")
	require.NoError(t, err)
	assert.IsType(t, &File{}, v)

	v, err = Open("", "")
	require.NoError(t, err)
	assert.IsType(t, &Keyring{}, v)

	_, err = Open("vaultwarden", "")
	assert.Error(t, err)
}
