package vault

import (
	"errors"

	"github.com/zalando/go-keyring"
)

// DefaultService is the keyring service name entries are filed under.
const DefaultService = "goblinos-desktop"

// Keyring stores keys in the operating system keyring, one entry per
// provider under a shared service name.
type Keyring struct {
	Service string
}

// NewKeyring creates a keyring vault for service.
func NewKeyring(service string) *Keyring {
	if service == "" {
		service = DefaultService
	}
	return &Keyring{Service: service}
}

func (k *Keyring) Store(provider, key string) error {
	if err := keyring.Set(k.Service, provider, key); err != nil {
		return &VaultError{Op: "store", Provider: provider, Err: err}
	}
	return nil
}

func (k *Keyring) Get(provider string) (string, bool, error) {
	key, err := keyring.Get(k.Service, provider)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", false, nil
		}
		return "", false, &VaultError{Op: "retrieve", Provider: provider, Err: err}
	}
	return key, true, nil
}

func (k *Keyring) Clear(provider string) error {
	if err := keyring.Delete(k.Service, provider); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil
		}
		return &VaultError{Op: "clear", Provider: provider, Err: err}
	}
	return nil
}
