package wallet

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrNoKey is returned when the keyring holds no key for an address.
var ErrNoKey = errors.New("no key for address")

// Keyring maps addresses to the private keys that sign for them.
type Keyring struct {
	mu   sync.RWMutex
	keys map[string][]byte
}

// NewKeyring returns an empty keyring.
func NewKeyring() *Keyring {
	return &Keyring{keys: make(map[string][]byte)}
}

// AddWallet registers the key of the wallet's address at index and returns
// that address.
func (k *Keyring) AddWallet(w *HDWallet, index uint32) (string, error) {
	addr, err := w.Address(index)
	if err != nil {
		return "", fmt.Errorf("address: %w", err)
	}
	key, err := w.PrivateKey(index)
	if err != nil {
		return "", fmt.Errorf("private key: %w", err)
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[strings.ToLower(addr.Address)] = key
	return addr.Address, nil
}

// Key returns the private key for address.
func (k *Keyring) Key(address string) ([]byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	key, ok := k.keys[strings.ToLower(address)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoKey, address)
	}
	return key, nil
}
