package storage

import (
	"context"
	"errors"

	"github.com/OKaluzny/token-shop/pkg/models"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// NonceStore manages per-address nonce state.
type NonceStore interface {
	// GetAndIncrement atomically returns the current nonce and increments it.
	GetAndIncrement(address string) (uint64, error)
	// Sync raises the next nonce for address to at least next.
	// Nonces already handed out locally are never reused.
	Sync(address string, next uint64) error
	// Release gives nonce back when it was the last one handed out for
	// address and the transaction using it was never broadcast.
	Release(address string, nonce uint64) error
}

// TxStore provides idempotent transaction storage.
type TxStore interface {
	// Get returns a previously stored transaction by idempotency key, or nil if not found.
	Get(idempotencyKey string) (*models.Transaction, error)
	// Put stores a transaction keyed by idempotency key.
	Put(idempotencyKey string, tx *models.Transaction) error
}

// WatchStore manages the set of watched addresses.
type WatchStore interface {
	// Add adds an address to the watch set.
	Add(address string) error
	// Remove removes an address from the watch set.
	Remove(address string) error
	// List returns all currently watched addresses.
	List() ([]string, error)
	// Contains checks if an address is in the watch set.
	Contains(address string) (bool, error)
}

// PurchaseStore keeps purchase and transfer records.
type PurchaseStore interface {
	// Save inserts or replaces the record with p.ID.
	Save(ctx context.Context, p *models.Purchase) error
	// Reserve inserts p only when no record with p.ID exists. It reports
	// whether the insert happened, so exactly one of several concurrent
	// callers with the same ID wins.
	Reserve(ctx context.Context, p *models.Purchase) (bool, error)
	// Get returns the record with id, or ErrNotFound.
	Get(ctx context.Context, id string) (*models.Purchase, error)
}
