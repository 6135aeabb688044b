package storage

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/OKaluzny/token-shop/pkg/models"
)

// MemoryNonceStore is an in-memory NonceStore. Addresses are case-insensitive.
type MemoryNonceStore struct {
	mu     sync.Mutex
	nonces map[string]uint64
}

func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{nonces: make(map[string]uint64)}
}

func (s *MemoryNonceStore) GetAndIncrement(address string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(address)
	n := s.nonces[key]
	s.nonces[key] = n + 1
	return n, nil
}

func (s *MemoryNonceStore) Sync(address string, next uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(address)
	if next > s.nonces[key] {
		s.nonces[key] = next
	}
	return nil
}

func (s *MemoryNonceStore) Release(address string, nonce uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(address)
	if s.nonces[key] == nonce+1 {
		s.nonces[key] = nonce
	}
	return nil
}

// MemoryTxStore is an in-memory TxStore.
type MemoryTxStore struct {
	mu  sync.RWMutex
	txs map[string]*models.Transaction
}

func NewMemoryTxStore() *MemoryTxStore {
	return &MemoryTxStore{txs: make(map[string]*models.Transaction)}
}

func (s *MemoryTxStore) Get(idempotencyKey string) (*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.txs[idempotencyKey], nil
}

func (s *MemoryTxStore) Put(idempotencyKey string, tx *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs[idempotencyKey] = tx
	return nil
}

// MemoryWatchStore is an in-memory WatchStore. Addresses are stored lowercased.
type MemoryWatchStore struct {
	mu    sync.RWMutex
	addrs map[string]bool
}

func NewMemoryWatchStore() *MemoryWatchStore {
	return &MemoryWatchStore{addrs: make(map[string]bool)}
}

func (s *MemoryWatchStore) Add(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addrs[strings.ToLower(address)] = true
	return nil
}

func (s *MemoryWatchStore) Remove(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.addrs, strings.ToLower(address))
	return nil
}

func (s *MemoryWatchStore) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]string, 0, len(s.addrs))
	for addr := range s.addrs {
		result = append(result, addr)
	}
	return result, nil
}

func (s *MemoryWatchStore) Contains(address string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addrs[strings.ToLower(address)], nil
}

// MemoryPurchaseStore is an in-memory PurchaseStore. Records are copied on
// the way in and out.
type MemoryPurchaseStore struct {
	mu        sync.RWMutex
	purchases map[string]models.Purchase
}

func NewMemoryPurchaseStore() *MemoryPurchaseStore {
	return &MemoryPurchaseStore{purchases: make(map[string]models.Purchase)}
}

func (s *MemoryPurchaseStore) Save(_ context.Context, p *models.Purchase) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("purchase id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := clonePurchase(p)
	now := time.Now().UTC()
	if prev, ok := s.purchases[p.ID]; ok {
		rec.CreatedAt = prev.CreatedAt
	} else if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	s.purchases[p.ID] = rec
	return nil
}

func (s *MemoryPurchaseStore) Reserve(_ context.Context, p *models.Purchase) (bool, error) {
	if p == nil || p.ID == "" {
		return false, fmt.Errorf("purchase id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.purchases[p.ID]; ok {
		return false, nil
	}
	rec := clonePurchase(p)
	now := time.Now().UTC()
	rec.CreatedAt, rec.UpdatedAt = now, now
	s.purchases[p.ID] = rec
	return true, nil
}

func (s *MemoryPurchaseStore) Get(_ context.Context, id string) (*models.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.purchases[id]
	if !ok {
		return nil, fmt.Errorf("purchase %s: %w", id, ErrNotFound)
	}
	out := clonePurchase(&rec)
	return &out, nil
}

func clonePurchase(p *models.Purchase) models.Purchase {
	c := *p
	if p.Price != nil {
		c.Price = new(big.Int).Set(p.Price)
	}
	if p.Observed != nil {
		c.Observed = new(big.Int).Set(p.Observed)
	}
	return c
}
