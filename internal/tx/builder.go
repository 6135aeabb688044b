package tx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/OKaluzny/token-shop/internal/chain"
	"github.com/OKaluzny/token-shop/internal/storage"
	"github.com/OKaluzny/token-shop/internal/wallet"
	"github.com/OKaluzny/token-shop/pkg/models"
)

// Gas defaults used when the config leaves them unset.
const (
	DefaultTransferGas = 21_000
	DefaultCallGas     = 100_000
)

// BuilderConfig holds configurable parameters for the transaction builder.
type BuilderConfig struct {
	MaxRetries int
	// GasPrice is the price in wei for non-gasless transactions.
	GasPrice *big.Int
	// GasLimit applies to contract calls. Plain value transfers use 21000.
	GasLimit uint64
	// Backoff returns the wait before retrying after the given attempt.
	// Defaults to attempt² seconds.
	Backoff func(attempt int) time.Duration
}

// Broadcaster is the node side of the builder: it hands out pending nonces
// and accepts signed transactions.
type Broadcaster interface {
	PendingNonce(ctx context.Context, account string) (uint64, error)
	SendRawTransaction(ctx context.Context, raw []byte) (string, error)
}

// KeySource resolves the signing key for an address.
type KeySource interface {
	Key(address string) ([]byte, error)
}

// Builder constructs and manages transaction lifecycle.
// Handles nonce management, gas defaults, signing and broadcast.
type Builder struct {
	signers    map[models.Network]wallet.Signer
	node       Broadcaster
	keys       KeySource
	nonceStore storage.NonceStore
	txStore    storage.TxStore
	logger     *slog.Logger
	cfg        BuilderConfig
}

// NewBuilder creates a new transaction builder with the given config and stores.
func NewBuilder(cfg BuilderConfig, node Broadcaster, keys KeySource, nonces storage.NonceStore, txs storage.TxStore) *Builder {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.GasPrice == nil {
		cfg.GasPrice = big.NewInt(0)
	}
	if cfg.GasLimit == 0 {
		cfg.GasLimit = DefaultCallGas
	}
	if cfg.Backoff == nil {
		cfg.Backoff = func(attempt int) time.Duration {
			return time.Duration(attempt*attempt) * time.Second
		}
	}
	return &Builder{
		signers:    make(map[models.Network]wallet.Signer),
		node:       node,
		keys:       keys,
		nonceStore: nonces,
		txStore:    txs,
		logger:     slog.Default().With("component", "tx_builder"),
		cfg:        cfg,
	}
}

// RegisterSigner registers a transaction signer for a specific network.
func (b *Builder) RegisterSigner(network models.Network, signer wallet.Signer) {
	b.signers[network] = signer
}

// SendRequest represents a request to send a transaction.
type SendRequest struct {
	IdempotencyKey string // prevents duplicate sends
	Network        models.Network
	From           string
	To             string
	Amount         *big.Int
	Data           []byte // contract call data
	Gasless        bool   // zero gas price; the node's sponsor pays
}

// Send builds, signs and broadcasts a transaction with idempotency.
func (b *Builder) Send(ctx context.Context, req SendRequest) (*models.Transaction, error) {
	if req.IdempotencyKey != "" {
		existing, err := b.txStore.Get(req.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("tx store get: %w", err)
		}
		if existing != nil {
			b.logger.Info("duplicate request, returning existing tx",
				"idempotency_key", req.IdempotencyKey,
				"tx_hash", existing.TxHash,
			)
			return existing, nil
		}
	}

	signer, ok := b.signers[req.Network]
	if !ok {
		return nil, fmt.Errorf("no signer for network %s", req.Network)
	}
	key, err := b.keys.Key(req.From)
	if err != nil {
		return nil, fmt.Errorf("signing key: %w", err)
	}

	nonce, err := b.nextNonce(ctx, req.From)
	if err != nil {
		return nil, err
	}

	amount := req.Amount
	if amount == nil {
		amount = new(big.Int)
	}
	tx := &models.Transaction{
		Network:  req.Network,
		From:     req.From,
		To:       req.To,
		Amount:   amount,
		Nonce:    nonce,
		Data:     req.Data,
		Gasless:  req.Gasless,
		GasPrice: b.gasPrice(req.Gasless),
		GasLimit: b.gasLimit(req.Data),
	}

	b.logger.Info("building transaction",
		"network", tx.Network,
		"from", tx.From,
		"to", tx.To,
		"amount", tx.Amount,
		"nonce", tx.Nonce,
		"gasless", tx.Gasless,
	)

	signed, err := signer.Sign(ctx, tx, key)
	if err != nil {
		b.releaseNonce(req.From, nonce)
		return nil, fmt.Errorf("sign: %w", err)
	}

	if err := b.broadcastWithRetry(ctx, signed, b.cfg.MaxRetries); err != nil {
		b.releaseNonce(req.From, nonce)
		return nil, fmt.Errorf("broadcast: %w", err)
	}

	if req.IdempotencyKey != "" {
		if err := b.txStore.Put(req.IdempotencyKey, signed); err != nil {
			return nil, fmt.Errorf("tx store put: %w", err)
		}
	}

	return signed, nil
}

// nextNonce syncs the local counter with the node's pending count, then
// takes the next nonce for address.
func (b *Builder) nextNonce(ctx context.Context, address string) (uint64, error) {
	pending, err := b.node.PendingNonce(ctx, address)
	if err != nil {
		return 0, fmt.Errorf("pending nonce: %w", err)
	}
	if err := b.nonceStore.Sync(address, pending); err != nil {
		return 0, fmt.Errorf("nonce store sync: %w", err)
	}
	nonce, err := b.nonceStore.GetAndIncrement(address)
	if err != nil {
		return 0, fmt.Errorf("nonce store: %w", err)
	}
	return nonce, nil
}

func (b *Builder) releaseNonce(address string, nonce uint64) {
	if err := b.nonceStore.Release(address, nonce); err != nil {
		b.logger.Warn("release nonce failed", "from", address, "nonce", nonce, "error", err)
	}
}

func (b *Builder) gasPrice(gasless bool) *big.Int {
	if gasless {
		return big.NewInt(0)
	}
	return new(big.Int).Set(b.cfg.GasPrice)
}

func (b *Builder) gasLimit(data []byte) uint64 {
	if len(data) == 0 {
		return DefaultTransferGas
	}
	return b.cfg.GasLimit
}

func (b *Builder) broadcastWithRetry(ctx context.Context, tx *models.Transaction, maxRetries int) error {
	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		err := b.broadcast(ctx, tx)
		if err == nil {
			b.logger.Info("transaction broadcast successful",
				"tx_hash", tx.TxHash,
				"attempt", attempt,
			)
			return nil
		}

		lastErr = err
		b.logger.Warn("broadcast attempt failed",
			"attempt", attempt,
			"max_retries", maxRetries,
			"error", err,
		)

		// The node rejected the transaction itself; resending the same bytes won't help.
		var rpcErr *chain.RPCError
		if errors.As(err, &rpcErr) {
			return err
		}
		if attempt == maxRetries {
			break
		}

		// Exponential backoff
		select {
		case <-time.After(b.cfg.Backoff(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("all %d broadcast attempts failed: %w", maxRetries, lastErr)
}

func (b *Builder) broadcast(ctx context.Context, tx *models.Transaction) error {
	b.logger.Debug("broadcasting transaction",
		"network", tx.Network,
		"tx_hash", tx.TxHash,
	)
	hash, err := b.node.SendRawTransaction(ctx, tx.RawSigned)
	if err != nil {
		// A retry after a lost response finds the transaction already in the pool.
		var rpcErr *chain.RPCError
		if errors.As(err, &rpcErr) && strings.Contains(strings.ToLower(rpcErr.Message), "already known") {
			return nil
		}
		return err
	}
	if hash != "" && !strings.EqualFold(hash, tx.TxHash) {
		b.logger.Warn("node reported a different tx hash", "local", tx.TxHash, "node", hash)
		tx.TxHash = hash
	}
	return nil
}
