package tx

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/OKaluzny/token-shop/internal/chain"
	"github.com/OKaluzny/token-shop/internal/storage"
	"github.com/OKaluzny/token-shop/internal/wallet"
	"github.com/OKaluzny/token-shop/pkg/models"
)

// mockSigner implements wallet.Signer for testing.
type mockSigner struct{}

func (m *mockSigner) Sign(ctx context.Context, tx *models.Transaction, privateKey []byte) (*models.Transaction, error) {
	tx.TxHash = fmt.Sprintf("0xmockhash%d", tx.Nonce)
	tx.Signed = true
	tx.RawSigned = []byte("signed")
	return tx, nil
}

// mockNode implements Broadcaster. sendErrs are returned by successive sends.
type mockNode struct {
	mu       sync.Mutex
	pending  uint64
	sendErrs []error
	sent     int
}

func (n *mockNode) PendingNonce(ctx context.Context, account string) (uint64, error) {
	return n.pending, nil
}

func (n *mockNode) SendRawTransaction(ctx context.Context, raw []byte) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent++
	if len(n.sendErrs) > 0 {
		err := n.sendErrs[0]
		n.sendErrs = n.sendErrs[1:]
		if err != nil {
			return "", err
		}
	}
	return "", nil
}

type mockKeys struct{}

func (mockKeys) Key(address string) ([]byte, error) {
	if address == "0xnokey" {
		return nil, wallet.ErrNoKey
	}
	return []byte("pk"), nil
}

func newTestBuilder(node *mockNode) *Builder {
	b := NewBuilder(
		BuilderConfig{
			MaxRetries: 3,
			GasPrice:   big.NewInt(20_000_000_000),
			Backoff:    func(int) time.Duration { return 0 },
		},
		node,
		mockKeys{},
		storage.NewMemoryNonceStore(),
		storage.NewMemoryTxStore(),
	)
	b.RegisterSigner(models.NetworkBaseSepolia, &mockSigner{})
	return b
}

func TestBuilder_Idempotency(t *testing.T) {
	node := &mockNode{}
	b := newTestBuilder(node)
	ctx := context.Background()

	req := SendRequest{
		IdempotencyKey: "key-1",
		Network:        models.NetworkBaseSepolia,
		From:           "0xfrom",
		To:             "0xto",
		Amount:         big.NewInt(1000),
	}

	tx1, err := b.Send(ctx, req)
	if err != nil {
		t.Fatal(err)
	}

	tx2, err := b.Send(ctx, req)
	if err != nil {
		t.Fatal(err)
	}

	if tx1.TxHash != tx2.TxHash {
		t.Errorf("idempotent requests should return same tx, got %s vs %s", tx1.TxHash, tx2.TxHash)
	}
	if node.sent != 1 {
		t.Errorf("expected one broadcast, got %d", node.sent)
	}
}

func TestBuilder_NonceIncrement(t *testing.T) {
	b := newTestBuilder(&mockNode{pending: 5})
	ctx := context.Background()

	var nonces []uint64
	for i := 0; i < 3; i++ {
		tx, err := b.Send(ctx, SendRequest{
			IdempotencyKey: "nonce-" + string(rune('0'+i)),
			Network:        models.NetworkBaseSepolia,
			From:           "0xaddr",
			To:             "0xto",
			Amount:         big.NewInt(100),
		})
		if err != nil {
			t.Fatal(err)
		}
		nonces = append(nonces, tx.Nonce)
	}

	if nonces[0] != 5 {
		t.Errorf("first nonce should come from the node's pending count, got %d", nonces[0])
	}
	for i := 1; i < len(nonces); i++ {
		if nonces[i] != nonces[i-1]+1 {
			t.Errorf("nonce should increment: nonces[%d]=%d, nonces[%d]=%d", i-1, nonces[i-1], i, nonces[i])
		}
	}
}

func TestBuilder_NoSigner(t *testing.T) {
	b := NewBuilder(BuilderConfig{}, &mockNode{}, mockKeys{}, storage.NewMemoryNonceStore(), storage.NewMemoryTxStore())
	// No signers registered

	_, err := b.Send(context.Background(), SendRequest{
		IdempotencyKey: "no-signer",
		Network:        models.NetworkBaseSepolia,
		From:           "0xfrom",
		To:             "0xto",
		Amount:         big.NewInt(100),
	})

	if err == nil {
		t.Error("expected error when no signer is registered")
	}
}

func TestBuilder_NoKey(t *testing.T) {
	b := newTestBuilder(&mockNode{})

	_, err := b.Send(context.Background(), SendRequest{
		Network: models.NetworkBaseSepolia,
		From:    "0xnokey",
		To:      "0xto",
		Amount:  big.NewInt(1),
	})
	if !errors.Is(err, wallet.ErrNoKey) {
		t.Fatalf("expected ErrNoKey, got %v", err)
	}
}

func TestBuilder_Gas(t *testing.T) {
	b := newTestBuilder(&mockNode{})
	ctx := context.Background()

	tests := []struct {
		name     string
		req      SendRequest
		price    int64
		gasLimit uint64
	}{
		{"value transfer", SendRequest{From: "0xa", To: "0xb", Amount: big.NewInt(1)}, 20_000_000_000, DefaultTransferGas},
		{"contract call", SendRequest{From: "0xa", To: "0xc", Data: []byte{1}}, 20_000_000_000, DefaultCallGas},
		{"gasless", SendRequest{From: "0xa", To: "0xc", Data: []byte{1}, Gasless: true}, 0, DefaultCallGas},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.Network = models.NetworkBaseSepolia
			tx, err := b.Send(ctx, tt.req)
			if err != nil {
				t.Fatal(err)
			}
			if tx.GasPrice.Cmp(big.NewInt(tt.price)) != 0 {
				t.Errorf("gas price = %v, want %d", tx.GasPrice, tt.price)
			}
			if tx.GasLimit != tt.gasLimit {
				t.Errorf("gas limit = %d, want %d", tx.GasLimit, tt.gasLimit)
			}
			if tx.Amount == nil {
				t.Error("amount should default to zero, not nil")
			}
		})
	}
}

func TestBuilder_BroadcastRetry(t *testing.T) {
	node := &mockNode{sendErrs: []error{chain.ErrUnavailable, chain.ErrUnavailable, nil}}
	b := newTestBuilder(node)

	tx, err := b.Send(context.Background(), SendRequest{
		Network: models.NetworkBaseSepolia, From: "0xa", To: "0xb", Amount: big.NewInt(1),
	})
	if err != nil {
		t.Fatal(err)
	}
	if node.sent != 3 {
		t.Errorf("expected 3 broadcast attempts, got %d", node.sent)
	}
	if !tx.Signed {
		t.Error("expected signed tx")
	}
}

func TestBuilder_BroadcastFailureReleasesNonce(t *testing.T) {
	node := &mockNode{sendErrs: []error{&chain.RPCError{Code: -32000, Message: "insufficient funds for gas"}}}
	b := newTestBuilder(node)
	ctx := context.Background()
	req := SendRequest{Network: models.NetworkBaseSepolia, From: "0xa", To: "0xb", Amount: big.NewInt(1)}

	_, err := b.Send(ctx, req)
	var rpcErr *chain.RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected RPC error, got %v", err)
	}
	if node.sent != 1 {
		t.Errorf("node rejections must not be retried, got %d sends", node.sent)
	}

	tx, err := b.Send(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if tx.Nonce != 0 {
		t.Errorf("expected the rejected nonce to be reused, got %d", tx.Nonce)
	}
}

func TestBuilder_AlreadyKnown(t *testing.T) {
	node := &mockNode{sendErrs: []error{&chain.RPCError{Code: -32000, Message: "Already Known"}}}
	b := newTestBuilder(node)

	_, err := b.Send(context.Background(), SendRequest{
		Network: models.NetworkBaseSepolia, From: "0xa", To: "0xb", Amount: big.NewInt(1),
	})
	if err != nil {
		t.Fatalf("a transaction already in the pool is a success, got %v", err)
	}
}

func TestBuilder_RetryExhausted(t *testing.T) {
	node := &mockNode{sendErrs: []error{chain.ErrUnavailable, chain.ErrUnavailable, chain.ErrUnavailable}}
	b := newTestBuilder(node)

	_, err := b.Send(context.Background(), SendRequest{
		Network: models.NetworkBaseSepolia, From: "0xa", To: "0xb", Amount: big.NewInt(1),
	})
	if !errors.Is(err, chain.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "all 3 broadcast attempts failed") {
		t.Errorf("unexpected error text: %v", err)
	}
}
