package purchase

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/OKaluzny/token-shop/internal/chain"
	"github.com/OKaluzny/token-shop/internal/ledger"
	"github.com/OKaluzny/token-shop/internal/storage"
	"github.com/OKaluzny/token-shop/internal/token"
	"github.com/OKaluzny/token-shop/internal/tx"
	"github.com/OKaluzny/token-shop/internal/wallet"
	"github.com/OKaluzny/token-shop/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

// minerNode is a chain.Node that mines only the first mineLimit
// transactions it receives.
type minerNode struct {
	mu        sync.Mutex
	balance   *big.Int
	sent      []string
	mineLimit int
}

func (n *minerNode) BlockNumber(ctx context.Context) (uint64, error) { return 100, nil }

func (n *minerNode) Call(ctx context.Context, to string, data []byte) ([]byte, error) {
	word := make([]byte, 32)
	n.balance.FillBytes(word)
	return word, nil
}

func (n *minerNode) Balance(ctx context.Context, account string) (*big.Int, error) {
	return new(big.Int), nil
}

func (n *minerNode) PendingNonce(ctx context.Context, account string) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return uint64(len(n.sent)), nil
}

func (n *minerNode) SendRawTransaction(ctx context.Context, raw []byte) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	hash := fmt.Sprintf("0x%064x", len(n.sent)+1)
	n.sent = append(n.sent, hash)
	return hash, nil
}

func (n *minerNode) TransactionReceipt(ctx context.Context, txHash string) (*chain.Receipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, h := range n.sent {
		if h == txHash && i < n.mineLimit {
			return &chain.Receipt{TxHash: txHash, BlockNumber: 100, Status: 1}, nil
		}
	}
	return nil, nil
}

func (n *minerNode) BlockByNumber(ctx context.Context, number uint64) (*chain.Block, error) {
	return &chain.Block{Number: number}, nil
}

func (n *minerNode) broadcasts() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func TestExecute_RerunReusesSubmittedTransactions(t *testing.T) {
	w, err := wallet.FromMnemonic(testMnemonic, "", models.NetworkBaseSepolia)
	require.NoError(t, err)
	keys := wallet.NewKeyring()
	buyer, err := keys.AddWallet(w, 0)
	require.NoError(t, err)
	shop, err := keys.AddWallet(w, 1)
	require.NoError(t, err)

	node := &minerNode{balance: tokens(100), mineLimit: 1}
	builder := tx.NewBuilder(tx.BuilderConfig{GasPrice: big.NewInt(1_000_000_000)}, node, keys,
		storage.NewMemoryNonceStore(), storage.NewMemoryTxStore())
	builder.RegisterSigner(models.NetworkBaseSepolia, wallet.NewETHSigner(84532))
	reg := token.NewRegistry(token.Token{Symbol: "shop", Contract: contract, Decimals: 18})
	client := ledger.NewContractClient(ledger.Config{
		Network:      models.NetworkBaseSepolia,
		PollInterval: time.Millisecond,
	}, node, builder, reg)
	wf := NewWorkflow(Config{ConfirmationTimeout: 50 * time.Millisecond}, client, reg, nil)

	req := Request{ID: "order-1", Payer: buyer, Payee: shop, Contract: contract, Price: tokens(50)}

	// transferFrom is broadcast but not mined in time
	out, err := wf.Execute(context.Background(), req)
	require.ErrorIs(t, err, ErrTransferFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, out.ApprovalConfirmed)
	require.Equal(t, 2, node.broadcasts())
	approveTx, transferTx := out.ApprovalTx, out.TransferTx

	node.mu.Lock()
	node.mineLimit = 2
	node.mu.Unlock()

	out, err = wf.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, out.State)
	assert.Equal(t, approveTx, out.ApprovalTx)
	assert.Equal(t, transferTx, out.TransferTx)
	assert.Equal(t, 2, node.broadcasts(), "a re-run must not broadcast again")
}
