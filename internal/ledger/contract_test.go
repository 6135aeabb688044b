package ledger

import (
	"bytes"
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/OKaluzny/token-shop/internal/abi"
	"github.com/OKaluzny/token-shop/internal/chain"
	"github.com/OKaluzny/token-shop/internal/storage"
	"github.com/OKaluzny/token-shop/internal/token"
	"github.com/OKaluzny/token-shop/internal/tx"
	"github.com/OKaluzny/token-shop/internal/wallet"
	"github.com/OKaluzny/token-shop/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	testContract = "0x3333333333333333333333333333333333333333"
)

// fakeNode is an in-memory chain.Node. Every sent transaction is mined at
// block minedAt after pendingPolls receipt polls; head advances by one on
// each BlockNumber call.
type fakeNode struct {
	mu           sync.Mutex
	head         uint64
	minedAt      uint64
	pendingPolls int
	status       uint64
	callResult   []byte
	native       *big.Int
	callErr      error
	receiptErr   error

	calls [][]byte
	sent  [][]byte
	polls int
}

func newFakeNode() *fakeNode {
	return &fakeNode{head: 10, minedAt: 10, status: 1, native: big.NewInt(0)}
}

func (n *fakeNode) BlockNumber(ctx context.Context) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	h := n.head
	n.head++
	return h, nil
}

func (n *fakeNode) Call(ctx context.Context, to string, data []byte) ([]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, data)
	if n.callErr != nil {
		return nil, n.callErr
	}
	return n.callResult, nil
}

func (n *fakeNode) Balance(ctx context.Context, account string) (*big.Int, error) {
	if n.callErr != nil {
		return nil, n.callErr
	}
	return new(big.Int).Set(n.native), nil
}

func (n *fakeNode) PendingNonce(ctx context.Context, account string) (uint64, error) {
	return 0, nil
}

func (n *fakeNode) SendRawTransaction(ctx context.Context, raw []byte) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, raw)
	return "", nil
}

func (n *fakeNode) TransactionReceipt(ctx context.Context, txHash string) (*chain.Receipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.polls++
	if n.receiptErr != nil {
		return nil, n.receiptErr
	}
	if n.polls <= n.pendingPolls {
		return nil, nil
	}
	return &chain.Receipt{TxHash: txHash, BlockNumber: n.minedAt, Status: n.status}, nil
}

func (n *fakeNode) BlockByNumber(ctx context.Context, number uint64) (*chain.Block, error) {
	return &chain.Block{Number: number}, nil
}

type fixture struct {
	client *ContractClient
	node   *fakeNode
	payer  string
	payee  string
}

func newFixture(t *testing.T, withPayeeKey bool) *fixture {
	t.Helper()

	w, err := wallet.FromMnemonic(testMnemonic, "", models.NetworkBaseSepolia)
	require.NoError(t, err)
	kr := wallet.NewKeyring()
	payer, err := kr.AddWallet(w, 0)
	require.NoError(t, err)
	payeeAddr, err := w.Address(1)
	require.NoError(t, err)
	if withPayeeKey {
		_, err = kr.AddWallet(w, 1)
		require.NoError(t, err)
	}

	node := newFakeNode()
	b := tx.NewBuilder(tx.BuilderConfig{GasPrice: big.NewInt(1_000_000_000)}, node, kr,
		storage.NewMemoryNonceStore(), storage.NewMemoryTxStore())
	b.RegisterSigner(models.NetworkBaseSepolia, wallet.NewETHSigner(84532))

	tokens := token.NewRegistry(token.Token{Symbol: "SHOP", Contract: testContract, Decimals: 18})
	client := NewContractClient(Config{
		Network:           models.NetworkBaseSepolia,
		ConfirmationDepth: 1,
		PollInterval:      time.Millisecond,
	}, node, b, tokens)

	return &fixture{client: client, node: node, payer: payer, payee: payeeAddr.Address}
}

func fifty() *big.Int {
	v, _ := new(big.Int).SetString("50000000000000000000", 10)
	return v
}

func TestQueryBalance(t *testing.T) {
	f := newFixture(t, true)
	word := make([]byte, 32)
	fifty().FillBytes(word)
	f.node.callResult = word

	bal, err := f.client.QueryBalance(context.Background(), f.payer, testContract)
	require.NoError(t, err)
	assert.Equal(t, 0, bal.Cmp(fifty()))

	want, err := abi.BalanceOf(f.payer)
	require.NoError(t, err)
	require.Len(t, f.node.calls, 1)
	assert.Equal(t, want, f.node.calls[0])
	assert.Empty(t, f.node.sent, "a balance query must not submit anything")
}

func TestQueryBalance_Native(t *testing.T) {
	f := newFixture(t, true)
	f.node.native = big.NewInt(42)

	bal, err := f.client.QueryBalance(context.Background(), f.payer, "")
	require.NoError(t, err)
	assert.Equal(t, int64(42), bal.Int64())
}

func TestQueryBalance_Unavailable(t *testing.T) {
	f := newFixture(t, true)
	f.node.callErr = chain.ErrUnavailable

	_, err := f.client.QueryBalance(context.Background(), f.payer, testContract)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, chain.ErrUnavailable)
}

func TestApprove(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	c, err := f.client.Approve(ctx, "", testContract, f.payer, f.payee, fifty())
	require.NoError(t, err)
	assert.NotEmpty(t, c.TxHash())
	require.NoError(t, c.Wait(ctx))

	data, err := abi.Approve(f.payee, fifty())
	require.NoError(t, err)
	require.Len(t, f.node.sent, 1)
	assert.True(t, bytes.Contains(f.node.sent[0], data), "raw tx should carry approve call data")
}

func TestTransferFrom_SignedBySpender(t *testing.T) {
	t.Run("spender key held", func(t *testing.T) {
		f := newFixture(t, true)
		c, err := f.client.TransferFrom(context.Background(), "", testContract, f.payer, f.payee, fifty())
		require.NoError(t, err)
		require.NoError(t, c.Wait(context.Background()))

		data, err := abi.TransferFrom(f.payer, f.payee, fifty())
		require.NoError(t, err)
		assert.True(t, bytes.Contains(f.node.sent[0], data))
	})

	t.Run("spender key missing", func(t *testing.T) {
		f := newFixture(t, false)
		_, err := f.client.TransferFrom(context.Background(), "", testContract, f.payer, f.payee, fifty())
		assert.ErrorIs(t, err, wallet.ErrNoKey)
		assert.Empty(t, f.node.sent)
	})
}

func TestTransfer(t *testing.T) {
	ctx := context.Background()

	t.Run("token", func(t *testing.T) {
		f := newFixture(t, true)
		_, err := f.client.Transfer(ctx, "", f.payer, f.payee, "shop", fifty(), false)
		require.NoError(t, err)

		data, err := abi.Transfer(f.payee, fifty())
		require.NoError(t, err)
		assert.True(t, bytes.Contains(f.node.sent[0], data))
	})

	t.Run("gasless without sponsor", func(t *testing.T) {
		f := newFixture(t, true)
		_, err := f.client.Transfer(ctx, "", f.payer, f.payee, "shop", fifty(), true)
		assert.ErrorIs(t, err, ErrGaslessUnsupported)
		assert.Empty(t, f.node.sent, "nothing is broadcast")
	})

	t.Run("gasless with sponsor", func(t *testing.T) {
		f := newFixture(t, true)
		f.client.cfg.GaslessSponsored = true
		_, err := f.client.Transfer(ctx, "", f.payer, f.payee, "shop", fifty(), true)
		require.NoError(t, err)
		require.Len(t, f.node.sent, 1)
	})

	t.Run("native", func(t *testing.T) {
		f := newFixture(t, true)
		_, err := f.client.Transfer(ctx, "", f.payer, f.payee, "ETH", big.NewInt(1000), false)
		require.NoError(t, err)
		require.Len(t, f.node.sent, 1)
	})

	t.Run("unknown symbol", func(t *testing.T) {
		f := newFixture(t, true)
		_, err := f.client.Transfer(ctx, "", f.payer, f.payee, "doge", big.NewInt(1), false)
		assert.ErrorIs(t, err, token.ErrUnknownToken)
		assert.Empty(t, f.node.sent)
	})

	t.Run("zero amount", func(t *testing.T) {
		f := newFixture(t, true)
		_, err := f.client.Transfer(ctx, "", f.payer, f.payee, "shop", big.NewInt(0), false)
		assert.ErrorIs(t, err, token.ErrInvalidAmount)
	})
}

func TestSubmit_IdempotencyKey(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	first, err := f.client.Approve(ctx, "order-1:approve", testContract, f.payer, f.payee, fifty())
	require.NoError(t, err)
	again, err := f.client.Approve(ctx, "order-1:approve", testContract, f.payer, f.payee, fifty())
	require.NoError(t, err)
	assert.Equal(t, first.TxHash(), again.TxHash())
	assert.Len(t, f.node.sent, 1, "a repeated key must not broadcast again")

	other, err := f.client.Approve(ctx, "order-2:approve", testContract, f.payer, f.payee, fifty())
	require.NoError(t, err)
	assert.Len(t, f.node.sent, 2)
	assert.NotEmpty(t, other.TxHash())

	_, err = f.client.Transfer(ctx, "order-3:transfer", f.payer, f.payee, "shop", fifty(), false)
	require.NoError(t, err)
	_, err = f.client.Transfer(ctx, "order-3:transfer", f.payer, f.payee, "shop", fifty(), false)
	require.NoError(t, err)
	assert.Len(t, f.node.sent, 3)
}

func TestWait(t *testing.T) {
	ctx := context.Background()

	t.Run("pending then mined", func(t *testing.T) {
		f := newFixture(t, true)
		f.node.pendingPolls = 3
		c, err := f.client.Approve(ctx, "", testContract, f.payer, f.payee, fifty())
		require.NoError(t, err)
		require.NoError(t, c.Wait(ctx))
		assert.Equal(t, 4, f.node.polls)
	})

	t.Run("confirmation depth", func(t *testing.T) {
		f := newFixture(t, true)
		f.client.cfg.ConfirmationDepth = 3
		c, err := f.client.Approve(ctx, "", testContract, f.payer, f.payee, fifty())
		require.NoError(t, err)
		require.NoError(t, c.Wait(ctx))
		// mined at 10, depth 3 needs head 12
		assert.GreaterOrEqual(t, f.node.head, uint64(13))
	})

	t.Run("reverted", func(t *testing.T) {
		f := newFixture(t, true)
		f.node.status = 0
		c, err := f.client.Approve(ctx, "", testContract, f.payer, f.payee, fifty())
		require.NoError(t, err)
		assert.ErrorIs(t, c.Wait(ctx), ErrReverted)
	})

	t.Run("timeout", func(t *testing.T) {
		f := newFixture(t, true)
		f.node.pendingPolls = 1 << 30
		c, err := f.client.Approve(ctx, "", testContract, f.payer, f.payee, fifty())
		require.NoError(t, err)

		tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, c.Wait(tctx), context.DeadlineExceeded)
	})

	t.Run("node errors are retried", func(t *testing.T) {
		f := newFixture(t, true)
		f.node.receiptErr = chain.ErrUnavailable
		c, err := f.client.Approve(ctx, "", testContract, f.payer, f.payee, fifty())
		require.NoError(t, err)

		tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, c.Wait(tctx), context.DeadlineExceeded)
		assert.Greater(t, f.node.polls, 1)
	})
}
