package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/OKaluzny/token-shop/internal/abi"
	"github.com/OKaluzny/token-shop/internal/chain"
	"github.com/OKaluzny/token-shop/internal/token"
	"github.com/OKaluzny/token-shop/internal/tx"
	"github.com/OKaluzny/token-shop/pkg/models"
)

// Config holds confirmation parameters for the contract client.
type Config struct {
	Network models.Network
	// ConfirmationDepth is the number of blocks, including the one holding
	// the transaction, required before Wait returns.
	ConfirmationDepth uint64
	PollInterval      time.Duration
	// GaslessSponsored allows gasless transfers. Leave it unset unless the
	// node accepts zero gas price transactions.
	GaslessSponsored bool
}

// ContractClient implements Client on an EVM node: calls are ABI encoded,
// signed and broadcast through the transaction builder, and confirmed by
// polling receipts.
type ContractClient struct {
	node    chain.Node
	builder *tx.Builder
	tokens  *token.Registry
	cfg     Config
	logger  *slog.Logger
}

func NewContractClient(cfg Config, node chain.Node, builder *tx.Builder, tokens *token.Registry) *ContractClient {
	if cfg.ConfirmationDepth == 0 {
		cfg.ConfirmationDepth = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &ContractClient{
		node:    node,
		builder: builder,
		tokens:  tokens,
		cfg:     cfg,
		logger:  slog.Default().With("component", "ledger", "network", string(cfg.Network)),
	}
}

func (c *ContractClient) QueryBalance(ctx context.Context, account, contract string) (*big.Int, error) {
	if contract == "" {
		bal, err := c.node.Balance(ctx, account)
		if err != nil {
			return nil, fmt.Errorf("%w: native balance: %w", ErrUnavailable, err)
		}
		return bal, nil
	}

	data, err := abi.BalanceOf(account)
	if err != nil {
		return nil, fmt.Errorf("balanceOf: %w", err)
	}
	ret, err := c.node.Call(ctx, contract, data)
	if err != nil {
		return nil, fmt.Errorf("%w: balanceOf: %w", ErrUnavailable, err)
	}
	bal, err := abi.DecodeUint256(ret)
	if err != nil {
		return nil, fmt.Errorf("%w: balanceOf result: %w", ErrUnavailable, err)
	}
	return bal, nil
}

func (c *ContractClient) Approve(ctx context.Context, key, contract, owner, spender string, amount *big.Int) (Confirmable, error) {
	data, err := abi.Approve(spender, amount)
	if err != nil {
		return nil, fmt.Errorf("encode approve: %w", err)
	}
	return c.submit(ctx, "approve", tx.SendRequest{
		IdempotencyKey: key,
		Network:        c.cfg.Network,
		From:           owner,
		To:             contract,
		Data:           data,
	})
}

func (c *ContractClient) TransferFrom(ctx context.Context, key, contract, from, to string, amount *big.Int) (Confirmable, error) {
	data, err := abi.TransferFrom(from, to, amount)
	if err != nil {
		return nil, fmt.Errorf("encode transferFrom: %w", err)
	}
	return c.submit(ctx, "transferFrom", tx.SendRequest{
		IdempotencyKey: key,
		Network:        c.cfg.Network,
		From:           to,
		To:             contract,
		Data:           data,
	})
}

func (c *ContractClient) Transfer(ctx context.Context, key, from, to, symbol string, amount *big.Int, gasless bool) (Confirmable, error) {
	if gasless && !c.cfg.GaslessSponsored {
		return nil, ErrGaslessUnsupported
	}
	tok, err := c.tokens.Lookup(symbol)
	if err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %v", token.ErrInvalidAmount, amount)
	}

	if tok.Native() {
		if _, err := abi.ParseAddress(to); err != nil {
			return nil, err
		}
		return c.submit(ctx, "transfer", tx.SendRequest{
			IdempotencyKey: key,
			Network:        c.cfg.Network,
			From:           from,
			To:             to,
			Amount:         amount,
			Gasless:        gasless,
		})
	}

	data, err := abi.Transfer(to, amount)
	if err != nil {
		return nil, fmt.Errorf("encode transfer: %w", err)
	}
	return c.submit(ctx, "transfer", tx.SendRequest{
		IdempotencyKey: key,
		Network:        c.cfg.Network,
		From:           from,
		To:             tok.Contract,
		Data:           data,
		Gasless:        gasless,
	})
}

func (c *ContractClient) submit(ctx context.Context, op string, req tx.SendRequest) (Confirmable, error) {
	sent, err := c.builder.Send(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	c.logger.Info("submitted", "op", op, "tx_hash", sent.TxHash, "from", sent.From, "to", sent.To)
	return &pendingTx{
		hash:     sent.TxHash,
		op:       op,
		node:     c.node,
		depth:    c.cfg.ConfirmationDepth,
		interval: c.cfg.PollInterval,
		logger:   c.logger,
	}, nil
}

// pendingTx waits for a broadcast transaction by polling its receipt.
type pendingTx struct {
	hash     string
	op       string
	node     chain.Node
	depth    uint64
	interval time.Duration
	logger   *slog.Logger
}

func (p *pendingTx) TxHash() string {
	return p.hash
}

// Wait polls until the receipt is depth blocks deep. Node errors are
// retried on the next tick; only ctx ends the wait without a verdict.
func (p *pendingTx) Wait(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		done, err := p.check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s %s not confirmed: %w", p.op, p.hash, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (p *pendingTx) check(ctx context.Context) (bool, error) {
	receipt, err := p.node.TransactionReceipt(ctx, p.hash)
	if err != nil {
		if ctx.Err() != nil {
			return false, fmt.Errorf("%s %s not confirmed: %w", p.op, p.hash, ctx.Err())
		}
		p.logger.Warn("receipt poll failed", "tx_hash", p.hash, "error", err)
		return false, nil
	}
	if receipt == nil {
		return false, nil
	}
	if !receipt.Succeeded() {
		p.logger.Warn("transaction reverted", "op", p.op, "tx_hash", p.hash, "block", receipt.BlockNumber)
		return false, fmt.Errorf("%s %s: %w", p.op, p.hash, ErrReverted)
	}

	head, err := p.node.BlockNumber(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false, fmt.Errorf("%s %s not confirmed: %w", p.op, p.hash, ctx.Err())
		}
		p.logger.Warn("block number poll failed", "error", err)
		return false, nil
	}
	if head+1 < receipt.BlockNumber+p.depth {
		return false, nil
	}

	p.logger.Info("transaction confirmed",
		"op", p.op,
		"tx_hash", p.hash,
		"block", receipt.BlockNumber,
		"depth", head-receipt.BlockNumber+1,
	)
	return true, nil
}
