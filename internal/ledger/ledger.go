// Package ledger is the token ledger the purchase workflow drives: balance
// queries, approvals and transfers on an ERC-20 contract, each mutating call
// returning a handle that can be waited on until the ledger confirms it.
package ledger

import (
	"context"
	"errors"
	"math/big"
)

var (
	// ErrUnavailable means the ledger could not be queried.
	ErrUnavailable = errors.New("ledger unavailable")
	// ErrReverted means the transaction was mined but failed.
	ErrReverted = errors.New("transaction reverted")
	// ErrGaslessUnsupported means a gasless transfer was asked of a node
	// that does not sponsor gas.
	ErrGaslessUnsupported = errors.New("gasless transfers are not supported by this node")
)

// Confirmable is a submitted ledger operation.
type Confirmable interface {
	TxHash() string
	// Wait blocks until the operation is confirmed, fails, or ctx is done.
	Wait(ctx context.Context) error
}

// Client is the ledger as seen by the purchase workflow.
//
// Every mutating call takes an idempotency key. A repeated call with the
// same non-empty key returns the operation submitted first instead of
// submitting again.
type Client interface {
	// QueryBalance returns the balance of account in smallest units.
	// An empty contract queries the native coin balance.
	QueryBalance(ctx context.Context, account, contract string) (*big.Int, error)
	// Approve lets spender move up to amount of owner's tokens.
	Approve(ctx context.Context, key, contract, owner, spender string, amount *big.Int) (Confirmable, error)
	// TransferFrom moves amount from from to to under a prior approval.
	// The recipient is the approved spender and submits the call.
	TransferFrom(ctx context.Context, key, contract, from, to string, amount *big.Int) (Confirmable, error)
	// Transfer moves amount of the token named symbol directly from from to
	// to. A gasless transfer fails with ErrGaslessUnsupported before anything
	// is submitted unless the node sponsors gas.
	Transfer(ctx context.Context, key, from, to, symbol string, amount *big.Int, gasless bool) (Confirmable, error)
}
