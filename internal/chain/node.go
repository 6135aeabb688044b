// Package chain talks to an EVM node over JSON-RPC.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
)

// ErrUnavailable wraps transport failures: the node could not be reached or
// answered with something that is not a JSON-RPC response.
var ErrUnavailable = errors.New("node unavailable")

// ErrInvalidAddress is returned for an account or contract that is not a
// 20-byte hex address.
var ErrInvalidAddress = errors.New("invalid address")

// RPCError is a JSON-RPC error object returned by the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Node is the subset of the Ethereum JSON-RPC API the shop uses.
type Node interface {
	BlockNumber(ctx context.Context) (uint64, error)
	// Call executes a read-only contract call against the latest block.
	Call(ctx context.Context, to string, data []byte) ([]byte, error)
	// Balance returns the native balance of account in wei.
	Balance(ctx context.Context, account string) (*big.Int, error)
	// PendingNonce returns the transaction count of account including pending ones.
	PendingNonce(ctx context.Context, account string) (uint64, error)
	// SendRawTransaction submits a signed transaction and returns its hash.
	SendRawTransaction(ctx context.Context, raw []byte) (string, error)
	// TransactionReceipt returns nil and no error while the transaction is not mined.
	TransactionReceipt(ctx context.Context, txHash string) (*Receipt, error)
	BlockByNumber(ctx context.Context, number uint64) (*Block, error)
}

// Receipt is a mined transaction's result.
type Receipt struct {
	TxHash      string
	BlockNumber uint64
	BlockHash   string
	Status      uint64
}

// Succeeded reports whether the transaction executed without reverting.
func (r *Receipt) Succeeded() bool {
	return r.Status == 1
}

// Block is a block with its full transactions.
type Block struct {
	Number       uint64
	Hash         string
	Transactions []Transaction
}

// Transaction is a transaction as it appears in a block.
type Transaction struct {
	Hash  string
	From  string
	To    string
	Value *big.Int
	Input []byte
}
