package models

import (
	"math/big"
	"time"
)

// Network represents an EVM network
type Network string

// Supported networks.
const (
	NetworkEthereum    Network = "ethereum-mainnet"
	NetworkBaseMainnet Network = "base-mainnet"
	NetworkBaseSepolia Network = "base-sepolia"
)

// DerivedAddress holds a generated address with its derivation path
type DerivedAddress struct {
	Network        Network `json:"network"`
	Address        string  `json:"address"`
	DerivationPath string  `json:"derivation_path"`
	PublicKey      string  `json:"public_key"`
}

// Transaction represents an EVM transaction: a native value move or a contract call.
type Transaction struct {
	Network   Network  `json:"network"`
	From      string   `json:"from"`
	To        string   `json:"to"`
	Amount    *big.Int `json:"amount"`
	GasPrice  *big.Int `json:"gas_price,omitempty"`
	GasLimit  uint64   `json:"gas_limit,omitempty"`
	Nonce     uint64   `json:"nonce,omitempty"`
	Data      []byte   `json:"data,omitempty"`
	Gasless   bool     `json:"gasless,omitempty"`
	Signed    bool     `json:"signed"`
	TxHash    string   `json:"tx_hash,omitempty"`
	RawSigned []byte   `json:"-"`
}

// BlockEvent represents a token movement detected by a block listener
type BlockEvent struct {
	Network     Network  `json:"network"`
	BlockNumber uint64   `json:"block_number"`
	TxHash      string   `json:"tx_hash"`
	Contract    string   `json:"contract,omitempty"`
	From        string   `json:"from"`
	To          string   `json:"to"`
	Amount      *big.Int `json:"amount"`
	Confirmed   bool     `json:"confirmed"`
	Reorged     bool     `json:"reorged,omitempty"`
}

// Purchase is the stored record of one purchase or direct transfer attempt.
type Purchase struct {
	ID                string    `json:"id"`
	Kind              string    `json:"kind"`
	State             string    `json:"state"`
	Payer             string    `json:"payer"`
	Payee             string    `json:"payee"`
	Contract          string    `json:"contract,omitempty"`
	Symbol            string    `json:"symbol,omitempty"`
	Price             *big.Int  `json:"price"`
	Observed          *big.Int  `json:"observed,omitempty"`
	ApprovalTx        string    `json:"approval_tx,omitempty"`
	TransferTx        string    `json:"transfer_tx,omitempty"`
	ApprovalConfirmed bool      `json:"approval_confirmed"`
	Error             string    `json:"error,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}
