// Package token describes the tokens the shop accepts and converts amounts
// between smallest units and their human-readable form.
package token

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// NativeSymbol is the registry symbol of the chain's native coin.
const NativeSymbol = "eth"

var (
	ErrUnknownToken  = errors.New("unknown token")
	ErrInvalidAmount = errors.New("invalid amount")
)

// Token is an ERC-20 contract (or the native coin, with an empty Contract)
// and the decimal exponent of its smallest unit.
type Token struct {
	Symbol   string `json:"symbol"`
	Contract string `json:"contract,omitempty"`
	Decimals uint8  `json:"decimals"`
}

// Native reports whether t is the chain's native coin.
func (t Token) Native() bool {
	return t.Contract == ""
}

// Format renders smallest units of t for display.
func (t Token) Format(units *big.Int) string {
	return FormatAmount(units, t.Decimals)
}

// Parse converts a display amount of t into smallest units.
func (t Token) Parse(s string) (*big.Int, error) {
	return ParseAmount(s, t.Decimals)
}

// ParseAmount converts a decimal string such as "50" or "0.01" into smallest
// units at the given scale. Digits below the smallest unit are rejected
// rather than rounded.
func ParseAmount(s string, decimals uint8) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: %q is negative", ErrInvalidAmount, s)
	}
	units := d.Shift(int32(decimals))
	if !units.IsInteger() {
		return nil, fmt.Errorf("%w: %q has more than %d decimal places", ErrInvalidAmount, s, decimals)
	}
	return units.BigInt(), nil
}

// FormatAmount renders smallest units as a decimal string, trimming trailing
// zeros. It is for reporting only; comparisons stay on the integer units.
func FormatAmount(units *big.Int, decimals uint8) string {
	if units == nil {
		return "0"
	}
	return decimal.NewFromBigInt(units, -int32(decimals)).String()
}

// Registry resolves token symbols. Lookups are case-insensitive.
type Registry struct {
	mu     sync.RWMutex
	tokens map[string]Token
}

// NewRegistry returns a registry preloaded with the native coin (18 decimals)
// and the given tokens.
func NewRegistry(tokens ...Token) *Registry {
	r := &Registry{tokens: make(map[string]Token)}
	r.Register(Token{Symbol: NativeSymbol, Decimals: 18})
	for _, t := range tokens {
		r.Register(t)
	}
	return r
}

// Register adds or replaces a token.
func (r *Registry) Register(t Token) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t.Symbol = strings.ToLower(t.Symbol)
	t.Contract = strings.ToLower(t.Contract)
	r.tokens[t.Symbol] = t
}

// Lookup returns the token registered under symbol.
func (r *Registry) Lookup(symbol string) (Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tokens[strings.ToLower(symbol)]
	if !ok {
		return Token{}, fmt.Errorf("%w: %s", ErrUnknownToken, symbol)
	}
	return t, nil
}

// ByContract returns the token deployed at contract.
func (r *Registry) ByContract(contract string) (Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	contract = strings.ToLower(contract)
	for _, t := range r.tokens {
		if !t.Native() && t.Contract == contract {
			return t, nil
		}
	}
	return Token{}, fmt.Errorf("%w: contract %s", ErrUnknownToken, contract)
}
