// Package abi encodes and decodes the ERC-20 calls the shop issues.
package abi

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"
)

const wordSize = 32

// ERC-20 method signatures.
const (
	SigBalanceOf    = "balanceOf(address)"
	SigApprove      = "approve(address,uint256)"
	SigTransfer     = "transfer(address,uint256)"
	SigTransferFrom = "transferFrom(address,address,uint256)"
)

var (
	ErrInvalidAddress = errors.New("invalid address")
	ErrAmountRange    = errors.New("amount out of uint256 range")
	ErrShortData      = errors.New("call data too short")
	ErrUnknownMethod  = errors.New("unknown method selector")
)

var (
	selBalanceOf    = Selector(SigBalanceOf)
	selApprove      = Selector(SigApprove)
	selTransfer     = Selector(SigTransfer)
	selTransferFrom = Selector(SigTransferFrom)
)

// Selector returns the first 4 bytes of Keccak-256(signature).
func Selector(signature string) [4]byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(signature))
	var sel [4]byte
	copy(sel[:], h.Sum(nil))
	return sel
}

// BalanceOf encodes balanceOf(account).
func BalanceOf(account string) ([]byte, error) {
	acc, err := addressWord(account)
	if err != nil {
		return nil, err
	}
	return pack(selBalanceOf, acc), nil
}

// Approve encodes approve(spender, amount).
func Approve(spender string, amount *big.Int) ([]byte, error) {
	sp, err := addressWord(spender)
	if err != nil {
		return nil, err
	}
	amt, err := amountWord(amount)
	if err != nil {
		return nil, err
	}
	return pack(selApprove, sp, amt), nil
}

// Transfer encodes transfer(to, amount).
func Transfer(to string, amount *big.Int) ([]byte, error) {
	dst, err := addressWord(to)
	if err != nil {
		return nil, err
	}
	amt, err := amountWord(amount)
	if err != nil {
		return nil, err
	}
	return pack(selTransfer, dst, amt), nil
}

// TransferFrom encodes transferFrom(from, to, amount).
func TransferFrom(from, to string, amount *big.Int) ([]byte, error) {
	src, err := addressWord(from)
	if err != nil {
		return nil, err
	}
	dst, err := addressWord(to)
	if err != nil {
		return nil, err
	}
	amt, err := amountWord(amount)
	if err != nil {
		return nil, err
	}
	return pack(selTransferFrom, src, dst, amt), nil
}

// DecodeUint256 decodes a single uint256 return value.
func DecodeUint256(ret []byte) (*big.Int, error) {
	if len(ret) < wordSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortData, len(ret))
	}
	return new(uint256.Int).SetBytes32(ret[:wordSize]).ToBig(), nil
}

// TokenMovement is a decoded transfer or transferFrom call.
type TokenMovement struct {
	From   string // empty for transfer: the sender is the transaction signer
	To     string
	Amount *big.Int
}

// DecodeMovement decodes transfer or transferFrom call data.
func DecodeMovement(data []byte) (*TokenMovement, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortData, len(data))
	}
	var sel [4]byte
	copy(sel[:], data[:4])
	args := data[4:]

	switch sel {
	case selTransfer:
		if len(args) < 2*wordSize {
			return nil, fmt.Errorf("%w: transfer args %d bytes", ErrShortData, len(args))
		}
		return &TokenMovement{
			To:     wordAddress(args[0:32]),
			Amount: new(uint256.Int).SetBytes32(args[32:64]).ToBig(),
		}, nil
	case selTransferFrom:
		if len(args) < 3*wordSize {
			return nil, fmt.Errorf("%w: transferFrom args %d bytes", ErrShortData, len(args))
		}
		return &TokenMovement{
			From:   wordAddress(args[0:32]),
			To:     wordAddress(args[32:64]),
			Amount: new(uint256.Int).SetBytes32(args[64:96]).ToBig(),
		}, nil
	default:
		return nil, fmt.Errorf("%w: 0x%x", ErrUnknownMethod, sel)
	}
}

// ParseAddress decodes a 0x-prefixed 20-byte hex address.
func ParseAddress(addr string) ([]byte, error) {
	s := strings.TrimPrefix(strings.TrimPrefix(addr, "0x"), "0X")
	if len(s) != 40 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	return b, nil
}

// --- helpers ---

func pack(sel [4]byte, words ...[]byte) []byte {
	var buf bytes.Buffer
	buf.Grow(4 + len(words)*wordSize)
	buf.Write(sel[:])
	for _, w := range words {
		buf.Write(w)
	}
	return buf.Bytes()
}

func addressWord(addr string) ([]byte, error) {
	b, err := ParseAddress(addr)
	if err != nil {
		return nil, err
	}
	word := make([]byte, wordSize)
	copy(word[wordSize-len(b):], b)
	return word, nil
}

func amountWord(amount *big.Int) ([]byte, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: %v", ErrAmountRange, amount)
	}
	v, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, fmt.Errorf("%w: %s", ErrAmountRange, amount)
	}
	word := v.Bytes32()
	return word[:], nil
}

func wordAddress(word []byte) string {
	return "0x" + hex.EncodeToString(word[wordSize-20:])
}
