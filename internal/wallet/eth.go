package wallet

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/OKaluzny/token-shop/internal/abi"
	"github.com/OKaluzny/token-shop/pkg/models"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip32"
)

// ErrSignerMismatch is returned when a transaction's From does not match the signing key.
var ErrSignerMismatch = errors.New("signing key does not match sender")

// ETHGenerator generates EVM addresses using BIP-44 derivation.
// Derivation path: m/44'/60'/0'/0/{index}
type ETHGenerator struct {
	network models.Network
}

// NewETHGenerator returns an EVM address generator for the given network.
func NewETHGenerator(network models.Network) *ETHGenerator {
	return &ETHGenerator{network: network}
}

// Network returns the network identifier.
func (g *ETHGenerator) Network() models.Network {
	return g.network
}

// GenerateFromSeed derives an EVM address from a BIP-39 seed.
func (g *ETHGenerator) GenerateFromSeed(seed []byte, index uint32) (*models.DerivedAddress, error) {
	path := fmt.Sprintf("m/44'/60'/0'/0/%d", index)

	key, err := deriveKey(seed, 60, index)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	_, pubKey := btcec.PrivKeyFromBytes(key)
	pubBytes := pubKey.SerializeUncompressed()

	return &models.DerivedAddress{
		Network:        g.network,
		Address:        pubKeyAddress(pubBytes),
		DerivationPath: path,
		PublicKey:      hex.EncodeToString(pubBytes),
	}, nil
}

// ETHSigner signs legacy EVM transactions with EIP-155 replay protection.
type ETHSigner struct {
	signer types.Signer
}

// NewETHSigner returns a transaction signer for the given chain ID.
func NewETHSigner(chainID int64) *ETHSigner {
	return &ETHSigner{signer: types.LatestSignerForChainID(big.NewInt(chainID))}
}

// Sign signs tx with privateKey. RawSigned holds the RLP-encoded signed
// transaction, ready for eth_sendRawTransaction.
func (s *ETHSigner) Sign(ctx context.Context, tx *models.Transaction, privateKey []byte) (*models.Transaction, error) {
	key, err := crypto.ToECDSA(privateKey)
	if err != nil {
		return nil, fmt.Errorf("private key: %w", err)
	}
	from := strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex())
	if tx.From != "" && !strings.EqualFold(tx.From, from) {
		return nil, fmt.Errorf("%w: key is %s, tx from %s", ErrSignerMismatch, from, tx.From)
	}

	legacy := &types.LegacyTx{
		Nonce:    tx.Nonce,
		GasPrice: tx.GasPrice,
		Gas:      tx.GasLimit,
		Value:    tx.Amount,
		Data:     tx.Data,
	}
	if tx.To != "" {
		b, err := abi.ParseAddress(tx.To)
		if err != nil {
			return nil, fmt.Errorf("to: %w", err)
		}
		to := common.BytesToAddress(b)
		legacy.To = &to
	}

	signed, err := types.SignTx(types.NewTx(legacy), s.signer, key)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}

	tx.From = from
	tx.TxHash = signed.Hash().Hex()
	tx.Signed = true
	tx.RawSigned = raw

	return tx, nil
}

// pubKeyAddress returns the EVM address of an uncompressed public key:
// the last 20 bytes of Keccak256(pubKey[1:]).
func pubKeyAddress(uncompressed []byte) string {
	return strings.ToLower(common.BytesToAddress(crypto.Keccak256(uncompressed[1:])[12:]).Hex())
}

// deriveKey derives a child private key from a BIP-39 seed using BIP-32/BIP-44.
// Path: m/44'/{coinType}'/0'/0/{index}
func deriveKey(seed []byte, coinType uint32, index uint32) ([]byte, error) {
	masterKey, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("master key: %w", err)
	}

	// m/44'
	purpose, err := masterKey.NewChildKey(bip32.FirstHardenedChild + 44)
	if err != nil {
		return nil, fmt.Errorf("derive purpose: %w", err)
	}

	// m/44'/{coinType}'
	coin, err := purpose.NewChildKey(bip32.FirstHardenedChild + coinType)
	if err != nil {
		return nil, fmt.Errorf("derive coin: %w", err)
	}

	// m/44'/{coinType}'/0'
	account, err := coin.NewChildKey(bip32.FirstHardenedChild + 0)
	if err != nil {
		return nil, fmt.Errorf("derive account: %w", err)
	}

	// m/44'/{coinType}'/0'/0
	change, err := account.NewChildKey(0)
	if err != nil {
		return nil, fmt.Errorf("derive change: %w", err)
	}

	// m/44'/{coinType}'/0'/0/{index}
	child, err := change.NewChildKey(index)
	if err != nil {
		return nil, fmt.Errorf("derive child: %w", err)
	}

	return child.Key, nil
}
