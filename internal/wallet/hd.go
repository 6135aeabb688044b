package wallet

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/OKaluzny/token-shop/pkg/models"
	"github.com/tyler-smith/go-bip39"
)

var (
	ErrInvalidSeed     = errors.New("seed must be 16 to 64 bytes")
	ErrInvalidMnemonic = errors.New("invalid mnemonic")
)

// mnemonicEntropyBits gives a 24-word mnemonic.
const mnemonicEntropyBits = 256

// HDWallet is a BIP-39/BIP-44 wallet: one seed, many derived addresses.
// Address 0 is the default address used for payments.
type HDWallet struct {
	id   string
	seed []byte
	gen  *ETHGenerator
}

// Create generates a fresh wallet and returns it with its mnemonic.
// The mnemonic is the only backup of the seed; callers must persist it
// (or the seed via SaveSeed) before funding the wallet.
func Create(network models.Network) (*HDWallet, string, error) {
	entropy, err := bip39.NewEntropy(mnemonicEntropyBits)
	if err != nil {
		return nil, "", fmt.Errorf("entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, "", fmt.Errorf("mnemonic: %w", err)
	}
	w, err := FromMnemonic(mnemonic, "", network)
	if err != nil {
		return nil, "", err
	}
	slog.Default().With("component", "wallet").Info("wallet created", "wallet_id", w.ID())
	return w, mnemonic, nil
}

// FromMnemonic restores a wallet from a BIP-39 mnemonic and optional passphrase.
func FromMnemonic(mnemonic, passphrase string, network models.Network) (*HDWallet, error) {
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, passphrase)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMnemonic, err)
	}
	return Fetch(seed, network)
}

// Fetch restores a wallet from raw seed bytes.
func Fetch(seed []byte, network models.Network) (*HDWallet, error) {
	if len(seed) < 16 || len(seed) > 64 {
		return nil, ErrInvalidSeed
	}
	id, err := walletID(seed)
	if err != nil {
		return nil, err
	}
	cp := make([]byte, len(seed))
	copy(cp, seed)
	return &HDWallet{id: id, seed: cp, gen: NewETHGenerator(network)}, nil
}

// ID returns the wallet identifier.
func (w *HDWallet) ID() string {
	return w.id
}

// Network returns the network the wallet derives addresses for.
func (w *HDWallet) Network() models.Network {
	return w.gen.Network()
}

// DefaultAddress returns the address at index 0.
func (w *HDWallet) DefaultAddress() (*models.DerivedAddress, error) {
	return w.Address(0)
}

// Address returns the address at the given BIP-44 index.
func (w *HDWallet) Address(index uint32) (*models.DerivedAddress, error) {
	return w.gen.GenerateFromSeed(w.seed, index)
}

// PrivateKey returns the raw private key at the given index.
func (w *HDWallet) PrivateKey(index uint32) ([]byte, error) {
	return deriveKey(w.seed, 60, index)
}

// LogValue keeps the seed out of structured logs.
func (w *HDWallet) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("wallet_id", w.id),
		slog.String("network", string(w.gen.Network())),
	)
}
