package wallet

import (
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/tyler-smith/go-bip32"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // Hash160 is the BIP-32 key identifier
)

// walletIDVersion prefixes the Base58Check wallet ID.
const walletIDVersion = 0x57

// walletID identifies a seed without revealing it: Base58Check of the
// Hash160 of the BIP-32 master public key (the BIP-32 key identifier).
func walletID(seed []byte) (string, error) {
	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return "", fmt.Errorf("master key: %w", err)
	}
	return base58.CheckEncode(hash160(master.PublicKey().Key), walletIDVersion), nil
}

func hash160(data []byte) []byte {
	sha := sha256.Sum256(data)
	ripe := ripemd160.New()
	ripe.Write(sha[:])
	return ripe.Sum(nil)
}
