package wallet

import (
	"context"

	"github.com/OKaluzny/token-shop/pkg/models"
)

// Generator defines the interface for address generation per network.
type Generator interface {
	// Network returns which network this generator supports
	Network() models.Network

	// GenerateFromSeed derives an address from HD seed bytes at the given index
	GenerateFromSeed(seed []byte, index uint32) (*models.DerivedAddress, error)
}

// Signer defines the interface for transaction signing.
type Signer interface {
	// Sign signs a transaction and returns it with RawSigned and TxHash populated
	Sign(ctx context.Context, tx *models.Transaction, privateKey []byte) (*models.Transaction, error)
}
