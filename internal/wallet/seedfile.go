package wallet

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/OKaluzny/token-shop/pkg/models"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

var (
	ErrWalletNotInFile  = errors.New("wallet not found in seed file")
	ErrPassphrase       = errors.New("seed is encrypted: passphrase required")
	ErrDecrypt          = errors.New("seed decryption failed")
	ErrAmbiguousSeedSet = errors.New("seed file holds several wallets: wallet id required")
)

// scrypt parameters for the seed encryption key.
const (
	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = chacha20poly1305.KeySize
	saltSize     = 16
)

// seedRecord is one entry of a seed file, keyed by wallet ID.
type seedRecord struct {
	Seed      string `json:"seed"`
	Encrypted bool   `json:"encrypted"`
	Salt      string `json:"salt,omitempty"`
	Nonce     string `json:"nonce,omitempty"`
}

// SaveSeed stores the wallet seed in a JSON file keyed by wallet ID, merging
// with entries already in the file. A non-empty passphrase encrypts the seed
// with XChaCha20-Poly1305 under an scrypt-derived key.
func (w *HDWallet) SaveSeed(path, passphrase string) error {
	records, err := readSeedFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if records == nil {
		records = make(map[string]seedRecord)
	}

	rec := seedRecord{Seed: hex.EncodeToString(w.seed)}
	if passphrase != "" {
		rec, err = encryptSeed(w.seed, w.id, passphrase)
		if err != nil {
			return err
		}
	}
	records[w.id] = rec

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode seed file: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write seed file: %w", err)
	}
	return nil
}

// LoadSeedFromFile restores a wallet saved with SaveSeed. walletID may be
// empty when the file holds exactly one wallet.
func LoadSeedFromFile(path, walletID, passphrase string, network models.Network) (*HDWallet, error) {
	records, err := readSeedFile(path)
	if err != nil {
		return nil, err
	}

	if walletID == "" {
		if len(records) != 1 {
			return nil, fmt.Errorf("%w: %d entries", ErrAmbiguousSeedSet, len(records))
		}
		for id := range records {
			walletID = id
		}
	}

	rec, ok := records[walletID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWalletNotInFile, walletID)
	}

	var seed []byte
	if rec.Encrypted {
		if passphrase == "" {
			return nil, ErrPassphrase
		}
		seed, err = decryptSeed(rec, walletID, passphrase)
	} else {
		seed, err = hex.DecodeString(rec.Seed)
	}
	if err != nil {
		return nil, err
	}

	w, err := Fetch(seed, network)
	if err != nil {
		return nil, err
	}
	if w.ID() != walletID {
		return nil, fmt.Errorf("seed file entry %s holds seed of wallet %s", walletID, w.ID())
	}
	return w, nil
}

func readSeedFile(path string) (map[string]seedRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var records map[string]seedRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode seed file: %w", err)
	}
	return records, nil
}

func encryptSeed(seed []byte, walletID, passphrase string) (seedRecord, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return seedRecord{}, fmt.Errorf("salt: %w", err)
	}
	aead, err := seedCipher(passphrase, salt)
	if err != nil {
		return seedRecord{}, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return seedRecord{}, fmt.Errorf("nonce: %w", err)
	}
	// The wallet ID is bound as associated data so entries cannot be swapped.
	sealed := aead.Seal(nil, nonce, seed, []byte(walletID))
	return seedRecord{
		Seed:      hex.EncodeToString(sealed),
		Encrypted: true,
		Salt:      hex.EncodeToString(salt),
		Nonce:     hex.EncodeToString(nonce),
	}, nil
}

func decryptSeed(rec seedRecord, walletID, passphrase string) ([]byte, error) {
	sealed, err := hex.DecodeString(rec.Seed)
	if err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	salt, err := hex.DecodeString(rec.Salt)
	if err != nil {
		return nil, fmt.Errorf("decode salt: %w", err)
	}
	nonce, err := hex.DecodeString(rec.Nonce)
	if err != nil {
		return nil, fmt.Errorf("decode nonce: %w", err)
	}
	aead, err := seedCipher(passphrase, salt)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("%w: bad nonce size", ErrDecrypt)
	}
	seed, err := aead.Open(nil, nonce, sealed, []byte(walletID))
	if err != nil {
		return nil, ErrDecrypt
	}
	return seed, nil
}

func seedCipher(passphrase string, salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}
	return aead, nil
}
