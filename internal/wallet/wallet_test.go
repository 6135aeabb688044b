package wallet

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"path/filepath"
	"strings"
	"testing"

	"github.com/OKaluzny/token-shop/pkg/models"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/tyler-smith/go-bip39"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func testSeed(t *testing.T) []byte {
	t.Helper()
	return bip39.NewSeed(testMnemonic, "")
}

func testSeed2(t *testing.T) []byte {
	t.Helper()
	return bip39.NewSeed("zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo wrong", "")
}

func TestETHGenerator_KnownAddress(t *testing.T) {
	gen := NewETHGenerator(models.NetworkBaseSepolia)
	addr, err := gen.GenerateFromSeed(testSeed(t), 0)
	if err != nil {
		t.Fatal(err)
	}
	if want := "0x9858effd232b4033e47d90003d41ec34ecaeda94"; addr.Address != want {
		t.Errorf("Address = %s, want %s", addr.Address, want)
	}
	if addr.DerivationPath != "m/44'/60'/0'/0/0" {
		t.Errorf("DerivationPath = %s", addr.DerivationPath)
	}
	if addr.Network != models.NetworkBaseSepolia {
		t.Errorf("Network = %s", addr.Network)
	}
}

func TestETHGenerator_Deterministic(t *testing.T) {
	gen := NewETHGenerator(models.NetworkEthereum)
	seed := testSeed(t)

	addr1, err := gen.GenerateFromSeed(seed, 0)
	if err != nil {
		t.Fatal(err)
	}
	addr2, err := gen.GenerateFromSeed(seed, 0)
	if err != nil {
		t.Fatal(err)
	}
	if addr1.Address != addr2.Address {
		t.Errorf("same seed+index produced different addresses: %s vs %s", addr1.Address, addr2.Address)
	}
	if addr1.PublicKey != addr2.PublicKey {
		t.Errorf("same seed+index produced different public keys: %s vs %s", addr1.PublicKey, addr2.PublicKey)
	}
}

func TestETHGenerator_DifferentSeedsAndIndices(t *testing.T) {
	gen := NewETHGenerator(models.NetworkEthereum)

	a, _ := gen.GenerateFromSeed(testSeed(t), 0)
	b, _ := gen.GenerateFromSeed(testSeed2(t), 0)
	c, _ := gen.GenerateFromSeed(testSeed(t), 1)

	if a.Address == b.Address {
		t.Error("different seeds produced same address")
	}
	if a.Address == c.Address {
		t.Error("different indices produced same address")
	}
}

func TestETHGenerator_AddressFormat(t *testing.T) {
	addr, err := NewETHGenerator(models.NetworkEthereum).GenerateFromSeed(testSeed(t), 3)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(addr.Address, "0x") {
		t.Errorf("address should start with 0x, got %s", addr.Address)
	}
	if len(addr.Address) != 42 {
		t.Errorf("address should be 42 chars, got %d: %s", len(addr.Address), addr.Address)
	}
	pubBytes, err := hex.DecodeString(addr.PublicKey)
	if err != nil {
		t.Fatalf("public key is not valid hex: %s", addr.PublicKey)
	}
	if len(pubBytes) != 65 || pubBytes[0] != 0x04 {
		t.Errorf("expected 65-byte uncompressed public key, got %d bytes prefix 0x%02x", len(pubBytes), pubBytes[0])
	}
}

// EIP-155 example transaction.
func TestETHSigner_EIP155Vector(t *testing.T) {
	key, _ := hex.DecodeString(strings.Repeat("46", 32))
	value, _ := new(big.Int).SetString("1000000000000000000", 10)

	tx := &models.Transaction{
		To:       "0x3535353535353535353535353535353535353535",
		Amount:   value,
		GasPrice: big.NewInt(20_000_000_000),
		GasLimit: 21_000,
		Nonce:    9,
	}

	signed, err := NewETHSigner(1).Sign(context.Background(), tx, key)
	if err != nil {
		t.Fatal(err)
	}

	wantRaw := "f86c098504a817c800825208943535353535353535353535353535353535353535880de0b6b3a76400008025a028ef61340bd939bc2195fe537567866003e1a15d3c71ff63e1590620aa636276a067cbe9d8997f761aecb703304b3800ccf555c9f3dc64214b297fb1966a3b6d83"
	if got := hex.EncodeToString(signed.RawSigned); got != wantRaw {
		t.Errorf("raw tx mismatch:\n got %s\nwant %s", got, wantRaw)
	}
	if want := "0x33469b22e9f636356c4160a87eb19df52b7412e8eac32a4a55ffe88ea8350788"; signed.TxHash != want {
		t.Errorf("TxHash = %s, want %s", signed.TxHash, want)
	}
	if want := "0x9d8a62f656a8d1615c1294fd71e9cfb3e4855a4f"; signed.From != want {
		t.Errorf("From = %s, want %s", signed.From, want)
	}
	if !signed.Signed {
		t.Error("transaction should be marked signed")
	}
}

func TestETHSigner_RecoverableSignature(t *testing.T) {
	w, err := FromMnemonic(testMnemonic, "", models.NetworkBaseSepolia)
	if err != nil {
		t.Fatal(err)
	}
	key, err := w.PrivateKey(0)
	if err != nil {
		t.Fatal(err)
	}
	from, _ := w.DefaultAddress()

	tx := &models.Transaction{
		From:     from.Address,
		To:       "0x2222222222222222222222222222222222222222",
		Amount:   big.NewInt(0),
		GasPrice: big.NewInt(1),
		GasLimit: 60_000,
		Data:     []byte{0x09, 0x5e, 0xa7, 0xb3},
	}
	signer := NewETHSigner(84532)
	if _, err := signer.Sign(context.Background(), tx, key); err != nil {
		t.Fatal(err)
	}

	var decoded types.Transaction
	if err := decoded.UnmarshalBinary(tx.RawSigned); err != nil {
		t.Fatalf("decode raw tx: %v", err)
	}
	if decoded.Hash().Hex() != tx.TxHash {
		t.Errorf("decoded hash = %s, want %s", decoded.Hash().Hex(), tx.TxHash)
	}
	if got := decoded.ChainId(); got.Int64() != 84532 {
		t.Errorf("chain id = %s, want 84532", got)
	}
	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(84532)), &decoded)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.EqualFold(sender.Hex(), from.Address) {
		t.Errorf("signature recovers to %s, want %s", sender.Hex(), from.Address)
	}
	if decoded.Nonce() != 0 || decoded.Gas() != 60_000 || !bytes.Equal(decoded.Data(), tx.Data) {
		t.Errorf("decoded fields differ: nonce %d gas %d data %x", decoded.Nonce(), decoded.Gas(), decoded.Data())
	}
}

func TestETHSigner_FromMismatch(t *testing.T) {
	key, _ := hex.DecodeString(strings.Repeat("46", 32))
	tx := &models.Transaction{From: "0x0000000000000000000000000000000000000001", To: "0x3535353535353535353535353535353535353535"}
	_, err := NewETHSigner(1).Sign(context.Background(), tx, key)
	if !errors.Is(err, ErrSignerMismatch) {
		t.Errorf("expected ErrSignerMismatch, got %v", err)
	}
}

func TestHDWallet_CreateAndRestore(t *testing.T) {
	w, mnemonic, err := Create(models.NetworkBaseSepolia)
	if err != nil {
		t.Fatal(err)
	}
	if n := len(strings.Fields(mnemonic)); n != 24 {
		t.Errorf("expected 24-word mnemonic, got %d", n)
	}

	restored, err := FromMnemonic(mnemonic, "", models.NetworkBaseSepolia)
	if err != nil {
		t.Fatal(err)
	}
	if restored.ID() != w.ID() {
		t.Errorf("restored wallet id %s, want %s", restored.ID(), w.ID())
	}
	a1, _ := w.DefaultAddress()
	a2, _ := restored.DefaultAddress()
	if a1.Address != a2.Address {
		t.Errorf("restored default address %s, want %s", a2.Address, a1.Address)
	}
}

func TestHDWallet_InvalidInput(t *testing.T) {
	if _, err := FromMnemonic("not a mnemonic", "", models.NetworkEthereum); !errors.Is(err, ErrInvalidMnemonic) {
		t.Errorf("expected ErrInvalidMnemonic, got %v", err)
	}
	if _, err := Fetch([]byte("short"), models.NetworkEthereum); !errors.Is(err, ErrInvalidSeed) {
		t.Errorf("expected ErrInvalidSeed, got %v", err)
	}
}

func TestSeedFile_PlainRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet_seed.json")
	w, err := Fetch(testSeed(t), models.NetworkBaseSepolia)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.SaveSeed(path, ""); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadSeedFromFile(path, "", "", models.NetworkBaseSepolia)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.ID() != w.ID() {
		t.Errorf("loaded id %s, want %s", loaded.ID(), w.ID())
	}
}

func TestSeedFile_EncryptedRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet_seed.json")
	w, _ := Fetch(testSeed(t), models.NetworkBaseSepolia)
	other, _ := Fetch(testSeed2(t), models.NetworkBaseSepolia)

	if err := w.SaveSeed(path, "correct horse"); err != nil {
		t.Fatal(err)
	}
	if err := other.SaveSeed(path, ""); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadSeedFromFile(path, "", "", models.NetworkBaseSepolia); !errors.Is(err, ErrAmbiguousSeedSet) {
		t.Errorf("expected ErrAmbiguousSeedSet, got %v", err)
	}
	if _, err := LoadSeedFromFile(path, w.ID(), "", models.NetworkBaseSepolia); !errors.Is(err, ErrPassphrase) {
		t.Errorf("expected ErrPassphrase, got %v", err)
	}
	if _, err := LoadSeedFromFile(path, w.ID(), "wrong", models.NetworkBaseSepolia); !errors.Is(err, ErrDecrypt) {
		t.Errorf("expected ErrDecrypt, got %v", err)
	}
	if _, err := LoadSeedFromFile(path, "unknown", "", models.NetworkBaseSepolia); !errors.Is(err, ErrWalletNotInFile) {
		t.Errorf("expected ErrWalletNotInFile, got %v", err)
	}

	loaded, err := LoadSeedFromFile(path, w.ID(), "correct horse", models.NetworkBaseSepolia)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.ID() != w.ID() {
		t.Errorf("loaded id %s, want %s", loaded.ID(), w.ID())
	}
	plain, err := LoadSeedFromFile(path, other.ID(), "", models.NetworkBaseSepolia)
	if err != nil {
		t.Fatal(err)
	}
	if plain.ID() != other.ID() {
		t.Errorf("loaded id %s, want %s", plain.ID(), other.ID())
	}
}

func TestKeyring(t *testing.T) {
	w, _ := Fetch(testSeed(t), models.NetworkBaseSepolia)
	kr := NewKeyring()

	addr, err := kr.AddWallet(w, 0)
	if err != nil {
		t.Fatal(err)
	}
	key, err := kr.Key("0x" + strings.ToUpper(addr[2:]))
	if err != nil {
		t.Fatal(err)
	}
	want, _ := w.PrivateKey(0)
	if !bytes.Equal(key, want) {
		t.Error("keyring returned a different key")
	}
	if _, err := kr.Key("0x0000000000000000000000000000000000000000"); !errors.Is(err, ErrNoKey) {
		t.Errorf("expected ErrNoKey, got %v", err)
	}
}
