// Package app wires the shop's components from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/OKaluzny/token-shop/internal/chain"
	"github.com/OKaluzny/token-shop/internal/config"
	"github.com/OKaluzny/token-shop/internal/ledger"
	"github.com/OKaluzny/token-shop/internal/notify"
	"github.com/OKaluzny/token-shop/internal/purchase"
	"github.com/OKaluzny/token-shop/internal/storage"
	"github.com/OKaluzny/token-shop/internal/token"
	"github.com/OKaluzny/token-shop/internal/tx"
	"github.com/OKaluzny/token-shop/internal/wallet"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Services holds the wired components. Player and Shop are the default
// addresses of the loaded wallets, empty when a seed file is absent.
type Services struct {
	Config   config.Config
	Node     *chain.RPCClient
	Tokens   *token.Registry
	Item     token.Token
	Keys     *wallet.Keyring
	Player   string
	Shop     string
	Nonces   storage.NonceStore
	Builder  *tx.Builder
	Ledger   *ledger.ContractClient
	Store    storage.PurchaseStore
	Workflow *purchase.Workflow
	Notifier notify.Sender

	db *pgxpool.Pool
}

// New builds every component from cfg. Close releases what it opened.
func New(ctx context.Context, cfg config.Config) (*Services, error) {
	s := &Services{Config: cfg}

	s.Item = token.Token{Symbol: cfg.TokenSymbol, Contract: cfg.ContractAddress, Decimals: cfg.TokenDecimals}
	s.Tokens = token.NewRegistry(s.Item)
	// the registry normalizes case
	s.Item, _ = s.Tokens.Lookup(cfg.TokenSymbol)

	opts := []rpc.ClientOption{rpc.WithHTTPClient(&http.Client{Timeout: cfg.RPCTimeout})}
	if cfg.APIKey != "" {
		opts = append(opts, rpc.WithHeader(cfg.APIKeyName, cfg.APIKey.Reveal()))
	}
	var err error
	if s.Node, err = chain.NewRPCClient(ctx, cfg.RPCURL, opts...); err != nil {
		return nil, err
	}

	s.Keys = wallet.NewKeyring()
	if s.Player, err = loadWallet(s.Keys, "player", cfg.SeedFile, cfg.WalletID, cfg.SeedPassphrase, cfg); err != nil {
		s.Close()
		return nil, err
	}
	if s.Shop, err = loadWallet(s.Keys, "shop", cfg.ShopSeedFile, cfg.ShopWalletID, cfg.ShopSeedPassphrase, cfg); err != nil {
		s.Close()
		return nil, err
	}

	s.Nonces = storage.NewMemoryNonceStore()
	s.Builder = tx.NewBuilder(tx.BuilderConfig{
		MaxRetries: cfg.BroadcastMaxRetries,
		GasPrice:   cfg.GasPrice,
		GasLimit:   cfg.GasLimit,
	}, s.Node, s.Keys, s.Nonces, storage.NewMemoryTxStore())
	s.Builder.RegisterSigner(cfg.Network, wallet.NewETHSigner(cfg.ChainID))

	s.Ledger = ledger.NewContractClient(ledger.Config{
		Network:           cfg.Network,
		ConfirmationDepth: cfg.ConfirmationDepth,
		PollInterval:      cfg.PollInterval,
		GaslessSponsored:  cfg.GaslessSponsored,
	}, s.Node, s.Builder, s.Tokens)

	if err := s.openStore(ctx); err != nil {
		s.Close()
		return nil, err
	}

	s.Workflow = purchase.NewWorkflow(purchase.Config{
		ConfirmationTimeout: cfg.ConfirmationTimeout,
	}, s.Ledger, s.Tokens, s.Store)

	if s.Notifier, err = newNotifier(cfg); err != nil {
		s.Close()
		return nil, err
	}

	slog.Info("services ready",
		"network", cfg.Network,
		"chain_id", cfg.ChainID,
		"token", s.Item.Symbol,
		"contract", s.Item.Contract,
		"player", s.Player,
		"shop", s.Shop,
		"postgres", s.db != nil,
		"mail", cfg.MailEnabled(),
	)
	return s, nil
}

// Close releases the node connection and the database pool, if any.
func (s *Services) Close() {
	if s.Node != nil {
		s.Node.Close()
		s.Node = nil
	}
	if s.db != nil {
		s.db.Close()
		s.db = nil
	}
}

func (s *Services) openStore(ctx context.Context) error {
	if s.Config.DatabaseURL == "" {
		s.Store = storage.NewMemoryPurchaseStore()
		return nil
	}
	db, err := storage.Connect(ctx, s.Config.DatabaseURL.Reveal())
	if err != nil {
		return err
	}
	store := storage.NewPostgresPurchaseStore(db)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return fmt.Errorf("migrate: %w", err)
	}
	s.db = db
	s.Store = store
	return nil
}

// loadWallet adds the default address of the wallet in path to keys. A
// missing seed file is not an error.
func loadWallet(keys *wallet.Keyring, role, path, id string, passphrase config.Secret, cfg config.Config) (string, error) {
	if path == "" {
		return "", nil
	}
	w, err := wallet.LoadSeedFromFile(path, id, passphrase.Reveal(), cfg.Network)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("seed file not found, wallet not loaded", "role", role, "path", path)
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load %s wallet: %w", role, err)
	}
	addr, err := keys.AddWallet(w, 0)
	if err != nil {
		return "", fmt.Errorf("%s wallet: %w", role, err)
	}
	slog.Info("wallet loaded", "role", role, "wallet", w, "address", addr)
	return addr, nil
}

func newNotifier(cfg config.Config) (notify.Sender, error) {
	if !cfg.MailEnabled() {
		return notify.NewLogSender(), nil
	}
	return notify.NewSMTPSender(notify.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.MailFrom,
	})
}
