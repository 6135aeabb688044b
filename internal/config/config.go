package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/OKaluzny/token-shop/pkg/models"
	"github.com/joho/godotenv"
)

// Secret is a credential read from the environment. It never prints or
// logs its value; use Reveal where the value is needed.
type Secret string

const redacted = "[REDACTED]"

func (s Secret) Reveal() string { return string(s) }

func (s Secret) String() string { return redacted }

func (s Secret) LogValue() slog.Value { return slog.StringValue(redacted) }

func (s Secret) MarshalJSON() ([]byte, error) { return []byte(`"` + redacted + `"`), nil }

// Config holds all configurable parameters for the shop.
type Config struct {
	// Chain access
	Network      models.Network
	RPCURL       string
	RPCTimeout   time.Duration
	APIKeyName   string // header carrying APIKey on RPC requests
	APIKey       Secret
	ChainID      int64
	PollInterval time.Duration

	// Confirmation
	ConfirmationDepth   uint64
	ConfirmationTimeout time.Duration

	// Transaction builder
	BroadcastMaxRetries int
	GasLimit            uint64
	GasPrice            *big.Int // wei
	// GaslessSponsored reports that the node accepts zero gas price
	// transactions, e.g. behind a sponsoring relay. Gasless transfers are
	// rejected without it.
	GaslessSponsored bool

	// Token sold by the shop
	ContractAddress string
	TokenSymbol     string
	TokenDecimals   uint8

	// Wallets
	SeedFile           string
	WalletID           string
	SeedPassphrase     Secret
	ShopSeedFile       string
	ShopWalletID       string
	ShopSeedPassphrase Secret

	// Mail
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword Secret
	MailFrom     string
	ReceiptTo    string // inbox notified of confirmed payments to the shop

	// Server
	Port         string
	DatabaseURL  Secret
	ServerAPIKey Secret   // bearer token required on /v1 routes
	CORSOrigins  []string // browser origins allowed to call the API; none when empty
}

// Default returns a Config populated with default values. No credential
// has a default.
func Default() Config {
	return Config{
		Network:      models.NetworkBaseSepolia,
		RPCTimeout:   15 * time.Second,
		APIKeyName:   "X-API-Key",
		ChainID:      84532,
		PollInterval: 2 * time.Second,

		ConfirmationDepth:   1,
		ConfirmationTimeout: 2 * time.Minute,

		BroadcastMaxRetries: 3,
		GasLimit:            100_000,
		GasPrice:            big.NewInt(1_000_000_000), // 1 gwei

		TokenSymbol:   "shop",
		TokenDecimals: 18,

		SeedFile:     "wallet_seed.json",
		ShopSeedFile: "shop_seed.json",

		SMTPPort: 587,

		Port: "3000",
	}
}

// Load reads a .env file when present, then returns FromEnv.
func Load() Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("could not read .env file", "error", err)
	}
	return FromEnv()
}

// FromEnv returns a Config populated from environment variables,
// falling back to defaults for unset or malformed values.
func FromEnv() Config {
	cfg := Default()

	if v := os.Getenv("NETWORK"); v != "" {
		cfg.Network = models.Network(v)
	}
	cfg.RPCURL = getEnv("RPC_URL", cfg.RPCURL)
	envDuration("RPC_TIMEOUT", &cfg.RPCTimeout)
	cfg.APIKeyName = getEnv("API_KEY_NAME", cfg.APIKeyName)
	cfg.APIKey = Secret(os.Getenv("API_KEY"))
	if v := os.Getenv("CHAIN_ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.ChainID = n
		} else {
			warnInvalid("CHAIN_ID", err)
		}
	}
	envDuration("POLL_INTERVAL", &cfg.PollInterval)

	if v := os.Getenv("CONFIRMATION_DEPTH"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.ConfirmationDepth = n
		} else {
			warnInvalid("CONFIRMATION_DEPTH", err)
		}
	}
	envDuration("CONFIRMATION_TIMEOUT", &cfg.ConfirmationTimeout)

	if v := os.Getenv("BROADCAST_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BroadcastMaxRetries = n
		} else {
			warnInvalid("BROADCAST_MAX_RETRIES", err)
		}
	}
	if v := os.Getenv("GAS_LIMIT"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.GasLimit = n
		} else {
			warnInvalid("GAS_LIMIT", err)
		}
	}
	if v := os.Getenv("GASLESS_SPONSORED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.GaslessSponsored = b
		} else {
			warnInvalid("GASLESS_SPONSORED", err)
		}
	}
	if v := os.Getenv("GAS_PRICE"); v != "" {
		if n, ok := new(big.Int).SetString(v, 10); ok && n.Sign() >= 0 {
			cfg.GasPrice = n
		} else {
			warnInvalid("GAS_PRICE", fmt.Errorf("not a wei amount: %q", v))
		}
	}

	cfg.ContractAddress = getEnv("CONTRACT_ADDRESS", cfg.ContractAddress)
	cfg.TokenSymbol = getEnv("TOKEN_SYMBOL", cfg.TokenSymbol)
	if v := os.Getenv("TOKEN_DECIMALS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 8); err == nil {
			cfg.TokenDecimals = uint8(n)
		} else {
			warnInvalid("TOKEN_DECIMALS", err)
		}
	}

	cfg.SeedFile = getEnv("SEED_FILE", cfg.SeedFile)
	cfg.WalletID = getEnv("WALLET_ID", cfg.WalletID)
	cfg.SeedPassphrase = Secret(os.Getenv("SEED_PASSPHRASE"))
	cfg.ShopSeedFile = getEnv("SHOP_SEED_FILE", cfg.ShopSeedFile)
	cfg.ShopWalletID = getEnv("SHOP_WALLET_ID", cfg.ShopWalletID)
	cfg.ShopSeedPassphrase = Secret(os.Getenv("SHOP_SEED_PASSPHRASE"))

	cfg.SMTPHost = getEnv("SMTP_HOST", cfg.SMTPHost)
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n < 65536 {
			cfg.SMTPPort = n
		} else {
			warnInvalid("SMTP_PORT", fmt.Errorf("bad port %q", v))
		}
	}
	cfg.SMTPUsername = getEnv("SMTP_USERNAME", cfg.SMTPUsername)
	cfg.SMTPPassword = Secret(os.Getenv("SMTP_PASSWORD"))
	cfg.MailFrom = getEnv("MAIL_FROM", cfg.MailFrom)
	cfg.ReceiptTo = getEnv("RECEIPT_EMAIL", cfg.ReceiptTo)

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.DatabaseURL = Secret(os.Getenv("DATABASE_URL"))
	cfg.ServerAPIKey = Secret(os.Getenv("SHOP_API_KEY"))
	for _, origin := range strings.Split(os.Getenv("CORS_ORIGINS"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, origin)
		}
	}

	return cfg
}

// Validate reports settings the shop server cannot run without.
func (c Config) Validate() error {
	var errs []error
	if c.RPCURL == "" {
		errs = append(errs, errors.New("RPC_URL is not set"))
	}
	if c.ContractAddress == "" {
		errs = append(errs, errors.New("CONTRACT_ADDRESS is not set"))
	}
	if c.ChainID <= 0 {
		errs = append(errs, errors.New("CHAIN_ID must be positive"))
	}
	if c.ConfirmationTimeout <= 0 {
		errs = append(errs, errors.New("CONFIRMATION_TIMEOUT must be positive"))
	}
	if c.SMTPHost != "" && c.MailFrom == "" {
		errs = append(errs, errors.New("MAIL_FROM is required with SMTP_HOST"))
	}
	return errors.Join(errs...)
}

// ValidateServer is Validate plus the settings only the HTTP server needs.
func (c Config) ValidateServer() error {
	var errs []error
	if err := c.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.ServerAPIKey == "" {
		errs = append(errs, errors.New("SHOP_API_KEY is not set"))
	}
	for _, origin := range c.CORSOrigins {
		if origin == "*" {
			errs = append(errs, errors.New("CORS_ORIGINS must list origins, not *"))
		}
	}
	return errors.Join(errs...)
}

// MailEnabled reports whether SMTP delivery is configured.
func (c Config) MailEnabled() bool {
	return c.SMTPHost != ""
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}

func envDuration(key string, dst *time.Duration) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		warnInvalid(key, err)
		return
	}
	*dst = d
}

func warnInvalid(key string, err error) {
	slog.Warn("ignoring invalid setting", "key", key, "error", err)
}
