package storage

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/OKaluzny/token-shop/pkg/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the purchases table. Amounts are smallest-unit integers and
// can exceed 64 bits, so they are NUMERIC(78,0).
const Schema = `
CREATE TABLE IF NOT EXISTS purchases (
	id                 TEXT PRIMARY KEY,
	kind               TEXT NOT NULL,
	state              TEXT NOT NULL,
	payer              TEXT NOT NULL,
	payee              TEXT NOT NULL,
	contract           TEXT NOT NULL DEFAULT '',
	symbol             TEXT NOT NULL DEFAULT '',
	price              NUMERIC(78,0) NOT NULL,
	observed           NUMERIC(78,0),
	approval_tx        TEXT NOT NULL DEFAULT '',
	transfer_tx        TEXT NOT NULL DEFAULT '',
	approval_confirmed BOOLEAN NOT NULL DEFAULT FALSE,
	error              TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Connect opens a pgx pool and checks it with a ping.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database URL: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 0
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	return pool, nil
}

// PostgresPurchaseStore is a PurchaseStore backed by Postgres.
type PostgresPurchaseStore struct {
	db *pgxpool.Pool
}

func NewPostgresPurchaseStore(db *pgxpool.Pool) *PostgresPurchaseStore {
	return &PostgresPurchaseStore{db: db}
}

// Migrate applies Schema.
func (s *PostgresPurchaseStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate purchases: %w", err)
	}
	return nil
}

func (s *PostgresPurchaseStore) Save(ctx context.Context, p *models.Purchase) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("purchase id required")
	}
	query := `
		INSERT INTO purchases (id, kind, state, payer, payee, contract, symbol, price, observed,
			approval_tx, transfer_tx, approval_confirmed, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9::numeric, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			payer = EXCLUDED.payer,
			payee = EXCLUDED.payee,
			contract = EXCLUDED.contract,
			symbol = EXCLUDED.symbol,
			price = EXCLUDED.price,
			observed = EXCLUDED.observed,
			approval_tx = EXCLUDED.approval_tx,
			transfer_tx = EXCLUDED.transfer_tx,
			approval_confirmed = EXCLUDED.approval_confirmed,
			error = EXCLUDED.error,
			updated_at = now()
	`
	_, err := s.db.Exec(ctx, query,
		p.ID, p.Kind, p.State, p.Payer, p.Payee, p.Contract, p.Symbol,
		numericText(p.Price), nullableNumeric(p.Observed),
		p.ApprovalTx, p.TransferTx, p.ApprovalConfirmed, p.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to save purchase: %w", err)
	}
	return nil
}

func (s *PostgresPurchaseStore) Reserve(ctx context.Context, p *models.Purchase) (bool, error) {
	if p == nil || p.ID == "" {
		return false, fmt.Errorf("purchase id required")
	}
	query := `
		INSERT INTO purchases (id, kind, state, payer, payee, contract, symbol, price, observed,
			approval_tx, transfer_tx, approval_confirmed, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9::numeric, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING
	`
	tag, err := s.db.Exec(ctx, query,
		p.ID, p.Kind, p.State, p.Payer, p.Payee, p.Contract, p.Symbol,
		numericText(p.Price), nullableNumeric(p.Observed),
		p.ApprovalTx, p.TransferTx, p.ApprovalConfirmed, p.Error,
	)
	if err != nil {
		return false, fmt.Errorf("failed to reserve purchase: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresPurchaseStore) Get(ctx context.Context, id string) (*models.Purchase, error) {
	query := `
		SELECT id, kind, state, payer, payee, contract, symbol, price::text, observed::text,
			approval_tx, transfer_tx, approval_confirmed, error, created_at, updated_at
		FROM purchases WHERE id = $1
	`
	var (
		p        models.Purchase
		price    string
		observed *string
	)
	err := s.db.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.Kind, &p.State, &p.Payer, &p.Payee, &p.Contract, &p.Symbol, &price, &observed,
		&p.ApprovalTx, &p.TransferTx, &p.ApprovalConfirmed, &p.Error, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("purchase %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get purchase: %w", err)
	}

	var ok bool
	if p.Price, ok = new(big.Int).SetString(price, 10); !ok {
		return nil, fmt.Errorf("purchase %s: bad price %q", id, price)
	}
	if observed != nil {
		if p.Observed, ok = new(big.Int).SetString(*observed, 10); !ok {
			return nil, fmt.Errorf("purchase %s: bad observed balance %q", id, *observed)
		}
	}
	return &p, nil
}

func numericText(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func nullableNumeric(v *big.Int) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}
