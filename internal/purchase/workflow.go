package purchase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/OKaluzny/token-shop/internal/ledger"
	"github.com/OKaluzny/token-shop/internal/token"
	"github.com/OKaluzny/token-shop/pkg/models"
	"github.com/google/uuid"
)

// DefaultConfirmationTimeout bounds each confirmation wait when Config
// leaves it unset.
const DefaultConfirmationTimeout = 2 * time.Minute

// Record kinds.
const (
	KindPurchase = "purchase"
	KindTransfer = "transfer"
)

// Config holds workflow parameters.
type Config struct {
	// ConfirmationTimeout bounds each wait for the ledger to confirm an
	// approve or transfer.
	ConfirmationTimeout time.Duration
}

// Recorder persists attempt records. storage.PurchaseStore satisfies it.
type Recorder interface {
	Save(ctx context.Context, p *models.Purchase) error
}

// Workflow executes purchases against a ledger. It holds no per-attempt
// state and is safe for concurrent use.
type Workflow struct {
	ledger   ledger.Client
	tokens   *token.Registry
	recorder Recorder
	cfg      Config
	logger   *slog.Logger
}

// NewWorkflow returns a workflow. tokens is used to describe amounts and to
// resolve transfer symbols; recorder may be nil.
func NewWorkflow(cfg Config, client ledger.Client, tokens *token.Registry, recorder Recorder) *Workflow {
	if cfg.ConfirmationTimeout <= 0 {
		cfg.ConfirmationTimeout = DefaultConfirmationTimeout
	}
	if tokens == nil {
		tokens = token.NewRegistry()
	}
	return &Workflow{
		ledger:   client,
		tokens:   tokens,
		recorder: recorder,
		cfg:      cfg,
		logger:   slog.Default().With("component", "purchase"),
	}
}

// attempt carries one execution's outcome and record.
type attempt struct {
	out    *Outcome
	rec    *models.Purchase
	tok    *token.Token
	logger *slog.Logger
}

// Execute runs a purchase. The payer's balance is checked first and nothing
// is submitted unless it covers the price. The payee is approved as spender
// for exactly the price, and once that approval is confirmed the payee pulls
// the price with transferFrom.
//
// The returned Outcome is never nil. A non-nil error is a *Error.
func (w *Workflow) Execute(ctx context.Context, req Request) (*Outcome, error) {
	a := w.begin(req.ID, KindPurchase, req.Price)
	a.rec.Payer, a.rec.Payee, a.rec.Contract = req.Payer, req.Payee, req.Contract
	a.logger = a.logger.With("payer", req.Payer, "payee", req.Payee, "contract", req.Contract)

	if err := req.validate(); err != nil {
		return w.fail(ctx, a, StateInvalid, &Error{Kind: ErrInvalidRequest, Err: err})
	}
	if tok, err := w.tokens.ByContract(req.Contract); err == nil {
		a.describe(tok)
	}

	if err := w.checkBalance(ctx, a, req.Payer, req.Contract, req.Price); err != nil {
		return a.out, err
	}

	a.out.State = StateApproving
	w.save(ctx, a)
	approval, err := w.ledger.Approve(ctx, a.key("approve"), req.Contract, req.Payer, req.Payee, req.Price)
	if err != nil {
		return w.fail(ctx, a, StateApprovalFailed, &Error{Kind: ErrApprovalFailed, Err: err})
	}
	a.out.ApprovalTx = approval.TxHash()
	w.save(ctx, a)
	if err := w.confirm(ctx, approval); err != nil {
		return w.fail(ctx, a, StateApprovalFailed, &Error{Kind: ErrApprovalFailed, Err: err})
	}
	a.out.State = StateApproved
	a.out.ApprovalConfirmed = true
	w.save(ctx, a)
	a.logger.Info("approval confirmed", "tx_hash", a.out.ApprovalTx)

	a.out.State = StateTransferring
	transfer, err := w.ledger.TransferFrom(ctx, a.key("transferFrom"), req.Contract, req.Payer, req.Payee, req.Price)
	if err != nil {
		return w.fail(ctx, a, StateTransferFailed, &Error{Kind: ErrTransferFailed, ApprovalConfirmed: true, Err: err})
	}
	a.out.TransferTx = transfer.TxHash()
	w.save(ctx, a)
	if err := w.confirm(ctx, transfer); err != nil {
		return w.fail(ctx, a, StateTransferFailed, &Error{Kind: ErrTransferFailed, ApprovalConfirmed: true, Err: err})
	}

	return w.complete(ctx, a), nil
}

// ExecuteDirectTransfer moves Amount of the token straight from sender to
// recipient with a single transfer call, optionally gasless. The same
// balance precondition as Execute applies: nothing is submitted unless the
// sender's balance covers the amount.
func (w *Workflow) ExecuteDirectTransfer(ctx context.Context, req TransferRequest) (*Outcome, error) {
	a := w.begin(req.ID, KindTransfer, req.Amount)
	a.rec.Payer, a.rec.Payee, a.rec.Symbol = req.From, req.To, req.Symbol
	a.logger = a.logger.With("from", req.From, "to", req.To, "symbol", req.Symbol, "gasless", req.Gasless)

	if err := req.validate(); err != nil {
		return w.fail(ctx, a, StateInvalid, &Error{Kind: ErrInvalidRequest, Err: err})
	}
	tok, err := w.tokens.Lookup(req.Symbol)
	if err != nil {
		return w.fail(ctx, a, StateInvalid, &Error{Kind: ErrInvalidRequest, Err: err})
	}
	a.describe(tok)
	a.rec.Contract = tok.Contract

	if err := w.checkBalance(ctx, a, req.From, tok.Contract, req.Amount); err != nil {
		return a.out, err
	}

	a.out.State = StateTransferring
	w.save(ctx, a)
	transfer, err := w.ledger.Transfer(ctx, a.key("transfer"), req.From, req.To, req.Symbol, req.Amount, req.Gasless)
	if errors.Is(err, ledger.ErrGaslessUnsupported) {
		return w.fail(ctx, a, StateInvalid, &Error{Kind: ErrInvalidRequest, Err: err})
	}
	if err != nil {
		return w.fail(ctx, a, StateTransferFailed, &Error{Kind: ErrTransferFailed, Err: err})
	}
	a.out.TransferTx = transfer.TxHash()
	w.save(ctx, a)
	if err := w.confirm(ctx, transfer); err != nil {
		return w.fail(ctx, a, StateTransferFailed, &Error{Kind: ErrTransferFailed, Err: err})
	}

	return w.complete(ctx, a), nil
}

func (w *Workflow) begin(id, kind string, amount *big.Int) *attempt {
	if id == "" {
		id = uuid.NewString()
	}
	var required *big.Int
	if amount != nil {
		required = new(big.Int).Set(amount)
	}
	out := &Outcome{ID: id, State: StatePending, Required: required}
	return &attempt{
		out:    out,
		rec:    &models.Purchase{ID: id, Kind: kind},
		logger: w.logger.With("purchase_id", id, "kind", kind),
	}
}

// key scopes a ledger submission to the attempt, so re-running an attempt
// ID reuses the transactions it already sent.
func (a *attempt) key(op string) string {
	return a.out.ID + ":" + op
}

func (a *attempt) describe(tok token.Token) {
	a.tok = &tok
	a.out.Symbol = tok.Symbol
	a.out.Decimals = tok.Decimals
	a.rec.Symbol = tok.Symbol
}

// checkBalance queries the balance and rejects the attempt when it is below
// amount. It returns nil only when the attempt may proceed.
func (w *Workflow) checkBalance(ctx context.Context, a *attempt, account, contract string, amount *big.Int) error {
	balance, err := w.ledger.QueryBalance(ctx, account, contract)
	if err != nil {
		_, ferr := w.fail(ctx, a, StateLedgerUnavailable, &Error{Kind: ErrLedgerUnavailable, Err: err})
		return ferr
	}
	if balance == nil || balance.Sign() < 0 {
		panic(fmt.Sprintf("ledger reported balance %v for %s", balance, account))
	}

	a.out.Observed = new(big.Int).Set(balance)
	a.out.State = StateBalanceChecked
	w.save(ctx, a)

	if balance.Cmp(amount) < 0 {
		_, ferr := w.fail(ctx, a, StateRejected, &Error{
			Kind:     ErrInsufficientBalance,
			Observed: new(big.Int).Set(balance),
			Required: new(big.Int).Set(amount),
		})
		return ferr
	}
	return nil
}

// confirm waits for c within the configured confirmation timeout.
func (w *Workflow) confirm(ctx context.Context, c ledger.Confirmable) error {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.ConfirmationTimeout)
	defer cancel()
	return c.Wait(ctx)
}

func (w *Workflow) fail(ctx context.Context, a *attempt, state State, perr *Error) (*Outcome, error) {
	perr.tok = a.tok
	a.out.State = state
	a.rec.Error = perr.Error()
	w.save(ctx, a)

	attrs := []any{"state", state, "error", perr.Error()}
	if errors.Is(perr, ErrTransferFailed) && perr.ApprovalConfirmed {
		attrs = append(attrs, "approval_tx", a.out.ApprovalTx)
	}
	if errors.Is(perr, ErrInsufficientBalance) || errors.Is(perr, ErrInvalidRequest) {
		a.logger.Info("purchase rejected", attrs...)
	} else {
		a.logger.Error("purchase failed", attrs...)
	}
	return a.out, perr
}

func (w *Workflow) complete(ctx context.Context, a *attempt) *Outcome {
	a.out.State = StateCompleted
	w.save(ctx, a)
	a.logger.Info("purchase completed",
		"approval_tx", a.out.ApprovalTx,
		"transfer_tx", a.out.TransferTx,
		"amount", a.display(a.out.Required),
	)
	return a.out
}

func (a *attempt) display(v *big.Int) string {
	if a.tok == nil {
		return v.String()
	}
	return a.tok.Format(v)
}

// save records the attempt. The record outlives a canceled caller, and a
// failed save does not change the outcome.
func (w *Workflow) save(ctx context.Context, a *attempt) {
	if w.recorder == nil {
		return
	}
	r := a.rec
	r.State = string(a.out.State)
	r.Price = a.out.Required
	r.Observed = a.out.Observed
	r.ApprovalTx = a.out.ApprovalTx
	r.TransferTx = a.out.TransferTx
	r.ApprovalConfirmed = a.out.ApprovalConfirmed
	if err := w.recorder.Save(context.WithoutCancel(ctx), r); err != nil {
		a.logger.Warn("record purchase failed", "state", r.State, "error", err)
	}
}
