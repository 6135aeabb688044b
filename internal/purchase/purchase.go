// Package purchase runs token purchases: a balance check followed by an
// approve and a transferFrom, each confirmed by the ledger before the next
// step, plus a direct transfer path.
package purchase

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/OKaluzny/token-shop/internal/token"
)

// Failure kinds. Test with errors.Is on the error returned by the workflow.
var (
	ErrInvalidRequest      = errors.New("invalid request")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrApprovalFailed      = errors.New("approval failed")
	ErrTransferFailed      = errors.New("transfer failed")
	ErrLedgerUnavailable   = errors.New("ledger unavailable")
)

// State is the progress of one purchase attempt.
type State string

const (
	StatePending           State = "pending"
	StateBalanceChecked    State = "balance_checked"
	StateRejected          State = "rejected"
	StateApproving         State = "approving"
	StateApproved          State = "approved"
	StateTransferring      State = "transferring"
	StateCompleted         State = "completed"
	StateApprovalFailed    State = "approval_failed"
	StateTransferFailed    State = "transfer_failed"
	StateInvalid           State = "invalid"
	StateLedgerUnavailable State = "ledger_unavailable"
)

// Terminal reports whether no further step follows s.
func (s State) Terminal() bool {
	switch s {
	case StateRejected, StateCompleted, StateApprovalFailed, StateTransferFailed,
		StateInvalid, StateLedgerUnavailable:
		return true
	}
	return false
}

// Request is one purchase attempt: payer buys from payee for price smallest
// units of the token at contract.
type Request struct {
	// ID names the attempt. Generated when empty.
	ID       string
	Payer    string
	Payee    string
	Contract string
	Price    *big.Int
}

func (r Request) validate() error {
	switch {
	case strings.TrimSpace(r.Payer) == "":
		return errors.New("payer is required")
	case strings.TrimSpace(r.Payee) == "":
		return errors.New("payee is required")
	case strings.TrimSpace(r.Contract) == "":
		return errors.New("contract is required")
	case r.Price == nil:
		return errors.New("price is required")
	case r.Price.Sign() <= 0:
		return fmt.Errorf("price must be positive, got %s", r.Price)
	case strings.EqualFold(r.Payer, r.Payee):
		return errors.New("payer and payee must differ")
	}
	return nil
}

// TransferRequest is a direct balance move of Amount smallest units of the
// token named Symbol.
type TransferRequest struct {
	// ID names the attempt. Generated when empty.
	ID      string
	From    string
	To      string
	Symbol  string
	Amount  *big.Int
	Gasless bool
}

func (r TransferRequest) validate() error {
	switch {
	case strings.TrimSpace(r.From) == "":
		return errors.New("sender is required")
	case strings.TrimSpace(r.To) == "":
		return errors.New("recipient is required")
	case strings.TrimSpace(r.Symbol) == "":
		return errors.New("token symbol is required")
	case r.Amount == nil:
		return errors.New("amount is required")
	case r.Amount.Sign() <= 0:
		return fmt.Errorf("amount must be positive, got %s", r.Amount)
	}
	return nil
}

// Outcome is the result of one attempt. It is returned alongside any error
// and reflects the last state the ledger confirmed.
type Outcome struct {
	ID    string `json:"id"`
	State State  `json:"state"`
	// Observed is the balance seen by the precondition check, nil if no
	// check ran.
	Observed *big.Int `json:"observed,omitempty"`
	Required *big.Int `json:"required"`
	// Symbol and Decimals describe the token for display.
	Symbol            string `json:"symbol,omitempty"`
	Decimals          uint8  `json:"decimals"`
	ApprovalTx        string `json:"approval_tx,omitempty"`
	TransferTx        string `json:"transfer_tx,omitempty"`
	ApprovalConfirmed bool   `json:"approval_confirmed"`
}

// Error is a failed attempt. Kind is one of the package's failure kinds.
type Error struct {
	Kind     error
	Observed *big.Int
	Required *big.Int
	// ApprovalConfirmed is set when the transfer failed after the approval
	// was confirmed: the allowance is still outstanding.
	ApprovalConfirmed bool
	Err               error

	tok *token.Token
}

func (e *Error) Error() string {
	if errors.Is(e.Kind, ErrInsufficientBalance) {
		return fmt.Sprintf("%v: have %s, need %s", e.Kind, e.amount(e.Observed), e.amount(e.Required))
	}
	msg := e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.ApprovalConfirmed {
		msg += " (approval confirmed, allowance outstanding)"
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func (e *Error) amount(v *big.Int) string {
	if e.tok == nil {
		return fmt.Sprintf("%v units", v)
	}
	return e.tok.Format(v) + " " + strings.ToUpper(e.tok.Symbol)
}
