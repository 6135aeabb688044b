// Package api exposes the shop over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/OKaluzny/token-shop/internal/purchase"
	"github.com/OKaluzny/token-shop/internal/storage"
	"github.com/OKaluzny/token-shop/internal/token"
	"github.com/OKaluzny/token-shop/pkg/models"
	"github.com/gofiber/fiber/v2"
)

// IdempotencyHeader names the request header that doubles as the attempt ID.
const IdempotencyHeader = "Idempotency-Key"

// Purchaser runs purchases. *purchase.Workflow satisfies it.
type Purchaser interface {
	Execute(ctx context.Context, req purchase.Request) (*purchase.Outcome, error)
	ExecuteDirectTransfer(ctx context.Context, req purchase.TransferRequest) (*purchase.Outcome, error)
}

// BalanceReader queries balances. ledger.Client satisfies it.
type BalanceReader interface {
	QueryBalance(ctx context.Context, account, contract string) (*big.Int, error)
}

// Handler serves the shop API.
type Handler struct {
	workflow Purchaser
	balances BalanceReader
	store    storage.PurchaseStore
	tokens   *token.Registry
	item     token.Token // token the shop sells for
	shop     string      // default payee
	logger   *slog.Logger
}

func NewHandler(workflow Purchaser, balances BalanceReader, store storage.PurchaseStore, tokens *token.Registry, item token.Token, shop string) *Handler {
	return &Handler{
		workflow: workflow,
		balances: balances,
		store:    store,
		tokens:   tokens,
		item:     item,
		shop:     shop,
		logger:   slog.Default().With("component", "api"),
	}
}

// Register mounts the routes on app. Every /v1 route runs behind auth.
func (h *Handler) Register(app *fiber.App, auth fiber.Handler) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	v1 := app.Group("/v1", auth)
	v1.Post("/purchases", h.CreatePurchase)
	v1.Get("/purchases/:id", h.GetPurchase)
	v1.Post("/transfers", h.CreateTransfer)
	v1.Get("/balances/:account", h.GetBalance)
}

// PurchaseRequest buys from the shop. Amount is in display units of the
// shop token, e.g. "50".
type PurchaseRequest struct {
	Payer  string `json:"payer"`
	Payee  string `json:"payee"`
	Amount string `json:"amount"`
}

// TransferRequest moves tokens directly.
type TransferRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Symbol  string `json:"symbol"`
	Amount  string `json:"amount"`
	Gasless bool   `json:"gasless"`
}

// OutcomeResponse is the JSON form of an attempt. Amounts are decimal
// strings of smallest units, with display forms alongside.
type OutcomeResponse struct {
	ID                string `json:"id"`
	Kind              string `json:"kind,omitempty"`
	State             string `json:"state"`
	Symbol            string `json:"symbol,omitempty"`
	Observed          string `json:"observed,omitempty"`
	ObservedDisplay   string `json:"observed_display,omitempty"`
	Required          string `json:"required,omitempty"`
	RequiredDisplay   string `json:"required_display,omitempty"`
	ApprovalTx        string `json:"approval_tx,omitempty"`
	TransferTx        string `json:"transfer_tx,omitempty"`
	ApprovalConfirmed bool   `json:"approval_confirmed"`
	Error             string `json:"error,omitempty"`
}

// CreatePurchase runs the purchase workflow and answers once it ends.
func (h *Handler) CreatePurchase(c *fiber.Ctx) error {
	var req PurchaseRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	price, err := h.item.Parse(req.Amount)
	if err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	payee := req.Payee
	if payee == "" {
		payee = h.shop
	}

	id := c.Get(IdempotencyHeader)
	if done, err := h.claim(c, &models.Purchase{
		ID:       id,
		Kind:     purchase.KindPurchase,
		Payer:    req.Payer,
		Payee:    payee,
		Contract: h.item.Contract,
		Symbol:   h.item.Symbol,
		Price:    price,
	}); done || err != nil {
		return err
	}

	out, err := h.workflow.Execute(c.UserContext(), purchase.Request{
		ID:       id,
		Payer:    req.Payer,
		Payee:    payee,
		Contract: h.item.Contract,
		Price:    price,
	})
	return h.respond(c, purchase.KindPurchase, out, err)
}

// CreateTransfer runs a direct transfer.
func (h *Handler) CreateTransfer(c *fiber.Ctx) error {
	var req TransferRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	if req.Symbol == "" {
		req.Symbol = h.item.Symbol
	}
	tok, err := h.tokens.Lookup(req.Symbol)
	if err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	amount, err := tok.Parse(req.Amount)
	if err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	id := c.Get(IdempotencyHeader)
	if done, err := h.claim(c, &models.Purchase{
		ID:       id,
		Kind:     purchase.KindTransfer,
		Payer:    req.From,
		Payee:    req.To,
		Contract: tok.Contract,
		Symbol:   tok.Symbol,
		Price:    amount,
	}); done || err != nil {
		return err
	}

	out, err := h.workflow.ExecuteDirectTransfer(c.UserContext(), purchase.TransferRequest{
		ID:      id,
		From:    req.From,
		To:      req.To,
		Symbol:  tok.Symbol,
		Amount:  amount,
		Gasless: req.Gasless,
	})
	return h.respond(c, purchase.KindTransfer, out, err)
}

// GetPurchase returns a stored attempt.
func (h *Handler) GetPurchase(c *fiber.Ctx) error {
	rec, err := h.store.Get(c.UserContext(), c.Params("id"))
	if errors.Is(err, storage.ErrNotFound) {
		return c.Status(http.StatusNotFound).JSON(fiber.Map{"error": "purchase not found"})
	}
	if err != nil {
		h.logger.Error("get purchase failed", "id", c.Params("id"), "error", err)
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "could not fetch purchase"})
	}
	return c.JSON(h.recordResponse(rec))
}

// GetBalance reports an account's balance of ?symbol= (default: the shop token).
func (h *Handler) GetBalance(c *fiber.Ctx) error {
	symbol := c.Query("symbol", h.item.Symbol)
	tok, err := h.tokens.Lookup(symbol)
	if err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	account := c.Params("account")
	bal, err := h.balances.QueryBalance(c.UserContext(), account, tok.Contract)
	if err != nil {
		h.logger.Warn("balance query failed", "account", account, "symbol", tok.Symbol, "error", err)
		return c.Status(http.StatusServiceUnavailable).JSON(fiber.Map{"error": "ledger unavailable"})
	}
	return c.JSON(fiber.Map{
		"account": account,
		"symbol":  tok.Symbol,
		"balance": bal.String(),
		"display": tok.Format(bal),
	})
}

// claim reserves the idempotency key in rec.ID for this request. It reports
// done once a response is written: the key belongs to an earlier request,
// whose stored attempt is returned, or to one still running.
func (h *Handler) claim(c *fiber.Ctx, rec *models.Purchase) (bool, error) {
	if rec.ID == "" {
		return false, nil
	}
	rec.State = string(purchase.StatePending)
	won, err := h.store.Reserve(c.UserContext(), rec)
	if err != nil {
		h.logger.Error("idempotency reservation failed", "key", rec.ID, "error", err)
		return true, c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "could not check idempotency key"})
	}
	if won {
		return false, nil
	}

	stored, err := h.store.Get(c.UserContext(), rec.ID)
	if err != nil {
		h.logger.Error("idempotency lookup failed", "key", rec.ID, "error", err)
		return true, c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "could not check idempotency key"})
	}
	c.Set("X-Idempotency-Hit", "true")
	if !purchase.State(stored.State).Terminal() {
		h.logger.Info("idempotency key in use", "key", rec.ID, "state", stored.State)
		return true, c.Status(http.StatusConflict).JSON(fiber.Map{"error": "a request with this idempotency key is in progress"})
	}
	h.logger.Info("idempotency hit, returning stored attempt", "key", rec.ID, "state", stored.State)
	return true, c.Status(http.StatusOK).JSON(h.recordResponse(stored))
}

func (h *Handler) respond(c *fiber.Ctx, kind string, out *purchase.Outcome, err error) error {
	resp := OutcomeResponse{Kind: kind}
	if out != nil {
		resp.ID = out.ID
		resp.State = string(out.State)
		resp.Symbol = out.Symbol
		resp.ApprovalTx = out.ApprovalTx
		resp.TransferTx = out.TransferTx
		resp.ApprovalConfirmed = out.ApprovalConfirmed
		resp.Observed, resp.ObservedDisplay = amounts(out.Observed, out.Decimals)
		resp.Required, resp.RequiredDisplay = amounts(out.Required, out.Decimals)
	}
	if err != nil {
		resp.Error = err.Error()
	}
	return c.Status(statusFor(err)).JSON(resp)
}

func (h *Handler) recordResponse(rec *models.Purchase) OutcomeResponse {
	var decimals uint8
	if tok, err := h.tokens.Lookup(rec.Symbol); err == nil && rec.Symbol != "" {
		decimals = tok.Decimals
	}
	resp := OutcomeResponse{
		ID:                rec.ID,
		Kind:              rec.Kind,
		State:             rec.State,
		Symbol:            rec.Symbol,
		ApprovalTx:        rec.ApprovalTx,
		TransferTx:        rec.TransferTx,
		ApprovalConfirmed: rec.ApprovalConfirmed,
		Error:             rec.Error,
	}
	resp.Observed, resp.ObservedDisplay = amounts(rec.Observed, decimals)
	resp.Required, resp.RequiredDisplay = amounts(rec.Price, decimals)
	return resp
}

func amounts(v *big.Int, decimals uint8) (string, string) {
	if v == nil {
		return "", ""
	}
	return v.String(), token.FormatAmount(v, decimals)
}

// statusFor maps workflow failures to HTTP status codes.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, purchase.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, purchase.ErrInsufficientBalance):
		return http.StatusConflict
	case errors.Is(err, purchase.ErrLedgerUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, purchase.ErrApprovalFailed), errors.Is(err, purchase.ErrTransferFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ErrorHandler renders errors that escape handlers as JSON.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := http.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	msg := http.StatusText(code)
	if code < 500 && fe != nil {
		msg = strings.ToLower(fe.Message)
	}
	return c.Status(code).JSON(fiber.Map{"error": msg})
}
