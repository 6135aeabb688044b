package main

import (
	"context"
	"math/big"
	"testing"

	"github.com/OKaluzny/token-shop/internal/notify"
	"github.com/OKaluzny/token-shop/internal/token"
	"github.com/OKaluzny/token-shop/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	sent []notify.Message
}

func (s *recordingSender) Send(_ context.Context, m notify.Message) error {
	s.sent = append(s.sent, m)
	return nil
}

const (
	contract = "0x00000000000000000000000000000000000000cc"
	shop     = "0x00000000000000000000000000000000000000aa"
	customer = "0x00000000000000000000000000000000000000bb"
)

func TestPaymentHandler(t *testing.T) {
	tokens := token.NewRegistry(token.Token{Symbol: "shop", Contract: contract, Decimals: 18})
	sender := &recordingSender{}
	h := paymentHandler(tokens, sender, shop, "owner@example.com")

	amount, _ := new(big.Int).SetString("50000000000000000000", 10)
	require.NoError(t, h(context.Background(), models.BlockEvent{
		TxHash:    "0xabc",
		Contract:  contract,
		From:      customer,
		To:        "0x00000000000000000000000000000000000000AA",
		Amount:    amount,
		Confirmed: true,
	}))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "owner@example.com", sender.sent[0].To)
	assert.Contains(t, sender.sent[0].Body, "50 SHOP")
	assert.Contains(t, sender.sent[0].Body, "0xabc")
}

func TestPaymentHandler_NoReceiptInbox(t *testing.T) {
	sender := &recordingSender{}
	h := paymentHandler(token.NewRegistry(), sender, shop, "")

	require.NoError(t, h(context.Background(), models.BlockEvent{TxHash: "0x1", To: shop, Amount: big.NewInt(1)}))
	assert.Empty(t, sender.sent)
}

func TestPaymentHandler_SkipsOutgoing(t *testing.T) {
	tokens := token.NewRegistry(token.Token{Symbol: "shop", Contract: contract, Decimals: 18})
	sender := &recordingSender{}
	h := paymentHandler(tokens, sender, shop, "owner@example.com")

	require.NoError(t, h(context.Background(), models.BlockEvent{
		TxHash:    "0xdef",
		Contract:  contract,
		From:      shop,
		To:        customer,
		Amount:    big.NewInt(5),
		Confirmed: true,
	}))
	assert.Empty(t, sender.sent, "a transfer out of the shop is not a payment")
}
