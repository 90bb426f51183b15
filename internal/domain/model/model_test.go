package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestTaxOn_BankersRounding(t *testing.T) {
	rate := decimal.RequireFromString("0.05")
	assert.Equal(t, int64(52), TaxOn(1050, rate)) // 52.5
	assert.Equal(t, int64(54), TaxOn(1070, rate)) // 53.5
	assert.Equal(t, int64(0), TaxOn(0, rate))
	assert.Equal(t, int64(0), TaxOn(1000, decimal.Zero))
}

func TestFormatMinor(t *testing.T) {
	assert.Equal(t, "10.00 USD", FormatMinor(1000, "USD"))
	assert.Equal(t, "0.05 JPY", FormatMinor(5, "JPY"))
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(OrderStatusPending, OrderStatusConfirmed))
	assert.True(t, CanTransition(OrderStatusConfirmed, OrderStatusCancelled))
	assert.False(t, CanTransition(OrderStatusConfirmed, OrderStatusPending))
	assert.False(t, CanTransition(OrderStatusCancelled, OrderStatusConfirmed))
}

func TestCheckoutStatus_CanMoveTo(t *testing.T) {
	cases := []struct {
		from, to CheckoutStatus
		want     bool
	}{
		{CheckoutStatusPending, CheckoutStatusCaptured, true},
		{CheckoutStatusRequiresAction, CheckoutStatusCompleted, true},
		{CheckoutStatusCaptured, CheckoutStatusCompleted, true},
		{CheckoutStatusCaptured, CheckoutStatusRefunded, true},
		{CheckoutStatusCaptured, CheckoutStatusDeclined, false},
		{CheckoutStatusCompleted, CheckoutStatusRefunded, false},
		{CheckoutStatusRefunded, CheckoutStatusCompleted, false},
		{CheckoutStatusCanceled, CheckoutStatusCaptured, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.from.CanMoveTo(tc.to), "%s -> %s", tc.from, tc.to)
	}

	assert.True(t, CheckoutStatusCompleted.IsTerminal())
	assert.False(t, CheckoutStatusCaptured.IsTerminal())
	assert.True(t, CheckoutStatusRequiresAction.IsAwaitingPayment())
	assert.False(t, CheckoutStatusCaptured.IsAwaitingPayment())
}

func TestAddress_ToShipping(t *testing.T) {
	a := Address{ID: 3, UserID: 1, Name: "Taro", PostalCode: "100-0001", City: "Chiyoda", Line1: "1-1", Phone: "03"}
	s := a.ToShipping()
	assert.Equal(t, ShippingAddress{Name: "Taro", PostalCode: "100-0001", City: "Chiyoda", Line1: "1-1", Phone: "03"}, s)
}
