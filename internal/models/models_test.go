package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItemsTotal(t *testing.T) {
	items := []CheckoutItem{
		{SKU: "A", Name: "Widget", Quantity: 2, UnitPriceCents: 500},
		{SKU: "B", Name: "Gadget", Quantity: 1, UnitPriceCents: 1999},
	}
	assert.Equal(t, int64(2999), ItemsTotal(items))
	assert.Equal(t, int64(0), ItemsTotal(nil))
}

func TestCheckoutRequestValidate(t *testing.T) {
	valid := CheckoutRequest{
		Provider:    ProviderKlarna,
		Type:        CheckoutTypeProduct,
		AmountCents: 1000,
		Items: []CheckoutItem{
			{SKU: "A", Name: "Widget", Quantity: 2, UnitPriceCents: 500},
		},
	}
	require.NoError(t, valid.Validate())

	mismatched := valid
	mismatched.AmountCents = 999
	err := mismatched.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match item total")

	duplicated := valid
	duplicated.AmountCents = 2000
	duplicated.Items = []CheckoutItem{
		{SKU: "A", Name: "Widget", Quantity: 1, UnitPriceCents: 1000},
		{SKU: "A", Name: "Widget Again", Quantity: 1, UnitPriceCents: 1000},
	}
	err = duplicated.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate sku")

	unknown := valid
	unknown.Provider = "paypal"
	err = unknown.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")
}

func TestCheckoutRequestValidateItemlessCart(t *testing.T) {
	// Subscription-style checkouts carry an amount with no line items;
	// the invariant only binds when items are present.
	req := CheckoutRequest{
		Provider:    ProviderAuthorizeNet,
		Type:        CheckoutTypeSubscription,
		AmountCents: 4999,
	}
	assert.NoError(t, req.Validate())
}
