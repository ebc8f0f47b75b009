package payments

import (
	"context"

	"payment-gateway/internal/models"
)

// ResultStatus is the normalized disposition of a finalize or refund call.
type ResultStatus string

const (
	StatusOk       ResultStatus = "ok"
	StatusPending  ResultStatus = "pending"
	StatusDeclined ResultStatus = "declined"
)

// Result is the common outcome type shared by all providers. A decline is a
// normal result for the caller to branch on, not an error; transport and API
// failures surface as *ProviderAPIError instead.
type Result struct {
	Status         ResultStatus
	TransactionRef string
	Reason         string
	RedirectURL    string
	AmountCents    int64
}

// IntentRequest asks a provider for a client-side checkout handle.
type IntentRequest struct {
	OrderRef        string
	AmountCents     int64
	Items           []models.CheckoutItem
	ConfirmationURL string
	CancelURL       string
	PushURL         string
}

// IntentResponse is the ephemeral provider-issued handle rendered into the
// browser widget. Lifetime is one checkout attempt; it is never persisted
// beyond passing through.
type IntentResponse struct {
	SessionID         string
	ClientToken       string
	PaymentCategories []string
	CheckoutConfig    any
}

// FinalizeRequest exchanges the post-widget authorization artifact for funds
// movement. Exactly one artifact field is set depending on the provider.
type FinalizeRequest struct {
	OrderRef    string
	AmountCents int64
	Items       []models.CheckoutItem
	Email       string

	CheckoutToken      string      // Affirm
	AuthorizationToken string      // Klarna
	OpaqueData         *OpaqueData // Authorize.net
}

// OpaqueData is a tokenized card payload substituting for raw card data.
type OpaqueData struct {
	DataDescriptor string `json:"dataDescriptor"`
	DataValue      string `json:"dataValue"`
}

// RefundRequest refunds a captured transaction. AmountCents of zero means a
// full refund; LastFour is required by Authorize.net only.
type RefundRequest struct {
	TransactionRef string
	AmountCents    int64
	LastFour       string
}

// Provider is the capability set shared by all payment provider clients.
type Provider interface {
	Name() models.Provider
	CreateIntent(ctx context.Context, req IntentRequest) (*IntentResponse, error)
	Finalize(ctx context.Context, req FinalizeRequest) (*Result, error)
	Refund(ctx context.Context, req RefundRequest) (*Result, error)
}

// Voider is implemented by providers that can cancel an uncaptured
// authorization. Klarna has no void, only acknowledge-then-refund.
type Voider interface {
	Void(ctx context.Context, transactionRef string) error
}

// Registry maps provider names to clients.
type Registry map[models.Provider]Provider

// Get returns the client for a provider, or nil when it is not wired.
func (r Registry) Get(name models.Provider) Provider {
	return r[name]
}
