package api

import "github.com/usagekit/tollgate/pkg/pricing"

// ReserveRequest is the wire form of a reservation attempt. Amounts travel as
// decimal strings so callers never lose precision to float encoding.
type ReserveRequest struct {
	// Scope and Subject identify the billing subject, e.g. scope "user" and
	// subject "42".
	Scope   string `json:"scope"`
	Subject string `json:"subject"`

	// Feature selects the pricing policy from the catalog. Omitted when the
	// caller supplies an inline policy.
	Feature string `json:"feature,omitempty"`

	// Policy optionally overrides the catalog lookup.
	Policy *pricing.Policy `json:"policy,omitempty"`

	// Usage is the amount to reserve, as a decimal string.
	Usage string `json:"usage"`

	// EntitlementIDs lists grants to drain, in priority order.
	EntitlementIDs []string `json:"entitlement_ids,omitempty"`

	// IdempotencyKey dedupes retried deliveries.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// ReserveResponse reports the reservation outcome. Business outcomes all
// return HTTP 200; callers branch on Status.
type ReserveResponse struct {
	Status string `json:"status"`

	// CostCharged is the wallet amount charged (or, for insufficient_funds,
	// the amount that would have been needed), rendered to fixed precision.
	CostCharged string `json:"cost_charged"`

	// Consumed maps entitlement id to the units drained from it.
	Consumed map[string]string `json:"consumed,omitempty"`
}

// LedgerResponse is the rendered snapshot of one shadow ledger.
type LedgerResponse struct {
	Scope        string            `json:"scope"`
	Subject      string            `json:"subject"`
	Wallet       string            `json:"wallet_balance"`
	Entitlements map[string]string `json:"entitlements"`
}

// TopUpRequest adds funds to a wallet or units to an entitlement grant.
type TopUpRequest struct {
	// Amount is a positive decimal string.
	Amount string `json:"amount"`

	// EntitlementID, when set, tops up that grant instead of the wallet.
	EntitlementID string `json:"entitlement_id,omitempty"`
}

// TopUpResponse returns the new balance of the credited field.
type TopUpResponse struct {
	Field   string `json:"field"`
	Balance string `json:"balance"`
}
