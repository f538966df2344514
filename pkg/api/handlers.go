package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/usagekit/tollgate/pkg/httputil"
	"github.com/usagekit/tollgate/pkg/ledger"
	"github.com/usagekit/tollgate/pkg/money"
	"github.com/usagekit/tollgate/pkg/pricing"
	"github.com/usagekit/tollgate/pkg/reservation"
)

// handleReserve runs one reservation. Business outcomes (success,
// insufficient_funds, unconfigured_overage) all answer 200; only malformed
// input and infrastructure failures use error status codes.
func (s *Server) handleReserve(w http.ResponseWriter, r *http.Request) {
	var req ReserveRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Scope, "scope") {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Subject, "subject") {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Usage, "usage") {
		return
	}

	usage, err := money.ParseNonNegative(req.Usage)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	policy, ok := s.resolvePolicy(w, req)
	if !ok {
		return
	}

	outcome, err := s.engine.Reserve(r.Context(), reservation.Request{
		LedgerKey:      ledger.Key(req.Scope, req.Subject),
		Usage:          usage,
		EntitlementIDs: req.EntitlementIDs,
		Policy:         policy,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		if errors.Is(err, reservation.ErrInvalidRequest) {
			httputil.WriteBadRequest(w, err.Error())
			return
		}
		s.logger.WithError(err).
			WithField("scope", req.Scope).
			WithField("subject", req.Subject).
			Error("reservation failed")
		httputil.WriteServiceUnavailable(w, "ledger store unavailable")
		return
	}

	resp := ReserveResponse{
		Status:      string(outcome.Status),
		CostCharged: money.Render(outcome.Cost),
		Consumed:    make(map[string]string, len(outcome.Consumed)),
	}
	for id, amount := range outcome.Consumed {
		resp.Consumed[id] = money.Render(amount)
	}
	httputil.WriteSuccess(w, resp)
}

// resolvePolicy picks the pricing policy for a reservation: an inline policy
// wins, then the catalog by feature name, then the unconfigured zero policy.
func (s *Server) resolvePolicy(w http.ResponseWriter, req ReserveRequest) (pricing.Policy, bool) {
	if req.Policy != nil {
		return *req.Policy, true
	}
	if req.Feature == "" {
		return pricing.Policy{}, true
	}
	if s.catalog == nil {
		httputil.WriteBadRequest(w, "no pricing catalog configured, supply an inline policy")
		return pricing.Policy{}, false
	}
	policy, ok := s.catalog.Policy(req.Feature)
	if !ok {
		httputil.WriteNotFoundError(w, fmt.Sprintf("unknown feature %q", req.Feature))
		return pricing.Policy{}, false
	}
	return policy, true
}

// handleGetLedger renders a point-in-time snapshot of one shadow ledger.
func (s *Server) handleGetLedger(w http.ResponseWriter, r *http.Request) {
	scope, ok := httputil.ParsePathStringOrError(w, r, "scope")
	if !ok {
		return
	}
	subject, ok := httputil.ParsePathStringOrError(w, r, "subject")
	if !ok {
		return
	}

	snap, err := s.store.Snapshot(r.Context(), ledger.Key(scope, subject))
	if err != nil {
		s.logger.WithError(err).WithField("scope", scope).WithField("subject", subject).
			Error("ledger snapshot failed")
		httputil.WriteServiceUnavailable(w, "ledger store unavailable")
		return
	}

	resp := LedgerResponse{
		Scope:        scope,
		Subject:      subject,
		Wallet:       money.Render(snap[ledger.FieldWallet]),
		Entitlements: make(map[string]string),
	}
	for field, value := range snap {
		if id, ok := ledger.IsEntitlementField(field); ok {
			resp.Entitlements[id] = money.Render(value)
		}
	}
	httputil.WriteSuccess(w, resp)
}

// handleTopUp credits the wallet, or an entitlement grant when one is named.
func (s *Server) handleTopUp(w http.ResponseWriter, r *http.Request) {
	scope, ok := httputil.ParsePathStringOrError(w, r, "scope")
	if !ok {
		return
	}
	subject, ok := httputil.ParsePathStringOrError(w, r, "subject")
	if !ok {
		return
	}

	var req TopUpRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	amount, err := money.ParseNonNegative(req.Amount)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if amount.Sign() == 0 {
		httputil.WriteBadRequest(w, "amount must be positive")
		return
	}

	field := ledger.FieldWallet
	if req.EntitlementID != "" {
		field = ledger.EntitlementField(req.EntitlementID)
	}

	balance, err := s.store.ApplyDelta(r.Context(), ledger.Key(scope, subject), field, amount)
	if err != nil {
		s.logger.WithError(err).WithField("scope", scope).WithField("subject", subject).
			Error("top-up failed")
		httputil.WriteServiceUnavailable(w, "ledger store unavailable")
		return
	}

	httputil.WriteSuccess(w, TopUpResponse{
		Field:   field,
		Balance: money.Render(balance),
	})
}
