package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/earnsigma/go_earnsigma/internal/client"
	"github.com/earnsigma/go_earnsigma/internal/logger"
	"github.com/earnsigma/go_earnsigma/internal/models"
)

// BillingAPI is the part of the backend client the billing endpoints use
type BillingAPI interface {
	FetchEntitlements(ctx context.Context, opts client.FetchOptions) (models.Entitlements, error)
	ResetEntitlementsCache(ctx context.Context, scope string) error
	CreateCheckoutSession(ctx context.Context, plan models.CheckoutPlan, scope string) (models.CheckoutSession, error)
}

// BillingHandler serves entitlements and starts checkouts
type BillingHandler struct {
	api BillingAPI
}

// NewBillingHandler creates a new BillingHandler
func NewBillingHandler(api BillingAPI) *BillingHandler {
	return &BillingHandler{api: api}
}

// CheckoutRequest selects the plan to buy
type CheckoutRequest struct {
	Plan models.CheckoutPlan `json:"plan"`
}

// HandleEntitlements handles GET /app/api/entitlements.
// ?refresh=true bypasses the cache.
func (h *BillingHandler) HandleEntitlements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	session, ok := SessionFrom(ctx)
	if !ok {
		respondError(w, ctx, http.StatusUnauthorized, "authentication required")
		return
	}

	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	if refresh {
		if err := h.api.ResetEntitlementsCache(ctx, session.Subject); err != nil {
			logger.Warn(ctx, "Failed to reset entitlements cache", "error", err)
		}
	}

	entitlements, err := h.api.FetchEntitlements(ctx, client.FetchOptions{
		ForceRefresh: refresh,
		Scope:        session.Subject,
	})
	if err != nil {
		respondAPIError(w, ctx, err)
		return
	}

	respondJSON(w, ctx, http.StatusOK, entitlements)
}

// HandleCheckout handles POST /app/api/billing/checkout
func (h *BillingHandler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	session, ok := SessionFrom(ctx)
	if !ok {
		respondError(w, ctx, http.StatusUnauthorized, "authentication required")
		return
	}

	var req CheckoutRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxTrackBodyBytes)).Decode(&req); err != nil {
		respondError(w, ctx, http.StatusBadRequest, "malformed JSON payload")
		return
	}
	if !req.Plan.IsValid() {
		respondError(w, ctx, http.StatusBadRequest, "unknown plan: "+string(req.Plan))
		return
	}

	checkout, err := h.api.CreateCheckoutSession(ctx, req.Plan, session.Subject)
	if errors.Is(err, client.ErrCheckoutInProgress) {
		respondError(w, ctx, http.StatusConflict, client.CheckoutInProgressMessage)
		return
	}
	if err != nil {
		respondAPIError(w, ctx, err)
		return
	}

	logger.Info(ctx, "Checkout session created", "plan", req.Plan)
	respondJSON(w, ctx, http.StatusOK, checkout)
}
