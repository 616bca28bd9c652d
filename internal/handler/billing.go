package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	stripeclient "github.com/dukerupert/replypilot/internal/stripe"
	"github.com/dukerupert/replypilot/internal/store"
)

// BillingGateway is the slice of the Stripe client the user-facing billing
// handlers need.
type BillingGateway interface {
	CreateCheckoutSession(email, clientReferenceID, successURL, cancelURL string) (string, error)
	FindCustomerByEmail(email string) (*stripe.Customer, error)
	CreateBillingPortalSession(customerID, returnURL string) (string, error)
	FindCurrentSubscription(customerID string) (*stripe.Subscription, error)
	CancelSubscription(id string, atPeriodEnd bool) (*stripe.Subscription, error)
}

type BillingHandler struct {
	gateway      BillingGateway
	accountStore *store.AccountStore
	baseURL      string
	logger       *slog.Logger
}

func NewBillingHandler(gw BillingGateway, as *store.AccountStore, baseURL string, logger *slog.Logger) *BillingHandler {
	return &BillingHandler{
		gateway:      gw,
		accountStore: as,
		baseURL:      baseURL,
		logger:       logger,
	}
}

type statusResponse struct {
	Active           bool   `json:"active"`
	Status           string `json:"status"`
	CurrentPeriodEnd string `json:"currentPeriodEnd,omitempty"`
	PriceID          string `json:"priceId,omitempty"`
}

// Status reports the stored subscription snapshot for an email. The read is
// straight from the last committed webhook write — no cache in between.
func (h *BillingHandler) Status(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	account, err := h.accountStore.GetByEmail(email)
	if err != nil {
		h.logger.Error("status lookup", "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if account == nil {
		writeJSON(w, http.StatusOK, statusResponse{Active: false, Status: "none"})
		return
	}

	resp := statusResponse{
		Active: account.Status.HasAccess(),
		Status: string(account.Status),
	}
	if account.CurrentPeriodEnd != nil {
		resp.CurrentPeriodEnd = account.CurrentPeriodEnd.UTC().Format(time.RFC3339)
	}
	if account.PriceID != nil {
		resp.PriceID = *account.PriceID
	}
	writeJSON(w, http.StatusOK, resp)
}

type checkoutRequest struct {
	UserID   string `json:"userId"`
	Email    string `json:"email"`
	Redirect string `json:"redirect"`
}

// Checkout creates a subscription-mode checkout session. The account id
// rides along as the client reference so the webhook can link the customer
// back after payment completes out-of-band.
func (h *BillingHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if req.UserID == "" || req.Email == "" {
		writeError(w, http.StatusBadRequest, "userId and email are required")
		return
	}
	if req.Redirect == "" {
		req.Redirect = "/"
	}

	if _, err := h.accountStore.CreateIfMissing(req.UserID, req.Email); err != nil {
		h.logger.Error("checkout: ensure account", "error", err)
		writeError(w, http.StatusInternalServerError, "checkout failed")
		return
	}

	returnTo := h.baseURL + req.Redirect
	url, err := h.gateway.CreateCheckoutSession(req.Email, req.UserID, returnTo, returnTo)
	if err != nil {
		h.logger.Error("checkout: create session", "error", err)
		writeError(w, http.StatusInternalServerError, "checkout failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

type portalRequest struct {
	Email string `json:"email"`
}

// Portal resolves the Stripe customer by email and returns a billing portal
// URL. No matching customer is a 404, distinct from provider failures.
func (h *BillingHandler) Portal(w http.ResponseWriter, r *http.Request) {
	var req portalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	cust, err := h.gateway.FindCustomerByEmail(req.Email)
	if errors.Is(err, stripeclient.ErrNoCustomer) {
		writeError(w, http.StatusNotFound, "no_customer")
		return
	}
	if err != nil {
		h.logger.Error("portal: find customer", "error", err)
		writeError(w, http.StatusInternalServerError, "portal failed")
		return
	}

	url, err := h.gateway.CreateBillingPortalSession(cust.ID, h.baseURL)
	if err != nil {
		h.logger.Error("portal: create session", "error", err)
		writeError(w, http.StatusInternalServerError, "portal failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

type cancelRequest struct {
	Email       string `json:"email"`
	AtPeriodEnd *bool  `json:"atPeriodEnd"`
}

type cancelResponse struct {
	OK                bool   `json:"ok"`
	State             string `json:"state"`
	SubscriptionID    string `json:"subscriptionId,omitempty"`
	CancelAtPeriodEnd *bool  `json:"cancelAtPeriodEnd,omitempty"`
}

// Cancel resolves the customer's current subscription by email and cancels
// it. "No customer" and "no active subscription" are ok:true terminal
// outcomes, never errors.
func (h *BillingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}
	atPeriodEnd := true
	if req.AtPeriodEnd != nil {
		atPeriodEnd = *req.AtPeriodEnd
	}

	cust, err := h.gateway.FindCustomerByEmail(req.Email)
	if errors.Is(err, stripeclient.ErrNoCustomer) {
		writeJSON(w, http.StatusOK, cancelResponse{OK: true, State: "no_customer"})
		return
	}
	if err != nil {
		h.logger.Error("cancel: find customer", "error", err)
		writeError(w, http.StatusInternalServerError, "cancel failed")
		return
	}

	sub, err := h.gateway.FindCurrentSubscription(cust.ID)
	if errors.Is(err, stripeclient.ErrNoActiveSubscription) {
		writeJSON(w, http.StatusOK, cancelResponse{OK: true, State: "no_active_subscription"})
		return
	}
	if err != nil {
		h.logger.Error("cancel: find subscription", "error", err)
		writeError(w, http.StatusInternalServerError, "cancel failed")
		return
	}

	updated, err := h.gateway.CancelSubscription(sub.ID, atPeriodEnd)
	if err != nil {
		h.logger.Error("cancel: cancel subscription", "error", err)
		writeError(w, http.StatusInternalServerError, "cancel failed")
		return
	}

	state := "canceled"
	if atPeriodEnd {
		state = "cancel_scheduled"
	}
	writeJSON(w, http.StatusOK, cancelResponse{
		OK:                true,
		State:             state,
		SubscriptionID:    updated.ID,
		CancelAtPeriodEnd: &updated.CancelAtPeriodEnd,
	})
}
