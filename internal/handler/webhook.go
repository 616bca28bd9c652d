package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"github.com/dukerupert/replypilot/internal/model"
	"github.com/dukerupert/replypilot/internal/store"
)

// maxWebhookBody bounds the raw payload read before verification.
const maxWebhookBody = 65536

// WebhookGateway is the slice of the Stripe client the webhook processor
// needs: signature verification and subscription fetches for events that
// only carry a subscription id.
type WebhookGateway interface {
	ConstructWebhookEvent(payload []byte, sigHeader string) (stripe.Event, error)
	GetSubscription(id string) (*stripe.Subscription, error)
}

type WebhookHandler struct {
	gateway      WebhookGateway
	accountStore *store.AccountStore
	logger       *slog.Logger
}

func NewWebhookHandler(gw WebhookGateway, as *store.AccountStore, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		gateway:      gw,
		accountStore: as,
		logger:       logger,
	}
}

// HandleStripeWebhook verifies the provider signature over the raw body and
// dispatches the event. A bad signature is a 400 with zero state mutation;
// a processing failure after verification is a 500 with no internal retry —
// Stripe redelivers.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return
	}

	event, err := h.gateway.ConstructWebhookEvent(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("webhook signature rejected", "error", err)
		writeError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	if err := h.process(event); err != nil {
		h.logger.Error("webhook processing failed", "type", event.Type, "id", event.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "processing failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// process routes a verified event. Every transition is an unconditional
// snapshot overwrite keyed by account, so redelivered or out-of-order
// events are safe to reapply. Events whose preconditions don't hold
// (no client reference, unknown customer) are skipped, not failed.
func (h *WebhookHandler) process(event stripe.Event) error {
	switch event.Type {
	case "checkout.session.completed":
		return h.handleCheckoutCompleted(event)
	case "customer.subscription.created",
		"customer.subscription.updated",
		"customer.subscription.deleted":
		return h.handleSubscriptionEvent(event)
	case "invoice.payment_failed":
		return h.handleInvoicePaymentFailed(event)
	default:
		return nil
	}
}

func (h *WebhookHandler) handleCheckoutCompleted(event stripe.Event) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		h.logger.Warn("webhook: unmarshal checkout session", "error", err)
		return nil
	}

	userID := sess.ClientReferenceID
	if userID == "" {
		h.logger.Warn("webhook: checkout session missing client reference", "id", event.ID)
		return nil
	}

	email := ""
	if sess.CustomerDetails != nil {
		email = sess.CustomerDetails.Email
	}

	account, err := h.accountStore.CreateIfMissing(userID, email)
	if err != nil {
		return err
	}

	if sess.Customer != nil {
		if err := h.accountStore.LinkStripeCustomer(account.ID, sess.Customer.ID); err != nil {
			return err
		}
	}

	if sess.Subscription != nil {
		sub, err := h.gateway.GetSubscription(sess.Subscription.ID)
		if err != nil {
			return err
		}
		if err := h.accountStore.SetSubscriptionSnapshot(account.ID, snapshotFromSubscription(sub)); err != nil {
			return err
		}
	}

	h.logger.Info("webhook: checkout completed", "user_id", userID)
	return nil
}

func (h *WebhookHandler) handleSubscriptionEvent(event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		h.logger.Warn("webhook: unmarshal subscription", "error", err)
		return nil
	}

	account, err := h.resolveAccount(&sub)
	if err != nil {
		return err
	}
	if account == nil {
		h.logger.Warn("webhook: subscription event for unknown account", "type", event.Type, "subscription", sub.ID)
		return nil
	}

	if err := h.accountStore.SetSubscriptionSnapshot(account.ID, snapshotFromSubscription(&sub)); err != nil {
		return err
	}

	h.logger.Info("webhook: subscription snapshot applied",
		"type", event.Type, "user_id", account.UserID, "status", sub.Status)
	return nil
}

func (h *WebhookHandler) handleInvoicePaymentFailed(event stripe.Event) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		h.logger.Warn("webhook: unmarshal invoice", "error", err)
		return nil
	}

	subID := subscriptionIDFromInvoice(invoice)
	if subID == "" {
		return nil
	}

	sub, err := h.gateway.GetSubscription(subID)
	if err != nil {
		return err
	}

	account, err := h.resolveAccount(sub)
	if err != nil {
		return err
	}
	if account == nil {
		h.logger.Warn("webhook: payment failure for unknown account", "subscription", subID)
		return nil
	}

	if err := h.accountStore.SetSubscriptionSnapshot(account.ID, snapshotFromSubscription(sub)); err != nil {
		return err
	}

	h.logger.Info("webhook: payment failed, snapshot applied", "user_id", account.UserID, "status", sub.Status)
	return nil
}

// resolveAccount maps a subscription to an account via the stored customer
// linkage, then via the user_id metadata stamped at checkout. The metadata
// path also heals the linkage for accounts that missed the checkout event.
func (h *WebhookHandler) resolveAccount(sub *stripe.Subscription) (*model.Account, error) {
	if sub.Customer != nil {
		account, err := h.accountStore.GetByStripeCustomerID(sub.Customer.ID)
		if err != nil {
			return nil, err
		}
		if account != nil {
			return account, nil
		}
	}

	userID := sub.Metadata["user_id"]
	if userID == "" {
		return nil, nil
	}
	account, err := h.accountStore.CreateIfMissing(userID, "")
	if err != nil {
		return nil, err
	}
	if sub.Customer != nil && account.StripeCustomerID == nil {
		if err := h.accountStore.LinkStripeCustomer(account.ID, sub.Customer.ID); err != nil {
			return nil, err
		}
	}
	return account, nil
}

// snapshotFromSubscription flattens a Stripe subscription into the snapshot
// fields written atomically to the account.
func snapshotFromSubscription(sub *stripe.Subscription) model.Snapshot {
	snap := model.Snapshot{
		SubscriptionID: sub.ID,
		Status:         model.Status(sub.Status),
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if item.CurrentPeriodEnd > 0 {
			t := time.Unix(item.CurrentPeriodEnd, 0).UTC()
			snap.CurrentPeriodEnd = &t
		}
		if item.Price != nil {
			snap.PriceID = item.Price.ID
		}
	}
	return snap
}

// subscriptionIDFromInvoice extracts the subscription id from an invoice's
// parent, when present.
func subscriptionIDFromInvoice(invoice stripe.Invoice) string {
	if invoice.Parent != nil &&
		invoice.Parent.SubscriptionDetails != nil &&
		invoice.Parent.SubscriptionDetails.Subscription != nil {
		return invoice.Parent.SubscriptionDetails.Subscription.ID
	}
	return ""
}
