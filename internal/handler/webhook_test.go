package handler

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/dukerupert/replypilot/internal/database"
	"github.com/dukerupert/replypilot/internal/model"
	"github.com/dukerupert/replypilot/internal/store"
)

const webhookTestSecret = "whsec_test"

// fakeGateway verifies signatures for real and serves canned subscriptions.
type fakeGateway struct {
	subs map[string]*stripe.Subscription
}

func (g *fakeGateway) ConstructWebhookEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	return webhook.ConstructEventWithOptions(payload, sigHeader, webhookTestSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
}

func (g *fakeGateway) GetSubscription(id string) (*stripe.Subscription, error) {
	sub, ok := g.subs[id]
	if !ok {
		return nil, fmt.Errorf("no such subscription %q", id)
	}
	return sub, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func setupWebhookTest(t *testing.T, gw *fakeGateway) (*WebhookHandler, *store.AccountStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	as := store.NewAccountStore(db)
	return NewWebhookHandler(gw, as, discardLogger()), as
}

// signStripePayload produces a Stripe-Signature header the SDK accepts.
func signStripePayload(payload []byte, secret string) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func deliver(t *testing.T, h *WebhookHandler, payload []byte, sigHeader string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/stripe/webhook", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", sigHeader)
	h.HandleStripeWebhook(rec, req)
	return rec
}

func testSubscription(status string) *stripe.Subscription {
	return &stripe.Subscription{
		ID:       "sub_1",
		Status:   stripe.SubscriptionStatus(status),
		Customer: &stripe.Customer{ID: "cus_C"},
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{
				{CurrentPeriodEnd: 1790000000, Price: &stripe.Price{ID: "price_1"}},
			},
		},
	}
}

const checkoutCompletedPayload = `{
	"id": "evt_1",
	"type": "checkout.session.completed",
	"data": {"object": {
		"id": "cs_1",
		"client_reference_id": "user_A",
		"customer": "cus_C",
		"customer_details": {"email": "a@b.com"},
		"subscription": "sub_1"
	}}
}`

func subscriptionEventPayload(eventType, status string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": "evt_2",
		"type": %q,
		"data": {"object": {
			"id": "sub_1",
			"status": %q,
			"customer": "cus_C",
			"cancel_at_period_end": false,
			"items": {"data": [{"id": "si_1", "price": {"id": "price_1"}, "current_period_end": 1790000000}]}
		}}
	}`, eventType, status))
}

func TestWebhookRejectsTamperedSignature(t *testing.T) {
	gw := &fakeGateway{subs: map[string]*stripe.Subscription{"sub_1": testSubscription("trialing")}}
	h, as := setupWebhookTest(t, gw)

	payload := []byte(checkoutCompletedPayload)
	sig := signStripePayload(payload, webhookTestSecret)
	tampered := sig[:len(sig)-2] + "00"

	rec := deliver(t, h, payload, tampered)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}

	account, _ := as.GetByUserID("user_A")
	if account != nil {
		t.Error("rejected webhook must not mutate the store")
	}
}

func TestWebhookCheckoutThenSubscriptionUpdated(t *testing.T) {
	gw := &fakeGateway{subs: map[string]*stripe.Subscription{"sub_1": testSubscription("trialing")}}
	h, as := setupWebhookTest(t, gw)

	payload := []byte(checkoutCompletedPayload)
	rec := deliver(t, h, payload, signStripePayload(payload, webhookTestSecret))
	if rec.Code != http.StatusOK {
		t.Fatalf("checkout event: status = %d, body %s", rec.Code, rec.Body.String())
	}

	account, _ := as.GetByUserID("user_A")
	if account == nil {
		t.Fatal("expected account created from checkout event")
	}
	if account.StripeCustomerID == nil || *account.StripeCustomerID != "cus_C" {
		t.Errorf("customer id = %v, want cus_C", account.StripeCustomerID)
	}
	if account.Status != model.StatusTrialing {
		t.Errorf("status after checkout = %q, want trialing", account.Status)
	}

	update := subscriptionEventPayload("customer.subscription.updated", "active")
	rec = deliver(t, h, update, signStripePayload(update, webhookTestSecret))
	if rec.Code != http.StatusOK {
		t.Fatalf("update event: status = %d, body %s", rec.Code, rec.Body.String())
	}

	account, _ = as.GetByUserID("user_A")
	if account.Status != model.StatusActive {
		t.Errorf("status after update = %q, want active", account.Status)
	}
	if account.StripeSubscriptionID == nil || *account.StripeSubscriptionID != "sub_1" {
		t.Errorf("subscription id = %v, want sub_1", account.StripeSubscriptionID)
	}
	if account.PriceID == nil || *account.PriceID != "price_1" {
		t.Errorf("price id = %v, want price_1", account.PriceID)
	}
	if account.CurrentPeriodEnd == nil || account.CurrentPeriodEnd.Unix() != 1790000000 {
		t.Errorf("period end = %v, want unix 1790000000", account.CurrentPeriodEnd)
	}
}

func TestWebhookReplayIsIdempotent(t *testing.T) {
	gw := &fakeGateway{subs: map[string]*stripe.Subscription{"sub_1": testSubscription("trialing")}}
	h, as := setupWebhookTest(t, gw)

	checkout := []byte(checkoutCompletedPayload)
	deliver(t, h, checkout, signStripePayload(checkout, webhookTestSecret))

	update := subscriptionEventPayload("customer.subscription.updated", "active")
	deliver(t, h, update, signStripePayload(update, webhookTestSecret))
	first, _ := as.GetByUserID("user_A")

	rec := deliver(t, h, update, signStripePayload(update, webhookTestSecret))
	if rec.Code != http.StatusOK {
		t.Fatalf("replay: status = %d", rec.Code)
	}
	second, _ := as.GetByUserID("user_A")

	if second.Status != first.Status ||
		*second.StripeSubscriptionID != *first.StripeSubscriptionID ||
		*second.PriceID != *first.PriceID ||
		!second.CurrentPeriodEnd.Equal(*first.CurrentPeriodEnd) {
		t.Error("replaying the same event changed the snapshot")
	}
}

func TestWebhookSubscriptionDeleted(t *testing.T) {
	gw := &fakeGateway{subs: map[string]*stripe.Subscription{"sub_1": testSubscription("trialing")}}
	h, as := setupWebhookTest(t, gw)

	checkout := []byte(checkoutCompletedPayload)
	deliver(t, h, checkout, signStripePayload(checkout, webhookTestSecret))

	deleted := subscriptionEventPayload("customer.subscription.deleted", "canceled")
	rec := deliver(t, h, deleted, signStripePayload(deleted, webhookTestSecret))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	account, _ := as.GetByUserID("user_A")
	if account.Status != model.StatusCanceled {
		t.Errorf("status = %q, want canceled", account.Status)
	}
}

func TestWebhookInvoicePaymentFailed(t *testing.T) {
	gw := &fakeGateway{subs: map[string]*stripe.Subscription{"sub_1": testSubscription("past_due")}}
	h, as := setupWebhookTest(t, gw)

	checkout := []byte(checkoutCompletedPayload)
	deliver(t, h, checkout, signStripePayload(checkout, webhookTestSecret))

	invoice := []byte(`{
		"id": "evt_3",
		"type": "invoice.payment_failed",
		"data": {"object": {
			"id": "in_1",
			"parent": {"subscription_details": {"subscription": "sub_1"}}
		}}
	}`)
	rec := deliver(t, h, invoice, signStripePayload(invoice, webhookTestSecret))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	account, _ := as.GetByUserID("user_A")
	if account.Status != model.StatusPastDue {
		t.Errorf("status = %q, want past_due", account.Status)
	}
}

func TestWebhookIgnoresUnhandledEventTypes(t *testing.T) {
	gw := &fakeGateway{subs: map[string]*stripe.Subscription{}}
	h, _ := setupWebhookTest(t, gw)

	payload := []byte(`{"id": "evt_4", "type": "invoice.paid", "data": {"object": {"id": "in_2"}}}`)
	rec := deliver(t, h, payload, signStripePayload(payload, webhookTestSecret))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 for ignored event", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte(`"received":true`)) {
		t.Errorf("body = %s, want received:true", rec.Body.String())
	}
}

func TestWebhookSubscriptionEventResolvesByMetadata(t *testing.T) {
	gw := &fakeGateway{subs: map[string]*stripe.Subscription{}}
	h, as := setupWebhookTest(t, gw)

	// No checkout seen (missed delivery) — the event's metadata still
	// resolves and heals the customer linkage.
	payload := []byte(`{
		"id": "evt_5",
		"type": "customer.subscription.created",
		"data": {"object": {
			"id": "sub_9",
			"status": "active",
			"customer": "cus_Z",
			"metadata": {"user_id": "user_B"},
			"items": {"data": [{"id": "si_9", "price": {"id": "price_1"}, "current_period_end": 1790000000}]}
		}}
	}`)
	rec := deliver(t, h, payload, signStripePayload(payload, webhookTestSecret))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	account, _ := as.GetByUserID("user_B")
	if account == nil {
		t.Fatal("expected account resolved from metadata")
	}
	if account.Status != model.StatusActive {
		t.Errorf("status = %q, want active", account.Status)
	}
	if account.StripeCustomerID == nil || *account.StripeCustomerID != "cus_Z" {
		t.Errorf("customer id = %v, want cus_Z (healed from event)", account.StripeCustomerID)
	}
}

func TestWebhookUnresolvableSubscriptionEventIsSkipped(t *testing.T) {
	gw := &fakeGateway{subs: map[string]*stripe.Subscription{}}
	h, as := setupWebhookTest(t, gw)

	payload := subscriptionEventPayload("customer.subscription.updated", "active")
	rec := deliver(t, h, payload, signStripePayload(payload, webhookTestSecret))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 for skipped event", rec.Code)
	}

	accounts, _ := as.ListByEmail("a@b.com")
	if len(accounts) != 0 {
		t.Error("skipped event must not create accounts")
	}
}
