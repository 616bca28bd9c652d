// Package stripe wraps the Stripe SDK operations the service needs:
// checkout/portal session issuing, customer resolution by email,
// subscription reads and cancellation, and webhook signature verification.
package stripe

import (
	"errors"
	"fmt"

	stripe "github.com/stripe/stripe-go/v82"
	bpsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checksession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"
)

// ErrNoCustomer is returned when no Stripe customer matches an email.
// Handlers map it to a 404, distinct from transport failures.
var ErrNoCustomer = errors.New("no stripe customer for email")

// ErrNoActiveSubscription is returned when a customer exists but has no
// active or trialing subscription to act on.
var ErrNoActiveSubscription = errors.New("no active subscription")

type Config struct {
	SecretKey     string
	WebhookSecret string
	PriceID       string
	SuccessURL    string
	CancelURL     string
}

type Client struct {
	cfg Config
}

func NewClient(cfg Config) *Client {
	stripe.Key = cfg.SecretKey
	return &Client{cfg: cfg}
}

// CreateCheckoutSession creates a subscription-mode checkout session for the
// configured price and returns the hosted URL. clientReferenceID carries the
// account's user id so the completed-checkout webhook can link it back, and
// the same id is stamped into the subscription's metadata.
func (c *Client) CreateCheckoutSession(email, clientReferenceID, successURL, cancelURL string) (string, error) {
	if c.cfg.PriceID == "" {
		return "", fmt.Errorf("create checkout session: no price id configured")
	}
	if successURL == "" {
		successURL = c.cfg.SuccessURL
	}
	if cancelURL == "" {
		cancelURL = c.cfg.CancelURL
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		CustomerEmail:     stripe.String(email),
		ClientReferenceID: stripe.String(clientReferenceID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(c.cfg.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{"user_id": clientReferenceID},
		},
		AllowPromotionCodes: stripe.Bool(true),
		SuccessURL:          stripe.String(successURL),
		CancelURL:           stripe.String(cancelURL),
	}
	sess, err := checksession.New(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	return sess.URL, nil
}

// FindCustomerByEmail resolves a Stripe customer by exact email match,
// falling back to the search API. Returns ErrNoCustomer when nothing matches.
func (c *Client) FindCustomerByEmail(email string) (*stripe.Customer, error) {
	listParams := &stripe.CustomerListParams{Email: stripe.String(email)}
	listParams.Limit = stripe.Int64(1)
	it := customer.List(listParams)
	for it.Next() {
		return it.Customer(), nil
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}

	searchParams := &stripe.CustomerSearchParams{
		SearchParams: stripe.SearchParams{Query: fmt.Sprintf("email:%q", email)},
	}
	sit := customer.Search(searchParams)
	for sit.Next() {
		return sit.Customer(), nil
	}
	if err := sit.Err(); err != nil {
		return nil, fmt.Errorf("search customers: %w", err)
	}

	return nil, ErrNoCustomer
}

// CreateBillingPortalSession returns the hosted billing portal URL for the
// customer.
func (c *Client) CreateBillingPortalSession(customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	sess, err := bpsession.New(params)
	if err != nil {
		return "", fmt.Errorf("create billing portal session: %w", err)
	}
	return sess.URL, nil
}

// GetSubscription fetches a subscription by id.
func (c *Client) GetSubscription(id string) (*stripe.Subscription, error) {
	sub, err := subscription.Get(id, nil)
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return sub, nil
}

// FindCurrentSubscription returns the customer's active or trialing
// subscription, or ErrNoActiveSubscription.
func (c *Client) FindCurrentSubscription(customerID string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String("all"),
	}
	it := subscription.List(params)
	for it.Next() {
		sub := it.Subscription()
		if sub.Status == stripe.SubscriptionStatusActive || sub.Status == stripe.SubscriptionStatusTrialing {
			return sub, nil
		}
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return nil, ErrNoActiveSubscription
}

// CancelSubscription cancels immediately or flags cancel-at-period-end.
func (c *Client) CancelSubscription(id string, atPeriodEnd bool) (*stripe.Subscription, error) {
	if atPeriodEnd {
		sub, err := subscription.Update(id, &stripe.SubscriptionParams{
			CancelAtPeriodEnd: stripe.Bool(true),
		})
		if err != nil {
			return nil, fmt.Errorf("schedule cancellation: %w", err)
		}
		return sub, nil
	}
	sub, err := subscription.Cancel(id, nil)
	if err != nil {
		return nil, fmt.Errorf("cancel subscription: %w", err)
	}
	return sub, nil
}

// ConstructWebhookEvent verifies the provider signature over the raw body
// and returns the parsed event. Verification always precedes processing.
func (c *Client) ConstructWebhookEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	return webhook.ConstructEventWithOptions(payload, sigHeader, c.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
}
