package model

import "time"

// Status is a Stripe subscription status as last reported by a webhook
// event or an explicit fetch. StatusNone means no subscription has ever
// been seen for the account.
type Status string

const (
	StatusNone              Status = "none"
	StatusTrialing          Status = "trialing"
	StatusActive            Status = "active"
	StatusPastDue           Status = "past_due"
	StatusCanceled          Status = "canceled"
	StatusUnpaid            Status = "unpaid"
	StatusIncomplete        Status = "incomplete"
	StatusIncompleteExpired Status = "incomplete_expired"
)

// HasAccess is the canonical access gate: only trialing and active
// subscriptions may use the paid feature.
func (s Status) HasAccess() bool {
	return s == StatusTrialing || s == StatusActive
}

// Account is one end user, keyed by the identity provider's subject id.
// The subscription snapshot fields (stripe_subscription_id, status,
// current_period_end, price_id) are always written together from the same
// upstream event.
type Account struct {
	ID                   int64      `json:"id"`
	UserID               string     `json:"user_id"`
	Email                string     `json:"email"`
	StripeCustomerID     *string    `json:"stripe_customer_id"`
	StripeSubscriptionID *string    `json:"stripe_subscription_id"`
	Status               Status     `json:"status"`
	CurrentPeriodEnd     *time.Time `json:"current_period_end"`
	PriceID              *string    `json:"price_id"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// Snapshot is the latest known billing state for an account, applied as a
// single atomic overwrite.
type Snapshot struct {
	SubscriptionID   string
	Status           Status
	CurrentPeriodEnd *time.Time
	PriceID          string
}
