package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/replypilot/internal/model"
)

type AccountStore struct {
	db *sql.DB
}

func NewAccountStore(db *sql.DB) *AccountStore {
	return &AccountStore{db: db}
}

func scanAccount(scanner interface{ Scan(...any) error }) (*model.Account, error) {
	var a model.Account
	var customerID, subscriptionID, priceID sql.NullString
	var periodEnd sql.NullTime
	err := scanner.Scan(
		&a.ID, &a.UserID, &a.Email, &customerID, &subscriptionID,
		&a.Status, &periodEnd, &priceID, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if customerID.Valid {
		a.StripeCustomerID = &customerID.String
	}
	if subscriptionID.Valid {
		a.StripeSubscriptionID = &subscriptionID.String
	}
	if periodEnd.Valid {
		a.CurrentPeriodEnd = &periodEnd.Time
	}
	if priceID.Valid {
		a.PriceID = &priceID.String
	}
	return &a, nil
}

const accountCols = `id, user_id, email, stripe_customer_id, stripe_subscription_id, status, current_period_end, price_id, created_at, updated_at`

func (s *AccountStore) Create(userID, email string) (*model.Account, error) {
	result, err := s.db.Exec(
		`INSERT INTO accounts (user_id, email) VALUES (?, ?)`,
		userID, email,
	)
	if err != nil {
		return nil, fmt.Errorf("insert account: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

// CreateIfMissing returns the account for userID, creating it first if it has
// never been seen. Webhook processing calls this so that an account missing
// from the store never fails an event.
func (s *AccountStore) CreateIfMissing(userID, email string) (*model.Account, error) {
	a, err := s.GetByUserID(userID)
	if err != nil {
		return nil, err
	}
	if a != nil {
		return a, nil
	}
	return s.Create(userID, email)
}

func (s *AccountStore) GetByID(id int64) (*model.Account, error) {
	row := s.db.QueryRow(`SELECT `+accountCols+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

func (s *AccountStore) GetByUserID(userID string) (*model.Account, error) {
	row := s.db.QueryRow(`SELECT `+accountCols+` FROM accounts WHERE user_id = ?`, userID)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account by user id: %w", err)
	}
	return a, nil
}

// GetByEmail returns the most recently updated account for the email.
// Emails are not unique at the payments provider, so ListByEmail exists for
// callers that need every match.
func (s *AccountStore) GetByEmail(email string) (*model.Account, error) {
	row := s.db.QueryRow(
		`SELECT `+accountCols+` FROM accounts WHERE email = ? ORDER BY updated_at DESC LIMIT 1`,
		email,
	)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account by email: %w", err)
	}
	return a, nil
}

func (s *AccountStore) ListByEmail(email string) ([]model.Account, error) {
	rows, err := s.db.Query(
		`SELECT `+accountCols+` FROM accounts WHERE email = ? ORDER BY updated_at DESC`,
		email,
	)
	if err != nil {
		return nil, fmt.Errorf("list accounts by email: %w", err)
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

func (s *AccountStore) GetByStripeCustomerID(customerID string) (*model.Account, error) {
	row := s.db.QueryRow(`SELECT `+accountCols+` FROM accounts WHERE stripe_customer_id = ?`, customerID)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account by stripe customer id: %w", err)
	}
	return a, nil
}

func (s *AccountStore) LinkStripeCustomer(id int64, customerID string) error {
	_, err := s.db.Exec(
		`UPDATE accounts SET stripe_customer_id = ?, updated_at = ? WHERE id = ?`,
		customerID, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("link stripe customer: %w", err)
	}
	return nil
}

// SetSubscriptionSnapshot overwrites all snapshot fields in one statement.
// Every webhook transition goes through here, which is what makes event
// replay and out-of-order delivery safe: the write carries no deltas.
func (s *AccountStore) SetSubscriptionSnapshot(id int64, snap model.Snapshot) error {
	var periodEnd sql.NullTime
	if snap.CurrentPeriodEnd != nil {
		periodEnd = sql.NullTime{Time: *snap.CurrentPeriodEnd, Valid: true}
	}
	var priceID sql.NullString
	if snap.PriceID != "" {
		priceID = sql.NullString{String: snap.PriceID, Valid: true}
	}
	_, err := s.db.Exec(
		`UPDATE accounts
		 SET stripe_subscription_id = ?, status = ?, current_period_end = ?, price_id = ?, updated_at = ?
		 WHERE id = ?`,
		snap.SubscriptionID, snap.Status, periodEnd, priceID, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("set subscription snapshot: %w", err)
	}
	return nil
}

func (s *AccountStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return nil
}
