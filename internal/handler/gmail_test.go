package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dukerupert/replypilot/internal/database"
	"github.com/dukerupert/replypilot/internal/model"
	"github.com/dukerupert/replypilot/internal/signature"
	"github.com/dukerupert/replypilot/internal/store"
)

const gmailTestSecret = "addon-secret"

func setupGmailTest(t *testing.T) (*GmailStatusHandler, *store.AccountStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	as := store.NewAccountStore(db)
	return NewGmailStatusHandler(as, gmailTestSecret, discardLogger()), as
}

func signedGmailBody(email string) string {
	ts := fmt.Sprintf("%d", time.Now().Unix())
	sig := signature.Sign(email, ts, gmailTestSecret)
	return fmt.Sprintf(`{"email": %q, "ts": %q, "sig": %q}`, email, ts, sig)
}

func postGmailStatus(t *testing.T, h *GmailStatusHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Status(rec, httptest.NewRequest("POST", "/gmail/status", strings.NewReader(body)))
	return rec
}

func TestGmailStatusRejectsBadSignature(t *testing.T) {
	h, _ := setupGmailTest(t)

	ts := fmt.Sprintf("%d", time.Now().Unix())
	sig := signature.Sign("other@b.com", ts, gmailTestSecret)
	body := fmt.Sprintf(`{"email": "a@b.com", "ts": %q, "sig": %q}`, ts, sig)

	rec := postGmailStatus(t, h, body)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 for signature over a different email", rec.Code)
	}
}

func TestGmailStatusRejectsStaleTimestamp(t *testing.T) {
	h, _ := setupGmailTest(t)

	ts := fmt.Sprintf("%d", time.Now().Add(-10*time.Minute).Unix())
	sig := signature.Sign("a@b.com", ts, gmailTestSecret)
	body := fmt.Sprintf(`{"email": "a@b.com", "ts": %q, "sig": %q}`, ts, sig)

	rec := postGmailStatus(t, h, body)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 for stale timestamp", rec.Code)
	}
}

func TestGmailStatusUnknownEmail(t *testing.T) {
	h, _ := setupGmailTest(t)

	rec := postGmailStatus(t, h, signedGmailBody("nobody@b.com"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp gmailStatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Active {
		t.Error("unknown email must not be active")
	}
	if resp.Statuses == nil || len(resp.Statuses) != 0 {
		t.Errorf("statuses = %v, want empty array", resp.Statuses)
	}
}

func TestGmailStatusAggregatesAccounts(t *testing.T) {
	h, as := setupGmailTest(t)

	a1, _ := as.Create("user_1", "a@b.com")
	as.SetSubscriptionSnapshot(a1.ID, model.Snapshot{SubscriptionID: "sub_1", Status: model.StatusCanceled})
	a2, _ := as.Create("user_2", "a@b.com")
	as.SetSubscriptionSnapshot(a2.ID, model.Snapshot{SubscriptionID: "sub_2", Status: model.StatusTrialing})

	rec := postGmailStatus(t, h, signedGmailBody("a@b.com"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp gmailStatusResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if !resp.Active {
		t.Error("one trialing account should grant access")
	}
	if len(resp.Statuses) != 2 {
		t.Errorf("statuses = %v, want both accounts reported", resp.Statuses)
	}
}
