package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/replypilot/internal/signature"
	"github.com/dukerupert/replypilot/internal/store"
)

// GmailStatusHandler serves the Gmail add-on's subscription check. The
// add-on runs in Google's script host with no session cookies, so each
// request carries a timestamped HMAC (internal/signature) instead.
type GmailStatusHandler struct {
	accountStore *store.AccountStore
	secret       string
	logger       *slog.Logger
}

func NewGmailStatusHandler(as *store.AccountStore, secret string, logger *slog.Logger) *GmailStatusHandler {
	return &GmailStatusHandler{
		accountStore: as,
		secret:       secret,
		logger:       logger,
	}
}

type gmailStatusRequest struct {
	Email string `json:"email"`
	TS    string `json:"ts"`
	Sig   string `json:"sig"`
}

type gmailStatusResponse struct {
	Active   bool     `json:"active"`
	Statuses []string `json:"statuses"`
}

// Status verifies the request signature and reports every stored status for
// the email (emails are not unique per account). The access gate is the
// same canonical predicate used everywhere: trialing or active.
func (h *GmailStatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	var req gmailStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	if !signature.Verify(req.Email, req.TS, req.Sig, h.secret, time.Now()) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	accounts, err := h.accountStore.ListByEmail(req.Email)
	if err != nil {
		h.logger.Error("gmail status lookup", "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	resp := gmailStatusResponse{Statuses: []string{}}
	for _, a := range accounts {
		resp.Statuses = append(resp.Statuses, string(a.Status))
		if a.Status.HasAccess() {
			resp.Active = true
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
