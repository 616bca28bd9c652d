package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dukerupert/replypilot/internal/llm"
	"github.com/dukerupert/replypilot/internal/sanitize"
	"github.com/dukerupert/replypilot/internal/store"
)

// Drafter produces a reply for a validated request. It never fails; the
// generator degrades to canned replies internally.
type Drafter interface {
	Draft(ctx context.Context, req llm.Request) string
}

type GenerateHandler struct {
	drafter    Drafter
	replyStore *store.ReplyStore
	logger     *slog.Logger
}

func NewGenerateHandler(d Drafter, rs *store.ReplyStore, logger *slog.Logger) *GenerateHandler {
	return &GenerateHandler{
		drafter:    d,
		replyStore: rs,
		logger:     logger,
	}
}

type generateRequest struct {
	llm.Request
	UserID string `json:"userId"`
}

// Generate validates the request, sanitizes the quoted email body, and
// proxies to the language model. History is best-effort: a failed insert
// is logged but never costs the user their reply.
func (h *GenerateHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req.Body = sanitize.Body(req.Body)
	if req.Body == "" {
		writeError(w, http.StatusBadRequest, "body is empty after removing quoted content")
		return
	}

	reply := h.drafter.Draft(r.Context(), req.Request)

	if req.UserID != "" {
		if _, err := h.replyStore.Create(req.UserID, req.Subject, req.Body, reply, req.Language, req.Tone); err != nil {
			h.logger.Error("save reply history", "error", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"reply": reply})
}
