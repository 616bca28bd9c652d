package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/replypilot/internal/model"
	"github.com/dukerupert/replypilot/internal/store"
)

type HistoryHandler struct {
	replyStore *store.ReplyStore
	logger     *slog.Logger
}

func NewHistoryHandler(rs *store.ReplyStore, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{replyStore: rs, logger: logger}
}

// List returns the user's reply history, newest first.
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	replies, err := h.replyStore.ListByUser(userID, 50)
	if err != nil {
		h.logger.Error("list history", "error", err)
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	if replies == nil {
		replies = []model.Reply{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": replies})
}

// Delete removes one history row, scoped to its owner. A row that doesn't
// exist or belongs to someone else is the same 404.
func (h *HistoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	deleted, err := h.replyStore.Delete(id, userID)
	if err != nil {
		h.logger.Error("delete history row", "error", err)
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Clear removes the user's entire history.
func (h *HistoryHandler) Clear(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	n, err := h.replyStore.DeleteAllByUser(userID)
	if err != nil {
		h.logger.Error("clear history", "error", err)
		writeError(w, http.StatusInternalServerError, "clear failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "deleted": n})
}
