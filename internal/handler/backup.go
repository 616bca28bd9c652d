package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/replypilot/internal/backup"
	"github.com/dukerupert/replypilot/internal/model"
	"github.com/dukerupert/replypilot/internal/store"
)

// BackupHandler exposes the backup manager to operators: status and
// history, on-demand runs, and restores. The whole surface sits behind the
// shared-secret guard.
type BackupHandler struct {
	manager     *backup.Manager
	backupStore *store.BackupStore
	logger      *slog.Logger
}

func NewBackupHandler(m *backup.Manager, bs *store.BackupStore, logger *slog.Logger) *BackupHandler {
	return &BackupHandler{
		manager:     m,
		backupStore: bs,
		logger:      logger,
	}
}

// Status reports the manager state and the most recent backup records.
func (h *BackupHandler) Status(w http.ResponseWriter, r *http.Request) {
	backups, err := h.backupStore.List(20)
	if err != nil {
		h.logger.Error("list backups", "error", err)
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	if backups == nil {
		backups = []model.Backup{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  h.manager.Status(),
		"backups": backups,
	})
}

// Run triggers an immediate backup.
func (h *BackupHandler) Run(w http.ResponseWriter, r *http.Request) {
	if !h.manager.Enabled() {
		writeError(w, http.StatusServiceUnavailable, "backup not configured")
		return
	}

	id, err := h.manager.RunNow(r.Context())
	if err != nil {
		h.logger.Error("on-demand backup", "error", err)
		writeError(w, http.StatusInternalServerError, "backup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": id})
}

// Restore replaces the live database from a stored backup. On success the
// process exits for a supervisor restart, so no response is written.
func (h *BackupHandler) Restore(w http.ResponseWriter, r *http.Request) {
	if !h.manager.Enabled() {
		writeError(w, http.StatusServiceUnavailable, "backup not configured")
		return
	}

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	record, err := h.backupStore.GetByID(id)
	if err != nil {
		h.logger.Error("get backup record", "error", err)
		writeError(w, http.StatusInternalServerError, "restore failed")
		return
	}
	if record == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	if err := h.manager.Restore(r.Context(), id); err != nil {
		h.logger.Error("restore backup", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "restore failed")
		return
	}
}
