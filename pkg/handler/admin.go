package handler

import "net/http"

type cleanupResponse struct {
	Status                 string `json:"status"`
	RequestedBy            string `json:"requested_by"`
	StaleUploadsDeleted    int    `json:"stale_uploads_deleted"`
	IdempotencyRowsDeleted int    `json:"idempotency_rows_deleted"`
	StorageKeysDeleted     int    `json:"storage_keys_deleted"`
}

// adminCleanup runs the maintenance sweep synchronously. Admin only.
func (h *Handler) adminCleanup(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())
	if !principal.IsAdmin {
		h.writeError(w, r, ErrForbidden.WithDetail("admin privileges required"), "")
		return
	}

	stats, err := h.sweeper.RunOnce(r.Context())
	if err != nil {
		h.writeError(w, r, err, "")
		return
	}
	h.writeJSON(w, http.StatusOK, cleanupResponse{
		Status:                 "ok",
		RequestedBy:            principal.UserID,
		StaleUploadsDeleted:    stats.StaleUploadsDeleted,
		IdempotencyRowsDeleted: stats.IdempotencyRowsDeleted,
		StorageKeysDeleted:     stats.StorageKeysDeleted,
	})
}
