package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alexander-t-ho/prediction-market-sub001/internal/domain"
)

// AuditLog is the read side of the audit store.
type AuditLog interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
	ListForMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// AuditHandler exposes the audit trail of resolutions.
type AuditHandler struct {
	audit  AuditLog
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(audit AuditLog, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, logger: logHandler(logger, "audit")}
}

type auditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt string         `json:"created_at"`
}

type listAuditResponse struct {
	Entries []auditEntry `json:"entries"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
}

// ListAudit returns audit entries, newest first.
// GET /api/audit?market_id=&limit=50&offset=0&since=&until=
func (h *AuditHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var entries []domain.AuditEntry
	if marketID := r.URL.Query().Get("market_id"); marketID != "" {
		entries, err = h.audit.ListForMarket(r.Context(), marketID, opts)
	} else {
		entries, err = h.audit.List(r.Context(), opts)
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}

	out := listAuditResponse{Entries: make([]auditEntry, 0, len(entries)), Limit: opts.Limit, Offset: opts.Offset}
	for _, e := range entries {
		out.Entries = append(out.Entries, auditEntry{
			ID:        e.ID,
			Event:     e.Event,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		})
	}
	writeJSON(w, http.StatusOK, out)
}
