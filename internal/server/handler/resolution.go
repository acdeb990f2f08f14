package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alexander-t-ho/prediction-market-sub001/internal/domain"
	"github.com/alexander-t-ho/prediction-market-sub001/internal/service"
)

// ResolutionService defines the methods that the resolution handler requires
// from the service layer.
type ResolutionService interface {
	Resolve(ctx context.Context, req service.ResolveRequest) (*domain.ResolutionResult, error)
	Preview(ctx context.Context, marketID, winningOutcomeID string) (*domain.ResolutionResult, error)
	GetResolution(ctx context.Context, marketID string) (*domain.ResolutionResult, error)
}

// ResolutionHandler serves the resolve, preview and read endpoints.
type ResolutionHandler struct {
	svc    ResolutionService
	logger *slog.Logger
}

// NewResolutionHandler creates a ResolutionHandler.
func NewResolutionHandler(svc ResolutionService, logger *slog.Logger) *ResolutionHandler {
	return &ResolutionHandler{svc: svc, logger: logHandler(logger, "resolution")}
}

type resolveBody struct {
	WinningOutcomeID string           `json:"winning_outcome_id"`
	ActualValue      *decimal.Decimal `json:"actual_value"`
}

// Resolve commits the resolution of a market.
// POST /api/markets/{id}/resolve
func (h *ResolutionHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	marketID := pathParam(r, "id")
	var body resolveBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.svc.Resolve(r.Context(), service.ResolveRequest{
		MarketID:         marketID,
		WinningOutcomeID: strings.TrimSpace(body.WinningOutcomeID),
		ActualValue:      body.ActualValue,
	})
	h.respond(w, r, "resolve", marketID, result, err)
}

// Preview reports what Resolve would do without writing anything.
// POST /api/markets/{id}/preview
func (h *ResolutionHandler) Preview(w http.ResponseWriter, r *http.Request) {
	marketID := pathParam(r, "id")
	var body resolveBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.svc.Preview(r.Context(), marketID, strings.TrimSpace(body.WinningOutcomeID))
	h.respond(w, r, "preview", marketID, result, err)
}

// GetResolution returns the committed result of a resolved market.
// GET /api/markets/{id}/resolution
func (h *ResolutionHandler) GetResolution(w http.ResponseWriter, r *http.Request) {
	marketID := pathParam(r, "id")
	result, err := h.svc.GetResolution(r.Context(), marketID)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "market "+marketID+" has no committed resolution")
		return
	}
	h.respond(w, r, "get resolution", marketID, result, err)
}

func (h *ResolutionHandler) respond(w http.ResponseWriter, r *http.Request, op, marketID string, result *domain.ResolutionResult, err error) {
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("market", marketID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "settlement failed; the market was not changed")
		return
	}
	writeJSON(w, statusFor(result), result)
}

// statusFor maps a result to its HTTP status: 404 for an unknown market,
// 409 for a market that is already terminal, 422 for any other validation
// error.
func statusFor(result *domain.ResolutionResult) int {
	switch {
	case result.Success:
		return http.StatusOK
	case result.HasError(domain.CodeNotFound):
		return http.StatusNotFound
	case result.HasError(domain.CodeMarketAlreadyTerminal):
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}
