package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lotopoints/backend/api/responses"
	"github.com/lotopoints/backend/api/validators"
	"github.com/lotopoints/backend/internal/settlement"
	pkgerrors "github.com/lotopoints/backend/pkg/errors"
	"github.com/lotopoints/backend/pkg/logger"
)

// SettlementRun settles every pending bet against a published result.
// Rerunning after a partial failure is safe; already-settled bets are
// skipped.
func SettlementRun(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
			return
		}
		if _, err := actingAdminID(r); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resultID, err := pathUUID(r, chi.URLParam(r, "resultId"), "result id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		summary, err := svc.Settle(r.Context(), resultID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}

type settlementReverseRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// SettlementReverse undoes a result's settlement, clawing back any credited
// winnings and resetting the affected bets to pending.
func SettlementReverse(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
			return
		}
		if _, err := actingAdminID(r); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resultID, err := pathUUID(r, chi.URLParam(r, "resultId"), "result id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload settlementReverseRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		reversed, err := svc.Reverse(r.Context(), resultID, strings.TrimSpace(payload.Reason))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"result_id":     resultID,
			"reversed_bets": reversed,
		})
	}
}
