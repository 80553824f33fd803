package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lotopoints/backend/api/responses"
	"github.com/lotopoints/backend/api/validators"
	"github.com/lotopoints/backend/internal/payout"
	"github.com/lotopoints/backend/pkg/db/models"
	"github.com/lotopoints/backend/pkg/enums"
	pkgerrors "github.com/lotopoints/backend/pkg/errors"
	"github.com/lotopoints/backend/pkg/logger"
)

type payoutDecisionRequest struct {
	Note *string `json:"note,omitempty"`
}

func payoutDecisionHandler(
	svc payout.Service,
	logg *logger.Logger,
	decide func(r *http.Request, input payout.DecisionInput) (*payout.Outcome, error),
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payout service unavailable"))
			return
		}

		adminID, err := actingAdminID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		betID, err := pathUUID(r, chi.URLParam(r, "betId"), "bet id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload payoutDecisionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		outcome, err := decide(r, payout.DecisionInput{
			BetID:   betID,
			AdminID: adminID,
			Note:    payload.Note,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, outcome)
	}
}

// PayoutApprove credits a winning bet's payout. This is the single point
// where winnings reach the ledger; retries replay the original outcome.
func PayoutApprove(svc payout.Service, logg *logger.Logger) http.HandlerFunc {
	return payoutDecisionHandler(svc, logg, func(r *http.Request, input payout.DecisionInput) (*payout.Outcome, error) {
		return svc.Approve(r.Context(), input)
	})
}

// PayoutReject declines a winning bet's payout. A note is mandatory.
func PayoutReject(svc payout.Service, logg *logger.Logger) http.HandlerFunc {
	return payoutDecisionHandler(svc, logg, func(r *http.Request, input payout.DecisionInput) (*payout.Outcome, error) {
		return svc.Reject(r.Context(), input)
	})
}

// PayoutConfirm records the second-admin attestation on an approved payout.
func PayoutConfirm(svc payout.Service, logg *logger.Logger) http.HandlerFunc {
	return payoutDecisionHandler(svc, logg, func(r *http.Request, input payout.DecisionInput) (*payout.Outcome, error) {
		return svc.DoubleConfirm(r.Context(), input)
	})
}

type payoutRequestCreateRequest struct {
	BetIDs []string `json:"bet_ids" validate:"required,min=1"`
	Note   *string  `json:"note,omitempty"`
}

type payoutRequestResponse struct {
	ID          uuid.UUID                 `json:"id"`
	BetIDs      []uuid.UUID               `json:"bet_ids"`
	Status      enums.PayoutRequestStatus `json:"status"`
	Note        *string                   `json:"note,omitempty"`
	ProcessedBy *uuid.UUID                `json:"processed_by,omitempty"`
	ProcessedAt *time.Time                `json:"processed_at,omitempty"`
	CreatedAt   time.Time                 `json:"created_at"`
}

func payoutRequestResponseFromModel(m *models.PayoutRequest) payoutRequestResponse {
	return payoutRequestResponse{
		ID:          m.ID,
		BetIDs:      []uuid.UUID(m.BetIDs),
		Status:      m.Status,
		Note:        m.Note,
		ProcessedBy: m.ProcessedBy,
		ProcessedAt: m.ProcessedAt,
		CreatedAt:   m.CreatedAt,
	}
}

// PayoutRequestCreate batches winning bets into one approval request.
func PayoutRequestCreate(svc payout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payout service unavailable"))
			return
		}
		if _, err := actingAdminID(r); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload payoutRequestCreateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		betIDs := make([]uuid.UUID, 0, len(payload.BetIDs))
		for _, raw := range payload.BetIDs {
			id, err := pathUUID(r, strings.TrimSpace(raw), "bet id")
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			betIDs = append(betIDs, id)
		}

		request, err := svc.CreateRequest(r.Context(), payout.CreateRequestInput{
			BetIDs: betIDs,
			Note:   payload.Note,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, payoutRequestResponseFromModel(request))
	}
}

type payoutRequestProcessRequest struct {
	Approve bool    `json:"approve"`
	Note    *string `json:"note,omitempty"`
}

// PayoutRequestProcess decides a whole payout request in one transaction.
func PayoutRequestProcess(svc payout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payout service unavailable"))
			return
		}

		adminID, err := actingAdminID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		requestID, err := pathUUID(r, chi.URLParam(r, "requestId"), "request id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload payoutRequestProcessRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		outcome, err := svc.ProcessRequest(r.Context(), payout.ProcessRequestInput{
			RequestID: requestID,
			AdminID:   adminID,
			Approve:   payload.Approve,
			Note:      payload.Note,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, outcome)
	}
}

// PayoutRequestList pages payout requests by status.
func PayoutRequestList(svc payout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payout service unavailable"))
			return
		}
		if _, err := actingAdminID(r); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status := enums.PayoutRequestStatus(strings.TrimSpace(r.URL.Query().Get("status")))
		if status == "" {
			status = enums.PayoutRequestStatusPending
		}
		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 200)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, err := svc.ListRequests(r.Context(), status, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]payoutRequestResponse, 0, len(rows))
		for i := range rows {
			out = append(out, payoutRequestResponseFromModel(&rows[i]))
		}
		responses.WriteSuccess(w, out)
	}
}
