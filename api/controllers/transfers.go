package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lotopoints/backend/api/responses"
	"github.com/lotopoints/backend/api/validators"
	"github.com/lotopoints/backend/internal/transfer"
	"github.com/lotopoints/backend/pkg/db/models"
	pkgerrors "github.com/lotopoints/backend/pkg/errors"
	"github.com/lotopoints/backend/pkg/logger"
)

const idempotencyKeyHeader = "Idempotency-Key"

type transferCreateRequest struct {
	ReceiverID string  `json:"receiver_id" validate:"required"`
	Amount     int64   `json:"amount" validate:"gt=0"`
	Note       *string `json:"note,omitempty"`
}

// TransferCreate moves points between two accounts. The Idempotency-Key
// header is mandatory; a replayed key returns the original outcome.
func TransferCreate(svc transfer.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "transfer service unavailable"))
			return
		}

		senderID, err := actingAccountID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		key := strings.TrimSpace(r.Header.Get(idempotencyKeyHeader))
		if key == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header is required"))
			return
		}

		var payload transferCreateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		receiverID, err := pathUUID(r, strings.TrimSpace(payload.ReceiverID), "receiver id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		outcome, err := svc.Transfer(r.Context(), transfer.TransferInput{
			IdempotencyKey: key,
			SenderID:       senderID,
			ReceiverID:     receiverID,
			Amount:         payload.Amount,
			Note:           payload.Note,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status := http.StatusCreated
		if outcome.Replayed {
			status = http.StatusOK
		}
		responses.WriteSuccessStatus(w, status, outcome)
	}
}

type moneyRequestRequest struct {
	Amount int64   `json:"amount" validate:"gt=0"`
	Note   *string `json:"note,omitempty"`
}

// RequestDeposit files a deposit request for admin review.
func RequestDeposit(svc transfer.Service, logg *logger.Logger) http.HandlerFunc {
	return moneyRequestHandler(svc, logg, svcDeposit)
}

// RequestWithdraw files a withdrawal request for admin review.
func RequestWithdraw(svc transfer.Service, logg *logger.Logger) http.HandlerFunc {
	return moneyRequestHandler(svc, logg, svcWithdraw)
}

type requestKind int

const (
	svcDeposit requestKind = iota
	svcWithdraw
)

func moneyRequestHandler(svc transfer.Service, logg *logger.Logger, kind requestKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "transfer service unavailable"))
			return
		}

		accountID, err := actingAccountID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload moneyRequestRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := transfer.RequestInput{
			AccountID: accountID,
			Amount:    payload.Amount,
			Note:      payload.Note,
		}
		var entry *models.Transaction
		if kind == svcWithdraw {
			entry, err = svc.RequestWithdraw(r.Context(), input)
		} else {
			entry, err = svc.RequestDeposit(r.Context(), input)
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, transactionResponseFromModel(entry))
	}
}

type processRequestRequest struct {
	Approve bool `json:"approve"`
}

// AdminProcessRequest decides one pending deposit or withdrawal.
func AdminProcessRequest(svc transfer.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "transfer service unavailable"))
			return
		}

		adminID, err := actingAdminID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		transactionID, err := pathUUID(r, chi.URLParam(r, "transactionId"), "transaction id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload processRequestRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		entry, err := svc.ProcessRequest(r.Context(), transfer.ProcessInput{
			TransactionID: transactionID,
			AdminID:       adminID,
			Approve:       payload.Approve,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, transactionResponseFromModel(entry))
	}
}

// AdminPendingRequests lists money requests awaiting a decision.
func AdminPendingRequests(svc transfer.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "transfer service unavailable"))
			return
		}
		if _, err := actingAdminID(r); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 200)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, err := svc.ListPendingRequests(r.Context(), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]transactionResponse, 0, len(rows))
		for i := range rows {
			out = append(out, transactionResponseFromModel(&rows[i]))
		}
		responses.WriteSuccess(w, out)
	}
}
