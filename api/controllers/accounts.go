package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lotopoints/backend/api/responses"
	"github.com/lotopoints/backend/api/validators"
	"github.com/lotopoints/backend/internal/ledger"
	"github.com/lotopoints/backend/pkg/db/models"
	"github.com/lotopoints/backend/pkg/enums"
	pkgerrors "github.com/lotopoints/backend/pkg/errors"
	"github.com/lotopoints/backend/pkg/logger"
	"github.com/lotopoints/backend/pkg/pagination"
)

type accountCreateRequest struct {
	OwnerRef       string `json:"owner_ref" validate:"required"`
	DisplayName    string `json:"display_name" validate:"required"`
	InitialBalance int64  `json:"initial_balance" validate:"gte=0"`
}

type accountResponse struct {
	ID          uuid.UUID `json:"id"`
	OwnerRef    string    `json:"owner_ref"`
	DisplayName string    `json:"display_name"`
	Balance     int64     `json:"balance"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func accountResponseFromModel(m *models.Account) accountResponse {
	return accountResponse{
		ID:          m.ID,
		OwnerRef:    m.OwnerRef,
		DisplayName: m.DisplayName,
		Balance:     m.Balance,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

// AccountCreate opens a ledger account, admin only.
func AccountCreate(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}
		if _, err := actingAdminID(r); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload accountCreateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		account, err := svc.CreateAccount(r.Context(), ledger.CreateAccountInput{
			OwnerRef:       strings.TrimSpace(payload.OwnerRef),
			DisplayName:    strings.TrimSpace(payload.DisplayName),
			InitialBalance: payload.InitialBalance,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, accountResponseFromModel(account))
	}
}

// AccountDetail returns one account by id, or by owner_ref when the query
// parameter is present.
func AccountDetail(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}

		accountID, err := pathUUID(r, chi.URLParam(r, "accountId"), "account id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		account, err := svc.GetAccount(r.Context(), accountID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, accountResponseFromModel(account))
	}
}

// AccountLookup resolves an account from its external owner reference.
func AccountLookup(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}

		ownerRef := strings.TrimSpace(r.URL.Query().Get("owner_ref"))
		if ownerRef == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "owner_ref is required"))
			return
		}

		account, err := svc.GetAccountByOwnerRef(r.Context(), ownerRef)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, accountResponseFromModel(account))
	}
}

type transactionResponse struct {
	ID          uuid.UUID               `json:"id"`
	Type        enums.TransactionType   `json:"type"`
	Status      enums.TransactionStatus `json:"status"`
	Amount      int64                   `json:"amount"`
	SenderID    *uuid.UUID              `json:"sender_id,omitempty"`
	ReceiverID  *uuid.UUID              `json:"receiver_id,omitempty"`
	Note        *string                 `json:"note,omitempty"`
	ProcessedBy *uuid.UUID              `json:"processed_by,omitempty"`
	ProcessedAt *time.Time              `json:"processed_at,omitempty"`
	Hash        string                  `json:"hash"`
	CreatedAt   time.Time               `json:"created_at"`
}

func transactionResponseFromModel(m *models.Transaction) transactionResponse {
	return transactionResponse{
		ID:          m.ID,
		Type:        m.Type,
		Status:      m.Status,
		Amount:      m.Amount,
		SenderID:    m.SenderID,
		ReceiverID:  m.ReceiverID,
		Note:        m.Note,
		ProcessedBy: m.ProcessedBy,
		ProcessedAt: m.ProcessedAt,
		Hash:        m.Hash,
		CreatedAt:   m.CreatedAt,
	}
}

type transactionListResponse struct {
	Transactions []transactionResponse `json:"transactions"`
	NextCursor   string                `json:"next_cursor,omitempty"`
}

// AccountTransactions lists an account's ledger history, newest first.
func AccountTransactions(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}

		accountID, err := pathUUID(r, chi.URLParam(r, "accountId"), "account id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, nextCursor, err := svc.ListTransactions(r.Context(), accountID, pagination.Params{
			Limit:  limit,
			Cursor: r.URL.Query().Get("cursor"),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := transactionListResponse{
			Transactions: make([]transactionResponse, 0, len(rows)),
			NextCursor:   nextCursor,
		}
		for i := range rows {
			out.Transactions = append(out.Transactions, transactionResponseFromModel(&rows[i]))
		}
		responses.WriteSuccess(w, out)
	}
}
