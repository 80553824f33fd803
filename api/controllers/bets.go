package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lotopoints/backend/api/responses"
	"github.com/lotopoints/backend/api/validators"
	"github.com/lotopoints/backend/internal/bets"
	"github.com/lotopoints/backend/pkg/db/models"
	"github.com/lotopoints/backend/pkg/enums"
	pkgerrors "github.com/lotopoints/backend/pkg/errors"
	"github.com/lotopoints/backend/pkg/logger"
	"github.com/lotopoints/backend/pkg/pagination"
)

type betPlaceRequest struct {
	Numbers      string  `json:"numbers" validate:"required,numeric"`
	BetType      string  `json:"bet_type" validate:"required"`
	Amount       int64   `json:"amount" validate:"gt=0"`
	ProvinceCode *string `json:"province_code,omitempty"`
}

type betResponse struct {
	ID            uuid.UUID           `json:"id"`
	AccountID     uuid.UUID           `json:"account_id"`
	Numbers       string              `json:"numbers"`
	BetType       enums.BetType       `json:"bet_type"`
	Amount        int64               `json:"amount"`
	ProvinceCode  *string             `json:"province_code,omitempty"`
	Status        enums.BetStatus     `json:"status"`
	WinAmount     int64               `json:"win_amount"`
	PaymentStatus enums.PaymentStatus `json:"payment_status"`
	ResultID      *uuid.UUID          `json:"result_id,omitempty"`
	Hash          string              `json:"hash"`
	CreatedAt     time.Time           `json:"created_at"`
}

func betResponseFromModel(m *models.Bet) betResponse {
	return betResponse{
		ID:            m.ID,
		AccountID:     m.AccountID,
		Numbers:       m.Numbers,
		BetType:       m.BetType,
		Amount:        m.Amount,
		ProvinceCode:  m.ProvinceCode,
		Status:        m.Status,
		WinAmount:     m.WinAmount,
		PaymentStatus: m.PaymentStatus,
		ResultID:      m.ResultID,
		Hash:          m.Hash,
		CreatedAt:     m.CreatedAt,
	}
}

// BetPlace debits the stake and records the bet atomically.
func BetPlace(svc bets.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "bet service unavailable"))
			return
		}

		accountID, err := actingAccountID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload betPlaceRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		betType, err := enums.ParseBetType(strings.TrimSpace(payload.BetType))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid bet type"))
			return
		}

		bet, err := svc.Place(r.Context(), bets.PlaceInput{
			AccountID:    accountID,
			Numbers:      strings.TrimSpace(payload.Numbers),
			BetType:      betType,
			Amount:       payload.Amount,
			ProvinceCode: payload.ProvinceCode,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, betResponseFromModel(bet))
	}
}

// BetDetail returns one bet. Accounts may only read their own bets.
func BetDetail(svc bets.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "bet service unavailable"))
			return
		}

		accountID, err := actingAccountID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		betID, err := pathUUID(r, chi.URLParam(r, "betId"), "bet id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		bet, err := svc.GetBet(r.Context(), betID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if bet.AccountID != accountID {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "bet belongs to another account"))
			return
		}
		responses.WriteSuccess(w, betResponseFromModel(bet))
	}
}

type betListResponse struct {
	Bets       []betResponse `json:"bets"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

// BetList pages through the caller's bets, newest first.
func BetList(svc bets.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "bet service unavailable"))
			return
		}

		accountID, err := actingAccountID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, nextCursor, err := svc.ListByAccount(r.Context(), accountID, pagination.Params{
			Limit:  limit,
			Cursor: r.URL.Query().Get("cursor"),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := betListResponse{
			Bets:       make([]betResponse, 0, len(rows)),
			NextCursor: nextCursor,
		}
		for i := range rows {
			out.Bets = append(out.Bets, betResponseFromModel(&rows[i]))
		}
		responses.WriteSuccess(w, out)
	}
}
