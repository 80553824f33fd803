package bets

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lotopoints/backend/internal/ledger"
	"github.com/lotopoints/backend/pkg/db/models"
	"github.com/lotopoints/backend/pkg/enums"
	pkgerrors "github.com/lotopoints/backend/pkg/errors"
	"github.com/lotopoints/backend/pkg/logger"
	"github.com/lotopoints/backend/pkg/outbox"
	"github.com/lotopoints/backend/pkg/outbox/payloads"
	"github.com/lotopoints/backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service accepts stakes. The stake debit and the bet row commit in one
// transaction: a bet row can never exist without its money having moved.
type Service interface {
	Place(ctx context.Context, input PlaceInput) (*models.Bet, error)
	GetBet(ctx context.Context, id uuid.UUID) (*models.Bet, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID, params pagination.Params) ([]models.Bet, string, error)
}

// ServiceParams wires the bet service dependencies.
type ServiceParams struct {
	Repo         Repository
	Ledger       ledger.Service
	Transactions ledger.TransactionRepository
	TxRunner     txRunner
	Outbox       outboxPublisher
	Logger       *logger.Logger
}

type service struct {
	repo    Repository
	ledger  ledger.Service
	entries ledger.TransactionRepository
	tx      txRunner
	outbox  outboxPublisher
	logg    *logger.Logger
}

// PlaceInput describes a stake on a number.
type PlaceInput struct {
	AccountID    uuid.UUID     `json:"account_id" validate:"required"`
	Numbers      string        `json:"numbers" validate:"required,numeric"`
	BetType      enums.BetType `json:"bet_type" validate:"required"`
	Amount       int64         `json:"amount" validate:"gt=0"`
	ProvinceCode *string       `json:"province_code,omitempty"`
}

// NewService wires a bet service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "bet repository required")
	}
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger service required")
	}
	if params.Transactions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction repository required")
	}
	if params.TxRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox publisher required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &service{
		repo:    params.Repo,
		ledger:  params.Ledger,
		entries: params.Transactions,
		tx:      params.TxRunner,
		outbox:  params.Outbox,
		logg:    params.Logger,
	}, nil
}

func (s *service) Place(ctx context.Context, input PlaceInput) (*models.Bet, error) {
	bet, err := models.NewBet(input.AccountID, input.Numbers, input.BetType, input.Amount, input.ProvinceCode, time.Now().UTC())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid bet")
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		before, after, err := s.ledger.Debit(ctx, tx, bet.AccountID, bet.Amount)
		if err != nil {
			return err
		}
		if err := s.repo.WithTx(tx).Create(ctx, bet); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating bet")
		}

		accountID := bet.AccountID
		entry, err := models.NewTransaction(enums.TransactionTypeBet, bet.Amount, &accountID, nil, bet.CreatedAt)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "building stake entry")
		}
		entry.Status = enums.TransactionStatusCompleted
		entry.SenderBalanceBefore = &before
		entry.SenderBalanceAfter = &after
		if err := s.entries.WithTx(tx).Create(ctx, entry); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording stake")
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventBetPlaced,
			AggregateType: enums.AggregateBet,
			AggregateID:   bet.ID,
			Actor:         &outbox.ActorRef{AccountID: &accountID},
			Data: payloads.BetPlacedEvent{
				BetID:        bet.ID,
				AccountID:    bet.AccountID,
				BetType:      bet.BetType,
				Numbers:      bet.Numbers,
				Amount:       bet.Amount,
				ProvinceCode: bet.ProvinceCode,
				Hash:         bet.Hash,
			},
			Version: 1,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"bet_id":     bet.ID.String(),
		"account_id": bet.AccountID.String(),
		"bet_type":   bet.BetType,
		"amount":     bet.Amount,
	}), "bet placed")
	return bet, nil
}

func (s *service) GetBet(ctx context.Context, id uuid.UUID) (*models.Bet, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "bet id is required")
	}
	bet, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading bet")
	}
	if bet == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "bet not found").
			WithDetails(map[string]any{"bet_id": id.String()})
	}
	return bet, nil
}

func (s *service) ListByAccount(ctx context.Context, accountID uuid.UUID, params pagination.Params) ([]models.Bet, string, error) {
	if accountID == uuid.Nil {
		return nil, "", pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	rows, next, err := s.repo.ListByAccount(ctx, accountID, params)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing bets")
	}
	return rows, next, nil
}
