package ledger

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lotopoints/backend/pkg/db/models"
	pkgerrors "github.com/lotopoints/backend/pkg/errors"
	"github.com/lotopoints/backend/pkg/logger"
	"github.com/lotopoints/backend/pkg/metrics"
	"github.com/lotopoints/backend/pkg/pagination"
)

// Service exposes the balance primitives every money-moving workflow builds
// on. Debit and Credit are the only paths that mutate a balance; both run a
// single conditional update, never read-modify-write.
type Service interface {
	CreateAccount(ctx context.Context, input CreateAccountInput) (*models.Account, error)
	GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error)
	GetAccountByOwnerRef(ctx context.Context, ownerRef string) (*models.Account, error)
	ListTransactions(ctx context.Context, accountID uuid.UUID, params pagination.Params) ([]models.Transaction, string, error)

	// Debit fails with InsufficientFunds when the balance guard does not
	// hold, or AccountNotFound when the account is missing. Returns the
	// balances before and after the decrement.
	Debit(ctx context.Context, tx *gorm.DB, accountID uuid.UUID, amount int64) (before, after int64, err error)
	// Credit fails only with AccountNotFound. Returns before/after balances.
	Credit(ctx context.Context, tx *gorm.DB, accountID uuid.UUID, amount int64) (before, after int64, err error)
	// ConservationCheck verifies the two-party balance sum is unchanged.
	// A mismatch is an IntegrityViolation and must abort the enclosing
	// transaction.
	ConservationCheck(ctx context.Context, senderBefore, senderAfter, receiverBefore, receiverAfter int64) error
}

// ServiceParams wires the ledger service dependencies.
type ServiceParams struct {
	Accounts     AccountRepository
	Transactions TransactionRepository
	Logger       *logger.Logger
	Metrics      *metrics.LedgerMetrics
}

type service struct {
	accounts AccountRepository
	entries  TransactionRepository
	logg     *logger.Logger
	metrics  *metrics.LedgerMetrics
}

// CreateAccountInput carries the fields needed to open an account.
type CreateAccountInput struct {
	OwnerRef       string `json:"owner_ref" validate:"required"`
	DisplayName    string `json:"display_name" validate:"required"`
	InitialBalance int64  `json:"initial_balance" validate:"gte=0"`
}

// NewService wires a ledger service with the provided repositories.
func NewService(params ServiceParams) (Service, error) {
	if params.Accounts == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "account repository required")
	}
	if params.Transactions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction repository required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &service{
		accounts: params.Accounts,
		entries:  params.Transactions,
		logg:     params.Logger,
		metrics:  params.Metrics,
	}, nil
}

func (s *service) CreateAccount(ctx context.Context, input CreateAccountInput) (*models.Account, error) {
	ownerRef := strings.TrimSpace(input.OwnerRef)
	if ownerRef == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner ref is required")
	}
	if strings.TrimSpace(input.DisplayName) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "display name is required")
	}
	if input.InitialBalance < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "initial balance cannot be negative")
	}

	existing, err := s.accounts.GetByOwnerRef(ctx, ownerRef)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "looking up account")
	}
	if existing != nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "account already exists for owner").
			WithDetails(map[string]any{"owner_ref": ownerRef})
	}

	account := &models.Account{
		OwnerRef:    ownerRef,
		DisplayName: strings.TrimSpace(input.DisplayName),
		Balance:     input.InitialBalance,
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating account")
	}
	return account, nil
}

func (s *service) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading account")
	}
	if account == nil {
		return nil, accountNotFound(id)
	}
	return account, nil
}

func (s *service) GetAccountByOwnerRef(ctx context.Context, ownerRef string) (*models.Account, error) {
	if strings.TrimSpace(ownerRef) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner ref is required")
	}
	account, err := s.accounts.GetByOwnerRef(ctx, ownerRef)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading account")
	}
	if account == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "account not found").
			WithDetails(map[string]any{"owner_ref": ownerRef})
	}
	return account, nil
}

func (s *service) ListTransactions(ctx context.Context, accountID uuid.UUID, params pagination.Params) ([]models.Transaction, string, error) {
	if accountID == uuid.Nil {
		return nil, "", pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	rows, next, err := s.entries.ListByAccount(ctx, accountID, params)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing transactions")
	}
	return rows, next, nil
}

func (s *service) Debit(ctx context.Context, tx *gorm.DB, accountID uuid.UUID, amount int64) (int64, int64, error) {
	if amount <= 0 {
		return 0, 0, pkgerrors.New(pkgerrors.CodeValidation, "debit amount must be positive")
	}
	repo := s.accounts.WithTx(tx)

	after, err := repo.Debit(ctx, accountID, amount)
	if err != nil {
		if err == ErrNoRowsAffected {
			account, lookupErr := repo.GetByID(ctx, accountID)
			if lookupErr != nil {
				return 0, 0, pkgerrors.Wrap(pkgerrors.CodeInternal, lookupErr, "loading account for debit")
			}
			if account == nil {
				return 0, 0, accountNotFound(accountID)
			}
			return 0, 0, pkgerrors.New(pkgerrors.CodeInsufficientFunds, "balance below debit amount").
				WithDetails(map[string]any{
					"account_id": accountID.String(),
					"amount":     amount,
				})
		}
		return 0, 0, err
	}
	// before is derived from the guarded update itself, never from a
	// separate read a concurrent commit could slip between.
	return after + amount, after, nil
}

func (s *service) Credit(ctx context.Context, tx *gorm.DB, accountID uuid.UUID, amount int64) (int64, int64, error) {
	if amount <= 0 {
		return 0, 0, pkgerrors.New(pkgerrors.CodeValidation, "credit amount must be positive")
	}
	repo := s.accounts.WithTx(tx)

	after, err := repo.Credit(ctx, accountID, amount)
	if err != nil {
		if err == ErrNoRowsAffected {
			return 0, 0, accountNotFound(accountID)
		}
		return 0, 0, err
	}
	return after - amount, after, nil
}

func (s *service) ConservationCheck(ctx context.Context, senderBefore, senderAfter, receiverBefore, receiverAfter int64) error {
	if senderBefore+receiverBefore == senderAfter+receiverAfter {
		return nil
	}
	s.metrics.IncIntegrityFailure()
	fields := map[string]any{
		"sender_before":   senderBefore,
		"sender_after":    senderAfter,
		"receiver_before": receiverBefore,
		"receiver_after":  receiverAfter,
	}
	err := pkgerrors.New(pkgerrors.CodeIntegrity, "balance sum changed across transfer").WithDetails(fields)
	s.logg.Error(s.logg.WithFields(ctx, fields), "ledger conservation check failed", err)
	return err
}

func accountNotFound(id uuid.UUID) error {
	return pkgerrors.New(pkgerrors.CodeNotFound, "account not found").
		WithDetails(map[string]any{"account_id": id.String()})
}
