package payout

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lotopoints/backend/internal/bets"
	"github.com/lotopoints/backend/internal/idempotency"
	"github.com/lotopoints/backend/internal/ledger"
	"github.com/lotopoints/backend/pkg/db/models"
	dbtypes "github.com/lotopoints/backend/pkg/db/types"
	"github.com/lotopoints/backend/pkg/enums"
	pkgerrors "github.com/lotopoints/backend/pkg/errors"
	"github.com/lotopoints/backend/pkg/logger"
	"github.com/lotopoints/backend/pkg/metrics"
	"github.com/lotopoints/backend/pkg/outbox"
	"github.com/lotopoints/backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type requestGuard interface {
	Run(ctx context.Context, scope, key string, fn func(ctx context.Context) (any, error)) (*idempotency.Result, error)
}

const (
	guardScopeApprove = "payout.approve"
	guardScopeRequest = "payout.request"
)

// Service is the payout approval state machine. Approval is the single point
// where winnings reach the ledger; double-confirmation is an attestation by
// a second admin and moves no money.
type Service interface {
	Approve(ctx context.Context, input DecisionInput) (*Outcome, error)
	Reject(ctx context.Context, input DecisionInput) (*Outcome, error)
	DoubleConfirm(ctx context.Context, input DecisionInput) (*Outcome, error)

	CreateRequest(ctx context.Context, input CreateRequestInput) (*models.PayoutRequest, error)
	ProcessRequest(ctx context.Context, input ProcessRequestInput) (*BatchOutcome, error)
	ListRequests(ctx context.Context, status enums.PayoutRequestStatus, limit int) ([]models.PayoutRequest, error)
}

// ServiceParams wires the payout service dependencies.
type ServiceParams struct {
	Repo         Repository
	Bets         bets.Repository
	Ledger       ledger.Service
	Transactions ledger.TransactionRepository
	TxRunner     txRunner
	Guard        requestGuard
	Outbox       outboxPublisher
	Logger       *logger.Logger
	Metrics      *metrics.LedgerMetrics
}

type service struct {
	repo    Repository
	bets    bets.Repository
	ledger  ledger.Service
	entries ledger.TransactionRepository
	tx      txRunner
	guard   requestGuard
	outbox  outboxPublisher
	logg    *logger.Logger
	metrics *metrics.LedgerMetrics
}

// DecisionInput identifies one bet and the admin deciding it.
type DecisionInput struct {
	BetID   uuid.UUID `json:"bet_id" validate:"required"`
	AdminID uuid.UUID `json:"admin_id" validate:"required"`
	Note    *string   `json:"note,omitempty"`
}

// CreateRequestInput batches winning bets into one approval request.
type CreateRequestInput struct {
	BetIDs []uuid.UUID `json:"bet_ids" validate:"required,min=1"`
	Note   *string     `json:"note,omitempty"`
}

// ProcessRequestInput is an admin decision on a whole batch.
type ProcessRequestInput struct {
	RequestID uuid.UUID `json:"request_id" validate:"required"`
	AdminID   uuid.UUID `json:"admin_id" validate:"required"`
	Approve   bool      `json:"approve"`
	Note      *string   `json:"note,omitempty"`
}

// Outcome is one bet's decision result.
type Outcome struct {
	BetID        uuid.UUID           `json:"bet_id"`
	AccountID    uuid.UUID           `json:"account_id"`
	Status       enums.PaymentStatus `json:"status"`
	WinAmount    int64               `json:"win_amount"`
	BalanceAfter int64               `json:"balance_after,omitempty"`
	Replayed     bool                `json:"-"`
}

// BatchOutcome aggregates a processed payout request.
type BatchOutcome struct {
	RequestID uuid.UUID                 `json:"request_id"`
	Status    enums.PayoutRequestStatus `json:"status"`
	Decided   []Outcome                 `json:"decided"`
	// Skipped lists bets that were no longer in a decidable state.
	Skipped  []uuid.UUID `json:"skipped,omitempty"`
	Replayed bool        `json:"-"`
}

// NewService wires a payout service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payout repository required")
	}
	if params.Bets == nil {
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
	if params.Guard == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox publisher required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &service{
		repo:    params.Repo,
		bets:    params.Bets,
		ledger:  params.Ledger,
		entries: params.Transactions,
		tx:      params.TxRunner,
		guard:   params.Guard,
		outbox:  params.Outbox,
		logg:    params.Logger,
		metrics: params.Metrics,
	}, nil
}

func (s *service) Approve(ctx context.Context, input DecisionInput) (*Outcome, error) {
	if err := validateDecision(input); err != nil {
		return nil, err
	}

	result, err := s.guard.Run(ctx, guardScopeApprove, input.BetID.String(), func(ctx context.Context) (any, error) {
		var outcome *Outcome
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			decided, err := s.approveInTx(ctx, tx, input)
			if err != nil {
				return err
			}
			outcome = decided
			return nil
		})
		return outcome, err
	})
	if err != nil {
		return nil, err
	}
	return decodeOutcome(result)
}

// approveInTx performs the one ledger credit of a winning bet. The state
// transition and the credit commit together or not at all.
func (s *service) approveInTx(ctx context.Context, tx *gorm.DB, input DecisionInput) (*Outcome, error) {
	bet, err := s.loadBet(ctx, input.BetID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	affected, err := s.repo.WithTx(tx).Approve(ctx, bet.ID, input.AdminID, input.Note, now)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "approving payout")
	}
	if affected == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "bet is not awaiting approval").
			WithDetails(map[string]any{"bet_id": bet.ID.String(), "payment_status": bet.PaymentStatus})
	}

	_, after, err := s.ledger.Credit(ctx, tx, bet.AccountID, bet.WinAmount)
	if err != nil {
		return nil, err
	}
	if err := s.recordWinEntry(ctx, tx, bet, after); err != nil {
		return nil, err
	}
	if err := s.emitDecision(ctx, tx, bet, input.AdminID, enums.EventPayoutApproved, enums.PaymentStatusApproved, input.Note, now); err != nil {
		return nil, err
	}

	s.metrics.IncPayoutDecision("approved")
	return &Outcome{
		BetID:        bet.ID,
		AccountID:    bet.AccountID,
		Status:       enums.PaymentStatusApproved,
		WinAmount:    bet.WinAmount,
		BalanceAfter: after,
	}, nil
}

func (s *service) Reject(ctx context.Context, input DecisionInput) (*Outcome, error) {
	if err := validateDecision(input); err != nil {
		return nil, err
	}
	if input.Note == nil || strings.TrimSpace(*input.Note) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "rejection requires a note")
	}

	bet, err := s.loadBet(ctx, input.BetID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var outcome *Outcome
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		affected, err := s.repo.WithTx(tx).Reject(ctx, bet.ID, input.AdminID, input.Note, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "rejecting payout")
		}
		if affected == 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "bet is not awaiting approval").
				WithDetails(map[string]any{"bet_id": bet.ID.String(), "payment_status": bet.PaymentStatus})
		}
		if err := s.emitDecision(ctx, tx, bet, input.AdminID, enums.EventPayoutRejected, enums.PaymentStatusRejected, input.Note, now); err != nil {
			return err
		}
		outcome = &Outcome{
			BetID:     bet.ID,
			AccountID: bet.AccountID,
			Status:    enums.PaymentStatusRejected,
			WinAmount: bet.WinAmount,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncPayoutDecision("rejected")
	return outcome, nil
}

func (s *service) DoubleConfirm(ctx context.Context, input DecisionInput) (*Outcome, error) {
	if err := validateDecision(input); err != nil {
		return nil, err
	}

	bet, err := s.loadBet(ctx, input.BetID)
	if err != nil {
		return nil, err
	}
	// Dual control: the confirming admin must differ from the approver.
	if bet.ApprovedBy != nil && *bet.ApprovedBy == input.AdminID {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "confirming admin must differ from approver").
			WithDetails(map[string]any{"bet_id": bet.ID.String()})
	}

	now := time.Now().UTC()
	var outcome *Outcome
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		affected, err := s.repo.WithTx(tx).Confirm(ctx, bet.ID, input.AdminID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "confirming payout")
		}
		if affected == 0 {
			// Re-read to tell a same-admin race (the approval committed
			// after our earlier load) from a plain state conflict.
			current, lookupErr := s.bets.WithTx(tx).GetByID(ctx, bet.ID)
			if lookupErr == nil && current != nil && current.PaymentStatus == enums.PaymentStatusApproved &&
				current.ApprovedBy != nil && *current.ApprovedBy == input.AdminID {
				return pkgerrors.New(pkgerrors.CodeUnauthorized, "confirming admin must differ from approver").
					WithDetails(map[string]any{"bet_id": bet.ID.String()})
			}
			return pkgerrors.New(pkgerrors.CodeStateConflict, "bet is not approved").
				WithDetails(map[string]any{"bet_id": bet.ID.String(), "payment_status": bet.PaymentStatus})
		}
		// Attestation only: the credit already happened at approval.
		return s.emitDecision(ctx, tx, bet, input.AdminID, enums.EventPayoutConfirmed, enums.PaymentStatusDoubleConfirmed, nil, now)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncPayoutDecision("double_confirmed")
	outcome = &Outcome{
		BetID:     bet.ID,
		AccountID: bet.AccountID,
		Status:    enums.PaymentStatusDoubleConfirmed,
		WinAmount: bet.WinAmount,
	}
	return outcome, nil
}

func (s *service) CreateRequest(ctx context.Context, input CreateRequestInput) (*models.PayoutRequest, error) {
	if len(input.BetIDs) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one bet id is required")
	}

	rows, err := s.bets.ListByIDs(ctx, input.BetIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading bets")
	}
	found := map[uuid.UUID]*models.Bet{}
	for i := range rows {
		found[rows[i].ID] = &rows[i]
	}
	for _, id := range input.BetIDs {
		bet, ok := found[id]
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "bet not found").
				WithDetails(map[string]any{"bet_id": id.String()})
		}
		if bet.PaymentStatus != enums.PaymentStatusPendingApproval {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "bet is not awaiting approval").
				WithDetails(map[string]any{"bet_id": id.String(), "payment_status": bet.PaymentStatus})
		}
	}

	request := &models.PayoutRequest{
		BetIDs: dbtypes.UUIDArray(input.BetIDs),
		Status: enums.PayoutRequestStatusPending,
		Note:   input.Note,
	}
	if err := s.repo.CreateRequest(ctx, request); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating payout request")
	}
	return request, nil
}

func (s *service) ProcessRequest(ctx context.Context, input ProcessRequestInput) (*BatchOutcome, error) {
	if input.RequestID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "request id is required")
	}
	if input.AdminID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "admin identity missing")
	}
	if !input.Approve && (input.Note == nil || strings.TrimSpace(*input.Note) == "") {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "rejection requires a note")
	}

	result, err := s.guard.Run(ctx, guardScopeRequest, input.RequestID.String(), func(ctx context.Context) (any, error) {
		return s.processRequest(ctx, input)
	})
	if err != nil {
		return nil, err
	}
	var outcome BatchOutcome
	if err := json.Unmarshal(result.Payload, &outcome); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decoding batch outcome")
	}
	outcome.Replayed = result.Replayed
	return &outcome, nil
}

func (s *service) processRequest(ctx context.Context, input ProcessRequestInput) (*BatchOutcome, error) {
	request, err := s.repo.GetRequest(ctx, input.RequestID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading payout request")
	}
	if request == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payout request not found").
			WithDetails(map[string]any{"request_id": input.RequestID.String()})
	}
	if request.Status != enums.PayoutRequestStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payout request already processed").
			WithDetails(map[string]any{"request_id": request.ID.String(), "status": request.Status})
	}

	status := enums.PayoutRequestStatusApproved
	if !input.Approve {
		status = enums.PayoutRequestStatusRejected
	}
	now := time.Now().UTC()
	outcome := &BatchOutcome{RequestID: request.ID, Status: status}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		affected, err := s.repo.WithTx(tx).MarkRequestProcessed(ctx, request.ID, status, input.AdminID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marking request processed")
		}
		if affected == 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "payout request already processed").
				WithDetails(map[string]any{"request_id": request.ID.String()})
		}

		for _, betID := range request.BetIDs {
			decision := DecisionInput{BetID: betID, AdminID: input.AdminID, Note: input.Note}
			var decided *Outcome
			if input.Approve {
				decided, err = s.approveInTx(ctx, tx, decision)
			} else {
				decided, err = s.rejectInTx(ctx, tx, decision, now)
			}
			if err != nil {
				// A bet that raced out of the decidable state is skipped;
				// anything else aborts the whole batch.
				if pkgerrors.HasCode(err, pkgerrors.CodeStateConflict) {
					outcome.Skipped = append(outcome.Skipped, betID)
					continue
				}
				return err
			}
			outcome.Decided = append(outcome.Decided, *decided)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

func (s *service) rejectInTx(ctx context.Context, tx *gorm.DB, input DecisionInput, now time.Time) (*Outcome, error) {
	bet, err := s.loadBet(ctx, input.BetID)
	if err != nil {
		return nil, err
	}
	affected, err := s.repo.WithTx(tx).Reject(ctx, bet.ID, input.AdminID, input.Note, now)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "rejecting payout")
	}
	if affected == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "bet is not awaiting approval").
			WithDetails(map[string]any{"bet_id": bet.ID.String()})
	}
	if err := s.emitDecision(ctx, tx, bet, input.AdminID, enums.EventPayoutRejected, enums.PaymentStatusRejected, input.Note, now); err != nil {
		return nil, err
	}
	s.metrics.IncPayoutDecision("rejected")
	return &Outcome{
		BetID:     bet.ID,
		AccountID: bet.AccountID,
		Status:    enums.PaymentStatusRejected,
		WinAmount: bet.WinAmount,
	}, nil
}

func (s *service) ListRequests(ctx context.Context, status enums.PayoutRequestStatus, limit int) ([]models.PayoutRequest, error) {
	if !status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payout request status")
	}
	rows, err := s.repo.ListRequests(ctx, status, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing payout requests")
	}
	return rows, nil
}

func (s *service) loadBet(ctx context.Context, betID uuid.UUID) (*models.Bet, error) {
	bet, err := s.bets.GetByID(ctx, betID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading bet")
	}
	if bet == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "bet not found").
			WithDetails(map[string]any{"bet_id": betID.String()})
	}
	return bet, nil
}

func (s *service) recordWinEntry(ctx context.Context, tx *gorm.DB, bet *models.Bet, balanceAfter int64) error {
	accountID := bet.AccountID
	entry, err := models.NewTransaction(enums.TransactionTypeWin, bet.WinAmount, nil, &accountID, time.Now().UTC())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "building win entry")
	}
	entry.Status = enums.TransactionStatusCompleted
	before := balanceAfter - bet.WinAmount
	entry.ReceiverBalanceBefore = &before
	entry.ReceiverBalanceAfter = &balanceAfter
	if err := s.entries.WithTx(tx).Create(ctx, entry); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording win entry")
	}
	return nil
}

func (s *service) emitDecision(ctx context.Context, tx *gorm.DB, bet *models.Bet, adminID uuid.UUID, eventType enums.OutboxEventType, status enums.PaymentStatus, note *string, at time.Time) error {
	noteValue := ""
	if note != nil {
		noteValue = *note
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateBet,
		AggregateID:   bet.ID,
		Actor:         &outbox.ActorRef{AdminID: &adminID},
		Data: payloads.PayoutDecisionEvent{
			BetID:     bet.ID,
			AccountID: bet.AccountID,
			AdminID:   adminID,
			Status:    status,
			WinAmount: bet.WinAmount,
			Note:      noteValue,
			DecidedAt: at,
		},
		Version: 1,
	})
}

func validateDecision(input DecisionInput) error {
	if input.BetID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "bet id is required")
	}
	if input.AdminID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "admin identity missing")
	}
	return nil
}

func decodeOutcome(result *idempotency.Result) (*Outcome, error) {
	var outcome Outcome
	if err := json.Unmarshal(result.Payload, &outcome); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decoding payout outcome")
	}
	outcome.Replayed = result.Replayed
	return &outcome, nil
}
