package transfer

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lotopoints/backend/internal/idempotency"
	"github.com/lotopoints/backend/internal/ledger"
	"github.com/lotopoints/backend/internal/notify"
	"github.com/lotopoints/backend/pkg/config"
	dbpkg "github.com/lotopoints/backend/pkg/db"
	"github.com/lotopoints/backend/pkg/db/models"
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

// balanceCache mirrors committed balances into Redis for cheap reads.
// Refreshes are best-effort; the ledger row stays authoritative.
type balanceCache interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	BalanceKey(accountID string) string
}

const (
	guardScopeTransfer = "transfer"

	balanceCacheTTL = 5 * time.Minute

	idempotencyKeyConstraint = "ux_transactions_idempotency_key"
)

// Service orchestrates point movements between accounts: peer transfers
// behind the idempotency guard, and the deposit/withdraw request queue an
// admin settles.
type Service interface {
	Transfer(ctx context.Context, input TransferInput) (*Outcome, error)
	RequestDeposit(ctx context.Context, input RequestInput) (*models.Transaction, error)
	RequestWithdraw(ctx context.Context, input RequestInput) (*models.Transaction, error)
	ProcessRequest(ctx context.Context, input ProcessInput) (*models.Transaction, error)
	ListPendingRequests(ctx context.Context, limit int) ([]models.Transaction, error)
}

// ServiceParams wires the transfer service dependencies.
type ServiceParams struct {
	Ledger       ledger.Service
	Transactions ledger.TransactionRepository
	TxRunner     txRunner
	Guard        requestGuard
	Outbox       outboxPublisher
	Notifier     notify.Sink
	Cache        balanceCache
	Config       config.TransferConfig
	Logger       *logger.Logger
	Metrics      *metrics.LedgerMetrics
}

type service struct {
	ledger      ledger.Service
	entries     ledger.TransactionRepository
	tx          txRunner
	guard       requestGuard
	outbox      outboxPublisher
	notifier    notify.Sink
	cache       balanceCache
	maxAttempts int
	baseDelay   time.Duration
	logg        *logger.Logger
	metrics     *metrics.LedgerMetrics
}

// TransferInput describes a peer-to-peer point movement. The idempotency key
// is mandatory: it is the only handle a caller has to safely retry.
type TransferInput struct {
	IdempotencyKey string    `json:"idempotency_key" validate:"required"`
	SenderID       uuid.UUID `json:"sender_id" validate:"required"`
	ReceiverID     uuid.UUID `json:"receiver_id" validate:"required"`
	Amount         int64     `json:"amount" validate:"gt=0"`
	Note           *string   `json:"note,omitempty"`
}

// RequestInput files a deposit or withdrawal request for admin review.
type RequestInput struct {
	AccountID uuid.UUID `json:"account_id" validate:"required"`
	Amount    int64     `json:"amount" validate:"gt=0"`
	Note      *string   `json:"note,omitempty"`
}

// ProcessInput is an admin decision on a pending money request.
type ProcessInput struct {
	TransactionID uuid.UUID `json:"transaction_id" validate:"required"`
	AdminID       uuid.UUID `json:"admin_id" validate:"required"`
	Approve       bool      `json:"approve"`
}

// Outcome is the committed result of a transfer, also what a replayed
// idempotency key observes.
type Outcome struct {
	TransactionID        uuid.UUID `json:"transaction_id"`
	SenderID             uuid.UUID `json:"sender_id"`
	ReceiverID           uuid.UUID `json:"receiver_id"`
	Amount               int64     `json:"amount"`
	SenderBalanceAfter   int64     `json:"sender_balance_after"`
	ReceiverBalanceAfter int64     `json:"receiver_balance_after"`
	Hash                 string    `json:"hash"`
	Replayed             bool      `json:"-"`
}

// NewService wires a transfer service.
func NewService(params ServiceParams) (Service, error) {
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
	maxAttempts := params.Config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	baseDelay := params.Config.RetryBaseDelay
	if baseDelay <= 0 {
		baseDelay = 50 * time.Millisecond
	}
	return &service{
		ledger:      params.Ledger,
		entries:     params.Transactions,
		tx:          params.TxRunner,
		guard:       params.Guard,
		outbox:      params.Outbox,
		notifier:    params.Notifier,
		cache:       params.Cache,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		logg:        params.Logger,
		metrics:     params.Metrics,
	}, nil
}

func (s *service) Transfer(ctx context.Context, input TransferInput) (*Outcome, error) {
	input.IdempotencyKey = strings.TrimSpace(input.IdempotencyKey)
	if input.IdempotencyKey == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "idempotency key is required")
	}
	if input.SenderID == uuid.Nil || input.ReceiverID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sender and receiver ids are required")
	}
	if input.SenderID == input.ReceiverID {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "cannot transfer to the same account")
	}
	if input.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}

	result, err := s.guard.Run(ctx, guardScopeTransfer, input.IdempotencyKey, func(ctx context.Context) (any, error) {
		return s.executeTransfer(ctx, input)
	})
	if err != nil {
		return nil, err
	}

	var outcome Outcome
	if err := json.Unmarshal(result.Payload, &outcome); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decoding transfer outcome")
	}
	outcome.Replayed = result.Replayed
	return &outcome, nil
}

// executeTransfer commits the two-sided movement, retrying the whole
// transaction on transient storage conflicts up to the configured budget.
func (s *service) executeTransfer(ctx context.Context, input TransferInput) (*Outcome, error) {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if attempt > 1 {
			s.metrics.IncTransferRetry()
			delay := s.baseDelay << (attempt - 2)
			select {
			case <-ctx.Done():
				return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, ctx.Err(), "transfer cancelled")
			case <-time.After(delay):
			}
		}

		outcome, err := s.transferOnce(ctx, input)
		if err == nil {
			s.metrics.IncTransferAttempt("completed")
			s.afterCommit(ctx, outcome, input.Note)
			return outcome, nil
		}
		if prior, ok := s.priorOutcome(ctx, input.IdempotencyKey, err); ok {
			s.metrics.IncTransferAttempt("replayed")
			return prior, nil
		}
		if !dbpkg.IsTransient(err) {
			s.metrics.IncTransferAttempt("failed")
			return nil, err
		}
		lastErr = err
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"idempotency_key": input.IdempotencyKey,
			"attempt":         attempt,
			"error":           err.Error(),
		}), "transfer hit transient storage conflict")
	}
	s.metrics.IncTransferAttempt("exhausted")
	return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, lastErr, "transfer retry budget exhausted").
		WithDetails(map[string]any{"idempotency_key": input.IdempotencyKey, "attempts": s.maxAttempts})
}

// priorOutcome resolves a duplicate insert on the idempotency-key index to
// the entry that key already committed. A retry whose cached outcome was
// lost (worker crash after commit, evicted Redis key) observes the original
// transfer instead of an error.
func (s *service) priorOutcome(ctx context.Context, key string, cause error) (*Outcome, bool) {
	if !dbpkg.IsUniqueViolation(cause, idempotencyKeyConstraint) {
		return nil, false
	}
	entry, err := s.entries.GetByIdempotencyKey(ctx, key)
	if err != nil || entry == nil || entry.Status != enums.TransactionStatusCompleted {
		return nil, false
	}

	outcome := &Outcome{
		TransactionID: entry.ID,
		Amount:        entry.Amount,
		Hash:          entry.Hash,
		Replayed:      true,
	}
	if entry.SenderID != nil {
		outcome.SenderID = *entry.SenderID
	}
	if entry.ReceiverID != nil {
		outcome.ReceiverID = *entry.ReceiverID
	}
	if entry.SenderBalanceAfter != nil {
		outcome.SenderBalanceAfter = *entry.SenderBalanceAfter
	}
	if entry.ReceiverBalanceAfter != nil {
		outcome.ReceiverBalanceAfter = *entry.ReceiverBalanceAfter
	}
	return outcome, true
}

func (s *service) transferOnce(ctx context.Context, input TransferInput) (*Outcome, error) {
	var outcome *Outcome
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		senderBefore, senderAfter, err := s.ledger.Debit(ctx, tx, input.SenderID, input.Amount)
		if err != nil {
			return err
		}
		receiverBefore, receiverAfter, err := s.ledger.Credit(ctx, tx, input.ReceiverID, input.Amount)
		if err != nil {
			return err
		}
		if err := s.ledger.ConservationCheck(ctx, senderBefore, senderAfter, receiverBefore, receiverAfter); err != nil {
			return err
		}

		sender := input.SenderID
		receiver := input.ReceiverID
		entry, err := models.NewTransaction(enums.TransactionTypeTransfer, input.Amount, &sender, &receiver, time.Now().UTC())
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "building ledger entry")
		}
		entry.Status = enums.TransactionStatusCompleted
		entry.IdempotencyKey = &input.IdempotencyKey
		entry.Note = input.Note
		entry.SenderBalanceBefore = &senderBefore
		entry.SenderBalanceAfter = &senderAfter
		entry.ReceiverBalanceBefore = &receiverBefore
		entry.ReceiverBalanceAfter = &receiverAfter
		if err := s.entries.WithTx(tx).Create(ctx, entry); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording ledger entry")
		}

		event := payloads.TransferCompletedEvent{
			TransactionID:  entry.ID,
			SenderID:       entry.SenderID,
			ReceiverID:     entry.ReceiverID,
			Type:           entry.Type,
			Amount:         entry.Amount,
			IdempotencyKey: input.IdempotencyKey,
			Hash:           entry.Hash,
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventTransferCompleted,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   entry.ID,
			Actor:         &outbox.ActorRef{AccountID: &sender},
			Data:          event,
			Version:       1,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "queueing transfer event")
		}

		outcome = &Outcome{
			TransactionID:        entry.ID,
			SenderID:             input.SenderID,
			ReceiverID:           input.ReceiverID,
			Amount:               input.Amount,
			SenderBalanceAfter:   senderAfter,
			ReceiverBalanceAfter: receiverAfter,
			Hash:                 entry.Hash,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

func (s *service) refreshBalanceCache(ctx context.Context, accountID uuid.UUID, balance int64) {
	if s.cache == nil {
		return
	}
	key := s.cache.BalanceKey(accountID.String())
	if err := s.cache.Set(ctx, key, balance, balanceCacheTTL); err != nil {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"account_id": accountID.String(),
			"error":      err.Error(),
		}), "balance cache refresh failed")
	}
}

// afterCommit dispatches best-effort notifications. Failures are logged and
// never surfaced: the transfer is already durable.
func (s *service) afterCommit(ctx context.Context, outcome *Outcome, note *string) {
	if outcome == nil {
		return
	}
	s.refreshBalanceCache(ctx, outcome.SenderID, outcome.SenderBalanceAfter)
	s.refreshBalanceCache(ctx, outcome.ReceiverID, outcome.ReceiverBalanceAfter)
	if s.notifier == nil {
		return
	}
	body := ""
	if note != nil {
		body = *note
	}
	for _, target := range []struct {
		accountID uuid.UUID
		kind      string
	}{
		{outcome.SenderID, "transfer.sent"},
		{outcome.ReceiverID, "transfer.received"},
	} {
		err := s.notifier.Notify(ctx, notify.Notification{
			AccountID: target.accountID,
			Kind:      target.kind,
			Title:     "Points transfer",
			Body:      body,
			Fields: map[string]any{
				"transaction_id": outcome.TransactionID.String(),
				"amount":         outcome.Amount,
			},
		})
		if err != nil {
			s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
				"account_id": target.accountID.String(),
				"error":      err.Error(),
			}), "transfer notification failed")
		}
	}
}

func (s *service) RequestDeposit(ctx context.Context, input RequestInput) (*models.Transaction, error) {
	return s.createRequest(ctx, enums.TransactionTypeDeposit, input)
}

func (s *service) RequestWithdraw(ctx context.Context, input RequestInput) (*models.Transaction, error) {
	return s.createRequest(ctx, enums.TransactionTypeWithdraw, input)
}

func (s *service) createRequest(ctx context.Context, txType enums.TransactionType, input RequestInput) (*models.Transaction, error) {
	if input.AccountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	if input.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if account, err := s.ledger.GetAccount(ctx, input.AccountID); err != nil {
		return nil, err
	} else if account == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "account not found").
			WithDetails(map[string]any{"account_id": input.AccountID.String()})
	}

	accountID := input.AccountID
	var sender, receiver *uuid.UUID
	if txType == enums.TransactionTypeDeposit {
		receiver = &accountID
	} else {
		sender = &accountID
	}
	entry, err := models.NewTransaction(txType, input.Amount, sender, receiver, time.Now().UTC())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "building request entry")
	}
	entry.Note = input.Note

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.entries.WithTx(tx).Create(ctx, entry); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording request")
		}
		eventType := enums.EventDepositRequested
		var data any = payloads.DepositRequestedEvent{
			TransactionID: entry.ID,
			AccountID:     accountID,
			Amount:        entry.Amount,
		}
		if txType == enums.TransactionTypeWithdraw {
			eventType = enums.EventWithdrawRequested
			data = payloads.WithdrawRequestedEvent{
				TransactionID: entry.ID,
				AccountID:     accountID,
				Amount:        entry.Amount,
			}
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     eventType,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   entry.ID,
			Actor:         &outbox.ActorRef{AccountID: &accountID},
			Data:          data,
			Version:       1,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "queueing request event")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *service) ProcessRequest(ctx context.Context, input ProcessInput) (*models.Transaction, error) {
	if input.TransactionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id is required")
	}
	if input.AdminID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "admin identity missing")
	}

	entry, err := s.entries.GetByID(ctx, input.TransactionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading request")
	}
	if entry == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "request not found").
			WithDetails(map[string]any{"transaction_id": input.TransactionID.String()})
	}
	if entry.Type != enums.TransactionTypeDeposit && entry.Type != enums.TransactionTypeWithdraw {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "transaction is not a money request")
	}
	if entry.Status != enums.TransactionStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "request already processed").
			WithDetails(map[string]any{"transaction_id": entry.ID.String(), "status": entry.Status})
	}

	status := enums.TransactionStatusCompleted
	if !input.Approve {
		status = enums.TransactionStatusCancelled
	}
	now := time.Now().UTC()

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		entries := s.entries.WithTx(tx)
		affected, err := entries.MarkProcessed(ctx, entry.ID, status, input.AdminID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marking request processed")
		}
		if affected == 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "request already processed").
				WithDetails(map[string]any{"transaction_id": entry.ID.String()})
		}

		var accountID uuid.UUID
		if input.Approve {
			switch entry.Type {
			case enums.TransactionTypeDeposit:
				accountID = *entry.ReceiverID
				if _, _, err := s.ledger.Credit(ctx, tx, accountID, entry.Amount); err != nil {
					return err
				}
			case enums.TransactionTypeWithdraw:
				accountID = *entry.SenderID
				if _, _, err := s.ledger.Debit(ctx, tx, accountID, entry.Amount); err != nil {
					return err
				}
			}
		} else {
			if entry.ReceiverID != nil {
				accountID = *entry.ReceiverID
			} else if entry.SenderID != nil {
				accountID = *entry.SenderID
			}
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventRequestProcessed,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   entry.ID,
			Actor:         &outbox.ActorRef{AdminID: &input.AdminID},
			Data: payloads.RequestProcessedEvent{
				TransactionID: entry.ID,
				AccountID:     accountID,
				Amount:        entry.Amount,
				Status:        status,
				ProcessedBy:   input.AdminID,
				ProcessedAt:   now,
			},
			Version: 1,
		})
	})
	if err != nil {
		return nil, err
	}

	entry.Status = status
	entry.ProcessedBy = &input.AdminID
	entry.ProcessedAt = &now
	return entry, nil
}

func (s *service) ListPendingRequests(ctx context.Context, limit int) ([]models.Transaction, error) {
	rows, err := s.entries.ListPendingRequests(ctx, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing pending requests")
	}
	return rows, nil
}
