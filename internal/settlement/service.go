package settlement

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lotopoints/backend/internal/ledger"
	"github.com/lotopoints/backend/internal/results"
	"github.com/lotopoints/backend/internal/reward"
	"github.com/lotopoints/backend/pkg/config"
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

// Service settles pending bets against a published drawing and can undo a
// run before the drawing is corrected or withdrawn. Settlement never credits
// the ledger; winnings move only through payout approval.
type Service interface {
	Settle(ctx context.Context, resultID uuid.UUID) (*Summary, error)
	Reverse(ctx context.Context, resultID uuid.UUID, reason string) (int, error)
	// ReverseTx runs the reversal inside the caller's transaction so result
	// mutation can compose with it atomically.
	ReverseTx(ctx context.Context, tx *gorm.DB, resultID uuid.UUID, reason string) (int, error)
}

// ServiceParams wires the settlement engine dependencies.
type ServiceParams struct {
	Repo         Repository
	Results      results.Repository
	Ledger       ledger.Service
	Transactions ledger.TransactionRepository
	TxRunner     txRunner
	Outbox       outboxPublisher
	Calculator   reward.Calculator
	Config       config.SettlementConfig
	Logger       *logger.Logger
	Metrics      *metrics.LedgerMetrics
}

type service struct {
	repo      Repository
	results   results.Repository
	ledger    ledger.Service
	entries   ledger.TransactionRepository
	tx        txRunner
	outbox    outboxPublisher
	calc      reward.Calculator
	batchSize int
	logg      *logger.Logger
	metrics   *metrics.LedgerMetrics
}

// Summary aggregates one settlement run.
type Summary struct {
	ResultID       uuid.UUID `json:"result_id"`
	WonCount       int       `json:"won_count"`
	LostCount      int       `json:"lost_count"`
	TotalWinAmount int64     `json:"total_win_amount"`
}

// NewService wires a settlement engine.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "settlement repository required")
	}
	if params.Results == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "result repository required")
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
	if params.Calculator == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "reward calculator required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	batchSize := params.Config.BatchSize
	if batchSize <= 0 {
		batchSize = 200
	}
	return &service{
		repo:      params.Repo,
		results:   params.Results,
		ledger:    params.Ledger,
		entries:   params.Transactions,
		tx:        params.TxRunner,
		outbox:    params.Outbox,
		calc:      params.Calculator,
		batchSize: batchSize,
		logg:      params.Logger,
		metrics:   params.Metrics,
	}, nil
}

func (s *service) Settle(ctx context.Context, resultID uuid.UUID) (*Summary, error) {
	result, err := s.loadResult(ctx, resultID)
	if err != nil {
		return nil, err
	}
	if result.SettledAt != nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "result already settled").
			WithDetails(map[string]any{"result_id": resultID.String(), "settled_at": result.SettledAt})
	}

	started := time.Now().UTC()
	matcher := newMatcher(result)
	summary := &Summary{ResultID: result.ID}

	for {
		batch, err := s.repo.ListPendingBatch(ctx, matcher.provinceCodes, started, s.batchSize)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "scanning pending bets")
		}
		if len(batch) == 0 {
			break
		}
		for i := range batch {
			if err := s.settleBet(ctx, &batch[i], result, matcher, summary); err != nil {
				return nil, err
			}
		}
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		now := time.Now().UTC()
		if err := s.results.WithTx(tx).SetSettledAt(ctx, result.ID, &now); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "stamping result settled")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventResultSettled,
			AggregateType: enums.AggregateResult,
			AggregateID:   result.ID,
			Data: payloads.ResultSettledEvent{
				ResultID:       result.ID,
				Region:         result.Region,
				DrawDate:       result.DrawDate,
				WonCount:       summary.WonCount,
				LostCount:      summary.LostCount,
				TotalWinAmount: summary.TotalWinAmount,
			},
			Version: 1,
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveSettlement(string(result.Region), time.Since(started))
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"result_id":        result.ID.String(),
		"region":           result.Region,
		"won_count":        summary.WonCount,
		"lost_count":       summary.LostCount,
		"total_win_amount": summary.TotalWinAmount,
		"duration_ms":      time.Since(started).Milliseconds(),
	}), "settlement run completed")
	return summary, nil
}

// settleBet decides and records one bet's outcome. The forward path is
// per-bet atomic: a crash mid-run leaves earlier bets settled and later
// ones pending, and a rerun skips the settled rows.
func (s *service) settleBet(ctx context.Context, bet *models.Bet, result *models.Result, matcher *resultMatcher, summary *Summary) error {
	hits := matcher.hits(bet)

	status := enums.BetStatusLost
	paymentStatus := enums.PaymentStatusPending
	var winAmount int64
	if hits > 0 {
		outcome, err := s.calc.Compute(ctx, bet, hits)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "computing reward").
				WithDetails(map[string]any{"bet_id": bet.ID.String()})
		}
		status = enums.BetStatusWon
		paymentStatus = enums.PaymentStatusPendingApproval
		winAmount = outcome.WinAmount
	}

	affected, err := s.repo.MarkSettled(ctx, bet.ID, status, winAmount, paymentStatus, result.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marking bet settled").
			WithDetails(map[string]any{"bet_id": bet.ID.String()})
	}
	if affected == 0 {
		// Another worker got here first; its outcome stands.
		return nil
	}

	if status == enums.BetStatusWon {
		summary.WonCount++
		summary.TotalWinAmount += winAmount
		s.metrics.IncSettledBet("won")
	} else {
		summary.LostCount++
		s.metrics.IncSettledBet("lost")
	}
	return nil
}

func (s *service) Reverse(ctx context.Context, resultID uuid.UUID, reason string) (int, error) {
	var reversed int
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		count, err := s.ReverseTx(ctx, tx, resultID, reason)
		if err != nil {
			return err
		}
		reversed = count
		return s.results.WithTx(tx).SetSettledAt(ctx, resultID, nil)
	})
	if err != nil {
		return 0, err
	}
	return reversed, nil
}

func (s *service) ReverseTx(ctx context.Context, tx *gorm.DB, resultID uuid.UUID, reason string) (int, error) {
	if tx == nil {
		return 0, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	repo := s.repo.WithTx(tx)
	bets, err := repo.ListByResult(ctx, resultID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing settled bets")
	}

	reversed := 0
	for i := range bets {
		bet := &bets[i]
		if creditedToAccount(bet) {
			if err := s.debitBackWinnings(ctx, tx, bet); err != nil {
				return 0, err
			}
		}
		affected, err := repo.ResetBet(ctx, bet.ID, resultID)
		if err != nil {
			return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "resetting bet").
				WithDetails(map[string]any{"bet_id": bet.ID.String()})
		}
		if affected > 0 {
			reversed++
		}
	}

	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventResultReversed,
		AggregateType: enums.AggregateResult,
		AggregateID:   resultID,
		Data: payloads.ResultReversedEvent{
			ResultID:     resultID,
			ReversedBets: reversed,
			Reason:       reason,
		},
		Version: 1,
	}); err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "queueing reversal event")
	}

	s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
		"result_id":     resultID.String(),
		"reversed_bets": reversed,
		"reason":        reason,
	}), "settlement reversed")
	return reversed, nil
}

// debitBackWinnings claws back a payout that was already credited. The debit
// is conditional like every balance write; if the account has since spent
// the winnings the reversal fails and needs manual reconciliation.
func (s *service) debitBackWinnings(ctx context.Context, tx *gorm.DB, bet *models.Bet) error {
	before, after, err := s.ledger.Debit(ctx, tx, bet.AccountID, bet.WinAmount)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeStateConflict, err, "clawing back credited winnings").
			WithDetails(map[string]any{"bet_id": bet.ID.String(), "account_id": bet.AccountID.String(), "win_amount": bet.WinAmount})
	}
	accountID := bet.AccountID
	entry, err := models.NewTransaction(enums.TransactionTypeWin, bet.WinAmount, &accountID, nil, time.Now().UTC())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "building clawback entry")
	}
	entry.Status = enums.TransactionStatusCompleted
	entry.SenderBalanceBefore = &before
	entry.SenderBalanceAfter = &after
	note := "settlement reversal"
	entry.Note = &note
	if err := s.entries.WithTx(tx).Create(ctx, entry); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording clawback")
	}
	return nil
}

func (s *service) loadResult(ctx context.Context, resultID uuid.UUID) (*models.Result, error) {
	if resultID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "result id is required")
	}
	result, err := s.results.GetByID(ctx, resultID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading result")
	}
	if result == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "result not found").
			WithDetails(map[string]any{"result_id": resultID.String()})
	}
	if len(result.Provinces) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeIntegrity, "result has no provinces").
			WithDetails(map[string]any{"result_id": resultID.String()})
	}
	return result, nil
}

// creditedToAccount reports whether payout approval already moved money for
// this bet. Only those bets need a ledger clawback on reversal.
func creditedToAccount(bet *models.Bet) bool {
	return bet.Status == enums.BetStatusWon && bet.WinAmount > 0 &&
		(bet.PaymentStatus == enums.PaymentStatusApproved || bet.PaymentStatus == enums.PaymentStatusDoubleConfirmed)
}

// resultMatcher indexes a drawing's tiers for trailing-digit matching.
type resultMatcher struct {
	provinceCodes []string
	// specialByProvince holds the special-tier numbers per province, the
	// only tier direct bets match against.
	specialByProvince map[string][]string
	// allByProvince holds every tier's numbers per province for spread bets.
	allByProvince map[string][]string
}

func newMatcher(result *models.Result) *resultMatcher {
	m := &resultMatcher{
		specialByProvince: map[string][]string{},
		allByProvince:     map[string][]string{},
	}
	for _, province := range result.Provinces {
		m.provinceCodes = append(m.provinceCodes, province.ProvinceCode)
		for tier, values := range province.Tiers {
			if tier == enums.PrizeTierSpecial {
				m.specialByProvince[province.ProvinceCode] = append(m.specialByProvince[province.ProvinceCode], values...)
			}
			m.allByProvince[province.ProvinceCode] = append(m.allByProvince[province.ProvinceCode], values...)
		}
	}
	return m
}

// hits counts how many drawn numbers the bet matches. Direct bets match the
// trailing digits of their province's special tier; spread bets match the
// trailing digits of every tier, across all provinces when unscoped.
func (m *resultMatcher) hits(bet *models.Bet) int {
	if bet.BetType.IsSpread() {
		if bet.ProvinceCode != nil {
			return countTrailing(m.allByProvince[*bet.ProvinceCode], bet.Numbers)
		}
		total := 0
		for _, values := range m.allByProvince {
			total += countTrailing(values, bet.Numbers)
		}
		return total
	}
	if bet.ProvinceCode == nil {
		return 0
	}
	if countTrailing(m.specialByProvince[*bet.ProvinceCode], bet.Numbers) > 0 {
		return 1
	}
	return 0
}

func countTrailing(values []string, numbers string) int {
	count := 0
	for _, value := range values {
		if len(value) >= len(numbers) && strings.HasSuffix(value, numbers) {
			count++
		}
	}
	return count
}
