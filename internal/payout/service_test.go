package payout

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lotopoints/backend/internal/bets"
	"github.com/lotopoints/backend/internal/idempotency"
	"github.com/lotopoints/backend/internal/ledger"
	"github.com/lotopoints/backend/pkg/db/models"
	"github.com/lotopoints/backend/pkg/enums"
	pkgerrors "github.com/lotopoints/backend/pkg/errors"
	"github.com/lotopoints/backend/pkg/logger"
	"github.com/lotopoints/backend/pkg/outbox"
	"github.com/lotopoints/backend/pkg/pagination"
)

type fakeBetStore struct {
	bets map[uuid.UUID]*models.Bet
}

func newFakeBetStore() *fakeBetStore {
	return &fakeBetStore{bets: map[uuid.UUID]*models.Bet{}}
}

func (f *fakeBetStore) WithTx(tx *gorm.DB) bets.Repository { return f }

func (f *fakeBetStore) Create(ctx context.Context, bet *models.Bet) error {
	f.bets[bet.ID] = bet
	return nil
}

func (f *fakeBetStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Bet, error) {
	return f.bets[id], nil
}

func (f *fakeBetStore) ListByAccount(ctx context.Context, accountID uuid.UUID, params pagination.Params) ([]models.Bet, string, error) {
	return nil, "", nil
}

func (f *fakeBetStore) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Bet, error) {
	var rows []models.Bet
	for _, id := range ids {
		if bet, ok := f.bets[id]; ok {
			rows = append(rows, *bet)
		}
	}
	return rows, nil
}

// fakePayoutRepo mirrors the conditional-update semantics of the real one
// against the shared bet store.
type fakePayoutRepo struct {
	store    *fakeBetStore
	requests map[uuid.UUID]*models.PayoutRequest
}

func newFakePayoutRepo(store *fakeBetStore) *fakePayoutRepo {
	return &fakePayoutRepo{store: store, requests: map[uuid.UUID]*models.PayoutRequest{}}
}

func (f *fakePayoutRepo) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakePayoutRepo) Approve(ctx context.Context, betID, adminID uuid.UUID, note *string, at time.Time) (int64, error) {
	bet, ok := f.store.bets[betID]
	if !ok || bet.Status != enums.BetStatusWon || bet.PaymentStatus != enums.PaymentStatusPendingApproval {
		return 0, nil
	}
	bet.PaymentStatus = enums.PaymentStatusApproved
	bet.ApprovedBy = &adminID
	bet.ApprovedAt = &at
	bet.ApprovalNote = note
	return 1, nil
}

func (f *fakePayoutRepo) Reject(ctx context.Context, betID, adminID uuid.UUID, note *string, at time.Time) (int64, error) {
	bet, ok := f.store.bets[betID]
	if !ok || bet.Status != enums.BetStatusWon || bet.PaymentStatus != enums.PaymentStatusPendingApproval {
		return 0, nil
	}
	bet.PaymentStatus = enums.PaymentStatusRejected
	bet.ApprovedBy = &adminID
	bet.ApprovedAt = &at
	bet.ApprovalNote = note
	return 1, nil
}

func (f *fakePayoutRepo) Confirm(ctx context.Context, betID, adminID uuid.UUID, at time.Time) (int64, error) {
	bet, ok := f.store.bets[betID]
	if !ok || bet.PaymentStatus != enums.PaymentStatusApproved {
		return 0, nil
	}
	if bet.ApprovedBy != nil && *bet.ApprovedBy == adminID {
		return 0, nil
	}
	bet.PaymentStatus = enums.PaymentStatusDoubleConfirmed
	bet.ConfirmedBy = &adminID
	bet.ConfirmedAt = &at
	return 1, nil
}

func (f *fakePayoutRepo) CreateRequest(ctx context.Context, request *models.PayoutRequest) error {
	if request.ID == uuid.Nil {
		request.ID = uuid.New()
	}
	f.requests[request.ID] = request
	return nil
}

func (f *fakePayoutRepo) GetRequest(ctx context.Context, id uuid.UUID) (*models.PayoutRequest, error) {
	return f.requests[id], nil
}

func (f *fakePayoutRepo) ListRequests(ctx context.Context, status enums.PayoutRequestStatus, limit int) ([]models.PayoutRequest, error) {
	var rows []models.PayoutRequest
	for _, request := range f.requests {
		if request.Status == status {
			rows = append(rows, *request)
		}
	}
	return rows, nil
}

func (f *fakePayoutRepo) MarkRequestProcessed(ctx context.Context, id uuid.UUID, status enums.PayoutRequestStatus, adminID uuid.UUID, at time.Time) (int64, error) {
	request, ok := f.requests[id]
	if !ok || request.Status != enums.PayoutRequestStatusPending {
		return 0, nil
	}
	request.Status = status
	request.ProcessedBy = &adminID
	request.ProcessedAt = &at
	return 1, nil
}

type fakeLedger struct {
	balances map[uuid.UUID]int64
	credits  int
}

func (f *fakeLedger) CreateAccount(ctx context.Context, input ledger.CreateAccountInput) (*models.Account, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeLedger) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return nil, nil
}

func (f *fakeLedger) GetAccountByOwnerRef(ctx context.Context, ownerRef string) (*models.Account, error) {
	return nil, nil
}

func (f *fakeLedger) ListTransactions(ctx context.Context, accountID uuid.UUID, params pagination.Params) ([]models.Transaction, string, error) {
	return nil, "", nil
}

func (f *fakeLedger) Debit(ctx context.Context, tx *gorm.DB, accountID uuid.UUID, amount int64) (int64, int64, error) {
	before := f.balances[accountID]
	f.balances[accountID] = before - amount
	return before, before - amount, nil
}

func (f *fakeLedger) Credit(ctx context.Context, tx *gorm.DB, accountID uuid.UUID, amount int64) (int64, int64, error) {
	f.credits++
	before := f.balances[accountID]
	f.balances[accountID] = before + amount
	return before, before + amount, nil
}

func (f *fakeLedger) ConservationCheck(ctx context.Context, senderBefore, senderAfter, receiverBefore, receiverAfter int64) error {
	return nil
}

type fakeEntryRepo struct {
	created []*models.Transaction
}

func (f *fakeEntryRepo) WithTx(tx *gorm.DB) ledger.TransactionRepository { return f }

func (f *fakeEntryRepo) Create(ctx context.Context, entry *models.Transaction) error {
	f.created = append(f.created, entry)
	return nil
}

func (f *fakeEntryRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return nil, nil
}

func (f *fakeEntryRepo) GetByIdempotencyKey(ctx context.Context, key string) (*models.Transaction, error) {
	return nil, nil
}

func (f *fakeEntryRepo) ListByAccount(ctx context.Context, accountID uuid.UUID, params pagination.Params) ([]models.Transaction, string, error) {
	return nil, "", nil
}

func (f *fakeEntryRepo) ListPendingRequests(ctx context.Context, limit int) ([]models.Transaction, error) {
	return nil, nil
}

func (f *fakeEntryRepo) MarkProcessed(ctx context.Context, id uuid.UUID, status enums.TransactionStatus, adminID uuid.UUID, at time.Time) (int64, error) {
	return 0, nil
}

type stubTxRunner struct{}

func (stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(&gorm.DB{})
}

type fakeOutbox struct {
	events []outbox.DomainEvent
}

func (f *fakeOutbox) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	f.events = append(f.events, event)
	return nil
}

type passthroughGuard struct {
	outcomes map[string]json.RawMessage
}

func newPassthroughGuard() *passthroughGuard {
	return &passthroughGuard{outcomes: map[string]json.RawMessage{}}
}

func (g *passthroughGuard) Run(ctx context.Context, scope, key string, fn func(ctx context.Context) (any, error)) (*idempotency.Result, error) {
	cacheKey := scope + ":" + key
	if cached, ok := g.outcomes[cacheKey]; ok {
		return &idempotency.Result{Payload: cached, Replayed: true}, nil
	}
	value, err := fn(ctx)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	g.outcomes[cacheKey] = payload
	return &idempotency.Result{Payload: payload}, nil
}

func strPtr(s string) *string { return &s }

type fixture struct {
	service Service
	store   *fakeBetStore
	repo    *fakePayoutRepo
	ledger  *fakeLedger
	entries *fakeEntryRepo
	outbox  *fakeOutbox
	guard   *passthroughGuard
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := newFakeBetStore()
	fx := &fixture{
		store:   store,
		repo:    newFakePayoutRepo(store),
		ledger:  &fakeLedger{balances: map[uuid.UUID]int64{}},
		entries: &fakeEntryRepo{},
		outbox:  &fakeOutbox{},
		guard:   newPassthroughGuard(),
	}
	svc, err := NewService(ServiceParams{
		Repo:         fx.repo,
		Bets:         fx.store,
		Ledger:       fx.ledger,
		Transactions: fx.entries,
		TxRunner:     stubTxRunner{},
		Guard:        fx.guard,
		Outbox:       fx.outbox,
		Logger:       logger.New(logger.Options{ServiceName: "payout-test", Output: io.Discard}),
	})
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	fx.service = svc
	return fx
}

func (fx *fixture) seedWonBet(t *testing.T, winAmount int64) *models.Bet {
	t.Helper()

	bet, err := models.NewBet(uuid.New(), "47", enums.BetTypeDirect2, 10_000, strPtr("XSMB"), time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("NewBet returned error: %v", err)
	}
	bet.ID = uuid.New()
	bet.Status = enums.BetStatusWon
	bet.WinAmount = winAmount
	bet.PaymentStatus = enums.PaymentStatusPendingApproval
	resultID := uuid.New()
	bet.ResultID = &resultID
	fx.store.bets[bet.ID] = bet
	return bet
}

func TestApproveCreditsWinningsOnce(t *testing.T) {
	fx := newFixture(t)
	bet := fx.seedWonBet(t, 700_000)
	admin := uuid.New()

	outcome, err := fx.service.Approve(context.Background(), DecisionInput{BetID: bet.ID, AdminID: admin})
	if err != nil {
		t.Fatalf("Approve returned error: %v", err)
	}
	if outcome.Status != enums.PaymentStatusApproved {
		t.Fatalf("expected approved, got %s", outcome.Status)
	}
	if got := fx.ledger.balances[bet.AccountID]; got != 700_000 {
		t.Fatalf("expected winnings credited, balance %d", got)
	}
	if fx.ledger.credits != 1 {
		t.Fatalf("expected exactly one credit, got %d", fx.ledger.credits)
	}
	if len(fx.entries.created) != 1 || fx.entries.created[0].Type != enums.TransactionTypeWin {
		t.Fatalf("expected a win ledger entry, got %+v", fx.entries.created)
	}
	if len(fx.outbox.events) != 1 || fx.outbox.events[0].EventType != enums.EventPayoutApproved {
		t.Fatalf("expected payout.approved event, got %+v", fx.outbox.events)
	}

	// Replaying the same approval must not credit again.
	replay, err := fx.service.Approve(context.Background(), DecisionInput{BetID: bet.ID, AdminID: admin})
	if err != nil {
		t.Fatalf("replayed Approve returned error: %v", err)
	}
	if !replay.Replayed {
		t.Fatal("second approval should be a replay")
	}
	if fx.ledger.credits != 1 {
		t.Fatalf("replay credited again, credits %d", fx.ledger.credits)
	}
}

func TestApproveRacedDecisionConflicts(t *testing.T) {
	fx := newFixture(t)
	bet := fx.seedWonBet(t, 700_000)
	bet.PaymentStatus = enums.PaymentStatusApproved

	_, err := fx.service.Approve(context.Background(), DecisionInput{BetID: bet.ID, AdminID: uuid.New()})
	if !pkgerrors.HasCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict, got %v", err)
	}
	if fx.ledger.credits != 0 {
		t.Fatal("conflicting approval must not credit")
	}
}

func TestRejectRequiresNote(t *testing.T) {
	fx := newFixture(t)
	bet := fx.seedWonBet(t, 700_000)

	_, err := fx.service.Reject(context.Background(), DecisionInput{BetID: bet.ID, AdminID: uuid.New()})
	if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error without note, got %v", err)
	}

	outcome, err := fx.service.Reject(context.Background(), DecisionInput{
		BetID:   bet.ID,
		AdminID: uuid.New(),
		Note:    strPtr("numbers disputed"),
	})
	if err != nil {
		t.Fatalf("Reject returned error: %v", err)
	}
	if outcome.Status != enums.PaymentStatusRejected {
		t.Fatalf("expected rejected, got %s", outcome.Status)
	}
	if fx.ledger.credits != 0 {
		t.Fatal("rejection must not credit")
	}
}

func TestDoubleConfirmRequiresDistinctAdmin(t *testing.T) {
	fx := newFixture(t)
	bet := fx.seedWonBet(t, 700_000)
	approver := uuid.New()

	if _, err := fx.service.Approve(context.Background(), DecisionInput{BetID: bet.ID, AdminID: approver}); err != nil {
		t.Fatalf("Approve returned error: %v", err)
	}

	_, err := fx.service.DoubleConfirm(context.Background(), DecisionInput{BetID: bet.ID, AdminID: approver})
	if !pkgerrors.HasCode(err, pkgerrors.CodeUnauthorized) {
		t.Fatalf("same admin must not double-confirm, got %v", err)
	}

	balanceBefore := fx.ledger.balances[bet.AccountID]
	outcome, err := fx.service.DoubleConfirm(context.Background(), DecisionInput{BetID: bet.ID, AdminID: uuid.New()})
	if err != nil {
		t.Fatalf("DoubleConfirm returned error: %v", err)
	}
	if outcome.Status != enums.PaymentStatusDoubleConfirmed {
		t.Fatalf("expected double_confirmed, got %s", outcome.Status)
	}
	// Attestation only, no further money movement.
	if got := fx.ledger.balances[bet.AccountID]; got != balanceBefore {
		t.Fatalf("double-confirm moved money: %d -> %d", balanceBefore, got)
	}
	if fx.store.bets[bet.ID].ConfirmedBy == nil {
		t.Fatal("confirming admin not recorded")
	}
}

// staleBetStore serves a stale copy on the first read, mimicking a load that
// ran before a racing approval committed.
type staleBetStore struct {
	*fakeBetStore
	stale *models.Bet
	read  bool
}

func (s *staleBetStore) WithTx(tx *gorm.DB) bets.Repository { return s }

func (s *staleBetStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Bet, error) {
	if !s.read && s.stale != nil && s.stale.ID == id {
		s.read = true
		copied := *s.stale
		return &copied, nil
	}
	return s.fakeBetStore.GetByID(ctx, id)
}

func TestDoubleConfirmRacingApprovalKeepsDualControl(t *testing.T) {
	fx := newFixture(t)
	bet := fx.seedWonBet(t, 700_000)
	admin := uuid.New()

	// the confirm's load happens before this approval commits
	stale := *bet
	store := &staleBetStore{fakeBetStore: fx.store, stale: &stale}
	if _, err := fx.repo.Approve(context.Background(), bet.ID, admin, nil, time.Now().UTC()); err != nil {
		t.Fatalf("Approve returned error: %v", err)
	}

	svc, err := NewService(ServiceParams{
		Repo:         fx.repo,
		Bets:         store,
		Ledger:       fx.ledger,
		Transactions: fx.entries,
		TxRunner:     stubTxRunner{},
		Guard:        fx.guard,
		Outbox:       fx.outbox,
		Logger:       logger.New(logger.Options{ServiceName: "payout-test", Output: io.Discard}),
	})
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}

	_, err = svc.DoubleConfirm(context.Background(), DecisionInput{BetID: bet.ID, AdminID: admin})
	if !pkgerrors.HasCode(err, pkgerrors.CodeUnauthorized) {
		t.Fatalf("approver must not self-attest even through a stale read, got %v", err)
	}
	if got := fx.store.bets[bet.ID].PaymentStatus; got != enums.PaymentStatusApproved {
		t.Fatalf("bet must stay approved, got %s", got)
	}
}

func TestDoubleConfirmBeforeApprovalConflicts(t *testing.T) {
	fx := newFixture(t)
	bet := fx.seedWonBet(t, 700_000)

	_, err := fx.service.DoubleConfirm(context.Background(), DecisionInput{BetID: bet.ID, AdminID: uuid.New()})
	if !pkgerrors.HasCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestProcessRequestApprovesBatchAndSkipsRaced(t *testing.T) {
	fx := newFixture(t)
	first := fx.seedWonBet(t, 100_000)
	second := fx.seedWonBet(t, 200_000)
	raced := fx.seedWonBet(t, 300_000)
	raced.PaymentStatus = enums.PaymentStatusRejected

	request, err := fx.service.CreateRequest(context.Background(), CreateRequestInput{
		BetIDs: []uuid.UUID{first.ID, second.ID},
	})
	if err != nil {
		t.Fatalf("CreateRequest returned error: %v", err)
	}
	request.BetIDs = append(request.BetIDs, raced.ID)

	admin := uuid.New()
	outcome, err := fx.service.ProcessRequest(context.Background(), ProcessRequestInput{
		RequestID: request.ID,
		AdminID:   admin,
		Approve:   true,
	})
	if err != nil {
		t.Fatalf("ProcessRequest returned error: %v", err)
	}
	if len(outcome.Decided) != 2 {
		t.Fatalf("expected 2 decided bets, got %d", len(outcome.Decided))
	}
	if len(outcome.Skipped) != 1 || outcome.Skipped[0] != raced.ID {
		t.Fatalf("expected raced bet skipped, got %+v", outcome.Skipped)
	}
	if got := fx.ledger.balances[first.AccountID]; got != 100_000 {
		t.Fatalf("first bet not credited, balance %d", got)
	}
	stored := fx.repo.requests[request.ID]
	if stored.Status != enums.PayoutRequestStatusApproved || stored.ProcessedBy == nil {
		t.Fatalf("request not stamped processed: %+v", stored)
	}

	_, err = fx.service.ProcessRequest(context.Background(), ProcessRequestInput{
		RequestID: request.ID,
		AdminID:   admin,
		Approve:   true,
	})
	if err != nil {
		t.Fatalf("replayed ProcessRequest returned error: %v", err)
	}
	if fx.ledger.credits != 2 {
		t.Fatalf("replay credited again, credits %d", fx.ledger.credits)
	}
}

func TestCreateRequestRejectsUndecidableBet(t *testing.T) {
	fx := newFixture(t)
	bet := fx.seedWonBet(t, 100_000)
	bet.PaymentStatus = enums.PaymentStatusApproved

	_, err := fx.service.CreateRequest(context.Background(), CreateRequestInput{BetIDs: []uuid.UUID{bet.ID}})
	if !pkgerrors.HasCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict, got %v", err)
	}
}
