package settlement

import (
	"context"
	"errors"
	"io"
	"testing"
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
	"github.com/lotopoints/backend/pkg/outbox"
	"github.com/lotopoints/backend/pkg/pagination"
)

type fakeSettlementRepo struct {
	bets map[uuid.UUID]*models.Bet
	// served tracks which pending bets have been handed out so the batch
	// loop terminates like the real predicate does.
}

func newFakeSettlementRepo() *fakeSettlementRepo {
	return &fakeSettlementRepo{bets: map[uuid.UUID]*models.Bet{}}
}

func (f *fakeSettlementRepo) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakeSettlementRepo) ListPendingBatch(ctx context.Context, provinceCodes []string, cutoff time.Time, limit int) ([]models.Bet, error) {
	inScope := map[string]bool{}
	for _, code := range provinceCodes {
		inScope[code] = true
	}
	var rows []models.Bet
	for _, bet := range f.bets {
		if bet.Status != enums.BetStatusPending || !bet.CreatedAt.Before(cutoff) {
			continue
		}
		if bet.ProvinceCode != nil && !inScope[*bet.ProvinceCode] {
			continue
		}
		rows = append(rows, *bet)
		if len(rows) == limit {
			break
		}
	}
	return rows, nil
}

func (f *fakeSettlementRepo) MarkSettled(ctx context.Context, betID uuid.UUID, status enums.BetStatus, winAmount int64, paymentStatus enums.PaymentStatus, resultID uuid.UUID) (int64, error) {
	bet, ok := f.bets[betID]
	if !ok || bet.Status != enums.BetStatusPending {
		return 0, nil
	}
	bet.Status = status
	bet.WinAmount = winAmount
	bet.PaymentStatus = paymentStatus
	bet.ResultID = &resultID
	return 1, nil
}

func (f *fakeSettlementRepo) ListByResult(ctx context.Context, resultID uuid.UUID) ([]models.Bet, error) {
	var rows []models.Bet
	for _, bet := range f.bets {
		if bet.ResultID != nil && *bet.ResultID == resultID {
			rows = append(rows, *bet)
		}
	}
	return rows, nil
}

func (f *fakeSettlementRepo) ResetBet(ctx context.Context, betID, resultID uuid.UUID) (int64, error) {
	bet, ok := f.bets[betID]
	if !ok || bet.ResultID == nil || *bet.ResultID != resultID {
		return 0, nil
	}
	bet.Status = enums.BetStatusPending
	bet.WinAmount = 0
	bet.PaymentStatus = enums.PaymentStatusPending
	bet.ResultID = nil
	bet.ApprovedBy = nil
	bet.ApprovedAt = nil
	bet.ApprovalNote = nil
	bet.ConfirmedBy = nil
	bet.ConfirmedAt = nil
	return 1, nil
}

type fakeResultRepo struct {
	results map[uuid.UUID]*models.Result
}

func newFakeResultRepo() *fakeResultRepo {
	return &fakeResultRepo{results: map[uuid.UUID]*models.Result{}}
}

func (f *fakeResultRepo) WithTx(tx *gorm.DB) results.Repository { return f }

func (f *fakeResultRepo) Create(ctx context.Context, result *models.Result) error {
	if result.ID == uuid.Nil {
		result.ID = uuid.New()
	}
	f.results[result.ID] = result
	return nil
}

func (f *fakeResultRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Result, error) {
	return f.results[id], nil
}

func (f *fakeResultRepo) GetByDrawDateRegion(ctx context.Context, drawDate time.Time, region enums.Region) (*models.Result, error) {
	return nil, nil
}

func (f *fakeResultRepo) ListByRegion(ctx context.Context, region enums.Region, limit int) ([]models.Result, error) {
	return nil, nil
}

func (f *fakeResultRepo) ReplaceProvinces(ctx context.Context, resultID uuid.UUID, provinces []models.ResultProvince) error {
	return nil
}

func (f *fakeResultRepo) SetSettledAt(ctx context.Context, resultID uuid.UUID, at *time.Time) error {
	if result, ok := f.results[resultID]; ok {
		result.SettledAt = at
	}
	return nil
}

func (f *fakeResultRepo) Delete(ctx context.Context, resultID uuid.UUID) error {
	delete(f.results, resultID)
	return nil
}

type fakeLedger struct {
	balances map[uuid.UUID]int64
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
	if before < amount {
		return 0, 0, pkgerrors.New(pkgerrors.CodeInsufficientFunds, "balance too low")
	}
	f.balances[accountID] = before - amount
	return before, before - amount, nil
}

func (f *fakeLedger) Credit(ctx context.Context, tx *gorm.DB, accountID uuid.UUID, amount int64) (int64, int64, error) {
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

func strPtr(s string) *string { return &s }

// fullTiers builds a valid tier set where every tier except special holds
// non-matching filler numbers.
func fullTiers(special string) models.TierValues {
	tiers := models.TierValues{
		enums.PrizeTierSpecial: {special},
		enums.PrizeTierFirst:   {"99999"},
		enums.PrizeTierSecond:  {"88888"},
		enums.PrizeTierThird:   {"77777"},
		enums.PrizeTierFourth:  {"66666"},
		enums.PrizeTierFifth:   {"5555"},
		enums.PrizeTierSixth:   {"3333"},
		enums.PrizeTierSeventh: {"222"},
		enums.PrizeTierEighth:  {"11"},
	}
	return tiers
}

type fixture struct {
	service Service
	repo    *fakeSettlementRepo
	results *fakeResultRepo
	ledger  *fakeLedger
	entries *fakeEntryRepo
	outbox  *fakeOutbox
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	fx := &fixture{
		repo:    newFakeSettlementRepo(),
		results: newFakeResultRepo(),
		ledger:  &fakeLedger{balances: map[uuid.UUID]int64{}},
		entries: &fakeEntryRepo{},
		outbox:  &fakeOutbox{},
	}
	calc, err := reward.NewBaseRatioCalculator(27)
	if err != nil {
		t.Fatalf("NewBaseRatioCalculator returned error: %v", err)
	}
	svc, err := NewService(ServiceParams{
		Repo:         fx.repo,
		Results:      fx.results,
		Ledger:       fx.ledger,
		Transactions: fx.entries,
		TxRunner:     stubTxRunner{},
		Outbox:       fx.outbox,
		Calculator:   calc,
		Config:       config.SettlementConfig{BatchSize: 2, SpreadCount: 27},
		Logger:       logger.New(logger.Options{ServiceName: "settlement-test", Output: io.Discard}),
	})
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	fx.service = svc
	return fx
}

func (fx *fixture) seedResult(t *testing.T, provinces ...models.ResultProvince) *models.Result {
	t.Helper()

	result, err := models.NewResult(time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC), enums.RegionSouth, provinces)
	if err != nil {
		t.Fatalf("NewResult returned error: %v", err)
	}
	if err := fx.results.Create(context.Background(), result); err != nil {
		t.Fatalf("seeding result: %v", err)
	}
	return result
}

func (fx *fixture) seedBet(t *testing.T, betType enums.BetType, numbers string, amount int64, province *string) *models.Bet {
	t.Helper()

	bet, err := models.NewBet(uuid.New(), numbers, betType, amount, province, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("NewBet returned error: %v", err)
	}
	bet.ID = uuid.New()
	fx.repo.bets[bet.ID] = bet
	return bet
}

func mustProvince(t *testing.T, code string, tiers models.TierValues) models.ResultProvince {
	t.Helper()

	province, err := models.NewResultProvince(code, tiers)
	if err != nil {
		t.Fatalf("NewResultProvince returned error: %v", err)
	}
	return *province
}

func TestSettleDirectWinOnSpecialTrailingDigits(t *testing.T) {
	fx := newFixture(t)
	result := fx.seedResult(t, mustProvince(t, "XSHCM", fullTiers("123447")))
	won := fx.seedBet(t, enums.BetTypeDirect2, "47", 10_000, strPtr("XSHCM"))
	lost := fx.seedBet(t, enums.BetTypeDirect2, "48", 10_000, strPtr("XSHCM"))

	summary, err := fx.service.Settle(context.Background(), result.ID)
	if err != nil {
		t.Fatalf("Settle returned error: %v", err)
	}
	if summary.WonCount != 1 || summary.LostCount != 1 {
		t.Fatalf("expected 1 won / 1 lost, got %d/%d", summary.WonCount, summary.LostCount)
	}
	if summary.TotalWinAmount != 700_000 {
		t.Fatalf("expected total win 700000, got %d", summary.TotalWinAmount)
	}

	wonBet := fx.repo.bets[won.ID]
	if wonBet.Status != enums.BetStatusWon || wonBet.WinAmount != 700_000 {
		t.Fatalf("unexpected won bet state %s/%d", wonBet.Status, wonBet.WinAmount)
	}
	if wonBet.PaymentStatus != enums.PaymentStatusPendingApproval {
		t.Fatalf("winning bet must await approval, got %s", wonBet.PaymentStatus)
	}
	lostBet := fx.repo.bets[lost.ID]
	if lostBet.Status != enums.BetStatusLost || lostBet.WinAmount != 0 {
		t.Fatalf("unexpected lost bet state %s/%d", lostBet.Status, lostBet.WinAmount)
	}
	if lostBet.PaymentStatus != enums.PaymentStatusPending {
		t.Fatalf("lost bet payment status must stay pending, got %s", lostBet.PaymentStatus)
	}

	if got := len(fx.ledger.balances); got != 0 {
		t.Fatal("settlement must never touch the ledger")
	}
	if len(fx.outbox.events) != 1 || fx.outbox.events[0].EventType != enums.EventResultSettled {
		t.Fatalf("expected result.settled event, got %+v", fx.outbox.events)
	}
	settled := fx.results.results[result.ID]
	if settled.SettledAt == nil {
		t.Fatal("result must carry the settlement stamp")
	}
}

func TestSettleSpreadCountsEveryTierHit(t *testing.T) {
	fx := newFixture(t)
	tiers := fullTiers("123447")
	// Two extra tier numbers ending in 47 give the spread bet three hits.
	tiers[enums.PrizeTierFourth] = []string{"12347"}
	tiers[enums.PrizeTierSeventh] = []string{"647"}
	result := fx.seedResult(t, mustProvince(t, "XSHCM", tiers))
	spread := fx.seedBet(t, enums.BetTypeSpread2, "47", 2_700, nil)

	summary, err := fx.service.Settle(context.Background(), result.ID)
	if err != nil {
		t.Fatalf("Settle returned error: %v", err)
	}
	if summary.WonCount != 1 {
		t.Fatalf("expected spread win, got %+v", summary)
	}
	// 2700 x 70 x 3 / 27
	if got := fx.repo.bets[spread.ID].WinAmount; got != 21_000 {
		t.Fatalf("expected pro-rated win 21000, got %d", got)
	}
}

func TestSettleDirectIgnoresNonSpecialTiers(t *testing.T) {
	fx := newFixture(t)
	tiers := fullTiers("123400")
	tiers[enums.PrizeTierEighth] = []string{"47"}
	result := fx.seedResult(t, mustProvince(t, "XSHCM", tiers))
	direct := fx.seedBet(t, enums.BetTypeDirect2, "47", 10_000, strPtr("XSHCM"))

	summary, err := fx.service.Settle(context.Background(), result.ID)
	if err != nil {
		t.Fatalf("Settle returned error: %v", err)
	}
	if summary.WonCount != 0 || summary.LostCount != 1 {
		t.Fatalf("direct bet must only match the special tier, got %+v", summary)
	}
	if got := fx.repo.bets[direct.ID].Status; got != enums.BetStatusLost {
		t.Fatalf("expected lost, got %s", got)
	}
}

func TestSettleAlreadySettledResultConflicts(t *testing.T) {
	fx := newFixture(t)
	result := fx.seedResult(t, mustProvince(t, "XSHCM", fullTiers("123447")))
	now := time.Now()
	result.SettledAt = &now

	_, err := fx.service.Settle(context.Background(), result.ID)
	if !pkgerrors.HasCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestReverseDebitsCreditedWinningsAndResetsBets(t *testing.T) {
	fx := newFixture(t)
	result := fx.seedResult(t, mustProvince(t, "XSHCM", fullTiers("123447")))

	credited := fx.seedBet(t, enums.BetTypeDirect2, "47", 10_000, strPtr("XSHCM"))
	credited.Status = enums.BetStatusWon
	credited.WinAmount = 700_000
	credited.PaymentStatus = enums.PaymentStatusApproved
	credited.ResultID = &result.ID
	fx.ledger.balances[credited.AccountID] = 700_000

	uncredited := fx.seedBet(t, enums.BetTypeDirect2, "48", 10_000, strPtr("XSHCM"))
	uncredited.Status = enums.BetStatusLost
	uncredited.ResultID = &result.ID

	reversed, err := fx.service.Reverse(context.Background(), result.ID, "result corrected")
	if err != nil {
		t.Fatalf("Reverse returned error: %v", err)
	}
	if reversed != 2 {
		t.Fatalf("expected 2 reversed bets, got %d", reversed)
	}
	if got := fx.ledger.balances[credited.AccountID]; got != 0 {
		t.Fatalf("credited winnings must be debited back, balance %d", got)
	}
	if len(fx.entries.created) != 1 {
		t.Fatalf("expected 1 clawback ledger entry, got %d", len(fx.entries.created))
	}
	for _, bet := range []*models.Bet{credited, uncredited} {
		got := fx.repo.bets[bet.ID]
		if got.Status != enums.BetStatusPending || got.WinAmount != 0 || got.ResultID != nil {
			t.Fatalf("bet %s not fully reset: %s/%d", bet.ID, got.Status, got.WinAmount)
		}
		if got.PaymentStatus != enums.PaymentStatusPending {
			t.Fatalf("payment status not reset, got %s", got.PaymentStatus)
		}
	}
	if len(fx.outbox.events) != 1 || fx.outbox.events[0].EventType != enums.EventResultReversed {
		t.Fatalf("expected result.reversed event, got %+v", fx.outbox.events)
	}
}

func TestReverseFailsWhenWinningsAlreadySpent(t *testing.T) {
	fx := newFixture(t)
	result := fx.seedResult(t, mustProvince(t, "XSHCM", fullTiers("123447")))

	credited := fx.seedBet(t, enums.BetTypeDirect2, "47", 10_000, strPtr("XSHCM"))
	credited.Status = enums.BetStatusWon
	credited.WinAmount = 700_000
	credited.PaymentStatus = enums.PaymentStatusApproved
	credited.ResultID = &result.ID
	fx.ledger.balances[credited.AccountID] = 100

	_, err := fx.service.Reverse(context.Background(), result.ID, "result corrected")
	if !pkgerrors.HasCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict when clawback cannot debit, got %v", err)
	}
}
