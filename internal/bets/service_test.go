package bets

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lotopoints/backend/internal/ledger"
	"github.com/lotopoints/backend/pkg/db/models"
	"github.com/lotopoints/backend/pkg/enums"
	pkgerrors "github.com/lotopoints/backend/pkg/errors"
	"github.com/lotopoints/backend/pkg/logger"
	"github.com/lotopoints/backend/pkg/outbox"
	"github.com/lotopoints/backend/pkg/pagination"
)

type fakeBetRepo struct {
	bets map[uuid.UUID]*models.Bet
}

func newFakeBetRepo() *fakeBetRepo {
	return &fakeBetRepo{bets: map[uuid.UUID]*models.Bet{}}
}

func (f *fakeBetRepo) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakeBetRepo) Create(ctx context.Context, bet *models.Bet) error {
	if bet.ID == uuid.Nil {
		bet.ID = uuid.New()
	}
	f.bets[bet.ID] = bet
	return nil
}

func (f *fakeBetRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Bet, error) {
	return f.bets[id], nil
}

func (f *fakeBetRepo) ListByAccount(ctx context.Context, accountID uuid.UUID, params pagination.Params) ([]models.Bet, string, error) {
	var rows []models.Bet
	for _, bet := range f.bets {
		if bet.AccountID == accountID {
			rows = append(rows, *bet)
		}
	}
	return rows, "", nil
}

func (f *fakeBetRepo) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Bet, error) {
	var rows []models.Bet
	for _, id := range ids {
		if bet, ok := f.bets[id]; ok {
			rows = append(rows, *bet)
		}
	}
	return rows, nil
}

type fakeLedger struct {
	balances map[uuid.UUID]int64
}

func (f *fakeLedger) CreateAccount(ctx context.Context, input ledger.CreateAccountInput) (*models.Account, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeLedger) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	balance, ok := f.balances[id]
	if !ok {
		return nil, nil
	}
	return &models.Account{ID: id, Balance: balance}, nil
}

func (f *fakeLedger) GetAccountByOwnerRef(ctx context.Context, ownerRef string) (*models.Account, error) {
	return nil, nil
}

func (f *fakeLedger) ListTransactions(ctx context.Context, accountID uuid.UUID, params pagination.Params) ([]models.Transaction, string, error) {
	return nil, "", nil
}

func (f *fakeLedger) Debit(ctx context.Context, tx *gorm.DB, accountID uuid.UUID, amount int64) (int64, int64, error) {
	before, ok := f.balances[accountID]
	if !ok {
		return 0, 0, pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
	}
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
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
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

type fixture struct {
	service Service
	repo    *fakeBetRepo
	ledger  *fakeLedger
	entries *fakeEntryRepo
	outbox  *fakeOutbox
}

func newFixture(t *testing.T, balances map[uuid.UUID]int64) *fixture {
	t.Helper()

	fx := &fixture{
		repo:    newFakeBetRepo(),
		ledger:  &fakeLedger{balances: balances},
		entries: &fakeEntryRepo{},
		outbox:  &fakeOutbox{},
	}
	svc, err := NewService(ServiceParams{
		Repo:         fx.repo,
		Ledger:       fx.ledger,
		Transactions: fx.entries,
		TxRunner:     stubTxRunner{},
		Outbox:       fx.outbox,
		Logger:       logger.New(logger.Options{ServiceName: "bets-test", Output: io.Discard}),
	})
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	fx.service = svc
	return fx
}

func strPtr(s string) *string { return &s }

func TestPlaceDirectBetDebitsStake(t *testing.T) {
	account := uuid.New()
	fx := newFixture(t, map[uuid.UUID]int64{account: 50_000})

	bet, err := fx.service.Place(context.Background(), PlaceInput{
		AccountID:    account,
		Numbers:      "47",
		BetType:      enums.BetTypeDirect2,
		Amount:       10_000,
		ProvinceCode: strPtr("XSMB"),
	})
	if err != nil {
		t.Fatalf("Place returned error: %v", err)
	}
	if got := fx.ledger.balances[account]; got != 40_000 {
		t.Fatalf("expected stake debited, balance %d", got)
	}
	if bet.Status != enums.BetStatusPending || bet.PaymentStatus != enums.PaymentStatusPending {
		t.Fatalf("fresh bet must be pending, got %s/%s", bet.Status, bet.PaymentStatus)
	}
	if !bet.VerifyHash() {
		t.Fatal("bet hash does not verify")
	}
	if len(fx.entries.created) != 1 {
		t.Fatalf("expected 1 stake ledger entry, got %d", len(fx.entries.created))
	}
	entry := fx.entries.created[0]
	if entry.Type != enums.TransactionTypeBet || entry.Amount != 10_000 {
		t.Fatalf("unexpected stake entry %+v", entry)
	}
	if len(fx.outbox.events) != 1 || fx.outbox.events[0].EventType != enums.EventBetPlaced {
		t.Fatalf("expected bet.placed event, got %+v", fx.outbox.events)
	}
}

func TestPlaceSpreadBetWithoutProvince(t *testing.T) {
	account := uuid.New()
	fx := newFixture(t, map[uuid.UUID]int64{account: 50_000})

	bet, err := fx.service.Place(context.Background(), PlaceInput{
		AccountID: account,
		Numbers:   "123",
		BetType:   enums.BetTypeSpread3,
		Amount:    5_000,
	})
	if err != nil {
		t.Fatalf("Place returned error: %v", err)
	}
	if bet.ProvinceCode != nil {
		t.Fatal("spread bet without province must stay unscoped")
	}
}

func TestPlaceDirectBetRequiresProvince(t *testing.T) {
	account := uuid.New()
	fx := newFixture(t, map[uuid.UUID]int64{account: 50_000})

	_, err := fx.service.Place(context.Background(), PlaceInput{
		AccountID: account,
		Numbers:   "47",
		BetType:   enums.BetTypeDirect2,
		Amount:    5_000,
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if got := fx.ledger.balances[account]; got != 50_000 {
		t.Fatalf("invalid bet must not debit, balance %d", got)
	}
}

func TestPlaceRejectsWrongDigitWidth(t *testing.T) {
	account := uuid.New()
	fx := newFixture(t, map[uuid.UUID]int64{account: 50_000})

	_, err := fx.service.Place(context.Background(), PlaceInput{
		AccountID:    account,
		Numbers:      "4711",
		BetType:      enums.BetTypeDirect3,
		Amount:       5_000,
		ProvinceCode: strPtr("XSMB"),
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for width mismatch, got %v", err)
	}
}

func TestPlaceInsufficientFundsLeavesNoBet(t *testing.T) {
	account := uuid.New()
	fx := newFixture(t, map[uuid.UUID]int64{account: 1_000})

	_, err := fx.service.Place(context.Background(), PlaceInput{
		AccountID:    account,
		Numbers:      "47",
		BetType:      enums.BetTypeDirect2,
		Amount:       10_000,
		ProvinceCode: strPtr("XSMB"),
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if len(fx.repo.bets) != 0 {
		t.Fatal("no bet row may exist when the stake debit failed")
	}
	if len(fx.outbox.events) != 0 {
		t.Fatal("no event may be queued when the stake debit failed")
	}
}

func TestGetBetNotFound(t *testing.T) {
	fx := newFixture(t, map[uuid.UUID]int64{})

	_, err := fx.service.GetBet(context.Background(), uuid.New())
	if !pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
