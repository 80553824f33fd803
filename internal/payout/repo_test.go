package payout

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/lotopoints/backend/pkg/db/models"
	dbtypes "github.com/lotopoints/backend/pkg/db/types"
	"github.com/lotopoints/backend/pkg/enums"
)

func setupPayoutTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	betsTable := `
CREATE TABLE IF NOT EXISTS bets (
  id TEXT PRIMARY KEY,
  account_id TEXT NOT NULL,
  numbers TEXT NOT NULL,
  bet_type TEXT NOT NULL,
  amount INTEGER NOT NULL,
  province_code TEXT,
  status TEXT NOT NULL DEFAULT 'pending',
  win_amount INTEGER NOT NULL DEFAULT 0,
  payment_status TEXT NOT NULL DEFAULT 'pending',
  approved_by TEXT,
  approved_at DATETIME,
  approval_note TEXT,
  confirmed_by TEXT,
  confirmed_at DATETIME,
  result_id TEXT,
  hash TEXT NOT NULL,
  created_at DATETIME,
  updated_at DATETIME
);`
	requestsTable := `
CREATE TABLE IF NOT EXISTS payout_requests (
  id TEXT PRIMARY KEY,
  bet_ids TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  note TEXT,
  processed_by TEXT,
  processed_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, db.Exec(betsTable).Error)
	require.NoError(t, db.Exec(requestsTable).Error)
	return db
}

func seedBetRow(t *testing.T, db *gorm.DB, status enums.BetStatus, payment enums.PaymentStatus) *models.Bet {
	t.Helper()
	province := "XSMB"
	bet, err := models.NewBet(uuid.New(), "47", enums.BetTypeDirect2, 10_000, &province, time.Now().UTC())
	require.NoError(t, err)
	bet.ID = uuid.New()
	bet.Status = status
	bet.PaymentStatus = payment
	if status == enums.BetStatusWon {
		bet.WinAmount = 700_000
	}
	require.NoError(t, db.Create(bet).Error)
	return bet
}

func TestPayoutRepositoryApproveIsConditional(t *testing.T) {
	db := setupPayoutTestDB(t)
	repo := NewRepository(db)
	bet := seedBetRow(t, db, enums.BetStatusWon, enums.PaymentStatusPendingApproval)

	admin := uuid.New()
	affected, err := repo.Approve(context.Background(), bet.ID, admin, nil, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	var stored models.Bet
	require.NoError(t, db.First(&stored, "id = ?", bet.ID).Error)
	assert.Equal(t, enums.PaymentStatusApproved, stored.PaymentStatus)
	require.NotNil(t, stored.ApprovedBy)
	assert.Equal(t, admin, *stored.ApprovedBy)
	assert.NotNil(t, stored.ApprovedAt)

	// replayed decision races against an already-approved row
	affected, err = repo.Approve(context.Background(), bet.ID, uuid.New(), nil, time.Now().UTC())
	require.NoError(t, err)
	assert.Zero(t, affected)
}

func TestPayoutRepositoryApproveSkipsUnsettledBet(t *testing.T) {
	db := setupPayoutTestDB(t)
	repo := NewRepository(db)
	bet := seedBetRow(t, db, enums.BetStatusPending, enums.PaymentStatusPending)

	affected, err := repo.Approve(context.Background(), bet.ID, uuid.New(), nil, time.Now().UTC())
	require.NoError(t, err)
	assert.Zero(t, affected)

	var stored models.Bet
	require.NoError(t, db.First(&stored, "id = ?", bet.ID).Error)
	assert.Equal(t, enums.PaymentStatusPending, stored.PaymentStatus)
}

func TestPayoutRepositoryRejectStampsNote(t *testing.T) {
	db := setupPayoutTestDB(t)
	repo := NewRepository(db)
	bet := seedBetRow(t, db, enums.BetStatusWon, enums.PaymentStatusPendingApproval)

	note := "duplicate claim"
	affected, err := repo.Reject(context.Background(), bet.ID, uuid.New(), &note, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	var stored models.Bet
	require.NoError(t, db.First(&stored, "id = ?", bet.ID).Error)
	assert.Equal(t, enums.PaymentStatusRejected, stored.PaymentStatus)
	require.NotNil(t, stored.ApprovalNote)
	assert.Equal(t, note, *stored.ApprovalNote)
}

func TestPayoutRepositoryConfirmRequiresApproved(t *testing.T) {
	db := setupPayoutTestDB(t)
	repo := NewRepository(db)
	bet := seedBetRow(t, db, enums.BetStatusWon, enums.PaymentStatusPendingApproval)

	affected, err := repo.Confirm(context.Background(), bet.ID, uuid.New(), time.Now().UTC())
	require.NoError(t, err)
	assert.Zero(t, affected, "confirm must not skip the approval step")

	approver := uuid.New()
	_, err = repo.Approve(context.Background(), bet.ID, approver, nil, time.Now().UTC())
	require.NoError(t, err)

	// dual control is enforced by the transition itself
	affected, err = repo.Confirm(context.Background(), bet.ID, approver, time.Now().UTC())
	require.NoError(t, err)
	assert.Zero(t, affected, "approver must not self-attest")

	second := uuid.New()
	affected, err = repo.Confirm(context.Background(), bet.ID, second, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	var stored models.Bet
	require.NoError(t, db.First(&stored, "id = ?", bet.ID).Error)
	assert.Equal(t, enums.PaymentStatusDoubleConfirmed, stored.PaymentStatus)
	require.NotNil(t, stored.ConfirmedBy)
	assert.Equal(t, second, *stored.ConfirmedBy)

	affected, err = repo.Confirm(context.Background(), bet.ID, uuid.New(), time.Now().UTC())
	require.NoError(t, err)
	assert.Zero(t, affected)
}

func TestPayoutRepositoryRequestLifecycle(t *testing.T) {
	db := setupPayoutTestDB(t)
	repo := NewRepository(db)

	ids := dbtypes.UUIDArray{uuid.New(), uuid.New()}
	request := &models.PayoutRequest{
		ID:     uuid.New(),
		BetIDs: ids,
		Status: enums.PayoutRequestStatusPending,
	}
	require.NoError(t, repo.CreateRequest(context.Background(), request))

	found, err := repo.GetRequest(context.Background(), request.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, ids, found.BetIDs, "bet id array must round-trip")

	pending, err := repo.ListRequests(context.Background(), enums.PayoutRequestStatusPending, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	admin := uuid.New()
	affected, err := repo.MarkRequestProcessed(context.Background(), request.ID, enums.PayoutRequestStatusApproved, admin, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	// replay against the already-decided request
	affected, err = repo.MarkRequestProcessed(context.Background(), request.ID, enums.PayoutRequestStatusRejected, uuid.New(), time.Now().UTC())
	require.NoError(t, err)
	assert.Zero(t, affected)

	pending, err = repo.ListRequests(context.Background(), enums.PayoutRequestStatusPending, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestPayoutRepositoryGetRequestMissing(t *testing.T) {
	db := setupPayoutTestDB(t)
	repo := NewRepository(db)

	found, err := repo.GetRequest(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, found)
}
