package settlement

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lotopoints/backend/pkg/db/models"
	"github.com/lotopoints/backend/pkg/enums"
)

// Repository holds the settlement-specific bet queries: the pending scan and
// the conditional state flips. All writes are guarded on the current state so
// a raced second settlement run affects zero rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	// ListPendingBatch returns pending bets eligible for the provinces of a
	// drawing, bounded to stakes placed before the cutoff. Settled rows drop
	// out of the predicate, so callers loop until the batch comes back empty.
	ListPendingBatch(ctx context.Context, provinceCodes []string, cutoff time.Time, limit int) ([]models.Bet, error)
	// MarkSettled flips a pending bet to its outcome. Zero rows affected
	// means another worker settled it first.
	MarkSettled(ctx context.Context, betID uuid.UUID, status enums.BetStatus, winAmount int64, paymentStatus enums.PaymentStatus, resultID uuid.UUID) (int64, error)
	ListByResult(ctx context.Context, resultID uuid.UUID) ([]models.Bet, error)
	// ResetBet returns a settled bet to pending, dropping its outcome, win
	// amount, approval trail and result link.
	ResetBet(ctx context.Context, betID, resultID uuid.UUID) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a settlement repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) ListPendingBatch(ctx context.Context, provinceCodes []string, cutoff time.Time, limit int) ([]models.Bet, error) {
	var rows []models.Bet
	err := r.db.WithContext(ctx).
		Where("status = ?", enums.BetStatusPending).
		Where("created_at < ?", cutoff).
		Where("province_code IN ? OR province_code IS NULL", provinceCodes).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repository) MarkSettled(ctx context.Context, betID uuid.UUID, status enums.BetStatus, winAmount int64, paymentStatus enums.PaymentStatus, resultID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Bet{}).
		Where("id = ? AND status = ?", betID, enums.BetStatusPending).
		Updates(map[string]any{
			"status":         status,
			"win_amount":     winAmount,
			"payment_status": paymentStatus,
			"result_id":      resultID,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) ListByResult(ctx context.Context, resultID uuid.UUID) ([]models.Bet, error) {
	var rows []models.Bet
	err := r.db.WithContext(ctx).
		Where("result_id = ?", resultID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) ResetBet(ctx context.Context, betID, resultID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Bet{}).
		Where("id = ? AND result_id = ?", betID, resultID).
		Updates(map[string]any{
			"status":         enums.BetStatusPending,
			"win_amount":     0,
			"payment_status": enums.PaymentStatusPending,
			"result_id":      nil,
			"approved_by":    nil,
			"approved_at":    nil,
			"approval_note":  nil,
			"confirmed_by":   nil,
			"confirmed_at":   nil,
		})
	return res.RowsAffected, res.Error
}
