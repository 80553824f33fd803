package payout

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lotopoints/backend/pkg/db/models"
	"github.com/lotopoints/backend/pkg/enums"
)

// Repository holds the payout state-machine writes. Every transition is a
// single conditional UPDATE keyed on the current payment status, so a raced
// duplicate decision affects zero rows instead of double-crediting.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	// Approve moves pending_approval -> approved and stamps the approver.
	Approve(ctx context.Context, betID, adminID uuid.UUID, note *string, at time.Time) (int64, error)
	// Reject moves pending_approval -> rejected. The note is mandatory at
	// the service layer.
	Reject(ctx context.Context, betID, adminID uuid.UUID, note *string, at time.Time) (int64, error)
	// Confirm moves approved -> double_confirmed. The WHERE clause excludes
	// the approver, so dual control holds even when the confirm races the
	// approval it never saw.
	Confirm(ctx context.Context, betID, adminID uuid.UUID, at time.Time) (int64, error)

	CreateRequest(ctx context.Context, request *models.PayoutRequest) error
	GetRequest(ctx context.Context, id uuid.UUID) (*models.PayoutRequest, error)
	ListRequests(ctx context.Context, status enums.PayoutRequestStatus, limit int) ([]models.PayoutRequest, error)
	// MarkRequestProcessed stamps a decision on a pending request.
	MarkRequestProcessed(ctx context.Context, id uuid.UUID, status enums.PayoutRequestStatus, adminID uuid.UUID, at time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a payout repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Approve(ctx context.Context, betID, adminID uuid.UUID, note *string, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Bet{}).
		Where("id = ? AND status = ? AND payment_status = ?", betID, enums.BetStatusWon, enums.PaymentStatusPendingApproval).
		Updates(map[string]any{
			"payment_status": enums.PaymentStatusApproved,
			"approved_by":    adminID,
			"approved_at":    at,
			"approval_note":  note,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) Reject(ctx context.Context, betID, adminID uuid.UUID, note *string, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Bet{}).
		Where("id = ? AND status = ? AND payment_status = ?", betID, enums.BetStatusWon, enums.PaymentStatusPendingApproval).
		Updates(map[string]any{
			"payment_status": enums.PaymentStatusRejected,
			"approved_by":    adminID,
			"approved_at":    at,
			"approval_note":  note,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) Confirm(ctx context.Context, betID, adminID uuid.UUID, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Bet{}).
		Where("id = ? AND payment_status = ? AND approved_by <> ?", betID, enums.PaymentStatusApproved, adminID).
		Updates(map[string]any{
			"payment_status": enums.PaymentStatusDoubleConfirmed,
			"confirmed_by":   adminID,
			"confirmed_at":   at,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) CreateRequest(ctx context.Context, request *models.PayoutRequest) error {
	return r.db.WithContext(ctx).Create(request).Error
}

func (r *repository) GetRequest(ctx context.Context, id uuid.UUID) (*models.PayoutRequest, error) {
	var request models.PayoutRequest
	if err := r.db.WithContext(ctx).First(&request, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &request, nil
}

func (r *repository) ListRequests(ctx context.Context, status enums.PayoutRequestStatus, limit int) ([]models.PayoutRequest, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.PayoutRequest
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repository) MarkRequestProcessed(ctx context.Context, id uuid.UUID, status enums.PayoutRequestStatus, adminID uuid.UUID, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.PayoutRequest{}).
		Where("id = ? AND status = ?", id, enums.PayoutRequestStatusPending).
		Updates(map[string]any{
			"status":       status,
			"processed_by": adminID,
			"processed_at": at,
		})
	return res.RowsAffected, res.Error
}
