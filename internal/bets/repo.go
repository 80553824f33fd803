package bets

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lotopoints/backend/pkg/db/models"
	"github.com/lotopoints/backend/pkg/pagination"
)

// Repository manages bet rows. Placement creates them; settlement and the
// payout state machine advance them through conditional updates defined in
// their own packages.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, bet *models.Bet) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Bet, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID, params pagination.Params) ([]models.Bet, string, error)
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Bet, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a bet repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, bet *models.Bet) error {
	return r.db.WithContext(ctx).Create(bet).Error
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Bet, error) {
	var bet models.Bet
	if err := r.db.WithContext(ctx).First(&bet, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &bet, nil
}

func (r *repository) ListByAccount(ctx context.Context, accountID uuid.UUID, params pagination.Params) ([]models.Bet, string, error) {
	limit := pagination.NormalizeLimit(params.Limit)

	query := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit + 1)

	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, "", err
	}
	if cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
	}

	var rows []models.Bet
	if err := query.Find(&rows).Error; err != nil {
		return nil, "", err
	}

	next := ""
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[len(rows)-1]
		next = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return rows, next, nil
}

func (r *repository) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Bet, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []models.Bet
	err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}
