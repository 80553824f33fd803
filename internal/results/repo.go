package results

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lotopoints/backend/pkg/db/models"
	"github.com/lotopoints/backend/pkg/enums"
)

// Repository manages published drawings and their per-province tiers.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, result *models.Result) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Result, error)
	GetByDrawDateRegion(ctx context.Context, drawDate time.Time, region enums.Region) (*models.Result, error)
	ListByRegion(ctx context.Context, region enums.Region, limit int) ([]models.Result, error)
	ReplaceProvinces(ctx context.Context, resultID uuid.UUID, provinces []models.ResultProvince) error
	SetSettledAt(ctx context.Context, resultID uuid.UUID, at *time.Time) error
	Delete(ctx context.Context, resultID uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a result repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, result *models.Result) error {
	return r.db.WithContext(ctx).Create(result).Error
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Result, error) {
	var result models.Result
	err := r.db.WithContext(ctx).
		Preload("Provinces").
		First(&result, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &result, nil
}

func (r *repository) GetByDrawDateRegion(ctx context.Context, drawDate time.Time, region enums.Region) (*models.Result, error) {
	var result models.Result
	err := r.db.WithContext(ctx).
		Preload("Provinces").
		First(&result, "draw_date = ? AND region = ?", drawDate, region).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &result, nil
}

func (r *repository) ListByRegion(ctx context.Context, region enums.Region, limit int) ([]models.Result, error) {
	if limit <= 0 {
		limit = 30
	}
	var rows []models.Result
	err := r.db.WithContext(ctx).
		Preload("Provinces").
		Where("region = ?", region).
		Order("draw_date DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repository) ReplaceProvinces(ctx context.Context, resultID uuid.UUID, provinces []models.ResultProvince) error {
	db := r.db.WithContext(ctx)
	if err := db.Where("result_id = ?", resultID).Delete(&models.ResultProvince{}).Error; err != nil {
		return err
	}
	for i := range provinces {
		provinces[i].ResultID = resultID
	}
	return db.Create(&provinces).Error
}

func (r *repository) SetSettledAt(ctx context.Context, resultID uuid.UUID, at *time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Result{}).
		Where("id = ?", resultID).
		UpdateColumn("settled_at", at).Error
}

func (r *repository) Delete(ctx context.Context, resultID uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&models.Result{}, "id = ?", resultID).Error
}
