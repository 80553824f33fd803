package results

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lotopoints/backend/pkg/db/models"
	"github.com/lotopoints/backend/pkg/enums"
	pkgerrors "github.com/lotopoints/backend/pkg/errors"
	"github.com/lotopoints/backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// settlementReverser undoes settlement effects inside the caller's
// transaction. Updating or deleting a settled result is forbidden until its
// credited winnings have been debited back and its bets reset.
type settlementReverser interface {
	ReverseTx(ctx context.Context, tx *gorm.DB, resultID uuid.UUID, reason string) (int, error)
}

// Service owns result ingestion and mutation. Results are append-mostly:
// a published drawing changes only through the reversal-gated Update/Delete.
type Service interface {
	Ingest(ctx context.Context, input IngestInput) (*models.Result, error)
	GetResult(ctx context.Context, id uuid.UUID) (*models.Result, error)
	ListByRegion(ctx context.Context, region enums.Region, limit int) ([]models.Result, error)
	Update(ctx context.Context, input UpdateInput) (*models.Result, error)
	Delete(ctx context.Context, resultID uuid.UUID, reason string) error
}

// ServiceParams wires the result service dependencies.
type ServiceParams struct {
	Repo     Repository
	TxRunner txRunner
	Reverser settlementReverser
	Logger   *logger.Logger
}

type service struct {
	repo     Repository
	tx       txRunner
	reverser settlementReverser
	logg     *logger.Logger
}

// ProvinceInput is one province's tiers in an ingested drawing.
type ProvinceInput struct {
	ProvinceCode string            `json:"province_code" validate:"required"`
	Tiers        models.TierValues `json:"tiers" validate:"required"`
}

// IngestInput is a full drawing as published.
type IngestInput struct {
	DrawDate  time.Time       `json:"draw_date" validate:"required"`
	Region    enums.Region    `json:"region" validate:"required"`
	Provinces []ProvinceInput `json:"provinces" validate:"required,min=1"`
}

// UpdateInput replaces the provinces of an existing drawing.
type UpdateInput struct {
	ResultID  uuid.UUID       `json:"result_id" validate:"required"`
	Provinces []ProvinceInput `json:"provinces" validate:"required,min=1"`
	Reason    string          `json:"reason,omitempty"`
}

// NewService wires a result service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "result repository required")
	}
	if params.TxRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Reverser == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "settlement reverser required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &service{
		repo:     params.Repo,
		tx:       params.TxRunner,
		reverser: params.Reverser,
		logg:     params.Logger,
	}, nil
}

func (s *service) Ingest(ctx context.Context, input IngestInput) (*models.Result, error) {
	provinces, err := buildProvinces(input.Provinces)
	if err != nil {
		return nil, err
	}
	result, err := models.NewResult(input.DrawDate, input.Region, provinces)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid result")
	}

	existing, err := s.repo.GetByDrawDateRegion(ctx, input.DrawDate, input.Region)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "looking up result")
	}
	if existing != nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "result already published for this draw date and region").
			WithDetails(map[string]any{"result_id": existing.ID.String()})
	}

	if err := s.repo.Create(ctx, result); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating result")
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"result_id": result.ID.String(),
		"region":    result.Region,
		"draw_date": result.DrawDate.Format("2006-01-02"),
		"provinces": len(result.Provinces),
	}), "result ingested")
	return result, nil
}

func (s *service) GetResult(ctx context.Context, id uuid.UUID) (*models.Result, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "result id is required")
	}
	result, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading result")
	}
	if result == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "result not found").
			WithDetails(map[string]any{"result_id": id.String()})
	}
	return result, nil
}

func (s *service) ListByRegion(ctx context.Context, region enums.Region, limit int) ([]models.Result, error) {
	if !region.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid region")
	}
	rows, err := s.repo.ListByRegion(ctx, region, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing results")
	}
	return rows, nil
}

func (s *service) Update(ctx context.Context, input UpdateInput) (*models.Result, error) {
	result, err := s.GetResult(ctx, input.ResultID)
	if err != nil {
		return nil, err
	}
	provinces, err := buildProvinces(input.Provinces)
	if err != nil {
		return nil, err
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if result.SettledAt != nil {
			reversed, err := s.reverser.ReverseTx(ctx, tx, result.ID, reasonOrDefault(input.Reason, "result updated"))
			if err != nil {
				return err
			}
			s.logg.Info(s.logg.WithFields(ctx, map[string]any{
				"result_id":     result.ID.String(),
				"reversed_bets": reversed,
			}), "settlement reversed before result update")
			if err := repo.SetSettledAt(ctx, result.ID, nil); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "clearing settlement stamp")
			}
		}
		if err := repo.ReplaceProvinces(ctx, result.ID, provinces); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "replacing result provinces")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetResult(ctx, input.ResultID)
}

func (s *service) Delete(ctx context.Context, resultID uuid.UUID, reason string) error {
	result, err := s.GetResult(ctx, resultID)
	if err != nil {
		return err
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if result.SettledAt != nil {
			reversed, err := s.reverser.ReverseTx(ctx, tx, result.ID, reasonOrDefault(reason, "result deleted"))
			if err != nil {
				return err
			}
			s.logg.Info(s.logg.WithFields(ctx, map[string]any{
				"result_id":     result.ID.String(),
				"reversed_bets": reversed,
			}), "settlement reversed before result delete")
		}
		if err := repo.Delete(ctx, result.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "deleting result")
		}
		return nil
	})
}

func buildProvinces(inputs []ProvinceInput) ([]models.ResultProvince, error) {
	if len(inputs) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one province is required")
	}
	provinces := make([]models.ResultProvince, 0, len(inputs))
	for _, input := range inputs {
		province, err := models.NewResultProvince(input.ProvinceCode, input.Tiers)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid province tiers")
		}
		provinces = append(provinces, *province)
	}
	return provinces, nil
}

func reasonOrDefault(reason, fallback string) string {
	if reason == "" {
		return fallback
	}
	return reason
}
