package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lotopoints/backend/pkg/enums"
)

// TierValues maps every prize tier to the numbers drawn for it. Stored as
// jsonb; widths are enforced by NewResultProvince before a row can exist.
type TierValues map[enums.PrizeTier][]string

// Result is one published drawing. It is owned by the ingestion collaborator
// and read by settlement; once settlement has run, updating or deleting it
// must first reverse the settlement effects.
type Result struct {
	ID        uuid.UUID        `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	DrawDate  time.Time        `gorm:"column:draw_date;not null;index"`
	Region    enums.Region     `gorm:"column:region;type:region_enum;not null"`
	Provinces []ResultProvince `gorm:"foreignKey:ResultID;constraint:OnDelete:CASCADE"`
	SettledAt *time.Time       `gorm:"column:settled_at"`
	CreatedAt time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

// ResultProvince holds one province's prize tiers within a drawing.
type ResultProvince struct {
	ID           uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ResultID     uuid.UUID  `gorm:"column:result_id;type:uuid;not null;index"`
	ProvinceCode string     `gorm:"column:province_code;not null"`
	Tiers        TierValues `gorm:"column:tiers;type:jsonb;serializer:json"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime"`
}

// NewResult validates a drawing before it can be persisted.
func NewResult(drawDate time.Time, region enums.Region, provinces []ResultProvince) (*Result, error) {
	if drawDate.IsZero() {
		return nil, fmt.Errorf("draw date is required")
	}
	if !region.IsValid() {
		return nil, fmt.Errorf("invalid region %q", region)
	}
	if len(provinces) == 0 {
		return nil, fmt.Errorf("at least one province is required")
	}
	seen := map[string]bool{}
	for i := range provinces {
		if seen[provinces[i].ProvinceCode] {
			return nil, fmt.Errorf("duplicate province %q", provinces[i].ProvinceCode)
		}
		seen[provinces[i].ProvinceCode] = true
	}
	return &Result{
		DrawDate:  drawDate,
		Region:    region,
		Provinces: provinces,
	}, nil
}

// NewResultProvince validates tier widths for one province of a drawing.
// Malformed tiers are rejected here, before settlement can ever see them.
func NewResultProvince(provinceCode string, tiers TierValues) (*ResultProvince, error) {
	if provinceCode == "" {
		return nil, fmt.Errorf("province code is required")
	}
	if len(tiers) == 0 {
		return nil, fmt.Errorf("province %q has no tiers", provinceCode)
	}
	for _, tier := range enums.AllPrizeTiers {
		values, ok := tiers[tier]
		if !ok || len(values) == 0 {
			return nil, fmt.Errorf("province %q missing tier %q", provinceCode, tier)
		}
		for _, value := range values {
			if err := validateNumbers(value, tier.DigitWidth()); err != nil {
				return nil, fmt.Errorf("province %q tier %q: %w", provinceCode, tier, err)
			}
		}
	}
	for tier := range tiers {
		if !tier.IsValid() {
			return nil, fmt.Errorf("province %q has unknown tier %q", provinceCode, tier)
		}
	}
	return &ResultProvince{
		ProvinceCode: provinceCode,
		Tiers:        tiers,
	}, nil
}
