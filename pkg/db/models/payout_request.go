package models

import (
	"time"

	"github.com/google/uuid"

	dbtypes "github.com/lotopoints/backend/pkg/db/types"
	"github.com/lotopoints/backend/pkg/enums"
)

// PayoutRequest batches winning bets awaiting admin approval. Each member bet
// still passes the per-bet state machine guard when the batch is processed.
type PayoutRequest struct {
	ID          uuid.UUID                 `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	BetIDs      dbtypes.UUIDArray         `gorm:"column:bet_ids;type:uuid[];not null"`
	Status      enums.PayoutRequestStatus `gorm:"column:status;type:payout_request_status_enum;not null;default:'pending'"`
	Note        *string                   `gorm:"column:note"`
	ProcessedBy *uuid.UUID                `gorm:"column:processed_by;type:uuid"`
	ProcessedAt *time.Time                `gorm:"column:processed_at"`
	CreatedAt   time.Time                 `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time                 `gorm:"column:updated_at;autoUpdateTime"`
}
