package models

import (
	"time"

	"github.com/google/uuid"
)

// Account holds an owner's point balance. The balance column is mutated only
// through the ledger's conditional debit/credit primitives and is guarded by
// a non-negative CHECK constraint.
type Account struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OwnerRef    string    `gorm:"column:owner_ref;not null;uniqueIndex"`
	DisplayName string    `gorm:"column:display_name;not null"`
	Balance     int64     `gorm:"column:balance;not null;default:0"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
