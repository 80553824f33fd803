package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lotopoints/backend/pkg/enums"
)

// Transaction is the immutable ledger entry for a single money movement.
// Rows are created once per committed movement and never mutated after
// reaching a terminal status, except the ProcessedBy/ProcessedAt annotation
// an admin stamps on pending deposit/withdraw requests.
type Transaction struct {
	ID             uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Type           enums.TransactionType   `gorm:"column:type;type:transaction_type_enum;not null"`
	Status         enums.TransactionStatus `gorm:"column:status;type:transaction_status_enum;not null;default:'pending'"`
	Amount         int64                   `gorm:"column:amount;not null"`
	SenderID       *uuid.UUID              `gorm:"column:sender_id;type:uuid"`
	ReceiverID     *uuid.UUID              `gorm:"column:receiver_id;type:uuid"`
	IdempotencyKey *string                 `gorm:"column:idempotency_key;uniqueIndex"`

	SenderBalanceBefore   *int64 `gorm:"column:sender_balance_before"`
	SenderBalanceAfter    *int64 `gorm:"column:sender_balance_after"`
	ReceiverBalanceBefore *int64 `gorm:"column:receiver_balance_before"`
	ReceiverBalanceAfter  *int64 `gorm:"column:receiver_balance_after"`

	Note        *string    `gorm:"column:note"`
	ProcessedBy *uuid.UUID `gorm:"column:processed_by;type:uuid"`
	ProcessedAt *time.Time `gorm:"column:processed_at"`

	Hash      string    `gorm:"column:hash;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// NewTransaction validates the defining fields of a ledger entry and seals
// them with an integrity hash. Entries must be constructed through here so a
// row can never exist without its hash.
func NewTransaction(txType enums.TransactionType, amount int64, sender, receiver *uuid.UUID, at time.Time) (*Transaction, error) {
	if !txType.IsValid() {
		return nil, fmt.Errorf("invalid transaction type %q", txType)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("transaction amount must be positive, got %d", amount)
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	entry := &Transaction{
		Type:       txType,
		Status:     enums.TransactionStatusPending,
		Amount:     amount,
		SenderID:   sender,
		ReceiverID: receiver,
		CreatedAt:  at,
	}
	entry.Hash = entry.computeHash()
	return entry, nil
}

// VerifyHash recomputes the integrity hash and reports whether it matches.
func (t *Transaction) VerifyHash() bool {
	return t != nil && t.Hash == t.computeHash()
}

func (t *Transaction) computeHash() string {
	sender := ""
	if t.SenderID != nil {
		sender = t.SenderID.String()
	}
	receiver := ""
	if t.ReceiverID != nil {
		receiver = t.ReceiverID.String()
	}
	payload := fmt.Sprintf("%s|%d|%s|%s|%d", t.Type, t.Amount, sender, receiver, t.CreatedAt.UTC().UnixNano())
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
