package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/lotopoints/backend/pkg/enums"
)

// TransferCompletedEvent records a finished point transfer between accounts.
type TransferCompletedEvent struct {
	TransactionID  uuid.UUID             `json:"transaction_id"`
	SenderID       *uuid.UUID            `json:"sender_id,omitempty"`
	ReceiverID     *uuid.UUID            `json:"receiver_id,omitempty"`
	Type           enums.TransactionType `json:"type"`
	Amount         int64                 `json:"amount"`
	IdempotencyKey string                `json:"idempotency_key,omitempty"`
	Hash           string                `json:"hash"`
}

// DepositRequestedEvent is emitted when an account files a deposit request.
type DepositRequestedEvent struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	AccountID     uuid.UUID `json:"account_id"`
	Amount        int64     `json:"amount"`
}

// WithdrawRequestedEvent is emitted when an account files a withdrawal request.
type WithdrawRequestedEvent struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	AccountID     uuid.UUID `json:"account_id"`
	Amount        int64     `json:"amount"`
}

// RequestProcessedEvent records an admin decision on a pending money request.
type RequestProcessedEvent struct {
	TransactionID uuid.UUID               `json:"transaction_id"`
	AccountID     uuid.UUID               `json:"account_id"`
	Amount        int64                   `json:"amount"`
	Status        enums.TransactionStatus `json:"status"`
	ProcessedBy   uuid.UUID               `json:"processed_by"`
	ProcessedAt   time.Time               `json:"processed_at"`
}

// BetPlacedEvent records an accepted bet and its debit.
type BetPlacedEvent struct {
	BetID        uuid.UUID     `json:"bet_id"`
	AccountID    uuid.UUID     `json:"account_id"`
	BetType      enums.BetType `json:"bet_type"`
	Numbers      string        `json:"numbers"`
	Amount       int64         `json:"amount"`
	ProvinceCode *string       `json:"province_code,omitempty"`
	Hash         string        `json:"hash"`
}

// ResultSettledEvent summarizes a settlement run against a published result.
type ResultSettledEvent struct {
	ResultID       uuid.UUID    `json:"result_id"`
	Region         enums.Region `json:"region"`
	DrawDate       time.Time    `json:"draw_date"`
	WonCount       int          `json:"won_count"`
	LostCount      int          `json:"lost_count"`
	TotalWinAmount int64        `json:"total_win_amount"`
}

// ResultReversedEvent records that settled bets were returned to pending.
type ResultReversedEvent struct {
	ResultID     uuid.UUID `json:"result_id"`
	ReversedBets int       `json:"reversed_bets"`
	Reason       string    `json:"reason,omitempty"`
}

// PayoutDecisionEvent records an approval-workflow transition on a winning bet.
type PayoutDecisionEvent struct {
	BetID     uuid.UUID           `json:"bet_id"`
	AccountID uuid.UUID           `json:"account_id"`
	AdminID   uuid.UUID           `json:"admin_id"`
	Status    enums.PaymentStatus `json:"status"`
	WinAmount int64               `json:"win_amount"`
	Note      string              `json:"note,omitempty"`
	DecidedAt time.Time           `json:"decided_at"`
}

// IntegrityAlertEvent flags a conservation or hash check failure.
type IntegrityAlertEvent struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Detail        string    `json:"detail"`
	DetectedAt    time.Time `json:"detected_at"`
}
