package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lotopoints/backend/pkg/enums"
)

// Bet is a stake on a number within one of the closed bet categories. The
// row is created at placement (after the stake has been debited atomically);
// Status/WinAmount are set exactly once by settlement and PaymentStatus is
// advanced only by the payout approval state machine.
type Bet struct {
	ID            uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AccountID     uuid.UUID           `gorm:"column:account_id;type:uuid;not null;index"`
	Numbers       string              `gorm:"column:numbers;not null"`
	BetType       enums.BetType       `gorm:"column:bet_type;type:bet_type_enum;not null"`
	Amount        int64               `gorm:"column:amount;not null"`
	ProvinceCode  *string             `gorm:"column:province_code"`
	Status        enums.BetStatus     `gorm:"column:status;type:bet_status_enum;not null;default:'pending'"`
	WinAmount     int64               `gorm:"column:win_amount;not null;default:0"`
	PaymentStatus enums.PaymentStatus `gorm:"column:payment_status;type:payment_status_enum;not null;default:'pending'"`

	ApprovedBy   *uuid.UUID `gorm:"column:approved_by;type:uuid"`
	ApprovedAt   *time.Time `gorm:"column:approved_at"`
	ApprovalNote *string    `gorm:"column:approval_note"`
	ConfirmedBy  *uuid.UUID `gorm:"column:confirmed_by;type:uuid"`
	ConfirmedAt  *time.Time `gorm:"column:confirmed_at"`

	ResultID *uuid.UUID `gorm:"column:result_id;type:uuid;index"`

	Hash      string    `gorm:"column:hash;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// NewBet validates the stake against its category and seals the defining
// fields with an integrity hash.
func NewBet(accountID uuid.UUID, numbers string, betType enums.BetType, amount int64, provinceCode *string, at time.Time) (*Bet, error) {
	if accountID == uuid.Nil {
		return nil, fmt.Errorf("account id is required")
	}
	if !betType.IsValid() {
		return nil, fmt.Errorf("invalid bet type %q", betType)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("bet amount must be positive, got %d", amount)
	}
	if err := validateNumbers(numbers, betType.DigitWidth()); err != nil {
		return nil, err
	}
	if provinceCode != nil && *provinceCode == "" {
		provinceCode = nil
	}
	// Only spread bets may omit the province; direct bets match a single
	// province's special tier.
	if provinceCode == nil && !betType.IsSpread() {
		return nil, fmt.Errorf("province code is required for bet type %q", betType)
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	bet := &Bet{
		AccountID:     accountID,
		Numbers:       numbers,
		BetType:       betType,
		Amount:        amount,
		ProvinceCode:  provinceCode,
		Status:        enums.BetStatusPending,
		PaymentStatus: enums.PaymentStatusPending,
		CreatedAt:     at,
	}
	bet.Hash = bet.computeHash()
	return bet, nil
}

// VerifyHash recomputes the integrity hash and reports whether it matches.
func (b *Bet) VerifyHash() bool {
	return b != nil && b.Hash == b.computeHash()
}

func (b *Bet) computeHash() string {
	province := ""
	if b.ProvinceCode != nil {
		province = *b.ProvinceCode
	}
	payload := fmt.Sprintf("%s|%s|%s|%d|%s|%d", b.AccountID, b.Numbers, b.BetType, b.Amount, province, b.CreatedAt.UTC().UnixNano())
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

func validateNumbers(numbers string, width int) error {
	if len(numbers) != width {
		return fmt.Errorf("numbers %q must have exactly %d digits", numbers, width)
	}
	for _, r := range numbers {
		if r < '0' || r > '9' {
			return fmt.Errorf("numbers %q must be numeric", numbers)
		}
	}
	return nil
}
