package enums

import "fmt"

// PayoutRequestStatus maps to the payout_request_status_enum enum in Postgres.
type PayoutRequestStatus string

const (
	PayoutRequestStatusPending   PayoutRequestStatus = "pending"
	PayoutRequestStatusApproved  PayoutRequestStatus = "approved"
	PayoutRequestStatusRejected  PayoutRequestStatus = "rejected"
	PayoutRequestStatusCancelled PayoutRequestStatus = "cancelled"
)

var validPayoutRequestStatuses = []PayoutRequestStatus{
	PayoutRequestStatusPending,
	PayoutRequestStatusApproved,
	PayoutRequestStatusRejected,
	PayoutRequestStatusCancelled,
}

// IsValid reports whether the value matches the canonical payout request status enum.
func (s PayoutRequestStatus) IsValid() bool {
	for _, candidate := range validPayoutRequestStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParsePayoutRequestStatus converts raw input into PayoutRequestStatus.
func ParsePayoutRequestStatus(value string) (PayoutRequestStatus, error) {
	for _, candidate := range validPayoutRequestStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payout request status %q", value)
}
