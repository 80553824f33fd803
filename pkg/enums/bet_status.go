package enums

import "fmt"

// BetStatus maps to the bet_status_enum enum in Postgres.
type BetStatus string

const (
	BetStatusPending BetStatus = "pending"
	BetStatusWon     BetStatus = "won"
	BetStatusLost    BetStatus = "lost"
)

var validBetStatuses = []BetStatus{
	BetStatusPending,
	BetStatusWon,
	BetStatusLost,
}

// IsValid reports whether the value matches the canonical bet status enum.
func (s BetStatus) IsValid() bool {
	for _, candidate := range validBetStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseBetStatus converts raw input into BetStatus.
func ParseBetStatus(value string) (BetStatus, error) {
	for _, candidate := range validBetStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid bet status %q", value)
}
