package enums

import "fmt"

// BetType is the closed set of bet categories. Each category carries the
// digit window it matches against and whether it matches only the special
// prize tier (direct) or every tier in scope (spread, "bao lô").
type BetType string

const (
	BetTypeDirect2 BetType = "2D"
	BetTypeDirect3 BetType = "3D"
	BetTypeDirect4 BetType = "4D"
	BetTypeSpread2 BetType = "LO2"
	BetTypeSpread3 BetType = "LO3"
	BetTypeSpread4 BetType = "LO4"
)

var validBetTypes = []BetType{
	BetTypeDirect2,
	BetTypeDirect3,
	BetTypeDirect4,
	BetTypeSpread2,
	BetTypeSpread3,
	BetTypeSpread4,
}

// IsValid reports whether the value matches the canonical bet type enum.
func (t BetType) IsValid() bool {
	for _, candidate := range validBetTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// DigitWidth returns the number of trailing digits the category matches.
func (t BetType) DigitWidth() int {
	switch t {
	case BetTypeDirect2, BetTypeSpread2:
		return 2
	case BetTypeDirect3, BetTypeSpread3:
		return 3
	case BetTypeDirect4, BetTypeSpread4:
		return 4
	default:
		return 0
	}
}

// IsSpread reports whether the category matches against every prize tier
// rather than only the special tier.
func (t BetType) IsSpread() bool {
	switch t {
	case BetTypeSpread2, BetTypeSpread3, BetTypeSpread4:
		return true
	default:
		return false
	}
}

// BaseRatio returns the fallback payout multiplier for the category's digit
// width: 70x for 2 digits, 600x for 3, 5000x for 4. Spread categories are
// pro-rated by the configured spread count at settlement time.
func (t BetType) BaseRatio() int64 {
	switch t.DigitWidth() {
	case 2:
		return 70
	case 3:
		return 600
	case 4:
		return 5000
	default:
		return 0
	}
}

// ParseBetType converts raw input into BetType.
func ParseBetType(value string) (BetType, error) {
	for _, candidate := range validBetTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid bet type %q", value)
}
