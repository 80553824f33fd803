package enums

import "fmt"

// PrizeTier names the ranked result fields of a drawing. Every tier is a
// fixed-width numeric string; the width is part of the published format and
// results that violate it are rejected before settlement runs.
type PrizeTier string

const (
	PrizeTierSpecial PrizeTier = "special"
	PrizeTierFirst   PrizeTier = "first"
	PrizeTierSecond  PrizeTier = "second"
	PrizeTierThird   PrizeTier = "third"
	PrizeTierFourth  PrizeTier = "fourth"
	PrizeTierFifth   PrizeTier = "fifth"
	PrizeTierSixth   PrizeTier = "sixth"
	PrizeTierSeventh PrizeTier = "seventh"
	PrizeTierEighth  PrizeTier = "eighth"
)

// AllPrizeTiers lists every tier in rank order, special first.
var AllPrizeTiers = []PrizeTier{
	PrizeTierSpecial,
	PrizeTierFirst,
	PrizeTierSecond,
	PrizeTierThird,
	PrizeTierFourth,
	PrizeTierFifth,
	PrizeTierSixth,
	PrizeTierSeventh,
	PrizeTierEighth,
}

var prizeTierWidths = map[PrizeTier]int{
	PrizeTierSpecial: 6,
	PrizeTierFirst:   5,
	PrizeTierSecond:  5,
	PrizeTierThird:   5,
	PrizeTierFourth:  5,
	PrizeTierFifth:   4,
	PrizeTierSixth:   4,
	PrizeTierSeventh: 3,
	PrizeTierEighth:  2,
}

// IsValid reports whether the value names a known prize tier.
func (t PrizeTier) IsValid() bool {
	_, ok := prizeTierWidths[t]
	return ok
}

// DigitWidth returns the fixed numeric width of the tier.
func (t PrizeTier) DigitWidth() int {
	return prizeTierWidths[t]
}

// ParsePrizeTier converts raw input into PrizeTier.
func ParsePrizeTier(value string) (PrizeTier, error) {
	for tier := range prizeTierWidths {
		if string(tier) == value {
			return tier, nil
		}
	}
	return "", fmt.Errorf("invalid prize tier %q", value)
}
