package reward

import (
	"context"

	pkgerrors "github.com/lotopoints/backend/pkg/errors"

	"github.com/lotopoints/backend/pkg/db/models"
)

// Outcome is what a bet won, as decided by a calculator.
type Outcome struct {
	WinAmount int64
	// Hits is how many tier numbers the bet matched; 1 for direct wins.
	Hits int
	// Labels carry calculator-specific annotations, e.g. bonus markers.
	Labels []string
}

// Calculator turns a matched bet into a win amount. The settlement engine
// is deliberately ignorant of payout math beyond this boundary so reward
// schemes can be swapped without touching settlement.
type Calculator interface {
	Compute(ctx context.Context, bet *models.Bet, hits int) (Outcome, error)
}

// BaseRatioCalculator pays stake times the category's base multiplier
// (70x / 600x / 5000x by digit width). Spread categories are pro-rated:
// the stake notionally covers spreadCount positions, so each hit pays a
// 1/spreadCount share of the full multiplier.
type BaseRatioCalculator struct {
	spreadCount int
}

// NewBaseRatioCalculator builds the fallback calculator. spreadCount must
// match the number of tier positions a spread stake covers.
func NewBaseRatioCalculator(spreadCount int) (*BaseRatioCalculator, error) {
	if spreadCount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "spread count must be positive")
	}
	return &BaseRatioCalculator{spreadCount: spreadCount}, nil
}

func (c *BaseRatioCalculator) Compute(ctx context.Context, bet *models.Bet, hits int) (Outcome, error) {
	if bet == nil {
		return Outcome{}, pkgerrors.New(pkgerrors.CodeInternal, "bet required")
	}
	if hits <= 0 {
		return Outcome{}, nil
	}
	ratio := bet.BetType.BaseRatio()
	if ratio == 0 {
		return Outcome{}, pkgerrors.New(pkgerrors.CodeInternal, "no base ratio for bet type").
			WithDetails(map[string]any{"bet_type": bet.BetType})
	}

	if bet.BetType.IsSpread() {
		return Outcome{
			WinAmount: bet.Amount * ratio * int64(hits) / int64(c.spreadCount),
			Hits:      hits,
		}, nil
	}
	// Direct bets match the special tier once; extra hits cannot happen.
	return Outcome{WinAmount: bet.Amount * ratio, Hits: 1}, nil
}
