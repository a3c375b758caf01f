package domain

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

const day = 24 * time.Hour

// endTimeSkew absorbs the delay between a client computing an absolute
// endTime and the request reaching the factory.
const endTimeSkew = 5 * time.Minute

// FactoryPolicy holds the market creation rules.
type FactoryPolicy struct {
	MinQuestionLength int
	MaxQuestionLength int
	MinDurationDays   int
	MaxDurationDays   int
	MinLiquidity      decimal.Decimal
}

// DefaultFactoryPolicy returns the production rules: 10–200 characters,
// 1–365 days and at least one whole token (10^18 base units) of liquidity.
func DefaultFactoryPolicy() FactoryPolicy {
	return FactoryPolicy{
		MinQuestionLength: 10,
		MaxQuestionLength: 200,
		MinDurationDays:   1,
		MaxDurationDays:   365,
		MinLiquidity:      decimal.New(1, 18),
	}
}

// CreateMarketRequest is the input of createMarket. Exactly one of
// DurationDays or EndTime is used; EndTime wins when set.
type CreateMarketRequest struct {
	Creator          common.Address
	Question         string
	DurationDays     int
	EndTime          *time.Time
	InitialLiquidity decimal.Decimal
}

// Validate checks req against the policy and returns the normalised
// question and the computed end time.
func (p FactoryPolicy) Validate(req CreateMarketRequest, now time.Time) (string, time.Time, error) {
	question := strings.TrimSpace(req.Question)
	n := utf8.RuneCountInString(question)
	if n < p.MinQuestionLength {
		return "", time.Time{}, ErrQuestionTooShort
	}
	if n > p.MaxQuestionLength {
		return "", time.Time{}, ErrQuestionTooLong
	}

	endTime, err := p.endTime(req, now)
	if err != nil {
		return "", time.Time{}, err
	}

	if !req.InitialLiquidity.IsInteger() || req.InitialLiquidity.LessThan(p.MinLiquidity) {
		return "", time.Time{}, ErrLiquidityTooLow
	}
	if !req.InitialLiquidity.IsPositive() {
		return "", time.Time{}, ErrLiquidityTooLow
	}
	return question, endTime, nil
}

func (p FactoryPolicy) endTime(req CreateMarketRequest, now time.Time) (time.Time, error) {
	minDur := time.Duration(p.MinDurationDays) * day
	maxDur := time.Duration(p.MaxDurationDays) * day

	if req.EndTime != nil {
		d := req.EndTime.Sub(now)
		if d < minDur-endTimeSkew || d > maxDur {
			return time.Time{}, ErrInvalidDuration
		}
		return req.EndTime.UTC(), nil
	}

	if req.DurationDays < p.MinDurationDays || req.DurationDays > p.MaxDurationDays {
		return time.Time{}, ErrInvalidDuration
	}
	return now.Add(time.Duration(req.DurationDays) * day).UTC(), nil
}

// SplitLiquidity seeds the pools: YES receives the odd unit.
func SplitLiquidity(liquidity decimal.Decimal) (yes, no decimal.Decimal) {
	two := decimal.NewFromInt(2)
	half, rem := liquidity.QuoRem(two, 0)
	return half.Add(rem), half
}

// NewMarket validates req and returns the seeded market together with the
// creator's seed position. id and seq come from the registry.
func (p FactoryPolicy) NewMarket(id common.Address, seq int64, req CreateMarketRequest, now time.Time) (*Market, *Position, error) {
	question, endTime, err := p.Validate(req, now)
	if err != nil {
		return nil, nil, err
	}

	yes, no := SplitLiquidity(req.InitialLiquidity)
	m := &Market{
		ID:               id,
		Sequence:         seq,
		Question:         question,
		EndTime:          endTime,
		YesPool:          yes,
		NoPool:           no,
		InitialLiquidity: req.InitialLiquidity,
		TotalYesShares:   yes,
		TotalNoShares:    no,
		TotalVolume:      decimal.Zero,
		Status:           StatusActive,
		Resolver:         req.Creator,
		CreatedAt:        now.UTC(),
		Revision:         1,
	}

	seed := NewPosition(id, req.Creator)
	seed.YesShares = yes
	seed.NoShares = no
	seed.UpdatedAt = now
	return m, seed, nil
}
