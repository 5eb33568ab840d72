package optimizer

import (
	apperrors "exec_optimizer/pkg/errors"
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	// DefaultMaxExecutionTimeMs is the deadline carried by plans when none is configured
	DefaultMaxExecutionTimeMs int64 = 300_000
	// DefaultPriceDecimals is the LIMIT price precision; negative disables rounding
	DefaultPriceDecimals = 8
	// DefaultSizeDecimals is the step size precision
	DefaultSizeDecimals = 8
)

// Params holds the tunable constants of the selector and planner
type Params struct {
	// Hybrid scoring
	SizeReference       decimal.Decimal
	VolatilityReference decimal.Decimal
	MarketThreshold     decimal.Decimal // score strictly above selects market
	MakerThreshold      decimal.Decimal // score strictly below selects maker
	SplitLimitRatio     decimal.Decimal
	SplitDelayCapMs     int64

	// Size aware tiers
	IcebergMinAmount decimal.Decimal
	IcebergChunk     decimal.Decimal
	IcebergMinSteps  int
	IcebergMaxSteps  int
	IcebergWindowMs  int64
	VWAPMinAmount    decimal.Decimal
	VWAPChunk        decimal.Decimal
	VWAPMinSteps     int
	VWAPMaxSteps     int
	VWAPWindowMs     int64

	PriceDecimals int
	SizeDecimals  int
}

// DefaultParams returns the stock tuning
func DefaultParams() Params {
	return Params{
		SizeReference:       decimal.NewFromInt(10_000),
		VolatilityReference: decimal.RequireFromString("0.05"),
		MarketThreshold:     decimal.RequireFromString("0.65"),
		MakerThreshold:      decimal.RequireFromString("0.35"),
		SplitLimitRatio:     decimal.RequireFromString("0.6"),
		SplitDelayCapMs:     90_000,

		IcebergMinAmount: decimal.NewFromInt(1_000),
		IcebergChunk:     decimal.NewFromInt(2_000),
		IcebergMinSteps:  2,
		IcebergMaxSteps:  3,
		IcebergWindowMs:  120_000,
		VWAPMinAmount:    decimal.NewFromInt(5_000),
		VWAPChunk:        decimal.NewFromInt(1_000),
		VWAPMinSteps:     5,
		VWAPMaxSteps:     10,
		VWAPWindowMs:     300_000,

		PriceDecimals: DefaultPriceDecimals,
		SizeDecimals:  DefaultSizeDecimals,
	}
}

// Validate checks that the params describe a usable planner
func (p Params) Validate() error {
	one := decimal.NewFromInt(1)
	var problems []string

	if !p.SizeReference.IsPositive() {
		problems = append(problems, "size_reference must be positive")
	}
	if !p.VolatilityReference.IsPositive() {
		problems = append(problems, "volatility_reference must be positive")
	}
	if p.MakerThreshold.IsNegative() || p.MarketThreshold.GreaterThan(one) || p.MakerThreshold.GreaterThan(p.MarketThreshold) {
		problems = append(problems, "thresholds must satisfy 0 <= maker <= market <= 1")
	}
	if !p.SplitLimitRatio.IsPositive() || !p.SplitLimitRatio.LessThan(one) {
		problems = append(problems, "split_limit_ratio must be in (0, 1)")
	}
	if p.SplitDelayCapMs < 0 || p.IcebergWindowMs < 0 || p.VWAPWindowMs < 0 {
		problems = append(problems, "delays and windows must not be negative")
	}
	if !p.IcebergChunk.IsPositive() || !p.VWAPChunk.IsPositive() {
		problems = append(problems, "iceberg and vwap chunks must be positive")
	}
	if p.IcebergMinAmount.IsNegative() || p.VWAPMinAmount.LessThan(p.IcebergMinAmount) {
		problems = append(problems, "tier amounts must satisfy 0 <= iceberg_min <= vwap_min")
	}
	if p.IcebergMinSteps < 1 || p.IcebergMaxSteps < p.IcebergMinSteps {
		problems = append(problems, "iceberg step bounds invalid")
	}
	if p.VWAPMinSteps < 1 || p.VWAPMaxSteps < p.VWAPMinSteps {
		problems = append(problems, "vwap step bounds invalid")
	}
	if p.SizeDecimals < 0 {
		problems = append(problems, "size_decimals must not be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: invalid optimizer params: %v", apperrors.ErrConfiguration, problems)
	}
	return nil
}
