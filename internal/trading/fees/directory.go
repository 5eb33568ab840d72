// Package fees resolves exchange maker/taker rates for a trading volume tier
package fees

import (
	"errors"
	"exec_optimizer/internal/core"
	apperrors "exec_optimizer/pkg/errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// MaxRate bounds maker and taker rates; anything above is a data error
	MaxRate = decimal.NewFromFloat(0.01)

	errEmptyTiers      = errors.New("no volume tiers")
	errRateOutOfBounds = errors.New("rate outside [0, 0.01]")
	errBadDiscount     = errors.New("discount factor outside [0, 1)")
	errDuplicateTier   = errors.New("duplicate volume breakpoint")
)

// Tier is one volume breakpoint of an exchange fee table
type Tier struct {
	MinVolume decimal.Decimal `yaml:"min_volume" json:"min_volume"`
	Maker     decimal.Decimal `yaml:"maker" json:"maker"`
	Taker     decimal.Decimal `yaml:"taker" json:"taker"`
}

// ExchangeFees is the tiered fee table of a single exchange
type ExchangeFees struct {
	Tiers          []Tier          `yaml:"tiers" json:"tiers"`
	DiscountFactor decimal.Decimal `yaml:"discount_factor" json:"discount_factor"`
}

// FeeSchedule is the resolved, immutable fee configuration of one optimizer
type FeeSchedule struct {
	Exchange         string          `json:"exchange"`
	MakerRate        decimal.Decimal `json:"maker_rate"`
	TakerRate        decimal.Decimal `json:"taker_rate"`
	VolumeTier       decimal.Decimal `json:"volume_tier"`
	DiscountEligible bool            `json:"discount_eligible"`
	DiscountFactor   decimal.Decimal `json:"discount_factor"`
}

// RateFor returns the taker rate for MARKET steps and the maker rate otherwise
func (s FeeSchedule) RateFor(kind core.OrderKind) decimal.Decimal {
	if kind == core.OrderKindMarket {
		return s.TakerRate
	}
	return s.MakerRate
}

// Directory is a validated, read-only set of exchange fee tables
type Directory struct {
	tables  map[string]ExchangeFees
	version int64
	logger  core.ILogger
}

// NewDirectory validates the tables and returns a directory keyed by lower-case exchange name
func NewDirectory(tables map[string]ExchangeFees, logger core.ILogger) (*Directory, error) {
	if len(tables) == 0 {
		return nil, fmt.Errorf("%w: fee directory has no exchanges", apperrors.ErrConfiguration)
	}

	normalized := make(map[string]ExchangeFees, len(tables))
	for name, table := range tables {
		key := normalizeExchange(name)
		sorted, err := validateTable(table)
		if err != nil {
			return nil, fmt.Errorf("%w: exchange %s: %v", apperrors.ErrConfiguration, key, err)
		}
		normalized[key] = sorted
	}

	d := &Directory{tables: normalized, version: 1}
	if logger != nil {
		d.logger = logger.WithField("component", "fee_directory")
	}
	return d, nil
}

func validateTable(table ExchangeFees) (ExchangeFees, error) {
	if len(table.Tiers) == 0 {
		return ExchangeFees{}, errEmptyTiers
	}
	if table.DiscountFactor.IsNegative() || table.DiscountFactor.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return ExchangeFees{}, errBadDiscount
	}

	tiers := make([]Tier, len(table.Tiers))
	copy(tiers, table.Tiers)
	sort.Slice(tiers, func(i, j int) bool {
		return tiers[i].MinVolume.LessThan(tiers[j].MinVolume)
	})

	for i, t := range tiers {
		if t.Maker.IsNegative() || t.Maker.GreaterThan(MaxRate) || t.Taker.IsNegative() || t.Taker.GreaterThan(MaxRate) {
			return ExchangeFees{}, fmt.Errorf("%w: tier %s maker=%s taker=%s", errRateOutOfBounds, t.MinVolume, t.Maker, t.Taker)
		}
		if i > 0 && tiers[i-1].MinVolume.Equal(t.MinVolume) {
			return ExchangeFees{}, fmt.Errorf("%w: %s", errDuplicateTier, t.MinVolume)
		}
	}

	return ExchangeFees{Tiers: tiers, DiscountFactor: table.DiscountFactor}, nil
}

func normalizeExchange(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// WithVersion returns a copy of the directory tagged with a table version
func (d *Directory) WithVersion(version int64) *Directory {
	return &Directory{tables: d.tables, version: version, logger: d.logger}
}

// Version identifies the table revision the directory was loaded from
func (d *Directory) Version() int64 {
	return d.version
}

// Equal reports whether both directories carry the same rates, breakpoints
// and discounts. The version tag is not compared.
func (d *Directory) Equal(other *Directory) bool {
	if d == nil || other == nil {
		return d == other
	}
	if len(d.tables) != len(other.tables) {
		return false
	}
	for name, a := range d.tables {
		b, ok := other.tables[name]
		if !ok || !a.DiscountFactor.Equal(b.DiscountFactor) || len(a.Tiers) != len(b.Tiers) {
			return false
		}
		for i := range a.Tiers {
			x, y := a.Tiers[i], b.Tiers[i]
			if !x.MinVolume.Equal(y.MinVolume) || !x.Maker.Equal(y.Maker) || !x.Taker.Equal(y.Taker) {
				return false
			}
		}
	}
	return true
}

// Exchanges returns the sorted list of known exchanges
func (d *Directory) Exchanges() []string {
	names := make([]string, 0, len(d.tables))
	for name := range d.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Table returns a copy of an exchange's fee table
func (d *Directory) Table(exchange string) (ExchangeFees, bool) {
	table, ok := d.tables[normalizeExchange(exchange)]
	if !ok {
		return ExchangeFees{}, false
	}
	tiers := make([]Tier, len(table.Tiers))
	copy(tiers, table.Tiers)
	return ExchangeFees{Tiers: tiers, DiscountFactor: table.DiscountFactor}, true
}

// Resolve picks the tier with the highest breakpoint not above volume30d and
// applies the exchange discount when eligible. A volume below the lowest
// breakpoint falls back to the lowest (most expensive) tier.
func (d *Directory) Resolve(exchange string, volume30d decimal.Decimal, discountEligible bool) (FeeSchedule, error) {
	key := normalizeExchange(exchange)
	table, ok := d.tables[key]
	if !ok {
		return FeeSchedule{}, fmt.Errorf("%w: unknown exchange %q", apperrors.ErrConfiguration, exchange)
	}

	idx := -1
	for i, t := range table.Tiers {
		if t.MinVolume.LessThanOrEqual(volume30d) {
			idx = i
		} else {
			break
		}
	}
	if idx < 0 {
		idx = 0
		if d.logger != nil {
			d.logger.Warn("Volume below lowest fee tier, using base tier",
				"exchange", key,
				"volume_30d", volume30d.String(),
				"lowest_breakpoint", table.Tiers[0].MinVolume.String())
		}
	}

	tier := table.Tiers[idx]
	schedule := FeeSchedule{
		Exchange:         key,
		MakerRate:        tier.Maker,
		TakerRate:        tier.Taker,
		VolumeTier:       tier.MinVolume,
		DiscountEligible: discountEligible,
		DiscountFactor:   table.DiscountFactor,
	}

	if discountEligible && table.DiscountFactor.IsPositive() {
		mult := decimal.NewFromInt(1).Sub(table.DiscountFactor)
		schedule.MakerRate = schedule.MakerRate.Mul(mult)
		schedule.TakerRate = schedule.TakerRate.Mul(mult)
	}

	return schedule, nil
}
