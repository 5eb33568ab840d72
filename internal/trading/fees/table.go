package fees

import (
	"github.com/shopspring/decimal"
)

func tier(minVolume int64, maker, taker string) Tier {
	return Tier{
		MinVolume: decimal.NewFromInt(minVolume),
		Maker:     decimal.RequireFromString(maker),
		Taker:     decimal.RequireFromString(taker),
	}
}

// DefaultTable returns the built-in spot fee tables, keyed by exchange.
// Breakpoints are 30-day volumes in quote currency.
func DefaultTable() map[string]ExchangeFees {
	binance := ExchangeFees{
		Tiers: []Tier{
			tier(0, "0.001", "0.001"),
			tier(1_000_000, "0.0009", "0.001"),
			tier(5_000_000, "0.0008", "0.001"),
			tier(20_000_000, "0.00042", "0.0006"),
			tier(100_000_000, "0.00042", "0.00054"),
			tier(150_000_000, "0.00036", "0.00048"),
		},
		DiscountFactor: decimal.RequireFromString("0.25"),
	}

	return map[string]ExchangeFees{
		"binance":      binance,
		"binance_spot": binance,
		"bybit": {
			Tiers: []Tier{
				tier(0, "0.001", "0.001"),
				tier(1_000_000, "0.0006", "0.0008"),
				tier(5_000_000, "0.0005", "0.00075"),
				tier(25_000_000, "0.0004", "0.0007"),
			},
		},
		"okx": {
			Tiers: []Tier{
				tier(0, "0.0008", "0.001"),
				tier(5_000_000, "0.00045", "0.0005"),
				tier(10_000_000, "0.0004", "0.00045"),
				tier(20_000_000, "0.0003", "0.0004"),
			},
		},
		"bitget": {
			Tiers: []Tier{
				tier(0, "0.001", "0.001"),
				tier(6_000_000, "0.0008", "0.001"),
				tier(12_000_000, "0.0007", "0.0009"),
			},
			DiscountFactor: decimal.RequireFromString("0.2"),
		},
		"gate": {
			Tiers: []Tier{
				tier(0, "0.002", "0.002"),
				tier(1_500_000, "0.00185", "0.00195"),
				tier(3_000_000, "0.00175", "0.00185"),
			},
			DiscountFactor: decimal.RequireFromString("0.25"),
		},
		"kraken": {
			Tiers: []Tier{
				tier(0, "0.0025", "0.004"),
				tier(10_000, "0.002", "0.0035"),
				tier(50_000, "0.0014", "0.0024"),
				tier(100_000, "0.0012", "0.0022"),
				tier(250_000, "0.001", "0.002"),
			},
		},
		"coinbase": {
			Tiers: []Tier{
				tier(0, "0.006", "0.008"),
				tier(10_000, "0.004", "0.006"),
				tier(50_000, "0.0025", "0.004"),
				tier(100_000, "0.0015", "0.0025"),
			},
		},
	}
}
