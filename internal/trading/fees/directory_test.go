package fees

import (
	"exec_optimizer/internal/core"
	apperrors "exec_optimizer/pkg/errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLogger struct {
	mu    sync.Mutex
	warns []string
}

func (m *mockLogger) Debug(msg string, fields ...interface{}) {}
func (m *mockLogger) Info(msg string, fields ...interface{})  {}
func (m *mockLogger) Warn(msg string, fields ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warns = append(m.warns, msg)
}
func (m *mockLogger) Error(msg string, fields ...interface{})               {}
func (m *mockLogger) Fatal(msg string, fields ...interface{})               {}
func (m *mockLogger) WithField(key string, value interface{}) core.ILogger  { return m }
func (m *mockLogger) WithFields(fields map[string]interface{}) core.ILogger { return m }

func (m *mockLogger) warnCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.warns)
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestDirectory_ResolveTiers(t *testing.T) {
	dir, err := NewDirectory(DefaultTable(), &mockLogger{})
	require.NoError(t, err)

	tests := []struct {
		name      string
		exchange  string
		volume    string
		discount  bool
		wantMaker string
		wantTaker string
		wantTier  string
	}{
		{"binance base", "binance", "0", false, "0.001", "0.001", "0"},
		{"binance base with bnb", "binance", "0", true, "0.00075", "0.00075", "0"},
		{"binance exact breakpoint", "binance", "1000000", false, "0.0009", "0.001", "1000000"},
		{"binance between tiers", "binance", "19999999", false, "0.0008", "0.001", "5000000"},
		{"binance top tier", "binance", "500000000", false, "0.00036", "0.00048", "150000000"},
		{"case insensitive", "  BINANCE ", "0", false, "0.001", "0.001", "0"},
		{"no discount configured", "okx", "0", true, "0.0008", "0.001", "0"},
		{"kraken mid tier", "kraken", "60000", false, "0.0014", "0.0024", "50000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs, err := dir.Resolve(tt.exchange, d(tt.volume), tt.discount)
			require.NoError(t, err)
			assert.True(t, d(tt.wantMaker).Equal(fs.MakerRate), "maker %s", fs.MakerRate)
			assert.True(t, d(tt.wantTaker).Equal(fs.TakerRate), "taker %s", fs.TakerRate)
			assert.True(t, d(tt.wantTier).Equal(fs.VolumeTier), "tier %s", fs.VolumeTier)
			assert.Equal(t, tt.discount, fs.DiscountEligible)
		})
	}
}

func TestDirectory_UnknownExchange(t *testing.T) {
	dir, err := NewDirectory(DefaultTable(), nil)
	require.NoError(t, err)

	_, err = dir.Resolve("mtgox", decimal.Zero, false)
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
}

func TestDirectory_VolumeBelowLowestBreakpoint(t *testing.T) {
	logger := &mockLogger{}
	dir, err := NewDirectory(map[string]ExchangeFees{
		"venue": {Tiers: []Tier{
			{MinVolume: d("10000"), Maker: d("0.002"), Taker: d("0.003")},
			{MinVolume: d("50000"), Maker: d("0.001"), Taker: d("0.002")},
		}},
	}, logger)
	require.NoError(t, err)

	fs, err := dir.Resolve("venue", d("500"), false)
	require.NoError(t, err)
	assert.True(t, d("0.002").Equal(fs.MakerRate))
	assert.True(t, d("0.003").Equal(fs.TakerRate))
	assert.Equal(t, 1, logger.warnCount())
}

func TestNewDirectory_Validation(t *testing.T) {
	tests := []struct {
		name   string
		tables map[string]ExchangeFees
	}{
		{"empty directory", map[string]ExchangeFees{}},
		{"no tiers", map[string]ExchangeFees{"x": {}}},
		{"maker above bound", map[string]ExchangeFees{"x": {Tiers: []Tier{
			{MinVolume: d("0"), Maker: d("0.02"), Taker: d("0.001")},
		}}}},
		{"negative taker", map[string]ExchangeFees{"x": {Tiers: []Tier{
			{MinVolume: d("0"), Maker: d("0.001"), Taker: d("-0.001")},
		}}}},
		{"discount of one", map[string]ExchangeFees{"x": {
			Tiers:          []Tier{{MinVolume: d("0"), Maker: d("0.001"), Taker: d("0.001")}},
			DiscountFactor: d("1"),
		}}},
		{"duplicate breakpoint", map[string]ExchangeFees{"x": {Tiers: []Tier{
			{MinVolume: d("0"), Maker: d("0.001"), Taker: d("0.001")},
			{MinVolume: d("0"), Maker: d("0.0009"), Taker: d("0.001")},
		}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDirectory(tt.tables, nil)
			assert.ErrorIs(t, err, apperrors.ErrConfiguration)
		})
	}
}

func TestNewDirectory_SortsTiers(t *testing.T) {
	dir, err := NewDirectory(map[string]ExchangeFees{
		"Venue": {Tiers: []Tier{
			{MinVolume: d("100"), Maker: d("0.0005"), Taker: d("0.0007")},
			{MinVolume: d("0"), Maker: d("0.001"), Taker: d("0.001")},
		}},
	}, nil)
	require.NoError(t, err)

	table, ok := dir.Table("venue")
	require.True(t, ok)
	require.Len(t, table.Tiers, 2)
	assert.True(t, table.Tiers[0].MinVolume.IsZero())
	assert.Equal(t, []string{"venue"}, dir.Exchanges())
	assert.Equal(t, int64(1), dir.Version())
	assert.Equal(t, int64(7), dir.WithVersion(7).Version())
}

func TestDirectory_Equal(t *testing.T) {
	base, err := NewDirectory(DefaultTable(), nil)
	require.NoError(t, err)
	same, err := NewDirectory(DefaultTable(), nil)
	require.NoError(t, err)

	assert.True(t, base.Equal(same))
	assert.True(t, base.Equal(same.WithVersion(5)))

	edited := DefaultTable()
	bn := edited["binance"]
	tiers := make([]Tier, len(bn.Tiers))
	copy(tiers, bn.Tiers)
	tiers[0].Taker = tiers[0].Taker.Add(d("0.0001"))
	edited["binance"] = ExchangeFees{Tiers: tiers, DiscountFactor: bn.DiscountFactor}
	changed, err := NewDirectory(edited, nil)
	require.NoError(t, err)
	assert.False(t, base.Equal(changed))

	fewer := DefaultTable()
	delete(fewer, "binance")
	smaller, err := NewDirectory(fewer, nil)
	require.NoError(t, err)
	assert.False(t, base.Equal(smaller))
	assert.False(t, base.Equal(nil))
}

func TestFeeSchedule_RateFor(t *testing.T) {
	fs := FeeSchedule{MakerRate: d("0.0002"), TakerRate: d("0.0005")}
	assert.True(t, fs.RateFor(core.OrderKindMarket).Equal(d("0.0005")))
	assert.True(t, fs.RateFor(core.OrderKindLimit).Equal(d("0.0002")))
}
