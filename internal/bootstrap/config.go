package bootstrap

import (
	"errors"
	"exec_optimizer/internal/config"
	"exec_optimizer/internal/trading/optimizer"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config is an alias for the project's main configuration struct
type Config = config.Config

// LoadConfig delegates to the project's config loader
func LoadConfig(path string) (*Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	if err := checkPreFlight(cfg); err != nil {
		return nil, fmt.Errorf("pre-flight checks failed: %w", err)
	}

	return cfg, nil
}

// LoadEnvFile exports the variables of a dotenv file so ${VAR} references in
// the config resolve. A missing file is not an error; variables already set
// in the environment win.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// checkPreFlight performs environment checks beyond schema validation
func checkPreFlight(cfg *Config) error {
	switch cfg.Fees.Source {
	case "yaml":
		if _, err := os.Stat(cfg.Fees.Path); err != nil {
			return fmt.Errorf("fee table file: %w", err)
		}
	case "sqlite":
		dir := filepath.Dir(cfg.Fees.Path)
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			return fmt.Errorf("fee database directory %s does not exist", dir)
		}
	}
	return nil
}

// OptimizerOptions converts the optimizer section into factory options.
// Params missing from the config keep the planner defaults.
func OptimizerOptions(cfg config.OptimizerConfig) (optimizer.Options, error) {
	strategy, err := optimizer.ParseStrategy(cfg.Strategy)
	if err != nil {
		return optimizer.Options{}, err
	}

	params := optimizer.DefaultParams()
	p := cfg.Params
	setDecimal(&params.SizeReference, p.SizeReference)
	setDecimal(&params.VolatilityReference, p.VolatilityReference)
	setDecimal(&params.MarketThreshold, p.MarketThreshold)
	setDecimal(&params.MakerThreshold, p.MakerThreshold)
	setDecimal(&params.SplitLimitRatio, p.SplitLimitRatio)
	setDecimal(&params.IcebergMinAmount, p.IcebergMinAmount)
	setDecimal(&params.IcebergChunk, p.IcebergChunk)
	setDecimal(&params.VWAPMinAmount, p.VWAPMinAmount)
	setDecimal(&params.VWAPChunk, p.VWAPChunk)
	set(&params.SplitDelayCapMs, p.SplitDelayCapMs)
	set(&params.IcebergMinSteps, p.IcebergMinSteps)
	set(&params.IcebergMaxSteps, p.IcebergMaxSteps)
	set(&params.IcebergWindowMs, p.IcebergWindowMs)
	set(&params.VWAPMinSteps, p.VWAPMinSteps)
	set(&params.VWAPMaxSteps, p.VWAPMaxSteps)
	set(&params.VWAPWindowMs, p.VWAPWindowMs)
	set(&params.PriceDecimals, p.PriceDecimals)
	set(&params.SizeDecimals, p.SizeDecimals)

	return optimizer.Options{
		Exchange:           cfg.Exchange,
		Strategy:           strategy,
		Volume30d:          decimal.NewFromFloat(cfg.Volume30d),
		HasDiscount:        cfg.HasDiscount,
		MaxExecutionTimeMs: cfg.MaxExecutionTimeMs,
		Params:             &params,
	}, nil
}

func setDecimal(dst *decimal.Decimal, v *float64) {
	if v != nil {
		*dst = decimal.NewFromFloat(*v)
	}
}

func set[T int | int64](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
