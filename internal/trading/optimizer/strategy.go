// Package optimizer turns trade signals into cost-minimizing execution plans
package optimizer

import (
	apperrors "exec_optimizer/pkg/errors"
	"fmt"
	"strings"
)

// Strategy is the execution strategy an Optimizer is built with
type Strategy string

const (
	StrategyAggressiveMarket Strategy = "AGGRESSIVE_MARKET"
	StrategyPatientMaker     Strategy = "PATIENT_MAKER"
	StrategyHybrid           Strategy = "HYBRID"
	StrategySizeAware        Strategy = "SIZE_AWARE"
)

// Strategies lists every supported strategy
var Strategies = []Strategy{
	StrategyAggressiveMarket,
	StrategyPatientMaker,
	StrategyHybrid,
	StrategySizeAware,
}

func (s Strategy) Valid() bool {
	switch s {
	case StrategyAggressiveMarket, StrategyPatientMaker, StrategyHybrid, StrategySizeAware:
		return true
	}
	return false
}

func (s Strategy) String() string {
	return string(s)
}

// ParseStrategy accepts any case and '-' or '_' separators ("size-aware", "Hybrid")
func ParseStrategy(name string) (Strategy, error) {
	normalized := strings.ToUpper(strings.TrimSpace(name))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	normalized = strings.ReplaceAll(normalized, " ", "_")

	s := Strategy(normalized)
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown optimization strategy %q", apperrors.ErrConfiguration, name)
	}
	return s, nil
}
