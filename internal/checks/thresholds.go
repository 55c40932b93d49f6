package checks

import (
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/Aidin1998/ebbo_monitor/internal/monitoring"
)

// Thresholds holds the tolerances of every test. ETH amounts and relative deviations are
// exact rationals.
type Thresholds struct {
	SurplusAbsoluteETH *big.Rat
	SurplusRelative    *big.Rat
	SurplusCombine     monitoring.Combine

	CostCoverageAbsoluteETH *big.Rat
	CostCoverageRelative    *big.Rat
	CostCoverageCombine     monitoring.Combine

	FeeRelative *big.Rat

	CombinatorialAbsoluteETH  *big.Rat
	CombinatorialFeeCostRatio *big.Rat
	// ReferenceSolverName is the solver whose filtering of the winner raises an alert.
	ReferenceSolverName string

	UDPSensitivity         *big.Rat
	UCPVsNativeSensitivity *big.Rat

	HighScoreETH *big.Rat

	KickbacksETH      *big.Rat
	KickbackAddresses []string

	BufferInterval           int
	BuffersUSD               decimal.Decimal
	BufferTokenCrossCheckUSD decimal.Decimal

	CostCoverageCapETH *big.Rat
	DayBlockInterval   uint64

	TokenImbalanceETH *big.Rat
}

// DefaultThresholds returns the production tolerances.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SurplusAbsoluteETH: big.NewRat(2, 1000),
		SurplusRelative:    big.NewRat(1, 1000),
		SurplusCombine:     monitoring.CombineAnd,

		CostCoverageAbsoluteETH: big.NewRat(5, 1000),
		CostCoverageRelative:    big.NewRat(1, 2),
		CostCoverageCombine:     monitoring.CombineOr,

		FeeRelative: big.NewRat(1, 2),

		CombinatorialAbsoluteETH:  big.NewRat(1, 100),
		CombinatorialFeeCostRatio: big.NewRat(9, 10),
		ReferenceSolverName:       "baseline",

		UDPSensitivity:         big.NewRat(5, 1000),
		UCPVsNativeSensitivity: big.NewRat(1, 2),

		HighScoreETH: big.NewRat(10, 1),

		KickbacksETH: big.NewRat(3, 100),

		BufferInterval:           150,
		BuffersUSD:               decimal.NewFromInt(200000),
		BufferTokenCrossCheckUSD: decimal.NewFromInt(10000),

		CostCoverageCapETH: big.NewRat(1, 100),
		DayBlockInterval:   7200,

		TokenImbalanceETH: big.NewRat(1, 100),
	}
}

func (t Thresholds) surplusRule(tiers ...monitoring.Tier) monitoring.Rule {
	return monitoring.Rule{
		Absolute: t.SurplusAbsoluteETH,
		Relative: t.SurplusRelative,
		Combine:  t.SurplusCombine,
		Tiers:    tiers,
	}
}
