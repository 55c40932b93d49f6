package checks

import (
	"context"
	"math/big"

	"go.uber.org/zap"

	"github.com/Aidin1998/ebbo_monitor/internal/monitoring"
	"github.com/Aidin1998/ebbo_monitor/internal/surplus"
)

// SolverCompetitionSurplusTest compares every order of the winning solution with its
// execution in the losing solutions of the same competition.
type SolverCompetitionSurplusTest struct {
	base
	competitions Competitions
	rule         monitoring.Rule
}

// NewSolverCompetitionSurplusTest creates the test.
func NewSolverCompetitionSurplusTest(competitions Competitions, t Thresholds, reporter monitoring.Reporter, logger *zap.Logger) *SolverCompetitionSurplusTest {
	return &SolverCompetitionSurplusTest{
		base:         newBase(NameSolverCompetitionSurplus, reporter, logger),
		competitions: competitions,
		rule: t.surplusRule(
			monitoring.Tier{Severity: monitoring.SeverityAlert, AbsoluteDivisor: 1, RelativeDivisor: 1},
			monitoring.Tier{Severity: monitoring.SeverityInfo, AbsoluteDivisor: 100, RelativeDivisor: 10},
		),
	}
}

// Run implements monitoring.Test.
func (s *SolverCompetitionSurplusTest) Run(ctx context.Context, hash string) bool {
	competition, err := s.competitions.GetCompetitionData(ctx, hash)
	if err != nil {
		return s.retry(hash, err)
	}
	winner := competition.Winner()
	trades, err := s.competitions.GetUIDTrades(ctx, winner)
	if err != nil {
		return s.retry(hash, err)
	}
	prices := competition.ExternalPrices()
	losers := competition.Losers()

	for _, ut := range trades {
		trade := ut.Trade
		if !priced(trade.Execution) {
			continue
		}
		rate, err := surplus.TokenToEth(trade.Data.SurplusToken(), prices)
		if err != nil {
			return s.retry(hash, err)
		}
		for i := range losers {
			alt, ok := losers[i].Executions()[ut.UID]
			if !ok || !priced(alt) {
				continue
			}
			atoms := surplus.CompareSurplus(alt, trade.Execution, trade.Data)
			abs := new(big.Rat).Mul(new(big.Rat).SetInt(atoms), rate)
			rel := surplus.ComparePrice(alt, trade.Execution)

			s.report(ctx, s.rule.Evaluate(abs, rel), "Solver competition surplus",
				surplusFields(hash, ut.UID, winner.Solver, losers[i].Solver, abs, rel, atoms)...)
		}
	}
	return true
}
