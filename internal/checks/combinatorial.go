package checks

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/Aidin1998/ebbo_monitor/internal/combinatorial"
	"github.com/Aidin1998/ebbo_monitor/internal/monitoring"
	"github.com/Aidin1998/ebbo_monitor/pkg/models"
)

// CombinatorialAuctionSurplusTest simulates how a per token pair combinatorial auction
// would have settled the competition and compares it with the actual outcome.
type CombinatorialAuctionSurplusTest struct {
	base
	competitions Competitions
	cfg          combinatorial.Config
	absolute     *big.Rat
	reference    string
}

// NewCombinatorialAuctionSurplusTest creates the test.
func NewCombinatorialAuctionSurplusTest(competitions Competitions, t Thresholds, reporter monitoring.Reporter, logger *zap.Logger) *CombinatorialAuctionSurplusTest {
	return &CombinatorialAuctionSurplusTest{
		base:         newBase(NameCombinatorialAuction, reporter, logger),
		competitions: competitions,
		cfg:          combinatorial.Config{FeeCostRatio: t.CombinatorialFeeCostRatio},
		absolute:     t.CombinatorialAbsoluteETH,
		reference:    t.ReferenceSolverName,
	}
}

// Run implements monitoring.Test.
func (c *CombinatorialAuctionSurplusTest) Run(ctx context.Context, hash string) bool {
	competition, err := c.competitions.GetCompetitionData(ctx, hash)
	if err != nil {
		return c.retry(hash, err)
	}

	inputs := make([]combinatorial.SolutionInput, len(competition.Solutions))
	for i := range competition.Solutions {
		sol := &competition.Solutions[i]
		uidTrades, err := c.competitions.GetUIDTrades(ctx, sol)
		if err != nil {
			return c.retry(hash, err)
		}
		trades := make([]models.Trade, len(uidTrades))
		for j, ut := range uidTrades {
			trades[j] = ut.Trade
		}
		inputs[i] = combinatorial.SolutionInput{Solver: sol.Solver, Trades: trades, Objective: sol.Objective}
	}

	result, err := combinatorial.Simulate(inputs, competition.ExternalPrices(), c.cfg)
	if err != nil {
		return c.retry(hash, err)
	}
	c.report(ctx, c.severity(result), "Combinatorial auction surplus", c.fields(hash, result)...)
	return true
}

func (c *CombinatorialAuctionSurplusTest) severity(r *combinatorial.Result) monitoring.Severity {
	filters := r.WinnerFilters()
	for _, f := range filters {
		if r.Solvers[f.Index] == c.reference && f.Deficit.Cmp(c.absolute) > 0 {
			return monitoring.SeverityAlert
		}
	}
	info := new(big.Rat).Quo(c.absolute, big.NewRat(10, 1))
	if r.Gap().Cmp(info) > 0 || len(filters) > 0 {
		return monitoring.SeverityInfo
	}
	return monitoring.SeverityDebug
}

func (c *CombinatorialAuctionSurplusTest) fields(hash string, r *combinatorial.Result) []zap.Field {
	winner := len(r.Solvers) - 1
	return []zap.Field{
		zap.String("tx_hash", hash),
		zap.String("winning_solver", r.Solvers[winner]),
		zap.String("winning_surplus", formatPairs(r.Aggregates[winner])),
		zap.String("baseline_surplus", formatBaseline(r)),
		zap.String("filtering_solvers", strings.Join(r.FilteringSolvers(), ",")),
		zap.String("combinatorial_winners", formatWinners(r)),
		ethField("total_surplus_eth", r.ActualSurplus),
		ethField("combinatorial_surplus_eth", r.CombinatorialSurplus),
		ethField("absolute_deviation_eth", r.Gap()),
	}
}

func formatPairs(m map[models.Pair]*big.Rat) string {
	parts := make([]string, 0, len(m))
	for _, pair := range combinatorial.SortedPairs(m) {
		parts = append(parts, fmt.Sprintf("%s: %s", pair, monitoring.Decimal(m[pair], 5)))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func formatBaseline(r *combinatorial.Result) string {
	parts := make([]string, 0, len(r.Baseline))
	for _, pair := range combinatorial.SortedPairs(r.Baseline) {
		entry := r.Baseline[pair]
		parts = append(parts, fmt.Sprintf("%s: %s (%s)", pair, monitoring.Decimal(entry.Surplus, 5), r.Solvers[entry.Index]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func formatWinners(r *combinatorial.Result) string {
	winners := r.WinningSolvers()
	solvers := make([]string, 0, len(winners))
	for s := range winners {
		solvers = append(solvers, s)
	}
	sort.Strings(solvers)
	parts := make([]string, 0, len(solvers))
	for _, s := range solvers {
		parts = append(parts, s+": "+formatPairs(winners[s]))
	}
	return strings.Join(parts, "; ")
}
