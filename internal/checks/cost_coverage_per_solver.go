package checks

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/Aidin1998/ebbo_monitor/internal/monitoring"
	"github.com/Aidin1998/ebbo_monitor/internal/surplus"
	"github.com/Aidin1998/ebbo_monitor/pkg/models"
)

// CostCoveragePerSolverTest accumulates, per winning solver, the fees collected minus the
// execution cost and the fees collected minus the capped payout, and reports both
// roughly once a day.
type CostCoveragePerSolverTest struct {
	base
	chain        Chain
	competitions Competitions
	capETH       *big.Rat
	interval     uint64

	// Owned by Run.
	startBlock    uint64
	costCoverage  map[string]*big.Rat
	totalCoverage map[string]*big.Rat
}

// NewCostCoveragePerSolverTest creates the test.
func NewCostCoveragePerSolverTest(c Chain, competitions Competitions, t Thresholds, reporter monitoring.Reporter, logger *zap.Logger) *CostCoveragePerSolverTest {
	return &CostCoveragePerSolverTest{
		base:          newBase(NameCostCoveragePerSolver, reporter, logger),
		chain:         c,
		competitions:  competitions,
		capETH:        t.CostCoverageCapETH,
		interval:      t.DayBlockInterval,
		costCoverage:  make(map[string]*big.Rat),
		totalCoverage: make(map[string]*big.Rat),
	}
}

// Run implements monitoring.Test.
func (c *CostCoveragePerSolverTest) Run(ctx context.Context, hash string) bool {
	competition, err := c.competitions.GetCompetitionData(ctx, hash)
	if err != nil {
		return c.retry(hash, err)
	}
	receipt, err := c.chain.Receipt(ctx, hash)
	if err != nil {
		return c.retry(hash, err)
	}
	gasCost := surplus.WeiToEth(receipt.Cost())
	if gasCost.Sign() == 0 {
		return c.retry(hash, fmt.Errorf("%w: settlement without gas cost", models.ErrIntegrity))
	}

	c.accumulate(competition, gasCost)

	current, err := c.chain.BlockNumber(ctx)
	if err != nil {
		c.logger.Warn("Failed to read chain head, postponing report", zap.Error(err))
		return true
	}
	if c.startBlock == 0 {
		c.startBlock = current
	}
	if current > c.startBlock && current-c.startBlock > c.interval {
		c.report(ctx, monitoring.SeverityInfo, "Cost coverage per solver",
			zap.Uint64("from_block", c.startBlock),
			zap.Uint64("to_block", current),
			zap.String("fees_minus_gas_cost_eth", formatSolverTotals(c.costCoverage)),
			zap.String("fees_minus_payment_eth", formatSolverTotals(c.totalCoverage)))
		c.startBlock = current
		for solver := range c.costCoverage {
			c.costCoverage[solver] = new(big.Rat)
			c.totalCoverage[solver] = new(big.Rat)
		}
	}
	return true
}

func (c *CostCoveragePerSolverTest) accumulate(competition *models.CompetitionAuction, gasCost *big.Rat) {
	winner := competition.Winner()
	fees := winner.Objective.Fees.Rat()
	refScore := new(big.Rat)
	if n := len(competition.Solutions); n > 1 {
		if score, ok := competition.Solutions[n-2].ReferenceScore(); ok {
			refScore = surplus.WeiToEth(score)
		}
	}

	payout := new(big.Rat).Add(winner.Objective.Surplus.Rat(), fees)
	payout.Sub(payout, refScore)
	limit := new(big.Rat).Add(gasCost, c.capETH)
	if payout.Cmp(limit) > 0 {
		payout = limit
	}

	if c.costCoverage[winner.Solver] == nil {
		c.costCoverage[winner.Solver] = new(big.Rat)
		c.totalCoverage[winner.Solver] = new(big.Rat)
	}
	c.costCoverage[winner.Solver].Add(c.costCoverage[winner.Solver], new(big.Rat).Sub(fees, gasCost))
	c.totalCoverage[winner.Solver].Add(c.totalCoverage[winner.Solver], new(big.Rat).Sub(fees, payout))
}

func formatSolverTotals(totals map[string]*big.Rat) string {
	solvers := make([]string, 0, len(totals))
	for s := range totals {
		solvers = append(solvers, s)
	}
	sort.Strings(solvers)
	parts := make([]string, len(solvers))
	for i, s := range solvers {
		parts[i] = s + ": " + monitoring.Decimal(totals[s], 5)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
