package checks

import (
	"context"
	"math/big"
	"strings"

	"go.uber.org/zap"

	"github.com/Aidin1998/ebbo_monitor/internal/combinatorial"
	"github.com/Aidin1998/ebbo_monitor/internal/monitoring"
	"github.com/Aidin1998/ebbo_monitor/pkg/models"
)

// UniformDirectedPricesTest checks that all orders of the winning solution trading the
// same directed token pair get the same price.
type UniformDirectedPricesTest struct {
	base
	competitions Competitions
	rule         monitoring.Rule
}

// NewUniformDirectedPricesTest creates the test.
func NewUniformDirectedPricesTest(competitions Competitions, t Thresholds, reporter monitoring.Reporter, logger *zap.Logger) *UniformDirectedPricesTest {
	return &UniformDirectedPricesTest{
		base:         newBase(NameUniformDirectedPrices, reporter, logger),
		competitions: competitions,
		rule: monitoring.Rule{
			Relative: t.UDPSensitivity,
			Tiers: []monitoring.Tier{
				{Severity: monitoring.SeverityAlert, RelativeDivisor: 1},
				{Severity: monitoring.SeverityInfo, RelativeDivisor: 10},
			},
		},
	}
}

// Run implements monitoring.Test.
func (u *UniformDirectedPricesTest) Run(ctx context.Context, hash string) bool {
	competition, err := u.competitions.GetCompetitionData(ctx, hash)
	if err != nil {
		return u.retry(hash, err)
	}
	winner := competition.Winner()
	trades, err := u.competitions.GetUIDTrades(ctx, winner)
	if err != nil {
		return u.retry(hash, err)
	}

	directed := make(map[models.Pair][]*big.Rat)
	for _, ut := range trades {
		exec := ut.Trade.Execution
		if !priced(exec) {
			continue
		}
		pair := ut.Trade.Data.Pair()
		directed[pair] = append(directed[pair], new(big.Rat).SetFrac(exec.SellAmount, exec.BuyAmount))
	}

	for _, pair := range combinatorial.SortedPairs(directed) {
		prices := directed[pair]
		if len(prices) < 2 {
			continue
		}
		lo, hi := prices[0], prices[0]
		rendered := make([]string, len(prices))
		for i, p := range prices {
			if p.Cmp(lo) < 0 {
				lo = p
			}
			if p.Cmp(hi) > 0 {
				hi = p
			}
			rendered[i] = p.FloatString(8)
		}
		if lo.Sign() == 0 {
			continue
		}
		spread := new(big.Rat).Quo(hi, lo)
		spread.Sub(spread, big.NewRat(1, 1))

		u.report(ctx, u.rule.Evaluate(nil, spread), "Uniform directed prices",
			zap.String("tx_hash", hash),
			zap.String("winning_solver", winner.Solver),
			zap.Stringer("token_pair", pair),
			zap.String("directional_prices", strings.Join(rendered, ",")),
			pctField("relative_deviation_pct", spread))
	}
	return true
}
