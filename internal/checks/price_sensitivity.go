package checks

import (
	"context"
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"github.com/Aidin1998/ebbo_monitor/internal/monitoring"
	"github.com/Aidin1998/ebbo_monitor/pkg/models"
)

// PriceSensitivityTest compares the exchange rate implied by the winner's uniform
// clearing prices with the one implied by the auction's native prices.
type PriceSensitivityTest struct {
	base
	competitions Competitions
	rule         monitoring.Rule
}

// NewPriceSensitivityTest creates the test.
func NewPriceSensitivityTest(competitions Competitions, t Thresholds, reporter monitoring.Reporter, logger *zap.Logger) *PriceSensitivityTest {
	return &PriceSensitivityTest{
		base:         newBase(NamePriceSensitivity, reporter, logger),
		competitions: competitions,
		rule: monitoring.Rule{
			Relative: t.UCPVsNativeSensitivity,
			Tiers:    []monitoring.Tier{{Severity: monitoring.SeverityAlert, RelativeDivisor: 1}},
		},
	}
}

// Run implements monitoring.Test.
func (p *PriceSensitivityTest) Run(ctx context.Context, hash string) bool {
	competition, err := p.competitions.GetCompetitionData(ctx, hash)
	if err != nil {
		return p.retry(hash, err)
	}
	winner := competition.Winner()
	trades, err := p.competitions.GetUIDTrades(ctx, winner)
	if err != nil {
		return p.retry(hash, err)
	}
	ucp := winner.ClearingPricesByToken()
	native := competition.ExternalPrices()

	for _, ut := range trades {
		data := ut.Trade.Data
		ucpRate, err := rate(ucp, data.SellToken, data.BuyToken)
		if err != nil {
			return p.retry(hash, fmt.Errorf("%w: clearing prices: %v", models.ErrIntegrity, err))
		}
		nativeRate, err := rate(native, data.SellToken, data.BuyToken)
		if err != nil {
			p.logger.Debug("No native rate for trade",
				zap.String("tx_hash", hash),
				zap.String("order_uid", ut.UID),
				zap.Error(err))
			continue
		}

		lo, hi := ucpRate, nativeRate
		if lo.Cmp(hi) > 0 {
			lo, hi = hi, lo
		}
		gap := new(big.Rat).Quo(hi, lo)
		deviation := new(big.Rat).Sub(gap, big.NewRat(1, 1))

		p.report(ctx, p.rule.Evaluate(nil, deviation), "Clearing price far from native price",
			zap.String("tx_hash", hash),
			zap.String("winning_solver", winner.Solver),
			zap.String("order_uid", ut.UID),
			zap.String("gap", gap.FloatString(6)),
			pctField("relative_deviation_pct", deviation))
	}
	return true
}

// rate returns prices[sell]/prices[buy].
func rate(prices models.Prices, sell, buy models.Token) (*big.Rat, error) {
	ps, ok := prices[sell]
	if !ok || ps.Sign() <= 0 {
		return nil, &models.MissingPriceError{Token: sell}
	}
	pb, ok := prices[buy]
	if !ok || pb.Sign() <= 0 {
		return nil, &models.MissingPriceError{Token: buy}
	}
	return new(big.Rat).SetFrac(ps, pb), nil
}
