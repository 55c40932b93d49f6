package checks

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"github.com/Aidin1998/ebbo_monitor/internal/apis"
	"github.com/Aidin1998/ebbo_monitor/internal/monitoring"
	"github.com/Aidin1998/ebbo_monitor/internal/surplus"
	"github.com/Aidin1998/ebbo_monitor/pkg/models"
)

func escalation(abs, rel *big.Rat, combine monitoring.Combine) monitoring.Rule {
	return monitoring.Rule{
		Absolute:     abs,
		Relative:     rel,
		Combine:      combine,
		UseMagnitude: true,
		Tiers: []monitoring.Tier{
			{Severity: monitoring.SeverityAlert, AbsoluteDivisor: 1, RelativeDivisor: 1},
			{Severity: monitoring.SeverityWarning, AbsoluteDivisor: 2, RelativeDivisor: 2},
			{Severity: monitoring.SeverityInfo, AbsoluteDivisor: 4, RelativeDivisor: 4},
		},
	}
}

// PartialFillFeeQuoteTest compares the fee charged to every partially fillable order of
// a settlement with a fresh fill-or-kill quote for the executed amount, rescaled to the
// settlement's gas price.
type PartialFillFeeQuoteTest struct {
	base
	chain  Chain
	quoter Quoter
	rule   monitoring.Rule
}

// NewPartialFillFeeQuoteTest creates the test.
func NewPartialFillFeeQuoteTest(c Chain, quoter Quoter, t Thresholds, reporter monitoring.Reporter, logger *zap.Logger) *PartialFillFeeQuoteTest {
	return &PartialFillFeeQuoteTest{
		base:   newBase(NamePartialFillFeeQuote, reporter, logger),
		chain:  c,
		quoter: quoter,
		rule:   escalation(nil, t.FeeRelative, monitoring.CombineOr),
	}
}

// Run implements monitoring.Test.
func (p *PartialFillFeeQuoteTest) Run(ctx context.Context, hash string) bool {
	tx, settlement, err := loadSettlement(ctx, p.chain, hash)
	if err != nil {
		return p.finish(hash, err)
	}
	trades := surplus.TradesFromSettlement(settlement)
	partial := models.PartiallyFillable(trades)
	if len(partial) == 0 {
		return p.skip(hash, "no partially fillable order")
	}

	receipt, err := p.chain.Receipt(ctx, hash)
	if err != nil {
		return p.retry(hash, err)
	}
	current, err := p.chain.GasPrice(ctx)
	if err != nil {
		return p.retry(hash, err)
	}
	if current.Sign() == 0 {
		return p.retry(hash, fmt.Errorf("%w: node reports a zero gas price", models.ErrIntegrity))
	}

	for _, i := range partial {
		trade := trades[i]
		req := apis.QuoteRequest{
			SellToken:   trade.Data.SellToken.String(),
			BuyToken:    trade.Data.BuyToken.String(),
			Receiver:    settlement.Trades[i].Receiver,
			IsSellOrder: trade.Data.IsSellOrder,
			Amount:      trade.Execution.BuyAmount,
		}
		if trade.Data.IsSellOrder {
			req.Amount = trade.Execution.SellAmount
		}
		quote, err := p.quoter.GetQuote(ctx, req)
		if err != nil {
			if errors.Is(err, apis.ErrNotFound) || apis.IsClientError(err) {
				p.logger.Warn("No quote for trade, skipping it",
					zap.String("tx_hash", hash),
					zap.Stringer("trade", trade),
					zap.Error(err))
				continue
			}
			return p.retry(hash, err)
		}
		quote = surplus.AdaptExecutionToGasPrice(quote, current, receipt.EffectiveGasPrice)
		p.check(ctx, hash, tx.From.Hex(), trade, quote)
	}
	return true
}

func (p *PartialFillFeeQuoteTest) check(ctx context.Context, hash, solver string, trade models.Trade, quote models.OrderExecution) {
	fee := trade.Execution.FeeAmount
	quoteFee := quote.FeeAmount
	diff := new(big.Int).Sub(fee, quoteFee)
	fields := []zap.Field{
		zap.String("tx_hash", hash),
		zap.Stringer("trade", trade),
		zap.String("winning_solver", solver),
		zap.Stringer("fee", fee),
		zap.Stringer("fee_quote", quoteFee),
		zap.Stringer("absolute_difference", diff),
	}
	if quoteFee.Sign() == 0 {
		p.logger.Debug("Quote carries no fee", fields...)
		return
	}
	rel := new(big.Rat).SetFrac(diff, quoteFee)
	fields = append(fields, pctField("relative_deviation_pct", rel))
	p.report(ctx, p.rule.Evaluate(nil, rel), "Partially fillable fee against quote", fields...)
}

// PartialFillCostCoverageTest checks that the fees of settlements containing partially
// fillable orders cover their execution cost.
type PartialFillCostCoverageTest struct {
	base
	chain        Chain
	competitions Competitions
	rule         monitoring.Rule
}

// NewPartialFillCostCoverageTest creates the test.
func NewPartialFillCostCoverageTest(c Chain, competitions Competitions, t Thresholds, reporter monitoring.Reporter, logger *zap.Logger) *PartialFillCostCoverageTest {
	return &PartialFillCostCoverageTest{
		base:         newBase(NamePartialFillCostCoverage, reporter, logger),
		chain:        c,
		competitions: competitions,
		rule:         escalation(t.CostCoverageAbsoluteETH, t.CostCoverageRelative, t.CostCoverageCombine),
	}
}

// Run implements monitoring.Test.
func (p *PartialFillCostCoverageTest) Run(ctx context.Context, hash string) bool {
	tx, settlement, err := loadSettlement(ctx, p.chain, hash)
	if err != nil {
		return p.finish(hash, err)
	}
	if len(models.PartiallyFillable(surplus.TradesFromSettlement(settlement))) == 0 {
		return p.skip(hash, "no partially fillable order")
	}
	receipt, err := p.chain.Receipt(ctx, hash)
	if err != nil {
		return p.retry(hash, err)
	}
	competition, err := p.competitions.GetCompetitionData(ctx, hash)
	if err != nil {
		return p.retry(hash, err)
	}

	fee := competition.Winner().Objective.Fees.Int()
	cost := receipt.Cost()
	if cost.Sign() == 0 {
		return p.retry(hash, fmt.Errorf("%w: settlement without gas cost", models.ErrIntegrity))
	}
	diff := new(big.Int).Sub(fee, cost)
	abs := surplus.WeiToEth(diff)
	rel := new(big.Rat).SetFrac(diff, cost)

	p.report(ctx, p.rule.Evaluate(abs, rel), "Partially fillable cost coverage",
		zap.String("tx_hash", hash),
		zap.String("winning_solver", tx.From.Hex()),
		ethField("fee_eth", surplus.WeiToEth(fee)),
		ethField("cost_eth", surplus.WeiToEth(cost)),
		ethField("absolute_deviation_eth", abs),
		pctField("relative_deviation_pct", rel))
	return true
}
