package checks

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/ebbo_monitor/internal/apis"
	"github.com/Aidin1998/ebbo_monitor/internal/monitoring"
)

// BuffersMonitoringTest values the token buffers of the settlement contract every
// BufferInterval settlements.
type BuffersMonitoringTest struct {
	base
	contract  string
	holdings  Holdings
	tokens    TokenList
	pricer    USDPricer
	interval  int
	limit     decimal.Decimal
	crossLine decimal.Decimal

	// Owned by Run.
	counter int
}

// NewBuffersMonitoringTest creates the test for the buffers held by contract.
func NewBuffersMonitoringTest(contract string, holdings Holdings, tokens TokenList, pricer USDPricer, t Thresholds, reporter monitoring.Reporter, logger *zap.Logger) *BuffersMonitoringTest {
	return &BuffersMonitoringTest{
		base:      newBase(NameBuffersMonitoring, reporter, logger),
		contract:  contract,
		holdings:  holdings,
		tokens:    tokens,
		pricer:    pricer,
		interval:  t.BufferInterval,
		limit:     t.BuffersUSD,
		crossLine: t.BufferTokenCrossCheckUSD,
	}
}

// Run implements monitoring.Test. The hash only advances the counter, so Run never asks
// for a retry.
func (b *BuffersMonitoringTest) Run(ctx context.Context, hash string) bool {
	b.counter++
	if b.counter <= b.interval {
		return true
	}
	value, err := b.value(ctx)
	if err != nil {
		b.logger.Warn("Failed to value buffers, trying again on the next settlement",
			zap.String("tx_hash", hash),
			zap.Int("counter", b.counter),
			zap.Error(err))
		return true
	}
	b.counter = 0

	severity := monitoring.SeverityInfo
	if value.GreaterThan(b.limit) {
		severity = monitoring.SeverityAlert
	}
	b.report(ctx, severity, "Buffer value",
		zap.String("tx_hash", hash),
		zap.String("value_usd", value.StringFixed(2)))
	return true
}

func (b *BuffersMonitoringTest) value(ctx context.Context) (decimal.Decimal, error) {
	holdings, err := b.holdings.AddressTokens(ctx, b.contract)
	if err != nil {
		return decimal.Zero, err
	}
	listed, err := b.tokens.Tokens(ctx)
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, h := range holdings {
		if _, ok := listed[h.Token]; !ok || h.PriceUSD == nil {
			continue
		}
		units := h.Units()
		value := units.Mul(*h.PriceUSD)
		if value.GreaterThan(b.crossLine) {
			price, err := b.pricer.TokenPriceUSD(ctx, h.Token.String())
			switch {
			case err == nil:
				if alt := units.Mul(price); alt.LessThan(value) {
					value = alt
				}
			case errors.Is(err, apis.ErrNotFound):
			default:
				b.logger.Warn("Failed to cross-check token price",
					zap.String("token", h.Token.String()),
					zap.Error(err))
			}
		}
		total = total.Add(value)
	}
	return total, nil
}
