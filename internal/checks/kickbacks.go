package checks

import (
	"context"
	"errors"
	"math/big"

	"go.uber.org/zap"

	"github.com/Aidin1998/ebbo_monitor/internal/chain"
	"github.com/Aidin1998/ebbo_monitor/internal/monitoring"
	"github.com/Aidin1998/ebbo_monitor/internal/surplus"
)

// MEVBlockerKickbacksTest reports MEV Blocker kickbacks paid in the block of a settlement.
type MEVBlockerKickbacksTest struct {
	base
	chain     Chain
	addresses []string
	threshold *big.Rat
}

// NewMEVBlockerKickbacksTest creates the test. The kickback contracts are queried in
// order and the first one that answers is used.
func NewMEVBlockerKickbacksTest(c Chain, t Thresholds, reporter monitoring.Reporter, logger *zap.Logger) *MEVBlockerKickbacksTest {
	return &MEVBlockerKickbacksTest{
		base:      newBase(NameMEVBlockerKickbacks, reporter, logger),
		chain:     c,
		addresses: t.KickbackAddresses,
		threshold: t.KickbacksETH,
	}
}

// Run implements monitoring.Test.
func (m *MEVBlockerKickbacksTest) Run(ctx context.Context, hash string) bool {
	if len(m.addresses) == 0 {
		return m.skip(hash, "no kickback contracts configured")
	}
	receipt, err := m.chain.Receipt(ctx, hash)
	if err != nil {
		return m.retry(hash, err)
	}
	block := receipt.BlockNumber

	var kickback *big.Int
	var errs []error
	for _, address := range m.addresses {
		sum, err := m.chain.LogDataSum(ctx, block, block, address, chain.KickbackTopic)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		kickback = sum
		break
	}
	if kickback == nil {
		return m.retry(hash, errors.Join(errs...))
	}

	eth := surplus.WeiToEth(kickback)
	fields := []zap.Field{
		zap.String("tx_hash", hash),
		zap.Uint64("block_number", block),
		ethField("kickback_eth", eth),
	}
	switch {
	case eth.Cmp(m.threshold) >= 0:
		m.report(ctx, monitoring.SeverityAlert, "MEV Blocker kickback", fields...)
	case eth.Sign() > 0:
		m.report(ctx, monitoring.SeverityInfo, "MEV Blocker kickback", fields...)
	}
	return true
}
