package checks

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/Aidin1998/ebbo_monitor/internal/chain"
	"github.com/Aidin1998/ebbo_monitor/internal/monitoring"
)

// CoWAMMCommitmentTest checks that CoW AMMs committed to an order in a pre-interaction
// have had their commitment reset afterwards.
type CoWAMMCommitmentTest struct {
	base
	chain  Chain
	helper common.Address
}

// NewCoWAMMCommitmentTest creates the test for the constant product helper at helper.
func NewCoWAMMCommitmentTest(c Chain, helper string, reporter monitoring.Reporter, logger *zap.Logger) *CoWAMMCommitmentTest {
	if helper == "" {
		helper = chain.CoWAMMHelper
	}
	return &CoWAMMCommitmentTest{
		base:   newBase(NameCoWAMMCommitment, reporter, logger),
		chain:  c,
		helper: common.HexToAddress(helper),
	}
}

// Run implements monitoring.Test.
func (c *CoWAMMCommitmentTest) Run(ctx context.Context, hash string) bool {
	_, settlement, err := loadSettlement(ctx, c.chain, hash)
	if err != nil {
		return c.finish(hash, err)
	}
	for _, interaction := range settlement.Interactions[0] {
		if !strings.EqualFold(interaction.Target.String(), c.helper.Hex()) {
			continue
		}
		owner, err := chain.DecodeCommitCall(interaction.CallData)
		if err != nil {
			c.logger.Debug("Pre-interaction on the CoW AMM helper is not a commit",
				zap.String("tx_hash", hash), zap.Error(err))
			continue
		}
		commitment, err := c.chain.Commitment(ctx, c.helper, owner)
		if err != nil {
			return c.retry(hash, err)
		}

		reset := commitment == (common.Hash{})
		severity := monitoring.SeverityInfo
		if !reset {
			severity = monitoring.SeverityAlert
		}
		c.report(ctx, severity, "CoW AMM commitment",
			zap.String("tx_hash", hash),
			zap.Bool("commitment_reset", reset),
			zap.String("cow_amm", owner.Hex()),
			zap.String("commitment", commitment.Hex()))
	}
	return true
}
