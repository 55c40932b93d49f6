package checks

import (
	"context"
	"math/big"
	"net/http"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aidin1998/ebbo_monitor/internal/apis"
	"github.com/Aidin1998/ebbo_monitor/internal/chain"
	"github.com/Aidin1998/ebbo_monitor/internal/monitoring"
	"github.com/Aidin1998/ebbo_monitor/pkg/models"
)

var solverAddress = common.HexToAddress("0x0000000000000000000000000000000000000005")

func settlementTx(input []byte) *chain.Transaction {
	return &chain.Transaction{
		Hash:     hash,
		From:     solverAddress,
		To:       common.HexToAddress(chain.SettlementContract),
		Input:    input,
		GasPrice: big.NewInt(20),
	}
}

func feeQuoteFixture(t *testing.T, flags int64) (*fakeChain, *fakeCompetitions) {
	t.Helper()
	c := &fakeChain{
		tx:       settlementTx(settleCalldata(t, flags, 1000, 10, nil)),
		receipt:  &chain.Receipt{BlockNumber: 100, GasUsed: 100000, EffectiveGasPrice: big.NewInt(20), Status: 1},
		gasPrice: big.NewInt(10),
	}
	ob := &fakeCompetitions{quote: models.ExecutionFromInt64(500, 990, 10)}
	return c, ob
}

func TestPartialFillFeeQuote_FeeBelowRescaledQuote(t *testing.T) {
	c, ob := feeQuoteFixture(t, int64(models.FlagPartiallyFillable))
	reporter := &recordingReporter{}
	test := NewPartialFillFeeQuoteTest(c, ob, DefaultThresholds(), reporter, nopLogger())

	require.True(t, test.Run(context.Background(), hash))

	require.Len(t, ob.quotes, 1)
	req := ob.quotes[0]
	assert.Equal(t, tokenA, req.SellToken)
	assert.Equal(t, tokenB, req.BuyToken)
	assert.Equal(t, trader, req.Receiver)
	assert.True(t, req.IsSellOrder)
	assert.Equal(t, "1000", req.Amount.String())

	// The quote fee of 10 at gas price 10 becomes 20 at the settlement's gas price 20.
	f := reporter.only(t)
	assert.Equal(t, monitoring.SeverityWarning, f.Severity)
	assert.Equal(t, "10", f.Fields["fee"])
	assert.Equal(t, "20", f.Fields["fee_quote"])
	assert.Equal(t, "-50.0000", f.Fields["relative_deviation_pct"])
	assert.Equal(t, solverAddress.Hex(), f.Fields["winning_solver"])
}

func TestPartialFillFeeQuote_NoPartiallyFillableOrder(t *testing.T) {
	c, ob := feeQuoteFixture(t, 0)
	reporter := &recordingReporter{}
	test := NewPartialFillFeeQuoteTest(c, ob, DefaultThresholds(), reporter, nopLogger())

	assert.True(t, test.Run(context.Background(), hash))
	assert.Empty(t, ob.quotes)
	assert.Empty(t, reporter.findings)
}

func TestPartialFillFeeQuote_QuoteRejected(t *testing.T) {
	c, ob := feeQuoteFixture(t, int64(models.FlagPartiallyFillable))
	ob.quoteErr = &apis.StatusError{Code: http.StatusBadRequest, URL: "http://orderbook/quote", Body: "NoLiquidity"}
	reporter := &recordingReporter{}
	test := NewPartialFillFeeQuoteTest(c, ob, DefaultThresholds(), reporter, nopLogger())

	assert.True(t, test.Run(context.Background(), hash))
	assert.Empty(t, reporter.findings)
}

func TestPartialFillFeeQuote_QuoteUnavailable(t *testing.T) {
	c, ob := feeQuoteFixture(t, int64(models.FlagPartiallyFillable))
	ob.quoteErr = &apis.StatusError{Code: http.StatusServiceUnavailable, URL: "http://orderbook/quote"}
	test := NewPartialFillFeeQuoteTest(c, ob, DefaultThresholds(), &recordingReporter{}, nopLogger())

	assert.False(t, test.Run(context.Background(), hash))
}

func TestPartialFillFeeQuote_NotASettlement(t *testing.T) {
	commit, err := chain.CoWAMMABI.Pack("commit", common.HexToAddress(trader), [32]byte{})
	require.NoError(t, err)
	c := &fakeChain{tx: settlementTx(commit)}
	test := NewPartialFillFeeQuoteTest(c, &fakeCompetitions{}, DefaultThresholds(), &recordingReporter{}, nopLogger())

	assert.True(t, test.Run(context.Background(), hash))
}

func TestPartialFillFeeQuote_TransactionMissing(t *testing.T) {
	c := &fakeChain{txErr: chain.ErrNotFound}
	test := NewPartialFillFeeQuoteTest(c, &fakeCompetitions{}, DefaultThresholds(), &recordingReporter{}, nopLogger())

	assert.False(t, test.Run(context.Background(), hash))
}

func TestPartialFillCostCoverage(t *testing.T) {
	// gas cost: 100000 * 100 gwei = 0.01 ETH
	receipt := &chain.Receipt{BlockNumber: 100, GasUsed: 100000, EffectiveGasPrice: big.NewInt(100_000_000_000), Status: 1}
	fees := func(wei string) models.Objective {
		return models.Objective{Fees: models.NewFixedPoint(models.MustAmount(wei))}
	}
	tests := []struct {
		name      string
		objective models.Objective
		severity  monitoring.Severity
	}{
		{"fees cover cost", fees("10000000000000000"), monitoring.SeverityDebug},
		{"fees double the cost", fees("20000000000000000"), monitoring.SeverityAlert},
		{"no fees", fees("0"), monitoring.SeverityAlert},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &fakeChain{tx: settlementTx(settleCalldata(t, int64(models.FlagPartiallyFillable), 1000, 10, nil)), receipt: receipt}
			ob := &fakeCompetitions{competition: competitionWith(models.Solution{Solver: "winner", Objective: tt.objective})}
			reporter := &recordingReporter{}
			test := NewPartialFillCostCoverageTest(c, ob, DefaultThresholds(), reporter, nopLogger())

			require.True(t, test.Run(context.Background(), hash))
			f := reporter.only(t)
			assert.Equal(t, tt.severity, f.Severity)
			assert.Equal(t, "0.01000", f.Fields["cost_eth"])
		})
	}
}

func TestPartialFillCostCoverage_SkipsFillOrKill(t *testing.T) {
	c := &fakeChain{tx: settlementTx(settleCalldata(t, 0, 1000, 10, nil))}
	reporter := &recordingReporter{}
	test := NewPartialFillCostCoverageTest(c, &fakeCompetitions{}, DefaultThresholds(), reporter, nopLogger())

	assert.True(t, test.Run(context.Background(), hash))
	assert.Empty(t, reporter.findings)
}
