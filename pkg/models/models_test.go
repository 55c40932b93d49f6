package models

import (
	"math/big"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	v, err := ParseAmount("115792089237316195423570985008687907853269984665640564039457584007913129639935")
	require.NoError(t, err)
	assert.Equal(t, 256, v.BitLen())

	for _, bad := range []string{"", "-1", "1.5", "0x10", "115792089237316195423570985008687907853269984665640564039457584007913129639936"} {
		_, err := ParseAmount(bad)
		assert.ErrorIs(t, err, ErrInvalidAmount, bad)
	}
}

func TestAmount_JSON(t *testing.T) {
	var payload struct {
		Quoted  Amount `json:"quoted"`
		Bare    Amount `json:"bare"`
		Null    Amount `json:"null"`
		Missing Amount `json:"missing"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"quoted":"1000000000000000000000","bare":42,"null":null}`), &payload))
	assert.Equal(t, "1000000000000000000000", payload.Quoted.String())
	assert.Equal(t, int64(42), payload.Bare.Int().Int64())
	assert.False(t, payload.Null.IsSet())
	assert.False(t, payload.Missing.IsSet())
	assert.Equal(t, int64(0), payload.Missing.Int().Int64())

	out, err := json.Marshal(payload.Bare)
	require.NoError(t, err)
	assert.Equal(t, `"42"`, string(out))

	var bad Amount
	assert.ErrorIs(t, json.Unmarshal([]byte(`"-5"`), &bad), ErrInvalidAmount)
}

func TestFixedPoint_JSON(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{`"1500000000000000000"`, "1500000000000000000"},
		{`-20000`, "-20000"},
		{`1.5e18`, "1500000000000000000"},
		{`12.9`, "12"},
		{`-12.9`, "-12"},
	}
	for _, tt := range tests {
		var f FixedPoint
		require.NoError(t, json.Unmarshal([]byte(tt.raw), &f), tt.raw)
		assert.True(t, f.IsSet())
		assert.Equal(t, tt.want, f.String(), tt.raw)
	}

	for _, bad := range []string{`"Inf"`, `"-Inf"`, `"+Inf"`, `"NaN"`, `"1e1000000000"`, `-1e100`, `"abc"`,
		`"115792089237316195423570985008687907853269984665640564039457584007913129639936"`} {
		var f FixedPoint
		assert.ErrorIs(t, json.Unmarshal([]byte(bad), &f), ErrInvalidAmount, bad)
		assert.False(t, f.IsSet(), bad)
	}

	var objective struct {
		Fees FixedPoint `json:"fees"`
		Cost FixedPoint `json:"cost"`
	}
	assert.ErrorIs(t, json.Unmarshal([]byte(`{"fees":"Inf","cost":"1000"}`), &objective), ErrInvalidAmount)

	f := NewFixedPoint(big.NewInt(5e17))
	assert.Equal(t, 0, f.Rat().Cmp(big.NewRat(1, 2)))
}

func TestOrderExecution_AdaptToGasPrice(t *testing.T) {
	e := ExecutionFromInt64(500, 990, 10)
	e.AdaptToGasPrice(big.NewInt(3), big.NewInt(7))

	assert.Equal(t, "23", e.FeeAmount.String())
	assert.Equal(t, "977", e.SellAmount.String())
	assert.Equal(t, "1000", e.SellPlusFee().String())
	assert.Equal(t, "500", e.BuyAmount.String())

	assert.Panics(t, func() { e.AdaptToGasPrice(new(big.Int), big.NewInt(1)) })
}

func TestOrderExecution_CloneAndTrivial(t *testing.T) {
	e := ExecutionFromInt64(1, 2, 3)
	c := e.Clone()
	c.BuyAmount.SetInt64(0)

	assert.Equal(t, int64(1), e.BuyAmount.Int64())
	assert.True(t, c.IsTrivial())
	assert.False(t, e.IsTrivial())
	assert.True(t, OrderExecution{}.IsTrivial())
}

func TestOrderData(t *testing.T) {
	sell := OrderData{SellToken: "0xa", BuyToken: "0xb", IsSellOrder: true}
	buy := OrderData{SellToken: "0xa", BuyToken: "0xb", IsPartiallyFillable: true}

	assert.Equal(t, Token("0xb"), sell.SurplusToken())
	assert.Equal(t, Token("0xa"), buy.SurplusToken())
	assert.Equal(t, "sell", sell.Kind())
	assert.Equal(t, "buy", buy.Kind())
	assert.Equal(t, Pair{Sell: "0xa", Buy: "0xb"}, sell.Pair())
	assert.True(t, Pair{Sell: "0xa", Buy: "0xc"}.Less(Pair{Sell: "0xb", Buy: "0xa"}))
	assert.True(t, Pair{Sell: "0xa", Buy: "0xa"}.Less(Pair{Sell: "0xa", Buy: "0xb"}))

	assert.Equal(t, []int{1}, PartiallyFillable([]Trade{{Data: sell}, {Data: buy}}))
}

func TestOrder_Data(t *testing.T) {
	var o Order
	require.NoError(t, json.Unmarshal([]byte(`{
		"uid": "0x01",
		"sellToken": "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
		"buyToken": "0x6B175474E89094C44Da98b954EedeAC495271d0F",
		"sellAmount": "1000",
		"buyAmount": "900",
		"feeAmount": "0",
		"kind": "sell",
		"partiallyFillable": true
	}`), &o))
	require.NoError(t, o.Validate())

	d := o.Data()
	assert.Equal(t, Token("0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"), d.SellToken)
	assert.Equal(t, "900", d.LimitBuyAmount.String())
	assert.True(t, d.IsSellOrder)
	assert.True(t, d.IsPartiallyFillable)

	o.BuyAmount = NewAmount(new(big.Int))
	assert.ErrorIs(t, o.Validate(), ErrIntegrity)
}

func TestCompetitionAuction(t *testing.T) {
	var c CompetitionAuction
	require.NoError(t, json.Unmarshal([]byte(`{
		"auctionId": 7,
		"transactionHashes": ["0xabc"],
		"auction": {"prices": {"0xAA": "1000000000000000000000000000000000000"}},
		"solutions": [
			{"solver": "loser", "scoreProtocol": "5", "orders": [{"id": "0x01", "sellAmount": "10", "buyAmount": "9"}]},
			{"solver": "winner", "score": "7", "clearingPrices": {"0xAA": "3"}, "orders": []}
		]
	}`), &c))
	require.NoError(t, c.Validate())

	assert.Equal(t, "0xabc", c.TxHash())
	assert.Equal(t, "winner", c.Winner().Solver)
	require.Len(t, c.Losers(), 1)
	assert.Equal(t, "loser", c.Losers()[0].Solver)
	assert.Equal(t, 0, c.ExternalPrices()["0xaa"].Cmp(PriceScale))
	assert.Equal(t, "3", c.Winner().ClearingPricesByToken()["0xaa"].String())

	exec := c.Losers()[0].Executions()["0x01"]
	assert.Equal(t, "9", exec.BuyAmount.String())
	assert.Equal(t, "0", exec.FeeAmount.String())

	score, ok := c.Losers()[0].ReferenceScore()
	require.True(t, ok)
	assert.Equal(t, "5", score.String())
	score, ok = c.Winner().ReferenceScore()
	require.True(t, ok)
	assert.Equal(t, "7", score.String())

	c.Solutions = nil
	assert.ErrorIs(t, c.Validate(), ErrIntegrity)
	assert.Nil(t, c.Winner())
}

func TestSettlementTradeFlags(t *testing.T) {
	assert.True(t, SettlementTrade{}.IsSellOrder())
	assert.False(t, SettlementTrade{Flags: FlagBuyOrder}.IsSellOrder())
	assert.True(t, SettlementTrade{Flags: FlagBuyOrder | FlagPartiallyFillable}.IsPartiallyFillable())
}
