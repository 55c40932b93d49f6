package surplus

import (
	"math/big"
	"testing"

	"github.com/Aidin1998/ebbo_monitor/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClearingPriceSurplus_Scenario(t *testing.T) {
	limitSell := big.NewInt(2411147339029)
	limitBuy := big.NewInt(2390570453901)

	winner := ClearingPriceSurplus(true, limitSell, limitBuy, big.NewInt(2402567036407), big.NewInt(2411147339029))
	assert.Equal(t, "11996582506", winner.String())

	actual := Surplus(sellOrder(2411147339029, 2390570453901), models.ExecutionFromInt64(2402443463900, 2411147339029, 0))
	assert.Equal(t, "-123572507", new(big.Int).Sub(actual, winner).String())
}

func TestClearingPriceSurplus_BuyOrder(t *testing.T) {
	// 100 - floor(30*3/2)
	got := ClearingPriceSurplus(false, big.NewInt(30), big.NewInt(100), big.NewInt(2), big.NewInt(3))
	assert.Equal(t, "55", got.String())
}

func TestClearingPriceSurplus_ZeroPricePanics(t *testing.T) {
	assert.Panics(t, func() {
		ClearingPriceSurplus(true, big.NewInt(1), big.NewInt(1), big.NewInt(1), big.NewInt(0))
	})
}

func testSettlement() *models.Settlement {
	return &models.Settlement{
		Tokens:         []models.Token{tokenA, tokenB, tokenA, tokenB},
		ClearingPrices: []*big.Int{big.NewInt(3), big.NewInt(1), big.NewInt(2), big.NewInt(1)},
		Trades: []models.SettlementTrade{
			{
				SellTokenIndex:       0,
				BuyTokenIndex:        1,
				LimitSellAmount:      big.NewInt(1000),
				LimitBuyAmount:       big.NewInt(2500),
				PrecomputedFeeAmount: big.NewInt(5),
				ExecutedAmount:       big.NewInt(1000),
			},
			{
				SellTokenIndex:       2,
				BuyTokenIndex:        3,
				LimitSellAmount:      big.NewInt(1000),
				LimitBuyAmount:       big.NewInt(1500),
				PrecomputedFeeAmount: new(big.Int),
				ExecutedAmount:       big.NewInt(1000),
				Flags:                models.FlagPartiallyFillable,
			},
			{
				SellTokenIndex:       0,
				BuyTokenIndex:        1,
				LimitSellAmount:      big.NewInt(1000),
				LimitBuyAmount:       big.NewInt(2400),
				PrecomputedFeeAmount: big.NewInt(7),
				ExecutedAmount:       big.NewInt(2400),
				Flags:                models.FlagBuyOrder,
			},
		},
	}
}

func TestExecutionFromSettlement_SellOrder(t *testing.T) {
	s := testSettlement()
	require.NoError(t, s.Validate())

	exec := ExecutionFromSettlement(s, 0)
	assert.Equal(t, "3000", exec.BuyAmount.String())
	assert.Equal(t, "1000", exec.SellAmount.String())
	assert.Equal(t, "5", exec.FeeAmount.String())
}

func TestExecutionFromSettlement_NonUniformPrices(t *testing.T) {
	s := testSettlement()

	// Trade 1 is settled at its own prices (2, 1) but charged at the uniform prices (3, 1).
	exec := ExecutionFromSettlement(s, 1)
	assert.Equal(t, "2000", exec.BuyAmount.String())
	assert.Equal(t, "666", exec.SellAmount.String())
	assert.Equal(t, "334", exec.FeeAmount.String())

	data := OrderDataFromSettlement(s, 1)
	assert.True(t, data.IsSellOrder)
	assert.True(t, data.IsPartiallyFillable)
	assert.Equal(t, tokenA, data.SellToken)
	assert.Equal(t, tokenB, data.BuyToken)
}

func TestExecutionFromSettlement_BuyOrder(t *testing.T) {
	s := testSettlement()

	exec := ExecutionFromSettlement(s, 2)
	assert.Equal(t, "2400", exec.BuyAmount.String())
	assert.Equal(t, "800", exec.SellAmount.String())
	assert.Equal(t, "7", exec.FeeAmount.String())
	assert.False(t, OrderDataFromSettlement(s, 2).IsSellOrder)
}

func TestTradesFromSettlement(t *testing.T) {
	trades := TradesFromSettlement(testSettlement())
	require.Len(t, trades, 3)
	assert.Equal(t, []int{1}, models.PartiallyFillable(trades))
	assert.Equal(t, "500", Surplus(trades[0].Data, trades[0].Execution).String())
}
