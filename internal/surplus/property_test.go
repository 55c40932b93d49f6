package surplus

import (
	"math/big"
	"testing"

	"github.com/Aidin1998/ebbo_monitor/pkg/models"
	"pgregory.net/rapid"
)

// bigAmount draws amounts well beyond 64 bits.
func bigAmount(t *rapid.T, label string, min int64) *big.Int {
	hi := rapid.Int64Range(0, 1<<40).Draw(t, label+"_hi")
	lo := rapid.Int64Range(min, 1<<62).Draw(t, label+"_lo")
	x := new(big.Int).Lsh(big.NewInt(hi), 62)
	return x.Add(x, big.NewInt(lo))
}

func TestSurplus_MatchesIntegerReference(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		order := models.OrderData{
			LimitSellAmount:      bigAmount(t, "limit_sell", 1),
			LimitBuyAmount:       bigAmount(t, "limit_buy", 1),
			PrecomputedFeeAmount: bigAmount(t, "precomputed_fee", 0),
			IsSellOrder:          rapid.Bool().Draw(t, "sell"),
		}
		exec := models.OrderExecution{
			BuyAmount:  bigAmount(t, "buy", 0),
			SellAmount: bigAmount(t, "sell_amount", 0),
			FeeAmount:  bigAmount(t, "fee", 0),
		}

		limitSell := new(big.Int).Add(order.LimitSellAmount, order.PrecomputedFeeAmount)
		paid := exec.SellPlusFee()

		// Multiply everything out first, divide once.
		var num, den *big.Int
		if order.IsSellOrder {
			num = new(big.Int).Mul(exec.BuyAmount, limitSell)
			num.Sub(num, new(big.Int).Mul(order.LimitBuyAmount, paid))
			den = limitSell
		} else {
			num = new(big.Int).Mul(limitSell, exec.BuyAmount)
			num.Sub(num, new(big.Int).Mul(paid, order.LimitBuyAmount))
			den = order.LimitBuyAmount
		}
		want := new(big.Int).Quo(num, den)

		if got := Surplus(order, exec); got.Cmp(want) != 0 {
			t.Fatalf("surplus %s, want %s", got, want)
		}
	})
}

func TestClearingPriceSurplus_MatchesFloorDivision(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		executed := bigAmount(t, "executed", 0)
		limit := bigAmount(t, "limit", 0)
		sellPrice := bigAmount(t, "sell_price", 1)
		buyPrice := bigAmount(t, "buy_price", 1)

		want := new(big.Int).Mul(executed, sellPrice)
		want.Div(want, buyPrice)
		want.Sub(want, limit)

		if got := ClearingPriceSurplus(true, executed, limit, sellPrice, buyPrice); got.Cmp(want) != 0 {
			t.Fatalf("clearing price surplus %s, want %s", got, want)
		}
	})
}

func TestAdaptExecutionToGasPrice_PreservesSellPlusFee(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		exec := models.OrderExecution{
			BuyAmount:  bigAmount(t, "buy", 0),
			SellAmount: bigAmount(t, "sell", 0),
			FeeAmount:  bigAmount(t, "fee", 0),
		}
		oldGas := big.NewInt(rapid.Int64Range(1, 1<<50).Draw(t, "old_gas"))
		newGas := big.NewInt(rapid.Int64Range(1, 1<<50).Draw(t, "new_gas"))

		adapted := AdaptExecutionToGasPrice(exec, oldGas, newGas)
		if adapted.SellPlusFee().Cmp(exec.SellPlusFee()) != 0 {
			t.Fatalf("sell+fee changed: %s -> %s", exec, adapted)
		}
	})
}

func TestCompare_SelfIsZero(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		order := models.OrderData{
			LimitSellAmount:      bigAmount(t, "limit_sell", 1),
			LimitBuyAmount:       bigAmount(t, "limit_buy", 1),
			PrecomputedFeeAmount: new(big.Int),
			IsSellOrder:          rapid.Bool().Draw(t, "sell"),
		}
		exec := models.OrderExecution{
			BuyAmount:  bigAmount(t, "buy", 1),
			SellAmount: bigAmount(t, "sell_amount", 0),
			FeeAmount:  bigAmount(t, "fee", 1),
		}
		if CompareSurplus(exec, exec, order).Sign() != 0 || ComparePrice(exec, exec).Sign() != 0 {
			t.Fatalf("execution %s differs from itself", exec)
		}
	})
}
