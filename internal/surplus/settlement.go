package surplus

import (
	"math/big"

	"github.com/Aidin1998/ebbo_monitor/pkg/models"
)

// ClearingPriceSurplus returns the surplus of a trade settled at uniform clearing prices.
// limitAmount is the limit buy amount for sell orders and the limit sell amount for buy orders.
//
//	sell order: floor(executed*sellPrice/buyPrice) - limitBuy
//	buy order:  limitSell - floor(executed*buyPrice/sellPrice)
func ClearingPriceSurplus(isSellOrder bool, executed, limitAmount, sellPrice, buyPrice *big.Int) *big.Int {
	if isSellOrder {
		out := floorMulDiv(executed, sellPrice, buyPrice)
		return out.Sub(out, limitAmount)
	}
	in := floorMulDiv(executed, buyPrice, sellPrice)
	return new(big.Int).Sub(limitAmount, in)
}

// OrderDataFromSettlement returns the order limits of trade i.
func OrderDataFromSettlement(s *models.Settlement, i int) models.OrderData {
	t := s.Trades[i]
	return models.OrderData{
		LimitBuyAmount:       new(big.Int).Set(t.LimitBuyAmount),
		LimitSellAmount:      new(big.Int).Set(t.LimitSellAmount),
		PrecomputedFeeAmount: new(big.Int).Set(t.PrecomputedFeeAmount),
		BuyToken:             s.Tokens[t.BuyTokenIndex],
		SellToken:            s.Tokens[t.SellTokenIndex],
		IsSellOrder:          t.IsSellOrder(),
		IsPartiallyFillable:  t.IsPartiallyFillable(),
	}
}

// ExecutionFromSettlement computes the execution of trade i from the clearing prices.
//
// Prices are read twice: at the trade's own token indices and at the first occurrence of
// each token (the uniform clearing price). The difference between the two is attributed
// to the fee.
func ExecutionFromSettlement(s *models.Settlement, i int) models.OrderExecution {
	t := s.Trades[i]

	buyPrice := s.ClearingPrices[t.BuyTokenIndex]
	sellPrice := s.ClearingPrices[t.SellTokenIndex]
	buyPriceUCP := s.ClearingPrices[s.TokenIndex(s.Tokens[t.BuyTokenIndex])]
	sellPriceUCP := s.ClearingPrices[s.TokenIndex(s.Tokens[t.SellTokenIndex])]

	var buy, sell, fee *big.Int
	if t.IsSellOrder() {
		buy = truncMulDiv(t.ExecutedAmount, sellPrice, buyPrice)
		sell = truncMulDiv(buy, buyPriceUCP, sellPriceUCP)
		fee = new(big.Int).Add(t.PrecomputedFeeAmount, t.ExecutedAmount)
		fee.Sub(fee, sell)
	} else {
		buy = new(big.Int).Set(t.ExecutedAmount)
		sell = truncMulDiv(buy, buyPriceUCP, sellPriceUCP)
		fee = new(big.Int).Add(t.PrecomputedFeeAmount, truncMulDiv(buy, buyPrice, sellPrice))
		fee.Sub(fee, sell)
	}
	return models.OrderExecution{BuyAmount: buy, SellAmount: sell, FeeAmount: fee}
}

// TradesFromSettlement pairs every trade of the settlement with its execution.
func TradesFromSettlement(s *models.Settlement) []models.Trade {
	trades := make([]models.Trade, len(s.Trades))
	for i := range s.Trades {
		trades[i] = models.Trade{
			Data:      OrderDataFromSettlement(s, i),
			Execution: ExecutionFromSettlement(s, i),
		}
	}
	return trades
}

func truncMulDiv(x, num, den *big.Int) *big.Int {
	return Truncate(new(big.Rat).SetFrac(new(big.Int).Mul(x, num), den))
}

func floorMulDiv(x, num, den *big.Int) *big.Int {
	if den.Sign() == 0 {
		panic("surplus: division by zero clearing price")
	}
	q := new(big.Int)
	m := new(big.Int)
	q.DivMod(new(big.Int).Mul(x, num), den, m)
	if den.Sign() < 0 && m.Sign() != 0 {
		// DivMod is Euclidean; floor differs only for negative divisors.
		q.Add(q, big.NewInt(1))
	}
	return q
}
