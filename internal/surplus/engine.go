// Package surplus computes order surplus and prices with exact rational arithmetic.
//
// Every intermediate value is a big.Rat; only final results are truncated toward zero.
// Zero denominators are a caller bug and panic.
package surplus

import (
	"math/big"

	"github.com/Aidin1998/ebbo_monitor/pkg/models"
)

// Surplus returns the surplus of exec relative to the limit price of order, in atoms of
// the order's surplus token.
//
//	sell order: buy - limitBuy/(limitSell+precomputedFee) * (sell+fee)
//	buy order:  (limitSell+precomputedFee)/limitBuy * buy - (sell+fee)
func Surplus(order models.OrderData, exec models.OrderExecution) *big.Int {
	limitSell := new(big.Int).Add(order.LimitSellAmount, order.PrecomputedFeeAmount)
	paid := new(big.Rat).SetInt(exec.SellPlusFee())

	var s *big.Rat
	if order.IsSellOrder {
		limit := new(big.Rat).SetFrac(order.LimitBuyAmount, limitSell)
		s = new(big.Rat).SetInt(exec.BuyAmount)
		s.Sub(s, limit.Mul(limit, paid))
	} else {
		limit := new(big.Rat).SetFrac(limitSell, order.LimitBuyAmount)
		s = limit.Mul(limit, new(big.Rat).SetInt(exec.BuyAmount))
		s.Sub(s, paid)
	}
	return Truncate(s)
}

// Price returns (sell+fee)/buy.
func Price(exec models.OrderExecution) *big.Rat {
	return new(big.Rat).SetFrac(exec.SellPlusFee(), exec.BuyAmount)
}

// CompareSurplus returns Surplus(order, a) - Surplus(order, b). It is negative when b
// gives more surplus than a.
func CompareSurplus(a, b models.OrderExecution, order models.OrderData) *big.Int {
	sa := Surplus(order, a)
	return sa.Sub(sa, Surplus(order, b))
}

// ComparePrice returns Price(b)/Price(a) - 1. It is negative when b has the better price.
func ComparePrice(a, b models.OrderExecution) *big.Rat {
	r := Price(b)
	r.Quo(r, Price(a))
	return r.Sub(r, big.NewRat(1, 1))
}

// TokenToEth returns ETH per atom of token, i.e. price/10^36.
func TokenToEth(token models.Token, prices models.Prices) (*big.Rat, error) {
	p, ok := prices[token]
	if !ok || p == nil {
		return nil, &models.MissingPriceError{Token: token}
	}
	return new(big.Rat).SetFrac(p, models.PriceScale), nil
}

// ToEthValue converts an amount of token atoms to ETH.
func ToEthValue(amount *big.Int, token models.Token, prices models.Prices) (*big.Rat, error) {
	rate, err := TokenToEth(token, prices)
	if err != nil {
		return nil, err
	}
	return rate.Mul(rate, new(big.Rat).SetInt(amount)), nil
}

// AdaptExecutionToGasPrice returns a copy of exec whose fee is rescaled from oldGasPrice to
// newGasPrice. sell+fee is left unchanged.
func AdaptExecutionToGasPrice(exec models.OrderExecution, oldGasPrice, newGasPrice *big.Int) models.OrderExecution {
	adapted := exec.Clone()
	adapted.AdaptToGasPrice(oldGasPrice, newGasPrice)
	return adapted
}

// Truncate rounds r toward zero.
func Truncate(r *big.Rat) *big.Int {
	return new(big.Int).Quo(r.Num(), r.Denom())
}

// WeiToEth returns x / 10^18.
func WeiToEth(x *big.Int) *big.Rat {
	return new(big.Rat).SetFrac(x, models.Wei)
}
