package models

import (
	"fmt"
	"math/big"
)

// OrderData represents the signed limits of an order.
type OrderData struct {
	LimitBuyAmount       *big.Int
	LimitSellAmount      *big.Int
	PrecomputedFeeAmount *big.Int
	BuyToken             Token
	SellToken            Token
	IsSellOrder          bool
	IsPartiallyFillable  bool
}

// SurplusToken is the buy token for sell orders and the sell token for buy orders.
func (o OrderData) SurplusToken() Token {
	if o.IsSellOrder {
		return o.BuyToken
	}
	return o.SellToken
}

// Pair returns the directed sell -> buy pair of the order.
func (o OrderData) Pair() Pair {
	return Pair{Sell: o.SellToken, Buy: o.BuyToken}
}

// Kind returns "sell" or "buy".
func (o OrderData) Kind() string {
	if o.IsSellOrder {
		return "sell"
	}
	return "buy"
}

// OrderExecution represents how an order was (or would have been) executed, in atoms.
type OrderExecution struct {
	BuyAmount  *big.Int
	SellAmount *big.Int
	FeeAmount  *big.Int
}

// NewOrderExecution copies the given amounts into a new execution.
func NewOrderExecution(buy, sell, fee *big.Int) OrderExecution {
	return OrderExecution{
		BuyAmount:  new(big.Int).Set(buy),
		SellAmount: new(big.Int).Set(sell),
		FeeAmount:  new(big.Int).Set(fee),
	}
}

// ExecutionFromInt64 is a convenience constructor for small amounts.
func ExecutionFromInt64(buy, sell, fee int64) OrderExecution {
	return OrderExecution{
		BuyAmount:  big.NewInt(buy),
		SellAmount: big.NewInt(sell),
		FeeAmount:  big.NewInt(fee),
	}
}

// Clone returns a deep copy.
func (e OrderExecution) Clone() OrderExecution {
	return NewOrderExecution(e.BuyAmount, e.SellAmount, e.FeeAmount)
}

// SellPlusFee returns sellAmount + feeAmount.
func (e OrderExecution) SellPlusFee() *big.Int {
	return new(big.Int).Add(e.SellAmount, e.FeeAmount)
}

// IsTrivial reports whether nothing was bought.
func (e OrderExecution) IsTrivial() bool {
	return e.BuyAmount == nil || e.BuyAmount.Sign() == 0
}

// AdaptToGasPrice rescales the fee by newPrice/oldPrice, truncating toward zero, and moves
// the difference into the sell amount so that sell+fee is unchanged.
func (e *OrderExecution) AdaptToGasPrice(oldPrice, newPrice *big.Int) {
	if oldPrice.Sign() == 0 {
		panic("models: adapt execution with zero gas price")
	}
	fee := new(big.Int).Mul(e.FeeAmount, newPrice)
	fee.Quo(fee, oldPrice)
	total := e.SellPlusFee()
	e.SellAmount = total.Sub(total, fee)
	e.FeeAmount = fee
}

func (e OrderExecution) String() string {
	return fmt.Sprintf("{buy: %s, sell: %s, fee: %s}", e.BuyAmount, e.SellAmount, e.FeeAmount)
}

// Trade pairs an order with one of its executions.
type Trade struct {
	Data      OrderData
	Execution OrderExecution
}

func (t Trade) String() string {
	return fmt.Sprintf("%s order %s: %s", t.Data.Kind(), t.Data.Pair(), t.Execution)
}

// PartiallyFillable returns the indices of trades on partially fillable orders.
func PartiallyFillable(trades []Trade) []int {
	var indices []int
	for i, t := range trades {
		if t.Data.IsPartiallyFillable {
			indices = append(indices, i)
		}
	}
	return indices
}

// Order represents an order as returned by the orderbook.
type Order struct {
	UID               string `json:"uid" validate:"required"`
	SellToken         string `json:"sellToken" validate:"required,eth_addr"`
	BuyToken          string `json:"buyToken" validate:"required,eth_addr"`
	Receiver          string `json:"receiver,omitempty"`
	SellAmount        Amount `json:"sellAmount"`
	BuyAmount         Amount `json:"buyAmount"`
	FeeAmount         Amount `json:"feeAmount"`
	Kind              string `json:"kind" validate:"required,oneof=buy sell"`
	PartiallyFillable bool   `json:"partiallyFillable"`
	Owner             string `json:"owner,omitempty"`
}

// Validate checks the amounts the struct tags cannot express.
func (o Order) Validate() error {
	if !o.SellAmount.IsSet() || !o.BuyAmount.IsSet() || !o.FeeAmount.IsSet() {
		return fmt.Errorf("%w: order %s is missing amounts", ErrIntegrity, o.UID)
	}
	if o.SellAmount.Int().Sign() == 0 || o.BuyAmount.Int().Sign() == 0 {
		return fmt.Errorf("%w: order %s has a zero limit amount", ErrIntegrity, o.UID)
	}
	return nil
}

// Data converts the order into OrderData.
func (o Order) Data() OrderData {
	return OrderData{
		LimitBuyAmount:       o.BuyAmount.Int(),
		LimitSellAmount:      o.SellAmount.Int(),
		PrecomputedFeeAmount: o.FeeAmount.Int(),
		BuyToken:             NewToken(o.BuyToken),
		SellToken:            NewToken(o.SellToken),
		IsSellOrder:          o.Kind == "sell",
		IsPartiallyFillable:  o.PartiallyFillable,
	}
}
