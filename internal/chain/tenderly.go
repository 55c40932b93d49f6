package chain

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/shopspring/decimal"

	"github.com/Aidin1998/ebbo_monitor/pkg/models"
)

// NativeToken stands for ETH in asset changes.
const NativeToken models.Token = "0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"

// TraceValue is a decoded log input or amount, rendered as a string.
type TraceValue string

// UnmarshalJSON accepts strings, numbers and booleans.
func (v *TraceValue) UnmarshalJSON(data []byte) error {
	*v = TraceValue(bytes.Trim(data, `"`))
	return nil
}

// Trace is the result of tenderly_traceTransaction, reduced to the fields used to
// reconcile token flows.
type Trace struct {
	Logs           []TraceLog      `json:"logs"`
	AssetChanges   []AssetChange   `json:"assetChanges"`
	BalanceChanges []BalanceChange `json:"balanceChanges"`
}

// TraceLog is a decoded event.
type TraceLog struct {
	Name   string `json:"name"`
	Inputs []struct {
		Value TraceValue `json:"value"`
	} `json:"inputs"`
}

// AssetChange is a single token or ETH transfer.
type AssetChange struct {
	AssetInfo struct {
		ContractAddress string `json:"contractAddress"`
		Decimals        int32  `json:"decimals"`
		Symbol          string `json:"symbol"`
	} `json:"assetInfo"`
	Type   string     `json:"type"`
	From   string     `json:"from"`
	To     string     `json:"to"`
	Amount TraceValue `json:"amount"`
}

// Token returns the transferred token, NativeToken for ETH.
func (a AssetChange) Token() models.Token {
	if a.AssetInfo.ContractAddress == "" {
		return NativeToken
	}
	return models.NewToken(a.AssetInfo.ContractAddress)
}

// Atoms converts the decimal amount into atoms, truncating toward zero.
func (a AssetChange) Atoms() (*big.Int, error) {
	d, err := decimal.NewFromString(string(a.Amount))
	if err != nil {
		return nil, fmt.Errorf("%w: asset change amount %q", models.ErrIntegrity, a.Amount)
	}
	return d.Shift(a.AssetInfo.Decimals).BigInt(), nil
}

// BalanceChange lists the asset changes touching an address.
type BalanceChange struct {
	Address   string `json:"address"`
	Transfers []int  `json:"transfers"`
}

// TradeEvent is a decoded Trade log.
type TradeEvent struct {
	Owner      string
	SellToken  models.Token
	BuyToken   models.Token
	SellAmount *big.Int
	BuyAmount  *big.Int
	FeeAmount  *big.Int
}

// TradeEvents returns the Trade logs of the trace.
func (t *Trace) TradeEvents() ([]TradeEvent, error) {
	var events []TradeEvent
	for i, l := range t.Logs {
		if l.Name != "Trade" {
			continue
		}
		if len(l.Inputs) < 6 {
			return nil, fmt.Errorf("%w: trade log %d has %d inputs", models.ErrIntegrity, i, len(l.Inputs))
		}
		amounts := make([]*big.Int, 3)
		for j := range amounts {
			v, err := models.ParseAmount(string(l.Inputs[3+j].Value))
			if err != nil {
				return nil, fmt.Errorf("trade log %d: %w", i, err)
			}
			amounts[j] = v
		}
		events = append(events, TradeEvent{
			Owner:      strings.ToLower(string(l.Inputs[0].Value)),
			SellToken:  models.NewToken(string(l.Inputs[1].Value)),
			BuyToken:   models.NewToken(string(l.Inputs[2].Value)),
			SellAmount: amounts[0],
			BuyAmount:  amounts[1],
			FeeAmount:  amounts[2],
		})
	}
	return events, nil
}

// TransfersOf returns the asset changes touching address.
func (t *Trace) TransfersOf(address string) ([]AssetChange, error) {
	for _, bc := range t.BalanceChanges {
		if !strings.EqualFold(bc.Address, address) {
			continue
		}
		out := make([]AssetChange, 0, len(bc.Transfers))
		for _, idx := range bc.Transfers {
			if idx < 0 || idx >= len(t.AssetChanges) {
				return nil, fmt.Errorf("%w: balance change refers to asset change %d of %d", models.ErrIntegrity, idx, len(t.AssetChanges))
			}
			out = append(out, t.AssetChanges[idx])
		}
		return out, nil
	}
	return nil, nil
}

// TenderlyTracer traces mined transactions through a Tenderly node.
type TenderlyTracer struct {
	client *rpc.Client
}

// DialTenderly connects to the Tenderly node at rawURL.
func DialTenderly(ctx context.Context, rawURL string) (*TenderlyTracer, error) {
	client, err := rpc.DialContext(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial tenderly: %w", err)
	}
	return NewTenderlyTracer(client), nil
}

// NewTenderlyTracer wraps an RPC client.
func NewTenderlyTracer(client *rpc.Client) *TenderlyTracer {
	return &TenderlyTracer{client: client}
}

// TraceTransaction returns the trace of hash.
func (t *TenderlyTracer) TraceTransaction(ctx context.Context, hash string) (*Trace, error) {
	var trace Trace
	if err := t.client.CallContext(ctx, &trace, "tenderly_traceTransaction", hash); err != nil {
		return nil, fmt.Errorf("tenderly trace of %s: %w", hash, err)
	}
	return &trace, nil
}

// Close releases the connection.
func (t *TenderlyTracer) Close() { t.client.Close() }
