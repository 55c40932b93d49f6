package chain

import (
	"bytes"
	_ "embed"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/Aidin1998/ebbo_monitor/pkg/models"
)

var (
	//go:embed abi/gpv2_settlement.json
	settlementABIJSON []byte
	//go:embed abi/cowamm_constant_product.json
	cowAMMABIJSON []byte

	// SettlementABI is the ABI of the settlement contract.
	SettlementABI = mustParseABI(settlementABIJSON)
	// CoWAMMABI is the ABI of the CoW AMM constant product helper.
	CoWAMMABI = mustParseABI(cowAMMABIJSON)
)

func mustParseABI(data []byte) abi.ABI {
	parsed, err := abi.JSON(bytes.NewReader(data))
	if err != nil {
		panic(fmt.Sprintf("chain: parse abi: %v", err))
	}
	return parsed
}

// SettleTrade mirrors the trade tuple of settle().
type SettleTrade struct {
	SellTokenIndex *big.Int
	BuyTokenIndex  *big.Int
	Receiver       common.Address
	SellAmount     *big.Int
	BuyAmount      *big.Int
	ValidTo        uint32
	AppData        [32]byte
	FeeAmount      *big.Int
	Flags          *big.Int
	ExecutedAmount *big.Int
	Signature      []byte
}

// SettleInteraction mirrors the interaction tuple of settle().
type SettleInteraction struct {
	Target   common.Address
	Value    *big.Int
	CallData []byte
}

// SettleArgs are the arguments of settle().
type SettleArgs struct {
	Tokens         []common.Address
	ClearingPrices []*big.Int
	Trades         []SettleTrade
	Interactions   [3][]SettleInteraction
}

// DecodeSettlement decodes settle() calldata. Calldata of any other method is rejected.
func DecodeSettlement(calldata []byte) (*models.Settlement, error) {
	if len(calldata) < 4 {
		return nil, fmt.Errorf("%w: calldata too short", models.ErrIntegrity)
	}
	method, err := SettlementABI.MethodById(calldata[:4])
	if err != nil || method.Name != "settle" {
		return nil, fmt.Errorf("%w: not a settle call", ErrUnexpectedMethod)
	}
	values, err := method.Inputs.Unpack(calldata[4:])
	if err != nil {
		return nil, fmt.Errorf("%w: unpack settle: %v", models.ErrIntegrity, err)
	}
	var args SettleArgs
	if err := method.Inputs.Copy(&args, values); err != nil {
		return nil, fmt.Errorf("%w: copy settle arguments: %v", models.ErrIntegrity, err)
	}
	return args.Settlement()
}

// Settlement converts the raw arguments into the domain model.
func (a *SettleArgs) Settlement() (*models.Settlement, error) {
	s := &models.Settlement{
		Tokens:         make([]models.Token, len(a.Tokens)),
		ClearingPrices: a.ClearingPrices,
		Trades:         make([]models.SettlementTrade, len(a.Trades)),
	}
	for i, t := range a.Tokens {
		s.Tokens[i] = models.NewToken(t.Hex())
	}
	for i, t := range a.Trades {
		if !t.SellTokenIndex.IsInt64() || !t.BuyTokenIndex.IsInt64() || !t.Flags.IsUint64() {
			return nil, fmt.Errorf("%w: trade %d has out of range indices", models.ErrIntegrity, i)
		}
		s.Trades[i] = models.SettlementTrade{
			SellTokenIndex:       int(t.SellTokenIndex.Int64()),
			BuyTokenIndex:        int(t.BuyTokenIndex.Int64()),
			Receiver:             models.NewToken(t.Receiver.Hex()).String(),
			LimitSellAmount:      t.SellAmount,
			LimitBuyAmount:       t.BuyAmount,
			PrecomputedFeeAmount: t.FeeAmount,
			ExecutedAmount:       t.ExecutedAmount,
			Flags:                uint8(t.Flags.Uint64()),
		}
	}
	for phase, interactions := range a.Interactions {
		for _, in := range interactions {
			s.Interactions[phase] = append(s.Interactions[phase], models.Interaction{
				Target:   models.NewToken(in.Target.Hex()),
				Value:    in.Value,
				CallData: in.CallData,
			})
		}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// DecodeCommitCall returns the owner argument of a CoW AMM commit(owner, orderHash) call.
func DecodeCommitCall(calldata []byte) (common.Address, error) {
	if len(calldata) < 4 {
		return common.Address{}, fmt.Errorf("%w: calldata too short", models.ErrIntegrity)
	}
	method, err := CoWAMMABI.MethodById(calldata[:4])
	if err != nil || method.Name != "commit" {
		return common.Address{}, fmt.Errorf("%w: not a commit call", ErrUnexpectedMethod)
	}
	values, err := method.Inputs.Unpack(calldata[4:])
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: unpack commit: %v", models.ErrIntegrity, err)
	}
	owner, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%w: commit owner has type %T", models.ErrIntegrity, values[0])
	}
	return owner, nil
}
