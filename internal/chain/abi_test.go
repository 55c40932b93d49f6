package chain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aidin1998/ebbo_monitor/pkg/models"
)

var (
	tokenA = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	tokenB = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	trader = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	amm    = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

func packSettlement(t *testing.T, pre []SettleInteraction) []byte {
	t.Helper()
	trades := []SettleTrade{
		{
			SellTokenIndex: big.NewInt(0),
			BuyTokenIndex:  big.NewInt(1),
			Receiver:       trader,
			SellAmount:     big.NewInt(1000),
			BuyAmount:      big.NewInt(900),
			ValidTo:        1700000000,
			FeeAmount:      big.NewInt(3),
			Flags:          big.NewInt(0),
			ExecutedAmount: big.NewInt(1000),
			Signature:      []byte{0x01, 0x02},
		},
		{
			SellTokenIndex: big.NewInt(1),
			BuyTokenIndex:  big.NewInt(0),
			Receiver:       trader,
			SellAmount:     big.NewInt(50),
			BuyAmount:      big.NewInt(40),
			FeeAmount:      big.NewInt(0),
			Flags:          big.NewInt(int64(models.FlagBuyOrder | models.FlagPartiallyFillable)),
			ExecutedAmount: big.NewInt(20),
			Signature:      []byte{},
		},
	}
	interactions := [3][]SettleInteraction{pre, {}, {}}
	data, err := SettlementABI.Pack("settle",
		[]common.Address{tokenA, tokenB},
		[]*big.Int{big.NewInt(9), big.NewInt(10)},
		trades,
		interactions,
	)
	require.NoError(t, err)
	return data
}

func TestDecodeSettlement(t *testing.T) {
	commit, err := CoWAMMABI.Pack("commit", amm, [32]byte{0x42})
	require.NoError(t, err)
	pre := []SettleInteraction{{Target: common.HexToAddress(CoWAMMHelper), Value: big.NewInt(0), CallData: commit}}

	s, err := DecodeSettlement(packSettlement(t, pre))
	require.NoError(t, err)

	require.Len(t, s.Tokens, 2)
	assert.Equal(t, models.NewToken(tokenA.Hex()), s.Tokens[0])
	assert.Equal(t, "10", s.ClearingPrices[1].String())

	require.Len(t, s.Trades, 2)
	sell := s.Trades[0]
	assert.True(t, sell.IsSellOrder())
	assert.False(t, sell.IsPartiallyFillable())
	assert.Equal(t, "900", sell.LimitBuyAmount.String())
	assert.Equal(t, "3", sell.PrecomputedFeeAmount.String())
	assert.Equal(t, models.NewToken(trader.Hex()).String(), sell.Receiver)

	buy := s.Trades[1]
	assert.False(t, buy.IsSellOrder())
	assert.True(t, buy.IsPartiallyFillable())
	assert.Equal(t, 1, buy.SellTokenIndex)
	assert.Equal(t, "20", buy.ExecutedAmount.String())

	require.Len(t, s.Interactions[0], 1)
	assert.Empty(t, s.Interactions[1])
	assert.Equal(t, models.NewToken(CoWAMMHelper), s.Interactions[0][0].Target)

	owner, err := DecodeCommitCall(s.Interactions[0][0].CallData)
	require.NoError(t, err)
	assert.Equal(t, amm, owner)
}

func TestDecodeSettlement_RejectsOtherCalldata(t *testing.T) {
	commit, err := CoWAMMABI.Pack("commit", amm, [32]byte{})
	require.NoError(t, err)

	_, err = DecodeSettlement(commit)
	assert.ErrorIs(t, err, ErrUnexpectedMethod)

	_, err = DecodeSettlement([]byte{0x01})
	assert.ErrorIs(t, err, models.ErrIntegrity)

	data := packSettlement(t, nil)
	_, err = DecodeSettlement(data[:len(data)-40])
	assert.ErrorIs(t, err, models.ErrIntegrity)

	_, err = DecodeCommitCall(data)
	assert.ErrorIs(t, err, ErrUnexpectedMethod)
}

func TestSettleArgs_InvalidTokenIndex(t *testing.T) {
	args := SettleArgs{
		Tokens:         []common.Address{tokenA},
		ClearingPrices: []*big.Int{big.NewInt(1)},
		Trades: []SettleTrade{{
			SellTokenIndex: big.NewInt(0),
			BuyTokenIndex:  big.NewInt(3),
			Flags:          big.NewInt(0),
		}},
	}
	_, err := args.Settlement()
	assert.ErrorIs(t, err, models.ErrIntegrity)
}
