// Package chain reads settlements from an Ethereum node: hash discovery through Trade
// logs, transactions, receipts, contract calls and settle() calldata decoding.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// Mainnet defaults.
const (
	SettlementContract = "0x9008D19f58AAbD9eD0D60971565AA8510560ab41"
	TradeTopic         = "0xa07a543ab8a018198e99ca0184c93fe9050a79400a0a723441f84de1d972cc17"
	CoWAMMHelper       = "0x34323B933096534e43958F6c7Bf44F2Bb59424DA"
	// KickbackTopic is the topic of the event emitted when a kickback is received.
	KickbackTopic = "0x3d0ce9bfc3ed7d6862dbb28b2dea94561fe714a1b4d019aa8af39730d1ad7c3d"
)

var (
	// ErrNotFound is returned for unknown or still pending transactions.
	ErrNotFound = errors.New("transaction not found")
	// ErrUnexpectedMethod is returned when calldata does not call the expected method.
	ErrUnexpectedMethod = errors.New("unexpected method")
)

// Backend is the subset of ethclient.Client the monitor uses.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Config selects the contracts the client watches.
type Config struct {
	SettlementContract string
	TradeTopic         string
}

// DefaultConfig returns the mainnet contracts.
func DefaultConfig() Config {
	return Config{SettlementContract: SettlementContract, TradeTopic: TradeTopic}
}

// Client wraps a Backend with the settlement-specific queries.
type Client struct {
	backend    Backend
	settlement common.Address
	tradeTopic common.Hash
	logger     *zap.Logger
}

// Dial connects to the node at rawURL.
func Dial(ctx context.Context, rawURL string, cfg Config, logger *zap.Logger) (*Client, error) {
	backend, err := ethclient.DialContext(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial node: %w", err)
	}
	return NewClient(backend, cfg, logger), nil
}

// NewClient creates a client on backend.
func NewClient(backend Backend, cfg Config, logger *zap.Logger) *Client {
	return &Client{
		backend:    backend,
		settlement: common.HexToAddress(cfg.SettlementContract),
		tradeTopic: common.HexToHash(cfg.TradeTopic),
		logger:     logger,
	}
}

// BlockNumber returns the current chain head.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return c.backend.BlockNumber(ctx)
}

// SettlementHashes returns the distinct hashes of settlements in [from, to], in block
// order. An empty range yields no hashes.
func (c *Client) SettlementHashes(ctx context.Context, from, to uint64) ([]string, error) {
	if from > to {
		return nil, nil
	}
	logs, err := c.backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{c.settlement},
		Topics:    [][]common.Hash{{c.tradeTopic}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to filter settlement logs: %w", err)
	}

	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].TxIndex < logs[j].TxIndex
	})
	seen := make(map[common.Hash]struct{}, len(logs))
	hashes := make([]string, 0, len(logs))
	for _, l := range logs {
		if _, ok := seen[l.TxHash]; ok {
			continue
		}
		seen[l.TxHash] = struct{}{}
		hashes = append(hashes, l.TxHash.Hex())
	}
	c.logger.Debug("Filtered settlement logs",
		zap.Uint64("from_block", from),
		zap.Uint64("to_block", to),
		zap.Int("logs", len(logs)),
		zap.Int("hashes", len(hashes)))
	return hashes, nil
}

// Transaction is a mined settlement transaction.
type Transaction struct {
	Hash     string
	From     common.Address
	To       common.Address
	Input    []byte
	GasPrice *big.Int
}

// Transaction returns the transaction with the given hash.
func (c *Client) Transaction(ctx context.Context, hash string) (*Transaction, error) {
	tx, pending, err := c.backend.TransactionByHash(ctx, common.HexToHash(hash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("%s: %w", hash, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch transaction %s: %w", hash, err)
	}
	if pending {
		return nil, fmt.Errorf("%s is pending: %w", hash, ErrNotFound)
	}
	from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return nil, fmt.Errorf("failed to recover sender of %s: %w", hash, err)
	}
	out := &Transaction{
		Hash:     hash,
		From:     from,
		Input:    tx.Data(),
		GasPrice: tx.GasPrice(),
	}
	if tx.To() != nil {
		out.To = *tx.To()
	}
	return out, nil
}

// Receipt is the part of a transaction receipt the monitor uses.
type Receipt struct {
	BlockNumber       uint64
	GasUsed           uint64
	EffectiveGasPrice *big.Int
	Status            uint64
}

// Cost returns gasUsed * effectiveGasPrice in wei.
func (r *Receipt) Cost() *big.Int {
	return new(big.Int).Mul(new(big.Int).SetUint64(r.GasUsed), r.EffectiveGasPrice)
}

// Receipt returns the receipt of the transaction with the given hash.
func (c *Client) Receipt(ctx context.Context, hash string) (*Receipt, error) {
	r, err := c.backend.TransactionReceipt(ctx, common.HexToHash(hash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("receipt of %s: %w", hash, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch receipt of %s: %w", hash, err)
	}
	price := r.EffectiveGasPrice
	if price == nil {
		price = new(big.Int)
	}
	var block uint64
	if r.BlockNumber != nil {
		block = r.BlockNumber.Uint64()
	}
	return &Receipt{
		BlockNumber:       block,
		GasUsed:           r.GasUsed,
		EffectiveGasPrice: price,
		Status:            r.Status,
	}, nil
}

// GasPrice returns the node's current gas price suggestion.
func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	return c.backend.SuggestGasPrice(ctx)
}

// LogDataSum sums the data of logs with the given topic emitted by target in [from, to].
func (c *Client) LogDataSum(ctx context.Context, from, to uint64, target, topic string) (*big.Int, error) {
	logs, err := c.backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{common.HexToAddress(target)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to filter logs of %s: %w", target, err)
	}
	want := common.HexToHash(topic)
	sum := new(big.Int)
	for _, l := range logs {
		if len(l.Topics) == 0 || l.Topics[0] != want {
			continue
		}
		sum.Add(sum, new(big.Int).SetBytes(l.Data))
	}
	return sum, nil
}

// Commitment returns the order hash the CoW AMM owner is currently committed to.
func (c *Client) Commitment(ctx context.Context, helper, owner common.Address) (common.Hash, error) {
	data, err := CoWAMMABI.Pack("commitment", owner)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack commitment call: %w", err)
	}
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &helper, Data: data}, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("commitment(%s) failed: %w", owner.Hex(), err)
	}
	values, err := CoWAMMABI.Unpack("commitment", out)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to unpack commitment: %w", err)
	}
	raw, ok := values[0].([32]byte)
	if !ok {
		return common.Hash{}, fmt.Errorf("commitment has type %T", values[0])
	}
	return common.Hash(raw), nil
}

// SettlementContract returns the watched settlement contract.
func (c *Client) SettlementContract() common.Address { return c.settlement }
