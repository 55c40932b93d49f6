package checks

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"go.uber.org/zap"

	"github.com/Aidin1998/ebbo_monitor/internal/chain"
	"github.com/Aidin1998/ebbo_monitor/internal/monitoring"
	"github.com/Aidin1998/ebbo_monitor/pkg/models"
)

// base carries what every test shares: its name, the reporter and a logger tagged with
// the test name.
type base struct {
	name     string
	reporter monitoring.Reporter
	logger   *zap.Logger
}

func newBase(name string, reporter monitoring.Reporter, logger *zap.Logger) base {
	return base{name: name, reporter: reporter, logger: logger.With(zap.String("test", name))}
}

// Name implements monitoring.Test.
func (b *base) Name() string { return b.name }

func (b *base) report(ctx context.Context, severity monitoring.Severity, msg string, fields ...zap.Field) {
	b.reporter.Report(ctx, b.name, severity, msg, fields...)
}

// retry logs why hash stays queued and returns false. Integrity violations are logged
// at error level since they will not resolve by themselves.
func (b *base) retry(hash string, err error) bool {
	fields := []zap.Field{zap.String("tx_hash", hash), zap.Error(err)}
	if errors.Is(err, models.ErrIntegrity) || errors.Is(err, models.ErrInvalidAmount) {
		b.logger.Error("Upstream data integrity violation", fields...)
	} else {
		b.logger.Warn("Upstream data not available yet", fields...)
	}
	return false
}

// skip logs a non-applicable hash and returns true.
func (b *base) skip(hash, reason string, fields ...zap.Field) bool {
	b.logger.Debug("Skipping hash: "+reason, append([]zap.Field{zap.String("tx_hash", hash)}, fields...)...)
	return true
}

// finish maps the error of a settlement lookup onto the Run contract.
func (b *base) finish(hash string, err error) bool {
	if errors.Is(err, chain.ErrUnexpectedMethod) {
		return b.skip(hash, "not a settlement", zap.Error(err))
	}
	return b.retry(hash, err)
}

// loadSettlement fetches the transaction of hash and decodes its settle() call.
func loadSettlement(ctx context.Context, c Chain, hash string) (*chain.Transaction, *models.Settlement, error) {
	tx, err := c.Transaction(ctx, hash)
	if err != nil {
		return nil, nil, err
	}
	settlement, err := chain.DecodeSettlement(tx.Input)
	if err != nil {
		return nil, nil, err
	}
	return tx, settlement, nil
}

// decodeCallData decodes the hex calldata of a competition solution.
func decodeCallData(callData string) (*models.Settlement, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(callData, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: solution calldata is not hex", models.ErrIntegrity)
	}
	return chain.DecodeSettlement(raw)
}

// priced reports whether exec has a finite, non-zero price.
func priced(exec models.OrderExecution) bool {
	return !exec.IsTrivial() && exec.SellPlusFee().Sign() > 0
}

func ethField(key string, r *big.Rat) zap.Field {
	return zap.String(key, monitoring.Decimal(r, 5))
}

func pctField(key string, r *big.Rat) zap.Field {
	if r == nil {
		return zap.String(key, monitoring.Decimal(nil, 0))
	}
	return zap.String(key, monitoring.Decimal(new(big.Rat).Mul(r, big.NewRat(100, 1)), 4))
}

func surplusFields(hash, uid, winner, alternative string, abs, rel *big.Rat, atoms *big.Int) []zap.Field {
	return []zap.Field{
		zap.String("tx_hash", hash),
		zap.String("order_uid", uid),
		zap.String("winning_solver", winner),
		zap.String("alternative_solver", alternative),
		pctField("relative_deviation_pct", rel),
		ethField("absolute_deviation_eth", abs),
		zap.Stringer("absolute_deviation_atoms", atoms),
	}
}
