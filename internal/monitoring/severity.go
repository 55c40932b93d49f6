package monitoring

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zapcore"
)

// Severity is the escalation tier of a finding.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityAlert
)

func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityAlert:
		return "alert"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// Level returns the log level a finding is written at.
func (s Severity) Level() zapcore.Level {
	switch s {
	case SeverityAlert:
		return zapcore.ErrorLevel
	case SeverityWarning:
		return zapcore.WarnLevel
	case SeverityInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

// Combine selects how the absolute and relative conditions of a tier are joined.
type Combine string

const (
	CombineAnd Combine = "and"
	CombineOr  Combine = "or"
)

// ParseCombine accepts "and" and "or", case-insensitively.
func ParseCombine(s string) (Combine, error) {
	switch c := Combine(strings.ToLower(strings.TrimSpace(s))); c {
	case CombineAnd, CombineOr:
		return c, nil
	default:
		return "", fmt.Errorf("unknown threshold combination %q", s)
	}
}

// Tier is one escalation step: the configured thresholds are divided by the divisors and
// the deviation must exceed the result.
type Tier struct {
	Severity        Severity
	AbsoluteDivisor int64
	RelativeDivisor int64
}

// Rule decides the severity of a deviation against tiered absolute and relative thresholds.
// A nil threshold takes no part in the decision.
type Rule struct {
	Absolute *big.Rat
	Relative *big.Rat
	Combine  Combine
	// UseMagnitude compares |deviation| instead of the signed deviation.
	UseMagnitude bool
	// Tiers are checked in order; the first matching tier wins.
	Tiers []Tier
}

// Evaluate returns the severity for the given deviations. Either deviation may be nil.
func (r Rule) Evaluate(absolute, relative *big.Rat) Severity {
	for _, tier := range r.Tiers {
		if r.matches(tier, absolute, relative) {
			return tier.Severity
		}
	}
	return SeverityDebug
}

func (r Rule) matches(tier Tier, absolute, relative *big.Rat) bool {
	var conds []bool
	if r.Absolute != nil {
		conds = append(conds, r.exceeds(absolute, r.Absolute, tier.AbsoluteDivisor))
	}
	if r.Relative != nil {
		conds = append(conds, r.exceeds(relative, r.Relative, tier.RelativeDivisor))
	}
	if len(conds) == 0 {
		return false
	}
	if r.Combine == CombineOr {
		for _, c := range conds {
			if c {
				return true
			}
		}
		return false
	}
	for _, c := range conds {
		if !c {
			return false
		}
	}
	return true
}

func (r Rule) exceeds(value, threshold *big.Rat, divisor int64) bool {
	if value == nil {
		return false
	}
	if divisor <= 0 {
		divisor = 1
	}
	limit := new(big.Rat).Quo(threshold, big.NewRat(divisor, 1))
	if r.UseMagnitude {
		value = new(big.Rat).Abs(value)
	}
	return value.Cmp(limit) > 0
}

// RatFromFloat converts a configured threshold into an exact rational via its shortest
// decimal representation, so 0.001 is exactly 1/1000.
func RatFromFloat(f float64) *big.Rat {
	return decimal.NewFromFloat(f).Rat()
}

// Decimal renders r for log fields with the given number of decimal places.
func Decimal(r *big.Rat, places int32) string {
	if r == nil {
		return "n/a"
	}
	return decimal.NewFromBigRat(r, places+2).StringFixed(places)
}
