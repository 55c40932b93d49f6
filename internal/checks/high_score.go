package checks

import (
	"context"

	"go.uber.org/zap"

	"github.com/Aidin1998/ebbo_monitor/internal/monitoring"
	"github.com/Aidin1998/ebbo_monitor/internal/surplus"
)

// HighScoreTest alerts on winning scores above a threshold.
type HighScoreTest struct {
	base
	competitions Competitions
	rule         monitoring.Rule
}

// NewHighScoreTest creates the test.
func NewHighScoreTest(competitions Competitions, t Thresholds, reporter monitoring.Reporter, logger *zap.Logger) *HighScoreTest {
	return &HighScoreTest{
		base:         newBase(NameHighScore, reporter, logger),
		competitions: competitions,
		rule: monitoring.Rule{
			Absolute: t.HighScoreETH,
			Tiers:    []monitoring.Tier{{Severity: monitoring.SeverityAlert, AbsoluteDivisor: 1}},
		},
	}
}

// Run implements monitoring.Test.
func (h *HighScoreTest) Run(ctx context.Context, hash string) bool {
	competition, err := h.competitions.GetCompetitionData(ctx, hash)
	if err != nil {
		return h.retry(hash, err)
	}
	winner := competition.Winner()
	if !winner.Score.IsSet() {
		return h.skip(hash, "winner has no score")
	}
	score := surplus.WeiToEth(winner.Score.Int())

	h.report(ctx, h.rule.Evaluate(score, nil), "Winning score",
		zap.String("tx_hash", hash),
		zap.String("winning_solver", winner.Solver),
		ethField("score_eth", score))
	return true
}
