package monitoring

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// scriptedTest succeeds on a hash once it has been run at least succeedAfter[hash] times.
type scriptedTest struct {
	mu           sync.Mutex
	succeedAfter map[string]int
	calls        []string
	panicOn      string
	onRun        func(ctx context.Context, hash string)
}

func (s *scriptedTest) Name() string { return "scripted" }

func (s *scriptedTest) Run(ctx context.Context, hash string) bool {
	s.mu.Lock()
	s.calls = append(s.calls, hash)
	n := 0
	for _, c := range s.calls {
		if c == hash {
			n++
		}
	}
	s.mu.Unlock()
	if s.onRun != nil {
		s.onRun(ctx, hash)
	}
	if hash == s.panicOn {
		panic("boom")
	}
	after, ok := s.succeedAfter[hash]
	if !ok {
		return true
	}
	return after >= 0 && n >= after
}

func (s *scriptedTest) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func TestQueue_RetriesStayAheadOfNewHashes(t *testing.T) {
	test := &scriptedTest{succeedAfter: map[string]int{"0x01": -1, "0x03": 2}}
	q := NewQueue(test, time.Second, zaptest.NewLogger(t))

	q.AddToQueue("0x01", "0x02", "0x03")
	assert.Equal(t, 2, q.DrainQueue(context.Background()))
	assert.Equal(t, []string{"0x01", "0x03"}, q.Pending())

	q.AddToQueue("0x04")
	assert.Equal(t, []string{"0x01", "0x03", "0x04"}, q.Pending())

	// Cycle 2: 0x03 succeeds on its second attempt and is gone afterwards.
	assert.Equal(t, 1, q.DrainQueue(context.Background()))
	assert.Equal(t, []string{"0x01"}, q.Pending())
	assert.Equal(t, []string{"0x01", "0x02", "0x03", "0x01", "0x03", "0x04"}, test.Calls())
}

func TestQueue_NeverSucceedingHashIsRetriedEveryCycle(t *testing.T) {
	test := &scriptedTest{succeedAfter: map[string]int{"0xdead": -1}}
	q := NewQueue(test, 0, zap.NewNop())
	q.AddToQueue("0xdead")

	for cycle := 0; cycle < 5; cycle++ {
		q.DrainQueue(context.Background())
		assert.Equal(t, []string{"0xdead"}, q.Pending())
	}
	assert.Len(t, test.Calls(), 5)
}

func TestQueue_PanicIsRetried(t *testing.T) {
	test := &scriptedTest{panicOn: "0xbad"}
	q := NewQueue(test, time.Second, zap.NewNop())
	q.AddToQueue("0xbad", "0x02")

	require.NotPanics(t, func() { q.DrainQueue(context.Background()) })
	assert.Equal(t, []string{"0xbad"}, q.Pending())
	assert.Equal(t, 1, q.Len())
}

func TestQueue_CancelStopsStartingRuns(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var runCtxErr error
	test := &scriptedTest{onRun: func(runCtx context.Context, hash string) {
		if hash == "0x01" {
			cancel()
			runCtxErr = runCtx.Err()
		}
	}}
	q := NewQueue(test, time.Second, zap.NewNop())
	q.AddToQueue("0x01", "0x02", "0x03")

	assert.Equal(t, 2, q.DrainQueue(ctx))
	// The in-flight run is not cancelled with the daemon.
	assert.NoError(t, runCtxErr)
	assert.Equal(t, []string{"0x01"}, test.Calls())
	assert.Equal(t, []string{"0x02", "0x03"}, q.Pending())
}

func TestQueue_RunTimeout(t *testing.T) {
	var deadline bool
	test := &scriptedTest{onRun: func(ctx context.Context, _ string) {
		_, deadline = ctx.Deadline()
	}}
	q := NewQueue(test, time.Minute, zap.NewNop())
	q.AddToQueue("0x01")
	q.DrainQueue(context.Background())
	assert.True(t, deadline)
}
