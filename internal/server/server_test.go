package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeStatus struct {
	ready   bool
	next    uint64
	pending map[string][]string
}

func (f fakeStatus) Ready() bool                  { return f.ready }
func (f fakeStatus) NextBlock() uint64            { return f.next }
func (f fakeStatus) Pending() map[string][]string { return f.pending }

type dump struct {
	Daemon struct {
		SleepInterval string `yaml:"sleep_interval"`
	} `yaml:"daemon"`
	Secret string `yaml:"secret"`
}

func serve(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	req, err := http.NewRequest(http.MethodGet, path, nil)
	require.NoError(t, err)
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := serve(t, NewServer(zap.NewNop(), fakeStatus{}, nil), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestReady(t *testing.T) {
	rec := serve(t, NewServer(zap.NewNop(), fakeStatus{}, nil), "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = serve(t, NewServer(zap.NewNop(), fakeStatus{ready: true, next: 42}, nil), "/ready")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready","next_block":42}`, rec.Body.String())
}

func TestQueues(t *testing.T) {
	status := fakeStatus{pending: map[string][]string{"high_score": {"0x1", "0x2"}, "price_sensitivity": {}}}
	rec := serve(t, NewServer(zap.NewNop(), status, nil), "/queues")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Total int                 `json:"total"`
		Tests map[string][]string `json:"tests"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Total)
	assert.Equal(t, []string{"0x1", "0x2"}, body.Tests["high_score"])
}

func TestConfig(t *testing.T) {
	cfg := dump{Secret: "***"}
	cfg.Daemon.SleepInterval = "10s"
	rec := serve(t, NewServer(zap.NewNop(), fakeStatus{}, cfg), "/config")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/yaml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "sleep_interval: 10s")
	assert.Contains(t, rec.Body.String(), "secret:")
	assert.Contains(t, rec.Body.String(), "***")
}

func TestMetrics(t *testing.T) {
	rec := serve(t, NewServer(zap.NewNop(), fakeStatus{}, nil), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
