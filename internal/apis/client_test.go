package apis

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Aidin1998/ebbo_monitor/pkg/models"
)

func newTestClient(service string) *Client {
	return NewClient(service, ClientConfig{
		Timeout:       time.Second,
		MaxRetries:    2,
		RetryInterval: time.Millisecond,
	}, zap.NewNop())
}

// memStore is an in-memory cache.Store.
type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore { return &memStore{data: map[string][]byte{}} }

func (m *memStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"value":"42"}`))
	}))
	defer srv.Close()

	var out struct {
		Value models.Amount `json:"value"`
	}
	require.NoError(t, newTestClient("test").GetJSON(context.Background(), srv.URL, &out))
	assert.Equal(t, "42", out.Value.String())
	assert.EqualValues(t, 3, calls.Load())
}

func TestClient_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestClient("test").Do(context.Background(), http.MethodGet, srv.URL, nil)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusTooManyRequests, se.Code)
	assert.True(t, se.Temporary())
	assert.False(t, IsClientError(err))
	assert.EqualValues(t, 3, calls.Load())
}

func TestClient_DefinitiveAnswersAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		switch r.URL.Path {
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		case "/bad":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"errorType":"UnsupportedToken"}`))
		default:
			_, _ = w.Write([]byte(`not json`))
		}
	}))
	defer srv.Close()
	c := newTestClient("test")
	ctx := context.Background()

	_, err := c.Do(ctx, http.MethodGet, srv.URL+"/missing", nil)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, IsClientError(err))

	_, err = c.Do(ctx, http.MethodGet, srv.URL+"/bad", nil)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.Code)
	assert.Contains(t, se.Error(), "UnsupportedToken")
	assert.True(t, IsClientError(err))

	var out map[string]interface{}
	err = c.GetJSON(ctx, srv.URL+"/garbage", &out)
	assert.ErrorIs(t, err, models.ErrIntegrity)

	assert.EqualValues(t, 3, calls.Load())
}

func TestClient_StopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient("test", ClientConfig{Timeout: time.Second, MaxRetries: 100, RetryInterval: time.Hour}, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Do(ctx, http.MethodGet, srv.URL, nil)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestClient_OversizedBodyIsRejected(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"value":"1234567890"}`))
	}))
	defer srv.Close()

	c := NewClient("test", ClientConfig{
		Timeout:          time.Second,
		MaxRetries:       2,
		RetryInterval:    time.Millisecond,
		MaxResponseBytes: 8,
	}, zap.NewNop())
	_, err := c.Do(context.Background(), http.MethodGet, srv.URL, nil)
	assert.ErrorIs(t, err, ErrResponseTooLarge)
	assert.EqualValues(t, 1, calls.Load())

	c = NewClient("test", ClientConfig{Timeout: time.Second, MaxResponseBytes: 22}, zap.NewNop())
	body, err := c.Do(context.Background(), http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	assert.Len(t, body, 22)
}

func TestClient_WithoutRetriesReturnsPlainError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient("test", ClientConfig{Timeout: time.Second, RetryInterval: time.Millisecond}, zap.NewNop())
	_, err := c.Do(context.Background(), http.MethodGet, srv.URL, nil)
	se, ok := err.(*StatusError)
	require.True(t, ok, "got %T", err)
	assert.Equal(t, http.StatusBadRequest, se.Code)
	assert.EqualValues(t, 1, calls.Load())
}
