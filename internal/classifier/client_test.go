package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"chatguard/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(url string) *Client {
	return NewClient(url, "secret", WithMaxRetries(1), WithRetryWait(time.Millisecond, 5*time.Millisecond))
}

func TestClient_Classify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var body classifyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Contains(t, body.Labels, "hate_speech")
		assert.Contains(t, body.Labels, "caps_lock")
		if body.Text == "you idiot" {
			_, _ = w.Write([]byte(`{"has_violation": true, "violation_type": "harassment", "severity": 3}`))
			return
		}
		_, _ = w.Write([]byte(`{"has_violation": false}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)

	got, err := c.Classify(context.Background(), "you idiot")
	require.NoError(t, err)
	assert.Equal(t, models.Classification{HasViolation: true, Kind: models.ViolationHarassment, Severity: 3}, got)

	got, err = c.Classify(context.Background(), "hello")
	require.NoError(t, err)
	assert.False(t, got.HasViolation)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"has_violation": true, "violation_type": "spam", "severity": 2}`))
	}))
	defer srv.Close()

	got, err := newTestClient(srv.URL).Classify(context.Background(), "buy now")
	require.NoError(t, err)
	assert.Equal(t, models.ViolationSpam, got.Kind)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestClient_DoesNotRetryThrottle(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Classify(context.Background(), "hi")
	assert.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestClient_ContextTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := newTestClient(srv.URL).Classify(ctx, "hi")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

type countingClassifier struct {
	calls int
	err   error
}

func (c *countingClassifier) Classify(ctx context.Context, text string) (models.Classification, error) {
	c.calls++
	if c.err != nil {
		return models.Classification{}, c.err
	}
	return models.Classification{HasViolation: true, Kind: models.ViolationSpam, Severity: 2}, nil
}

func TestCachedClassifier(t *testing.T) {
	inner := &countingClassifier{}
	c := NewCachedClassifier(inner, 8, time.Minute)
	ctx := context.Background()

	first, err := c.Classify(ctx, "same text")
	require.NoError(t, err)
	second, err := c.Classify(ctx, "same text")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, 1, c.Len())
}

func TestCachedClassifier_DoesNotCacheErrors(t *testing.T) {
	inner := &countingClassifier{err: errors.New("unreachable")}
	c := NewCachedClassifier(inner, 8, time.Minute)

	_, err := c.Classify(context.Background(), "x")
	require.Error(t, err)
	_, err = c.Classify(context.Background(), "x")
	require.Error(t, err)

	assert.Equal(t, 2, inner.calls)
	assert.Equal(t, 0, c.Len())
}
