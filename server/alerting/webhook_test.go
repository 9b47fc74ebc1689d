package alerting

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func testAlert() *Alert {
	return &Alert{
		ID:       "abc-123",
		Type:     TypeFall,
		Severity: SeverityCritical,
		FrameID:  7,
		TrackIDs: []int64{3},
		Message:  "Person fallen detected - Track #3",
	}
}

func TestWebhookDelivery(t *testing.T) {
	received := make(chan *Alert, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		a := &Alert{}
		require.NoError(t, json.Unmarshal(body, a))
		received <- a
	}))
	defer server.Close()

	cfg := DefaultWebhookConfig()
	cfg.URL = server.URL
	w, err := NewWebhook(logs.NewTestingLog(t), cfg)
	require.NoError(t, err)

	require.NoError(t, w.Callback()(testAlert()))
	select {
	case got := <-received:
		require.Equal(t, "abc-123", got.ID)
		require.Equal(t, TypeFall, got.Type)
	case <-time.After(5 * time.Second):
		t.Fatal("webhook never received the alert")
	}
	w.Close()
}

func TestWebhookRetry(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
	}))
	defer server.Close()

	cfg := DefaultWebhookConfig()
	cfg.URL = server.URL
	w, err := NewWebhook(logs.NewTestingLog(t), cfg)
	require.NoError(t, err)
	w.backoff = time.Millisecond

	require.NoError(t, w.Callback()(testAlert()))
	w.Close()
	require.Equal(t, int32(3), calls.Load())
}

func TestWebhookGivesUp(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := DefaultWebhookConfig()
	cfg.URL = server.URL
	cfg.MaxRetries = 2
	w, err := NewWebhook(logs.NewTestingLog(t), cfg)
	require.NoError(t, err)
	w.backoff = time.Millisecond

	// Exhausted retries are logged, never escalated
	require.NoError(t, w.Callback()(testAlert()))
	w.Close()
	require.Equal(t, int32(2), calls.Load())
}

func TestWebhookConfigValidate(t *testing.T) {
	cfg := DefaultWebhookConfig()
	cfg.URL = "::not-a-url"
	require.Error(t, cfg.Validate())

	cfg = DefaultWebhookConfig()
	cfg.MaxRetries = 0
	require.Error(t, cfg.Validate())
}
