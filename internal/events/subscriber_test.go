package events

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{attempt: 1, expected: 1 * time.Second},
		{attempt: 2, expected: 2 * time.Second},
		{attempt: 3, expected: 4 * time.Second},
		{attempt: 4, expected: 8 * time.Second},
		{attempt: 5, expected: 16 * time.Second},
		{attempt: 6, expected: 30 * time.Second},
		{attempt: 10, expected: 30 * time.Second},
		{attempt: 0, expected: 1 * time.Second},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			assert.Equal(t, tt.expected, Backoff(DefaultBaseDelay, DefaultMaxDelay, tt.attempt))
		})
	}
}

func TestSubscriber_ReceivesEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: {\"type\":\"new_email\",\"data\":{\"threadId\":\"t1\"}}\n\n")
		fmt.Fprintf(w, ": comment line ignored\n")
		fmt.Fprintf(w, "data: {\"type\":\"ping\"}\n\n")
	}))
	defer srv.Close()

	sub := NewSubscriber(srv.URL, zerolog.Nop())
	sub.MaxAttempts = 1
	sub.BaseDelay = time.Millisecond

	var got []Event
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := sub.Run(ctx, func(e Event) {
		got = append(got, e)
		if len(got) == 2 {
			cancel()
		}
	})

	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, got, 2)
	assert.Equal(t, TypeNewEmail, got[0].Type)
	require.NotNil(t, got[0].Data)
	assert.Equal(t, "t1", got[0].Data.ThreadID)
	assert.Equal(t, TypePing, got[1].Type)
}

func TestSubscriber_GivesUpAfterMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	sub := NewSubscriber(srv.URL, zerolog.Nop())
	sub.BaseDelay = time.Millisecond
	sub.MaxDelay = 2 * time.Millisecond
	sub.MaxAttempts = 3

	err := sub.Run(context.Background(), func(Event) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "giving up after 3 reconnect attempts")
}

func TestSubscriber_ReconnectsAfterStreamClose(t *testing.T) {
	var connections atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		connections.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: {\"type\":\"ping\"}\n\n")
		// Handler returns, closing the stream; the subscriber must come back.
	}))
	defer srv.Close()

	sub := NewSubscriber(srv.URL, zerolog.Nop())
	sub.BaseDelay = time.Millisecond
	sub.MaxDelay = 2 * time.Millisecond
	sub.MaxAttempts = 10

	ctx, cancel := context.WithCancel(context.Background())
	var events atomic.Int32
	err := sub.Run(ctx, func(Event) {
		if events.Add(1) >= 3 {
			cancel()
		}
	})

	assert.ErrorIs(t, err, context.Canceled)
	// Each connection delivered one ping, so three events means three
	// separate connections and the attempt counter reset in between.
	assert.GreaterOrEqual(t, connections.Load(), int32(3))
}
