package events

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Reconnect policy defaults: exponential backoff from BaseDelay,
// doubling per failed attempt, capped at MaxDelay, giving up after
// MaxAttempts consecutive failures. A successful connection resets the
// attempt counter.
const (
	DefaultBaseDelay   = 1 * time.Second
	DefaultMaxDelay    = 30 * time.Second
	DefaultMaxAttempts = 10
)

// Subscriber is a client for the event stream endpoint. It manages its
// own reconnection; missed events during a disconnect are not replayed
// and the caller reconciles by refetching state.
type Subscriber struct {
	URL         string
	HTTPClient  *http.Client
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
	Logger      zerolog.Logger
}

// NewSubscriber creates a subscriber with the default reconnect policy.
func NewSubscriber(url string, logger zerolog.Logger) *Subscriber {
	return &Subscriber{
		URL:         url,
		HTTPClient:  &http.Client{},
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		MaxAttempts: DefaultMaxAttempts,
		Logger:      logger,
	}
}

// Run connects to the stream and invokes handle for every received
// event (pings included). It reconnects with exponential backoff on
// stream errors and returns once the context is cancelled or the
// attempt budget is exhausted.
func (s *Subscriber) Run(ctx context.Context, handle func(Event)) error {
	attempts := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		connected, err := s.consume(ctx, handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			// An established stream resets the backoff counter even if
			// it broke later.
			attempts = 0
		}

		attempts++
		if attempts > s.MaxAttempts {
			return fmt.Errorf("giving up after %d reconnect attempts: %w", s.MaxAttempts, err)
		}

		delay := Backoff(s.BaseDelay, s.MaxDelay, attempts)
		s.Logger.Warn().
			Err(err).
			Int("attempt", attempts).
			Dur("delay", delay).
			Msg("Event stream disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// consume opens the stream and dispatches events until it breaks.
// connected reports whether a stream was established at all.
func (s *Subscriber) consume(ctx context.Context, handle func(Event)) (connected bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return false, fmt.Errorf("failed to build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to connect to event stream: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("event stream returned status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		payload, found := strings.CutPrefix(line, "data: ")
		if !found {
			continue
		}

		var event Event
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			s.Logger.Warn().Err(err).Msg("Skipping unparseable stream event")
			continue
		}
		handle(event)
	}

	if err := scanner.Err(); err != nil {
		return true, fmt.Errorf("event stream read failed: %w", err)
	}
	return true, fmt.Errorf("event stream closed by server")
}

// Backoff returns the delay before the given (1-based) reconnect
// attempt: base doubled per prior failure, capped at max.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
