package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for error budget tracking.
var (
	errorsRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pagefetch_backend_errors_remaining",
		Help: "Errors remaining in the current backend error budget window",
	})

	blocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pagefetch_rate_limit_blocks_total",
		Help: "Requests blocked because the backend error budget is critical",
	})

	throttlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pagefetch_rate_limit_throttles_total",
		Help: "Requests throttled because the backend error budget is low",
	})
)

// DefaultThrottleDelay is the pause applied to requests in the warning range.
const DefaultThrottleDelay = time.Second

// Tracker reads and writes the shared error budget and gates requests.
type Tracker struct {
	redis         *redis.Client
	logger        zerolog.Logger
	throttleDelay time.Duration
}

// NewTracker creates a tracker backed by redisClient.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:         redisClient,
		logger:        logger,
		throttleDelay: DefaultThrottleDelay,
	}
}

// SetThrottleDelay overrides the warning-range pause (for testing).
func (t *Tracker) SetThrottleDelay(d time.Duration) {
	t.throttleDelay = d
}

// GetState loads the budget from Redis. Without stored state the budget is
// assumed healthy.
func (t *Tracker) GetState(ctx context.Context) (*State, error) {
	remaining, err := t.redis.Get(ctx, RedisKeyRemaining).Int()
	if errors.Is(err, redis.Nil) {
		t.logger.Debug().Msg("No error budget in Redis, assuming healthy")
		return defaultState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get errors remaining: %w", err)
	}

	resetUnix, err := t.redis.Get(ctx, RedisKeyResetTimestamp).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get reset timestamp: %w", err)
	}

	lastUpdate, err := t.redis.Get(ctx, RedisKeyLastUpdate).Time()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get last update: %w", err)
	}

	state := &State{
		Remaining:  remaining,
		ResetAt:    time.Unix(resetUnix, 0),
		LastUpdate: lastUpdate,
	}

	// The window has rolled over since the last response; no request would
	// otherwise go out to refresh a blocked budget.
	if resetUnix > 0 && !time.Now().Before(state.ResetAt) {
		t.logger.Debug().Time("reset_at", state.ResetAt).Msg("Error budget window expired, assuming healthy")
		return defaultState(), nil
	}
	state.updateHealth()

	return state, nil
}

// ParseHeaders extracts the budget from response headers. ok is false when
// the backend did not report a budget.
func ParseHeaders(headers http.Header, now time.Time) (state *State, ok bool, err error) {
	remainStr := headers.Get(HeaderRemain)
	if remainStr == "" {
		return nil, false, nil
	}

	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		return nil, false, fmt.Errorf("parse %s header: %w", HeaderRemain, err)
	}

	resetStr := headers.Get(HeaderReset)
	if resetStr == "" {
		return nil, false, fmt.Errorf("%s header missing", HeaderReset)
	}

	resetSeconds, err := strconv.Atoi(resetStr)
	if err != nil {
		return nil, false, fmt.Errorf("parse %s header: %w", HeaderReset, err)
	}

	state = &State{
		Remaining:  remain,
		ResetAt:    now.Add(time.Duration(resetSeconds) * time.Second),
		LastUpdate: now,
	}
	state.updateHealth()

	return state, true, nil
}

// UpdateFromHeaders stores the budget reported in a response.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	state, ok, err := ParseHeaders(headers, time.Now())
	if err != nil || !ok {
		return err
	}

	pipe := t.redis.Pipeline()
	pipe.Set(ctx, RedisKeyRemaining, state.Remaining, 0)
	pipe.Set(ctx, RedisKeyResetTimestamp, state.ResetAt.Unix(), 0)
	pipe.Set(ctx, RedisKeyLastUpdate, state.LastUpdate, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store error budget in redis: %w", err)
	}

	errorsRemaining.Set(float64(state.Remaining))

	switch {
	case state.Blocked():
		t.logger.Error().
			Int("errors_remaining", state.Remaining).
			Time("reset_at", state.ResetAt).
			Msg("Backend error budget CRITICAL - requests will be blocked")
	case state.Throttled():
		t.logger.Warn().
			Int("errors_remaining", state.Remaining).
			Time("reset_at", state.ResetAt).
			Msg("Backend error budget WARNING - requests will be throttled")
	default:
		t.logger.Info().
			Int("errors_remaining", state.Remaining).
			Time("reset_at", state.ResetAt).
			Bool("is_healthy", state.Healthy).
			Msg("Backend error budget updated")
	}

	return nil
}

// ShouldAllowRequest reports whether a request may go out. In the warning
// range it pauses for the throttle delay first, returning early with the
// context error when ctx ends.
func (t *Tracker) ShouldAllowRequest(ctx context.Context) (bool, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return false, fmt.Errorf("get error budget: %w", err)
	}

	if state.Blocked() {
		t.logger.Error().
			Int("errors_remaining", state.Remaining).
			Dur("wait_duration", state.TimeUntilReset()).
			Msg("Backend error budget critical - blocking request")
		blocksTotal.Inc()
		return false, nil
	}

	if state.Throttled() {
		t.logger.Warn().
			Int("errors_remaining", state.Remaining).
			Dur("delay", t.throttleDelay).
			Msg("Backend error budget low - throttling request")
		throttlesTotal.Inc()

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(t.throttleDelay):
		}
	}

	return true, nil
}
