package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Sternrassler/pagefetch/pkg/envelope"
	"github.com/Sternrassler/pagefetch/pkg/logging"
	"github.com/Sternrassler/pagefetch/pkg/pagination"
	"github.com/Sternrassler/pagefetch/pkg/ratelimit"
	"github.com/Sternrassler/pagefetch/pkg/transport"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// session holds the collaborators shared by one command invocation.
type session struct {
	factory *pagination.Factory
	redis   *redis.Client
	logger  zerolog.Logger
	results chan result
}

type result struct {
	data any
	err  error
}

func newSession(ctx context.Context, v *viper.Viper) (*session, error) {
	baseURL := v.GetString(keyBaseURL)
	if baseURL == "" {
		return nil, errors.New("base url is required (--base-url or PAGEFETCH_BASE_URL)")
	}

	cfg := transport.DefaultConfig(baseURL)
	cfg.Timeout = v.GetDuration(keyTimeout)
	if ua := v.GetString(keyUserAgent); ua != "" {
		cfg.UserAgent = ua
	}

	s := &session{
		logger:  logging.NewLogger("cli"),
		results: make(chan result, 1),
	}

	if addr := v.GetString(keyRedisAddr); addr != "" {
		s.redis = redis.NewClient(&redis.Options{Addr: addr})
		if err := s.redis.Ping(ctx).Err(); err != nil {
			s.redis.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
		}
		cfg.Tracker = ratelimit.NewTracker(s.redis, logging.NewLogger("ratelimit"))
		s.logger.Debug().Str("addr", addr).Msg("Error-budget tracker enabled")
	}

	tr, err := transport.New(cfg)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("create transport: %w", err)
	}

	s.factory = pagination.NewFactory(tr,
		pagination.WithDebounce(v.GetDuration(keyDebounce)),
		pagination.WithContext(ctx),
		pagination.WithLogger(logging.NewLogger("pagination")),
	)

	return s, nil
}

// Close releases the Redis connection, if any.
func (s *session) Close() {
	if s.redis != nil {
		s.redis.Close()
	}
}

// callbacks wires the controller callbacks into the session result channel.
func (s *session) callbacks(cfg pagination.FetchConfig) pagination.FetchConfig {
	cfg.OnSuccess = func(data any) { s.results <- result{data: data} }
	cfg.OnFailure = func(err error) { s.results <- result{err: err} }
	cfg.OnSecondary = func(rows []any) {
		s.logger.Debug().Int("rows", len(rows)).Msg("Secondary rows received")
	}
	return cfg
}

// await blocks until the in-flight fetch settles or ctx ends.
func (s *session) await(ctx context.Context) (any, error) {
	select {
	case r := <-s.results:
		if r.err != nil && transport.IsRetryable(r.err) {
			return nil, fmt.Errorf("%w (transient, try again)", r.err)
		}
		return r.data, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// parseParams turns repeated KEY=VALUE flags into an X1 payload.
func parseParams(params []string) (envelope.Item, error) {
	payload := envelope.Item{}
	for _, p := range params {
		key, value, ok := strings.Cut(p, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --param %q, want KEY=VALUE", p)
		}
		payload[key] = value
	}
	return payload, nil
}
