// Package transport implements the pagination Transport over HTTP.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/pagefetch/pkg/envelope"
	"github.com/Sternrassler/pagefetch/pkg/logging"
	"github.com/Sternrassler/pagefetch/pkg/pagination"
	"github.com/Sternrassler/pagefetch/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// Wire field names of the request wrapper.
const (
	FieldOperationCode = "prcCode"
	FieldEnvelope      = "infbdy"
)

// HeaderRequestID carries the fetch-cycle request ID.
const HeaderRequestID = "X-Request-ID"

// DefaultTimeout bounds a single backend call.
const DefaultTimeout = 30 * time.Second

// Prometheus metrics for backend calls.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagefetch_transport_requests_total",
		Help: "Total backend requests by operation and status",
	}, []string{"operation", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pagefetch_transport_request_duration_seconds",
		Help:    "Backend request duration in seconds by operation",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"operation"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagefetch_transport_errors_total",
		Help: "Total backend errors by class",
	}, []string{"class"})
)

// Config holds the transport configuration.
type Config struct {
	// BaseURL of the backend, e.g. "https://api.example.com/gateway".
	BaseURL string

	// User-Agent header sent with every request.
	UserAgent string

	// Timeout per request.
	Timeout time.Duration

	// Tracker gates requests on the shared backend error budget. Optional.
	Tracker *ratelimit.Tracker
}

// DefaultConfig returns a configuration for baseURL without a tracker.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:   baseURL,
		UserAgent: "pagefetch/1.0",
		Timeout:   DefaultTimeout,
	}
}

// HTTPTransport posts request envelopes to the backend.
type HTTPTransport struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	tracker    *ratelimit.Tracker
	logger     zerolog.Logger
}

var _ pagination.Transport = (*HTTPTransport)(nil)

// New creates a new HTTP transport.
func New(cfg Config) (*HTTPTransport, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}

	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("base url must be absolute (got %q)", cfg.BaseURL)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &HTTPTransport{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		userAgent:  cfg.UserAgent,
		tracker:    cfg.Tracker,
		logger:     logging.NewLogger("transport"),
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (t *HTTPTransport) SetHTTPClient(client *http.Client) {
	t.httpClient = client
}

// Fetch implements pagination.Transport.
func (t *HTTPTransport) Fetch(ctx context.Context, operationCode string, req envelope.Envelope, resourcePath string) (envelope.Body, error) {
	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(operationCode).Observe(time.Since(start).Seconds())
	}()

	logger := t.logger.With().Str("operation", operationCode).Str("path", resourcePath).Logger()
	if id, ok := pagination.RequestIDFromContext(ctx); ok {
		logger = logger.With().Str("request_id", id).Logger()
	}

	if t.tracker != nil {
		allowed, err := t.tracker.ShouldAllowRequest(ctx)
		if err != nil {
			return nil, fmt.Errorf("error budget check: %w", err)
		}
		if !allowed {
			logger.Warn().Msg("Request blocked by error budget")
			requestsTotal.WithLabelValues(operationCode, "blocked").Inc()
			return nil, ErrBackendBudgetExhausted
		}
	}

	httpReq, err := t.newRequest(ctx, operationCode, req, resourcePath)
	if err != nil {
		return nil, err
	}

	logger.Debug().Str("url", httpReq.URL.String()).Msg("Executing backend request")

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		logger.Error().Err(err).Msg("HTTP request failed")
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(operationCode, "network_error").Inc()
		return nil, &TransportError{
			Class:   ErrorClassNetwork,
			Message: "request failed",
			Err:     err,
		}
	}
	defer resp.Body.Close()

	if t.tracker != nil {
		if err := t.tracker.UpdateFromHeaders(ctx, resp.Header); err != nil {
			logger.Warn().Err(err).Msg("Failed to update error budget from headers")
		}
	}

	status := strconv.Itoa(resp.StatusCode)
	requestsTotal.WithLabelValues(operationCode, status).Inc()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &TransportError{
			StatusCode: resp.StatusCode,
			Class:      ErrorClassNetwork,
			Message:    "read body",
			Err:        err,
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		class := classifyStatus(resp.StatusCode)
		errorsTotal.WithLabelValues(string(class)).Inc()

		logger.Warn().
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Backend request error")

		return nil, &TransportError{
			StatusCode: resp.StatusCode,
			Class:      class,
			Message:    errorMessage(resp, raw),
		}
	}

	body, err := unwrapBody(raw)
	if err != nil {
		logger.Warn().Err(err).Msg("Malformed backend response")
		return nil, err
	}

	logger.Debug().
		Int("status", resp.StatusCode).
		Bool("null_body", body == nil).
		Dur("duration", time.Since(start)).
		Msg("Backend request complete")

	return body, nil
}

func (t *HTTPTransport) newRequest(ctx context.Context, operationCode string, req envelope.Envelope, resourcePath string) (*http.Request, error) {
	payload, err := json.Marshal(map[string]any{
		FieldOperationCode: operationCode,
		FieldEnvelope:      req,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}

	target := t.baseURL + "/" + strings.TrimLeft(resourcePath, "/")
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if t.userAgent != "" {
		httpReq.Header.Set("User-Agent", t.userAgent)
	}
	if id, ok := pagination.RequestIDFromContext(ctx); ok {
		httpReq.Header.Set(HeaderRequestID, id)
	}

	return httpReq, nil
}

// unwrapBody extracts the envelope member of a 2xx response. An empty body
// or an absent or null member is the null response.
func unwrapBody(raw []byte) (envelope.Body, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformedResponse)
	}

	root := gjson.ParseBytes(raw)
	if root.Type == gjson.Null {
		return nil, nil
	}
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: top level is %s, want object", ErrMalformedResponse, root.Type)
	}

	member := root.Get(FieldEnvelope)
	if !member.Exists() || member.Type == gjson.Null {
		return nil, nil
	}

	body, err := envelope.ParseBody([]byte(member.Raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	return body, nil
}

// errorMessage prefers a "message" member of a JSON error body over the status text.
func errorMessage(resp *http.Response, raw []byte) string {
	if gjson.ValidBytes(raw) {
		if msg := gjson.GetBytes(raw, "message"); msg.Exists() && msg.String() != "" {
			return msg.String()
		}
	}
	return resp.Status
}

// IsRetryable reports whether err is a transient backend failure worth
// surfacing as "try again" to a user. The controller itself never retries.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrBackendBudgetExhausted) {
		return false
	}
	var te *TransportError
	if !errors.As(err, &te) {
		return false
	}
	return te.Class != ErrorClassClient
}
