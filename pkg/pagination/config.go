package pagination

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/Sternrassler/pagefetch/pkg/envelope"
	"github.com/rs/zerolog"
)

// Defaults applied by New and the Factory.
const (
	// DefaultDebounce is the quiescence window that collapses bursts of triggers.
	DefaultDebounce = 300 * time.Millisecond

	// DefaultPageSize is the page size of controllers created with Factory.NewPaged.
	DefaultPageSize = 10

	// DefaultPath is the resource path used when a config leaves Path empty.
	DefaultPath = "customer"
)

var (
	// ErrDisposed is returned by triggers issued after Dispose.
	ErrDisposed = errors.New("controller disposed")

	// ErrNilTransport is returned by New when no transport is given.
	ErrNilTransport = errors.New("transport is required")

	// ErrInvalidConfig is returned for negative cursor or page size values.
	ErrInvalidConfig = errors.New("invalid fetch config")
)

// SuccessFunc receives the unwrapped Z1 data: the whole []any sequence for
// list actions, its first element (or nil when Z1 is empty) for SingleItem.
// Object elements are envelope.Item values.
type SuccessFunc func(data any)

// FailureFunc receives the transport error verbatim.
type FailureFunc func(err error)

// SecondaryFunc receives the Z2 elements.
type SecondaryFunc func(items []any)

// Transport performs the backend call. A nil Body with a nil error is a
// null response and is treated as an empty result.
type Transport interface {
	Fetch(ctx context.Context, operationCode string, req envelope.Envelope, resourcePath string) (envelope.Body, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, operationCode string, req envelope.Envelope, resourcePath string) (envelope.Body, error)

// Fetch calls f.
func (f TransportFunc) Fetch(ctx context.Context, operationCode string, req envelope.Envelope, resourcePath string) (envelope.Body, error) {
	return f(ctx, operationCode, req, resourcePath)
}

// FetchConfig describes what a controller fetches and where results go.
// The controller never mutates a stored FetchConfig; every change builds a new one.
type FetchConfig struct {
	// Path selects the backend resource.
	Path string

	// OperationCode names the backend operation, e.g. "MC06GETLIST".
	// Everything after the first four characters is the envelope key stem.
	OperationCode string

	// CursorStart is the initial cursor and the target of ResetCursor.
	CursorStart int

	// PageSize is the page length; 0 disables pagination.
	PageSize int

	// Payload is the X1 group.
	Payload envelope.Item

	OnSuccess   SuccessFunc
	OnFailure   FailureFunc
	OnSecondary SecondaryFunc
}

func (c FetchConfig) clone() FetchConfig {
	c.Payload = maps.Clone(c.Payload)
	return c
}

func (c FetchConfig) validate() error {
	if c.CursorStart < 0 {
		return fmt.Errorf("%w: cursor start must be >= 0 (got %d)", ErrInvalidConfig, c.CursorStart)
	}
	if c.PageSize < 0 {
		return fmt.Errorf("%w: page size must be >= 0 (got %d)", ErrInvalidConfig, c.PageSize)
	}
	return nil
}

// FetchState is the controller-owned fetch state.
type FetchState struct {
	Status      Status
	HasMoreData bool
	Cursor      int
}

// Option configures a Controller.
type Option func(*options)

type options struct {
	debounce time.Duration
	logger   *zerolog.Logger
	ctx      context.Context
}

// WithDebounce overrides the debounce window. Non-positive values are ignored.
func WithDebounce(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.debounce = d
		}
	}
}

// WithLogger sets the logger used for trigger and fetch events.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = &logger
	}
}

// WithContext sets the parent context of transport calls.
func WithContext(ctx context.Context) Option {
	return func(o *options) {
		if ctx != nil {
			o.ctx = ctx
		}
	}
}
