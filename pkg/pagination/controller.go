package pagination

import (
	"context"
	"maps"
	"sync"
	"time"

	"dario.cat/mergo"
	"github.com/Sternrassler/pagefetch/pkg/envelope"
	"github.com/Sternrassler/pagefetch/pkg/logging"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// Controller owns the fetch state of one list or detail view.
type Controller struct {
	transport Transport
	logger    zerolog.Logger
	ctx       context.Context
	debounce  *debouncer

	// inflight is held exactly while state.Status == Loading.
	inflight *semaphore.Weighted

	mu       sync.Mutex
	cfg      FetchConfig
	state    FetchState
	disposed bool
}

// New creates a controller. The debounce subscription lives until Dispose.
func New(transport Transport, cfg FetchConfig, opts ...Option) (*Controller, error) {
	if transport == nil {
		return nil, ErrNilTransport
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	o := options{
		debounce: DefaultDebounce,
		ctx:      context.Background(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	logger := logging.NewLogger("pagination")
	if o.logger != nil {
		logger = *o.logger
	}

	c := &Controller{
		transport: transport,
		logger:    logger,
		ctx:       o.ctx,
		inflight:  semaphore.NewWeighted(1),
		cfg:       withDefaultCallbacks(cfg.clone(), logger),
		state: FetchState{
			Status:      Idle,
			HasMoreData: true,
			Cursor:      cfg.CursorStart,
		},
	}
	c.debounce = newDebouncer(o.debounce, c.dispatch)

	return c, nil
}

func withDefaultCallbacks(cfg FetchConfig, logger zerolog.Logger) FetchConfig {
	if cfg.OnSuccess == nil {
		cfg.OnSuccess = func(any) {}
	}
	if cfg.OnFailure == nil {
		cfg.OnFailure = func(err error) {
			logger.Error().Err(err).Str("operation", cfg.OperationCode).Msg("Fetch failed")
		}
	}
	return cfg
}

// FirstPage fetches the first page.
func (c *Controller) FirstPage() error { return c.trigger(FirstPage) }

// NextPage fetches the page after the current cursor.
func (c *Controller) NextPage() error { return c.trigger(NextPage) }

// PreviousPage fetches the page before the current cursor.
func (c *Controller) PreviousPage() error { return c.trigger(PreviousPage) }

// Refresh re-fetches at the current cursor.
func (c *Controller) Refresh() error { return c.trigger(Refresh) }

// GetSingleInfo fetches a single record.
func (c *Controller) GetSingleInfo() error { return c.trigger(SingleItem) }

// GetAllList fetches an unpaged list.
func (c *Controller) GetAllList() error { return c.trigger(UnpagedList) }

func (c *Controller) trigger(action ActionType) error {
	if !c.debounce.push(action) {
		return ErrDisposed
	}
	triggersTotal.WithLabelValues(action.String()).Inc()
	return nil
}

// dispatch runs a trigger that survived the debounce window.
func (c *Controller) dispatch(action ActionType) {
	c.logger.Info().Str("action", action.String()).Msg("Sending request")

	if !c.inflight.TryAcquire(1) {
		c.logger.Debug().Str("action", action.String()).Msg("Fetch in flight, trigger dropped")
		triggersDroppedTotal.WithLabelValues(action.String()).Inc()
		return
	}

	c.execute(action)
}

// execute performs one fetch cycle. The caller holds the inflight slot;
// it is released when the status leaves Loading.
func (c *Controller) execute(action ActionType) {
	c.mu.Lock()
	if c.disposed {
		c.inflight.Release(1)
		c.mu.Unlock()
		return
	}
	cfg := c.cfg
	c.state.Status = Loading
	if cfg.PageSize > 0 {
		// Kept even if the fetch fails.
		c.state.Cursor = NextCursor(action, c.state.Cursor, cfg.PageSize)
	}
	cursor := c.state.Cursor
	c.mu.Unlock()

	var paging *envelope.Paging
	if cfg.PageSize > 0 {
		paging = &envelope.Paging{StartIndex: cursor, PageSize: cfg.PageSize}
	}
	req := envelope.Encode(cfg.OperationCode, cfg.Payload, paging)

	requestID := uuid.NewString()
	logger := c.logger.With().
		Str("request_id", requestID).
		Str("action", action.String()).
		Str("operation", cfg.OperationCode).
		Logger()

	logger.Debug().
		Str("path", cfg.Path).
		Int("cursor", cursor).
		Int("page_size", cfg.PageSize).
		Msg("Executing fetch")

	start := time.Now()
	body, err := c.transport.Fetch(WithRequestID(c.ctx, requestID), cfg.OperationCode, req, cfg.Path)
	fetchDuration.WithLabelValues(action.String()).Observe(time.Since(start).Seconds())

	if err != nil {
		if !c.settle(func(s *FetchState) { s.Status = Failed }) {
			logger.Debug().Err(err).Msg("Controller disposed, discarding failure")
			return
		}
		fetchesTotal.WithLabelValues(action.String(), "failure").Inc()
		logger.Warn().Err(err).Dur("duration", time.Since(start)).Msg("Fetch failed")
		cfg.OnFailure(err)
		return
	}

	decoded := envelope.Decode(cfg.OperationCode, body)

	if !c.settle(func(s *FetchState) {
		if cfg.PageSize > 0 && decoded.TotalCount != nil {
			s.HasMoreData = cursor+cfg.PageSize < *decoded.TotalCount
		}
		s.Status = Succeeded
	}) {
		logger.Debug().Msg("Controller disposed, discarding response")
		return
	}

	fetchesTotal.WithLabelValues(action.String(), "success").Inc()
	logger.Debug().
		Int("items", len(decoded.Primary)).
		Bool("null_body", body == nil).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	if cfg.OnSecondary != nil {
		cfg.OnSecondary(decoded.Secondary)
	}
	cfg.OnSuccess(shape(action, decoded.Primary))
}

// settle applies the final state of a fetch cycle and frees the inflight
// slot. It returns false when the controller was disposed meanwhile.
func (c *Controller) settle(apply func(*FetchState)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.inflight.Release(1)

	if c.disposed {
		return false
	}
	apply(&c.state)
	return true
}

// shape turns Z1 into the success argument.
func shape(action ActionType, primary []any) any {
	if action == SingleItem {
		if len(primary) == 0 {
			return nil
		}
		return primary[0]
	}
	return primary
}

// HasMoreData reports whether the last paginated fetch left more records.
// Only meaningful with PageSize > 0.
func (c *Controller) HasMoreData() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.HasMoreData
}

// State returns a copy of the fetch state.
func (c *Controller) State() FetchState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Config returns a copy of the current fetch config.
func (c *Controller) Config() FetchConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.clone()
}

// Dispose releases the debounce timer. A pending trigger is discarded and a
// fetch already in flight completes without touching state or callbacks.
func (c *Controller) Dispose() {
	c.debounce.stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.disposed = true
}

// update swaps in a modified copy of the config.
func (c *Controller) update(fn func(cfg *FetchConfig)) *Controller {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.cfg.clone()
	fn(&next)
	c.cfg = next
	return c
}

// WithSuccess replaces the success callback. A nil func becomes a no-op.
func (c *Controller) WithSuccess(fn SuccessFunc) *Controller {
	if fn == nil {
		fn = func(any) {}
	}
	return c.update(func(cfg *FetchConfig) { cfg.OnSuccess = fn })
}

// WithFailure replaces the failure callback. A nil func restores error logging.
func (c *Controller) WithFailure(fn FailureFunc) *Controller {
	return c.update(func(cfg *FetchConfig) {
		cfg.OnFailure = fn
		if fn == nil {
			*cfg = withDefaultCallbacks(*cfg, c.logger)
		}
	})
}

// WithPath sets the resource path.
func (c *Controller) WithPath(path string) *Controller {
	return c.update(func(cfg *FetchConfig) { cfg.Path = path })
}

// WithOperationCode sets the backend operation code.
func (c *Controller) WithOperationCode(code string) *Controller {
	return c.update(func(cfg *FetchConfig) { cfg.OperationCode = code })
}

// WithPayload replaces the X1 payload with a copy of payload.
func (c *Controller) WithPayload(payload envelope.Item) *Controller {
	return c.update(func(cfg *FetchConfig) { cfg.Payload = maps.Clone(payload) })
}

// X01 sets the X01 payload field, keeping the others.
func (c *Controller) X01(v any) *Controller { return c.setParam("X01", v) }

// X02 sets the X02 payload field, keeping the others.
func (c *Controller) X02(v any) *Controller { return c.setParam("X02", v) }

// X03 sets the X03 payload field, keeping the others.
func (c *Controller) X03(v any) *Controller { return c.setParam("X03", v) }

// X04 sets the X04 payload field, keeping the others.
func (c *Controller) X04(v any) *Controller { return c.setParam("X04", v) }

func (c *Controller) setParam(name string, v any) *Controller {
	return c.update(func(cfg *FetchConfig) {
		if cfg.Payload == nil {
			cfg.Payload = envelope.Item{}
		}
		cfg.Payload[name] = v
	})
}

// WithSecondaryHandler sets the Z2 callback.
func (c *Controller) WithSecondaryHandler(fn SecondaryFunc) *Controller {
	return c.update(func(cfg *FetchConfig) { cfg.OnSecondary = fn })
}

// ResetCursor moves the cursor back to CursorStart. PageSize is untouched.
func (c *Controller) ResetCursor() *Controller {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.Cursor = c.cfg.CursorStart
	return c
}

// ReplaceConfig shallow-merges patch into the config: non-zero patch fields
// win, and a non-nil patch Payload replaces the payload whole. A non-zero
// patch CursorStart also moves the cursor there. Zero values cannot clear a
// field; use the dedicated setters for that. A patch that would leave the
// config invalid is rejected and logged.
func (c *Controller) ReplaceConfig(patch FetchConfig) *Controller {
	c.mu.Lock()
	defer c.mu.Unlock()

	payload := patch.Payload
	patch.Payload = nil

	next := c.cfg.clone()
	if err := mergo.Merge(&next, patch, mergo.WithOverride); err != nil {
		c.logger.Warn().Err(err).Msg("Config merge failed, keeping previous config")
		return c
	}
	if payload != nil {
		next.Payload = maps.Clone(payload)
	}

	if err := next.validate(); err != nil {
		c.logger.Warn().Err(err).Msg("Rejected config patch")
		return c
	}

	c.cfg = next
	if patch.CursorStart != 0 {
		c.state.Cursor = next.CursorStart
	}
	return c
}
