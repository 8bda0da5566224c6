package pagination

// Factory creates controllers that share one transport and option set,
// for views that need several independent fetch pipelines.
type Factory struct {
	transport Transport
	opts      []Option
}

// NewFactory creates a controller factory.
func NewFactory(transport Transport, opts ...Option) *Factory {
	return &Factory{
		transport: transport,
		opts:      opts,
	}
}

// NewUnpaged creates a controller for single records or unpaged lists.
// PageSize is forced to 0.
func (f *Factory) NewUnpaged(cfg FetchConfig) (*Controller, error) {
	cfg = withDefaultPath(cfg)
	cfg.PageSize = 0
	return New(f.transport, cfg, f.opts...)
}

// NewPaged creates a controller for paginated lists. A zero PageSize
// becomes DefaultPageSize.
func (f *Factory) NewPaged(cfg FetchConfig) (*Controller, error) {
	cfg = withDefaultPath(cfg)
	if cfg.PageSize == 0 {
		cfg.PageSize = DefaultPageSize
	}
	return New(f.transport, cfg, f.opts...)
}

func withDefaultPath(cfg FetchConfig) FetchConfig {
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	return cfg
}
