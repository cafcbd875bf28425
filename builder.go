package psychics

import (
	"fmt"

	"go.uber.org/zap"
)

// Builder configures psychics before initialization.
// Use NewBuilder() to create a builder and chain configuration methods.
type Builder struct {
	cfg      Config
	log      *zap.Logger
	loader   ModuleLoader
	store    Store
	observer Observer
	start    bool
}

// NewBuilder creates a new builder with DefaultConfig.
func NewBuilder() *Builder {
	return &Builder{cfg: DefaultConfig(), start: true}
}

// Config replaces the settings.
func (b *Builder) Config(cfg Config) *Builder {
	b.cfg = cfg
	return b
}

// Logger sets the logger. Defaults to a no-op logger.
func (b *Builder) Logger(log *zap.Logger) *Builder {
	b.log = log
	return b
}

// Loader sets the module loader. Defaults to DefaultEntryPoints.
func (b *Builder) Loader(loader ModuleLoader) *Builder {
	b.loader = loader
	return b
}

// Store sets the owner record store. Defaults to a FileStore in the
// configured espers directory.
func (b *Builder) Store(store Store) *Builder {
	b.store = store
	return b
}

// Observer sets the observer attached to every runtime.
//
// Example:
//
//	builder.Observer(&BossBarObserver{})
func (b *Builder) Observer(obs Observer) *Builder {
	b.observer = obs
	return b
}

// Manual disables the tick driver. The host then calls Manager.Tick itself.
func (b *Builder) Manual() *Builder {
	b.start = false
	return b
}

// Init validates the settings, loads modules and concepts, and starts the
// tick driver. Load failures do not fail Init; they are logged and returned
// in the report so the caller decides whether they are fatal.
func (b *Builder) Init() (*Manager, *Report, error) {
	if err := b.cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("psychics: invalid config: %w", err)
	}

	store := b.store
	if store == nil && b.cfg.EspersDir != "" {
		store = NewFileStore(b.cfg.EspersDir)
	}

	m := newManager(b.cfg, b.log, b.loader, store, b.observer)
	report := m.load()

	if b.start {
		if err := m.Start(); err != nil {
			return nil, report, err
		}
	}
	return m, report, nil
}
