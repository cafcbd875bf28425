package psychics

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/df-mc/dragonfly/server/item"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// esper is a tracked owner and its runtime, if it has a psychic.
type esper struct {
	owner   Owner
	runtime *Runtime
}

// Manager is the central psychics coordinator.
// It owns the module registry, the concept store and the runtime of every
// tracked owner, and drives them from its tick driver.
// Multiple Manager instances can coexist in the same process.
type Manager struct {
	cfg      Config
	log      *zap.Logger
	observer Observer
	store    Store

	registry *ModuleRegistry
	concepts *ConceptStore

	// tickMu is held shared by ticks and exclusively by reloads.
	tickMu sync.RWMutex
	tick   atomic.Int64

	// espers holds every tracked owner by UUID
	espers   map[uuid.UUID]*esper
	espersMu sync.RWMutex

	// espersByName provides name based lookup (lower case)
	espersByName map[string]uuid.UUID

	driver  *Driver
	watcher *Watcher
}

// newManager creates a new manager.
func newManager(cfg Config, log *zap.Logger, loader ModuleLoader, store Store, observer Observer) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	if store == nil {
		store = nopStore{}
	}
	if observer == nil {
		observer = NopObserver{}
	}

	m := &Manager{
		cfg:          cfg,
		log:          log,
		observer:     observer,
		store:        store,
		registry:     NewModuleRegistry(loader, log),
		concepts:     NewConceptStore(cfg.PsychicsDir, log),
		espers:       make(map[uuid.UUID]*esper),
		espersByName: make(map[string]uuid.UUID),
	}
	m.driver = newDriver(m, cfg.TickRate, cfg.Workers)
	return m
}

// Config returns the manager settings.
func (m *Manager) Config() Config {
	return m.cfg
}

// Logger returns the manager's logger.
func (m *Manager) Logger() *zap.Logger {
	return m.log
}

// Modules returns the current module index.
func (m *Manager) Modules() *ModuleIndex {
	return m.registry.Index()
}

// Concepts returns the current concept set.
func (m *Manager) Concepts() *ConceptSet {
	return m.concepts.Concepts()
}

// CurrentTick returns the last tick the manager drove.
func (m *Manager) CurrentTick() int64 {
	return m.tick.Load()
}

// load discovers modules and builds concepts without touching runtimes.
func (m *Manager) load() *Report {
	idx, report := m.registry.Reload(m.cfg.AbilitiesDir)
	_, conceptReport := m.concepts.Load(idx)
	report.merge(conceptReport)
	return report
}

// Reload rediscovers modules and rebuilds concepts, then re-registers every
// owner that had a psychic against the new concept of the same name. Ticks
// are held off for the duration. Owners whose concept disappeared or failed
// to build are left without a psychic and reported.
func (m *Manager) Reload() *Report {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()

	m.espersMu.Lock()
	defer m.espersMu.Unlock()

	previous := make(map[uuid.UUID]string, len(m.espers))
	for id, e := range m.espers {
		if e.runtime == nil {
			continue
		}
		previous[id] = e.runtime.Concept().Name()
		e.runtime.Do(func(r *Runtime) { _ = r.Unregister() })
		e.runtime = nil
	}

	report := m.load()

	ids := make([]uuid.UUID, 0, len(previous))
	for id := range previous {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	for _, id := range ids {
		e := m.espers[id]
		name := previous[id]
		rt, err := m.newRuntime(e.owner, name)
		if err != nil {
			report.fail(FailureRegister, "", e.owner.Name(), err)
			m.log.Warn("psychics: failed to restore psychic after reload",
				zap.String("owner", e.owner.Name()), zap.String("psychic", name), zap.Error(err))
			continue
		}
		e.runtime = rt
	}

	m.log.Info("psychics: reloaded",
		zap.Int("modules", m.Modules().Len()),
		zap.Int("psychics", m.Concepts().Len()),
		zap.Int("failures", len(report.Failures)))
	return report
}

// newRuntime builds and enables a runtime for owner.
func (m *Manager) newRuntime(owner Owner, conceptName string) (*Runtime, error) {
	concept, ok := m.concepts.Get(conceptName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConceptNotFound, conceptName)
	}
	rt, err := NewRuntime(owner, concept, m.CurrentTick(),
		WithLogger(m.log),
		WithObserver(m.observer),
		WithTicksPerSecond(m.cfg.TicksPerSecond),
	)
	if err != nil {
		return nil, err
	}
	_ = rt.SetEnabled(true)
	return rt, nil
}

// track adds owner to the index if absent. Caller must hold espersMu.
func (m *Manager) track(owner Owner) *esper {
	id := owner.UUID()
	if e, ok := m.espers[id]; ok {
		return e
	}
	e := &esper{owner: owner}
	m.espers[id] = e
	m.espersByName[strings.ToLower(owner.Name())] = id
	return e
}

// untrack removes owner from the index. Caller must hold espersMu.
func (m *Manager) untrack(e *esper) {
	delete(m.espers, e.owner.UUID())
	delete(m.espersByName, strings.ToLower(e.owner.Name()))
}

// Register gives owner the psychic of the named concept.
// It fails with ErrAlreadyRegistered if the owner already has one and with
// ErrConceptNotFound if no such concept is loaded.
func (m *Manager) Register(owner Owner, conceptName string) (*Runtime, error) {
	m.espersMu.Lock()
	defer m.espersMu.Unlock()

	if e, ok := m.espers[owner.UUID()]; ok && e.runtime != nil {
		return nil, ErrAlreadyRegistered
	}

	rt, err := m.newRuntime(owner, conceptName)
	if err != nil {
		return nil, err
	}
	m.track(owner).runtime = rt
	return rt, nil
}

// Unregister removes the owner's psychic. The owner stays tracked.
func (m *Manager) Unregister(id uuid.UUID) error {
	m.espersMu.Lock()
	defer m.espersMu.Unlock()

	e, ok := m.espers[id]
	if !ok || e.runtime == nil {
		return ErrNotRegistered
	}
	rt := e.runtime
	e.runtime = nil

	var err error
	rt.Do(func(r *Runtime) { err = r.Unregister() })
	return err
}

// SetPsychic replaces the owner's psychic with the named concept. An empty
// name only removes the current one.
func (m *Manager) SetPsychic(owner Owner, conceptName string) (*Runtime, error) {
	if err := m.Unregister(owner.UUID()); err != nil && !errors.Is(err, ErrNotRegistered) {
		return nil, err
	}
	if conceptName == "" {
		m.espersMu.Lock()
		m.track(owner)
		m.espersMu.Unlock()
		return nil, nil
	}
	return m.Register(owner, conceptName)
}

// Join tracks owner and restores its psychic from the store. An owner
// without a record, or whose psychic no longer exists, joins without one.
func (m *Manager) Join(owner Owner) (*Runtime, error) {
	rec, err := m.store.Load(owner.UUID())
	if err != nil && !errors.Is(err, ErrRecordNotFound) {
		m.log.Warn("psychics: failed to load esper",
			zap.String("owner", owner.Name()), zap.Error(err))
	}

	m.espersMu.Lock()
	defer m.espersMu.Unlock()

	e := m.track(owner)
	if e.runtime != nil || rec.Psychic == "" {
		return e.runtime, nil
	}

	rt, err := m.newRuntime(owner, rec.Psychic)
	if err != nil {
		m.log.Warn("psychics: failed to restore psychic",
			zap.String("owner", owner.Name()), zap.String("psychic", rec.Psychic), zap.Error(err))
		return nil, nil
	}
	e.runtime = rt
	return rt, nil
}

// Leave saves the owner's record, unregisters its psychic and stops tracking it.
func (m *Manager) Leave(id uuid.UUID) error {
	m.espersMu.Lock()
	e, ok := m.espers[id]
	if !ok {
		m.espersMu.Unlock()
		return ErrNotRegistered
	}
	m.untrack(e)
	m.espersMu.Unlock()

	return m.release(e)
}

// release saves and unregisters a removed esper.
func (m *Manager) release(e *esper) error {
	rec := Record{}
	if e.runtime != nil {
		rec.Psychic = e.runtime.Concept().Name()
		e.runtime.Do(func(r *Runtime) { _ = r.Unregister() })
		e.runtime = nil
	}
	if err := m.store.Save(e.owner.UUID(), rec); err != nil {
		m.log.Warn("psychics: failed to save esper",
			zap.String("owner", e.owner.Name()), zap.Error(err))
		return err
	}
	return nil
}

// Runtime returns the runtime of the owner with the given UUID.
func (m *Manager) Runtime(id uuid.UUID) (*Runtime, bool) {
	m.espersMu.RLock()
	defer m.espersMu.RUnlock()

	e, ok := m.espers[id]
	if !ok || e.runtime == nil {
		return nil, false
	}
	return e.runtime, true
}

// RuntimeByName returns the runtime of the owner with the given name, ignoring case.
func (m *Manager) RuntimeByName(name string) (*Runtime, bool) {
	m.espersMu.RLock()
	id, ok := m.espersByName[strings.ToLower(name)]
	m.espersMu.RUnlock()
	if !ok {
		return nil, false
	}
	return m.Runtime(id)
}

// Runtimes returns a snapshot of all live runtimes.
func (m *Manager) Runtimes() []*Runtime {
	m.espersMu.RLock()
	defer m.espersMu.RUnlock()

	out := make([]*Runtime, 0, len(m.espers))
	for _, e := range m.espers {
		if e.runtime != nil {
			out = append(out, e.runtime)
		}
	}
	return out
}

// EsperCount returns the number of tracked owners.
func (m *Manager) EsperCount() int {
	m.espersMu.RLock()
	defer m.espersMu.RUnlock()
	return len(m.espers)
}

// Tick drives every runtime to tick on the calling goroutine. The driver
// does the same across its worker pool; use Tick when the host owns the clock.
func (m *Manager) Tick(tick int64) {
	m.tickMu.RLock()
	defer m.tickMu.RUnlock()

	m.tick.Store(tick)
	for _, rt := range m.Runtimes() {
		tickRuntime(rt, tick)
	}
}

// tickRuntime runs one runtime tick under its lock.
func tickRuntime(rt *Runtime, tick int64) {
	rt.Do(func(r *Runtime) {
		if r.Valid() {
			_ = r.OnTick(tick)
		}
	})
}

// CastByItem casts the ability of the owner activated by stack.
func (m *Manager) CastByItem(id uuid.UUID, stack item.Stack) (bool, error) {
	rt, ok := m.Runtime(id)
	if !ok {
		return false, ErrNotRegistered
	}
	var (
		cast bool
		err  error
	)
	rt.Do(func(r *Runtime) { cast, err = r.CastByItem(stack) })
	return cast, err
}

// Start starts the tick driver and, if configured, the file watcher.
func (m *Manager) Start() error {
	if m.cfg.Watch && m.watcher == nil {
		w, err := newWatcher(m, m.cfg.WatchDebounce)
		if err != nil {
			return fmt.Errorf("start watcher: %w", err)
		}
		m.watcher = w
		w.Start()
	}
	m.driver.Start()
	return nil
}

// Shutdown stops the driver and watcher, then saves and releases every owner.
func (m *Manager) Shutdown() {
	if m.watcher != nil {
		m.watcher.Stop()
	}
	m.driver.Stop()

	m.espersMu.Lock()
	espers := make([]*esper, 0, len(m.espers))
	for _, e := range m.espers {
		espers = append(espers, e)
		m.untrack(e)
	}
	m.espersMu.Unlock()

	for _, e := range espers {
		_ = m.release(e)
	}
}
