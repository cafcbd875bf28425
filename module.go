package psychics

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sort"
	"sync"
)

// EntryPoint is the capability contract every ability module provides.
// NewSpec constructs the module's spec type with its defaults applied and
// NewBehavior constructs one behavior value per ability instance. The behavior
// opts into hooks by implementing Castable, Channelable, Initializer,
// Registrar or Toggler.
type EntryPoint interface {
	NewSpec() Spec
	NewBehavior() any
}

// entryFuncs adapts two constructors to EntryPoint.
type entryFuncs[S Spec] struct {
	spec     func() S
	behavior func() any
}

func (e entryFuncs[S]) NewSpec() Spec    { return e.spec() }
func (e entryFuncs[S]) NewBehavior() any { return e.behavior() }

// NewEntryPoint builds an EntryPoint from a spec constructor and a behavior constructor.
//
//	psychics.Register("fireball", psychics.NewEntryPoint(
//	    func() *FireballSpec { return &FireballSpec{AbilitySpec: psychics.DefaultAbilitySpec()} },
//	    func() any { return &Fireball{} },
//	))
func NewEntryPoint[S Spec](spec func() S, behavior func() any) EntryPoint {
	return entryFuncs[S]{spec: spec, behavior: behavior}
}

// LoadContext is the code loading context a Module owns for its lifetime.
// Bundle resources are served from it.
type LoadContext interface {
	fs.FS
	io.Closer
}

// Module is a loaded, versioned ability bundle.
type Module struct {
	path  string
	desc  Description
	ctx   LoadContext
	entry EntryPoint
}

// NewModule assembles a module. It is used by ModuleLoader implementations.
func NewModule(path string, desc Description, ctx LoadContext, entry EntryPoint) *Module {
	return &Module{path: path, desc: desc.clone(), ctx: ctx, entry: entry}
}

// ID returns the module id from its description.
func (m *Module) ID() string {
	return m.desc.ID
}

// Path returns the bundle file the module was loaded from.
func (m *Module) Path() string {
	return m.path
}

// Version returns the module version.
func (m *Module) Version() string {
	return m.desc.Version
}

// Description returns a copy of the module description.
func (m *Module) Description() Description {
	return m.desc.clone()
}

// EntryPoint returns the resolved entry point.
func (m *Module) EntryPoint() EntryPoint {
	return m.entry
}

// Open opens a resource packaged in the module's bundle.
func (m *Module) Open(name string) (fs.File, error) {
	if m.ctx == nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return m.ctx.Open(name)
}

// close releases the load context.
func (m *Module) close() error {
	if m.ctx == nil {
		return nil
	}
	err := m.ctx.Close()
	m.ctx = nil
	return err
}

// String returns a string representation of the module.
func (m *Module) String() string {
	return fmt.Sprintf("Module{id=%s, version=%s}", m.desc.ID, m.desc.Version)
}

// ModuleLoader turns a bundle file and its description into a live Module.
type ModuleLoader interface {
	Load(path string, desc Description) (*Module, error)
}

// EntryPoints is a registry of constructors keyed by the description's main
// entry. It is the default ModuleLoader: the bundle contributes its description
// and resources, the code is linked into the server binary and registered
// from an init function.
type EntryPoints struct {
	mu      sync.RWMutex
	entries map[string]EntryPoint
}

// NewEntryPoints creates an empty entry point registry.
func NewEntryPoints() *EntryPoints {
	return &EntryPoints{entries: make(map[string]EntryPoint)}
}

// DefaultEntryPoints is the registry used by Register and by managers built
// without an explicit loader.
var DefaultEntryPoints = NewEntryPoints()

// Register registers an entry point in DefaultEntryPoints.
func Register(main string, ep EntryPoint) {
	DefaultEntryPoints.Register(main, ep)
}

// Register adds or replaces the entry point for main.
func (e *EntryPoints) Register(main string, ep EntryPoint) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries[main] = ep
}

// Lookup returns the entry point registered for main.
func (e *EntryPoints) Lookup(main string) (EntryPoint, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ep, ok := e.entries[main]
	return ep, ok
}

// Names returns the registered entry point names, sorted.
func (e *EntryPoints) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.entries))
	for name := range e.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load implements ModuleLoader.
func (e *EntryPoints) Load(path string, desc Description) (*Module, error) {
	ep, ok := e.Lookup(desc.Main)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryPointNotFound, desc.Main)
	}
	if err := probeEntryPoint(ep); err != nil {
		return nil, fmt.Errorf("entry point %s: %w", desc.Main, err)
	}

	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open bundle: %w", err)
	}
	return NewModule(path, desc, zr, ep), nil
}

// probeEntryPoint constructs a throwaway spec to reject broken entry points at
// load time instead of at concept build time.
func probeEntryPoint(ep EntryPoint) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic constructing spec: %v", r)
		}
	}()

	spec := ep.NewSpec()
	if spec == nil || spec.Base() == nil {
		return errors.New("entry point returned a nil spec")
	}
	return nil
}
