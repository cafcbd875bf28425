package psychics

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ModuleIndex is the frozen id to Module map produced by one discovery pass.
type ModuleIndex struct {
	ids  []string
	byID map[string]*Module
}

func newModuleIndex(modules map[string]*Module) *ModuleIndex {
	idx := &ModuleIndex{
		ids:  make([]string, 0, len(modules)),
		byID: make(map[string]*Module, len(modules)),
	}
	for id, m := range modules {
		idx.ids = append(idx.ids, id)
		idx.byID[id] = m
	}
	sort.Strings(idx.ids)
	return idx
}

// Len returns the number of indexed modules.
func (i *ModuleIndex) Len() int {
	if i == nil {
		return 0
	}
	return len(i.ids)
}

// IDs returns the indexed ids in sorted order.
func (i *ModuleIndex) IDs() []string {
	if i == nil {
		return nil
	}
	return append([]string(nil), i.ids...)
}

// Get returns the module with exactly the given id.
func (i *ModuleIndex) Get(id string) (*Module, bool) {
	if i == nil {
		return nil, false
	}
	m, ok := i.byID[id]
	return m, ok
}

// Find resolves a module reference. A reference starting with "." matches
// every id ending with it; anything else is an exact lookup. Matches are
// returned in id order.
func (i *ModuleIndex) Find(ref string) []*Module {
	if i == nil {
		return nil
	}
	if strings.HasPrefix(ref, ".") {
		var out []*Module
		for _, id := range i.ids {
			if strings.HasSuffix(id, ref) {
				out = append(out, i.byID[id])
			}
		}
		return out
	}
	if m, ok := i.byID[ref]; ok {
		return []*Module{m}
	}
	return nil
}

// close releases every module's load context.
func (i *ModuleIndex) close(log *zap.Logger) {
	if i == nil {
		return
	}
	for _, id := range i.ids {
		if err := i.byID[id].close(); err != nil {
			log.Warn("psychics: failed to close module", zap.String("id", id), zap.Error(err))
		}
	}
}

// ModuleRegistry discovers ability bundles and owns the current module index.
// Discovery is a stop-the-world rebuild: concurrent passes are not supported.
type ModuleRegistry struct {
	loader ModuleLoader
	log    *zap.Logger

	mu    sync.RWMutex
	index *ModuleIndex
}

// NewModuleRegistry creates a registry that loads bundles with loader.
func NewModuleRegistry(loader ModuleLoader, log *zap.Logger) *ModuleRegistry {
	if loader == nil {
		loader = DefaultEntryPoints
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ModuleRegistry{loader: loader, log: log, index: newModuleIndex(nil)}
}

// Index returns the current module index.
func (r *ModuleRegistry) Index() *ModuleIndex {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.index
}

// Reload discovers dir and replaces the current index. Modules of the
// previous index are closed; there is no partial merge.
func (r *ModuleRegistry) Reload(dir string) (*ModuleIndex, *Report) {
	idx, report := r.Discover(dir)

	r.mu.Lock()
	old := r.index
	r.index = idx
	r.mu.Unlock()

	old.close(r.log)
	return idx, report
}

// bundleCandidate is a parsed bundle waiting to be loaded.
type bundleCandidate struct {
	path string
	desc Description
}

// Discover scans dir (non-recursively) for bundles and loads them.
// It never fails as a whole: unreadable bundles, superseded versions and
// loader failures are logged and reported, and the surviving modules form
// the returned index.
func (r *ModuleRegistry) Discover(dir string) (*ModuleIndex, *Report) {
	report := &Report{}
	r.log.Info("psychics: loading abilities", zap.String("dir", dir))

	if err := os.MkdirAll(dir, 0o755); err != nil {
		report.fail(FailureParse, dir, "", err)
		r.log.Warn("psychics: cannot prepare abilities directory", zap.String("dir", dir), zap.Error(err))
		return newModuleIndex(nil), report
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		report.fail(FailureParse, dir, "", err)
		r.log.Warn("psychics: cannot list abilities directory", zap.String("dir", dir), zap.Error(err))
		return newModuleIndex(nil), report
	}

	byID := make(map[string]bundleCandidate)
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), BundleExt) {
			continue
		}
		path := filepath.Join(dir, entry.Name())

		desc, err := ReadBundleDescription(path)
		if err != nil {
			report.fail(FailureParse, path, "", err)
			r.log.Warn("psychics: failed to load ability description",
				zap.String("file", entry.Name()), zap.Error(err))
			continue
		}

		other, exists := byID[desc.ID]
		if !exists {
			byID[desc.ID] = bundleCandidate{path: path, desc: desc}
			continue
		}

		// Keep the higher version; on a tie the first file wins.
		winner, loser := other, bundleCandidate{path: path, desc: desc}
		if CompareVersions(desc.Version, other.desc.Version) > 0 {
			winner, loser = loser, winner
		}
		byID[desc.ID] = winner

		report.fail(FailureSuperseded, loser.path, desc.ID,
			fmt.Errorf("ambiguous ability file: version %s superseded by %s (%s)",
				loser.desc.Version, winner.desc.Version, filepath.Base(winner.path)))
		r.log.Warn("psychics: ambiguous ability file",
			zap.String("file", filepath.Base(loser.path)),
			zap.String("id", desc.ID),
			zap.String("kept", filepath.Base(winner.path)))
	}

	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	modules := make(map[string]*Module, len(byID))
	for _, id := range ids {
		c := byID[id]
		m, err := r.load(c)
		if err != nil {
			report.fail(FailureLoad, c.path, id, err)
			r.log.Warn("psychics: failed to load ability",
				zap.String("file", filepath.Base(c.path)), zap.String("id", id), zap.Error(err))
			continue
		}
		modules[id] = m
		report.loaded(id)
	}

	idx := newModuleIndex(modules)
	r.log.Info("psychics: loaded abilities", zap.Int("count", idx.Len()), zap.Strings("ids", idx.IDs()))
	return idx, report
}

// load runs the loader with panic recovery; a broken bundle must not abort the pass.
func (r *ModuleRegistry) load(c bundleCandidate) (m *Module, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			m, err = nil, fmt.Errorf("panic loading module: %v", rec)
		}
	}()

	m, err = r.loader.Load(c.path, c.desc)
	if err == nil && m == nil {
		err = fmt.Errorf("loader returned no module")
	}
	return m, err
}
