package psychics

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Template keys of a psychic concept document.
const (
	keyDisplayName = "display-name"
	keyMana        = "mana"
	keyManaRegen   = "mana-regen-per-sec"
	keyAbilities   = "abilities"
	keyAbility     = "ability"
)

// ConceptExt is the file extension of psychic concept templates.
const ConceptExt = ".yml"

// Binding ties a local ability name to the module and spec it resolved to.
type Binding struct {
	Name   string
	Module *Module
	Spec   Spec
}

// Concept is a named psychic template: a mana pool and an ordered list of
// ability bindings. It is immutable once built and shared by every runtime
// created from it.
type Concept struct {
	name        string
	displayName string
	manaMax     float64
	manaRegen   float64
	bindings    []Binding
}

// Name returns the concept name, the template file name without extension.
func (c *Concept) Name() string {
	return c.name
}

// DisplayName returns the name shown to players.
func (c *Concept) DisplayName() string {
	return c.displayName
}

// MaxMana returns the mana pool size.
func (c *Concept) MaxMana() float64 {
	return c.manaMax
}

// ManaRegenPerSecond returns the regeneration rate.
func (c *Concept) ManaRegenPerSecond() float64 {
	return c.manaRegen
}

// Bindings returns the ability bindings in template order.
func (c *Concept) Bindings() []Binding {
	return append([]Binding(nil), c.bindings...)
}

// Binding returns the binding with the given local name.
func (c *Concept) Binding(name string) (Binding, bool) {
	for _, b := range c.bindings {
		if b.Name == name {
			return b, true
		}
	}
	return Binding{}, false
}

// String returns a string representation of the concept.
func (c *Concept) String() string {
	return fmt.Sprintf("Concept{name=%s, abilities=%d}", c.name, len(c.bindings))
}

// BuildConcept builds a concept from a template section, resolving every
// ability entry against index. Keys missing from the template are filled with
// defaults and changed reports that cfg was modified so the caller can write
// it back. The build is all or nothing: on error cfg is left untouched and no
// concept is returned.
func BuildConcept(name string, cfg *Section, index *ModuleIndex) (*Concept, bool, error) {
	if cfg == nil {
		cfg = NewSection()
	}
	work := cfg.Clone()
	changed := false

	c := &Concept{
		name:        name,
		displayName: work.String(keyDisplayName, name),
	}

	mana, ok := work.Float(keyMana)
	if !ok {
		if work.Has(keyMana) {
			return nil, false, &ParseError{Key: keyMana, Err: errors.New("mana must be a number")}
		}
		work.Set(keyMana, 0)
		changed = true
	}
	c.manaMax = math.Max(mana, 0)

	regen, ok := work.Float(keyManaRegen)
	if !ok {
		if work.Has(keyManaRegen) {
			return nil, false, &ParseError{Key: keyManaRegen, Err: errors.New("mana-regen-per-sec must be a number")}
		}
		work.Set(keyManaRegen, 0)
		changed = true
	}
	c.manaRegen = regen

	abilities, ok := work.Section(keyAbilities)
	if !ok {
		if work.Has(keyAbilities) && work.values[keyAbilities] != nil {
			return nil, false, &ParseError{Key: keyAbilities, Err: errors.New("abilities must be a mapping")}
		}
		work.Set(keyAbilities, NewSection())
		abilities, _ = work.Section(keyAbilities)
		changed = true
	}

	for _, abilityName := range abilities.Keys() {
		entry, ok := abilities.Section(abilityName)
		if !ok {
			continue
		}

		b, c2, err := bindAbility(name, abilityName, entry, index)
		if err != nil {
			return nil, false, err
		}
		changed = changed || c2
		c.bindings = append(c.bindings, b)
	}

	if changed {
		*cfg = *work
	}
	return c, changed, nil
}

// bindAbility resolves and binds one ability entry of a concept template.
func bindAbility(concept, abilityName string, entry *Section, index *ModuleIndex) (Binding, bool, error) {
	moduleID := strings.TrimSpace(entry.String(keyAbility, ""))
	if moduleID == "" {
		return Binding{}, false, &ParseError{
			Key: keyAbilities + "." + abilityName + "." + keyAbility,
			Err: errors.New("ability is undefined"),
		}
	}

	matches := index.Find(moduleID)
	switch len(matches) {
	case 0:
		return Binding{}, false, &UnresolvedModuleError{Concept: concept, Ability: abilityName, ModuleID: moduleID}
	case 1:
	default:
		candidates := make([]string, len(matches))
		for i, m := range matches {
			candidates[i] = m.ID()
		}
		return Binding{}, false, &AmbiguousModuleError{
			Concept:    concept,
			Ability:    abilityName,
			ModuleID:   moduleID,
			Candidates: candidates,
		}
	}
	module := matches[0]

	spec, err := newSpec(module)
	if err != nil {
		return Binding{}, false, err
	}

	changed, err := bindSpec(spec, entry)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			pe.Key = keyAbilities + "." + abilityName + "." + pe.Key
		}
		return Binding{}, false, err
	}

	base := spec.Base()
	base.name = abilityName
	base.module = module

	if si, ok := spec.(SpecInitializer); ok {
		if err := si.OnInitialize(); err != nil {
			return Binding{}, false, fmt.Errorf("ability %s: initialize spec: %w", abilityName, err)
		}
	}
	return Binding{Name: abilityName, Module: module, Spec: spec}, changed, nil
}

// newSpec constructs a spec through the module's entry point.
func newSpec(m *Module) (spec Spec, err error) {
	defer func() {
		if r := recover(); r != nil {
			spec, err = nil, fmt.Errorf("module %s: panic constructing spec: %v", m.ID(), r)
		}
	}()

	ep := m.EntryPoint()
	if ep == nil {
		return nil, fmt.Errorf("module %s: %w", m.ID(), ErrEntryPointNotFound)
	}
	spec = ep.NewSpec()
	if spec == nil || spec.Base() == nil {
		return nil, fmt.Errorf("module %s: entry point returned a nil spec", m.ID())
	}
	return spec, nil
}

// ConceptSet is a frozen, case insensitive name to Concept map.
type ConceptSet struct {
	names  []string
	byName map[string]*Concept
}

func newConceptSet(concepts []*Concept) *ConceptSet {
	set := &ConceptSet{byName: make(map[string]*Concept, len(concepts))}
	for _, c := range concepts {
		key := strings.ToLower(c.Name())
		if _, dup := set.byName[key]; dup {
			continue
		}
		set.byName[key] = c
		set.names = append(set.names, c.Name())
	}
	sort.Slice(set.names, func(i, j int) bool {
		return strings.ToLower(set.names[i]) < strings.ToLower(set.names[j])
	})
	return set
}

// Get returns the concept with the given name, ignoring case.
func (s *ConceptSet) Get(name string) (*Concept, bool) {
	if s == nil {
		return nil, false
	}
	c, ok := s.byName[strings.ToLower(name)]
	return c, ok
}

// Names returns the concept names in case insensitive order.
func (s *ConceptSet) Names() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.names...)
}

// Len returns the number of concepts.
func (s *ConceptSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.names)
}

// ConceptStore loads psychic concept templates from a directory and keeps
// the current concept set.
type ConceptStore struct {
	dir string
	log *zap.Logger

	mu  sync.RWMutex
	set *ConceptSet
}

// NewConceptStore creates a store reading templates from dir.
func NewConceptStore(dir string, log *zap.Logger) *ConceptStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &ConceptStore{dir: dir, log: log, set: newConceptSet(nil)}
}

// Dir returns the template directory.
func (s *ConceptStore) Dir() string {
	return s.dir
}

// Concepts returns the current concept set.
func (s *ConceptStore) Concepts() *ConceptSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set
}

// Get returns the concept with the given name from the current set.
func (s *ConceptStore) Get(name string) (*Concept, bool) {
	return s.Concepts().Get(name)
}

// Load builds every template in the directory against index and replaces the
// current set. A template that fails to parse or build is logged and skipped;
// a template whose defaults were filled in is written back. Names are unique
// ignoring case: of two such files the first in directory order wins.
func (s *ConceptStore) Load(index *ModuleIndex) (*ConceptSet, *Report) {
	report := &Report{}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		report.fail(FailureParse, s.dir, "", err)
		s.log.Warn("psychics: cannot prepare psychics directory", zap.String("dir", s.dir), zap.Error(err))
		return s.swap(newConceptSet(nil)), report
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		report.fail(FailureParse, s.dir, "", err)
		s.log.Warn("psychics: cannot list psychics directory", zap.String("dir", s.dir), zap.Error(err))
		return s.swap(newConceptSet(nil)), report
	}

	var concepts []*Concept
	loaded := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ConceptExt) {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		name := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))

		if winner, dup := loaded[strings.ToLower(name)]; dup {
			report.fail(FailureConcept, path, name, fmt.Errorf("%w: %s", ErrDuplicateConcept, winner))
			s.log.Warn("psychics: duplicate psychic name",
				zap.String("file", entry.Name()), zap.String("id", name), zap.String("kept", winner))
			continue
		}

		c, err := s.loadFile(path, name, index, report)
		if err != nil {
			report.fail(FailureConcept, path, name, err)
			s.log.Warn("psychics: failed to load psychic",
				zap.String("file", entry.Name()), zap.String("id", name), zap.Error(err))
			continue
		}
		concepts = append(concepts, c)
		loaded[strings.ToLower(name)] = entry.Name()
		report.loaded(name)
	}

	set := newConceptSet(concepts)
	s.log.Info("psychics: loaded psychics", zap.Int("count", set.Len()), zap.Strings("names", set.Names()))
	return s.swap(set), report
}

func (s *ConceptStore) loadFile(path, name string, index *ModuleIndex, report *Report) (*Concept, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{File: path, Err: err}
	}

	cfg := NewSection()
	if len(strings.TrimSpace(string(data))) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &ParseError{File: path, Err: err}
		}
	}

	c, changed, err := BuildConcept(name, cfg, index)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			pe.File = path
		}
		return nil, err
	}

	if changed {
		if err := writeSection(path, cfg); err != nil {
			report.fail(FailureSave, path, name, err)
			s.log.Warn("psychics: failed to save psychic defaults",
				zap.String("file", filepath.Base(path)), zap.Error(err))
		}
	}
	return c, nil
}

func (s *ConceptStore) swap(set *ConceptSet) *ConceptSet {
	s.mu.Lock()
	s.set = set
	s.mu.Unlock()
	return set
}

// writeSection writes cfg to path through a temporary file.
func writeSection(path string, cfg *Section) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
