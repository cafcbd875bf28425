package psychics

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors returned by the runtime and the loading pipeline.
var (
	// Misuse guards
	ErrInvalidState      = errors.New("psychics: runtime is no longer valid")
	ErrAlreadyLaunched   = errors.New("psychics: projectile already launched")
	ErrAlreadyRegistered = errors.New("psychics: owner already registered")
	ErrNotRegistered     = errors.New("psychics: owner not registered")
	ErrNotCastable       = errors.New("psychics: ability is not castable")
	ErrInvalidPeriod     = errors.New("psychics: repeating period must be at least one tick")

	// Loading
	ErrConceptNotFound    = errors.New("psychics: psychic concept not found")
	ErrDuplicateConcept   = errors.New("psychics: psychic name already loaded")
	ErrEntryPointNotFound = errors.New("psychics: entry point not registered")
	ErrDescriptionMissing = errors.New("psychics: bundle has no ability description")
	ErrRecordNotFound     = errors.New("psychics: esper record not found")
)

// ParseError reports a malformed description, template or config value.
// It is per item: batch operations log it and skip the item.
type ParseError struct {
	File string
	Key  string
	Err  error
}

func (e *ParseError) Error() string {
	var b strings.Builder
	b.WriteString("psychics: parse")
	if e.File != "" {
		b.WriteString(" ")
		b.WriteString(e.File)
	}
	if e.Key != "" {
		b.WriteString(" [")
		b.WriteString(e.Key)
		b.WriteString("]")
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *ParseError) Unwrap() error { return e.Err }

// UnresolvedModuleError is returned when a concept names a module id that
// matches nothing in the module index.
type UnresolvedModuleError struct {
	Concept  string
	Ability  string
	ModuleID string
}

func (e *UnresolvedModuleError) Error() string {
	return fmt.Sprintf("psychics: concept %q ability %q: module %q not found", e.Concept, e.Ability, e.ModuleID)
}

// AmbiguousModuleError is returned when a suffix lookup matches more than one module.
type AmbiguousModuleError struct {
	Concept    string
	Ability    string
	ModuleID   string
	Candidates []string
}

func (e *AmbiguousModuleError) Error() string {
	return fmt.Sprintf("psychics: concept %q ability %q: module %q is ambiguous (%s)",
		e.Concept, e.Ability, e.ModuleID, strings.Join(e.Candidates, ", "))
}

// HookFailure wraps an error or panic raised by a user supplied hook.
// It is always contained at the call site.
type HookFailure struct {
	Kind HookKind
	Name string
	Err  error
}

func (e *HookFailure) Error() string {
	return fmt.Sprintf("psychics: %s hook %s failed: %v", e.Kind, e.Name, e.Err)
}

func (e *HookFailure) Unwrap() error { return e.Err }
