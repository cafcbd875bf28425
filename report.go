package psychics

import (
	"fmt"

	"go.uber.org/multierr"
)

// FailureKind classifies an item skipped by a batch load.
type FailureKind int

const (
	// FailureParse means a bundle description or template could not be parsed.
	FailureParse FailureKind = iota
	// FailureSuperseded means a bundle lost a same-id collision to a higher version.
	FailureSuperseded
	// FailureLoad means the module loader rejected a bundle.
	FailureLoad
	// FailureConcept means a psychic concept failed to build.
	FailureConcept
	// FailureSave means a template with filled in defaults could not be written back.
	FailureSave
	// FailureRegister means an owner could not be re-registered after a reload.
	FailureRegister
)

// String returns the string representation of the failure kind.
func (k FailureKind) String() string {
	switch k {
	case FailureParse:
		return "parse"
	case FailureSuperseded:
		return "superseded"
	case FailureLoad:
		return "load"
	case FailureConcept:
		return "concept"
	case FailureSave:
		return "save"
	case FailureRegister:
		return "register"
	default:
		return "unknown"
	}
}

// Failure is one skipped item of a batch load.
type Failure struct {
	Kind FailureKind
	File string
	ID   string
	Err  error
}

// Error implements error.
func (f Failure) Error() string {
	return fmt.Sprintf("%s %s (%s): %v", f.Kind, f.ID, f.File, f.Err)
}

// Report is the outcome of a best-effort batch load: what was loaded and
// which items were skipped. The caller decides whether failures are fatal.
type Report struct {
	Loaded   []string
	Failures []Failure
}

func (r *Report) loaded(id string) {
	r.Loaded = append(r.Loaded, id)
}

func (r *Report) fail(kind FailureKind, file, id string, err error) {
	r.Failures = append(r.Failures, Failure{Kind: kind, File: file, ID: id, Err: err})
}

// merge appends another report's entries.
func (r *Report) merge(other *Report) {
	if other == nil {
		return
	}
	r.Loaded = append(r.Loaded, other.Loaded...)
	r.Failures = append(r.Failures, other.Failures...)
}

// OK reports whether the batch completed without failures.
func (r *Report) OK() bool {
	return len(r.Failures) == 0
}

// Err combines all failures into one error, or returns nil.
func (r *Report) Err() error {
	var err error
	for _, f := range r.Failures {
		err = multierr.Append(err, f)
	}
	return err
}

// Count returns the number of failures of the given kind.
func (r *Report) Count(kind FailureKind) int {
	n := 0
	for _, f := range r.Failures {
		if f.Kind == kind {
			n++
		}
	}
	return n
}
