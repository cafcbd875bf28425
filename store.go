package psychics

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Record is the persisted state of an owner (an esper).
type Record struct {
	// Psychic is the name of the owner's psychic concept, empty for none.
	Psychic string `yaml:"psychic"`
}

// Store loads and saves owner records.
type Store interface {
	// Load returns the record of id, or ErrRecordNotFound.
	Load(id uuid.UUID) (Record, error)
	// Save writes the record of id.
	Save(id uuid.UUID, rec Record) error
}

// FileStore keeps one YAML document per owner in a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates a store writing to dir. The directory is created on
// the first save.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) path(id uuid.UUID) string {
	return filepath.Join(s.dir, id.String()+".yml")
}

// Load implements Store.
func (s *FileStore) Load(id uuid.UUID) (Record, error) {
	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return Record{}, ErrRecordNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("read esper %s: %w", id, err)
	}

	var rec Record
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return Record{}, &ParseError{File: s.path(id), Err: err}
	}
	return rec, nil
}

// Save implements Store.
func (s *FileStore) Save(id uuid.UUID, rec Record) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create espers directory: %w", err)
	}
	data, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode esper %s: %w", id, err)
	}

	path := s.path(id)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write esper %s: %w", id, err)
	}
	return os.Rename(tmp, path)
}

// nopStore is used when no store is configured.
type nopStore struct{}

func (nopStore) Load(uuid.UUID) (Record, error) { return Record{}, ErrRecordNotFound }
func (nopStore) Save(uuid.UUID, Record) error   { return nil }
