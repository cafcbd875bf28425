package psychics

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "espers")
	store := NewFileStore(dir)
	id := uuid.New()

	_, err := store.Load(id)
	assert.ErrorIs(t, err, ErrRecordNotFound)

	require.NoError(t, store.Save(id, Record{Psychic: "pyro"}))
	rec, err := store.Load(id)
	require.NoError(t, err)
	assert.Equal(t, "pyro", rec.Psychic)
	assert.FileExists(t, filepath.Join(dir, id.String()+".yml"))
	assert.NoFileExists(t, filepath.Join(dir, id.String()+".yml.tmp"))

	require.NoError(t, store.Save(id, Record{}))
	rec, err = store.Load(id)
	require.NoError(t, err)
	assert.Empty(t, rec.Psychic)
}

func TestFileStore_Corrupt(t *testing.T) {
	dir := t.TempDir()
	id := uuid.New()
	writeFile(t, dir, id.String()+".yml", "psychic: [unclosed\n")

	_, err := NewFileStore(dir).Load(id)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
}
