package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func exerciseDatabase(t *testing.T, db Database) {
	t.Helper()
	_, err := db.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.Put([]byte("run/b"), []byte("2")))
	require.NoError(t, db.Put([]byte("run/a"), []byte("1")))
	require.NoError(t, db.Put([]byte("other"), []byte("x")))

	value, err := db.Get([]byte("run/a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), value)

	ok, err := db.Has([]byte("run/b"))
	require.NoError(t, err)
	require.True(t, ok)

	keys, err := db.Keys([]byte("run/"))
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("run/a"), []byte("run/b")}, keys)

	require.NoError(t, db.Delete([]byte("run/a")))
	ok, err = db.Has([]byte("run/a"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemDB(t *testing.T) {
	db := NewMemDB()
	defer db.Close()
	exerciseDatabase(t, db)

	value := []byte("v")
	require.NoError(t, db.Put([]byte("k"), value))
	value[0] = 'w'
	got, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), got)
}

func TestLevelDB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	db, err := NewLevelDB(path)
	require.NoError(t, err)
	exerciseDatabase(t, db)
	require.NoError(t, db.Close())

	reopened, err := NewLevelDB(path)
	require.NoError(t, err)
	defer reopened.Close()
	value, err := reopened.Get([]byte("run/b"))
	require.NoError(t, err)
	require.Equal(t, []byte("2"), value)
}
