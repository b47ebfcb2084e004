package catalog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCreateLookup(t *testing.T) {
	c := openCatalog(t)

	_, ok, err := c.Lookup("main")
	require.NoError(t, err)
	assert.False(t, ok)

	created, err := c.Create("main", "maple", "binary")
	require.NoError(t, err)
	assert.NotEmpty(t, created.Physical)

	found, ok, err := c.Lookup("main")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, created.Physical, found.Physical)
	assert.Equal(t, "binary", found.Codec)

	_, err = c.Create("main", "maple", "binary")
	assert.ErrorIs(t, err, ErrExists)

	_, err = c.Create("", "maple", "binary")
	assert.ErrorIs(t, err, ErrEmptyName)
}

func TestRenameKeepsPhysicalID(t *testing.T) {
	c := openCatalog(t)

	a, err := c.Create("a", "maple", "json")
	require.NoError(t, err)
	_, err = c.Create("b", "maple", "json")
	require.NoError(t, err)

	assert.ErrorIs(t, c.Rename("a", "b"), ErrExists)
	assert.ErrorIs(t, c.Rename("missing", "c"), ErrNotFound)
	require.NoError(t, c.Rename("a", "c"))

	_, ok, _ := c.Lookup("a")
	assert.False(t, ok)

	renamed, ok, err := c.Lookup("c")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, a.Physical, renamed.Physical)
	assert.Equal(t, "c", renamed.Name)
}

func TestEntriesAndRemove(t *testing.T) {
	c := openCatalog(t)

	for _, name := range []string{"zeta", "alpha", "mid"} {
		_, err := c.Create(name, "badger", "gob")
		require.NoError(t, err)
	}

	entries, err := c.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "alpha", entries[0].Name)
	assert.Equal(t, "zeta", entries[2].Name)

	removed, err := c.Remove("mid")
	require.NoError(t, err)
	assert.Equal(t, "mid", removed.Name)

	_, err = c.Remove("mid")
	assert.ErrorIs(t, err, ErrNotFound)

	entries, err = c.Entries()
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestMarkSet(t *testing.T) {
	c := openCatalog(t)
	entry, err := c.Create("main", "maple", "binary")
	require.NoError(t, err)

	marks := c.Marks(entry.Physical)

	ids, err := marks.All()
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, marks.Add(30, 10, 20))
	require.NoError(t, marks.Remove(20, 99))

	ids, err = marks.All()
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 30}, ids)

	// sets are per database
	other, err := c.Create("other", "maple", "binary")
	require.NoError(t, err)
	ids, err = c.Marks(other.Physical).All()
	require.NoError(t, err)
	assert.Empty(t, ids)

	// removing the database drops its marks
	_, err = c.Remove("main")
	require.NoError(t, err)
	ids, err = marks.All()
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")

	c, err := Open(path)
	require.NoError(t, err)
	entry, err := c.Create("main", "maple", "binary")
	require.NoError(t, err)
	require.NoError(t, c.Marks(entry.Physical).Add(5))
	require.NoError(t, c.Close())

	c, err = Open(path)
	require.NoError(t, err)
	defer c.Close()

	found, ok, err := c.Lookup("main")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, entry.Physical, found.Physical)

	ids, err := c.Marks(found.Physical).All()
	require.NoError(t, err)
	assert.Equal(t, []int64{5}, ids)
}

func TestMarkSetUpdate(t *testing.T) {
	c := openCatalog(t)
	marks := c.Marks("physical")

	require.NoError(t, marks.Update([]int64{1, 2, 3}, nil))
	require.NoError(t, marks.Update([]int64{4}, []int64{1, 3}))
	require.NoError(t, marks.Update(nil, nil))

	ids, err := marks.All()
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 4}, ids)
}
