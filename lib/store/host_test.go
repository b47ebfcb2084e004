package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ValentinKolb/dRec/lib/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostAdmin(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, common.EngineMaple)
	h := newHost(t, cfg)

	a := openDB(t, h, "a")
	m := newMedia("m")
	require.NoError(t, a.Save(ctx, m))
	openDB(t, h, "b")

	names, err := h.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	// open databases can be renamed but not deleted or opened twice
	require.NoError(t, h.Rename(ctx, "a", "c"))
	assert.Equal(t, "c", a.Name())
	assert.ErrorIs(t, h.Delete(ctx, "c"), ErrDatabaseOpen)
	_, err = h.Open(ctx, "c", types()...)
	assert.ErrorIs(t, err, ErrDatabaseOpen)

	assert.ErrorIs(t, h.Rename(ctx, "missing", "x"), ErrDatabaseNotFound)
	assert.ErrorIs(t, h.Rename(ctx, "c", "b"), ErrDatabaseExists)

	// the records moved with the name
	require.NoError(t, a.Close())
	c := openDB(t, h, "c")
	got, err := Get[*Media](ctx, c, m.ID())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "m", got.URL.Get())
	require.NoError(t, c.Close())

	require.NoError(t, h.Delete(ctx, "c"))
	assert.ErrorIs(t, h.Delete(ctx, "c"), ErrDatabaseNotFound)
	_, err = os.Stat(filepath.Join(cfg.DataDir, c.Physical()+".maple"))
	assert.True(t, os.IsNotExist(err))

	names, err = h.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, names)

	// a new database under the old name starts empty
	c = openDB(t, h, "c")
	r, err := c.Get(ctx, m.ID())
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestDatabaseKeepsEngineAndCodec(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, common.EngineBadger)
	cfg.Codec = "json"

	h, err := NewHost(cfg)
	require.NoError(t, err)
	d, err := h.Open(ctx, "main", types()...)
	require.NoError(t, err)
	story := newStory("story", newSlide("s", newMedia("m")))
	require.NoError(t, d.Save(ctx, story))
	require.NoError(t, h.Close())

	// the host defaults changed, the database did not
	cfg.Engine = common.EngineMaple
	cfg.Codec = "gob"
	h = newHost(t, cfg)

	entries, err := h.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, common.EngineBadger, entries[0].Engine)
	assert.Equal(t, "json", entries[0].Codec)

	d = openDB(t, h, "main")
	got, err := Get[*Story](ctx, d, story.ID())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "m", got.Slides.At(0).Cover.Get().URL.Get())
}

func TestInMemoryHost(t *testing.T) {
	ctx := context.Background()
	cfg := common.DefaultConfig()
	cfg.LogLevel = "error"

	for _, engine := range engines {
		t.Run(engine, func(t *testing.T) {
			cfg.Engine = engine
			h, err := NewHost(cfg)
			require.NoError(t, err)
			require.DirExists(t, h.tempDir)

			d, err := h.Open(ctx, "main", types()...)
			require.NoError(t, err)
			m := newMedia("m")
			require.NoError(t, d.Save(ctx, m))
			r, err := d.Get(ctx, m.ID())
			require.NoError(t, err)
			assert.Same(t, m, r)

			require.NoError(t, h.Close())
			assert.NoDirExists(t, h.tempDir)
		})
	}
}

func TestInvalidTypes(t *testing.T) {
	ctx := context.Background()
	h := newHost(t, testConfig(t, common.EngineMaple))

	tests := []struct {
		name  string
		types []TypeConfig
		err   error
	}{
		{"duplicate stable id", []TypeConfig{Type[*Media](1), Type[*Unregistered](1)}, ErrDuplicateType},
		{"duplicate type", []TypeConfig{Type[*Media](1), Type[*Media](2)}, ErrDuplicateType},
		{"missing target", []TypeConfig{Type[*Slide](1)}, ErrTypeNotDefined},
		{"zero stable id", []TypeConfig{Type[*Media](0)}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Open(ctx, "main", tt.types...)
			require.Error(t, err)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
			}
		})
	}
}

func TestInvalidConfig(t *testing.T) {
	cfg := common.DefaultConfig()
	cfg.Engine = "sqlite"
	_, err := NewHost(cfg)
	assert.Error(t, err)
}

func TestUnsupportedEngineOrCodec(t *testing.T) {
	ctx := context.Background()
	h := newHost(t, testConfig(t, common.EngineMaple))

	_, err := h.catalog.Create("odd-codec", common.EngineMaple, "xml")
	require.NoError(t, err)
	_, err = h.catalog.Create("odd-engine", "leveldb", "binary")
	require.NoError(t, err)

	for _, name := range []string{"odd-codec", "odd-engine"} {
		_, err := h.Open(ctx, name, types()...)
		var se *Error
		require.ErrorAs(t, err, &se, name)
		assert.Equal(t, RetCUnsupportedOperation, se.Code, name)
	}
}
