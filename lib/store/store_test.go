package store

import (
	"bytes"
	"context"
	"math"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dRec/lib/codec"
	"github.com/ValentinKolb/dRec/lib/common"
	"github.com/ValentinKolb/dRec/lib/db"
	"github.com/ValentinKolb/dRec/lib/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// Fixtures
// --------------------------------------------------------------------------

type Story struct {
	record.Base
	Title   record.Value[string] `db:"title"`
	Slides  record.List[*Slide]  `db:"slides"`
	Related record.Ref[*Story]   `db:"related"`
}

type Slide struct {
	record.Base
	Title   record.Value[string]   `db:"title"`
	Weight  record.Value[float64]  `db:"weight"`
	Visible record.Value[bool]     `db:"visible"`
	Tags    record.Value[[]string] `db:"tags"`
	Cover   record.Ref[*Media]     `db:"cover"`
	Next    record.Ref[*Slide]     `db:"next"`
}

type Media struct {
	record.Base
	URL  record.Value[string] `db:"url"`
	Size record.Value[int64]  `db:"size"`
	Data record.Value[[]byte] `db:"data"`
}

// Unregistered is never declared to a database
type Unregistered struct {
	record.Base
	Name record.Value[string] `db:"name"`
}

func types() []TypeConfig {
	return []TypeConfig{
		Type[*Story](1).AsRoot(),
		Type[*Slide](2),
		Type[*Media](3),
	}
}

func newStory(title string, slides ...*Slide) *Story {
	s := &Story{}
	s.Title.Set(title)
	s.Slides.Push(slides...)
	return s
}

func newSlide(title string, cover *Media) *Slide {
	s := &Slide{}
	s.Title.Set(title)
	s.Cover.Set(cover)
	return s
}

func newMedia(url string) *Media {
	m := &Media{}
	m.URL.Set(url)
	return m
}

// testConfig uses delays long enough that nothing runs unless a test asks for it
func testConfig(t *testing.T, engine string) common.Config {
	cfg := common.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Engine = engine
	cfg.AutosaveDelay = time.Hour
	cfg.SweepDelay = time.Hour
	cfg.LogLevel = "error"
	cfg.SyncWrites = false
	return cfg
}

func newHost(t *testing.T, cfg common.Config) *Host {
	t.Helper()
	h, err := NewHost(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func openDB(t *testing.T, h *Host, name string) *Database {
	t.Helper()
	d, err := h.Open(context.Background(), name, types()...)
	require.NoError(t, err)
	return d
}

func stored(t *testing.T, d *Database, r record.Record) bool {
	t.Helper()
	ok, err := d.kv.Has(uint64(record.IDOf(r)))
	require.NoError(t, err)
	return ok
}

// countingTable records the write transactions of the wrapped table
type countingTable struct {
	db.KVDB
	mu      sync.Mutex
	batches [][]uint64
}

type countingBatch struct {
	db.Batch
	keys *[]uint64
}

func (b countingBatch) Set(key uint64, tag uint32, value []byte) {
	*b.keys = append(*b.keys, key)
	b.Batch.Set(key, tag, value)
}

func (c *countingTable) Update(fn func(b db.Batch) error) error {
	var keys []uint64
	err := c.KVDB.Update(func(b db.Batch) error {
		keys = keys[:0]
		return fn(countingBatch{Batch: b, keys: &keys})
	})
	if err == nil {
		c.mu.Lock()
		c.batches = append(c.batches, keys)
		c.mu.Unlock()
	}
	return err
}

func (c *countingTable) Batches() [][]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]uint64(nil), c.batches...)
}

func countWrites(d *Database) *countingTable {
	c := &countingTable{KVDB: d.kv}
	d.kv = c
	return c
}

var engines = []string{common.EngineMaple, common.EngineBadger}

// --------------------------------------------------------------------------
// Reading and saving
// --------------------------------------------------------------------------

func TestRoundTrip(t *testing.T) {
	for _, engine := range engines {
		t.Run(engine, func(t *testing.T) {
			ctx := context.Background()
			h := newHost(t, testConfig(t, engine))
			d := openDB(t, h, "main")

			cover := newMedia("https://example.com/a.png")
			cover.Size.Set(1 << 40)
			cover.Data.Set([]byte{0, 1, 2})
			first := newSlide("first", cover)
			first.Weight.Set(math.Inf(1))
			first.Visible.Set(true)
			first.Tags.Set([]string{"a", "b"})
			second := newSlide("second", cover)
			first.Next.Set(second)
			second.Next.Set(first) // cycle
			story := newStory("story", first, second)

			require.NoError(t, d.Save(ctx, story))
			require.NotZero(t, story.ID())
			require.NoError(t, d.Close())

			d = openDB(t, h, "main")
			got, err := Get[*Story](ctx, d, story.ID())
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.NotSame(t, story, got)
			assert.Equal(t, "story", got.Title.Get())
			require.Equal(t, 2, got.Slides.Len())

			s1, s2 := got.Slides.At(0), got.Slides.At(1)
			assert.Equal(t, first.ID(), s1.ID())
			assert.Equal(t, "first", s1.Title.Get())
			assert.True(t, math.IsInf(s1.Weight.Get(), 1))
			assert.True(t, s1.Visible.Get())
			assert.Equal(t, []string{"a", "b"}, s1.Tags.Get())
			assert.Same(t, s2, s1.Next.Get())
			assert.Same(t, s1, s2.Next.Get())

			// shared target is one instance
			assert.Same(t, s1.Cover.Get(), s2.Cover.Get())
			m := s1.Cover.Get()
			assert.Equal(t, "https://example.com/a.png", m.URL.Get())
			assert.Equal(t, int64(1<<40), m.Size.Get())
			assert.Equal(t, []byte{0, 1, 2}, m.Data.Get())
		})
	}
}

func TestIdentity(t *testing.T) {
	ctx := context.Background()
	h := newHost(t, testConfig(t, common.EngineMaple))
	d := openDB(t, h, "main")

	story := newStory("story", newSlide("a", nil))
	require.NoError(t, d.Save(ctx, story))

	// the saved instance is the live one
	r, err := d.Get(ctx, story.ID())
	require.NoError(t, err)
	assert.Same(t, story, r)

	require.NoError(t, d.Close())
	d = openDB(t, h, "main")

	// concurrent cold reads resolve to one instance
	const readers = 16
	results := make([]record.Record, readers)
	var wg sync.WaitGroup
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = d.Get(ctx, story.ID())
		}(i)
	}
	wg.Wait()

	require.NotNil(t, results[0])
	for _, r := range results[1:] {
		assert.Same(t, results[0], r)
	}

	// references resolve to the same instances as direct reads
	slideID := results[0].(*Story).Slides.At(0).ID()
	slide, err := d.Get(ctx, slideID)
	require.NoError(t, err)
	assert.Same(t, results[0].(*Story).Slides.At(0), slide)
}

func TestGetMissing(t *testing.T) {
	ctx := context.Background()
	d := openDB(t, newHost(t, testConfig(t, common.EngineMaple)), "main")

	r, err := d.Get(ctx, 0)
	assert.NoError(t, err)
	assert.Nil(t, r)

	r, err = d.Get(ctx, 123456)
	assert.NoError(t, err)
	assert.Nil(t, r)

	m, err := Get[*Media](ctx, d, 123456)
	assert.NoError(t, err)
	assert.Nil(t, m)
}

func TestGetTypeMismatch(t *testing.T) {
	ctx := context.Background()
	d := openDB(t, newHost(t, testConfig(t, common.EngineMaple)), "main")

	m := newMedia("x")
	require.NoError(t, d.Save(ctx, m))

	_, err := Get[*Slide](ctx, d, m.ID())
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestCascadeSave(t *testing.T) {
	ctx := context.Background()
	d := openDB(t, newHost(t, testConfig(t, common.EngineMaple)), "main")
	writes := countWrites(d)

	cover := newMedia("cover")
	story := newStory("story", newSlide("a", cover), newSlide("b", nil))
	require.Zero(t, story.ID())

	require.NoError(t, d.Save(ctx, story))

	// one transaction with every reachable record
	batches := writes.Batches()
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 4)

	for _, r := range []record.Record{story, story.Slides.At(0), story.Slides.At(1), cover} {
		assert.NotZero(t, record.IDOf(r))
		assert.True(t, stored(t, d, r))
	}
	assert.Zero(t, d.dirty.Size())
}

func TestSaveErrorsWriteNothing(t *testing.T) {
	ctx := context.Background()
	d := openDB(t, newHost(t, testConfig(t, common.EngineMaple)), "main")
	writes := countWrites(d)

	broken := newSlide("broken", newMedia("cover"))
	broken.Weight.Set(math.NaN())
	story := newStory("story", broken)
	err := d.Save(ctx, story)
	assert.ErrorIs(t, err, record.ErrNaN)

	// nothing was attached or registered
	assert.True(t, record.Attached(story, nil))
	assert.True(t, record.Attached(broken, nil))
	assert.Zero(t, d.heap.Len())

	err = d.Save(ctx, &Unregistered{})
	assert.ErrorIs(t, err, ErrTypeNotDefined)

	assert.Empty(t, writes.Batches())

	broken.Weight.Set(1)
	require.NoError(t, d.Save(ctx, story))
	require.Len(t, writes.Batches(), 1)
	assert.Len(t, writes.Batches()[0], 3)
	assert.True(t, record.Attached(story, d.tracker))
}

func TestPeekedCopiesCannotBeSaved(t *testing.T) {
	ctx := context.Background()
	h := newHost(t, testConfig(t, common.EngineMaple))
	d := openDB(t, h, "main")

	story := newStory("story", newSlide("a", nil), newSlide("b", nil))
	require.NoError(t, d.Save(ctx, story))

	var peeked *Story
	for s, err := range Each[*Story](ctx, d, ModePeek) {
		require.NoError(t, err)
		peeked = s
	}
	require.NotNil(t, peeked)
	assert.Equal(t, story.ID(), peeked.ID())
	assert.Zero(t, peeked.Slides.Len())
	assert.ErrorIs(t, d.Save(ctx, peeked), record.ErrReadOnlyCopy)

	// a second instance for a loaded id is refused as well
	twin := d.types.byType[reflect.TypeFor[*Story]()].layout.New(story.ID())
	assert.ErrorIs(t, d.Save(ctx, twin), ErrDuplicateRecord)
	assert.True(t, record.Attached(twin, nil))

	require.NoError(t, d.Close())
	d = openDB(t, h, "main")
	got, err := Get[*Story](ctx, d, story.ID())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2, got.Slides.Len())
}

func TestPick(t *testing.T) {
	ctx := context.Background()
	h := newHost(t, testConfig(t, common.EngineMaple))
	d := openDB(t, h, "main")

	a, b := newMedia("a"), newMedia("b")
	require.NoError(t, d.Save(ctx, a, b))
	require.NoError(t, d.Close())

	d = openDB(t, h, "main")
	warm, err := d.Get(ctx, b.ID())
	require.NoError(t, err)

	got, err := d.Pick(ctx, b.ID(), 42, a.ID(), 0)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Same(t, warm, got[0])
	assert.Nil(t, got[1])
	assert.Equal(t, "a", got[2].(*Media).URL.Get())
	assert.Nil(t, got[3])
}

func TestEachAndFirst(t *testing.T) {
	ctx := context.Background()
	h := newHost(t, testConfig(t, common.EngineMaple))
	d := openDB(t, h, "main")

	story := newStory("story", newSlide("a", newMedia("m")), newSlide("b", nil), newSlide("c", nil))
	require.NoError(t, d.Save(ctx, story))
	require.NoError(t, d.Close())
	d = openDB(t, h, "main")

	var titles []string
	var last record.ID
	for s, err := range Each[*Slide](ctx, d, ModeGet) {
		require.NoError(t, err)
		assert.Greater(t, s.ID(), last)
		last = s.ID()
		titles = append(titles, s.Title.Get())
	}
	assert.Equal(t, []string{"a", "b", "c"}, titles)

	// live records are shared with later reads
	first, err := First[*Story](ctx, d)
	require.NoError(t, err)
	require.NotNil(t, first)
	slide, err := Get[*Slide](ctx, d, first.Slides.At(0).ID())
	require.NoError(t, err)
	assert.Same(t, first.Slides.At(0), slide)

	// peeked records are detached and shallow
	for s, err := range Each[*Slide](ctx, d, ModePeek) {
		require.NoError(t, err)
		assert.NotSame(t, slide, s)
		assert.True(t, s.Cover.IsNil())
		assert.False(t, record.Attached(s, d.tracker))
		break
	}

	// early stop and unknown types
	n := 0
	for range Each[*Media](ctx, d, ModePeek) {
		n++
		break
	}
	assert.Equal(t, 1, n)
	for _, err := range Each[*Unregistered](ctx, d, ModeGet) {
		assert.ErrorIs(t, err, ErrTypeNotDefined)
	}

	none, err := First[*Story](ctx, openDB(t, h, "empty"))
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestUnknownStoredType(t *testing.T) {
	ctx := context.Background()
	h := newHost(t, testConfig(t, common.EngineMaple))
	d := openDB(t, h, "main")
	m := newMedia("m")
	require.NoError(t, d.Save(ctx, m))
	require.NoError(t, d.Close())

	// reopened without the media type
	d, err := h.Open(ctx, "main", Type[*Story](1).AsRoot())
	require.Error(t, err, "slides reference an undeclared type")
	d, err = h.Open(ctx, "main", Type[*Unregistered](9))
	require.NoError(t, err)

	_, err = d.Get(ctx, m.ID())
	assert.ErrorIs(t, err, ErrTypeNotDefined)
}

func TestRawAccess(t *testing.T) {
	ctx := context.Background()
	h := newHost(t, testConfig(t, common.EngineMaple))
	d := openDB(t, h, "raw")

	m := newMedia("m.png")
	a, b := newSlide("a", m), newSlide("b", nil)
	story := newStory("story", a, b)
	require.NoError(t, d.Save(ctx, story))
	require.NoError(t, d.Close())

	// no record types needed
	raw, err := h.Open(ctx, "raw")
	require.NoError(t, err)
	defer raw.Close()

	type edge struct{ from, to record.ID }
	var edges []edge
	require.NoError(t, raw.EachEdge(ctx, func(from, to record.ID) bool {
		edges = append(edges, edge{from, to})
		return true
	}))
	assert.ElementsMatch(t, []edge{
		{story.ID(), a.ID()},
		{story.ID(), b.ID()},
		{a.ID(), m.ID()},
	}, edges)

	titles := make(map[record.ID]string)
	require.NoError(t, raw.Rows(ctx, 2, func(id record.ID, row codec.Row) bool {
		f, ok := row.Field("title")
		assert.True(t, ok)
		titles[id] = f.Str
		return true
	}))
	assert.Equal(t, map[record.ID]string{a.ID(): "a", b.ID(): "b"}, titles)

	n := 0
	require.NoError(t, raw.Rows(ctx, db.AllTags, func(record.ID, codec.Row) bool {
		n++
		return true
	}))
	assert.Equal(t, 4, n)

	_, err = raw.Get(ctx, story.ID())
	assert.ErrorIs(t, err, ErrTypeNotDefined)
}

func TestClosedDatabase(t *testing.T) {
	ctx := context.Background()
	d := openDB(t, newHost(t, testConfig(t, common.EngineMaple)), "main")
	require.NoError(t, d.Close())
	require.NoError(t, d.Close())

	_, err := d.Get(ctx, 1)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, d.Save(ctx, newMedia("m")), ErrClosed)
	assert.ErrorIs(t, d.Flush(ctx), ErrClosed)
}

// --------------------------------------------------------------------------
// Autosave
// --------------------------------------------------------------------------

func TestMutationsAreAutosaved(t *testing.T) {
	ctx := context.Background()
	h := newHost(t, testConfig(t, common.EngineMaple))
	d := openDB(t, h, "main")

	slide := newSlide("before", nil)
	story := newStory("story", slide)
	require.NoError(t, d.Save(ctx, story))

	slide.Title.Set("after")
	cover := newMedia("new cover")
	slide.Cover.Set(cover)
	assert.NotZero(t, cover.ID(), "adopted records get their id right away")

	require.NoError(t, d.Close())
	d = openDB(t, h, "main")

	got, err := Get[*Slide](ctx, d, slide.ID())
	require.NoError(t, err)
	assert.Equal(t, "after", got.Title.Get())
	require.False(t, got.Cover.IsNil())
	assert.Equal(t, "new cover", got.Cover.Get().URL.Get())
}

func TestBatching(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, common.EngineMaple)
	cfg.AutosaveDelay = 20 * time.Millisecond
	d := openDB(t, newHost(t, cfg), "main")

	a, b, c := newSlide("a", nil), newSlide("b", nil), newSlide("c", nil)
	require.NoError(t, d.Save(ctx, newStory("story", a, b, c)))
	writes := countWrites(d)

	a.Title.Set("a2")
	b.Title.Set("b2")
	c.Title.Set("c2")
	c.Title.Set("c3")

	assert.Eventually(t, func() bool { return len(writes.Batches()) > 0 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(3 * cfg.AutosaveDelay)

	batches := writes.Batches()
	require.Len(t, batches, 1)
	assert.ElementsMatch(t, []uint64{uint64(a.ID()), uint64(b.ID()), uint64(c.ID())}, batches[0])
}

func TestMaxDirtyForcesFlush(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, common.EngineMaple)
	cfg.MaxDirty = 2
	d := openDB(t, newHost(t, cfg), "main")

	a, b := newMedia("a"), newMedia("b")
	require.NoError(t, d.Save(ctx, a, b))
	writes := countWrites(d)

	a.URL.Set("a2")
	assert.Empty(t, writes.Batches())
	b.URL.Set("b2")
	assert.Len(t, writes.Batches(), 1)
}

func TestCollectionDirtiness(t *testing.T) {
	ctx := context.Background()
	d := openDB(t, newHost(t, testConfig(t, common.EngineMaple)), "main")

	story := newStory("story")
	require.NoError(t, d.Save(ctx, story))
	require.Zero(t, d.dirty.Size())

	story.Slides.Push()
	assert.Zero(t, d.dirty.Size(), "appending nothing keeps the owner clean")

	slide := newSlide("a", nil)
	story.Slides.Push(slide)
	_, ownerDirty := d.dirty.Load(story.ID())
	_, slideDirty := d.dirty.Load(slide.ID())
	assert.True(t, ownerDirty)
	assert.True(t, slideDirty)

	require.NoError(t, d.Flush(ctx))
	story.Slides.Reverse()
	assert.Zero(t, d.dirty.Size(), "reversing one element keeps the owner clean")

	story.Title.Set("story")
	assert.Zero(t, d.dirty.Size(), "setting the same value keeps the owner clean")
}

func TestLengthIsReadOnly(t *testing.T) {
	ctx := context.Background()
	d := openDB(t, newHost(t, testConfig(t, common.EngineMaple)), "main")

	story := newStory("story", newSlide("a", nil))
	require.NoError(t, d.Save(ctx, story))

	assert.ErrorIs(t, story.Slides.SetLen(0), record.ErrLengthReadOnly)
	assert.Equal(t, 1, story.Slides.Len())
	assert.Zero(t, d.dirty.Size())
}

func TestForeignRecord(t *testing.T) {
	ctx := context.Background()
	h := newHost(t, testConfig(t, common.EngineMaple))
	one, other := openDB(t, h, "one"), openDB(t, h, "other")

	m := newMedia("m")
	require.NoError(t, one.Save(ctx, m))
	assert.ErrorIs(t, other.Save(ctx, m), record.ErrForeignRecord)
}

func TestWriteMetrics(t *testing.T) {
	ctx := context.Background()
	d := openDB(t, newHost(t, testConfig(t, common.EngineMaple)), "main")
	require.NoError(t, d.Save(ctx, newMedia("m")))

	var sb bytes.Buffer
	d.WriteMetrics(&sb)
	assert.Contains(t, sb.String(), `drec_records_saved_total{db="`+d.Physical()+`"} 1`)
	assert.Contains(t, sb.String(), "drec_heap_records")
}
