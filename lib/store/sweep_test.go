package store

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/ValentinKolb/dRec/lib/common"
	"github.com/ValentinKolb/dRec/lib/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sweep(t *testing.T, d *Database) int {
	t.Helper()
	n, err := d.Sweep(context.Background())
	require.NoError(t, err)
	return n
}

func TestSweepReachability(t *testing.T) {
	for _, engine := range engines {
		t.Run(engine, func(t *testing.T) {
			ctx := context.Background()
			h := newHost(t, testConfig(t, engine))
			d := openDB(t, h, "main")

			shared := newMedia("shared")
			s1, s2 := newSlide("s1", shared), newSlide("s2", shared)
			story := newStory("story", s1, s2)
			require.NoError(t, d.Save(ctx, story))

			// s2 goes, the media is still used by s1
			removed, ok := story.Slides.Pop()
			require.True(t, ok)
			require.Same(t, s2, removed)
			assert.Equal(t, 1, sweep(t, d))
			assert.False(t, stored(t, d, s2))
			assert.True(t, stored(t, d, shared))
			assert.False(t, record.Attached(s2, d.tracker))
			r, err := d.Get(ctx, s2.ID())
			require.NoError(t, err)
			assert.Nil(t, r)

			// last path gone
			s1.Cover.Set(nil)
			assert.Equal(t, 1, sweep(t, d))
			assert.False(t, stored(t, d, shared))
			assert.True(t, stored(t, d, s1))
			assert.Zero(t, d.marked.Size())

			require.NoError(t, d.Close())
			d = openDB(t, h, "main")
			got, err := Get[*Story](ctx, d, story.ID())
			require.NoError(t, err)
			require.Equal(t, 1, got.Slides.Len())
			assert.True(t, got.Slides.At(0).Cover.IsNil())
		})
	}
}

func TestSweepRescue(t *testing.T) {
	ctx := context.Background()
	d := openDB(t, newHost(t, testConfig(t, common.EngineMaple)), "main")

	cover := newMedia("only used by s")
	s := newSlide("s", cover)
	story := newStory("story", s)
	require.NoError(t, d.Save(ctx, story))

	story.Slides.Shift()
	_, marked := d.marked.Load(cover.ID())
	require.True(t, marked)

	// moved back before the sweep runs
	story.Slides.Unshift(s)
	_, marked = d.marked.Load(s.ID())
	assert.False(t, marked)

	assert.Equal(t, 0, sweep(t, d))
	assert.True(t, stored(t, d, s))
	assert.True(t, stored(t, d, cover))
	assert.Zero(t, d.marked.Size())

	// saved explicitly before the sweep runs
	removed, ok := story.Slides.Pop()
	require.True(t, ok)
	require.Same(t, s, removed)
	_, marked = d.marked.Load(s.ID())
	require.True(t, marked)

	require.NoError(t, d.Save(ctx, s))
	_, marked = d.marked.Load(s.ID())
	assert.False(t, marked)
	_, marked = d.marked.Load(cover.ID())
	assert.False(t, marked, "saving cascades to the cover")

	assert.Equal(t, 0, sweep(t, d))
	assert.True(t, stored(t, d, s))
	assert.True(t, stored(t, d, cover))
}

func TestFailedSaveKeepsMarks(t *testing.T) {
	ctx := context.Background()
	d := openDB(t, newHost(t, testConfig(t, common.EngineMaple)), "main")

	s := newSlide("s", nil)
	story := newStory("story", s)
	require.NoError(t, d.Save(ctx, story))

	story.Slides.Pop()
	_, marked := d.marked.Load(s.ID())
	require.True(t, marked)

	s.Weight.Set(math.NaN())
	assert.ErrorIs(t, d.Save(ctx, s), record.ErrNaN)
	_, marked = d.marked.Load(s.ID())
	assert.True(t, marked)

	assert.Equal(t, 1, sweep(t, d))
	assert.False(t, stored(t, d, s))
	assert.True(t, stored(t, d, story))
}

func TestSweepKeepsWhatKeptRecordsReference(t *testing.T) {
	ctx := context.Background()
	d := openDB(t, newHost(t, testConfig(t, common.EngineMaple)), "main")

	tail := newSlide("tail", nil)
	s1, s2 := newSlide("s1", nil), newSlide("s2", nil)
	s1.Next.Set(s2)
	s2.Next.Set(tail)
	story := newStory("story", s1, s2)
	require.NoError(t, d.Save(ctx, story))

	// s2 (and tail with it) is marked, but s1 still points to s2
	story.Slides.Pop()
	assert.Equal(t, 0, sweep(t, d))
	assert.True(t, stored(t, d, s2))
	assert.True(t, stored(t, d, tail))
}

func TestSweepCollectsCycles(t *testing.T) {
	ctx := context.Background()
	d := openDB(t, newHost(t, testConfig(t, common.EngineMaple)), "main")

	s1, s2 := newSlide("s1", nil), newSlide("s2", nil)
	s1.Next.Set(s2)
	s2.Next.Set(s1)
	story := newStory("story", s1, s2)
	require.NoError(t, d.Save(ctx, story))

	removed := story.Slides.Splice(0, 2)
	require.Len(t, removed, 2)
	assert.Equal(t, 2, sweep(t, d))
	assert.False(t, stored(t, d, s1))
	assert.False(t, stored(t, d, s2))
	assert.True(t, stored(t, d, story))
}

func TestRootsAreNeverMarked(t *testing.T) {
	ctx := context.Background()
	d := openDB(t, newHost(t, testConfig(t, common.EngineMaple)), "main")

	home, other := newStory("home"), newStory("other", newSlide("s", nil))
	home.Related.Set(other)
	require.NoError(t, d.Save(ctx, home))

	home.Related.Set(nil)
	assert.Zero(t, d.marked.Size())
	assert.Equal(t, 0, sweep(t, d))
	assert.True(t, stored(t, d, other))
	assert.True(t, stored(t, d, other.Slides.At(0)))
}

func TestSweepDeletedRecordsCanBeSavedAgain(t *testing.T) {
	ctx := context.Background()
	d := openDB(t, newHost(t, testConfig(t, common.EngineMaple)), "main")

	s := newSlide("s", newMedia("m"))
	story := newStory("story", s)
	require.NoError(t, d.Save(ctx, story))
	id := s.ID()

	story.Slides.Pop()
	assert.Equal(t, 2, sweep(t, d))

	story.Slides.Push(s)
	require.NoError(t, d.Flush(ctx))
	assert.Equal(t, id, s.ID())
	assert.True(t, stored(t, d, s))
	assert.True(t, stored(t, d, s.Cover.Get()))
}

func TestScheduledSweep(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, common.EngineMaple)
	cfg.AutosaveDelay = time.Millisecond
	cfg.SweepDelay = 10 * time.Millisecond
	d := openDB(t, newHost(t, cfg), "main")

	s := newSlide("s", nil)
	story := newStory("story", s)
	require.NoError(t, d.Save(ctx, story))

	story.Slides.Pop()
	assert.Eventually(t, func() bool {
		return !stored(t, d, s)
	}, 2*time.Second, 5*time.Millisecond)
}

func TestMarksArePersisted(t *testing.T) {
	ctx := context.Background()
	h := newHost(t, testConfig(t, common.EngineMaple))
	d := openDB(t, h, "main")
	marks := h.catalog.Marks(d.Physical())

	s := newSlide("s", nil)
	story := newStory("story", s)
	require.NoError(t, d.Save(ctx, story))

	story.Slides.Pop()
	require.NoError(t, d.Flush(ctx))
	ids, err := marks.All()
	require.NoError(t, err)
	assert.Equal(t, []int64{int64(s.ID())}, ids)

	assert.Equal(t, 1, sweep(t, d))
	ids, err = marks.All()
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestInterruptedSweepResumesOnOpen(t *testing.T) {
	ctx := context.Background()
	h := newHost(t, testConfig(t, common.EngineMaple))
	d := openDB(t, h, "main")

	s := newSlide("s", nil)
	story := newStory("story", s)
	orphan := newMedia("orphan")
	require.NoError(t, d.Save(ctx, story, orphan))
	require.NoError(t, d.Close())

	// marks left behind by a process that exited before its sweep
	marks := h.catalog.Marks(d.Physical())
	require.NoError(t, marks.Add(int64(orphan.ID()), int64(s.ID())))

	d = openDB(t, h, "main")
	assert.False(t, stored(t, d, orphan))
	assert.True(t, stored(t, d, s))

	ids, err := marks.All()
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestCollect(t *testing.T) {
	ctx := context.Background()
	h := newHost(t, testConfig(t, common.EngineMaple))
	d := openDB(t, h, "main")

	kept := newSlide("kept", newMedia("kept"))
	story := newStory("story", kept)
	lost := newSlide("lost", newMedia("lost"))
	require.NoError(t, d.Save(ctx, story, lost))

	n, err := d.Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.False(t, stored(t, d, lost))
	assert.False(t, stored(t, d, lost.Cover.Get()))
	assert.True(t, stored(t, d, kept.Cover.Get()))

	// raw databases name their roots
	require.NoError(t, d.Close())
	raw, err := h.Open(ctx, "main")
	require.NoError(t, err)
	_, err = raw.Collect(ctx)
	assert.Error(t, err)
	n, err = raw.Collect(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
