package badger

import (
	"testing"

	"github.com/ValentinKolb/dRec/lib/db"
	dbtesting "github.com/ValentinKolb/dRec/lib/db/testing"
)

func newInMemory(t testing.TB) db.KVDB {
	database, err := NewBadgerDB(InMemoryConfig())
	if err != nil {
		t.Fatalf("open in-memory badger: %v", err)
	}
	return database
}

func Test(t *testing.T) {
	dbtesting.RunKVDBTests(t, "BadgerDB", func() db.KVDB {
		return newInMemory(t)
	})
}

func TestPersistence(t *testing.T) {
	dir := t.TempDir()

	cfg := DefaultConfig(dir)
	cfg.GCInterval = 0

	database, err := NewBadgerDB(cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !database.SupportsFeature(db.FeaturePersistent) {
		t.Errorf("Expected on-disk database to be persistent")
	}

	err = database.Update(func(b db.Batch) error {
		b.Set(1, 7, []byte("one"))
		b.Set(2, 7, []byte("two"))
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := database.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	database, err = NewBadgerDB(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer database.Close()

	value, ok, err := database.Get(2)
	if err != nil || !ok || string(value) != "two" {
		t.Errorf("Expected row 2 to survive a restart, got %q (ok=%v, err=%v)", value, ok, err)
	}

	var keys []uint64
	_ = database.Scan(7, func(key uint64, _ []byte) bool {
		keys = append(keys, key)
		return true
	})
	if len(keys) != 2 {
		t.Errorf("Expected tag index to survive a restart, got %v", keys)
	}
}

func Benchmark(b *testing.B) {
	dbtesting.RunKVDBBenchmarks(b, "BadgerDB", func() db.KVDB {
		return newInMemory(b)
	})
}
