package testing

import (
	"bytes"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/dRec/lib/db"
)

// RunKVDBBenchmarks runs all benchmarks for a row store implementation
func RunKVDBBenchmarks(b *testing.B, name string, factory DBFactory) {

	b.Run("Set", func(b *testing.B) {
		benchmarkSet(b, factory())
	})

	b.Run("SetExisting", func(b *testing.B) {
		benchmarkSetExisting(b, factory())
	})

	b.Run("SetBatch", func(b *testing.B) {
		benchmarkSetBatch(b, factory())
	})

	b.Run("Get", func(b *testing.B) {
		benchmarkGet(b, factory())
	})

	b.Run("GetMany", func(b *testing.B) {
		benchmarkGetMany(b, factory())
	})

	b.Run("Has(not)", func(b *testing.B) {
		benchmarkHasNot(b, factory())
	})

	b.Run("Scan", func(b *testing.B) {
		benchmarkScan(b, factory())
	})

	b.Run("SaveLoad", func(b *testing.B) {
		benchmarkSaveLoad(b, factory)
	})

	b.Run("MixedUsage", func(b *testing.B) {
		benchmarkMixedUsage(b, factory())
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// fill writes n rows with keys 1..n in batches of 1000
func fill(b *testing.B, database db.KVDB, n int) {
	b.Helper()
	for start := 1; start <= n; start += 1000 {
		err := database.Update(func(batch db.Batch) error {
			for i := start; i < start+1000 && i <= n; i++ {
				batch.Set(uint64(i), uint32(i%4+1), []byte(fmt.Sprintf("test-value-%d", i)))
			}
			return nil
		})
		if err != nil {
			b.Fatalf("fill failed: %v", err)
		}
	}
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

// Benchmark for single row Update operations
func benchmarkSet(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureUpdate)

	var counter atomic.Uint64
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			key := counter.Add(1)
			value := []byte(fmt.Sprintf("test-value-%d", key))
			_ = database.Update(func(batch db.Batch) error {
				batch.Set(key, 1, value)
				return nil
			})
		}
	})
}

// Benchmark for Update operations on existing keys
func benchmarkSetExisting(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureUpdate)

	numKeys := 10_000
	fill(b, database, numKeys)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			key := uint64(counter%numKeys + 1)
			value := []byte(fmt.Sprintf("test-value-%d", counter))
			_ = database.Update(func(batch db.Batch) error {
				batch.Set(key, 1, value)
				return nil
			})
			counter++
		}
	})
}

// Benchmark for Update operations with 100 rows each
func benchmarkSetBatch(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureUpdate)

	value := bytes.Repeat([]byte("x"), 256)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = database.Update(func(batch db.Batch) error {
			for j := 0; j < 100; j++ {
				batch.Set(uint64(i*100+j+1), 1, value)
			}
			return nil
		})
	}
}

// Benchmark for Get operation
func benchmarkGet(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureUpdate)
	requireFeature(b, database, db.FeatureGet)

	numKeys := 10_000
	fill(b, database, numKeys)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			_, _, _ = database.Get(uint64(counter%numKeys + 1))
			counter++
		}
	})
}

// Benchmark for GetMany with 32 keys per call
func benchmarkGetMany(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureUpdate)
	requireFeature(b, database, db.FeatureGet)

	numKeys := 10_000
	fill(b, database, numKeys)

	keys := make([]uint64, 32)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for j := range keys {
			keys[j] = uint64(rand.Intn(numKeys) + 1)
		}
		_, _ = database.GetMany(keys)
	}
}

// Benchmark for Has operation on missing keys
func benchmarkHasNot(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureGet)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := uint64(1)
		for pb.Next() {
			_, _ = database.Has(counter)
			counter++
		}
	})
}

// Benchmark for scanning one tag
func benchmarkScan(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureUpdate)
	requireFeature(b, database, db.FeatureScan)

	fill(b, database, 10_000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = database.Scan(uint32(i%4+1), func(uint64, []byte) bool {
			return true
		})
	}
}

// Benchmark for Save and Load operations
func benchmarkSaveLoad(b *testing.B, factory DBFactory) {

	database := factory()
	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureUpdate)
	requireFeature(b, database, db.FeatureSave)
	requireFeature(b, database, db.FeatureLoad)

	fill(b, database, 100_000)

	var buf bytes.Buffer
	if err := database.Save(&buf); err != nil {
		b.Fatalf("Save failed: %v", err)
	}
	snapshot := buf.Bytes()

	b.Run("Save", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			var w bytes.Buffer
			_ = database.Save(&w)
		}
	})

	b.Run("Load", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			target := factory()
			_ = target.Load(bytes.NewReader(snapshot))
			_ = target.Close()
		}
	})
}

// Benchmark for mixed Get and Update operations
func benchmarkMixedUsage(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureUpdate)
	requireFeature(b, database, db.FeatureGet)

	numKeys := 10_000
	fill(b, database, numKeys)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			key := uint64(r.Intn(numKeys) + 1)
			switch r.Intn(10) {
			case 0, 1:
				_ = database.Update(func(batch db.Batch) error {
					batch.Set(key, 1, []byte("updated"))
					return nil
				})
			case 2:
				_ = database.Update(func(batch db.Batch) error {
					batch.Delete(key)
					return nil
				})
			default:
				_, _, _ = database.Get(key)
			}
		}
	})
}
