package testing

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/dRec/lib/db"
)

// DBFactory is a function that creates a new instance of a KVDB implementation
type DBFactory func() db.KVDB

// RunKVDBTests runs a comprehensive test suite for a KVDB implementation.
func RunKVDBTests(t *testing.T, name string, factory DBFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Set&Get", func(t *testing.T) {
			testSetGet(t, factory())
		})

		t.Run("GetMany", func(t *testing.T) {
			testGetMany(t, factory())
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory())
		})

		t.Run("Has", func(t *testing.T) {
			testHas(t, factory())
		})

		t.Run("BatchAtomicity", func(t *testing.T) {
			testBatchAtomicity(t, factory())
		})

		t.Run("ScanByTag", func(t *testing.T) {
			testScanByTag(t, factory())
		})

		t.Run("TagChange", func(t *testing.T) {
			testTagChange(t, factory())
		})

		t.Run("ScanEarlyStop", func(t *testing.T) {
			testScanEarlyStop(t, factory())
		})

		t.Run("SaveLoad", func(t *testing.T) {
			testSaveLoad(t, factory)
		})

		t.Run("EdgeCases", func(t *testing.T) {
			testEdgeCases(t, factory())
		})

		t.Run("RealisticUsage", func(t *testing.T) {
			testRealisticUsage(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Checks if the database supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, database db.KVDB, feature db.Feature) {
	if !database.SupportsFeature(feature) {
		t.Skip()
	}
}

// set writes a single row in its own batch
func set(t testing.TB, database db.KVDB, key uint64, tag uint32, value []byte) {
	t.Helper()
	err := database.Update(func(b db.Batch) error {
		b.Set(key, tag, value)
		return nil
	})
	if err != nil {
		t.Fatalf("Unexpected error during Update: %v", err)
	}
}

// del removes a single row in its own batch
func del(t testing.TB, database db.KVDB, key uint64) {
	t.Helper()
	err := database.Update(func(b db.Batch) error {
		b.Delete(key)
		return nil
	})
	if err != nil {
		t.Fatalf("Unexpected error during Update: %v", err)
	}
}

// get reads a single row and fails the test on storage errors
func get(t testing.TB, database db.KVDB, key uint64) ([]byte, bool) {
	t.Helper()
	value, exists, err := database.Get(key)
	if err != nil {
		t.Fatalf("Unexpected error during Get: %v", err)
	}
	return value, exists
}

// scanKeys collects the keys visited by Scan
func scanKeys(t testing.TB, database db.KVDB, tag uint32) []uint64 {
	t.Helper()
	var keys []uint64
	err := database.Scan(tag, func(key uint64, _ []byte) bool {
		keys = append(keys, key)
		return true
	})
	if err != nil {
		t.Fatalf("Unexpected error during Scan: %v", err)
	}
	return keys
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testSetGet(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureUpdate)
	requireFeature(t, database, db.FeatureGet)

	testKey := uint64(42)
	testValue1 := []byte("test-value1")
	testValue2 := []byte("test-value2")

	set(t, database, testKey, 1, testValue1)

	result, exists := get(t, database, testKey)
	if !exists {
		t.Errorf("Expected key %d to exist after Set", testKey)
	}

	if !bytes.Equal(result, testValue1) {
		t.Errorf("Expected value %s, got %s", testValue1, result)
	}

	set(t, database, testKey, 1, testValue2)

	result, exists = get(t, database, testKey)
	if !exists {
		t.Errorf("Expected key %d to exist after Set", testKey)
	}

	if !bytes.Equal(result, testValue2) {
		t.Errorf("Expected value %s, got %s", testValue2, result)
	}

	_, exists = get(t, database, 4711)
	if exists {
		t.Errorf("Expected nonexistent key to return exists=false")
	}

	retrievedValue, _ := get(t, database, testKey)
	retrievedValue[0] = 'X'

	result, _ = get(t, database, testKey)
	if !bytes.Equal(result, testValue2) {
		t.Errorf("Database value was modified through returned slice")
	}
}

func testGetMany(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureUpdate)
	requireFeature(t, database, db.FeatureGet)

	err := database.Update(func(b db.Batch) error {
		for i := uint64(1); i <= 10; i++ {
			b.Set(i, 1, []byte(fmt.Sprintf("value-%d", i)))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Unexpected error during Update: %v", err)
	}

	keys := []uint64{3, 100, 1, 10}
	values, err := database.GetMany(keys)
	if err != nil {
		t.Fatalf("Unexpected error during GetMany: %v", err)
	}

	if len(values) != len(keys) {
		t.Fatalf("Expected %d values, got %d", len(keys), len(values))
	}

	for i, key := range keys {
		if key == 100 {
			if values[i] != nil {
				t.Errorf("Expected nil value for missing key %d", key)
			}
			continue
		}
		expected := []byte(fmt.Sprintf("value-%d", key))
		if !bytes.Equal(values[i], expected) {
			t.Errorf("Expected value %s for key %d, got %s", expected, key, values[i])
		}
	}
}

func testDelete(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureUpdate)
	requireFeature(t, database, db.FeatureGet)

	testKey := uint64(7)
	set(t, database, testKey, 1, []byte("test-value"))

	_, exists := get(t, database, testKey)
	if !exists {
		t.Errorf("Expected key %d to exist after Set", testKey)
	}

	del(t, database, testKey)

	_, exists = get(t, database, testKey)
	if exists {
		t.Errorf("Expected key %d to not exist after Delete", testKey)
	}

	// deleting a missing key is a no-op
	del(t, database, 4711)

	if keys := scanKeys(t, database, 1); len(keys) != 0 {
		t.Errorf("Expected deleted key to be removed from the tag index, got %v", keys)
	}
}

func testHas(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureUpdate)
	requireFeature(t, database, db.FeatureGet)

	set(t, database, 1, 1, []byte("test-value"))

	if ok, err := database.Has(1); err != nil || !ok {
		t.Errorf("Expected Has to return true for existing key (err=%v)", err)
	}

	if ok, err := database.Has(2); err != nil || ok {
		t.Errorf("Expected Has to return false for missing key (err=%v)", err)
	}

	del(t, database, 1)

	if ok, _ := database.Has(1); ok {
		t.Errorf("Expected Has to return false after Delete")
	}
}

func testBatchAtomicity(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureUpdate)
	requireFeature(t, database, db.FeatureGet)

	set(t, database, 1, 1, []byte("keep"))

	// a failing batch must not leave any trace
	errAbort := errors.New("abort")
	err := database.Update(func(b db.Batch) error {
		b.Set(2, 1, []byte("never"))
		b.Delete(1)
		return errAbort
	})
	if !errors.Is(err, errAbort) {
		t.Errorf("Expected Update to return the callback error, got %v", err)
	}

	if _, exists := get(t, database, 2); exists {
		t.Errorf("Write of aborted batch became visible")
	}
	if _, exists := get(t, database, 1); !exists {
		t.Errorf("Delete of aborted batch became visible")
	}

	// operations of one batch are applied in order
	err = database.Update(func(b db.Batch) error {
		b.Set(3, 1, []byte("first"))
		b.Delete(3)
		b.Set(4, 1, []byte("first"))
		b.Set(4, 1, []byte("second"))
		return nil
	})
	if err != nil {
		t.Fatalf("Unexpected error during Update: %v", err)
	}

	if _, exists := get(t, database, 3); exists {
		t.Errorf("Expected key 3 to be deleted by the later operation")
	}
	if value, _ := get(t, database, 4); !bytes.Equal(value, []byte("second")) {
		t.Errorf("Expected last write to win, got %s", value)
	}

	// concurrent readers never see half of a batch
	const pairs = 200
	var stop atomic.Bool
	var torn atomic.Int32
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for !stop.Load() {
			values, err := database.GetMany([]uint64{1000, 1001})
			if err != nil {
				continue
			}
			if !bytes.Equal(values[0], values[1]) {
				torn.Add(1)
			}
		}
	}()

	for i := 0; i < pairs; i++ {
		value := []byte(fmt.Sprintf("gen-%d", i))
		_ = database.Update(func(b db.Batch) error {
			b.Set(1000, 2, value)
			b.Set(1001, 2, value)
			return nil
		})
	}
	stop.Store(true)
	wg.Wait()

	if n := torn.Load(); n > 0 {
		t.Errorf("Observed %d partially applied batches", n)
	}
}

func testScanByTag(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureUpdate)
	requireFeature(t, database, db.FeatureScan)

	err := database.Update(func(b db.Batch) error {
		// insert out of order, scans must return ascending keys
		for _, key := range []uint64{50, 10, 40, 20, 30} {
			b.Set(key, 1, []byte(fmt.Sprintf("a-%d", key)))
		}
		for _, key := range []uint64{15, 5} {
			b.Set(key, 2, []byte(fmt.Sprintf("b-%d", key)))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Unexpected error during Update: %v", err)
	}

	expected := []uint64{10, 20, 30, 40, 50}
	keys := scanKeys(t, database, 1)
	if fmt.Sprint(keys) != fmt.Sprint(expected) {
		t.Errorf("Expected keys %v for tag 1, got %v", expected, keys)
	}

	expected = []uint64{5, 15}
	keys = scanKeys(t, database, 2)
	if fmt.Sprint(keys) != fmt.Sprint(expected) {
		t.Errorf("Expected keys %v for tag 2, got %v", expected, keys)
	}

	if keys = scanKeys(t, database, 3); len(keys) != 0 {
		t.Errorf("Expected no keys for unused tag, got %v", keys)
	}

	expected = []uint64{5, 10, 15, 20, 30, 40, 50}
	keys = scanKeys(t, database, db.AllTags)
	if fmt.Sprint(keys) != fmt.Sprint(expected) {
		t.Errorf("Expected keys %v for all tags, got %v", expected, keys)
	}

	// values are passed along
	err = database.Scan(2, func(key uint64, value []byte) bool {
		if expected := []byte(fmt.Sprintf("b-%d", key)); !bytes.Equal(value, expected) {
			t.Errorf("Expected value %s for key %d, got %s", expected, key, value)
		}
		return true
	})
	if err != nil {
		t.Errorf("Unexpected error during Scan: %v", err)
	}

	if n, err := database.Count(); err != nil || n != 7 {
		t.Errorf("Expected 7 rows, got %d (err=%v)", n, err)
	}
}

func testTagChange(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureUpdate)
	requireFeature(t, database, db.FeatureScan)

	set(t, database, 1, 1, []byte("v1"))
	set(t, database, 1, 2, []byte("v2"))

	if keys := scanKeys(t, database, 1); len(keys) != 0 {
		t.Errorf("Expected key to leave tag 1, got %v", keys)
	}
	if keys := scanKeys(t, database, 2); len(keys) != 1 || keys[0] != 1 {
		t.Errorf("Expected key to be indexed under tag 2, got %v", keys)
	}
}

func testScanEarlyStop(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureUpdate)
	requireFeature(t, database, db.FeatureScan)

	err := database.Update(func(b db.Batch) error {
		for i := uint64(1); i <= 100; i++ {
			b.Set(i, 1, []byte("x"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Unexpected error during Update: %v", err)
	}

	visited := 0
	err = database.Scan(1, func(uint64, []byte) bool {
		visited++
		return visited < 10
	})
	if err != nil {
		t.Errorf("Unexpected error during Scan: %v", err)
	}
	if visited != 10 {
		t.Errorf("Expected scan to stop after 10 rows, visited %d", visited)
	}
}

func testSaveLoad(t *testing.T, factory DBFactory) {
	database := factory()
	database2 := factory()

	// close the databases after the test
	defer database.Close()
	defer database2.Close()

	requireFeature(t, database, db.FeatureUpdate)
	requireFeature(t, database, db.FeatureGet)
	requireFeature(t, database, db.FeatureSave)
	requireFeature(t, database, db.FeatureLoad)

	numEntries := 1000
	originalValues := make(map[uint64][]byte, numEntries)

	err := database.Update(func(b db.Batch) error {
		for i := 1; i <= numEntries; i++ {
			key := uint64(i)
			value := []byte(fmt.Sprintf("save-load-test-value-%d", i))
			originalValues[key] = value
			b.Set(key, uint32(i%3+1), value)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Unexpected error during Update: %v", err)
	}

	var buf bytes.Buffer
	err = database.Save(&buf)
	if err != nil {
		t.Errorf("Unexpected error during Save: %v", err)
	}

	err = database2.Load(&buf)
	if err != nil {
		t.Errorf("Unexpected error during Load: %v", err)
	}

	for key, expectedValue := range originalValues {
		actualValue, exists := get(t, database2, key)
		if !exists {
			t.Errorf("Key %d not found after Load", key)
			continue
		}

		if !bytes.Equal(actualValue, expectedValue) {
			t.Errorf("Value mismatch for key %d: expected %s, got %s", key, expectedValue, actualValue)
		}
	}

	// the tag index is restored as well
	if database2.SupportsFeature(db.FeatureScan) {
		total := 0
		for tag := uint32(1); tag <= 3; tag++ {
			total += len(scanKeys(t, database2, tag))
		}
		if total != numEntries {
			t.Errorf("Expected %d indexed rows after Load, got %d", numEntries, total)
		}
	}

	for key, expectedValue := range originalValues {
		actualValue, exists := get(t, database, key)
		if !exists {
			t.Errorf("Key %d not found in original database", key)
			continue
		}

		if !bytes.Equal(actualValue, expectedValue) {
			t.Errorf("Value mismatch in original database for key %d", key)
		}
	}
}

func testEdgeCases(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureUpdate)
	requireFeature(t, database, db.FeatureGet)

	// empty batches are fine
	if err := database.Update(func(db.Batch) error { return nil }); err != nil {
		t.Errorf("Unexpected error for empty batch: %v", err)
	}

	zeroKeyValue := []byte("value for zero key")
	set(t, database, 0, 1, zeroKeyValue)

	result, exists := get(t, database, 0)
	if !exists {
		t.Errorf("Zero key not found after Set")
	} else if !bytes.Equal(result, zeroKeyValue) {
		t.Errorf("Value mismatch for zero key")
	}

	set(t, database, 1, 1, nil)

	result, exists = get(t, database, 1)
	if !exists {
		t.Errorf("Key for nil value not found after Set")
	} else if len(result) != 0 {
		t.Errorf("Nil value resulted in non-empty value: %v", result)
	}

	maxKeyValue := []byte("value for max key")
	set(t, database, ^uint64(0), 1, maxKeyValue)

	result, exists = get(t, database, ^uint64(0))
	if !exists {
		t.Errorf("Max key not found after Set")
	} else if !bytes.Equal(result, maxKeyValue) {
		t.Errorf("Value mismatch for max key")
	}

	if !t.Failed() {
		largeValue := make([]byte, 4*1024*1024)

		for i := range largeValue {
			largeValue[i] = byte(i % 256)
		}

		set(t, database, 2, 1, largeValue)

		result, exists = get(t, database, 2)
		if !exists {
			t.Errorf("Key for large value not found after Set")
		} else if !bytes.Equal(result, largeValue) {
			t.Errorf("Large value mismatch: size %d (expected %d)", len(result), len(largeValue))
		}
	}
}

func testRealisticUsage(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureUpdate)
	requireFeature(t, database, db.FeatureGet)

	type operation struct {
		op    string
		key   uint64
		value []byte
	}

	numOperations := 10_000
	operations := make([]operation, numOperations)

	for i := 0; i < numOperations; i++ {
		var op string
		switch i % 10 {
		case 0, 1, 2, 3, 4, 5, 6:
			op = "set"
		case 7, 8:
			op = "get"
		case 9:
			op = "delete"
		}

		var key uint64
		if i%5 == 0 {
			key = uint64(i % 50)
		} else {
			key = uint64(1000 + i)
		}

		var value []byte
		if op == "set" {
			valueSize := 64
			if i%10 == 0 {
				valueSize = 1024
			}
			value = make([]byte, valueSize)

			for j := 0; j < valueSize; j++ {
				value[j] = byte((i + j) % 256)
			}
		}

		operations[i] = operation{op, key, value}
	}

	numWorkers := 8
	var wg sync.WaitGroup
	wg.Add(numWorkers)

	var errorCount int32

	opsPerWorker := numOperations / numWorkers

	for w := 0; w < numWorkers; w++ {
		go func(workerId int) {
			defer wg.Done()

			start := workerId * opsPerWorker
			end := start + opsPerWorker

			for i := start; i < end; i++ {
				op := operations[i]

				var err error
				switch op.op {
				case "set":
					err = database.Update(func(b db.Batch) error {
						b.Set(op.key, 1, op.value)
						return nil
					})
				case "get":
					_, _, err = database.Get(op.key)
				case "delete":
					err = database.Update(func(b db.Batch) error {
						b.Delete(op.key)
						return nil
					})
				}
				if err != nil {
					atomic.AddInt32(&errorCount, 1)
				}
			}
		}(w)
	}

	wg.Wait()

	if atomic.LoadInt32(&errorCount) > 0 {
		t.Fatalf("Test had %d errors during parallel operations", errorCount)
		return
	}

	// every key that is still present must be reachable through its tag
	if database.SupportsFeature(db.FeatureScan) {
		n, err := database.Count()
		if err != nil {
			t.Fatalf("Unexpected error during Count: %v", err)
		}
		if keys := scanKeys(t, database, 1); len(keys) != n {
			t.Errorf("Tag index out of sync: %d indexed keys, %d rows", len(keys), n)
		}
	}
}
