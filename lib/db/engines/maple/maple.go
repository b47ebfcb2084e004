package maple

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/dRec/lib/db"
	"github.com/ValentinKolb/dRec/lib/db/engines/maple/internal"
	"github.com/ValentinKolb/dRec/lib/db/util"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

// Constants for database behavior and structure
const (
	magicNum     = "MAPLEDB\x00" // File format identifier
	mapleVersion = 4             // Database version
)

// --------------------------------------------------------------------------
// Core Maple database structure
// --------------------------------------------------------------------------

// mapleImpl implements an in-memory row store with sharded data and a tag index
type mapleImpl struct {
	numShards int               // Number of shards
	seed      uint64            // Seed for hash function
	shards    []*internal.Shard // Array of shards
	index     *internal.TagIndex
	currIndex atomic.Uint64 // Write index, increased once per applied batch

	// batches are applied under the write lock, point reads take the read lock
	// so that a batch is never observed half applied
	mu     sync.RWMutex
	closed atomic.Bool
}

// DBOptions configures the mapleImpl behavior during initialization
type DBOptions struct {
	NumShards int // Number of shards (0 = auto)
}

// DefaultOptions returns the default mapleImpl options
func DefaultOptions() *DBOptions {
	return &DBOptions{
		NumShards: runtime.NumCPU(), // Auto-determine based on CPU count
	}
}

// --------------------------------------------------------------------------
// Initialization and Setup
// --------------------------------------------------------------------------

// NewMapleDB creates a new MapleDB instance with the specified options (optional)
//
// Thread-safety: This function is not thread-safe and should only be called once
// during initialization.
func NewMapleDB(opts *DBOptions) db.KVDB {

	// Generate default options if not provided
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.NumShards <= 0 {
		opts.NumShards = runtime.NumCPU()
	}

	newDB := &mapleImpl{
		numShards: opts.NumShards,
		seed:      util.GenerateSeed(),
	}
	newDB.reset()

	return newDB
}

// reset replaces all shards and the index with empty ones
func (maple *mapleImpl) reset() {
	hasher := createMixingHasher()
	shards := make([]*internal.Shard, maple.numShards)
	for i := 0; i < maple.numShards; i++ {
		shards[i] = internal.NewShard(hasher)
	}
	maple.shards = shards
	maple.index = internal.NewTagIndex()
	maple.currIndex.Store(0)
}

// --------------------------------------------------------------------------
// Hash Helper Functions
// --------------------------------------------------------------------------

// shardFor returns the shard responsible for key
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) shardFor(key uint64) *internal.Shard {
	return internal.GetShard(util.MixUint64(key, maple.seed), maple.shards)
}

// createMixingHasher creates a hash function that mixes a key with a seed
func createMixingHasher() func(uint64, uint64) uint64 {
	return func(key uint64, mapSeed uint64) uint64 {
		return util.MixUint64(key, mapSeed)
	}
}

// --------------------------------------------------------------------------
// Core KVDB Interface Methods - Write Operations
// --------------------------------------------------------------------------

// Update collects the writes of fn and applies them in one step.
// If fn returns an error, no write is applied.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
// Batches are applied one after another.
func (maple *mapleImpl) Update(fn func(b db.Batch) error) error {
	if maple.closed.Load() {
		return fmt.Errorf("maple: database closed")
	}

	batch := &internal.Batch{}
	if err := fn(batch); err != nil {
		return err
	}
	if len(batch.Ops) == 0 {
		return nil
	}

	maple.mu.Lock()
	defer maple.mu.Unlock()

	writeIndex := maple.currIndex.Add(1)
	for _, op := range batch.Ops {
		maple.apply(op, writeIndex)
	}
	return nil
}

// apply executes a single buffered write and keeps the tag index in sync
//
// Thread-safety: must be called with the write lock held.
func (maple *mapleImpl) apply(op internal.Op, writeIndex uint64) {
	shard := maple.shardFor(op.Key)
	switch op.Type {
	case internal.OpTSet:
		old, loaded := shard.Data.Load(op.Key)
		if loaded && old.Tag != op.Tag {
			maple.index.Remove(old.Tag, op.Key)
		}
		shard.Data.Store(op.Key, internal.Entry{Value: op.Value, Tag: op.Tag, Index: writeIndex})
		maple.index.Add(op.Tag, op.Key)
	case internal.OpTDelete:
		if old, loaded := shard.Data.LoadAndDelete(op.Key); loaded {
			maple.index.Remove(old.Tag, op.Key)
		}
	}
}

// --------------------------------------------------------------------------
// Core KVDB Interface Methods - Read Operations
// --------------------------------------------------------------------------

// Get retrieves a row by key.
// The returned slice is a copy of the stored value.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Get(key uint64) ([]byte, bool, error) {
	maple.mu.RLock()
	defer maple.mu.RUnlock()
	value, ok := maple.get(key)
	return value, ok, nil
}

// get reads a row without taking the lock
func (maple *mapleImpl) get(key uint64) ([]byte, bool) {
	e, ok := maple.shardFor(key).Data.Load(key)
	if !ok {
		return nil, false
	}
	// Copy value to prevent memory corruption
	valueCopy := make([]byte, len(e.Value))
	copy(valueCopy, e.Value)
	return valueCopy, true
}

// GetMany retrieves several rows at once, all read from the same batch state.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) GetMany(keys []uint64) ([][]byte, error) {
	maple.mu.RLock()
	defer maple.mu.RUnlock()
	values := make([][]byte, len(keys))
	for i, key := range keys {
		values[i], _ = maple.get(key)
	}
	return values, nil
}

// Has checks if a key exists.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Has(key uint64) (bool, error) {
	maple.mu.RLock()
	defer maple.mu.RUnlock()
	_, ok := maple.shardFor(key).Data.Load(key)
	return ok, nil
}

// Scan visits all rows with the given tag (or all rows for db.AllTags) in key order.
// The set of keys is taken up front, fn is called without any lock held so it may
// call back into the database.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Scan(tag uint32, fn func(key uint64, value []byte) bool) error {
	var keys []uint64

	maple.mu.RLock()
	if tag == db.AllTags {
		for _, shard := range maple.shards {
			shard.Data.Range(func(key uint64, _ internal.Entry) bool {
				keys = append(keys, key)
				return true
			})
		}
	} else {
		keys = maple.index.Keys(tag)
	}
	maple.mu.RUnlock()

	slices.Sort(keys)

	for _, key := range keys {
		value, ok, _ := maple.Get(key)
		if !ok {
			// deleted after the key set was taken
			continue
		}
		if !fn(key, value) {
			break
		}
	}
	return nil
}

// Count returns the number of stored rows.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Count() (int, error) {
	maple.mu.RLock()
	defer maple.mu.RUnlock()
	n := 0
	for _, shard := range maple.shards {
		n += shard.Data.Size()
	}
	return n, nil
}

// --------------------------------------------------------------------------
// KVDB Interface Implementation - Persistence
// --------------------------------------------------------------------------

// Save persists the database to the writer.
// It holds the read lock while collecting entries, so the snapshot contains
// complete batches only. Writing to w happens without any lock held.
//
// Thread-safety: This method is thread-safe and can be called concurrently
// except Load.
func (maple *mapleImpl) Save(w io.Writer) error {

	bw := bufio.NewWriterSize(w, 1024*1024) // 1 MB buffer

	type EntryToSave struct {
		key   uint64
		entry internal.Entry
	}

	var dataEntries []EntryToSave

	maple.mu.RLock()
	writeIndex := maple.currIndex.Load()
	for _, shard := range maple.shards {
		shard.Data.Range(func(key uint64, entry internal.Entry) bool {
			// values are never mutated in place, sharing the slice is safe
			dataEntries = append(dataEntries, EntryToSave{key, entry})
			return true
		})
	}
	maple.mu.RUnlock()

	// Write file header
	if _, err := bw.WriteString(magicNum); err != nil {
		return err
	}

	// Write maple version
	if err := binary.Write(bw, binary.LittleEndian, uint8(mapleVersion)); err != nil {
		return err
	}

	// Write seed
	if err := binary.Write(bw, binary.LittleEndian, maple.seed); err != nil {
		return err
	}

	// Write write index
	if err := binary.Write(bw, binary.LittleEndian, writeIndex); err != nil {
		return err
	}

	// Write total data entries count
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(dataEntries))); err != nil {
		return err
	}

	// Write data entries
	for _, item := range dataEntries {

		// Write key
		if err := binary.Write(bw, binary.LittleEndian, item.key); err != nil {
			return err
		}

		// Write tag
		if err := binary.Write(bw, binary.LittleEndian, item.entry.Tag); err != nil {
			return err
		}

		// Write created index
		if err := binary.Write(bw, binary.LittleEndian, item.entry.Index); err != nil {
			return err
		}

		// Write value length
		valueLen := uint32(len(item.entry.Value))
		if err := binary.Write(bw, binary.LittleEndian, valueLen); err != nil {
			return err
		}

		// Write value bytes
		if _, err := bw.Write(item.entry.Value); err != nil {
			return err
		}
	}

	// Flush buffer to ensure all data is written
	return bw.Flush()
}

// Load restores a database from the reader, replacing the current content.
//
// Thread-safety: This function blocks all other operations while loading.
func (maple *mapleImpl) Load(r io.Reader) error {

	maple.mu.Lock()
	defer maple.mu.Unlock()

	// Use a buffered reader for better performance
	br := bufio.NewReaderSize(r, 1024*1024) // 1 MB buffer

	// Read and verify magic number
	magicBytes := make([]byte, len(magicNum))
	if _, err := io.ReadFull(br, magicBytes); err != nil {
		return err
	}

	if string(magicBytes) != magicNum {
		return fmt.Errorf("invalid file format: magic number mismatch")
	}

	// Read and verify version
	var version uint8
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return err
	}

	if int(version) != mapleVersion {
		return fmt.Errorf("unsupported version: %d (expected %d)", version, mapleVersion)
	}

	// Read seed
	var seed uint64
	if err := binary.Read(br, binary.LittleEndian, &seed); err != nil {
		return err
	}

	// Read write index
	var writeIndex uint64
	if err := binary.Read(br, binary.LittleEndian, &writeIndex); err != nil {
		return err
	}

	// Recreate empty shards with the loaded seed
	maple.seed = seed
	maple.reset()

	// Read data entries count
	var dataCount uint64
	if err := binary.Read(br, binary.LittleEndian, &dataCount); err != nil {
		return err
	}

	// Read data entries
	for i := uint64(0); i < dataCount; i++ {
		// Read key
		var key uint64
		if err := binary.Read(br, binary.LittleEndian, &key); err != nil {
			return err
		}

		// Read tag
		var tag uint32
		if err := binary.Read(br, binary.LittleEndian, &tag); err != nil {
			return err
		}

		// Read created index
		var createdIndex uint64
		if err := binary.Read(br, binary.LittleEndian, &createdIndex); err != nil {
			return err
		}

		// Read value length
		var valueLen uint32
		if err := binary.Read(br, binary.LittleEndian, &valueLen); err != nil {
			return err
		}

		// Read value bytes
		value := make([]byte, valueLen)
		if _, err := io.ReadFull(br, value); err != nil {
			return err
		}

		maple.shardFor(key).Data.Store(key, internal.Entry{
			Value: value,
			Tag:   tag,
			Index: createdIndex,
		})
		maple.index.Add(tag, key)
	}

	maple.currIndex.Store(writeIndex)

	return nil
}

// --------------------------------------------------------------------------
// KVDB Interface Implementation - Features and Metadata
// --------------------------------------------------------------------------

// GetInfo returns statistics about the database
func (maple *mapleImpl) GetInfo() db.DatabaseInfo {

	maple.mu.RLock()
	defer maple.mu.RUnlock()

	// row sizes are sampled, overall and per tag
	sizes := util.NewRowSizes()
	samplesPerShard := 100
	wg := sync.WaitGroup{}
	wg.Add(len(maple.shards))

	// more stats
	mu := sync.Mutex{}
	rows := 0
	shardSizes := make([]float64, len(maple.shards))

	// concurrently collect samples from all shards
	for shardIndex, shard := range maple.shards {
		go func(i int, s *internal.Shard) {
			defer wg.Done()
			count := 0
			s.Data.Range(func(_ uint64, entry internal.Entry) bool {
				sizes.Add(entry.Tag, len(entry.Value))

				// only sample a few entries per shard
				count++
				return count < samplesPerShard
			})

			// stats lock
			mu.Lock()
			defer mu.Unlock()

			size := s.Data.Size()
			rows += size
			shardSizes[i] = float64(size)
		}(shardIndex, shard)
	}

	// wait for all shards to finish
	wg.Wait()

	// calculate size
	entryOverhead := 20 // 8 bytes each for key and index, 4 for the tag
	sizeBytes := sizes.Estimate() + entryOverhead

	// Metadata for this specific database implementation
	meta := &struct {
		CurrentWriteIndex uint64                   `json:"current_write_index"`
		ShardCount        int                      `json:"shard_count"`
		ShardDistribution util.DistributionStats   `json:"shard_distribution"`
		RowsPerTag        map[uint32]int           `json:"rows_per_tag"`
		RowSizesPerTag    map[uint32]util.TagSizes `json:"row_sizes_per_tag"`
		Info              string                   `json:"info"`
	}{
		CurrentWriteIndex: maple.currIndex.Load(),
		ShardCount:        len(maple.shards),
		ShardDistribution: util.NewDistributionStats(shardSizes),
		RowsPerTag:        maple.index.Counts(),
		RowSizesPerTag:    sizes.PerTag(),
		Info:              "SizeBytes is an estimate and may vary depending on the database state.",
	}

	// features
	supportedFeatures := []db.Feature{
		db.FeatureGet, db.FeatureUpdate, db.FeatureScan,
		db.FeatureSave, db.FeatureLoad,
	}

	return db.DatabaseInfo{
		SizeBytes:         sizeBytes * rows,
		Rows:              rows,
		DbType:            db.ImplMaple,
		SupportedFeatures: supportedFeatures,
		Metadata:          meta,
	}
}

// SupportsFeature checks if the database supports a specific feature
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) SupportsFeature(feature db.Feature) bool {
	supportedFeatures := db.FeatureGet | db.FeatureUpdate | db.FeatureScan | db.FeatureSave | db.FeatureLoad
	return feature&supportedFeatures == feature
}

// Close marks the database as closed. Later updates fail, reads keep working
// until the database is garbage collected.
func (maple *mapleImpl) Close() error {
	maple.closed.Store(true)
	return nil
}
