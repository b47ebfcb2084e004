package badger

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ValentinKolb/dRec/lib/db"
	"github.com/ValentinKolb/dRec/lib/db/util"
	bdb "github.com/dgraph-io/badger/v4"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("badger")

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	prefixRow   byte = 'r' // r<key>        -> <tag><value>
	prefixIndex byte = 'i' // i<tag><key>   -> (empty)

	tagSize = 4
)

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// Config holds configuration for a BadgerDB backed row store.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// NumVersionsToKeep is the number of versions to keep per key.
	NumVersionsToKeep int

	// GCInterval is how often to run value log garbage collection (0 = disabled).
	GCInterval time.Duration

	// GCDiscardRatio is the minimum ratio of discardable data before GC.
	GCDiscardRatio float64
}

// DefaultConfig returns the defaults for a persistent database at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:              path,
		SyncWrites:        true,
		NumVersionsToKeep: 1,
		GCInterval:        5 * time.Minute,
		GCDiscardRatio:    0.5,
	}
}

// InMemoryConfig returns a configuration without any disk I/O.
func InMemoryConfig() Config {
	return Config{
		InMemory:          true,
		NumVersionsToKeep: 1,
	}
}

// --------------------------------------------------------------------------
// Core structure
// --------------------------------------------------------------------------

// badgerImpl implements db.KVDB on top of BadgerDB.
// Rows and index entries live in the same keyspace under different prefixes,
// both are updated in the same transaction.
type badgerImpl struct {
	db       *bdb.DB
	gc       *gcRunner
	inMemory bool

	// serializes writers, badger would otherwise reject concurrent
	// batches touching the same keys with ErrConflict
	writeMu sync.Mutex
}

// NewBadgerDB opens (or creates) a BadgerDB backed row store.
func NewBadgerDB(cfg Config) (db.KVDB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts bdb.Options
	if cfg.InMemory {
		opts = bdb.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = bdb.DefaultOptions(cfg.Path)
	}

	if cfg.NumVersionsToKeep <= 0 {
		cfg.NumVersionsToKeep = 1
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(cfg.NumVersionsToKeep)
	opts = opts.WithLogger(log)

	bdbInstance, err := bdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	impl := &badgerImpl{
		db:       bdbInstance,
		inMemory: cfg.InMemory,
	}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		impl.gc = newGCRunner(bdbInstance, cfg.GCInterval, cfg.GCDiscardRatio)
		impl.gc.start()
	}

	return impl, nil
}

// --------------------------------------------------------------------------
// Key Helper Functions
// --------------------------------------------------------------------------

func rowKey(key uint64) []byte {
	return util.AppendKey([]byte{prefixRow}, key)
}

func indexPrefix(tag uint32) []byte {
	return util.AppendTag([]byte{prefixIndex}, tag)
}

func indexKey(tag uint32, key uint64) []byte {
	return util.AppendKey(indexPrefix(tag), key)
}

// keyFromIndex extracts the row key from an index entry key
func keyFromIndex(k []byte) uint64 {
	return binary.BigEndian.Uint64(k[len(k)-8:])
}

// keyFromRow extracts the row key from a row key
func keyFromRow(k []byte) uint64 {
	return binary.BigEndian.Uint64(k[1:])
}

func encodeValue(tag uint32, value []byte) []byte {
	buf := make([]byte, tagSize, tagSize+len(value))
	binary.BigEndian.PutUint32(buf, tag)
	return append(buf, value...)
}

func decodeValue(raw []byte) (uint32, []byte, error) {
	if len(raw) < tagSize {
		return 0, nil, fmt.Errorf("badger: corrupt row (%d bytes)", len(raw))
	}
	return binary.BigEndian.Uint32(raw[:tagSize]), raw[tagSize:], nil
}

// readRow loads the stored row for key inside txn.
func readRow(txn *bdb.Txn, key uint64) (tag uint32, value []byte, loaded bool, err error) {
	item, err := txn.Get(rowKey(key))
	if errors.Is(err, bdb.ErrKeyNotFound) {
		return 0, nil, false, nil
	}
	if err != nil {
		return 0, nil, false, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return 0, nil, false, err
	}
	tag, value, err = decodeValue(raw)
	return tag, value, err == nil, err
}

// --------------------------------------------------------------------------
// Batch
// --------------------------------------------------------------------------

type op struct {
	del   bool
	key   uint64
	tag   uint32
	value []byte
}

type batch struct {
	ops []op
}

func (b *batch) Set(key uint64, tag uint32, value []byte) {
	b.ops = append(b.ops, op{key: key, tag: tag, value: encodeValue(tag, value)})
}

func (b *batch) Delete(key uint64) {
	b.ops = append(b.ops, op{del: true, key: key})
}

// --------------------------------------------------------------------------
// KVDB Interface Methods - Write Operations
// --------------------------------------------------------------------------

// Update applies all writes of fn in a single badger transaction.
//
// Thread-safety: This method is thread-safe. Batches are applied one after another.
func (b *badgerImpl) Update(fn func(db.Batch) error) error {
	collected := &batch{}
	if err := fn(collected); err != nil {
		return err
	}
	if len(collected.ops) == 0 {
		return nil
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	return b.db.Update(func(txn *bdb.Txn) error {
		for _, o := range collected.ops {
			// pending writes of this transaction are visible to the read
			oldTag, _, loaded, err := readRow(txn, o.key)
			if err != nil {
				return err
			}

			if o.del {
				if !loaded {
					continue
				}
				if err := txn.Delete(rowKey(o.key)); err != nil {
					return err
				}
				if err := txn.Delete(indexKey(oldTag, o.key)); err != nil {
					return err
				}
				continue
			}

			if loaded && oldTag != o.tag {
				if err := txn.Delete(indexKey(oldTag, o.key)); err != nil {
					return err
				}
			}
			if err := txn.Set(rowKey(o.key), o.value); err != nil {
				return err
			}
			if err := txn.Set(indexKey(o.tag, o.key), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// --------------------------------------------------------------------------
// KVDB Interface Methods - Read Operations
// --------------------------------------------------------------------------

// Get retrieves a row by key.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (b *badgerImpl) Get(key uint64) (value []byte, loaded bool, err error) {
	err = b.db.View(func(txn *bdb.Txn) error {
		_, value, loaded, err = readRow(txn, key)
		return err
	})
	return value, loaded, err
}

// GetMany retrieves several rows from the same read snapshot.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (b *badgerImpl) GetMany(keys []uint64) ([][]byte, error) {
	values := make([][]byte, len(keys))
	err := b.db.View(func(txn *bdb.Txn) error {
		for i, key := range keys {
			_, value, loaded, err := readRow(txn, key)
			if err != nil {
				return err
			}
			if loaded {
				values[i] = value
			}
		}
		return nil
	})
	return values, err
}

// Has checks if a key exists.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (b *badgerImpl) Has(key uint64) (loaded bool, err error) {
	err = b.db.View(func(txn *bdb.Txn) error {
		_, err := txn.Get(rowKey(key))
		if errors.Is(err, bdb.ErrKeyNotFound) {
			return nil
		}
		loaded = err == nil
		return err
	})
	return loaded, err
}

// Scan visits all rows with the given tag (or all rows) in key order.
// All rows are read from one snapshot.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (b *badgerImpl) Scan(tag uint32, fn func(key uint64, value []byte) bool) error {
	return b.db.View(func(txn *bdb.Txn) error {
		if tag == db.AllTags {
			return scanRows(txn, fn)
		}
		return scanIndex(txn, tag, fn)
	})
}

func scanRows(txn *bdb.Txn, fn func(uint64, []byte) bool) error {
	prefix := []byte{prefixRow}
	opts := bdb.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		_, value, err := decodeValue(raw)
		if err != nil {
			return err
		}
		if !fn(keyFromRow(item.Key()), value) {
			return nil
		}
	}
	return nil
}

func scanIndex(txn *bdb.Txn, tag uint32, fn func(uint64, []byte) bool) error {
	prefix := indexPrefix(tag)
	opts := bdb.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		key := keyFromIndex(it.Item().Key())
		_, value, loaded, err := readRow(txn, key)
		if err != nil {
			return err
		}
		if !loaded {
			log.Warningf("index entry for tag %d points to missing row %d", tag, key)
			continue
		}
		if !fn(key, value) {
			return nil
		}
	}
	return nil
}

// Count returns the number of stored rows.
func (b *badgerImpl) Count() (n int, err error) {
	err = b.db.View(func(txn *bdb.Txn) error {
		prefix := []byte{prefixRow}
		opts := bdb.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// --------------------------------------------------------------------------
// KVDB Interface Implementation - Persistence
// --------------------------------------------------------------------------

// Save writes a full backup of the database to w.
func (b *badgerImpl) Save(w io.Writer) error {
	_, err := b.db.Backup(w, 0)
	return err
}

// Load replaces the content of the database with a backup written by Save.
func (b *badgerImpl) Load(r io.Reader) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	if err := b.db.DropAll(); err != nil {
		return fmt.Errorf("drop before load: %w", err)
	}
	return b.db.Load(r, 256)
}

// --------------------------------------------------------------------------
// KVDB Interface Implementation - Features and Metadata
// --------------------------------------------------------------------------

// GetInfo returns statistics about the database
func (b *badgerImpl) GetInfo() db.DatabaseInfo {
	lsm, vlog := b.db.Size()
	rows, err := b.Count()
	if err != nil {
		log.Warningf("count rows: %v", err)
	}

	meta := &struct {
		LSMBytes  int64  `json:"lsm_bytes"`
		VlogBytes int64  `json:"vlog_bytes"`
		InMemory  bool   `json:"in_memory"`
		Info      string `json:"info"`
	}{
		LSMBytes:  lsm,
		VlogBytes: vlog,
		InMemory:  b.inMemory,
		Info:      "Sizes are reported by badger and lag behind recent writes.",
	}

	supportedFeatures := []db.Feature{
		db.FeatureGet, db.FeatureUpdate, db.FeatureScan,
		db.FeatureSave, db.FeatureLoad,
	}
	if !b.inMemory {
		supportedFeatures = append(supportedFeatures, db.FeaturePersistent)
	}

	return db.DatabaseInfo{
		SizeBytes:         int(lsm + vlog),
		Rows:              rows,
		DbType:            db.ImplBadger,
		SupportedFeatures: supportedFeatures,
		Metadata:          meta,
	}
}

// SupportsFeature checks if the database supports a specific feature
func (b *badgerImpl) SupportsFeature(feature db.Feature) bool {
	supportedFeatures := db.FeatureGet | db.FeatureUpdate | db.FeatureScan | db.FeatureSave | db.FeatureLoad
	if !b.inMemory {
		supportedFeatures |= db.FeaturePersistent
	}
	return feature&supportedFeatures == feature
}

// Close stops the value log GC and closes the database.
func (b *badgerImpl) Close() error {
	if b.gc != nil {
		b.gc.stop()
	}
	return b.db.Close()
}
