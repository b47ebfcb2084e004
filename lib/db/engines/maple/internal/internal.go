package internal

import (
	"fmt"

	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Operation Types are used to describe the writes of a batch
// --------------------------------------------------------------------------

type OpType int

const (
	OpTSet OpType = iota
	OpTDelete
)

func (o OpType) String() string {
	switch o {
	case OpTSet:
		return "Set"
	case OpTDelete:
		return "Delete"
	default:
		return "Unknown"
	}
}

// Op is a single buffered write of a batch
type Op struct {
	Type  OpType
	Key   uint64
	Tag   uint32
	Value []byte
}

func (o Op) String() string {
	return fmt.Sprintf("Op{Type: %s, Key: %d, Tag: %d}", o.Type, o.Key, o.Tag)
}

// Batch buffers writes until the database applies them in one step
type Batch struct {
	Ops []Op
}

func (b *Batch) Set(key uint64, tag uint32, value []byte) {
	// copy value to prevent memory corruption
	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)
	b.Ops = append(b.Ops, Op{Type: OpTSet, Key: key, Tag: tag, Value: valueCopy})
}

func (b *Batch) Delete(key uint64) {
	b.Ops = append(b.Ops, Op{Type: OpTDelete, Key: key})
}

// --------------------------------------------------------------------------
// Entry Type (row with metadata)
// --------------------------------------------------------------------------

// Entry stores a row together with its tag
type Entry struct {
	Value []byte // Row data
	Tag   uint32 // Tag the row is indexed under
	Index uint64 // Write index of the batch that created/updated this entry
}

// --------------------------------------------------------------------------
// Shard Type (partition of the database)
// --------------------------------------------------------------------------

// Shard represents a partition of the database
type Shard struct {
	Data *xsync.MapOf[uint64, Entry] // Map of active rows
}

// NewShard creates a new shard with the provided hash function
func NewShard(hasher func(uint64, uint64) uint64) *Shard {
	return &Shard{
		Data: xsync.NewMapOfWithHasher[uint64, Entry](hasher),
	}
}

// GetShard returns the appropriate shard for a given (mixed) key
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func GetShard[T any](mixedKey uint64, shards []*T) *T {
	// Shift right by 7 bits to use higher-quality bits for distribution
	shiftedKey := mixedKey >> 7
	shardPos := shiftedKey % uint64(len(shards))
	return shards[shardPos]
}

// --------------------------------------------------------------------------
// Tag Index
// --------------------------------------------------------------------------

// TagIndex maps every tag to the set of keys stored under it
type TagIndex struct {
	tags *xsync.MapOf[uint32, *xsync.MapOf[uint64, struct{}]]
}

func NewTagIndex() *TagIndex {
	return &TagIndex{tags: xsync.NewMapOf[uint32, *xsync.MapOf[uint64, struct{}]]()}
}

// Add registers key under tag
func (idx *TagIndex) Add(tag uint32, key uint64) {
	keys, _ := idx.tags.LoadOrCompute(tag, func() *xsync.MapOf[uint64, struct{}] {
		return xsync.NewMapOf[uint64, struct{}]()
	})
	keys.Store(key, struct{}{})
}

// Remove unregisters key from tag
func (idx *TagIndex) Remove(tag uint32, key uint64) {
	if keys, ok := idx.tags.Load(tag); ok {
		keys.Delete(key)
	}
}

// Keys returns all keys currently registered under tag (unordered)
func (idx *TagIndex) Keys(tag uint32) []uint64 {
	keys, ok := idx.tags.Load(tag)
	if !ok {
		return nil
	}
	result := make([]uint64, 0, keys.Size())
	keys.Range(func(key uint64, _ struct{}) bool {
		result = append(result, key)
		return true
	})
	return result
}

// Counts returns the number of keys per tag
func (idx *TagIndex) Counts() map[uint32]int {
	result := make(map[uint32]int)
	idx.tags.Range(func(tag uint32, keys *xsync.MapOf[uint64, struct{}]) bool {
		if n := keys.Size(); n > 0 {
			result[tag] = n
		}
		return true
	})
	return result
}
