package catalog

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/boltdb/bolt"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("catalog")

var (
	mode         = 0600
	namesBucket  = []byte("names") // logical name -> json Entry
	marksBucket  = []byte("marks") // physical id -> bucket of marked record ids
	openTimeout  = 2 * time.Second
	ErrNotFound  = errors.New("database not found")
	ErrExists    = errors.New("database already exists")
	ErrEmptyName = errors.New("database name must not be empty")
)

// Entry describes one logical database.
type Entry struct {
	Name     string    `json:"name"`
	Physical string    `json:"physical"` // storage identifier, stable across renames
	Engine   string    `json:"engine"`
	Codec    string    `json:"codec"`
	Created  time.Time `json:"created"`
}

// Catalog maps logical database names to their physical storage and keeps the
// records scheduled for deletion of every database. It is backed by a single
// bolt file, which only one process can have open at a time.
type Catalog struct {
	db *bolt.DB
}

// Open opens the catalog at path, creating it if needed.
func Open(path string) (*Catalog, error) {
	db, err := bolt.Open(path, os.FileMode(mode), &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", path, err)
	}

	// Create buckets we need if they are not there.
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(namesBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(marksBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create catalog buckets: %w", err)
	}

	return &Catalog{db: db}, nil
}

// Close closes the catalog file.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// --------------------------------------------------------------------------
// Names
// --------------------------------------------------------------------------

// Lookup returns the entry of the database called name.
func (c *Catalog) Lookup(name string) (entry Entry, ok bool, err error) {
	err = c.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(namesBucket).Get([]byte(name))
		if raw == nil {
			return nil
		}
		ok = true
		return json.Unmarshal(raw, &entry)
	})
	return entry, ok, err
}

// Create registers a new database called name with a fresh physical id.
func (c *Catalog) Create(name, engine, codec string) (Entry, error) {
	if name == "" {
		return Entry{}, ErrEmptyName
	}
	entry := Entry{
		Name:     name,
		Physical: uuid.NewString(),
		Engine:   engine,
		Codec:    codec,
		Created:  time.Now().UTC(),
	}
	err := c.db.Update(func(tx *bolt.Tx) error {
		names := tx.Bucket(namesBucket)
		if names.Get([]byte(name)) != nil {
			return fmt.Errorf("%w: %s", ErrExists, name)
		}
		return putEntry(names, entry)
	})
	if err != nil {
		return Entry{}, err
	}
	log.Infof("created database %q (%s, engine=%s, codec=%s)", name, entry.Physical, engine, codec)
	return entry, nil
}

// Rename moves the database called from to the name to.
// The physical storage is not touched.
func (c *Catalog) Rename(from, to string) error {
	if to == "" {
		return ErrEmptyName
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		names := tx.Bucket(namesBucket)
		raw := names.Get([]byte(from))
		if raw == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, from)
		}
		if from == to {
			return nil
		}
		if names.Get([]byte(to)) != nil {
			return fmt.Errorf("%w: %s", ErrExists, to)
		}

		var entry Entry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return err
		}
		entry.Name = to
		if err := names.Delete([]byte(from)); err != nil {
			return err
		}
		return putEntry(names, entry)
	})
}

// Remove unregisters the database called name and drops its marked set.
// It returns the removed entry so the caller can delete the physical storage.
func (c *Catalog) Remove(name string) (entry Entry, err error) {
	err = c.db.Update(func(tx *bolt.Tx) error {
		names := tx.Bucket(namesBucket)
		raw := names.Get([]byte(name))
		if raw == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		if err := json.Unmarshal(raw, &entry); err != nil {
			return err
		}
		if err := names.Delete([]byte(name)); err != nil {
			return err
		}
		marks := tx.Bucket(marksBucket)
		if marks.Bucket([]byte(entry.Physical)) != nil {
			return marks.DeleteBucket([]byte(entry.Physical))
		}
		return nil
	})
	return entry, err
}

// Entries returns all databases ordered by name.
func (c *Catalog) Entries() ([]Entry, error) {
	var entries []Entry
	err := c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(namesBucket).ForEach(func(_, raw []byte) error {
			var entry Entry
			if err := json.Unmarshal(raw, &entry); err != nil {
				return err
			}
			entries = append(entries, entry)
			return nil
		})
	})
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})
	return entries, err
}

func putEntry(names *bolt.Bucket, entry Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return names.Put([]byte(entry.Name), raw)
}

// --------------------------------------------------------------------------
// Marked sets
// --------------------------------------------------------------------------

// MarkSet is the persisted set of record ids scheduled for deletion in one database.
type MarkSet struct {
	db       *bolt.DB
	physical []byte
}

// Marks returns the marked set of the database with the given physical id.
func (c *Catalog) Marks(physical string) *MarkSet {
	return &MarkSet{db: c.db, physical: []byte(physical)}
}

func idKey(id int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(id))
	return b[:]
}

// Add marks ids.
func (m *MarkSet) Add(ids ...int64) error {
	return m.Update(ids, nil)
}

// Remove unmarks ids. Unknown ids are ignored.
func (m *MarkSet) Remove(ids ...int64) error {
	return m.Update(nil, ids)
}

// Update marks add and unmarks remove in one transaction.
func (m *MarkSet) Update(add, remove []int64) error {
	if len(add) == 0 && len(remove) == 0 {
		return nil
	}
	return m.db.Update(func(tx *bolt.Tx) error {
		set, err := tx.Bucket(marksBucket).CreateBucketIfNotExists(m.physical)
		if err != nil {
			return err
		}
		for _, id := range add {
			if err := set.Put(idKey(id), []byte{}); err != nil {
				return err
			}
		}
		for _, id := range remove {
			if err := set.Delete(idKey(id)); err != nil {
				return err
			}
		}
		return nil
	})
}

// All returns all marked ids in ascending order.
func (m *MarkSet) All() ([]int64, error) {
	var ids []int64
	err := m.db.View(func(tx *bolt.Tx) error {
		set := tx.Bucket(marksBucket).Bucket(m.physical)
		if set == nil {
			return nil
		}
		return set.ForEach(func(k, _ []byte) error {
			ids = append(ids, int64(binary.BigEndian.Uint64(k)))
			return nil
		})
	})
	return ids, err
}
