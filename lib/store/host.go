package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ValentinKolb/dRec/lib/catalog"
	"github.com/ValentinKolb/dRec/lib/codec"
	"github.com/ValentinKolb/dRec/lib/common"
	"github.com/ValentinKolb/dRec/lib/record"
)

// Host manages the databases of one data directory.
type Host struct {
	cfg     common.Config
	catalog *catalog.Catalog
	tempDir string // catalog directory of in-memory hosts, removed on Close
	ids     *record.Generator

	mu   sync.Mutex
	open map[string]*Database // by physical id
}

// NewHost opens the data directory described by cfg.
// A host without data directory keeps its catalog in a temporary directory and
// its databases in memory.
func NewHost(cfg common.Config) (*Host, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Codec == "" {
		cfg.Codec = "binary"
	}

	h := &Host{
		cfg:  cfg,
		ids:  record.NewGenerator(),
		open: make(map[string]*Database),
	}

	dir := cfg.DataDir
	if cfg.InMemory() {
		tmp, err := os.MkdirTemp("", "drec-")
		if err != nil {
			return nil, err
		}
		h.tempDir, dir = tmp, tmp
	} else if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create data directory %s: %w", dir, err)
	}

	c, err := catalog.Open(filepath.Join(dir, "catalog.db"))
	if err != nil {
		h.removeTemp()
		return nil, NewError(RetCStorageError, "open catalog", err)
	}
	h.catalog = c
	return h, nil
}

// Config returns the configuration of the host.
func (h *Host) Config() common.Config {
	return h.cfg
}

// Open opens the database called name, which is created if it does not exist.
// types declares the record types of the database. A database opened without
// types only supports raw access (Rows, EachEdge, Sweep).
func (h *Host) Open(ctx context.Context, name string, types ...TypeConfig) (*Database, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	reg, err := newRegistry(record.NewSchema(), types)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	entry, ok, err := h.catalog.Lookup(name)
	if err != nil {
		return nil, NewError(RetCStorageError, fmt.Sprintf("lookup database %q", name), err)
	}
	if !ok {
		if entry, err = h.catalog.Create(name, h.cfg.Engine, h.cfg.Codec); err != nil {
			return nil, NewError(RetCStorageError, fmt.Sprintf("create database %q", name), err)
		}
	}
	if _, open := h.open[entry.Physical]; open {
		return nil, fmt.Errorf("%w: %s", ErrDatabaseOpen, name)
	}

	rc, err := codec.ByName(entry.Codec)
	if err != nil {
		return nil, NewError(RetCUnsupportedOperation, fmt.Sprintf("open database %q", name), err)
	}
	kv, err := h.openTable(entry)
	if err != nil {
		var se *Error
		if errors.As(err, &se) {
			return nil, err
		}
		return nil, NewError(RetCStorageError, fmt.Sprintf("open table of %q", name), err)
	}

	d := newDatabase(h, entry, kv, rc, reg)
	if err := d.recoverMarks(); err != nil {
		_ = kv.Close()
		return nil, err
	}

	h.open[entry.Physical] = d
	log.Infof("opened database %q (%s, engine=%s, codec=%s, %d types)", name, entry.Physical, entry.Engine, entry.Codec, len(types))
	return d, nil
}

// release is called by Database.Close
func (h *Host) release(d *Database) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.open[d.physical] == d {
		delete(h.open, d.physical)
	}
}

// Delete removes the database called name with all its records.
// Open databases cannot be deleted.
func (h *Host) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	entry, ok, err := h.catalog.Lookup(name)
	if err != nil {
		return NewError(RetCStorageError, fmt.Sprintf("lookup database %q", name), err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrDatabaseNotFound, name)
	}
	if _, open := h.open[entry.Physical]; open {
		return fmt.Errorf("%w: %s", ErrDatabaseOpen, name)
	}

	if _, err := h.catalog.Remove(name); err != nil {
		return NewError(RetCStorageError, fmt.Sprintf("remove database %q", name), err)
	}
	if err := h.removeTable(entry); err != nil {
		log.Warningf("remove files of %q: %v", name, err)
	}
	log.Infof("deleted database %q (%s)", name, entry.Physical)
	return nil
}

// Rename renames the database from to to. The records are not touched, an open
// database stays usable under its new name.
func (h *Host) Rename(ctx context.Context, from, to string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.catalog.Rename(from, to); err != nil {
		switch {
		case errors.Is(err, catalog.ErrNotFound):
			return fmt.Errorf("%w: %s", ErrDatabaseNotFound, from)
		case errors.Is(err, catalog.ErrExists):
			return fmt.Errorf("%w: %s", ErrDatabaseExists, to)
		case errors.Is(err, catalog.ErrEmptyName):
			return err
		}
		return NewError(RetCStorageError, fmt.Sprintf("rename database %q", from), err)
	}

	for _, d := range h.open {
		if d.Name() == from {
			d.name.Store(&to)
		}
	}
	log.Infof("renamed database %q to %q", from, to)
	return nil
}

// Names returns the names of all databases in ascending order.
func (h *Host) Names(ctx context.Context) ([]string, error) {
	entries, err := h.Entries(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names, nil
}

// Entries returns the catalog entries of all databases ordered by name.
func (h *Host) Entries(ctx context.Context) ([]catalog.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := h.catalog.Entries()
	if err != nil {
		return nil, NewError(RetCStorageError, "list databases", err)
	}
	return entries, nil
}

// Close closes all open databases and the catalog.
func (h *Host) Close() error {
	h.mu.Lock()
	open := make([]*Database, 0, len(h.open))
	for _, d := range h.open {
		open = append(open, d)
	}
	h.mu.Unlock()

	var errs []error
	for _, d := range open {
		errs = append(errs, d.Close())
	}
	errs = append(errs, h.catalog.Close())
	h.removeTemp()
	return errors.Join(errs...)
}

func (h *Host) removeTemp() {
	if h.tempDir != "" {
		_ = os.RemoveAll(h.tempDir)
	}
}
