package store

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ValentinKolb/dRec/lib/catalog"
	"github.com/ValentinKolb/dRec/lib/common"
	"github.com/ValentinKolb/dRec/lib/db"
	"github.com/ValentinKolb/dRec/lib/db/engines/badger"
	"github.com/ValentinKolb/dRec/lib/db/engines/maple"
)

// openTable opens the table engine of a database
func (h *Host) openTable(entry catalog.Entry) (db.KVDB, error) {
	switch entry.Engine {
	case common.EngineMaple:
		kv := maple.NewMapleDB(nil)
		if h.cfg.InMemory() {
			return kv, nil
		}
		return openSnapshot(kv, h.snapshotPath(entry))

	case common.EngineBadger:
		cfg := badger.DefaultConfig(h.badgerPath(entry))
		if h.cfg.InMemory() {
			cfg = badger.InMemoryConfig()
		}
		cfg.SyncWrites = h.cfg.SyncWrites
		return badger.NewBadgerDB(cfg)

	default:
		return nil, NewError(RetCUnsupportedOperation, fmt.Sprintf("database %q uses unknown engine %q", entry.Name, entry.Engine), nil)
	}
}

// removeTable deletes the files of a database
func (h *Host) removeTable(entry catalog.Entry) error {
	if h.cfg.InMemory() {
		return nil
	}
	return errors.Join(
		os.RemoveAll(h.badgerPath(entry)),
		removeIfExists(h.snapshotPath(entry)),
	)
}

func (h *Host) snapshotPath(entry catalog.Entry) string {
	return filepath.Join(h.cfg.DataDir, entry.Physical+".maple")
}

func (h *Host) badgerPath(entry catalog.Entry) string {
	return filepath.Join(h.cfg.DataDir, entry.Physical)
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// --------------------------------------------------------------------------
// Snapshot file for in-memory engines
// --------------------------------------------------------------------------

// snapshotTable keeps an in-memory table in a file: it is loaded when the
// database is opened and written when it is closed.
type snapshotTable struct {
	db.KVDB
	path string
}

func openSnapshot(kv db.KVDB, path string) (db.KVDB, error) {
	f, err := os.Open(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("open snapshot: %w", err)
	default:
		defer f.Close()
		if err := kv.Load(bufio.NewReader(f)); err != nil {
			return nil, fmt.Errorf("load snapshot %s: %w", path, err)
		}
		log.Debugf("loaded snapshot %s", path)
	}
	return &snapshotTable{KVDB: kv, path: path}, nil
}

func (s *snapshotTable) Close() error {
	saveErr := s.save()
	return errors.Join(saveErr, s.KVDB.Close())
}

// save writes the snapshot to a temporary file and moves it into place
func (s *snapshotTable) save() error {
	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}

	w := bufio.NewWriter(f)
	err = s.KVDB.Save(w)
	if err == nil {
		err = w.Flush()
	}
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write snapshot %s: %w", s.path, err)
	}
	return os.Rename(tmp, s.path)
}
