package badger

import (
	"errors"
	"sync"
	"time"

	bdb "github.com/dgraph-io/badger/v4"
)

// gcRunner runs periodic value log garbage collection on a BadgerDB instance.
type gcRunner struct {
	db       *bdb.DB
	interval time.Duration
	ratio    float64
	stopCh   chan struct{}
	doneCh   chan struct{}
	once     sync.Once
}

func newGCRunner(db *bdb.DB, interval time.Duration, ratio float64) *gcRunner {
	if ratio <= 0 || ratio >= 1 {
		ratio = 0.5
	}
	return &gcRunner{
		db:       db,
		interval: interval,
		ratio:    ratio,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (r *gcRunner) start() {
	go r.run()
}

// stop signals the GC goroutine and waits for it. Safe to call multiple times.
func (r *gcRunner) stop() {
	r.once.Do(func() {
		close(r.stopCh)
	})
	<-r.doneCh
}

func (r *gcRunner) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.runGC()
		}
	}
}

func (r *gcRunner) runGC() {
	// rewrite as many log files as qualify, ErrNoRewrite ends the round
	for {
		err := r.db.RunValueLogGC(r.ratio)
		if err == nil {
			log.Debugf("value log GC rewrote a file")
			continue
		}
		if !errors.Is(err, bdb.ErrNoRewrite) && !errors.Is(err, bdb.ErrRejected) {
			log.Warningf("value log GC error: %v", err)
		}
		return
	}
}
