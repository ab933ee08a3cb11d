package indexer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/synvo-ai/Local-Cocoa/pkg/config"
	"github.com/synvo-ai/Local-Cocoa/pkg/store"
)

// Scheduler pulls pending files from the store and runs them through
// the processors with bounded concurrency. Fast work always drains
// before deep work, oldest files first. Failed files are retried up
// to MaxAttempts consecutive failures, then left at the failed stage
// until something external resets them.
type Scheduler struct {
	store *store.Store
	fast  *FastProcessor
	deep  *DeepProcessor
	state *StateManager
	cfg   config.IndexerConfig
	log   *slog.Logger

	sem *semaphore.Weighted

	mu       sync.Mutex
	inflight map[string]struct{}
	attempts map[attemptKey]int
	paused   bool

	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

type attemptKey struct {
	fileID string
	round  string
}

// NewScheduler builds a stopped scheduler.
func NewScheduler(st *store.Store, fast *FastProcessor, deep *DeepProcessor, state *StateManager, cfg config.IndexerConfig, log *slog.Logger) *Scheduler {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	return &Scheduler{
		store:    st,
		fast:     fast,
		deep:     deep,
		state:    state,
		cfg:      cfg,
		log:      log,
		sem:      semaphore.NewWeighted(int64(workers)),
		inflight: make(map[string]struct{}),
		attempts: make(map[attemptKey]int),
		wake:     make(chan struct{}, 1),
	}
}

// Start launches the scheduling loop. Calling Start twice is an
// error in the caller; the second loop would race the first.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx)
}

// Stop cancels the loop and waits for in-flight work to finish.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

// Pause stops dispatching new files. Files already in flight run to
// completion before the paused status is reported.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

// Resume re-enables dispatch and wakes the loop.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	s.Kick()
}

// Kick wakes the loop early, for watcher events.
func (s *Scheduler) Kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	poll := time.Duration(s.cfg.PollIntervalMs) * time.Millisecond
	if poll <= 0 {
		poll = time.Second
	}

	for {
		if ctx.Err() != nil {
			s.waitIdle(ctx)
			return
		}

		s.mu.Lock()
		paused := s.paused
		busy := len(s.inflight) > 0
		s.mu.Unlock()

		dispatched := 0
		if paused {
			if !busy {
				s.state.SetStatus(StatusPaused, "Indexing paused")
			}
		} else {
			dispatched = s.dispatch(ctx)
			if dispatched > 0 {
				s.state.SetStatus(StatusRunning, "")
			} else if !busy {
				s.state.SetStatus(StatusIdle, "")
			}
		}

		if dispatched > 0 {
			continue
		}
		select {
		case <-ctx.Done():
		case <-s.wake:
		case <-time.After(poll):
		}
	}
}

// dispatch claims as many pending files as worker slots allow and
// returns how many it started.
func (s *Scheduler) dispatch(ctx context.Context) int {
	batch := s.cfg.Workers * 2
	if batch < 4 {
		batch = 4
	}

	started := 0
	fastFiles, err := s.store.PendingFastFiles(batch)
	if err != nil {
		s.log.Error("could not list pending fast files", "error", err)
		return 0
	}
	for _, rec := range fastFiles {
		if s.launch(ctx, rec.ID, store.VersionFast) {
			started++
		}
	}
	if started > 0 {
		// Let the fast queue drain before touching deep work.
		return started
	}

	deepFiles, err := s.store.PendingDeepFiles(batch)
	if err != nil {
		s.log.Error("could not list pending deep files", "error", err)
		return 0
	}
	for _, rec := range deepFiles {
		if s.launch(ctx, rec.ID, store.VersionDeep) {
			started++
		}
	}
	return started
}

// launch claims one file for one round. Returns false when the file
// is already in flight or no worker slot is free.
func (s *Scheduler) launch(ctx context.Context, fileID, round string) bool {
	s.mu.Lock()
	if _, busy := s.inflight[fileID]; busy {
		s.mu.Unlock()
		return false
	}
	s.inflight[fileID] = struct{}{}
	s.mu.Unlock()

	if !s.sem.TryAcquire(1) {
		s.mu.Lock()
		delete(s.inflight, fileID)
		s.mu.Unlock()
		return false
	}

	go func() {
		defer s.sem.Release(1)
		defer func() {
			s.mu.Lock()
			delete(s.inflight, fileID)
			s.mu.Unlock()
			s.Kick()
		}()

		var err error
		if round == store.VersionFast {
			err = s.fast.Process(ctx, fileID)
		} else {
			err = s.deep.Process(ctx, fileID)
		}
		s.settle(fileID, round, err)
	}()
	return true
}

// settle updates retry bookkeeping after a processing attempt. A
// failed file is reset to pending while attempts remain; once the
// cap is hit it stays failed.
func (s *Scheduler) settle(fileID, round string, procErr error) {
	key := attemptKey{fileID: fileID, round: round}

	if procErr == nil {
		s.mu.Lock()
		delete(s.attempts, key)
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	s.attempts[key]++
	n := s.attempts[key]
	s.mu.Unlock()

	if n >= s.cfg.MaxAttempts {
		s.log.Error("giving up on file", "file_id", fileID, "round", round, "attempts", n, "error", procErr)
		s.state.SetError(procErr.Error())
		return
	}

	s.log.Warn("retrying file", "file_id", fileID, "round", round, "attempt", n, "error", procErr)
	pending := store.StagePending
	upd := store.StageUpdate{}
	if round == store.VersionFast {
		upd.FastStage = &pending
	} else {
		upd.DeepStage = &pending
	}
	if err := s.store.UpdateFileStage(fileID, upd); err != nil {
		s.log.Error("could not reset stage for retry", "file_id", fileID, "error", err)
	}
}

// waitIdle blocks until all in-flight work drains.
func (s *Scheduler) waitIdle(ctx context.Context) {
	workers := s.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	// Acquiring every slot proves nothing is running. Use a fresh
	// context so shutdown still waits for workers to return.
	_ = s.sem.Acquire(context.WithoutCancel(ctx), int64(workers))
}
