// Package historian drains the action queue into durable storage.
package historian

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/bingo/internal/cache"
)

// Queue yields action records. ok is false when nothing arrived within timeout.
type Queue interface {
	Pop(ctx context.Context, timeout time.Duration) (rec cache.GameActionRecord, ok bool, err error)
}

// Sink stores flushed batches and closes games that went quiet.
type Sink interface {
	InsertGameActions(ctx context.Context, batch []cache.GameActionRecord) error
	MarkGameAbandoned(ctx context.Context, runID uuid.UUID, gameID uint64) error
}

// DefaultInactivity is how long a game may go without actions before it is
// marked abandoned. It must exceed the join window, during which an open game
// legitimately stays quiet.
const DefaultInactivity = time.Hour

// Options tune batching. Zero values fall back to the defaults below.
type Options struct {
	BatchSize      int
	FlushDelay     time.Duration
	PopTimeout     time.Duration
	Inactivity     time.Duration
	InactivityTick time.Duration
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 20
	}
	if o.FlushDelay <= 0 {
		o.FlushDelay = 500 * time.Millisecond
	}
	if o.PopTimeout <= 0 {
		o.PopTimeout = 3 * time.Second
	}
	if o.Inactivity <= 0 {
		o.Inactivity = DefaultInactivity
	}
	if o.InactivityTick <= 0 {
		o.InactivityTick = time.Minute
	}
	return o
}

// Service batches records popped from a Queue and flushes them to a Sink, either
// when the batch is full or every FlushDelay. Games with no action for Inactivity
// are marked abandoned; a finished game stops being tracked.
type Service struct {
	queue  Queue
	sink   Sink
	opts   Options
	logger *logrus.Logger

	batchMu sync.Mutex
	batch   []cache.GameActionRecord

	activityMu   sync.Mutex
	lastActivity map[gameKey]time.Time

	now func() time.Time
}

func NewService(queue Queue, sink Sink, opts Options, logger *logrus.Logger) *Service {
	opts = opts.withDefaults()
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{
		queue:        queue,
		sink:         sink,
		opts:         opts,
		logger:       logger,
		batch:        make([]cache.GameActionRecord, 0, opts.BatchSize),
		lastActivity: make(map[gameKey]time.Time),
		now:          time.Now,
	}
}

// Run blocks until ctx is cancelled, then flushes what is left.
func (s *Service) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.readLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		s.inactivityLoop(ctx)
	}()

	s.logger.Info("historian service started")
	wg.Wait()

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.flush(flushCtx)
	s.logger.Info("historian service stopped")
}

func (s *Service) readLoop(ctx context.Context) {
	ticker := time.NewTicker(s.opts.FlushDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.flush(ctx)
		default:
			rec, ok, err := s.queue.Pop(ctx, s.opts.PopTimeout)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.WithError(err).Error("failed to pop action record")
				continue
			}
			if !ok {
				continue
			}
			s.track(rec)
			s.append(ctx, rec)
		}
	}
}

// gameKey identifies a game across engine restarts.
type gameKey struct {
	run  uuid.UUID
	game uint64
}

func (s *Service) track(rec cache.GameActionRecord) {
	key := gameKey{run: rec.RunID, game: rec.GameID}
	s.activityMu.Lock()
	defer s.activityMu.Unlock()
	if rec.ActionType == "game_won" {
		delete(s.lastActivity, key)
		return
	}
	s.lastActivity[key] = s.now()
}

// append adds a record to the in-memory batch and flushes if the threshold is reached.
func (s *Service) append(ctx context.Context, rec cache.GameActionRecord) {
	s.batchMu.Lock()
	s.batch = append(s.batch, rec)
	full := len(s.batch) >= s.opts.BatchSize
	s.batchMu.Unlock()
	if full {
		s.flush(ctx)
	}
}

// flush writes the current batch in one call. A failed batch is kept and retried
// with the next flush.
func (s *Service) flush(ctx context.Context) {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()
	if len(s.batch) == 0 {
		return
	}
	batchCopy := make([]cache.GameActionRecord, len(s.batch))
	copy(batchCopy, s.batch)

	if err := s.sink.InsertGameActions(ctx, batchCopy); err != nil {
		s.logger.WithError(err).WithField("size", len(batchCopy)).Error("failed to flush action batch")
		return
	}
	s.batch = s.batch[:0]
	s.logger.WithField("size", len(batchCopy)).Debug("flushed actions")
}

func (s *Service) inactivityLoop(ctx context.Context) {
	ticker := time.NewTicker(s.opts.InactivityTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepInactive(ctx)
		}
	}
}

// sweepInactive marks every tracked game idle for longer than Inactivity as abandoned.
func (s *Service) sweepInactive(ctx context.Context) {
	now := s.now()
	var stale []gameKey
	s.activityMu.Lock()
	for key, last := range s.lastActivity {
		if now.Sub(last) > s.opts.Inactivity {
			stale = append(stale, key)
			delete(s.lastActivity, key)
		}
	}
	s.activityMu.Unlock()

	// Pending actions of a stale game must land before its row is closed.
	if len(stale) > 0 {
		s.flush(ctx)
	}
	for _, key := range stale {
		fields := logrus.Fields{"run": key.run, "game": key.game}
		if err := s.sink.MarkGameAbandoned(ctx, key.run, key.game); err != nil {
			s.logger.WithError(err).WithFields(fields).Error("failed to mark game abandoned")
			continue
		}
		s.logger.WithFields(fields).Info("marked game abandoned due to inactivity")
	}
}
