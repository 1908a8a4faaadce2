// Package autosave debounces per-slot saves. Each respondent slot has at
// most one pending save; a new edit to the same slot restarts the delay and
// cancels a save of that slot that is still running, so the last edit wins.
package autosave

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultDelay is the quiet period after the last keystroke.
const DefaultDelay = time.Second

var ErrClosed = errors.New("autosave: scheduler closed")

// SlotKey addresses one respondent slot.
type SlotKey struct {
	SectionID  string
	QuestionID string
	Index      int
}

func (k SlotKey) String() string {
	return fmt.Sprintf("%s/%s/%d", k.SectionID, k.QuestionID, k.Index)
}

// Task performs one save. ctx is cancelled when the save is superseded or
// the scheduler closes.
type Task func(ctx context.Context) error

type pendingSave struct {
	timer Timer
	task  Task
	gen   uint64
}

type runningSave struct {
	cancel context.CancelFunc
	gen    uint64
}

type Scheduler struct {
	clock   Clock
	delay   time.Duration
	logger  *zap.Logger
	onError func(SlotKey, error)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	gen     uint64
	closed  bool
	pending map[SlotKey]*pendingSave
	running map[SlotKey]runningSave
	// inflight counts started saves, superseded ones included.
	inflight int
}

type Option func(*Scheduler)

func WithClock(clock Clock) Option {
	return func(s *Scheduler) { s.clock = clock }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithErrorHandler is called when a timer-driven save fails.
func WithErrorHandler(fn func(SlotKey, error)) Option {
	return func(s *Scheduler) { s.onError = fn }
}

func New(delay time.Duration, opts ...Option) *Scheduler {
	if delay <= 0 {
		delay = DefaultDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		clock:   RealClock(),
		delay:   delay,
		logger:  zap.NewNop(),
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[SlotKey]*pendingSave),
		running: make(map[SlotKey]runningSave),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule (re)starts the delay for key. Any pending save for the same key
// is dropped and a running one is cancelled.
func (s *Scheduler) Schedule(key SlotKey, task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.supersedeLocked(key)
	s.gen++
	gen := s.gen
	s.pending[key] = &pendingSave{
		timer: s.clock.AfterFunc(s.delay, func() { s.fire(key, gen) }),
		task:  task,
		gen:   gen,
	}
	return nil
}

// Flush runs the pending save for key now, in the caller's goroutine, and
// returns its error. ran is false when nothing was pending.
func (s *Scheduler) Flush(ctx context.Context, key SlotKey) (ran bool, err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false, ErrClosed
	}
	p, ok := s.pending[key]
	if !ok {
		s.mu.Unlock()
		return false, nil
	}
	p.timer.Stop()
	delete(s.pending, key)
	runCtx, done := s.startLocked(ctx, key, p.gen)
	s.mu.Unlock()

	err = p.task(runCtx)
	done()
	return true, err
}

// Cancel drops the pending save for key and cancels a running one.
func (s *Scheduler) Cancel(key SlotKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.supersedeLocked(key)
}

// Pending is the number of saves waiting for their timer.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Busy reports whether any save is waiting for its timer or still running.
func (s *Scheduler) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) > 0 || s.inflight > 0
}

// Close cancels every pending and running save and waits for running saves
// to return. Further calls to Schedule fail with ErrClosed.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for key, p := range s.pending {
		p.timer.Stop()
		delete(s.pending, key)
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) fire(key SlotKey, gen uint64) {
	s.mu.Lock()
	p, ok := s.pending[key]
	if !ok || p.gen != gen || s.closed {
		s.mu.Unlock()
		return
	}
	delete(s.pending, key)
	runCtx, done := s.startLocked(s.ctx, key, gen)
	s.mu.Unlock()

	err := p.task(runCtx)
	superseded := runCtx.Err() != nil
	done()

	if err == nil {
		return
	}
	if superseded {
		s.logger.Debug("autosave superseded", zap.Stringer("slot", key), zap.Error(err))
		return
	}
	s.logger.Warn("autosave failed", zap.Stringer("slot", key), zap.Error(err))
	if s.onError != nil {
		s.onError(key, err)
	}
}

// startLocked registers a running save and returns its context and a
// completion func. s.mu must be held.
func (s *Scheduler) startLocked(parent context.Context, key SlotKey, gen uint64) (context.Context, func()) {
	runCtx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(s.ctx, cancel)
	s.running[key] = runningSave{cancel: cancel, gen: gen}
	s.inflight++
	s.wg.Add(1)
	return runCtx, func() {
		stop()
		cancel()
		s.mu.Lock()
		if current, ok := s.running[key]; ok && current.gen == gen {
			delete(s.running, key)
		}
		s.inflight--
		s.mu.Unlock()
		s.wg.Done()
	}
}

func (s *Scheduler) supersedeLocked(key SlotKey) {
	if p, ok := s.pending[key]; ok {
		p.timer.Stop()
		delete(s.pending, key)
	}
	if r, ok := s.running[key]; ok {
		r.cancel()
	}
}
