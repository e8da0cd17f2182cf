// Package synchronizer runs closures on the client's game thread.
//
// Callers on any goroutine queue work; the periodic hook drains the queue
// from inside the client's frame, so the work runs on the thread that owns
// the client state.
package synchronizer

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"nosbind/hook"
)

const DefaultMaxTasksPerTick = 10

// Ticker calls its subscribers on the game thread. binding.Periodic is one.
type Ticker interface {
	OnTick(fn func()) (unsubscribe func())
}

type Options struct {
	// MaxTasksPerTick bounds how much queued work one frame runs.
	MaxTasksPerTick int
	Logger          zerolog.Logger
}

type operation struct {
	action func() error
	// done is nil for fire-and-forget work.
	done chan error
}

type Synchronizer struct {
	ticker Ticker
	max    int
	log    zerolog.Logger

	mu          sync.Mutex
	queue       []*operation
	unsubscribe func()
}

func New(ticker Ticker, opts Options) *Synchronizer {
	if opts.MaxTasksPerTick <= 0 {
		opts.MaxTasksPerTick = DefaultMaxTasksPerTick
	}
	return &Synchronizer{ticker: ticker, max: opts.MaxTasksPerTick, log: opts.Logger}
}

// Start begins draining on every tick. Starting twice does nothing.
func (s *Synchronizer) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsubscribe == nil {
		s.unsubscribe = s.ticker.OnTick(s.tick)
	}
}

// Stop stops draining. Queued work stays queued until the next Start.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// Len is the number of operations waiting for a tick.
func (s *Synchronizer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Synchronizer) push(op *operation) {
	s.mu.Lock()
	s.queue = append(s.queue, op)
	s.mu.Unlock()
}

// Enqueue runs action on a later tick. Panics are logged and dropped.
func (s *Synchronizer) Enqueue(action func()) {
	s.push(&operation{action: func() error {
		action()
		return nil
	}})
}

// Synchronize runs action on a later tick and waits for its result. If ctx
// ends first, Synchronize returns ctx.Err() but the action stays queued and
// still runs exactly once; queued native calls are never retracted.
func (s *Synchronizer) Synchronize(ctx context.Context, action func() error) error {
	op := &operation{action: action, done: make(chan error, 1)}
	s.push(op)

	select {
	case err := <-op.done:
		return err
	case <-ctx.Done():
		// a result that is already there wins over the cancellation
		select {
		case err := <-op.done:
			return err
		default:
		}
		return ctx.Err()
	}
}

// Call is Synchronize for actions that produce a value.
func Call[T any](ctx context.Context, s *Synchronizer, action func() (T, error)) (T, error) {
	var result T
	err := s.Synchronize(ctx, func() error {
		var err error
		result, err = action()
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// tick runs on the game thread and never blocks.
func (s *Synchronizer) tick() {
	s.mu.Lock()
	n := min(len(s.queue), s.max)
	batch := make([]*operation, n)
	copy(batch, s.queue)
	clear(s.queue[:n])
	s.queue = s.queue[n:]
	s.mu.Unlock()

	for _, op := range batch {
		err := s.run(op)
		if op.done != nil {
			op.done <- err
		} else if err != nil {
			s.log.Error().Err(err).Msg("[SYNC] queued action failed")
		}
	}
}

func (s *Synchronizer) run(op *operation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &hook.NativeCallError{Name: "synchronized action", Recovered: r}
		}
	}()
	return op.action()
}
