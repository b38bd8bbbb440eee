package experience

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TransitionSource hands out stored transitions oldest first
type TransitionSource interface {
	Get(n int) []*Transition
	Size() int
}

// TimedBatcher pulls transitions from a source in batches of at most batchSize,
// flushing a partial batch once timeout has passed since the last flush.
// Transitions stay in the source until the batcher takes them, so a slow
// consumer only delays batches.
type TimedBatcher struct {
	source    TransitionSource
	output    chan []*Transition
	batchSize int
	timeout   time.Duration
	poll      time.Duration
	closeChan chan struct{}
	closeOnce sync.Once
	logger    zerolog.Logger
}

const maxPollInterval = 50 * time.Millisecond

// NewTimedBatcher creates a new timed batcher
func NewTimedBatcher(source TransitionSource, batchSize int, timeout time.Duration, logger zerolog.Logger) *TimedBatcher {
	if batchSize <= 0 {
		batchSize = 100
	}
	if timeout <= 0 {
		timeout = time.Second
	}
	poll := timeout / 10
	if poll > maxPollInterval {
		poll = maxPollInterval
	}
	if poll < time.Millisecond {
		poll = time.Millisecond
	}
	return &TimedBatcher{
		source:    source,
		output:    make(chan []*Transition, 10),
		batchSize: batchSize,
		timeout:   timeout,
		poll:      poll,
		closeChan: make(chan struct{}),
		logger:    logger.With().Str("component", "timed_batcher").Logger(),
	}
}

// Start begins batching
func (b *TimedBatcher) Start() {
	go b.run()
}

func (b *TimedBatcher) run() {
	defer close(b.output)

	ticker := time.NewTicker(b.poll)
	defer ticker.Stop()
	lastFlush := time.Now()

	for {
		select {
		case <-ticker.C:
			for b.source.Size() >= b.batchSize {
				b.emit(b.source.Get(b.batchSize))
				lastFlush = time.Now()
			}
			if b.source.Size() > 0 && time.Since(lastFlush) >= b.timeout {
				b.emit(b.source.Get(b.batchSize))
				lastFlush = time.Now()
			}

		case <-b.closeChan:
			for b.source.Size() > 0 {
				b.emit(b.source.Get(b.batchSize))
			}
			return
		}
	}
}

func (b *TimedBatcher) emit(batch []*Transition) {
	if len(batch) == 0 {
		return
	}
	b.output <- batch
	b.logger.Debug().Int("batch_size", len(batch)).Msg("Emitted batch")
}

// Output returns the batched output channel. It is closed after Close once the source is empty.
func (b *TimedBatcher) Output() <-chan []*Transition {
	return b.output
}

// Close flushes what is left in the source and stops the batcher
func (b *TimedBatcher) Close() {
	b.closeOnce.Do(func() { close(b.closeChan) })
}

// Drain writes every batch from the batcher to the persistence layer until the
// batcher output closes or ctx is done. Write failures are logged and counted
// by the persistence layer; draining continues.
func Drain(ctx context.Context, batches <-chan []*Transition, p PersistenceLayer, logger zerolog.Logger) {
	logger = logger.With().Str("component", "experience_drain").Logger()
	for {
		select {
		case batch, ok := <-batches:
			if !ok {
				return
			}
			if err := p.Write(ctx, batch); err != nil {
				logger.Error().Err(err).Int("batch_size", len(batch)).Msg("Failed to persist transitions")
			}
		case <-ctx.Done():
			return
		}
	}
}
