package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mitchelldurbincs/DentalScannerEnv/internal/config"
	"github.com/mitchelldurbincs/DentalScannerEnv/internal/env/core"
	"github.com/mitchelldurbincs/DentalScannerEnv/internal/env/events"
	"github.com/mitchelldurbincs/DentalScannerEnv/internal/experience"
)

const (
	persistBatchSize    = 256
	persistBatchTimeout = 2 * time.Second
)

// experiencePipeline collects step events from served environments into a
// replay buffer and moves them to persistence in timed batches:
// bus -> Collector -> Buffer -> TimedBatcher -> Drain -> PersistenceLayer.
// Transitions are only lost when persistence falls a whole buffer behind;
// those evictions are counted by the buffer.
type experiencePipeline struct {
	bus         events.Bus
	collector   *experience.Collector
	buffer      *experience.Buffer
	batcher     *experience.TimedBatcher
	persistence experience.PersistenceLayer
	done        chan struct{}
	logger      zerolog.Logger
}

func startExperiencePipeline(cfg config.ExperienceConfig, layout *core.Layout, bus events.Bus, logger zerolog.Logger) (*experiencePipeline, error) {
	persistence, err := experience.NewPersistenceLayer(experience.PersistenceConfigFromConfig(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("experience persistence: %w", err)
	}

	buffer := experience.NewBuffer(cfg.BufferCapacity, logger)
	collector := experience.NewCollector(layout, buffer, logger)
	batcher := experience.NewTimedBatcher(buffer, persistBatchSize, persistBatchTimeout, logger)

	p := &experiencePipeline{
		bus:         bus,
		collector:   collector,
		buffer:      buffer,
		batcher:     batcher,
		persistence: persistence,
		done:        make(chan struct{}),
		logger:      logger.With().Str("component", "experience_pipeline").Logger(),
	}

	batcher.Start()
	go func() {
		defer close(p.done)
		experience.Drain(context.Background(), batcher.Output(), persistence, logger)
	}()
	bus.Subscribe(collector)

	p.logger.Info().
		Int("buffer_capacity", cfg.BufferCapacity).
		Str("persistence", cfg.Persistence).
		Msg("Experience pipeline started")
	return p, nil
}

// Evicted returns how many transitions left the buffer before persistence took them
func (p *experiencePipeline) Evicted() int64 {
	return p.buffer.Stats().TotalDropped
}

// Close stops collecting, flushes pending batches and closes persistence
func (p *experiencePipeline) Close(ctx context.Context) error {
	p.bus.Unsubscribe(p.collector.ID())
	if err := p.buffer.Close(); err != nil {
		return err
	}
	p.batcher.Close()

	select {
	case <-p.done:
	case <-ctx.Done():
		p.logger.Warn().Int("pending", p.buffer.Size()).Msg("Timed out flushing transitions")
	}

	stats := p.persistence.Stats()
	p.logger.Info().
		Int64("collected", p.collector.Collected()).
		Int64("dropped", p.collector.Dropped()).
		Int64("evicted", p.Evicted()).
		Int64("persisted", stats.TotalWritten).
		Msg("Experience pipeline stopped")
	return p.persistence.Close()
}

// recordTransitions writes transitions to dir as JSON-lines files in fixed size batches
func recordTransitions(ctx context.Context, dir string, maxFileSize int64, transitions []*experience.Transition, logger zerolog.Logger) (experience.PersistenceStats, error) {
	cfg := experience.DefaultPersistenceConfig()
	cfg.Type = experience.PersistenceTypeFile
	cfg.BaseDir = dir
	if maxFileSize > 0 {
		cfg.MaxFileSize = maxFileSize
	}

	fp, err := experience.NewFilePersistence(cfg, logger)
	if err != nil {
		return experience.PersistenceStats{}, err
	}

	for start := 0; start < len(transitions); start += persistBatchSize {
		end := start + persistBatchSize
		if end > len(transitions) {
			end = len(transitions)
		}
		if err := fp.Write(ctx, transitions[start:end]); err != nil {
			fp.Close()
			return fp.Stats(), err
		}
	}

	stats := fp.Stats()
	return stats, fp.Close()
}
