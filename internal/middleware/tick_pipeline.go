package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"MarketLens/internal/domain/models"
	domrepo "MarketLens/internal/domain/repository"
	"MarketLens/pkg/logger"
)

// TickPipeline sits between the live stream and the archive sinks. It
// validates, throttles per symbol, fans out to every sink, and buffers
// ticks a sink could not take so a slow backend does not stall the stream.
type TickPipeline struct {
	sinks   []domrepo.TickSink
	metrics domrepo.Metrics
	log     *logger.Logger
	maxRPS  int
	bufSize int
	bufCh   chan *models.LiveTick
	stopCh  chan struct{}
	started bool

	mu       sync.Mutex
	lastSeen map[string]time.Time // per-symbol last accepted time
}

// flushBatchMax caps how many buffered ticks one flush round-trip carries.
const flushBatchMax = 100

type PipelineOption func(*TickPipeline)

// WithMaxRPS sets the max accepted ticks per second per symbol.
func WithMaxRPS(n int) PipelineOption {
	return func(p *TickPipeline) {
		if n > 0 {
			p.maxRPS = n
		}
	}
}

// WithBufferSize sets the retry buffer size for failed sink writes.
func WithBufferSize(n int) PipelineOption {
	return func(p *TickPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// NewTickPipeline creates a pipeline fanning out to the given sinks.
func NewTickPipeline(sinks []domrepo.TickSink, metrics domrepo.Metrics, log *logger.Logger, opts ...PipelineOption) *TickPipeline {
	p := &TickPipeline{
		sinks:    sinks,
		metrics:  metrics,
		log:      log,
		maxRPS:   20,
		bufSize:  1000,
		stopCh:   make(chan struct{}),
		lastSeen: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan *models.LiveTick, p.bufSize)
	return p
}

// Start launches background flushing of buffered ticks.
func (p *TickPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go func() {
		backoff := 50 * time.Millisecond
		for {
			select {
			case <-p.stopCh:
				return
			case t := <-p.bufCh:
				if t == nil {
					continue
				}
				batch := p.drain(t)
				if err := p.flushBatch(ctx, batch); err != nil {
					if backoff < 2*time.Second {
						backoff *= 2
					}
					p.metrics.RecordError("pipeline_flush")
					time.Sleep(backoff)
					// requeue if space; drop otherwise
					for _, bt := range batch {
						select {
						case p.bufCh <- bt:
						default:
							p.metrics.RecordError("pipeline_buffer_drop")
						}
					}
				} else {
					backoff = 50 * time.Millisecond
				}
			}
		}
	}()
}

// drain collects whatever else is already buffered so one flush covers it.
func (p *TickPipeline) drain(first *models.LiveTick) []*models.LiveTick {
	batch := []*models.LiveTick{first}
	for len(batch) < flushBatchMax {
		select {
		case t := <-p.bufCh:
			if t != nil {
				batch = append(batch, t)
			}
		default:
			return batch
		}
	}
	return batch
}

// flushBatch writes buffered ticks through every sink, in one round-trip
// where the sink supports it.
func (p *TickPipeline) flushBatch(ctx context.Context, ticks []*models.LiveTick) error {
	var firstErr error
	for _, s := range p.sinks {
		var err error
		if b, ok := s.(domrepo.BatchTickSink); ok {
			err = b.WriteBatch(ctx, ticks)
		} else {
			for _, t := range ticks {
				if werr := s.Write(ctx, t); werr != nil && err == nil {
					err = werr
				}
			}
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Stop stops the background flushing.
func (p *TickPipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()
	close(p.stopCh)
}

// Process validates, throttles, and forwards a tick to every sink,
// buffering on failure.
func (p *TickPipeline) Process(ctx context.Context, t *models.LiveTick) error {
	now := time.Now()
	if err := validateTick(t); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	if !p.allow(t.Symbol, now) {
		// throttled; drop silently
		p.metrics.RecordError("pipeline_throttle")
		return nil
	}

	if err := p.writeAll(ctx, t); err != nil {
		p.metrics.RecordError("pipeline_write")
		select {
		case p.bufCh <- t:
		default:
			p.metrics.RecordError("pipeline_buffer_full")
		}
		return fmt.Errorf("pipeline sink: %w", err)
	}
	return nil
}

func (p *TickPipeline) writeAll(ctx context.Context, t *models.LiveTick) error {
	var firstErr error
	for _, s := range p.sinks {
		if err := s.Write(ctx, t); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close stops flushing and closes every sink.
func (p *TickPipeline) Close() error {
	p.Stop()
	var firstErr error
	for _, s := range p.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func validateTick(t *models.LiveTick) error {
	if t == nil {
		return fmt.Errorf("tick nil")
	}
	if t.Symbol == "" {
		return fmt.Errorf("symbol empty")
	}
	if t.Price == nil {
		return fmt.Errorf("price missing")
	}
	if *t.Price < 0 {
		return fmt.Errorf("negative price")
	}
	if t.Volume != nil && *t.Volume < 0 {
		return fmt.Errorf("negative volume")
	}
	return nil
}

func (p *TickPipeline) allow(symbol string, now time.Time) bool {
	if p.maxRPS <= 0 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	last := p.lastSeen[symbol]
	if last.IsZero() || now.Sub(last) >= time.Second/time.Duration(p.maxRPS) {
		p.lastSeen[symbol] = now
		return true
	}
	return false
}
