package processor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/config"
	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/events"
	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/models"
	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/pipeline"
)

// ErrStopped is returned by Submit once Stop has been called.
var ErrStopped = errors.New("processor stopped")

// Outcome labels counted per processed station.
const (
	OutcomeInsert        = "insert"
	OutcomeUpdate        = "update"
	OutcomeFailed        = "failed"
	OutcomePublishFailed = "publish_failed"
)

// StationProcessor handles a single station payload
type StationProcessor interface {
	ProcessStation(ctx context.Context, payload models.RawStationPayload) (pipeline.Result, error)
}

// OutcomeWriter stores periodic outcome counts
type OutcomeWriter interface {
	WriteOutcomeCounts(counts map[string]int, timestamp time.Time) error
}

type task struct {
	ctx     context.Context
	payload models.RawStationPayload
}

// Processor runs station payloads through the pipeline on a fixed pool of
// workers
type Processor struct {
	pipeline StationProcessor
	config   config.ProcessorConfig
	logger   *slog.Logger
	queue    chan task
	wg       sync.WaitGroup
	outcomes *outcomeAggregator

	mu         sync.Mutex
	stopped    bool
	stopping   chan struct{}
	submitters sync.WaitGroup
}

// NewProcessor creates a new processor and starts its workers. writer may be
// nil, in which case outcomes are only kept in memory.
func NewProcessor(p StationProcessor, writer OutcomeWriter, cfg config.ProcessorConfig, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WorkerCount < 1 {
		cfg.WorkerCount = 1
	}

	proc := &Processor{
		pipeline: p,
		config:   cfg,
		logger:   logger,
		queue:    make(chan task, cfg.QueueSize),
		outcomes: newOutcomeAggregator(writer, cfg.StatsInterval, logger),
		stopping: make(chan struct{}),
	}

	proc.wg.Add(cfg.WorkerCount)
	for i := 0; i < cfg.WorkerCount; i++ {
		go proc.worker(i)
	}
	return proc
}

// Submit queues a payload. It blocks while the queue is full, so a slow
// pipeline pushes back on the caller instead of dropping stations.
func (p *Processor) Submit(ctx context.Context, payload models.RawStationPayload) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrStopped
	}
	p.submitters.Add(1)
	p.mu.Unlock()
	defer p.submitters.Done()

	select {
	case p.queue <- task{ctx: ctx, payload: payload}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stopping:
		return ErrStopped
	}
}

// worker processes stations from the queue
func (p *Processor) worker(id int) {
	defer p.wg.Done()

	for t := range p.queue {
		// An accepted station is finished even if its submitter went away
		ctx := context.WithoutCancel(t.ctx)

		res, err := p.pipeline.ProcessStation(ctx, t.payload)
		var pe *events.PublishUnavailableError
		switch {
		case errors.As(err, &pe):
			p.outcomes.update(OutcomePublishFailed)
			p.logger.Error("station_publish_failed", "worker", id, "station_key", t.payload.Key, "error", err)
		case err != nil:
			p.outcomes.update(OutcomeFailed)
			p.logger.Error("station_failed", "worker", id, "station_key", t.payload.Key, "error", err)
		case res.Event == models.EventInsert:
			p.outcomes.update(OutcomeInsert)
		default:
			p.outcomes.update(OutcomeUpdate)
		}
	}
}

// Totals returns the outcome counts since start.
func (p *Processor) Totals() map[string]int {
	return p.outcomes.snapshot()
}

// Stop refuses new payloads, drains the queue and flushes the outcome counts
func (p *Processor) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.stopping)
	p.mu.Unlock()

	p.submitters.Wait()
	close(p.queue)
	p.wg.Wait()

	p.outcomes.stop()
}

// outcomeAggregator counts station outcomes and writes them periodically
type outcomeAggregator struct {
	writer   OutcomeWriter
	logger   *slog.Logger
	counts   map[string]int
	totals   map[string]int
	mutex    sync.Mutex
	interval time.Duration
	done     chan struct{}
	flushed  chan struct{}
}

func newOutcomeAggregator(writer OutcomeWriter, interval time.Duration, logger *slog.Logger) *outcomeAggregator {
	a := &outcomeAggregator{
		writer:   writer,
		logger:   logger,
		counts:   make(map[string]int),
		totals:   make(map[string]int),
		interval: interval,
		done:     make(chan struct{}),
		flushed:  make(chan struct{}),
	}

	if writer != nil && interval > 0 {
		go a.periodicFlush()
	} else {
		close(a.flushed)
	}
	return a
}

func (a *outcomeAggregator) update(outcome string) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.counts[outcome]++
	a.totals[outcome]++
}

func (a *outcomeAggregator) snapshot() map[string]int {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	out := make(map[string]int, len(a.totals))
	for k, v := range a.totals {
		out[k] = v
	}
	return out
}

func (a *outcomeAggregator) flush() {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.flushLocked()
}

func (a *outcomeAggregator) flushLocked() {
	if a.writer == nil || len(a.counts) == 0 {
		return
	}

	if err := a.writer.WriteOutcomeCounts(a.counts, time.Now()); err != nil {
		// keep the counts, the next flush retries them
		a.logger.Error("outcome_counts_write_failed", "error", err)
		return
	}

	a.counts = make(map[string]int)
}

func (a *outcomeAggregator) periodicFlush() {
	defer close(a.flushed)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.flush()
		case <-a.done:
			return
		}
	}
}

// stop ends the periodic flush and writes what is left
func (a *outcomeAggregator) stop() {
	close(a.done)
	<-a.flushed
	a.flush()
}
