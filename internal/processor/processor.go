package processor

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kanna-karuppasamy/smart-grid-reconciler/internal/config"
	"github.com/kanna-karuppasamy/smart-grid-reconciler/internal/ingest"
	"github.com/kanna-karuppasamy/smart-grid-reconciler/internal/instrumentation"
	"github.com/kanna-karuppasamy/smart-grid-reconciler/internal/models"
	"github.com/kanna-karuppasamy/smart-grid-reconciler/internal/reconcile"
	"github.com/kanna-karuppasamy/smart-grid-reconciler/internal/store"
	"github.com/kanna-karuppasamy/smart-grid-reconciler/internal/topology"
	"github.com/kanna-karuppasamy/smart-grid-reconciler/internal/window"
)

// ErrStopped is returned by ProcessMessages after Stop
var ErrStopped = errors.New("processor stopped")

// Sink receives the snapshots of every scheduler run
type Sink interface {
	Name() string
	Publish(ctx context.Context, snapshots []models.Snapshot) error
}

// Deps are the collaborators a Processor drives
type Deps struct {
	Pipeline  *ingest.Pipeline
	Store     *store.Store
	Engine    *window.Engine
	Catalog   *topology.Catalog
	Hierarchy *topology.Hierarchy
	Sinks     []Sink
	Metrics   *instrumentation.Metrics // optional
	Logger    *slog.Logger
}

// Stats summarizes processor health for operators
type Stats struct {
	Ingest       ingest.Stats `json:"ingest"`
	Store        store.Stats  `json:"store"`
	QueueDepth   int          `json:"queueDepth"`
	QueueDropped int64        `json:"queueDropped"`
	TicksSkipped int64        `json:"ticksSkipped"`
	LastRun      time.Time    `json:"lastRun"`
}

// Processor feeds raw messages through the ingest pipeline on a worker pool
// and periodically reconciles the configured scope roots.
type Processor struct {
	Deps
	config config.ProcessorConfig
	logger *slog.Logger

	queue    chan [][]byte
	wg       sync.WaitGroup
	stopMu   sync.RWMutex
	stopped  bool
	runMu    sync.Mutex // held while a scheduler run is in flight
	runWG    sync.WaitGroup
	dropped  atomic.Int64
	skipped  atomic.Int64
	lastRun  atomic.Int64
	latestMu sync.RWMutex
	latest   map[int64]models.Snapshot
}

// NewProcessor creates a new processor and starts its ingest workers
func NewProcessor(deps Deps, config config.ProcessorConfig) *Processor {
	workers := config.WorkerCount
	if workers <= 0 {
		workers = 1
	}
	config.ScopeRoots = slices.Clone(config.ScopeRoots)
	p := &Processor{
		Deps:   deps,
		config: config,
		logger: deps.Logger.With("component", "processor"),
		queue:  make(chan [][]byte, max(config.QueueSize, 1)),
		latest: make(map[int64]models.Snapshot),
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker(i)
	}

	return p
}

// ProcessMessages queues a batch of raw messages for ingestion. A full
// queue drops the batch rather than blocking the transport; the stream is
// best effort.
func (p *Processor) ProcessMessages(messages [][]byte) error {
	// copy so the caller can reuse its buffers
	batch := make([][]byte, len(messages))
	for i, m := range messages {
		batch[i] = append([]byte(nil), m...)
	}

	p.stopMu.RLock()
	defer p.stopMu.RUnlock()
	if p.stopped {
		return ErrStopped
	}

	select {
	case p.queue <- batch:
		return nil
	default:
		p.dropped.Add(int64(len(batch)))
		if p.Metrics != nil {
			p.Metrics.RecordQueueDrop(len(batch))
		}
		p.logger.Warn("queue_full", "dropped", len(batch))
		return nil
	}
}

// worker ingests queued batches one message at a time
func (p *Processor) worker(id int) {
	defer p.wg.Done()

	for batch := range p.queue {
		for _, raw := range batch {
			// failures are counted and logged by the pipeline
			_, _ = p.Pipeline.Ingest(raw)
		}
	}
	p.logger.Debug("worker_stopped", "worker", id)
}

// Run triggers a reconciliation every interval until ctx is done. A tick
// that arrives while the previous run is still in flight is skipped, so
// stale work never queues up.
func (p *Processor) Run(ctx context.Context) error {
	interval := p.config.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer p.runWG.Wait()

	p.logger.Info("scheduler_started", "interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("scheduler_stopped")
			return ctx.Err()
		case <-ticker.C:
			p.trigger(ctx)
		}
	}
}

// trigger starts a run unless one is already in flight. It reports whether
// a run was started.
func (p *Processor) trigger(ctx context.Context) bool {
	if !p.runMu.TryLock() {
		p.skipped.Add(1)
		if p.Metrics != nil {
			p.Metrics.RecordSkippedTick()
		}
		p.logger.Debug("tick_skipped")
		return false
	}

	p.runWG.Add(1)
	go func() {
		defer p.runWG.Done()
		defer p.runMu.Unlock()
		p.runOnce(ctx)
	}()
	return true
}

// RunOnce performs one synchronous scheduler run
func (p *Processor) RunOnce(ctx context.Context) []models.Snapshot {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	return p.runOnce(ctx)
}

func (p *Processor) runOnce(ctx context.Context) []models.Snapshot {
	started := time.Now()

	if asOf, ok := p.Engine.AsOf(p.Store); ok {
		trimmed := p.Store.Trim(asOf)
		if p.Metrics != nil {
			p.Metrics.RecordStore(p.Store.Stats().Readings, trimmed)
		}
	}

	agg := p.Engine.Current(p.Store)
	roots := p.ScopeRoots()
	snapshots := make([]models.Snapshot, 0, len(roots))
	for _, root := range roots {
		snap := p.snapshot(agg, root, started)
		snapshots = append(snapshots, snap)
		if p.Metrics != nil {
			p.Metrics.RecordTree(strconv.FormatInt(root, 10), snap.Tree)
		}
		for _, w := range snap.Tree.Warnings {
			p.logger.Debug("reconciliation_warning", "scope_root", root, "meter_id", w.MeterID, "kind", w.Kind)
		}
	}

	p.latestMu.Lock()
	for _, snap := range snapshots {
		p.latest[snap.ScopeRoot] = snap
	}
	p.latestMu.Unlock()
	p.lastRun.Store(started.UnixNano())

	elapsed := time.Since(started)
	if p.Metrics != nil {
		p.Metrics.RecordReconcile(elapsed)
	}

	if agg.Empty() {
		p.logger.Info("waiting_for_data", "scope_roots", len(roots))
		return snapshots
	}

	p.logger.Info("reconciliation_completed",
		"window_start", agg.Start,
		"window_end", agg.End,
		"meters", len(agg.Values),
		"scope_roots", len(roots),
		"elapsed_ms", elapsed.Milliseconds(),
	)
	p.publish(ctx, snapshots)
	return snapshots
}

func (p *Processor) snapshot(agg models.Aggregation, root int64, now time.Time) models.Snapshot {
	return models.Snapshot{
		ScopeRoot:   root,
		WindowStart: agg.Start,
		WindowEnd:   agg.End,
		GeneratedAt: now,
		Tree:        reconcile.Reconcile(agg, p.Hierarchy, p.Catalog, &root),
	}
}

func (p *Processor) publish(ctx context.Context, snapshots []models.Snapshot) {
	timeout := p.config.PublishTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	for _, sink := range p.Sinks {
		pubCtx, cancel := context.WithTimeout(ctx, timeout)
		err := sink.Publish(pubCtx, snapshots)
		cancel()
		if err != nil {
			if p.Metrics != nil {
				p.Metrics.RecordSinkError(sink.Name())
			}
			p.logger.Error("publish_failed", "sink", sink.Name(), "error", err)
		}
	}
}

// Compute reconciles scope against a fresh aggregation, independent of the
// scheduler. A nil scope yields an empty tree.
func (p *Processor) Compute(scope *int64) models.Snapshot {
	agg := p.Engine.Current(p.Store)
	snap := models.Snapshot{
		WindowStart: agg.Start,
		WindowEnd:   agg.End,
		GeneratedAt: time.Now(),
		Tree:        reconcile.Reconcile(agg, p.Hierarchy, p.Catalog, scope),
	}
	if scope != nil {
		snap.ScopeRoot = *scope
	}
	return snap
}

// Aggregate returns a fresh aggregation of the current window
func (p *Processor) Aggregate() models.Aggregation {
	return p.Engine.Current(p.Store)
}

// Latest returns the snapshot of the most recent scheduler run for root
func (p *Processor) Latest(root int64) (models.Snapshot, bool) {
	p.latestMu.RLock()
	defer p.latestMu.RUnlock()
	snap, ok := p.latest[root]
	return snap, ok
}

// ScopeRoots returns a copy of the roots reconciled on every tick
func (p *Processor) ScopeRoots() []int64 {
	if len(p.config.ScopeRoots) > 0 {
		return slices.Clone(p.config.ScopeRoots)
	}
	return p.Hierarchy.Roots()
}

// Stats returns the current processor counters
func (p *Processor) Stats() Stats {
	st := Stats{
		Ingest:       p.Pipeline.Stats(),
		Store:        p.Store.Stats(),
		QueueDepth:   len(p.queue),
		QueueDropped: p.dropped.Load(),
		TicksSkipped: p.skipped.Load(),
	}
	if ns := p.lastRun.Load(); ns != 0 {
		st.LastRun = time.Unix(0, ns)
	}
	return st
}

// Stop stops accepting messages and waits for queued batches to drain
func (p *Processor) Stop() {
	p.stopMu.Lock()
	if p.stopped {
		p.stopMu.Unlock()
		return
	}
	p.stopped = true
	close(p.queue)
	p.stopMu.Unlock()

	p.wg.Wait()
}
