package ingest

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/kanna-karuppasamy/smart-grid-reconciler/internal/models"
)

// Resolver maps external device identifiers to canonical meter ids
type Resolver interface {
	Resolve(externalID int64) (int64, bool)
}

// Observer stores a cumulative value and returns the normalized reading
// with its derived delta
type Observer interface {
	Observe(ts time.Time, meterID int64, cumulative float64) (models.Reading, error)
}

// Recorder receives ingest outcomes for metrics
type Recorder interface {
	RecordIngest(outcome string)
	RecordNegativeDelta()
}

// Stats are the pipeline counters exposed to operators. They let a
// consumer tell "no data yet" apart from "upstream data is broken".
type Stats struct {
	Accepted       int64     `json:"accepted"`
	Malformed      int64     `json:"malformed"`
	UnknownMeter   int64     `json:"unknownMeter"`
	Duplicate      int64     `json:"duplicate"`
	Expired        int64     `json:"expired"`
	Failed         int64     `json:"failed"`
	NegativeDeltas int64     `json:"negativeDeltas"`
	LastIngest     time.Time `json:"lastIngest"`
	LastReadingAt  time.Time `json:"lastReadingAt"`
}

// Dropped returns the number of messages that did not reach the store
func (s Stats) Dropped() int64 {
	return s.Malformed + s.UnknownMeter + s.Duplicate + s.Expired + s.Failed
}

// Pipeline turns raw broadcast messages into stored readings. It is safe
// for concurrent use; per-meter ordering is guaranteed by the Observer.
type Pipeline struct {
	resolver Resolver
	store    Observer
	location *time.Location
	logger   *slog.Logger
	metrics  Recorder
	now      func() time.Time

	accepted       atomic.Int64
	malformed      atomic.Int64
	unknownMeter   atomic.Int64
	duplicate      atomic.Int64
	expired        atomic.Int64
	failed         atomic.Int64
	negativeDeltas atomic.Int64
	lastIngest     atomic.Int64 // unix nanos, wall clock
	lastReadingAt  atomic.Int64 // unix nanos, device clock
}

// NewPipeline creates a pipeline. loc is the zone device timestamps are
// read in; metrics may be nil.
func NewPipeline(resolver Resolver, store Observer, loc *time.Location, logger *slog.Logger, metrics Recorder) *Pipeline {
	if loc == nil {
		loc = time.UTC
	}
	return &Pipeline{
		resolver: resolver,
		store:    store,
		location: loc,
		logger:   logger.With("component", "ingest"),
		metrics:  metrics,
		now:      time.Now,
	}
}

// Ingest parses one raw message, resolves its meter and appends the
// normalized reading. Errors wrap ErrMalformed, ErrUnknownMeter,
// ErrDuplicate or ErrExpired; in every error case the store is left untouched.
func (p *Pipeline) Ingest(raw []byte) (models.Reading, error) {
	reading, err := p.ingest(raw)
	p.record(reading, err)
	return reading, err
}

func (p *Pipeline) ingest(raw []byte) (models.Reading, error) {
	msg, err := Parse(raw, p.location)
	if err != nil {
		return models.Reading{}, err
	}

	meterID, ok := p.resolver.Resolve(msg.ExternalID)
	if !ok {
		return models.Reading{}, fmt.Errorf("%w: external id %d", ErrUnknownMeter, msg.ExternalID)
	}

	reading, err := p.store.Observe(msg.Timestamp, meterID, msg.Value)
	if err != nil {
		return models.Reading{}, fmt.Errorf("meter %d at %s: %w", meterID, msg.Timestamp.Format(time.RFC3339), err)
	}
	return reading, nil
}

func (p *Pipeline) record(reading models.Reading, err error) {
	label := outcome(err)
	if p.metrics != nil {
		p.metrics.RecordIngest(label)
	}

	switch label {
	case OutcomeAccepted:
		p.accepted.Add(1)
		p.lastIngest.Store(p.now().UnixNano())
		storeMax(&p.lastReadingAt, reading.Timestamp.UnixNano())
		if reading.Delta < 0 {
			p.negativeDeltas.Add(1)
			if p.metrics != nil {
				p.metrics.RecordNegativeDelta()
			}
			p.logger.Warn("negative_delta",
				"meter_id", reading.MeterID,
				"timestamp", reading.Timestamp,
				"delta", reading.Delta,
			)
		}
		p.logger.Debug("reading_ingested",
			"meter_id", reading.MeterID,
			"timestamp", reading.Timestamp,
			"cumulative", reading.Cumulative,
			"delta", reading.Delta,
		)
		return
	case OutcomeMalformed:
		p.malformed.Add(1)
	case OutcomeUnknownMeter:
		p.unknownMeter.Add(1)
	case OutcomeDuplicate:
		p.duplicate.Add(1)
	case OutcomeExpired:
		p.expired.Add(1)
	default:
		p.failed.Add(1)
	}
	p.logger.Warn("message_dropped", "reason", label, "error", err)
}

// Stats returns a copy of the pipeline counters
func (p *Pipeline) Stats() Stats {
	st := Stats{
		Accepted:       p.accepted.Load(),
		Malformed:      p.malformed.Load(),
		UnknownMeter:   p.unknownMeter.Load(),
		Duplicate:      p.duplicate.Load(),
		Expired:        p.expired.Load(),
		Failed:         p.failed.Load(),
		NegativeDeltas: p.negativeDeltas.Load(),
	}
	if ns := p.lastIngest.Load(); ns != 0 {
		st.LastIngest = time.Unix(0, ns)
	}
	if ns := p.lastReadingAt.Load(); ns != 0 {
		st.LastReadingAt = time.Unix(0, ns).In(p.location)
	}
	return st
}

func storeMax(v *atomic.Int64, n int64) {
	for {
		cur := v.Load()
		if n <= cur || v.CompareAndSwap(cur, n) {
			return
		}
	}
}
