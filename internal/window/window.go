package window

import (
	"fmt"
	"time"

	"github.com/kanna-karuppasamy/smart-grid-reconciler/internal/models"
)

const (
	DefaultWindow = 15 * time.Minute
	// DefaultSlack widens the window so readings stamped on the minute
	// boundary just before the window start are still counted
	DefaultSlack = time.Minute
)

// Anchor selects how the window end is chosen
type Anchor string

const (
	// AnchorLatest ends the window at the newest stored reading, which keeps
	// results stable when device clocks drift from the host clock
	AnchorLatest Anchor = "latest"
	// AnchorWallClock ends the window at the current time
	AnchorWallClock Anchor = "wallclock"
)

// ParseAnchor validates an anchor name
func ParseAnchor(s string) (Anchor, error) {
	switch a := Anchor(s); a {
	case AnchorLatest, AnchorWallClock:
		return a, nil
	default:
		return "", fmt.Errorf("unknown window anchor %q", s)
	}
}

// Source is a point-in-time view of stored readings
type Source interface {
	Snapshot(since, until time.Time) []models.Reading
	Latest() (time.Time, bool)
}

// Engine sums per-meter deltas over a trailing window
type Engine struct {
	Window time.Duration
	Slack  time.Duration
	Anchor Anchor
	Now    func() time.Time
}

// NewEngine creates an engine. A non-positive window or a negative slack
// falls back to the defaults.
func NewEngine(window, slack time.Duration, anchor Anchor) *Engine {
	if window <= 0 {
		window = DefaultWindow
	}
	if slack < 0 {
		slack = DefaultSlack
	}
	if anchor == "" {
		anchor = AnchorLatest
	}
	return &Engine{Window: window, Slack: slack, Anchor: anchor, Now: time.Now}
}

// Aggregate sums the deltas of every reading in [asOf-window-slack, asOf]
// by meter. Meters without readings in the window are absent from the
// result, which is distinct from a confirmed zero consumption.
func (e *Engine) Aggregate(src Source, asOf time.Time) models.Aggregation {
	start := asOf.Add(-e.Window - e.Slack)
	agg := models.Aggregation{
		Start:  start,
		End:    asOf,
		Values: make(map[int64]float64),
	}
	for _, r := range src.Snapshot(start, asOf) {
		agg.Values[r.MeterID] += r.Delta
	}
	return agg
}

// AsOf picks the window end according to the anchor. The second result is
// false when the store holds no readings yet.
func (e *Engine) AsOf(src Source) (time.Time, bool) {
	latest, ok := src.Latest()
	if !ok {
		return time.Time{}, false
	}
	if e.Anchor == AnchorWallClock {
		return e.Now(), true
	}
	return latest, true
}

// Current aggregates the window ending at AsOf. An empty store yields an
// empty aggregation rather than an error.
func (e *Engine) Current(src Source) models.Aggregation {
	asOf, ok := e.AsOf(src)
	if !ok {
		return models.Aggregation{Values: map[int64]float64{}}
	}
	return e.Aggregate(src, asOf)
}
