package models

import (
	"time"
)

// MeterNode represents a metering point in the distribution tree
type MeterNode struct {
	ID         int64  `json:"id" yaml:"id"`
	ExternalID int64  `json:"externalId" yaml:"external_id"`
	Name       string `json:"name" yaml:"name"`
}

// Edge represents a parent -> child link between two canonical meter ids
type Edge struct {
	Parent int64 `json:"parent" yaml:"parent"`
	Child  int64 `json:"child" yaml:"child"`
}

// Reading represents a normalized cumulative meter reading
type Reading struct {
	Timestamp  time.Time `json:"timestamp"`
	MeterID    int64     `json:"meterId"`
	Cumulative float64   `json:"cumulative"`
	Delta      float64   `json:"delta"`
}

// Aggregation holds the windowed consumption per meter
type Aggregation struct {
	Start  time.Time         `json:"start"`
	End    time.Time         `json:"end"`
	Values map[int64]float64 `json:"values"`
}

// Value returns the aggregated consumption of a meter. The second result is
// false when the meter had no readings in the window.
func (a Aggregation) Value(meterID int64) (float64, bool) {
	v, ok := a.Values[meterID]
	return v, ok
}

// Empty reports whether no meter reported in the window
func (a Aggregation) Empty() bool {
	return len(a.Values) == 0
}
