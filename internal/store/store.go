package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/kanna-karuppasamy/smart-grid-reconciler/internal/models"
)

// ErrDuplicate is returned when a meter already has a reading at the same timestamp
var ErrDuplicate = errors.New("duplicate reading")

// ErrExpired is returned for a reading at or before the newest trimmed
// reading of its meter
var ErrExpired = errors.New("reading older than retention horizon")

// Store is the in-memory rolling buffer of normalized readings, keyed by
// canonical meter id. Each meter's readings are kept sorted by timestamp.
// Writers are serialized by a single lock; snapshot readers share it.
type Store struct {
	mu        sync.RWMutex
	series    map[int64][]models.Reading
	baseline  map[int64]models.Reading // newest trimmed reading per meter
	count     int
	newest    time.Time
	retention time.Duration
}

// Stats describes the current store contents
type Stats struct {
	Meters   int       `json:"meters"`
	Readings int       `json:"readings"`
	Oldest   time.Time `json:"oldest"`
	Newest   time.Time `json:"newest"`
}

// New creates an empty store. Trim drops readings older than retention;
// a zero retention disables trimming.
func New(retention time.Duration) *Store {
	return &Store{
		series:    make(map[int64][]models.Reading),
		baseline:  make(map[int64]models.Reading),
		retention: retention,
	}
}

// Append inserts a reading as given, keeping per-meter timestamp order
func (s *Store) Append(r models.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.insertLocked(r, false)
	return err
}

// Observe derives the delta for a new cumulative value and stores the
// reading in one step, so concurrent deliveries for the same meter cannot
// both compute against the same predecessor.
//
// The first reading of a meter has delta 0. A reading newer than everything
// stored is compared against the latest one; a negative result (counter
// reset) is kept as is. A late reading is compared against its timestamp
// predecessor and its successor's delta is recomputed, so the deltas of a
// meter always sum to last minus first cumulative value. Once older
// readings are trimmed, the newest trimmed one stays the predecessor of a
// late reading, and anything at or before it fails with ErrExpired.
func (s *Store) Observe(ts time.Time, meterID int64, cumulative float64) (models.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := models.Reading{Timestamp: ts, MeterID: meterID, Cumulative: cumulative}
	return s.insertLocked(r, true)
}

func (s *Store) insertLocked(r models.Reading, deriveDelta bool) (models.Reading, error) {
	series := s.series[r.MeterID]
	i := sort.Search(len(series), func(i int) bool {
		return !series[i].Timestamp.Before(r.Timestamp)
	})
	if i < len(series) && series[i].Timestamp.Equal(r.Timestamp) {
		return series[i], ErrDuplicate
	}
	base, trimmed := s.baseline[r.MeterID]
	if trimmed && !r.Timestamp.After(base.Timestamp) {
		return models.Reading{}, ErrExpired
	}

	if deriveDelta {
		switch {
		case i > 0:
			r.Delta = r.Cumulative - series[i-1].Cumulative
		case trimmed:
			r.Delta = r.Cumulative - base.Cumulative
		}
		if i < len(series) {
			series[i].Delta = series[i].Cumulative - r.Cumulative
		}
	}

	series = append(series, models.Reading{})
	copy(series[i+1:], series[i:])
	series[i] = r
	s.series[r.MeterID] = series

	s.count++
	if r.Timestamp.After(s.newest) {
		s.newest = r.Timestamp
	}
	return r, nil
}

// LastReading returns the most recent reading of a meter by timestamp
func (s *Store) LastReading(meterID int64) (models.Reading, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.series[meterID]
	if len(series) == 0 {
		return models.Reading{}, false
	}
	return series[len(series)-1], true
}

// Snapshot copies every reading with since <= timestamp <= until, ordered
// by timestamp and then meter id
func (s *Store) Snapshot(since, until time.Time) []models.Reading {
	s.mu.RLock()
	var out []models.Reading
	for _, series := range s.series {
		lo := sort.Search(len(series), func(i int) bool {
			return !series[i].Timestamp.Before(since)
		})
		for _, r := range series[lo:] {
			if r.Timestamp.After(until) {
				break
			}
			out = append(out, r)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].MeterID < out[j].MeterID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// Latest returns the newest reading timestamp ever stored
func (s *Store) Latest() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.newest, s.count > 0
}

// Trim drops readings older than now minus the retention horizon. The
// newest reading of each meter is always kept as the next delta baseline.
// It returns the number of readings removed.
func (s *Store) Trim(now time.Time) int {
	if s.retention <= 0 {
		return 0
	}
	cutoff := now.Add(-s.retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, series := range s.series {
		keep := sort.Search(len(series), func(i int) bool {
			return !series[i].Timestamp.Before(cutoff)
		})
		if keep == len(series) {
			keep = len(series) - 1
		}
		if keep <= 0 {
			continue
		}
		s.baseline[id] = series[keep-1]
		// copy so the dropped prefix can be collected
		s.series[id] = append([]models.Reading(nil), series[keep:]...)
		removed += keep
	}
	s.count -= removed
	return removed
}

// Stats reports meter and reading counts and the stored time range
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{Meters: len(s.series), Readings: s.count, Newest: s.newest}
	for _, series := range s.series {
		if len(series) == 0 {
			continue
		}
		if first := series[0].Timestamp; st.Oldest.IsZero() || first.Before(st.Oldest) {
			st.Oldest = first
		}
	}
	return st
}
