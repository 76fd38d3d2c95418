package ingest

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kanna-karuppasamy/smart-grid-reconciler/internal/store"
	"github.com/kanna-karuppasamy/smart-grid-reconciler/internal/topology"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func xmlMsg(ts string, externalID int64, value string) []byte {
	return []byte(fmt.Sprintf(
		"<Reading><Date_time>%s</Date_time><MeterID>%d</MeterID><Value>%s</Value></Reading>",
		ts, externalID, value,
	))
}

func newTestPipeline(t *testing.T) (*Pipeline, *store.Store) {
	t.Helper()
	catalog, err := topology.LoadCatalog([]topology.CatalogRow{
		{MeterID: 1, ExternalID: 5001, Name: "Main Feeder"},
		{MeterID: 2, ExternalID: 5002, Name: "Load A"},
	})
	require.NoError(t, err)

	s := store.New(0)
	return NewPipeline(catalog, s, time.UTC, discardLogger(), nil), s
}

type countingRecorder struct {
	mu       sync.Mutex
	outcomes map[string]int
	negative int
}

func (r *countingRecorder) RecordIngest(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = make(map[string]int)
	}
	r.outcomes[outcome]++
}

func (r *countingRecorder) RecordNegativeDelta() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.negative++
}

func TestIngestFirstReadingIsBaseline(t *testing.T) {
	p, s := newTestPipeline(t)

	r, err := p.Ingest(xmlMsg("14 Mar 2025 10:00 AM", 5001, "1000"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), r.MeterID)
	assert.Equal(t, 0.0, r.Delta)
	assert.Equal(t, time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC), r.Timestamp)

	last, ok := s.LastReading(1)
	require.True(t, ok)
	assert.Equal(t, 1000.0, last.Cumulative)
}

func TestIngestComputesDelta(t *testing.T) {
	p, _ := newTestPipeline(t)

	_, err := p.Ingest(xmlMsg("14 Mar 2025 10:00 AM", 5001, "100"))
	require.NoError(t, err)
	r, err := p.Ingest(xmlMsg("14 Mar 2025 10:05 AM", 5001, "130"))
	require.NoError(t, err)
	assert.Equal(t, 30.0, r.Delta)
}

func TestIngestUnknownMeterDoesNotMutateStore(t *testing.T) {
	p, s := newTestPipeline(t)

	_, err := p.Ingest(xmlMsg("14 Mar 2025 10:00 AM", 9999, "100"))
	assert.ErrorIs(t, err, ErrUnknownMeter)
	assert.Equal(t, 0, s.Stats().Readings)
	assert.Equal(t, int64(1), p.Stats().UnknownMeter)
}

func TestIngestMalformedMessages(t *testing.T) {
	cases := map[string][]byte{
		"empty":           []byte("  "),
		"not xml":         []byte("<Reading><Date_time>"),
		"bad timestamp":   xmlMsg("2025-03-14T10:00:00Z", 5001, "1"),
		"missing value":   []byte("<R><Date_time>14 Mar 2025 10:00 AM</Date_time><MeterID>5001</MeterID></R>"),
		"non numeric":     xmlMsg("14 Mar 2025 10:00 AM", 5001, "abc"),
		"not finite":      xmlMsg("14 Mar 2025 10:00 AM", 5001, "NaN"),
		"non integer id":  []byte("<R><Date_time>14 Mar 2025 10:00 AM</Date_time><MeterID>50.5</MeterID><Value>1</Value></R>"),
		"json wrong type": []byte(`{"Date_time":"14 Mar 2025 10:00 AM","MeterID":true,"Value":1}`),
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			p, s := newTestPipeline(t)
			_, err := p.Ingest(raw)
			assert.ErrorIs(t, err, ErrMalformed)
			assert.Equal(t, 0, s.Stats().Readings)
			assert.Equal(t, int64(1), p.Stats().Malformed)
		})
	}
}

func TestIngestJSONPayload(t *testing.T) {
	p, _ := newTestPipeline(t)

	r, err := p.Ingest([]byte(`{"Date_time":"14 Mar 2025 01:30 PM","MeterID":"5002","Value":400.5}`))
	require.NoError(t, err)
	assert.Equal(t, int64(2), r.MeterID)
	assert.Equal(t, 13, r.Timestamp.Hour())
}

func TestIngestDuplicateIsDropped(t *testing.T) {
	p, s := newTestPipeline(t)

	_, err := p.Ingest(xmlMsg("14 Mar 2025 10:00 AM", 5001, "100"))
	require.NoError(t, err)
	_, err = p.Ingest(xmlMsg("14 Mar 2025 10:00 AM", 5001, "100"))
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.Equal(t, 1, s.Stats().Readings)

	st := p.Stats()
	assert.Equal(t, int64(1), st.Accepted)
	assert.Equal(t, int64(1), st.Duplicate)
	assert.Equal(t, int64(1), st.Dropped())
}

func TestIngestBehindTrimmedHistoryIsExpired(t *testing.T) {
	catalog, err := topology.LoadCatalog([]topology.CatalogRow{{MeterID: 1, ExternalID: 5001, Name: "Main Feeder"}})
	require.NoError(t, err)
	s := store.New(30 * time.Minute)
	p := NewPipeline(catalog, s, time.UTC, discardLogger(), nil)

	_, err = p.Ingest(xmlMsg("14 Mar 2025 10:00 AM", 5001, "100"))
	require.NoError(t, err)
	_, err = p.Ingest(xmlMsg("14 Mar 2025 11:00 AM", 5001, "160"))
	require.NoError(t, err)
	require.Equal(t, 1, s.Trim(time.Date(2025, 3, 14, 11, 0, 0, 0, time.UTC)))

	_, err = p.Ingest(xmlMsg("14 Mar 2025 09:55 AM", 5001, "95"))
	assert.ErrorIs(t, err, ErrExpired)

	st := p.Stats()
	assert.Equal(t, int64(1), st.Expired)
	assert.Equal(t, int64(1), st.Dropped())
	assert.Equal(t, 1, s.Stats().Readings)
}

func TestIngestRecordsOutcomesAndNegativeDeltas(t *testing.T) {
	catalog, err := topology.LoadCatalog([]topology.CatalogRow{{MeterID: 1, ExternalID: 5001}})
	require.NoError(t, err)
	rec := &countingRecorder{}
	p := NewPipeline(catalog, store.New(0), time.UTC, discardLogger(), rec)

	_, _ = p.Ingest(xmlMsg("14 Mar 2025 10:00 AM", 5001, "500"))
	_, _ = p.Ingest(xmlMsg("14 Mar 2025 10:01 AM", 5001, "10"))
	_, _ = p.Ingest([]byte("garbage"))

	assert.Equal(t, 2, rec.outcomes[OutcomeAccepted])
	assert.Equal(t, 1, rec.outcomes[OutcomeMalformed])
	assert.Equal(t, 1, rec.negative)

	st := p.Stats()
	assert.Equal(t, int64(1), st.NegativeDeltas)
	assert.False(t, st.LastIngest.IsZero())
	assert.Equal(t, time.Date(2025, 3, 14, 10, 1, 0, 0, time.UTC), st.LastReadingAt)
}

func TestParseUsesLocation(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)

	msg, err := Parse(xmlMsg("4 Mar 2025 9:05 PM", 5001, " 12.5 "), loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 4, 21, 5, 0, 0, loc), msg.Timestamp)
	assert.Equal(t, int64(5001), msg.ExternalID)
	assert.Equal(t, 12.5, msg.Value)
}
