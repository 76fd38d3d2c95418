package ingest

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Device timestamps, e.g. "14 Mar 2025 10:05 AM". The unpadded forms are
// accepted too since some AMR firmware drops the leading zero.
var timestampLayouts = []string{
	"02 Jan 2006 03:04 PM",
	"2 Jan 2006 3:04 PM",
}

// Message is a parsed raw meter message, before catalog resolution
type Message struct {
	Timestamp  time.Time
	ExternalID int64
	Value      float64
}

type xmlMessage struct {
	DateTime string `xml:"Date_time"`
	MeterID  string `xml:"MeterID"`
	Value    string `xml:"Value"`
}

type jsonMessage struct {
	DateTime string      `json:"Date_time"`
	MeterID  json.Number `json:"MeterID"`
	Value    json.Number `json:"Value"`
}

// Parse decodes an AMR broadcast payload. XML is the native format; a JSON
// object with the same field names is also accepted. Timestamps carry no
// zone and are interpreted in loc.
func Parse(raw []byte, loc *time.Location) (Message, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Message{}, fmt.Errorf("%w: empty payload", ErrMalformed)
	}

	var dateTime, meterID, value string
	if trimmed[0] == '{' {
		var m jsonMessage
		if err := json.Unmarshal(trimmed, &m); err != nil {
			return Message{}, fmt.Errorf("%w: json: %v", ErrMalformed, err)
		}
		dateTime, meterID, value = m.DateTime, m.MeterID.String(), m.Value.String()
	} else {
		var m xmlMessage
		if err := xml.Unmarshal(trimmed, &m); err != nil {
			return Message{}, fmt.Errorf("%w: xml: %v", ErrMalformed, err)
		}
		dateTime, meterID, value = m.DateTime, m.MeterID, m.Value
	}

	return buildMessage(strings.TrimSpace(dateTime), strings.TrimSpace(meterID), strings.TrimSpace(value), loc)
}

func buildMessage(dateTime, meterID, value string, loc *time.Location) (Message, error) {
	if dateTime == "" || meterID == "" || value == "" {
		return Message{}, fmt.Errorf("%w: missing Date_time, MeterID or Value", ErrMalformed)
	}
	if loc == nil {
		loc = time.UTC
	}

	ts, err := parseTimestamp(dateTime, loc)
	if err != nil {
		return Message{}, err
	}

	id, err := strconv.ParseInt(meterID, 10, 64)
	if err != nil {
		return Message{}, fmt.Errorf("%w: meter id %q is not an integer", ErrMalformed, meterID)
	}

	v, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return Message{}, fmt.Errorf("%w: value %q is not a finite number", ErrMalformed, value)
	}

	return Message{Timestamp: ts, ExternalID: id, Value: v}, nil
}

func parseTimestamp(s string, loc *time.Location) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, s, loc); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: timestamp %q", ErrMalformed, s)
}
