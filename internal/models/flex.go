// Killfeed - Killmail Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/killfeed

package models

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// The feed is inconsistent about numeric encoding: the same field may be a
// JSON number in one record and a quoted, sometimes comma-grouped, string in
// the next. The Flex types accept both and treat null or "" as absent.

var jsonNull = []byte("null")

// FlexInt64 is an int64 that may arrive as a number or a numeric string.
type FlexInt64 struct {
	Value int64
	Valid bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexInt64) UnmarshalJSON(data []byte) error {
	raw, ok, err := flexScalar(data)
	if err != nil || !ok {
		*f = FlexInt64{}
		return err
	}
	if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*f = FlexInt64{Value: v, Valid: true}
		return nil
	}
	fv, err := strconv.ParseFloat(raw, 64)
	if err != nil || fv != math.Trunc(fv) || fv >= math.MaxInt64 || fv < math.MinInt64 {
		return fmt.Errorf("invalid integer %q", raw)
	}
	*f = FlexInt64{Value: int64(fv), Valid: true}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (f FlexInt64) MarshalJSON() ([]byte, error) {
	if !f.Valid {
		return jsonNull, nil
	}
	return []byte(strconv.FormatInt(f.Value, 10)), nil
}

// Ptr returns nil when the value is absent.
func (f FlexInt64) Ptr() *int64 {
	if !f.Valid {
		return nil
	}
	v := f.Value
	return &v
}

// FlexFloat64 is a float64 that may arrive as a number or a numeric string.
type FlexFloat64 struct {
	Value float64
	Valid bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexFloat64) UnmarshalJSON(data []byte) error {
	raw, ok, err := flexScalar(data)
	if err != nil || !ok {
		*f = FlexFloat64{}
		return err
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("invalid number %q", raw)
	}
	*f = FlexFloat64{Value: v, Valid: true}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (f FlexFloat64) MarshalJSON() ([]byte, error) {
	if !f.Valid {
		return jsonNull, nil
	}
	return []byte(strconv.FormatFloat(f.Value, 'f', -1, 64)), nil
}

// FlexTime accepts RFC 3339 strings, "2006-01-02 15:04:05" strings and unix
// seconds (number or string).
type FlexTime struct {
	Value time.Time
	Valid bool
}

var flexTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006.01.02 15:04:05",
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexTime) UnmarshalJSON(data []byte) error {
	raw, ok, err := flexScalar(data)
	if err != nil || !ok {
		*f = FlexTime{}
		return err
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*f = FlexTime{Value: time.Unix(secs, 0).UTC(), Valid: true}
		return nil
	}
	for _, layout := range flexTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			*f = FlexTime{Value: t.UTC(), Valid: true}
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp %q", raw)
}

// MarshalJSON implements json.Marshaler.
func (f FlexTime) MarshalJSON() ([]byte, error) {
	if !f.Valid {
		return jsonNull, nil
	}
	return json.Marshal(f.Value.Format(time.RFC3339))
}

// flexScalar returns the textual value of a JSON number or string. ok is
// false for null and the empty string.
func flexScalar(data []byte) (string, bool, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, jsonNull) {
		return "", false, nil
	}

	var raw string
	if data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return "", false, err
		}
		raw = strings.TrimSpace(raw)
		raw = strings.NewReplacer(",", "", "_", "").Replace(raw)
	} else {
		switch data[0] {
		case '{', '[', 't', 'f':
			return "", false, fmt.Errorf("expected number or string, got %s", data)
		}
		raw = string(data)
	}
	if raw == "" {
		return "", false, nil
	}
	return raw, true, nil
}
