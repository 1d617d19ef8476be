// Package drf reads bounds and metadata from self-describing sensor archives.
package drf

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// ErrUnavailable marks an absent or unreadable archive.
var ErrUnavailable = errors.New("drf: metadata unavailable")

// Standard metadata field names.
const (
	FieldSampleRateNumerator   = "sample_rate_numerator"
	FieldSampleRateDenominator = "sample_rate_denominator"
	FieldCenterFrequencies     = "center_frequencies"
	FieldLatitude              = "lat"
	FieldLongitude             = "long"
)

// MetadataReader exposes one metadata store.
type MetadataReader interface {
	Bounds(ctx context.Context) (first, last int64, err error)
	Fields(ctx context.Context) ([]string, error)
	Read(ctx context.Context, start, end int64, field string) (map[int64]any, error)
}

// Source opens metadata stores and reports sample bounds of data channels.
type Source interface {
	OpenMetadata(ctx context.Context, dir string) (MetadataReader, error)
	DataBounds(ctx context.Context, dataDir, channel string) (first, last int64, err error)
}

// FirstValue reads field at the lower bound of r and returns the earliest sample.
func FirstValue(ctx context.Context, r MetadataReader, field string) (any, error) {
	first, _, err := r.Bounds(ctx)
	if err != nil {
		return nil, err
	}
	values, err := r.Read(ctx, first, first+2, field)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: field %s has no samples", ErrUnavailable, field)
	}
	var (
		key   int64
		found bool
	)
	for k := range values {
		if !found || k < key {
			key, found = k, true
		}
	}
	return values[key], nil
}

type floatNumber interface {
	Float64() (float64, error)
}

// Float converts a decoded metadata value to float64. Single element lists
// are unwrapped.
func Float(v any) (float64, error) {
	var (
		f   float64
		err error
	)
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case string:
		f, err = strconv.ParseFloat(t, 64)
	case floatNumber:
		f, err = t.Float64()
	case []any:
		if len(t) != 1 {
			return 0, fmt.Errorf("drf: expected scalar, got list of %d", len(t))
		}
		return Float(t[0])
	default:
		return 0, fmt.Errorf("drf: non-numeric value %T", v)
	}
	if err != nil {
		return 0, fmt.Errorf("drf: non-numeric value %v: %w", v, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("drf: non-finite value %v", f)
	}
	return f, nil
}

// Floats converts a scalar or list metadata value to a float slice.
func Floats(v any) ([]float64, error) {
	list, ok := v.([]any)
	if !ok {
		f, err := Float(v)
		if err != nil {
			return nil, err
		}
		return []float64{f}, nil
	}
	out := make([]float64, 0, len(list))
	for _, item := range list {
		f, err := Float(item)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}
