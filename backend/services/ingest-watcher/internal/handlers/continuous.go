package handlers

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"psws/backend/services/ingest-watcher/internal/drf"
	"psws/backend/services/ingest-watcher/internal/ingesterr"
	"psws/backend/services/ingest-watcher/internal/models"
	"psws/backend/services/ingest-watcher/internal/trigger"
)

const (
	drfPropertiesFile = "drf_properties.h5"
	dmdPropertiesFile = "dmd_properties.h5"

	// Center frequencies at or above this are reported in Hz.
	hzThreshold = 1e5
)

// ContinuousHandler ingests continuous-RF sensor archives.
type ContinuousHandler struct {
	source  drf.Source
	channel string
	logger  *zap.Logger
}

// NewContinuousHandler builds the handler reading metadata through source.
func NewContinuousHandler(source drf.Source, channel string, logger *zap.Logger) *ContinuousHandler {
	return &ContinuousHandler{source: source, channel: channel, logger: logger}
}

func (h *ContinuousHandler) Handle(ctx context.Context, d trigger.Descriptor) ([]Record, error) {
	channelDir := filepath.Join(d.DataDir, h.channel)
	metadataDir := d.MetadataDir
	if metadataDir == "" {
		metadataDir = filepath.Join(channelDir, "metadata")
	}

	if err := requireDir(channelDir); err != nil {
		return nil, err
	}
	if err := requireFile(filepath.Join(channelDir, drfPropertiesFile)); err != nil {
		return nil, err
	}
	if err := requireDir(metadataDir); err != nil {
		return nil, err
	}
	if err := requireFile(filepath.Join(metadataDir, dmdPropertiesFile)); err != nil {
		return nil, err
	}

	reader, err := h.source.OpenMetadata(ctx, metadataDir)
	if err != nil {
		return nil, ingesterr.MetadataUnavailable("open metadata", err)
	}
	fields, err := reader.Fields(ctx)
	if err != nil {
		return nil, ingesterr.MetadataUnavailable("list metadata fields", err)
	}
	available := make(map[string]bool, len(fields))
	for _, f := range fields {
		available[f] = true
	}

	rate, err := sampleRate(ctx, reader, available)
	if err != nil {
		return nil, err
	}

	var freqs []float64
	if available[drf.FieldCenterFrequencies] {
		raw, err := drf.FirstValue(ctx, reader, drf.FieldCenterFrequencies)
		if err != nil {
			return nil, ingesterr.MetadataUnavailable("read center frequencies", err)
		}
		values, err := drf.Floats(raw)
		if err != nil {
			return nil, ingesterr.MetadataUnavailable("center frequencies not numeric", err)
		}
		freqs = normalizeFrequencies(values)
	} else {
		h.logger.Warn("metadata has no center frequencies", zap.String("path", d.TriggerPath))
	}

	first, last, err := h.source.DataBounds(ctx, d.DataDir, h.channel)
	if err != nil {
		return nil, ingesterr.MetadataUnavailable("read data bounds", err)
	}

	// A bare marker names no observation directory, so only the channel is its own.
	sizeRoot := d.DataDir
	if d.DataDir == d.StationDir {
		sizeRoot = channelDir
	}
	size, err := dirSize(sizeRoot)
	if err != nil {
		return nil, ingesterr.MetadataUnavailable("measure data directory", err)
	}

	obs := models.Observation{
		FileName:          d.FileName(),
		Path:              d.DataDir,
		DataRate:          int64(math.Round(rate)),
		Size:              size,
		StartDate:         SampleTime(first, rate),
		EndDate:           SampleTime(last, rate),
		CenterFrequencies: freqs,
		DataType:          models.DataTypeSpectrum,
	}

	h.logger.Info("continuous upload extracted",
		zap.String("path", d.TriggerPath),
		zap.String("station", d.Station),
		zap.String("instrument", d.Instrument),
		zap.Float64("sample_rate", rate),
		zap.Time("start", obs.StartDate),
		zap.Time("end", obs.EndDate),
		zap.Float64s("center_frequencies", freqs),
		zap.String("size", humanize.Bytes(uint64(size))),
	)

	rec := Record{
		Station:     d.Station,
		Instrument:  d.Instrument,
		Observation: obs,
		PlotInput:   d.DataDir,
	}
	rec.Latitude = optionalFloat(ctx, reader, available, drf.FieldLatitude)
	rec.Longitude = optionalFloat(ctx, reader, available, drf.FieldLongitude)
	return []Record{rec}, nil
}

// optionalFloat reads a numeric field the archive may omit; nil when absent or unusable.
func optionalFloat(ctx context.Context, reader drf.MetadataReader, available map[string]bool, field string) *float64 {
	if !available[field] {
		return nil
	}
	raw, err := drf.FirstValue(ctx, reader, field)
	if err != nil {
		return nil
	}
	v, err := drf.Float(raw)
	if err != nil {
		return nil
	}
	return &v
}

func sampleRate(ctx context.Context, reader drf.MetadataReader, available map[string]bool) (float64, error) {
	if !available[drf.FieldSampleRateNumerator] {
		return 0, ingesterr.MetadataUnavailable("sample rate not present in metadata", nil)
	}
	raw, err := drf.FirstValue(ctx, reader, drf.FieldSampleRateNumerator)
	if err != nil {
		return 0, ingesterr.MetadataUnavailable("read sample rate", err)
	}
	rate, err := drf.Float(raw)
	if err != nil {
		return 0, ingesterr.MetadataUnavailable("sample rate not numeric", err)
	}

	if available[drf.FieldSampleRateDenominator] {
		rawDen, err := drf.FirstValue(ctx, reader, drf.FieldSampleRateDenominator)
		if err != nil {
			return 0, ingesterr.MetadataUnavailable("read sample rate denominator", err)
		}
		if den, err := drf.Float(rawDen); err == nil && den > 0 {
			rate /= den
		}
	}

	if rate <= 0 {
		return 0, ingesterr.MetadataUnavailable(fmt.Sprintf("sample rate %v is not positive", rate), nil)
	}
	return rate, nil
}

// SampleTime converts a sample index to wall-clock UTC (index / rate seconds
// since the epoch). Integral rates are computed exactly.
func SampleTime(index int64, rate float64) time.Time {
	if rate >= 1 && rate == math.Trunc(rate) && rate < math.MaxInt32 {
		r := int64(rate)
		sec := index / r
		rem := index % r
		return time.Unix(sec, rem*int64(time.Second)/r).UTC()
	}
	secs := float64(index) / rate
	whole := math.Floor(secs)
	return time.Unix(int64(whole), int64(math.Round((secs-whole)*1e9))).UTC()
}

// normalizeFrequencies returns MHz values rounded to the catalog's 3 decimals.
func normalizeFrequencies(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if v >= hzThreshold {
			v /= 1e6
		}
		out = append(out, math.Round(v*1000)/1000)
	}
	return out
}
