package handlers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"psws/backend/services/ingest-watcher/internal/ingesterr"
	"psws/backend/services/ingest-watcher/internal/models"
	"psws/backend/services/ingest-watcher/internal/trigger"
)

const (
	// LegacyCSVDuration is the fixed span of one legacy CSV capture.
	LegacyCSVDuration = 1439 * time.Minute

	legacyStampLayout = "2006-01-02T150405"
)

// LegacyCSVHandler ingests one legacy CSV capture per marker.
type LegacyCSVHandler struct {
	logger *zap.Logger
}

// NewLegacyCSVHandler returns the handler for fldigi CSV uploads.
func NewLegacyCSVHandler(logger *zap.Logger) *LegacyCSVHandler {
	return &LegacyCSVHandler{logger: logger}
}

func (h *LegacyCSVHandler) Handle(ctx context.Context, d trigger.Descriptor) ([]Record, error) {
	if d.DataFile == "" {
		return nil, ingesterr.Classification("legacy csv marker does not name a file")
	}
	if len(d.ObservationID) < len(legacyStampLayout) {
		return nil, ingesterr.Classification(fmt.Sprintf("legacy csv name %q too short for timestamp", d.ObservationID))
	}
	stamp := d.ObservationID[:len(legacyStampLayout)]
	start, err := time.ParseInLocation(legacyStampLayout, stamp, time.UTC)
	if err != nil {
		return nil, ingesterr.Classification(fmt.Sprintf("legacy csv timestamp %q unparseable", stamp))
	}

	info, err := os.Stat(d.DataFile)
	if err != nil {
		return nil, ingesterr.MetadataUnavailable("stat legacy csv file", err)
	}
	if info.IsDir() {
		return nil, ingesterr.MetadataUnavailable("legacy csv path is a directory", nil)
	}

	h.logger.Info("legacy csv extracted",
		zap.String("path", d.TriggerPath),
		zap.String("station", d.Station),
		zap.String("instrument", d.Instrument),
		zap.Time("start", start),
		zap.Int64("size", info.Size()),
	)

	return []Record{{
		Station:    d.Station,
		Instrument: d.Instrument,
		Observation: models.Observation{
			FileName:  filepath.Base(d.DataFile),
			Path:      filepath.Dir(d.DataFile),
			DataRate:  1,
			Size:      info.Size(),
			StartDate: start,
			EndDate:   start.Add(LegacyCSVDuration),
			DataType:  models.DataTypeCSV,
		},
		PlotInput: d.DataFile,
	}}, nil
}
