package handlers

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"psws/backend/services/ingest-watcher/internal/drf"
	"psws/backend/services/ingest-watcher/internal/ingesterr"
	"psws/backend/services/ingest-watcher/internal/models"
	"psws/backend/services/ingest-watcher/internal/trigger"
)

// Record is a normalized observation ready for the catalog.
type Record struct {
	// Station is the station code of record; legacy CSV names may differ
	// from the directory the marker was found in.
	Station     string
	Instrument  string
	Observation models.Observation
	// PlotInput is the file or directory handed to the plot job.
	PlotInput string
	// Latitude and Longitude come from the archive when it records them.
	Latitude  *float64
	Longitude *float64
}

// Handler turns a classified marker into catalog records.
type Handler interface {
	Handle(ctx context.Context, d trigger.Descriptor) ([]Record, error)
}

// Options configures all handlers.
type Options struct {
	Channel string
	// Now is the wall clock; tests inject a fixed time.
	Now func() time.Time
}

// Registry maps every upload kind to its handler.
type Registry struct {
	continuous   Handler
	magnetometer Handler
	legacyCSV    Handler
	dataRequest  Handler
}

// NewRegistry builds the default handler set.
func NewRegistry(source drf.Source, opts Options, logger *zap.Logger) *Registry {
	if opts.Channel == "" {
		opts.Channel = trigger.DefaultChannel
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		continuous:   NewContinuousHandler(source, opts.Channel, logger),
		magnetometer: NewMagnetometerHandler(opts.Now, logger),
		legacyCSV:    NewLegacyCSVHandler(logger),
		dataRequest:  dataRequestHandler{},
	}
}

// For returns the handler for kind.
func (r *Registry) For(kind trigger.Kind) (Handler, error) {
	switch kind {
	case trigger.KindContinuousRF:
		return r.continuous, nil
	case trigger.KindMagnetometer:
		return r.magnetometer, nil
	case trigger.KindLegacyCSV:
		return r.legacyCSV, nil
	case trigger.KindDataRequest:
		return r.dataRequest, nil
	default:
		return nil, ingesterr.Classification(fmt.Sprintf("no handler for upload kind %s", kind))
	}
}

type dataRequestHandler struct{}

func (dataRequestHandler) Handle(context.Context, trigger.Descriptor) ([]Record, error) {
	return nil, ingesterr.MetadataUnavailable("data request uploads are not supported", nil)
}

// dirSize sums regular file sizes below root, skipping symlinks.
func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type()&fs.ModeSymlink != 0 || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}

func requireFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return ingesterr.MetadataUnavailable(fmt.Sprintf("missing %s", filepath.Base(path)), err)
	}
	if info.IsDir() {
		return ingesterr.MetadataUnavailable(fmt.Sprintf("%s is a directory", filepath.Base(path)), nil)
	}
	return nil
}

func requireDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return ingesterr.MetadataUnavailable(fmt.Sprintf("missing directory %s", path), err)
	}
	if !info.IsDir() {
		return ingesterr.MetadataUnavailable(fmt.Sprintf("%s is not a directory", path), nil)
	}
	return nil
}
