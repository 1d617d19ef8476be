package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"psws/backend/services/ingest-watcher/internal/clients"
	"psws/backend/services/ingest-watcher/internal/handlers"
	"psws/backend/services/ingest-watcher/internal/ingesterr"
	"psws/backend/services/ingest-watcher/internal/models"
	"psws/backend/services/ingest-watcher/internal/repository"
	"psws/backend/services/ingest-watcher/internal/trigger"
)

// Catalog resolves identities and writes observations.
type Catalog interface {
	Resolve(ctx context.Context, stationCode, instrument string) (repository.Target, error)
	Upsert(ctx context.Context, target repository.Target, obs models.Observation) (repository.UpsertResult, error)
}

// HandlerRegistry selects the handler for an upload kind.
type HandlerRegistry interface {
	For(kind trigger.Kind) (handlers.Handler, error)
}

// JobDispatcher hands plot jobs to the external queue.
type JobDispatcher interface {
	Dispatch(ctx context.Context, job clients.PlotJob) error
}

// Stats are cumulative pipeline counters.
type Stats struct {
	Detected            uint64 `json:"detected"`
	Cleaned             uint64 `json:"cleaned"`
	Failed              uint64 `json:"failed"`
	TestMarkers         uint64 `json:"testMarkers"`
	ObservationsCreated uint64 `json:"observationsCreated"`
	ObservationsUpdated uint64 `json:"observationsUpdated"`
	DispatchFailures    uint64 `json:"dispatchFailures"`
}

type counters struct {
	detected, cleaned, failed, testMarkers atomic.Uint64
	created, updated, dispatchFailures     atomic.Uint64
}

// IngestService runs one marker through classify, extract, persist,
// dispatch and clean.
type IngestService struct {
	classifier trigger.Classifier
	registry   HandlerRegistry
	catalog    Catalog
	dispatcher JobDispatcher
	events     EventSink
	logger     *zap.Logger
	now        func() time.Time
	removeDir  func(string) error
	stats      counters
}

// NewIngestService wires the pipeline. events may be nil.
func NewIngestService(classifier trigger.Classifier, registry HandlerRegistry, catalog Catalog, dispatcher JobDispatcher, events EventSink, logger *zap.Logger) *IngestService {
	if events == nil {
		events = discardSink{}
	}
	return &IngestService{
		classifier: classifier,
		registry:   registry,
		catalog:    catalog,
		dispatcher: dispatcher,
		events:     events,
		logger:     logger,
		now:        time.Now,
		removeDir:  os.Remove,
	}
}

// Stats returns a snapshot of the counters.
func (s *IngestService) Stats() Stats {
	return Stats{
		Detected:            s.stats.detected.Load(),
		Cleaned:             s.stats.cleaned.Load(),
		Failed:              s.stats.failed.Load(),
		TestMarkers:         s.stats.testMarkers.Load(),
		ObservationsCreated: s.stats.created.Load(),
		ObservationsUpdated: s.stats.updated.Load(),
		DispatchFailures:    s.stats.dispatchFailures.Load(),
	}
}

// run tracks the identity and stage of one marker.
type run struct {
	path       string
	station    string
	instrument string
	kind       string
	state      State
}

func (r *run) fields(extra ...zap.Field) []zap.Field {
	out := []zap.Field{zap.String("path", r.path), zap.String("state", r.state.String())}
	if r.station != "" {
		out = append(out, zap.String("station", r.station))
	}
	if r.instrument != "" {
		out = append(out, zap.String("instrument", r.instrument))
	}
	if r.kind != "" {
		out = append(out, zap.String("kind", r.kind))
	}
	return append(out, extra...)
}

func (s *IngestService) transition(r *run, state State) {
	r.state = state
	s.events.Publish(Event{
		Time:       s.now().UTC(),
		Path:       r.path,
		Station:    r.station,
		Instrument: r.instrument,
		Kind:       r.kind,
		State:      state,
	})
}

// Process drives the marker at path to a terminal state. Only a Cleaned
// outcome removes the marker.
func (s *IngestService) Process(ctx context.Context, path string) Outcome {
	r := &run{path: path}
	s.stats.detected.Add(1)
	s.transition(r, StateMarkerDetected)
	s.logger.Info("trigger event", r.fields()...)

	if s.classifier.IsTestMarker(path) {
		s.stats.testMarkers.Add(1)
		if err := s.removeMarker(path); err != nil {
			return s.fail(r, ingesterr.Persistence("remove test marker", err))
		}
		s.logger.Info("test marker seen and removed", r.fields()...)
		return s.clean(r, 0)
	}

	d, err := s.classifier.Classify(path)
	if err != nil {
		return s.fail(r, err)
	}
	r.station, r.instrument, r.kind = d.Station, d.Instrument, d.Kind.String()
	s.transition(r, StateClassified)

	target, err := s.catalog.Resolve(ctx, d.Station, d.Instrument)
	if err != nil {
		return s.fail(r, err)
	}

	handler, err := s.registry.For(d.Kind)
	if err != nil {
		return s.fail(r, err)
	}
	records, err := handler.Handle(ctx, d)
	if err != nil {
		return s.fail(r, err)
	}
	s.transition(r, StateExtracted)

	type persisted struct {
		record handlers.Record
		id     int64
	}
	done := make([]persisted, 0, len(records))
	for _, rec := range records {
		res, err := s.catalog.Upsert(ctx, target, rec.Observation)
		if err != nil {
			return s.fail(r, err)
		}
		if res.Created {
			s.stats.created.Add(1)
		} else {
			s.stats.updated.Add(1)
		}
		s.logger.Info("observation recorded", r.fields(
			zap.String("file", rec.Observation.FileName),
			zap.Int64("observation_id", res.ObservationID),
			zap.Bool("created", res.Created),
			zap.String("size", humanize.Bytes(uint64(rec.Observation.Size))),
			zap.Float64s("skipped_frequencies", res.SkippedFrequencies),
		)...)
		done = append(done, persisted{record: rec, id: res.ObservationID})
	}
	s.transition(r, StatePersisted)

	for _, p := range done {
		job := clients.PlotJob{
			Kind:            r.kind,
			InputPath:       p.record.PlotInput,
			TriggerPath:     path,
			Station:         target.Station.Code,
			Instrument:      target.Instrument.Name,
			InstrumentID:    target.Instrument.ID,
			ObservationID:   p.id,
			ObservationTime: p.record.Observation.StartDate,
			Latitude:        coalesce(target.Station.Latitude, p.record.Latitude),
			Longitude:       coalesce(target.Station.Longitude, p.record.Longitude),
			Grid:            target.Station.Grid,
			Nickname:        target.Station.Nickname,
		}
		if err := s.dispatcher.Dispatch(ctx, job); err != nil {
			s.stats.dispatchFailures.Add(1)
			s.logger.Warn("plot dispatch failed", r.fields(
				zap.String("reason", ingesterr.Reason(err)),
				zap.String("error_kind", ingesterr.KindOf(err).String()),
				zap.Error(err),
			)...)
		}
	}
	s.transition(r, StateDispatched)

	if err := s.removeMarker(path); err != nil {
		return s.fail(r, ingesterr.Persistence("remove marker", err))
	}
	return s.clean(r, len(records))
}

// coalesce prefers the registered coordinate over the archive's.
func coalesce(registered, recorded *float64) *float64 {
	if registered != nil {
		return registered
	}
	return recorded
}

func (s *IngestService) removeMarker(path string) error {
	err := s.removeDir(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (s *IngestService) clean(r *run, records int) Outcome {
	s.stats.cleaned.Add(1)
	s.transition(r, StateCleaned)
	s.logger.Info("marker removed", r.fields(zap.Int("records", records))...)
	return Outcome{State: StateCleaned, Records: records}
}

func (s *IngestService) fail(r *run, err error) Outcome {
	from := r.state
	kind := ingesterr.KindOf(err)
	reason := ingesterr.Reason(err)
	retryable := ingesterr.IsRetryable(err)
	if errors.Is(err, context.Canceled) {
		reason = fmt.Sprintf("interrupted: %s", reason)
	}

	s.stats.failed.Add(1)
	fields := r.fields(
		zap.String("reason", reason),
		zap.String("error_kind", kind.String()),
		zap.Bool("retryable", retryable),
		zap.Error(err),
	)
	if kind == ingesterr.KindClassification {
		s.logger.Error("marker parked for inspection", fields...)
	} else {
		s.logger.Warn("marker processing failed, marker retained", fields...)
	}

	r.state = StateFailed
	s.events.Publish(Event{
		Time:       s.now().UTC(),
		Path:       r.path,
		Station:    r.station,
		Instrument: r.instrument,
		Kind:       r.kind,
		State:      StateFailed,
		Reason:     reason,
		ErrorKind:  kind.String(),
	})
	return Outcome{State: StateFailed, From: from, Reason: reason, Err: err, Retryable: retryable}
}
