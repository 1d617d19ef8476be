package clients

import (
	"context"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// PlotJob asks an external worker to render one observation.
type PlotJob struct {
	ID              string    `json:"id"`
	Kind            string    `json:"kind"`
	InputPath       string    `json:"inputPath"`
	TriggerPath     string    `json:"triggerPath"`
	Station         string    `json:"station"`
	Instrument      string    `json:"instrument"`
	InstrumentID    int64     `json:"instrumentId"`
	ObservationID   int64     `json:"observationId"`
	ObservationTime time.Time `json:"observationTime"`
	SubmittedAt     time.Time `json:"submittedAt"`

	// Station details used by the magnetometer plots.
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Grid      string   `json:"grid,omitempty"`
	Nickname  string   `json:"nickname,omitempty"`
}

// JobQueue accepts plot jobs. Submissions are fire-and-forget.
type JobQueue interface {
	Submit(ctx context.Context, job PlotJob) error
	Close() error
}

func encodeJob(job PlotJob) ([]byte, error) {
	return json.Marshal(job)
}
