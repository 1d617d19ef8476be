package handlers

import (
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"psws/backend/services/ingest-watcher/internal/service"
	"psws/backend/services/ingest-watcher/internal/watcher"
)

// WatchSnapshotter reports watched directories.
type WatchSnapshotter interface {
	Snapshot() []watcher.DirStatus
}

// StatsSource reports pipeline counters.
type StatsSource interface {
	Stats() service.Stats
}

type statusResponse struct {
	Root        string              `json:"root"`
	StartedAt   time.Time           `json:"startedAt"`
	Started     string              `json:"started"`
	Uptime      string              `json:"uptime"`
	Directories []watcher.DirStatus `json:"directories"`
	Pending     int                 `json:"pending"`
	Parked      int                 `json:"parked"`
	Stats       service.Stats       `json:"stats"`
}

// NewStatusHandler returns GET /status handler.
func NewStatusHandler(root string, started time.Time, dirs WatchSnapshotter, stats StatsSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := statusResponse{
			Root:        root,
			StartedAt:   started.UTC(),
			Started:     humanize.Time(started),
			Uptime:      time.Since(started).Round(time.Second).String(),
			Directories: dirs.Snapshot(),
			Stats:       stats.Stats(),
		}
		for _, d := range resp.Directories {
			for _, m := range d.Markers {
				if m.Parked {
					resp.Parked++
				} else {
					resp.Pending++
				}
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
