package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"psws/backend/services/ingest-watcher/internal/service"
	"psws/backend/services/ingest-watcher/internal/watcher"
)

type fakeSnapshotter []watcher.DirStatus

func (f fakeSnapshotter) Snapshot() []watcher.DirStatus { return f }

type fakeStats service.Stats

func (f fakeStats) Stats() service.Stats { return service.Stats(f) }

func TestHealthHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
}

func TestStatusHandlerCountsMarkers(t *testing.T) {
	dirs := fakeSnapshotter{{
		Path:   "/psws/home/N000123",
		Layout: "flat",
		Markers: []watcher.MarkerStatus{
			{Name: "c_#7", Attempts: 2},
			{Name: "xbad", Attempts: 1, Parked: true},
		},
	}}
	handler := NewStatusHandler("/psws/home", time.Now().Add(-time.Hour), dirs, fakeStats{Cleaned: 5, Failed: 3})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Pending != 1 || resp.Parked != 1 || resp.Stats.Cleaned != 5 || resp.Root != "/psws/home" {
		t.Fatalf("unexpected status %+v", resp)
	}
	if !strings.Contains(resp.Started, "hour") {
		t.Errorf("started = %q", resp.Started)
	}
}
