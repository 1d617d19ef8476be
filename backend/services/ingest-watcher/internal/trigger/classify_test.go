package trigger

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"psws/backend/services/ingest-watcher/internal/ingesterr"
)

func TestClassifyContinuous(t *testing.T) {
	d, err := Classify("/psws/home/N000123/cOBS2024-03-01T00:00_#7")
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if d.Kind != KindContinuousRF || d.Station != "N000123" || d.Instrument != "7" {
		t.Fatalf("unexpected descriptor %+v", d)
	}
	if d.ObservationID != "OBS2024-03-01T00:00" {
		t.Errorf("observation id = %q", d.ObservationID)
	}
	if d.DataDir != "/psws/home/N000123/OBS2024-03-01T00:00" {
		t.Errorf("data dir = %q", d.DataDir)
	}
	if d.MetadataDir != "/psws/home/N000123/OBS2024-03-01T00:00/ch0/metadata" {
		t.Errorf("metadata dir = %q", d.MetadataDir)
	}
	if d.FileName() != "OBS2024-03-01T00:00" {
		t.Errorf("file name = %q", d.FileName())
	}
	if d.Layout != LayoutFlat {
		t.Errorf("layout = %s", d.Layout)
	}
}

func TestClassifyContinuousTrimsObservationID(t *testing.T) {
	d, err := Classify("/r/S000001/cOBS2024-03-01T00:00-extra_#radio")
	if err != nil {
		t.Fatal(err)
	}
	if d.ObservationID != "OBS2024-03-01T00:00" || d.Instrument != "radio" {
		t.Fatalf("unexpected descriptor %+v", d)
	}
}

func TestClassifyContinuousEmptyPayload(t *testing.T) {
	d, err := Classify("/r/N000123/c_#7")
	if err != nil {
		t.Fatal(err)
	}
	if d.DataDir != "/r/N000123" || d.FileName() != "N000123" {
		t.Fatalf("unexpected descriptor %+v", d)
	}
}

func TestClassifyMagnetometer(t *testing.T) {
	d, err := Classify("/r/S000099/m2024-03-01T12:30_#3")
	if err != nil {
		t.Fatal(err)
	}
	if d.Kind != KindMagnetometer {
		t.Fatalf("kind = %s", d.Kind)
	}
	if d.DataDir != "/r/S000099/magData" {
		t.Errorf("data dir = %q", d.DataDir)
	}
	if d.UploadStamp != "2024-03-01T12:30" {
		t.Errorf("upload stamp = %q", d.UploadStamp)
	}
}

func TestClassifyLegacyCSV(t *testing.T) {
	d, err := Classify("/r/N0000123/g2021-06-01T000000_N0000123_fldigi.csv_#1")
	if err != nil {
		t.Fatal(err)
	}
	if d.Station != "N000123" {
		t.Errorf("station = %q", d.Station)
	}
	want := filepath.Join("/r/N0000123", LegacyCSVDir, "2021-06-01T000000_N0000123_fldigi.csv")
	if d.DataFile != want {
		t.Errorf("data file = %q, want %q", d.DataFile, want)
	}
	if d.FileName() != "2021-06-01T000000_N0000123_fldigi.csv" {
		t.Errorf("file name = %q", d.FileName())
	}
}

func TestClassifyNestedLayout(t *testing.T) {
	d, err := Classify("/psws/home/stations/S000042/home/S000042/cOBS2024-03-01T00:00_#1")
	if err != nil {
		t.Fatal(err)
	}
	if d.Layout != LayoutNested || d.Station != "S000042" {
		t.Fatalf("unexpected descriptor %+v", d)
	}
	if d.DataDir != "/psws/home/stations/S000042/home/S000042/OBS2024-03-01T00:00" {
		t.Errorf("data dir = %q", d.DataDir)
	}
}

func TestClassifyFailures(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"unknown kind", "/r/S000001/xOBS_#1"},
		{"uppercase kind", "/r/S000001/COBS_#1"},
		{"missing delimiter", "/r/S000001/cOBS2024-03-01T00:00"},
		{"empty instrument", "/r/S000001/cOBS_#"},
		{"csv without name", "/r/S000001/g_#1"},
		{"csv without station", "/r/S000001/gonlyonefield.csv_#1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Classify(tt.path)
			if err == nil {
				t.Fatal("expected error")
			}
			var ie *ingesterr.Error
			if !errors.As(err, &ie) || ie.Kind != ingesterr.KindClassification {
				t.Fatalf("expected classification error, got %v", err)
			}
			if ie.Retryable() {
				t.Fatal("classification errors must not be retryable")
			}
		})
	}
}

func TestKindAlphabetCompleteness(t *testing.T) {
	for c := 1; c < 256; c++ {
		if c == '/' {
			continue
		}
		_, known := ParseKind(byte(c))
		path := "/r/S000001/" + string([]byte{byte(c)}) + "2024_S000001_payload_#1"
		_, err := Classify(path)
		if known {
			if err != nil {
				t.Errorf("known kind %q failed classification: %v", c, err)
			}
			continue
		}
		if ingesterr.KindOf(err) != ingesterr.KindClassification {
			t.Errorf("leading %q: expected classification error, got %v", c, err)
		}
	}
}

func TestClassifyDeterministic(t *testing.T) {
	paths := []string{
		"/r/N000123/cOBS2024-03-01T00:00_#7",
		"/r/S000099/m2024-03-01T12:30_#3",
		"/r/stations/T000001/home/T000001/g2021-06-01T000000_T0000001_x.csv_#2",
	}
	for _, p := range paths {
		a, errA := Classify(p)
		b, errB := Classify(p)
		if errA != nil || errB != nil {
			t.Fatalf("Classify(%s) failed: %v %v", p, errA, errB)
		}
		if !reflect.DeepEqual(a, b) {
			t.Fatalf("non-deterministic classification for %s", p)
		}
	}
}

func TestTestMarker(t *testing.T) {
	if !IsTestMarker("/r/S000001/m_Test") {
		t.Fatal("expected test marker")
	}
	if _, err := Classify("/r/S000001/m_Test"); !errors.Is(err, ErrTestMarker) {
		t.Fatalf("expected ErrTestMarker, got %v", err)
	}

	custom := Classifier{TestMarker: "heartbeat"}
	if !custom.IsTestMarker("/r/S000001/heartbeat") || custom.IsTestMarker("/r/S000001/m_Test") {
		t.Fatal("custom test marker not honoured")
	}
}
