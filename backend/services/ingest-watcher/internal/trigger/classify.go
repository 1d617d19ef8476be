package trigger

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"psws/backend/services/ingest-watcher/internal/ingesterr"
)

const (
	// InstrumentDelimiter separates the payload from the instrument tag.
	InstrumentDelimiter = "_#"
	// DefaultTestMarker is the liveness check marker stations create and expect removed.
	DefaultTestMarker = "m_Test"
	DefaultChannel    = "ch0"

	MagnetometerDir = "magData"
	LegacyCSVDir    = "csvData"

	// "OBS" plus a 16 character timestamp.
	observationIDLen = 19
	uploadStampLen   = 16
	nestedHomeDir    = "home"
)

// ErrTestMarker is returned for the liveness check marker.
var ErrTestMarker = errors.New("trigger: test marker")

// Descriptor is everything the handlers need to know about one marker.
type Descriptor struct {
	TriggerPath string
	Name        string
	Kind        Kind
	Layout      Layout
	// StationDir is the canonical directory holding the marker and its data.
	StationDir    string
	Station       string
	Instrument    string
	ObservationID string
	DataDir       string
	// DataFile is set for kinds whose payload names a single file.
	DataFile    string
	MetadataDir string
	// UploadStamp is the raw upload timestamp carried by magnetometer markers.
	UploadStamp string
}

// FileName is the natural-key file name for the observation.
func (d Descriptor) FileName() string {
	if d.DataFile != "" {
		return filepath.Base(d.DataFile)
	}
	if d.ObservationID != "" {
		return d.ObservationID
	}
	return filepath.Base(d.DataDir)
}

// Classifier parses marker paths. The zero value uses the default channel
// and test marker name.
type Classifier struct {
	Channel    string
	TestMarker string
}

// Classify parses path with the default Classifier.
func Classify(path string) (Descriptor, error) {
	return Classifier{}.Classify(path)
}

// IsTestMarker reports whether path names the liveness check marker.
func IsTestMarker(path string) bool {
	return Classifier{}.IsTestMarker(path)
}

func (c Classifier) IsTestMarker(path string) bool {
	return filepath.Base(path) == c.testMarker()
}

func (c Classifier) testMarker() string {
	if c.TestMarker == "" {
		return DefaultTestMarker
	}
	return c.TestMarker
}

func (c Classifier) channel() string {
	if c.Channel == "" {
		return DefaultChannel
	}
	return c.Channel
}

// Classify turns a marker path into a Descriptor. It touches nothing on disk.
// Failures other than ErrTestMarker are *ingesterr.Error of kind Classification.
func (c Classifier) Classify(path string) (Descriptor, error) {
	path = filepath.Clean(path)
	name := filepath.Base(path)
	if name == c.testMarker() {
		return Descriptor{}, ErrTestMarker
	}
	if name == "" || name == "." || name == string(filepath.Separator) {
		return Descriptor{}, ingesterr.Classification("empty marker name")
	}

	kind, ok := ParseKind(name[0])
	if !ok {
		return Descriptor{}, ingesterr.Classification(fmt.Sprintf("unrecognized upload type %q", name[:1]))
	}

	idx := strings.Index(name, InstrumentDelimiter)
	if idx < 0 {
		return Descriptor{}, ingesterr.Classification(fmt.Sprintf("instrument delimiter %q not found", InstrumentDelimiter))
	}
	instrument := strings.TrimSpace(name[idx+len(InstrumentDelimiter):])
	if instrument == "" {
		return Descriptor{}, ingesterr.Classification("empty instrument tag")
	}
	payload := name[1:idx]

	stationDir := filepath.Dir(path)
	d := Descriptor{
		TriggerPath: path,
		Name:        name,
		Kind:        kind,
		Layout:      detectLayout(stationDir),
		StationDir:  stationDir,
		Station:     filepath.Base(stationDir),
		Instrument:  instrument,
	}

	switch kind {
	case KindContinuousRF:
		d.ObservationID = payload
		if len(d.ObservationID) > observationIDLen {
			d.ObservationID = d.ObservationID[:observationIDLen]
		}
		d.DataDir = filepath.Join(stationDir, d.ObservationID)
		d.MetadataDir = filepath.Join(d.DataDir, c.channel(), "metadata")
	case KindMagnetometer:
		d.ObservationID = payload
		d.DataDir = filepath.Join(stationDir, MagnetometerDir)
		if len(payload) >= uploadStampLen {
			d.UploadStamp = payload[len(payload)-uploadStampLen:]
		}
	case KindLegacyCSV:
		if payload == "" {
			return Descriptor{}, ingesterr.Classification("legacy csv marker has no observation name")
		}
		station, err := legacyStation(payload)
		if err != nil {
			return Descriptor{}, err
		}
		d.ObservationID = payload
		d.Station = station
		d.DataDir = filepath.Join(stationDir, LegacyCSVDir)
		d.DataFile = filepath.Join(d.DataDir, payload)
	case KindDataRequest:
		d.ObservationID = payload
		d.DataDir = stationDir
	}

	return d, nil
}

// legacyStation extracts the node number carried in the second underscore
// separated field; eight character node numbers drop their second character.
func legacyStation(payload string) (string, error) {
	fields := strings.Split(payload, "_")
	if len(fields) < 2 || fields[1] == "" {
		return "", ingesterr.Classification("legacy csv name lacks station field")
	}
	station := fields[1]
	if len(station) == 8 {
		station = station[:1] + station[2:]
	}
	return station, nil
}

func detectLayout(stationDir string) Layout {
	home := filepath.Dir(stationDir)
	if filepath.Base(home) != nestedHomeDir {
		return LayoutFlat
	}
	if filepath.Base(filepath.Dir(home)) == filepath.Base(stationDir) {
		return LayoutNested
	}
	return LayoutFlat
}
