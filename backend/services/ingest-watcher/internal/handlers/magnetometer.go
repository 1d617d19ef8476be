package handlers

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"

	"psws/backend/services/ingest-watcher/internal/ingesterr"
	"psws/backend/services/ingest-watcher/internal/models"
	"psws/backend/services/ingest-watcher/internal/trigger"
)

const (
	UploadStampLayout = "2006-01-02T15:04"
	dateLayout        = "2006-01-02"

	// Historical files end one minute before midnight.
	endOfDay   = 23*time.Hour + 59*time.Minute
	sniffBytes = 4 << 10
)

var (
	magnetometerExts = map[string]bool{".zip": true, ".gz": true, ".csv": true, ".json": true}
	dateTimePattern  = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})T(\d{2}):?(\d{2})`)
	datePattern      = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
)

// MagnetometerHandler ingests the files of a station's magnetometer directory.
type MagnetometerHandler struct {
	now    func() time.Time
	logger *zap.Logger
}

// NewMagnetometerHandler builds the handler; now is the fallback clock for
// markers without a usable upload timestamp.
func NewMagnetometerHandler(now func() time.Time, logger *zap.Logger) *MagnetometerHandler {
	return &MagnetometerHandler{now: now, logger: logger}
}

func (h *MagnetometerHandler) Handle(ctx context.Context, d trigger.Descriptor) ([]Record, error) {
	now := h.now().UTC()
	upload, ok := parseUploadStamp(d.UploadStamp)
	if !ok {
		h.logger.Warn("magnetometer marker has no usable upload timestamp, using detection time",
			zap.String("path", d.TriggerPath),
			zap.String("upload_stamp", d.UploadStamp),
		)
		upload = now.Truncate(time.Minute)
	}
	// Retries may run after midnight; the upload day stays the reference.
	today := truncateDay(upload)

	candidates, err := magnetometerFiles(d.DataDir)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, ingesterr.MetadataUnavailable("no magnetometer files in "+d.DataDir, nil)
	}

	records := make([]Record, 0, len(candidates))
	for _, path := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := os.Stat(path)
		if err != nil {
			return nil, ingesterr.MetadataUnavailable("stat magnetometer file", err)
		}

		start := fileStart(path, upload)
		day := truncateDay(start)

		var end time.Time
		switch {
		case day.Equal(today):
			end = upload
			if end.Before(start) {
				end = start
			}
		case day.Before(today):
			end = day.Add(endOfDay)
		default:
			h.logger.Warn("future-dated magnetometer file left uncataloged",
				zap.String("path", d.TriggerPath),
				zap.String("file", path),
				zap.String("station", d.Station),
				zap.Time("start", start),
			)
			continue
		}

		h.logger.Debug("magnetometer file extracted",
			zap.String("path", d.TriggerPath),
			zap.String("file", path),
			zap.Time("start", start),
			zap.Time("end", end),
			zap.String("size", humanize.Bytes(uint64(info.Size()))),
		)

		records = append(records, Record{
			Station:    d.Station,
			Instrument: d.Instrument,
			Observation: models.Observation{
				FileName:  filepath.Base(path),
				Path:      d.DataDir,
				DataRate:  1,
				Size:      info.Size(),
				StartDate: start,
				EndDate:   end,
				DataType:  models.DataTypeMagnetometer,
			},
			PlotInput: path,
		})
	}
	return records, nil
}

func parseUploadStamp(stamp string) (time.Time, bool) {
	if stamp == "" {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(UploadStampLayout, stamp, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func magnetometerFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, ingesterr.MetadataUnavailable("read magnetometer directory", err)
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if !magnetometerExts[strings.ToLower(filepath.Ext(name))] {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	sort.Strings(out)
	return out, nil
}

// fileStart derives a file's start time: a date-time in the name, a date in
// the name, a date in the leading content, then the upload date.
func fileStart(path string, upload time.Time) time.Time {
	name := filepath.Base(path)
	if m := dateTimePattern.FindStringSubmatch(name); m != nil {
		if t, err := time.ParseInLocation(UploadStampLayout, fmt.Sprintf("%sT%s:%s", m[1], m[2], m[3]), time.UTC); err == nil {
			return t
		}
	}
	if t, ok := parseDate(datePattern.FindString(name)); ok {
		return t
	}
	if head, err := sniff(path); err == nil {
		if t, ok := parseDate(datePattern.FindString(string(head))); ok {
			return t
		}
	}
	return truncateDay(upload)
}

func parseDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(dateLayout, s, time.UTC)
	return t, err == nil
}

// sniff returns up to sniffBytes of decompressed content.
func sniff(path string) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zip":
		zr, err := zip.OpenReader(path)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		for _, f := range zr.File {
			if f.FileInfo().IsDir() {
				continue
			}
			rc, err := f.Open()
			if err != nil {
				return nil, err
			}
			defer rc.Close()
			return readHead(rc)
		}
		return nil, io.EOF
	case ".gz":
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer file.Close()
		gz, err := gzip.NewReader(file)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		return readHead(gz)
	default:
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer file.Close()
		return readHead(file)
	}
}

func readHead(r io.Reader) ([]byte, error) {
	buf, err := io.ReadAll(io.LimitReader(r, sniffBytes))
	if err != nil && len(buf) == 0 {
		return nil, err
	}
	return buf, nil
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
