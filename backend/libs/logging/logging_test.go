package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"
)

type stringCollector struct {
	zapcore.PrimitiveArrayEncoder
	values []string
}

func (c *stringCollector) AppendString(v string) { c.values = append(c.values, v) }

func TestEncodeTimeUTCSeconds(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	ts := time.Date(2024, 3, 1, 15, 4, 5, 999_000_000, loc)

	var c stringCollector
	EncodeTime(ts, &c)

	if len(c.values) != 1 || c.values[0] != "2024-03-01T12:04:05Z" {
		t.Fatalf("unexpected encoded time %v", c.values)
	}
}

func TestNewLoggerAppendsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ingest.log")
	if err := os.WriteFile(path, []byte("previous line\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	logger, err := NewLogger(Options{Level: "debug", Encoding: "json", Path: path})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	logger.Info("marker detected")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	if !strings.HasPrefix(out, "previous line\n") {
		t.Fatalf("log file was truncated: %q", out)
	}
	if !strings.Contains(out, `"msg":"marker detected"`) {
		t.Fatalf("missing log line: %q", out)
	}
}
