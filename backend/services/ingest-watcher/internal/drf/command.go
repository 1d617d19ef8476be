package drf

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var helperJSON = jsoniter.Config{
	EscapeHTML:             false,
	UseNumber:              true,
	ValidateJsonRawMessage: true,
}.Froze()

// CommandSource delegates archive access to a helper executable that prints
// JSON on stdout:
//
//	helper bounds <metadata-dir>                      -> [first, last]
//	helper fields <metadata-dir>                      -> ["name", ...]
//	helper read <metadata-dir> <start> <end> <field>  -> {"<index>": value, ...}
//	helper data-bounds <data-dir> <channel>           -> [first, last]
type CommandSource struct {
	helper  string
	timeout time.Duration
}

// NewCommandSource returns a source backed by helper. A non-positive timeout
// leaves calls bounded only by the caller's context.
func NewCommandSource(helper string, timeout time.Duration) *CommandSource {
	return &CommandSource{helper: helper, timeout: timeout}
}

// OpenMetadata checks dir exists and returns a reader bound to it.
func (s *CommandSource) OpenMetadata(ctx context.Context, dir string) (MetadataReader, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrUnavailable, dir)
	}
	return &commandReader{source: s, dir: dir}, nil
}

// DataBounds returns the sample index bounds of channel inside dataDir.
func (s *CommandSource) DataBounds(ctx context.Context, dataDir, channel string) (int64, int64, error) {
	var bounds []int64
	if err := s.run(ctx, &bounds, "data-bounds", dataDir, channel); err != nil {
		return 0, 0, err
	}
	return pair(bounds)
}

func (s *CommandSource) run(ctx context.Context, out any, args ...string) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.helper, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			msg = fmt.Sprintf("%s (%v)", msg, ctxErr)
		}
		return fmt.Errorf("%w: %s %s: %s", ErrUnavailable, s.helper, args[0], msg)
	}

	if err := helperJSON.Unmarshal(stdout.Bytes(), out); err != nil {
		return fmt.Errorf("%w: decode %s output: %v", ErrUnavailable, args[0], err)
	}
	return nil
}

type commandReader struct {
	source *CommandSource
	dir    string
}

func (r *commandReader) Bounds(ctx context.Context) (int64, int64, error) {
	var bounds []int64
	if err := r.source.run(ctx, &bounds, "bounds", r.dir); err != nil {
		return 0, 0, err
	}
	return pair(bounds)
}

func (r *commandReader) Fields(ctx context.Context) ([]string, error) {
	var fields []string
	if err := r.source.run(ctx, &fields, "fields", r.dir); err != nil {
		return nil, err
	}
	return fields, nil
}

func (r *commandReader) Read(ctx context.Context, start, end int64, field string) (map[int64]any, error) {
	var raw map[string]any
	err := r.source.run(ctx, &raw, "read", r.dir,
		strconv.FormatInt(start, 10), strconv.FormatInt(end, 10), field)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]any, len(raw))
	for k, v := range raw {
		idx, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad sample index %q", ErrUnavailable, k)
		}
		out[idx] = v
	}
	return out, nil
}

func pair(bounds []int64) (int64, int64, error) {
	if len(bounds) != 2 {
		return 0, 0, fmt.Errorf("%w: expected [first, last], got %d values", ErrUnavailable, len(bounds))
	}
	if bounds[1] < bounds[0] {
		return 0, 0, fmt.Errorf("%w: inverted bounds %d > %d", ErrUnavailable, bounds[0], bounds[1])
	}
	return bounds[0], bounds[1], nil
}
