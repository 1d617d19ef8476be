package clients

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"psws/backend/services/ingest-watcher/internal/ingesterr"
)

type recordingQueue struct {
	mu       sync.Mutex
	jobs     []PlotJob
	err      error
	deadline bool
}

func (q *recordingQueue) Submit(ctx context.Context, job PlotJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, q.deadline = ctx.Deadline()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *recordingQueue) Close() error { return nil }

func TestDispatcherStampsJobs(t *testing.T) {
	q := &recordingQueue{}
	d := NewDispatcher(q, time.Second, zap.NewNop())

	if err := d.Dispatch(context.Background(), PlotJob{Station: "N000123", InputPath: "/data"}); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if len(q.jobs) != 1 {
		t.Fatalf("expected one job, got %d", len(q.jobs))
	}
	job := q.jobs[0]
	if _, err := uuid.Parse(job.ID); err != nil {
		t.Errorf("job id %q is not a uuid", job.ID)
	}
	if job.SubmittedAt.IsZero() || !q.deadline {
		t.Errorf("job not stamped or submitted without deadline: %+v", job)
	}
}

func TestDispatcherWrapsFailures(t *testing.T) {
	cause := errors.New("queue down")
	d := NewDispatcher(&recordingQueue{err: cause}, time.Second, zap.NewNop())

	err := d.Dispatch(context.Background(), PlotJob{})
	if ingesterr.KindOf(err) != ingesterr.KindDispatch || !errors.Is(err, cause) {
		t.Fatalf("expected dispatch error, got %v", err)
	}
}

type fakePusher struct {
	key    string
	values []interface{}
}

func (p *fakePusher) RPush(_ context.Context, key string, values ...interface{}) *redis.IntCmd {
	p.key = key
	p.values = append(p.values, values...)
	return redis.NewIntResult(int64(len(p.values)), nil)
}

func TestRedisQueuePushesJSON(t *testing.T) {
	p := &fakePusher{}
	q := &RedisQueue{client: p, list: "plots"}

	if err := q.Submit(context.Background(), PlotJob{ID: "j1", Station: "S000099", Kind: "magnetometer"}); err != nil {
		t.Fatal(err)
	}
	if p.key != "plots" || len(p.values) != 1 {
		t.Fatalf("unexpected push %s %v", p.key, p.values)
	}
	payload, ok := p.values[0].([]byte)
	if !ok || !strings.Contains(string(payload), `"station":"S000099"`) {
		t.Fatalf("unexpected payload %v", p.values[0])
	}
	if err := q.Close(); err != nil {
		t.Fatal(err)
	}
}

type fakeWriter struct {
	msgs []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaQueueKeysByStation(t *testing.T) {
	w := &fakeWriter{}
	q := &KafkaQueue{writer: w}

	if err := q.Submit(context.Background(), PlotJob{ID: "j1", Station: "N000123", Kind: "continuous-rf"}); err != nil {
		t.Fatal(err)
	}
	if len(w.msgs) != 1 || string(w.msgs[0].Key) != "N000123" {
		t.Fatalf("unexpected messages %+v", w.msgs)
	}
	if string(w.msgs[0].Headers[0].Value) != "continuous-rf" {
		t.Fatalf("kind header missing")
	}
}

// parseServiceToken verifies a bearer token the way the plot scheduler does.
func parseServiceToken(raw, secret string) (*ServiceClaims, error) {
	claims := &ServiceClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithSubject(serviceSubject))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid service token")
	}
	return claims, nil
}

func TestHTTPQueueSignsRequests(t *testing.T) {
	const secret = "plot-secret"
	var (
		gotClaims *ServiceClaims
		gotBody   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		claims, err := parseServiceToken(token, secret)
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		gotClaims = claims
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	q := NewHTTPQueue(srv.URL+"/jobs", secret, time.Minute, srv.Client())
	if err := q.Submit(context.Background(), PlotJob{ID: "j9", Station: "T000001"}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if gotClaims == nil || gotClaims.Station != "T000001" || gotClaims.JobID != "j9" || gotClaims.Subject != serviceSubject {
		t.Fatalf("unexpected claims %+v", gotClaims)
	}
	if !strings.Contains(gotBody, `"id":"j9"`) {
		t.Fatalf("unexpected body %s", gotBody)
	}

	bad := NewHTTPQueue(srv.URL+"/jobs", "wrong-secret", time.Minute, srv.Client())
	if err := bad.Submit(context.Background(), PlotJob{ID: "j10"}); err == nil {
		t.Fatal("expected rejection with wrong secret")
	}
}
