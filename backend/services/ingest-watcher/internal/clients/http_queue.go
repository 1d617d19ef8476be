package clients

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const serviceSubject = "ingest-watcher"

// ServiceClaims is the payload of the per-submission service token.
type ServiceClaims struct {
	Station string `json:"station"`
	JobID   string `json:"job_id"`
	jwt.RegisteredClaims
}

// HTTPQueue posts jobs to a plot scheduler with a short-lived HS256 bearer token.
type HTTPQueue struct {
	base   *BaseClient
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewHTTPQueue posts to url, signing each job with secret for ttl.
func NewHTTPQueue(url, secret string, ttl time.Duration, httpClient HTTPDoer) *HTTPQueue {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &HTTPQueue{
		base:   NewBaseClient(url, httpClient),
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (q *HTTPQueue) token(job PlotJob) (string, error) {
	if len(q.secret) == 0 {
		return "", errors.New("http queue: empty signing secret")
	}
	now := q.now().UTC()
	claims := ServiceClaims{
		Station: job.Station,
		JobID:   job.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   serviceSubject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(q.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(q.secret)
}

func (q *HTTPQueue) Submit(ctx context.Context, job PlotJob) error {
	payload, err := encodeJob(job)
	if err != nil {
		return fmt.Errorf("http queue: encode job: %w", err)
	}
	token, err := q.token(job)
	if err != nil {
		return err
	}
	status, body, err := q.base.Do(ctx, http.MethodPost, "", payload, map[string]string{
		"Authorization": "Bearer " + token,
	})
	if err != nil {
		return fmt.Errorf("http queue: post job: %w", err)
	}
	if status >= 300 {
		return fmt.Errorf("http queue: scheduler returned %d: %s", status, string(body))
	}
	return nil
}

func (q *HTTPQueue) Close() error { return nil }
