package watcher

import "time"

// backoff doubles a retry delay from base up to max.
type backoff struct {
	cur time.Duration
	max time.Duration
}

func newBackoff(base, max time.Duration) *backoff {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	return &backoff{cur: base, max: max}
}

// Next returns the current delay and advances the window.
func (b *backoff) Next() time.Duration {
	if b.cur >= b.max {
		return b.max
	}
	d := b.cur
	b.cur *= 2
	if b.cur > b.max {
		b.cur = b.max
	}
	return d
}
