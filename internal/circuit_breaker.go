package internal

import (
	"sync"
	"time"
)

// bucketBreaker pauses S3 existence checks against a bucket after repeated
// transport failures, so a batch of files on an unreachable store does not
// wait out one timeout per create_file operation.
type bucketBreaker struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	cooldown time.Duration
	now      func() time.Time
	buckets  map[string]*bucketHealth
}

// bucketHealth is the failure streak of one bucket. A streak older than the
// window starts over.
type bucketHealth struct {
	streakStart    time.Time
	failures       int
	suspendedUntil time.Time
}

func newBucketBreaker(limit int, window, cooldown time.Duration) *bucketBreaker {
	if limit <= 0 {
		limit = 1
	}
	return &bucketBreaker{
		limit:    limit,
		window:   window,
		cooldown: cooldown,
		now:      time.Now,
		buckets:  make(map[string]*bucketHealth),
	}
}

// suspended reports whether checks against bucket are paused and until when.
func (b *bucketBreaker) suspended(bucket string) (time.Time, bool) {
	if b == nil {
		return time.Time{}, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	health, ok := b.buckets[bucket]
	if !ok || !b.now().Before(health.suspendedUntil) {
		return time.Time{}, false
	}
	return health.suspendedUntil, true
}

// failed records a check that could not reach the bucket.
func (b *bucketBreaker) failed(bucket string) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	health, ok := b.buckets[bucket]
	if !ok {
		health = &bucketHealth{}
		b.buckets[bucket] = health
	}
	if health.failures == 0 || now.Sub(health.streakStart) > b.window {
		health.streakStart = now
		health.failures = 0
	}
	health.failures++
	if health.failures >= b.limit {
		health.suspendedUntil = now.Add(b.cooldown)
		health.failures = 0
	}
}

// reached records that the bucket answered, whether or not the object existed.
func (b *bucketBreaker) reached(bucket string) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.buckets, bucket)
}
