package rules

import (
	"sync"
	"time"
)

type bucketKey struct {
	ruleID      string
	fingerprint string
}

// EscalationDue identifies a bucket whose escalation delay has elapsed
// without resolution.
type EscalationDue struct {
	RuleID      string
	Fingerprint string
}

// AggregationManager caps notification volume per (rule, fingerprint) inside
// a fixed window anchored at the first trigger, and surfaces buckets due for
// escalation. All bucket mutation happens under one mutex, so concurrent
// dispatches for the same fingerprint serialize their counter updates.
type AggregationManager struct {
	buckets map[bucketKey]*AggregationBucket
	mu      sync.Mutex
}

// NewAggregationManager creates an empty manager.
func NewAggregationManager() *AggregationManager {
	return &AggregationManager{
		buckets: make(map[bucketKey]*AggregationBucket),
	}
}

// Track records one trigger for a rule/fingerprint pair and reports whether
// the rule's actions should run for it. The first trigger opens a bucket and
// notifies; further triggers notify until the per-window cap is reached, then
// only increment the trigger count. A bucket whose window has passed with no
// new arrivals is closed and the trigger opens a fresh one.
func (m *AggregationManager) Track(rule *Rule, fingerprint string, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := bucketKey{ruleID: rule.ID, fingerprint: fingerprint}
	bucket, exists := m.buckets[key]

	if exists && now.Sub(bucket.LastTriggerAt) > bucket.window {
		// Idle past the window: the old bucket is done.
		delete(m.buckets, key)
		exists = false
	}

	if !exists {
		bucket = &AggregationBucket{
			RuleID:          rule.ID,
			Fingerprint:     fingerprint,
			WindowStart:     now,
			LastTriggerAt:   now,
			State:           BucketOpen,
			window:          rule.AggregationWindow(),
			maxAlerts:       rule.MaxAlertsPerWindow,
			escalationDelay: rule.EscalationDelay(),
			escalate:        rule.EscalationEnabled,
		}
		m.buckets[key] = bucket
		openBuckets.Set(float64(len(m.buckets)))
	}

	bucket.TriggerCount++
	bucket.LastTriggerAt = now

	if bucket.NotifiedCount < bucket.maxAlerts {
		bucket.NotifiedCount++
		return true
	}

	if bucket.State == BucketOpen {
		bucket.State = BucketSuppressed
	}
	suppressedNotifications.Inc()
	return false
}

// Sweep closes idle-expired buckets and returns the buckets whose escalation
// is due. Each bucket escalates at most once: it is marked before being
// returned, so a later sweep never reports it again.
func (m *AggregationManager) Sweep(now time.Time) []EscalationDue {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []EscalationDue
	for key, bucket := range m.buckets {
		if now.Sub(bucket.LastTriggerAt) > bucket.window {
			bucket.State = BucketClosed
			delete(m.buckets, key)
			continue
		}

		if bucket.escalate && !bucket.escalated &&
			now.Sub(bucket.WindowStart) >= bucket.escalationDelay {
			bucket.escalated = true
			bucket.State = BucketEscalated
			due = append(due, EscalationDue{RuleID: key.ruleID, Fingerprint: key.fingerprint})
		}
	}

	openBuckets.Set(float64(len(m.buckets)))
	return due
}

// Resolve explicitly closes a bucket before its window expires, clearing any
// pending escalation. Resolving an unknown bucket is a no-op.
func (m *AggregationManager) Resolve(ruleID, fingerprint string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := bucketKey{ruleID: ruleID, fingerprint: fingerprint}
	if bucket, exists := m.buckets[key]; exists {
		bucket.State = BucketClosed
		delete(m.buckets, key)
		openBuckets.Set(float64(len(m.buckets)))
	}
}

// Bucket returns a snapshot of the bucket for a rule/fingerprint pair, or
// nil when no bucket is open.
func (m *AggregationManager) Bucket(ruleID, fingerprint string) *AggregationBucket {
	m.mu.Lock()
	defer m.mu.Unlock()

	bucket, exists := m.buckets[bucketKey{ruleID: ruleID, fingerprint: fingerprint}]
	if !exists {
		return nil
	}
	out := *bucket
	return &out
}
