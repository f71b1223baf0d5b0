// Package tracker maintains the model performance ledger: a bounded
// ring buffer of predictions that receive delayed fraud labels, plus
// per-rule outcome counters. Metrics are derived on demand from the
// current window of labeled records.
package tracker

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// DefaultCapacity bounds the ledger when no capacity is configured.
const DefaultCapacity = 10000

// ruleCounter accumulates feedback-confirmed outcomes for one rule.
type ruleCounter struct {
	tp atomic.Int64
	fp atomic.Int64
}

// Tracker is safe for concurrent use. The ring buffer holds the most
// recent predictions; when full, the oldest record is overwritten.
type Tracker struct {
	mu      sync.RWMutex
	records []domain.PredictionRecord
	next    int  // next write position
	full    bool // buffer has wrapped at least once

	rules sync.Map // rule id -> *ruleCounter
}

// New creates a tracker with the given ledger capacity.
func New(capacity int) *Tracker {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Tracker{records: make([]domain.PredictionRecord, 0, capacity)}
}

// RecordPrediction appends a prediction to the ledger, evicting the
// oldest record once capacity is reached.
func (t *Tracker) RecordPrediction(txID string, probability float64, triggeredRules []string) {
	rules := make([]string, len(triggeredRules))
	copy(rules, triggeredRules)

	rec := domain.PredictionRecord{
		TransactionID:        txID,
		PredictedProbability: probability,
		TriggeredRules:       rules,
		Timestamp:            time.Now().UTC(),
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.records) < cap(t.records) {
		t.records = append(t.records, rec)
		return
	}
	t.records[t.next] = rec
	t.next = (t.next + 1) % cap(t.records)
	t.full = true
}

// RecordFeedback labels the first unlabeled prediction for the
// transaction and updates the per-rule counters it carried. Feedback
// for an unknown or already-labeled transaction is a silent no-op, so
// repeated feedback never double-counts.
func (t *Tracker) RecordFeedback(txID string, actualFraud bool) {
	t.mu.Lock()

	var labeled *domain.PredictionRecord
	for i := range t.records {
		r := &t.records[i]
		if r.TransactionID == txID && !r.FeedbackReceived {
			r.ActualFraud = actualFraud
			r.FeedbackReceived = true
			labeled = r
			break
		}
	}

	var rules []string
	if labeled != nil {
		rules = labeled.TriggeredRules
	}
	t.mu.Unlock()

	for _, ruleID := range rules {
		c := t.counter(ruleID)
		if actualFraud {
			c.tp.Add(1)
		} else {
			c.fp.Add(1)
		}
	}
}

func (t *Tracker) counter(ruleID string) *ruleCounter {
	if c, ok := t.rules.Load(ruleID); ok {
		return c.(*ruleCounter)
	}
	c, _ := t.rules.LoadOrStore(ruleID, &ruleCounter{})
	return c.(*ruleCounter)
}

// Len returns the number of records currently held.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

// snapshot copies the labeled records out of the ring under the lock so
// metric computation can run without holding it.
func (t *Tracker) snapshot() (labeled []domain.PredictionRecord, total int) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	total = len(t.records)
	for _, r := range t.records {
		if r.FeedbackReceived {
			labeled = append(labeled, r)
		}
	}
	return labeled, total
}

// ruleStats reads the per-rule counters into a sorted slice.
func (t *Tracker) ruleStats() []domain.RulePerformanceStats {
	var stats []domain.RulePerformanceStats
	t.rules.Range(func(key, value any) bool {
		c := value.(*ruleCounter)
		tp, fp := c.tp.Load(), c.fp.Load()

		var precision float64
		if tp+fp > 0 {
			precision = float64(tp) / float64(tp+fp)
		}
		stats = append(stats, domain.RulePerformanceStats{
			RuleID:         key.(string),
			TruePositives:  tp,
			FalsePositives: fp,
			Precision:      precision,
		})
		return true
	})

	sort.Slice(stats, func(i, j int) bool { return stats[i].RuleID < stats[j].RuleID })
	return stats
}
