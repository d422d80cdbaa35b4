package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Outcome classifies how the router finished with an inbound message.
type Outcome string

const (
	OutcomeHandled Outcome = "handled"
	OutcomeFailed  Outcome = "failed"
	OutcomeDropped Outcome = "dropped"
)

type messageKey struct {
	kind    string
	outcome Outcome
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram() *histogram {
	buckets := []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10}
	return &histogram{buckets: buckets, counts: make([]uint64, len(buckets)+1)}
}

func (h *histogram) observe(seconds float64) {
	idx := len(h.buckets)
	for i, bound := range h.buckets {
		if seconds <= bound {
			idx = i
			break
		}
	}
	h.counts[idx]++
	h.sum += seconds
	h.count++
}

type collector struct {
	mu       sync.Mutex
	messages map[messageKey]uint64
	latency  map[string]*histogram
}

var messageCollector = &collector{
	messages: make(map[messageKey]uint64),
	latency:  make(map[string]*histogram),
}

// ObserveMessage records the outcome and handling latency of one inbound message.
// Dropped messages carry no latency.
func ObserveMessage(kind string, outcome Outcome, duration time.Duration) {
	messageCollector.observe(kind, outcome, duration)
}

func (c *collector) observe(kind string, outcome Outcome, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.messages[messageKey{kind: kind, outcome: outcome}]++
	if outcome == OutcomeDropped {
		return
	}
	hist, ok := c.latency[kind]
	if !ok {
		hist = newHistogram()
		c.latency[kind] = hist
	}
	hist.observe(duration.Seconds())
}

// Snapshot renders the collected counters in Prometheus text exposition format.
func Snapshot() string {
	return messageCollector.render()
}

func (c *collector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var builder strings.Builder
	builder.WriteString("# TYPE estatechain_messages_total counter\n")

	keys := make([]messageKey, 0, len(c.messages))
	for key := range c.messages {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].kind == keys[j].kind {
			return keys[i].outcome < keys[j].outcome
		}
		return keys[i].kind < keys[j].kind
	})
	for _, key := range keys {
		builder.WriteString(fmt.Sprintf("estatechain_messages_total{kind=%q,outcome=%q} %d\n",
			key.kind, key.outcome, c.messages[key]))
	}

	builder.WriteString("# TYPE estatechain_message_seconds histogram\n")
	kinds := make([]string, 0, len(c.latency))
	for kind := range c.latency {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		hist := c.latency[kind]
		cumulative := uint64(0)
		for i, bound := range hist.buckets {
			cumulative += hist.counts[i]
			builder.WriteString(fmt.Sprintf("estatechain_message_seconds_bucket{kind=%q,le=%q} %d\n",
				kind, formatBound(bound), cumulative))
		}
		cumulative += hist.counts[len(hist.buckets)]
		builder.WriteString(fmt.Sprintf("estatechain_message_seconds_bucket{kind=%q,le=\"+Inf\"} %d\n", kind, cumulative))
		builder.WriteString(fmt.Sprintf("estatechain_message_seconds_sum{kind=%q} %f\n", kind, hist.sum))
		builder.WriteString(fmt.Sprintf("estatechain_message_seconds_count{kind=%q} %d\n", kind, hist.count))
	}
	return builder.String()
}

func formatBound(bound float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", bound), "0"), ".")
}

// Reset clears all collected metrics. Intended for tests.
func Reset() {
	messageCollector.mu.Lock()
	defer messageCollector.mu.Unlock()
	messageCollector.messages = make(map[messageKey]uint64)
	messageCollector.latency = make(map[string]*histogram)
}
