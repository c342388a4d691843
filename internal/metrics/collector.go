// Package metrics provides in-memory runtime statistics collection.
package metrics

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Operation names for the collector.
const (
	OpEmbedding    = "embedding"
	OpLLMGenerate  = "llm_generate"
	OpLLMStream    = "llm_stream"
	OpLLMVision    = "llm_vision"
	OpTranscribe   = "transcribe"
	OpVectorSearch = "vector_search"
	OpVectorUpsert = "vector_upsert"
	OpQuery        = "query"
)

// StageOp names the timing bucket of one pipeline stage.
func StageOp(modality, step string) string {
	return "stage:" + modality + ":" + step
}

type operationMetrics struct {
	count        int64
	errors       int64
	totalTime    time.Duration
	minTime      time.Duration
	maxTime      time.Duration
	inputTokens  int64
	outputTokens int64
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count             int64   `json:"count"`
	Errors            int64   `json:"errors,omitempty"`
	TotalTimeMs       int64   `json:"totalTimeMs"`
	AvgTimeMs         float64 `json:"avgTimeMs"`
	MinTimeMs         int64   `json:"minTimeMs"`
	MaxTimeMs         int64   `json:"maxTimeMs"`
	TotalInputTokens  int64   `json:"totalInputTokens,omitempty"`
	TotalOutputTokens int64   `json:"totalOutputTokens,omitempty"`
}

// JobCounts tallies finished jobs for one modality.
type JobCounts struct {
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Chunks    int64 `json:"chunks"`
}

// Snapshot represents the full process statistics at a point in time.
type Snapshot struct {
	UptimeSeconds float64                       `json:"uptimeSeconds"`
	Operations    map[string]*OperationSnapshot `json:"operations"`
	Jobs          map[string]JobCounts          `json:"jobs"`
}

// OperationNames returns the recorded operation names, sorted.
func (s Snapshot) OperationNames() []string {
	names := make([]string, 0, len(s.Operations))
	for n := range s.Operations {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe and no-ops on a nil *Collector.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*operationMetrics
	jobs      map[string]*JobCounts
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*operationMetrics),
		jobs:      make(map[string]*JobCounts),
	}
}

// getOrCreate returns existing metrics or creates new ones for an operation.
// Caller must hold write lock.
func (c *Collector) getOrCreate(op string) *operationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &operationMetrics{minTime: time.Duration(math.MaxInt64)}
		c.ops[op] = m
	}
	return m
}

func (m *operationMetrics) observe(d time.Duration) {
	m.count++
	m.totalTime += d
	if d < m.minTime {
		m.minTime = d
	}
	if d > m.maxTime {
		m.maxTime = d
	}
}

// RecordTiming records timing for an operation.
func (c *Collector) RecordTiming(op string, duration time.Duration) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.getOrCreate(op).observe(duration)
}

// RecordError counts a failed call of op. Failed calls are not timed.
func (c *Collector) RecordError(op string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.getOrCreate(op).errors++
}

// RecordLLMUsage records timing and token usage for an LLM operation.
func (c *Collector) RecordLLMUsage(op string, duration time.Duration, inputTokens, outputTokens int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.observe(duration)
	m.inputTokens += inputTokens
	m.outputTokens += outputTokens
}

// Since is shorthand for RecordTiming(op, time.Since(start)).
func (c *Collector) Since(op string, start time.Time) {
	c.RecordTiming(op, time.Since(start))
}

// RecordJob counts a finished job of the given modality.
func (c *Collector) RecordJob(modality string, success bool, chunks int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	j, ok := c.jobs[modality]
	if !ok {
		j = &JobCounts{}
		c.jobs[modality] = j
	}
	if success {
		j.Completed++
	} else {
		j.Failed++
	}
	j.Chunks += int64(chunks)
}

func snapshotOp(m *operationMetrics) *OperationSnapshot {
	snap := &OperationSnapshot{
		Count:             m.count,
		Errors:            m.errors,
		TotalTimeMs:       m.totalTime.Milliseconds(),
		MaxTimeMs:         m.maxTime.Milliseconds(),
		TotalInputTokens:  m.inputTokens,
		TotalOutputTokens: m.outputTokens,
	}
	if m.count > 0 {
		snap.AvgTimeMs = float64(m.totalTime.Milliseconds()) / float64(m.count)
		snap.MinTimeMs = m.minTime.Milliseconds()
	}
	return snap
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{Operations: map[string]*OperationSnapshot{}, Jobs: map[string]JobCounts{}}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		Operations:    make(map[string]*OperationSnapshot, len(c.ops)),
		Jobs:          make(map[string]JobCounts, len(c.jobs)),
	}
	for name, m := range c.ops {
		snap.Operations[name] = snapshotOp(m)
	}
	for name, j := range c.jobs {
		snap.Jobs[name] = *j
	}
	return snap
}
