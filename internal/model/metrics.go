package model

import (
	"math"
	"sort"
	"strings"
	"time"
)

// AgentMetrics is the live per-agent aggregate derived from call events.
// Latency stats are computed over a sliding window of recent call latencies.
type AgentMetrics struct {
	SuccessRate       float64 `json:"success_rate"`
	AvgLatencyMs      int64   `json:"avg_latency_ms"`
	P50LatencyMs      int64   `json:"p50_latency_ms"`
	P95LatencyMs      int64   `json:"p95_latency_ms"`
	P99LatencyMs      int64   `json:"p99_latency_ms"`
	TotalRequests     int64   `json:"total_requests"`
	FailedRequests    int64   `json:"failed_requests"`
	TotalTokensInput  int64   `json:"total_tokens_input"`
	TotalTokensOutput int64   `json:"total_tokens_output"`
	TotalCost         float64 `json:"total_cost"`
}

// latencyWindowSize caps the sliding window used for percentile calculation.
const latencyWindowSize = 1000

// LatencyWindow holds the most recent call latencies for one agent.
// The zero value is ready to use. Not safe for concurrent use; callers
// serialize access per agent.
type LatencyWindow struct {
	samples []int64
}

// Push appends a latency sample, evicting the oldest when full.
func (w *LatencyWindow) Push(latencyMs int64) {
	w.samples = append(w.samples, latencyMs)
	if len(w.samples) > latencyWindowSize {
		w.samples = w.samples[1:]
	}
}

// Len returns the number of samples currently in the window.
func (w *LatencyWindow) Len() int { return len(w.samples) }

// Stats returns the average and p50/p95/p99 latencies over the window.
// All values are zero when the window is empty.
func (w *LatencyWindow) Stats() (avg, p50, p95, p99 int64) {
	if len(w.samples) == 0 {
		return 0, 0, 0, 0
	}
	sorted := make([]int64, len(w.samples))
	copy(sorted, w.samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum int64
	for _, v := range sorted {
		sum += v
	}
	avg = int64(math.Round(float64(sum) / float64(len(sorted))))
	return avg, percentile(sorted, 50), percentile(sorted, 95), percentile(sorted, 99)
}

// percentile returns the nearest-rank percentile of a sorted sample set.
func percentile(sorted []int64, p int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(float64(p)/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

// modelCosts maps model names to per-1K-token USD rates, used to estimate
// llm_call cost when the caller did not supply one.
var modelCosts = map[string]struct{ input, output float64 }{
	"Claude Opus":   {0.015, 0.075},
	"Claude Sonnet": {0.003, 0.015},
	"Claude Haiku":  {0.00025, 0.00125},
	"GPT-4":         {0.03, 0.06},
	"GPT-4o":        {0.005, 0.015},
	"GPT-3.5-Turbo": {0.0005, 0.0015},
}

// EstimateCost returns the estimated USD cost of an llm call from the
// built-in rate table. Unknown models cost 0.
func EstimateCost(model string, tokensInput, tokensOutput int64) float64 {
	rates, ok := modelCosts[model]
	if !ok {
		return 0
	}
	cost := float64(tokensInput)/1000*rates.input + float64(tokensOutput)/1000*rates.output
	return math.Round(cost*1e6) / 1e6
}

// Coarse error categories for the fleet error distribution.
const (
	ErrorHallucination   = "Hallucination"
	ErrorTimeout         = "Timeout"
	ErrorTool            = "Tool Error"
	ErrorContextOverflow = "Context Overflow"
	ErrorRateLimit       = "Rate Limit"
	ErrorAuthentication  = "Authentication"
)

// ErrorCategories lists all categories in display order.
var ErrorCategories = []string{
	ErrorHallucination,
	ErrorTimeout,
	ErrorTool,
	ErrorContextOverflow,
	ErrorRateLimit,
	ErrorAuthentication,
}

// ClassifyError buckets a failed call's error string into a coarse category.
// Unrecognized errors fall into the tool error bucket.
func ClassifyError(errText string) string {
	lower := strings.ToLower(errText)
	switch {
	case strings.Contains(lower, "hallucin"):
		return ErrorHallucination
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "timed out"):
		return ErrorTimeout
	case strings.Contains(lower, "tool"), strings.Contains(lower, "function"):
		return ErrorTool
	case strings.Contains(lower, "context"), strings.Contains(lower, "token limit"), strings.Contains(lower, "overflow"):
		return ErrorContextOverflow
	case strings.Contains(lower, "rate limit"), strings.Contains(lower, "throttl"):
		return ErrorRateLimit
	case strings.Contains(lower, "auth"), strings.Contains(lower, "permission"), strings.Contains(lower, "forbidden"):
		return ErrorAuthentication
	default:
		return ErrorTool
	}
}

// OverallMetrics is the fleet-wide aggregate served by GET /api/metrics.
type OverallMetrics struct {
	ActiveAgents      int     `json:"active_agents"`
	SuccessRate       float64 `json:"success_rate"`
	AvgLatencyMs      int64   `json:"avg_latency_ms"`
	TotalCost         float64 `json:"total_cost"`
	TotalTokensInput  int64   `json:"total_tokens_input"`
	TotalTokensOutput int64   `json:"total_tokens_output"`
	TotalRequests     int64   `json:"total_requests"`
	ErrorRate         float64 `json:"error_rate"`
}

// ErrorTypeCount is one bucket of the fleet error distribution.
type ErrorTypeCount struct {
	Type       string  `json:"type"`
	Count      int64   `json:"count"`
	Percentage float64 `json:"percentage"`
}

// TaskQueueCounts tracks fleet task lifecycle counters driven by
// task_start/task_complete/task_fail activity types.
type TaskQueueCounts struct {
	Queued    int64 `json:"queued"`
	Running   int64 `json:"running"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// LatencyTrendPoint is one sampled point of the fleet latency trend: the
// per-agent percentile stats averaged across all agents at sample time.
type LatencyTrendPoint struct {
	Timestamp time.Time `json:"timestamp"`
	P50       int64     `json:"p50"`
	P95       int64     `json:"p95"`
	P99       int64     `json:"p99"`
}

// TokenTrendPoint is one sampled point of fleet token throughput: tokens
// ingested since the previous sample.
type TokenTrendPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Input     int64     `json:"input"`
	Output    int64     `json:"output"`
}

// CostTrendPoint is one sampled point of fleet spend: cost accrued since the
// previous sample.
type CostTrendPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Cost      float64   `json:"cost"`
}

// MetricsSnapshot is the full fleet view for dashboards.
type MetricsSnapshot struct {
	Timestamp    time.Time           `json:"timestamp"`
	Agents       []Agent             `json:"agents"`
	Overall      OverallMetrics      `json:"overall"`
	LatencyTrend []LatencyTrendPoint `json:"latency_trend"`
	TokenTrend   []TokenTrendPoint   `json:"token_trend"`
	CostTrend    []CostTrendPoint    `json:"cost_trend"`
	ErrorsByType []ErrorTypeCount    `json:"errors_by_type"`
	TaskQueue    TaskQueueCounts     `json:"task_queue"`
}
