package handoff

import (
	"sync"
	"time"
)

// LatencyWindow is how many recent latency samples are kept.
const LatencyWindow = 100

// Metrics 是 handoff 运行统计的快照
type Metrics struct {
	Attempted      int64           `json:"attempted"`
	Succeeded      int64           `json:"succeeded"`
	Failed         int64           `json:"failed"`
	LatencyHistory []time.Duration `json:"latency_history"`
	AverageLatency time.Duration   `json:"average_latency"`
}

// SuccessRate returns Succeeded / Attempted, or 0 before the first attempt.
func (m Metrics) SuccessRate() float64 {
	if m.Attempted == 0 {
		return 0
	}
	return float64(m.Succeeded) / float64(m.Attempted)
}

// stats keeps running totals and a ring of the newest latencies.
type stats struct {
	mu        sync.Mutex
	attempted int64
	succeeded int64
	failed    int64

	ring []time.Duration
	next int
	sum  time.Duration
}

func (s *stats) attempt() {
	s.mu.Lock()
	s.attempted++
	s.mu.Unlock()
}

func (s *stats) fail() {
	s.mu.Lock()
	s.failed++
	s.mu.Unlock()
}

func (s *stats) succeed(latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.succeeded++
	s.observe(latency)
}

// observe appends a sample, evicting the oldest once the window is full.
func (s *stats) observe(latency time.Duration) {
	if len(s.ring) < LatencyWindow {
		s.ring = append(s.ring, latency)
		s.sum += latency
		return
	}
	s.sum += latency - s.ring[s.next]
	s.ring[s.next] = latency
	s.next = (s.next + 1) % LatencyWindow
}

func (s *stats) snapshot() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := Metrics{
		Attempted:      s.attempted,
		Succeeded:      s.succeeded,
		Failed:         s.failed,
		LatencyHistory: make([]time.Duration, 0, len(s.ring)),
	}
	// 按时间从旧到新输出
	if len(s.ring) < LatencyWindow {
		m.LatencyHistory = append(m.LatencyHistory, s.ring...)
	} else {
		m.LatencyHistory = append(m.LatencyHistory, s.ring[s.next:]...)
		m.LatencyHistory = append(m.LatencyHistory, s.ring[:s.next]...)
	}
	if n := len(s.ring); n > 0 {
		m.AverageLatency = s.sum / time.Duration(n)
	}
	return m
}
