package handoff

import (
	"time"

	"github.com/BaSui01/swarmhandoff/config"
)

// LatencyCheck is an observability signal. Neither flag aborts a handoff.
type LatencyCheck struct {
	ExceededTarget bool `json:"exceeded_target"`
	ExceededMax    bool `json:"exceeded_max"`
}

// Level returns "max", "target" or "" for logging and metrics labels.
func (c LatencyCheck) Level() string {
	switch {
	case c.ExceededMax:
		return "max"
	case c.ExceededTarget:
		return "target"
	default:
		return ""
	}
}

// ShouldHandoff reports whether a task evaluated at confidence, already
// handed off depth times, may be handed off again.
func ShouldHandoff(cfg config.HandoffConfig, confidence float64, depth int) bool {
	return confidence >= cfg.MinimumConfidenceForHandoff &&
		confidence >= cfg.ConfidenceThreshold &&
		depth < cfg.MaxHandoffDepth
}

// CheckLatencyThresholds compares an observed latency with the configured
// target and maximum.
func CheckLatencyThresholds(cfg config.HandoffConfig, latency time.Duration) LatencyCheck {
	ms := float64(latency) / float64(time.Millisecond)
	return LatencyCheck{
		ExceededTarget: ms > float64(cfg.LatencyTargetMs),
		ExceededMax:    ms > float64(cfg.MaxLatencyThresholdMs),
	}
}
