package negotiation

import (
	"reflect"
	"strings"
	"time"
)

// Heuristics are the defaults used when no peer answers in time.
// The values are tunable and carry no guarantee.
type Heuristics struct {
	BaseLatencyMs          float64
	PerCharLatencyMs       float64
	MaxEstimatedLatencyMs  float64
	IncrementalSyncTimeout time.Duration
}

// DefaultHeuristics 默认启发式参数
func DefaultHeuristics() Heuristics {
	return Heuristics{
		BaseLatencyMs:          100,
		PerCharLatencyMs:       0.1,
		MaxEstimatedLatencyMs:  1000,
		IncrementalSyncTimeout: 500 * time.Millisecond,
	}
}

// EstimateLatencyMs = min(base + perChar × len(description), max).
func (h Heuristics) EstimateLatencyMs(description string) int64 {
	est := h.BaseLatencyMs + h.PerCharLatencyMs*float64(len(description))
	if h.MaxEstimatedLatencyMs > 0 && est > h.MaxEstimatedLatencyMs {
		est = h.MaxEstimatedLatencyMs
	}
	return int64(est)
}

// CapabilityMatch reports whether description contains, or is contained by,
// any capability (case-insensitive). With no capability information the
// answer is true.
func CapabilityMatch(description string, capabilities []string) bool {
	if len(capabilities) == 0 {
		return true
	}
	desc := strings.ToLower(description)
	for _, c := range capabilities {
		c = strings.ToLower(c)
		if c == "" {
			continue
		}
		if strings.Contains(desc, c) || strings.Contains(c, desc) {
			return true
		}
	}
	return false
}

// isStructured reports whether v is a non-nil map, slice, array or struct,
// or a non-nil pointer to one.
func isStructured(v any) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map, reflect.Slice:
		return !rv.IsNil()
	case reflect.Array, reflect.Struct:
		return true
	default:
		return false
	}
}
