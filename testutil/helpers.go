// =============================================================================
// 🧪 测试辅助函数
// =============================================================================
// 提供通用的测试辅助函数和断言
//
// 使用方法:
//
//	rec := testutil.RecordEvents(t, bus, events.NegotiationRequest)
//	testutil.AssertEventuallyTrue(t, func() bool { return rec.Count(events.NegotiationRequest) == 1 }, time.Second)
//
// =============================================================================
package testutil

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/swarmhandoff/agent/events"
)

// =============================================================================
// 🎯 上下文辅助
// =============================================================================

// TestContext 返回带超时的测试上下文
func TestContext(t *testing.T) context.Context {
	return TestContextWithTimeout(t, 30*time.Second)
}

// TestContextWithTimeout 返回带自定义超时的测试上下文
func TestContextWithTimeout(t *testing.T, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext 返回已取消的上下文
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// =============================================================================
// 📡 事件总线辅助
// =============================================================================

// NewBus 创建测试用事件总线，测试结束时自动停止
func NewBus(t *testing.T) *events.SimpleBus {
	t.Helper()
	bus := events.NewBus(nil)
	t.Cleanup(bus.Stop)
	return bus
}

// EventRecorder 记录总线上指定类型的事件
type EventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

// RecordEvents 订阅 types 并记录收到的事件，测试结束时取消订阅
func RecordEvents(t *testing.T, bus events.Bus, types ...events.Type) *EventRecorder {
	t.Helper()
	rec := &EventRecorder{}
	ids := make([]string, 0, len(types))
	for _, typ := range types {
		ids = append(ids, bus.Subscribe(typ, rec.record))
	}
	t.Cleanup(func() {
		for _, id := range ids {
			bus.Unsubscribe(id)
		}
	})
	return rec
}

func (r *EventRecorder) record(ev events.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events 返回已记录事件的副本
func (r *EventRecorder) Events() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

// Count 返回指定类型的事件数
func (r *EventRecorder) Count(typ events.Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

// Last 返回指定类型的最后一个事件
func (r *EventRecorder) Last(typ events.Type) (events.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == typ {
			return r.events[i], true
		}
	}
	return events.Event{}, false
}

// =============================================================================
// 🔍 断言辅助
// =============================================================================

// AssertEventuallyTrue 断言条件最终为真
func AssertEventuallyTrue(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()
	if !WaitFor(condition, timeout) {
		t.Errorf("condition did not become true within %v", timeout)
	}
}

// AssertNeverTrue 断言在 window 内条件始终为假
func AssertNeverTrue(t *testing.T, condition func() bool, window time.Duration) {
	t.Helper()
	if WaitFor(condition, window) {
		t.Errorf("condition became true within %v", window)
	}
}

// =============================================================================
// ⏱️ 时间辅助
// =============================================================================

// WaitFor 等待条件满足或超时
func WaitFor(condition func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return condition()
}

// WaitForChannel 等待通道接收或超时
func WaitForChannel[T any](ch <-chan T, timeout time.Duration) (T, bool) {
	select {
	case v := <-ch:
		return v, true
	case <-time.After(timeout):
		var zero T
		return zero, false
	}
}

// MustJSON 将值转换为 JSON 字符串，失败时 panic
func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}
