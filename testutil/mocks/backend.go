// ScriptedBackend 的本地 worker 后端测试模拟实现。
//
// 支持固定响应、延迟、可用性探测与按调用次数注入错误。
package mocks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/BaSui01/swarmhandoff/agent/worker"
)

// ScriptedBackend 是 worker.Backend 与 worker.Prober 的模拟实现
type ScriptedBackend struct {
	mu sync.Mutex

	response  string
	err       error
	failFirst int
	delay     time.Duration
	down      bool
	sendFunc  func(ctx context.Context, model string, req worker.Request) (*worker.Reply, error)

	calls  []BackendCall
	probes int
}

// BackendCall 记录单次调用
type BackendCall struct {
	Model   string
	Request worker.Request
	Err     error
}

// NewScriptedBackend 创建新的 ScriptedBackend
func NewScriptedBackend() *ScriptedBackend {
	return &ScriptedBackend{response: "Mock response"}
}

// --- Builder 方法 ---

func (b *ScriptedBackend) WithResponse(response string) *ScriptedBackend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.response = response
	return b
}

// WithError makes every call fail with err.
func (b *ScriptedBackend) WithError(err error) *ScriptedBackend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
	return b
}

// WithFailFirst makes the first n calls fail.
func (b *ScriptedBackend) WithFailFirst(n int) *ScriptedBackend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failFirst = n
	return b
}

func (b *ScriptedBackend) WithDelay(d time.Duration) *ScriptedBackend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.delay = d
	return b
}

// WithUnavailable makes Available report false.
func (b *ScriptedBackend) WithUnavailable() *ScriptedBackend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down = true
	return b
}

func (b *ScriptedBackend) WithSendFunc(fn func(ctx context.Context, model string, req worker.Request) (*worker.Reply, error)) *ScriptedBackend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sendFunc = fn
	return b
}

// --- worker.Backend ---

// Send 返回预设响应
func (b *ScriptedBackend) Send(ctx context.Context, model string, req worker.Request) (*worker.Reply, error) {
	b.mu.Lock()
	delay := b.delay
	b.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			b.record(model, req, ctx.Err())
			return nil, ctx.Err()
		}
	}

	b.mu.Lock()
	n := len(b.calls) + 1
	fn := b.sendFunc
	failing := b.err != nil || n <= b.failFirst
	err := b.err
	resp := b.response
	b.mu.Unlock()

	if failing {
		if err == nil {
			err = errors.New("mock backend: scripted failure")
		}
		b.record(model, req, err)
		return nil, err
	}
	if fn != nil {
		reply, err := fn(ctx, model, req)
		b.record(model, req, err)
		return reply, err
	}
	b.record(model, req, nil)
	return &worker.Reply{Content: resp, Model: model, Latency: delay}, nil
}

// Available 实现 worker.Prober
func (b *ScriptedBackend) Available(context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probes++
	return !b.down
}

func (b *ScriptedBackend) record(model string, req worker.Request, err error) {
	b.mu.Lock()
	b.calls = append(b.calls, BackendCall{Model: model, Request: req, Err: err})
	b.mu.Unlock()
}

// --- 断言辅助 ---

func (b *ScriptedBackend) Calls() []BackendCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]BackendCall(nil), b.calls...)
}

func (b *ScriptedBackend) CallCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

func (b *ScriptedBackend) ProbeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.probes
}

// LastPrompt returns the prompt or final user message of the last call.
func (b *ScriptedBackend) LastPrompt() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.calls) == 0 {
		return ""
	}
	req := b.calls[len(b.calls)-1].Request
	if req.Prompt != "" {
		return req.Prompt
	}
	if n := len(req.Messages); n > 0 {
		return req.Messages[n-1].Content
	}
	return ""
}
