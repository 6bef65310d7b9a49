package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/swarmhandoff/types"
)

// Role 消息角色
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message 对话消息（chat 后端使用）
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Params 推理参数，零值表示使用后端默认
type Params struct {
	Temperature float32 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// Request is sent to a backend. Chat backends read Messages, prompt
// backends read Prompt.
type Request struct {
	Messages []Message `json:"messages,omitempty"`
	Prompt   string    `json:"prompt,omitempty"`
	Params   Params    `json:"params"`
}

// Reply 后端返回
type Reply struct {
	Content string        `json:"content"`
	Model   string        `json:"model,omitempty"`
	Latency time.Duration `json:"latency"`
}

// Backend is a local inference backend.
type Backend interface {
	Send(ctx context.Context, model string, req Request) (*Reply, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, model string, req Request) (*Reply, error)

func (f BackendFunc) Send(ctx context.Context, model string, req Request) (*Reply, error) {
	return f(ctx, model, req)
}

// Prober is implemented by backends that can report availability cheaply.
// Backends without it are assumed available.
type Prober interface {
	Available(ctx context.Context) bool
}

// Worker is a local agent served by one backend and model.
type Worker struct {
	ID           string            `json:"id" yaml:"id"`
	Name         string            `json:"name" yaml:"name"`
	Backend      types.BackendType `json:"backend" yaml:"backend"`
	Model        string            `json:"model" yaml:"model"`
	Capabilities []string          `json:"capabilities" yaml:"capabilities"`
	Workload     int               `json:"workload" yaml:"workload"`
	SystemPrompt string            `json:"system_prompt,omitempty" yaml:"system_prompt"`
	Params       Params            `json:"params" yaml:"params"`
}

// Agent returns the swarm-directory view of the worker.
func (w Worker) Agent() types.Agent {
	return types.Agent{
		ID:           w.ID,
		Name:         w.Name,
		Capabilities: append([]string(nil), w.Capabilities...),
		Locality:     types.Local(w.Backend),
		Workload:     w.Workload,
	}
}

func (w Worker) String() string {
	return fmt.Sprintf("%s(%s/%s)", w.ID, w.Backend, w.Model)
}

// =============================================================================
// Invokers
// =============================================================================

// Invoker runs one prompt against a worker and returns the text answer.
type Invoker interface {
	Invoke(ctx context.Context, prompt string) (string, error)
}

// chatInvoker wraps the prompt as a user message, after the optional system prompt.
type chatInvoker struct {
	backend Backend
	worker  Worker
}

func (c chatInvoker) Invoke(ctx context.Context, prompt string) (string, error) {
	msgs := make([]Message, 0, 2)
	if s := strings.TrimSpace(c.worker.SystemPrompt); s != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: s})
	}
	msgs = append(msgs, Message{Role: RoleUser, Content: prompt})

	reply, err := c.backend.Send(ctx, c.worker.Model, Request{Messages: msgs, Params: c.worker.Params})
	if err != nil {
		return "", err
	}
	return replyText(reply)
}

type promptInvoker struct {
	backend Backend
	worker  Worker
}

func (p promptInvoker) Invoke(ctx context.Context, prompt string) (string, error) {
	if s := strings.TrimSpace(p.worker.SystemPrompt); s != "" {
		prompt = s + "\n\n" + prompt
	}
	reply, err := p.backend.Send(ctx, p.worker.Model, Request{Prompt: prompt, Params: p.worker.Params})
	if err != nil {
		return "", err
	}
	return replyText(reply)
}

func replyText(r *Reply) (string, error) {
	if r == nil {
		return "", fmt.Errorf("backend returned no reply")
	}
	return r.Content, nil
}

// NewInvoker selects the invoker variant for the worker's backend type.
func NewInvoker(w Worker, b Backend) (Invoker, error) {
	switch w.Backend {
	case types.BackendChat:
		return chatInvoker{backend: b, worker: w}, nil
	case types.BackendPrompt:
		return promptInvoker{backend: b, worker: w}, nil
	default:
		return nil, fmt.Errorf("unsupported backend type %q", w.Backend)
	}
}
