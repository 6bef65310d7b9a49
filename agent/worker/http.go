package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/swarmhandoff/internal/tlsutil"
	"github.com/BaSui01/swarmhandoff/types"
)

// HTTPConfig 配置 OpenAI 兼容的本地推理服务（llama.cpp server、vLLM、Ollama 等）
type HTTPConfig struct {
	BaseURL string        `yaml:"base_url" json:"base_url"`
	APIKey  string        `yaml:"api_key" json:"api_key"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// HTTPBackend talks to an OpenAI-compatible server. Chat requests go to
// /v1/chat/completions, prompt requests to /v1/completions.
type HTTPBackend struct {
	cfg    HTTPConfig
	kind   types.BackendType
	client *http.Client
	logger *zap.Logger
}

// NewHTTPBackend creates a backend of the given type.
func NewHTTPBackend(kind types.BackendType, cfg HTTPConfig, logger *zap.Logger) *HTTPBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &HTTPBackend{
		cfg:    cfg,
		kind:   kind,
		client: tlsutil.SecureHTTPClient(cfg.Timeout),
		logger: logger.With(zap.String("component", "http_backend"), zap.String("backend", string(kind))),
	}
}

type chatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages,omitempty"`
	Prompt      string    `json:"prompt,omitempty"`
	Temperature float32   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Text    string  `json:"text"`
		Message Message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Send implements Backend.
func (b *HTTPBackend) Send(ctx context.Context, model string, req Request) (*Reply, error) {
	body := chatCompletionRequest{
		Model:       model,
		Temperature: req.Params.Temperature,
		MaxTokens:   req.Params.MaxTokens,
	}
	endpoint := b.cfg.BaseURL + "/v1/chat/completions"
	if b.kind == types.BackendPrompt {
		endpoint = b.cfg.BaseURL + "/v1/completions"
		body.Prompt = req.Prompt
	} else {
		body.Messages = req.Messages
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	b.buildHeaders(httpReq)

	start := time.Now()
	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, types.NewError(types.ErrExecution, "backend request failed").WithCause(err).WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg := readErrMsg(resp.Body)
		return nil, types.NewError(types.ErrExecution,
			fmt.Sprintf("backend returned %d: %s", resp.StatusCode, msg)).
			WithRetryable(resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests)
	}

	var out chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, types.NewError(types.ErrExecution, "backend returned no choices")
	}

	content := out.Choices[0].Message.Content
	if b.kind == types.BackendPrompt {
		content = out.Choices[0].Text
	}
	reply := &Reply{Content: content, Model: out.Model, Latency: time.Since(start)}
	b.logger.Debug("backend reply",
		zap.String("model", reply.Model),
		zap.Duration("latency", reply.Latency))
	return reply, nil
}

// Available probes GET /v1/models.
func (b *HTTPBackend) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.cfg.BaseURL+"/v1/models", nil)
	if err != nil {
		return false
	}
	b.buildHeaders(req)
	resp, err := b.client.Do(req)
	if err != nil {
		return false
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (b *HTTPBackend) buildHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if b.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	}
}

func readErrMsg(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, 4096))
	var errResp chatCompletionResponse
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error != nil && errResp.Error.Message != "" {
		return errResp.Error.Message
	}
	return strings.TrimSpace(string(data))
}
