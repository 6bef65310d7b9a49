package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/swarmhandoff/types"
)

type recordingBackend struct {
	mu   sync.Mutex
	reqs []Request
	err  error
}

func (b *recordingBackend) Send(_ context.Context, model string, req Request) (*Reply, error) {
	b.mu.Lock()
	b.reqs = append(b.reqs, req)
	b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	return &Reply{Content: "ok:" + model}, nil
}

type probedBackend struct {
	recordingBackend
	up     bool
	probes atomic.Int32
	delay  time.Duration
}

func (b *probedBackend) Available(context.Context) bool {
	b.probes.Add(1)
	time.Sleep(b.delay)
	return b.up
}

func TestRegistry_Order(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	_, err := r.First()
	assert.ErrorIs(t, err, ErrNoWorkers)

	require.NoError(t, r.Register(Worker{ID: "w2", Backend: types.BackendChat}))
	require.NoError(t, r.Register(Worker{ID: "w1", Backend: types.BackendPrompt}))
	require.NoError(t, r.Register(Worker{ID: "w2", Backend: types.BackendChat, Model: "m2"}))

	first, err := r.First()
	require.NoError(t, err)
	assert.Equal(t, "w2", first.ID)
	assert.Equal(t, "m2", first.Model)

	ids := []string{}
	for _, w := range r.Workers() {
		ids = append(ids, w.ID)
	}
	assert.Equal(t, []string{"w2", "w1"}, ids)
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_RegisterValidation(t *testing.T) {
	r := NewRegistry(nil)
	assert.Error(t, r.Register(Worker{Backend: types.BackendChat}))
	assert.Error(t, r.Register(Worker{ID: "x", Backend: "grpc"}))
}

func TestInvoker_Variants(t *testing.T) {
	r := NewRegistry(nil)
	chat := &recordingBackend{}
	prompt := &recordingBackend{}
	r.RegisterBackend(types.BackendChat, chat)
	r.RegisterBackend(types.BackendPrompt, prompt)

	t.Run("chat wraps prompt in messages", func(t *testing.T) {
		inv, err := r.Invoker(Worker{ID: "c", Backend: types.BackendChat, Model: "llama", SystemPrompt: "be brief"})
		require.NoError(t, err)
		out, err := inv.Invoke(context.Background(), "hello")
		require.NoError(t, err)
		assert.Equal(t, "ok:llama", out)

		require.Len(t, chat.reqs, 1)
		assert.Equal(t, []Message{
			{Role: RoleSystem, Content: "be brief"},
			{Role: RoleUser, Content: "hello"},
		}, chat.reqs[0].Messages)
		assert.Empty(t, chat.reqs[0].Prompt)
	})

	t.Run("prompt sends raw prompt", func(t *testing.T) {
		inv, err := r.Invoker(Worker{ID: "p", Backend: types.BackendPrompt, Model: "phi"})
		require.NoError(t, err)
		_, err = inv.Invoke(context.Background(), "hello")
		require.NoError(t, err)
		require.Len(t, prompt.reqs, 1)
		assert.Equal(t, "hello", prompt.reqs[0].Prompt)
		assert.Empty(t, prompt.reqs[0].Messages)
	})

	t.Run("missing backend", func(t *testing.T) {
		empty := NewRegistry(nil)
		_, err := empty.Invoker(Worker{ID: "c", Backend: types.BackendChat})
		assert.True(t, types.IsErrorCode(err, types.ErrNotFound))
	})

	t.Run("backend error surfaces", func(t *testing.T) {
		failing := NewRegistry(nil)
		failing.RegisterBackend(types.BackendChat, &recordingBackend{err: errors.New("oom")})
		inv, err := failing.Invoker(Worker{ID: "c", Backend: types.BackendChat})
		require.NoError(t, err)
		_, err = inv.Invoke(context.Background(), "x")
		assert.EqualError(t, err, "oom")
	})
}

func TestAlternate(t *testing.T) {
	r := NewRegistry(nil)
	prompt := &probedBackend{up: true}
	r.RegisterBackend(types.BackendChat, &recordingBackend{})
	r.RegisterBackend(types.BackendPrompt, prompt)

	a := Worker{ID: "a", Backend: types.BackendChat}
	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(Worker{ID: "a2", Backend: types.BackendChat}))
	require.NoError(t, r.Register(Worker{ID: "b", Backend: types.BackendPrompt}))

	alt, ok := r.Alternate(context.Background(), a)
	require.True(t, ok)
	assert.Equal(t, "b", alt.ID, "same backend type is skipped")

	prompt.up = false
	_, ok = r.Alternate(context.Background(), a)
	assert.False(t, ok)
}

func TestAlternate_ProbesAreShared(t *testing.T) {
	r := NewRegistry(nil)
	prompt := &probedBackend{up: true, delay: 50 * time.Millisecond}
	r.RegisterBackend(types.BackendChat, &recordingBackend{})
	r.RegisterBackend(types.BackendPrompt, prompt)
	a := Worker{ID: "a", Backend: types.BackendChat}
	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(Worker{ID: "b", Backend: types.BackendPrompt}))

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := r.Alternate(context.Background(), a)
			assert.True(t, ok)
		}()
	}
	wg.Wait()
	assert.Less(t, prompt.probes.Load(), int32(8))
}

func TestHTTPBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/v1/models":
			w.WriteHeader(http.StatusOK)
		case "/v1/chat/completions":
			var req chatCompletionRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			_ = json.NewEncoder(w).Encode(map[string]any{
				"model":   req.Model,
				"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": "hi " + req.Messages[0].Content}}},
			})
		case "/v1/completions":
			var req chatCompletionRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			_ = json.NewEncoder(w).Encode(map[string]any{
				"model":   req.Model,
				"choices": []map[string]any{{"text": "done " + req.Prompt}},
			})
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"message":"model loading"}}`))
		}
	}))
	t.Cleanup(srv.Close)

	cfg := HTTPConfig{BaseURL: srv.URL + "/", APIKey: "secret"}

	chat := NewHTTPBackend(types.BackendChat, cfg, nil)
	assert.True(t, chat.Available(context.Background()))
	reply, err := chat.Send(context.Background(), "llama", Request{Messages: []Message{{Role: RoleUser, Content: "there"}}})
	require.NoError(t, err)
	assert.Equal(t, "hi there", reply.Content)
	assert.Equal(t, "llama", reply.Model)

	prompt := NewHTTPBackend(types.BackendPrompt, cfg, nil)
	reply, err = prompt.Send(context.Background(), "phi", Request{Prompt: "task"})
	require.NoError(t, err)
	assert.Equal(t, "done task", reply.Content)

	broken := NewHTTPBackend(types.BackendChat, HTTPConfig{BaseURL: srv.URL + "/broken", APIKey: "secret"}, nil)
	_, err = broken.Send(context.Background(), "x", Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model loading")
	assert.True(t, types.IsRetryable(err))
	assert.False(t, broken.Available(context.Background()))
}
