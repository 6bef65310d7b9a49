package contextstore

import (
	"context"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/BaSui01/swarmhandoff/types"
)

// DefaultTTL 暂存上下文的默认保留时间
const DefaultTTL = 10 * time.Minute

type options struct {
	ttl     time.Duration
	maxSize int
	level   int
	logger  *zap.Logger
	now     func() time.Time
}

// Option configures a store.
type Option func(*options)

// WithTTL sets how long staged context is kept.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) { o.ttl = ttl }
}

// WithMaxSize rejects contexts whose compressed size exceeds n bytes. 0 disables the check.
func WithMaxSize(n int) Option {
	return func(o *options) { o.maxSize = n }
}

// WithCompressionLevel 设置 gzip 压缩级别
func WithCompressionLevel(level int) Option {
	return func(o *options) { o.level = level }
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		ttl:    DefaultTTL,
		level:  gzip.DefaultCompression,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// =============================================================================
// MemoryStore
// =============================================================================

type memEntry struct {
	rec     *record
	expires time.Time
}

// MemoryStore stages handoff context in process memory.
type MemoryStore struct {
	opts options

	mu      sync.Mutex
	entries map[string]memEntry
}

// NewMemoryStore 创建内存存储
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := buildOptions(opts)
	o.logger = o.logger.With(zap.String("component", "context_store"), zap.String("backend", "memory"))
	return &MemoryStore{opts: o, entries: make(map[string]memEntry)}
}

// InitiateHandoff compresses and stages req.Context for req.TargetAgentID.
func (s *MemoryStore) InitiateHandoff(ctx context.Context, req *types.HandoffRequest) (*types.HandoffResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := s.opts.now()
	rec, ttl, err := stage(req, s.opts, start)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.entries[rec.HandoffID] = memEntry{rec: rec, expires: start.Add(ttl)}
	s.mu.Unlock()

	s.opts.logger.Debug("context staged",
		zap.String("handoff_id", rec.HandoffID),
		zap.String("target", rec.TargetAgentID),
		zap.Int("compressed_size", len(rec.Payload)))

	return &types.HandoffResponse{
		HandoffID:      rec.HandoffID,
		Success:        true,
		CompressedSize: len(rec.Payload),
		TransferTime:   time.Since(start),
	}, nil
}

// CompleteHandoff returns the staged context to its target and removes it.
// A different agent gets an error and the entry stays in place.
func (s *MemoryStore) CompleteHandoff(ctx context.Context, handoffID, targetAgentID string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	e, ok := s.entries[handoffID]
	if ok && !s.opts.now().Before(e.expires) {
		delete(s.entries, handoffID)
		ok = false
	}
	if !ok {
		s.mu.Unlock()
		return nil, notFound(handoffID)
	}
	if e.rec.TargetAgentID != targetAgentID {
		s.mu.Unlock()
		return nil, wrongTarget(e.rec, targetAgentID)
	}
	delete(s.entries, handoffID)
	s.mu.Unlock()

	return decompress(e.rec.Payload)
}

// Len returns the number of staged, unexpired handoffs.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.opts.now()
	n := 0
	for id, e := range s.entries {
		if now.Before(e.expires) {
			n++
		} else {
			delete(s.entries, id)
		}
	}
	return n
}
