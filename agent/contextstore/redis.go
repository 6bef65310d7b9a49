package contextstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/swarmhandoff/internal/cache"
	"github.com/BaSui01/swarmhandoff/types"
)

const keyPrefix = "ctx:"

// RedisStore stages handoff context in Redis so another process can
// complete it.
type RedisStore struct {
	cache *cache.Manager
	opts  options
}

// NewRedisStore 基于 cache.Manager 创建存储
func NewRedisStore(m *cache.Manager, opts ...Option) *RedisStore {
	o := buildOptions(opts)
	o.logger = o.logger.With(zap.String("component", "context_store"), zap.String("backend", "redis"))
	return &RedisStore{cache: m, opts: o}
}

// InitiateHandoff implements the collaborator's first step.
func (s *RedisStore) InitiateHandoff(ctx context.Context, req *types.HandoffRequest) (*types.HandoffResponse, error) {
	start := s.opts.now()
	rec, ttl, err := stage(req, s.opts, start)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	if err := s.cache.SetBytes(ctx, keyPrefix+rec.HandoffID, data, ttl); err != nil {
		return nil, types.NewError(types.ErrExecution, "stage handoff context").WithCause(err).WithRetryable(true)
	}

	s.opts.logger.Debug("context staged",
		zap.String("handoff_id", rec.HandoffID),
		zap.String("target", rec.TargetAgentID),
		zap.Duration("ttl", ttl))

	return &types.HandoffResponse{
		HandoffID:      rec.HandoffID,
		Success:        true,
		CompressedSize: len(rec.Payload),
		TransferTime:   time.Since(start),
	}, nil
}

// CompleteHandoff checks the target, then takes the record with GETDEL so
// only one completion can succeed.
func (s *RedisStore) CompleteHandoff(ctx context.Context, handoffID, targetAgentID string) (any, error) {
	key := keyPrefix + handoffID

	rec, err := s.load(ctx, key, handoffID)
	if err != nil {
		return nil, err
	}
	if rec.TargetAgentID != targetAgentID {
		return nil, wrongTarget(rec, targetAgentID)
	}

	data, err := s.cache.TakeBytes(ctx, key)
	if cache.IsCacheMiss(err) {
		// 另一个完成方已经取走
		return nil, notFound(handoffID)
	}
	if err != nil {
		return nil, types.NewError(types.ErrExecution, "take handoff context").WithCause(err).WithRetryable(true)
	}
	var taken record
	if err := json.Unmarshal(data, &taken); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return decompress(taken.Payload)
}

func (s *RedisStore) load(ctx context.Context, key, handoffID string) (*record, error) {
	data, err := s.cache.GetBytes(ctx, key)
	if cache.IsCacheMiss(err) {
		return nil, notFound(handoffID)
	}
	if err != nil {
		return nil, types.NewError(types.ErrExecution, "read handoff context").WithCause(err).WithRetryable(true)
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &rec, nil
}
