package events

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// subscriptionCounter 用于生成唯一订阅 ID
var subscriptionCounter int64

// Handler 事件处理器
type Handler func(Event)

// Bus 异步发布/订阅通道
type Bus interface {
	Publish(event Event)
	Subscribe(eventType Type, handler Handler) string
	Unsubscribe(subscriptionID string)
	Stop()
}

// BusOption configures a SimpleBus.
type BusOption func(*SimpleBus)

// WithQueueSize sets the dispatch queue capacity.
func WithQueueSize(n int) BusOption {
	return func(b *SimpleBus) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// SimpleBus 进程内事件总线：单个分发协程，每个处理器在独立协程中执行
type SimpleBus struct {
	mu        sync.RWMutex
	handlers  map[Type]map[string]Handler
	queue     chan Event
	queueSize int
	done      chan struct{}
	stopOnce  sync.Once
	dropped   atomic.Int64
	logger    *zap.Logger
}

// NewBus 创建并启动事件总线
func NewBus(logger *zap.Logger, opts ...BusOption) *SimpleBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &SimpleBus{
		handlers:  make(map[Type]map[string]Handler),
		queueSize: 1024,
		done:      make(chan struct{}),
		logger:    logger.With(zap.String("component", "event_bus")),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.queue = make(chan Event, b.queueSize)
	go b.processEvents()
	return b
}

// Publish 入队事件；队列满时丢弃并记录
func (b *SimpleBus) Publish(event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case <-b.done:
		return
	default:
	}

	select {
	case b.queue <- event:
	case <-b.done:
	default:
		b.dropped.Add(1)
		b.logger.Warn("event queue full, dropping event",
			zap.String("type", string(event.Type)),
			zap.String("event_id", event.ID))
	}
}

// Subscribe 订阅事件
func (b *SimpleBus) Subscribe(eventType Type, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[string]Handler)
	}
	id := fmt.Sprintf("%s-%d", eventType, atomic.AddInt64(&subscriptionCounter, 1))
	b.handlers[eventType][id] = handler
	return id
}

// Unsubscribe 取消订阅；未知 ID 忽略
func (b *SimpleBus) Unsubscribe(subscriptionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, handlers := range b.handlers {
		if _, ok := handlers[subscriptionID]; ok {
			delete(handlers, subscriptionID)
			if len(handlers) == 0 {
				delete(b.handlers, eventType)
			}
			return
		}
	}
}

// SubscriberCount 返回某类型当前的订阅数
func (b *SimpleBus) SubscriberCount(eventType Type) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}

// Dropped 返回因队列满被丢弃的事件数
func (b *SimpleBus) Dropped() int64 { return b.dropped.Load() }

func (b *SimpleBus) processEvents() {
	for {
		select {
		case event := <-b.queue:
			b.dispatch(event)
		case <-b.done:
			return
		}
	}
}

func (b *SimpleBus) dispatch(event Event) {
	// 先快照处理器，避免持锁回调
	b.mu.RLock()
	src := b.handlers[event.Type]
	handlers := make([]Handler, 0, len(src))
	for _, h := range src {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		go func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panicked",
						zap.String("type", string(event.Type)),
						zap.Any("recover", r))
				}
			}()
			h(event)
		}()
	}
}

// Stop 停止分发；之后的 Publish 被忽略
func (b *SimpleBus) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
	})
}
