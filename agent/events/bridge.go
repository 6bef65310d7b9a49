package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BridgeSubprotocol is negotiated on every bridge connection.
const BridgeSubprotocol = "swarm-events.v1"

// frame 是线上格式；Payload 保持原始 JSON，由 Decode 在接收端解码
type frame struct {
	ID        string          `json:"id"`
	Type      Type            `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source,omitempty"`
	Target    string          `json:"target,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// BridgeConfig configures a Bridge.
type BridgeConfig struct {
	// Types 需要转发的事件类型，默认 ProtocolTypes()
	Types []Type
	// SendBufferSize 每个连接的发送缓冲
	SendBufferSize int
	// SeenCapacity 去重表大小
	SeenCapacity int
	// HeartbeatInterval 心跳间隔，0 表示关闭
	HeartbeatInterval time.Duration
}

// Bridge relays selected event types between the local bus and remote buses
// over websocket connections. An event is never sent back to the peer it came
// from, and an event id seen twice is dropped, so cyclic topologies terminate.
type Bridge struct {
	bus    Bus
	config BridgeConfig
	logger *zap.Logger

	mu     sync.Mutex
	peers  map[*peer]struct{}
	seen   map[string]*peer // event id -> origin peer (nil = local)
	order  []string
	subIDs []string
	closed bool
}

type peer struct {
	name string
	out  chan frame
}

// NewBridge subscribes to the configured types on bus.
func NewBridge(bus Bus, cfg BridgeConfig, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.Types) == 0 {
		cfg.Types = ProtocolTypes()
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = 256
	}
	if cfg.SeenCapacity <= 0 {
		cfg.SeenCapacity = 4096
	}
	b := &Bridge{
		bus:    bus,
		config: cfg,
		logger: logger.With(zap.String("component", "event_bridge")),
		peers:  make(map[*peer]struct{}),
		seen:   make(map[string]*peer),
	}
	for _, typ := range cfg.Types {
		b.subIDs = append(b.subIDs, bus.Subscribe(typ, b.forward))
	}
	return b
}

// Handler accepts inbound bridge connections.
func (b *Bridge) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols: []string{BridgeSubprotocol},
		})
		if err != nil {
			b.logger.Warn("bridge accept failed", zap.Error(err))
			return
		}
		if err := b.Serve(r.Context(), conn, r.RemoteAddr); err != nil {
			b.logger.Debug("bridge connection closed", zap.String("peer", r.RemoteAddr), zap.Error(err))
		}
	})
}

// Dial connects to a remote bridge and serves the connection in the
// background until ctx is cancelled or the connection drops.
func (b *Bridge) Dial(ctx context.Context, url string) (<-chan error, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		Subprotocols: []string{BridgeSubprotocol},
	})
	if err != nil {
		return nil, fmt.Errorf("bridge dial %s: %w", url, err)
	}
	done := make(chan error, 1)
	go func() {
		done <- b.Serve(ctx, conn, url)
	}()
	return done, nil
}

// Serve pumps one connection until either side fails.
func (b *Bridge) Serve(ctx context.Context, conn *websocket.Conn, name string) error {
	p := &peer{name: name, out: make(chan frame, b.config.SendBufferSize)}
	if !b.addPeer(p) {
		conn.Close(websocket.StatusGoingAway, "bridge closed")
		return errors.New("bridge closed")
	}
	defer b.removePeer(p)

	b.logger.Info("bridge peer connected", zap.String("peer", name))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.readLoop(gctx, conn, p) })
	g.Go(func() error { return b.writeLoop(gctx, conn, p) })
	if b.config.HeartbeatInterval > 0 {
		g.Go(func() error { return heartbeat(gctx, conn, b.config.HeartbeatInterval) })
	}

	err := g.Wait()
	conn.Close(websocket.StatusNormalClosure, "")
	b.logger.Info("bridge peer disconnected", zap.String("peer", name))
	if errors.Is(err, context.Canceled) || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		return nil
	}
	return err
}

func (b *Bridge) readLoop(ctx context.Context, conn *websocket.Conn, p *peer) error {
	relayed := make(map[Type]bool, len(b.config.Types))
	for _, t := range b.config.Types {
		relayed[t] = true
	}
	for {
		var f frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			return err
		}
		if !relayed[f.Type] || f.ID == "" {
			continue
		}
		if !b.markSeen(f.ID, p) {
			continue
		}
		b.bus.Publish(Event{
			ID:        f.ID,
			Type:      f.Type,
			Timestamp: f.Timestamp,
			Source:    f.Source,
			Target:    f.Target,
			Payload:   f.Payload,
		})
	}
}

func (b *Bridge) writeLoop(ctx context.Context, conn *websocket.Conn, p *peer) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-p.out:
			if err := wsjson.Write(ctx, conn, f); err != nil {
				return err
			}
		}
	}
}

func heartbeat(ctx context.Context, conn *websocket.Conn, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, interval)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return fmt.Errorf("bridge heartbeat: %w", err)
			}
		}
	}
}

// forward is the bus handler: fan an event out to every peer except its origin.
func (b *Bridge) forward(ev Event) {
	b.mu.Lock()
	origin, known := b.seen[ev.ID]
	if !known {
		b.rememberLocked(ev.ID, nil)
	}
	targets := make([]*peer, 0, len(b.peers))
	for p := range b.peers {
		if p != origin {
			targets = append(targets, p)
		}
	}
	b.mu.Unlock()

	if len(targets) == 0 {
		return
	}
	f, err := toFrame(ev)
	if err != nil {
		b.logger.Warn("bridge cannot encode event", zap.String("type", string(ev.Type)), zap.Error(err))
		return
	}
	for _, p := range targets {
		select {
		case p.out <- f:
		default:
			b.logger.Warn("bridge send buffer full, dropping event",
				zap.String("peer", p.name),
				zap.String("type", string(ev.Type)))
		}
	}
}

func toFrame(ev Event) (frame, error) {
	f := frame{ID: ev.ID, Type: ev.Type, Timestamp: ev.Timestamp, Source: ev.Source, Target: ev.Target}
	switch p := ev.Payload.(type) {
	case nil:
	case json.RawMessage:
		f.Payload = p
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return f, err
		}
		f.Payload = data
	}
	return f, nil
}

// markSeen records an inbound id; false means it was already seen.
func (b *Bridge) markSeen(id string, origin *peer) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.seen[id]; ok {
		return false
	}
	b.rememberLocked(id, origin)
	return true
}

func (b *Bridge) rememberLocked(id string, origin *peer) {
	b.seen[id] = origin
	b.order = append(b.order, id)
	if len(b.order) > b.config.SeenCapacity {
		evict := b.order[0]
		b.order = b.order[1:]
		delete(b.seen, evict)
	}
}

func (b *Bridge) addPeer(p *peer) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.peers[p] = struct{}{}
	return true
}

func (b *Bridge) removePeer(p *peer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.peers, p)
	for id, origin := range b.seen {
		if origin == p {
			b.seen[id] = nil
		}
	}
}

// PeerCount returns the number of live connections.
func (b *Bridge) PeerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.peers)
}

// Close unsubscribes from the bus. Live connections end when their contexts do.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subIDs
	b.subIDs = nil
	b.mu.Unlock()

	for _, id := range subs {
		b.bus.Unsubscribe(id)
	}
}
