package server

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"kekofshadows/protocol"
)

var (
	ErrRegistryClosed  = errors.New("registry closed")
	ErrStaleConnection = errors.New("connection superseded by a newer one")
)

// Recipient 注册表眼中的一个在线连接（发送端）
type Recipient interface {
	Identity() protocol.Identity
	SessionID() string
	// Enqueue 非阻塞入队；ok=false 表示连接已关闭，evicted=true 表示挤掉了一条旧消息
	Enqueue(b []byte) (evicted bool, ok bool)
	Close(code int, reason string)
}

// Registry 在线玩家注册表：状态只由 Run 协程持有，所有变更串行执行
type Registry struct {
	entries     map[protocol.Identity]protocol.PlayerSnapshot
	conns       map[protocol.Identity]Recipient
	broadcaster Broadcaster
	metrics     *RegistryMetrics

	ops     chan func()
	stopped chan struct{}
	started sync.Once
}

// NewRegistry 创建注册表；broadcaster/metrics 为 nil 时使用默认实现
func NewRegistry(b Broadcaster, m *RegistryMetrics) *Registry {
	if m == nil {
		m = &RegistryMetrics{}
	}
	if b == nil {
		b = &SnapshotBroadcaster{Metrics: m}
	}
	return &Registry{
		entries:     make(map[protocol.Identity]protocol.PlayerSnapshot),
		conns:       make(map[protocol.Identity]Recipient),
		broadcaster: b,
		metrics:     m,
		ops:         make(chan func()),
		stopped:     make(chan struct{}),
	}
}

// Metrics 返回注册表指标
func (r *Registry) Metrics() *RegistryMetrics { return r.metrics }

// do 将操作投递到 Run 协程并等待其执行完毕
func (r *Registry) do(ctx context.Context, op func()) error {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		op()
	}
	select {
	case r.ops <- wrapped:
	case <-r.stopped:
		return ErrRegistryClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	// 已被 Run 接收，必然执行完
	<-done
	return nil
}

// Connect 登记新连接，不写快照也不广播；同身份旧连接被顶替并关闭
func (r *Registry) Connect(ctx context.Context, c Recipient) error {
	return r.do(ctx, func() {
		id := c.Identity()
		if existing, ok := r.conns[id]; ok && existing.SessionID() != c.SessionID() {
			existing.Close(websocket.ClosePolicyViolation, "superseded")
			r.metrics.IncTakeovers()
			Log.Infof("player %s reconnected, closing session %s", id, existing.SessionID())
		}
		r.conns[id] = c
		r.metrics.IncConnects()
	})
}

// ApplyUpdate 以 last-writer-wins 方式替换该身份的快照，并向所有连接广播全量列表
func (r *Registry) ApplyUpdate(ctx context.Context, c Recipient, snap protocol.PlayerSnapshot) error {
	id := c.Identity()
	if snap.Wallet != id {
		return protocol.ErrIdentityMismatch
	}
	var opErr error
	err := r.do(ctx, func() {
		if cur, ok := r.conns[id]; !ok || cur.SessionID() != c.SessionID() {
			r.metrics.IncStaleDropped()
			opErr = ErrStaleConnection
			return
		}
		r.entries[id] = snap
		r.metrics.IncUpdatesApplied()
		r.broadcastLocked()
	})
	if err != nil {
		return err
	}
	return opErr
}

// Disconnect 移除该连接及其快照，并向剩余连接广播；被顶替的旧连接为空操作
func (r *Registry) Disconnect(ctx context.Context, c Recipient) error {
	return r.do(ctx, func() {
		id := c.Identity()
		cur, ok := r.conns[id]
		if !ok || cur.SessionID() != c.SessionID() {
			return
		}
		delete(r.conns, id)
		delete(r.entries, id)
		r.metrics.IncDisconnects()
		r.broadcastLocked()
	})
}

// Players 返回当前注册表的副本（按 wallet 排序）
func (r *Registry) Players(ctx context.Context) ([]protocol.PlayerSnapshot, error) {
	var out []protocol.PlayerSnapshot
	err := r.do(ctx, func() {
		out = r.snapshotLocked()
		for i := range out {
			out[i] = out[i].Clone()
		}
	})
	return out, err
}

// Recipients 返回当前在线连接
func (r *Registry) Recipients(ctx context.Context) ([]Recipient, error) {
	var out []Recipient
	err := r.do(ctx, func() {
		out = r.recipientsLocked()
	})
	return out, err
}

// snapshotLocked 仅在 Run 协程内调用
func (r *Registry) snapshotLocked() []protocol.PlayerSnapshot {
	players := make([]protocol.PlayerSnapshot, 0, len(r.entries))
	for _, p := range r.entries {
		players = append(players, p)
	}
	slices.SortFunc(players, func(a, b protocol.PlayerSnapshot) int {
		return strings.Compare(string(a.Wallet), string(b.Wallet))
	})
	return players
}

func (r *Registry) recipientsLocked() []Recipient {
	out := make([]Recipient, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// broadcastLocked 在同一次操作内取时间点副本并投递，保证广播不早于刚完成的变更
func (r *Registry) broadcastLocked() {
	r.broadcaster.Broadcast(r.recipientsLocked(), r.snapshotLocked())
}
