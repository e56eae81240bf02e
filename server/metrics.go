package server

import (
	"sync/atomic"

	"github.com/dustin/go-humanize"
)

// RegistryMetrics 记录注册表运行期的关键指标（用于监控与调试）
type RegistryMetrics struct {
	Connects         int64 // 建立的连接数
	Disconnects      int64 // 已处理的断开（不含被顶替连接的空操作）
	Takeovers        int64 // 同一身份重连导致旧连接被关闭的次数
	Rejected         int64 // 身份校验失败被拒绝的握手数
	UpdatesApplied   int64 // 被接受的 update 数
	MalformedDropped int64 // 因格式错误/字段缺失/类型不符被丢弃的消息数
	StaleDropped     int64 // 来自已被顶替连接的 update 数
	Throttled        int64 // 因限速被延后处理的 update 数
	Broadcasts       int64 // 广播次数
	SendsEvicted     int64 // 发送队列满时被挤掉的旧快照数
	SendsSkipped     int64 // 接收方已关闭而跳过的发送数
	BytesBroadcast   int64 // 广播累计字节数（按接收方计）
	OpCount          int64 // 注册表处理的操作数
	TotalOpNs        int64 // 操作累计耗时（纳秒）
}

func (m *RegistryMetrics) IncConnects()         { atomic.AddInt64(&m.Connects, 1) }
func (m *RegistryMetrics) IncDisconnects()      { atomic.AddInt64(&m.Disconnects, 1) }
func (m *RegistryMetrics) IncTakeovers()        { atomic.AddInt64(&m.Takeovers, 1) }
func (m *RegistryMetrics) IncRejected()         { atomic.AddInt64(&m.Rejected, 1) }
func (m *RegistryMetrics) IncUpdatesApplied()   { atomic.AddInt64(&m.UpdatesApplied, 1) }
func (m *RegistryMetrics) IncMalformedDropped() { atomic.AddInt64(&m.MalformedDropped, 1) }
func (m *RegistryMetrics) IncStaleDropped()     { atomic.AddInt64(&m.StaleDropped, 1) }
func (m *RegistryMetrics) IncThrottled()        { atomic.AddInt64(&m.Throttled, 1) }
func (m *RegistryMetrics) IncSendsEvicted()     { atomic.AddInt64(&m.SendsEvicted, 1) }
func (m *RegistryMetrics) IncSendsSkipped()     { atomic.AddInt64(&m.SendsSkipped, 1) }

// AddBroadcast 记录一次广播：payload 大小 * 接收方数量
func (m *RegistryMetrics) AddBroadcast(payloadBytes, recipients int) {
	atomic.AddInt64(&m.Broadcasts, 1)
	atomic.AddInt64(&m.BytesBroadcast, int64(payloadBytes*recipients))
}

func (m *RegistryMetrics) AddOp(ns int64) {
	atomic.AddInt64(&m.OpCount, 1)
	atomic.AddInt64(&m.TotalOpNs, ns)
}

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *RegistryMetrics) Snapshot() map[string]any {
	ops := atomic.LoadInt64(&m.OpCount)
	total := atomic.LoadInt64(&m.TotalOpNs)
	var avgMs float64
	if ops > 0 {
		avgMs = float64(total) / float64(ops) / 1e6
	}
	bytes := atomic.LoadInt64(&m.BytesBroadcast)
	return map[string]any{
		"connects":          atomic.LoadInt64(&m.Connects),
		"disconnects":       atomic.LoadInt64(&m.Disconnects),
		"takeovers":         atomic.LoadInt64(&m.Takeovers),
		"rejected":          atomic.LoadInt64(&m.Rejected),
		"updates_applied":   atomic.LoadInt64(&m.UpdatesApplied),
		"malformed_dropped": atomic.LoadInt64(&m.MalformedDropped),
		"stale_dropped":     atomic.LoadInt64(&m.StaleDropped),
		"throttled":         atomic.LoadInt64(&m.Throttled),
		"broadcasts":        atomic.LoadInt64(&m.Broadcasts),
		"sends_evicted":     atomic.LoadInt64(&m.SendsEvicted),
		"sends_skipped":     atomic.LoadInt64(&m.SendsSkipped),
		"bytes_broadcast":   bytes,
		"bytes_broadcast_h": humanize.Bytes(uint64(bytes)),
		"op_count":          ops,
		"avg_op_ms":         avgMs,
	}
}
