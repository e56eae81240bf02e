package server

import (
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"kekofshadows/protocol"
)

// Broadcaster 将玩家列表推送给一组连接；实现不得阻塞，也不得修改注册表
type Broadcaster interface {
	Broadcast(to []Recipient, players []protocol.PlayerSnapshot)
}

// SnapshotBroadcaster 每次推送全量列表：只编码一次，逐个非阻塞入队
type SnapshotBroadcaster struct {
	Metrics *RegistryMetrics
	Logger  *zap.SugaredLogger // 为空时使用全局 Log
}

func (b *SnapshotBroadcaster) log() *zap.SugaredLogger {
	if b.Logger != nil {
		return b.Logger
	}
	return Log
}

func (b *SnapshotBroadcaster) Broadcast(to []Recipient, players []protocol.PlayerSnapshot) {
	data, err := protocol.EncodePlayers(players)
	if err != nil {
		b.log().Errorf("encode players: %v", err)
		return
	}
	delivered := 0
	for _, c := range to {
		evicted, ok := c.Enqueue(data)
		if !ok {
			b.Metrics.IncSendsSkipped()
			continue
		}
		if evicted {
			b.Metrics.IncSendsEvicted()
		}
		delivered++
	}
	b.Metrics.AddBroadcast(len(data), delivered)
	b.log().Debugf("broadcast %d players (%s) to %d/%d clients", len(players), humanize.Bytes(uint64(len(data))), delivered, len(to))
}
