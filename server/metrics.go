package server

import (
	"sync/atomic"
)

// Metrics 记录服务端运行期的关键指标（用于监控与调试）
type Metrics struct {
	TickCount          int64 // 统计的 Tick 次数
	TotalTickNs        int64 // Tick 累计耗时（纳秒）
	SessionsAccepted   int64 // 握手成功的会话数
	ConnectionsRefused int64 // 因连接数上限被拒绝的连接数
	HandshakesRejected int64 // 握手失败（超时/非法用户名/损坏）的连接数
	PacketsReceived    int64 // 握手后收到的包数
	SyncAccepted       int64 // 通过校验的位置同步
	SyncRejected       int64 // 因数值非法被丢弃的位置同步
	MalformedPackets   int64 // 字段解码失败被丢弃的包
	ShadowSyncsSent    int64 // 发出的 shadow_player_sync
	RosterRequests     int64 // get_all_players 请求数
	Disconnects        int64 // 完成的断线清理
}

func (m *Metrics) IncSessionsAccepted()   { atomic.AddInt64(&m.SessionsAccepted, 1) }
func (m *Metrics) IncConnectionsRefused() { atomic.AddInt64(&m.ConnectionsRefused, 1) }
func (m *Metrics) IncHandshakesRejected() { atomic.AddInt64(&m.HandshakesRejected, 1) }
func (m *Metrics) IncPacketsReceived()    { atomic.AddInt64(&m.PacketsReceived, 1) }
func (m *Metrics) IncSyncAccepted()       { atomic.AddInt64(&m.SyncAccepted, 1) }
func (m *Metrics) IncSyncRejected()       { atomic.AddInt64(&m.SyncRejected, 1) }
func (m *Metrics) IncMalformed()          { atomic.AddInt64(&m.MalformedPackets, 1) }
func (m *Metrics) IncRosterRequests()     { atomic.AddInt64(&m.RosterRequests, 1) }
func (m *Metrics) IncDisconnects()        { atomic.AddInt64(&m.Disconnects, 1) }
func (m *Metrics) AddShadowSyncs(n int)   { atomic.AddInt64(&m.ShadowSyncsSent, int64(n)) }
func (m *Metrics) AddTick(ns int64) {
	atomic.AddInt64(&m.TickCount, 1)
	atomic.AddInt64(&m.TotalTickNs, ns)
}

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *Metrics) Snapshot() map[string]any {
	tick := atomic.LoadInt64(&m.TickCount)
	total := atomic.LoadInt64(&m.TotalTickNs)
	var avgMs float64
	if tick > 0 {
		avgMs = float64(total) / float64(tick) / 1e6
	}
	return map[string]any{
		"tick_count":          tick,
		"avg_tick_ms":         avgMs,
		"sessions_accepted":   atomic.LoadInt64(&m.SessionsAccepted),
		"connections_refused": atomic.LoadInt64(&m.ConnectionsRefused),
		"handshakes_rejected": atomic.LoadInt64(&m.HandshakesRejected),
		"packets_received":    atomic.LoadInt64(&m.PacketsReceived),
		"sync_accepted":       atomic.LoadInt64(&m.SyncAccepted),
		"sync_rejected":       atomic.LoadInt64(&m.SyncRejected),
		"malformed_packets":   atomic.LoadInt64(&m.MalformedPackets),
		"shadow_syncs_sent":   atomic.LoadInt64(&m.ShadowSyncsSent),
		"roster_requests":     atomic.LoadInt64(&m.RosterRequests),
		"disconnects":         atomic.LoadInt64(&m.Disconnects),
	}
}
