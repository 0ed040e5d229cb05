package server

import (
	"shadownet/packet"
	"shadownet/protocol"
)

// World 当前在场的会话，按加入顺序维护；只在 Tick 上访问
type World struct {
	order []*Session
	byID  map[protocol.Identity]*Session
}

// NewWorld 创建空世界
func NewWorld() *World {
	return &World{byID: make(map[protocol.Identity]*Session)}
}

// Add 加入世界；重复加入忽略
func (w *World) Add(s *Session) bool {
	if _, ok := w.byID[s.ID()]; ok {
		return false
	}
	w.byID[s.ID()] = s
	w.order = append(w.order, s)
	return true
}

// Remove 移出世界
func (w *World) Remove(s *Session) bool {
	if cur, ok := w.byID[s.ID()]; !ok || cur != s {
		return false
	}
	delete(w.byID, s.ID())
	for i, o := range w.order {
		if o == s {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
	return true
}

func (w *World) Get(id protocol.Identity) (*Session, bool) {
	s, ok := w.byID[id]
	return s, ok
}

func (w *World) Len() int {
	return len(w.order)
}

// Others 除 except 之外的在场会话（按加入顺序，返回副本）
func (w *World) Others(except *Session) []*Session {
	out := make([]*Session, 0, len(w.order))
	for _, s := range w.order {
		if s == except || !s.IsActive() {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Broadcast 向除 except 外的在场会话发送同一条消息，返回成功数
func (w *World) Broadcast(except *Session, name string, body *packet.Packet) int {
	sent := 0
	for _, s := range w.Others(except) {
		if s.Send(name, body) {
			sent++
		}
	}
	return sent
}

// Snapshot 当前所有在场玩家的状态
func (w *World) Snapshot() []PlayerState {
	out := make([]PlayerState, 0, len(w.order))
	for _, s := range w.order {
		out = append(out, s.record.state())
	}
	return out
}
