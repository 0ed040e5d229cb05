package server

import (
	"time"

	"shadownet/channel"
	"shadownet/packet"
	"shadownet/protocol"
)

func (s *Server) registerHandlers() error {
	handlers := map[string]channel.HandlerFunc[*Session]{
		protocol.ChannelSyncServerPlayer: s.handlePositionSync,
		protocol.ChannelGetAllPlayers:    s.handleRosterRequest,
	}
	for name, h := range handlers {
		if err := s.registry.Register(name, h); err != nil {
			return err
		}
	}
	return nil
}

// handlePositionSync 在读协程上解码与校验，合法更新排入 Tick
func (s *Server) handlePositionSync(session *Session, body *packet.Packet) {
	msg, err := protocol.DecodePositionSync(body)
	if err != nil {
		s.metrics.IncMalformed()
		s.log.Warnf("%s: malformed position sync, err=%v", session, err)
		return
	}

	limits := s.Limits()
	if err := limits.ValidateTransform(msg.Transform); err != nil {
		s.metrics.IncSyncRejected()
		s.log.Warnf("%s: rejecting position sync, err=%v", session, err)
		return
	}

	s.metrics.IncSyncAccepted()
	t := msg.Transform
	s.queue.Enqueue(func() { s.applyPositionSync(session, t) })
}

// applyPositionSync Tick 上执行：更新权威记录并转发给其他玩家（不回发给来源）
func (s *Server) applyPositionSync(session *Session, t protocol.Transform) {
	if session.State() != protocol.StateActive {
		return
	}
	session.record.Transform = t
	s.entities.Apply(session.record.Handle, t)
	s.rosterDirty = true

	update := &protocol.ShadowSync{
		ID:        session.record.ID,
		Username:  session.record.Username,
		Transform: t,
	}
	sent := s.world.Broadcast(session, protocol.ChannelShadowPlayerSync, update.Encode())
	s.metrics.AddShadowSyncs(sent)
}

func (s *Server) handleRosterRequest(session *Session, _ *packet.Packet) {
	s.metrics.IncRosterRequests()
	s.queue.Enqueue(func() { s.streamRoster(session) })
}

// streamRoster Tick 上执行：按加入顺序逐个发送其他在场玩家；
// 请求方断开或任一发送失败即停止，已发出的不撤回
func (s *Server) streamRoster(session *Session) {
	if session.State() != protocol.StateActive {
		return
	}
	others := s.world.Others(session)
	sent := 0
	for _, o := range others {
		if !session.conn.IsConnected() {
			break
		}
		update := &protocol.ShadowSync{
			ID:        o.record.ID,
			Username:  o.record.Username,
			Transform: o.record.Transform,
		}
		if !session.Send(protocol.ChannelShadowPlayerSync, update.Encode()) {
			break
		}
		sent++
	}
	s.metrics.AddShadowSyncs(sent)
	if sent < len(others) {
		s.log.Warnf("%s: roster delivery stopped after %d/%d players", session, sent, len(others))
		return
	}
	s.log.Debugf("%s: sent roster of %d players", session, sent)
}

// teardown Tick 上执行，每个会话恰好一次：先移出世界，再通知其他玩家，
// 之后销毁权威记录并关闭连接
func (s *Server) teardown(session *Session) {
	if session.State() == protocol.StateClosed {
		return
	}
	wasActive := session.State() == protocol.StateActive
	session.setState(protocol.StateClosed)
	defer session.conn.Close()

	if !wasActive || !s.world.Remove(session) {
		return
	}
	s.rosterDirty = true

	notice := (&protocol.Disconnect{ID: session.record.ID}).Encode()
	notified := s.world.Broadcast(nil, protocol.ChannelShadowPlayerDisconnect, notice)
	s.entities.Despawn(session.record.Handle)
	s.metrics.IncDisconnects()
	s.log.Infof("Player '%s' disconnected (%s) after %v, notified=%d, players=%d",
		session.record.Username, session.record.ID, time.Since(session.joinedAt).Round(time.Millisecond), notified, s.world.Len())
}
