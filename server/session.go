package server

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"shadownet/channel"
	"shadownet/packet"
	"shadownet/protocol"
	"shadownet/transport"
	"shadownet/vec"
)

// PlayerState 为发布给管理接口与观战端的轻量状态
type PlayerState struct {
	ID       string         `json:"id" msgpack:"id"`
	Username string         `json:"username" msgpack:"username"`
	Position vec.Vector3    `json:"position" msgpack:"position"`
	Rotation vec.Quaternion `json:"rotation" msgpack:"rotation"`
}

// PlayerRecord 服务端权威的玩家记录，只在 Tick 上修改
type PlayerRecord struct {
	ID        protocol.Identity
	Username  string
	Transform protocol.Transform
	Role      protocol.Role
	Handle    protocol.Handle // Entities.Spawn 返回的句柄
}

func (r *PlayerRecord) state() PlayerState {
	return PlayerState{
		ID:       r.ID.String(),
		Username: r.Username,
		Position: r.Transform.Position,
		Rotation: r.Transform.Rotation,
	}
}

// Session 一个已接入的客户端连接
type Session struct {
	conn     *transport.Connection
	state    atomic.Uint32
	joinedAt time.Time

	// 握手成功后写入，之后只读
	id       protocol.Identity
	username string

	record PlayerRecord // Tick 独占

	leaveOnce sync.Once
}

func newSession(conn *transport.Connection) *Session {
	s := &Session{conn: conn}
	s.setState(protocol.StateConnecting)
	return s
}

func (s *Session) ID() protocol.Identity {
	return s.id
}

func (s *Session) Username() string {
	return s.username
}

func (s *Session) State() protocol.State {
	return protocol.State(s.state.Load())
}

func (s *Session) setState(st protocol.State) {
	s.state.Store(uint32(st))
}

// Connection 底层连接
func (s *Session) Connection() *transport.Connection {
	return s.conn
}

// IsActive 已进入世界且连接仍可用
func (s *Session) IsActive() bool {
	return s.State() == protocol.StateActive && s.conn.IsConnected()
}

// Send 以 [频道名][body] 格式发送
func (s *Session) Send(name string, body *packet.Packet) bool {
	return s.conn.Send(channel.Frame(name, body))
}

func (s *Session) String() string {
	if s.username == "" {
		return s.conn.String()
	}
	return fmt.Sprintf("%s'%s'", s.conn, s.username)
}
