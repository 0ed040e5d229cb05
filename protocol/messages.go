package protocol

import (
	"fmt"

	"github.com/google/uuid"

	"shadownet/packet"
)

// Handshake 客户端在新连接上发送的第一条消息（无频道头）
type Handshake struct {
	Username string
}

func (m *Handshake) Encode() *packet.Packet {
	p := packet.Empty()
	p.WriteString(m.Username)
	return p
}

func DecodeHandshake(p *packet.Packet) (*Handshake, error) {
	username, err := p.ReadString()
	if err != nil {
		return nil, fmt.Errorf("handshake username: %w", err)
	}
	return &Handshake{Username: username}, nil
}

// EncodeHandshakeReply 握手回复恰好是 16 字节身份
func EncodeHandshakeReply(id Identity) *packet.Packet {
	p := packet.Empty()
	p.WriteBytes(id[:])
	return p
}

func DecodeHandshakeReply(p *packet.Packet) (Identity, error) {
	if p.Len() != IdentityLen {
		return uuid.Nil, fmt.Errorf("handshake reply: expected %d bytes, got %d", IdentityLen, p.Len())
	}
	return readIdentity(p)
}

func readIdentity(p *packet.Packet) (Identity, error) {
	b, err := p.ReadBytes(IdentityLen)
	if err != nil {
		return uuid.Nil, fmt.Errorf("identity: %w", err)
	}
	id, err := uuid.FromBytes(b)
	if err != nil {
		return uuid.Nil, fmt.Errorf("identity: %w", err)
	}
	return id, nil
}

// PositionSync sync_server_player：[vector][quaternion]
type PositionSync struct {
	Transform Transform
}

func (m *PositionSync) Encode() *packet.Packet {
	p := packet.Empty()
	p.WriteVector3(m.Transform.Position)
	p.WriteQuaternion(m.Transform.Rotation)
	return p
}

func DecodePositionSync(p *packet.Packet) (*PositionSync, error) {
	pos, err := p.ReadVector3()
	if err != nil {
		return nil, fmt.Errorf("position sync position: %w", err)
	}
	rot, err := p.ReadQuaternion()
	if err != nil {
		return nil, fmt.Errorf("position sync rotation: %w", err)
	}
	return &PositionSync{Transform: Transform{Position: pos, Rotation: rot}}, nil
}

// ShadowSync shadow_player_sync：[id][username][vector][quaternion]
type ShadowSync struct {
	ID        Identity
	Username  string
	Transform Transform
}

func (m *ShadowSync) Encode() *packet.Packet {
	p := packet.Empty()
	p.WriteBytes(m.ID[:])
	p.WriteString(m.Username)
	p.WriteVector3(m.Transform.Position)
	p.WriteQuaternion(m.Transform.Rotation)
	return p
}

func DecodeShadowSync(p *packet.Packet) (*ShadowSync, error) {
	id, err := readIdentity(p)
	if err != nil {
		return nil, fmt.Errorf("shadow sync: %w", err)
	}
	username, err := p.ReadString()
	if err != nil {
		return nil, fmt.Errorf("shadow sync username: %w", err)
	}
	pos, err := p.ReadVector3()
	if err != nil {
		return nil, fmt.Errorf("shadow sync position: %w", err)
	}
	rot, err := p.ReadQuaternion()
	if err != nil {
		return nil, fmt.Errorf("shadow sync rotation: %w", err)
	}
	return &ShadowSync{
		ID:        id,
		Username:  username,
		Transform: Transform{Position: pos, Rotation: rot},
	}, nil
}

// Disconnect shadow_player_disconnect：[id]
type Disconnect struct {
	ID Identity
}

func (m *Disconnect) Encode() *packet.Packet {
	p := packet.Empty()
	p.WriteBytes(m.ID[:])
	return p
}

func DecodeDisconnect(p *packet.Packet) (*Disconnect, error) {
	id, err := readIdentity(p)
	if err != nil {
		return nil, fmt.Errorf("disconnect: %w", err)
	}
	return &Disconnect{ID: id}, nil
}

// EncodeRosterRequest get_all_players 请求，body 为空
func EncodeRosterRequest() *packet.Packet {
	return packet.Empty()
}
