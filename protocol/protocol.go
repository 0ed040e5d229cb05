// Package protocol 定义复制协议的共享部分：频道名、身份、变换、角色、会话状态、
// 各消息的编解码、数值合法性校验，以及与外部系统交互的钩子接口。
package protocol

import (
	"github.com/google/uuid"

	"shadownet/vec"
)

// 频道名（区分大小写）
const (
	ChannelSyncServerPlayer       = "sync_server_player"
	ChannelShadowPlayerSync       = "shadow_player_sync"
	ChannelShadowPlayerDisconnect = "shadow_player_disconnect"
	ChannelGetAllPlayers          = "get_all_players"
)

const (
	DefaultPort = 2228
	// IdentityLen 身份在线上固定为 16 字节
	IdentityLen = 16
)

// Identity 服务端在握手时分配的 128 位身份，分配后不变
type Identity = uuid.UUID

// NewIdentity 生成新的随机身份
func NewIdentity() Identity {
	return uuid.New()
}

// Transform 位置 + 旋转
type Transform struct {
	Position vec.Vector3    `json:"position" msgpack:"position"`
	Rotation vec.Quaternion `json:"rotation" msgpack:"rotation"`
}

// DefaultSpawn 新玩家的出生变换 (0,3,0) / 单位旋转
func DefaultSpawn() Transform {
	return Transform{
		Position: vec.Vector3{X: 0, Y: 3, Z: 0},
		Rotation: vec.Identity(),
	}
}

type Role uint8

const (
	RoleInvalid             Role = 0
	RoleLocalOwned          Role = 1
	RoleRemoteReplica       Role = 2
	RoleServerAuthoritative Role = 3
)

func (r Role) String() string {
	switch r {
	case RoleInvalid:
		return "Invalid Role"
	case RoleLocalOwned:
		return "Local Owned"
	case RoleRemoteReplica:
		return "Remote Replica"
	case RoleServerAuthoritative:
		return "Server Authoritative"
	default:
		return "Unknown Role"
	}
}

// State 会话状态：Connecting → Authenticated → Active → Closed
type State uint8

const (
	StateConnecting    State = 0
	StateAuthenticated State = 1
	StateActive        State = 2
	StateClosed        State = 3
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateAuthenticated:
		return "Authenticated"
	case StateActive:
		return "Active"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown State"
	}
}
