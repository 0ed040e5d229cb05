// Package client 是复制层的客户端：握手取得身份、周期上报本地变换，
// 并把服务端转发的其他玩家状态维护为本地副本。
package client

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"shadownet/action"
	"shadownet/channel"
	"shadownet/config"
	"shadownet/logging"
	"shadownet/packet"
	"shadownet/protocol"
	"shadownet/transport"
)

// Registry 客户端频道注册表：处理器拿到客户端本身
type Registry = channel.Registry[*Client]

var (
	ErrHandshakeRejected = errors.New("client: handshake rejected")
	ErrBadHandshake      = errors.New("client: bad handshake reply")
	ErrAlreadyConnected  = errors.New("client: already connected")
)

type Options struct {
	Config   *config.Config
	Entities protocol.Entities        // 为 nil 时使用 NopEntities
	Local    protocol.TransformSource // 为 nil 时不上报位置
	Logger   *zap.SugaredLogger
}

// Replica 其他玩家在本地的副本
type Replica struct {
	ID        protocol.Identity
	Username  string
	Transform protocol.Transform
	Role      protocol.Role
	Handle    protocol.Handle
}

type Client struct {
	cfg      *config.Config
	log      *zap.SugaredLogger
	entities protocol.Entities
	local    protocol.TransformSource

	queue    *action.Queue
	registry *Registry

	conn      atomic.Pointer[transport.Connection]
	connected atomic.Bool
	done      chan struct{}

	// 握手成功后写入，之后只读
	id       protocol.Identity
	username string

	// 以下只在 Tick 上访问
	localHandle protocol.Handle
	spawned     bool
	replicas    map[protocol.Identity]*Replica
}

func New(opts Options) (*Client, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}
	entities := opts.Entities
	if entities == nil {
		entities = protocol.NopEntities{}
	}

	log := logging.Named(opts.Logger, "client")
	c := &Client{
		cfg:      cfg,
		log:      log,
		entities: entities,
		local:    opts.Local,
		queue:    action.NewQueue(log),
		registry: channel.NewRegistry[*Client]("client", log),
		done:     make(chan struct{}),
		replicas: make(map[protocol.Identity]*Replica),
	}
	if err := c.registerHandlers(); err != nil {
		return nil, err
	}
	return c, nil
}

// Register 在 Connect 之前追加自定义频道
func (c *Client) Register(name string, h channel.Handler[*Client]) error {
	return c.registry.Register(name, h)
}

// ID 服务端分配的身份；Connect 成功之前为零值
func (c *Client) ID() protocol.Identity {
	return c.id
}

func (c *Client) Username() string {
	return c.username
}

// IsConnected 连接仍可用
func (c *Client) IsConnected() bool {
	conn := c.conn.Load()
	return conn != nil && conn.IsConnected()
}

// Done 读循环退出（连接断开）后关闭
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Connect 建立连接并完成握手。成功后读循环开始运行，并请求一次全部在场玩家。
// 服务端未回复即关闭连接返回 ErrHandshakeRejected；回复长度不对返回 ErrBadHandshake。
func (c *Client) Connect(ctx context.Context, address, username string) error {
	if !c.connected.CompareAndSwap(false, true) {
		return ErrAlreadyConnected
	}

	limits := c.cfg.Validation
	username = limits.SanitizeUsername(username)
	c.registry.Seal()

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.Client.DialTimeout)
	defer cancel()
	conn, err := transport.Dial(dialCtx, address, c.cfg.TransportOptions(), c.log)
	if err != nil {
		c.connected.Store(false)
		return err
	}

	id, err := c.handshake(ctx, conn, username)
	if err != nil {
		conn.Close()
		c.connected.Store(false)
		return err
	}

	c.id = id
	c.username = username
	c.conn.Store(conn)
	c.log.Infof("%s: connected as '%s' (%s)", conn, username, id)

	spawn := c.cfg.SpawnTransform()
	c.queue.Enqueue(func() { c.spawnLocal(spawn) })
	go c.readLoop(conn)

	if !c.Send(protocol.ChannelGetAllPlayers, protocol.EncodeRosterRequest()) {
		c.log.Warnf("%s: failed to request roster", conn)
	}
	return nil
}

func (c *Client) handshake(ctx context.Context, conn *transport.Connection, username string) (protocol.Identity, error) {
	if !conn.Send((&protocol.Handshake{Username: username}).Encode()) {
		return protocol.Identity{}, fmt.Errorf("send handshake: %w", ErrHandshakeRejected)
	}

	deadline := time.Now().Add(c.cfg.Server.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)
	reply := conn.Receive()
	_ = conn.SetReadDeadline(time.Time{})
	if reply == nil {
		return protocol.Identity{}, ErrHandshakeRejected
	}

	id, err := protocol.DecodeHandshakeReply(reply)
	if err != nil {
		return protocol.Identity{}, fmt.Errorf("%w: %v", ErrBadHandshake, err)
	}
	return id, nil
}

func (c *Client) readLoop(conn *transport.Connection) {
	defer close(c.done)
	defer func() {
		if rec := recover(); rec != nil {
			c.log.Errorf("%s: reader recovered from panic: %+v", conn, rec)
		}
		conn.Close()
		c.queue.Enqueue(c.onConnectionLost)
	}()

	for {
		p := conn.Receive()
		if p == nil {
			return
		}
		c.registry.Resolve(c, p)
	}
}

// Send 以 [频道名][body] 格式发送
func (c *Client) Send(name string, body *packet.Packet) bool {
	conn := c.conn.Load()
	if conn == nil {
		return false
	}
	return conn.Send(channel.Frame(name, body))
}

// SyncLocal 上报本地玩家当前变换
func (c *Client) SyncLocal() bool {
	if c.local == nil || !c.IsConnected() {
		return false
	}
	msg := &protocol.PositionSync{Transform: c.local.Transform()}
	return c.Send(protocol.ChannelSyncServerPlayer, msg.Encode())
}

// Tick 执行排队的动作，本地玩家已生成时上报位置
func (c *Client) Tick() {
	c.queue.DrainAndExecuteAll()
	if c.spawned {
		c.SyncLocal()
	}
}

// Run 按 SendRate 周期调用 Tick，直到 ctx 结束
func (c *Client) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second / time.Duration(c.cfg.Client.SendRate))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.queue.DrainAndExecuteAll()
			return nil
		case <-ticker.C:
			c.Tick()
		}
	}
}

// Close 关闭连接；读循环随之退出
func (c *Client) Close() error {
	conn := c.conn.Load()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Replicas 当前副本（只能在 Tick 所在 goroutine 调用）
func (c *Client) Replicas() []Replica {
	out := make([]Replica, 0, len(c.replicas))
	for _, r := range c.replicas {
		out = append(out, *r)
	}
	return out
}

// Replica 按身份查找副本（只能在 Tick 所在 goroutine 调用）
func (c *Client) Replica(id protocol.Identity) (Replica, bool) {
	r, ok := c.replicas[id]
	if !ok {
		return Replica{}, false
	}
	return *r, true
}
