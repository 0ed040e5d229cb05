// Package server 是复制层的服务端：接入 TCP 连接、完成握手、
// 把网络事件排入动作队列，由唯一的 Tick 推进世界并向其他玩家广播。
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"shadownet/action"
	"shadownet/channel"
	"shadownet/config"
	"shadownet/logging"
	"shadownet/protocol"
	"shadownet/transport"
)

// Registry 服务端频道注册表：处理器拿到来源会话
type Registry = channel.Registry[*Session]

// ErrServerClosed Shutdown 之后 Serve 返回
var ErrServerClosed = errors.New("server: closed")

type Options struct {
	Config   *config.Config
	Entities protocol.Entities // 为 nil 时使用 NopEntities
	Logger   *zap.SugaredLogger
}

type Server struct {
	cfg      *config.Config
	log      *zap.SugaredLogger
	entities protocol.Entities

	queue    *action.Queue
	registry *Registry
	limits   atomic.Pointer[protocol.Limits]
	metrics  *Metrics

	conns      *connSet
	spectators *spectatorHub

	// 以下只在 Tick 上访问
	world       *World
	rosterDirty bool

	tickSeq atomic.Uint64
	roster  atomic.Pointer[[]PlayerState]

	mu         sync.Mutex
	listener   net.Listener
	inShutdown atomic.Bool
	readers    sync.WaitGroup
}

func New(opts Options) (*Server, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	entities := opts.Entities
	if entities == nil {
		entities = protocol.NopEntities{}
	}

	log := logging.Named(opts.Logger, "server")
	s := &Server{
		cfg:        cfg,
		log:        log,
		entities:   entities,
		queue:      action.NewQueue(log),
		registry:   channel.NewRegistry[*Session]("server", log),
		metrics:    &Metrics{},
		conns:      newConnSet(cfg.Server.MaxConnections),
		spectators: newSpectatorHub(log),
		world:      NewWorld(),
	}
	limits := cfg.Validation
	s.limits.Store(&limits)
	empty := []PlayerState{}
	s.roster.Store(&empty)

	if err := s.registerHandlers(); err != nil {
		return nil, err
	}
	return s, nil
}

// Register 在 Serve 之前追加自定义频道
func (s *Server) Register(name string, h channel.Handler[*Session]) error {
	return s.registry.Register(name, h)
}

// Limits 当前生效的校验阈值（可被管理接口热更新）
func (s *Server) Limits() protocol.Limits {
	return *s.limits.Load()
}

// SetLimits 原子替换校验阈值
func (s *Server) SetLimits(l protocol.Limits) error {
	if err := l.Validate(); err != nil {
		return err
	}
	s.limits.Store(&l)
	return nil
}

// Players 最近一次 Tick 发布的在场玩家快照
func (s *Server) Players() []PlayerState {
	return *s.roster.Load()
}

// Metrics 运行指标
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Addr 正在监听的地址；未监听时为 nil
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ListenAndServe 监听配置中的地址，直到 ctx 结束或出错
func (s *Server) ListenAndServe(ctx context.Context) error {
	l, err := net.Listen("tcp", s.cfg.Server.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Server.ListenAddress, err)
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
	})
	defer stop()

	err = s.Serve(l)
	if errors.Is(err, ErrServerClosed) {
		return nil
	}
	return err
}

// Serve 在 l 上接入连接；注册表在此封存
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	if s.inShutdown.Load() {
		s.mu.Unlock()
		_ = l.Close()
		return ErrServerClosed
	}
	s.listener = l
	s.mu.Unlock()

	s.registry.Seal()
	s.log.Infof("listening on %s, maxConnections=%d, channels=%v",
		l.Addr(), s.cfg.Server.MaxConnections, s.registry.Channels())

	var backoff time.Duration
	for {
		raw, err := l.Accept()
		if err != nil {
			if s.inShutdown.Load() || errors.Is(err, net.ErrClosed) {
				return ErrServerClosed
			}
			// 与 net/http 相同的退避方式
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else {
				backoff *= 2
			}
			if backoff > time.Second {
				backoff = time.Second
			}
			s.log.Warnf("accept error: %v; retrying in %v", err, backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		conn := transport.New(raw, s.cfg.TransportOptions(), s.log)
		if !s.conns.tryAdd(conn) {
			s.metrics.IncConnectionsRefused()
			s.log.Warnf("%s: max connections (%d) reached, closing", conn, s.cfg.Server.MaxConnections)
			conn.Close()
			continue
		}
		if s.inShutdown.Load() {
			s.conns.remove(conn)
			conn.Close()
			return ErrServerClosed
		}

		s.readers.Add(1)
		go s.serveConn(conn)
	}
}

// serveConn 握手 → 排入接纳 → 读循环
func (s *Server) serveConn(conn *transport.Connection) {
	defer s.readers.Done()

	session := newSession(conn)
	if !s.handshake(session) {
		s.metrics.IncHandshakesRejected()
		s.conns.remove(conn)
		conn.Close()
		return
	}
	s.metrics.IncSessionsAccepted()

	// 接纳闭包先于读循环入队，之后的同步/请求必然在它之后执行
	s.queue.Enqueue(func() { s.admit(session) })
	s.readLoop(session)
}

func (s *Server) handshake(session *Session) bool {
	conn := session.conn
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.Server.HandshakeTimeout))
	p := conn.Receive()
	_ = conn.SetReadDeadline(time.Time{})
	if p == nil {
		s.log.Infof("%s: closed before handshake", conn)
		return false
	}

	hs, err := protocol.DecodeHandshake(p)
	if err != nil {
		s.log.Warnf("%s: malformed handshake, err=%v", conn, err)
		return false
	}

	limits := s.Limits()
	if err := limits.ValidateUsername(hs.Username); err != nil {
		s.log.Warnf("%s: invalid username received: %q, closing connection, err=%v", conn, hs.Username, err)
		return false
	}

	session.id = protocol.NewIdentity()
	session.username = limits.SanitizeUsername(hs.Username)
	session.setState(protocol.StateAuthenticated)

	if !conn.Send(protocol.EncodeHandshakeReply(session.id)) {
		s.log.Warnf("%s: failed to send handshake reply", session)
		return false
	}
	s.log.Infof("%s: authenticated as %s", session, session.id)
	return true
}

// admit Tick 上执行：生成权威记录并加入世界
func (s *Server) admit(session *Session) {
	if s.inShutdown.Load() {
		session.setState(protocol.StateClosed)
		session.conn.Close()
		return
	}
	spawn := s.cfg.SpawnTransform()
	session.record = PlayerRecord{
		ID:        session.id,
		Username:  session.username,
		Transform: spawn,
		Role:      protocol.RoleServerAuthoritative,
	}
	session.record.Handle = s.entities.Spawn(session.record.Role, spawn, session.id, session.username)
	session.joinedAt = time.Now()
	session.setState(protocol.StateActive)
	s.world.Add(session)
	s.rosterDirty = true
	s.log.Infof("Player '%s' joined (%s), players=%d", session.username, session.id, s.world.Len())
}

func (s *Server) readLoop(session *Session) {
	conn := session.conn
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Errorf("%s: reader recovered from panic: %+v", session, rec)
		}
		s.conns.remove(conn)
		conn.Close()
		s.requestLeave(session)
	}()

	for {
		p := conn.Receive()
		if p == nil {
			return
		}
		s.metrics.IncPacketsReceived()
		s.registry.Resolve(session, p)
	}
}

// requestLeave 每个会话只排入一次断线清理
func (s *Server) requestLeave(session *Session) {
	session.leaveOnce.Do(func() {
		s.queue.Enqueue(func() { s.teardown(session) })
	})
}

// Shutdown 关闭监听与所有连接，并等待读循环退出
func (s *Server) Shutdown(ctx context.Context) error {
	s.inShutdown.Store(true)

	s.mu.Lock()
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	s.mu.Unlock()

	n := s.conns.closeAll()
	s.spectators.closeAll()
	s.log.Infof("shutting down, closed %d connections", n)

	done := make(chan struct{})
	go func() {
		s.readers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}
