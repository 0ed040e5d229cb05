package client

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"

	"shadownet/channel"
	"shadownet/config"
	"shadownet/packet"
	"shadownet/protocol"
	"shadownet/server"
	"shadownet/transport"
	"shadownet/vec"
)

const waitFor = 2 * time.Second

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.TickRate = 200
	cfg.Server.HandshakeTimeout = time.Second
	return cfg
}

func startServer(t *testing.T, cfg *config.Config) *server.Server {
	t.Helper()
	srv, err := server.New(server.Options{Config: cfg, Logger: zap.NewNop().Sugar()})
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(l)
	go srv.Run(ctx)
	for deadline := time.Now().Add(waitFor); srv.Addr() == nil; {
		if time.Now().After(deadline) {
			t.Fatalf("server did not start listening")
		}
		time.Sleep(time.Millisecond)
	}
	t.Cleanup(func() {
		sctx, scancel := context.WithTimeout(context.Background(), waitFor)
		defer scancel()
		_ = srv.Shutdown(sctx)
		cancel()
	})
	return srv
}

func newClient(t *testing.T, local protocol.TransformSource) (*Client, *MemoryEntities) {
	t.Helper()
	ents := NewMemoryEntities()
	c, err := New(Options{
		Config:   testConfig(),
		Entities: ents,
		Local:    local,
		Logger:   zap.NewNop().Sugar(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, ents
}

func connect(t *testing.T, srv *server.Server, c *Client, username string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	if err := c.Connect(ctx, srv.Addr().String(), username); err != nil {
		t.Fatalf("Connect(%q): %v", username, err)
	}
}

// tickUntil 驱动客户端 Tick 直到条件成立
func tickUntil(t *testing.T, c *Client, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitFor)
	for time.Now().Before(deadline) {
		c.Tick()
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitPlayers(t *testing.T, srv *server.Server, n int) {
	t.Helper()
	deadline := time.Now().Add(waitFor)
	for time.Now().Before(deadline) {
		if len(srv.Players()) == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d players, have %d", n, len(srv.Players()))
}

func inbound(name string, body *packet.Packet) *packet.Packet {
	b := channel.Frame(name, body).Bytes()
	return packet.From(b, len(b))
}

func TestShadowSyncIgnoresOwnIdentityAndSpawnsLazily(t *testing.T) {
	c, ents := newClient(t, nil)
	c.id = protocol.NewIdentity()
	other := protocol.NewIdentity()

	own := &protocol.ShadowSync{ID: c.id, Username: "Me", Transform: protocol.DefaultSpawn()}
	c.registry.Resolve(c, inbound(protocol.ChannelShadowPlayerSync, own.Encode()))
	c.Tick()
	if ents.Len() != 0 || len(c.Replicas()) != 0 {
		t.Fatalf("own identity produced a replica")
	}

	first := &protocol.ShadowSync{ID: other, Username: "Vega", Transform: protocol.DefaultSpawn()}
	second := &protocol.ShadowSync{ID: other, Username: "Vega", Transform: protocol.Transform{
		Position: vec.Vector3{X: 4},
		Rotation: vec.Identity(),
	}}
	c.registry.Resolve(c, inbound(protocol.ChannelShadowPlayerSync, first.Encode()))
	c.registry.Resolve(c, inbound(protocol.ChannelShadowPlayerSync, second.Encode()))
	c.Tick()

	if ents.Len() != 1 {
		t.Fatalf("expected exactly one replica entity, have %d", ents.Len())
	}
	e, ok := ents.Find(other)
	if !ok || e.Role != protocol.RoleRemoteReplica || e.Username != "Vega" {
		t.Fatalf("unexpected entity %+v", e)
	}
	if e.Transform != second.Transform {
		t.Fatalf("replica not updated: %+v", e.Transform)
	}

	// 未知身份的断线通知被忽略
	c.registry.Resolve(c, inbound(protocol.ChannelShadowPlayerDisconnect, (&protocol.Disconnect{ID: protocol.NewIdentity()}).Encode()))
	c.Tick()
	if ents.Len() != 1 {
		t.Fatalf("unknown disconnect removed an entity")
	}

	c.registry.Resolve(c, inbound(protocol.ChannelShadowPlayerDisconnect, (&protocol.Disconnect{ID: other}).Encode()))
	c.Tick()
	if ents.Len() != 0 || len(c.Replicas()) != 0 {
		t.Fatalf("replica not removed")
	}
}

func TestMalformedShadowSyncIsDropped(t *testing.T) {
	c, ents := newClient(t, nil)
	short := packet.Empty()
	short.WriteBytes([]byte{1, 2, 3})
	if !c.registry.Resolve(c, inbound(protocol.ChannelShadowPlayerSync, short)) {
		t.Fatalf("handler should run for a registered channel")
	}
	c.Tick()
	if ents.Len() != 0 {
		t.Fatalf("malformed update spawned an entity")
	}
}

func TestConnectSpawnsLocalPlayer(t *testing.T) {
	srv := startServer(t, testConfig())
	c, ents := newClient(t, nil)
	connect(t, srv, c, "Nova")

	if c.ID() == (protocol.Identity{}) || c.Username() != "Nova" {
		t.Fatalf("identity not assigned: %s %q", c.ID(), c.Username())
	}
	c.Tick()
	e, ok := ents.Find(c.ID())
	if !ok || e.Role != protocol.RoleLocalOwned {
		t.Fatalf("local player not spawned: %+v", e)
	}
	if e.Transform != protocol.DefaultSpawn() {
		t.Fatalf("unexpected spawn %+v", e.Transform)
	}

	waitPlayers(t, srv, 1)
	if got := srv.Players()[0].ID; got != c.ID().String() {
		t.Fatalf("server knows %s, client is %s", got, c.ID())
	}

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	if err := c.Connect(ctx, srv.Addr().String(), "Nova"); !errors.Is(err, ErrAlreadyConnected) {
		t.Fatalf("expected ErrAlreadyConnected, got %v", err)
	}
}

func TestReplicaLifecycle(t *testing.T) {
	srv := startServer(t, testConfig())
	moved := protocol.Transform{Position: vec.Vector3{X: 1, Y: 2, Z: 3}, Rotation: vec.Identity()}
	a, _ := newClient(t, protocol.TransformSourceFunc(func() protocol.Transform { return moved }))
	b, bEnts := newClient(t, nil)
	connect(t, srv, a, "Nova")
	connect(t, srv, b, "Vega")
	waitPlayers(t, srv, 2)

	tickUntil(t, b, "replica of Nova", func() bool {
		a.Tick()
		r, ok := b.Replica(a.ID())
		return ok && r.Username == "Nova" && r.Transform == moved
	})
	if e, ok := bEnts.Find(a.ID()); !ok || e.Transform != moved {
		t.Fatalf("replica entity not updated: %+v", e)
	}
	if _, ok := b.Replica(b.ID()); ok {
		t.Fatalf("client holds a replica of itself")
	}

	a.Close()
	select {
	case <-a.Done():
	case <-time.After(waitFor):
		t.Fatalf("reader did not exit after Close")
	}
	tickUntil(t, b, "replica removal", func() bool {
		_, ok := b.Replica(a.ID())
		return !ok
	})
	if _, ok := bEnts.Find(a.ID()); ok {
		t.Fatalf("replica entity not despawned")
	}
}

func TestRosterBringsExistingPlayers(t *testing.T) {
	srv := startServer(t, testConfig())
	a, _ := newClient(t, nil)
	connect(t, srv, a, "Nova")
	waitPlayers(t, srv, 1)

	b, _ := newClient(t, nil)
	connect(t, srv, b, "Vega")
	tickUntil(t, b, "roster replica", func() bool {
		r, ok := b.Replica(a.ID())
		return ok && r.Transform == protocol.DefaultSpawn()
	})
}

func TestConnectionLostDespawnsReplicas(t *testing.T) {
	srv := startServer(t, testConfig())
	a, _ := newClient(t, nil)
	b, bEnts := newClient(t, nil)
	connect(t, srv, a, "Nova")
	waitPlayers(t, srv, 1)
	connect(t, srv, b, "Vega")
	tickUntil(t, b, "roster replica", func() bool {
		_, ok := b.Replica(a.ID())
		return ok
	})

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	select {
	case <-b.Done():
	case <-time.After(waitFor):
		t.Fatalf("client did not notice the lost connection")
	}
	tickUntil(t, b, "replicas cleared", func() bool {
		return len(b.Replicas()) == 0
	})
	if b.IsConnected() {
		t.Fatalf("client still reports connected")
	}
	if _, ok := bEnts.Find(a.ID()); ok {
		t.Fatalf("replica entity survived connection loss")
	}
}

func TestHandshakeRejectedByServer(t *testing.T) {
	cfg := testConfig()
	cfg.Validation.MaxUsernameLength = 3
	srv := startServer(t, cfg)

	c, _ := newClient(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	err := c.Connect(ctx, srv.Addr().String(), "Nova")
	if !errors.Is(err, ErrHandshakeRejected) {
		t.Fatalf("expected ErrHandshakeRejected, got %v", err)
	}
	if c.IsConnected() {
		t.Fatalf("rejected client reports connected")
	}
}

func TestBadHandshakeReply(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	go func() {
		raw, err := l.Accept()
		if err != nil {
			return
		}
		conn := transport.New(raw, nil, zap.NewNop().Sugar())
		defer conn.Close()
		if conn.Receive() == nil {
			return
		}
		reply := packet.Empty()
		reply.WriteBytes(make([]byte, protocol.IdentityLen+1))
		conn.Send(reply)
		conn.Receive()
	}()

	c, _ := newClient(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	if err := c.Connect(ctx, l.Addr().String(), "Nova"); !errors.Is(err, ErrBadHandshake) {
		t.Fatalf("expected ErrBadHandshake, got %v", err)
	}
}
