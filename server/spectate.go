package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sasha-s/go-deadlock"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

const (
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"

	spectatorQueueLen  = 64
	spectatorWriteTTL  = 5 * time.Second
	spectatorReadTTL   = 60 * time.Second
	spectatorPingEvery = spectatorReadTTL / 2
)

// RosterFrame 推送给观战端的在场玩家快照
type RosterFrame struct {
	Type    string        `json:"type" msgpack:"type"`
	Tick    uint64        `json:"tick" msgpack:"tick"`
	Players []PlayerState `json:"players" msgpack:"players"`
}

// Spectator 只读观战连接；写协程独占 websocket 写端
type Spectator struct {
	ws        *websocket.Conn
	codec     string
	send      chan []byte
	closeOnce sync.Once
}

func newSpectator(ws *websocket.Conn, codec string) *Spectator {
	return &Spectator{
		ws:    ws,
		codec: codec,
		send:  make(chan []byte, spectatorQueueLen),
	}
}

// Enqueue 将要发送的消息压入队列（非阻塞，满则丢弃）
func (c *Spectator) Enqueue(b []byte) {
	select {
	case c.send <- b:
	default:
		// 为了实时性，丢弃本帧（防止阻塞 Tick）
	}
}

// close 关闭发送队列以结束写协程；只能在 hub 写锁下调用
func (c *Spectator) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

func (c *Spectator) messageType() int {
	if c.codec == CodecMsgpack {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

// writePump 独立协程，负责从 send 队列写出到 WS，并定期 ping
func (c *Spectator) writePump() {
	ping := time.NewTicker(spectatorPingEvery)
	defer func() {
		ping.Stop()
		c.ws.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(time.Second))
				return
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(spectatorWriteTTL))
			if err := c.ws.WriteMessage(c.messageType(), msg); err != nil {
				return
			}
		case <-ping.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(spectatorWriteTTL)); err != nil {
				return
			}
		}
	}
}

// readPump 观战端不发送数据，只用来感知断开
func (c *Spectator) readPump(hub *spectatorHub) {
	defer hub.remove(c)
	c.ws.SetReadLimit(1024)
	_ = c.ws.SetReadDeadline(time.Now().Add(spectatorReadTTL))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(spectatorReadTTL))
	})
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(spectatorReadTTL))
	}
}

type spectatorHub struct {
	log *zap.SugaredLogger

	mu      deadlock.RWMutex
	members map[*Spectator]struct{}
}

func newSpectatorHub(log *zap.SugaredLogger) *spectatorHub {
	return &spectatorHub{
		log:     log,
		members: make(map[*Spectator]struct{}),
	}
}

func (h *spectatorHub) add(c *Spectator) {
	h.mu.Lock()
	h.members[c] = struct{}{}
	n := len(h.members)
	h.mu.Unlock()
	h.log.Infof("spectator %s joined, codec=%s, spectators=%d", c.ws.RemoteAddr(), c.codec, n)
}

func (h *spectatorHub) remove(c *Spectator) {
	h.mu.Lock()
	_, ok := h.members[c]
	delete(h.members, c)
	c.close()
	n := len(h.members)
	h.mu.Unlock()
	if ok {
		h.log.Infof("spectator %s left, spectators=%d", c.ws.RemoteAddr(), n)
	}
}

func (h *spectatorHub) len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.members)
}

func (h *spectatorHub) closeAll() {
	h.mu.Lock()
	for c := range h.members {
		delete(h.members, c)
		c.close()
	}
	h.mu.Unlock()
}

// broadcast 每种编码只序列化一次
func (h *spectatorHub) broadcast(tick uint64, players []PlayerState) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.members) == 0 {
		return
	}

	frame := &RosterFrame{Type: "roster", Tick: tick, Players: players}
	encoded := make(map[string][]byte, 2)
	for c := range h.members {
		b, ok := encoded[c.codec]
		if !ok {
			var err error
			if b, err = encodeFrame(c.codec, frame); err != nil {
				h.log.Errorf("failed to encode roster frame, codec=%s, err=%v", c.codec, err)
				continue
			}
			encoded[c.codec] = b
		}
		c.Enqueue(b)
	}
}

func encodeFrame(codec string, frame *RosterFrame) ([]byte, error) {
	if codec == CodecMsgpack {
		return msgpack.Marshal(frame)
	}
	return json.Marshal(frame)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 只读数据，允许所有来源
		return true
	},
}

// HandleSpectate WebSocket 观战：?codec=json|msgpack
func (s *Server) HandleSpectate(w http.ResponseWriter, r *http.Request) {
	codec := r.URL.Query().Get("codec")
	switch codec {
	case "":
		codec = CodecJSON
	case CodecJSON, CodecMsgpack:
	default:
		http.Error(w, "unsupported codec", http.StatusBadRequest)
		return
	}
	if s.inShutdown.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("spectate upgrade error: %v", err)
		return
	}

	c := newSpectator(ws, codec)
	// 先推一帧当前快照，再加入广播
	if b, err := encodeFrame(codec, &RosterFrame{Type: "roster", Tick: s.tickSeq.Load(), Players: s.Players()}); err == nil {
		c.Enqueue(b)
	}
	s.spectators.add(c)

	go c.writePump()
	go c.readPump(s.spectators)
}
