package server

import (
	"github.com/sasha-s/go-deadlock"

	"shadownet/transport"
)

// connSet 存活连接集合，供接入上限与 Shutdown 使用
type connSet struct {
	mu    deadlock.Mutex
	max   int
	conns map[uint32]*transport.Connection
}

func newConnSet(max int) *connSet {
	return &connSet{max: max, conns: make(map[uint32]*transport.Connection)}
}

// tryAdd 超出上限时返回 false
func (s *connSet) tryAdd(c *transport.Connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) >= s.max {
		return false
	}
	s.conns[c.ID()] = c
	return true
}

func (s *connSet) remove(c *transport.Connection) {
	s.mu.Lock()
	delete(s.conns, c.ID())
	s.mu.Unlock()
}

func (s *connSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// closeAll 关闭所有连接；阻塞中的读循环随之退出
func (s *connSet) closeAll() int {
	s.mu.Lock()
	conns := make([]*transport.Connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	return len(conns)
}
