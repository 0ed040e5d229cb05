package client

import (
	"sort"
	"sync"

	"shadownet/protocol"
)

// Entity MemoryEntities 中的一条实体
type Entity struct {
	Handle    int
	Role      protocol.Role
	ID        protocol.Identity
	Username  string
	Transform protocol.Transform
}

// MemoryEntities 内存实体表，无头客户端与测试使用
type MemoryEntities struct {
	mu       sync.Mutex
	next     int
	entities map[int]*Entity
}

func NewMemoryEntities() *MemoryEntities {
	return &MemoryEntities{entities: make(map[int]*Entity)}
}

func (m *MemoryEntities) Spawn(role protocol.Role, t protocol.Transform, id protocol.Identity, username string) protocol.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	m.entities[m.next] = &Entity{
		Handle:    m.next,
		Role:      role,
		ID:        id,
		Username:  username,
		Transform: t,
	}
	return m.next
}

func (m *MemoryEntities) Apply(h protocol.Handle, t protocol.Transform) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.lookup(h); ok {
		e.Transform = t
	}
}

func (m *MemoryEntities) Despawn(h protocol.Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.lookup(h); ok {
		delete(m.entities, e.Handle)
	}
}

func (m *MemoryEntities) lookup(h protocol.Handle) (*Entity, bool) {
	key, ok := h.(int)
	if !ok {
		return nil, false
	}
	e, ok := m.entities[key]
	return e, ok
}

// Find 按身份查找
func (m *MemoryEntities) Find(id protocol.Identity) (Entity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entities {
		if e.ID == id {
			return *e, true
		}
	}
	return Entity{}, false
}

// All 按生成顺序返回全部实体
func (m *MemoryEntities) All() []Entity {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entity, 0, len(m.entities))
	for _, e := range m.entities {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

func (m *MemoryEntities) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entities)
}
