package client

import (
	"shadownet/channel"
	"shadownet/packet"
	"shadownet/protocol"
)

func (c *Client) registerHandlers() error {
	handlers := map[string]channel.HandlerFunc[*Client]{
		protocol.ChannelShadowPlayerSync:       (*Client).handleShadowSync,
		protocol.ChannelShadowPlayerDisconnect: (*Client).handleDisconnect,
	}
	for name, h := range handlers {
		if err := c.registry.Register(name, h); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) handleShadowSync(body *packet.Packet) {
	msg, err := protocol.DecodeShadowSync(body)
	if err != nil {
		c.log.Warnf("malformed shadow sync, err=%v", err)
		return
	}
	c.queue.Enqueue(func() { c.applyShadow(msg) })
}

func (c *Client) handleDisconnect(body *packet.Packet) {
	msg, err := protocol.DecodeDisconnect(body)
	if err != nil {
		c.log.Warnf("malformed disconnect notice, err=%v", err)
		return
	}
	c.queue.Enqueue(func() { c.removeReplica(msg.ID) })
}

// spawnLocal Tick 上执行：生成本地玩家
func (c *Client) spawnLocal(t protocol.Transform) {
	if c.spawned {
		return
	}
	c.localHandle = c.entities.Spawn(protocol.RoleLocalOwned, t, c.id, c.username)
	c.spawned = true
}

// applyShadow 忽略自身；已有副本则更新，否则按需生成
func (c *Client) applyShadow(msg *protocol.ShadowSync) {
	if msg.ID == c.id {
		return
	}
	if r, ok := c.replicas[msg.ID]; ok {
		r.Transform = msg.Transform
		c.entities.Apply(r.Handle, msg.Transform)
		return
	}
	r := &Replica{
		ID:        msg.ID,
		Username:  msg.Username,
		Transform: msg.Transform,
		Role:      protocol.RoleRemoteReplica,
	}
	r.Handle = c.entities.Spawn(r.Role, msg.Transform, msg.ID, msg.Username)
	c.replicas[msg.ID] = r
	c.log.Infof("Player '%s' appeared (%s), replicas=%d", r.Username, r.ID, len(c.replicas))
}

func (c *Client) removeReplica(id protocol.Identity) {
	r, ok := c.replicas[id]
	if !ok {
		return
	}
	delete(c.replicas, id)
	c.entities.Despawn(r.Handle)
	c.log.Infof("Player '%s' disconnected (%s), replicas=%d", r.Username, r.ID, len(c.replicas))
}

// onConnectionLost Tick 上执行：销毁全部副本
func (c *Client) onConnectionLost() {
	for id, r := range c.replicas {
		delete(c.replicas, id)
		c.entities.Despawn(r.Handle)
	}
	c.log.Warnf("connection to server lost")
}
