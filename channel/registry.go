// Package channel 维护频道名到处理器的映射，并把入站包解析到对应处理器。
//
// 注册只在建立流量之前进行；Seal 之后注册表只读，分发无需加锁。
// 服务端与客户端使用同一实现，泛型参数 S 是处理器拿到的上下文：
// 服务端为来源会话（用于回复/广播），客户端为客户端本身。
package channel

import (
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"go.uber.org/zap"

	"shadownet/logging"
	"shadownet/packet"
)

var (
	ErrEmptyChannel     = errors.New("channel: empty channel name")
	ErrNilHandler       = errors.New("channel: nil handler")
	ErrDuplicateChannel = errors.New("channel: duplicate registration")
	ErrSealed           = errors.New("channel: registry sealed")
)

// Handler 处理一个频道的包；body 的读游标已越过频道名
type Handler[S any] interface {
	Handle(ctx S, body *packet.Packet)
}

// HandlerFunc 函数适配器
type HandlerFunc[S any] func(ctx S, body *packet.Packet)

func (f HandlerFunc[S]) Handle(ctx S, body *packet.Packet) {
	f(ctx, body)
}

// Registry 频道注册表
type Registry[S any] struct {
	side     string
	log      *zap.SugaredLogger
	handlers map[string]Handler[S]
	sealed   atomic.Bool
	dropped  atomic.Int64
}

// NewRegistry side 仅用于日志（"server"/"client"）
func NewRegistry[S any](side string, log *zap.SugaredLogger) *Registry[S] {
	return &Registry[S]{
		side:     side,
		log:      logging.Named(log, "dispatch"),
		handlers: make(map[string]Handler[S]),
	}
}

// Register 绑定频道名与处理器；重复注册返回 ErrDuplicateChannel
func (r *Registry[S]) Register(name string, h Handler[S]) error {
	if r.sealed.Load() {
		return fmt.Errorf("%s: register %q: %w", r.side, name, ErrSealed)
	}
	if name == "" {
		return fmt.Errorf("%s: %w", r.side, ErrEmptyChannel)
	}
	if h == nil {
		return fmt.Errorf("%s: register %q: %w", r.side, name, ErrNilHandler)
	}
	if _, found := r.handlers[name]; found {
		return fmt.Errorf("%s: register %q: %w", r.side, name, ErrDuplicateChannel)
	}
	r.handlers[name] = h
	return nil
}

// Seal 开始收发之前调用，之后注册表只读
func (r *Registry[S]) Seal() {
	r.sealed.Store(true)
}

// Channels 已注册的频道名（排序）
func (r *Registry[S]) Channels() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dropped 因频道未知或包头损坏而丢弃的包数
func (r *Registry[S]) Dropped() int64 {
	return r.dropped.Load()
}

// Resolve 读取包头的频道名并调用处理器。未知频道或损坏包头：记录并丢弃；
// 处理器 panic 会被恢复，读循环不受影响。返回是否调用了处理器。
func (r *Registry[S]) Resolve(ctx S, p *packet.Packet) (handled bool) {
	name, err := p.ReadString()
	if err != nil {
		r.dropped.Add(1)
		r.log.Warnf("%s: malformed channel header, dropping %d bytes, err=%v", r.side, p.Len(), err)
		return false
	}

	h, found := r.handlers[name]
	if !found {
		r.dropped.Add(1)
		r.log.Warnf("%s: no handler registered for channel %q, dropping", r.side, name)
		return false
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.log.Errorf("%s: handler for channel %q recovered from panic: %+v", r.side, name, rec)
		}
	}()
	h.Handle(ctx, p)
	return true
}

// Frame 统一的出站格式：先写频道名，再写 body 原始字节
func Frame(name string, body *packet.Packet) *packet.Packet {
	out := packet.Empty()
	out.WriteString(name)
	if body != nil {
		out.WriteBytes(body.Bytes())
	}
	return out
}
