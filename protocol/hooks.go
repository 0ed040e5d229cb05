package protocol

// Handle 外部系统返回的不透明实体句柄
type Handle any

// Entities 与外部实体系统（渲染/物理/预制体）交互的钩子。
// 只会在拥有者 Tick 上被调用。
type Entities interface {
	// Spawn 创建实体并返回句柄
	Spawn(role Role, t Transform, id Identity, username string) Handle
	// Apply 把变换应用到远端副本
	Apply(h Handle, t Transform)
	// Despawn 销毁实体
	Despawn(h Handle)
}

// TransformSource 读取本地玩家当前变换
type TransformSource interface {
	Transform() Transform
}

// TransformSourceFunc 函数适配器
type TransformSourceFunc func() Transform

func (f TransformSourceFunc) Transform() Transform {
	return f()
}

// NopEntities 不做任何事的实现（无头服务端默认使用）
type NopEntities struct{}

func (NopEntities) Spawn(Role, Transform, Identity, string) Handle { return nil }
func (NopEntities) Apply(Handle, Transform)                        {}
func (NopEntities) Despawn(Handle)                                 {}
