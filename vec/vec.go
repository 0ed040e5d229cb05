// Package vec 提供网络同步使用的三维向量与四元数（单精度）
package vec

import (
	"fmt"
	"math"
)

// Vector3 位置向量
type Vector3 struct {
	X float32 `json:"x" msgpack:"x"`
	Y float32 `json:"y" msgpack:"y"`
	Z float32 `json:"z" msgpack:"z"`
}

// Quaternion 旋转四元数，字段顺序 x,y,z,w 即线上顺序
type Quaternion struct {
	X float32 `json:"x" msgpack:"x"`
	Y float32 `json:"y" msgpack:"y"`
	Z float32 `json:"z" msgpack:"z"`
	W float32 `json:"w" msgpack:"w"`
}

// Identity 单位旋转 (0,0,0,1)
func Identity() Quaternion {
	return Quaternion{W: 1}
}

func isFinite(f float32) bool {
	v := float64(f)
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// IsFinite 所有分量均非 NaN/Inf
func (v Vector3) IsFinite() bool {
	return isFinite(v.X) && isFinite(v.Y) && isFinite(v.Z)
}

// Magnitude 到原点的距离（float64 计算，避免大分量平方溢出）
func (v Vector3) Magnitude() float64 {
	x, y, z := float64(v.X), float64(v.Y), float64(v.Z)
	return math.Sqrt(x*x + y*y + z*z)
}

func (v Vector3) String() string {
	return fmt.Sprintf("(%g, %g, %g)", v.X, v.Y, v.Z)
}

// IsFinite 所有分量均非 NaN/Inf
func (q Quaternion) IsFinite() bool {
	return isFinite(q.X) && isFinite(q.Y) && isFinite(q.Z) && isFinite(q.W)
}

// Norm 四元数模长
func (q Quaternion) Norm() float64 {
	x, y, z, w := float64(q.X), float64(q.Y), float64(q.Z), float64(q.W)
	return math.Sqrt(x*x + y*y + z*z + w*w)
}

func (q Quaternion) String() string {
	return fmt.Sprintf("(%g, %g, %g, %g)", q.X, q.Y, q.Z, q.W)
}
