// Package packet 实现双模式二进制缓冲：写模式只追加，读模式顺序游标。
//
// 浮点数为 4 字节小端 IEEE-754；字符串为 uvarint 字节长度前缀 + UTF-8。
// 字段顺序与宽度属于线上协议，两端必须一致。
package packet

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"shadownet/vec"
)

var (
	// ErrShortRead 读取越过缓冲末尾；此后该包的所有读取都返回此错误
	ErrShortRead = errors.New("packet: read past end of buffer")
	// ErrStringTooLong 字符串长度前缀超过剩余字节
	ErrStringTooLong = errors.New("packet: string length exceeds remaining bytes")
)

// Mode 包的打开模式，整个生命周期不变
type Mode uint8

const (
	ModeRead Mode = iota
	ModeWrite
)

func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "Read"
	case ModeWrite:
		return "Write"
	default:
		return "Unknown Mode"
	}
}

// Packet 线上缓冲
type Packet struct {
	mode Mode

	// 写模式
	buf bytes.Buffer

	// 读模式
	data []byte
	off  int
	err  error
}

// Empty 创建新的写缓冲
func Empty() *Packet {
	return &Packet{mode: ModeWrite}
}

// From 在 b 的前 count 个字节上创建读游标（调用方不得假设 b 其余部分有效）
func From(b []byte, count int) *Packet {
	if count < 0 {
		count = 0
	}
	if count > len(b) {
		count = len(b)
	}
	return &Packet{mode: ModeRead, data: b[:count]}
}

// Mode 返回打开模式
func (p *Packet) Mode() Mode {
	return p.mode
}

func (p *Packet) mustWrite(op string) {
	if p.mode != ModeWrite {
		panic(fmt.Sprintf("packet: %s on %s-mode packet", op, p.mode))
	}
}

func (p *Packet) mustRead(op string) {
	if p.mode != ModeRead {
		panic(fmt.Sprintf("packet: %s on %s-mode packet", op, p.mode))
	}
}

// Bytes 返回已写入内容（仅写模式）
func (p *Packet) Bytes() []byte {
	p.mustWrite("Bytes")
	return p.buf.Bytes()
}

// Len 当前缓冲字节数
func (p *Packet) Len() int {
	if p.mode == ModeWrite {
		return p.buf.Len()
	}
	return len(p.data)
}

// Remaining 读模式下尚未读取的字节数
func (p *Packet) Remaining() int {
	p.mustRead("Remaining")
	return len(p.data) - p.off
}

// Err 返回第一次读取失败的错误
func (p *Packet) Err() error {
	return p.err
}

// ---- 写 ----

func (p *Packet) WriteByte(b byte) error {
	p.mustWrite("WriteByte")
	return p.buf.WriteByte(b)
}

// WriteBytes 原样写入字节（无长度前缀）
func (p *Packet) WriteBytes(b []byte) {
	p.mustWrite("WriteBytes")
	p.buf.Write(b)
}

func (p *Packet) WriteUint32(v uint32) {
	p.mustWrite("WriteUint32")
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	p.buf.Write(b[:])
}

func (p *Packet) WriteFloat32(f float32) {
	p.mustWrite("WriteFloat32")
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], math.Float32bits(f))
	p.buf.Write(b[:])
}

// WriteString 写入 uvarint 长度前缀 + UTF-8 字节
func (p *Packet) WriteString(s string) {
	p.mustWrite("WriteString")
	var b [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(b[:], uint64(len(s)))
	p.buf.Write(b[:n])
	p.buf.WriteString(s)
}

// WriteVector3 顺序 x,y,z
func (p *Packet) WriteVector3(v vec.Vector3) {
	p.WriteFloat32(v.X)
	p.WriteFloat32(v.Y)
	p.WriteFloat32(v.Z)
}

// WriteQuaternion 顺序 x,y,z,w
func (p *Packet) WriteQuaternion(q vec.Quaternion) {
	p.WriteFloat32(q.X)
	p.WriteFloat32(q.Y)
	p.WriteFloat32(q.Z)
	p.WriteFloat32(q.W)
}

// ---- 读 ----

func (p *Packet) take(n int) ([]byte, error) {
	if p.err != nil {
		return nil, p.err
	}
	if n < 0 || len(p.data)-p.off < n {
		p.err = ErrShortRead
		return nil, p.err
	}
	b := p.data[p.off : p.off+n]
	p.off += n
	return b, nil
}

func (p *Packet) ReadByte() (byte, error) {
	p.mustRead("ReadByte")
	b, err := p.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadBytes 读取 n 个字节，返回副本
func (p *Packet) ReadBytes(n int) ([]byte, error) {
	p.mustRead("ReadBytes")
	b, err := p.take(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// Rest 读取剩余全部字节（副本）
func (p *Packet) Rest() []byte {
	p.mustRead("Rest")
	if p.err != nil {
		return nil
	}
	out := make([]byte, len(p.data)-p.off)
	copy(out, p.data[p.off:])
	p.off = len(p.data)
	return out
}

func (p *Packet) ReadUint32() (uint32, error) {
	p.mustRead("ReadUint32")
	b, err := p.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (p *Packet) ReadFloat32() (float32, error) {
	p.mustRead("ReadFloat32")
	b, err := p.take(4)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b)), nil
}

// ReadString 读取 uvarint 长度前缀字符串
func (p *Packet) ReadString() (string, error) {
	p.mustRead("ReadString")
	if p.err != nil {
		return "", p.err
	}
	n, k := binary.Uvarint(p.data[p.off:])
	if k <= 0 {
		p.err = ErrShortRead
		return "", p.err
	}
	if n > uint64(len(p.data)-p.off-k) {
		p.err = ErrStringTooLong
		return "", p.err
	}
	p.off += k
	b, err := p.take(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (p *Packet) ReadVector3() (vec.Vector3, error) {
	var v vec.Vector3
	var err error
	if v.X, err = p.ReadFloat32(); err != nil {
		return vec.Vector3{}, err
	}
	if v.Y, err = p.ReadFloat32(); err != nil {
		return vec.Vector3{}, err
	}
	if v.Z, err = p.ReadFloat32(); err != nil {
		return vec.Vector3{}, err
	}
	return v, nil
}

func (p *Packet) ReadQuaternion() (vec.Quaternion, error) {
	var q vec.Quaternion
	var err error
	if q.X, err = p.ReadFloat32(); err != nil {
		return vec.Quaternion{}, err
	}
	if q.Y, err = p.ReadFloat32(); err != nil {
		return vec.Quaternion{}, err
	}
	if q.Z, err = p.ReadFloat32(); err != nil {
		return vec.Quaternion{}, err
	}
	if q.W, err = p.ReadFloat32(); err != nil {
		return vec.Quaternion{}, err
	}
	return q, nil
}
