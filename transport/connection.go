// Package transport 封装一条 TCP 连接：整包阻塞收发、长度前缀分帧、幂等关闭。
//
// 帧格式：
//
//	0,1,2,3 - payload 长度，uint32 小端
//	4...    - payload
//
// 接收端按帧头读取恰好 payload 长度的字节，因此半包与粘包都不影响包边界。
package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"shadownet/logging"
	"shadownet/packet"
)

const (
	headerLen = 4

	DefaultBufferSize    = 2 * 1024    // 2KB
	DefaultMaxPacketSize = 1024 * 1024 // 1MB
	DefaultWriteTimeout  = 5 * time.Second
)

// Options 连接参数，零值字段取默认值
type Options struct {
	BufferSize    int
	MaxPacketSize int
	WriteTimeout  time.Duration
}

func (o *Options) withDefaults() Options {
	var out Options
	if o != nil {
		out = *o
	}
	if out.BufferSize <= 0 {
		out.BufferSize = DefaultBufferSize
	}
	if out.MaxPacketSize <= 0 {
		out.MaxPacketSize = DefaultMaxPacketSize
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = DefaultWriteTimeout
	}
	return out
}

var connIDGen atomic.Uint32

// Connection 独占一个 socket
type Connection struct {
	id         uint32
	conn       net.Conn
	opts       Options
	log        *zap.SugaredLogger
	descriptor string

	reader *bufio.Reader
	readMu sync.Mutex // 同一时刻只允许一个 Receive
	sendMu sync.Mutex

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// New 接管已连接的 socket
func New(conn net.Conn, opts *Options, log *zap.SugaredLogger) *Connection {
	o := opts.withDefaults()
	id := connIDGen.Add(1)
	return &Connection{
		id:         id,
		conn:       conn,
		opts:       o,
		log:        logging.Named(log, "transport"),
		descriptor: fmt.Sprintf("[%d]<%s>", id, conn.RemoteAddr().String()),
		reader:     bufio.NewReaderSize(conn, o.BufferSize),
	}
}

// Dial 建立 TCP 连接
func Dial(ctx context.Context, address string, opts *Options, log *zap.SugaredLogger) (*Connection, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	return New(conn, opts, log), nil
}

// ID 进程内唯一的连接编号
func (c *Connection) ID() uint32 {
	return c.id
}

func (c *Connection) String() string {
	return c.descriptor
}

func (c *Connection) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// MaxPacketSize 单帧 payload 上限
func (c *Connection) MaxPacketSize() int {
	return c.opts.MaxPacketSize
}

// IsConnected 连接是否仍可用；关闭后返回 false，不会 panic
func (c *Connection) IsConnected() bool {
	return c != nil && !c.closed.Load()
}

// Send 以一次写操作发送整帧；超限、已关闭或写失败时返回 false。
// 写失败视为传输故障，连接随之关闭。
func (c *Connection) Send(p *packet.Packet) bool {
	body := p.Bytes()
	if len(body) > c.opts.MaxPacketSize {
		c.log.Warnf("%s: refusing to send %d bytes, limit is %d", c.descriptor, len(body), c.opts.MaxPacketSize)
		return false
	}
	if c.closed.Load() {
		return false
	}

	buf := make([]byte, headerLen+len(body))
	binary.LittleEndian.PutUint32(buf[:headerLen], uint32(len(body)))
	copy(buf[headerLen:], body)

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	if _, err := c.conn.Write(buf); err != nil {
		if !c.closed.Load() {
			c.log.Warnf("%s: failed to write %d bytes, err=%v", c.descriptor, len(buf), err)
		}
		c.Close()
		return false
	}
	return true
}

// Receive 阻塞读取一帧。返回 nil 表示"无数据"：对端关闭、socket 故障、
// 连接已关闭，或帧头非法（此时连接被关闭）。
func (c *Connection) Receive() *packet.Packet {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if c.closed.Load() {
		return nil
	}

	var header [headerLen]byte
	if _, err := io.ReadFull(c.reader, header[:]); err != nil {
		c.logReadErr("header", err)
		return nil
	}

	payloadLen := binary.LittleEndian.Uint32(header[:])
	if payloadLen == 0 {
		c.log.Warnf("%s: zero length frame, closing", c.descriptor)
		c.Close()
		return nil
	}
	if uint64(payloadLen) > uint64(c.opts.MaxPacketSize) {
		c.log.Warnf("%s: payloadLen=%d exceeds limit %d, closing", c.descriptor, payloadLen, c.opts.MaxPacketSize)
		c.Close()
		return nil
	}

	buf := make([]byte, payloadLen)
	n, err := io.ReadFull(c.reader, buf)
	if err != nil {
		c.logReadErr("payload", err)
		return nil
	}
	return packet.From(buf, n)
}

func (c *Connection) logReadErr(what string, err error) {
	switch {
	case c.closed.Load():
		c.log.Debugf("%s: read %s interrupted by close", c.descriptor, what)
	case err == io.EOF:
		c.log.Infof("%s: peer closed connection", c.descriptor)
	default:
		c.log.Warnf("%s: failed to read %s, err=%v", c.descriptor, what, err)
	}
}

// SetReadDeadline 仅用于握手阶段的超时
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// Close 关闭并释放 socket，仅生效一次；阻塞中的 Receive 随即返回 nil
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.conn.Close()
		c.log.Debugf("%s: connection closed", c.descriptor)
	})
	return c.closeErr
}
