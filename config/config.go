package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"shadownet/protocol"
	"shadownet/transport"
	"shadownet/vec"
)

const (
	// defaults for when not provided in Config
	ListenAddress    string        = ":2228"
	AdminAddress     string        = ":8080"
	MaxConnections   int           = 10
	TickRate         int           = 50 // FixedUpdate 频率
	HandshakeTimeout time.Duration = 30 * time.Second
	ServerAddress    string        = "127.0.0.1:2228"
	Username         string        = "Player"
	SendRate         int           = 20
	DialTimeout      time.Duration = 3 * time.Second
	LogLevel         string        = "debug"
)

type ServerConfig struct {
	ListenAddress    string        `yaml:"listen_address"`
	AdminAddress     string        `yaml:"admin_address"`
	MaxConnections   int           `yaml:"max_connections"`
	TickRate         int           `yaml:"tick_rate"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

type TransportConfig struct {
	BufferSize    int           `yaml:"buffer_size"`
	MaxPacketSize int           `yaml:"max_packet_size"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
}

type ClientConfig struct {
	ServerAddress string        `yaml:"server_address"`
	Username      string        `yaml:"username"`
	SendRate      int           `yaml:"send_rate"`
	DialTimeout   time.Duration `yaml:"dial_timeout"`
}

type LogConfig struct {
	File  string `yaml:"file"`
	Level string `yaml:"level"`
}

// Config 服务端与客户端共用的配置
type Config struct {
	Server     ServerConfig    `yaml:"server"`
	Transport  TransportConfig `yaml:"transport"`
	Client     ClientConfig    `yaml:"client"`
	Validation protocol.Limits `yaml:"validation"`
	Spawn      SpawnConfig     `yaml:"spawn"`
	Log        LogConfig       `yaml:"log"`
}

// SpawnConfig 新玩家出生变换
type SpawnConfig struct {
	Position vec.Vector3 `yaml:"position"`
}

// Default 返回全部字段取默认值的配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddress:    ListenAddress,
			AdminAddress:     AdminAddress,
			MaxConnections:   MaxConnections,
			TickRate:         TickRate,
			HandshakeTimeout: HandshakeTimeout,
		},
		Transport: TransportConfig{
			BufferSize:    transport.DefaultBufferSize,
			MaxPacketSize: transport.DefaultMaxPacketSize,
			WriteTimeout:  transport.DefaultWriteTimeout,
		},
		Client: ClientConfig{
			ServerAddress: ServerAddress,
			Username:      Username,
			SendRate:      SendRate,
			DialTimeout:   DialTimeout,
		},
		Validation: protocol.DefaultLimits(),
		Spawn: SpawnConfig{
			Position: protocol.DefaultSpawn().Position,
		},
		Log: LogConfig{
			File:  "app.log",
			Level: LogLevel,
		},
	}
}

// Load 读取 YAML 文件，覆盖默认值
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return c, nil
}

// TransportOptions 转换为连接参数
func (c *Config) TransportOptions() *transport.Options {
	return &transport.Options{
		BufferSize:    c.Transport.BufferSize,
		MaxPacketSize: c.Transport.MaxPacketSize,
		WriteTimeout:  c.Transport.WriteTimeout,
	}
}

// SpawnTransform 出生变换（旋转固定为单位旋转）
func (c *Config) SpawnTransform() protocol.Transform {
	t := protocol.DefaultSpawn()
	t.Position = c.Spawn.Position
	return t
}

func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("nil config")
	}

	if c.Server.ListenAddress == "" {
		return fmt.Errorf("invalid Server.ListenAddress=%q", c.Server.ListenAddress)
	}

	if c.Server.MaxConnections <= 0 {
		return fmt.Errorf("invalid Server.MaxConnections=%d", c.Server.MaxConnections)
	}

	if c.Server.TickRate <= 0 || c.Server.TickRate > 1000 {
		return fmt.Errorf("invalid Server.TickRate=%d", c.Server.TickRate)
	}

	if c.Server.HandshakeTimeout <= 0 {
		return fmt.Errorf("invalid Server.HandshakeTimeout=%s", c.Server.HandshakeTimeout)
	}

	if c.Transport.BufferSize < 512 || c.Transport.BufferSize > 64*1024 {
		return fmt.Errorf("invalid Transport.BufferSize=%d", c.Transport.BufferSize)
	}

	if c.Transport.MaxPacketSize <= 0 {
		return fmt.Errorf("invalid Transport.MaxPacketSize=%d", c.Transport.MaxPacketSize)
	}

	if c.Transport.WriteTimeout <= 0 {
		return fmt.Errorf("invalid Transport.WriteTimeout=%s", c.Transport.WriteTimeout)
	}

	if c.Client.SendRate <= 0 || c.Client.SendRate > 1000 {
		return fmt.Errorf("invalid Client.SendRate=%d", c.Client.SendRate)
	}

	if c.Client.DialTimeout <= 0 {
		return fmt.Errorf("invalid Client.DialTimeout=%s", c.Client.DialTimeout)
	}

	if err := c.Validation.Validate(); err != nil {
		return fmt.Errorf("validation: %w", err)
	}

	spawn := c.SpawnTransform()
	if err := c.Validation.ValidatePosition(spawn.Position); err != nil {
		return fmt.Errorf("spawn: %w", err)
	}

	return nil
}
