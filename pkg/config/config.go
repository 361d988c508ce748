// 配置文件加载与校验
package config

import (
	"bytes"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/junbin-yang/sponge-go/api"
	"github.com/junbin-yang/sponge-go/pkg/transport/segment"
	"github.com/junbin-yang/sponge-go/pkg/transport/sim"
	"github.com/junbin-yang/sponge-go/pkg/transport/udp"
	"github.com/junbin-yang/sponge-go/pkg/utils/logger"
)

type Config struct {
	Connection api.Config     `yaml:"connection"`
	Log        Log            `yaml:"log"`
	UDP        UDP            `yaml:"udp"`
	Sim        sim.LinkConfig `yaml:"sim"`
}

type Log struct {
	Level string             `yaml:"level"`
	File  *logger.FileConfig `yaml:"file,omitempty"` // 为空时输出到标准错误
}

type UDP struct {
	TickInterval time.Duration `yaml:"tick_interval"`
}

// Default 返回默认配置
func Default() Config {
	return Config{
		Connection: api.DefaultConfig(),
		Log:        Log{Level: "info"},
		UDP:        UDP{TickInterval: 10 * time.Millisecond},
	}
}

// Load 读取YAML配置文件，未出现的字段保留默认值，未知字段视为错误
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "read config %s", path)
	}

	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, errors.Wrapf(err, "invalid config %s", path)
	}
	return cfg, nil
}

// Validate 检查配置取值
func (c Config) Validate() error {
	if err := ValidateConnection(c.Connection); err != nil {
		return err
	}
	if c.UDP.TickInterval <= 0 {
		return errors.New("udp.tick_interval must be positive")
	}
	if c.Connection.MaxPayloadSize > udp.MaxPayloadSize {
		return errors.Errorf("connection.max_payload_size %d exceeds udp datagram limit %d",
			c.Connection.MaxPayloadSize, udp.MaxPayloadSize)
	}
	if c.Log.File != nil && c.Log.File.Path == "" {
		return errors.New("log.file.path is required when log.file is set")
	}
	return c.Sim.Validate()
}

// ValidateConnection 检查连接参数
func ValidateConnection(c api.Config) error {
	switch {
	case c.RecvCapacity <= 0:
		return errors.New("connection.recv_capacity must be positive")
	case c.SendCapacity <= 0:
		return errors.New("connection.send_capacity must be positive")
	case c.RTTimeout == 0:
		return errors.New("connection.rt_timeout must be positive")
	case c.MaxPayloadSize <= 0:
		return errors.New("connection.max_payload_size must be positive")
	case c.MaxPayloadSize > segment.MaxPayload:
		return errors.Errorf("connection.max_payload_size %d exceeds wire limit %d",
			c.MaxPayloadSize, segment.MaxPayload)
	case c.MaxPayloadSize > c.SendCapacity:
		return errors.Errorf("connection.max_payload_size %d exceeds send_capacity %d",
			c.MaxPayloadSize, c.SendCapacity)
	}
	return nil
}
