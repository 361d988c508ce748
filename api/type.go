// 公共API类型
package api

import "time"

// 默认参数
const (
	DefaultCapacity        = 64000 // 默认收发缓冲区容量
	DefaultMaxPayloadSize  = 1000  // 单个段的最大负载
	DefaultRTTimeout       = 1000  // 初始重传超时（毫秒）
	DefaultMaxRetxAttempts = 8     // 连续重传超过该次数后放弃连接
)

// 连接配置
//
// 交给tcp.NewConnection时，取零值的字段使用对应默认值，因此重传上限最小为1：
// 连续重传次数超过MaxRetxAttempts才放弃连接，第一次重传本身不会触发重置。
type Config struct {
	RecvCapacity    int     `yaml:"recv_capacity" mapstructure:"recv-capacity"`
	SendCapacity    int     `yaml:"send_capacity" mapstructure:"send-capacity"`
	RTTimeout       uint    `yaml:"rt_timeout" mapstructure:"rt-timeout"` // 毫秒
	FixedISN        *uint32 `yaml:"fixed_isn,omitempty" mapstructure:"fixed-isn"`
	MaxRetxAttempts uint    `yaml:"max_retx_attempts" mapstructure:"max-retx-attempts"`
	MaxPayloadSize  int     `yaml:"max_payload_size" mapstructure:"max-payload-size"`
}

// DefaultConfig 返回默认连接配置
func DefaultConfig() Config {
	return Config{
		RecvCapacity:    DefaultCapacity,
		SendCapacity:    DefaultCapacity,
		RTTimeout:       DefaultRTTimeout,
		MaxRetxAttempts: DefaultMaxRetxAttempts,
		MaxPayloadSize:  DefaultMaxPayloadSize,
	}
}

// RTO 以time.Duration形式返回初始重传超时
func (c Config) RTO() time.Duration {
	return time.Duration(c.RTTimeout) * time.Millisecond
}

// 连接运行时统计
type Statistics struct {
	SegmentsSent     uint64 // 交给下层的段数（含重传）
	SegmentsReceived uint64 // 收到的段数
	Retransmissions  uint64 // 超时重传次数
	ResetsSent       uint64
	ResetsReceived   uint64
	BytesWritten     uint64 // 应用写入出站流的字节数
	BytesDelivered   uint64 // 重组后写入入站流的字节数
}
