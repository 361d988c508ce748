// 基于Sender与Receiver组合出的TCP风格可靠字节流连接
//
// 连接本身不做任何I/O，也不读取时钟：入站段通过SegmentReceived交给它，
// 出站段从SegmentsOut取走，时间流逝通过Tick告知。所有方法都不是并发安全的。
package tcp

import (
	"math"
	"math/rand"

	"github.com/junbin-yang/sponge-go/api"
	"github.com/junbin-yang/sponge-go/pkg/transport/segment"
	"github.com/junbin-yang/sponge-go/pkg/transport/seqnum"
	"github.com/junbin-yang/sponge-go/pkg/transport/stream"
	"github.com/junbin-yang/sponge-go/pkg/utils/logger"
)

// lingerFactor 两条流都结束后需要继续等待的时长，以初始RTO为单位
const lingerFactor = 10

type Connection struct {
	cfg      api.Config
	receiver *Receiver
	sender   *Sender

	segmentsOut segment.Queue

	// linger 为true时，两条流都结束后还要等待一段时间，以便重新确认对端重传的FIN
	linger bool
	active bool

	needSendRST         bool
	timeSinceLastSegRcv uint

	stats api.Statistics
	log   *logger.Logger
}

type options struct {
	log  *logger.Logger
	rand *rand.Rand
}

type Option func(*options)

// WithLogger 指定连接使用的日志器
func WithLogger(l *logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithRand 指定生成初始序列号的随机源，cfg.FixedISN非空时不使用
func WithRand(r *rand.Rand) Option {
	return func(o *options) { o.rand = r }
}

// NewConnection 按配置创建连接，配置中为零的字段使用默认值
func NewConnection(cfg api.Config, opts ...Option) *Connection {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Default()
	}
	cfg = withDefaults(cfg)

	var isn seqnum.Value
	if cfg.FixedISN != nil {
		isn = seqnum.Value(*cfg.FixedISN)
	} else {
		if o.rand == nil {
			o.rand = defaultRand()
		}
		isn = NewISN(o.rand)
	}

	return &Connection{
		cfg:      cfg,
		receiver: NewReceiver(cfg.RecvCapacity),
		sender:   NewSender(cfg.SendCapacity, cfg.RTTimeout, isn, cfg.MaxPayloadSize),
		linger:   true,
		active:   true,
		log:      o.log.Named("tcp").With(logger.Uint32("isn", uint32(isn))),
	}
}

func withDefaults(cfg api.Config) api.Config {
	def := api.DefaultConfig()
	if cfg.RecvCapacity <= 0 {
		cfg.RecvCapacity = def.RecvCapacity
	}
	if cfg.SendCapacity <= 0 {
		cfg.SendCapacity = def.SendCapacity
	}
	if cfg.RTTimeout == 0 {
		cfg.RTTimeout = def.RTTimeout
	}
	if cfg.MaxRetxAttempts == 0 {
		cfg.MaxRetxAttempts = def.MaxRetxAttempts
	}
	if cfg.MaxPayloadSize <= 0 {
		cfg.MaxPayloadSize = def.MaxPayloadSize
	}
	return cfg
}

// Connect 主动打开，发出SYN
func (c *Connection) Connect() {
	c.log.Debug("connect")
	c.pushSegmentsOut(true)
}

// Write 写入出站流，返回实际接受的字节数
func (c *Connection) Write(data []byte) int {
	if len(data) == 0 {
		return 0
	}
	n := c.sender.StreamIn().Write(data)
	c.pushSegmentsOut(false)
	return n
}

// EndInputStream 关闭出站流，数据发完后会发出FIN
func (c *Connection) EndInputStream() {
	c.sender.StreamIn().EndInput()
	c.pushSegmentsOut(false)
}

// SegmentReceived 处理一个入站段
func (c *Connection) SegmentReceived(seg *segment.Segment) {
	if !c.active {
		return
	}
	c.stats.SegmentsReceived++
	c.timeSinceLastSegRcv = 0

	h := &seg.Header
	// 握手期间只有纯ACK能完成握手
	if c.inSynSent() && h.ACK && len(seg.Payload) > 0 {
		return
	}

	sendEmpty := false
	if c.sender.NextSeqNoAbsolute() > 0 && h.ACK {
		if !c.sender.AckReceived(h.AckNo, h.Win) {
			sendEmpty = true
		}
	}

	if !c.receiver.SegmentReceived(seg) {
		sendEmpty = true
	}

	if h.SYN && c.sender.NextSeqNoAbsolute() == 0 {
		c.log.Debug("passive open", logger.Uint32("peer_isn", uint32(h.SeqNo)))
		c.Connect()
		return
	}

	if h.RST {
		// 握手期间不带ACK的RST可能是伪造的
		if c.inSynSent() && !h.ACK {
			return
		}
		c.stats.ResetsReceived++
		c.log.Debug("reset received", logger.Stringer("state", c.State()))
		c.uncleanShutdown(false)
		return
	}

	if seg.LengthInSequenceSpace() > 0 {
		sendEmpty = true
	}

	if sendEmpty {
		if _, ok := c.receiver.AckNo(); ok && c.sender.SegmentsOut().Empty() {
			c.sender.SendEmptySegment()
		}
	}
	c.pushSegmentsOut(false)
}

// Tick 告知连接距上次调用经过的毫秒数
func (c *Connection) Tick(ms uint) {
	if !c.active {
		return
	}
	c.timeSinceLastSegRcv += ms
	before := c.sender.Retransmissions()
	c.sender.Tick(ms)
	if c.sender.Retransmissions() != before {
		c.log.Debug("retransmit",
			logger.Uint("attempt", c.sender.ConsecutiveRetransmissions()),
			logger.Uint("rto_ms", c.sender.RTO()))
	}
	if c.sender.ConsecutiveRetransmissions() > c.cfg.MaxRetxAttempts {
		c.log.Debug("too many retransmissions, resetting",
			logger.Uint("attempts", c.sender.ConsecutiveRetransmissions()))
		c.uncleanShutdown(true)
		return
	}
	c.pushSegmentsOut(false)
}

// Close 相当于销毁连接：仍处于活动状态时发出RST
func (c *Connection) Close() {
	if !c.active {
		return
	}
	c.log.Warn("connection closed while still active, sending RST",
		logger.Stringer("state", c.State()))
	c.uncleanShutdown(true)
}

func (c *Connection) inSynSent() bool {
	next := c.sender.NextSeqNoAbsolute()
	return next > 0 && c.sender.BytesInFlight() == next
}

func (c *Connection) inSynRecv() bool {
	_, ok := c.receiver.AckNo()
	return ok && !c.receiver.StreamOut().InputEnded()
}

// pushSegmentsOut 让发送端填满窗口，并把它产生的段打上ACK/窗口后移入连接的出站队列
func (c *Connection) pushSegmentsOut(sendSyn bool) {
	// SYN只在主动打开或对端已发来SYN时发出
	if c.active && (sendSyn || c.inSynRecv() || c.sender.SynSent()) {
		c.sender.FillWindow()
	}

	out := c.sender.SegmentsOut()
	for !out.Empty() {
		seg := out.Pop()
		if ackno, ok := c.receiver.AckNo(); ok {
			seg.Header.ACK = true
			seg.Header.AckNo = ackno
			seg.Header.Win = c.windowSize()
		}
		if c.needSendRST {
			c.needSendRST = false
			seg.Header.RST = true
			c.stats.ResetsSent++
		}
		c.segmentsOut.Push(seg)
		c.stats.SegmentsSent++
	}
	c.cleanShutdown()
}

func (c *Connection) windowSize() uint16 {
	w := c.receiver.WindowSize()
	if w > math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(w)
}

// cleanShutdown 检查是否可以正常结束连接
func (c *Connection) cleanShutdown() {
	if !c.active {
		return
	}
	// 对端先结束：我们的FIN被确认后即可关闭，无需等待
	if c.receiver.StreamOut().InputEnded() && !c.sender.StreamIn().EOF() {
		c.linger = false
	}
	if !c.receiver.StreamOut().InputEnded() ||
		!c.sender.StreamIn().EOF() || !c.sender.FinSent() ||
		c.sender.BytesInFlight() != 0 {
		return
	}
	if !c.linger || c.timeSinceLastSegRcv >= lingerFactor*c.cfg.RTTimeout {
		c.active = false
		c.log.Debug("clean shutdown", logger.Bool("lingered", c.linger))
	}
}

// uncleanShutdown 以RST方式结束连接，sendRST表示是否需要通知对端
func (c *Connection) uncleanShutdown(sendRST bool) {
	c.receiver.StreamOut().SetError()
	c.sender.StreamIn().SetError()
	c.active = false
	if sendRST {
		c.needSendRST = true
		if c.sender.SegmentsOut().Empty() {
			c.sender.SendEmptySegment()
		}
		c.pushSegmentsOut(false)
	}
}

func (c *Connection) Active() bool { return c.active }

func (c *Connection) BytesInFlight() uint64 { return c.sender.BytesInFlight() }

func (c *Connection) UnassembledBytes() int { return c.receiver.UnassembledBytes() }

func (c *Connection) RemainingOutboundCapacity() int {
	return c.sender.StreamIn().RemainingCapacity()
}

// TimeSinceLastSegmentReceived 返回距上次收到段经过的毫秒数
func (c *Connection) TimeSinceLastSegmentReceived() uint { return c.timeSinceLastSegRcv }

// SegmentsOut 返回待发往网络的段，调用方负责取走
func (c *Connection) SegmentsOut() *segment.Queue { return &c.segmentsOut }

// InboundStream 返回重组后的入站字节流，应用从这里读取数据
func (c *Connection) InboundStream() *stream.ByteStream { return c.receiver.StreamOut() }

// Config 返回补全默认值后的配置
func (c *Connection) Config() api.Config { return c.cfg }

// Stats 返回运行时统计的快照
func (c *Connection) Stats() api.Statistics {
	st := c.stats
	st.Retransmissions = c.sender.Retransmissions()
	st.BytesWritten = c.sender.StreamIn().BytesWritten()
	st.BytesDelivered = c.receiver.StreamOut().BytesWritten()
	return st
}
