package sim

import (
	"bytes"
	"context"
	"math/rand"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/junbin-yang/sponge-go/api"
	"github.com/junbin-yang/sponge-go/pkg/transport/tcp"
	"github.com/junbin-yang/sponge-go/pkg/utils/logger"
)

const (
	defaultStep    = 10        // 毫秒
	defaultTimeout = 3_600_000 // 模拟时间上限，毫秒
)

// Config 描述一次模拟：A主动打开，双方各自发送指定字节数后关闭
type Config struct {
	Conn      api.Config
	Link      LinkConfig
	BytesAtoB int
	BytesBtoA int
	StepMs    uint // 每轮推进的模拟时间
	TimeoutMs uint // 超过该模拟时间仍未结束则失败
}

// Result 模拟结果
type Result struct {
	ElapsedMs      uint
	Rounds         int
	DeliveredAtoB  int
	DeliveredBtoA  int
	StateA, StateB tcp.State
	StatsA, StatsB api.Statistics
	LinkAtoB       LinkStats
	LinkBtoA       LinkStats
}

type endpoint struct {
	conn *tcp.Connection
	data []byte // 待发送
	off  int
	done bool // 已结束出站流
	got  bytes.Buffer
}

func (e *endpoint) pump() {
	if e.done {
		return
	}
	if e.off < len(e.data) {
		e.off += e.conn.Write(e.data[e.off:])
	}
	if e.off == len(e.data) {
		e.conn.EndInputStream()
		e.done = true
	}
}

func (e *endpoint) drain() {
	in := e.conn.InboundStream()
	e.got.Write(in.Read(in.BufferSize()))
}

// Run 运行模拟直到两端都失效，数据不一致或超时时返回错误
func Run(ctx context.Context, cfg Config, log *logger.Logger) (*Result, error) {
	if err := cfg.Link.Validate(); err != nil {
		return nil, err
	}
	if cfg.StepMs == 0 {
		cfg.StepMs = defaultStep
	}
	if cfg.TimeoutMs == 0 {
		cfg.TimeoutMs = defaultTimeout
	}
	if log == nil {
		log = logger.Default()
	}
	log = log.Named("sim")

	rd := rand.New(rand.NewSource(cfg.Link.Seed))
	a := &endpoint{
		conn: tcp.NewConnection(cfg.Conn, tcp.WithLogger(log.Named("a")), tcp.WithRand(rd)),
		data: randomBytes(rd, cfg.BytesAtoB),
	}
	b := &endpoint{
		conn: tcp.NewConnection(cfg.Conn, tcp.WithLogger(log.Named("b")), tcp.WithRand(rd)),
		data: randomBytes(rd, cfg.BytesBtoA),
	}
	ab := NewLink(cfg.Link)
	bcfg := cfg.Link
	bcfg.Seed++
	ba := NewLink(bcfg)

	res := &Result{}
	a.conn.Connect()
	for a.conn.Active() || b.conn.Active() {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "simulation cancelled")
		}
		if res.ElapsedMs >= cfg.TimeoutMs {
			return nil, errors.Errorf("simulation did not finish within %d ms (a=%s b=%s)",
				cfg.TimeoutMs, a.conn.State(), b.conn.State())
		}
		res.Rounds++

		a.pump()
		if b.conn.State() != tcp.StateListen {
			b.pump()
		}
		for {
			if err := transmit(a.conn, ab); err != nil {
				return nil, err
			}
			if err := transmit(b.conn, ba); err != nil {
				return nil, err
			}
			if ab.Pending() == 0 && ba.Pending() == 0 {
				break
			}
			for _, s := range ab.Deliver() {
				b.conn.SegmentReceived(s)
			}
			for _, s := range ba.Deliver() {
				a.conn.SegmentReceived(s)
			}
			a.drain()
			b.drain()
		}

		a.conn.Tick(cfg.StepMs)
		b.conn.Tick(cfg.StepMs)
		res.ElapsedMs += cfg.StepMs
	}
	// 关闭过程中产生的最后一批段
	a.drain()
	b.drain()

	res.DeliveredAtoB = b.got.Len()
	res.DeliveredBtoA = a.got.Len()
	res.StateA, res.StateB = a.conn.State(), b.conn.State()
	res.StatsA, res.StatsB = a.conn.Stats(), b.conn.Stats()
	res.LinkAtoB, res.LinkBtoA = ab.Stats(), ba.Stats()

	log.Debug("simulation finished",
		logger.Uint("elapsed_ms", res.ElapsedMs),
		logger.Stringer("a", res.StateA),
		logger.Stringer("b", res.StateB))

	var err error
	if !bytes.Equal(a.data, b.got.Bytes()) {
		err = multierr.Append(err, errors.Errorf("a->b mismatch: sent %d bytes, received %d", len(a.data), b.got.Len()))
	}
	if !bytes.Equal(b.data, a.got.Bytes()) {
		err = multierr.Append(err, errors.Errorf("b->a mismatch: sent %d bytes, received %d", len(b.data), a.got.Len()))
	}
	return res, err
}

func transmit(c *tcp.Connection, l *Link) error {
	for _, s := range c.SegmentsOut().Drain() {
		if err := l.Send(s); err != nil {
			return errors.Wrap(err, "encode segment")
		}
	}
	return nil
}

func randomBytes(rd *rand.Rand, n int) []byte {
	b := make([]byte, n)
	rd.Read(b)
	return b
}
