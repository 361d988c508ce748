// 在UDP之上运行tcp.Connection：收包协程把数据报解码后交给引擎，
// 定时器按实际流逝时间驱动Tick，引擎产生的段在每次调用后立即发出
package udp

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/junbin-yang/sponge-go/api"
	"github.com/junbin-yang/sponge-go/pkg/transport/segment"
	"github.com/junbin-yang/sponge-go/pkg/transport/tcp"
	"github.com/junbin-yang/sponge-go/pkg/utils/logger"
	"github.com/junbin-yang/sponge-go/pkg/utils/timer"
)

const (
	DefaultTickInterval = 10 * time.Millisecond
	maxDatagram         = segment.HeaderSize + segment.MaxPayload
	tickTimerID         = "tick"
)

// MaxPayloadSize 一个UDP数据报（IPv4下最多65507字节）能承载的最大段负载
const MaxPayloadSize = 65507 - segment.HeaderSize

var (
	ErrClosed      = errors.New("connection closed")
	ErrReset       = errors.New("connection reset")
	ErrWriteClosed = errors.New("write side already closed")
	ErrPayloadSize = errors.New("max payload size does not fit in a datagram")
)

// Stats 引擎统计加上数据报层面的计数
type Stats struct {
	api.Statistics
	DatagramsSent     uint64
	DatagramsReceived uint64
	DecodeErrors      uint64
	SendErrors        uint64
}

// Conn 是并发安全的UDP连接，内部所有对引擎的调用都在mu保护下串行执行
//
// Read、Write与握手等待各自只支持一个并发调用者。
type Conn struct {
	mu     sync.Mutex
	pc     net.PacketConn
	remote net.Addr // 被动打开时由第一个SYN确定
	engine *tcp.Connection
	stats  Stats

	timers       *timer.Manager
	tickInterval time.Duration
	residual     time.Duration // 不足1ms的时间累积到下一次Tick

	readable chan struct{}
	writable chan struct{}
	changed  chan struct{}
	done     chan struct{} // 引擎失效后关闭
	doneOnce sync.Once

	writeClosed bool

	ctx       context.Context
	cancel    context.CancelFunc
	g         *errgroup.Group
	closeOnce sync.Once
	closeErr  error

	log *logger.Logger
}

type options struct {
	log          *logger.Logger
	tickInterval time.Duration
	clock        clockwork.Clock
}

type Option func(*options)

// WithLogger 指定日志器，同时传递给引擎
func WithLogger(l *logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithTickInterval 指定驱动引擎Tick的间隔
func WithTickInterval(d time.Duration) Option {
	return func(o *options) { o.tickInterval = d }
}

// WithClock 指定定时器使用的时钟
func WithClock(c clockwork.Clock) Option {
	return func(o *options) { o.clock = c }
}

// New 在pc上创建连接并启动工作协程，pc的所有权转移给Conn
//
// remote为nil时等待对端的SYN确定对端地址（被动打开）。
func New(pc net.PacketConn, remote net.Addr, cfg api.Config, opts ...Option) (*Conn, error) {
	o := options{log: logger.Default(), tickInterval: DefaultTickInterval}
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.MaxPayloadSize > MaxPayloadSize {
		return nil, multierr.Append(
			errors.Wrapf(ErrPayloadSize, "%d > %d", cfg.MaxPayloadSize, MaxPayloadSize), pc.Close())
	}

	var tmOpts []timer.Option
	if o.clock != nil {
		tmOpts = append(tmOpts, timer.WithClock(o.clock))
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	c := &Conn{
		pc:           pc,
		remote:       remote,
		engine:       tcp.NewConnection(cfg, tcp.WithLogger(o.log)),
		timers:       timer.NewManager(tmOpts...),
		tickInterval: o.tickInterval,
		readable:     make(chan struct{}, 1),
		writable:     make(chan struct{}, 1),
		changed:      make(chan struct{}, 1),
		done:         make(chan struct{}),
		ctx:          gctx,
		cancel:       cancel,
		g:            g,
		log:          o.log.Named("udp").With(logger.String("local", pc.LocalAddr().String())),
	}

	if err := c.timers.CreateTimer(tickTimerID, c.tickInterval, c.onTick); err != nil {
		cancel()
		return nil, multierr.Append(errors.Wrap(err, "start tick timer"), pc.Close())
	}
	g.Go(c.receiveWorker)
	return c, nil
}

// Dial 主动连接addr，握手完成或ctx结束后返回
func Dial(ctx context.Context, addr string, cfg api.Config, opts ...Option) (*Conn, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", addr)
	}
	pc, err := net.ListenPacket("udp", ":0")
	if err != nil {
		return nil, errors.Wrap(err, "bind local udp socket")
	}
	c, err := New(pc, raddr, cfg, opts...)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.engine.Connect()
	c.flush()
	c.mu.Unlock()

	if err := c.WaitEstablished(ctx); err != nil {
		return nil, multierr.Append(err, c.Close())
	}
	c.log.Info("connected", logger.String("remote", raddr.String()))
	return c, nil
}

// Listen 在addr上等待一个对端连接，握手完成或ctx结束后返回
func Listen(ctx context.Context, addr string, cfg api.Config, opts ...Option) (*Conn, error) {
	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", addr)
	}
	c, err := New(pc, nil, cfg, opts...)
	if err != nil {
		return nil, err
	}
	c.log.Info("listening", logger.Duration("tick", c.tickInterval))

	if err := c.WaitEstablished(ctx); err != nil {
		return nil, multierr.Append(err, c.Close())
	}
	c.log.Info("accepted", logger.String("remote", c.RemoteAddr().String()))
	return c, nil
}

// WaitEstablished 等待三次握手完成
func (c *Conn) WaitEstablished(ctx context.Context) error {
	for {
		c.mu.Lock()
		st := c.engine.State()
		c.mu.Unlock()

		switch st {
		case tcp.StateListen, tcp.StateSynSent, tcp.StateSynRcvd:
		case tcp.StateReset, tcp.StateClosed:
			return errors.Wrapf(ErrReset, "handshake failed in state %s", st)
		default:
			return nil
		}

		select {
		case <-c.changed:
		case <-c.done:
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "wait for handshake")
		}
	}
}

// Read 读取入站数据，对端结束发送后返回io.EOF
func (c *Conn) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		c.mu.Lock()
		in := c.engine.InboundStream()
		if in.BufferSize() > 0 {
			n := copy(p, in.Read(len(p)))
			c.mu.Unlock()
			return n, nil
		}
		switch {
		case in.Error():
			c.mu.Unlock()
			return 0, ErrReset
		case in.EOF():
			c.mu.Unlock()
			return 0, io.EOF
		}
		c.mu.Unlock()

		select {
		case <-c.readable:
		case <-c.ctx.Done():
			return 0, ErrClosed
		}
	}
}

// Write 把p全部写入出站流，出站缓冲区满时阻塞等待
//
// 连接已正常关闭时返回ErrClosed，被重置时返回ErrReset。
func (c *Conn) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		c.mu.Lock()
		switch {
		case !c.engine.Active():
			err := ErrClosed
			if c.engine.State() == tcp.StateReset {
				err = ErrReset
			}
			c.mu.Unlock()
			return written, err
		case c.writeClosed:
			c.mu.Unlock()
			return written, ErrWriteClosed
		}
		n := c.engine.Write(p[written:])
		c.flush()
		c.mu.Unlock()

		written += n
		if n > 0 {
			continue
		}
		select {
		case <-c.writable:
		case <-c.ctx.Done():
			return written, ErrClosed
		}
	}
	return written, nil
}

// CloseWrite 结束出站流，缓冲数据发完后发出FIN
func (c *Conn) CloseWrite() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeClosed {
		return nil
	}
	c.writeClosed = true
	c.engine.EndInputStream()
	c.flush()
	return nil
}

// Shutdown 结束出站流并等待连接正常关闭
func (c *Conn) Shutdown(ctx context.Context) error {
	if err := c.CloseWrite(); err != nil {
		return err
	}
	select {
	case <-c.done:
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "wait for shutdown")
	}
	if st := c.State(); st == tcp.StateReset {
		return ErrReset
	}
	return nil
}

// Close 停止工作协程并关闭底层socket，连接仍活动时向对端发送RST
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.engine.Close()
		c.flush()
		c.mu.Unlock()

		c.timers.StopAll()
		c.cancel()
		c.closeErr = multierr.Append(c.closeErr, c.pc.Close())
		c.closeErr = multierr.Append(c.closeErr, c.g.Wait())
		c.markDone()
		c.log.Debug("closed")
	})
	return c.closeErr
}

// Done 返回的通道在连接失效（正常关闭或被重置）后关闭
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) State() tcp.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.State()
}

func (c *Conn) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.stats
	st.Statistics = c.engine.Stats()
	return st
}

func (c *Conn) LocalAddr() net.Addr { return c.pc.LocalAddr() }

// RemoteAddr 被动打开且尚未收到SYN时返回nil
func (c *Conn) RemoteAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}

// receiveWorker 接收数据报并交给引擎
func (c *Conn) receiveWorker() error {
	buf := make([]byte, maxDatagram)
	for {
		n, addr, err := c.pc.ReadFrom(buf)
		if err != nil {
			if c.ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return errors.Wrap(err, "read datagram")
		}

		seg, err := segment.Unmarshal(buf[:n])
		c.mu.Lock()
		c.stats.DatagramsReceived++
		if err != nil {
			c.stats.DecodeErrors++
			c.mu.Unlock()
			c.log.Debug("drop malformed datagram", logger.String("from", addr.String()), logger.Err(err))
			continue
		}
		if !c.accept(addr, seg) {
			c.mu.Unlock()
			continue
		}
		c.engine.SegmentReceived(seg)
		c.flush()
		c.mu.Unlock()
	}
}

// accept 判断数据报是否来自当前对端，被动打开时以第一个SYN的来源作为对端
func (c *Conn) accept(addr net.Addr, seg *segment.Segment) bool {
	if c.remote == nil {
		if !seg.Header.SYN {
			return false
		}
		c.remote = addr
		c.log.Debug("peer learned", logger.String("remote", addr.String()))
		return true
	}
	return addr.String() == c.remote.String()
}

// onTick 由定时器调用，把实际流逝的时间交给引擎
func (c *Conn) onTick(elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed += c.residual
	ms := elapsed / time.Millisecond
	c.residual = elapsed - ms*time.Millisecond
	if ms > 0 {
		c.engine.Tick(uint(ms))
	}
	c.flush()
}

// flush 发出引擎产生的全部段并唤醒等待者，调用方需持有mu
func (c *Conn) flush() {
	for _, seg := range c.engine.SegmentsOut().Drain() {
		if c.remote == nil {
			continue
		}
		b, err := segment.Marshal(seg)
		if err == nil {
			_, err = c.pc.WriteTo(b, c.remote)
		}
		if err != nil {
			c.stats.SendErrors++
			c.log.Debug("send segment failed", logger.Stringer("seg", seg), logger.Err(err))
			continue
		}
		c.stats.DatagramsSent++
	}

	notify(c.readable)
	notify(c.writable)
	notify(c.changed)
	if !c.engine.Active() {
		c.markDone()
	}
}

func (c *Conn) markDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
