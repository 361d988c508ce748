package tcp

import (
	"github.com/junbin-yang/sponge-go/pkg/transport/segment"
	"github.com/junbin-yang/sponge-go/pkg/transport/seqnum"
	"github.com/junbin-yang/sponge-go/pkg/transport/stream"
)

// Sender 从出站字节流读取数据切成段，跟踪未确认的段并负责超时重传
type Sender struct {
	isn         seqnum.Value
	stream      *stream.ByteStream
	segmentsOut segment.Queue
	outstanding segment.Queue // 已发送未确认，按序列号递增

	maxPayload int
	initialRTO uint
	rto        uint

	timer        uint
	timerRunning bool

	nextSeqNo     uint64 // 下一个要发送的绝对序列号
	ackedSeqNo    uint64 // 对端已确认的最大绝对序列号
	bytesInFlight uint64
	window        uint16

	consecutiveRetx uint
	retransmissions uint64

	synSent bool
	finSent bool
}

// NewSender 创建发送端，rtTimeout单位为毫秒
func NewSender(capacity int, rtTimeout uint, isn seqnum.Value, maxPayload int) *Sender {
	return &Sender{
		isn:        isn,
		stream:     stream.New(capacity),
		maxPayload: maxPayload,
		initialRTO: rtTimeout,
		rto:        rtTimeout,
		window:     1,
	}
}

// FillWindow 在对端窗口允许的范围内尽可能多地发送数据
//
// 第一次调用只发出SYN。窗口为0时按1处理，以便探测对端窗口是否重新打开。
func (s *Sender) FillWindow() {
	if !s.synSent {
		s.synSent = true
		s.send(&segment.Segment{Header: segment.Header{SYN: true}})
		return
	}

	win := uint64(s.window)
	if win == 0 {
		win = 1
	}
	for !s.finSent {
		used := s.nextSeqNo - s.ackedSeqNo
		if used >= win {
			return
		}
		size := win - used
		if size > uint64(s.maxPayload) {
			size = uint64(s.maxPayload)
		}

		seg := &segment.Segment{Payload: s.stream.Read(int(size))}
		if s.stream.EOF() && seg.LengthInSequenceSpace() < win {
			seg.Header.FIN = true
			s.finSent = true
		}
		if seg.LengthInSequenceSpace() == 0 {
			return
		}
		s.send(seg)
	}
}

func (s *Sender) send(seg *segment.Segment) {
	seg.Header.SeqNo = seqnum.Wrap(s.nextSeqNo, s.isn)
	n := seg.LengthInSequenceSpace()
	s.nextSeqNo += n
	s.bytesInFlight += n

	s.outstanding.Push(seg)
	s.segmentsOut.Push(seg.Clone())

	if !s.timerRunning {
		s.timerRunning = true
		s.timer = 0
	}
}

// AckReceived 处理对端的确认号与窗口，确认号超出已发送范围时返回false
func (s *Sender) AckReceived(ack seqnum.Value, window uint16) bool {
	abs := seqnum.Unwrap(ack, s.isn, s.ackedSeqNo)
	if abs > s.nextSeqNo {
		return false
	}
	s.window = window
	if abs <= s.ackedSeqNo {
		return true
	}
	s.ackedSeqNo = abs

	for !s.outstanding.Empty() {
		seg := s.outstanding.Front()
		start := seqnum.Unwrap(seg.Header.SeqNo, s.isn, s.ackedSeqNo)
		n := seg.LengthInSequenceSpace()
		if start+n > abs {
			break
		}
		s.outstanding.Pop()
		s.bytesInFlight -= n
	}

	s.FillWindow()

	s.rto = s.initialRTO
	s.consecutiveRetx = 0
	if s.outstanding.Empty() {
		s.timerRunning = false
	} else {
		s.timerRunning = true
		s.timer = 0
	}
	return true
}

// Tick 推进重传计时器，超时则重传最早的未确认段并将RTO翻倍
func (s *Sender) Tick(ms uint) {
	if !s.timerRunning {
		return
	}
	s.timer += ms
	if s.timer >= s.rto && !s.outstanding.Empty() {
		s.segmentsOut.Push(s.outstanding.Front().Clone())
		s.consecutiveRetx++
		s.retransmissions++
		s.rto *= 2
		s.timer = 0
	}
	if s.outstanding.Empty() {
		s.timerRunning = false
	}
}

// SendEmptySegment 发送一个不占序列号空间的空段，用于携带ACK或RST
func (s *Sender) SendEmptySegment() {
	s.segmentsOut.Push(&segment.Segment{
		Header: segment.Header{SeqNo: seqnum.Wrap(s.nextSeqNo, s.isn)},
	})
}

func (s *Sender) BytesInFlight() uint64 { return s.bytesInFlight }

func (s *Sender) ConsecutiveRetransmissions() uint { return s.consecutiveRetx }

// Retransmissions 返回累计重传次数
func (s *Sender) Retransmissions() uint64 { return s.retransmissions }

func (s *Sender) NextSeqNoAbsolute() uint64 { return s.nextSeqNo }

func (s *Sender) NextSeqNo() seqnum.Value { return seqnum.Wrap(s.nextSeqNo, s.isn) }

// RTO 返回当前（可能已退避的）重传超时
func (s *Sender) RTO() uint { return s.rto }

func (s *Sender) TimerRunning() bool { return s.timerRunning }

func (s *Sender) SynSent() bool { return s.synSent }

func (s *Sender) FinSent() bool { return s.finSent }

func (s *Sender) StreamIn() *stream.ByteStream { return s.stream }

// SegmentsOut 返回待发送队列，由调用方取走
func (s *Sender) SegmentsOut() *segment.Queue { return &s.segmentsOut }
