package tcp

import (
	"github.com/junbin-yang/sponge-go/pkg/transport/reassembler"
	"github.com/junbin-yang/sponge-go/pkg/transport/segment"
	"github.com/junbin-yang/sponge-go/pkg/transport/seqnum"
	"github.com/junbin-yang/sponge-go/pkg/transport/stream"
)

// Receiver 把收到的段交给重组器，并计算要通告给对端的确认号与窗口
type Receiver struct {
	reassembler *reassembler.Reassembler
	capacity    int

	isn         seqnum.Value // 对端的初始序列号，收到SYN后有效
	synReceived bool
	finReceived bool

	// base 是下一个期望收到的绝对序列号，SYN占0号位置
	base uint64
}

// 创建入站流容量为capacity的接收端
func NewReceiver(capacity int) *Receiver {
	return &Receiver{
		reassembler: reassembler.New(capacity),
		capacity:    capacity,
	}
}

// SegmentReceived 处理一个入站段，返回段是否落在可接收范围内
//
// 返回false时调用方应回复一个纯ACK，提示对端当前的确认号。
func (r *Receiver) SegmentReceived(seg *segment.Segment) bool {
	h := &seg.Header

	var abs uint64
	if h.SYN {
		if r.synReceived {
			return false
		}
		r.synReceived = true
		r.isn = h.SeqNo
		r.base = 1
		// SYN自身占0号位置，携带的负载从1号开始
		abs = 1
	} else {
		if !r.synReceived {
			return false
		}
		abs = seqnum.Unwrap(h.SeqNo, r.isn, r.base)
	}

	if h.FIN {
		if r.finReceived {
			return false
		}
		r.finReceived = true
	}

	if !h.SYN && !h.FIN && !r.acceptable(abs, uint64(len(seg.Payload))) {
		return false
	}

	payload := seg.Payload
	if abs == 0 {
		// 非SYN段占用了SYN的位置，丢掉这一字节
		if len(payload) > 0 {
			payload = payload[1:]
		}
		abs = 1
	}
	r.reassembler.Insert(payload, abs-1, h.FIN)

	r.base = r.reassembler.HeadIndex() + 1
	if r.reassembler.InputEnded() {
		r.base++
	}
	return true
}

// acceptable 按RFC 793第26页的表格判断段是否可接收
func (r *Receiver) acceptable(abs, length uint64) bool {
	wnd := uint64(r.WindowSize())
	if length == 0 {
		if wnd == 0 {
			return abs == r.base
		}
		return abs >= r.base && abs < r.base+wnd
	}
	if wnd == 0 {
		return false
	}
	// 段与窗口[base, base+wnd)有交集
	return abs < r.base+wnd && abs+length > r.base
}

// AckNo 返回要通告的确认号，收到SYN之前不存在
func (r *Receiver) AckNo() (seqnum.Value, bool) {
	if !r.synReceived {
		return 0, false
	}
	return seqnum.Wrap(r.base, r.isn), true
}

// WindowSize 返回入站流剩余可用空间
func (r *Receiver) WindowSize() int {
	return r.capacity - r.reassembler.Output().BufferSize()
}

// UnassembledBytes 返回已收到但尚未按序写入入站流的字节数
func (r *Receiver) UnassembledBytes() int { return r.reassembler.UnassembledBytes() }

// StreamOut 返回入站字节流
func (r *Receiver) StreamOut() *stream.ByteStream { return r.reassembler.Output() }

// SYNReceived 是否已收到对端SYN
func (r *Receiver) SYNReceived() bool { return r.synReceived }

// FINReceived 是否已收到对端FIN（不代表数据已经到齐）
func (r *Receiver) FINReceived() bool { return r.finReceived }
