// 定义传输段（报文段）结构、出站队列以及线路编解码
package segment

import (
	"strconv"
	"strings"

	"github.com/junbin-yang/sponge-go/pkg/transport/seqnum"
)

// Header 是段头部中引擎关心的字段
type Header struct {
	SeqNo seqnum.Value // 首个序列号
	AckNo seqnum.Value // 确认号，仅在ACK置位时有效
	SYN   bool
	ACK   bool
	FIN   bool
	RST   bool
	Win   uint16 // 通告窗口
}

// Segment 表示一个传输段
type Segment struct {
	Header  Header
	Payload []byte
}

// LengthInSequenceSpace 返回段在序列号空间中占用的长度，SYN与FIN各占一个位置
func (s *Segment) LengthInSequenceSpace() uint64 {
	n := uint64(len(s.Payload))
	if s.Header.SYN {
		n++
	}
	if s.Header.FIN {
		n++
	}
	return n
}

// Clone 返回段的深拷贝
func (s *Segment) Clone() *Segment {
	c := &Segment{Header: s.Header}
	if len(s.Payload) > 0 {
		c.Payload = append([]byte(nil), s.Payload...)
	}
	return c
}

// FlagString 以"SA"形式返回标志位，用于日志
func (h Header) FlagString() string {
	var b strings.Builder
	if h.SYN {
		b.WriteByte('S')
	}
	if h.ACK {
		b.WriteByte('A')
	}
	if h.FIN {
		b.WriteByte('F')
	}
	if h.RST {
		b.WriteByte('R')
	}
	return b.String()
}

func (s *Segment) String() string {
	var b strings.Builder
	b.WriteString("<SEQ=")
	b.WriteString(strconv.FormatUint(uint64(s.Header.SeqNo), 10))
	if s.Header.ACK {
		b.WriteString("><ACK=")
		b.WriteString(strconv.FormatUint(uint64(s.Header.AckNo), 10))
	}
	b.WriteString("><WIN=")
	b.WriteString(strconv.Itoa(int(s.Header.Win)))
	if len(s.Payload) > 0 {
		b.WriteString("><DATA=")
		b.WriteString(strconv.Itoa(len(s.Payload)))
	}
	b.WriteString(">[")
	b.WriteString(s.Header.FlagString())
	b.WriteString("]")
	return b.String()
}

// Queue 是段的先进先出队列，由单一所有者使用
type Queue struct {
	items []*Segment
	head  int
}

// Push 追加到队尾
func (q *Queue) Push(s *Segment) {
	q.items = append(q.items, s)
}

// Front 返回队首，队列为空时返回nil
func (q *Queue) Front() *Segment {
	if q.Empty() {
		return nil
	}
	return q.items[q.head]
}

// Pop 移除并返回队首，队列为空时返回nil
func (q *Queue) Pop() *Segment {
	if q.Empty() {
		return nil
	}
	s := q.items[q.head]
	q.items[q.head] = nil
	q.head++
	// 队首前的空位过多时整体前移，避免底层数组无限增长
	if q.head > 32 && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		for i := n; i < len(q.items); i++ {
			q.items[i] = nil
		}
		q.items = q.items[:n]
		q.head = 0
	}
	return s
}

// Len 返回队列长度
func (q *Queue) Len() int { return len(q.items) - q.head }

// Empty 队列是否为空
func (q *Queue) Empty() bool { return q.Len() == 0 }

// Drain 取出全部段
func (q *Queue) Drain() []*Segment {
	if q.Empty() {
		return nil
	}
	out := make([]*Segment, q.Len())
	copy(out, q.items[q.head:])
	q.items = q.items[:0]
	q.head = 0
	return out
}

// Each 按队列顺序遍历，不改变队列
func (q *Queue) Each(fn func(*Segment)) {
	for _, s := range q.items[q.head:] {
		fn(s)
	}
}
