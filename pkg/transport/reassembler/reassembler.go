// 提供乱序字节段的重组功能：接收可能乱序、重叠的字节段，按序写入输出字节流
package reassembler

import (
	"github.com/google/btree"

	"github.com/junbin-yang/sponge-go/pkg/transport/stream"
)

const treeDegree = 8

// chunk 表示一段尚未装配的连续字节
type chunk struct {
	begin uint64 // 首字节在流中的索引
	data  []byte
}

func (c chunk) end() uint64 { return c.begin + uint64(len(c.data)) }

func chunkLess(a, b chunk) bool { return a.begin < b.begin }

// Reassembler 将乱序到达的字节段组装为有序字节流
//
// 可接收的索引范围是[head, head+capacity)；pending中的字节段按起始索引有序，
// 每次插入后两两既不重叠也不相邻。
type Reassembler struct {
	out      *stream.ByteStream
	capacity int

	pending     *btree.BTreeG[chunk] // 已到达但未写入输出流的字节段
	unassembled int                  // pending中的字节总数
	head        uint64               // 下一个要写入输出流的字节索引

	eofLatched bool   // 已收到带结束标记的字节段
	eofIndex   uint64 // 流结束位置（最后一个字节之后的索引）
	ended      bool   // 已向输出流发出结束信号
}

// 创建容量为capacity的重组器，输出流容量与之相同
func New(capacity int) *Reassembler {
	return &Reassembler{
		out:      stream.New(capacity),
		capacity: capacity,
		pending:  btree.NewG[chunk](treeDegree, chunkLess),
	}
}

// Insert 接收一段从index开始的字节，eof表示这段数据以流结束为止
//
// 窗口外的字节被静默丢弃；结束标记即使所在字节段已全部过期或超出窗口也会被记录。
func (r *Reassembler) Insert(data []byte, index uint64, eof bool) {
	if eof && !r.eofLatched {
		r.eofLatched = true
		r.eofIndex = index + uint64(len(data))
	}

	start, end := index, index+uint64(len(data))
	limit := r.head + uint64(r.capacity)
	if r.eofLatched && r.eofIndex < limit {
		limit = r.eofIndex
	}
	if start < r.head {
		start = r.head
	}
	if end > limit {
		end = limit
	}
	if start < end {
		c := chunk{begin: start, data: make([]byte, end-start)}
		copy(c.data, data[start-index:end-index])
		r.store(c)
	}

	r.assemble()

	if r.eofLatched && !r.ended && r.head >= r.eofIndex {
		r.ended = true
		r.out.EndInput()
	}
}

// store 插入字节段并与相邻或重叠的字节段合并
func (r *Reassembler) store(c chunk) {
	// 前驱：起始索引不大于c的最后一个字节段
	var prev chunk
	hasPrev := false
	r.pending.DescendLessOrEqual(c, func(item chunk) bool {
		prev, hasPrev = item, true
		return false
	})
	if hasPrev && prev.end() >= c.begin {
		r.pending.Delete(prev)
		r.unassembled -= len(prev.data)
		c = merge(prev, c)
	}

	// 后继：起始索引落在c之内或紧邻c末尾的字节段
	var absorbed []chunk
	limit := c.end()
	r.pending.AscendGreaterOrEqual(c, func(item chunk) bool {
		if item.begin > limit {
			return false
		}
		absorbed = append(absorbed, item)
		if e := item.end(); e > limit {
			limit = e
		}
		return true
	})
	for _, item := range absorbed {
		r.pending.Delete(item)
		r.unassembled -= len(item.data)
		c = merge(c, item)
	}

	r.pending.ReplaceOrInsert(c)
	r.unassembled += len(c.data)
}

// merge 合并两个重叠或相邻的字节段，要求a.begin <= b.begin <= a.end()
func merge(a, b chunk) chunk {
	if b.end() <= a.end() {
		return a
	}
	data := make([]byte, 0, b.end()-a.begin)
	data = append(data, a.data...)
	data = append(data, b.data[a.end()-b.begin:]...)
	return chunk{begin: a.begin, data: data}
}

// assemble 把起始于head的字节段写入输出流，输出流写不下的部分继续留在pending中
func (r *Reassembler) assemble() {
	first, ok := r.pending.Min()
	if !ok || first.begin != r.head {
		return
	}
	n := r.out.Write(first.data)
	if n == 0 {
		return
	}
	r.pending.DeleteMin()
	r.unassembled -= n
	r.head += uint64(n)
	if n < len(first.data) {
		r.pending.ReplaceOrInsert(chunk{begin: r.head, data: first.data[n:]})
	}
}

// UnassembledBytes 返回已到达但尚未写入输出流的字节数，重复到达的字节只计一次
func (r *Reassembler) UnassembledBytes() int { return r.unassembled }

// Empty 是否没有待装配的字节
func (r *Reassembler) Empty() bool { return r.unassembled == 0 }

// HeadIndex 返回下一个要写入输出流的字节索引
func (r *Reassembler) HeadIndex() uint64 { return r.head }

// InputEnded 输出流是否已结束
func (r *Reassembler) InputEnded() bool { return r.out.InputEnded() }

// Output 返回重组后的输出字节流
func (r *Reassembler) Output() *stream.ByteStream { return r.out }
