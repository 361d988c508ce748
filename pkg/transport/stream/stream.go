// 提供有界的字节流缓冲区，作为重组器的输出与发送端的输入
package stream

// ByteStream 是定长容量的环形字节缓冲区
// 写端按序写入，读端按序读出；写端可标记输入结束，任一端可标记出错。
// 非并发安全：由所属的连接独占使用。
type ByteStream struct {
	data  []byte // 存储数据的缓冲区
	head  int    // 读指针
	tail  int    // 写指针
	count int    // 当前缓冲区中的数据量

	written uint64 // 累计写入字节数
	read    uint64 // 累计读出字节数

	inputEnded bool // 写端已结束
	err        bool // 流已出错（连接被重置）
}

// 创建容量为capacity的字节流
func New(capacity int) *ByteStream {
	if capacity < 0 {
		capacity = 0
	}
	return &ByteStream{data: make([]byte, capacity)}
}

// Write 写入尽可能多的数据，返回实际写入的字节数
// 空间不足时截断，输入已结束或出错时不再接受数据
func (s *ByteStream) Write(p []byte) int {
	if s.inputEnded || s.err {
		return 0
	}
	n := len(p)
	if free := s.RemainingCapacity(); n > free {
		n = free
	}
	if n == 0 {
		return 0
	}

	// 分两段拷贝，处理写指针回绕
	first := copy(s.data[s.tail:], p[:n])
	if first < n {
		copy(s.data, p[first:n])
	}
	s.tail = (s.tail + n) % len(s.data)
	s.count += n
	s.written += uint64(n)
	return n
}

// Peek 查看最多n字节数据但不移除
func (s *ByteStream) Peek(n int) []byte {
	if n > s.count {
		n = s.count
	}
	if n <= 0 {
		return nil
	}
	out := make([]byte, n)
	first := copy(out, s.data[s.head:])
	if first < n {
		copy(out[first:], s.data)
	}
	return out
}

// Pop 丢弃最多n字节数据
func (s *ByteStream) Pop(n int) {
	if n > s.count {
		n = s.count
	}
	if n <= 0 {
		return
	}
	s.head = (s.head + n) % len(s.data)
	s.count -= n
	s.read += uint64(n)
}

// Read 读出并移除最多n字节数据
func (s *ByteStream) Read(n int) []byte {
	out := s.Peek(n)
	s.Pop(len(out))
	return out
}

// EndInput 标记写端结束
func (s *ByteStream) EndInput() { s.inputEnded = true }

// SetError 标记流出错
func (s *ByteStream) SetError() { s.err = true }

// InputEnded 写端是否已结束
func (s *ByteStream) InputEnded() bool { return s.inputEnded }

// Error 流是否出错
func (s *ByteStream) Error() bool { return s.err }

// BufferSize 返回当前可读字节数
func (s *ByteStream) BufferSize() int { return s.count }

// BufferEmpty 缓冲区是否为空
func (s *ByteStream) BufferEmpty() bool { return s.count == 0 }

// EOF 写端已结束且数据已全部读出
func (s *ByteStream) EOF() bool { return s.inputEnded && s.count == 0 }

// Capacity 返回总容量
func (s *ByteStream) Capacity() int { return len(s.data) }

// RemainingCapacity 返回还能写入的字节数
func (s *ByteStream) RemainingCapacity() int { return len(s.data) - s.count }

// BytesWritten 返回累计写入的字节数
func (s *ByteStream) BytesWritten() uint64 { return s.written }

// BytesRead 返回累计读出的字节数
func (s *ByteStream) BytesRead() uint64 { return s.read }
