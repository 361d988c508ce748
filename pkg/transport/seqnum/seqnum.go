// 提供32位回绕序列号与64位绝对序列号之间的相互转换
//
// 线路上传输的序列号只有32位，且以初始序列号(ISN)为偏移；
// 引擎内部统一使用从0开始、永不回绕的64位绝对序列号，0号位置留给SYN。
package seqnum

// Value 表示线路上的32位回绕序列号
type Value uint32

// Size 表示序列号空间中的一段长度
type Size uint32

const wrapSpan = uint64(1) << 32

// Wrap 将绝对序列号n转换为以isn为起点的回绕序列号
func Wrap(n uint64, isn Value) Value {
	return Value(uint32(n)) + isn
}

// Unwrap 将回绕序列号n还原为最接近checkpoint的绝对序列号
//
// 候选值取checkpoint所在的2^32块；只需向前或向后再看一个块，
// 因为checkpoint单调且缓慢增长。距离相等时保留本块的候选值。
func Unwrap(n, isn Value, checkpoint uint64) uint64 {
	offset := uint64(uint32(n - isn))
	candidate := checkpoint&^(wrapSpan-1) + offset

	res := candidate
	if distance(candidate+wrapSpan, checkpoint) < distance(candidate, checkpoint) {
		res = candidate + wrapSpan
	}
	if candidate >= wrapSpan && distance(candidate-wrapSpan, checkpoint) < distance(candidate, checkpoint) {
		res = candidate - wrapSpan
	}
	return res
}

func distance(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}

// LessThan 判断v是否在w之前（模2^32）
func LessThan(v, w Value) bool {
	return int32(v-w) < 0
}

// LessThanEq 判断v是否等于w或在w之前
func LessThanEq(v, w Value) bool {
	return v == w || LessThan(v, w)
}

// InWindow 判断v是否落在从first开始、长度为size的窗口内
func InWindow(v, first Value, size Size) bool {
	return v-first < Value(size)
}

// Add 返回v之后s个位置的序列号
func (v Value) Add(s Size) Value {
	return v + Value(s)
}

// Size 返回[v, w)的长度
func (v Value) Size(w Value) Size {
	return Size(w - v)
}
