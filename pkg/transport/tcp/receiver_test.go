package tcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junbin-yang/sponge-go/pkg/transport/segment"
	"github.com/junbin-yang/sponge-go/pkg/transport/seqnum"
)

func dataSeg(seq seqnum.Value, payload string) *segment.Segment {
	return &segment.Segment{Header: segment.Header{SeqNo: seq}, Payload: []byte(payload)}
}

func synSeg(seq seqnum.Value) *segment.Segment {
	return &segment.Segment{Header: segment.Header{SeqNo: seq, SYN: true}}
}

func finSeg(seq seqnum.Value, payload string) *segment.Segment {
	s := dataSeg(seq, payload)
	s.Header.FIN = true
	return s
}

func TestReceiver_BeforeSyn(t *testing.T) {
	r := NewReceiver(100)
	_, ok := r.AckNo()
	assert.False(t, ok)
	assert.Equal(t, 100, r.WindowSize())

	assert.False(t, r.SegmentReceived(dataSeg(5, "abc")), "SYN之前的数据段应被拒绝")
	assert.False(t, r.SegmentReceived(finSeg(5, "")))
	_, ok = r.AckNo()
	assert.False(t, ok)
	assert.Equal(t, 0, r.StreamOut().BufferSize())
}

func TestReceiver_Syn(t *testing.T) {
	const isn = seqnum.Value(0xFFFFFFF0)
	r := NewReceiver(100)
	require.True(t, r.SegmentReceived(synSeg(isn)))

	ack, ok := r.AckNo()
	require.True(t, ok)
	assert.Equal(t, isn.Add(1), ack)
	assert.True(t, r.SYNReceived())

	assert.False(t, r.SegmentReceived(synSeg(isn.Add(7))), "重复SYN")
	ack, _ = r.AckNo()
	assert.Equal(t, isn.Add(1), ack)
}

func TestReceiver_SynWithPayload(t *testing.T) {
	const isn = seqnum.Value(1000)
	r := NewReceiver(100)
	seg := synSeg(isn)
	seg.Payload = []byte("ab")
	require.True(t, r.SegmentReceived(seg))

	ack, _ := r.AckNo()
	assert.Equal(t, isn.Add(3), ack)
	assert.Equal(t, "ab", string(r.StreamOut().Read(10)))
}

func TestReceiver_DataAndReorder(t *testing.T) {
	const isn = seqnum.Value(0xFFFFFFFE)
	r := NewReceiver(100)
	require.True(t, r.SegmentReceived(synSeg(isn)))

	// isn+1 之后回绕到0
	require.True(t, r.SegmentReceived(dataSeg(isn.Add(1), "abc")))
	ack, _ := r.AckNo()
	assert.Equal(t, isn.Add(4), ack)

	require.True(t, r.SegmentReceived(dataSeg(isn.Add(5), "e")))
	assert.Equal(t, 1, r.UnassembledBytes())
	ack, _ = r.AckNo()
	assert.Equal(t, isn.Add(4), ack, "空洞之后的数据不推进确认号")

	require.True(t, r.SegmentReceived(dataSeg(isn.Add(4), "d")))
	assert.Equal(t, 0, r.UnassembledBytes())
	ack, _ = r.AckNo()
	assert.Equal(t, isn.Add(6), ack)
	assert.Equal(t, "abcde", string(r.StreamOut().Read(10)))
}

func TestReceiver_Window(t *testing.T) {
	const isn = seqnum.Value(7)
	r := NewReceiver(4)
	require.True(t, r.SegmentReceived(synSeg(isn)))

	assert.False(t, r.SegmentReceived(dataSeg(isn.Add(5), "x")), "窗口之外")
	assert.False(t, r.SegmentReceived(dataSeg(isn, "x")), "占用SYN位置且窗口之前")

	require.True(t, r.SegmentReceived(dataSeg(isn.Add(1), "abcdef")))
	assert.Equal(t, "abcd", string(r.StreamOut().Peek(10)), "超出容量的部分被截断")
	assert.Equal(t, 0, r.WindowSize())

	// 零窗口时只接受序列号恰好等于确认号的空段
	assert.False(t, r.SegmentReceived(dataSeg(isn.Add(5), "e")))
	assert.True(t, r.SegmentReceived(dataSeg(isn.Add(5), "")))
	assert.False(t, r.SegmentReceived(dataSeg(isn.Add(6), "")))

	r.StreamOut().Read(2)
	assert.Equal(t, 2, r.WindowSize())
	assert.True(t, r.SegmentReceived(dataSeg(isn.Add(5), "ef")))
	ack, _ := r.AckNo()
	assert.Equal(t, isn.Add(7), ack)
}

func TestReceiver_StaleSegments(t *testing.T) {
	const isn = seqnum.Value(0)
	r := NewReceiver(10)
	require.True(t, r.SegmentReceived(synSeg(isn)))
	require.True(t, r.SegmentReceived(dataSeg(1, "abcd")))

	assert.False(t, r.SegmentReceived(dataSeg(1, "ab")), "完全位于窗口之前")
	assert.False(t, r.SegmentReceived(dataSeg(3, "")), "空段位于确认号之前")
	assert.True(t, r.SegmentReceived(dataSeg(3, "cdef")), "与窗口有交集")
	ack, _ := r.AckNo()
	assert.Equal(t, seqnum.Value(7), ack)
}

func TestReceiver_Fin(t *testing.T) {
	const isn = seqnum.Value(100)
	r := NewReceiver(10)
	require.True(t, r.SegmentReceived(synSeg(isn)))

	// FIN先于数据到达
	require.True(t, r.SegmentReceived(finSeg(isn.Add(3), "c")))
	assert.True(t, r.FINReceived())
	assert.False(t, r.StreamOut().InputEnded())
	ack, _ := r.AckNo()
	assert.Equal(t, isn.Add(1), ack)

	require.True(t, r.SegmentReceived(dataSeg(isn.Add(1), "ab")))
	assert.True(t, r.StreamOut().InputEnded())
	ack, _ = r.AckNo()
	assert.Equal(t, isn.Add(5), ack, "FIN占一个序列号")

	assert.False(t, r.SegmentReceived(finSeg(isn.Add(3), "c")), "重复FIN")
	assert.Equal(t, "abc", string(r.StreamOut().Read(10)))
	assert.True(t, r.StreamOut().EOF())
}

func TestReceiver_SynFin(t *testing.T) {
	const isn = seqnum.Value(42)
	r := NewReceiver(10)
	seg := synSeg(isn)
	seg.Header.FIN = true
	require.True(t, r.SegmentReceived(seg))
	assert.True(t, r.StreamOut().InputEnded())
	ack, _ := r.AckNo()
	assert.Equal(t, isn.Add(2), ack)
}
