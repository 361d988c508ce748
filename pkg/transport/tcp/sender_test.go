package tcp

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junbin-yang/sponge-go/pkg/transport/segment"
	"github.com/junbin-yang/sponge-go/pkg/transport/seqnum"
)

const testISN = seqnum.Value(0xFFFFFFF0)

// newOpenSender 返回SYN已被确认、对端窗口为win的发送端
func newOpenSender(t *testing.T, capacity int, rto uint, maxPayload int, win uint16) *Sender {
	t.Helper()
	s := NewSender(capacity, rto, testISN, maxPayload)
	s.FillWindow()
	require.Equal(t, 1, s.SegmentsOut().Len())
	s.SegmentsOut().Drain()
	require.True(t, s.AckReceived(testISN.Add(1), win))
	require.Equal(t, uint64(0), s.BytesInFlight())
	return s
}

func payloads(segs []*segment.Segment) []string {
	out := make([]string, 0, len(segs))
	for _, s := range segs {
		out = append(out, string(s.Payload))
	}
	return out
}

func TestSender_Syn(t *testing.T) {
	s := NewSender(100, 1000, testISN, 1000)
	assert.Equal(t, uint64(0), s.NextSeqNoAbsolute())

	s.FillWindow()
	segs := s.SegmentsOut().Drain()
	require.Len(t, segs, 1)
	assert.Equal(t, segment.Header{SeqNo: testISN, SYN: true}, segs[0].Header)
	assert.Equal(t, uint64(1), s.BytesInFlight())
	assert.Equal(t, testISN.Add(1), s.NextSeqNo())
	assert.True(t, s.TimerRunning())

	// SYN未确认前不再发送
	s.StreamIn().Write([]byte("abc"))
	s.FillWindow()
	assert.True(t, s.SegmentsOut().Empty())
}

func TestSender_AckBeyondNext(t *testing.T) {
	s := NewSender(100, 1000, testISN, 1000)
	s.FillWindow()
	assert.False(t, s.AckReceived(testISN.Add(2), 10))
	assert.Equal(t, uint64(1), s.BytesInFlight())
	assert.True(t, s.AckReceived(testISN.Add(1), 10))
	assert.Equal(t, uint64(0), s.BytesInFlight())
	assert.False(t, s.TimerRunning())
}

func TestSender_WindowAndPayloadLimits(t *testing.T) {
	s := newOpenSender(t, 100, 1000, 3, 8)
	s.StreamIn().Write([]byte("abcdefghijk"))
	s.FillWindow()
	segs := s.SegmentsOut().Drain()
	assert.Equal(t, []string{"abc", "def", "gh"}, payloads(segs))
	assert.Equal(t, testISN.Add(1), segs[0].Header.SeqNo)
	assert.Equal(t, testISN.Add(4), segs[1].Header.SeqNo)
	assert.Equal(t, uint64(8), s.BytesInFlight())

	// 部分确认：首段只确认一部分时仍然保留
	require.True(t, s.AckReceived(testISN.Add(3), 8))
	assert.Equal(t, []string{"ij"}, payloads(s.SegmentsOut().Drain()))
	assert.Equal(t, uint64(10), s.BytesInFlight())

	require.True(t, s.AckReceived(testISN.Add(11), 8))
	assert.Equal(t, uint64(1), s.BytesInFlight())
	assert.Equal(t, []string{"k"}, payloads(s.SegmentsOut().Drain()))
}

func TestSender_Fin(t *testing.T) {
	s := newOpenSender(t, 100, 1000, 1000, 10)
	s.StreamIn().Write([]byte("ab"))
	s.StreamIn().EndInput()
	s.FillWindow()
	segs := s.SegmentsOut().Drain()
	require.Len(t, segs, 1)
	assert.True(t, segs[0].Header.FIN)
	assert.Equal(t, "ab", string(segs[0].Payload))
	assert.True(t, s.FinSent())
	assert.Equal(t, uint64(3), s.BytesInFlight())

	s.FillWindow()
	assert.True(t, s.SegmentsOut().Empty(), "FIN之后不再发送")
}

func TestSender_FinNeedsWindow(t *testing.T) {
	s := newOpenSender(t, 100, 1000, 1000, 7)
	s.StreamIn().Write([]byte("1234567"))
	s.StreamIn().EndInput()
	s.FillWindow()
	segs := s.SegmentsOut().Drain()
	require.Len(t, segs, 1)
	assert.False(t, segs[0].Header.FIN, "窗口已被数据占满")

	require.True(t, s.AckReceived(testISN.Add(8), 1))
	segs = s.SegmentsOut().Drain()
	require.Len(t, segs, 1)
	assert.True(t, segs[0].Header.FIN)
	assert.Empty(t, segs[0].Payload)
	assert.Equal(t, testISN.Add(8), segs[0].Header.SeqNo)
}

func TestSender_ZeroWindowProbe(t *testing.T) {
	s := newOpenSender(t, 100, 1000, 1000, 0)
	s.StreamIn().Write([]byte("hello"))
	s.FillWindow()
	assert.Equal(t, []string{"h"}, payloads(s.SegmentsOut().Drain()))
	s.FillWindow()
	assert.True(t, s.SegmentsOut().Empty(), "零窗口时只发一个字节的探测")

	// 重复确认也会更新窗口
	require.True(t, s.AckReceived(testISN.Add(1), 10))
	s.FillWindow()
	assert.Equal(t, []string{"ello"}, payloads(s.SegmentsOut().Drain()))
}

func TestSender_RetransmissionBackoff(t *testing.T) {
	const rto = 100
	s := NewSender(100, rto, testISN, 1000)
	s.FillWindow()
	s.SegmentsOut().Drain()

	var elapsed uint
	for n := uint(1); n <= 6; n++ {
		// 第n次重传发生在 rto*(2^n-1)
		due := uint(rto) * (1<<n - 1)
		s.Tick(due - 1 - elapsed)
		require.True(t, s.SegmentsOut().Empty(), "attempt %d fired early", n)
		s.Tick(1)
		elapsed = due

		segs := s.SegmentsOut().Drain()
		require.Len(t, segs, 1)
		assert.True(t, segs[0].Header.SYN)
		assert.Equal(t, n, s.ConsecutiveRetransmissions())
		assert.Equal(t, uint(rto)<<n, s.RTO())
	}
	assert.Equal(t, uint64(6), s.Retransmissions())

	require.True(t, s.AckReceived(testISN.Add(1), 10))
	assert.Equal(t, uint(0), s.ConsecutiveRetransmissions())
	assert.Equal(t, uint(rto), s.RTO())
	assert.False(t, s.TimerRunning())

	s.Tick(10 * rto)
	assert.True(t, s.SegmentsOut().Empty())
}

func TestSender_RetransmitOldest(t *testing.T) {
	s := newOpenSender(t, 100, 100, 2, 10)
	s.StreamIn().Write([]byte("abcd"))
	s.FillWindow()
	s.SegmentsOut().Drain()

	s.Tick(100)
	assert.Equal(t, []string{"ab"}, payloads(s.SegmentsOut().Drain()))

	// 新的确认重启计时器
	s.Tick(150)
	require.True(t, s.AckReceived(testISN.Add(3), 10))
	s.Tick(99)
	assert.True(t, s.SegmentsOut().Empty())
	s.Tick(1)
	assert.Equal(t, []string{"cd"}, payloads(s.SegmentsOut().Drain()))
}

func TestSender_StaleAck(t *testing.T) {
	s := newOpenSender(t, 100, 100, 1000, 10)
	s.StreamIn().Write([]byte("abc"))
	s.FillWindow()
	s.SegmentsOut().Drain()
	s.Tick(100)
	s.SegmentsOut().Drain()
	require.Equal(t, uint(1), s.ConsecutiveRetransmissions())

	assert.True(t, s.AckReceived(testISN.Add(1), 10))
	assert.Equal(t, uint(1), s.ConsecutiveRetransmissions(), "未推进的确认不重置计数")
	assert.Equal(t, uint64(3), s.BytesInFlight())
}

func TestSender_EmptySegment(t *testing.T) {
	s := newOpenSender(t, 100, 100, 1000, 10)
	s.SendEmptySegment()
	segs := s.SegmentsOut().Drain()
	require.Len(t, segs, 1)
	assert.Equal(t, uint64(0), segs[0].LengthInSequenceSpace())
	assert.Equal(t, testISN.Add(1), segs[0].Header.SeqNo)
	assert.Equal(t, uint64(0), s.BytesInFlight())
	assert.False(t, s.TimerRunning())
}

// TestSender_InFlightAccounting 随机写入与确认，在途字节数始终等于未确认段长度之和
func TestSender_InFlightAccounting(t *testing.T) {
	rd := rand.New(rand.NewSource(7))
	s := newOpenSender(t, 1000, 100, 17, 64)

	var sent []*segment.Segment
	var acked uint64 = 1
	for i := 0; i < 500; i++ {
		switch rd.Intn(3) {
		case 0:
			buf := make([]byte, rd.Intn(50))
			rd.Read(buf)
			s.StreamIn().Write(buf)
			s.FillWindow()
		case 1:
			if s.NextSeqNoAbsolute() > acked {
				acked += uint64(rd.Int63n(int64(s.NextSeqNoAbsolute()-acked) + 1))
			}
			require.True(t, s.AckReceived(seqnum.Wrap(acked, testISN), uint16(rd.Intn(100))))
		case 2:
			s.Tick(uint(rd.Intn(120)))
		}
		sent = append(sent, s.SegmentsOut().Drain()...)

		var sum uint64
		s.outstanding.Each(func(seg *segment.Segment) { sum += seg.LengthInSequenceSpace() })
		require.Equal(t, sum, s.BytesInFlight())
		require.Equal(t, s.outstanding.Empty(), !s.TimerRunning())
	}
	assert.NotEmpty(t, sent)
}
