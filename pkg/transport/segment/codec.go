package segment

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/junbin-yang/sponge-go/pkg/transport/seqnum"
)

// 线路格式（大端序）：
//
//	SeqNo(4) | AckNo(4) | Flags(1) | Reserved(1) | Win(2) | Checksum(2) | PayloadLen(2) | Payload
const HeaderSize = 16

// 单个段允许的最大负载
const MaxPayload = 0xFFFF

const (
	flagFIN = 1 << 0
	flagSYN = 1 << 1
	flagRST = 1 << 2
	flagACK = 1 << 4
)

var (
	ErrShortSegment   = errors.New("segment shorter than header")
	ErrLengthMismatch = errors.New("segment payload length mismatch")
	ErrBadChecksum    = errors.New("segment checksum mismatch")
	ErrPayloadTooBig  = errors.New("segment payload too large")
)

// Marshal 将段编码为线路格式
func Marshal(s *Segment) ([]byte, error) {
	if len(s.Payload) > MaxPayload {
		return nil, errors.Wrapf(ErrPayloadTooBig, "payload %d bytes", len(s.Payload))
	}
	buf := make([]byte, HeaderSize+len(s.Payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(s.Header.SeqNo))
	binary.BigEndian.PutUint32(buf[4:8], uint32(s.Header.AckNo))
	buf[8] = encodeFlags(s.Header)
	binary.BigEndian.PutUint16(buf[10:12], s.Header.Win)
	binary.BigEndian.PutUint16(buf[14:16], uint16(len(s.Payload)))
	copy(buf[HeaderSize:], s.Payload)

	// 校验和字段置零后计算
	binary.BigEndian.PutUint16(buf[12:14], Checksum(buf))
	return buf, nil
}

// Unmarshal 从线路格式解码段，负载会被拷贝
func Unmarshal(b []byte) (*Segment, error) {
	if len(b) < HeaderSize {
		return nil, errors.Wrapf(ErrShortSegment, "got %d bytes", len(b))
	}
	plen := int(binary.BigEndian.Uint16(b[14:16]))
	if len(b)-HeaderSize != plen {
		return nil, errors.Wrapf(ErrLengthMismatch, "header says %d, got %d", plen, len(b)-HeaderSize)
	}

	want := binary.BigEndian.Uint16(b[12:14])
	scratch := make([]byte, len(b))
	copy(scratch, b)
	scratch[12], scratch[13] = 0, 0
	if got := Checksum(scratch); got != want {
		return nil, errors.Wrapf(ErrBadChecksum, "want %#04x, got %#04x", want, got)
	}

	s := &Segment{
		Header: Header{
			SeqNo: seqnum.Value(binary.BigEndian.Uint32(b[0:4])),
			AckNo: seqnum.Value(binary.BigEndian.Uint32(b[4:8])),
			Win:   binary.BigEndian.Uint16(b[10:12]),
		},
	}
	decodeFlags(b[8], &s.Header)
	if plen > 0 {
		s.Payload = scratch[HeaderSize:]
	}
	return s, nil
}

func encodeFlags(h Header) byte {
	var f byte
	if h.FIN {
		f |= flagFIN
	}
	if h.SYN {
		f |= flagSYN
	}
	if h.RST {
		f |= flagRST
	}
	if h.ACK {
		f |= flagACK
	}
	return f
}

func decodeFlags(f byte, h *Header) {
	h.FIN = f&flagFIN != 0
	h.SYN = f&flagSYN != 0
	h.RST = f&flagRST != 0
	h.ACK = f&flagACK != 0
}

// Checksum 计算16位反码和校验（RFC 1071）
func Checksum(b []byte) uint16 {
	var sum uint32
	for len(b) >= 2 {
		sum += uint32(b[0])<<8 | uint32(b[1])
		b = b[2:]
	}
	if len(b) == 1 {
		sum += uint32(b[0]) << 8
	}
	for sum>>16 != 0 {
		sum = sum&0xFFFF + sum>>16
	}
	return ^uint16(sum)
}
