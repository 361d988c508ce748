package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestByteStream_WriteRead 模拟“写入→查看→读取”全流程
func TestByteStream_WriteRead(t *testing.T) {
	s := New(16)
	require.NotNil(t, s)

	n := s.Write([]byte("reliable stream"))
	assert.Equal(t, 15, n)
	assert.Equal(t, 15, s.BufferSize())
	assert.Equal(t, 1, s.RemainingCapacity())

	assert.Equal(t, []byte("reliable"), s.Peek(8))
	assert.Equal(t, 15, s.BufferSize(), "Peek不应移除数据")

	assert.Equal(t, []byte("reliable"), s.Read(8))
	assert.Equal(t, []byte(" stream"), s.Read(100))
	assert.True(t, s.BufferEmpty())
	assert.Nil(t, s.Read(1))
	assert.Equal(t, uint64(15), s.BytesWritten())
	assert.Equal(t, uint64(15), s.BytesRead())
}

// TestByteStream_Truncate 容量不足时截断写入
func TestByteStream_Truncate(t *testing.T) {
	s := New(4)
	assert.Equal(t, 4, s.Write([]byte("abcdef")))
	assert.Equal(t, 0, s.Write([]byte("g")))
	assert.Equal(t, []byte("abcd"), s.Peek(10))
}

// TestByteStream_Wraparound 读写指针回绕后数据仍然有序
func TestByteStream_Wraparound(t *testing.T) {
	s := New(5)
	s.Write([]byte("abc"))
	s.Pop(2)
	assert.Equal(t, 4, s.Write([]byte("defg")))
	assert.Equal(t, []byte("cdefg"), s.Peek(5))
	s.Pop(4)
	assert.Equal(t, 4, s.Write([]byte("hijk")))
	assert.Equal(t, []byte("ghijk"), s.Read(5))
}

// TestByteStream_EndAndError 测试结束与出错标记
func TestByteStream_EndAndError(t *testing.T) {
	s := New(8)
	s.Write([]byte("hi"))
	s.EndInput()
	assert.True(t, s.InputEnded())
	assert.False(t, s.EOF(), "仍有未读数据时不应EOF")
	assert.Equal(t, 0, s.Write([]byte("late")), "结束后不再接受数据")

	s.Pop(2)
	assert.True(t, s.EOF())

	e := New(8)
	e.SetError()
	assert.True(t, e.Error())
	assert.Equal(t, 0, e.Write([]byte("x")))
}

func TestByteStream_ZeroCapacity(t *testing.T) {
	s := New(0)
	assert.Equal(t, 0, s.Write([]byte("x")))
	assert.Equal(t, 0, s.RemainingCapacity())
	s.Pop(1)
	assert.Nil(t, s.Peek(1))
}
