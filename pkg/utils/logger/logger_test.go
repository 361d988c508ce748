package logger

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_LOG(t *testing.T) {
	defer Sync()
	Info("Info msg")
	Warn("Warn msg")
	Error("Error msg")
	Debug("Debug msg", Int("age", 3))
}

// TestLogger_Level 测试级别过滤与动态调整
func TestLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, InfoLevel)

	l.Debug("hidden")
	assert.Empty(t, buf.String(), "Info级别下Debug日志不应输出")

	l.SetLevel(DebugLevel)
	assert.True(t, l.Enabled(DebugLevel))
	l.Named("tcp").Debug("visible", Uint32("seq", 7))
	assert.Contains(t, buf.String(), "visible")
	assert.Contains(t, buf.String(), "[DEBUG]")
	assert.Contains(t, buf.String(), "tcp")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLevel("debug"))
	assert.Equal(t, WarnLevel, ParseLevel(" Warning "))
	assert.Equal(t, ErrorLevel, ParseLevel("error"))
	assert.Equal(t, InfoLevel, ParseLevel("bogus"))
}

// TestNewFileWriter 测试两种文件切割方式
func TestNewFileWriter(t *testing.T) {
	dir := t.TempDir()

	_, err := NewFileWriter(FileConfig{})
	assert.Error(t, err, "空路径应报错")

	_, err = NewFileWriter(FileConfig{Path: filepath.Join(dir, "a.log"), Mode: "weekly"})
	assert.Error(t, err, "未知切割模式应报错")

	l, err := NewFile(FileConfig{Path: filepath.Join(dir, "size.log"), Mode: RotateBySize}, InfoLevel)
	require.NoError(t, err)
	l.Info("size rotated")

	l, err = NewFile(FileConfig{Path: filepath.Join(dir, "time.log"), Mode: RotateByTime}, InfoLevel)
	require.NoError(t, err)
	l.Info("time rotated")
}
