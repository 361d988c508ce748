package logger

import (
	"io"
	"path/filepath"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/pkg/errors"
	"gopkg.in/natefinch/lumberjack.v2"
)

// 日志文件的切割方式
type RotateMode string

const (
	RotateBySize RotateMode = "size" // 按文件大小切割（lumberjack）
	RotateByTime RotateMode = "time" // 按时间切割（file-rotatelogs）
)

// FileConfig 描述日志文件输出
type FileConfig struct {
	Path       string        `yaml:"path"`
	Mode       RotateMode    `yaml:"mode"`
	MaxSizeMB  int           `yaml:"max_size_mb"`  // 仅size模式
	MaxBackups int           `yaml:"max_backups"`  // 仅size模式
	MaxAge     time.Duration `yaml:"max_age"`      // 两种模式都生效
	Rotation   time.Duration `yaml:"rotation"`     // 仅time模式
}

// NewFileWriter 根据配置创建带切割能力的日志输出
func NewFileWriter(cfg FileConfig) (io.Writer, error) {
	if cfg.Path == "" {
		return nil, errors.New("log file path is empty")
	}

	switch cfg.Mode {
	case RotateByTime:
		rotation := cfg.Rotation
		if rotation <= 0 {
			rotation = 24 * time.Hour
		}
		opts := []rotatelogs.Option{
			rotatelogs.WithRotationTime(rotation),
			rotatelogs.WithLinkName(cfg.Path),
		}
		if cfg.MaxAge > 0 {
			opts = append(opts, rotatelogs.WithMaxAge(cfg.MaxAge))
		}
		w, err := rotatelogs.New(cfg.Path+".%Y%m%d%H%M", opts...)
		if err != nil {
			return nil, errors.Wrapf(err, "create rotatelogs for %s", cfg.Path)
		}
		return w, nil
	case RotateBySize, "":
		maxSize := cfg.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 64
		}
		return &lumberjack.Logger{
			Filename:   filepath.Clean(cfg.Path),
			MaxSize:    maxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     int(cfg.MaxAge / (24 * time.Hour)),
		}, nil
	default:
		return nil, errors.Errorf("unknown log rotate mode %q", cfg.Mode)
	}
}

// NewFile 创建写入文件的日志器
func NewFile(cfg FileConfig, level Level, opts ...Option) (*Logger, error) {
	w, err := NewFileWriter(cfg)
	if err != nil {
		return nil, err
	}
	return New(w, level, opts...), nil
}
