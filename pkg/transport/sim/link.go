// 确定性的有损内存链路，以及在其上运行两个连接的模拟器
package sim

import (
	"math/rand"

	"github.com/pkg/errors"

	"github.com/junbin-yang/sponge-go/pkg/transport/segment"
)

// LinkConfig 链路损伤参数，各概率取值范围[0,1)
type LinkConfig struct {
	Loss      float64 `yaml:"loss" mapstructure:"loss"`           // 丢包
	Duplicate float64 `yaml:"duplicate" mapstructure:"duplicate"` // 重复
	Reorder   float64 `yaml:"reorder" mapstructure:"reorder"`     // 插到更早发出的段之前
	Corrupt   float64 `yaml:"corrupt" mapstructure:"corrupt"`     // 翻转一个字节，由校验和检出后丢弃
	Seed      int64   `yaml:"seed" mapstructure:"seed"`
}

func (c LinkConfig) Validate() error {
	for name, p := range map[string]float64{
		"loss": c.Loss, "duplicate": c.Duplicate, "reorder": c.Reorder, "corrupt": c.Corrupt,
	} {
		if p < 0 || p >= 1 {
			return errors.Errorf("link %s probability %v out of range [0,1)", name, p)
		}
	}
	return nil
}

// LinkStats 链路计数
type LinkStats struct {
	Sent       uint64
	Delivered  uint64
	Dropped    uint64
	Duplicated uint64
	Reordered  uint64
	Corrupted  uint64
}

// Link 单向链路，段以线路格式在其中传递
type Link struct {
	cfg      LinkConfig
	rd       *rand.Rand
	inflight [][]byte
	stats    LinkStats
}

func NewLink(cfg LinkConfig) *Link {
	return &Link{cfg: cfg, rd: rand.New(rand.NewSource(cfg.Seed))}
}

// Send 编码并按配置的概率施加损伤
func (l *Link) Send(seg *segment.Segment) error {
	b, err := segment.Marshal(seg)
	if err != nil {
		return err
	}
	l.stats.Sent++

	if l.hit(l.cfg.Loss) {
		l.stats.Dropped++
		return nil
	}
	if l.hit(l.cfg.Corrupt) {
		i := l.rd.Intn(len(b))
		b[i] ^= byte(1 + l.rd.Intn(255))
		l.stats.Corrupted++
	}
	l.enqueue(b)
	if l.hit(l.cfg.Duplicate) {
		l.stats.Duplicated++
		l.enqueue(append([]byte(nil), b...))
	}
	return nil
}

func (l *Link) enqueue(b []byte) {
	if len(l.inflight) > 0 && l.hit(l.cfg.Reorder) {
		i := l.rd.Intn(len(l.inflight))
		l.inflight = append(l.inflight, nil)
		copy(l.inflight[i+1:], l.inflight[i:])
		l.inflight[i] = b
		l.stats.Reordered++
		return
	}
	l.inflight = append(l.inflight, b)
}

func (l *Link) hit(p float64) bool {
	return p > 0 && l.rd.Float64() < p
}

// Deliver 取出链路上的全部段，校验失败的被丢弃
func (l *Link) Deliver() []*segment.Segment {
	if len(l.inflight) == 0 {
		return nil
	}
	out := make([]*segment.Segment, 0, len(l.inflight))
	for _, b := range l.inflight {
		seg, err := segment.Unmarshal(b)
		if err != nil {
			l.stats.Dropped++
			continue
		}
		out = append(out, seg)
	}
	l.inflight = l.inflight[:0]
	l.stats.Delivered += uint64(len(out))
	return out
}

// Pending 链路上尚未投递的段数
func (l *Link) Pending() int { return len(l.inflight) }

func (l *Link) Stats() LinkStats { return l.stats }
