package tcp

import (
	"math/rand"
	"time"

	"github.com/junbin-yang/sponge-go/pkg/transport/seqnum"
)

// NewISN 从给定随机源取一个初始序列号
func NewISN(r *rand.Rand) seqnum.Value {
	return seqnum.Value(r.Uint32())
}

func defaultRand() *rand.Rand {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}
