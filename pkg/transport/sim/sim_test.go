package sim

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junbin-yang/sponge-go/api"
	"github.com/junbin-yang/sponge-go/pkg/transport/segment"
	"github.com/junbin-yang/sponge-go/pkg/transport/seqnum"
	"github.com/junbin-yang/sponge-go/pkg/transport/tcp"
	"github.com/junbin-yang/sponge-go/pkg/utils/logger"
)

func TestLink_Clean(t *testing.T) {
	l := NewLink(LinkConfig{Seed: 1})
	for i := 0; i < 10; i++ {
		require.NoError(t, l.Send(&segment.Segment{
			Header:  segment.Header{SeqNo: seqnum.Value(i), ACK: true},
			Payload: []byte{byte(i)},
		}))
	}
	got := l.Deliver()
	require.Len(t, got, 10)
	for i, s := range got {
		assert.Equal(t, seqnum.Value(i), s.Header.SeqNo)
		assert.Equal(t, []byte{byte(i)}, s.Payload)
	}
	assert.Nil(t, l.Deliver())
	assert.Equal(t, LinkStats{Sent: 10, Delivered: 10}, l.Stats())
}

func TestLink_Corruption(t *testing.T) {
	l := NewLink(LinkConfig{Corrupt: 0.5, Duplicate: 0.2, Reorder: 0.3, Seed: 9})
	for i := 0; i < 1000; i++ {
		require.NoError(t, l.Send(&segment.Segment{
			Header:  segment.Header{SeqNo: seqnum.Value(i)},
			Payload: []byte("payload"),
		}))
	}
	l.Deliver()

	st := l.Stats()
	assert.NotZero(t, st.Corrupted)
	assert.NotZero(t, st.Reordered)
	// 每个被翻转的字节都能被校验和检出
	assert.Equal(t, st.Sent+st.Duplicated, st.Delivered+st.Dropped)
	assert.GreaterOrEqual(t, st.Dropped, st.Corrupted)
}

func TestLinkConfig_Validate(t *testing.T) {
	assert.NoError(t, LinkConfig{Loss: 0.3}.Validate())
	assert.Error(t, LinkConfig{Loss: 1}.Validate())
	assert.Error(t, LinkConfig{Reorder: -0.1}.Validate())
}

func simConfig(link LinkConfig) Config {
	conn := api.DefaultConfig()
	conn.RTTimeout = 100
	return Config{Conn: conn, Link: link, BytesAtoB: 100000, BytesBtoA: 30000}
}

func TestRun_Lossless(t *testing.T) {
	res, err := Run(context.Background(), simConfig(LinkConfig{Seed: 1}), logger.Nop())
	require.NoError(t, err)
	assert.Equal(t, 100000, res.DeliveredAtoB)
	assert.Equal(t, 30000, res.DeliveredBtoA)
	assert.Equal(t, tcp.StateClosed, res.StateA)
	assert.Equal(t, tcp.StateClosed, res.StateB)
	assert.Zero(t, res.StatsA.ResetsSent)
}

func TestRun_OneWay(t *testing.T) {
	cfg := simConfig(LinkConfig{Loss: 0.05, Seed: 4})
	cfg.BytesBtoA = 0
	res, err := Run(context.Background(), cfg, logger.Nop())
	require.NoError(t, err)
	assert.Equal(t, 100000, res.DeliveredAtoB)
	assert.Zero(t, res.DeliveredBtoA)
	assert.Equal(t, tcp.StateClosed, res.StateB)
}

func TestRun_Lossy(t *testing.T) {
	for _, seed := range []int64{1, 2, 3} {
		link := LinkConfig{Loss: 0.1, Duplicate: 0.05, Reorder: 0.1, Corrupt: 0.02, Seed: seed}
		res, err := Run(context.Background(), simConfig(link), logger.Nop())
		require.NoError(t, err, "seed %d", seed)
		assert.Equal(t, 100000, res.DeliveredAtoB)
		assert.Equal(t, 30000, res.DeliveredBtoA)
		assert.NotZero(t, res.StatsA.Retransmissions+res.StatsB.Retransmissions)
		assert.NotZero(t, res.LinkAtoB.Dropped)
	}
}

func TestRun_Deterministic(t *testing.T) {
	link := LinkConfig{Loss: 0.05, Reorder: 0.2, Seed: 77}
	r1, err := Run(context.Background(), simConfig(link), logger.Nop())
	require.NoError(t, err)
	r2, err := Run(context.Background(), simConfig(link), logger.Nop())
	require.NoError(t, err)
	assert.Equal(t, r1, r2)
}

func TestRun_Errors(t *testing.T) {
	_, err := Run(context.Background(), simConfig(LinkConfig{Loss: 2}), logger.Nop())
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Run(ctx, simConfig(LinkConfig{}), logger.Nop())
	assert.ErrorIs(t, err, context.Canceled)

	cfg := simConfig(LinkConfig{})
	cfg.TimeoutMs = 10
	_, err = Run(context.Background(), cfg, logger.Nop())
	assert.Error(t, err)
}
