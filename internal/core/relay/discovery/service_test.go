package discovery

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// countingRegistry 记录调用次数；refresh 阻塞到 ctx 取消时可模拟慢查询
type countingRegistry struct {
	refreshes atomic.Int32
	prunes    atomic.Int32
	block     bool
}

func (c *countingRegistry) RefreshFromBootstrap(ctx context.Context) (int, error) {
	c.refreshes.Add(1)
	if c.block {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	return 1, nil
}

func (c *countingRegistry) Prune() int {
	c.prunes.Add(1)
	return 0
}

func TestService_TicksAndStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	clk := clock.NewMock()
	reg := &countingRegistry{}
	svc := NewService(reg, time.Minute, clk)

	svc.Start()
	require.Eventually(t, func() bool { return reg.prunes.Load() == 1 }, time.Second, time.Millisecond)

	clk.Add(time.Minute)
	require.Eventually(t, func() bool { return reg.prunes.Load() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(2), reg.refreshes.Load())

	svc.Stop()
	assert.False(t, svc.Running())

	clk.Add(10 * time.Minute)
	assert.Equal(t, int32(2), reg.refreshes.Load(), "no rounds after stop")
}

func TestService_RestartSingleTask(t *testing.T) {
	defer goleak.VerifyNone(t)

	clk := clock.NewMock()
	reg := &countingRegistry{}
	svc := NewService(reg, time.Minute, clk)

	svc.Start()
	svc.Start()
	require.Eventually(t, func() bool { return reg.prunes.Load() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), reg.refreshes.Load(), "second Start is a no-op")

	svc.Stop()
	svc.Stop()

	svc.Start()
	require.Eventually(t, func() bool { return reg.prunes.Load() == 2 }, time.Second, time.Millisecond)
	assert.True(t, svc.Running())
	svc.Stop()
}

func TestService_StopCancelsInflightRefresh(t *testing.T) {
	defer goleak.VerifyNone(t)

	reg := &countingRegistry{block: true}
	svc := NewService(reg, time.Hour, nil)

	svc.Start()
	require.Eventually(t, func() bool { return reg.refreshes.Load() == 1 }, time.Second, time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		svc.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return while refresh was blocked")
	}
	assert.Zero(t, reg.prunes.Load(), "cancelled round skips prune")
}
