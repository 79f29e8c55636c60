package inject

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LittleNewton/zfs/core"
	"github.com/LittleNewton/zfs/spa"
	"github.com/LittleNewton/zfs/zio"
)

func (h *harness) delayZIO() *zio.ZIO {
	return &zio.ZIO{
		Pool:   h.tank,
		Type:   core.IOTypeRead,
		Device: h.device(),
	}
}

func createDelay(t *testing.T, h *harness, timer time.Duration, lanes uint32) int {
	t.Helper()
	id, err := h.eng.InjectFault(context.Background(), testPoolName, 0, Record{
		Cmd:    CommandDelayIO,
		GUID:   testDevGUID,
		IOType: core.IOTypeAll,
		Timer:  timer,
		NLanes: lanes,
	})
	require.NoError(t, err)
	return id
}

func TestIODelayFastPathWithoutRules(t *testing.T) {
	h := newHarness(t)
	assert.True(t, h.eng.HandleIODelay(h.delayZIO()).IsZero())
}

func TestIODelaySingleLaneSerializes(t *testing.T) {
	h := newHarness(t)
	createDelay(t, h, 10*time.Millisecond, 1)

	// With one lane and a frozen clock, each submission queues behind
	// the previous one.
	for i := 1; i <= 5; i++ {
		target := h.eng.HandleIODelay(h.delayZIO())
		assert.Equal(t, h.start.Add(time.Duration(i)*10*time.Millisecond), target)
	}
}

func TestIODelayLaneBoundInvariant(t *testing.T) {
	h := newHarness(t)
	const lanes = 4
	const latency = 10 * time.Millisecond
	createDelay(t, h, latency, lanes)

	// 2N instantaneous submissions: the first N land one latency out,
	// the second N queue strictly behind them, lane by lane.
	var targets []time.Time
	for i := 0; i < 2*lanes; i++ {
		targets = append(targets, h.eng.HandleIODelay(h.delayZIO()))
	}
	for i := 0; i < lanes; i++ {
		assert.Equal(t, h.start.Add(latency), targets[i], "first wave, lane %d", i)
	}
	for i := lanes; i < 2*lanes; i++ {
		assert.Equal(t, h.start.Add(2*latency), targets[i], "second wave, lane %d", i-lanes)
	}

	// Round-robin assignment means submissions i and i+lanes share a
	// lane; their latency windows must be strictly sequential.
	for i := 0; i < lanes; i++ {
		first, second := targets[i], targets[i+lanes]
		assert.False(t, second.Before(first.Add(latency)), "lane %d windows overlap", i)
	}
}

func TestIODelayPicksSoonestIdleRule(t *testing.T) {
	h := newHarness(t)
	fast := createDelay(t, h, 10*time.Millisecond, 1)
	slow := createDelay(t, h, 45*time.Millisecond, 1)

	// The fast rule wins until its backlog exceeds the slow rule's
	// idle latency.
	assert.Equal(t, h.start.Add(10*time.Millisecond), h.eng.HandleIODelay(h.delayZIO()))
	assert.Equal(t, h.start.Add(20*time.Millisecond), h.eng.HandleIODelay(h.delayZIO()))
	assert.Equal(t, h.start.Add(30*time.Millisecond), h.eng.HandleIODelay(h.delayZIO()))
	assert.Equal(t, h.start.Add(40*time.Millisecond), h.eng.HandleIODelay(h.delayZIO()))

	// The fast lane is now booked out to 40ms, so the slow rule's idle
	// lane at 45ms beats the fast rule's 50ms backlog.
	assert.Equal(t, h.start.Add(45*time.Millisecond), h.eng.HandleIODelay(h.delayZIO()))

	fastStats := statsFor(t, h, fast)
	slowStats := statsFor(t, h, slow)
	assert.Equal(t, uint64(5), fastStats.MatchCount)
	assert.Equal(t, uint64(4), fastStats.InjectCount)
	assert.Equal(t, uint64(5), slowStats.MatchCount)
	assert.Equal(t, uint64(1), slowStats.InjectCount)
}

func TestIODelayAdvancesWithClock(t *testing.T) {
	h := newHarness(t)
	createDelay(t, h, 10*time.Millisecond, 1)

	assert.Equal(t, h.start.Add(10*time.Millisecond), h.eng.HandleIODelay(h.delayZIO()))

	// Once the lane has drained, a new submission is an idle-path
	// submission again.
	h.clk.Advance(time.Second)
	assert.Equal(t, h.start.Add(time.Second+10*time.Millisecond), h.eng.HandleIODelay(h.delayZIO()))
}

func TestIODelayFiltersDeviceAndIOType(t *testing.T) {
	h := newHarness(t)
	id, err := h.eng.InjectFault(context.Background(), testPoolName, 0, Record{
		Cmd:    CommandDelayIO,
		GUID:   testDevGUID,
		IOType: core.IOTypeWrite,
		Timer:  10 * time.Millisecond,
		NLanes: 1,
	})
	require.NoError(t, err)

	// Wrong I/O type: no delay, but the scan does not count a match
	// either since the type filter rejected it.
	assert.True(t, h.eng.HandleIODelay(h.delayZIO()).IsZero())

	// Wrong device guid: no delay.
	z := h.delayZIO()
	z.Type = core.IOTypeWrite
	z.Device = h.tank.RootDevice()
	assert.True(t, h.eng.HandleIODelay(z).IsZero())

	// Matching write is delayed.
	z = h.delayZIO()
	z.Type = core.IOTypeWrite
	assert.Equal(t, h.start.Add(10*time.Millisecond), h.eng.HandleIODelay(z))

	rec := statsFor(t, h, id)
	assert.Equal(t, uint64(1), rec.MatchCount)
	assert.Equal(t, uint64(1), rec.InjectCount)
}

func TestIODelayMetricsDigest(t *testing.T) {
	h := newHarness(t)
	createDelay(t, h, 10*time.Millisecond, 2)

	for i := 0; i < 8; i++ {
		h.eng.HandleIODelay(h.delayZIO())
	}
	m := h.eng.Metrics()
	assert.Equal(t, int64(8), m.DelaysScheduled())
	assert.GreaterOrEqual(t, m.DelayQuantile(0.5), 10*time.Millisecond)
}

func TestImportDelaySuspendsImport(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	id, err := h.eng.InjectFault(ctx, "newpool", 0, Record{
		Cmd: CommandDelayImport, Duration: 1,
	})
	require.NoError(t, err)

	begin := time.Now()
	_, err = h.ns.Import(ctx, "newpool", spa.PoolConfig{})
	require.NoError(t, err)
	elapsed := time.Since(begin)
	assert.GreaterOrEqual(t, elapsed, 900*time.Millisecond, "import should have been suspended")

	// The handler is one-shot: it removed itself after firing.
	err = h.eng.ClearFault(id)
	assert.ErrorIs(t, err, core.ErrNotFound)

	require.NoError(t, h.ns.Destroy(ctx, "newpool"))
}

func TestExportDelayRespectsElapsedTime(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	id, err := h.eng.InjectFault(ctx, testPoolName, 0, Record{
		Cmd: CommandDelayExport, Duration: 1,
	})
	require.NoError(t, err)

	// The export already spent more than the configured duration, so no
	// additional suspension happens, but the one-shot handler is still
	// consumed.
	begin := time.Now()
	h.eng.HandleExportDelay(ctx, h.tank, 2*time.Second)
	assert.Less(t, time.Since(begin), 500*time.Millisecond)

	assert.ErrorIs(t, h.eng.ClearFault(id), core.ErrNotFound)
}

func TestPoolDelayHonorsCancellation(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.eng.InjectFault(context.Background(), "newpool", 0, Record{
		Cmd: CommandDelayImport, Duration: 60,
	})
	require.NoError(t, err)

	begin := time.Now()
	pool, err := h.ns.Import(ctx, "newpool", spa.PoolConfig{})
	require.NoError(t, err)
	assert.Less(t, time.Since(begin), time.Second, "cancelled context must cut the delay short")
	assert.NotNil(t, pool)

	require.NoError(t, h.ns.Destroy(context.Background(), "newpool"))
}
