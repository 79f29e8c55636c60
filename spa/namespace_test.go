package spa

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LittleNewton/zfs/core"
	"github.com/LittleNewton/zfs/internal/clock"
)

func testConfig() PoolConfig {
	return PoolConfig{
		Devices: []DeviceConfig{
			{GUID: 0xaa, PSize: 64 << 20, Children: []DeviceConfig{
				{GUID: 0xab, PSize: 32 << 20},
				{GUID: 0xac, PSize: 32 << 20},
			}},
		},
		CacheCapacity: 16,
	}
}

func TestImportExportLifecycle(t *testing.T) {
	ns := NewNamespace(NamespaceOptions{})
	ctx := context.Background()

	p, err := ns.Import(ctx, "tank", testConfig())
	require.NoError(t, err)
	assert.Equal(t, "tank", p.Name())
	assert.Equal(t, StateActive, p.State())
	assert.True(t, ns.Exists("tank"))
	assert.Same(t, p, ns.Lookup("tank"))

	// A second import of the same name is rejected.
	_, err = ns.Import(ctx, "tank", testConfig())
	assert.ErrorIs(t, err, core.ErrExists)

	require.NoError(t, ns.Export(ctx, "tank"))
	assert.False(t, ns.Exists("tank"))
	assert.Equal(t, StateExported, p.State())

	assert.ErrorIs(t, ns.Export(ctx, "tank"), core.ErrNotFound)
}

func TestDestroyRefusesWithInjectionHolds(t *testing.T) {
	ns := NewNamespace(NamespaceOptions{})
	ctx := context.Background()

	p, err := ns.Import(ctx, "tank", testConfig())
	require.NoError(t, err)

	held, err := ns.InjectAddRef("tank")
	require.NoError(t, err)
	assert.Same(t, core.Pool(p), held)

	assert.ErrorIs(t, ns.Destroy(ctx, "tank"), core.ErrBusy)

	// Export is allowed regardless of holds.
	require.NoError(t, ns.Export(ctx, "tank"))
	p.InjectRelease()

	assert.ErrorIs(t, ns.Destroy(ctx, "tank"), core.ErrNotFound)
}

func TestDestroyRemovesPool(t *testing.T) {
	ns := NewNamespace(NamespaceOptions{})
	ctx := context.Background()

	_, err := ns.Import(ctx, "tank", testConfig())
	require.NoError(t, err)
	require.NoError(t, ns.Destroy(ctx, "tank"))
	assert.False(t, ns.Exists("tank"))
}

func TestResetReusesPoolObject(t *testing.T) {
	ns := NewNamespace(NamespaceOptions{})
	ctx := context.Background()

	p, err := ns.Import(ctx, "tank", testConfig())
	require.NoError(t, err)
	p.SetObjectInfo(5, 10, ObjectInfo{DataBlockShift: 12, IndirectShift: 17, Levels: 3})
	p.AdvanceTXG()

	require.NoError(t, ns.Reset("tank"))

	// Identity, object metadata and the txg all survive a reload.
	assert.Same(t, p, ns.Lookup("tank"))
	assert.Equal(t, StateActive, p.State())
	_, ok := p.ObjectInfo(5, 10)
	assert.True(t, ok)
	assert.Equal(t, uint64(1), p.SyncingTXG())

	assert.ErrorIs(t, ns.Reset("missing"), core.ErrNotFound)
}

func TestImportDelayProbeObservesElapsedTime(t *testing.T) {
	clk := clock.NewMockClock(time.Unix(1700000000, 0))
	ns := NewNamespace(NamespaceOptions{Clock: clk})

	var importCalls, exportCalls int
	ns.SetDelayProbes(
		func(ctx context.Context, p core.Pool, elapsed time.Duration) {
			importCalls++
			assert.Equal(t, "tank", p.Name())
		},
		func(ctx context.Context, p core.Pool, elapsed time.Duration) {
			exportCalls++
		},
	)

	ctx := context.Background()
	_, err := ns.Import(ctx, "tank", testConfig())
	require.NoError(t, err)
	require.NoError(t, ns.Export(ctx, "tank"))

	assert.Equal(t, 1, importCalls)
	assert.Equal(t, 1, exportCalls)
}

func TestLookupDeviceWalksTree(t *testing.T) {
	ns := NewNamespace(NamespaceOptions{})
	p, err := ns.Import(context.Background(), "tank", testConfig())
	require.NoError(t, err)

	for _, guid := range []uint64{0xaa, 0xab, 0xac} {
		d := p.LookupDevice(guid)
		require.NotNil(t, d, "guid %#x", guid)
		assert.Equal(t, guid, d.GUID)
	}
	assert.Nil(t, p.LookupDevice(0xdead))

	assert.False(t, p.LookupDevice(0xaa).Leaf())
	assert.True(t, p.LookupDevice(0xab).Leaf())
}

func TestResolveRangeCollapsesBytesToBlocks(t *testing.T) {
	ns := NewNamespace(NamespaceOptions{})
	p, err := ns.Import(context.Background(), "tank", testConfig())
	require.NoError(t, err)
	p.SetObjectInfo(5, 10, ObjectInfo{DataBlockShift: 12, IndirectShift: 17, Levels: 3})

	start, end, err := ns.ResolveRange("tank", 5, 10, 0, 8192, 20480)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), start)
	assert.Equal(t, uint64(5), end)
}

func TestResolveRangePreservesWildcardRange(t *testing.T) {
	ns := NewNamespace(NamespaceOptions{})
	p, err := ns.Import(context.Background(), "tank", testConfig())
	require.NoError(t, err)
	p.SetObjectInfo(5, 10, ObjectInfo{DataBlockShift: 12, IndirectShift: 17, Levels: 3})

	// A [0, max] byte range means "the whole object" and must stay that
	// way rather than shrinking through the shift.
	start, end, err := ns.ResolveRange("tank", 5, 10, 0, 0, math.MaxUint64)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), start)
	assert.Equal(t, uint64(math.MaxUint64), end)
}

func TestResolveRangeIndirectLevels(t *testing.T) {
	ns := NewNamespace(NamespaceOptions{})
	p, err := ns.Import(context.Background(), "tank", testConfig())
	require.NoError(t, err)
	p.SetObjectInfo(5, 10, ObjectInfo{DataBlockShift: 12, IndirectShift: 17, Levels: 3})

	// Each indirect level divides the block-id space by the number of
	// block pointers per indirect block (2^(17-7) here).
	start, end, err := ns.ResolveRange("tank", 5, 10, 1, 1<<24, 1<<26)
	require.NoError(t, err)
	assert.Equal(t, uint64((1<<24)>>12>>10), start)
	assert.Equal(t, uint64((1<<26)>>12>>10), end)

	_, _, err = ns.ResolveRange("tank", 5, 10, 3, 0, 4096)
	assert.ErrorIs(t, err, core.ErrDomain)
}

func TestResolveRangeUnknownTargets(t *testing.T) {
	ns := NewNamespace(NamespaceOptions{})
	_, err := ns.Import(context.Background(), "tank", testConfig())
	require.NoError(t, err)

	_, _, err = ns.ResolveRange("missing", 5, 10, 0, 0, 4096)
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, _, err = ns.ResolveRange("tank", 5, 10, 0, 0, 4096)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestFlushCachesCoversAllPools(t *testing.T) {
	ns := NewNamespace(NamespaceOptions{})
	ctx := context.Background()

	a, err := ns.Import(ctx, "a", testConfig())
	require.NoError(t, err)
	b, err := ns.Import(ctx, "b", testConfig())
	require.NoError(t, err)

	require.NoError(t, a.Cache().Put("k1", []byte("v1")))
	require.NoError(t, b.Cache().Put("k2", []byte("v2")))

	require.NoError(t, ns.FlushCaches(ctx))
	assert.Equal(t, 0, a.Cache().Len())
	assert.Equal(t, 0, b.Cache().Len())
}

func TestInjectReleaseUnderflowPanics(t *testing.T) {
	ns := NewNamespace(NamespaceOptions{})
	p, err := ns.Import(context.Background(), "tank", testConfig())
	require.NoError(t, err)

	require.Panics(t, func() { p.InjectRelease() })
}
