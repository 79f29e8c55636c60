package vdev

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceTreeLookup(t *testing.T) {
	root := New(0, 0)
	mirror := New(1, 0)
	mirror.AddChild(New(10, 1<<30))
	mirror.AddChild(New(11, 1<<30))
	root.AddChild(mirror)
	root.AddChild(New(2, 1<<30))

	for _, guid := range []uint64{0, 1, 2, 10, 11} {
		d := root.Lookup(guid)
		require.NotNil(t, d, "guid %d", guid)
		assert.Equal(t, guid, d.GUID)
	}
	assert.Nil(t, root.Lookup(99))

	assert.False(t, mirror.Leaf())
	assert.True(t, root.Lookup(10).Leaf())
	assert.Len(t, mirror.Children(), 2)
}

func TestDeviceAuxState(t *testing.T) {
	d := New(1, 1<<30)
	assert.Equal(t, AuxNone, d.Aux())

	d.SetAux(AuxOpenFailed)
	assert.Equal(t, AuxOpenFailed, d.Aux())
	assert.Equal(t, "open_failed", d.Aux().String())
}
