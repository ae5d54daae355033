package memutils_test

import (
	"errors"
	"testing"

	"github.com/afrcore/afrcore/memutils"
	"github.com/stretchr/testify/require"
)

func TestAlignUp(t *testing.T) {
	require.Equal(t, 0, memutils.AlignUp(0, 256))
	require.Equal(t, 256, memutils.AlignUp(1, 256))
	require.Equal(t, 256, memutils.AlignUp(256, 256))
	require.Equal(t, uint64(2*1024*1024), memutils.AlignUp(uint64(2*1024*1024-7), 64))
	require.Equal(t, 512, memutils.AlignDown(767, 256))
	require.True(t, memutils.IsAligned(uint64(4096), 512))
	require.False(t, memutils.IsAligned(100, 64))
}

func TestCheckPow2(t *testing.T) {
	require.NoError(t, memutils.CheckPow2(256, "alignment"))
	require.ErrorIs(t, memutils.CheckPow2(255, "alignment"), memutils.PowerOfTwoError)
	require.ErrorIs(t, memutils.CheckPow2(uint(0), "alignment"), memutils.PowerOfTwoError)
}

func TestHostFailure(t *testing.T) {
	require.NoError(t, memutils.HostFailure(nil, "CreateFence"))

	deviceRemoved := errors.New("device removed")
	err := memutils.HostFailure(deviceRemoved, "CreateFence")
	require.ErrorIs(t, err, memutils.HostAPIFailureError)
	require.ErrorIs(t, err, deviceRemoved)
	require.ErrorContains(t, err, "CreateFence")
}
