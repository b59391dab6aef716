package memguard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotReadsHostMemory(t *testing.T) {
	g := New(1)
	snap, err := g.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Greater(t, snap.Total, uint64(0))
}

func TestIsUnderPressureFloorNeverSatisfied(t *testing.T) {
	// An absurdly high floor guarantees the host reports pressure.
	g := New(^uint64(0))
	under, err := g.IsUnderPressure(context.Background())
	require.NoError(t, err)
	assert.True(t, under)
}

func TestIsUnderPressureFloorAlwaysSatisfied(t *testing.T) {
	g := New(1)
	under, err := g.IsUnderPressure(context.Background())
	require.NoError(t, err)
	assert.False(t, under)
}

func TestWaitForRecoveryReturnsImmediatelyWhenHealthy(t *testing.T) {
	g := New(1, WithRecoveryPoll(10*time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, g.WaitForRecovery(ctx))
}

func TestWaitForRecoveryRespectsCancellation(t *testing.T) {
	g := New(^uint64(0), WithRecoveryPoll(5*time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := g.WaitForRecovery(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNextBatchSizeHalvesWithFloor(t *testing.T) {
	assert.Equal(t, 8, NextBatchSize(8, false))
	assert.Equal(t, 4, NextBatchSize(8, true))
	assert.Equal(t, 2, NextBatchSize(4, true))
	assert.Equal(t, 2, NextBatchSize(3, true))
	assert.Equal(t, 2, NextBatchSize(2, true))
}

func TestProbeMPSFreeParsesDecimal(t *testing.T) {
	g := New(1, WithMPSProbe("echo 12345"))
	free, ok := g.probeMPSFree(context.Background())
	assert.True(t, ok)
	assert.Equal(t, uint64(12345), free)
}

func TestProbeMPSFreeFailureSwallowed(t *testing.T) {
	g := New(1, WithMPSProbe("exit 1"))
	_, ok := g.probeMPSFree(context.Background())
	assert.False(t, ok)
}
