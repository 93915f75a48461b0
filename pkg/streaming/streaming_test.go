package streaming

import (
	"testing"

	"github.com/codership/wsrep-lib/pkg/ids"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnableZeroSizeDisables(t *testing.T) {
	c := New()
	require.NoError(t, c.Enable(UnitRow, 0))
	assert.False(t, c.Enabled())
}

func TestEnableDisableReenableIsIdempotent(t *testing.T) {
	first := New()
	require.NoError(t, first.Enable(UnitRow, 3))
	require.NoError(t, first.Stored(ids.Seqno(1)))
	first.Disable()
	require.NoError(t, first.Enable(UnitRow, 3))

	second := New()
	require.NoError(t, second.Enable(UnitRow, 3))

	assert.Equal(t, second.Unit(), first.Unit())
	assert.Equal(t, second.Size(), first.Size())
}

func TestRowFragmentBoundary(t *testing.T) {
	c := New()
	require.NoError(t, c.Enable(UnitRow, 2))
	assert.False(t, c.IncrementUnitCounter(1))
	assert.True(t, c.IncrementUnitCounter(1))
	c.ResetUnitCounter()
	assert.Equal(t, uint64(0), c.UnitCounter())
}

func TestBytesFragmentBoundary(t *testing.T) {
	c := New()
	require.NoError(t, c.Enable(UnitBytes, 100))
	assert.False(t, c.ShouldCertifyBytes(50))
	assert.True(t, c.ShouldCertifyBytes(100))
	c.Certified(100)
	assert.False(t, c.ShouldCertifyBytes(150))
	assert.True(t, c.ShouldCertifyBytes(200))
}

func TestStoredRequiresIncreasingSeqno(t *testing.T) {
	c := New()
	require.NoError(t, c.Stored(ids.Seqno(1)))
	require.NoError(t, c.Stored(ids.Seqno(2)))
	assert.Error(t, c.Stored(ids.Seqno(2)))
	assert.Error(t, c.Stored(ids.Seqno(1)))
}

func TestCleanupResetsEverything(t *testing.T) {
	c := New()
	require.NoError(t, c.Enable(UnitRow, 1))
	require.NoError(t, c.Stored(ids.Seqno(1)))
	c.RolledBack(ids.TransactionID(5))
	c.IncrementUnitCounter(1)

	c.Cleanup()

	fresh := New()
	assert.Equal(t, fresh.Fragments(), c.Fragments())
	assert.Equal(t, fresh.FragmentsCertified(), c.FragmentsCertified())
	assert.Equal(t, fresh.RollbackInFlightFor(), c.RollbackInFlightFor())
	assert.Equal(t, fresh.UnitCounter(), c.UnitCounter())
	assert.Equal(t, fresh.Enabled(), c.Enabled())
}
