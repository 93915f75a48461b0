package dispatcher_test

import (
	"errors"
	"testing"

	"github.com/codership/wsrep-lib/pkg/dispatcher"
	"github.com/codership/wsrep-lib/pkg/ids"
	"github.com/codership/wsrep-lib/pkg/provider"
	"github.com/codership/wsrep-lib/pkg/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMeta(t *testing.T, origin ids.ServerID, trx ids.TransactionID, flags ids.Flags) ids.WSMeta {
	t.Helper()
	return ids.WSMeta{
		GTID:   ids.GTID{Server: origin, Seqno: 42},
		Source: ids.SourceID{Server: origin, Trx: trx},
		Flags:  flags,
	}
}

func newTestServerForDispatch(t *testing.T) (*server.Server, *provider.MockProvider) {
	t.Helper()
	id, err := ids.NewServerIDFromBytes([]byte("node-a"))
	require.NoError(t, err)
	p := provider.NewMockProvider(id)
	svc := &provider.MockServerService{}
	s := server.New(id, "node-a", "127.0.0.1:4567", t.TempDir(), 4, server.RollbackSync, p, svc)
	return s, p
}

func TestDispatcherOnePhaseCommit(t *testing.T) {
	s, p := newTestServerForDispatch(t)
	d := dispatcher.New(s, nil)
	hps := &provider.MockHighPriorityService{}
	origin, err := ids.NewServerIDFromBytes([]byte("origin"))
	require.NoError(t, err)
	meta := testMeta(t, origin, 1, ids.FlagStartTransaction|ids.FlagCommit)

	err = d.Apply(p, hps, ids.WriteSetHandle{Trx: 1}, meta, []byte("row"))
	require.NoError(t, err)
	assert.True(t, hps.Committed)
	assert.Equal(t, [][]byte{[]byte("row")}, hps.Applied)
}

func TestDispatcherDummyWriteSetOnCertificationFailure(t *testing.T) {
	s, p := newTestServerForDispatch(t)
	d := dispatcher.New(s, nil)
	hps := &provider.MockHighPriorityService{}
	origin, err := ids.NewServerIDFromBytes([]byte("origin"))
	require.NoError(t, err)
	meta := testMeta(t, origin, 1, ids.FlagStartTransaction|ids.FlagCommit|ids.FlagRollback)

	err = d.Apply(p, hps, ids.WriteSetHandle{Trx: 1}, meta, []byte("row"))
	require.NoError(t, err)
	assert.Equal(t, 1, hps.DummyWriteSets)
	assert.False(t, hps.Committed)
	assert.Empty(t, hps.Applied)
}

func TestDispatcherStreamingFirstContinuationAndCommitFragments(t *testing.T) {
	s, p := newTestServerForDispatch(t)
	d := dispatcher.New(s, nil)
	hps := &provider.MockHighPriorityService{}
	origin, err := ids.NewServerIDFromBytes([]byte("origin"))
	require.NoError(t, err)
	trx := ids.TransactionID(9)

	first := testMeta(t, origin, trx, ids.FlagStartTransaction)
	require.NoError(t, d.Apply(p, hps, ids.WriteSetHandle{Trx: trx}, first, []byte("fragment1")))
	assert.Equal(t, 1, s.StreamingApplierCount())

	sa, ok := s.FindStreamingApplier(origin, trx)
	require.True(t, ok)
	mockSA := sa.(*provider.MockHighPriorityService)
	assert.Equal(t, [][]byte{[]byte("fragment1")}, mockSA.Applied)

	cont := testMeta(t, origin, trx, 0)
	require.NoError(t, d.Apply(p, hps, ids.WriteSetHandle{Trx: trx}, cont, []byte("fragment2")))
	assert.Equal(t, [][]byte{[]byte("fragment1"), []byte("fragment2")}, mockSA.Applied)

	commitMeta := testMeta(t, origin, trx, ids.FlagCommit)
	require.NoError(t, d.Apply(p, hps, ids.WriteSetHandle{Trx: trx}, commitMeta, nil))
	assert.Equal(t, 0, s.StreamingApplierCount())
	assert.Equal(t, 1, mockSA.FragmentsRemoved)
	assert.True(t, mockSA.Committed)
}

func TestDispatcherRollbackFragmentConsumesStreamingApplier(t *testing.T) {
	s, p := newTestServerForDispatch(t)
	d := dispatcher.New(s, nil)
	hps := &provider.MockHighPriorityService{}
	origin, err := ids.NewServerIDFromBytes([]byte("origin"))
	require.NoError(t, err)
	trx := ids.TransactionID(11)

	first := testMeta(t, origin, trx, ids.FlagStartTransaction)
	require.NoError(t, d.Apply(p, hps, ids.WriteSetHandle{Trx: trx}, first, []byte("fragment1")))

	rollback := testMeta(t, origin, trx, ids.FlagRollback)
	require.NoError(t, d.Apply(p, hps, ids.WriteSetHandle{Trx: trx}, rollback, nil))

	assert.Equal(t, 0, s.StreamingApplierCount())
	assert.True(t, hps.Committed)
	assert.Equal(t, 1, hps.FragmentsRemoved)
}

func TestDispatcherContinuationFragmentMissingApplierIsBenign(t *testing.T) {
	s, p := newTestServerForDispatch(t)
	d := dispatcher.New(s, nil)
	hps := &provider.MockHighPriorityService{}
	origin, err := ids.NewServerIDFromBytes([]byte("origin"))
	require.NoError(t, err)

	meta := testMeta(t, origin, 77, 0)
	err = d.Apply(p, hps, ids.WriteSetHandle{Trx: 77}, meta, []byte("orphan"))
	assert.NoError(t, err)
}

func TestDispatcherTOIRegularGoesThroughCommitOrder(t *testing.T) {
	s, p := newTestServerForDispatch(t)
	d := dispatcher.New(s, nil)
	hps := &provider.MockHighPriorityService{}
	origin, err := ids.NewServerIDFromBytes([]byte("origin"))
	require.NoError(t, err)
	meta := testMeta(t, origin, 1, ids.FlagIsolation|ids.FlagStartTransaction|ids.FlagCommit)

	err = d.Apply(p, hps, ids.WriteSetHandle{Trx: 1}, meta, []byte("ddl"))
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("ddl")}, hps.TOIApplied)
}

func TestDispatcherCommutativeAndNativeNotImplemented(t *testing.T) {
	s, p := newTestServerForDispatch(t)
	d := dispatcher.New(s, nil)
	hps := &provider.MockHighPriorityService{}
	origin, err := ids.NewServerIDFromBytes([]byte("origin"))
	require.NoError(t, err)

	meta := testMeta(t, origin, 1, ids.FlagCommutative)
	err = d.Apply(p, hps, ids.WriteSetHandle{Trx: 1}, meta, nil)
	assert.ErrorIs(t, err, dispatcher.ErrNotImplemented)
}

type refutingVoter struct{}

func (refutingVoter) Vote(ids.WSMeta, error) error { return errVoteRefused }

var errVoteRefused = errors.New("vote refused")

func TestDispatcherErrorVoterCanRefuseCommitOrder(t *testing.T) {
	s, p := newTestServerForDispatch(t)
	d := dispatcher.New(s, refutingVoter{})
	hps := &provider.MockHighPriorityService{ApplyTOIFails: true}
	origin, err := ids.NewServerIDFromBytes([]byte("origin"))
	require.NoError(t, err)
	meta := testMeta(t, origin, 1, ids.FlagIsolation|ids.FlagStartTransaction|ids.FlagCommit)

	err = d.Apply(p, hps, ids.WriteSetHandle{Trx: 1}, meta, []byte("ddl"))
	assert.Error(t, err)
}
