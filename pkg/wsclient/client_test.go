package wsclient

import (
	"context"
	"testing"

	"github.com/codership/wsrep-lib/pkg/ids"
	"github.com/codership/wsrep-lib/pkg/provider"
	"github.com/codership/wsrep-lib/pkg/txn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopSpawner struct {
	storage             provider.MockStorageService
	backgroundRollbacks int
}

func (*nopSpawner) StartStreamingApplier(ids.ServerID, ids.TransactionID) (provider.HighPriorityService, error) {
	return &provider.MockHighPriorityService{}, nil
}
func (*nopSpawner) StopStreamingApplier(ids.ServerID, ids.TransactionID) {}

func (s *nopSpawner) StorageService() (provider.StorageService, error) { return &s.storage, nil }
func (*nopSpawner) ReleaseStorageService(provider.StorageService)      {}

func (s *nopSpawner) BackgroundRollback(ids.ClientID) { s.backgroundRollbacks++ }

func newTestClient(t *testing.T) (*Client, *provider.MockProvider, *provider.MockClientService) {
	t.Helper()
	server, err := ids.NewServerIDFromBytes([]byte("srv"))
	require.NoError(t, err)
	p := provider.NewMockProvider(server)
	cs := &provider.MockClientService{}
	c := New(ids.ClientID(1), ModeReplicating, p, cs, &nopSpawner{}, server, false)
	return c, p, cs
}

func TestClientLifecycleHappyPath(t *testing.T) {
	c, p, cs := newTestClient(t)

	require.NoError(t, c.BeforeCommand())
	assert.Equal(t, Exec, c.State())

	require.NoError(t, c.StartTransaction(ids.TransactionID(1)))
	require.NoError(t, c.AppendKey([]byte("k")))
	require.NoError(t, c.Commit(context.Background()))
	assert.Equal(t, txn.Committed, c.Transaction().State())

	c.AfterCommandBeforeResult()
	assert.Nil(t, c.CurrentError())

	c.AfterCommandAfterResult()
	assert.Equal(t, Idle, c.State())
	assert.Equal(t, 1, cs.CommitCalls)
	assert.Equal(t, 1, p.Released)
}

func TestClientBeforeCommandReportsBFAbort(t *testing.T) {
	c, p, _ := newTestClient(t)
	require.NoError(t, c.BeforeCommand())
	require.NoError(t, c.StartTransaction(ids.TransactionID(2)))

	aborted, err := c.BFAbort(ids.Seqno(10))
	require.NoError(t, err)
	assert.True(t, aborted)

	c.AfterCommandAfterResult()
	err = c.BeforeCommand()
	assert.ErrorIs(t, err, ErrAborted)

	c.AfterCommandBeforeResult()
	assert.ErrorIs(t, c.CurrentError(), txn.ErrDeadlock)

	c.AfterCommandAfterResult()
	assert.Nil(t, c.CurrentError())
	assert.Equal(t, 1, p.BFAborts)
}

func TestClientCommitAfterBFAbortReportsDeadlock(t *testing.T) {
	c, _, _ := newTestClient(t)
	require.NoError(t, c.BeforeCommand())
	require.NoError(t, c.StartTransaction(ids.TransactionID(4)))

	aborted, err := c.BFAbort(ids.Seqno(10))
	require.NoError(t, err)
	require.True(t, aborted)

	err = c.Commit(context.Background())
	assert.ErrorIs(t, err, txn.ErrDeadlock)
	assert.ErrorIs(t, c.BeforeStatement(), ErrAborted)

	result, err := c.AfterStatement()
	require.NoError(t, err)
	assert.Equal(t, txn.AsrError, result)
	assert.Equal(t, txn.Aborted, c.Transaction().State())
	assert.ErrorIs(t, c.CurrentError(), txn.ErrDeadlock)
}

func TestClientTwoPhaseCommit(t *testing.T) {
	server, err := ids.NewServerIDFromBytes([]byte("srv"))
	require.NoError(t, err)
	p := provider.NewMockProvider(server)
	cs := &provider.MockClientService{TwoPC: true}
	c := New(ids.ClientID(1), ModeReplicating, p, cs, &nopSpawner{}, server, false)

	require.NoError(t, c.BeforeCommand())
	require.NoError(t, c.StartTransaction(ids.TransactionID(5)))
	require.NoError(t, c.AppendData([]byte("v")))

	require.NoError(t, c.BeforePrepare())
	require.NoError(t, c.AfterPrepare(context.Background()))
	assert.Equal(t, txn.Committing, c.Transaction().State())

	require.NoError(t, c.Commit(context.Background()))
	assert.Equal(t, txn.Committed, c.Transaction().State())
	assert.Equal(t, 1, cs.CommitCalls)
	assert.Equal(t, 1, p.Certifications)
}

func TestClientScopedModeGuards(t *testing.T) {
	c, _, _ := newTestClient(t)
	require.Equal(t, ModeReplicating, c.Mode())

	restore := c.EnterHighPriorityContext()
	assert.Equal(t, ModeHighPriority, c.Mode())
	restore()
	assert.Equal(t, ModeReplicating, c.Mode())

	restore = c.EnterTOIMode()
	assert.Equal(t, ModeTOI, c.Mode())
	restore()
	assert.Equal(t, ModeReplicating, c.Mode())
}

func TestClientQuitRollsBackActiveTransaction(t *testing.T) {
	c, _, cs := newTestClient(t)
	require.NoError(t, c.BeforeCommand())
	require.NoError(t, c.StartTransaction(ids.TransactionID(6)))
	c.AfterCommandAfterResult()

	require.NoError(t, c.Quit())
	assert.Equal(t, Quitting, c.State())
	assert.False(t, c.Transaction().IsActive())
	assert.Equal(t, 1, cs.RollbackCalls)
}

func TestClientBFAbortSyncDisciplineRollsBackIdleVictimImmediately(t *testing.T) {
	server, err := ids.NewServerIDFromBytes([]byte("srv"))
	require.NoError(t, err)
	p := provider.NewMockProvider(server)
	cs := &provider.MockClientService{}
	collab := &nopSpawner{}
	c := New(ids.ClientID(1), ModeReplicating, p, cs, collab, server, true)

	require.NoError(t, c.BeforeCommand())
	require.NoError(t, c.StartTransaction(ids.TransactionID(3)))
	c.AfterCommandAfterResult()
	require.Equal(t, Idle, c.State())

	aborted, err := c.BFAbort(ids.Seqno(10))
	require.NoError(t, err)
	assert.True(t, aborted)

	assert.Equal(t, 1, collab.backgroundRollbacks)
	assert.Equal(t, 1, cs.RollbackCalls)
	assert.False(t, c.Transaction().IsActive())
	assert.Equal(t, txn.Aborted, c.Transaction().State())
	assert.ErrorIs(t, c.CurrentError(), txn.ErrDeadlock)
}
