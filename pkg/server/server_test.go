package server

import (
	"context"
	"testing"

	"github.com/codership/wsrep-lib/pkg/ids"
	"github.com/codership/wsrep-lib/pkg/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, sstBeforeInit bool) (*Server, *provider.MockProvider, *provider.MockServerService) {
	t.Helper()
	id, err := ids.NewServerIDFromBytes([]byte("node-a"))
	require.NoError(t, err)
	p := provider.NewMockProvider(id)
	svc := &provider.MockServerService{SSTBeforeInitFlag: sstBeforeInit}
	s := New(id, "node-a", "127.0.0.1:4567", t.TempDir(), 4, RollbackSync, p, svc)
	return s, p, svc
}

func TestServerBootstrapOrderingInitBeforeSST(t *testing.T) {
	s, _, _ := newTestServer(t, false)
	require.NoError(t, s.Connect(context.Background(), "gcomm://", true))
	assert.Equal(t, Initializing, s.State())
	require.NoError(t, s.Initialized())
	assert.Equal(t, Initialized, s.State())
	s.OnConnect(ids.GTID{})
	assert.Equal(t, Connected, s.State())
}

func TestServerBootstrapOrderingSSTBeforeInit(t *testing.T) {
	s, _, _ := newTestServer(t, true)
	require.NoError(t, s.Connect(context.Background(), "gcomm://", true))
	assert.Equal(t, Connected, s.State())

	req, err := s.PrepareForSST()
	require.NoError(t, err)
	_ = req
	assert.Equal(t, Joiner, s.State())

	s.SSTTransferred(ids.GTID{})
	assert.Equal(t, Initializing, s.State())

	require.NoError(t, s.Initialized())
	assert.Equal(t, Initialized, s.State())
}

func TestServerOnViewMovesConnectedToJoiner(t *testing.T) {
	s, _, svc := newTestServer(t, false)
	require.NoError(t, s.Connect(context.Background(), "gcomm://", true))
	require.NoError(t, s.Initialized())
	s.OnConnect(ids.GTID{})
	require.Equal(t, Connected, s.State())

	s.OnView(ids.View{Status: ids.ViewPrimary})
	assert.Equal(t, Joiner, s.State())
	assert.Len(t, svc.Views, 1)
}

func TestServerPauseResumeNesting(t *testing.T) {
	s, p, _ := newTestServer(t, false)

	seqno1, err := s.Pause()
	require.NoError(t, err)
	seqno2, err := s.Pause()
	require.NoError(t, err)
	assert.Equal(t, seqno1, seqno2)

	require.NoError(t, s.Resume())
	require.NoError(t, s.Resume())

	err = s.Resume()
	assert.Error(t, err)
	_ = p
}

func TestServerDesyncResyncNesting(t *testing.T) {
	s, _, _ := newTestServer(t, false)
	require.NoError(t, s.Desync())
	require.NoError(t, s.Desync())
	require.NoError(t, s.Resync())
	require.NoError(t, s.Resync())
	assert.Error(t, s.Resync())
}

func TestServerStreamingApplierRegistry(t *testing.T) {
	s, _, _ := newTestServer(t, false)
	origin, err := ids.NewServerIDFromBytes([]byte("origin"))
	require.NoError(t, err)
	trx := ids.TransactionID(7)

	hps, err := s.StartStreamingApplier(origin, trx)
	require.NoError(t, err)
	assert.NotNil(t, hps)
	assert.Equal(t, 1, s.StreamingApplierCount())

	_, ok := s.FindStreamingApplier(origin, trx)
	assert.True(t, ok)

	s.StopStreamingApplier(origin, trx)
	assert.Equal(t, 0, s.StreamingApplierCount())
	_, ok = s.FindStreamingApplier(origin, trx)
	assert.False(t, ok)
}

func TestServerWaitUntilStateReturnsOnceReached(t *testing.T) {
	s, _, _ := newTestServer(t, false)
	done := make(chan error, 1)
	go func() {
		done <- s.WaitUntilState(context.Background(), Connected)
	}()

	require.NoError(t, s.Connect(context.Background(), "gcomm://", true))
	require.NoError(t, s.Initialized())
	s.OnConnect(ids.GTID{})

	select {
	case err := <-done:
		assert.NoError(t, err)
	}
}

func TestServerWaitForGTIDReturnsOnceCommitted(t *testing.T) {
	s, _, _ := newTestServer(t, false)
	id, err := ids.NewServerIDFromBytes([]byte("node-a"))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- s.WaitForGTID(context.Background(), ids.GTID{Server: id, Seqno: 3})
	}()

	s.SetLastCommittedGTID(ids.GTID{Server: id, Seqno: 2})
	s.SetLastCommittedGTID(ids.GTID{Server: id, Seqno: 3})
	assert.NoError(t, <-done)
}

func TestServerWaitForGTIDHonorsContext(t *testing.T) {
	s, _, _ := newTestServer(t, false)
	id, err := ids.NewServerIDFromBytes([]byte("node-a"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = s.WaitForGTID(ctx, ids.GTID{Server: id, Seqno: 100})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestServerCausalReadReturnsLastCommitted(t *testing.T) {
	s, _, _ := newTestServer(t, false)
	id, err := ids.NewServerIDFromBytes([]byte("node-a"))
	require.NoError(t, err)
	s.SetLastCommittedGTID(ids.GTID{Server: id, Seqno: 9})

	gtid, err := s.CausalRead(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ids.Seqno(9), gtid.Seqno)
}

func TestStatesListsEveryConstantOnce(t *testing.T) {
	states := States()
	assert.Len(t, states, 9)
	seen := map[State]bool{}
	for _, s := range states {
		assert.False(t, seen[s], "duplicate state %s", s)
		seen[s] = true
	}
}

func TestTransitionMatrixMatchesDocumented(t *testing.T) {
	want := map[State][]State{
		Disconnected:  {Initializing, Connected},
		Initializing:  {Disconnected, Initialized},
		Initialized:   {Disconnected, Connected, Joined},
		Connected:     {Disconnected, Joiner, Synced},
		Joiner:        {Disconnected, Initializing, Joined},
		Joined:        {Disconnected, Connected, Synced, Disconnecting},
		Donor:         {Disconnected, Joined, Disconnecting},
		Synced:        {Disconnected, Connected, Joined, Donor, Disconnecting},
		Disconnecting: {Disconnected},
	}
	for from, edges := range want {
		assert.ElementsMatch(t, edges, Transitions(from), "edges out of %s", from)
	}
}

func TestSyncedServerReturnsToConnectedOnNonPrimaryView(t *testing.T) {
	s, _, _ := newTestServer(t, false)
	require.NoError(t, s.Connect(context.Background(), "gcomm://", true))
	require.NoError(t, s.Initialized())
	s.OnConnect(ids.GTID{})
	s.OnView(ids.View{Status: ids.ViewPrimary, OwnIndex: 0, Members: []ids.ViewMember{{Name: "node-a"}}})
	require.NoError(t, s.SSTReceived(ids.GTID{}, nil))
	require.NoError(t, s.OnSync())
	require.Equal(t, Synced, s.State())

	// A partition that may still reform parks the node in connected.
	s.OnView(ids.View{Status: ids.ViewNonPrimary, OwnIndex: 0, Members: []ids.ViewMember{{Name: "node-a"}}})
	assert.Equal(t, Connected, s.State())
}

func TestTransitionsMatchesCanTransition(t *testing.T) {
	for _, from := range States() {
		edges := Transitions(from)
		for _, to := range States() {
			if from == to {
				continue
			}
			want := canTransition(from, to)
			got := false
			for _, e := range edges {
				if e == to {
					got = true
				}
			}
			assert.Equal(t, want, got, "canTransition(%s, %s) disagrees with Transitions(%s)", from, to, from)
		}
	}
}
