package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/codership/wsrep-lib/pkg/ids"
	"github.com/codership/wsrep-lib/pkg/metrics"
	"github.com/codership/wsrep-lib/pkg/provider"
	"github.com/codership/wsrep-lib/pkg/wsreplog"
)

// Every state but disconnected itself has a direct edge to disconnected:
// a final or leaving view forces a node out of the cluster regardless of
// what it was doing at the time.
var transitions = map[State][]State{
	Disconnected:  {Initializing, Connected},
	Initializing:  {Initialized, Disconnected},
	Initialized:   {Connected, Joined, Disconnected},
	Connected:     {Joiner, Synced, Disconnected},
	Joiner:        {Initializing, Joined, Disconnected},
	Joined:        {Connected, Synced, Disconnecting, Disconnected},
	Donor:         {Joined, Disconnecting, Disconnected},
	Synced:        {Connected, Joined, Donor, Disconnecting, Disconnected},
	Disconnecting: {Disconnected},
}

func canTransition(from, to State) bool {
	if from == to {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// States lists every server state in declaration order.
func States() []State {
	return []State{Disconnected, Initializing, Initialized, Connected, Joiner,
		Joined, Donor, Synced, Disconnecting}
}

// Transitions returns the allowed outgoing edges for a state, not
// counting the implicit from==to no-op edge every state accepts.
func Transitions(from State) []State {
	edges := transitions[from]
	out := make([]State, len(edges))
	copy(out, edges)
	return out
}

type streamingKey struct {
	origin ids.ServerID
	trx    ids.TransactionID
}

// Server is the replication state shared by every client on one node.
type Server struct {
	mu   sync.Mutex
	cond *sync.Cond

	id                 ids.ServerID
	name               string
	address            string
	workingDir         string
	maxProtocolVersion int
	rollbackMode       RollbackMode

	provider provider.Provider
	service  provider.ServerService

	state   State
	history []State

	// waiters counts, per target state, how many goroutines are blocked
	// in WaitUntilState waiting for it; a notifier can use it to confirm
	// every waiter for a state has woken before tearing down resources
	// that state's arrival was gating.
	waiters [nStates]int

	sstBeforeInit bool
	sstGTID       ids.GTID

	// bootstrap is set by Connect when this node is starting a brand new
	// cluster (explicit bootstrap flag or a "gcomm://" address) and is
	// consumed exactly once, by the first primary view OnView delivers.
	bootstrap bool

	desyncCount     int
	pauseCount      int
	pauseSeqno      ids.Seqno
	desyncedOnPause bool

	streamingAppliers map[streamingKey]provider.HighPriorityService

	connectedGTID     ids.GTID
	currentView       ids.View
	lastCommittedGTID ids.GTID

	debugLogLevel int
	log           wsreplog.Sink
}

// New constructs a disconnected server bound to the given provider and
// server-service collaborator.
func New(id ids.ServerID, name, address, workingDir string, maxProtocolVersion int, rollbackMode RollbackMode, p provider.Provider, svc provider.ServerService) *Server {
	s := &Server{
		id:                 id,
		name:               name,
		address:            address,
		workingDir:         workingDir,
		maxProtocolVersion: maxProtocolVersion,
		rollbackMode:       rollbackMode,
		provider:           p,
		service:            svc,
		state:              Disconnected,
		streamingAppliers:  make(map[streamingKey]provider.HighPriorityService),
		log:                wsreplog.DefaultSink(),
	}
	s.cond = sync.NewCond(&s.mu)
	s.sstBeforeInit = svc.SSTBeforeInit()
	return s
}

func (s *Server) ID() ids.ServerID           { return s.id }
func (s *Server) Name() string               { return s.name }
func (s *Server) Address() string            { return s.address }
func (s *Server) WorkingDir() string         { return s.workingDir }
func (s *Server) MaxProtocolVersion() int    { return s.maxProtocolVersion }
func (s *Server) RollbackMode() RollbackMode { return s.rollbackMode }

// State returns the current server state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CurrentView returns the last view delivered by on_view.
func (s *Server) CurrentView() ids.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentView
}

// ConnectedGTID returns the GTID the server connected to the cluster at.
func (s *Server) ConnectedGTID() ids.GTID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectedGTID
}

func (s *Server) setState(to State) error {
	if !canTransition(s.state, to) {
		return fmt.Errorf("server: illegal state transition %s -> %s", s.state, to)
	}
	if s.state != to {
		s.history = append(s.history, s.state)
		s.service.LogStateChange(s.state.String(), to.String())
	}
	s.state = to
	metrics.ServerState.Set(float64(to))
	s.cond.Broadcast()
	return nil
}

// WaitUntilState blocks until the server reaches the given state or ctx
// is cancelled. It registers itself in the per-target-state waiter count
// before waiting and removes itself, broadcasting, once it stops waiting
// for any reason, so a caller driving the server toward want can use
// WaiterCount to confirm every goroutine waiting on that state has
// actually observed it before proceeding (e.g. before tearing down state
// the transition depended on).
func (s *Server) WaitUntilState(ctx context.Context, want State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	done := make(chan struct{})
	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				s.cond.Broadcast()
			case <-done:
			}
		}()
		defer close(done)
	}
	s.waiters[want]++
	defer func() {
		s.waiters[want]--
		s.cond.Broadcast()
	}()
	for s.state != want {
		if ctx != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		s.cond.Wait()
	}
	return nil
}

// WaiterCount reports how many goroutines are currently blocked in
// WaitUntilState waiting for the given state.
func (s *Server) WaiterCount(want State) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiters[want]
}

// Connect transitions disconnected -> initializing (SST after init) or
// disconnected -> connected (SST before init), and asks the provider to
// join the cluster.
func (s *Server) Connect(ctx context.Context, clusterAddr string, bootstrap bool) error {
	s.mu.Lock()
	s.bootstrap = bootstrap || clusterAddr == "gcomm://"
	next := Initializing
	if s.sstBeforeInit {
		next = Connected
	}
	if err := s.setState(next); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()
	return s.provider.Connect(ctx, clusterAddr, bootstrap)
}

// Disconnect tells the provider to leave the cluster and transitions to
// disconnecting then disconnected.
func (s *Server) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	if err := s.setState(Disconnecting); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()
	if err := s.provider.Disconnect(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setState(Disconnected)
}

// OnConnect records the GTID the server connected at and, under the
// init-before-SST ordering, transitions initializing -> initialized is
// assumed to have already happened by the time this fires; here the
// server simply moves toward connected.
func (s *Server) OnConnect(gtid ids.GTID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectedGTID = gtid
	if s.state == Initialized {
		_ = s.setState(Connected)
	}
}

// Initialized must be called once DBMS-side initialization has
// completed; it moves initializing -> initialized.
func (s *Server) Initialized() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setState(Initialized)
}

// OnView applies a new view delivered by the provider. A primary view
// moves connected -> joiner when this node is not yet a full member and,
// the first time only, asks the DBMS to bootstrap a brand new cluster. A
// non-primary view that is also final means this node has permanently
// left the cluster; a non-primary, non-final view is the ordinary
// "cluster is partitioned, waiting to reform" case. Any other view
// status forces the node out regardless of its current state.
func (s *Server) OnView(view ids.View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentView = view
	s.service.LogView(view)

	switch view.Status {
	case ids.ViewPrimary:
		if s.state == Connected {
			_ = s.setState(Joiner)
		}
		if s.bootstrap {
			if err := s.service.Bootstrap(); err != nil {
				s.service.LogMessage(wsreplog.ErrorLevel, "bootstrap failed: "+err.Error())
			}
			s.bootstrap = false
		}
	case ids.ViewNonPrimary:
		if view.Final() {
			_ = s.setState(Disconnected)
			s.connectedGTID = ids.UndefinedGTID
		} else if s.state != Disconnecting {
			_ = s.setState(Connected)
		}
	default:
		_ = s.setState(Disconnected)
		s.connectedGTID = ids.UndefinedGTID
	}
}

// OnSync marks the server as caught up with the cluster.
func (s *Server) OnSync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setState(Synced)
}

// PrepareForSST asks the DBMS for an SST request string and transitions
// connected -> joiner while the transfer is pending.
func (s *Server) PrepareForSST() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Connected {
		if err := s.setState(Joiner); err != nil {
			return "", err
		}
	}
	return s.service.SSTRequest()
}

// StartSST asks the DBMS to begin donating a state snapshot transfer.
func (s *Server) StartSST(req string, gtid ids.GTID, bypass bool) error {
	s.mu.Lock()
	if err := s.setState(Donor); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()
	return s.service.StartSST(req, gtid, bypass)
}

// SSTSent notifies the provider an SST donation finished.
func (s *Server) SSTSent(gtid ids.GTID, err error) error {
	status := s.provider.SSTSent(gtid, err)
	if status != provider.Success {
		return fmt.Errorf("server: sst_sent failed: %s", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setState(Joined)
}

// SSTTransferred must be called on the joiner once the transfer has
// landed but before DBMS-side initialization, under the SST-before-init
// ordering.
func (s *Server) SSTTransferred(gtid ids.GTID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sstGTID = gtid
	if s.sstBeforeInit {
		_ = s.setState(Initializing)
	}
}

// SSTReceived must be called once DBMS-side initialization is complete
// and the provider may resume applying write sets.
func (s *Server) SSTReceived(gtid ids.GTID, err error) error {
	status := s.provider.SSTReceived(gtid, err)
	if status != provider.Success {
		return fmt.Errorf("server: sst_received failed: %s", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setState(Joined)
}

// Desync asks the provider to desynchronize this node from the cluster.
// Calls nest: only the outermost Desync actually calls the provider.
func (s *Server) Desync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.desyncCount == 0 {
		if err := s.provider.Desync(); err != nil {
			return err
		}
	}
	s.desyncCount++
	return nil
}

// Resync reverses one Desync call, resynchronizing with the provider
// once the nesting count reaches zero.
func (s *Server) Resync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.desyncCount == 0 {
		return fmt.Errorf("server: resync called without matching desync")
	}
	s.desyncCount--
	if s.desyncCount == 0 {
		return s.provider.Resync()
	}
	return nil
}

// Pause stops the provider from applying or ordering further write sets
// and returns the seqno the cluster paused at. Desyncs first if not
// already desynced, remembering to resync on Resume only if it did so.
func (s *Server) Pause() (ids.Seqno, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pauseCount == 0 {
		if s.desyncCount == 0 {
			if err := s.provider.Desync(); err != nil {
				return ids.UndefinedSeqno, err
			}
			s.desyncedOnPause = true
		}
		seqno, err := s.provider.Pause()
		if err != nil {
			return ids.UndefinedSeqno, err
		}
		s.pauseSeqno = seqno
		metrics.PauseSeqno.Set(float64(seqno))
	}
	s.pauseCount++
	return s.pauseSeqno, nil
}

// Resume reverses one Pause call.
func (s *Server) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pauseCount == 0 {
		return fmt.Errorf("server: resume called without matching pause")
	}
	s.pauseCount--
	if s.pauseCount == 0 {
		metrics.PauseSeqno.Set(-1)
		if err := s.provider.Resume(); err != nil {
			return err
		}
		if s.desyncedOnPause {
			s.desyncedOnPause = false
			return s.provider.Resync()
		}
	}
	return nil
}

// DesyncAndPause combines Desync and Pause into a single call, safe to
// invoke from any thread: the node leaves the cluster's flow control and
// then halts applying, in one step, returning the seqno it paused at.
// Counts against both the desync and pause nesting independently, so a
// matching ResumeAndResync (or the equivalent pair of Resume/Resync
// calls) reverses exactly what this call did.
func (s *Server) DesyncAndPause() (ids.Seqno, error) {
	if err := s.Desync(); err != nil {
		return ids.UndefinedSeqno, err
	}
	seqno, err := s.Pause()
	if err != nil {
		_ = s.Resync()
		return ids.UndefinedSeqno, err
	}
	return seqno, nil
}

// ResumeAndResync reverses one DesyncAndPause call.
func (s *Server) ResumeAndResync() error {
	if err := s.Resume(); err != nil {
		return err
	}
	return s.Resync()
}

// StorageService obtains a fragment storage handle from the underlying
// server service, for streaming-replication fragment certification.
// Implements txn.Collaborator.
func (s *Server) StorageService() (provider.StorageService, error) {
	return s.service.StorageService()
}

// ReleaseStorageService releases a fragment storage handle obtained from
// StorageService.
func (s *Server) ReleaseStorageService(storage provider.StorageService) {
	s.service.ReleaseStorageService(storage)
}

// BackgroundRollback hands an idle, synchronously-aborted transaction off
// to the DBMS's background rollback path. Implements txn.Collaborator.
func (s *Server) BackgroundRollback(clientID ids.ClientID) {
	s.service.BackgroundRollback(clientID)
}

// StartStreamingApplier creates and registers a high-priority service for
// a new streaming applier adopting the given origin/transaction pair.
// Implements txn.Collaborator.
func (s *Server) StartStreamingApplier(origin ids.ServerID, trx ids.TransactionID) (provider.HighPriorityService, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := streamingKey{origin: origin, trx: trx}
	if _, exists := s.streamingAppliers[key]; exists {
		return nil, fmt.Errorf("server: streaming applier for %s/%d already registered", origin, trx)
	}
	hps, err := s.service.StreamingApplierServiceFromClient(origin)
	if err != nil {
		return nil, err
	}
	s.streamingAppliers[key] = hps
	metrics.StreamingAppliersActive.Set(float64(len(s.streamingAppliers)))
	return hps, nil
}

// StopStreamingApplier releases and unregisters the streaming applier for
// the given origin/transaction pair, if any. A missing entry is logged as
// a warning.
func (s *Server) StopStreamingApplier(origin ids.ServerID, trx ids.TransactionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := streamingKey{origin: origin, trx: trx}
	if hps, ok := s.streamingAppliers[key]; ok {
		s.service.ReleaseHighPriorityService(hps)
		delete(s.streamingAppliers, key)
		metrics.StreamingAppliersActive.Set(float64(len(s.streamingAppliers)))
	} else {
		s.log.Logf(wsreplog.WarnLevel, "server: no streaming applier registered for %s/%d", origin, trx)
	}
}

// FindStreamingApplier returns the high-priority service registered for
// the given origin/transaction pair, if any.
func (s *Server) FindStreamingApplier(origin ids.ServerID, trx ids.TransactionID) (provider.HighPriorityService, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hps, ok := s.streamingAppliers[streamingKey{origin: origin, trx: trx}]
	return hps, ok
}

// StreamingApplierCount reports how many streaming appliers are active,
// for metrics.
func (s *Server) StreamingApplierCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streamingAppliers)
}

// LastCommittedGTID returns the highest GTID known to have committed.
func (s *Server) LastCommittedGTID() ids.GTID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCommittedGTID
}

// SetLastCommittedGTID records the highest GTID known to have committed
// and wakes any WaitForGTID callers.
func (s *Server) SetLastCommittedGTID(gtid ids.GTID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCommittedGTID = gtid
	s.cond.Broadcast()
}

// WaitForGTID blocks until the last committed GTID has reached the given
// position or ctx expires. A ctx deadline is the only timeout mechanism;
// there is no generic cancellation elsewhere in the commit path.
func (s *Server) WaitForGTID(ctx context.Context, gtid ids.GTID) error {
	if gtid.IsUndefined() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	done := make(chan struct{})
	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				s.cond.Broadcast()
			case <-done:
			}
		}()
		defer close(done)
	}
	for s.lastCommittedGTID.IsUndefined() || s.lastCommittedGTID.Seqno.Less(gtid.Seqno) {
		if ctx != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		s.cond.Wait()
	}
	return nil
}

// CausalRead waits until every write set ordered before the call has been
// committed locally, then returns the GTID the read is causally after.
// Used by the DBMS to give one connection read-your-writes semantics
// across the cluster.
func (s *Server) CausalRead(ctx context.Context) (ids.GTID, error) {
	if err := s.service.WaitCommittingTransactions(ctx); err != nil {
		return ids.UndefinedGTID, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCommittedGTID, nil
}

// DebugLogLevel returns the server-wide debug logging verbosity.
func (s *Server) DebugLogLevel() int { return s.debugLogLevel }

// SetDebugLogLevel sets the server-wide debug logging verbosity.
func (s *Server) SetDebugLogLevel(level int) { s.debugLogLevel = level }
