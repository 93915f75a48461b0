package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/codership/wsrep-lib/pkg/ids"
	"github.com/codership/wsrep-lib/pkg/wsreplog"
)

// MockProvider is a small, deterministic test double for Provider:
// Certify, BFAbort, CommitOrderEnter and Replay are scriptable via result
// functions, each defaulting to success; the other operations have fixed
// behavior.
type MockProvider struct {
	mu sync.Mutex

	// CertifyResult, when set, computes the certify outcome; it may
	// mutate meta to assign a seqno. Defaults to assigning sequential
	// seqnos and returning Success.
	CertifyResult func(clientID ids.ClientID, handle *ids.WriteSetHandle, flags ids.Flags, meta *ids.WSMeta) Status

	// BFAbortResult, when set, overrides the default Success outcome.
	BFAbortResult func(bfSeqno ids.Seqno, victim ids.TransactionID) (ids.Seqno, Status)

	CommitOrderEnterResult func(ids.WriteSetHandle, ids.WSMeta) Status
	ReplayResult           func(ids.WriteSetHandle, HighPriorityService) Status

	nextSeqno ids.Seqno
	server    ids.ServerID

	Certifications   int
	BFAborts         int
	Replays          int
	CommitOrderCalls int
	Released         int
}

// NewMockProvider creates a mock provider that assigns increasing seqnos
// under the given server id.
func NewMockProvider(server ids.ServerID) *MockProvider {
	return &MockProvider{server: server}
}

func (m *MockProvider) Connect(context.Context, string, bool) error { return nil }
func (m *MockProvider) Disconnect(context.Context) error            { return nil }

func (m *MockProvider) RunApplier(ctx context.Context, _ func(ids.WriteSetHandle, ids.WSMeta, []byte) error) error {
	<-ctx.Done()
	return ctx.Err()
}

func (m *MockProvider) StartTransaction(handle *ids.WriteSetHandle) error {
	return nil
}

func (m *MockProvider) AppendKey(ids.WriteSetHandle, []byte) error  { return nil }
func (m *MockProvider) AppendData(ids.WriteSetHandle, []byte) error { return nil }

func (m *MockProvider) Certify(clientID ids.ClientID, handle *ids.WriteSetHandle, flags ids.Flags, meta *ids.WSMeta) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Certifications++
	if m.CertifyResult != nil {
		return m.CertifyResult(clientID, handle, flags, meta)
	}
	m.nextSeqno++
	meta.GTID = ids.GTID{Server: m.server, Seqno: m.nextSeqno}
	meta.Flags = flags
	handle.Opaque = struct{}{}
	return Success
}

func (m *MockProvider) BFAbort(bfSeqno ids.Seqno, victim ids.TransactionID) (ids.Seqno, Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BFAborts++
	if m.BFAbortResult != nil {
		return m.BFAbortResult(bfSeqno, victim)
	}
	return ids.UndefinedSeqno, Success
}

func (m *MockProvider) Rollback(ids.TransactionID) Status { return Success }

func (m *MockProvider) CommitOrderEnter(handle ids.WriteSetHandle, meta ids.WSMeta) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CommitOrderCalls++
	if m.CommitOrderEnterResult != nil {
		return m.CommitOrderEnterResult(handle, meta)
	}
	return Success
}

func (m *MockProvider) CommitOrderLeave(ids.WriteSetHandle, ids.WSMeta) Status { return Success }

func (m *MockProvider) Release(ids.WriteSetHandle) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Released++
	return Success
}

func (m *MockProvider) Replay(handle ids.WriteSetHandle, hps HighPriorityService) Status {
	m.mu.Lock()
	m.Replays++
	m.mu.Unlock()
	if m.ReplayResult != nil {
		return m.ReplayResult(handle, hps)
	}
	if err := hps.StartTransaction(handle, ids.WSMeta{}); err != nil {
		return ErrorProviderFailed
	}
	hps.AfterApply()
	return Success
}

func (m *MockProvider) SSTSent(ids.GTID, error) Status     { return Success }
func (m *MockProvider) SSTReceived(ids.GTID, error) Status { return Success }

func (m *MockProvider) Status() map[string]string { return map[string]string{} }

func (m *MockProvider) Pause() (ids.Seqno, error) { return m.nextSeqno, nil }
func (m *MockProvider) Resume() error             { return nil }
func (m *MockProvider) Desync() error             { return nil }
func (m *MockProvider) Resync() error             { return nil }

// MockClientService is a minimal, scriptable ClientService test double.
type MockClientService struct {
	mu sync.Mutex

	Autocommit  bool
	TwoPC       bool
	InterruptFn func() bool

	CommitCalls          int
	RollbackCalls        int
	ReplayFn             func(ids.WriteSetHandle) Status
	ReplayCalls          int
	RemoveFragmentsCalls int

	FragmentData []byte
}

// FragmentRemovals returns how many times RemoveFragments was called.
func (c *MockClientService) FragmentRemovals() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.RemoveFragmentsCalls
}

func (c *MockClientService) Do2PC() bool        { return c.TwoPC }
func (c *MockClientService) IsAutocommit() bool { return c.Autocommit }
func (c *MockClientService) Interrupted() bool {
	if c.InterruptFn != nil {
		return c.InterruptFn()
	}
	return false
}

func (c *MockClientService) StoreGlobals() {}
func (c *MockClientService) ResetGlobals() {}

func (c *MockClientService) PrepareDataForReplication(*ids.WriteSetHandle) error { return nil }
func (c *MockClientService) CleanupTransaction()                                {}

func (c *MockClientService) StatementAllowedForStreaming() bool { return true }
func (c *MockClientService) BytesGenerated() uint64             { return 0 }
func (c *MockClientService) PrepareFragmentForReplication() ([]byte, error) {
	return c.FragmentData, nil
}
func (c *MockClientService) RemoveFragments() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.RemoveFragmentsCalls++
	return nil
}

func (c *MockClientService) Commit(ids.WriteSetHandle, ids.WSMeta) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CommitCalls++
	return nil
}

func (c *MockClientService) Rollback() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.RollbackCalls++
	return nil
}

func (c *MockClientService) EmergencyShutdown(string) {}

func (c *MockClientService) WillReplay() {}
func (c *MockClientService) Replay(handle ids.WriteSetHandle) Status {
	c.mu.Lock()
	c.ReplayCalls++
	c.mu.Unlock()
	if c.ReplayFn != nil {
		return c.ReplayFn(handle)
	}
	return Success
}
func (c *MockClientService) WaitForReplayers(context.Context) error { return nil }

func (c *MockClientService) AppendFragment(ids.TransactionID, ids.Flags, []byte) error { return nil }

func (c *MockClientService) DebugSync(string)  {}
func (c *MockClientService) DebugCrash(string) {}

// MockHighPriorityService is a minimal, scriptable HighPriorityService
// test double.
type MockHighPriorityService struct {
	mu sync.Mutex

	StartedWith      *ids.WSMeta
	Applied          [][]byte
	Committed        bool
	RolledBack       bool
	TOIApplied       [][]byte
	Replaying        bool
	DummyWriteSets   int
	FragmentsRemoved int
	ApplyTOIFails    bool
}

func (h *MockHighPriorityService) StartTransaction(handle ids.WriteSetHandle, meta ids.WSMeta) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	m := meta
	h.StartedWith = &m
	return nil
}
func (h *MockHighPriorityService) AdoptTransaction(ids.TransactionID) error { return nil }
func (h *MockHighPriorityService) ApplyWriteSet(meta ids.WSMeta, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Applied = append(h.Applied, data)
	return nil
}
func (h *MockHighPriorityService) AppendFragment(ids.WSMeta, []byte) error { return nil }
func (h *MockHighPriorityService) Commit(ids.WriteSetHandle, ids.WSMeta) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Committed = true
	return nil
}
func (h *MockHighPriorityService) Rollback() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.RolledBack = true
	return nil
}
func (h *MockHighPriorityService) ApplyTOI(meta ids.WSMeta, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ApplyTOIFails {
		return fmt.Errorf("mock: apply_toi failed")
	}
	h.TOIApplied = append(h.TOIApplied, data)
	return nil
}
func (h *MockHighPriorityService) AfterApply() {}

func (h *MockHighPriorityService) RemoveFragments(ids.WSMeta) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.FragmentsRemoved++
	return nil
}

func (h *MockHighPriorityService) StoreGlobals() {}
func (h *MockHighPriorityService) ResetGlobals() {}
func (h *MockHighPriorityService) SwitchExecutionContext(HighPriorityService) error { return nil }

func (h *MockHighPriorityService) LogDummyWriteSet(ids.WSMeta, []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.DummyWriteSets++
}

func (h *MockHighPriorityService) IsReplaying() bool { return h.Replaying }
func (h *MockHighPriorityService) MustExit() bool    { return false }

// MockStorageService is a minimal, scriptable StorageService test double.
type MockStorageService struct {
	mu sync.Mutex

	Fragments        [][]byte
	Committed        bool
	RolledBackCalled bool
}

func (s *MockStorageService) StartTransaction(*ids.WriteSetHandle) error { return nil }
func (s *MockStorageService) AppendFragment(ids.ServerID, ids.TransactionID, ids.Flags, []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Fragments = append(s.Fragments, nil)
	return nil
}
func (s *MockStorageService) UpdateFragmentMeta(ids.WSMeta) error { return nil }
func (s *MockStorageService) Commit(ids.WriteSetHandle, ids.WSMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Committed = true
	return nil
}
func (s *MockStorageService) Rollback(ids.WriteSetHandle, ids.WSMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RolledBackCalled = true
	return nil
}
func (s *MockStorageService) StoreGlobals() {}
func (s *MockStorageService) ResetGlobals() {}

// MockServerService is a minimal, scriptable ServerService test double.
type MockServerService struct {
	mu sync.Mutex

	SSTBeforeInitFlag bool
	SSTRequestString  string
	Storage           *MockStorageService

	Views        []ids.View
	StateChanges [][2]string
	BootstrapFn  func() error
	StartedSSTs  int
}

func (s *MockServerService) StorageService() (StorageService, error) {
	if s.Storage == nil {
		s.Storage = &MockStorageService{}
	}
	return s.Storage, nil
}
func (s *MockServerService) ReleaseStorageService(StorageService) {}

func (s *MockServerService) StreamingApplierServiceFromClient(ids.ServerID) (HighPriorityService, error) {
	return &MockHighPriorityService{}, nil
}
func (s *MockServerService) StreamingApplierServiceFromHighPriority(ids.ServerID, HighPriorityService) (HighPriorityService, error) {
	return &MockHighPriorityService{}, nil
}
func (s *MockServerService) ReleaseHighPriorityService(HighPriorityService) {}

func (s *MockServerService) BackgroundRollback(ids.ClientID) {}

func (s *MockServerService) Bootstrap() error {
	if s.BootstrapFn != nil {
		return s.BootstrapFn()
	}
	return nil
}

func (s *MockServerService) LogMessage(wsreplog.Level, string) {}
func (s *MockServerService) LogDummyWriteSet(ids.WSMeta, []byte) {}
func (s *MockServerService) LogView(view ids.View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Views = append(s.Views, view)
}
func (s *MockServerService) LogStateChange(prev, cur string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StateChanges = append(s.StateChanges, [2]string{prev, cur})
}

func (s *MockServerService) SSTBeforeInit() bool { return s.SSTBeforeInitFlag }
func (s *MockServerService) SSTRequest() (string, error) {
	return s.SSTRequestString, nil
}
func (s *MockServerService) StartSST(string, ids.GTID, bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StartedSSTs++
	return nil
}

func (s *MockServerService) WaitCommittingTransactions(context.Context) error { return nil }

func (s *MockServerService) DebugSync(string) {}
