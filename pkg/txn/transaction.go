package txn

import (
	"context"
	"fmt"

	"github.com/codership/wsrep-lib/pkg/ids"
	"github.com/codership/wsrep-lib/pkg/metrics"
	"github.com/codership/wsrep-lib/pkg/provider"
	"github.com/codership/wsrep-lib/pkg/streaming"
)

// AfterStatementResult is the outcome after_statement reports to the
// client state machine.
type AfterStatementResult int

const (
	AsrSuccess AfterStatementResult = iota
	AsrError
	AsrMayRetry
)

// Collaborator is the narrow capability the transaction state machine
// needs from the server component: spawning/stopping a high-priority
// applier under the local server to adopt a streaming rollback,
// acquiring the fragment storage handle streaming-replication
// certification persists fragments to, and handing an idle BF-abort
// victim off to the server service's background rollback path.
// Implemented by *server.Server.
type Collaborator interface {
	StartStreamingApplier(origin ids.ServerID, trx ids.TransactionID) (provider.HighPriorityService, error)
	StopStreamingApplier(origin ids.ServerID, trx ids.TransactionID)

	StorageService() (provider.StorageService, error)
	ReleaseStorageService(provider.StorageService)

	BackgroundRollback(clientID ids.ClientID)
}

// Transaction is one active (or cleaned-up, inactive) transaction, owned
// exclusively by one client. The zero value, after New(), is inactive:
// IsActive() is false until StartTransaction is called.
type Transaction struct {
	id    ids.TransactionID
	state State
	// history records every state this transaction has passed through,
	// retained across Cleanup for diagnostics.
	history []State

	bfAbortState *State

	handle ids.WriteSetHandle
	meta   ids.WSMeta
	flags  ids.Flags

	paUnsafe  bool
	certified bool

	// currentError is transient, internal bookkeeping cleared by the
	// next StartTransaction; the authoritative client-visible error lives on the
	// owning client and is read out via LastError after each operation.
	currentError error

	streaming *streaming.Context

	commitOrderTimer *metrics.Timer

	// DebugSync, when set, is called at named crash/sync-injection
	// points; nil by default.
	DebugSync func(point string)
}

// New returns a freshly constructed, inactive transaction.
func New() *Transaction {
	return &Transaction{
		id:        ids.InvalidTransactionID,
		streaming: streaming.New(),
	}
}

// ID returns the transaction id (InvalidTransactionID if inactive).
func (t *Transaction) ID() ids.TransactionID { return t.id }

// IsActive reports whether the transaction currently has a valid id.
func (t *Transaction) IsActive() bool { return !t.id.IsInvalid() }

// State returns the current state.
func (t *Transaction) State() State { return t.state }

// History returns the sequence of states visited, oldest first.
func (t *Transaction) History() []State {
	out := make([]State, len(t.history))
	copy(out, t.history)
	return out
}

// Certified reports whether the provider has certified this write set.
func (t *Transaction) Certified() bool { return t.certified }

// Handle returns the write-set handle.
func (t *Transaction) Handle() ids.WriteSetHandle { return t.handle }

// Meta returns the write-set metadata.
func (t *Transaction) Meta() ids.WSMeta { return t.meta }

// Flags returns the write-set flags accumulated so far.
func (t *Transaction) Flags() ids.Flags { return t.flags }

// Streaming returns the transaction's streaming fragment context.
func (t *Transaction) Streaming() *streaming.Context { return t.streaming }

// LastError returns the transient error recorded by the last operation;
// it survives cleanup and is cleared by the next StartTransaction. The client is expected to copy it into its
// own authoritative current_error immediately after each call.
func (t *Transaction) LastError() error { return t.currentError }

// PAUnsafe reports whether this transaction was marked parallel-apply
// unsafe. The dispatcher does not read the flag and it has no ordering
// effect in this implementation (recorded as an open-question decision
// in DESIGN.md).
func (t *Transaction) PAUnsafe() bool { return t.paUnsafe }

func (t *Transaction) transition(to State) error {
	if !canTransition(t.state, to) {
		return fatalTransition(t.state, to)
	}
	t.history = append(t.history, t.state)
	t.state = to
	return nil
}

// StartTransaction begins a new transaction with the given id.
func (t *Transaction) StartTransaction(p provider.Provider, id ids.TransactionID) error {
	if t.IsActive() {
		return &FatalError{Reason: "start_transaction called on an already-active transaction"}
	}
	t.id = id
	t.state = Executing
	t.history = nil
	t.flags = ids.FlagStartTransaction
	t.handle = ids.WriteSetHandle{Trx: id}
	t.meta = ids.WSMeta{}
	t.certified = false
	t.paUnsafe = false
	t.currentError = nil
	t.bfAbortState = nil
	return p.StartTransaction(&t.handle)
}

// SetSource records the originator stid on this transaction's write-set
// metadata. The owning client sets it right after start so fragment
// storage and certification carry the correct origin.
func (t *Transaction) SetSource(src ids.SourceID) { t.meta.Source = src }

// StartAppliedTransaction adopts an externally-certified write set for a
// high-priority (applier/replay) execution context: certified is true
// immediately and the caller drives the state machine straight through
// committing onward, skipping the certify path entirely.
func (t *Transaction) StartAppliedTransaction(id ids.TransactionID, handle ids.WriteSetHandle, meta ids.WSMeta) {
	t.id = id
	t.state = Executing
	t.history = nil
	t.handle = handle
	t.meta = meta
	t.flags = meta.Flags
	t.certified = true
	t.currentError = nil
}

// AppendKey forwards a key to the provider; legal only while executing.
func (t *Transaction) AppendKey(p provider.Provider, key []byte) error {
	if t.state != Executing {
		return fmt.Errorf("txn: append_key not allowed in state %s", t.state)
	}
	return p.AppendKey(t.handle, key)
}

// AppendData forwards a data buffer to the provider; legal only while
// executing.
func (t *Transaction) AppendData(p provider.Provider, data []byte) error {
	if t.state != Executing {
		return fmt.Errorf("txn: append_data not allowed in state %s", t.state)
	}
	return p.AppendData(t.handle, data)
}

// BeforePrepare transitions executing -> preparing and, if the streaming
// context has fragments stored, removes them transactionally with the
// commit.
func (t *Transaction) BeforePrepare(cs provider.ClientService) error {
	if t.state == MustAbort {
		// BF aborted before the commit path started; the owning client
		// surfaces deadlock and drives rollback from after_statement.
		if t.currentError == nil {
			t.currentError = ErrDeadlock
		}
		return ErrDeadlock
	}
	if err := t.transition(Preparing); err != nil {
		return err
	}
	if len(t.streaming.Fragments()) > 0 {
		t.debugSync("before_fragment_removal")
		if err := cs.RemoveFragments(); err != nil {
			return fmt.Errorf("txn: remove_fragments: %w", err)
		}
		t.debugSync("after_fragment_removal")
	}
	return nil
}

func (t *Transaction) debugSync(point string) {
	if t.DebugSync != nil {
		t.DebugSync(point)
	}
}

// CertifyCommit drives the certify step of before_commit (folded from
// before_prepare for a single-phase commit).
func (t *Transaction) CertifyCommit(ctx context.Context, p provider.Provider, cs provider.ClientService, clientID ids.ClientID) error {
	if t.state == MustAbort {
		if t.currentError == nil {
			t.currentError = ErrDeadlock
		}
		return ErrDeadlock
	}
	if err := cs.WaitForReplayers(ctx); err != nil {
		return fmt.Errorf("txn: wait_for_replayers: %w", err)
	}
	if err := t.transition(Certifying); err != nil {
		return err
	}
	t.flags |= ids.FlagCommit
	if err := cs.PrepareDataForReplication(&t.handle); err != nil {
		return fmt.Errorf("txn: prepare_data_for_replication: %w", err)
	}
	if cs.Interrupted() {
		t.currentError = ErrInterrupted
		metrics.CertificationsTotal.WithLabelValues("interrupted").Inc()
		return t.transition(MustAbort)
	}
	timer := metrics.NewTimer()
	status := p.Certify(clientID, &t.handle, t.flags, &t.meta)
	timer.ObserveDuration(metrics.CertifyDuration)
	return t.handleCertifyResult(status, cs)
}

func (t *Transaction) handleCertifyResult(status provider.Status, cs provider.ClientService) error {
	switch status {
	case provider.Success:
		switch t.state {
		case Certifying:
			t.certified = true
			metrics.CertificationsTotal.WithLabelValues("success").Inc()
			return t.transition(Committing)
		case MustAbort:
			// Raced with a concurrent BF-abort: certification actually
			// succeeded, so this transaction must replay rather than
			// abort.
			t.certified = true
			metrics.CertificationsTotal.WithLabelValues("success").Inc()
			cs.WillReplay()
			return t.transition(MustReplay)
		default:
			return &FatalError{Reason: "certify success observed in state " + t.state.String()}
		}
	case provider.ErrorBFAbort:
		t.currentError = nil
		metrics.CertificationsTotal.WithLabelValues("bf_abort").Inc()
		if err := t.transition(MustAbort); err != nil {
			return err
		}
		cs.WillReplay()
		return t.transition(MustReplay)
	case provider.ErrorCertificationFailed:
		t.currentError = ErrDeadlock
		metrics.CertificationsTotal.WithLabelValues("cert_failed").Inc()
		return t.transition(CertFailed)
	case provider.ErrorFatal:
		t.currentError = ErrDuringCommit
		metrics.CertificationsTotal.WithLabelValues("fatal").Inc()
		if err := t.transition(MustAbort); err != nil {
			return err
		}
		return &FatalError{Reason: "provider returned error_fatal during certify"}
	default:
		// error_warning, error_transaction_missing, error_size_exceeded,
		// error_connection_failed, error_provider_failed,
		// error_not_implemented, error_not_allowed: all map to the same
		// unordered-abort outcome.
		t.currentError = ErrDuringCommit
		metrics.CertificationsTotal.WithLabelValues("error").Inc()
		return t.transition(MustAbort)
	}
}

// BeforeCommit enters commit order. The transaction
// must already be in committing (reached via a successful certify).
func (t *Transaction) BeforeCommit(p provider.Provider) error {
	if t.state == MustAbort {
		// BF abort raced in after certification. A certified victim wins
		// the race back through replay; an uncertified one aborts.
		if t.certified {
			if err := t.transition(MustReplay); err != nil {
				return err
			}
			return ErrDuringCommit
		}
		if t.currentError == nil {
			t.currentError = ErrDeadlock
		}
		return ErrDeadlock
	}
	if t.state != Committing {
		return &FatalError{Reason: "before_commit called in state " + t.state.String()}
	}
	t.commitOrderTimer = metrics.NewTimer()
	status := p.CommitOrderEnter(t.handle, t.meta)
	switch status {
	case provider.Success:
		return nil
	case provider.ErrorBFAbort:
		if err := t.transition(MustAbort); err != nil {
			return err
		}
		return t.transition(MustReplay)
	default:
		return &FatalError{Reason: "commit_order_enter failed: " + status.String()}
	}
}

// OrderedCommit leaves commit order and transitions committing ->
// ordered_commit.
func (t *Transaction) OrderedCommit(p provider.Provider) error {
	if t.state != Committing {
		return &FatalError{Reason: "ordered_commit called in state " + t.state.String()}
	}
	if status := p.CommitOrderLeave(t.handle, t.meta); status != provider.Success {
		return &FatalError{Reason: "commit_order_leave failed: " + status.String()}
	}
	if t.commitOrderTimer != nil {
		t.commitOrderTimer.ObserveDuration(metrics.CommitOrderDuration)
		t.commitOrderTimer = nil
	}
	return t.transition(OrderedCommit)
}

// AfterCommit releases the write set and transitions ordered_commit ->
// committed.
func (t *Transaction) AfterCommit(p provider.Provider) error {
	if t.state != OrderedCommit {
		return &FatalError{Reason: "after_commit called in state " + t.state.String()}
	}
	if len(t.streaming.Fragments()) > 0 {
		t.streaming.Cleanup()
	}
	if status := p.Release(t.handle); status != provider.Success {
		metrics.CommitsTotal.WithLabelValues("error").Inc()
		return &FatalError{Reason: "release failed: " + status.String()}
	}
	metrics.CommitsTotal.WithLabelValues("success").Inc()
	return t.transition(Committed)
}

// BeforeRollback drives the voluntary-rollback branch point.
func (t *Transaction) BeforeRollback() error {
	switch t.state {
	case Executing, CertFailed:
		return t.transition(Aborting)
	case MustAbort:
		if t.certified {
			return t.transition(MustReplay)
		}
		return t.transition(Aborting)
	default:
		return &FatalError{Reason: "before_rollback called in state " + t.state.String()}
	}
}

// Rollback drives a full voluntary or BF-induced rollback to completion:
// BeforeRollback, streaming rollback if applicable, the client service's
// rollback, and settling into aborted (or, if the BF race left the
// transaction certified, into replay instead).
func (t *Transaction) Rollback(p provider.Provider, cs provider.ClientService, collab Collaborator, localServer ids.ServerID) error {
	bfInduced := t.bfAbortState != nil
	if err := t.BeforeRollback(); err != nil {
		return err
	}
	if t.state == MustReplay {
		return t.Replay(p, cs)
	}
	if t.streaming.Enabled() || len(t.streaming.Fragments()) > 0 {
		if err := t.streamingRollback(p, collab, localServer); err != nil {
			return err
		}
	}
	if err := cs.Rollback(); err != nil {
		return fmt.Errorf("txn: rollback: %w", err)
	}
	if err := t.transition(Aborted); err != nil {
		return err
	}
	if t.currentError == nil && bfInduced {
		t.currentError = ErrDeadlock
	}
	t.cleanup()
	return nil
}

// streamingRollback spawns a streaming high-priority applier under the
// local server, adopts this transaction into it, empties local streaming
// state, and asks the provider to replicate a rollback fragment.
func (t *Transaction) streamingRollback(p provider.Provider, collab Collaborator, localServer ids.ServerID) error {
	hps, err := collab.StartStreamingApplier(localServer, t.id)
	if err != nil {
		return fmt.Errorf("txn: start_streaming_applier: %w", err)
	}
	if err := hps.AdoptTransaction(t.id); err != nil {
		return fmt.Errorf("txn: adopt_transaction: %w", err)
	}
	t.streaming.RolledBack(t.id)
	t.streaming.Cleanup()
	if status := p.Rollback(t.id); status != provider.Success {
		collab.StopStreamingApplier(localServer, t.id)
		return &FatalError{Reason: "streaming rollback replication failed: " + status.String()}
	}
	collab.StopStreamingApplier(localServer, t.id)
	return nil
}

// CertifyFragment certifies and persists one streaming-replication
// fragment. It prepares the fragment payload, persists it to fragment
// storage, appends it through the client service, certifies it with the
// provider, and on success records the assigned seqno, commits the
// fragment storage transaction, and clears start_transaction so later
// fragments of the same transaction are continuation fragments.
func (t *Transaction) CertifyFragment(p provider.Provider, cs provider.ClientService, collab Collaborator, clientID ids.ClientID) error {
	if t.state != Executing {
		return &FatalError{Reason: "certify_fragment called in state " + t.state.String()}
	}
	if err := t.transition(Certifying); err != nil {
		return err
	}

	data, err := cs.PrepareFragmentForReplication()
	if err != nil {
		_ = t.transition(MustAbort)
		return fmt.Errorf("txn: prepare_fragment_for_replication: %w", err)
	}

	storage, err := collab.StorageService()
	if err != nil {
		_ = t.transition(MustAbort)
		return fmt.Errorf("txn: fragment storage_service: %w", err)
	}
	defer collab.ReleaseStorageService(storage)

	if err := storage.StartTransaction(&t.handle); err != nil {
		_ = t.transition(MustAbort)
		return fmt.Errorf("txn: fragment storage start_transaction: %w", err)
	}
	if err := storage.AppendFragment(t.meta.Source.Server, t.id, t.flags, data); err != nil {
		_ = t.transition(MustAbort)
		return fmt.Errorf("txn: fragment storage append_fragment: %w", err)
	}
	if err := cs.AppendFragment(t.id, t.flags, data); err != nil {
		_ = t.transition(MustAbort)
		t.currentError = ErrAppendFragment
		return fmt.Errorf("txn: append_fragment: %w", err)
	}

	timer := metrics.NewTimer()
	status := p.Certify(clientID, &t.handle, t.flags, &t.meta)
	timer.ObserveDuration(metrics.CertifyDuration)
	if status != provider.Success {
		_ = t.transition(MustAbort)
		_ = storage.Rollback(t.handle, t.meta)
		t.currentError = ErrDuringCommit
		metrics.CertificationsTotal.WithLabelValues("fragment_error").Inc()
		return fmt.Errorf("txn: certify_fragment: certify failed: %s", status)
	}
	metrics.CertificationsTotal.WithLabelValues("fragment_success").Inc()
	metrics.FragmentsSentTotal.Inc()

	t.streaming.Certified(uint64(len(data)))
	if err := t.streaming.Stored(t.meta.Seqno()); err != nil {
		return &FatalError{Reason: err.Error()}
	}
	if err := storage.UpdateFragmentMeta(t.meta); err != nil {
		return &FatalError{Reason: "fragment storage update_fragment_meta failed: " + err.Error()}
	}
	if err := storage.Commit(t.handle, t.meta); err != nil {
		return &FatalError{Reason: "fragment storage commit failed: " + err.Error()}
	}
	if err := t.transition(Executing); err != nil {
		return err
	}
	t.flags &^= ids.FlagStartTransaction
	return nil
}

// AfterRow evaluates the row/bytes fragment boundary after one row has
// been applied to the write set and certifies a fragment once the
// configured unit crosses it. The statement unit is evaluated separately
// in AfterStatement.
func (t *Transaction) AfterRow(p provider.Provider, cs provider.ClientService, collab Collaborator, clientID ids.ClientID) error {
	if t.state != Executing || !t.streaming.Enabled() {
		return nil
	}
	switch t.streaming.Unit() {
	case streaming.UnitRow:
		if !t.streaming.IncrementUnitCounter(1) {
			return nil
		}
		t.streaming.ResetUnitCounter()
	case streaming.UnitBytes:
		if !t.streaming.ShouldCertifyBytes(cs.BytesGenerated()) {
			return nil
		}
	default:
		return nil
	}
	return t.CertifyFragment(p, cs, collab, clientID)
}

// Replay drives the must_replay -> replaying branch. On
// success the transaction settles in committed with no error; a
// certification failure on replay settles in aborted with deadlock;
// any other failure requests an emergency shutdown.
func (t *Transaction) Replay(p provider.Provider, cs provider.ClientService) error {
	if err := t.transition(Replaying); err != nil {
		return err
	}
	status := cs.Replay(t.handle)
	switch status {
	case provider.Success:
		hadFragments := len(t.streaming.Fragments()) > 0
		if hadFragments {
			if err := t.transition(Preparing); err != nil {
				return err
			}
			if err := cs.RemoveFragments(); err != nil {
				return fmt.Errorf("txn: remove_fragments during replay: %w", err)
			}
		}
		if err := t.transition(Committing); err != nil {
			return err
		}
		if st := p.CommitOrderEnter(t.handle, t.meta); st != provider.Success {
			return &FatalError{Reason: "replay commit_order_enter failed: " + st.String()}
		}
		if st := p.CommitOrderLeave(t.handle, t.meta); st != provider.Success {
			return &FatalError{Reason: "replay commit_order_leave failed: " + st.String()}
		}
		if err := t.transition(OrderedCommit); err != nil {
			return err
		}
		if st := p.Release(t.handle); st != provider.Success {
			return &FatalError{Reason: "replay release failed: " + st.String()}
		}
		if err := t.transition(Committed); err != nil {
			return err
		}
		t.currentError = nil
		metrics.ReplaysTotal.WithLabelValues("success").Inc()
		t.cleanup()
		return nil
	case provider.ErrorCertificationFailed:
		t.currentError = ErrDeadlock
		metrics.ReplaysTotal.WithLabelValues("cert_failed").Inc()
		if err := t.transition(Aborted); err != nil {
			return err
		}
		t.cleanup()
		return nil
	default:
		t.currentError = ErrDuringCommit
		metrics.ReplaysTotal.WithLabelValues("error").Inc()
		if err := t.transition(Aborted); err != nil {
			return err
		}
		t.cleanup()
		cs.EmergencyShutdown("replay failed with provider status " + status.String())
		return nil
	}
}

// AfterStatement certifies a pending statement-unit fragment, then
// handles the case where the transaction has settled into
// must_abort/cert_failed by driving rollback to completion, or settled
// into must_replay by driving the replay branch. Returns the outcome the
// client-level after_statement surfaces to the DBMS.
func (t *Transaction) AfterStatement(p provider.Provider, cs provider.ClientService, collab Collaborator, clientID ids.ClientID, localServer ids.ServerID) (AfterStatementResult, error) {
	if t.state == Executing && t.streaming.Enabled() && t.streaming.Unit() == streaming.UnitStatement {
		if t.streaming.IncrementUnitCounter(1) {
			t.streaming.ResetUnitCounter()
			if err := t.CertifyFragment(p, cs, collab, clientID); err != nil {
				return AsrError, err
			}
		}
	}
	switch t.state {
	case MustAbort, CertFailed:
		if err := t.Rollback(p, cs, collab, localServer); err != nil {
			return AsrError, err
		}
		return AsrError, nil
	case MustReplay:
		if err := t.Replay(p, cs); err != nil {
			return AsrError, err
		}
		if t.currentError != nil {
			return AsrError, nil
		}
		return AsrSuccess, nil
	case Committed:
		t.cleanup()
		if cs.IsAutocommit() {
			return AsrMayRetry, nil
		}
		return AsrSuccess, nil
	case Aborted:
		t.cleanup()
		return AsrError, nil
	default:
		return AsrSuccess, nil
	}
}

// cleanup resets id, handle, meta, flags, certified, pa_unsafe, the BF
// abort state, and the streaming context, returning the transaction to
// inactive. The current state and its history are kept. currentError is left
// untouched: the owning client reads it via LastError once the
// transaction has settled and copies it into its own authoritative
// error code; it is cleared only by the next StartTransaction.
func (t *Transaction) cleanup() {
	t.id = ids.InvalidTransactionID
	t.handle = ids.WriteSetHandle{}
	t.meta = ids.WSMeta{}
	t.flags = 0
	t.certified = false
	t.paUnsafe = false
	t.bfAbortState = nil
	t.streaming.Cleanup()
}

// BFAbort preemptively aborts this transaction on behalf of a
// higher-priority ordered write set. Caller must hold the
// owning client's mutex. Idempotent with respect to an already-aborting
// or terminal transaction.
func (t *Transaction) BFAbort(p provider.Provider, bfSeqno ids.Seqno) (aborted bool, err error) {
	if !t.IsActive() {
		return false, nil
	}
	switch t.state {
	case Executing, Preparing, Certifying, Committing:
	default:
		return false, nil
	}
	if !t.meta.Seqno().IsUndefined() && t.meta.Seqno().Less(bfSeqno) {
		// Victim is already ordered before the aborter: cannot abort it.
		return false, nil
	}
	victimSeqno, status := p.BFAbort(bfSeqno, t.id)
	if status != provider.Success {
		return false, nil
	}
	_ = victimSeqno
	metrics.BFAbortsTotal.Inc()
	prev := t.state
	t.bfAbortState = &prev
	if err := t.transition(MustAbort); err != nil {
		return false, err
	}
	return true, nil
}
