package wsclient

import (
	"context"
	"errors"
	"sync"

	"github.com/codership/wsrep-lib/pkg/ids"
	"github.com/codership/wsrep-lib/pkg/provider"
	"github.com/codership/wsrep-lib/pkg/streaming"
	"github.com/codership/wsrep-lib/pkg/txn"
)

// Mode is the replication mode a client is currently operating in.
type Mode int

const (
	ModeLocal Mode = iota
	ModeReplicating
	ModeHighPriority
	ModeTOI
	ModeNBO
	ModeRSU
)

func (m Mode) String() string {
	switch m {
	case ModeLocal:
		return "local"
	case ModeReplicating:
		return "replicating"
	case ModeHighPriority:
		return "high_priority"
	case ModeTOI:
		return "toi"
	case ModeNBO:
		return "nbo"
	case ModeRSU:
		return "rsu"
	default:
		return "unknown"
	}
}

// State is the client's position in the command lifecycle.
type State int

const (
	Idle State = iota
	Exec
	Result
	Quitting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Exec:
		return "exec"
	case Result:
		return "result"
	case Quitting:
		return "quitting"
	default:
		return "unknown"
	}
}

// ErrAborted is returned from BeforeCommand when the client's
// transaction was BF aborted while idle; the DBMS must surface this to
// the application instead of starting a new command.
var ErrAborted = errors.New("wsclient: transaction was aborted")

// Client is one DBMS connection's replication state: one client owns
// exactly one transaction slot, reused across commands.
type Client struct {
	mu sync.Mutex

	id   ids.ClientID
	mode Mode

	state State
	trx   *txn.Transaction

	provider      provider.Provider
	clientService provider.ClientService
	collab        txn.Collaborator
	localServer   ids.ServerID
	syncRollback  bool

	currentError  error
	debugLogLevel int
}

// New constructs an idle client bound to the given provider and service
// collaborators. syncRollback selects the rollback discipline: true means
// a BF-aborted idle transaction is rolled back immediately, handed off to
// the DBMS's background rollback path rather than left for the client's
// next command.
func New(id ids.ClientID, mode Mode, p provider.Provider, cs provider.ClientService, collab txn.Collaborator, localServer ids.ServerID, syncRollback bool) *Client {
	return &Client{
		id:            id,
		mode:          mode,
		state:         Idle,
		trx:           txn.New(),
		provider:      p,
		clientService: cs,
		collab:        collab,
		localServer:   localServer,
		syncRollback:  syncRollback,
	}
}

func (c *Client) ID() ids.ClientID              { return c.id }
func (c *Client) Transaction() *txn.Transaction { return c.trx }

func (c *Client) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CurrentError returns the client's authoritative error code, set by
// after_command_before_result and cleared once the client returns to
// idle with no active transaction.
func (c *Client) CurrentError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentError
}

// ResetError clears the error code unconditionally.
func (c *Client) ResetError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentError = nil
}

// Do2PC reports whether transactions committed through this client
// require two-phase commit.
func (c *Client) Do2PC() bool { return c.clientService.Do2PC() }

func (c *Client) setState(s State) { c.state = s }

// StoreGlobals should be called whenever the thread driving this client
// changes.
func (c *Client) StoreGlobals() { c.clientService.StoreGlobals() }

// overrideError enforces that an error, once set, is never overwritten
// with success by a later, unrelated call.
func (c *Client) overrideError(err error) {
	if err == nil {
		return
	}
	c.currentError = err
}

// BeforeCommand must be called before the DBMS starts processing a new
// command. It transitions the client to exec and reports ErrAborted if
// the transaction was BF aborted while idle. Under synchronous rollback
// discipline it does not leave that rollback for later: it drives
// after_statement to completion itself before returning, so no command
// boundary is ever crossed with an unresolved aborted transaction.
func (c *Client) BeforeCommand() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	wasAborted := c.trx.IsActive() && (c.trx.State() == txn.MustAbort || c.trx.State() == txn.CertFailed)
	c.setState(Exec)
	if !wasAborted {
		return nil
	}
	if c.syncRollback {
		result, err := c.trx.AfterStatement(c.provider, c.clientService, c.collab, c.id, c.localServer)
		if err != nil {
			c.clientService.EmergencyShutdown(err.Error())
			return ErrAborted
		}
		if result == txn.AsrError {
			if last := c.trx.LastError(); last != nil {
				c.overrideError(last)
			} else {
				c.overrideError(txn.ErrDeadlock)
			}
		}
	}
	return ErrAborted
}

// AfterCommandBeforeResult must be called before the DBMS sends a result
// back to the client. If the transaction has settled into an error or
// replay state, this drives it to completion and records the resulting
// client-visible error.
func (c *Client) AfterCommandBeforeResult() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setState(Result)
	if !c.trx.IsActive() {
		return
	}
	switch c.trx.State() {
	case txn.MustAbort, txn.CertFailed, txn.MustReplay:
		result, err := c.trx.AfterStatement(c.provider, c.clientService, c.collab, c.id, c.localServer)
		if err != nil {
			c.clientService.EmergencyShutdown(err.Error())
			return
		}
		if result == txn.AsrError {
			if last := c.trx.LastError(); last != nil {
				c.overrideError(last)
			} else {
				c.overrideError(txn.ErrDeadlock)
			}
		}
	}
}

// AfterCommandAfterResult must be called after control returns to the
// DBMS client. It resets the state to idle and, if no transaction is
// active, clears the current error.
func (c *Client) AfterCommandAfterResult() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setState(Idle)
	if !c.trx.IsActive() {
		c.currentError = nil
	}
}

// BeforeStatement reports ErrAborted without attempting anything when the
// transaction has been BF aborted; the cleanup happens later in the
// result phase. Otherwise it succeeds.
func (c *Client) BeforeStatement() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.trx.IsActive() && c.trx.State() == txn.MustAbort {
		return ErrAborted
	}
	return nil
}

// AfterStatement drives the transaction's after_statement and returns the
// outcome, updating the client's error code accordingly.
func (c *Client) AfterStatement() (txn.AfterStatementResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	result, err := c.trx.AfterStatement(c.provider, c.clientService, c.collab, c.id, c.localServer)
	if err != nil {
		return result, err
	}
	if result == txn.AsrError {
		if last := c.trx.LastError(); last != nil {
			c.overrideError(last)
		}
	}
	return result, nil
}

// AfterRow evaluates the row/bytes streaming fragment boundary after one
// row has been applied and certifies a fragment once it is crossed.
func (c *Client) AfterRow() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trx.AfterRow(c.provider, c.clientService, c.collab, c.id)
}

// StartTransaction begins a new transaction with the given id; legal
// only in exec state.
func (c *Client) StartTransaction(id ids.TransactionID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.trx.StartTransaction(c.provider, id); err != nil {
		return err
	}
	c.trx.SetSource(ids.SourceID{Server: c.localServer, Trx: id, Client: c.id})
	return nil
}

// AppendKey forwards to the active transaction.
func (c *Client) AppendKey(key []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trx.AppendKey(c.provider, key)
}

// AppendData forwards to the active transaction.
func (c *Client) AppendData(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trx.AppendData(c.provider, data)
}

// BeforePrepare begins the prepare phase of a two-phase commit. For
// single-phase commit the DBMS never calls this directly; Commit folds
// it in.
func (c *Client) BeforePrepare() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.trx.BeforePrepare(c.clientService)
	if err != nil {
		if last := c.trx.LastError(); last != nil {
			c.overrideError(last)
		}
	}
	return err
}

// AfterPrepare certifies the prepared transaction with the provider,
// completing the prepare phase of a two-phase commit.
func (c *Client) AfterPrepare(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.certifyCommitLocked(ctx)
}

func (c *Client) certifyCommitLocked(ctx context.Context) error {
	err := c.trx.CertifyCommit(ctx, c.provider, c.clientService, c.id)
	if err != nil {
		if last := c.trx.LastError(); last != nil {
			c.overrideError(last)
		}
	}
	return err
}

// Commit drives the transaction through before_commit, the certify call,
// commit ordering, and release. Under two-phase commit the prepare and
// certify steps have already been taken through BeforePrepare and
// AfterPrepare, so only the ordering phase remains.
func (c *Client) Commit(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.clientService.Do2PC() {
		if err := c.trx.BeforePrepare(c.clientService); err != nil {
			if last := c.trx.LastError(); last != nil {
				c.overrideError(last)
			}
			return err
		}
		if err := c.certifyCommitLocked(ctx); err != nil {
			return err
		}
		if c.trx.State() != txn.Committing {
			// Certify raced with a BF abort; the caller must call
			// AfterStatement to drive rollback or replay.
			return txn.ErrDuringCommit
		}
	}
	if err := c.trx.BeforeCommit(c.provider); err != nil {
		return err
	}
	if c.trx.State() != txn.Committing {
		// commit_order_enter lost a BF-abort race; AfterStatement will
		// drive the replay.
		return txn.ErrDuringCommit
	}
	if err := c.trx.OrderedCommit(c.provider); err != nil {
		return err
	}
	if err := c.clientService.Commit(c.trx.Handle(), c.trx.Meta()); err != nil {
		return err
	}
	return c.trx.AfterCommit(c.provider)
}

// Rollback drives a voluntary rollback to completion.
func (c *Client) Rollback() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trx.Rollback(c.provider, c.clientService, c.collab, c.localServer)
}

// BFAbort preemptively aborts this client's active transaction on behalf
// of a higher-priority write set ordered at bfSeqno. If the victim is
// idle and the rollback discipline is synchronous, the victim is handed
// off to the DBMS's background rollback path and its rollback driven to
// completion rather than waiting for its own next command boundary. The
// client lock is released before that rollback runs: it may block on
// DBMS locks and must not be performed under the aborter's critical
// section.
func (c *Client) BFAbort(bfSeqno ids.Seqno) (bool, error) {
	c.mu.Lock()
	aborted, err := c.trx.BFAbort(c.provider, bfSeqno)
	if err != nil || !aborted || !c.syncRollback || c.state != Idle {
		c.mu.Unlock()
		return aborted, err
	}
	c.mu.Unlock()
	c.collab.BackgroundRollback(c.id)
	// AfterStatement reacquires the lock and re-checks state, the same
	// way a background rollback thread entering this client would.
	if _, err := c.AfterStatement(); err != nil {
		c.clientService.EmergencyShutdown(err.Error())
	}
	return aborted, nil
}

// EnableStreaming turns on streaming replication for this client's
// active (or about-to-start) transaction. Changing the fragment unit
// while fragments are already stored is rejected.
func (c *Client) EnableStreaming(unit streaming.Unit, size uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trx.Streaming().Enable(unit, size)
}

// EnterHighPriorityContext temporarily raises the client mode to
// high_priority for the duration of an applier callback. The returned
// function restores the previous mode and must be called, usually with
// defer, when the callback returns.
func (c *Client) EnterHighPriorityContext() (restore func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.mode
	c.mode = ModeHighPriority
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.mode = prev
	}
}

// EnterTOIMode raises the client mode to toi for a DDL-style total-order
// isolation window. The returned function restores the previous mode.
func (c *Client) EnterTOIMode() (restore func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.mode
	c.mode = ModeTOI
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.mode = prev
	}
}

// SwitchContext saves the DBMS thread-local state around nested applier
// work on this connection's thread. The returned function restores it.
func (c *Client) SwitchContext() (restore func()) {
	c.clientService.ResetGlobals()
	return func() {
		c.clientService.StoreGlobals()
	}
}

// Quit moves the client to quitting when the connection is closing,
// rolling back any transaction still active. Legal from idle or result.
func (c *Client) Quit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Exec {
		return &txn.FatalError{Reason: "client quit during command execution"}
	}
	if c.trx.IsActive() {
		if err := c.trx.Rollback(c.provider, c.clientService, c.collab, c.localServer); err != nil {
			return err
		}
	}
	c.setState(Quitting)
	return nil
}

// DebugLogLevel returns the configured debug logging verbosity.
func (c *Client) DebugLogLevel() int { return c.debugLogLevel }

// SetDebugLogLevel sets the debug logging verbosity for this client.
func (c *Client) SetDebugLogLevel(level int) { c.debugLogLevel = level }
