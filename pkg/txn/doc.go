/*
Package txn implements the per-transaction replication state machine and
the BF-abort/replay protocol that crosses it.

One Transaction value lives inside each client connection and is reused
across commands: StartTransaction activates it, the commit or rollback
path drives it through the state graph, and cleanup after a terminal
state returns it to inactive, ready for the next transaction on the same
connection.

# Architecture

The transaction walks a fixed twelve-state graph. The happy path for a
locally executed, replicated transaction is the left column; conflicts
and preemption branch right:

	executing ──► preparing ──► certifying ──► committing ──► ordered_commit ──► committed
	    │              │             │              │
	    │              │             │              └──(commit_order_enter hits BF)──► must_replay
	    │              │             ├──(certification conflict)──► cert_failed ──► aborting ──► aborted
	    │              │             └──(provider bf_abort)──► must_abort
	    │              └──────────────────(BF abort)──► must_abort ──┬──► aborting ──► aborted
	    └─────────────────────────────────(BF abort)──► must_abort   └──► must_replay ──► replaying
	                                                                          │
	                                                              committed ◄─┴─► aborted

Every mutation goes through the transition table; an edge not listed
there is a programming error surfaced as *FatalError, never a recoverable
condition.

# Core Components

Transaction: the state machine itself, plus the write-set handle,
metadata, and flags accumulated while executing. Owned exclusively by one
client; all methods assume the owning client's mutex is held.

Collaborator: the narrow server-side capability the transaction needs —
spawning streaming appliers, obtaining fragment storage, and handing an
idle BF-abort victim to the background rollback path. Implemented by
*server.Server.

AfterStatementResult: the tri-state outcome (success / error / may_retry)
the statement boundary reports to the DBMS. may_retry is only reported
for autocommit transactions, which the DBMS can transparently re-run.

# Streaming replication

A transaction with streaming enabled certifies fragments before its
final commit: AfterRow evaluates the row/bytes boundary, AfterStatement
the statement boundary, and CertifyFragment replicates one fragment —
persisting it to fragment storage in its own storage transaction, then
certifying it with the provider. The first certified fragment carries
start_transaction; CertifyFragment clears the flag so later fragments
are continuations. A voluntary rollback of a streaming transaction
replicates a rollback fragment through a short-lived local streaming
applier so remote nodes can discard their stored fragments.

# BF abort and replay

BFAbort is the single entry point through which a higher-priority
ordered write set preempts this transaction. It is a no-op on inactive
or already-terminal transactions and refuses to abort a victim ordered
before the aborter. When certification has already succeeded for the
victim, the conflict resolves through replay instead of rollback: the
transaction moves to must_replay and Replay re-executes it under a
high-priority service, settling in committed with no client-visible
error.

# Integration Points

  - pkg/wsclient drives every method here under the client mutex
  - pkg/provider supplies the Provider and ClientService contracts
  - pkg/server implements Collaborator
  - pkg/metrics counts certifications, replays, BF aborts, and commits
    at their call sites in this package

# See Also

  - pkg/streaming - fragment boundary bookkeeping
  - pkg/wsclient - the client (connection) envelope around transactions
  - pkg/dispatcher - the applier-side counterpart for remote write sets
*/
package txn
