/*
Package server implements the node-wide replication state machine:
cluster membership, view handling, state snapshot transfer coordination,
pause/desync control, and the streaming-applier registry shared by every
client connected to one node.

# Architecture

A server moves through nine states from process start to full cluster
membership. Which path it takes through the early states depends on
whether the DBMS wants its state transfer before or after its own
initialization (ServerService.SSTBeforeInit):

	SST before init:
	  disconnected ─► connected ─► joiner ─► initializing ─► initialized ─► joined ─► synced

	Init before SST:
	  disconnected ─► initializing ─► initialized ─► connected ─► joiner ─► joined ─► synced

	Donating:
	  synced ─► donor ─► joined ─► synced

Three provider callbacks drive membership: OnConnect records the GTID
the node joined at, OnView applies membership changes (a primary view
advances the join path, a final view forces disconnected, a non-primary
non-final view parks the node in connected), and OnSync marks the node
caught up. Every state but disconnected has a direct edge back to
disconnected, because a final or leaving view can arrive at any time.

# Core Components

Server: the state machine, its condition variable, and everything a
node shares across clients — the provider handle, the current view, the
last committed GTID, and the streaming-applier registry.

Streaming-applier registry: maps (origin server, transaction id) to the
high-priority service accumulating that transaction's fragments.
Inserted by the dispatcher on a first fragment (or by a local streaming
rollback), removed when the final fragment lands. Duplicate insertion
is an error; a missing entry on removal is only a warning, since rapid
membership changes can deliver a commit fragment for an applier that
was already torn down.

Pause/desync: counted, reentrant operations. Only the outermost Pause
actually pauses the provider, caching the seqno the cluster paused at;
Pause desyncs first if the node was not already desynced, and Resume
undoes exactly what Pause did. DesyncAndPause/ResumeAndResync combine
the pair for callers like backup tooling that need both.

Waiters: WaitUntilState blocks until the server reaches a wanted state,
maintaining a per-target-state waiter count so a notifier can confirm
through WaiterCount that every waiter has woken and moved on before it
tears down whatever the old state was gating. WaitForGTID blocks until
the last committed GTID reaches a position; CausalRead drains in-flight
commits and returns the position a causally-consistent read may proceed
from. Both honor context deadlines.

# Integration Points

  - pkg/txn uses the server as its Collaborator (streaming appliers,
    fragment storage, background rollback)
  - pkg/dispatcher uses the streaming-applier registry
  - pkg/provider supplies the Provider and ServerService contracts
  - pkg/metrics carries the server-state gauge, pause seqno, and
    active-applier count

# See Also

  - pkg/dispatcher - routes delivered write sets to appliers
  - pkg/wsclient - per-connection state riding on this server
*/
package server
