/*
Package dispatcher routes write sets delivered by the provider, in commit
order, to the correct high-priority apply path.

# Architecture

Classification happens purely on the write set's flags:

	isolation ─────────────────────────► TOI: enter commit order, apply, leave
	commutative / native ──────────────► not implemented (explicit error)
	start+commit+rollback ─────────────► certification-failed dummy log entry
	start+commit ──────────────────────► one-phase apply: start, apply, commit
	start only ────────────────────────► first fragment: register streaming applier
	no flags ──────────────────────────► continuation fragment: find applier, apply
	commit only ───────────────────────► final fragment: apply, commit, release applier
	rollback only ─────────────────────► streaming rollback from the origin

The streaming branches work through two services at once: the per-origin
streaming applier accumulates the remote transaction's changes, while
the dispatching service persists each fragment to local fragment storage
so the transaction survives a crash mid-stream. A commit fragment is
applied on the streaming applier, which then removes the stored
fragments and commits. When the dispatching service is itself replaying,
the fragment is applied and committed on it directly, without removing
stored fragments there.

A missing streaming applier for a continuation, commit, or rollback
fragment is a benign race with membership changes, not corruption: the
dispatcher logs a warning and logs a dummy write set so commit order
keeps moving.

# Error voting

A TOI apply failure cannot simply roll back, because every node ordered
the operation identically. The ErrorVoter seam decides whether this
node's failure diverges it from the cluster. The dispatcher logs the
failure; NoopErrorVoter (the default) then lets commit order proceed. A production voter would exchange per-seqno
votes through the provider.

# Integration Points

  - pkg/server supplies the ApplierRegistry (streaming-applier map)
  - pkg/provider supplies the HighPriorityService contract
  - pkg/metrics counts applied fragments by kind and times TOI applies

# See Also

  - pkg/txn - the origin-side counterpart of the streaming branches
*/
package dispatcher
