/*
Package wsclient implements the per-connection client state machine: the
idle/exec/result/quitting command envelope that wraps one transaction at
a time, plus the BF-abort handoff at command boundaries.

# The command envelope

The DBMS brackets every command it processes:

	BeforeCommand            idle   ─► exec
	  BeforeStatement
	    ... statement work, AfterRow per row ...
	  AfterStatement
	AfterCommandBeforeResult exec   ─► result
	AfterCommandAfterResult  result ─► idle

Each boundary is also where a BF abort delivered asynchronously gets
resolved: BeforeCommand reports ErrAborted for a transaction aborted
while the connection was idle, AfterCommandBeforeResult completes the
rollback before the reply is flushed so the client sees a correct
deadlock error. AfterCommandAfterResult does not resolve an abort: one
that raced with the reply stays pending until the next BeforeCommand
reports it. Under the synchronous rollback discipline an idle
victim does not wait for its next command at all — BFAbort hands it to
the server's background rollback path immediately.

# Commit paths

Commit drives a single-phase commit end to end: prepare, certify, commit
ordering, release. A DBMS whose ClientService reports Do2PC instead
calls BeforePrepare and AfterPrepare explicitly and then Commit for the
ordering phase only.

# Scoped modes

EnterHighPriorityContext, EnterTOIMode, and SwitchContext each return a
restore function to defer, without a separate guard type. The first two
temporarily raise the client's mode for applier callbacks and
total-order isolation windows; SwitchContext resets the DBMS
thread-local state and stores it back on restore.

All state on a Client is serialized by one mutex, which is also the lock
a BF aborter must hold; this makes the client the sole serialization
point between its own connection thread and applier threads.
*/
package wsclient
