/*
Package provider defines the external contracts the replication core
consumes, plus reference implementations used by tests and examples.

The write-set replication provider itself — its certification algorithm,
wire format, and persistence — lives outside this library. What lives
here is the call surface:

Provider: the replication provider. Certification, commit ordering,
BF abort, replay, state-transfer notification, and flow control
(pause/resume, desync/resync). Provider status values are never shown
raw to the DBMS; callers map each one to a client-visible error or a
state transition.

ClientService: what the core needs from the DBMS for one connection —
commit/rollback of local changes, write-set materialization, fragment
preparation, replay execution, and interruption checks.

ServerService: node-wide DBMS capabilities — fragment storage handles,
streaming-applier creation, background rollback, bootstrap, SST
orchestration, and logging.

HighPriorityService: the execution context remote write sets are
applied under, running above local transactions so BF abort is always
possible.

StorageService: transactional persistence for streaming fragments,
keyed by origin and transaction.

# Reference implementations

Mock* test doubles implement each contract in memory with scriptable
outcomes, used throughout this module's tests. BoltFragmentStore is a
concrete bbolt-backed StorageService showing what a real fragment store
adapter looks like; the on-disk format is its own choice, not part of
the contract.
*/
package provider
