package provider

import (
	"context"

	"github.com/codership/wsrep-lib/pkg/ids"
	"github.com/codership/wsrep-lib/pkg/wsreplog"
)

// ClientService is the narrow contract the transaction/client state
// machines consume from the DBMS for one connection.
type ClientService interface {
	Do2PC() bool
	IsAutocommit() bool
	Interrupted() bool

	StoreGlobals()
	ResetGlobals()

	PrepareDataForReplication(handle *ids.WriteSetHandle) error
	CleanupTransaction()

	StatementAllowedForStreaming() bool
	BytesGenerated() uint64
	PrepareFragmentForReplication() ([]byte, error)
	RemoveFragments() error

	Commit(handle ids.WriteSetHandle, meta ids.WSMeta) error
	Rollback() error

	EmergencyShutdown(reason string)

	WillReplay()
	// Replay starts a fresh high-priority service, asks the provider to
	// replay the transaction through it, and returns the provider status.
	Replay(handle ids.WriteSetHandle) Status
	WaitForReplayers(ctx context.Context) error

	AppendFragment(trx ids.TransactionID, flags ids.Flags, buf []byte) error

	DebugSync(point string)
	DebugCrash(point string)
}

// ServerService is the narrow contract the server state machine consumes
// from the DBMS.
type ServerService interface {
	StorageService() (StorageService, error)
	ReleaseStorageService(StorageService)

	// StreamingApplierServiceFromClient creates a fresh high-priority
	// service for a new streaming applier, seeded from a client context.
	StreamingApplierServiceFromClient(origin ids.ServerID) (HighPriorityService, error)
	// StreamingApplierServiceFromHighPriority creates a fresh high-priority
	// service seeded from another high-priority context (used when the
	// dispatching service is itself a replay/applier).
	StreamingApplierServiceFromHighPriority(origin ids.ServerID, hps HighPriorityService) (HighPriorityService, error)
	ReleaseHighPriorityService(HighPriorityService)

	BackgroundRollback(clientID ids.ClientID)

	Bootstrap() error

	LogMessage(level wsreplog.Level, msg string)
	LogDummyWriteSet(meta ids.WSMeta, data []byte)
	LogView(view ids.View)
	LogStateChange(prev, cur string)

	SSTBeforeInit() bool
	SSTRequest() (string, error)
	StartSST(req string, gtid ids.GTID, bypass bool) error

	WaitCommittingTransactions(ctx context.Context) error

	DebugSync(point string)
}

// HighPriorityService is the execution context used to apply remote
// write sets: the dispatcher's regular/streaming appliers and replay both
// run through this contract.
type HighPriorityService interface {
	StartTransaction(handle ids.WriteSetHandle, meta ids.WSMeta) error
	AdoptTransaction(trx ids.TransactionID) error
	ApplyWriteSet(meta ids.WSMeta, data []byte) error
	AppendFragment(meta ids.WSMeta, data []byte) error
	Commit(handle ids.WriteSetHandle, meta ids.WSMeta) error
	Rollback() error
	ApplyTOI(meta ids.WSMeta, data []byte) error
	AfterApply()

	// RemoveFragments discards the stored fragments for the write set's
	// transaction once a commit or rollback fragment has landed.
	RemoveFragments(meta ids.WSMeta) error

	StoreGlobals()
	ResetGlobals()
	SwitchExecutionContext(orig HighPriorityService) error

	LogDummyWriteSet(meta ids.WSMeta, data []byte)

	IsReplaying() bool
	MustExit() bool
}

// StorageService persists streaming fragments independently of the main
// commit path. Fragment storage's on-disk format is an implementation
// detail; this is only the call surface.
type StorageService interface {
	StartTransaction(handle *ids.WriteSetHandle) error
	AppendFragment(server ids.ServerID, trx ids.TransactionID, flags ids.Flags, buf []byte) error
	UpdateFragmentMeta(meta ids.WSMeta) error
	Commit(handle ids.WriteSetHandle, meta ids.WSMeta) error
	Rollback(handle ids.WriteSetHandle, meta ids.WSMeta) error

	StoreGlobals()
	ResetGlobals()
}
