package provider

import (
	"context"

	"github.com/codership/wsrep-lib/pkg/ids"
)

// Status is the provider's outcome for operations that can fail in more
// than one way. It is never surfaced raw to the DBMS — every caller maps
// it to a client-visible error or a state transition.
type Status int

const (
	Success Status = iota
	ErrorWarning
	ErrorTransactionMissing
	ErrorCertificationFailed
	ErrorBFAbort
	ErrorSizeExceeded
	ErrorConnectionFailed
	ErrorProviderFailed
	ErrorFatal
	ErrorNotImplemented
	ErrorNotAllowed
	ErrorUnknown
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case ErrorWarning:
		return "error_warning"
	case ErrorTransactionMissing:
		return "error_transaction_missing"
	case ErrorCertificationFailed:
		return "error_certification_failed"
	case ErrorBFAbort:
		return "error_bf_abort"
	case ErrorSizeExceeded:
		return "error_size_exceeded"
	case ErrorConnectionFailed:
		return "error_connection_failed"
	case ErrorProviderFailed:
		return "error_provider_failed"
	case ErrorFatal:
		return "error_fatal"
	case ErrorNotImplemented:
		return "error_not_implemented"
	case ErrorNotAllowed:
		return "error_not_allowed"
	default:
		return "error_unknown"
	}
}

// Provider is the write-set replication provider contract consumed by the
// core. Implementations are assumed internally thread-safe; a single
// Provider handle is shared read-only across every client on a server.
type Provider interface {
	Connect(ctx context.Context, clusterAddr string, bootstrap bool) error
	Disconnect(ctx context.Context) error

	// RunApplier blocks delivering ordered write sets to deliver until the
	// provider disconnects or ctx is cancelled.
	RunApplier(ctx context.Context, deliver func(ids.WriteSetHandle, ids.WSMeta, []byte) error) error

	StartTransaction(handle *ids.WriteSetHandle) error
	AppendKey(handle ids.WriteSetHandle, key []byte) error
	AppendData(handle ids.WriteSetHandle, data []byte) error

	Certify(clientID ids.ClientID, handle *ids.WriteSetHandle, flags ids.Flags, meta *ids.WSMeta) Status

	// BFAbort preemptively aborts a victim transaction ordered at
	// victimSeqno (out param), given the aborter's bfSeqno.
	BFAbort(bfSeqno ids.Seqno, victimTrx ids.TransactionID) (victimSeqno ids.Seqno, status Status)

	Rollback(trx ids.TransactionID) Status

	CommitOrderEnter(handle ids.WriteSetHandle, meta ids.WSMeta) Status
	CommitOrderLeave(handle ids.WriteSetHandle, meta ids.WSMeta) Status

	Release(handle ids.WriteSetHandle) Status

	Replay(handle ids.WriteSetHandle, hps HighPriorityService) Status

	SSTSent(gtid ids.GTID, err error) Status
	SSTReceived(gtid ids.GTID, err error) Status

	Status() map[string]string

	Pause() (ids.Seqno, error)
	Resume() error
	Desync() error
	Resync() error
}
