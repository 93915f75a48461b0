package dispatcher

import (
	"errors"
	"fmt"

	"github.com/codership/wsrep-lib/pkg/ids"
	"github.com/codership/wsrep-lib/pkg/metrics"
	"github.com/codership/wsrep-lib/pkg/provider"
	"github.com/codership/wsrep-lib/pkg/wsreplog"
)

// ErrNotImplemented is returned for write-set classes this dispatcher does
// not yet apply: commutative and native write sets, and non-blocking
// operation begin/end fragments.
var ErrNotImplemented = errors.New("dispatcher: write set class not implemented")

// ErrorVoter decides how a total-order isolated apply failure affects
// commit order. The real Galera error-voting protocol exchanges per-seqno
// votes across the cluster and diverges a node whose vote disagrees with
// the majority; that exchange is out of scope here; NoopErrorVoter is the
// default stand-in. A production ErrorVoter would replace this with one
// backed by the provider's vote exchange.
type ErrorVoter interface {
	// Vote is asked to reconcile a TOI apply failure. Returning nil means
	// commit order proceeds as if the apply had succeeded; returning an
	// error means the dispatcher treats this node as diverged.
	Vote(meta ids.WSMeta, applyErr error) error
}

// NoopErrorVoter always keeps commit order moving forward regardless of a
// local TOI apply failure (which the dispatcher logs), never diverging.
// TODO: wire an ErrorVoter that actually exchanges votes once the
// provider exposes an error-voting RPC.
type NoopErrorVoter struct{}

// Vote implements ErrorVoter by always accepting commit order.
func (NoopErrorVoter) Vote(ids.WSMeta, error) error { return nil }

// ApplierRegistry is the subset of the server state machine the
// dispatcher needs to find and manage streaming appliers. *server.Server
// satisfies this interface.
type ApplierRegistry interface {
	FindStreamingApplier(origin ids.ServerID, trx ids.TransactionID) (provider.HighPriorityService, bool)
	StartStreamingApplier(origin ids.ServerID, trx ids.TransactionID) (provider.HighPriorityService, error)
	StopStreamingApplier(origin ids.ServerID, trx ids.TransactionID)
}

// Dispatcher classifies and applies write sets delivered by the provider.
type Dispatcher struct {
	Registry ApplierRegistry
	Voter    ErrorVoter
	Log      wsreplog.Sink
}

// New builds a Dispatcher. A nil voter defaults to NoopErrorVoter.
func New(registry ApplierRegistry, voter ErrorVoter) *Dispatcher {
	if voter == nil {
		voter = NoopErrorVoter{}
	}
	return &Dispatcher{Registry: registry, Voter: voter, Log: wsreplog.DefaultSink()}
}

// Apply routes one delivered write set to the correct apply path: total
// order isolation, commutative/native (unsupported), or the regular/
// streaming write-set paths.
func (d *Dispatcher) Apply(p provider.Provider, hps provider.HighPriorityService, handle ids.WriteSetHandle, meta ids.WSMeta, data []byte) error {
	switch {
	case meta.Flags.Has(ids.FlagIsolation):
		return d.applyTOI(p, hps, meta, data)
	case meta.Flags.Has(ids.FlagCommutative), meta.Flags.Has(ids.FlagNative):
		return ErrNotImplemented
	default:
		return d.applyWriteSet(hps, handle, meta, data)
	}
}

// applyTOI runs a total-order isolated statement between commit_order
// enter/leave. Non-blocking operation begin/end fragments are a distinct
// start-only or commit-only shape this dispatcher does not implement.
func (d *Dispatcher) applyTOI(p provider.Provider, hps provider.HighPriorityService, meta ids.WSMeta, data []byte) error {
	switch {
	case meta.Flags.Has(ids.FlagStartTransaction) && meta.Flags.Has(ids.FlagCommit):
		handle := ids.WriteSetHandle{Trx: meta.Source.Trx}
		if status := p.CommitOrderEnter(handle, meta); status != provider.Success {
			return fmt.Errorf("dispatcher: toi commit order enter: %s", status)
		}
		timer := metrics.NewTimer()
		applyErr := hps.ApplyTOI(meta, data)
		if status := p.CommitOrderLeave(handle, meta); status != provider.Success {
			return fmt.Errorf("dispatcher: toi commit order leave: %s", status)
		}
		timer.ObserveDuration(metrics.CommitOrderDuration)
		if applyErr != nil {
			d.Log.Logf(wsreplog.WarnLevel, "dispatcher: toi apply failed for %s: %v", meta.GTID, applyErr)
			return d.Voter.Vote(meta, applyErr)
		}
		return nil
	case meta.Flags.Has(ids.FlagStartTransaction), meta.Flags.Has(ids.FlagCommit):
		return ErrNotImplemented
	default:
		return fmt.Errorf("dispatcher: isolated write set with no start/commit flag")
	}
}

// applyWriteSet classifies a non-TOI write set by its start/commit/
// rollback flags and routes it to the matching apply path.
func (d *Dispatcher) applyWriteSet(hps provider.HighPriorityService, handle ids.WriteSetHandle, meta ids.WSMeta, data []byte) error {
	flags := meta.Flags
	switch {
	case flags.Has(ids.FlagStartTransaction) && flags.Has(ids.FlagCommit) && flags.Has(ids.FlagRollback):
		hps.LogDummyWriteSet(meta, data)
		return nil
	case flags.Has(ids.FlagStartTransaction) && flags.Has(ids.FlagCommit):
		return d.applyOnePhase(hps, handle, meta, data)
	case flags.Has(ids.FlagStartTransaction):
		return d.applyFirstFragment(hps, handle, meta, data)
	case flags == 0:
		return d.applyContinuationFragment(hps, meta, data)
	case flags.Has(ids.FlagCommit):
		return d.applyCommitFragment(hps, handle, meta, data)
	case flags.Has(ids.FlagRollback):
		return d.applyRollbackFragment(hps, handle, meta, data)
	default:
		return fmt.Errorf("dispatcher: write set with unrecognized flag combination %v", flags)
	}
}

// applyOnePhase applies a complete, unfragmented transaction in one shot:
// start, apply, commit, rolling back locally on any failure.
func (d *Dispatcher) applyOnePhase(hps provider.HighPriorityService, handle ids.WriteSetHandle, meta ids.WSMeta, data []byte) error {
	defer hps.AfterApply()
	if err := hps.StartTransaction(handle, meta); err != nil {
		_ = hps.Rollback()
		return fmt.Errorf("dispatcher: one-phase start: %w", err)
	}
	if err := hps.ApplyWriteSet(meta, data); err != nil {
		_ = hps.Rollback()
		return fmt.Errorf("dispatcher: one-phase apply: %w", err)
	}
	if err := hps.Commit(handle, meta); err != nil {
		_ = hps.Rollback()
		return fmt.Errorf("dispatcher: one-phase commit: %w", err)
	}
	return nil
}

// applyFirstFragment spawns and registers a streaming applier for a new
// transaction, then applies and persists its first fragment.
func (d *Dispatcher) applyFirstFragment(hps provider.HighPriorityService, handle ids.WriteSetHandle, meta ids.WSMeta, data []byte) error {
	if _, exists := d.Registry.FindStreamingApplier(meta.Source.Server, meta.Source.Trx); exists {
		return fmt.Errorf("dispatcher: streaming applier already registered for %s/%d", meta.Source.Server, meta.Source.Trx)
	}
	sa, err := d.Registry.StartStreamingApplier(meta.Source.Server, meta.Source.Trx)
	if err != nil {
		return fmt.Errorf("dispatcher: start streaming applier: %w", err)
	}
	if err := sa.StartTransaction(handle, meta); err != nil {
		return fmt.Errorf("dispatcher: streaming applier start transaction: %w", err)
	}
	return d.applyFragment(hps, sa, handle, meta, data, "first")
}

// applyContinuationFragment applies and persists a non-terminal fragment
// of an already-registered streaming transaction.
func (d *Dispatcher) applyContinuationFragment(hps provider.HighPriorityService, meta ids.WSMeta, data []byte) error {
	sa, ok := d.Registry.FindStreamingApplier(meta.Source.Server, meta.Source.Trx)
	if !ok {
		d.Log.Logf(wsreplog.WarnLevel, "dispatcher: could not find applier context for %s:%d", meta.Source.Server, meta.Source.Trx)
		hps.LogDummyWriteSet(meta, data)
		return nil
	}
	return d.applyFragment(hps, sa, ids.WriteSetHandle{Trx: meta.Source.Trx}, meta, data, "continuation")
}

// applyFragment applies one fragment's data through the streaming
// applier, then persists it on the dispatching service's fragment store.
func (d *Dispatcher) applyFragment(hps, sa provider.HighPriorityService, handle ids.WriteSetHandle, meta ids.WSMeta, data []byte, kind string) error {
	if err := sa.ApplyWriteSet(meta, data); err != nil {
		sa.AfterApply()
		return fmt.Errorf("dispatcher: fragment apply: %w", err)
	}
	sa.AfterApply()
	defer hps.AfterApply()
	if err := hps.AppendFragment(meta, data); err != nil {
		return fmt.Errorf("dispatcher: fragment append: %w", err)
	}
	if err := hps.Commit(handle, meta); err != nil {
		return fmt.Errorf("dispatcher: fragment commit: %w", err)
	}
	metrics.FragmentsAppliedTotal.WithLabelValues(kind).Inc()
	return nil
}

// applyCommitFragment applies the final fragment of a streaming
// transaction, consuming and releasing its streaming applier. If the
// dispatching service is itself replaying, there is no separate
// streaming applier to consume: apply and commit happen directly.
func (d *Dispatcher) applyCommitFragment(hps provider.HighPriorityService, handle ids.WriteSetHandle, meta ids.WSMeta, data []byte) error {
	if hps.IsReplaying() {
		if err := hps.ApplyWriteSet(meta, data); err != nil {
			return fmt.Errorf("dispatcher: replay commit-fragment apply: %w", err)
		}
		if err := hps.Commit(handle, meta); err != nil {
			return fmt.Errorf("dispatcher: replay commit-fragment commit: %w", err)
		}
		metrics.FragmentsAppliedTotal.WithLabelValues("commit").Inc()
		return nil
	}

	sa, ok := d.Registry.FindStreamingApplier(meta.Source.Server, meta.Source.Trx)
	if !ok {
		d.Log.Logf(wsreplog.WarnLevel, "dispatcher: could not find applier context for %s:%d", meta.Source.Server, meta.Source.Trx)
		hps.LogDummyWriteSet(meta, data)
		return nil
	}
	defer d.Registry.StopStreamingApplier(meta.Source.Server, meta.Source.Trx)
	if err := sa.ApplyWriteSet(meta, data); err != nil {
		return fmt.Errorf("dispatcher: commit-fragment apply: %w", err)
	}
	if err := sa.RemoveFragments(meta); err != nil {
		return fmt.Errorf("dispatcher: commit-fragment remove fragments: %w", err)
	}
	if err := sa.Commit(handle, meta); err != nil {
		return fmt.Errorf("dispatcher: commit-fragment commit: %w", err)
	}
	sa.AfterApply()
	metrics.FragmentsAppliedTotal.WithLabelValues("commit").Inc()
	return nil
}

// applyRollbackFragment rolls back a streaming transaction's applier and
// persists the rollback on the dispatching service. A missing applier is
// treated the same as a missing continuation/commit applier: log a
// warning and commit a dummy write set so commit order keeps moving.
func (d *Dispatcher) applyRollbackFragment(hps provider.HighPriorityService, handle ids.WriteSetHandle, meta ids.WSMeta, data []byte) error {
	sa, ok := d.Registry.FindStreamingApplier(meta.Source.Server, meta.Source.Trx)
	if !ok {
		d.Log.Logf(wsreplog.WarnLevel, "dispatcher: could not find applier context for %s:%d", meta.Source.Server, meta.Source.Trx)
		hps.LogDummyWriteSet(meta, data)
		return nil
	}
	if err := hps.AdoptTransaction(meta.Source.Trx); err != nil {
		return fmt.Errorf("dispatcher: rollback-fragment adopt: %w", err)
	}
	_ = sa.Rollback()
	sa.AfterApply()
	d.Registry.StopStreamingApplier(meta.Source.Server, meta.Source.Trx)

	if err := hps.RemoveFragments(meta); err != nil {
		return fmt.Errorf("dispatcher: rollback-fragment remove fragments: %w", err)
	}
	if err := hps.Commit(handle, meta); err != nil {
		return fmt.Errorf("dispatcher: rollback-fragment commit: %w", err)
	}
	hps.AfterApply()
	metrics.FragmentsAppliedTotal.WithLabelValues("rollback").Inc()
	return nil
}
