package streaming

import (
	"fmt"

	"github.com/codership/wsrep-lib/pkg/ids"
)

// Unit is the granularity at which fragment boundaries are evaluated.
type Unit int

const (
	UnitBytes Unit = iota
	UnitRow
	UnitStatement
)

// Context is the mutable streaming-replication bookkeeping owned by one
// transaction. The zero value is a disabled context.
type Context struct {
	unit Unit
	size uint64

	fragmentsCertified uint64
	storedSeqnos       []ids.Seqno

	// rollingBackFor is the transaction id a streaming rollback is being
	// replicated for; InvalidTransactionID means no rollback in flight.
	rollingBackFor ids.TransactionID

	unitCounter    uint64
	bytesCertified uint64

	active bool
}

// New returns a freshly constructed, disabled streaming context.
func New() *Context {
	return &Context{rollingBackFor: ids.InvalidTransactionID}
}

// Enable turns on streaming with the given unit and fragment size. A size
// of zero is equivalent to Disable.
//
// The fragment unit cannot change while fragments are already stored;
// callers must call Enable only from executing state before any fragment
// has been certified if they intend to change unit.
func (c *Context) Enable(unit Unit, size uint64) error {
	if c.active && c.unit != unit && len(c.storedSeqnos) > 0 {
		return fmt.Errorf("streaming: cannot change fragment unit mid-transaction")
	}
	if size == 0 {
		c.Disable()
		return nil
	}
	c.unit = unit
	c.size = size
	c.active = true
	return nil
}

// Disable turns off streaming.
func (c *Context) Disable() {
	c.active = false
	c.size = 0
}

// Enabled reports whether streaming is turned on for this transaction.
func (c *Context) Enabled() bool { return c.active && c.size > 0 }

// Unit returns the configured fragment unit.
func (c *Context) Unit() Unit { return c.unit }

// Size returns the configured fragment size (0 means disabled).
func (c *Context) Size() uint64 { return c.size }

// Certified records that bytes more bytes have been certified by the
// provider, for the UnitBytes threshold check: bytes_generated >=
// bytes_certified + fragment_size.
func (c *Context) Certified(bytes uint64) {
	c.bytesCertified += bytes
	c.fragmentsCertified++
}

// ShouldCertifyBytes reports whether bytesGenerated has crossed the next
// byte-unit fragment boundary.
func (c *Context) ShouldCertifyBytes(bytesGenerated uint64) bool {
	return c.Enabled() && c.unit == UnitBytes && bytesGenerated >= c.bytesCertified+c.size
}

// Stored records the seqno assigned to a fragment that was successfully
// certified and persisted. Stored seqnos must be strictly increasing.
func (c *Context) Stored(seqno ids.Seqno) error {
	if n := len(c.storedSeqnos); n > 0 && !c.storedSeqnos[n-1].Less(seqno) {
		return fmt.Errorf("streaming: fragment seqno %d does not increase on previous %d", seqno, c.storedSeqnos[n-1])
	}
	c.storedSeqnos = append(c.storedSeqnos, seqno)
	return nil
}

// Applied is a hook invoked when a stored fragment has been applied
// locally (reserved for symmetry with Stored/RolledBack; currently a
// no-op observation point).
func (c *Context) Applied(ids.Seqno) {}

// RolledBack marks that a streaming rollback is being replicated for the
// given transaction id.
func (c *Context) RolledBack(trx ids.TransactionID) {
	c.rollingBackFor = trx
}

// RollbackInFlightFor returns the transaction id a streaming rollback is
// being replicated for, or InvalidTransactionID if none.
func (c *Context) RollbackInFlightFor() ids.TransactionID {
	return c.rollingBackFor
}

// UnitCounter returns the generic counter used by after-row / after-
// statement hooks to track progress toward the next fragment boundary.
func (c *Context) UnitCounter() uint64 { return c.unitCounter }

// IncrementUnitCounter advances the unit counter by n and reports whether
// it has reached the configured fragment size (for UnitRow/UnitStatement).
func (c *Context) IncrementUnitCounter(n uint64) bool {
	c.unitCounter += n
	return c.Enabled() && c.unit != UnitBytes && c.unitCounter >= c.size
}

// ResetUnitCounter zeroes the unit counter, called after a fragment is
// certified.
func (c *Context) ResetUnitCounter() { c.unitCounter = 0 }

// FragmentsCertified returns the number of fragments certified so far.
func (c *Context) FragmentsCertified() uint64 { return c.fragmentsCertified }

// Fragments returns the ordered list of seqnos for fragments stored so
// far. The returned slice is a copy; callers must not rely on aliasing.
func (c *Context) Fragments() []ids.Seqno {
	out := make([]ids.Seqno, len(c.storedSeqnos))
	copy(out, c.storedSeqnos)
	return out
}

// Cleanup resets all counters and empties the stored seqno list. Called
// both after commit and after a voluntary rollback settles.
func (c *Context) Cleanup() {
	c.fragmentsCertified = 0
	c.storedSeqnos = nil
	c.rollingBackFor = ids.InvalidTransactionID
	c.unitCounter = 0
	c.bytesCertified = 0
	c.active = false
	c.size = 0
	c.unit = UnitBytes
}
