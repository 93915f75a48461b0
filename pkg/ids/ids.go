package ids

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ServerIDLen is the maximum byte length of a raw (non-UUID) server id.
const ServerIDLen = 16

// ServerID is a 16-byte server identifier, either a parsed UUID or up to 16
// ASCII bytes zero-padded. The zero value is the distinguished "undefined"
// id. The storage format is decided at construction: a canonical UUID
// string is kept binary and rendered back as UUID text; any other byte
// string is copied verbatim and rendered back as its ASCII prefix.
type ServerID struct {
	data   [ServerIDLen]byte
	isUUID bool
}

// UndefinedServerID is the zero-valued, distinguished undefined server id.
var UndefinedServerID ServerID

// NewServerIDFromUUID parses a canonical 36-character UUID string into a
// ServerID.
func NewServerIDFromUUID(s string) (ServerID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ServerID{}, fmt.Errorf("ids: invalid server id uuid %q: %w", s, err)
	}
	var id ServerID
	copy(id.data[:], u[:])
	id.isUUID = true
	return id, nil
}

// NewServerIDFromBytes builds a ServerID from an opaque byte string of
// length at most ServerIDLen, zero-padded. Oversized input is a
// construction error.
func NewServerIDFromBytes(b []byte) (ServerID, error) {
	if len(b) > ServerIDLen {
		return ServerID{}, fmt.Errorf("ids: server id %q exceeds %d bytes", b, ServerIDLen)
	}
	var id ServerID
	copy(id.data[:], b)
	return id, nil
}

// IsUndefined reports whether the id is the zero value.
func (id ServerID) IsUndefined() bool {
	return id == UndefinedServerID
}

// Bytes returns the raw 16-byte representation.
func (id ServerID) Bytes() [ServerIDLen]byte { return id.data }

// String renders the id as a canonical UUID if it was constructed from
// one, otherwise as the raw ASCII prefix up to the first zero byte.
func (id ServerID) String() string {
	if id.isUUID {
		u, _ := uuid.FromBytes(id.data[:])
		return u.String()
	}
	if n := strings.IndexByte(string(id.data[:]), 0); n >= 0 {
		return string(id.data[:n])
	}
	return string(id.data[:])
}

// ClientID is a connection identifier. UndefinedClientID (all-ones) marks
// "no client".
type ClientID uint64

// UndefinedClientID is the distinguished "no client" value.
const UndefinedClientID ClientID = ^ClientID(0)

// IsUndefined reports whether this is the undefined client id.
func (c ClientID) IsUndefined() bool { return c == UndefinedClientID }

// TransactionID identifies a transaction. InvalidTransactionID (all-ones)
// marks "no active transaction".
type TransactionID uint64

// InvalidTransactionID is the distinguished "not active" value.
const InvalidTransactionID TransactionID = ^TransactionID(0)

// IsInvalid reports whether this is the invalid/inactive transaction id.
func (t TransactionID) IsInvalid() bool { return t == InvalidTransactionID }

// Seqno is a position in the provider's global commit order. It is
// non-negative when defined; zero is "undefined". Deliberately no ==
// operator contract beyond IsUndefined — callers compare ordering with
// Less/Greater only, never equality, to force explicit undefined checks.
type Seqno int64

// UndefinedSeqno is the distinguished "not assigned" seqno.
const UndefinedSeqno Seqno = 0

// IsUndefined reports whether the seqno is unassigned.
func (s Seqno) IsUndefined() bool { return s == UndefinedSeqno }

// Less reports whether s orders before other. Both must be defined;
// comparing an undefined seqno is a programming error the caller must
// avoid.
func (s Seqno) Less(other Seqno) bool { return s < other }

// Greater reports whether s orders after other.
func (s Seqno) Greater(other Seqno) bool { return s > other }

// GTID is a global transaction identifier: a position in one server's
// commit order.
type GTID struct {
	Server ServerID
	Seqno  Seqno
}

// UndefinedGTID is a GTID whose seqno is undefined.
var UndefinedGTID = GTID{}

// IsUndefined reports whether the GTID is undefined (seqno undefined).
func (g GTID) IsUndefined() bool { return g.Seqno.IsUndefined() }

func (g GTID) String() string {
	return fmt.Sprintf("%s:%d", g.Server, g.Seqno)
}

// SourceID (stid) identifies a transaction's origin across the cluster.
type SourceID struct {
	Server ServerID
	Trx    TransactionID
	Client ClientID
}

// WriteSetHandle is the provider-opaque token for a registered write set.
// Opaque is nil until the provider first registers the write set and must
// be carried verbatim thereafter.
type WriteSetHandle struct {
	Trx    TransactionID
	Opaque any
}

// IsOpaqueSet reports whether the provider has attached its token yet.
func (h WriteSetHandle) IsOpaqueSet() bool { return h.Opaque != nil }

// Flags is a bit-set over write-set properties. Bit positions are fixed
// for wire compatibility with the provider.
type Flags uint32

const (
	FlagStartTransaction Flags = 1 << 0
	FlagCommit           Flags = 1 << 1
	FlagRollback         Flags = 1 << 2
	FlagIsolation        Flags = 1 << 3
	FlagPAUnsafe         Flags = 1 << 4
	FlagCommutative      Flags = 1 << 5
	FlagNative           Flags = 1 << 6
	FlagSnapshot         Flags = 1 << 7
)

// Has reports whether all bits in mask are set.
func (f Flags) Has(mask Flags) bool { return f&mask == mask }

// WSMeta is write-set metadata: global ordering position, origin, causal
// dependency, and flags.
type WSMeta struct {
	GTID      GTID
	Source    SourceID
	DependsOn Seqno
	Flags     Flags
}

// Seqno is a convenience accessor for the GTID's ordering position.
func (m WSMeta) Seqno() Seqno { return m.GTID.Seqno }

// ViewStatus is cluster membership status.
type ViewStatus int

const (
	ViewPrimary ViewStatus = iota
	ViewNonPrimary
	ViewDisconnected
)

// ViewMember is one node's entry in a View.
type ViewMember struct {
	ID           ServerID
	Name         string
	IncomingAddr string
}

// View is cluster membership state as delivered by the provider.
type View struct {
	StateGTID    GTID
	ViewSeqno    int64
	Status       ViewStatus
	Capabilities uint32
	OwnIndex     int
	ProtoVersion int
	Members      []ViewMember
}

// Final reports whether this is the terminal, empty view (members empty
// and own index -1), signalling permanent disconnection.
func (v View) Final() bool {
	return len(v.Members) == 0 && v.OwnIndex == -1
}
