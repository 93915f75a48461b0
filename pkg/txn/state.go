package txn

// State is one of the twelve states a transaction can be in.
type State int

const (
	Executing State = iota
	Preparing
	Certifying
	Committing
	OrderedCommit
	Committed
	CertFailed
	MustAbort
	Aborting
	Aborted
	MustReplay
	Replaying
)

func (s State) String() string {
	switch s {
	case Executing:
		return "executing"
	case Preparing:
		return "preparing"
	case Certifying:
		return "certifying"
	case Committing:
		return "committing"
	case OrderedCommit:
		return "ordered_commit"
	case Committed:
		return "committed"
	case CertFailed:
		return "cert_failed"
	case MustAbort:
		return "must_abort"
	case Aborting:
		return "aborting"
	case Aborted:
		return "aborted"
	case MustReplay:
		return "must_replay"
	case Replaying:
		return "replaying"
	default:
		return "unknown"
	}
}

// transitions is the allowed-transition matrix for the transaction state
// machine. An attempt to take an edge not listed here is a fatal
// programming error.
var transitions = map[State][]State{
	Executing:     {Preparing, Certifying, MustAbort, Aborting},
	Preparing:     {Certifying, MustAbort},
	Certifying:    {Executing, Committing, CertFailed, MustAbort},
	Committing:    {OrderedCommit, Committed, MustAbort},
	OrderedCommit: {Committed},
	Committed:     {},
	CertFailed:    {Aborting},
	MustAbort:     {CertFailed, Aborting, MustReplay},
	Aborting:      {Aborted},
	Aborted:       {},
	MustReplay:    {Replaying},
	Replaying:     {Preparing, Committing, Aborted},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// States lists every transaction state in declaration order.
func States() []State {
	return []State{Executing, Preparing, Certifying, Committing, OrderedCommit,
		Committed, CertFailed, MustAbort, Aborting, Aborted, MustReplay, Replaying}
}

// Transitions returns the allowed outgoing edges for a state, in the
// same order they appear in the internal transition matrix.
func Transitions(from State) []State {
	edges := transitions[from]
	out := make([]State, len(edges))
	copy(out, edges)
	return out
}
