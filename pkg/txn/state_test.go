package txn

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateStringCoversAllConstants(t *testing.T) {
	states := []State{Executing, Preparing, Certifying, Committing, OrderedCommit,
		Committed, CertFailed, MustAbort, Aborting, Aborted, MustReplay, Replaying}
	seen := map[string]bool{}
	for _, s := range states {
		str := s.String()
		assert.NotEqual(t, "unknown", str)
		assert.False(t, seen[str], "duplicate state string %q", str)
		seen[str] = true
	}
}

func TestCanTransitionAllowsDocumentedEdges(t *testing.T) {
	assert.True(t, canTransition(Executing, Preparing))
	assert.True(t, canTransition(Executing, Certifying))
	assert.True(t, canTransition(Certifying, Executing))
	assert.True(t, canTransition(MustAbort, MustReplay))
	assert.True(t, canTransition(Replaying, Aborted))
	assert.True(t, canTransition(Replaying, Committing))
}

func TestCanTransitionRejectsIllegalEdges(t *testing.T) {
	assert.False(t, canTransition(Executing, Committed))
	assert.False(t, canTransition(Committed, Executing))
	assert.False(t, canTransition(Aborted, Executing))
	assert.False(t, canTransition(OrderedCommit, MustAbort))
}

func TestFatalTransitionMessage(t *testing.T) {
	err := fatalTransition(Committed, Executing)
	assert.Contains(t, err.Error(), "committed -> executing")
	var fe *FatalError
	assert.ErrorAs(t, err, &fe)
}

func TestStatesListsEveryConstantOnce(t *testing.T) {
	states := States()
	assert.Len(t, states, 12)
	seen := map[State]bool{}
	for _, s := range states {
		assert.False(t, seen[s], "duplicate state %s", s)
		seen[s] = true
	}
}

func TestTransitionsMatchesCanTransition(t *testing.T) {
	for _, from := range States() {
		edges := Transitions(from)
		for _, to := range States() {
			assert.Equal(t, canTransition(from, to), containsState(edges, to),
				"canTransition(%s, %s) disagrees with Transitions(%s)", from, to, from)
		}
	}
}

func TestTransitionsReturnsACopy(t *testing.T) {
	edges := Transitions(Executing)
	edges[0] = Aborted
	assert.NotEqual(t, Aborted, Transitions(Executing)[0])
}

func containsState(states []State, s State) bool {
	for _, x := range states {
		if x == s {
			return true
		}
	}
	return false
}
