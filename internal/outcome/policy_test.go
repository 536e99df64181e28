package outcome

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePolicies(t *testing.T) {
	tb, err := ParseTieBreak("")
	require.NoError(t, err)
	assert.Equal(t, TieBreakStopFirst, tb)
	tb, err = ParseTieBreak(" Target_First ")
	require.NoError(t, err)
	assert.Equal(t, TieBreakTargetFirst, tb)
	_, err = ParseTieBreak("coin_flip")
	assert.Error(t, err)

	res, err := ParseResolution("all_targets")
	require.NoError(t, err)
	assert.Equal(t, ResolutionAllTargets, res)
	_, err = ParseResolution("weighted")
	assert.Error(t, err)

	assert.Equal(t, "stop_first/first_target", Policy{}.String())
}

func TestStateLattice(t *testing.T) {
	assert.True(t, CanTransition(StatePending, StateEntryFilled))
	assert.True(t, CanTransition(StatePending, StateExpired))
	assert.True(t, CanTransition(StateEntryFilled, StateWon))
	assert.False(t, CanTransition(StateEntryFilled, StatePending))
	assert.False(t, CanTransition(StateWon, StateLost))
	assert.False(t, CanTransition(StatePending, StatePending))
	assert.False(t, CanTransition("BOGUS", StateWon))

	s, err := ParseState("won")
	require.NoError(t, err)
	assert.Equal(t, StateWon, s)
	assert.True(t, s.Terminal())
	assert.True(t, s.Decisive())
	assert.False(t, StateExpired.Decisive())
}
