package rules

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseMove(t *testing.T) {
	for _, s := range []string{"ROCK", "PAPER", "SCISSORS"} {
		mv, err := ParseMove(s)
		require.NoError(t, err)
		require.Equal(t, Move(s), mv)
	}

	for _, s := range []string{"", "rock", "LIZARD", "ROCK "} {
		_, err := ParseMove(s)
		require.ErrorIs(t, err, ErrInvalidMove, "input %q", s)
	}
}

func TestTwoPlayerElimination(t *testing.T) {
	e := CyclicElimination{}

	out := e.Eliminated(map[string]Move{"u1": MoveRock, "u2": MoveScissors})
	require.Equal(t, []string{"u2"}, out)

	out = e.Eliminated(map[string]Move{"u1": MovePaper, "u2": MoveRock})
	require.Equal(t, []string{"u2"}, out)

	// empate: ninguém sai
	out = e.Eliminated(map[string]Move{"u1": MoveRock, "u2": MoveRock})
	require.Empty(t, out)
}

func TestMultiplayerElimination(t *testing.T) {
	e := CyclicElimination{}

	// dois gestos na mesa: o gesto dominado sai inteiro
	out := e.Eliminated(map[string]Move{
		"u1": MoveRock,
		"u2": MoveRock,
		"u3": MoveScissors,
		"u4": MoveScissors,
	})
	require.ElementsMatch(t, []string{"u3", "u4"}, out)

	// três gestos na mesa: empate, todos avançam
	out = e.Eliminated(map[string]Move{
		"u1": MoveRock,
		"u2": MovePaper,
		"u3": MoveScissors,
	})
	require.Empty(t, out)

	// um gesto só: empate
	out = e.Eliminated(map[string]Move{
		"u1": MovePaper,
		"u2": MovePaper,
		"u3": MovePaper,
	})
	require.Empty(t, out)
}

func TestEqualSplitShares(t *testing.T) {
	s := EqualSplit{}

	require.Equal(t, []int64{195}, s.Shares(195, []string{"u1"}))
	require.Equal(t, []int64{98, 97}, s.Shares(195, []string{"u1", "u2"}))
	require.Equal(t, []int64{65, 65, 65}, s.Shares(195, []string{"u1", "u2", "u3"}))

	// soma sempre fecha com o payout
	for _, payout := range []int64{0, 1, 7, 100, 999} {
		for n := 1; n <= 5; n++ {
			winners := make([]string, n)
			var sum int64
			for _, sh := range s.Shares(payout, winners) {
				sum += sh
			}
			require.Equal(t, payout, sum, "payout=%d n=%d", payout, n)
		}
	}
}
