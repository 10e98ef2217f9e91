package token

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReservedRange(t *testing.T) {
	require.True(t, And.Reserved())
	require.True(t, While.Reserved())
	require.False(t, Name.Reserved())
	require.False(t, Plus.Reserved())
}

func TestReservedWordsOrder(t *testing.T) {
	words := ReservedWords()
	require.Equal(t, int(LastReserved-FirstReserved)+1, len(words))
	require.Equal(t, "and", words[0])
	require.Equal(t, "while", words[len(words)-1])
	for i, w := range words {
		require.Equal(t, w, (FirstReserved + Type(i)).String())
	}
}

func TestStringRepresentations(t *testing.T) {
	require.Equal(t, "<eof>", EOF.String())
	require.Equal(t, "<name>", Name.String())
	require.Equal(t, "..", Concat.String())
	require.Equal(t, "...", Ellipsis.String())
	require.Equal(t, "::", DoubleColon.String())
}
