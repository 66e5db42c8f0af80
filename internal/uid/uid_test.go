package uid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSourceMonotonic(t *testing.T) {
	var s Source
	seen := make(map[Uid]bool)
	prev := Zero
	for i := 0; i < 1000; i++ {
		u := s.New()
		require.False(t, u.IsZero(), "New must never hand out the sentinel")
		require.Greater(t, u.Uint64(), prev.Uint64(), "allocation must be strictly increasing")
		require.False(t, seen[u], "uid %v allocated twice", u)
		seen[u] = true
		prev = u
	}
}

func TestPeekDoesNotConsume(t *testing.T) {
	var s Source
	first := s.Peek()
	second := s.New()
	require.Equal(t, first, second)
}

func TestFromUint64RoundTrip(t *testing.T) {
	u := FromUint64(42)
	require.Equal(t, uint64(42), u.Uint64())
}
