package prngmodel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeRoot struct{ prng State }

func (f *fakeRoot) PRNGState() *State { return &f.prng }

func TestSeedIsDeterministic(t *testing.T) {
	a, b := &fakeRoot{}, &fakeRoot{}
	Seed(a, 42)
	Seed(b, 42)

	for i := 0; i < 10; i++ {
		require.Equal(t, Next(a), Next(b))
	}
}

func TestDifferentSeedsDiverge(t *testing.T) {
	a, b := &fakeRoot{}, &fakeRoot{}
	Seed(a, 1)
	Seed(b, 2)
	require.NotEqual(t, Next(a), Next(b))
}

func TestZeroSeedRemapped(t *testing.T) {
	r := &fakeRoot{}
	Seed(r, 0)
	require.False(t, r.prng.S0 == 0 && r.prng.S1 == 0)
}

func TestNextBytesFillsFully(t *testing.T) {
	r := &fakeRoot{}
	Seed(r, 7)
	buf := make([]byte, 19)
	NextBytes(r, buf)

	allZero := true
	for _, b := range buf {
		if b != 0 {
			allZero = false
			break
		}
	}
	require.False(t, allZero)
}
