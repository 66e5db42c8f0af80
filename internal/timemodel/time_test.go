package timemodel

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/behrlich/automaton/internal/dispatch"
	"github.com/behrlich/automaton/internal/ioeffect"
	"github.com/behrlich/automaton/internal/uid"
)

type fakeRoot struct {
	time State
}

func (f *fakeRoot) TimeState() *State { return &f.time }

func TestRequestRefreshIsIdempotentWhilePending(t *testing.T) {
	var src uid.Source
	d := dispatch.New(nil, &src)
	root := &fakeRoot{}

	RequestRefresh(d, root)
	require.True(t, root.time.Pending)
	require.Equal(t, 1, d.Len())

	RequestRefresh(d, root)
	require.Equal(t, 1, d.Len(), "a second refresh while pending must not enqueue another request")
}

func TestApplyUpdatesCachedClock(t *testing.T) {
	root := &fakeRoot{}
	root.time.Pending = true

	ok := Apply(root, &systemTimeApplied{millis: 1234})
	require.True(t, ok)
	require.Equal(t, Millis(1234), root.time.NowMs)
	require.False(t, root.time.Pending)
}

func TestApplyIgnoresUnrelatedActions(t *testing.T) {
	root := &fakeRoot{}
	ok := Apply(root, &ioeffect.IOResult{})
	require.False(t, ok)
}

func TestGetTimeoutAbsoluteNever(t *testing.T) {
	root := &fakeRoot{}
	root.time.NowMs = 100
	require.Equal(t, Millis(^uint64(0)>>1), GetTimeoutAbsolute(root, Never))
}

func TestGetTimeoutAbsoluteRelative(t *testing.T) {
	root := &fakeRoot{}
	root.time.NowMs = 100
	require.Equal(t, Millis(150), GetTimeoutAbsolute(root, Timeout(50)))
}

func TestTimeoutElapsed(t *testing.T) {
	require.True(t, Timeout(10).Elapsed(110, 110))
	require.False(t, Timeout(10).Elapsed(110, 109))
	require.False(t, Never.Elapsed(110, 999999))
}
