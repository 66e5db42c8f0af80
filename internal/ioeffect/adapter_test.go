package ioeffect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/behrlich/automaton/internal/uid"
)

func TestPollCreateAndEventsCreate(t *testing.T) {
	a := New(nil)
	defer a.Close()

	pollUID := uid.Uid(1)
	require.NoError(t, a.pollCreate(pollUID))
	require.NoError(t, a.eventsCreate(pollUID, 32))
	require.Equal(t, 32, a.polls[pollUID].eventsCap)
}

func TestListenConnectAcceptEchoRoundTrip(t *testing.T) {
	a := New(nil)
	defer a.Close()

	listenerUID := uid.Uid(1)
	bound, err := a.tcpListen(listenerUID, "127.0.0.1:0")
	require.NoError(t, err)
	require.NotEmpty(t, bound)

	clientUID := uid.Uid(2)
	err = a.tcpConnect(clientUID, bound)
	require.True(t, err == nil || isWouldBlock(err))

	// Give the kernel a moment to complete the loopback handshake before
	// accepting; a production caller instead waits on poll readiness.
	time.Sleep(20 * time.Millisecond)

	serverSideUID := uid.Uid(3)
	var acceptErr error
	for i := 0; i < 50; i++ {
		_, _, acceptErr = a.tcpAccept(listenerUID, serverSideUID)
		if acceptErr == nil {
			break
		}
		if !isWouldBlock(acceptErr) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.NoError(t, acceptErr)

	msg := []byte("ping")
	var n int
	for i := 0; i < 50; i++ {
		n, err = a.tcpWrite(clientUID, msg)
		if err == nil || !isWouldBlock(err) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.NoError(t, err)
	require.Equal(t, len(msg), n)

	var got []byte
	for i := 0; i < 50; i++ {
		got, err = a.tcpRead(serverSideUID, 16)
		if err == nil || !isWouldBlock(err) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.NoError(t, err)
	require.Equal(t, msg, got)

	require.NoError(t, a.tcpClose(clientUID))
	require.NoError(t, a.tcpClose(serverSideUID))
	require.NoError(t, a.tcpClose(listenerUID))
}

func TestSystemTimeMillisIsPlausible(t *testing.T) {
	a := New(nil)
	defer a.Close()

	before := uint64(time.Now().UnixMilli())
	got := a.systemTimeMillis()
	after := uint64(time.Now().UnixMilli())
	require.GreaterOrEqual(t, got, before)
	require.LessOrEqual(t, got, after+50)
}

func TestReplayModeNeverTouchesKernel(t *testing.T) {
	a := NewReplay(nil)
	defer a.Close()

	require.True(t, a.replay)
	require.Empty(t, a.listeners)
}
