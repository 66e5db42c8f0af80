// Command echo-server runs a deterministic echo server: every chunk
// received on a connection is written back unmodified, driven entirely
// by the action-dispatch runtime rather than a goroutine-per-connection
// model.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/behrlich/automaton/internal/action"
	"github.com/behrlich/automaton/internal/dispatch"
	"github.com/behrlich/automaton/internal/obslog"
	"github.com/behrlich/automaton/internal/runtime"
	"github.com/behrlich/automaton/internal/tcp"
	"github.com/behrlich/automaton/internal/tcpserver"
	"github.com/behrlich/automaton/internal/timemodel"
	"github.com/behrlich/automaton/internal/uid"
)

const recvChunk = 4096

func main() {
	var (
		addr        = flag.String("addr", "127.0.0.1:9000", "listen address")
		maxConns    = flag.Int("max-conns", 64, "maximum simultaneous connections")
		pollTimeout = flag.Int64("poll-timeout", 100, "poll wait in milliseconds")
		recvTimeout = flag.Int64("recv-timeout", 30_000, "per-connection recv/send timeout in milliseconds, 0 for none")
		recordSess  = flag.String("record", "", "record this run's action stream under the given session name")
		replaySess  = flag.String("replay", "", "replay a previously recorded session instead of listening live")
		verbose     = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	log := obslog.New(logrus.Fields{"component": "echo-server"})
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	obslog.SetDefault(log)

	timeout := timemodel.Timeout(*recvTimeout)
	if *recvTimeout <= 0 {
		timeout = timemodel.Never
	}

	var stopping atomic.Bool
	listening := false

	makeTick := func(d *dispatch.Dispatcher, root *runtime.RootState) dispatch.TickFunc {
		return func() action.Action {
			if stopping.Load() {
				return runtime.Halt()
			}
			timemodel.RequestRefresh(d, root)
			if !listening {
				listening = true
				tcpserver.New(d, root, *addr, *maxConns,
					func(_ uid.Uid, boundAddr string, ok bool, errMsg string) action.Action {
						if ok {
							log.Info("listening", logrus.Fields{"addr": boundAddr})
						} else {
							log.Error("listen failed", logrus.Fields{"error": errMsg})
							stopping.Store(true)
						}
						return nil
					},
					func(_, conn uid.Uid) action.Action {
						log.Debug("accepted connection", logrus.Fields{"conn": conn})
						echoOnce(d, root, conn, timeout)
						return nil
					},
					func(_, conn uid.Uid, errMsg string) action.Action {
						log.Debug("connection closed", logrus.Fields{"conn": conn, "error": errMsg})
						return nil
					},
				)
				return nil
			}
			tcpserver.Poll(d, root, *pollTimeout)
			tcp.Poll(d, root, nil, *pollTimeout)
			return nil
		}
	}

	b := runtime.New().RegisterTCP().RegisterTCPServer().RegisterTime().RegisterIOAdapter()
	b.Instance(makeTick)
	runner := b.Build()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("received shutdown signal", nil)
		stopping.Store(true)
	}()

	var err error
	switch {
	case *recordSess != "":
		err = runner.Record(*recordSess)
	case *replaySess != "":
		err = runner.Replay(*replaySess)
	default:
		err = runner.Run()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "echo-server: %v\n", err)
		os.Exit(1)
	}
}

// echoOnce issues one Recv/Send round trip on a freshly accepted
// connection, re-arming itself after every successful send so the
// connection keeps echoing until the peer closes or an error occurs.
// Each Recv asks for recvChunk bytes; a shorter chunk is echoed when the
// recv timeout fires, so with no timeout only full chunks are echoed.
func echoOnce(d *dispatch.Dispatcher, root *runtime.RootState, conn uid.Uid, timeout timemodel.Timeout) {
	tcp.Recv(d, root, conn, recvChunk, timeout, func(r tcp.RecvResult) action.Action {
		if len(r.Buffered) == 0 || (!r.OK && !r.Partial) {
			return nil
		}
		tcp.Send(d, root, conn, r.Buffered, timeout, func(s tcp.SendResult) action.Action {
			if s.OK {
				echoOnce(d, root, conn, timeout)
			}
			return nil
		})
		return nil
	})
}
