// Command pnet-server runs an echo server over the pre-shared-key
// encrypted overlay (PNet): every connection must complete the nonce
// handshake before any bytes are echoed back.
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
	"github.com/behrlich/automaton/internal/pnet"
	"github.com/behrlich/automaton/internal/runtime"
	"github.com/behrlich/automaton/internal/tcp"
	"github.com/behrlich/automaton/internal/tcpserver"
	"github.com/behrlich/automaton/internal/timemodel"
	"github.com/behrlich/automaton/internal/uid"
)

const recvChunk = 4096

func main() {
	var (
		addr        = flag.String("addr", "127.0.0.1:9100", "listen address")
		chainID     = flag.String("chain-id", "automaton-demo", "chain id the pre-shared key is derived from")
		maxConns    = flag.Int("max-conns", 64, "maximum simultaneous connections")
		pollTimeout = flag.Int64("poll-timeout", 100, "poll wait in milliseconds")
		handshakeTO = flag.Int64("handshake-timeout", 5_000, "handshake timeout in milliseconds")
		recordSess  = flag.String("record", "", "record this run's action stream under the given session name")
		replaySess  = flag.String("replay", "", "replay a previously recorded session instead of listening live")
		verbose     = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	log := obslog.New(logrus.Fields{"component": "pnet-server"})
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	obslog.SetDefault(log)

	psk, err := pnet.DerivePSK(*chainID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pnet-server: derive psk: %v\n", err)
		os.Exit(1)
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
						pnet.Bootstrap(d, root, conn, timemodel.Timeout(*handshakeTO), func(connID uid.Uid, ok bool, errMsg string) action.Action {
							if !ok {
								log.Debug("handshake failed", logrus.Fields{"conn": connID, "error": errMsg})
								return nil
							}
							echoOnce(d, root, connID)
							return nil
						})
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
	b.Instance(makeTick, runtime.WithPSK(psk))
	runner := b.Build()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("received shutdown signal", nil)
		stopping.Store(true)
	}()

	switch {
	case *recordSess != "":
		err = runner.Record(*recordSess)
	case *replaySess != "":
		err = runner.Replay(*replaySess)
	default:
		err = runner.Run()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "pnet-server: %v\n", err)
		os.Exit(1)
	}
}

// echoOnce mirrors cmd/echo-server's loop, but reads and writes through
// the encrypted overlay so every byte on the wire is ciphertext.
func echoOnce(d *dispatch.Dispatcher, root *runtime.RootState, conn uid.Uid) {
	pnet.Recv(d, root, conn, recvChunk, timemodel.Never, func(r tcp.RecvResult) action.Action {
		if !r.OK || len(r.Buffered) == 0 {
			return nil
		}
		pnet.Send(d, root, conn, r.Buffered, timemodel.Never, func(s tcp.SendResult) action.Action {
			if s.OK {
				echoOnce(d, root, conn)
			}
			return nil
		})
		return nil
	})
}
