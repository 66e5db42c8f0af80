// Command pnet-client connects to a pnet-server, completes the
// pre-shared-key handshake, then runs the same send/verify rounds as
// echo-client but entirely over ciphertext.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/behrlich/automaton/internal/action"
	"github.com/behrlich/automaton/internal/dispatch"
	"github.com/behrlich/automaton/internal/obslog"
	"github.com/behrlich/automaton/internal/pnet"
	"github.com/behrlich/automaton/internal/prngmodel"
	"github.com/behrlich/automaton/internal/runtime"
	"github.com/behrlich/automaton/internal/tcp"
	"github.com/behrlich/automaton/internal/timemodel"
	"github.com/behrlich/automaton/internal/uid"
)

func main() {
	var (
		addr           = flag.String("addr", "127.0.0.1:9100", "server address")
		chainID        = flag.String("chain-id", "automaton-demo", "chain id the pre-shared key is derived from")
		rounds         = flag.Int("rounds", 10, "number of send/recv rounds")
		maxSend        = flag.Int("max-send", 256, "maximum bytes sent per round")
		seed           = flag.Uint64("seed", 1, "PRNG seed for generated payloads")
		connectTimeout = flag.Int64("connect-timeout", 5_000, "connect timeout in milliseconds")
		handshakeTO    = flag.Int64("handshake-timeout", 5_000, "handshake timeout in milliseconds")
		pollTimeout    = flag.Int64("poll-timeout", 100, "poll wait in milliseconds")
		recordSess     = flag.String("record", "", "record this run's action stream under the given session name")
		replaySess     = flag.String("replay", "", "replay a previously recorded session instead of connecting live")
		verbose        = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	log := obslog.New(logrus.Fields{"component": "pnet-client"})
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	obslog.SetDefault(log)

	psk, err := pnet.DerivePSK(*chainID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pnet-client: derive psk: %v\n", err)
		os.Exit(1)
	}

	exitCode := 0
	round := 0
	var conn uid.Uid
	connecting := false
	done := false

	makeTick := func(d *dispatch.Dispatcher, root *runtime.RootState) dispatch.TickFunc {
		var runRound func()
		runRound = func() {
			if round >= *rounds {
				pnet.Close(d, root, conn, func(tcp.CloseOutcome) action.Action {
					done = true
					return nil
				})
				return
			}
			payload := make([]byte, 1+int(prngmodel.Next(root)%uint64(*maxSend)))
			prngmodel.NextBytes(root, payload)
			round++
			pnet.Send(d, root, conn, payload, timemodel.Never, func(s tcp.SendResult) action.Action {
				if !s.OK {
					log.Error("send failed", logrus.Fields{"error": s.Err})
					exitCode = 1
					done = true
					return nil
				}
				pnet.Recv(d, root, conn, len(payload), timemodel.Never, func(r tcp.RecvResult) action.Action {
					if !r.OK || string(r.Buffered) != string(payload) {
						log.Error("echo mismatch", logrus.Fields{"round": round, "error": r.Err})
						exitCode = 1
						done = true
						return nil
					}
					log.Debug("round ok", logrus.Fields{"round": round, "bytes": len(payload)})
					runRound()
					return nil
				})
				return nil
			})
		}

		return func() action.Action {
			if done {
				return runtime.Halt()
			}
			timemodel.RequestRefresh(d, root)
			if !connecting {
				connecting = true
				tcp.Connect(d, root, *addr, timemodel.Timeout(*connectTimeout), func(o tcp.ConnectOutcome) action.Action {
					if !o.OK {
						log.Error("connect failed", logrus.Fields{"error": o.Err})
						exitCode = 1
						done = true
						return nil
					}
					pnet.Bootstrap(d, root, o.Conn, timemodel.Timeout(*handshakeTO), func(connID uid.Uid, ok bool, errMsg string) action.Action {
						if !ok {
							log.Error("handshake failed", logrus.Fields{"error": errMsg})
							exitCode = 1
							done = true
							return nil
						}
						conn = connID
						log.Info("handshake complete", logrus.Fields{"addr": *addr})
						runRound()
						return nil
					})
					return nil
				})
				return nil
			}
			tcp.Poll(d, root, nil, *pollTimeout)
			return nil
		}
	}

	b := runtime.New().RegisterTCP().RegisterTime().RegisterIOAdapter().
		Instance(makeTick, runtime.WithPSK(psk), runtime.WithPRNGSeed(*seed))
	runner := b.Build()

	switch {
	case *recordSess != "":
		err = runner.Record(*recordSess)
	case *replaySess != "":
		err = runner.Replay(*replaySess)
	default:
		err = runner.Run()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "pnet-client: %v\n", err)
		os.Exit(1)
	}
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}
