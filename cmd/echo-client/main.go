// Command echo-client connects to an echo server, sends a bounded
// number of pseudo-random rounds of data, and verifies each round
// echoes back unchanged before disconnecting.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/behrlich/automaton/internal/action"
	"github.com/behrlich/automaton/internal/dispatch"
	"github.com/behrlich/automaton/internal/obslog"
	"github.com/behrlich/automaton/internal/prngmodel"
	"github.com/behrlich/automaton/internal/runtime"
	"github.com/behrlich/automaton/internal/tcpclient"
	"github.com/behrlich/automaton/internal/timemodel"
	"github.com/behrlich/automaton/internal/uid"
)

func main() {
	var (
		addr           = flag.String("addr", "127.0.0.1:9000", "server address")
		rounds         = flag.Int("rounds", 10, "number of send/recv rounds")
		maxSend        = flag.Int("max-send", 256, "maximum bytes sent per round")
		seed           = flag.Uint64("seed", 1, "PRNG seed for generated payloads")
		connectTimeout = flag.Int64("connect-timeout", 5_000, "connect timeout in milliseconds")
		pollTimeout    = flag.Int64("poll-timeout", 100, "poll wait in milliseconds")
		recordSess     = flag.String("record", "", "record this run's action stream under the given session name")
		replaySess     = flag.String("replay", "", "replay a previously recorded session instead of connecting live")
		verbose        = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	log := obslog.New(logrus.Fields{"component": "echo-client"})
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	obslog.SetDefault(log)

	exitCode := 0
	round := 0
	var conn uid.Uid
	connecting := false
	done := false

	makeTick := func(d *dispatch.Dispatcher, root *runtime.RootState) dispatch.TickFunc {
		var runRound func()
		runRound = func() {
			if round >= *rounds {
				tcpclient.Close(d, root, conn)
				done = true
				return
			}
			payload := make([]byte, 1+int(prngmodel.Next(root)%uint64(*maxSend)))
			prngmodel.NextBytes(root, payload)
			round++
			tcpclient.Send(d, root, conn, payload, timemodel.Never, func(connID uid.Uid, _ []byte, ok bool, errMsg string) action.Action {
				if !ok {
					log.Error("send failed", logrus.Fields{"error": errMsg})
					exitCode = 1
					done = true
					return nil
				}
				tcpclient.Recv(d, root, conn, len(payload), timemodel.Never, func(_ uid.Uid, data []byte, ok bool, errMsg string) action.Action {
					if !ok || string(data) != string(payload) {
						log.Error("echo mismatch", logrus.Fields{"round": round, "error": errMsg})
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
				tcpclient.Connect(d, root, *addr, timemodel.Timeout(*connectTimeout),
					func(connID uid.Uid, ok bool, errMsg string) action.Action {
						if !ok {
							log.Error("connect failed", logrus.Fields{"error": errMsg})
							exitCode = 1
							done = true
							return nil
						}
						conn = connID
						log.Info("connected", logrus.Fields{"addr": *addr})
						runRound()
						return nil
					},
					func(errMsg string) action.Action {
						log.Debug("connection closed", logrus.Fields{"error": errMsg})
						return nil
					},
				)
				return nil
			}
			tcpclient.Poll(d, root, *pollTimeout)
			return nil
		}
	}

	b := runtime.New().RegisterTCP().RegisterTime().RegisterIOAdapter().
		Instance(makeTick, runtime.WithPRNGSeed(*seed))
	runner := b.Build()

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
		fmt.Fprintf(os.Stderr, "echo-client: %v\n", err)
		os.Exit(1)
	}
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}
