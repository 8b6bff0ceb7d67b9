// Program wirecall is a command-line utility for exchanging framed messages
// with services and datagram endpoints.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/creachadair/wirecall"
	"github.com/creachadair/wirecall/datagram"
	"github.com/creachadair/wirecall/service"
)

var serveFlags struct {
	Port        uint          `flag:"port,default=10001,Port to listen on"`
	MaxSize     int           `flag:"max-size,default=512,Maximum request size in bytes"`
	MaxConns    int           `flag:"max-conns,Maximum concurrent connections (0 for no limit)"`
	RecvTimeout time.Duration `flag:"recv-timeout,default=60s,Request receive timeout"`
	SendTimeout time.Duration `flag:"send-timeout,default=10s,Response send timeout"`
	Workers     int           `flag:"workers,default=2,Number of worker goroutines"`
}

var callFlags struct {
	Host    string        `flag:"host,default=localhost,Service host name or address"`
	Port    uint          `flag:"port,default=10001,Service port"`
	Timeout time.Duration `flag:"timeout,default=1s,Call timeout"`
	MaxSize int           `flag:"max-size,default=512,Maximum response size in bytes"`
}

var sendFlags struct {
	IP      string        `flag:"ip,default=127.0.0.1,Destination IPv4 address (may be broadcast)"`
	Port    uint          `flag:"port,default=10000,Destination port"`
	Timeout time.Duration `flag:"timeout,default=1s,Send timeout per message"`
	Rate    float64       `flag:"rate,Maximum messages per second (0 for no limit)"`
}

var listenFlags struct {
	Port    uint          `flag:"port,default=10000,Port to receive on"`
	Count   int           `flag:"count,Stop after this many messages (0 for no limit)"`
	Timeout time.Duration `flag:"timeout,default=1m,Receive timeout per message"`
	MaxSize int           `flag:"max-size,default=512,Maximum message size in bytes"`
}

var frameFlags struct {
	Decode  bool `flag:"decode,Decode frames from stdin instead of encoding arguments"`
	MaxSize int  `flag:"max-size,default=65536,Maximum payload size in bytes when decoding"`
}

func main() {
	root := &command.C{
		Name: filepath.Base(os.Args[0]),
		Help: "Utilities for exchanging length-prefixed messages over TCP and UDP.",
		Commands: []*command.C{
			{
				Name: "serve",
				Help: `Run an echo service.

Each connection carries one request, and the response is the request text.
The service runs until interrupted.`,
				SetFlags: command.Flags(flax.MustBind, &serveFlags),
				Run:      runServe,
			},
			{
				Name:     "call",
				Usage:    "<message>",
				Help:     "Call a service with a text request and print the response.",
				SetFlags: command.Flags(flax.MustBind, &callFlags),
				Run:      runCall,
			},
			{
				Name:     "send",
				Usage:    "<message> ...",
				Help:     "Send each argument as a text datagram, in order.",
				SetFlags: command.Flags(flax.MustBind, &sendFlags),
				Run:      runSend,
			},
			{
				Name:     "listen",
				Help:     "Receive text datagrams and print them.",
				SetFlags: command.Flags(flax.MustBind, &listenFlags),
				Run:      runListen,
			},
			{
				Name:  "frame",
				Usage: "<payload> ...",
				Help: `Encode arguments as frames to stdout, or decode frames from stdin.

Each frame is a 4-byte big-endian length followed by the payload. With
--decode, each payload read from stdin is printed on its own line.`,
				SetFlags: command.Flags(flax.MustBind, &frameFlags),
				Run:      runFrame,
			},
			command.VersionCommand(),
			command.HelpCommand(nil),
		},
	}
	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
}

func runServe(env *command.Env) error {
	if serveFlags.Port > 65535 {
		return env.Usagef("invalid port %d", serveFlags.Port)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	w := wirecall.StartWorkers(wirecall.NewExecutor(), serveFlags.Workers)
	defer w.Stop()

	srv := service.NewServer[string, string](w.Executor(), uint16(serveFlags.Port), &service.ServerOptions{
		MaxMessageSize: serveFlags.MaxSize,
		MaxConns:       serveFlags.MaxConns,
	}).OnError(func(err error) {
		log.Printf("Service error: %v", err)
	})
	srv.AdvertiseService(func(from net.Addr, req string) string {
		log.Printf("Request from %v: %q", from, req)
		return req
	}, serveFlags.RecvTimeout, serveFlags.SendTimeout)
	log.Printf("Serving on port %d", srv.Port())

	<-ctx.Done()
	srv.Cancel()
	log.Print("Service stopped")
	return nil
}

func runCall(env *command.Env) error {
	if len(env.Args) != 1 {
		return env.Usagef("expected one message argument")
	} else if callFlags.Port > 65535 {
		return env.Usagef("invalid port %d", callFlags.Port)
	}
	w := wirecall.StartWorkers(wirecall.NewExecutor(), 1)
	defer w.Stop()

	cli := service.NewClient[string, string](w.Executor(), &service.ClientOptions{
		MaxMessageSize: callFlags.MaxSize,
	})
	wt := wirecall.NewWaiter(w.Executor())
	done := wt.NewWaitable()

	var rsp string
	var cerr error
	cli.AsyncCall(env.Args[0], callFlags.Host, uint16(callFlags.Port), callFlags.Timeout,
		wirecall.OnDone2(done, func(err error, s string) { cerr, rsp = err, s }))
	wt.Await(done)
	if cerr != nil {
		return fmt.Errorf("call failed: %w", cerr)
	}
	fmt.Println(rsp)
	return nil
}

func runSend(env *command.Env) error {
	if len(env.Args) == 0 {
		return env.Usagef("no messages to send")
	} else if sendFlags.Port > 65535 {
		return env.Usagef("invalid port %d", sendFlags.Port)
	}
	w := wirecall.StartWorkers(wirecall.NewExecutor(), 1)
	defer w.Stop()

	snd := datagram.NewSender[string](w.Executor(), &datagram.SenderOptions{Rate: sendFlags.Rate})
	wt := wirecall.NewWaiter(w.Executor())

	var conds []wirecall.Cond
	errs := make([]error, len(env.Args))
	for i, msg := range env.Args {
		sent := wt.NewWaitable()
		conds = append(conds, sent)
		snd.AsyncSend(msg, sendFlags.IP, uint16(sendFlags.Port), sendFlags.Timeout,
			wirecall.OnDone1(sent, func(err error) { errs[i] = err }))
	}
	wt.Await(wirecall.All(conds...))
	return errors.Join(errs...)
}

func runListen(env *command.Env) error {
	if listenFlags.Port > 65535 {
		return env.Usagef("invalid port %d", listenFlags.Port)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	w := wirecall.StartWorkers(wirecall.NewExecutor(), 1)
	defer w.Stop()

	rcv := datagram.NewReceiver[string](w.Executor(), uint16(listenFlags.Port), &datagram.ReceiverOptions{
		MaxMessageSize: listenFlags.MaxSize,
	})
	wt := wirecall.NewWaiter(w.Executor())
	done := wt.NewWaitable()
	interrupted := wt.NewWaitable()
	go func() { <-ctx.Done(); interrupted.SetReady() }()

	var nrecv int
	var rerr error
	var next func()
	next = func() {
		rcv.AsyncReceive(listenFlags.Timeout, func(err error, msg string, from netip.AddrPort) {
			if err != nil {
				rerr = err
				done.SetReady()
				return
			}
			fmt.Printf("%v\t%s\n", from, msg)
			nrecv++
			if listenFlags.Count > 0 && nrecv >= listenFlags.Count {
				done.SetReady()
				return
			}
			next()
		})
	}
	next()
	wt.Await(wirecall.Any(done, interrupted))
	rcv.Cancel()
	if interrupted.Ready() {
		return nil
	}
	return rerr
}

func runFrame(env *command.Env) error {
	if !frameFlags.Decode {
		out := bufio.NewWriter(os.Stdout)
		for _, arg := range env.Args {
			if _, err := (wirecall.Frame{Payload: []byte(arg)}).WriteTo(out); err != nil {
				return err
			}
		}
		return out.Flush()
	}
	if len(env.Args) != 0 {
		return env.Usagef("extra arguments with --decode: %q", env.Args)
	}
	in := bufio.NewReader(os.Stdin)
	for {
		f, err := wirecall.ReadFrame(in, frameFlags.MaxSize)
		if err == io.EOF {
			return nil
		} else if err != nil {
			return fmt.Errorf("read frame: %w", err)
		}
		fmt.Printf("%q\n", f.Payload)
	}
}
