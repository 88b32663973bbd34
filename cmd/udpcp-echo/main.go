// Command udpcp-echo is a minimal echo client/server built on pkg/engine,
// grounded on the teacher's examples/echo client and server layout.
package main

import (
	"bytes"
	"flag"
	"log"
	"time"

	"github.com/appnet-org/udpcp/pkg/engine"
	"github.com/appnet-org/udpcp/pkg/logging"
	"go.uber.org/zap"
)

func main() {
	var (
		listen = flag.String("listen", "", "local address to bind (server mode)")
		peer   = flag.String("peer", "", "peer address to send the handshake and echo replies to (server mode)")
		dial   = flag.String("dial", "", "peer address to send to (client mode)")
		local  = flag.String("local", ":0", "local address to bind (client mode)")
		size   = flag.Int("size", 1600, "message size in bytes, client mode only")
	)
	flag.Parse()

	logger, err := logging.NewFromEnv()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	switch {
	case *listen != "":
		if *peer == "" {
			log.Fatal("-peer is required in server mode: UDPCP endpoints talk to a single fixed peer")
		}
		runServer(*peer, *listen, logger)
	case *dial != "":
		runClient(*dial, *local, *size, logger)
	default:
		log.Fatal("one of -listen or -dial is required")
	}
}

func runServer(peer, addr string, logger *zap.Logger) {
	e, err := engine.New(peer, addr, engine.WithLogger(logger))
	if err != nil {
		log.Fatalf("failed to start server engine: %v", err)
	}
	if err := e.Start(); err != nil {
		log.Fatalf("failed to start drive loop: %v", err)
	}
	defer e.Stop()

	log.Printf("udpcp-echo server listening on %s", addr)
	for {
		if fragments, ok := e.TryReceive(); ok {
			message := bytes.Join(fragments, nil)
			log.Printf("server got %d bytes: %q", len(message), truncate(message, 64))
			if err := e.Send(append([]byte("echo: "), message...)); err != nil {
				log.Printf("failed to send echo reply: %v", err)
			}
			continue
		}
		if ev, ok := e.TryStatus(); ok {
			log.Printf("status: %s/%s id=%d", ev.Kind, ev.Cause, ev.MessageID)
			continue
		}
		select {
		case err := <-e.Err():
			log.Fatalf("server engine failed: %v", err)
		case <-time.After(time.Millisecond):
		}
	}
}

func runClient(target, local string, size int, logger *zap.Logger) {
	e, err := engine.New(target, local, engine.WithLogger(logger))
	if err != nil {
		log.Fatalf("failed to start client engine: %v", err)
	}
	if err := e.Start(); err != nil {
		log.Fatalf("failed to start drive loop: %v", err)
	}
	defer e.Stop()

	select {
	case err := <-e.Err():
		log.Fatalf("client failed to synchronize: %v", err)
	case <-waitSynced(e):
	}

	message := bytes.Repeat([]byte("A"), size)
	log.Printf("client sending %d bytes", len(message))
	if err := e.Send(message); err != nil {
		log.Fatalf("send failed: %v", err)
	}

	deadline := time.After(10 * time.Second)
	for {
		select {
		case err := <-e.Err():
			log.Fatalf("client engine failed: %v", err)
		case <-deadline:
			log.Fatal("timed out waiting for echo response")
		default:
		}
		if fragments, ok := e.TryReceive(); ok {
			response := bytes.Join(fragments, nil)
			log.Printf("client got %d bytes back", len(response))
			return
		}
		time.Sleep(time.Millisecond)
	}
}

func waitSynced(e *engine.Engine) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		for !e.Stats().SyncComplete {
			time.Sleep(time.Millisecond)
		}
		close(done)
	}()
	return done
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
