// Command longboy-client performs the handshake against a longboy-server,
// then drives a proto.Sender over mirrored UDP, retrying the whole
// connect-handshake cycle on failure.
package main

import (
	"context"
	"log"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/vadixidav/longboy/config"
	"github.com/vadixidav/longboy/heartbeat"
	"github.com/vadixidav/longboy/mirror"
	"github.com/vadixidav/longboy/proto"
	"github.com/vadixidav/longboy/runtime"
	"github.com/vadixidav/longboy/session"
)

func main() {
	log.Println("longboy-client starting...")

	_ = godotenv.Load()

	cfgPath := "client.toml"
	if p := os.Getenv("LONGBOY_CLIENT_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := session.RunWithRetry(ctx, "longboy-client", 3*time.Second, func(ctx context.Context) error {
			return runSession(ctx, cfg)
		}, log.Printf)
		if err != nil && err != context.Canceled {
			log.Printf("longboy-client: %v", err)
		}
	}()

	wg.Wait()
	log.Println("longboy-client stopped.")
}

// runSession performs one handshake and drives traffic until ctx is
// cancelled. Mirror send errors are logged and do not end the session, so
// RunWithRetry re-enters it only when the handshake or socket setup fails.
func runSession(ctx context.Context, cfg *config.Config) error {
	envelope, err := session.DialAndHandshake(ctx, cfg.Client.HandshakeURL)
	if err != nil {
		return err
	}
	log.Printf("session %d: admitted (size=%d window=%d)", envelope.SessionID, envelope.Size, envelope.Window)

	remote, err := net.ResolveUDPAddr("udp", cfg.Client.MirrorAddr)
	if err != nil {
		return err
	}
	socket, err := mirror.Dial(remote)
	if err != nil {
		return err
	}
	defer socket.Close()

	sess := session.New(remote, envelope)
	registry := heartbeat.NewRegistry()
	registry.Put(sess)

	source := &demoSource{}
	sender, err := proto.NewSender(envelope.Size, envelope.Window, envelope.CipherKey, source)
	if err != nil {
		return err
	}

	tickCtx, stop := context.WithCancel(ctx)
	defer stop()

	rt := runtime.New(tickCtx, time.Millisecond)
	rt.Spawn(runtime.TaskFunc{Tag: "sender", Fn: func(timestamp uint16) {
		if datagram := sender.PollDatagram(timestamp); datagram != nil {
			if err := socket.Send(datagram); err != nil {
				log.Printf("session %d: mirror send: %v", envelope.SessionID, err)
			}
			sess.Touch(time.Now())
		}
	}})

	sweeper := &heartbeat.Sweeper{
		Registry:    registry,
		Period:      time.Duration(cfg.Heartbeat.PeriodMS) * time.Millisecond,
		Timeout:     time.Duration(cfg.Heartbeat.TimeoutMS) * time.Millisecond,
		Concurrency: 1,
		Probe: func(ctx context.Context, s *session.Session) error {
			return socket.Send(make([]byte, 4+envelope.Size*envelope.Window))
		},
	}
	go func() {
		if err := sweeper.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("session %d: heartbeat: %v", envelope.SessionID, err)
		}
	}()

	<-ctx.Done()
	return ctx.Err()
}

// demoSource is a placeholder Source producing an incrementing counter each
// tick; real deployments supply their own (game state snapshots, audio
// frames, whatever the mirrored channel carries).
type demoSource struct {
	next uint64
}

func (d *demoSource) Poll(buf []byte) bool {
	d.next++
	for i := range buf {
		buf[i] = byte(d.next >> (8 * (uint(i) % 8)))
	}
	return true
}
