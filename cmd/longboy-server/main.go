// Command longboy-server accepts websocket handshakes, hands out session
// ids and cipher keys, and relays each client's mirrored UDP traffic
// through a per-session proto.Receiver.
package main

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"nhooyr.io/websocket"

	"github.com/vadixidav/longboy/config"
	"github.com/vadixidav/longboy/heartbeat"
	"github.com/vadixidav/longboy/mirror"
	"github.com/vadixidav/longboy/proto"
	"github.com/vadixidav/longboy/runtime"
	"github.com/vadixidav/longboy/session"
)

func main() {
	log.Println("longboy-server starting...")

	_ = godotenv.Load()

	cfgPath := "server.toml"
	if p := os.Getenv("LONGBOY_SERVER_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	mirrorAddr, err := net.ResolveUDPAddr("udp", cfg.Server.MirrorAddr)
	if err != nil {
		log.Fatalf("mirror: resolve %s: %v", cfg.Server.MirrorAddr, err)
	}
	listener, err := mirror.Listen(mirrorAddr, 4+cfg.Size*cfg.Window)
	if err != nil {
		log.Fatalf("mirror: listen: %v", err)
	}
	defer listener.Close()
	log.Printf("mirror: listening on %s (+2 ports for QoS paths)", cfg.Server.MirrorAddr)

	registry := heartbeat.NewRegistry()
	server := &server{
		cfg:       cfg,
		registry:  registry,
		receivers: make(map[string]*proto.Receiver),
	}

	rt := runtime.New(ctx, time.Millisecond)
	rt.Spawn(runtime.TaskFunc{Tag: "mirror-demux", Fn: func(uint16) {
		server.pump(listener)
	}})

	sweeper := &heartbeat.Sweeper{
		Registry:    registry,
		Period:      time.Duration(cfg.Heartbeat.PeriodMS) * time.Millisecond,
		Timeout:     time.Duration(cfg.Heartbeat.TimeoutMS) * time.Millisecond,
		Concurrency: cfg.Heartbeat.Concurrency,
		Probe: func(ctx context.Context, s *session.Session) error {
			return nil // liveness already tracked by inbound datagrams; sweep only evicts
		},
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sweeper.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("heartbeat: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/session", server.handleSession)
	httpServer := &http.Server{Addr: cfg.Server.HandshakeAddr, Handler: mux}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("handshake: listening on %s", cfg.Server.HandshakeAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("handshake: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)

	wg.Wait()
	log.Println("longboy-server stopped.")
}

// server holds the registry of admitted sessions and their per-session
// proto.Receiver, demuxed from the merged mirror stream by remote IP.
//
// Demuxing by IP alone conflates multiple sessions behind the same NAT; a
// production deployment would carry a session id in the datagram or pin
// one UDP 4-tuple per session during handshake. Out of scope here —
// see DESIGN.md.
type server struct {
	cfg      *config.Config
	registry *heartbeat.Registry

	mu        sync.Mutex
	receivers map[string]*proto.Receiver
}

func (s *server) handleSession(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Printf("handshake: accept: %v", err)
		return
	}
	defer conn.CloseNow()

	sessionID := randomUint64()
	cipherKey := randomUint64()

	envelope := session.Envelope{
		SessionID: sessionID,
		CipherKey: cipherKey,
		Size:      s.cfg.Size,
		Window:    s.cfg.Window,
	}
	if err := session.ServerHandshake(r.Context(), conn, envelope); err != nil {
		log.Printf("handshake: %v", err)
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "handshake complete")

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	sess := session.New(&net.IPAddr{IP: net.ParseIP(host)}, envelope)
	s.registry.Put(sess)

	sink := proto.SinkFunc(func(message []byte) {
		log.Printf("session %d: delivered %d bytes", sessionID, len(message))
	})
	receiver, err := proto.NewReceiver(s.cfg.Size, s.cfg.Window, cipherKey, sink)
	if err != nil {
		log.Printf("session %d: %v", sessionID, err)
		return
	}

	s.mu.Lock()
	s.receivers[host] = receiver
	s.mu.Unlock()

	log.Printf("session %d: admitted from %s", sessionID, host)
}

// pump handles at most one queued mirrored datagram (or read error) per
// call, routing the datagram to the receiver for its source IP, if one is
// registered, and touching the sessions admitted from that IP.
func (s *server) pump(listener *mirror.Listener) {
	select {
	case dg := <-listener.Datagrams():
		host, _, err := net.SplitHostPort(dg.From.String())
		if err != nil {
			return
		}
		s.mu.Lock()
		receiver, ok := s.receivers[host]
		s.mu.Unlock()
		if !ok {
			return
		}
		now := time.Now()
		s.registry.Range(func(sess *session.Session) bool {
			if a, ok := sess.RemoteAddr.(*net.IPAddr); ok && a.IP.Equal(net.ParseIP(host)) {
				sess.Touch(now)
			}
			return true
		})
		timestamp := uint16(time.Now().UnixMilli())
		receiver.HandleDatagram(timestamp, dg.Data)
	case err := <-listener.Errs():
		log.Printf("mirror: %v", err)
	default:
	}
}

func randomUint64() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("longboy-server: crypto/rand: %v", err))
	}
	return binary.LittleEndian.Uint64(b[:])
}
