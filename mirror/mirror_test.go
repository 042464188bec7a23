package mirror

import (
	"net"
	"testing"
	"time"
)

func TestPathString(t *testing.T) {
	cases := map[Path]string{
		AudioVideo: "audio-video",
		Background: "background",
		Voice:      "voice",
	}
	for p, want := range cases {
		if got := p.String(); got != want {
			t.Errorf("Path(%d).String() = %q, want %q", p, got, want)
		}
	}
}

func TestSocketSendReachesAllPaths(t *testing.T) {
	local := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 21000}
	listener, err := Listen(local, 64)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer listener.Close()

	remote := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 21000}
	socket, err := Dial(remote)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer socket.Close()

	payload := []byte("golden-datagram")
	if err := socket.Send(payload); err != nil {
		t.Fatalf("Send: %v", err)
	}

	seen := make(map[Path]bool)
	deadline := time.After(2 * time.Second)
	for len(seen) < len(Paths) {
		select {
		case dg := <-listener.Datagrams():
			if string(dg.Data) != string(payload) {
				t.Fatalf("datagram on %s = %q, want %q", dg.Path, dg.Data, payload)
			}
			seen[dg.Path] = true
		case err := <-listener.Errs():
			t.Fatalf("listener error: %v", err)
		case <-deadline:
			t.Fatalf("timed out waiting for all paths, saw %v", seen)
		}
	}
}

func TestListenerClosedStopsReadLoops(t *testing.T) {
	local := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 21100}
	listener, err := Listen(local, 64)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if err := listener.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
