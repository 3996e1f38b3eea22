package ws

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestClientSendSerializesConcurrentWriters(t *testing.T) {
	conn, peer := newTestConnPair(t)
	client := NewClient(conn, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer client.Close()
	defer peer.Close()

	hub := NewHub()
	id := hub.Register(client)

	var received int32
	go func() {
		for {
			if _, _, err := peer.ReadMessage(); err != nil {
				return
			}
			atomic.AddInt32(&received, 1)
		}
	}()

	// The ingest loop broadcasting and the observer's own read loop
	// answering a full-history request write the same connection.
	const sendsPerWriter = 50
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < sendsPerWriter; i++ {
			hub.Broadcast([]byte(`{"event":"stats-update"}`))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < sendsPerWriter; i++ {
			hub.SendTo(id, []byte(`{"event":"all-data"}`))
		}
	}()
	wg.Wait()

	if hub.Count() != 1 {
		t.Fatalf("expected no evictions from concurrent sends, count %d", hub.Count())
	}
	waitForCond(t, 2*time.Second, func() bool {
		return atomic.LoadInt32(&received) == 2*sendsPerWriter
	})
}

func newTestConnPair(t *testing.T) (server, peer *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	connCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connCh <- conn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	peer, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}

	select {
	case server = <-connCh:
	case <-time.After(time.Second):
		t.Fatal("server connection not established")
	}
	return server, peer
}

func waitForCond(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}
