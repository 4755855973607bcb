package dispatch

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/freight-marketplace/internal/models"
)

func newWSTestServer(t *testing.T, reg *WSRegistry, driverID string) (*httptest.Server, chan *websocket.Conn) {
	t.Helper()
	up := websocket.Upgrader{}
	serverConns := make(chan *websocket.Conn, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		reg.Add(driverID, conn)
		serverConns <- conn
	}))
	t.Cleanup(srv.Close)
	return srv, serverConns
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestReconnectClosesReplacedSession(t *testing.T) {
	reg := NewWSRegistry()
	srv, serverConns := newWSTestServer(t, reg, "d1")

	first := dialWS(t, srv)
	firstServer := <-serverConns
	second := dialWS(t, srv)
	secondServer := <-serverConns

	// the replaced server-side conn was closed, so the first client's
	// read must fail instead of blocking forever
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := first.ReadMessage(); err == nil {
		t.Fatal("expected read on replaced connection to fail")
	}

	// a late cleanup from the replaced connection must not evict the
	// live session
	reg.Remove("d1", firstServer)

	notice := models.AssignmentNotice{AssignmentID: "a1", FreightID: "f1", DriverID: "d1"}
	if err := reg.Notify("d1", notice); err != nil {
		t.Fatalf("notify after reconnect: %v", err)
	}
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got models.AssignmentNotice
	if err := second.ReadJSON(&got); err != nil {
		t.Fatalf("read notice: %v", err)
	}
	if got.AssignmentID != "a1" {
		t.Fatalf("notice assignment = %q, want a1", got.AssignmentID)
	}

	// removing with the session's own conn drops it for real
	reg.Remove("d1", secondServer)
	if err := reg.Notify("d1", notice); err != ErrNoSession {
		t.Fatalf("notify after remove = %v, want ErrNoSession", err)
	}
}
