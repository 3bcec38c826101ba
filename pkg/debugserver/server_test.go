package debugserver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestLastPathSegment(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{"/debug/live/abc", "abc"},
		{"/debug/live/abc/", "abc"},
		{"/abc", "abc"},
		{"", ""},
	}
	for _, c := range cases {
		if got := lastPathSegment(c.path); got != c.want {
			t.Errorf("lastPathSegment(%q) = %q, want %q", c.path, got, c.want)
		}
	}
}

func TestHandleWebSocketRejectsMissingSessionID(t *testing.T) {
	srv := NewServer(func() Snapshot { return Snapshot{} }, time.Second)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.URL.Path = "/debug/live/"
		srv.HandleWebSocket(w, r)
	}))
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestHandleWebSocketStreamsSnapshots(t *testing.T) {
	snap := Snapshot{LiveObjects: 42, StatusCounts: map[string]int{"alive": 1}}
	srv := NewServer(func() Snapshot { return snap }, 20*time.Millisecond)

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/live/", srv.HandleWebSocket)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/debug/live/session1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if !strings.Contains(string(data), `"liveObjects":42`) {
		t.Fatalf("unexpected snapshot payload: %s", data)
	}
}
