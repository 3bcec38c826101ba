// Package debugserver exposes a websocket endpoint that streams
// periodic runtime snapshots to a connected inspector: fiber counts by
// status, heap live-object/collection counts, and channel depths.
// Supplemental to the core runtime (not named by spec.md), grounded on
// the teacher's live-update protocol server with the DOM-patch payload
// replaced by a stats snapshot.
package debugserver

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Snapshot is one point-in-time reading pushed to every connected
// session. Collector produces one on demand; the server owns nothing
// about how it's gathered.
type Snapshot struct {
	Time          time.Time      `json:"time"`
	LiveObjects   int            `json:"liveObjects"`
	Collections   uint64         `json:"collections"`
	ReadyCount    int            `json:"readyCount"`
	TimeoutCount  int            `json:"timeoutCount"`
	ListenerCount int            `json:"listenerCount"`
	StatusCounts  map[string]int `json:"statusCounts"`
	ChannelDepths map[string]int `json:"channelDepths,omitempty"`
}

// Collector produces the current Snapshot; supplied by the embedder,
// since the server has no access to a particular VM's loop/heap.
type Collector func() Snapshot

// Server handles websocket connections for VM introspection.
type Server struct {
	upgrader  websocket.Upgrader
	collector Collector
	interval  time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session
}

// Session is one connected inspector.
type Session struct {
	ID   string
	conn *websocket.Conn

	closeChan chan struct{}

	mu sync.Mutex
}

// NewServer creates an inspection server that pushes a fresh Snapshot
// from collector to every connected session every interval.
func NewServer(collector Collector, interval time.Duration) *Server {
	if interval <= 0 {
		interval = time.Second
	}
	return &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		collector: collector,
		interval:  interval,
		sessions:  make(map[string]*Session),
	}
}

// HandleWebSocket upgrades the connection and starts streaming
// snapshots. The session ID is whatever remains of the request path
// after the mount prefix the caller registered this handler under.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := lastPathSegment(r.URL.Path)
	if sessionID == "" {
		http.Error(w, "session id required", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[debugserver] upgrade failed: %v", err)
		return
	}

	session := s.getOrCreateSession(sessionID, conn)
	go session.run(s)
}

func lastPathSegment(p string) string {
	p = strings.TrimSuffix(p, "/")
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}

func (s *Server) getOrCreateSession(id string, conn *websocket.Conn) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sessions[id]; ok {
		existing.mu.Lock()
		if existing.conn != nil {
			existing.conn.Close()
		}
		existing.conn = conn
		existing.mu.Unlock()
		return existing
	}

	session := &Session{
		ID:        id,
		conn:      conn,
		closeChan: make(chan struct{}),
	}
	s.sessions[id] = session
	return session
}

// RemoveSession drops a session from the registry.
func (s *Server) RemoveSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// run drives one session: a writer goroutine pushing snapshots and
// pings, and a reader loop that just drains client frames (the
// inspector is push-only; the only client message worth reacting to
// is a close).
func (s *Session) run(srv *Server) {
	var closeOnce sync.Once
	cleanup := func() {
		closeOnce.Do(func() {
			s.conn.Close()
			close(s.closeChan)
			srv.RemoveSession(s.ID)
		})
	}
	defer cleanup()

	go s.writer(srv)

	s.conn.SetReadDeadline(time.Now().Add(300 * time.Second))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(300 * time.Second))
		return nil
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (s *Session) writer(srv *Server) {
	snapshotTicker := time.NewTicker(srv.interval)
	defer snapshotTicker.Stop()
	pingTicker := time.NewTicker(54 * time.Second)
	defer pingTicker.Stop()

	for {
		select {
		case <-snapshotTicker.C:
			data, err := json.Marshal(srv.collector())
			if err != nil {
				log.Printf("[debugserver %s] snapshot marshal failed: %v", s.ID, err)
				continue
			}
			s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-pingTicker.C:
			s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-s.closeChan:
			return
		}
	}
}
