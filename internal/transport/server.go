package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/fuhitonakagawa/markdown-for-humans-sub003/internal/document"
	"github.com/fuhitonakagawa/markdown-for-humans-sub003/internal/host"
	"github.com/fuhitonakagawa/markdown-for-humans-sub003/internal/logging"
	"github.com/fuhitonakagawa/markdown-for-humans-sub003/internal/sync"
)

// Transport errors.
var (
	// ErrSlowConsumer indicates a surface whose outbound buffer is full.
	ErrSlowConsumer = errors.New("surface not draining outbound messages")

	// ErrConnClosed indicates a write to a closed connection.
	ErrConnClosed = errors.New("connection closed")
)

const (
	// writeTimeout bounds a single outbound frame write.
	writeTimeout = 10 * time.Second

	// readLimit bounds inbound frames. Documents are text; anything
	// bigger than this is not a markdown file we want to sync.
	readLimit = 8 << 20

	// sendBuffer is the per-connection outbound queue depth.
	sendBuffer = 64
)

// Server accepts WebSocket connections from rendering surfaces and
// bridges them to the host service. One connection serves one document,
// selected by the ?doc= query parameter; the server assigns each
// connection a fresh surface handle.
type Server struct {
	svc *host.Service
	log *logging.Logger

	upgrader websocket.Upgrader
	httpSrv  *http.Server

	mu     gosync.Mutex
	conns  map[*wsConn]bool
	closed bool
}

// NewServer creates a transport server in front of the given service.
func NewServer(svc *host.Service, log *logging.Logger) *Server {
	return &Server{
		svc: svc,
		log: log.WithComponent("transport"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Surfaces are local webviews; the host binds to loopback.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[*wsConn]bool),
	}
}

// Handler returns the HTTP handler serving the sync endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/sync", s.handleWebSocket)
	return mux
}

// Start runs the server on addr. It blocks until Shutdown or failure.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	s.httpSrv = &http.Server{Addr: addr, Handler: s.Handler()}
	srv := s.httpSrv
	s.mu.Unlock()

	s.log.Info("listening on %s", addr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and closes the active ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	srv := s.httpSrv
	conns := make([]*wsConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

// handleWebSocket upgrades one surface connection and runs its read loop.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	docURI := r.URL.Query().Get("doc")
	if docURI == "" {
		http.Error(w, "missing doc parameter", http.StatusBadRequest)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed: %v", err)
		return
	}

	c := &wsConn{
		surface: sync.SurfaceID(uuid.NewString()),
		ws:      ws,
		log:     s.log,
		send:    make(chan Message, sendBuffer),
	}
	go c.writePump()

	id, err := s.svc.AttachSurface(docURI, c)
	if err != nil {
		s.log.Warn("attach failed for %s: %v", docURI, err)
		c.close()
		return
	}

	s.mu.Lock()
	s.conns[c] = true
	s.mu.Unlock()

	s.readLoop(c, id)

	s.svc.DetachSurface(c.surface)
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	c.close()
}

// readLoop dispatches inbound messages until the connection drops.
func (s *Server) readLoop(c *wsConn, id document.Identity) {
	c.ws.SetReadLimit(readLimit)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn("surface %s read error: %v", c.surface, err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.Warn("surface %s sent malformed message: %v", c.surface, err)
			continue
		}

		ctx := context.Background()
		switch msg.Type {
		case MessageTypeEdit:
			err = s.svc.HandleEdit(ctx, c.surface, id, msg.Text)
		case MessageTypeReady:
			err = s.svc.HandleReady(c.surface, id)
		case MessageTypeSave:
			err = s.svc.HandleSave(ctx, c.surface, id)
		default:
			s.log.Warn("surface %s sent unknown message type %q", c.surface, msg.Type)
			continue
		}
		if err != nil {
			s.log.Warn("surface %s %s failed: %v", c.surface, msg.Type, err)
		}
	}
}

// wsConn is one surface connection. It implements host.Conn; outbound
// messages go through a buffered channel drained by writePump so a
// stalled socket never blocks the broadcast path.
type wsConn struct {
	surface sync.SurfaceID
	ws      *websocket.Conn
	log     *logging.Logger

	send chan Message

	mu     gosync.Mutex
	closed bool
}

// Surface returns the handle assigned at connect.
func (c *wsConn) Surface() sync.SurfaceID { return c.surface }

// SendUpdate pushes fence-encoded content to the surface.
func (c *wsConn) SendUpdate(doc document.Identity, text string, settings map[string]any) error {
	return c.enqueue(Message{
		Type:     MessageTypeUpdate,
		Doc:      string(doc),
		Surface:  string(c.surface),
		Text:     text,
		Settings: settings,
	})
}

// SendReject notifies the surface its edit was refused.
func (c *wsConn) SendReject(doc document.Identity, reason string) error {
	return c.enqueue(Message{
		Type:    MessageTypeReject,
		Doc:     string(doc),
		Surface: string(c.surface),
		Reason:  reason,
	})
}

// SendSaved confirms a completed save.
func (c *wsConn) SendSaved(doc document.Identity) error {
	return c.enqueue(Message{
		Type:    MessageTypeSaved,
		Doc:     string(doc),
		Surface: string(c.surface),
	})
}

// enqueue hands a message to the write pump. A full buffer fails the
// send rather than blocking; the registry then keeps its last-sent
// state unchanged and the content goes out on the next push.
func (c *wsConn) enqueue(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// writePump serializes all writes to the socket.
func (c *wsConn) writePump() {
	for msg := range c.send {
		c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.ws.WriteJSON(msg); err != nil {
			c.log.Warn("write to surface %s failed: %v", c.surface, err)
		}
	}
	c.ws.Close()
}

// close shuts the connection down. Idempotent.
func (c *wsConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
