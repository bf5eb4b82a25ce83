package destination

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/torosent/crankreport/internal/measurement"
	"github.com/torosent/crankreport/internal/properties"
	"github.com/torosent/crankreport/internal/reporter"
)

const wsWriteTimeout = 2 * time.Second

// WebSocket broadcasts every measurement as a JSON text message to all
// connected clients. Clients that fail a write are dropped.
type WebSocket struct {
	name   string
	addr   string
	runID  string
	logger *zap.Logger

	upgrader websocket.Upgrader
	// writeMu serializes broadcasts; a connection allows one writer.
	writeMu sync.Mutex

	mu       sync.Mutex
	clients  map[*websocket.Conn]struct{}
	server   *http.Server
	listener net.Listener
}

func NewWebSocket(name, addr, runID string, logger *zap.Logger) *WebSocket {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocket{
		name:    name,
		addr:    addr,
		runID:   runID,
		logger:  logger,
		clients: make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func newWebSocketFromProperties(name string, p properties.Properties, env Env) (reporter.Destination, error) {
	addr := p.String("listen", "")
	if addr == "" {
		return nil, errors.New("property listen is required")
	}
	return NewWebSocket(name, addr, env.RunID, env.logger()), nil
}

func (d *WebSocket) Name() string { return d.name }

// Handler upgrades requests and registers the connection for broadcasts.
func (d *WebSocket) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := d.upgrader.Upgrade(w, r, nil)
		if err != nil {
			d.logger.Debug("websocket upgrade failed", zap.Error(err))
			return
		}
		d.mu.Lock()
		d.clients[conn] = struct{}{}
		d.mu.Unlock()
		go d.drain(conn)
	})
}

// drain reads until the client goes away so close frames are processed.
func (d *WebSocket) drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.NextReader(); err != nil {
			d.drop(conn)
			return
		}
	}
}

func (d *WebSocket) drop(conn *websocket.Conn) {
	d.mu.Lock()
	_, ok := d.clients[conn]
	delete(d.clients, conn)
	d.mu.Unlock()
	if ok {
		_ = conn.Close()
	}
}

// Clients returns the number of connected clients.
func (d *WebSocket) Clients() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.clients)
}

func (d *WebSocket) Addr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listener == nil {
		return ""
	}
	return d.listener.Addr().String()
}

func (d *WebSocket) Open() error {
	if d.addr == "" {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.server != nil {
		return nil
	}
	ln, err := net.Listen("tcp", d.addr)
	if err != nil {
		return fmt.Errorf("websocket listen: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/ws", d.Handler())
	d.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	d.listener = ln
	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error("websocket endpoint stopped", zap.String("destination", d.name), zap.Error(err))
		}
	}(d.server)
	return nil
}

func (d *WebSocket) Report(m *measurement.Measurement) error {
	payload, err := json.Marshal(jsonLine{
		Run:        d.runID,
		Timestamp:  time.Now().UTC(),
		Time:       m.Time().Milliseconds(),
		Iteration:  m.Iteration(),
		Percentage: m.Percentage(),
		Results:    m.Results(),
	})
	if err != nil {
		return err
	}

	d.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(d.clients))
	for c := range d.clients {
		conns = append(conns, c)
	}
	d.mu.Unlock()

	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	var failed int
	for _, c := range conns {
		_ = c.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
			failed++
			d.drop(c)
		}
	}
	if failed > 0 {
		d.logger.Debug("dropped websocket clients", zap.String("destination", d.name), zap.Int("count", failed))
	}
	return nil
}

func (d *WebSocket) Close() error {
	d.mu.Lock()
	srv := d.server
	d.server, d.listener = nil, nil
	conns := d.clients
	d.clients = make(map[*websocket.Conn]struct{})
	d.mu.Unlock()

	for c := range conns {
		_ = c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"),
			time.Now().Add(wsWriteTimeout))
		_ = c.Close()
	}
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
