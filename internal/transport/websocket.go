// SPDX-License-Identifier: MIT
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"spectra/internal/analysis"
	"spectra/internal/log"

	"github.com/gorilla/websocket"
)

const (
	broadcastQueue = 64
	writeTimeout   = time.Second
)

// WebSocketTransport broadcasts spectrum messages to every client connected
// on /ws. Send never blocks: when the queue is full the message is dropped
// and counted.
type WebSocketTransport struct {
	addr     string
	upgrader websocket.Upgrader
	log      log.Logger

	clients   map[*websocket.Conn]struct{}
	clientsMu sync.Mutex

	broadcast chan *websocket.PreparedMessage
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	dropped atomic.Uint64
}

// NewWebSocketTransport creates a transport that will listen on addr once
// ListenAndServe is called. The broadcast loop starts immediately.
func NewWebSocketTransport(addr string) *WebSocketTransport {
	wst := &WebSocketTransport{
		addr: addr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     checkOrigin,
		},
		log:       log.Component("transport.ws"),
		clients:   make(map[*websocket.Conn]struct{}),
		broadcast: make(chan *websocket.PreparedMessage, broadcastQueue),
		done:      make(chan struct{}),
	}
	wst.wg.Add(1)
	go wst.handleBroadcasts()
	return wst
}

// checkOrigin accepts same-origin, loopback and private-network origins.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	requestHost := r.Host
	if h, _, err := net.SplitHostPort(requestHost); err == nil {
		requestHost = h
	}
	if host == requestHost {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && (ip.IsLoopback() || ip.IsPrivate())
}

// Handler returns the HTTP handler serving /ws.
func (wst *WebSocketTransport) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wst.handleWebSocket)
	return mux
}

// ListenAndServe serves WebSocket clients until ctx is cancelled, then
// shuts the server down. It returns nil on a clean shutdown.
func (wst *WebSocketTransport) ListenAndServe(ctx context.Context) error {
	server := &http.Server{
		Addr:              wst.addr,
		Handler:           wst.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		wst.log.Infof("serving WebSocket clients on %s/ws", wst.addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("websocket server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	wst.closeClients()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("websocket server shutdown: %w", err)
	}
	return nil
}

func (wst *WebSocketTransport) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wst.upgrader.Upgrade(w, r, nil)
	if err != nil {
		wst.log.Warnf("upgrade error: %v", err)
		return
	}

	wst.clientsMu.Lock()
	wst.clients[conn] = struct{}{}
	total := len(wst.clients)
	wst.clientsMu.Unlock()
	wst.log.Infof("client %s connected, total: %d", conn.RemoteAddr(), total)

	// Clients never send; the read only detects disconnects.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				wst.removeClient(conn)
				return
			}
		}
	}()
}

func (wst *WebSocketTransport) removeClient(conn *websocket.Conn) {
	wst.clientsMu.Lock()
	_, ok := wst.clients[conn]
	delete(wst.clients, conn)
	total := len(wst.clients)
	wst.clientsMu.Unlock()
	if ok {
		_ = conn.Close()
		wst.log.Infof("client %s disconnected, total: %d", conn.RemoteAddr(), total)
	}
}

func (wst *WebSocketTransport) handleBroadcasts() {
	defer wst.wg.Done()
	for {
		select {
		case <-wst.done:
			return
		case msg := <-wst.broadcast:
			wst.clientsMu.Lock()
			for client := range wst.clients {
				_ = client.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := client.WritePreparedMessage(msg); err != nil {
					wst.log.Warnf("dropping client %s: %v", client.RemoteAddr(), err)
					_ = client.Close()
					delete(wst.clients, client)
				}
			}
			wst.clientsMu.Unlock()
		}
	}
}

// Name implements Transport.
func (wst *WebSocketTransport) Name() string { return "websocket" }

// Send encodes r once and queues it for every client.
func (wst *WebSocketTransport) Send(r *analysis.Result) error {
	select {
	case <-wst.done:
		return errors.New("websocket transport closed")
	default:
	}

	if wst.Clients() == 0 {
		return nil
	}

	data, err := json.Marshal(NewSpectrumMessage(r))
	if err != nil {
		return fmt.Errorf("encode frame %d: %w", r.Seq, err)
	}
	msg, err := websocket.NewPreparedMessage(websocket.TextMessage, data)
	if err != nil {
		return fmt.Errorf("prepare frame %d: %w", r.Seq, err)
	}

	select {
	case wst.broadcast <- msg:
	default:
		wst.dropped.Add(1)
	}
	return nil
}

// Clients returns the number of connected clients.
func (wst *WebSocketTransport) Clients() int {
	wst.clientsMu.Lock()
	defer wst.clientsMu.Unlock()
	return len(wst.clients)
}

// Dropped returns the number of messages dropped on a full queue.
func (wst *WebSocketTransport) Dropped() uint64 { return wst.dropped.Load() }

func (wst *WebSocketTransport) closeClients() {
	wst.clientsMu.Lock()
	for client := range wst.clients {
		_ = client.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			time.Now().Add(writeTimeout))
		_ = client.Close()
	}
	wst.clients = make(map[*websocket.Conn]struct{})
	wst.clientsMu.Unlock()
}

// Close stops the broadcast loop and disconnects every client.
func (wst *WebSocketTransport) Close() error {
	wst.closeOnce.Do(func() {
		wst.log.Debugf("closing, %d message(s) dropped", wst.dropped.Load())
		close(wst.done)
		wst.wg.Wait()
		wst.closeClients()
	})
	return nil
}

var _ Transport = (*WebSocketTransport)(nil)
