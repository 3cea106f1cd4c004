package bridge

import (
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	apperrors "github.com/gantry-app/gantry/internal/errors"
)

// channelBufferSize is the buffer size for the broadcast channel and
// per-client send channels. It absorbs bursts of backend output without
// blocking the process read loops; when a client's buffer fills, events
// are dropped for that client rather than stalling the supervisor.
const channelBufferSize = 256

// PortSource reports the backend port, if discovered.
type PortSource func() (port int, ok bool)

// Bridge is the WebSocket server UI clients connect to. Clients can only
// invoke and subscribe to allow-listed channels; anything else is rejected
// locally, logged as a warning, and never reaches a handler.
//
// Bridge implements the supervisor's output sink: backend chunks and port
// discoveries published here fan out to every subscribed client and to
// in-process listeners registered with Subscribe.
type Bridge struct {
	addr     string
	upgrader websocket.Upgrader

	// mu protects clients and stopped.
	mu      sync.RWMutex
	clients map[*Client]bool
	stopped bool

	// broadcast decouples event production from delivery.
	broadcast chan Message

	httpServer *http.Server

	// actualAddr is the bound listener address, useful when addr
	// requested an ephemeral port.
	actualAddr string

	// portSource answers get-api-port invokes.
	portSource PortSource

	// lmu protects the in-process listener table.
	lmu          sync.Mutex
	listeners    map[string]map[uint64]func(payload interface{})
	nextListener uint64
}

// Client is one WebSocket connection. Each client has its own write
// goroutine so a slow client cannot block the broadcaster.
type Client struct {
	id   string
	conn *websocket.Conn

	// send buffers outgoing messages for writePump.
	send chan Message

	// done is closed exactly once to signal shutdown. Senders check done
	// before sending; the channel itself is never closed.
	done     chan struct{}
	sendOnce sync.Once

	bridge *Bridge

	// invokeLimiter bounds request-rate per client.
	invokeLimiter *rate.Limiter

	// subMu protects subs; readPump writes it, the broadcaster reads it.
	subMu sync.Mutex
	subs  map[string]bool
}

// closeSend signals the client to shut down exactly once. Safe to call
// from multiple goroutines.
func (c *Client) closeSend() {
	c.sendOnce.Do(func() {
		close(c.done)
	})
}

// subscribedTo reports whether the client subscribed to a channel.
func (c *Client) subscribedTo(channel string) bool {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return c.subs[channel]
}

// NewBridge creates a bridge listening on addr once started.
func NewBridge(addr string) *Bridge {
	return &Bridge{
		addr:      addr,
		clients:   make(map[*Client]bool),
		broadcast: make(chan Message, channelBufferSize),
		listeners: make(map[string]map[uint64]func(interface{})),
		upgrader: websocket.Upgrader{
			// The rendering surface connects from a local custom origin.
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// SetPortSource wires the supervisor's port getter into get-api-port.
// Must be called before clients connect.
func (b *Bridge) SetPortSource(src PortSource) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.portSource = src
}

// StartAsync starts the bridge in a goroutine and reports startup errors.
// The listener is created first so a port conflict fails fast; the
// returned channel receives nil once the server is accepting connections.
func (b *Bridge) StartAsync(statusHandler http.Handler) <-chan error {
	errCh := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", b.handleWebSocket)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if statusHandler != nil {
		mux.Handle("/status", statusHandler)
	}

	ln, err := net.Listen("tcp", b.addr)
	if err != nil {
		errCh <- fmt.Errorf("failed to listen on %s: %w", b.addr, err)
		close(errCh)
		return errCh
	}
	b.actualAddr = ln.Addr().String()

	b.httpServer = &http.Server{Handler: mux}

	go b.runBroadcaster()

	go func() {
		log.Printf("bridge: listening on %s", b.actualAddr)
		errCh <- nil
		close(errCh)

		if err := b.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("bridge: server error: %v", err)
		}
	}()

	return errCh
}

// Addr returns the bound listener address after StartAsync succeeded.
func (b *Bridge) Addr() string {
	return b.actualAddr
}

// Stop shuts the bridge down: close frames go to all clients, the
// broadcast channel closes so the broadcaster exits, and the HTTP server
// stops accepting connections. Safe to call more than once.
func (b *Bridge) Stop() error {
	b.mu.Lock()

	if b.stopped {
		b.mu.Unlock()
		return nil
	}
	b.stopped = true

	for client := range b.clients {
		client.closeSend()
	}
	b.clients = make(map[*Client]bool)

	// Must happen after stopped=true so concurrent publishes cannot send
	// on a closed channel.
	close(b.broadcast)
	b.mu.Unlock()

	if b.httpServer != nil {
		return b.httpServer.Close()
	}
	return nil
}

// ClientCount returns the number of connected clients.
func (b *Bridge) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// BackendOutput publishes one raw backend output chunk on backend-log.
// This is the supervisor's log tap: live only, no replay.
func (b *Bridge) BackendOutput(chunk string) {
	b.publish(NewLogEventMessage(chunk))
}

// PortDiscovered publishes a backend-port event.
func (b *Bridge) PortDiscovered(port int) {
	b.publish(NewPortEventMessage(port))
}

// Subscribe attaches an in-process listener to a subscribable channel and
// returns a disposer that detaches exactly that listener. The channel
// allow-list applies to local callers the same way it does to clients.
func (b *Bridge) Subscribe(channel string, fn func(payload interface{})) (func(), error) {
	if !subscribableChannels[channel] {
		log.Printf("Warning: rejected local subscription to channel %q", channel)
		return nil, apperrors.ChannelDenied(channel)
	}

	b.lmu.Lock()
	defer b.lmu.Unlock()

	id := b.nextListener
	b.nextListener++
	if b.listeners[channel] == nil {
		b.listeners[channel] = make(map[uint64]func(interface{}))
	}
	b.listeners[channel][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			b.lmu.Lock()
			defer b.lmu.Unlock()
			delete(b.listeners[channel], id)
		})
	}, nil
}

// publish delivers an event to in-process listeners synchronously (which
// preserves arrival order per listener) and queues it for connected
// clients.
func (b *Bridge) publish(msg Message) {
	b.lmu.Lock()
	fns := make([]func(interface{}), 0, len(b.listeners[msg.Channel]))
	for _, fn := range b.listeners[msg.Channel] {
		fns = append(fns, fn)
	}
	b.lmu.Unlock()

	for _, fn := range fns {
		fn(msg.Payload)
	}

	// Hold RLock while checking stopped AND sending so Stop cannot close
	// the channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.stopped {
		return
	}

	select {
	case b.broadcast <- msg:
	default:
		log.Printf("Warning: broadcast channel full, dropping event")
	}
}

// runBroadcaster fans queued events out to subscribed clients.
func (b *Bridge) runBroadcaster() {
	for msg := range b.broadcast {
		b.mu.RLock()
		for client := range b.clients {
			if msg.Type == MessageTypeEvent && !client.subscribedTo(msg.Channel) {
				continue
			}
			select {
			case <-client.done:
				// Client is shutting down - skip
			case client.send <- msg:
			default:
				log.Printf("Warning: client %s send buffer full, dropping event", client.id)
			}
		}
		b.mu.RUnlock()
	}
}

// handleWebSocket upgrades an HTTP connection and registers the client.
func (b *Bridge) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("bridge: upgrade failed: %v", err)
		return
	}

	client := &Client{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan Message, channelBufferSize),
		done:   make(chan struct{}),
		bridge: b,
		subs:   make(map[string]bool),
		// Invokes are cheap lookups; 100/sec with a small burst is far
		// above any legitimate UI usage.
		invokeLimiter: rate.NewLimiter(rate.Limit(100), 20),
	}

	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		conn.Close()
		return
	}
	b.clients[client] = true
	b.mu.Unlock()

	log.Printf("bridge: client %s connected (%d total)", client.id, b.ClientCount())

	go client.writePump()
	go client.readPump()
}
