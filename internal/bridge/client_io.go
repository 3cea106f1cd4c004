package bridge

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"

	apperrors "github.com/gantry-app/gantry/internal/errors"
)

const (
	// pingInterval is how often the server pings each client.
	pingInterval = 30 * time.Second

	// pongTimeout is how long a client may stay silent before its
	// connection is considered dead.
	pongTimeout = 60 * time.Second

	// writeTimeout bounds any single write to a client.
	writeTimeout = 10 * time.Second

	// maxMessageSize caps inbound frames. Client messages are tiny control
	// envelopes; anything near this limit is malformed or hostile.
	maxMessageSize = 512 * 1024
)

// readPump reads client messages and dispatches them until the connection
// drops. It runs in its own goroutine, one per client.
func (c *Client) readPump() {
	defer func() {
		c.bridge.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("bridge: client %s read error: %v", c.id, err)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.enqueue(NewErrorMessage("", "", apperrors.CodeBridgeInvalidMsg, "malformed message"))
			continue
		}

		c.dispatch(msg)
	}
}

// dispatch routes one inbound message. The channel allow-lists are checked
// here, before any handler runs; a denied channel produces a warning log
// and an error reply, nothing else.
func (c *Client) dispatch(msg clientMessage) {
	switch msg.Type {
	case MessageTypeInvoke:
		if !invokableChannels[msg.Channel] {
			log.Printf("Warning: client %s invoked denied channel %q", c.id, msg.Channel)
			c.enqueue(NewErrorMessage(msg.ID, msg.Channel, apperrors.CodeBridgeChannelDenied,
				"channel is not invokable"))
			return
		}
		if !c.invokeLimiter.Allow() {
			c.enqueue(NewErrorMessage(msg.ID, msg.Channel, apperrors.CodeBridgeRateLimited,
				"too many requests"))
			return
		}
		c.handleInvoke(msg)

	case MessageTypeSubscribe:
		if !subscribableChannels[msg.Channel] {
			log.Printf("Warning: client %s subscribed to denied channel %q", c.id, msg.Channel)
			c.enqueue(NewErrorMessage(msg.ID, msg.Channel, apperrors.CodeBridgeChannelDenied,
				"channel is not subscribable"))
			return
		}
		c.subMu.Lock()
		c.subs[msg.Channel] = true
		c.subMu.Unlock()
		c.enqueue(Message{Type: MessageTypeSubscribed, ID: msg.ID, Channel: msg.Channel})

	case MessageTypeUnsubscribe:
		c.subMu.Lock()
		delete(c.subs, msg.Channel)
		c.subMu.Unlock()

	default:
		c.enqueue(NewErrorMessage(msg.ID, msg.Channel, apperrors.CodeBridgeInvalidMsg,
			"unknown message type"))
	}
}

// handleInvoke serves an already allow-listed, rate-limited invoke.
func (c *Client) handleInvoke(msg clientMessage) {
	switch msg.Channel {
	case ChannelGetAPIPort:
		c.bridge.mu.RLock()
		src := c.bridge.portSource
		c.bridge.mu.RUnlock()

		payload := PortResultPayload{}
		if src != nil {
			if port, ok := src(); ok {
				payload.Port = &port
			}
		}
		c.enqueue(NewResultMessage(msg.ID, msg.Channel, payload))

	default:
		// Unreachable while the allow-list and this switch stay in sync.
		c.enqueue(NewErrorMessage(msg.ID, msg.Channel, apperrors.CodeInternal,
			"no handler for channel"))
	}
}

// enqueue hands a message to writePump without blocking readPump. If the
// client is too slow to keep up, events are dropped for it.
func (c *Client) enqueue(msg Message) {
	select {
	case <-c.done:
	case c.send <- msg:
	default:
		log.Printf("Warning: client %s send buffer full, dropping message", c.id)
	}
}

// writePump writes queued messages and pings until the client shuts down.
// It is the only goroutine that writes to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(msg); err != nil {
				log.Printf("bridge: client %s write error: %v", c.id, err)
				c.closeSend()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.closeSend()
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// removeClient unregisters a client after its readPump returns.
func (b *Bridge) removeClient(c *Client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		c.closeSend()
	}
	b.mu.Unlock()

	log.Printf("bridge: client %s disconnected (%d total)", c.id, b.ClientCount())
}
