// Package transport owns the websocket side of the engine: the
// Connection wrapper that serializes writes, and the handshake handler
// that authenticates, admits, and pumps inbound events.
package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"coursepulse/internal/event"
)

// Connection wraps one live websocket channel. Writes are funneled
// through a single goroutine: gorilla connections do not allow
// concurrent writers, and the engine sends to the same connection from
// many call sites.
type Connection struct {
	id          string
	userID      string
	role        string
	device      event.DeviceDescriptor
	connectedAt time.Time

	ws           *websocket.Conn
	writeCh      chan []byte
	writeTimeout time.Duration

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewConnection creates the wrapper and starts its writer goroutine.
// The identity comes from the handshake authenticator, never from the
// client payload.
func NewConnection(ws *websocket.Conn, ident event.Identity, device event.DeviceDescriptor, sendBuffer int, writeTimeout time.Duration) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:           uuid.New().String(),
		userID:       ident.UserID,
		role:         ident.Role,
		device:       device,
		connectedAt:  time.Now(),
		ws:           ws,
		writeCh:      make(chan []byte, sendBuffer),
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
	go c.writeLoop()
	return c
}

func (c *Connection) ID() string                     { return c.id }
func (c *Connection) UserID() string                 { return c.userID }
func (c *Connection) Role() string                   { return c.role }
func (c *Connection) ConnectedAt() time.Time         { return c.connectedAt }
func (c *Connection) Device() event.DeviceDescriptor { return c.device }

// Alive reports whether the connection has not been closed yet.
func (c *Connection) Alive() bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
		return true
	}
}

// Send envelopes the payload, stamps the delivery timestamp, and
// queues the frame. Fire-and-forget: a full buffer or closed channel
// is reported to the caller but never blocks past the write timeout.
func (c *Connection) Send(eventName string, payload any) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(event.Envelope{
		Event:     eventName,
		Payload:   payload,
		Timestamp: time.Now(),
	})
	if err != nil {
		return ErrEncodePayload
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(c.writeTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// writeLoop is the only goroutine allowed to write to the socket.
func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// Close tears the connection down exactly once. Safe to call
// concurrently with in-flight sends; queued frames are dropped.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.ws.Close()
	})
	return err
}
