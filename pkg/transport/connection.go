package transport

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// MessageHandler is the callback executed when a message is received.
type MessageHandler func(ctx context.Context, connID uuid.UUID, msg []byte)

// OnCloseHandler is invoked exactly once when the connection terminates.
type OnCloseHandler func(connID uuid.UUID, err error)

type ConnectionConfig struct {
	ReadTimeout time.Duration
}

// Connection represents a single, thread-safe WebSocket connection.
type Connection struct {
	id     uuid.UUID
	conn   *websocket.Conn
	config ConnectionConfig
	send   chan []byte

	onMessage MessageHandler
	onClose   OnCloseHandler

	done      chan struct{}
	wg        *sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	logger *slog.Logger
}

func NewConnection(parentCtx context.Context, wg *sync.WaitGroup, conn *websocket.Conn, config ConnectionConfig, onMessage MessageHandler, onClose OnCloseHandler, logger *slog.Logger) *Connection {
	id := uuid.New()
	connCtx, cancel := context.WithCancel(parentCtx)

	return &Connection{
		id:        id,
		conn:      conn,
		logger:    logger.With(slog.String("connID", id.String())),
		config:    config,
		onMessage: onMessage,
		onClose:   onClose,
		send:      make(chan []byte, 256), // Buffered channel
		done:      make(chan struct{}),
		ctx:       connCtx,
		cancel:    cancel,
		wg:        wg,
	}
}

func (c *Connection) Run() {
	c.wg.Add(1)
	go c.readPump()
	go c.writePump()

	c.logger.Info("connection established")
}

// readPump pumps messages from the WebSocket connection to the message handler.
func (c *Connection) readPump() {
	var readErr error
	defer func() {
		c.Close(readErr)
	}()

	for {
		readCtx, cancelRead := context.WithTimeout(c.ctx, c.config.ReadTimeout)
		typ, r, err := c.conn.Reader(readCtx)
		if err != nil {
			cancelRead()
			readErr = err
			return
		}
		// Ensure we are only handling text or binary messages.
		if typ != websocket.MessageText && typ != websocket.MessageBinary {
			cancelRead()
			continue
		}
		message, err := io.ReadAll(r)
		cancelRead()
		if err != nil {
			readErr = err
			return
		}
		// Pass a connection-scoped context to the handler.
		c.onMessage(c.ctx, c.id, message)
	}
}

// writePump pumps messages from the send channel to the WebSocket connection.
func (c *Connection) writePump() {
	var writeErr error
	defer func() {
		c.Close(writeErr)
	}()

	for {
		select {
		case message := <-c.send:
			if err := c.conn.Write(c.ctx, websocket.MessageText, message); err != nil {
				writeErr = err
				return
			}
		case <-c.ctx.Done():
			c.conn.Close(websocket.StatusNormalClosure, "request cancelled")
			return
		}
	}
}

// Send queues a message for delivery. It is safe for concurrent use and is a
// silent no-op once the connection has closed: the peer may have legitimately
// disconnected while a handler was still in flight. The send channel is never
// closed, only the context cancels, so this cannot panic after Close.
func (c *Connection) Send(message []byte) {
	select {
	case <-c.ctx.Done():
		c.logger.Debug("dropped message for closed connection")
		return
	default:
	}
	select {
	case c.send <- message:
	case <-c.ctx.Done():
		c.logger.Debug("dropped message for closed connection")
	}
}

// Close gracefully shuts down the connection and its resources.
func (c *Connection) Close(err error) {
	c.closeOnce.Do(func() {
		status := websocket.CloseStatus(err)
		c.logger.Info("transport connection closing", slog.Any("reason", err), slog.String("status", status.String()))

		// Cancel terminates both pumps; c.send is deliberately left open so a
		// late Send from another goroutine drops instead of panicking.
		c.cancel()
		c.conn.Close(websocket.StatusNormalClosure, "")
		if c.onClose != nil {
			c.onClose(c.id, err)
		}
		c.wg.Done()
		close(c.done)
	})
}

// Done returns a channel that is closed when the connection is fully terminated.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// ID returns the unique identifier of the connection.
func (c *Connection) ID() uuid.UUID {
	return c.id
}

func (c *Connection) SetOnMessageHandler(handler MessageHandler) {
	c.onMessage = handler
}

func (c *Connection) SetOnCloseHandler(handler OnCloseHandler) {
	c.onClose = handler
}
