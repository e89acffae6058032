package server

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// writeWait bounds a single message write to the peer.
	writeWait = 10 * time.Second
	// pongWait is how long the peer has to answer a ping.
	pongWait = 60 * time.Second
	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// maxMessageSize limits inbound frames; viewers send nothing after the
	// handshake.
	maxMessageSize = 512
)

var errSendBufferFull = errors.New("send buffer full")
var errClientClosed = errors.New("client closed")

// wsClient adapts one WebSocket connection to the live.Subscriber contract.
// Deliveries go through a buffered channel drained by the write pump; a full
// buffer marks the viewer as a slow consumer, fails the delivery and tears
// the connection down so the viewer can reconnect.
type wsClient struct {
	conn    *websocket.Conn
	send    chan []byte
	stop    chan struct{}
	closed  atomic.Bool
	once    sync.Once
	logger  zerolog.Logger
	onClose func(*wsClient)
}

func newWSClient(conn *websocket.Conn, sendBuffer int, logger zerolog.Logger, onClose func(*wsClient)) *wsClient {
	if sendBuffer <= 0 {
		sendBuffer = 32
	}
	return &wsClient{
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		stop:    make(chan struct{}),
		logger:  logger,
		onClose: onClose,
	}
}

// Ready reports whether the connection still accepts deliveries.
func (c *wsClient) Ready() bool {
	return !c.closed.Load()
}

// Send queues one message for the write pump. It never blocks the broadcast:
// a closed client or a full buffer fails the delivery instead. A full buffer
// also closes the connection, otherwise the viewer would linger on a socket
// that never receives another reading.
func (c *wsClient) Send(payload []byte) error {
	if c.closed.Load() {
		return errClientClosed
	}
	select {
	case c.send <- payload:
		return nil
	default:
		c.close()
		return errSendBufferFull
	}
}

// writePump drains queued messages to the connection and keeps it alive with
// pings.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case <-c.stop:
			return
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug().Err(err).Msg("server: websocket write failed")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames; its job is to notice the peer going away
// and to answer control frames.
func (c *wsClient) readPump() {
	defer c.close()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug().Err(err).Msg("server: websocket read failed")
			}
			return
		}
	}
}

func (c *wsClient) close() {
	c.once.Do(func() {
		c.closed.Store(true)
		close(c.stop)
		_ = c.conn.Close()
		if c.onClose != nil {
			c.onClose(c)
		}
	})
}
