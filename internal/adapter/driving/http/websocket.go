package http

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quotewise/callbridge/internal/core/domain"
	"github.com/quotewise/callbridge/internal/protocol"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong before the channel is considered dead.
	pongWait = 60 * time.Second

	// Ping period, must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// 64 KB, enough headroom for SDP blobs.
	maxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// TODO: restrict to the CRM origin once the frontend domain is fixed
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSClient wraps one websocket connection. All writes go through the send
// queue and writePump; all reads happen in readPump.
type WSClient struct {
	id   domain.ConnectionID
	conn *websocket.Conn
	send chan protocol.Envelope

	done      chan struct{}
	closeOnce sync.Once
}

func newWSClient(conn *websocket.Conn) *WSClient {
	return &WSClient{
		id:   domain.NewConnectionID(),
		conn: conn,
		send: make(chan protocol.Envelope, 64),
		done: make(chan struct{}),
	}
}

func (c *WSClient) ID() string {
	return c.id.String()
}

// Send queues a frame for the writer. It never blocks; a client too slow to
// drain its queue loses the frame and gets disconnected by the service.
func (c *WSClient) Send(env protocol.Envelope) error {
	select {
	case c.send <- env:
		return nil
	case <-c.done:
		return errors.New("channel closed")
	default:
		return errors.New("send queue full")
	}
}

func (c *WSClient) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return c.conn.Close()
}

func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Error while upgrading ws")
		return
	}

	client := newWSClient(conn)

	l := log.With().Str("conn_id", client.ID()).Logger()
	l.Info().Msg("New channel connected")

	h.Signaling.Register(client)

	go client.writePump()
	client.readPump(h, l)
}

// readPump decodes frames from the connection and hands them to the service.
// It is the only reader of the connection.
func (c *WSClient) readPump(h *Handler, l zerolog.Logger) {
	defer func() {
		l.Info().Msg("Channel disconnected")
		h.Signaling.Unregister(c)
		c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var env protocol.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				l.Error().Err(err).Msg("Unexpected close error")
			}
			break
		}
		h.Signaling.Dispatch(c, env)
	}
}

// writePump drains the send queue and keeps the connection alive with pings.
// It is the only writer of the connection.
func (c *WSClient) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
