// Package signaling implements the client end of the gateway's websocket
// protocol: one dialed connection, a read pump exposing inbound frames as a
// channel, and a write pump with keepalive pings.
package signaling

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quotewise/callbridge/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

var ErrClosed = errors.New("signaling channel closed")

// Client manages the websocket connection to the signaling gateway.
type Client struct {
	conn     *websocket.Conn
	incoming chan protocol.Envelope
	outgoing chan protocol.Envelope

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the gateway and starts the pumps.
func Dial(serverURL string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.Dial(serverURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", serverURL, err)
	}

	c := &Client{
		conn:     conn,
		incoming: make(chan protocol.Envelope, 32),
		outgoing: make(chan protocol.Envelope, 32),
		done:     make(chan struct{}),
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump()
	go c.writePump()

	return c, nil
}

// Incoming returns the stream of gateway frames. It is closed when the
// connection dies.
func (c *Client) Incoming() <-chan protocol.Envelope {
	return c.incoming
}

// Send frames and queues one event for the gateway.
func (c *Client) Send(event string, data any) error {
	env, err := protocol.NewEnvelope(event, data)
	if err != nil {
		return err
	}
	select {
	case c.outgoing <- env:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// JoinRoom requests membership of roomID under the given display name.
func (c *Client) JoinRoom(roomID, userName string) error {
	return c.Send(protocol.EventJoinRoom, protocol.JoinRoom{
		RoomID:   roomID,
		UserName: userName,
	})
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *Client) readPump() {
	defer func() {
		c.conn.Close()
		close(c.incoming)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		var env protocol.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			return
		}
		select {
		case c.incoming <- env:
		case <-c.done:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env := <-c.outgoing:
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
