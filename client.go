package main

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 30 * time.Second
	sendBufferSize = 64
	maxFrameSize   = 64 * 1024
)

// Client represents a single websocket participant. The session pointer is
// set by the hub loop once registration succeeds and stays nil for
// connections that never joined.
type Client struct {
	id     string
	sess   *Session
	conn   *websocket.Conn
	hub    *Hub
	send   chan ServerEvent
	done   chan struct{}
	closed atomic.Bool
}

func NewClient(id string, conn *websocket.Conn, hub *Hub) *Client {
	return &Client{
		id:   id,
		conn: conn,
		hub:  hub,
		send: make(chan ServerEvent, sendBufferSize),
		done: make(chan struct{}),
	}
}

func (c *Client) readLoop() {
	defer c.close()
	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Str("id", c.id).Msg("[chat] read message")
			return
		}
		var ev ClientEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			log.Debug().Err(err).Str("id", c.id).Msg("[chat] malformed client event")
			continue
		}
		switch ev.Event {
		case EventSendMessage:
			var data SendMessageData
			if err := json.Unmarshal(ev.Data, &data); err != nil {
				continue
			}
			c.hub.SendChat(c, data.Text)
		case EventChangeName:
			var name string
			if err := json.Unmarshal(ev.Data, &name); err != nil {
				continue
			}
			c.hub.RequestRename(c, name)
		default:
			log.Debug().Str("id", c.id).Str("event", ev.Event).Msg("[chat] unknown client event")
		}
	}
}

func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case ev := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := writeJSON(c.conn, ev); err != nil {
				log.Debug().Err(err).Str("id", c.id).Msg("[chat] write event")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// push queues an event for delivery, dropping the oldest queued event when
// the buffer is full so one slow consumer never stalls the hub loop.
func (c *Client) push(ev ServerEvent) {
	if c.closed.Load() {
		return
	}
	select {
	case c.send <- ev:
	default:
		select {
		case <-c.send:
		default:
		}
		select {
		case c.send <- ev:
		default:
		}
	}
}

// close tears the connection down and notifies the hub. Idempotent.
func (c *Client) close() {
	if c.closed.Swap(true) {
		return
	}
	close(c.done)
	_ = c.conn.Close()
	c.hub.Detach(c)
}

// shutdown is close without the hub notification, used by the hub itself
// while it is tearing everything down.
func (c *Client) shutdown() {
	if c.closed.Swap(true) {
		return
	}
	close(c.done)
	_ = c.conn.Close()
}

// writeJSON encodes v to the connection without HTML escaping, so <, >, and
// & reach the client in their original form; escaping for display is the
// client's job.
func writeJSON(conn *websocket.Conn, v any) error {
	w, err := conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return w.Close()
}
