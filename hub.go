package main

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog/log"
)

const (
	maxBacklog    = 100
	maxMessageLen = 2000
)

// sanitizeString removes control characters and caps the rune length.
// Valid Unicode including emojis and CJK text passes through unchanged.
func sanitizeString(s string, maxLen int) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsControl(r) && r != '\t' && r != '\n' {
			continue
		}
		if r == unicode.ReplacementChar {
			continue
		}
		b.WriteRune(r)
	}
	out := b.String()
	if runes := []rune(out); len(runes) > maxLen {
		out = string(runes[:maxLen])
	}
	return strings.TrimSpace(out)
}

// Hub fans chat and presence events out to every connected client. All
// inbound events run as closures on a single goroutine, so a registry
// mutation and its resulting broadcast are atomic with respect to every
// other event, matching the one-at-a-time dispatch the protocol assumes.
type Hub struct {
	registry *Registry
	clients  map[string]*Client
	commands chan func()
	closing  chan struct{}
	done     chan struct{}

	backlog []ChatMessage
	store   *messageStore
}

func NewHub(registry *Registry) *Hub {
	return &Hub{
		registry: registry,
		clients:  make(map[string]*Client),
		commands: make(chan func(), 256),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
		backlog:  make([]ChatMessage, 0, 64),
	}
}

// attachStore wires an optional persistent message store.
func (h *Hub) attachStore(s *messageStore) {
	h.store = s
}

// bootstrap preloads history into the in-memory backlog before Run starts.
func (h *Hub) bootstrap(msgs []ChatMessage) {
	h.backlog = append(h.backlog, msgs...)
	if len(h.backlog) > maxBacklog {
		h.backlog = h.backlog[len(h.backlog)-maxBacklog:]
	}
}

// Run processes hub commands until Close. Call in its own goroutine.
func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case fn := <-h.commands:
			fn()
		case <-h.closing:
			for _, c := range h.clients {
				c.shutdown()
			}
			return
		}
	}
}

// Close stops the command loop and force-closes all connections.
func (h *Hub) Close() {
	close(h.closing)
	<-h.done
}

func (h *Hub) enqueue(fn func()) {
	select {
	case h.commands <- fn:
	case <-h.closing:
	}
}

// Attach registers a freshly upgraded connection with the hub.
func (h *Hub) Attach(c *Client) {
	h.enqueue(func() { h.handleJoin(c) })
}

// Detach removes a connection. Safe to call for never-joined or
// already-detached clients.
func (h *Hub) Detach(c *Client) {
	h.enqueue(func() { h.handleLeave(c) })
}

// SendChat requests a chat broadcast on behalf of c.
func (h *Hub) SendChat(c *Client, text string) {
	h.enqueue(func() { h.handleChat(c, text) })
}

// RequestRename requests a display-name change on behalf of c.
func (h *Hub) RequestRename(c *Client, newName string) {
	h.enqueue(func() { h.handleRename(c, newName) })
}

func (h *Hub) handleJoin(c *Client) {
	sess, err := h.registry.Register(c.id)
	if err != nil {
		log.Error().Err(err).Str("id", c.id).Msg("[chat] register failed")
		c.shutdown()
		return
	}
	c.sess = sess
	h.clients[c.id] = c

	// The joiner learns the roster (and backlog) directly; everyone else
	// hears about the join.
	c.push(ServerEvent{Event: EventUserList, Data: h.registry.Snapshot()})
	if len(h.backlog) > 0 {
		c.push(ServerEvent{Event: EventMessageHistory, Data: append([]ChatMessage(nil), h.backlog...)})
	}
	joined := ServerEvent{Event: EventUserJoined, Data: PresenceData{
		Message: fmt.Sprintf("%s님이 입장하셨습니다.", sess.Name),
		Users:   h.registry.Snapshot(),
	}}
	for id, other := range h.clients {
		if id != c.id {
			other.push(joined)
		}
	}
	log.Info().Str("id", c.id).Str("name", sess.Name).Int("online", len(h.clients)).Msg("[chat] user joined")
}

func (h *Hub) handleLeave(c *Client) {
	delete(h.clients, c.id)
	sess, ok := h.registry.Unregister(c.id)
	if !ok {
		return
	}
	left := ServerEvent{Event: EventUserLeft, Data: PresenceData{
		Message: fmt.Sprintf("%s님이 퇴장하셨습니다.", sess.Name),
		Users:   h.registry.Snapshot(),
	}}
	h.broadcast(left)
	log.Info().Str("id", c.id).Str("name", sess.Name).Int("online", len(h.clients)).Msg("[chat] user left")
}

func (h *Hub) handleChat(c *Client, text string) {
	if c.sess == nil {
		return
	}
	text = sanitizeString(text, maxMessageLen)
	if text == "" {
		return
	}
	msg := ChatMessage{
		ID:        c.sess.ID,
		User:      c.sess.Name,
		Text:      text,
		Timestamp: time.Now().UTC(),
	}
	h.backlog = append(h.backlog, msg)
	if len(h.backlog) > maxBacklog {
		copy(h.backlog, h.backlog[len(h.backlog)-maxBacklog:])
		h.backlog = h.backlog[:maxBacklog]
	}
	if h.store != nil {
		if err := h.store.Append(msg); err != nil {
			log.Debug().Err(err).Msg("[chat] persist message")
		}
	}
	h.broadcast(ServerEvent{Event: EventNewMessage, Data: msg})
}

func (h *Hub) handleRename(c *Client, newName string) {
	if c.sess == nil {
		return
	}
	oldName, applied, ok := h.registry.Rename(c.sess.ID, newName)
	if !ok {
		c.push(ServerEvent{Event: EventNameRejected, Data: NameRejectedData{
			Reason: "사용할 수 없는 이름입니다. 1~20자 이내로 입력해주세요.",
		}})
		log.Debug().Str("id", c.id).Str("candidate", newName).Msg("[chat] rename rejected")
		return
	}
	h.broadcast(ServerEvent{Event: EventNameChanged, Data: NameChangedData{
		UserID:  c.sess.ID,
		NewName: applied,
		Message: fmt.Sprintf("%s님이 %s으로 이름을 변경하셨습니다.", oldName, applied),
	}})
	h.broadcast(ServerEvent{Event: EventUserList, Data: h.registry.Snapshot()})
}

func (h *Hub) broadcast(ev ServerEvent) {
	for _, c := range h.clients {
		c.push(ev)
	}
}
