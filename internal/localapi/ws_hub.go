package localapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"sitecrew/cli/internal/protocol"
)

const (
	TopicKnowledgeUpdated = "knowledge.updated"

	clientQueueSize = 64
	writeTimeout    = 500 * time.Millisecond
)

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
}

// WSHub fans events out to every connected /ws client. Each client has its own
// bounded queue; a client that falls behind misses events rather than
// stalling the publisher. Project events carry full snapshots, so the next
// one catches the client up.
type WSHub struct {
	mu      sync.RWMutex
	clients map[*hubClient]struct{}
	seq     atomic.Uint64
	closed  chan struct{}
	once    sync.Once
}

func NewWSHub() *WSHub {
	return &WSHub{clients: map[*hubClient]struct{}{}, closed: make(chan struct{})}
}

func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	client := &hubClient{conn: conn, send: make(chan []byte, clientQueueSize)}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	ctx, cancel := context.WithCancel(r.Context())
	defer func() {
		cancel()
		h.mu.Lock()
		delete(h.clients, client)
		h.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.closed:
			return
		case msg := <-client.send:
			writeCtx, writeCancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(writeCtx, websocket.MessageText, msg)
			writeCancel()
			if err != nil {
				return
			}
		}
	}
}

func (h *WSHub) Publish(topic, projectID string, payload map[string]any) {
	outPayload := map[string]any{}
	if projectID != "" {
		outPayload["project_id"] = projectID
	}
	for k, v := range payload {
		outPayload[k] = v
	}

	evt := protocol.Message{
		ID:      fmt.Sprintf("evt_%d", h.seq.Add(1)),
		Type:    protocol.TypeEvent,
		Op:      topic,
		Payload: protocol.MustRaw(outPayload),
	}
	msg, err := json.Marshal(evt)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
		}
	}
}

func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *WSHub) Close() {
	h.once.Do(func() { close(h.closed) })
}
