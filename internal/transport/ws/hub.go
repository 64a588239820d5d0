package ws

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"itemgen.ai/internal/protocol"
)

type Options struct {
	// Retain is how many recent events are kept for EVENT_BATCH_REQ replay.
	Retain int
	// LoopbackOnly rejects observers that do not connect from loopback.
	LoopbackOnly bool
	// Welcome builds the greeting sent after SUBSCRIBE.
	Welcome func() protocol.WelcomeMsg
}

// Hub fans generator events out to websocket observers. Observers that fall
// behind are disconnected; Publish never blocks.
type Hub struct {
	log  *zap.Logger
	opts Options

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	cursor  uint64
	ring    []protocol.EventBatchItem

	evicted atomic.Uint64
}

type client struct {
	sub protocol.SubscribeMsg
	out chan []byte
}

func NewHub(opts Options, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Retain <= 0 {
		opts.Retain = 1024
	}
	return &Hub{
		log:     logger,
		opts:    opts,
		clients: map[*client]struct{}{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Publish implements the generator event sink.
func (h *Hub) Publish(ev protocol.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.cursor++
	item := protocol.EventBatchItem{Cursor: h.cursor, Event: ev}
	h.ring = append(h.ring, item)
	if len(h.ring) > h.opts.Retain {
		h.ring = h.ring[len(h.ring)-h.opts.Retain:]
	}
	if len(h.clients) == 0 {
		return
	}

	b, err := json.Marshal(protocol.EventMsg{
		Type:            protocol.TypeEvent,
		ProtocolVersion: protocol.Version,
		Cursor:          item.Cursor,
		Event:           ev,
	})
	if err != nil {
		h.log.Warn("encode event", zap.Error(err))
		return
	}
	for c := range h.clients {
		if !c.sub.Match(ev) {
			continue
		}
		select {
		case c.out <- b:
		default:
			h.evictLocked(c)
		}
	}
}

func (h *Hub) evictLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.out)
	h.evicted.Add(1)
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) Evicted() uint64 { return h.evicted.Load() }

func (h *Hub) Cursor() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cursor
}

// Since returns retained events after cursor, oldest first.
func (h *Hub) Since(cursor uint64, limit int) ([]protocol.EventBatchItem, uint64) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []protocol.EventBatchItem
	for _, it := range h.ring {
		if it.Cursor <= cursor {
			continue
		}
		out = append(out, it)
		if len(out) == limit {
			break
		}
	}
	next := cursor
	if len(out) > 0 {
		next = out[len(out)-1].Cursor
	}
	return out, next
}

// Handler serves the observer stream. The client sends SUBSCRIBE first and
// may resend it to change filters.
func (h *Hub) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if h.opts.LoopbackOnly && !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		conn, err := h.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		c, ok := h.handshake(conn)
		if !ok {
			return
		}
		defer func() {
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.out)
			}
			h.mu.Unlock()
		}()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		writeDone := make(chan struct{})
		go func() {
			defer close(writeDone)
			h.writeLoop(ctx, conn, c.out)
			cancel()
		}()

		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil || ctx.Err() != nil {
				break
			}
			h.handleClientMsg(c, msg)
		}

		cancel()
		select {
		case <-writeDone:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (h *Hub) writeLoop(ctx context.Context, conn *websocket.Conn, out <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
			return
		case b, ok := <-out:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "slow consumer"), time.Now().Add(time.Second))
				_ = conn.Close()
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		}
	}
}

// handshake reads SUBSCRIBE, registers the client and writes WELCOME. The
// welcome cursor and the registration happen under one lock: events after
// the cursor go to the client's queue, earlier ones are replayable.
func (h *Hub) handshake(conn *websocket.Conn) (*client, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, false
	}
	var sub protocol.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil || sub.Type != protocol.TypeSubscribe {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
		return nil, false
	}
	if sub.ProtocolVersion != protocol.Version {
		_ = writeJSON(conn, protocol.ErrorMsg{
			Type:            protocol.TypeError,
			ProtocolVersion: protocol.Version,
			Code:            protocol.ErrBadRequest,
			Message:         "unsupported protocol_version",
		})
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return nil, false
	}
	normalizeSubscribe(&sub)

	welcome := protocol.WelcomeMsg{}
	if h.opts.Welcome != nil {
		welcome = h.opts.Welcome()
	}
	c := &client{sub: sub, out: make(chan []byte, sub.MaxQueue)}
	h.mu.Lock()
	welcome.Cursor = h.cursor
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	welcome.Type = protocol.TypeWelcome
	welcome.ProtocolVersion = protocol.Version
	if welcome.ServerTime == 0 {
		welcome.ServerTime = time.Now().UnixMilli()
	}
	if err := writeJSON(conn, welcome); err != nil {
		h.mu.Lock()
		if _, ok := h.clients[c]; ok {
			delete(h.clients, c)
			close(c.out)
		}
		h.mu.Unlock()
		return nil, false
	}
	return c, true
}

func (h *Hub) handleClientMsg(c *client, msg []byte) {
	base, err := protocol.DecodeBase(msg)
	if err != nil || base.ProtocolVersion != protocol.Version {
		return
	}
	switch base.Type {
	case protocol.TypeSubscribe:
		var sub protocol.SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil {
			return
		}
		h.mu.Lock()
		c.sub.Kinds, c.sub.Owner, c.sub.World = sub.Kinds, sub.Owner, sub.World
		h.mu.Unlock()
	case protocol.TypeEventBatchReq:
		var req protocol.EventBatchReqMsg
		if err := json.Unmarshal(msg, &req); err != nil {
			return
		}
		items, next := h.Since(req.SinceCursor, req.Limit)
		b, err := json.Marshal(protocol.EventBatchMsg{
			Type:            protocol.TypeEventBatch,
			ProtocolVersion: protocol.Version,
			ReqID:           req.ReqID,
			Events:          items,
			NextCursor:      next,
		})
		if err != nil {
			return
		}
		h.mu.Lock()
		if _, ok := h.clients[c]; ok {
			select {
			case c.out <- b:
			default:
				h.evictLocked(c)
			}
		}
		h.mu.Unlock()
	}
}

func normalizeSubscribe(sub *protocol.SubscribeMsg) {
	if sub.MaxQueue <= 0 {
		sub.MaxQueue = 256
	}
	if sub.MaxQueue > 4096 {
		sub.MaxQueue = 4096
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
