package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"itemgen.ai/internal/protocol"
)

func dial(t *testing.T, srv *httptest.Server, sub protocol.SubscribeMsg) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.WriteJSON(sub))
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, b, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, v))
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.Clients() == n }, 5*time.Second, 10*time.Millisecond)
}

func TestHub_WelcomeThenFilteredEvents(t *testing.T) {
	h := NewHub(Options{
		LoopbackOnly: true,
		Welcome: func() protocol.WelcomeMsg {
			return protocol.WelcomeMsg{Generators: 2, Types: []string{"cobble_gen"}}
		},
	}, zaptest.NewLogger(t))
	h.Publish(protocol.Event{ID: "before", Kind: protocol.EventProduced})
	srv := httptest.NewServer(h.Handler())
	defer srv.Close()

	conn := dial(t, srv, protocol.SubscribeMsg{
		Type:            protocol.TypeSubscribe,
		ProtocolVersion: protocol.Version,
		Kinds:           []string{protocol.EventProduced},
	})

	var welcome protocol.WelcomeMsg
	readJSON(t, conn, &welcome)
	require.Equal(t, protocol.TypeWelcome, welcome.Type)
	require.Equal(t, 2, welcome.Generators)
	require.Equal(t, []string{"cobble_gen"}, welcome.Types)
	require.Equal(t, uint64(1), welcome.Cursor)
	waitClients(t, h, 1)

	h.Publish(protocol.Event{ID: "p", Kind: protocol.EventPlaced})
	h.Publish(protocol.Event{ID: "q", Kind: protocol.EventProduced, Item: "COBBLESTONE"})

	var msg protocol.EventMsg
	readJSON(t, conn, &msg)
	require.Equal(t, protocol.TypeEvent, msg.Type)
	require.Equal(t, uint64(3), msg.Cursor)
	require.Equal(t, "q", msg.Event.ID)
}

func TestHub_EventBatchReplaysRetained(t *testing.T) {
	h := NewHub(Options{Retain: 2}, zaptest.NewLogger(t))
	for _, id := range []string{"a", "b", "c"} {
		h.Publish(protocol.Event{ID: id, Kind: protocol.EventSaved})
	}
	srv := httptest.NewServer(h.Handler())
	defer srv.Close()

	conn := dial(t, srv, protocol.SubscribeMsg{
		Type:            protocol.TypeSubscribe,
		ProtocolVersion: protocol.Version,
		Kinds:           []string{protocol.EventPlaced},
	})
	var welcome protocol.WelcomeMsg
	readJSON(t, conn, &welcome)

	require.NoError(t, conn.WriteJSON(protocol.EventBatchReqMsg{
		Type:            protocol.TypeEventBatchReq,
		ProtocolVersion: protocol.Version,
		ReqID:           "r1",
	}))
	var batch protocol.EventBatchMsg
	readJSON(t, conn, &batch)
	require.Equal(t, "r1", batch.ReqID)
	require.Len(t, batch.Events, 2)
	require.Equal(t, "b", batch.Events[0].Event.ID)
	require.Equal(t, uint64(3), batch.NextCursor)
}

func TestHub_RejectsWrongVersion(t *testing.T) {
	h := NewHub(Options{}, zaptest.NewLogger(t))
	srv := httptest.NewServer(h.Handler())
	defer srv.Close()

	conn := dial(t, srv, protocol.SubscribeMsg{Type: protocol.TypeSubscribe, ProtocolVersion: "0.1"})
	var e protocol.ErrorMsg
	readJSON(t, conn, &e)
	require.Equal(t, protocol.ErrBadRequest, e.Code)
	require.Equal(t, 0, h.Clients())
}

func TestHub_EvictsSlowClient(t *testing.T) {
	h := NewHub(Options{}, zaptest.NewLogger(t))
	c := &client{out: make(chan []byte, 1)}
	h.clients[c] = struct{}{}

	h.Publish(protocol.Event{ID: "1", Kind: protocol.EventProduced})
	h.Publish(protocol.Event{ID: "2", Kind: protocol.EventProduced})

	require.Equal(t, 0, h.Clients())
	require.Equal(t, uint64(1), h.Evicted())
	_, open := <-c.out
	require.True(t, open, "queued message stays readable")
	_, open = <-c.out
	require.False(t, open)
}

func TestIsLoopbackRemote(t *testing.T) {
	require.True(t, isLoopbackRemote("127.0.0.1:5555"))
	require.True(t, isLoopbackRemote("[::1]:80"))
	require.False(t, isLoopbackRemote("10.0.0.4:80"))
	require.False(t, isLoopbackRemote("garbage"))
}
