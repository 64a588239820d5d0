package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"itemgen.ai/internal/protocol"
	"itemgen.ai/internal/sim/generators"
	"itemgen.ai/internal/sim/tuning"
	"itemgen.ai/internal/sim/worldtest"
	"itemgen.ai/internal/transport/ws"
)

const testGenerators = `
generators:
  cobble_gen:
    cooldown: 5
    block-type: COBBLESTONE
    items:
      cobble:
        material: COBBLESTONE
  vip_gen:
    permission: itemgenerator.vip
    items:
      gem:
        material: DIAMOND
`

func newTestServer(t *testing.T) (*worldtest.Harness, *httptest.Server) {
	t.Helper()
	h := worldtest.NewHarness(t, testGenerators, tuning.Defaults())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.World.Loop(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	a := &app{
		log:         zaptest.NewLogger(t),
		world:       h.World,
		engine:      h.Engine,
		hub:         ws.NewHub(ws.Options{}, zaptest.NewLogger(t)),
		enableAdmin: true,
		enableHost:  true,
	}
	srv := httptest.NewServer(a.routes())
	t.Cleanup(srv.Close)
	return h, srv
}

func post(t *testing.T, srv *httptest.Server, path string, body any) (int, map[string]any) {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func get(t *testing.T, srv *httptest.Server, path string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestServer_GivePlaceInspectBreak(t *testing.T) {
	h, srv := newTestServer(t)
	h.AddPlayer("alice")
	h.AddPlayer("bob")

	code, out := post(t, srv, "/admin/give", map[string]any{"player": "alice", "type": "cobble_gen"})
	require.Equal(t, http.StatusOK, code, out)
	require.Equal(t, "cobble_gen", out["type"])

	code, out = post(t, srv, "/host/place", map[string]any{"player": "alice", "type": "cobble_gen", "world": "overworld", "pos": []int{3, 64, 3}})
	require.Equal(t, http.StatusOK, code, out)
	require.EqualValues(t, 1, out["count"])
	require.EqualValues(t, 5, out["limit"])
	require.Equal(t, 1, h.Engine.Registry().Len())

	code, out = post(t, srv, "/host/inspect", map[string]any{"player": "alice", "sneaking": true, "world": "overworld", "pos": []int{3, 64, 3}})
	require.Equal(t, http.StatusOK, code, out)
	require.EqualValues(t, 5, out["cooldown_seconds"])

	code, out = post(t, srv, "/host/break", map[string]any{"player": "bob", "world": "overworld", "pos": []int{3, 64, 3}})
	require.Equal(t, http.StatusForbidden, code)
	require.Equal(t, protocol.ErrNotOwner, out["code"])

	code, out = get(t, srv, "/admin/generators?owner=alice")
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 1, out["count"])

	code, out = get(t, srv, "/admin/stats?player=alice")
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 1, out["generators_placed"])
	require.EqualValues(t, 1, out["generators_owned"])

	code, out = post(t, srv, "/host/break", map[string]any{"player": "alice", "world": "overworld", "pos": []int{3, 64, 3}})
	require.Equal(t, http.StatusOK, code, out)
	require.Equal(t, true, out["generator"])
	require.Equal(t, 0, h.Engine.Registry().Len())
	require.Equal(t, "AIR", h.World.BlockKindAt(parsePos("overworld", 3, 64, 3)))
}

func TestServer_PlaceErrors(t *testing.T) {
	h, srv := newTestServer(t)
	h.AddPlayer("carol")

	code, out := post(t, srv, "/host/place", map[string]any{"player": "carol", "type": "cobble_gen", "pos": []int{0, 0, 0}})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, protocol.ErrBadRequest, out["code"])

	code, out = post(t, srv, "/admin/give", map[string]any{"player": "nobody", "type": "cobble_gen"})
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, protocol.ErrNotFound, out["code"])

	code, out = post(t, srv, "/admin/give", map[string]any{"player": "carol", "type": "nope"})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, protocol.ErrUnknownType, out["code"])

	code, _ = post(t, srv, "/admin/give", map[string]any{"player": "carol", "type": "vip_gen"})
	require.Equal(t, http.StatusOK, code)
	code, out = post(t, srv, "/host/place", map[string]any{"player": "carol", "type": "vip_gen", "pos": []int{1, 1, 1}})
	require.Equal(t, http.StatusForbidden, code)
	require.Equal(t, protocol.ErrNoPermission, out["code"])
	require.Equal(t, "AIR", h.World.BlockKindAt(parsePos("world", 1, 1, 1)))

	code, out = post(t, srv, "/admin/give", map[string]any{"player": "carol", "type": "cobble_gen", "extra": 1})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, protocol.ErrBadRequest, out["code"])
}

func TestServer_ExplodeSparesGenerators(t *testing.T) {
	h, srv := newTestServer(t)
	alice := h.AddPlayer("alice")
	_, err := h.Place(alice, parsePos("overworld", 0, 64, 0), "cobble_gen")
	require.NoError(t, err)
	h.World.SetBlock(parsePos("overworld", 1, 64, 0), "STONE")

	code, out := post(t, srv, "/host/explode", map[string]any{"world": "overworld", "blocks": [][3]int{{0, 64, 0}, {1, 64, 0}}})
	require.Equal(t, http.StatusOK, code, out)
	require.EqualValues(t, 1, out["destroyed"])
	require.EqualValues(t, 1, out["protected"])
	require.Equal(t, "COBBLESTONE", h.World.BlockKindAt(parsePos("overworld", 0, 64, 0)))
	require.Equal(t, "AIR", h.World.BlockKindAt(parsePos("overworld", 1, 64, 0)))
}

func TestServer_ReloadAndMetrics(t *testing.T) {
	h, srv := newTestServer(t)
	h.YAML = testGenerators + `
  iron_gen:
    items:
      ingot:
        material: IRON_INGOT
`
	code, out := post(t, srv, "/admin/reload", map[string]any{})
	require.Equal(t, http.StatusOK, code, out)
	require.EqualValues(t, 3, out["profiles"])
	require.Equal(t, 1, h.Events.Count(protocol.EventReloaded))

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(b), "itemgen_generators 0"), string(b))
}

func TestServer_MethodAndLoopbackGuards(t *testing.T) {
	_, srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/admin/reload")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	require.True(t, isLoopbackRemote("127.0.0.1:1"))
	require.False(t, isLoopbackRemote("192.168.1.1:1"))
}

func parsePos(world string, x, y, z int) generators.Pos {
	return generators.Pos{World: world, X: x, Y: y, Z: z}
}
