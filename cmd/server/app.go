package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"itemgen.ai/internal/persistence/indexdb"
	"itemgen.ai/internal/persistence/r2s3"
	"itemgen.ai/internal/protocol"
	"itemgen.ai/internal/sim/generators"
	"itemgen.ai/internal/sim/world"
	"itemgen.ai/internal/transport/ws"
)

type app struct {
	log    *zap.Logger
	world  *world.World
	engine *generators.Engine
	hub    *ws.Hub
	index  *indexdb.SQLiteIndex
	mirror *r2s3.Mirror

	enableAdmin bool
	enableHost  bool
}

func (a *app) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", a.handleMetrics)
	mux.HandleFunc("/v1/events", a.hub.Handler())

	if a.enableAdmin {
		mux.HandleFunc("/admin/give", a.localOnly(http.MethodPost, a.handleGive))
		mux.HandleFunc("/admin/reload", a.localOnly(http.MethodPost, a.handleReload))
		mux.HandleFunc("/admin/stats", a.localOnly(http.MethodGet, a.handleStats))
		mux.HandleFunc("/admin/generators", a.localOnly(http.MethodGet, a.handleGenerators))
	} else {
		a.log.Info("admin endpoints disabled (ITEMGEN_ENABLE_ADMIN_HTTP=false)")
	}
	if a.enableHost {
		mux.HandleFunc("/host/place", a.localOnly(http.MethodPost, a.handlePlace))
		mux.HandleFunc("/host/break", a.localOnly(http.MethodPost, a.handleBreak))
		mux.HandleFunc("/host/inspect", a.localOnly(http.MethodPost, a.handleInspect))
		mux.HandleFunc("/host/explode", a.localOnly(http.MethodPost, a.handleExplode))
		mux.HandleFunc("/host/region", a.localOnly(http.MethodPost, a.handleRegion))
	}
	return mux
}

func (a *app) localOnly(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

type errorResponse struct {
	OK      bool   `json:"ok"`
	Code    string `json:"code"`
	Message string `json:"error"`
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, err error) {
	code := generators.Code(err)
	status := http.StatusInternalServerError
	switch code {
	case protocol.ErrBadRequest, protocol.ErrUnknownType:
		status = http.StatusBadRequest
	case protocol.ErrNoPermission, protocol.ErrNotOwner:
		status = http.StatusForbidden
	case protocol.ErrLimitReached:
		status = http.StatusConflict
	case protocol.ErrNotFound:
		status = http.StatusNotFound
	case "":
		status = http.StatusUnprocessableEntity
		code = protocol.ErrBadRequest
	}
	writeJSON(rw, status, errorResponse{Code: code, Message: err.Error()})
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode body: %v: %w", err, generators.ErrBadRequest)
	}
	return nil
}

// resolveActor accepts a player name or uuid. An empty ref is the console.
func (a *app) resolveActor(ref string) (uuid.UUID, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.EqualFold(ref, "console") {
		return uuid.Nil, nil
	}
	if id, err := uuid.Parse(ref); err == nil {
		return id, nil
	}
	if p, ok := a.world.PlayerByName(ref); ok {
		return p.ID, nil
	}
	return uuid.Nil, fmt.Errorf("player %q: %w", ref, generators.ErrActorNotFound)
}

// onWorld runs f on the world goroutine. Engine commands that touch the world
// go through here.
func (a *app) onWorld(ctx context.Context, f func()) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return a.world.Do(ctx, f)
}

type giveRequest struct {
	Sender string `json:"sender,omitempty"`
	Player string `json:"player"`
	Type   string `json:"type"`
}

func (a *app) handleGive(rw http.ResponseWriter, r *http.Request) {
	var req giveRequest
	if err := decode(r, &req); err != nil {
		writeError(rw, err)
		return
	}
	sender, err := a.resolveActor(req.Sender)
	if err != nil {
		writeError(rw, err)
		return
	}
	target, err := a.resolveActor(req.Player)
	if err != nil {
		writeError(rw, err)
		return
	}
	var (
		res  generators.GiveResult
		gerr error
	)
	if err := a.onWorld(r.Context(), func() {
		res, gerr = a.engine.Give(generators.Actor{ID: sender}, target, req.Type)
	}); err != nil {
		writeError(rw, err)
		return
	}
	if gerr != nil {
		writeError(rw, gerr)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "type": res.Type, "item": res.Item, "dropped": res.Dropped})
}

type reloadRequest struct {
	Sender string `json:"sender,omitempty"`
}

func (a *app) handleReload(rw http.ResponseWriter, r *http.Request) {
	var req reloadRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			writeError(rw, err)
			return
		}
	}
	sender, err := a.resolveActor(req.Sender)
	if err != nil {
		writeError(rw, err)
		return
	}
	res, err := a.engine.Reload(generators.Actor{ID: sender})
	if err != nil {
		writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{
		"ok":       true,
		"profiles": res.Profiles,
		"rebound":  res.Rebound,
		"orphaned": res.Orphaned,
		"warnings": res.Warnings,
		"digest":   res.Digest,
	})
}

type playerStats struct {
	Player              string `json:"player"`
	GeneratorsPlaced    int    `json:"generators_placed"`
	GeneratorsOwned     int    `json:"generators_owned"`
	Limit               int    `json:"limit"`
	TotalItemsGenerated uint64 `json:"total_items_generated"`
	FirstSeen           string `json:"first_seen"`
	LastActive          string `json:"last_active"`
}

func (a *app) handleStats(rw http.ResponseWriter, r *http.Request) {
	if ref := r.URL.Query().Get("player"); ref != "" {
		id, err := a.resolveActor(ref)
		if err != nil {
			writeError(rw, err)
			return
		}
		s := a.engine.Stats().Get(id)
		writeJSON(rw, http.StatusOK, playerStats{
			Player:              id.String(),
			GeneratorsPlaced:    s.GeneratorsPlaced,
			GeneratorsOwned:     a.engine.Registry().CountOwnedBy(id),
			Limit:               a.engine.Stats().Limit(id, a.engine.Tuning().General.DefaultGeneratorLimit, a.world),
			TotalItemsGenerated: s.TotalItemsGenerated,
			FirstSeen:           s.FirstSeen.UTC().Format(time.RFC3339),
			LastActive:          s.LastActive.UTC().Format(time.RFC3339),
		})
		return
	}
	resp := map[string]any{
		"generators": a.engine.Registry().Len(),
		"players":    a.engine.Stats().Len(),
		"types":      a.engine.Catalog().Names(),
		"scheduler":  a.engine.Scheduler().Counters(),
		"world":      a.world.Stats(),
		"observers":  a.hub.Clients(),
	}
	if a.index != nil {
		resp["index"] = a.index.Stats()
	}
	if a.mirror != nil {
		resp["mirror"] = a.mirror.Stats()
	}
	writeJSON(rw, http.StatusOK, resp)
}

type generatorView struct {
	World    string `json:"world"`
	X        int    `json:"x"`
	Y        int    `json:"y"`
	Z        int    `json:"z"`
	Type     string `json:"type"`
	Owner    string `json:"owner"`
	Produced uint64 `json:"produced"`
	LastMs   int64  `json:"last_production_ms"`
}

func (a *app) handleGenerators(rw http.ResponseWriter, r *http.Request) {
	var owner *uuid.UUID
	if ref := r.URL.Query().Get("owner"); ref != "" {
		id, err := a.resolveActor(ref)
		if err != nil {
			writeError(rw, err)
			return
		}
		owner = &id
	}
	typ := r.URL.Query().Get("type")
	out := []generatorView{}
	for _, in := range a.engine.Registry().Snapshot() {
		if owner != nil && in.Owner != *owner {
			continue
		}
		if typ != "" && in.ProfileName() != typ {
			continue
		}
		out = append(out, generatorView{
			World: in.Pos.World, X: in.Pos.X, Y: in.Pos.Y, Z: in.Pos.Z,
			Type:     in.ProfileName(),
			Owner:    in.Owner.String(),
			Produced: in.Produced(),
			LastMs:   in.LastProduction().UnixMilli(),
		})
	}
	writeJSON(rw, http.StatusOK, map[string]any{"count": len(out), "generators": out})
}

type posRequest struct {
	World string `json:"world"`
	Pos   [3]int `json:"pos"`
}

func (p posRequest) toPos() generators.Pos {
	w := p.World
	if w == "" {
		w = "world"
	}
	return generators.Pos{World: w, X: p.Pos[0], Y: p.Pos[1], Z: p.Pos[2]}
}

type placeRequest struct {
	posRequest
	Player string `json:"player"`
	Type   string `json:"type"`
}

// handlePlace simulates a player placing a generator item they hold.
func (a *app) handlePlace(rw http.ResponseWriter, r *http.Request) {
	var req placeRequest
	if err := decode(r, &req); err != nil {
		writeError(rw, err)
		return
	}
	id, err := a.resolveActor(req.Player)
	if err != nil {
		writeError(rw, err)
		return
	}
	pos := req.toPos()
	var (
		res  generators.PlaceResult
		perr error
	)
	if err := a.onWorld(r.Context(), func() {
		item, ok := a.world.Take(id, req.Type)
		if !ok {
			perr = fmt.Errorf("%s holds no %q generator: %w", req.Player, req.Type, generators.ErrBadRequest)
			return
		}
		a.world.LoadRegion(pos)
		a.world.SetBlock(pos, item.Material)
		res, perr = a.engine.Place(generators.Actor{ID: id}, pos, item)
		if perr != nil {
			a.world.SetBlock(pos, "AIR")
			a.world.Give(id, item)
		}
	}); err != nil {
		writeError(rw, err)
		return
	}
	if perr != nil {
		if errors.Is(perr, generators.ErrLimitReached) {
			writeJSON(rw, http.StatusConflict, map[string]any{"ok": false, "code": protocol.ErrLimitReached, "count": res.Count, "limit": res.Limit})
			return
		}
		writeError(rw, perr)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "type": res.Type, "count": res.Count, "limit": res.Limit})
}

type breakRequest struct {
	posRequest
	Player string `json:"player"`
}

func (a *app) handleBreak(rw http.ResponseWriter, r *http.Request) {
	var req breakRequest
	if err := decode(r, &req); err != nil {
		writeError(rw, err)
		return
	}
	id, err := a.resolveActor(req.Player)
	if err != nil {
		writeError(rw, err)
		return
	}
	pos := req.toPos()
	var (
		res  generators.BreakResult
		berr error
	)
	if err := a.onWorld(r.Context(), func() {
		res, berr = a.engine.Break(generators.Actor{ID: id}, pos)
		if berr == nil || errors.Is(berr, generators.ErrIgnored) {
			a.world.SetBlock(pos, "AIR")
		}
	}); err != nil {
		writeError(rw, err)
		return
	}
	if errors.Is(berr, generators.ErrIgnored) {
		writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "generator": false})
		return
	}
	if berr != nil {
		writeError(rw, berr)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{
		"ok": true, "generator": true, "type": res.Type,
		"owner": res.Owner.String(), "produced": res.Produced, "dropped": res.Dropped,
	})
}

type inspectRequest struct {
	posRequest
	Player   string `json:"player"`
	Sneaking bool   `json:"sneaking"`
}

func (a *app) handleInspect(rw http.ResponseWriter, r *http.Request) {
	var req inspectRequest
	if err := decode(r, &req); err != nil {
		writeError(rw, err)
		return
	}
	id, err := a.resolveActor(req.Player)
	if err != nil {
		writeError(rw, err)
		return
	}
	var (
		res  generators.InspectResult
		ierr error
	)
	if err := a.onWorld(r.Context(), func() {
		res, ierr = a.engine.Inspect(generators.Actor{ID: id, Sneaking: req.Sneaking}, req.toPos())
	}); err != nil {
		writeError(rw, err)
		return
	}
	if ierr != nil {
		writeError(rw, ierr)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{
		"ok": true, "type": res.Type, "label": res.Label, "owner": res.Owner.String(),
		"produced": res.Produced, "cooldown_seconds": res.CooldownSeconds,
		"next_in_ms": res.NextIn.Milliseconds(),
	})
}

type explodeRequest struct {
	World  string   `json:"world"`
	Blocks [][3]int `json:"blocks"`
}

// handleExplode removes the affected blocks that survive explosion
// protection.
func (a *app) handleExplode(rw http.ResponseWriter, r *http.Request) {
	var req explodeRequest
	if err := decode(r, &req); err != nil {
		writeError(rw, err)
		return
	}
	blocks := make([]generators.Pos, 0, len(req.Blocks))
	for _, b := range req.Blocks {
		blocks = append(blocks, posRequest{World: req.World, Pos: b}.toPos())
	}
	var kept []generators.Pos
	if err := a.onWorld(r.Context(), func() {
		kept = a.engine.FilterExplosion(blocks)
		for _, p := range kept {
			a.world.SetBlock(p, "AIR")
		}
	}); err != nil {
		writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "destroyed": len(kept), "protected": len(blocks) - len(kept)})
}

type regionRequest struct {
	posRequest
	Loaded bool `json:"loaded"`
}

func (a *app) handleRegion(rw http.ResponseWriter, r *http.Request) {
	var req regionRequest
	if err := decode(r, &req); err != nil {
		writeError(rw, err)
		return
	}
	pos := req.toPos()
	if req.Loaded {
		a.world.LoadRegion(pos)
	} else {
		a.world.UnloadRegion(pos)
	}
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "active": a.world.RegionActive(pos)})
}

func (a *app) handleMetrics(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

	c := a.engine.Scheduler().Counters()
	wst := a.world.Stats()

	fmt.Fprintf(rw, "# HELP itemgen_generators Registered generators.\n")
	fmt.Fprintf(rw, "# TYPE itemgen_generators gauge\n")
	fmt.Fprintf(rw, "itemgen_generators %d\n", a.engine.Registry().Len())

	byType := map[string]int{}
	for _, in := range a.engine.Registry().Snapshot() {
		byType[in.ProfileName()]++
	}
	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Fprintf(rw, "itemgen_generators_by_type{type=%q} %d\n", t, byType[t])
	}

	fmt.Fprintf(rw, "# HELP itemgen_scheduler_total Production scheduler counters.\n")
	fmt.Fprintf(rw, "# TYPE itemgen_scheduler_total counter\n")
	fmt.Fprintf(rw, "itemgen_scheduler_total{counter=%q} %d\n", "cycles", c.Cycles)
	fmt.Fprintf(rw, "itemgen_scheduler_total{counter=%q} %d\n", "fired", c.Fired)
	fmt.Fprintf(rw, "itemgen_scheduler_total{counter=%q} %d\n", "produced", c.Produced)
	fmt.Fprintf(rw, "itemgen_scheduler_total{counter=%q} %d\n", "stale", c.Stale)
	fmt.Fprintf(rw, "itemgen_scheduler_total{counter=%q} %d\n", "failures", c.Failures)

	fmt.Fprintf(rw, "# HELP itemgen_world Host world gauges.\n")
	fmt.Fprintf(rw, "# TYPE itemgen_world gauge\n")
	fmt.Fprintf(rw, "itemgen_world{metric=%q} %d\n", "blocks", wst.Blocks)
	fmt.Fprintf(rw, "itemgen_world{metric=%q} %d\n", "loaded_regions", wst.Regions)
	fmt.Fprintf(rw, "itemgen_world{metric=%q} %d\n", "item_entities", wst.Entities)
	fmt.Fprintf(rw, "itemgen_world{metric=%q} %d\n", "players", wst.Players)
	fmt.Fprintf(rw, "itemgen_world{metric=%q} %d\n", "rejected_jobs", wst.Rejected)

	fmt.Fprintf(rw, "# HELP itemgen_observers Connected event stream observers.\n")
	fmt.Fprintf(rw, "# TYPE itemgen_observers gauge\n")
	fmt.Fprintf(rw, "itemgen_observers %d\n", a.hub.Clients())

	if a.index != nil {
		s := a.index.Stats()
		fmt.Fprintf(rw, "# HELP itemgen_index_queue_depth Index write queue depth.\n")
		fmt.Fprintf(rw, "# TYPE itemgen_index_queue_depth gauge\n")
		fmt.Fprintf(rw, "itemgen_index_queue_depth %d\n", s.QueueDepth)
		fmt.Fprintf(rw, "# HELP itemgen_index_dropped_total Events dropped by the index.\n")
		fmt.Fprintf(rw, "# TYPE itemgen_index_dropped_total counter\n")
		fmt.Fprintf(rw, "itemgen_index_dropped_total %d\n", s.DropTotal)
	}
	if a.mirror != nil {
		s := a.mirror.Stats()
		fmt.Fprintf(rw, "# HELP itemgen_mirror_total Backup mirror outcomes.\n")
		fmt.Fprintf(rw, "# TYPE itemgen_mirror_total counter\n")
		fmt.Fprintf(rw, "itemgen_mirror_total{outcome=%q} %d\n", "uploaded", s.Uploaded)
		fmt.Fprintf(rw, "itemgen_mirror_total{outcome=%q} %d\n", "failed", s.Failed)
		fmt.Fprintf(rw, "itemgen_mirror_total{outcome=%q} %d\n", "dropped", s.Dropped)
	}
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
