package world

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"itemgen.ai/internal/sim/generators"
	"itemgen.ai/internal/sim/items"
)

type Player struct {
	ID          uuid.UUID
	Name        string
	Pos         generators.Pos
	Online      bool
	Permissions map[string]bool
	Inventory   []items.Template
}

// AddPlayer registers or replaces a player.
func (w *World) AddPlayer(p Player) {
	if p.Permissions == nil {
		p.Permissions = map[string]bool{}
	}
	w.mu.Lock()
	cp := p
	w.players[p.ID] = &cp
	w.mu.Unlock()
}

func (w *World) Player(id uuid.UUID) (Player, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	p, ok := w.players[id]
	if !ok {
		return Player{}, false
	}
	cp := *p
	cp.Inventory = append([]items.Template(nil), p.Inventory...)
	return cp, true
}

func (w *World) PlayerByName(name string) (Player, bool) {
	w.mu.RLock()
	var id uuid.UUID
	found := false
	for _, p := range w.players {
		if strings.EqualFold(p.Name, name) {
			id, found = p.ID, true
			break
		}
	}
	w.mu.RUnlock()
	if !found {
		return Player{}, false
	}
	return w.Player(id)
}

func (w *World) Grant(id uuid.UUID, nodes ...string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if p := w.players[id]; p != nil {
		for _, n := range nodes {
			p.Permissions[strings.ToLower(n)] = true
		}
	}
}

func (w *World) Revoke(id uuid.UUID, nodes ...string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if p := w.players[id]; p != nil {
		for _, n := range nodes {
			delete(p.Permissions, strings.ToLower(n))
		}
	}
}

// HasPermission checks the node itself, then "*" and "prefix.*" wildcards.
func (w *World) HasPermission(id uuid.UUID, node string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	p := w.players[id]
	if p == nil {
		return false
	}
	node = strings.ToLower(node)
	if p.Permissions[node] || p.Permissions["*"] {
		return true
	}
	for i := strings.LastIndexByte(node, '.'); i > 0; i = strings.LastIndexByte(node[:i], '.') {
		if p.Permissions[node[:i]+".*"] {
			return true
		}
	}
	return false
}

// Give puts item into the player's inventory. Offline players and full
// inventories return the item as overflow.
func (w *World) Give(id uuid.UUID, item items.Template) []items.Template {
	w.mu.Lock()
	defer w.mu.Unlock()
	p := w.players[id]
	if p == nil || !p.Online || len(p.Inventory) >= w.cfg.InventorySlots {
		return []items.Template{item}
	}
	p.Inventory = append(p.Inventory, item)
	return nil
}

// Take removes the first inventory item whose generator marker names
// typeName.
func (w *World) Take(id uuid.UUID, typeName string) (items.Template, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p := w.players[id]
	if p == nil {
		return items.Template{}, false
	}
	for i, it := range p.Inventory {
		if name, ok := items.GeneratorType(it); ok && name == typeName {
			p.Inventory = append(p.Inventory[:i], p.Inventory[i+1:]...)
			return it, true
		}
	}
	return items.Template{}, false
}

func (w *World) Locate(id uuid.UUID) (generators.Pos, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	p := w.players[id]
	if p == nil || !p.Online {
		return generators.Pos{}, false
	}
	return p.Pos, true
}

type playersFile struct {
	Players map[string]playerEntry `yaml:"players"`
}

type playerEntry struct {
	Name        string   `yaml:"name"`
	World       string   `yaml:"world"`
	Pos         [3]int   `yaml:"pos"`
	Online      *bool    `yaml:"online"`
	Permissions []string `yaml:"permissions"`
}

// LoadPlayers reads the host permission table (players.yaml) into w.
func (w *World) LoadPlayers(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var f playersFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return 0, fmt.Errorf("players.yaml: %w", err)
	}
	n := 0
	for key, e := range f.Players {
		id, err := uuid.Parse(key)
		if err != nil {
			return n, fmt.Errorf("players.yaml: bad player id %q: %w", key, err)
		}
		online := true
		if e.Online != nil {
			online = *e.Online
		}
		p := Player{
			ID:          id,
			Name:        e.Name,
			Pos:         generators.Pos{World: e.World, X: e.Pos[0], Y: e.Pos[1], Z: e.Pos[2]},
			Online:      online,
			Permissions: map[string]bool{},
		}
		for _, node := range e.Permissions {
			p.Permissions[strings.ToLower(strings.TrimSpace(node))] = true
		}
		w.AddPlayer(p)
		w.LoadRegion(p.Pos)
		n++
	}
	return n, nil
}
