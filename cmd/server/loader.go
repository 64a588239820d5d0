package main

import (
	"errors"
	"os"
	"sync"

	"go.uber.org/zap"

	"itemgen.ai/internal/persistence/store"
	"itemgen.ai/internal/sim/catalogs"
	"itemgen.ai/internal/sim/generators"
	"itemgen.ai/internal/sim/tuning"
	"itemgen.ai/internal/sim/world"
)

// fileLoader reads tuning.yaml, materials.json and generators.yaml. It is
// used once at startup and again on every reload.
type fileLoader struct {
	tuningPath     string
	materialsPath  string
	generatorsPath string
	log            *zap.Logger

	mu       sync.Mutex
	onLoad   []func(tuning.Tuning, *catalogs.Catalog)
	lastCat  *catalogs.Catalog
	lastTune tuning.Tuning
}

func (l *fileLoader) Load() (tuning.Tuning, *catalogs.Catalog, error) {
	t, err := tuning.Load(l.tuningPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return tuning.Tuning{}, nil, err
		}
		l.log.Warn("tuning file not found, using defaults", zap.String("path", l.tuningPath))
		t = tuning.Defaults()
	}
	mats, err := catalogs.LoadMaterials(l.materialsPath)
	if err != nil {
		return tuning.Tuning{}, nil, err
	}
	c, err := catalogs.Load(l.generatorsPath, mats, l.log.Named("catalogs"))
	if err != nil {
		return tuning.Tuning{}, nil, err
	}

	l.mu.Lock()
	l.lastCat, l.lastTune = c, t
	hooks := append([]func(tuning.Tuning, *catalogs.Catalog){}, l.onLoad...)
	l.mu.Unlock()
	for _, f := range hooks {
		f(t, c)
	}
	return t, c, nil
}

func (l *fileLoader) OnLoad(f func(tuning.Tuning, *catalogs.Catalog)) {
	l.mu.Lock()
	l.onLoad = append(l.onLoad, f)
	l.mu.Unlock()
}

func (l *fileLoader) Catalog() *catalogs.Catalog {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastCat
}

// hostStore places the blocks of restored generators into the in-memory
// world, which does not persist blocks itself.
type hostStore struct {
	*store.Store
	world   *world.World
	catalog func() *catalogs.Catalog
}

func (h hostStore) Load(known func(string) bool) (store.State, error) {
	st, err := h.Store.Load(known)
	if err != nil {
		return st, err
	}
	c := h.catalog()
	for _, g := range st.Generators {
		p, ok := c.Profile(g.Type)
		if !ok {
			continue
		}
		pos := generators.Pos{World: g.Location.World, X: g.Location.X, Y: g.Location.Y, Z: g.Location.Z}
		h.world.SetBlock(pos, p.BlockKind)
		h.world.LoadRegion(pos)
	}
	return st, nil
}
