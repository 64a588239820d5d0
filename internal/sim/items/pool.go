package items

import "sort"

// Rand is the subset of *rand.Rand used for draws.
type Rand interface {
	Intn(n int) int
}

type Entry struct {
	Item   Template
	Weight int
}

// Pool is a weighted set of produceable templates. An entry with weight w
// owns w consecutive draw slots; a draw picks one slot uniformly.
type Pool struct {
	entries  []Entry
	cum      []int // cum[i] = total slots of entries[0..i]
	distinct []Template
}

func NewPool(entries []Entry) *Pool {
	p := &Pool{
		entries: make([]Entry, 0, len(entries)),
		cum:     make([]int, 0, len(entries)),
	}
	seen := map[string]bool{}
	total := 0
	for _, e := range entries {
		if e.Weight < 1 {
			e.Weight = 1
		}
		e.Item = e.Item.Clone()
		total += e.Weight
		p.entries = append(p.entries, e)
		p.cum = append(p.cum, total)

		k := e.Item.Key()
		if !seen[k] {
			seen[k] = true
			p.distinct = append(p.distinct, e.Item.Clone())
		}
	}
	return p
}

func (p *Pool) Empty() bool { return p == nil || len(p.entries) == 0 }

func (p *Pool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.entries)
}

// Slots is the size of the expanded weight list.
func (p *Pool) Slots() int {
	if p.Empty() {
		return 0
	}
	return p.cum[len(p.cum)-1]
}

func (p *Pool) Entries() []Entry {
	if p == nil {
		return nil
	}
	out := make([]Entry, len(p.entries))
	for i, e := range p.entries {
		out[i] = Entry{Item: e.Item.Clone(), Weight: e.Weight}
	}
	return out
}

// Draw returns a clone of a weighted random entry, or false when the pool is
// empty.
func (p *Pool) Draw(r Rand) (Template, bool) {
	if p.Empty() || r == nil {
		return Template{}, false
	}
	slot := r.Intn(p.Slots())
	i := sort.SearchInts(p.cum, slot+1)
	return p.entries[i].Item.Clone(), true
}

// Distinct lists each template once, in configuration order.
func (p *Pool) Distinct() []Template {
	if p == nil {
		return nil
	}
	out := make([]Template, len(p.distinct))
	for i, t := range p.distinct {
		out[i] = t.Clone()
	}
	return out
}
