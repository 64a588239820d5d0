package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"itemgen.ai/internal/sim/items"
)

const (
	defaultCooldown    = 30
	defaultBlockKind   = "LODESTONE"
	defaultDisplayName = "§6Item Generator"
)

// Profile is the immutable configuration of one generator type. Instances
// share it by pointer; a reload builds new Profiles instead of mutating.
type Profile struct {
	Name            string
	CooldownSeconds int
	BlockKind       string
	DisplayLabel    string
	Particles       bool
	Permission      string
	DropNaturally   bool
	Pool            *items.Pool
}

func (p *Profile) CooldownMillis() int64 { return int64(p.CooldownSeconds) * 1000 }

// DisplayItem renders the placeable item carrying this type's marker line.
func (p *Profile) DisplayItem() items.Template {
	return items.DisplayItem(items.DisplaySpec{
		TypeName:        p.Name,
		BlockKind:       p.BlockKind,
		Label:           p.DisplayLabel,
		CooldownSeconds: p.CooldownSeconds,
		Possible:        p.Pool.Distinct(),
	})
}

// Catalog is the set of generator profiles loaded from one generators.yaml.
type Catalog struct {
	byName   map[string]*Profile
	names    []string
	Digest   string
	Warnings []string
}

func NewCatalog(profiles ...*Profile) *Catalog {
	c := &Catalog{byName: map[string]*Profile{}}
	for _, p := range profiles {
		c.byName[p.Name] = p
	}
	c.sortNames()
	return c
}

func (c *Catalog) sortNames() {
	c.names = make([]string, 0, len(c.byName))
	for n := range c.byName {
		c.names = append(c.names, n)
	}
	sort.Strings(c.names)
}

func (c *Catalog) Profile(name string) (*Profile, bool) {
	if c == nil {
		return nil, false
	}
	p, ok := c.byName[name]
	return p, ok
}

func (c *Catalog) Has(name string) bool {
	_, ok := c.Profile(name)
	return ok
}

func (c *Catalog) Names() []string {
	if c == nil {
		return nil
	}
	return append([]string(nil), c.names...)
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.byName)
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

type rawProfile struct {
	Cooldown      *int      `yaml:"cooldown"`
	BlockType     *string   `yaml:"block-type"`
	DisplayName   *string   `yaml:"display-name"`
	Particles     bool      `yaml:"particles"`
	Permission    string    `yaml:"permission"`
	DropNaturally bool      `yaml:"drop-naturally"`
	Items         yaml.Node `yaml:"items"`
}

type rawItem struct {
	Material        string   `yaml:"material"`
	Amount          *int     `yaml:"amount"`
	Weight          *int     `yaml:"weight"`
	Name            *string  `yaml:"name"`
	Lore            []string `yaml:"lore"`
	Durability      *int     `yaml:"durability"`
	Unbreakable     bool     `yaml:"unbreakable"`
	CustomModelData *int     `yaml:"custom-model-data"`
	Enchants        []string `yaml:"enchants"`
}

// Load reads generators.yaml. A malformed generator or item entry is logged,
// recorded in Catalog.Warnings and skipped; only an unreadable or
// structurally broken file is an error.
func Load(path string, mats *Materials, logger *zap.Logger) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := Parse(raw, mats, logger)
	if err != nil {
		return nil, fmt.Errorf("generators.yaml: %w", err)
	}
	return c, nil
}

func Parse(raw []byte, mats *Materials, logger *zap.Logger) (*Catalog, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if mats == nil {
		mats = DefaultMaterials()
	}
	var doc struct {
		Generators yaml.Node `yaml:"generators"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}

	c := &Catalog{byName: map[string]*Profile{}, Digest: sha256Hex(raw)}
	warn := func(msg string, fields ...zap.Field) {
		logger.Warn(msg, fields...)
		c.Warnings = append(c.Warnings, msg+": "+fieldSummary(fields))
	}

	root := &doc.Generators
	switch root.Kind {
	case 0:
		c.sortNames()
		return c, nil
	case yaml.MappingNode:
	default:
		return nil, fmt.Errorf("generators must be a mapping of type name to settings")
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		name := strings.TrimSpace(root.Content[i].Value)
		body := root.Content[i+1]
		if name == "" {
			warn("skip generator", zap.String("reason", "empty type name"))
			continue
		}
		if _, dup := c.byName[name]; dup {
			warn("skip generator", zap.String("type", name), zap.String("reason", "duplicate type name"))
			continue
		}
		p, err := buildProfile(name, body, mats, warn)
		if err != nil {
			warn("skip generator", zap.String("type", name), zap.Error(err))
			continue
		}
		c.byName[name] = p
	}
	c.sortNames()
	logger.Info("loaded generator configurations", zap.Int("count", len(c.byName)), zap.Int("warnings", len(c.Warnings)))
	return c, nil
}

func buildProfile(name string, body *yaml.Node, mats *Materials, warn func(string, ...zap.Field)) (*Profile, error) {
	if err := validate(profileSchema, body); err != nil {
		return nil, err
	}
	var rp rawProfile
	if err := body.Decode(&rp); err != nil {
		return nil, err
	}

	p := &Profile{
		Name:            name,
		CooldownSeconds: defaultCooldown,
		BlockKind:       defaultBlockKind,
		DisplayLabel:    defaultDisplayName,
		Particles:       rp.Particles,
		Permission:      strings.TrimSpace(rp.Permission),
		DropNaturally:   rp.DropNaturally,
	}
	if rp.Cooldown != nil {
		p.CooldownSeconds = *rp.Cooldown
	}
	if rp.BlockType != nil {
		p.BlockKind = strings.ToUpper(strings.TrimSpace(*rp.BlockType))
	}
	if !mats.Has(p.BlockKind) {
		return nil, fmt.Errorf("unknown block-type %q", p.BlockKind)
	}
	if rp.DisplayName != nil {
		p.DisplayLabel = *rp.DisplayName
	}

	var entries []items.Entry
	if rp.Items.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(rp.Items.Content); i += 2 {
			key := rp.Items.Content[i].Value
			e, err := buildItem(rp.Items.Content[i+1], mats)
			if err != nil {
				warn("skip item", zap.String("type", name), zap.String("item", key), zap.Error(err))
				continue
			}
			entries = append(entries, e)
		}
	}
	p.Pool = items.NewPool(entries)
	return p, nil
}

func buildItem(node *yaml.Node, mats *Materials) (items.Entry, error) {
	if err := validate(itemSchema, node); err != nil {
		return items.Entry{}, err
	}
	var ri rawItem
	if err := node.Decode(&ri); err != nil {
		return items.Entry{}, err
	}

	material := strings.ToUpper(strings.TrimSpace(ri.Material))
	if !mats.Has(material) {
		return items.Entry{}, fmt.Errorf("unknown material %q", ri.Material)
	}
	t := items.Template{
		Material:        material,
		Amount:          1,
		Unbreakable:     ri.Unbreakable,
		Durability:      ri.Durability,
		CustomModelData: ri.CustomModelData,
	}
	if ri.Amount != nil {
		t.Amount = *ri.Amount
	}
	if ri.Name != nil {
		t.Name = items.TranslateColors(*ri.Name)
	}
	for _, l := range ri.Lore {
		t.Lore = append(t.Lore, items.TranslateColors(l))
	}
	for _, spec := range ri.Enchants {
		e, err := parseEnchantment(spec, mats)
		if err != nil {
			return items.Entry{}, err
		}
		t.Enchantments = append(t.Enchantments, e)
	}

	weight := 1
	if ri.Weight != nil {
		weight = *ri.Weight
	}
	return items.Entry{Item: t, Weight: weight}, nil
}

// parseEnchantment parses "NAME:LEVEL".
func parseEnchantment(spec string, mats *Materials) (items.Enchantment, error) {
	parts := strings.Split(spec, ":")
	if len(parts) != 2 {
		return items.Enchantment{}, fmt.Errorf("malformed enchantment %q", spec)
	}
	level, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || level < 1 {
		return items.Enchantment{}, fmt.Errorf("malformed enchantment level %q", spec)
	}
	id, ok := mats.Enchantment(parts[0])
	if !ok {
		return items.Enchantment{}, fmt.Errorf("unknown enchantment %q", parts[0])
	}
	return items.Enchantment{Name: id, Level: level}, nil
}

func fieldSummary(fields []zap.Field) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		switch {
		case f.Interface != nil:
			if err, ok := f.Interface.(error); ok {
				parts = append(parts, f.Key+"="+err.Error())
				continue
			}
			parts = append(parts, fmt.Sprintf("%s=%v", f.Key, f.Interface))
		default:
			parts = append(parts, f.Key+"="+f.String)
		}
	}
	return strings.Join(parts, " ")
}
