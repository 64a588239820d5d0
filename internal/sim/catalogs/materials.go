package catalogs

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

//go:embed default_materials.json
var defaultMaterialsJSON []byte

// Materials lists the item/block kinds and enchantments the host knows about.
type Materials struct {
	kinds        map[string]bool
	enchantments map[string]bool
	Digest       string
}

type materialsFile struct {
	Materials    []string `json:"materials"`
	Enchantments []string `json:"enchantments"`
}

// enchantmentAliases maps legacy enchantment names to their current id.
var enchantmentAliases = map[string]string{
	"DURABILITY":               "UNBREAKING",
	"UNBREAKING":               "UNBREAKING",
	"PROTECTION_ENVIRONMENTAL": "PROTECTION",
	"PROTECTION":               "PROTECTION",
	"SHARPNESS":                "SHARPNESS",
	"DAMAGE_ALL":               "SHARPNESS",
	"EFFICIENCY":               "EFFICIENCY",
	"DIG_SPEED":                "EFFICIENCY",
	"FORTUNE":                  "FORTUNE",
	"LOOT_BONUS_BLOCKS":        "FORTUNE",
	"SILK_TOUCH":               "SILK_TOUCH",
	"LOOTING":                  "LOOTING",
	"FIRE_ASPECT":              "FIRE_ASPECT",
	"MENDING":                  "MENDING",
}

// LoadMaterials reads materials.json. An empty path or a missing file falls
// back to the built-in list.
func LoadMaterials(path string) (*Materials, error) {
	raw := defaultMaterialsJSON
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			raw = b
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, err
		}
	}
	return parseMaterials(raw)
}

func DefaultMaterials() *Materials {
	m, err := parseMaterials(defaultMaterialsJSON)
	if err != nil {
		panic(err)
	}
	return m
}

func parseMaterials(raw []byte) (*Materials, error) {
	var f materialsFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("materials.json: %w", err)
	}
	if len(f.Materials) == 0 {
		return nil, fmt.Errorf("materials.json: empty materials list")
	}
	m := &Materials{
		kinds:        make(map[string]bool, len(f.Materials)),
		enchantments: make(map[string]bool, len(f.Enchantments)),
		Digest:       sha256Hex(raw),
	}
	for _, k := range f.Materials {
		k = strings.ToUpper(strings.TrimSpace(k))
		if k == "" {
			return nil, fmt.Errorf("materials.json: empty material id")
		}
		m.kinds[k] = true
	}
	for _, e := range f.Enchantments {
		m.enchantments[strings.ToLower(strings.TrimSpace(e))] = true
	}
	return m, nil
}

func (m *Materials) Has(kind string) bool {
	return m != nil && m.kinds[strings.ToUpper(kind)]
}

func (m *Materials) Kinds() []string {
	out := make([]string, 0, len(m.kinds))
	for k := range m.kinds {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Enchantment resolves a configured enchantment name, trying the legacy alias
// table first and the lowercase registry name second.
func (m *Materials) Enchantment(name string) (string, bool) {
	up := strings.ToUpper(strings.TrimSpace(name))
	if id, ok := enchantmentAliases[up]; ok {
		return id, true
	}
	if m != nil && m.enchantments[strings.ToLower(up)] {
		return up, true
	}
	return "", false
}
