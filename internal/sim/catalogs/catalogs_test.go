package catalogs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"itemgen.ai/internal/sim/items"
)

const sampleGenerators = `
generators:
  cobble_gen:
    cooldown: 5
    block-type: COBBLESTONE
    display-name: "&7Cobble Generator"
    particles: true
    items:
      cobble:
        material: COBBLESTONE
        amount: 4
        weight: 9
      coal:
        material: coal
        weight: 1
        enchants: ["DURABILITY:1"]
  diamond_gen:
    permission: itemgenerator.diamond
    drop-naturally: true
    items:
      gem:
        material: DIAMOND
        name: "&bShiny"
        lore: ["&7mined by magic"]
        durability: 3
        unbreakable: true
        custom-model-data: 1001
        enchants: ["sharpness:5", "fortune:2"]
      broken_material:
        material: UNOBTAINIUM
      broken_enchant:
        material: DIAMOND
        enchants: ["SHARPNESS"]
      unknown_key:
        material: DIAMOND
        colour: red
  bad_block:
    block-type: NOT_A_BLOCK
  bad_cooldown:
    cooldown: 0
  defaults_only:
`

func TestParse_BuildsProfilesAndSkipsBadEntries(t *testing.T) {
	c, err := Parse([]byte(sampleGenerators), DefaultMaterials(), zaptest.NewLogger(t))
	require.NoError(t, err)

	require.Equal(t, []string{"cobble_gen", "defaults_only", "diamond_gen"}, c.Names())
	require.False(t, c.Has("bad_block"))
	require.False(t, c.Has("bad_cooldown"))
	require.NotEmpty(t, c.Digest)

	cobble, ok := c.Profile("cobble_gen")
	require.True(t, ok)
	require.Equal(t, 5, cobble.CooldownSeconds)
	require.Equal(t, int64(5000), cobble.CooldownMillis())
	require.Equal(t, "COBBLESTONE", cobble.BlockKind)
	require.Equal(t, "&7Cobble Generator", cobble.DisplayLabel)
	require.True(t, cobble.Particles)
	require.False(t, cobble.DropNaturally)
	require.Equal(t, 10, cobble.Pool.Slots())
	entries := cobble.Pool.Entries()
	require.Len(t, entries, 2)
	require.Equal(t, 4, entries[0].Item.Amount)
	require.Equal(t, "COAL", entries[1].Item.Material)
	require.Equal(t, []items.Enchantment{{Name: "UNBREAKING", Level: 1}}, entries[1].Item.Enchantments)

	diamond, _ := c.Profile("diamond_gen")
	require.Equal(t, "itemgenerator.diamond", diamond.Permission)
	require.True(t, diamond.DropNaturally)
	require.Equal(t, 30, diamond.CooldownSeconds)
	require.Equal(t, "LODESTONE", diamond.BlockKind)
	require.Equal(t, 1, diamond.Pool.Len(), "bad items must be skipped without dropping the profile")
	gem := diamond.Pool.Entries()[0].Item
	require.Equal(t, "§bShiny", gem.Name)
	require.Equal(t, []string{"§7mined by magic"}, gem.Lore)
	require.NotNil(t, gem.Durability)
	require.Equal(t, 3, *gem.Durability)
	require.True(t, gem.Unbreakable)
	require.Equal(t, 1001, *gem.CustomModelData)
	require.Equal(t, []items.Enchantment{{Name: "SHARPNESS", Level: 5}, {Name: "FORTUNE", Level: 2}}, gem.Enchantments)

	defaults, _ := c.Profile("defaults_only")
	require.Equal(t, defaultDisplayName, defaults.DisplayLabel)
	require.True(t, defaults.Pool.Empty())

	// 3 bad items + 2 bad generators.
	require.Len(t, c.Warnings, 5)
}

func TestParse_NumericItemKeys(t *testing.T) {
	doc := `
generators:
  cobble_gen:
    items:
      1:
        material: COBBLESTONE
        weight: 3
      2:
        material: COAL
      3:
        material: UNOBTAINIUM
`
	c, err := Parse([]byte(doc), nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.Equal(t, []string{"cobble_gen"}, c.Names())

	p, _ := c.Profile("cobble_gen")
	require.Equal(t, 2, p.Pool.Len())
	require.Equal(t, 4, p.Pool.Slots())
	require.Equal(t, "COBBLESTONE", p.Pool.Entries()[0].Item.Material)
	require.Len(t, c.Warnings, 1)
	require.Contains(t, c.Warnings[0], "item=3")
}

func TestParse_EmptyDocument(t *testing.T) {
	c, err := Parse([]byte(""), nil, nil)
	require.NoError(t, err)
	require.Equal(t, 0, c.Len())
}

func TestParse_RejectsNonMapping(t *testing.T) {
	_, err := Parse([]byte("generators: [a, b]\n"), nil, nil)
	require.Error(t, err)
}

func TestProfile_DisplayItemRoundTripsType(t *testing.T) {
	c, err := Parse([]byte(sampleGenerators), nil, nil)
	require.NoError(t, err)
	p, _ := c.Profile("diamond_gen")

	it := p.DisplayItem()
	name, ok := items.GeneratorType(it)
	require.True(t, ok)
	require.Equal(t, "diamond_gen", name)
	require.Equal(t, "LODESTONE", it.Material)
}

func TestLoad_ReadsFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "generators.yaml")
	require.NoError(t, os.WriteFile(p, []byte(sampleGenerators), 0o644))

	c, err := Load(p, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.Equal(t, 3, c.Len())

	_, err = Load(filepath.Join(dir, "missing.yaml"), nil, nil)
	require.Error(t, err)
}

func TestMaterials_EnchantmentAliases(t *testing.T) {
	m := DefaultMaterials()
	id, ok := m.Enchantment("dig_speed")
	require.True(t, ok)
	require.Equal(t, "EFFICIENCY", id)

	id, ok = m.Enchantment("knockback")
	require.True(t, ok)
	require.Equal(t, "KNOCKBACK", id)

	_, ok = m.Enchantment("vanishing_everything")
	require.False(t, ok)
}

func TestLoadMaterials_FileOverridesDefault(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "materials.json")
	require.NoError(t, os.WriteFile(p, []byte(`{"materials":["custom_ore"],"enchantments":[]}`), 0o644))

	m, err := LoadMaterials(p)
	require.NoError(t, err)
	require.True(t, m.Has("CUSTOM_ORE"))
	require.False(t, m.Has("DIAMOND"))

	m, err = LoadMaterials(filepath.Join(dir, "absent.json"))
	require.NoError(t, err)
	require.True(t, m.Has("DIAMOND"))
}
