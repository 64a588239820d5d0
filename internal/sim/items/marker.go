package items

import (
	"fmt"
	"strings"
)

// MarkerPrefix starts the lore line that identifies a generator item. The
// rest of the line is the generator type name.
const MarkerPrefix = "§8ID: "

func EncodeMarker(typeName string) string { return MarkerPrefix + typeName }

// DecodeMarker returns the type name carried by the first marker line.
func DecodeMarker(lore []string) (string, bool) {
	for _, line := range lore {
		if strings.HasPrefix(line, MarkerPrefix) {
			name := strings.TrimPrefix(line, MarkerPrefix)
			if name == "" {
				return "", false
			}
			return name, true
		}
	}
	return "", false
}

func GeneratorType(t Template) (string, bool) { return DecodeMarker(t.Lore) }

const colorCodes = "0123456789AaBbCcDdEeFfKkLlMmNnOoRrXx"

// TranslateColors rewrites '&'-prefixed formatting codes to the '§' form.
func TranslateColors(s string) string {
	if !strings.Contains(s, "&") {
		return s
	}
	r := []rune(s)
	for i := 0; i < len(r)-1; i++ {
		if r[i] == '&' && strings.ContainsRune(colorCodes, r[i+1]) {
			r[i] = '§'
			r[i+1] = []rune(strings.ToLower(string(r[i+1])))[0]
		}
	}
	return string(r)
}

type DisplaySpec struct {
	TypeName        string
	BlockKind       string
	Label           string
	CooldownSeconds int
	Possible        []Template
}

// DisplayItem renders the placeable item for a generator type.
func DisplayItem(s DisplaySpec) Template {
	lore := []string{
		fmt.Sprintf("§7Cooldown: §e%ds", s.CooldownSeconds),
		fmt.Sprintf("§7Block Type: §e%s", s.BlockKind),
		"",
		"§7Possible Items:",
	}
	for _, p := range s.Possible {
		lore = append(lore, fmt.Sprintf("§8• §f%s §7x%d", p.Material, p.Amount))
	}
	lore = append(lore, "", EncodeMarker(s.TypeName))
	return Template{
		Material: s.BlockKind,
		Amount:   1,
		Name:     TranslateColors(s.Label),
		Lore:     lore,
	}
}
