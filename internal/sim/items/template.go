package items

import (
	"fmt"
	"strings"
)

type Enchantment struct {
	Name  string `json:"name"`
	Level int    `json:"level"`
}

// Template is an item stack description. Produced items and generator items
// are both Templates; callers receive clones and may mutate them freely.
type Template struct {
	Material        string        `json:"material"`
	Amount          int           `json:"amount"`
	Name            string        `json:"name,omitempty"`
	Lore            []string      `json:"lore,omitempty"`
	Durability      *int          `json:"durability,omitempty"`
	Unbreakable     bool          `json:"unbreakable,omitempty"`
	CustomModelData *int          `json:"custom_model_data,omitempty"`
	Enchantments    []Enchantment `json:"enchantments,omitempty"`
}

func (t Template) Clone() Template {
	out := t
	if t.Lore != nil {
		out.Lore = append([]string(nil), t.Lore...)
	}
	if t.Enchantments != nil {
		out.Enchantments = append([]Enchantment(nil), t.Enchantments...)
	}
	if t.Durability != nil {
		v := *t.Durability
		out.Durability = &v
	}
	if t.CustomModelData != nil {
		v := *t.CustomModelData
		out.CustomModelData = &v
	}
	return out
}

// Key is a canonical identity string; two templates with the same key are
// interchangeable.
func (t Template) Key() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%d|%s|%t", t.Material, t.Amount, t.Name, t.Unbreakable)
	b.WriteString("|")
	b.WriteString(strings.Join(t.Lore, "\n"))
	if t.Durability != nil {
		fmt.Fprintf(&b, "|d=%d", *t.Durability)
	}
	if t.CustomModelData != nil {
		fmt.Fprintf(&b, "|cmd=%d", *t.CustomModelData)
	}
	for _, e := range t.Enchantments {
		fmt.Fprintf(&b, "|%s:%d", e.Name, e.Level)
	}
	return b.String()
}

func (t Template) IsZero() bool { return t.Material == "" }
