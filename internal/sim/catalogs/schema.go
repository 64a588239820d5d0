package catalogs

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

const profileSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "cooldown":       {"type": "integer", "minimum": 1},
    "block-type":     {"type": "string", "minLength": 1},
    "display-name":   {"type": "string"},
    "particles":      {"type": "boolean"},
    "permission":     {"type": "string"},
    "drop-naturally": {"type": "boolean"},
    "items":          {"type": ["object", "null"]}
  }
}`

const itemSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "required": ["material"],
  "properties": {
    "material":          {"type": "string", "minLength": 1},
    "amount":            {"type": "integer", "minimum": 1},
    "weight":            {"type": "integer", "minimum": 1},
    "name":              {"type": "string"},
    "lore":              {"type": "array", "items": {"type": "string"}},
    "durability":        {"type": "integer", "minimum": 0},
    "unbreakable":       {"type": "boolean"},
    "custom-model-data": {"type": "integer"},
    "enchants":          {"type": "array", "items": {"type": "string"}}
  }
}`

var (
	profileSchema = jsonschema.MustCompileString("generator.schema.json", profileSchemaJSON)
	itemSchema    = jsonschema.MustCompileString("generator_item.schema.json", itemSchemaJSON)
)

// nodeValue converts a yaml node into plain values with every mapping key
// taken as its scalar text, so `1:` and `"1":` both become "1".
func nodeValue(n *yaml.Node) (any, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil, nil
		}
		return nodeValue(n.Content[0])
	case yaml.AliasNode:
		return nodeValue(n.Alias)
	case yaml.MappingNode:
		m := make(map[string]any, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			v, err := nodeValue(n.Content[i+1])
			if err != nil {
				return nil, err
			}
			m[n.Content[i].Value] = v
		}
		return m, nil
	case yaml.SequenceNode:
		out := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := nodeValue(c)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case yaml.ScalarNode:
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, err
		}
		return v, nil
	}
	return nil, nil
}

// jsonValue converts a decoded yaml value into the shape the validator
// expects (maps with string keys, json.Number for numbers).
func jsonValue(v any) (any, error) {
	if v == nil {
		v = map[string]any{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("not representable as json: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func validate(s *jsonschema.Schema, node *yaml.Node) error {
	v, err := nodeValue(node)
	if err != nil {
		return err
	}
	jv, err := jsonValue(v)
	if err != nil {
		return err
	}
	return s.Validate(jv)
}
