package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/require"

	"itemgen.ai/internal/protocol"
)

func compileSchema(t *testing.T, name string) *jsonschema.Schema {
	t.Helper()
	s, err := jsonschema.Compile(filepath.Join("..", "..", "schemas", name))
	require.NoError(t, err, name)
	return s
}

// asJSON round-trips v so the validator sees plain json values.
func asJSON(t *testing.T, v any) any {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	var out any
	require.NoError(t, json.Unmarshal(b, &out))
	return out
}

func TestSchemas_ValidateMessages(t *testing.T) {
	sub := compileSchema(t, "subscribe.schema.json")
	welcome := compileSchema(t, "welcome.schema.json")
	event := compileSchema(t, "event.schema.json")

	require.NoError(t, sub.Validate(asJSON(t, protocol.SubscribeMsg{
		Type:            protocol.TypeSubscribe,
		ProtocolVersion: protocol.Version,
		Kinds:           []string{protocol.EventProduced},
		MaxQueue:        16,
	})))

	require.NoError(t, welcome.Validate(asJSON(t, protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		ServerTime:      time.Now().UnixMilli(),
		Generators:      3,
		Types:           []string{"cobble_gen"},
		Cursor:          42,
	})))

	ev := protocol.NewEvent(protocol.EventProduced, time.Now())
	ev.Pos = [3]int{1, 64, -3}
	ev.DropMode = "natural"
	require.NoError(t, event.Validate(asJSON(t, protocol.EventMsg{
		Type:            protocol.TypeEvent,
		ProtocolVersion: protocol.Version,
		Cursor:          1,
		Event:           ev,
	})))
}

func TestSchemas_RejectUnknownKind(t *testing.T) {
	event := compileSchema(t, "event.schema.json")
	bad := protocol.EventMsg{
		Type:            protocol.TypeEvent,
		ProtocolVersion: protocol.Version,
		Cursor:          1,
		Event:           protocol.Event{ID: "x", Kind: "EXPLODED", TimeMs: 1},
	}
	require.Error(t, event.Validate(asJSON(t, bad)))
}

func TestSubscribeMsg_Match(t *testing.T) {
	ev := protocol.Event{Kind: protocol.EventProduced, Owner: "alice", World: "world"}

	require.True(t, protocol.SubscribeMsg{}.Match(ev))
	require.True(t, protocol.SubscribeMsg{Kinds: []string{protocol.EventPlaced, protocol.EventProduced}}.Match(ev))
	require.False(t, protocol.SubscribeMsg{Kinds: []string{protocol.EventPlaced}}.Match(ev))
	require.False(t, protocol.SubscribeMsg{Owner: "bob"}.Match(ev))
	require.False(t, protocol.SubscribeMsg{World: "nether"}.Match(ev))
	require.True(t, protocol.SubscribeMsg{World: "nether"}.Match(protocol.Event{Kind: protocol.EventSaved}))
}
