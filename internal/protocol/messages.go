package protocol

// Message types sent by observers.
const (
	TypeSubscribe     = "SUBSCRIBE"
	TypeEventBatchReq = "EVENT_BATCH_REQ"
	TypeEventBatch    = "EVENT_BATCH"
	TypeError         = "ERROR"
)

// SUBSCRIBE (client -> server). Empty filters match everything.
type SubscribeMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	Kinds           []string `json:"kinds,omitempty"`
	Owner           string   `json:"owner,omitempty"`
	World           string   `json:"world,omitempty"`
	MaxQueue        int      `json:"max_queue,omitempty"`
}

// Match reports whether ev passes the subscription filters.
func (m SubscribeMsg) Match(ev Event) bool {
	if m.Owner != "" && ev.Owner != m.Owner {
		return false
	}
	if m.World != "" && ev.World != "" && ev.World != m.World {
		return false
	}
	if len(m.Kinds) == 0 {
		return true
	}
	for _, k := range m.Kinds {
		if k == ev.Kind {
			return true
		}
	}
	return false
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}
