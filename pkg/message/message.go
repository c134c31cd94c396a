/*
Package message defines the opaque Message type the storage core passes
around: a map with a mandatory nested descriptor object. The core never
interprets a message beyond computing its content address and reading
the descriptor fields used to derive default indexes; everything else
about a message's shape is an external handler's concern.
*/
package message

import (
	"github.com/dwn-core/dwn/pkg/dwnerr"
)

// Message is the opaque, JSON/CBOR-shaped object persisted by
// MessageStore. Its only structural requirement is a "descriptor" key
// holding a nested object.
type Message map[string]any

// Descriptor returns the message's mandatory nested descriptor object.
func (m Message) Descriptor() (map[string]any, error) {
	raw, ok := m["descriptor"]
	if !ok {
		return nil, dwnerr.New("message.Descriptor", dwnerr.BadIndexValue)
	}
	desc, ok := raw.(map[string]any)
	if !ok {
		return nil, dwnerr.New("message.Descriptor", dwnerr.BadIndexValue)
	}
	return desc, nil
}

// InterfaceMethod returns the (interface, method) tag pair from the
// descriptor. The store itself never branches on this value; only
// handlers do.
func (m Message) InterfaceMethod() (iface, method string, err error) {
	desc, err := m.Descriptor()
	if err != nil {
		return "", "", err
	}
	i, _ := desc["interface"].(string)
	me, _ := desc["method"].(string)
	if i == "" || me == "" {
		return "", "", dwnerr.New("message.InterfaceMethod", dwnerr.BadIndexValue)
	}
	return i, me, nil
}

// MessageTimestamp returns the descriptor's messageTimestamp field, the
// property the message store sorts by when a query names no other.
func (m Message) MessageTimestamp() (string, error) {
	desc, err := m.Descriptor()
	if err != nil {
		return "", err
	}
	ts, ok := desc["messageTimestamp"].(string)
	if !ok {
		return "", dwnerr.New("message.MessageTimestamp", dwnerr.BadIndexValue)
	}
	return ts, nil
}

// Clone returns a shallow copy of m. Handlers use this to derive a
// modified message (e.g. after stripping undefined fields) without
// mutating the caller's original.
func (m Message) Clone() Message {
	out := make(Message, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
