package eventqueue

import (
	"encoding/json"

	"github.com/duplexhq/duplex/pkg/api"
)

// Events travel as JSON: that is their natural wire form, and unlike gob it
// needs no type registration for the opaque payload maps they carry.

// EncodeEvent serializes a canonical event for a queue payload.
func EncodeEvent(ev *api.CanonicalEvent) ([]byte, error) {
	return json.Marshal(ev)
}

// DecodeEvent deserializes a queue payload back into a canonical event.
func DecodeEvent(data []byte) (*api.CanonicalEvent, error) {
	var ev api.CanonicalEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}
