package proto

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// ErrMalformed is returned when a frame is not a valid envelope.
var ErrMalformed = errors.New("malformed envelope")

var inboundTypes = map[string]struct{}{
	TypeCreateRoom: {},
	TypeJoinRoom:   {},
	TypeLeaveRoom:  {},
	TypePlay:       {},
	TypePause:      {},
	TypeSeek:       {},
	TypeChat:       {},
	TypeTimeUpdate: {},
}

// Decode parses a raw frame. The type field is checked before the full
// unmarshal so that frames without one are rejected early.
func Decode(raw []byte) (*Envelope, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: invalid json", ErrMalformed)
	}
	typ := gjson.GetBytes(raw, "type")
	if typ.Type != gjson.String || typ.Str == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	if data := gjson.GetBytes(raw, "data"); data.Exists() && data.Type != gjson.Null && !data.IsObject() {
		return nil, fmt.Errorf("%w: data must be an object", ErrMalformed)
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &env, nil
}

// IsInbound reports whether clients may send envelopes of this type.
func IsInbound(typ string) bool {
	_, ok := inboundTypes[typ]
	return ok
}
