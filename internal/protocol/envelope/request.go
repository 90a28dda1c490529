package envelope

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// RequestType is the controller-side envelope discriminator.
type RequestType string

const (
	TypeNegotiate RequestType = "Negotiate"
	TypeInterface RequestType = "Interface"
	TypeTerminate RequestType = "Terminate"
)

func (t RequestType) Valid() bool {
	switch t {
	case TypeNegotiate, TypeInterface, TypeTerminate:
		return true
	default:
		return false
	}
}

// Request is one controller->bridge envelope.
type Request struct {
	TID        int         `json:"tid"`
	Type       RequestType `json:"type"`
	SID        string      `json:"sid,omitempty"`
	Language   string      `json:"language,omitempty"`
	Selections []int       `json:"selections,omitempty"`

	// Raw is the verbatim decoded JSON object. Plugin dialogues read their own
	// fields from it; the session never interprets them.
	Raw json.RawMessage `json:"-"`
}

func (r Request) Validate() error {
	if !r.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownRequestType, r.Type)
	}
	if r.TID < 0 {
		return fmt.Errorf("%w: negative tid %d", ErrInvalidRequest, r.TID)
	}
	// The reply carries tid+1.
	if r.TID == math.MaxInt {
		return fmt.Errorf("%w: tid %d leaves no room for a reply", ErrInvalidRequest, r.TID)
	}
	for i, sel := range r.Selections {
		if sel < 0 {
			return fmt.Errorf("%w: selections[%d] negative", ErrInvalidRequest, i)
		}
	}
	return nil
}

// Selection returns the first selection index, if any.
func (r Request) Selection() (int, bool) {
	if len(r.Selections) == 0 {
		return 0, false
	}
	return r.Selections[0], true
}

// Field decodes one top-level field of the raw request into out.
// It reports false when the field is absent.
func (r Request) Field(name string, out any) (bool, error) {
	if len(r.Raw) == 0 {
		return false, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(r.Raw, &fields); err != nil {
		return false, err
	}
	raw, ok := fields[strings.TrimSpace(name)]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("envelope: field %q: %w", name, err)
	}
	return true, nil
}
