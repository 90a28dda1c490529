package envelope

import (
	"encoding/json"
	"fmt"
	"strings"
)

// responseType is the only envelope type a bridge emits.
const responseType = "Interface"

// Kind is the wire "interface" tag of a response body.
type Kind string

const (
	KindList        Kind = "list"
	KindInput       Kind = "input"
	KindInstruction Kind = "instruction"
)

// Body is the closed set of response panels: List, Input and Instruction.
type Body interface {
	Kind() Kind
	isBody()
}

// List presents selectable items; the item order defines selection indexes.
// An empty Items slice is left off the wire and decodes as nil.
type List struct {
	Title string
	Items []string
}

// Input prompts for free-form values, one per item label. Empty Items decode
// as nil, as for List.
type Input struct {
	Title string
	Items []string
}

// Instruction shows a static panel.
type Instruction struct {
	Title          string
	Detail         string
	HeroImage      []byte
	ShowNextButton bool
}

func (List) Kind() Kind        { return KindList }
func (Input) Kind() Kind       { return KindInput }
func (Instruction) Kind() Kind { return KindInstruction }

func (List) isBody()        {}
func (Input) isBody()       {}
func (Instruction) isBody() {}

// Response is one bridge->controller envelope.
type Response struct {
	TID  int
	SID  string
	Body Body
}

type wireResponse struct {
	TID            int      `json:"tid"`
	SID            string   `json:"sid"`
	Type           string   `json:"type"`
	Interface      Kind     `json:"interface"`
	Title          string   `json:"title"`
	Items          []string `json:"items,omitempty"`
	Detail         string   `json:"detail,omitempty"`
	HeroImage      []byte   `json:"heroImage,omitempty"`
	ShowNextButton bool     `json:"showNextButton,omitempty"`
}

func (r Response) Validate() error {
	if r.TID < 0 {
		return fmt.Errorf("%w: negative tid %d", ErrInvalidResponse, r.TID)
	}
	if strings.TrimSpace(r.SID) == "" {
		return fmt.Errorf("%w: missing sid", ErrInvalidResponse)
	}
	if r.Body == nil {
		return fmt.Errorf("%w: missing body", ErrInvalidResponse)
	}
	if strings.TrimSpace(title(r.Body)) == "" {
		return fmt.Errorf("%w: missing title", ErrInvalidResponse)
	}
	return nil
}

func (r Response) MarshalJSON() ([]byte, error) {
	if r.Body == nil {
		return nil, fmt.Errorf("%w: missing body", ErrInvalidResponse)
	}
	w := wireResponse{
		TID:       r.TID,
		SID:       r.SID,
		Type:      responseType,
		Interface: r.Body.Kind(),
	}
	switch b := r.Body.(type) {
	case List:
		w.Title = b.Title
		w.Items = b.Items
	case Input:
		w.Title = b.Title
		w.Items = b.Items
	case Instruction:
		w.Title = b.Title
		w.Detail = b.Detail
		w.HeroImage = b.HeroImage
		w.ShowNextButton = b.ShowNextButton
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownInterface, r.Body)
	}
	return json.Marshal(w)
}

func (r *Response) UnmarshalJSON(data []byte) error {
	var w wireResponse
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Type != responseType {
		return fmt.Errorf("%w: type %q", ErrInvalidResponse, w.Type)
	}
	var body Body
	switch w.Interface {
	case KindList:
		body = List{Title: w.Title, Items: w.Items}
	case KindInput:
		body = Input{Title: w.Title, Items: w.Items}
	case KindInstruction:
		body = Instruction{
			Title:          w.Title,
			Detail:         w.Detail,
			HeroImage:      w.HeroImage,
			ShowNextButton: w.ShowNextButton,
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownInterface, w.Interface)
	}
	*r = Response{TID: w.TID, SID: w.SID, Body: body}
	return nil
}

// Items returns the selectable items of a list or input body.
func Items(b Body) []string {
	switch v := b.(type) {
	case List:
		return v.Items
	case Input:
		return v.Items
	default:
		return nil
	}
}

func title(b Body) string {
	switch v := b.(type) {
	case List:
		return v.Title
	case Input:
		return v.Title
	case Instruction:
		return v.Title
	default:
		return ""
	}
}
