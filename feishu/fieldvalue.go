package feishu

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Kind discriminates the shapes a Bitable text field value can take.
type Kind int

const (
	KindAbsent    Kind = iota // field missing or null
	KindText                  // plain JSON string
	KindFragments             // rich text: [{"type":"text","text":"..."}, ...]
	KindOther                 // numbers, booleans, objects
)

func (k Kind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindText:
		return "text"
	case KindFragments:
		return "fragments"
	default:
		return "other"
	}
}

// Fragment is one rich-text segment.
type Fragment struct {
	Type string `json:"type,omitempty"`
	Text string `json:"text"`
}

// FieldValue is a decoded raw field value.
type FieldValue struct {
	Kind      Kind
	Text      string
	Fragments []Fragment
}

// ParseFieldValue classifies a raw field value. It never fails: anything it
// cannot interpret is KindOther.
func ParseFieldValue(raw json.RawMessage) FieldValue {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return FieldValue{Kind: KindAbsent}
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return FieldValue{Kind: KindOther}
		}
		return FieldValue{Kind: KindText, Text: s}
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return FieldValue{Kind: KindOther}
		}
		frags := make([]Fragment, 0, len(items))
		for _, item := range items {
			frags = append(frags, parseFragment(item))
		}
		return FieldValue{Kind: KindFragments, Fragments: frags}
	}
	return FieldValue{Kind: KindOther}
}

// parseFragment keeps a fragment's text when it is a string. Elements that
// are not objects, or lack a string text, contribute nothing.
func parseFragment(raw json.RawMessage) Fragment {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Fragment{}
	}
	return Fragment{Type: stringOrEmpty(obj["type"]), Text: stringOrEmpty(obj["text"])}
}

// stringOrEmpty decodes raw as a JSON string, or returns "" for anything else.
func stringOrEmpty(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *FieldValue) UnmarshalJSON(data []byte) error {
	*v = ParseFieldValue(data)
	return nil
}

// Flatten returns the value as plain text: strings as-is, fragments joined
// in order without separator, everything else empty.
func (v FieldValue) Flatten() string {
	switch v.Kind {
	case KindText:
		return v.Text
	case KindFragments:
		var b strings.Builder
		for _, f := range v.Fragments {
			b.WriteString(f.Text)
		}
		return b.String()
	}
	return ""
}
