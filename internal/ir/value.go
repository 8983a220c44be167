package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ValueKind is the declared kind of an attribute type.
type ValueKind int

const (
	// KindInvalid is the zero value and never valid on a registered type.
	KindInvalid ValueKind = iota
	// KindText holds UTF-8 strings.
	KindText
	// KindEntityRef holds references to other entities.
	KindEntityRef
	// KindBytes holds opaque byte sequences.
	KindBytes
)

// String returns the wire name of the kind.
func (k ValueKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindEntityRef:
		return "entityRef"
	case KindBytes:
		return "bytes"
	default:
		return "invalid"
	}
}

// ParseValueKind parses a wire name produced by ValueKind.String.
func ParseValueKind(s string) (ValueKind, error) {
	switch s {
	case "text":
		return KindText, nil
	case "entityRef":
		return KindEntityRef, nil
	case "bytes":
		return KindBytes, nil
	default:
		return KindInvalid, fmt.Errorf("unknown value kind %q", s)
	}
}

// MarshalJSON encodes the kind as its wire name.
func (k ValueKind) MarshalJSON() ([]byte, error) {
	if k == KindInvalid {
		return nil, fmt.Errorf("cannot marshal invalid value kind")
	}
	return json.Marshal(k.String())
}

// UnmarshalJSON decodes a wire name.
func (k *ValueKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseValueKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// AttributeValue is a sealed interface over the storable value types.
// Only Text, EntityRef and Bytes implement it.
type AttributeValue interface {
	attributeValue()
	// Kind returns the value kind this value satisfies.
	Kind() ValueKind
}

// Text is a string attribute value.
type Text string

func (Text) attributeValue() {}

// Kind implements AttributeValue.
func (Text) Kind() ValueKind { return KindText }

// EntityRef is a reference to another entity.
type EntityRef EntityID

func (EntityRef) attributeValue() {}

// Kind implements AttributeValue.
func (EntityRef) Kind() ValueKind { return KindEntityRef }

// Bytes is an opaque byte sequence. Treat as immutable once stored.
type Bytes []byte

func (Bytes) attributeValue() {}

// Kind implements AttributeValue.
func (Bytes) Kind() ValueKind { return KindBytes }

// ValuesEqual reports whether two attribute values are identical.
// A nil value only equals another nil value.
func ValuesEqual(a, b AttributeValue) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case Text:
		bv, ok := b.(Text)
		return ok && av == bv
	case EntityRef:
		bv, ok := b.(EntityRef)
		return ok && av == bv
	case Bytes:
		bv, ok := b.(Bytes)
		return ok && bytes.Equal(av, bv)
	default:
		return false
	}
}

// attributeValueJSON is the tagged wire form of an AttributeValue.
// Exactly one field is set.
type attributeValueJSON struct {
	Text      *string   `json:"text,omitempty"`
	EntityRef *EntityID `json:"entityRef,omitempty"`
	Bytes     []byte    `json:"bytes,omitempty"`
}

// MarshalAttributeValue encodes a value in tagged form, e.g. {"text":"Alice"}.
// A nil value encodes as JSON null.
func MarshalAttributeValue(v AttributeValue) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return []byte("null"), nil
	case Text:
		s := string(val)
		return json.Marshal(attributeValueJSON{Text: &s})
	case EntityRef:
		id := EntityID(val)
		return json.Marshal(attributeValueJSON{EntityRef: &id})
	case Bytes:
		// always emit the tag, even for an empty slice
		return json.Marshal(struct {
			Bytes []byte `json:"bytes"`
		}{Bytes: nonNilBytes(val)})
	default:
		return nil, fmt.Errorf("unknown AttributeValue type: %T", v)
	}
}

// UnmarshalAttributeValue decodes the tagged form. JSON null yields nil.
func UnmarshalAttributeValue(data []byte) (AttributeValue, error) {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, fmt.Errorf("attribute value: %w", err)
	}
	if len(raw) != 1 {
		return nil, fmt.Errorf("attribute value must have exactly one of text, entityRef, bytes")
	}

	for tag, body := range raw {
		switch tag {
		case "text":
			var s string
			if err := json.Unmarshal(body, &s); err != nil {
				return nil, fmt.Errorf("attribute value text: %w", err)
			}
			return Text(s), nil
		case "entityRef":
			var id EntityID
			if err := json.Unmarshal(body, &id); err != nil {
				return nil, fmt.Errorf("attribute value entityRef: %w", err)
			}
			return EntityRef(id), nil
		case "bytes":
			var b []byte
			if err := json.Unmarshal(body, &b); err != nil {
				return nil, fmt.Errorf("attribute value bytes: %w", err)
			}
			return Bytes(nonNilBytes(b)), nil
		default:
			return nil, fmt.Errorf("unknown attribute value tag %q", tag)
		}
	}
	return nil, fmt.Errorf("attribute value: empty object")
}

func nonNilBytes(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
