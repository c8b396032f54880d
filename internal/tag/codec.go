// Package tag encodes canonical entities into proximity-tag payloads,
// decodes payloads read back from a tag, and owns the exclusive session
// against the tag hardware.
package tag

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/kalambet/tapping/internal/contact"
)

// Type is the declared semantic type of an envelope.
type Type string

const (
	TypeProfile Type = "profile"
	TypeContact Type = "contact"
	TypeURL     Type = "url"
	TypeText    Type = "text"
)

// ParseType validates a caller-supplied type tag for encoding.
func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case TypeProfile, TypeContact, TypeURL:
		return t, nil
	}
	return "", fmt.Errorf("unsupported tag payload type %q", s)
}

// envelope is the wire form of a structured payload.
type envelope struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Decoded is one of ProfilePayload, ContactPayload, URLPayload, TextPayload
// or UnrecognizedPayload.
type Decoded interface {
	Type() Type
	sealed()
}

// ProfilePayload carries a first-party profile snapshot.
type ProfilePayload struct {
	Profile contact.Profile
}

// ContactPayload carries bare contact information.
type ContactPayload struct {
	Info contact.ContactInfo
}

// URLPayload carries a URL.
type URLPayload struct {
	URL string
}

// TextPayload is the opaque fallback for anything that is not an envelope.
type TextPayload struct {
	Content string
}

// UnrecognizedPayload is a well-formed envelope whose type is unknown or
// whose data does not fit the declared type.
type UnrecognizedPayload struct {
	Declared string
	Data     json.RawMessage
}

func (ProfilePayload) Type() Type        { return TypeProfile }
func (ContactPayload) Type() Type        { return TypeContact }
func (URLPayload) Type() Type            { return TypeURL }
func (TextPayload) Type() Type           { return TypeText }
func (p UnrecognizedPayload) Type() Type { return Type(p.Declared) }

func (ProfilePayload) sealed()      {}
func (ContactPayload) sealed()      {}
func (URLPayload) sealed()          {}
func (TextPayload) sealed()         {}
func (UnrecognizedPayload) sealed() {}

// Content returns the payload body in its JSON-friendly form.
func Content(d Decoded) any {
	switch p := d.(type) {
	case ProfilePayload:
		return p.Profile
	case ContactPayload:
		return p.Info
	case URLPayload:
		return p.URL
	case TextPayload:
		return p.Content
	case UnrecognizedPayload:
		return p.Data
	}
	return nil
}

// EncodeEnvelope serializes v inside a {type, data} envelope.
func EncodeEnvelope(t Type, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshalling %s payload: %w", t, err)
	}
	out, err := json.Marshal(envelope{Type: t, Data: data})
	if err != nil {
		return "", fmt.Errorf("marshalling envelope: %w", err)
	}
	return string(out), nil
}

// Encode produces the record to write for the declared type. Profiles and
// contact info become envelope text records; a bare URL becomes a URI record.
func Encode(t Type, v any) (Record, error) {
	switch t {
	case TypeProfile:
		p, ok := v.(contact.Profile)
		if !ok {
			return Record{}, fmt.Errorf("profile payload: got %T", v)
		}
		return EncodeProfile(p)
	case TypeContact:
		info, ok := v.(contact.ContactInfo)
		if !ok {
			return Record{}, fmt.Errorf("contact payload: got %T", v)
		}
		return EncodeContactInfo(info)
	case TypeURL:
		u, ok := v.(string)
		if !ok || u == "" {
			return Record{}, fmt.Errorf("url payload: got %T", v)
		}
		return URIRecord(u), nil
	}
	return Record{}, fmt.Errorf("unsupported tag payload type %q", t)
}

// EncodeProfile wraps a profile in a profile envelope text record.
func EncodeProfile(p contact.Profile) (Record, error) {
	text, err := EncodeEnvelope(TypeProfile, p)
	if err != nil {
		return Record{}, err
	}
	return TextRecord(text, "en"), nil
}

// EncodeContactInfo wraps contact info in a contact envelope text record.
func EncodeContactInfo(info contact.ContactInfo) (Record, error) {
	text, err := EncodeEnvelope(TypeContact, info)
	if err != nil {
		return Record{}, err
	}
	return TextRecord(text, "en"), nil
}

// Decode interprets payload text read from a tag. It is total: anything
// that is not an envelope with both type and data comes back as a
// TextPayload holding the original string.
func Decode(payload string) Decoded {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return TextPayload{Content: payload}
	}
	data := bytes.TrimSpace(env.Data)
	if env.Type == "" || len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return TextPayload{Content: payload}
	}

	switch env.Type {
	case TypeProfile:
		var p contact.Profile
		if err := json.Unmarshal(data, &p); err == nil {
			return ProfilePayload{Profile: p}
		}
	case TypeContact:
		var info contact.ContactInfo
		if err := json.Unmarshal(data, &info); err == nil {
			return ContactPayload{Info: info}
		}
	case TypeURL:
		var u string
		if err := json.Unmarshal(data, &u); err == nil && u != "" {
			return URLPayload{URL: u}
		}
	case TypeText:
		var s string
		if err := json.Unmarshal(data, &s); err == nil {
			return TextPayload{Content: s}
		}
	}
	return UnrecognizedPayload{Declared: string(env.Type), Data: data}
}

// DecodeRecord decodes a record as read from the tag.
func DecodeRecord(r Record) Decoded {
	switch r.Type {
	case RecordTypeURI:
		return URLPayload{URL: URIFromPayload(r.Payload)}
	case RecordTypeText:
		text, err := TextFromPayload(r.Payload)
		if err != nil {
			return TextPayload{Content: string(r.Payload)}
		}
		return Decode(text)
	}
	return Decode(string(r.Payload))
}
