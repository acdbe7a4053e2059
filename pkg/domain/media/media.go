// Package media models render_media payloads. Their foreign_content flag
// is a security marker: anything other than an explicit boolean false is
// treated as foreign, and the raw value is passed through untouched so the
// rendering boundary sees exactly what the server sent.
package media

import (
	"bytes"
	"encoding/json"

	"github.com/sipeed/agentc/pkg/events"
)

// ForeignFlag holds the raw JSON of a foreign_content field.
type ForeignFlag json.RawMessage

var (
	literalTrue  = []byte("true")
	literalFalse = []byte("false")
)

// Foreign returns a flag holding the boolean v.
func Foreign(v bool) ForeignFlag {
	if v {
		return append(ForeignFlag(nil), literalTrue...)
	}
	return append(ForeignFlag(nil), literalFalse...)
}

// IsForeign reports whether content must be sanitized before rendering.
// Absent, null, malformed and non-boolean values all count as foreign.
func (f ForeignFlag) IsForeign() bool {
	return !bytes.Equal(bytes.TrimSpace(f), literalFalse)
}

// Present reports whether the field appeared on the wire at all.
func (f ForeignFlag) Present() bool { return len(f) > 0 }

// Clone copies the raw bytes.
func (f ForeignFlag) Clone() ForeignFlag {
	if f == nil {
		return nil
	}
	return append(ForeignFlag(nil), f...)
}

func (f ForeignFlag) MarshalJSON() ([]byte, error) {
	if len(f) == 0 {
		return []byte("null"), nil
	}
	return f, nil
}

func (f *ForeignFlag) UnmarshalJSON(data []byte) error {
	*f = append((*f)[0:0], data...)
	return nil
}

// RenderMediaPayload is the inbound render_media event.
type RenderMediaPayload struct {
	Type           string      `json:"type,omitempty"`
	SessionID      string      `json:"session_id,omitempty"`
	Role           string      `json:"role,omitempty"`
	ContentType    string      `json:"content_type"`
	Content        string      `json:"content,omitempty"`
	SentByClass    string      `json:"sent_by_class,omitempty"`
	SentByFunction string      `json:"sent_by_function,omitempty"`
	ForeignContent ForeignFlag `json:"foreign_content,omitempty"`
	URL            string      `json:"url,omitempty"`
}

func (RenderMediaPayload) EventName() events.Name { return events.RenderMedia }

// IsForeign applies the fail-closed rule to the payload's flag.
func (p RenderMediaPayload) IsForeign() bool { return p.ForeignContent.IsForeign() }
