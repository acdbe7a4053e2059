package media

import (
	"encoding/json"
	"testing"
)

func TestForeignContentFailsClosed(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		foreign bool
	}{
		{name: "explicit false", raw: `{"content_type":"text/html","foreign_content":false}`, foreign: false},
		{name: "explicit false with spaces", raw: `{"content_type":"text/html","foreign_content": false }`, foreign: false},
		{name: "explicit true", raw: `{"content_type":"text/html","foreign_content":true}`, foreign: true},
		{name: "absent", raw: `{"content_type":"text/html"}`, foreign: true},
		{name: "null", raw: `{"content_type":"text/html","foreign_content":null}`, foreign: true},
		{name: "string false", raw: `{"content_type":"text/html","foreign_content":"false"}`, foreign: true},
		{name: "zero", raw: `{"content_type":"text/html","foreign_content":0}`, foreign: true},
		{name: "object", raw: `{"content_type":"text/html","foreign_content":{}}`, foreign: true},
		{name: "array", raw: `{"content_type":"text/html","foreign_content":[false]}`, foreign: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p RenderMediaPayload
			if err := json.Unmarshal([]byte(tt.raw), &p); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if got := p.IsForeign(); got != tt.foreign {
				t.Errorf("IsForeign() = %v, want %v", got, tt.foreign)
			}
		})
	}
}

func TestForeignFlagPassesThroughUnmodified(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "string value", raw: `{"content_type":"x","foreign_content":"yes"}`, want: `"yes"`},
		{name: "null", raw: `{"content_type":"x","foreign_content":null}`, want: `null`},
		{name: "false", raw: `{"content_type":"x","foreign_content":false}`, want: `false`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p RenderMediaPayload
			if err := json.Unmarshal([]byte(tt.raw), &p); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			out, err := json.Marshal(p)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			var back map[string]json.RawMessage
			if err := json.Unmarshal(out, &back); err != nil {
				t.Fatalf("Unmarshal re-encoded: %v", err)
			}
			if got := string(back["foreign_content"]); got != tt.want {
				t.Errorf("foreign_content = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestAbsentFlagStaysAbsent(t *testing.T) {
	var p RenderMediaPayload
	if err := json.Unmarshal([]byte(`{"content_type":"x"}`), &p); err != nil {
		t.Fatal(err)
	}
	if p.ForeignContent.Present() {
		t.Fatal("absent flag reported as present")
	}
	out, _ := json.Marshal(p)
	var back map[string]json.RawMessage
	_ = json.Unmarshal(out, &back)
	if _, ok := back["foreign_content"]; ok {
		t.Error("absent flag was materialized on re-encode")
	}
}

func TestForeignConstructor(t *testing.T) {
	if Foreign(false).IsForeign() {
		t.Error("Foreign(false) should be safe")
	}
	if !Foreign(true).IsForeign() {
		t.Error("Foreign(true) should be foreign")
	}
	var zero ForeignFlag
	if !zero.IsForeign() {
		t.Error("zero flag should be foreign")
	}
}
