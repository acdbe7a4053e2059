package domain

// ---------------------------------------------------------------------------
// Shared value objects used across bounded contexts
// ---------------------------------------------------------------------------

// MessageRole represents who sent a message in a conversation.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
	RoleTool      MessageRole = "tool"
)

func (mr MessageRole) String() string { return string(mr) }

// Valid returns true if the role is recognized.
func (mr MessageRole) Valid() bool {
	switch mr {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	}
	return false
}

// ---------------------------------------------------------------------------

// ChangeSource tags a state change with who initiated it, so consumers can
// tell a user selection from a server override.
type ChangeSource string

const (
	SourceClient ChangeSource = "client"
	SourceServer ChangeSource = "server"
)

func (cs ChangeSource) String() string { return string(cs) }

// ---------------------------------------------------------------------------

// Metadata is an open key-value map for extensible properties.
type Metadata map[string]interface{}

// Get returns a metadata value, or nil if not present.
func (m Metadata) Get(key string) interface{} {
	if m == nil {
		return nil
	}
	return m[key]
}

// Set writes a metadata key-value pair. Initializes the map if nil.
func (m *Metadata) Set(key string, value interface{}) {
	if *m == nil {
		*m = make(Metadata)
	}
	(*m)[key] = value
}

// Clone returns a deep copy. Nested maps and slices are copied; other
// values are shared.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return map[string]interface{}(Metadata(t).Clone())
	case Metadata:
		return t.Clone()
	case []interface{}:
		out := make([]interface{}, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	default:
		return v
	}
}
