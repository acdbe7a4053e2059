// Package agent defines the agent configuration attached to a chat session,
// including the tool access policy that gates tool invocations.
package agent

import (
	"github.com/sipeed/agentc/pkg/events"
)

// Config describes the agent a chat session talks to.
type Config struct {
	Key      string   `json:"key" yaml:"key"`
	Name     string   `json:"name" yaml:"name"`
	ModelID  string   `json:"model_id,omitempty" yaml:"model_id,omitempty"`
	Agent    string   `json:"agent_description,omitempty" yaml:"agent_description,omitempty"`
	Category []string `json:"category,omitempty" yaml:"category,omitempty"`
	Tools    []string `json:"tools,omitempty" yaml:"tools,omitempty"`
	Version  string   `json:"version,omitempty" yaml:"version,omitempty"`

	// Tool access policy
	BlockedToolPatterns []string `json:"blocked_tool_patterns,omitempty" yaml:"blocked_tool_patterns,omitempty"`
	AllowedToolPatterns []string `json:"allowed_tool_patterns,omitempty" yaml:"allowed_tool_patterns,omitempty"`
}

// ToolPolicy returns the policy described by the configuration.
func (c *Config) ToolPolicy() ToolPolicy {
	if c == nil {
		return ToolPolicy{}
	}
	return NewToolPolicy(c.BlockedToolPatterns, c.AllowedToolPatterns)
}

// CanExecuteTool evaluates the tool access policy for name. A nil
// configuration has no policy and permits every tool.
func (c *Config) CanExecuteTool(name string) bool {
	return c.ToolPolicy().CanExecuteTool(name)
}

// Clone returns a copy that shares no slices with c.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Category = cloneStrings(c.Category)
	cp.Tools = cloneStrings(c.Tools)
	cp.BlockedToolPatterns = cloneStrings(c.BlockedToolPatterns)
	cp.AllowedToolPatterns = cloneStrings(c.AllowedToolPatterns)
	return &cp
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// ConfigurationChangedPayload is the inbound agent_configuration_changed event.
type ConfigurationChangedPayload struct {
	AgentConfig Config `json:"agent_config"`
}

func (ConfigurationChangedPayload) EventName() events.Name {
	return events.AgentConfigurationChanged
}
