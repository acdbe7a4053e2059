package agent

import (
	"regexp"
	"strings"
	"sync"
)

// Decision reasons.
const (
	ReasonBlocked    = "blocked"
	ReasonNotAllowed = "not_in_allow_list"
	ReasonAllowed    = "allowed"
	ReasonOpen       = "no_allow_list"
)

// ToolPolicy decides whether a named tool may run.
//
// Evaluation order is fixed:
//  1. any blocked pattern matches -> deny, whatever the allow list says
//  2. a non-empty allow list must contain a matching pattern
//  3. otherwise permit
//
// Patterns are globs where * matches any run of characters and ? exactly
// one; everything else matches literally and the whole name must match.
type ToolPolicy struct {
	Blocked []string `json:"blocked_tool_patterns,omitempty"`
	Allowed []string `json:"allowed_tool_patterns,omitempty"`
}

// NewToolPolicy creates a policy from blocked and allowed pattern lists.
func NewToolPolicy(blocked, allowed []string) ToolPolicy {
	return ToolPolicy{Blocked: cloneStrings(blocked), Allowed: cloneStrings(allowed)}
}

// Decision is the outcome of a policy evaluation.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
	Pattern string `json:"pattern,omitempty"`
}

// Evaluate returns the decision for name together with the pattern that
// produced it.
func (p ToolPolicy) Evaluate(name string) Decision {
	for _, pattern := range p.Blocked {
		if MatchGlob(pattern, name) {
			return Decision{Allowed: false, Reason: ReasonBlocked, Pattern: pattern}
		}
	}
	if len(p.Allowed) > 0 {
		for _, pattern := range p.Allowed {
			if MatchGlob(pattern, name) {
				return Decision{Allowed: true, Reason: ReasonAllowed, Pattern: pattern}
			}
		}
		return Decision{Allowed: false, Reason: ReasonNotAllowed}
	}
	return Decision{Allowed: true, Reason: ReasonOpen}
}

// CanExecuteTool reports whether name is permitted.
func (p ToolPolicy) CanExecuteTool(name string) bool {
	return p.Evaluate(name).Allowed
}

var globCache sync.Map // pattern -> *regexp.Regexp

// MatchGlob reports whether name matches pattern in full.
func MatchGlob(pattern, name string) bool {
	return compileGlob(pattern).MatchString(name)
}

func compileGlob(pattern string) *regexp.Regexp {
	if re, ok := globCache.Load(pattern); ok {
		return re.(*regexp.Regexp)
	}
	var b strings.Builder
	b.WriteString(`(?s)^`)
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(`.*`)
		case '?':
			b.WriteString(`.`)
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString(`$`)
	// Every metacharacter is quoted, so the expression always compiles.
	re := regexp.MustCompile(b.String())
	globCache.Store(pattern, re)
	return re
}
