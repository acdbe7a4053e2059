// Package domain provides the building blocks shared by the agentc
// bounded contexts: identity, timestamps, roles and metadata.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// EntityID is a typed identifier. All entities use string IDs for portability.
type EntityID string

// NewID generates a random (version 4) UUID identifier. IDs never collide
// within a process lifetime.
func NewID() EntityID {
	return EntityID(uuid.NewString())
}

// String implements fmt.Stringer.
func (id EntityID) String() string { return string(id) }

// IsZero returns true if the ID is empty.
func (id EntityID) IsZero() bool { return id == "" }

// Now returns the current time in UTC without a monotonic reading, so
// values survive a JSON round trip unchanged.
func Now() time.Time { return time.Now().UTC() }
