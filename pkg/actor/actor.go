// Package actor identifies who performed a stock movement. Every movement
// record carries the actor ID taken from the request context.
package actor

import (
	"context"
	"fmt"
)

// SystemID is the actor ID used for scheduled and event-driven work
const SystemID = "system"

// Actor is the user or process performing an action
type Actor struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// String returns a representation of the actor for logging
func (a *Actor) String() string {
	if a == nil {
		return SystemID
	}
	if a.Email == "" {
		return a.ID
	}
	return fmt.Sprintf("%s (%s)", a.ID, a.Email)
}

// IsSystem reports whether the actor is a background process
func (a *Actor) IsSystem() bool {
	return a == nil || a.ID == SystemID || a.Role == "service"
}

type contextKey string

const actorContextKey contextKey = "actor"

// FromContext returns the actor attached to ctx, or nil
func FromContext(ctx context.Context) *Actor {
	if ctx == nil {
		return nil
	}
	a, _ := ctx.Value(actorContextKey).(*Actor)
	return a
}

// WithActor attaches a to ctx
func WithActor(ctx context.Context, a *Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorContextKey, a)
}

// IDFromContext returns the actor ID in ctx, falling back to SystemID
func IDFromContext(ctx context.Context) string {
	if a := FromContext(ctx); a != nil && a.ID != "" {
		return a.ID
	}
	return SystemID
}

// SystemActor represents the service itself
func SystemActor() *Actor {
	return &Actor{ID: SystemID, Name: "System", Role: "service"}
}

// Service returns an actor for a named background component, e.g. the
// expiry sweeper or an event consumer
func Service(name string) *Actor {
	return &Actor{ID: SystemID + ":" + name, Name: name, Role: "service"}
}
