package core

import "context"

// User identifies the person behind a request. All fields are optional;
// identity.Resolver turns this into a stable user key.
type User struct {
	ID       string `json:"id,omitempty"`
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
}

// Filter is a message-enrichment component hooked around the host's
// model call.
//
// Inlet runs before the message reaches the model, Outlet after a
// response is produced. Both mutate the envelope in place and must
// always return a usable envelope: failures inside a filter are logged
// and swallowed, never surfaced to the host. A turn must not depend on
// any enrichment succeeding.
type Filter interface {
	Name() string

	Inlet(ctx context.Context, env *Envelope, user *User) *Envelope
	Outlet(ctx context.Context, env *Envelope, user *User) *Envelope

	// Startup performs an optional eager connectivity check against the
	// filter's external service. Errors are advisory; the host treats
	// them as non-fatal.
	Startup(ctx context.Context) error

	// Shutdown flushes pending work with a bounded wait.
	Shutdown(ctx context.Context) error
}
