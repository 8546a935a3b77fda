// Package tenant carries tenant identity into batch work.
//
// A tenant is never stored in goroutine-local or global state. The
// orchestrator captures it once from the invoking context and hands each
// dispatched task its own copy, which the task installs into a context that
// lives exactly as long as the task.
package tenant

import (
	"context"
	"errors"
	"time"
)

// ErrNoTenant is returned when a context carries no tenant.
var ErrNoTenant = errors.New("no tenant in context")

// Context identifies the tenant a unit of work runs for, together with the
// locale and timezone its business dates are evaluated in.
type Context struct {
	// ID is the tenant identifier (e.g. "default").
	ID string

	// Name is a human-readable tenant name.
	Name string

	// Locale is a BCP 47 tag used for formatting (e.g. "en-US").
	Locale string

	// Timezone is the tenant's business timezone. Nil means UTC.
	Timezone *time.Location
}

// New creates a tenant context, resolving the IANA timezone name.
func New(id, name, locale, timezone string) (Context, error) {
	if id == "" {
		return Context{}, errors.New("tenant id is required")
	}
	loc := time.UTC
	if timezone != "" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			return Context{}, err
		}
		loc = l
	}
	return Context{ID: id, Name: name, Locale: locale, Timezone: loc}, nil
}

// Clone returns an independent copy. time.Location values are immutable, so
// sharing the pointer is safe.
func (c Context) Clone() Context {
	return c
}

// Location returns the tenant timezone, defaulting to UTC.
func (c Context) Location() *time.Location {
	if c.Timezone == nil {
		return time.UTC
	}
	return c.Timezone
}

// Now returns the current time in the tenant's timezone.
func (c Context) Now() time.Time {
	return time.Now().In(c.Location())
}

// Today returns midnight of the current tenant-local date.
func (c Context) Today() time.Time {
	now := c.Now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, c.Location())
}

type ctxKey struct{}

// WithContext returns a child of parent carrying tc.
func WithContext(parent context.Context, tc Context) context.Context {
	return context.WithValue(parent, ctxKey{}, tc)
}

// FromContext extracts the tenant installed by WithContext.
func FromContext(ctx context.Context) (Context, error) {
	tc, ok := ctx.Value(ctxKey{}).(Context)
	if !ok {
		return Context{}, ErrNoTenant
	}
	return tc, nil
}
