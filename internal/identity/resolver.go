package identity

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/vantagelink/rollout/internal/observability"
	"github.com/vantagelink/rollout/model"
)

// RolePolicy grants additional roles beyond the token claims.
type RolePolicy interface {
	RolesFor(subjectID string, groups []string) []string
}

type cacheEntry struct {
	roles   []string
	expires time.Time
}

// Resolver implements model.RoleResolver with an in-memory TTL cache. The
// policy may be nil, in which case the claims roles stand alone.
type Resolver struct {
	policy RolePolicy
	ttl    time.Duration
	tally  Tally
	mu     sync.RWMutex
	cache  map[string]cacheEntry
}

// Tally counts role cache hits and misses. Safe for concurrent use.
type Tally interface {
	RecordRoleCacheHit()
	RecordRoleCacheMiss()
}

// NewResolver creates a Resolver with the given policy and cache TTL.
func NewResolver(policy RolePolicy, ttl time.Duration) *Resolver {
	return &Resolver{
		policy: policy,
		ttl:    ttl,
		cache:  make(map[string]cacheEntry),
	}
}

// Instrument attaches a counter set. Nil disables instrumentation.
func (r *Resolver) Instrument(t Tally) { r.tally = t }

// RolesOf returns the effective role set for the caller: claims roles plus
// policy grants, deduplicated. Results are cached per subject for the TTL.
func (r *Resolver) RolesOf(ctx context.Context, rctx *model.RequestContext) ([]string, error) {
	span := trace.SpanFromContext(ctx)

	r.mu.RLock()
	if entry, ok := r.cache[rctx.SubjectID]; ok && time.Now().Before(entry.expires) {
		r.mu.RUnlock()
		if r.tally != nil {
			r.tally.RecordRoleCacheHit()
		}
		span.SetAttributes(observability.AttrCacheHit.Bool(true))
		return entry.roles, nil
	}
	r.mu.RUnlock()
	if r.tally != nil {
		r.tally.RecordRoleCacheMiss()
	}
	span.SetAttributes(observability.AttrCacheHit.Bool(false))

	roles := merge(rctx.RoleIDs, r.policyRoles(rctx))

	r.mu.Lock()
	r.cache[rctx.SubjectID] = cacheEntry{roles: roles, expires: time.Now().Add(r.ttl)}
	r.mu.Unlock()
	return roles, nil
}

// Invalidate clears the cached roles for a subject.
func (r *Resolver) Invalidate(subjectID string) {
	r.mu.Lock()
	delete(r.cache, subjectID)
	r.mu.Unlock()
}

func (r *Resolver) policyRoles(rctx *model.RequestContext) []string {
	if r.policy == nil {
		return nil
	}
	return r.policy.RolesFor(rctx.SubjectID, groupsFromClaims(rctx))
}

// groupsFromClaims extracts the "groups" claim when present.
func groupsFromClaims(rctx *model.RequestContext) []string {
	raw, ok := rctx.Claims["groups"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, g := range v {
			if s, ok := g.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func merge(sets ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, set := range sets {
		for _, id := range set {
			if id != "" && !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}
