package permissions

import (
	"context"
	"log/slog"

	"github.com/streamactions/streamactions/levels"
	"github.com/streamactions/streamactions/telemetry"
)

// Resolver decides whether an actor may invoke a command or action. It is a
// stateless function over its inputs; the only shared state it touches is the
// group source, which callers may back with the Postgres store or an
// in-memory fake.
type Resolver struct {
	Groups GroupSource
}

func NewResolver(groups GroupSource) *Resolver { return &Resolver{Groups: groups} }

// CanAct reports whether the actor satisfies the required level, consulting
// named permission groups when the requirement carries the Custom bit and a
// permission name. Rules are applied in order, first match wins:
//
//  1. Unknown actor: allow only a Viewer-level requirement.
//  2. Globally banned: deny, no exceptions.
//  3. SuperAdmin, Broadcaster, or a Viewer-level requirement: allow.
//  4. Any held ranked bit meeting the required ranked threshold, or any held
//     flag explicitly named by the requirement: allow.
//  5. Custom bit with a permission name: defer to HasCustomPermission.
//
// Resolution failures against the group source fail closed (deny).
func (r *Resolver) CanAct(ctx context.Context, actor *levels.Actor, required levels.Level, permission string) bool {
	allowed := r.canAct(ctx, actor, required, permission)
	telemetry.CountPermissionCheck(allowed)
	return allowed
}

func (r *Resolver) canAct(ctx context.Context, actor *levels.Actor, required levels.Level, permission string) bool {
	if actor == nil {
		return required.Has(levels.Viewer)
	}
	if actor.Standing == levels.StandingBanned {
		return false
	}
	if actor.Standing == levels.StandingSuperAdmin || actor.Level.Has(levels.Broadcaster) || required.Has(levels.Viewer) {
		return true
	}
	if levels.SatisfiesRank(actor.Level, required) || levels.HasFlag(actor.Level, required) {
		return true
	}
	if required.Has(levels.Custom) && permission != "" {
		return r.HasCustomPermission(ctx, actor.Groups, permission)
	}
	return false
}

// HasCustomPermission resolves the live groups for the membership list
// (skipping dangling ids) and applies deny-wins semantics: the name is granted
// only if some group allows it and no group denies it. An explicit deny in any
// one membership vetoes an allow from any other.
func (r *Resolver) HasCustomPermission(ctx context.Context, groupIDs []string, permission string) bool {
	name := Normalize(permission)
	if name == "" || len(groupIDs) == 0 {
		return false
	}
	groups, err := r.Groups.GroupsByID(ctx, groupIDs)
	if err != nil {
		slog.Warn("custom permission lookup failed; denying", slog.String("permission", name), slog.Any("err", err))
		return false
	}
	allowed := false
	for i := range groups {
		if groups[i].Denies(name) {
			return false
		}
		if groups[i].Allows(name) {
			allowed = true
		}
	}
	return allowed
}
