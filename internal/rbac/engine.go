package rbac

import (
	"sort"
	"strings"

	"askdesk/internal/index"
	"askdesk/internal/logging"
)

// adminRole short-circuits every per-chunk decision.
const adminRole = "admin"

// Engine evaluates access for one caller. Engines are constructed
// per-request from the authenticated identity, so the caches below are
// request-scoped and need no synchronization.
type Engine struct {
	cfg      *Config
	rawRoles []string

	// Lazily computed, immutable after first computation.
	resolved    map[string]struct{}
	permissions map[string]struct{}
	accessible  []string
}

// NewEngine creates an engine for a caller with the given raw role list.
func NewEngine(cfg *Config, userRoles []string) *Engine {
	return &Engine{cfg: cfg, rawRoles: userRoles}
}

// ResolveRoles canonicalizes the caller's roles and transitively adds
// inherited roles. Cycle-safe via a visited set. Cached.
func (e *Engine) ResolveRoles() map[string]struct{} {
	if e.resolved != nil {
		return e.resolved
	}

	resolved := make(map[string]struct{})
	var visit func(name string)
	visit = func(name string) {
		if _, seen := resolved[name]; seen {
			return
		}
		def, known := e.cfg.Roles[name]
		if !known {
			// Unknown roles resolve to themselves; they grant nothing but
			// still participate in allowed_roles intersection.
			resolved[name] = struct{}{}
			return
		}
		resolved[name] = struct{}{}
		for _, parent := range def.Inherits {
			visit(Canonicalize(parent))
		}
	}

	for _, raw := range e.rawRoles {
		canonical := Canonicalize(raw)
		if target, ok := e.cfg.RoleAliases[canonical]; ok {
			canonical = target
		}
		visit(canonical)
	}

	e.resolved = resolved
	return resolved
}

// EffectivePermissions unions permissions across all resolved roles.
// A wildcard collapses the set to {*}. Cached.
func (e *Engine) EffectivePermissions() map[string]struct{} {
	if e.permissions != nil {
		return e.permissions
	}

	perms := make(map[string]struct{})
	for role := range e.ResolveRoles() {
		def, ok := e.cfg.Roles[role]
		if !ok {
			continue
		}
		for _, p := range def.Permissions {
			if p == "*" {
				e.permissions = map[string]struct{}{"*": {}}
				return e.permissions
			}
			perms[p] = struct{}{}
		}
	}

	e.permissions = perms
	return perms
}

// HasPermission reports whether the caller holds perm, honoring the
// wildcard.
func (e *Engine) HasPermission(perm string) bool {
	perms := e.EffectivePermissions()
	if _, all := perms["*"]; all {
		return true
	}
	_, ok := perms[perm]
	return ok
}

// IsAdmin reports whether the caller resolves to the admin role or
// holds the wildcard permission.
func (e *Engine) IsAdmin() bool {
	if _, ok := e.ResolveRoles()[adminRole]; ok {
		return true
	}
	_, all := e.EffectivePermissions()["*"]
	return all
}

// AccessibleDepartments returns the departments the caller may read,
// sorted. Admins see the full configured set. Cached.
func (e *Engine) AccessibleDepartments() []string {
	if e.accessible != nil {
		return e.accessible
	}

	if e.IsAdmin() {
		e.accessible = append([]string(nil), e.cfg.Departments...)
		sort.Strings(e.accessible)
		return e.accessible
	}

	var depts []string
	for perm := range e.EffectivePermissions() {
		if dept, ok := strings.CutPrefix(perm, "read:"); ok && e.cfg.KnownDepartment(dept) {
			depts = append(depts, dept)
		}
	}
	sort.Strings(depts)

	e.accessible = depts
	return depts
}

// IsAllowed decides whether the caller may see a chunk. First matching
// rule wins; the default is deny. Every chunk returned to a user must
// pass through here; department sharding alone is not authorization.
func (e *Engine) IsAllowed(meta index.Metadata) bool {
	// 1. Missing metadata denies.
	if meta.ChunkID == "" && meta.Department == "" {
		return false
	}

	// 2-3. Admin override.
	resolved := e.ResolveRoles()
	if e.IsAdmin() {
		return true
	}

	// 4-5. allowed_roles intersection, with explicit_deny precedence.
	if len(meta.AllowedRoles) > 0 {
		if intersects(meta.AllowedRoles, resolved) {
			if intersects(meta.ExplicitDeny, resolved) {
				logging.Get(logging.CategoryRBAC).Debug("explicit deny on %s", meta.ChunkID)
				return false
			}
			return true
		}
	}

	// 6. Department read permission.
	if meta.Department != "" && e.HasPermission("read:"+strings.ToLower(meta.Department)) {
		return true
	}

	// 7. Default deny.
	return false
}

// intersects reports whether any role in list (canonicalized) is in set.
func intersects(list []string, set map[string]struct{}) bool {
	for _, r := range list {
		if _, ok := set[Canonicalize(r)]; ok {
			return true
		}
	}
	return false
}
