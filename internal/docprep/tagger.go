package docprep

import (
	"sort"
	"strings"

	"askdesk/internal/index"
)

// Tagger populates allowed_roles on chunk metadata from a
// role-to-departments mapping. general chunks are readable by every role.
type Tagger struct {
	// rolesByDepartment is the inverted mapping, canonical role names,
	// sorted for deterministic output.
	rolesByDepartment map[string][]string
	allRoles          []string
}

// NewTagger inverts a role → departments mapping. Role names are
// canonicalized to lowercase with underscores, matching the RBAC config.
func NewTagger(roleDepartments map[string][]string) *Tagger {
	byDept := make(map[string][]string)
	var all []string

	for role, depts := range roleDepartments {
		canonical := canonicalRole(role)
		all = append(all, canonical)
		for _, d := range depts {
			d = strings.ToLower(strings.TrimSpace(d))
			byDept[d] = append(byDept[d], canonical)
		}
	}

	for d := range byDept {
		sort.Strings(byDept[d])
		byDept[d] = dedupeSorted(byDept[d])
	}
	sort.Strings(all)
	all = dedupeSorted(all)

	return &Tagger{rolesByDepartment: byDept, allRoles: all}
}

// Tag fills allowed_roles for every chunk in place.
func (t *Tagger) Tag(chunks []index.Chunk) {
	for i := range chunks {
		dept := chunks[i].Metadata.Department
		if dept == "general" {
			chunks[i].Metadata.AllowedRoles = append([]string(nil), t.allRoles...)
			continue
		}
		chunks[i].Metadata.AllowedRoles = append([]string(nil), t.rolesByDepartment[dept]...)
	}
}

func canonicalRole(role string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(role)), " ", "_")
}

func dedupeSorted(in []string) []string {
	out := in[:0]
	for i, s := range in {
		if i == 0 || in[i-1] != s {
			out = append(out, s)
		}
	}
	return out
}
