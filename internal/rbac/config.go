// Package rbac implements role resolution with inheritance, permission
// computation, and per-chunk allow/deny evaluation. The config is loaded
// once at startup and immutable thereafter; engines are per-request.
package rbac

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// RoleDef defines one canonical role.
type RoleDef struct {
	// Permissions use the grammar "*" or "<verb>:<object>"; the service
	// uses read:<department>. Unknown permissions are carried, not errors.
	Permissions []string `yaml:"permissions"`
	// Inherits lists canonical roles whose permissions this role absorbs
	// transitively.
	Inherits []string `yaml:"inherits"`
}

// Config is the process-wide RBAC definition.
type Config struct {
	Roles       map[string]RoleDef `yaml:"roles"`
	RoleAliases map[string]string  `yaml:"role_aliases"`
	Departments []string           `yaml:"departments"`

	departmentSet map[string]struct{}
}

// LoadConfig reads and validates a YAML RBAC config.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rbac: read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("rbac: parse config: %w", err)
	}
	if err := cfg.init(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// NewConfig builds a validated config programmatically.
func NewConfig(roles map[string]RoleDef, aliases map[string]string, departments []string) (*Config, error) {
	cfg := &Config{Roles: roles, RoleAliases: aliases, Departments: departments}
	if err := cfg.init(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// init canonicalizes and validates the definition.
func (c *Config) init() error {
	if len(c.Roles) == 0 {
		return fmt.Errorf("rbac: config defines no roles")
	}

	roles := make(map[string]RoleDef, len(c.Roles))
	for name, def := range c.Roles {
		roles[Canonicalize(name)] = def
	}
	c.Roles = roles

	aliases := make(map[string]string, len(c.RoleAliases))
	for alias, target := range c.RoleAliases {
		canonical := Canonicalize(target)
		if _, ok := c.Roles[canonical]; !ok {
			return fmt.Errorf("rbac: alias %q targets unknown role %q", alias, target)
		}
		aliases[Canonicalize(alias)] = canonical
	}
	c.RoleAliases = aliases

	for name, def := range c.Roles {
		for _, parent := range def.Inherits {
			if _, ok := c.Roles[Canonicalize(parent)]; !ok {
				return fmt.Errorf("rbac: role %q inherits unknown role %q", name, parent)
			}
		}
	}

	c.departmentSet = make(map[string]struct{}, len(c.Departments))
	for i, d := range c.Departments {
		d = strings.ToLower(strings.TrimSpace(d))
		c.Departments[i] = d
		c.departmentSet[d] = struct{}{}
	}
	return nil
}

// KnownDepartment reports whether d is a recognized department.
func (c *Config) KnownDepartment(d string) bool {
	_, ok := c.departmentSet[strings.ToLower(d)]
	return ok
}

// Canonicalize maps an arbitrary role name to canonical form: lowercase
// with spaces replaced by underscores. Aliases are applied by the engine.
func Canonicalize(role string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(role)), " ", "_")
}
