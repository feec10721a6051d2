package ratelimit

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/modelgate/modelgate/internal/auth"
)

// Tiers maps (role, endpoint class) onto bucket parameters.
type Tiers map[auth.Role]map[EndpointClass]Limit

// DefaultTiers provides conservative per-role defaults. Values are
// overridable from a YAML tier file via LoadTiers.
func DefaultTiers() Tiers {
	return Tiers{
		auth.RoleStandard: {
			ClassChat:       {Capacity: 10, RefillRate: 0.2},
			ClassGeneration: {Capacity: 5, RefillRate: 0.1},
		},
		auth.RolePremium: {
			ClassChat:       {Capacity: 100, RefillRate: 2},
			ClassGeneration: {Capacity: 20, RefillRate: 0.5},
		},
		auth.RoleAdmin: {
			ClassChat:       {Capacity: 1000, RefillRate: 50},
			ClassGeneration: {Capacity: 500, RefillRate: 25},
		},
	}
}

// Lookup returns the limit for a role and endpoint class, falling back to the
// standard/chat tier when the table has gaps.
func (t Tiers) Lookup(role auth.Role, class EndpointClass) Limit {
	if t != nil {
		if classes, ok := t[role]; ok {
			if limit, ok := classes[class]; ok && limit.Capacity > 0 {
				return limit
			}
		}
	}

	defaults := DefaultTiers()
	if classes, ok := defaults[role]; ok {
		if limit, ok := classes[class]; ok {
			return limit
		}
	}
	return defaults[auth.RoleStandard][ClassChat]
}

// tierFile is the YAML shape of a tier override file.
type tierFile struct {
	Tiers map[string]map[string]Limit `yaml:"tiers"`
}

// LoadTiers reads a tier override file and merges it over the defaults.
// Unknown role or class names are rejected so typos fail loudly at startup.
func LoadTiers(path string) (Tiers, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tier file: %w", err)
	}

	var parsed tierFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse tier file: %w", err)
	}

	tiers := DefaultTiers()
	for roleName, classes := range parsed.Tiers {
		role, ok := auth.ParseRole(roleName)
		if !ok {
			return nil, fmt.Errorf("unknown role in tier file: %q", roleName)
		}
		for className, limit := range classes {
			class := EndpointClass(className)
			if class != ClassChat && class != ClassGeneration {
				return nil, fmt.Errorf("unknown endpoint class in tier file: %q", className)
			}
			if limit.Capacity <= 0 || limit.RefillRate <= 0 {
				return nil, fmt.Errorf("tier %s/%s must have positive capacity and refill_rate", roleName, className)
			}
			tiers[role][class] = limit
		}
	}

	return tiers, nil
}
