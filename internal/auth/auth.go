package auth

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// RoleAgentUser may open threads and ask questions.
const RoleAgentUser = "agent_user"

type Principal struct {
	Name  string
	Roles []string
}

func (p Principal) HasRole(role string) bool {
	for _, candidate := range p.Roles {
		if candidate == role {
			return true
		}
	}
	return false
}

// ScopeThreadID namespaces a caller-visible thread id by principal so two
// principals never share a transcript.
func (p Principal) ScopeThreadID(threadID string) string {
	return p.Name + ":" + threadID
}

type APIKeyValidator interface {
	Validate(ctx context.Context, apiKey string) (Principal, bool)
}

type StaticAPIKeyValidator struct {
	keys map[string]Principal
}

// NewStaticAPIKeyValidator parses "key:principal:role|role,...".
func NewStaticAPIKeyValidator(raw string) (*StaticAPIKeyValidator, error) {
	validator := &StaticAPIKeyValidator{keys: map[string]Principal{}}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return validator, nil
	}

	for _, entry := range strings.Split(raw, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid static key entry %q: expected key:principal:role|role", entry)
		}
		key := strings.TrimSpace(parts[0])
		name := strings.TrimSpace(parts[1])
		if key == "" || name == "" {
			return nil, fmt.Errorf("invalid static key entry %q: empty key/principal", entry)
		}
		if _, exists := validator.keys[key]; exists {
			return nil, fmt.Errorf("duplicate static key for principal %q", name)
		}
		roleParts := strings.Split(strings.TrimSpace(parts[2]), "|")
		roles := make([]string, 0, len(roleParts))
		for _, role := range roleParts {
			if role = strings.TrimSpace(role); role != "" {
				roles = append(roles, role)
			}
		}
		if len(roles) == 0 {
			return nil, fmt.Errorf("invalid static key entry %q: at least one role is required", entry)
		}
		sort.Strings(roles)
		validator.keys[key] = Principal{Name: name, Roles: roles}
	}

	return validator, nil
}

func (v *StaticAPIKeyValidator) Validate(_ context.Context, apiKey string) (Principal, bool) {
	principal, ok := v.keys[apiKey]
	return principal, ok
}
