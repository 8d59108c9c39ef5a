package authz

import (
	"encoding/json"
	"sort"
	"time"
)

// PermissionSet holds permission codes with O(1) membership checks.
// It marshals to and from a JSON string array so the wire format stays
// compatible with the stored `permisos` column.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from the given codes.
func NewPermissionSet(codes ...string) PermissionSet {
	set := make(PermissionSet, len(codes))
	for _, c := range codes {
		if c == "" {
			continue
		}
		set[c] = struct{}{}
	}
	return set
}

// Has reports whether the code is a member of the set.
func (s PermissionSet) Has(code string) bool {
	_, ok := s[code]
	return ok
}

// Add inserts a code. Returns false if it was already present.
func (s PermissionSet) Add(code string) bool {
	if _, ok := s[code]; ok {
		return false
	}
	s[code] = struct{}{}
	return true
}

// Remove deletes a code. Returns false if it was not present.
func (s PermissionSet) Remove(code string) bool {
	if _, ok := s[code]; !ok {
		return false
	}
	delete(s, code)
	return true
}

// Codes returns the members sorted for stable output.
func (s PermissionSet) Codes() []string {
	codes := make([]string, 0, len(s))
	for c := range s {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}

// MarshalJSON renders the set as a sorted string array.
func (s PermissionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Codes())
}

// UnmarshalJSON accepts a string array.
func (s *PermissionSet) UnmarshalJSON(data []byte) error {
	var codes []string
	if err := json.Unmarshal(data, &codes); err != nil {
		return err
	}
	*s = NewPermissionSet(codes...)
	return nil
}

// Role bundles permission codes under a name. Administrative roles
// grant access to the admin portal.
type Role struct {
	ID             int64         `json:"id"`
	Name           string        `json:"nombre"`
	Description    string        `json:"descripcion"`
	Administrative bool          `json:"es_administrativo"`
	Permissions    PermissionSet `json:"permisos"`
	CreatedAt      time.Time     `json:"fecha_creacion"`
	UpdatedAt      time.Time     `json:"fecha_actualizacion"`
}

// Actor is an authenticated principal: an admin-portal user or a
// client-type user, distinguished by its role's administrative flag.
type Actor struct {
	ID         int64      `json:"id"`
	Username   string     `json:"username"`
	Email      string     `json:"email"`
	FirstName  string     `json:"first_name"`
	LastName   string     `json:"last_name"`
	Phone      string     `json:"telefono"`
	Address    string     `json:"direccion"`
	CI         string     `json:"ci"`
	Role       *Role      `json:"rol"`
	Superuser  bool       `json:"is_superuser"`
	Active     bool       `json:"is_active"`
	CreatedAt  time.Time  `json:"fecha_creacion"`
	LastAccess *time.Time `json:"fecha_ultimo_acceso"`
}

// Administrative reports whether the actor holds an administrative role.
func (a *Actor) Administrative() bool {
	return a != nil && a.Role != nil && a.Role.Administrative
}

// HasPermission reports whether the actor may perform the operation
// identified by code. Superusers pass unconditionally; actors without
// a role hold no permissions.
func (a *Actor) HasPermission(code string) bool {
	if a == nil {
		return false
	}
	if a.Superuser {
		return true
	}
	if a.Role == nil {
		return false
	}
	return a.Role.Permissions.Has(code)
}

// HasAny reports whether the actor holds at least one of the codes.
// An empty list grants nothing: ungated UI must be expressed
// explicitly, not by accident.
func HasAny(a *Actor, codes []string) bool {
	for _, code := range codes {
		if a.HasPermission(code) {
			return true
		}
	}
	return false
}

// HasAll reports whether the actor holds every code. An empty list is
// vacuously satisfied; callers rely on "no permission required" being
// an empty require-all list. The asymmetry with HasAny is deliberate.
func HasAll(a *Actor, codes []string) bool {
	for _, code := range codes {
		if !a.HasPermission(code) {
			return false
		}
	}
	return true
}
