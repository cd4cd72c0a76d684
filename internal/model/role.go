package model

import (
	"sort"

	"github.com/and161185/basejwt/internal/errs"
)

// Role groups privileges. Privileges is a snapshot loaded by the store, not a live graph.
type Role struct {
	ID          int
	Name        string // unique
	Code        string // unique, embedded into access tokens
	Description string
	IsDefault   bool
	Privileges  []Privilege
}

// NewRole validates and builds a role without privileges.
func NewRole(name, code, description string, isDefault bool) (*Role, error) {
	r := &Role{IsDefault: isDefault}
	if err := r.Rename(name); err != nil {
		return nil, err
	}
	if err := r.SetCode(code); err != nil {
		return nil, err
	}
	if err := r.SetDescription(description); err != nil {
		return nil, err
	}
	return r, nil
}

// Rename sets a non-blank role name.
func (r *Role) Rename(name string) error {
	if isBlank(name) {
		return errs.Invalid("role_name", "must not be blank")
	}
	r.Name = name
	return nil
}

// SetCode sets a non-blank role code.
func (r *Role) SetCode(code string) error {
	if isBlank(code) {
		return errs.Invalid("role_code", "must not be blank")
	}
	r.Code = code
	return nil
}

// SetDescription sets a non-blank description.
func (r *Role) SetDescription(description string) error {
	if isBlank(description) {
		return errs.Invalid("description", "must not be blank")
	}
	r.Description = description
	return nil
}

// PrivilegeSet returns the set of privilege names attached to the role.
func (r *Role) PrivilegeSet() PrivilegeSet {
	s := make(PrivilegeSet, len(r.Privileges))
	for _, p := range r.Privileges {
		s[p.Name] = struct{}{}
	}
	return s
}

// Privilege is a named permission.
type Privilege struct {
	ID   int
	Name string // unique
}

// NewPrivilege validates and builds a privilege.
func NewPrivilege(name string) (*Privilege, error) {
	p := &Privilege{}
	if err := p.Rename(name); err != nil {
		return nil, err
	}
	return p, nil
}

// Rename sets a non-blank privilege name.
func (p *Privilege) Rename(name string) error {
	if isBlank(name) {
		return errs.Invalid("privilege_name", "must not be blank")
	}
	p.Name = name
	return nil
}

// PrivilegeSet is an unordered set of privilege names.
type PrivilegeSet map[string]struct{}

// NewPrivilegeSet builds a set from names.
func NewPrivilegeSet(names ...string) PrivilegeSet {
	s := make(PrivilegeSet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// Has reports membership.
func (s PrivilegeSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Names returns the names sorted, for stable claims and encoding.
func (s PrivilegeSet) Names() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
