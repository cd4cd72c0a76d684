// Package repository defines the Identity Store interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/basejwt/internal/model"
	"github.com/gofrs/uuid/v5"
)

// UserRepository provides access to user records.
type UserRepository interface {
	// Create inserts a new user; ErrAlreadyExists on duplicate email.
	Create(ctx context.Context, u *model.User) error
	// GetByID loads a user by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	// GetByEmail loads a user by (lower-cased) email.
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	// Save overwrites a user's mutable fields.
	Save(ctx context.Context, u *model.User) error
	// Update loads the user under an exclusive lock, applies fn and saves the result
	// atomically. If fn returns an error nothing is written and the error is returned.
	Update(ctx context.Context, id uuid.UUID, fn func(u *model.User) error) (*model.User, error)
}

// RoleRepository provides access to roles, privileges and their membership.
type RoleRepository interface {
	// CreateRole inserts a role and assigns its ID.
	CreateRole(ctx context.Context, r *model.Role) error
	// GetRoleWithPrivileges loads a role and its current privileges.
	GetRoleWithPrivileges(ctx context.Context, roleID int) (*model.Role, error)
	// GetDefaultRole loads the role flagged IsDefault.
	GetDefaultRole(ctx context.Context) (*model.Role, error)
	// SaveRole overwrites name, code, description and default flag.
	SaveRole(ctx context.Context, r *model.Role) error
	// CreatePrivilege inserts a privilege and assigns its ID.
	CreatePrivilege(ctx context.Context, p *model.Privilege) error
	// GetPrivilege loads a privilege by ID.
	GetPrivilege(ctx context.Context, id int) (*model.Privilege, error)
	// SavePrivilege overwrites a privilege name.
	SavePrivilege(ctx context.Context, p *model.Privilege) error
	// AddPrivilege attaches a privilege to a role; idempotent.
	AddPrivilege(ctx context.Context, roleID, privilegeID int) error
	// RemovePrivilege detaches a privilege from a role; idempotent.
	RemovePrivilege(ctx context.Context, roleID, privilegeID int) error
	// ACLVersion returns a counter that SaveRole, SavePrivilege, AddPrivilege
	// and RemovePrivilege advance. It is shared by every process on the store.
	ACLVersion(ctx context.Context) (int64, error)
}
