package postgres

import (
	"context"
	"errors"

	"github.com/and161185/basejwt/internal/errs"
	"github.com/and161185/basejwt/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// RoleRepo implements RoleRepository using PostgreSQL.
type RoleRepo struct{ db *DB }

// NewRoleRepo constructs a role repository.
func NewRoleRepo(db *DB) *RoleRepo { return &RoleRepo{db: db} }

const (
	qRoleInsert    = `INSERT INTO roles (name, code, description, is_default) VALUES ($1, $2, $3, $4) RETURNING id`
	qRoleByID      = `SELECT id, name, code, description, is_default FROM roles WHERE id=$1`
	qRoleDefaultID = `SELECT id FROM roles WHERE is_default ORDER BY id LIMIT 1`
	qRoleUpdate    = `UPDATE roles SET name=$2, code=$3, description=$4, is_default=$5 WHERE id=$1`
	qRolePrivs     = `
SELECT p.id, p.name
FROM privileges p
JOIN role_privileges rp ON rp.privilege_id = p.id
WHERE rp.role_id=$1
ORDER BY p.id`
	qPrivInsert     = `INSERT INTO privileges (name) VALUES ($1) RETURNING id`
	qPrivByID       = `SELECT id, name FROM privileges WHERE id=$1`
	qPrivUpdate     = `UPDATE privileges SET name=$2 WHERE id=$1`
	qRolePrivAdd    = `INSERT INTO role_privileges (role_id, privilege_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	qRolePrivRemove = `DELETE FROM role_privileges WHERE role_id=$1 AND privilege_id=$2`
	qACLVersion     = `SELECT version FROM acl_version`
	qACLBump        = `UPDATE acl_version SET version = version + 1`
)

// mutateACL runs stmt and bumps the ACL version in one transaction.
func (r *RoleRepo) mutateACL(ctx context.Context, stmt string, args ...any) (tag pgconn.CommandTag, err error) {
	err = r.db.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		if tag, err = tx.Exec(ctx, stmt, args...); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, qACLBump)
		return err
	})
	return tag, err
}

// ACLVersion returns the counter bumped by every role or privilege mutation.
func (r *RoleRepo) ACLVersion(ctx context.Context) (int64, error) {
	var v int64
	err := r.db.Pool.QueryRow(ctx, qACLVersion).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return v, err
}

// CreateRole inserts a role and sets its generated ID.
func (r *RoleRepo) CreateRole(ctx context.Context, role *model.Role) error {
	err := r.db.Pool.QueryRow(ctx, qRoleInsert, role.Name, role.Code, role.Description, role.IsDefault).Scan(&role.ID)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// GetRoleWithPrivileges loads a role and its privileges.
func (r *RoleRepo) GetRoleWithPrivileges(ctx context.Context, roleID int) (*model.Role, error) {
	var role model.Role
	err := r.db.Pool.QueryRow(ctx, qRoleByID, roleID).
		Scan(&role.ID, &role.Name, &role.Code, &role.Description, &role.IsDefault)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Pool.Query(ctx, qRolePrivs, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	role.Privileges = []model.Privilege{}
	for rows.Next() {
		var p model.Privilege
		if err := rows.Scan(&p.ID, &p.Name); err != nil {
			return nil, err
		}
		role.Privileges = append(role.Privileges, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &role, nil
}

// GetDefaultRole loads the lowest-id role flagged as default.
func (r *RoleRepo) GetDefaultRole(ctx context.Context) (*model.Role, error) {
	var id int
	err := r.db.Pool.QueryRow(ctx, qRoleDefaultID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r.GetRoleWithPrivileges(ctx, id)
}

// SaveRole updates role columns.
func (r *RoleRepo) SaveRole(ctx context.Context, role *model.Role) error {
	tag, err := r.mutateACL(ctx, qRoleUpdate, role.ID, role.Name, role.Code, role.Description, role.IsDefault)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// CreatePrivilege inserts a privilege and sets its generated ID.
func (r *RoleRepo) CreatePrivilege(ctx context.Context, p *model.Privilege) error {
	err := r.db.Pool.QueryRow(ctx, qPrivInsert, p.Name).Scan(&p.ID)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// GetPrivilege loads a privilege by ID.
func (r *RoleRepo) GetPrivilege(ctx context.Context, id int) (*model.Privilege, error) {
	var p model.Privilege
	err := r.db.Pool.QueryRow(ctx, qPrivByID, id).Scan(&p.ID, &p.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SavePrivilege updates a privilege name.
func (r *RoleRepo) SavePrivilege(ctx context.Context, p *model.Privilege) error {
	tag, err := r.mutateACL(ctx, qPrivUpdate, p.ID, p.Name)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// AddPrivilege attaches a privilege to a role. Unknown role or privilege is ErrNotFound.
func (r *RoleRepo) AddPrivilege(ctx context.Context, roleID, privilegeID int) error {
	_, err := r.mutateACL(ctx, qRolePrivAdd, roleID, privilegeID)
	if isForeignKeyViolation(err) {
		return errs.ErrNotFound
	}
	return err
}

// RemovePrivilege detaches a privilege from a role. A missing link is not an error.
func (r *RoleRepo) RemovePrivilege(ctx context.Context, roleID, privilegeID int) error {
	_, err := r.mutateACL(ctx, qRolePrivRemove, roleID, privilegeID)
	return err
}
