package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/and161185/basejwt/internal/cache"
	"github.com/and161185/basejwt/internal/guard"
	"github.com/and161185/basejwt/internal/model"
	"github.com/and161185/basejwt/internal/repository"
	"github.com/and161185/basejwt/internal/token"
)

// AccessService resolves privileges and manages roles and privileges.
type AccessService interface {
	// EffectivePrivileges returns the privilege names of the user's role.
	EffectivePrivileges(ctx context.Context, u *model.User) (model.PrivilegeSet, error)
	// Authorize reports whether u holds privilege. Inactive or locked-out users hold nothing.
	Authorize(ctx context.Context, u *model.User, privilege string) (bool, error)
	// AuthorizeUser is Authorize for a user loaded by ID.
	AuthorizeUser(ctx context.Context, userID uuid.UUID, privilege string) (bool, error)

	CreateRole(ctx context.Context, name, code, description string, isDefault bool) (*model.Role, error)
	RenameRole(ctx context.Context, roleID int, name string) error
	CreatePrivilege(ctx context.Context, name string) (*model.Privilege, error)
	RenamePrivilege(ctx context.Context, privilegeID int, name string) error
	GrantPrivilege(ctx context.Context, roleID, privilegeID int) error
	RevokePrivilege(ctx context.Context, roleID, privilegeID int) error
}

type AccessServiceImpl struct {
	users  repository.UserRepository
	roles  repository.RoleRepository
	issuer *token.Issuer
	guard  *guard.Guard
	cache  cache.Client
	ttl    time.Duration
	sf     singleflight.Group
	log    *zap.Logger
}

// NewAccessService constructs AccessService.
func NewAccessService(d Deps) *AccessServiceImpl {
	d = d.normalized()
	return &AccessServiceImpl{
		users:  d.Users,
		roles:  d.Roles,
		issuer: d.Issuer,
		guard:  d.Guard,
		cache:  d.Cache,
		ttl:    d.CacheTTL,
		log:    d.Log.Named("access"),
	}
}

// grant is the cached projection of a role.
type grant struct {
	Code       string   `json:"code"`
	Privileges []string `json:"privileges"`
}

// grantKey addresses a role's grant under the store's ACL version. Every role or
// privilege mutation advances the version in the store itself, so grants cached by
// any process stop being read as soon as the mutation commits.
func grantKey(version int64, roleID int) string {
	return "acl:v" + strconv.FormatInt(version, 10) + ":role:" + strconv.Itoa(roleID)
}

func (s *AccessServiceImpl) resolve(ctx context.Context, roleID int) (grant, error) {
	version, err := s.roles.ACLVersion(ctx)
	if err != nil {
		return grant{}, fmt.Errorf("acl version: %w", err)
	}
	key := grantKey(version, roleID)

	b, err := s.cache.Get(ctx, key)
	if err == nil {
		var g grant
		if jerr := json.Unmarshal(b, &g); jerr == nil {
			return g, nil
		}
	} else if !errors.Is(err, cache.ErrMiss) {
		s.log.Warn("acl cache read failed", zap.String("key", key), zap.Error(err))
	}

	v, err, _ := s.sf.Do(key, func() (any, error) {
		role, err := s.roles.GetRoleWithPrivileges(ctx, roleID)
		if err != nil {
			return grant{}, err
		}
		g := grant{Code: role.Code, Privileges: role.PrivilegeSet().Names()}
		if b, err := json.Marshal(g); err == nil {
			if err := s.cache.Set(ctx, key, b, s.ttl); err != nil {
				s.log.Warn("acl cache write failed", zap.String("key", key), zap.Error(err))
			}
		}
		return g, nil
	})
	if err != nil {
		return grant{}, fmt.Errorf("resolve role %d: %w", roleID, err)
	}
	return v.(grant), nil
}

// EffectivePrivileges returns the set of privilege names on the user's role.
func (s *AccessServiceImpl) EffectivePrivileges(ctx context.Context, u *model.User) (model.PrivilegeSet, error) {
	g, err := s.resolve(ctx, u.RoleID)
	if err != nil {
		return nil, err
	}
	return model.NewPrivilegeSet(g.Privileges...), nil
}

// IssueAccess signs an access token carrying the user's role code and privileges.
func (s *AccessServiceImpl) IssueAccess(ctx context.Context, u *model.User) (string, time.Time, error) {
	g, err := s.resolve(ctx, u.RoleID)
	if err != nil {
		return "", time.Time{}, err
	}
	return s.issuer.IssueAccessToken(u, g.Code, model.NewPrivilegeSet(g.Privileges...))
}

func (s *AccessServiceImpl) Authorize(ctx context.Context, u *model.User, privilege string) (bool, error) {
	if !u.IsActive || s.guard.IsLockedOut(u) {
		return false, nil
	}
	set, err := s.EffectivePrivileges(ctx, u)
	if err != nil {
		return false, err
	}
	return set.Has(privilege), nil
}

func (s *AccessServiceImpl) AuthorizeUser(ctx context.Context, userID uuid.UUID, privilege string) (bool, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return false, err
	}
	return s.Authorize(ctx, u, privilege)
}

func (s *AccessServiceImpl) CreateRole(ctx context.Context, name, code, description string, isDefault bool) (*model.Role, error) {
	r, err := model.NewRole(name, code, description, isDefault)
	if err != nil {
		return nil, err
	}
	if err := s.roles.CreateRole(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *AccessServiceImpl) RenameRole(ctx context.Context, roleID int, name string) error {
	r, err := s.roles.GetRoleWithPrivileges(ctx, roleID)
	if err != nil {
		return err
	}
	if err := r.Rename(name); err != nil {
		return err
	}
	return s.roles.SaveRole(ctx, r)
}

func (s *AccessServiceImpl) CreatePrivilege(ctx context.Context, name string) (*model.Privilege, error) {
	p, err := model.NewPrivilege(name)
	if err != nil {
		return nil, err
	}
	if err := s.roles.CreatePrivilege(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *AccessServiceImpl) RenamePrivilege(ctx context.Context, privilegeID int, name string) error {
	p, err := s.roles.GetPrivilege(ctx, privilegeID)
	if err != nil {
		return err
	}
	if err := p.Rename(name); err != nil {
		return err
	}
	return s.roles.SavePrivilege(ctx, p)
}

func (s *AccessServiceImpl) GrantPrivilege(ctx context.Context, roleID, privilegeID int) error {
	return s.roles.AddPrivilege(ctx, roleID, privilegeID)
}

func (s *AccessServiceImpl) RevokePrivilege(ctx context.Context, roleID, privilegeID int) error {
	return s.roles.RemovePrivilege(ctx, roleID, privilegeID)
}
