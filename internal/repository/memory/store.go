// Package memory is an in-process Identity Store. Entities live in id-indexed tables;
// relationships are foreign keys resolved by lookup. All reads return copies.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jonboulle/clockwork"

	"github.com/and161185/basejwt/internal/errs"
	"github.com/and161185/basejwt/internal/model"
	"github.com/and161185/basejwt/internal/repository"
)

// Store holds every table behind one lock, which makes multi-row updates atomic.
type Store struct {
	mu sync.Mutex

	users       map[uuid.UUID]*model.User
	userByEmail map[string]uuid.UUID

	roles       map[int]*model.Role // Privileges left empty; see rolePrivs
	privileges  map[int]*model.Privilege
	rolePrivs   map[int]map[int]struct{} // roleID -> privilegeIDs
	nextRoleID  int
	nextPrivID  int
	refresh     map[uuid.UUID]*model.RefreshToken
	refreshHash map[string]uuid.UUID
	resets      map[uuid.UUID]*model.PasswordResetToken
	resetByTok  map[string]uuid.UUID
	aclVersion  int64

	clock clockwork.Clock
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock that stamps CreatedAt on users stored without one.
func WithClock(c clockwork.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// New constructs an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		users:       map[uuid.UUID]*model.User{},
		userByEmail: map[string]uuid.UUID{},
		roles:       map[int]*model.Role{},
		privileges:  map[int]*model.Privilege{},
		rolePrivs:   map[int]map[int]struct{}{},
		refresh:     map[uuid.UUID]*model.RefreshToken{},
		refreshHash: map[string]uuid.UUID{},
		resets:      map[uuid.UUID]*model.PasswordResetToken{},
		resetByTok:  map[string]uuid.UUID{},
		clock:       clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Users returns the user table view.
func (s *Store) Users() *Users { return &Users{s} }

// Roles returns the role/privilege table view.
func (s *Store) Roles() *Roles { return &Roles{s} }

// RefreshTokens returns the refresh-token table view.
func (s *Store) RefreshTokens() *RefreshTokens { return &RefreshTokens{s} }

// ResetTokens returns the reset-token table view.
func (s *Store) ResetTokens() *ResetTokens { return &ResetTokens{s} }

var (
	_ repository.UserRepository         = (*Users)(nil)
	_ repository.RoleRepository         = (*Roles)(nil)
	_ repository.RefreshTokenRepository = (*RefreshTokens)(nil)
	_ repository.ResetTokenRepository   = (*ResetTokens)(nil)
)

// ---- users ----

// Users implements repository.UserRepository.
type Users struct{ s *Store }

func copyUser(u *model.User) *model.User {
	c := *u
	c.PwdHash = append([]byte(nil), u.PwdHash...)
	c.SaltAuth = append([]byte(nil), u.SaltAuth...)
	if u.LockoutEnd != nil {
		end := *u.LockoutEnd
		c.LockoutEnd = &end
	}
	return &c
}

func (r *Users) Create(_ context.Context, u *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	email := strings.ToLower(u.Email)
	if _, ok := r.s.userByEmail[email]; ok {
		return errs.ErrAlreadyExists
	}
	if _, ok := r.s.users[u.ID]; ok {
		return errs.ErrAlreadyExists
	}
	c := copyUser(u)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = r.s.clock.Now()
	}
	r.s.users[u.ID] = c
	r.s.userByEmail[email] = u.ID
	return nil
}

func (r *Users) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return copyUser(u), nil
}

func (r *Users) GetByEmail(_ context.Context, email string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.s.userByEmail[strings.ToLower(email)]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return copyUser(r.s.users[id]), nil
}

func (r *Users) Save(_ context.Context, u *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.saveUserLocked(u)
}

func (r *Users) Update(_ context.Context, id uuid.UUID, fn func(u *model.User) error) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.users[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	work := copyUser(cur)
	if err := fn(work); err != nil {
		return nil, err
	}
	if err := r.s.saveUserLocked(work); err != nil {
		return nil, err
	}
	return copyUser(work), nil
}

func (s *Store) saveUserLocked(u *model.User) error {
	old, ok := s.users[u.ID]
	if !ok {
		return errs.ErrNotFound
	}
	email := strings.ToLower(u.Email)
	if owner, taken := s.userByEmail[email]; taken && owner != u.ID {
		return errs.ErrAlreadyExists
	}
	delete(s.userByEmail, strings.ToLower(old.Email))
	s.userByEmail[email] = u.ID
	s.users[u.ID] = copyUser(u)
	return nil
}

// ---- roles & privileges ----

// Roles implements repository.RoleRepository.
type Roles struct{ s *Store }

func (r *Roles) CreateRole(_ context.Context, role *model.Role) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.roles {
		if existing.Name == role.Name || existing.Code == role.Code {
			return errs.ErrAlreadyExists
		}
	}
	r.s.nextRoleID++
	role.ID = r.s.nextRoleID
	c := *role
	c.Privileges = nil
	r.s.roles[c.ID] = &c
	r.s.rolePrivs[c.ID] = map[int]struct{}{}
	return nil
}

func (r *Roles) GetRoleWithPrivileges(_ context.Context, roleID int) (*model.Role, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.roleLocked(roleID)
}

func (r *Roles) GetDefaultRole(_ context.Context) (*model.Role, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ids := make([]int, 0, len(r.s.roles))
	for id, role := range r.s.roles {
		if role.IsDefault {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, errs.ErrNotFound
	}
	sort.Ints(ids)
	return r.s.roleLocked(ids[0])
}

func (s *Store) roleLocked(roleID int) (*model.Role, error) {
	role, ok := s.roles[roleID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *role
	privIDs := make([]int, 0, len(s.rolePrivs[roleID]))
	for pid := range s.rolePrivs[roleID] {
		privIDs = append(privIDs, pid)
	}
	sort.Ints(privIDs)
	c.Privileges = make([]model.Privilege, 0, len(privIDs))
	for _, pid := range privIDs {
		c.Privileges = append(c.Privileges, *s.privileges[pid])
	}
	return &c, nil
}

func (r *Roles) SaveRole(_ context.Context, role *model.Role) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.roles[role.ID]; !ok {
		return errs.ErrNotFound
	}
	for id, existing := range r.s.roles {
		if id != role.ID && (existing.Name == role.Name || existing.Code == role.Code) {
			return errs.ErrAlreadyExists
		}
	}
	c := *role
	c.Privileges = nil
	r.s.roles[role.ID] = &c
	r.s.aclVersion++
	return nil
}

func (r *Roles) CreatePrivilege(_ context.Context, p *model.Privilege) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.privileges {
		if existing.Name == p.Name {
			return errs.ErrAlreadyExists
		}
	}
	r.s.nextPrivID++
	p.ID = r.s.nextPrivID
	c := *p
	r.s.privileges[c.ID] = &c
	return nil
}

func (r *Roles) GetPrivilege(_ context.Context, id int) (*model.Privilege, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.privileges[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (r *Roles) SavePrivilege(_ context.Context, p *model.Privilege) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.privileges[p.ID]; !ok {
		return errs.ErrNotFound
	}
	for id, existing := range r.s.privileges {
		if id != p.ID && existing.Name == p.Name {
			return errs.ErrAlreadyExists
		}
	}
	c := *p
	r.s.privileges[p.ID] = &c
	r.s.aclVersion++
	return nil
}

func (r *Roles) AddPrivilege(_ context.Context, roleID, privilegeID int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.roles[roleID]; !ok {
		return errs.ErrNotFound
	}
	if _, ok := r.s.privileges[privilegeID]; !ok {
		return errs.ErrNotFound
	}
	r.s.rolePrivs[roleID][privilegeID] = struct{}{}
	r.s.aclVersion++
	return nil
}

func (r *Roles) RemovePrivilege(_ context.Context, roleID, privilegeID int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.rolePrivs[roleID], privilegeID)
	r.s.aclVersion++
	return nil
}

func (r *Roles) ACLVersion(context.Context) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.aclVersion, nil
}

// ---- refresh tokens ----

// RefreshTokens implements repository.RefreshTokenRepository.
type RefreshTokens struct{ s *Store }

func copyRefresh(t *model.RefreshToken) *model.RefreshToken {
	c := *t
	if t.RevokedAt != nil {
		at := *t.RevokedAt
		c.RevokedAt = &at
	}
	if t.ReplacedByTokenID != nil {
		id := *t.ReplacedByTokenID
		c.ReplacedByTokenID = &id
	}
	return &c
}

func (r *RefreshTokens) Create(_ context.Context, t *model.RefreshToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.insertRefreshLocked(t)
}

func (s *Store) insertRefreshLocked(t *model.RefreshToken) error {
	if _, ok := s.refresh[t.ID]; ok {
		return errs.ErrAlreadyExists
	}
	if _, ok := s.refreshHash[t.TokenHash]; ok {
		return errs.ErrAlreadyExists
	}
	s.refresh[t.ID] = copyRefresh(t)
	s.refreshHash[t.TokenHash] = t.ID
	return nil
}

func (r *RefreshTokens) GetByHash(_ context.Context, hash string) (*model.RefreshToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.s.refreshHash[hash]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return copyRefresh(r.s.refresh[id]), nil
}

func (r *RefreshTokens) GetByID(_ context.Context, id uuid.UUID) (*model.RefreshToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.refresh[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return copyRefresh(t), nil
}

func (r *RefreshTokens) ListActiveByUser(_ context.Context, userID uuid.UUID, now time.Time) ([]model.RefreshToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.RefreshToken
	for _, t := range r.s.refresh {
		if t.UserID == userID && t.IsActive(now) {
			out = append(out, *copyRefresh(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *RefreshTokens) Revoke(_ context.Context, id uuid.UUID, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.refresh[id]
	if !ok {
		return errs.ErrNotFound
	}
	t.Revoke(now, nil)
	return nil
}

func (r *RefreshTokens) Rotate(_ context.Context, oldID uuid.UUID, next *model.RefreshToken, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	old, ok := r.s.refresh[oldID]
	if !ok {
		return errs.ErrNotFound
	}
	if old.IsRevoked() {
		return errs.ErrVersionConflict
	}
	if err := r.s.insertRefreshLocked(next); err != nil {
		return err
	}
	old.Revoke(now, &next.ID)
	return nil
}

func (r *RefreshTokens) RevokeAllForUser(_ context.Context, userID uuid.UUID, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, t := range r.s.refresh {
		if t.UserID == userID && t.Revoke(now, nil) {
			n++
		}
	}
	return n, nil
}

// ---- password reset tokens ----

// ResetTokens implements repository.ResetTokenRepository.
type ResetTokens struct{ s *Store }

func (r *ResetTokens) Create(_ context.Context, t *model.PasswordResetToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.resetByTok[t.Token]; ok {
		return errs.ErrAlreadyExists
	}
	c := *t
	r.s.resets[t.ID] = &c
	r.s.resetByTok[t.Token] = t.ID
	return nil
}

func (r *ResetTokens) GetByToken(_ context.Context, token string) (*model.PasswordResetToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.s.resetByTok[token]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *r.s.resets[id]
	return &c, nil
}

func (r *ResetTokens) MarkUsed(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.resets[id]
	if !ok {
		return errs.ErrNotFound
	}
	if t.IsUsed {
		return errs.ErrAlreadyUsed
	}
	t.IsUsed = true
	return nil
}
