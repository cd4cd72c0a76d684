package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/and161185/basejwt/internal/errs"
	"github.com/and161185/basejwt/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

var refreshCol = []string{"id", "user_id", "token_hash", "created_at", "expires_at", "revoked_at", "replaced_by_token_id"}

func newRefresh(userID uuid.UUID, hash string) *model.RefreshToken {
	return &model.RefreshToken{
		ID:        uuid.Must(uuid.NewV4()),
		UserID:    userID,
		TokenHash: hash,
		CreatedAt: created,
		ExpiresAt: created.Add(time.Hour),
	}
}

func TestRefreshTokenRepo_GetByHash_ScansNullableColumns(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRefreshTokenRepo(db)
	ctx := context.Background()
	uid := uuid.Must(uuid.NewV4())
	tok := newRefresh(uid, "h1")
	next := uuid.Must(uuid.NewV4())
	revoked := created.Add(time.Minute)

	mock.ExpectQuery(regexp.QuoteMeta(qRefreshByHash)).
		WithArgs("h1").
		WillReturnRows(pgxmock.NewRows(refreshCol).
			AddRow(tok.ID, uid, "h1", tok.CreatedAt, tok.ExpiresAt, &revoked, next))
	got, err := r.GetByHash(ctx, "h1")
	require.NoError(t, err)
	require.True(t, got.IsRevoked())
	require.Equal(t, next, *got.ReplacedByTokenID)

	mock.ExpectQuery(regexp.QuoteMeta(qRefreshByID)).
		WithArgs(tok.ID).
		WillReturnRows(pgxmock.NewRows(refreshCol).
			AddRow(tok.ID, uid, "h1", tok.CreatedAt, tok.ExpiresAt, nil, nil))
	got, err = r.GetByID(ctx, tok.ID)
	require.NoError(t, err)
	require.False(t, got.IsRevoked())
	require.Nil(t, got.ReplacedByTokenID)

	mock.ExpectQuery(regexp.QuoteMeta(qRefreshByHash)).
		WithArgs("nope").
		WillReturnError(pgx.ErrNoRows)
	_, err = r.GetByHash(ctx, "nope")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestRefreshTokenRepo_Rotate_OK(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRefreshTokenRepo(db)
	uid := uuid.Must(uuid.NewV4())
	oldID := uuid.Must(uuid.NewV4())
	next := newRefresh(uid, "h2")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(qRefreshInsert)).
		WithArgs(next.ID, uid, "h2", next.CreatedAt, next.ExpiresAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(regexp.QuoteMeta(qRefreshReplace)).
		WithArgs(oldID, created, next.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	require.NoError(t, r.Rotate(context.Background(), oldID, next, created))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshTokenRepo_Rotate_LostRaceRollsBack(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRefreshTokenRepo(db)
	uid := uuid.Must(uuid.NewV4())
	oldID := uuid.Must(uuid.NewV4())
	next := newRefresh(uid, "h3")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(qRefreshInsert)).
		WithArgs(next.ID, uid, "h3", next.CreatedAt, next.ExpiresAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(regexp.QuoteMeta(qRefreshReplace)).
		WithArgs(oldID, created, next.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	require.ErrorIs(t, r.Rotate(context.Background(), oldID, next, created), errs.ErrVersionConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshTokenRepo_ListActiveAndRevokeAll(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRefreshTokenRepo(db)
	ctx := context.Background()
	uid := uuid.Must(uuid.NewV4())
	a, b := newRefresh(uid, "a"), newRefresh(uid, "b")

	mock.ExpectQuery(regexp.QuoteMeta(qRefreshActive)).
		WithArgs(uid, created).
		WillReturnRows(pgxmock.NewRows(refreshCol).
			AddRow(a.ID, uid, "a", a.CreatedAt, a.ExpiresAt, nil, nil).
			AddRow(b.ID, uid, "b", b.CreatedAt, b.ExpiresAt, nil, nil))
	list, err := r.ListActiveByUser(ctx, uid, created)
	require.NoError(t, err)
	require.Len(t, list, 2)

	mock.ExpectExec(regexp.QuoteMeta(qRefreshRevokeAll)).
		WithArgs(uid, created).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	n, err := r.RevokeAllForUser(ctx, uid, created)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResetTokenRepo_MarkUsedOnce(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewResetTokenRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())

	mock.ExpectExec(regexp.QuoteMeta(qResetMarkUsed)).
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.MarkUsed(ctx, id))

	mock.ExpectExec(regexp.QuoteMeta(qResetMarkUsed)).
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, r.MarkUsed(ctx, id), errs.ErrAlreadyUsed)
}

func TestResetTokenRepo_GetByToken(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewResetTokenRepo(db)
	ctx := context.Background()
	id, uid := uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())

	mock.ExpectQuery(regexp.QuoteMeta(qResetByToken)).
		WithArgs("tok").
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "token", "expires_at", "is_used"}).
			AddRow(id, uid, "tok", created, false))
	got, err := r.GetByToken(ctx, "tok")
	require.NoError(t, err)
	require.Equal(t, uid, got.UserID)
	require.False(t, got.IsUsed)

	mock.ExpectQuery(regexp.QuoteMeta(qResetByToken)).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)
	_, err = r.GetByToken(ctx, "missing")
	require.ErrorIs(t, err, errs.ErrNotFound)
}
