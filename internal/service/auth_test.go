package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"eoty/internal/apperr"
	"eoty/internal/models"
)

type fakeUserRepo struct {
	byEmail map[string]*models.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{byEmail: make(map[string]*models.User)}
}

func (f *fakeUserRepo) Create(_ context.Context, user *models.User) error {
	user.CreatedAt = time.Now()
	f.byEmail[user.Email] = user
	return nil
}

func (f *fakeUserRepo) GetByID(_ context.Context, id string) (*models.User, error) {
	for _, u := range f.byEmail {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeUserRepo) GetByEmail(_ context.Context, email string) (*models.User, error) {
	u, ok := f.byEmail[email]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return u, nil
}

func newTestAuth() (AuthService, *fakeUserRepo) {
	repo := newFakeUserRepo()
	return NewAuthService(repo, []byte("test-secret"), time.Hour, zap.NewNop()), repo
}

func register(t *testing.T, svc AuthService) *models.User {
	t.Helper()
	user, err := svc.Register(context.Background(), RegisterInput{
		Email: "ada@example.com", Password: "correct horse", FirstName: "Ada", LastName: "Lovelace",
	})
	require.NoError(t, err)
	return user
}

func TestRegisterDefaultsToStudent(t *testing.T) {
	svc, _ := newTestAuth()
	user := register(t, svc)

	assert.Equal(t, models.RoleStudent, user.Role)
	assert.True(t, user.IsActive)
	assert.True(t, strings.HasPrefix(user.PasswordHash, "$argon2id$"))
	assert.NotContains(t, user.PasswordHash, "correct horse")
}

func TestRegisterRejectsAdminRoles(t *testing.T) {
	svc, _ := newTestAuth()
	for _, role := range []string{models.RoleChapterAdmin, models.RolePlatformAdmin, "root"} {
		_, err := svc.Register(context.Background(), RegisterInput{
			Email: "x@example.com", Password: "longenough", Role: role,
		})
		require.Error(t, err, role)
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	}
}

func TestRegisterShortPassword(t *testing.T) {
	svc, _ := newTestAuth()
	_, err := svc.Register(context.Background(), RegisterInput{Email: "x@example.com", Password: "short"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _ := newTestAuth()
	register(t, svc)

	_, err := svc.Register(context.Background(), RegisterInput{
		Email: "ada@example.com", Password: "another pass",
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestLoginAndParseToken(t *testing.T) {
	svc, _ := newTestAuth()
	user := register(t, svc)

	token, expiresAt, loggedIn, err := svc.Login(context.Background(), "ada@example.com", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, user.ID, loggedIn.ID)
	assert.True(t, expiresAt.After(time.Now()))

	claims, err := svc.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, models.RoleStudent, claims.Role)
}

func TestLoginWrongPassword(t *testing.T) {
	svc, _ := newTestAuth()
	register(t, svc)

	_, _, _, err := svc.Login(context.Background(), "ada@example.com", "wrong")
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
}

func TestLoginUnknownUser(t *testing.T) {
	svc, _ := newTestAuth()

	_, _, _, err := svc.Login(context.Background(), "ghost@example.com", "whatever")
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
}

func TestLoginDisabledAccount(t *testing.T) {
	svc, repo := newTestAuth()
	register(t, svc)
	repo.byEmail["ada@example.com"].IsActive = false

	_, _, _, err := svc.Login(context.Background(), "ada@example.com", "correct horse")
	require.Error(t, err)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

func TestParseTokenRejectsTampering(t *testing.T) {
	svc, _ := newTestAuth()
	register(t, svc)
	token, _, _, err := svc.Login(context.Background(), "ada@example.com", "correct horse")
	require.NoError(t, err)

	other := NewAuthService(newFakeUserRepo(), []byte("different-secret"), time.Hour, zap.NewNop())
	_, err = other.ParseToken(token)
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
}
