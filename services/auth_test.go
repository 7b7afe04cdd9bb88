package services

import (
	"context"
	"testing"

	"civicreport/mocks"
	"civicreport/models"
	"civicreport/stores"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/mock/gomock"
)

func newTestAuth(t *testing.T, admins ...string) (*Authenticator, *stores.MemoryUsers) {
	t.Helper()
	users := stores.NewMemoryUsers()
	return NewAuthenticator(users, AuthConfig{Secret: []byte("test-secret"), AdminEmails: admins}), users
}

func TestRegister(t *testing.T) {
	auth, users := newTestAuth(t)
	ctx := context.Background()

	user, err := auth.Register(ctx, Registration{Name: "Ana", Email: "a@x.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, user.Role)
	assert.Empty(t, user.Password, "secret is never returned")

	stored, err := users.FindByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.NotEqual(t, "secret1", stored.Password)
	assert.True(t, stored.ComparePassword("secret1"))
}

func TestRegister_Validation(t *testing.T) {
	auth, _ := newTestAuth(t)
	ctx := context.Background()

	for _, in := range []Registration{
		{Email: "a@x.com", Password: "secret1"},
		{Name: "Ana", Password: "secret1"},
		{Name: "Ana", Email: "a@x.com"},
		{Name: "   ", Email: "a@x.com", Password: "secret1"},
		{Name: "Ana", Email: "a@x.com", Password: "12345"},
	} {
		_, err := auth.Register(ctx, in)
		assert.ErrorIs(t, err, ErrValidation, "%+v", in)
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	auth, users := newTestAuth(t)
	ctx := context.Background()

	first, err := auth.Register(ctx, Registration{Name: "Ana", Email: "a@x.com", Password: "secret1"})
	require.NoError(t, err)

	_, err = auth.Register(ctx, Registration{Name: "Impostor", Email: "a@x.com", Password: "other12"})
	assert.ErrorIs(t, err, ErrDuplicateEmail)
	assert.ErrorIs(t, err, ErrValidation)

	stored, err := users.FindByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, first.ID, stored.ID)
	assert.Equal(t, "Ana", stored.Name)
}

func TestRegister_DuplicateKeyRace(t *testing.T) {
	ctrl := gomock.NewController(t)
	users := mocks.NewMockUserStore(ctrl)
	auth := NewAuthenticator(users, AuthConfig{Secret: []byte("s")})

	users.EXPECT().FindByEmail(gomock.Any(), "a@x.com").Return(nil, stores.ErrNotFound)
	users.EXPECT().Create(gomock.Any(), gomock.Any()).Return(stores.ErrDuplicateKey)

	_, err := auth.Register(context.Background(), Registration{Name: "Ana", Email: "a@x.com", Password: "secret1"})
	assert.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestRegister_StoreFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	users := mocks.NewMockUserStore(ctrl)
	auth := NewAuthenticator(users, AuthConfig{Secret: []byte("s")})

	users.EXPECT().FindByEmail(gomock.Any(), "a@x.com").Return(nil, assert.AnError)

	_, err := auth.Register(context.Background(), Registration{Name: "Ana", Email: "a@x.com", Password: "secret1"})
	assert.ErrorIs(t, err, ErrStore)
	assert.Equal(t, "Something went wrong", Message(err))
}

func TestRegister_AdminEmail(t *testing.T) {
	auth, _ := newTestAuth(t, "chief@city.gov")

	user, err := auth.Register(context.Background(), Registration{Name: "Chief", Email: "chief@city.gov", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, user.Role)
}

func TestLoginAndAuthenticate(t *testing.T) {
	auth, _ := newTestAuth(t)
	ctx := context.Background()

	user, err := auth.Register(ctx, Registration{Name: "Ana", Email: "a@x.com", Password: "secret1"})
	require.NoError(t, err)

	res, err := auth.Login(ctx, "a@x.com", "secret1")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, models.RoleUser, res.User.Role)
	assert.Empty(t, res.User.Password)

	caller, err := auth.Authenticate(res.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, caller.UserID)
	assert.Equal(t, models.RoleUser, caller.Role)
	assert.False(t, caller.Verified)
}

func TestLogin_Failures(t *testing.T) {
	auth, _ := newTestAuth(t)
	ctx := context.Background()
	_, err := auth.Register(ctx, Registration{Name: "Ana", Email: "a@x.com", Password: "secret1"})
	require.NoError(t, err)

	_, err = auth.Login(ctx, "nobody@x.com", "secret1")
	assert.ErrorIs(t, err, ErrAuth)

	_, err = auth.Login(ctx, "a@x.com", "wrong-password")
	assert.ErrorIs(t, err, ErrAuth)
}

func TestAuthenticate_BadTokens(t *testing.T) {
	auth, _ := newTestAuth(t)
	other := NewAuthenticator(stores.NewMemoryUsers(), AuthConfig{Secret: []byte("another-secret")})
	ctx := context.Background()

	_, err := other.Register(ctx, Registration{Name: "Bo", Email: "b@x.com", Password: "secret1"})
	require.NoError(t, err)
	res, err := other.Login(ctx, "b@x.com", "secret1")
	require.NoError(t, err)

	for _, tok := range []string{"", "not-a-token", res.Token} {
		_, err := auth.Authenticate(tok)
		assert.ErrorIs(t, err, ErrAuth, tok)
	}
}

func TestVerify_PicksUpRoleChangeAndRemoval(t *testing.T) {
	auth, users := newTestAuth(t)
	ctx := context.Background()

	user, err := auth.Register(ctx, Registration{Name: "Ana", Email: "a@x.com", Password: "secret1"})
	require.NoError(t, err)
	res, err := auth.Login(ctx, "a@x.com", "secret1")
	require.NoError(t, err)
	caller, err := auth.Authenticate(res.Token)
	require.NoError(t, err)

	require.True(t, users.SetRole(user.ID, models.RoleAdmin))
	verified, err := auth.Verify(ctx, caller)
	require.NoError(t, err)
	assert.True(t, verified.Verified)
	assert.Equal(t, models.RoleAdmin, verified.Role)
	assert.Equal(t, "Ana", verified.Name)
	assert.Equal(t, "a@x.com", verified.Email)

	users.Remove(user.ID)
	_, err = auth.Verify(ctx, caller)
	assert.ErrorIs(t, err, ErrAuth)

	_, err = auth.Verify(ctx, nil)
	assert.ErrorIs(t, err, ErrAuth)
}

func TestProfile(t *testing.T) {
	auth, _ := newTestAuth(t)
	ctx := context.Background()
	user, err := auth.Register(ctx, Registration{Name: "Ana", Email: "a@x.com", Password: "secret1"})
	require.NoError(t, err)

	got, err := auth.Profile(ctx, &Caller{UserID: user.ID})
	require.NoError(t, err)
	assert.Equal(t, "Ana", got.Name)
	assert.Empty(t, got.Password)

	_, err = auth.Profile(ctx, &Caller{UserID: primitive.NewObjectID()})
	assert.ErrorIs(t, err, ErrAuth)
}
