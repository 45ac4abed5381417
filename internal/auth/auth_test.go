package auth

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/visionai-api/internal/logger"
	"github.com/Brownie44l1/visionai-api/internal/store"
)

const testSecret = "test-secret"

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "auth.db"), logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	tokens, err := NewTokenIssuer(testSecret, time.Hour)
	require.NoError(t, err)
	svc, err := NewService(st, tokens, logger.Nop())
	require.NoError(t, err)
	return svc, st
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter22")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter22", hash)
	assert.True(t, CheckPassword(hash, "hunter22"))
	assert.False(t, CheckPassword(hash, "hunter23"))
	assert.False(t, CheckPassword("not-a-hash", "hunter22"))
}

func TestTokenRoundTrip(t *testing.T) {
	ti, err := NewTokenIssuer(testSecret, time.Hour)
	require.NoError(t, err)

	token, err := ti.Issue("alice")
	require.NoError(t, err)

	username, err := ti.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", username)
}

func TestTokenRejections(t *testing.T) {
	ti, err := NewTokenIssuer(testSecret, time.Hour)
	require.NoError(t, err)

	other, err := NewTokenIssuer("another-secret", time.Hour)
	require.NoError(t, err)
	foreign, err := other.Issue("alice")
	require.NoError(t, err)

	expiredIssuer, err := NewTokenIssuer(testSecret, time.Minute)
	require.NoError(t, err)
	expiredIssuer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := expiredIssuer.Issue("alice")
	require.NoError(t, err)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: "alice",
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	cases := map[string]string{
		"empty":         "",
		"garbage":       "not.a.token",
		"wrong secret":  foreign,
		"expired":       expired,
		"wrong alg":     hs512,
		"no expiration": noExp,
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ti.Verify(token)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidToken))
		})
	}
}

func TestNewTokenIssuerRequiresSecret(t *testing.T) {
	_, err := NewTokenIssuer("  ", time.Hour)
	require.Error(t, err)

	ti, err := NewTokenIssuer("x", 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultTokenTTL, ti.TTL())
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "abc", BearerToken("bearer   abc "))
	assert.Empty(t, BearerToken("Basic abc"))
	assert.Empty(t, BearerToken(""))
	assert.Empty(t, BearerToken("Bearer"))
}

func TestIdentityContext(t *testing.T) {
	_, ok := IdentityFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithIdentity(context.Background(), Identity{UserID: 7, Username: "zoe"})
	id, ok := IdentityFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, 7, id.UserID)

	_, ok = IdentityFromContext(WithIdentity(context.Background(), Identity{}))
	assert.False(t, ok)
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	cases := map[string][2]string{
		"short username": {"ab", "secret1"},
		"long username":  {strings.Repeat("u", 51), "secret1"},
		"short password": {"alice", "12345"},
		"long password":  {"alice", strings.Repeat("p", 73)},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Register(ctx, c[0], c[1])
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidInput))
		})
	}
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	u, err := svc.Register(ctx, "alice", "secret1")
	require.NoError(t, err)
	assert.True(t, u.IsActive)
	assert.NotEqual(t, "secret1", u.HashedPassword)

	_, err = svc.Register(ctx, "alice", "secret2")
	assert.True(t, errors.Is(err, ErrUserExists))
}

func TestLoginThenVerify(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	registered, err := svc.Register(ctx, "alice", "secret1")
	require.NoError(t, err)

	token, err := svc.Login(ctx, "alice", "secret1")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	username, err := svc.Tokens().Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", username)

	id, err := svc.Resolve(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, Identity{UserID: registered.ID, Username: "alice"}, id)

	token, err = svc.Login(ctx, "alice", "wrong-password")
	assert.True(t, errors.Is(err, ErrInvalidCredentials))
	assert.Empty(t, token)

	_, err = svc.Login(ctx, "nobody", "secret1")
	assert.True(t, errors.Is(err, ErrInvalidCredentials))
}

func TestInactiveUser(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	u, err := svc.Register(ctx, "dormant", "secret1")
	require.NoError(t, err)
	token, err := svc.Login(ctx, "dormant", "secret1")
	require.NoError(t, err)

	require.NoError(t, st.SetUserActive(ctx, u.ID, false))

	_, err = svc.Login(ctx, "dormant", "secret1")
	assert.True(t, errors.Is(err, ErrInvalidCredentials))

	_, err = svc.Resolve(ctx, token)
	assert.True(t, errors.Is(err, ErrInvalidToken))

	cur, err := svc.CurrentUser(ctx, token)
	require.NoError(t, err)
	assert.False(t, cur.IsActive)
}

func TestResolveUnknownUser(t *testing.T) {
	svc, _ := newTestService(t)

	token, err := svc.Tokens().Issue("ghost")
	require.NoError(t, err)

	_, err = svc.Resolve(context.Background(), token)
	assert.True(t, errors.Is(err, ErrInvalidToken))
}
