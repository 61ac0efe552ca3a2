package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"authservice/internal/metrics"
	"authservice/internal/models"
	"authservice/internal/repository"
	"authservice/internal/token"
)

func requireServiceError(t *testing.T, err error, kind Kind, message string) {
	t.Helper()
	var svcErr *Error
	require.True(t, errors.As(err, &svcErr), "expected *service.Error, got %v", err)
	assert.Equal(t, kind, svcErr.Kind)
	assert.Equal(t, message, svcErr.Message)
}

func TestRegister(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	user, err := f.svc.Register(ctx, RegisterInput{Username: "alice", Email: "alice@example.com", Password: "Password1"})
	require.NoError(t, err)
	assert.NotZero(t, user.ID)
	assert.Equal(t, models.RoleUser, user.Role)
	assert.False(t, user.Banned)
	assert.NotEqual(t, "Password1", user.PasswordHash)

	ok, err := f.hasher.Verify(user.PasswordHash, "Password1")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = f.svc.Register(ctx, RegisterInput{Username: "again", Email: "alice@example.com", Password: "Password1"})
	requireServiceError(t, err, KindConflict, MsgEmailInUse)
}

func TestRegister_UniqueViolationIsConflict(t *testing.T) {
	f := newAuthFixture(t)
	f.users.createErr = repository.ErrDuplicateEmail

	_, err := f.svc.Register(context.Background(), RegisterInput{Username: "a", Email: "a@example.com", Password: "Password1"})
	requireServiceError(t, err, KindConflict, MsgEmailInUse)
}

func TestRegister_StoreFailure(t *testing.T) {
	f := newAuthFixture(t)
	boom := errors.New("db down")
	f.users.getErr = boom

	_, err := f.svc.Register(context.Background(), RegisterInput{Username: "a", Email: "a@example.com", Password: "Password1"})
	assert.Equal(t, KindInternal, KindOf(err))
	assert.ErrorIs(t, err, boom)
}

func TestLogin(t *testing.T) {
	f := newAuthFixture(t)
	seeded := f.seedUser(t, "bob@example.com", models.RoleUser, false)

	signed, err := f.svc.Login(context.Background(), "bob@example.com", "Password1")
	require.NoError(t, err)

	claims, err := f.codec.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, claims.Subject)
	assert.Equal(t, "bob@example.com", claims.Email)
	assert.Equal(t, models.RoleUser, claims.Role)
	assert.Equal(t, f.clock.Now().Add(time.Hour).Unix(), claims.Expiry().Unix())

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.LoginAttemptsTotal.WithLabelValues("user", metrics.OutcomeSuccess)))
}

func TestLogin_UnknownEmailAndWrongPasswordLookAlike(t *testing.T) {
	f := newAuthFixture(t)
	f.seedUser(t, "bob@example.com", models.RoleUser, false)

	_, errUnknown := f.svc.Login(context.Background(), "nobody@example.com", "Password1")
	_, errWrong := f.svc.Login(context.Background(), "bob@example.com", "Wrong1234")

	requireServiceError(t, errUnknown, KindUnauthorized, MsgInvalidCredentials)
	requireServiceError(t, errWrong, KindUnauthorized, MsgInvalidCredentials)
	assert.Equal(t, errUnknown.Error(), errWrong.Error())
}

func TestLogin_Banned(t *testing.T) {
	f := newAuthFixture(t)
	f.seedUser(t, "banned@example.com", models.RoleUser, true)

	_, err := f.svc.Login(context.Background(), "banned@example.com", "Password1")
	requireServiceError(t, err, KindUnauthorized, MsgBanned)

	// The password is checked first, so a wrong guess reveals nothing.
	_, err = f.svc.Login(context.Background(), "banned@example.com", "Wrong1234")
	requireServiceError(t, err, KindUnauthorized, MsgInvalidCredentials)
}

func TestLogin_CorruptStoredHash(t *testing.T) {
	f := newAuthFixture(t)
	u := &models.User{Username: "c", Email: "c@example.com", PasswordHash: "not-a-hash", Role: models.RoleUser}
	require.NoError(t, f.users.Create(context.Background(), u))

	_, err := f.svc.Login(context.Background(), "c@example.com", "Password1")
	requireServiceError(t, err, KindUnauthorized, MsgInvalidCredentials)
}

func TestLoginAdmin(t *testing.T) {
	f := newAuthFixture(t)
	f.seedUser(t, "user@example.com", models.RoleUser, false)
	admin := f.seedUser(t, "admin@example.com", models.RoleAdmin, false)
	f.seedUser(t, "banned-admin@example.com", models.RoleAdmin, true)
	ctx := context.Background()

	signed, err := f.svc.LoginAdmin(ctx, "admin@example.com", "Password1")
	require.NoError(t, err)
	claims, err := f.codec.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, admin.ID, claims.Subject)
	assert.Equal(t, models.RoleAdmin, claims.Role)

	_, err = f.svc.LoginAdmin(ctx, "user@example.com", "Password1")
	requireServiceError(t, err, KindUnauthorized, MsgAdminsOnly)

	_, err = f.svc.LoginAdmin(ctx, "banned-admin@example.com", "Password1")
	requireServiceError(t, err, KindUnauthorized, MsgBanned)

	_, err = f.svc.LoginAdmin(ctx, "admin@example.com", "Wrong1234")
	requireServiceError(t, err, KindUnauthorized, MsgInvalidCredentials)

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.LoginAttemptsTotal.WithLabelValues("admin", metrics.OutcomeNotAdmin)))
}

func TestLogout(t *testing.T) {
	f := newAuthFixture(t)
	u := f.seedUser(t, "bob@example.com", models.RoleUser, false)
	ctx := context.Background()

	signed, err := f.svc.Login(ctx, "bob@example.com", "Password1")
	require.NoError(t, err)

	msg, err := f.svc.Logout(ctx, signed, u.ID)
	require.NoError(t, err)
	assert.Equal(t, MsgLoggedOut, msg)

	entry := f.revocations.entries[signed]
	assert.Equal(t, u.ID, entry.userID)
	assert.Equal(t, f.clock.Now().Add(time.Hour).Unix(), entry.expiresAt.Unix())

	// Second logout with the same token is harmless.
	msg, err = f.svc.Logout(ctx, signed, u.ID)
	require.NoError(t, err)
	assert.Equal(t, MsgLoggedOut, msg)
	assert.Equal(t, 1, f.revocations.len())

	_, err = f.svc.Authorize(ctx, signed, nil)
	requireServiceError(t, err, KindUnauthorized, MsgTokenInvalidated)
}

func TestLogout_ExpiredTokenIsStillRecorded(t *testing.T) {
	f := newAuthFixture(t)
	u := f.seedUser(t, "bob@example.com", models.RoleUser, false)

	signed, err := f.svc.Login(context.Background(), "bob@example.com", "Password1")
	require.NoError(t, err)
	f.clock.Advance(2 * time.Hour)

	_, err = f.svc.Logout(context.Background(), signed, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.revocations.len())
}

func TestLogout_InvalidToken(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.svc.Logout(context.Background(), "garbage", 1)
	requireServiceError(t, err, KindBadRequest, MsgInvalidToken)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &token.Claims{Subject: 1}).SignedString([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	_, err = f.svc.Logout(context.Background(), noExp, 1)
	requireServiceError(t, err, KindBadRequest, MsgInvalidToken)

	assert.Equal(t, 0, f.revocations.len())
}

func TestLogout_StoreFailure(t *testing.T) {
	f := newAuthFixture(t)
	signed, _, err := f.codec.Mint(1, "a@example.com", models.RoleUser)
	require.NoError(t, err)
	f.revocations.recordErr = errors.New("insert failed")

	_, err = f.svc.Logout(context.Background(), signed, 1)
	assert.Equal(t, KindInternal, KindOf(err))
}

func TestAuthorize(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	user := f.seedUser(t, "user@example.com", models.RoleUser, false)
	admin := f.seedUser(t, "admin@example.com", models.RoleAdmin, false)

	userToken, _, err := f.codec.Mint(user.ID, user.Email, user.Role)
	require.NoError(t, err)
	adminToken, _, err := f.codec.Mint(admin.ID, admin.Email, admin.Role)
	require.NoError(t, err)

	got, err := f.svc.Authorize(ctx, userToken, nil)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	got, err = f.svc.Authorize(ctx, userToken, []models.Role{models.RoleUser, models.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = f.svc.Authorize(ctx, userToken, []models.Role{models.RoleAdmin})
	requireServiceError(t, err, KindUnauthorized, MsgInsufficientPermissions)

	got, err = f.svc.Authorize(ctx, adminToken, []models.Role{"admin"})
	require.NoError(t, err, "role comparison ignores case")
	assert.Equal(t, admin.ID, got.ID)

	assert.Equal(t, float64(3), testutil.ToFloat64(f.metrics.GuardDecisionsTotal.WithLabelValues(metrics.DecisionAllowed)))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.GuardDecisionsTotal.WithLabelValues(metrics.DecisionForbidden)))
}

func TestAuthorize_TokenFailures(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	user := f.seedUser(t, "user@example.com", models.RoleUser, false)

	signed, _, err := f.codec.Mint(user.ID, user.Email, user.Role)
	require.NoError(t, err)

	_, err = f.svc.Authorize(ctx, "not.a.token", nil)
	requireServiceError(t, err, KindUnauthorized, MsgInvalidOrExpiredToken)
	assert.ErrorIs(t, err, token.ErrMalformed)

	f.clock.Advance(time.Hour)
	_, err = f.svc.Authorize(ctx, signed, nil)
	requireServiceError(t, err, KindUnauthorized, MsgInvalidOrExpiredToken)
	assert.ErrorIs(t, err, token.ErrExpired)
}

func TestAuthorize_RevocationCheckedFirst(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	signed, _, err := f.codec.Mint(999, "ghost@example.com", models.RoleUser)
	require.NoError(t, err)
	require.NoError(t, f.revocations.Record(ctx, signed, 999, f.clock.Now().Add(time.Hour)))
	f.clock.Advance(2 * time.Hour)

	_, err = f.svc.Authorize(ctx, signed, nil)
	requireServiceError(t, err, KindUnauthorized, MsgTokenInvalidated)
}

func TestAuthorize_UserState(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	banned := f.seedUser(t, "banned@example.com", models.RoleAdmin, true)

	bannedToken, _, err := f.codec.Mint(banned.ID, banned.Email, banned.Role)
	require.NoError(t, err)
	_, err = f.svc.Authorize(ctx, bannedToken, nil)
	requireServiceError(t, err, KindUnauthorized, MsgUserNotFoundOrBanned)

	ghostToken, _, err := f.codec.Mint(12345, "ghost@example.com", models.RoleAdmin)
	require.NoError(t, err)
	_, err = f.svc.Authorize(ctx, ghostToken, nil)
	requireServiceError(t, err, KindUnauthorized, MsgUserNotFoundOrBanned)
}

func TestAuthorize_RoleComesFromStoredUser(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	user := f.seedUser(t, "user@example.com", models.RoleUser, false)

	// A token claiming ADMIN does not grant it when the account is USER.
	forged, _, err := f.codec.Mint(user.ID, user.Email, models.RoleAdmin)
	require.NoError(t, err)

	_, err = f.svc.Authorize(ctx, forged, []models.Role{models.RoleAdmin})
	requireServiceError(t, err, KindUnauthorized, MsgInsufficientPermissions)
}

func TestAuthorize_StoreFailure(t *testing.T) {
	f := newAuthFixture(t)
	f.revocations.lookupErr = errors.New("redis down")

	_, err := f.svc.Authorize(context.Background(), "whatever", nil)
	assert.Equal(t, KindInternal, KindOf(err))
}
