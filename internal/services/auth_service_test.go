package services

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/seoulchess/backend/internal/models"
	jwtpkg "github.com/seoulchess/backend/pkg/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestAuthService(t *testing.T) (*AuthService, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewAuthService(setupTestDB(t), rdb, testConfig()), mr
}

func seedPhoneUser(t *testing.T, db *gorm.DB, phone string) *models.User {
	t.Helper()
	user := &models.User{Name: "Park", PhoneNumber: ptr(phone), TotalVisits: 1}
	require.NoError(t, db.Create(user).Error)
	return user
}

func TestLoginWithPhone(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()
	user := seedPhoneUser(t, svc.db, "+821012345678")

	phoneToken, err := svc.IssuePhoneToken("01012345678")
	require.NoError(t, err)

	res, err := svc.LoginWithPhone(ctx, "+821012345678", phoneToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, res.User.ID)
	assert.Equal(t, 2, res.User.TotalVisits)
	assert.False(t, res.IsNewUser)
	assert.Equal(t, "bearer", res.TokenType)

	claims, err := svc.ValidateAccessToken(ctx, res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)

	var stored models.User
	require.NoError(t, svc.db.First(&stored, user.ID).Error)
	assert.Equal(t, 2, stored.TotalVisits)
}

func TestLoginWithPhone_Rejections(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()
	seedPhoneUser(t, svc.db, "+821012345678")

	other, err := svc.IssuePhoneToken("+821099999999")
	require.NoError(t, err)
	_, err = svc.LoginWithPhone(ctx, "+821012345678", other)
	assert.ErrorIs(t, err, ErrPhoneMismatch)

	access, err := jwtpkg.GenerateToken(1, jwtpkg.AccessToken, "test-secret", time.Hour)
	require.NoError(t, err)
	_, err = svc.LoginWithPhone(ctx, "+821012345678", access)
	assert.ErrorIs(t, err, ErrInvalidToken)

	unknown, err := svc.IssuePhoneToken("+821055555555")
	require.NoError(t, err)
	_, err = svc.LoginWithPhone(ctx, "+821055555555", unknown)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestSocialLogin_CreateThenReturn(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	id := SocialIdentity{Provider: models.SocialProviderKakao, SocialID: "12345", Name: "Choi", Email: ptr("choi@example.com")}
	first, err := svc.SocialLogin(ctx, id)
	require.NoError(t, err)
	assert.True(t, first.IsNewUser)
	assert.Equal(t, 1, first.User.TotalVisits)
	assert.Nil(t, first.User.PhoneNumber)

	id.Name = "Choi Jiwoo"
	again, err := svc.SocialLogin(ctx, id)
	require.NoError(t, err)
	assert.False(t, again.IsNewUser)
	assert.Equal(t, first.User.ID, again.User.ID)
	assert.Equal(t, 2, again.User.TotalVisits)
	assert.Equal(t, "Choi Jiwoo", again.User.Name)

	// same social id under another provider is a different user
	apple, err := svc.SocialLogin(ctx, SocialIdentity{Provider: models.SocialProviderApple, SocialID: "12345", Name: "Apple User"})
	require.NoError(t, err)
	assert.True(t, apple.IsNewUser)
	assert.NotEqual(t, first.User.ID, apple.User.ID)
}

func TestSocialLogin_EmailTakenByAnotherUser(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()
	require.NoError(t, svc.db.Create(&models.User{Name: "Phone user", PhoneNumber: ptr("+821012345678"), Email: ptr("taken@example.com")}).Error)

	_, err := svc.SocialLogin(ctx, SocialIdentity{Provider: models.SocialProviderKakao, SocialID: "1", Name: "K", Email: ptr("taken@example.com")})
	assert.ErrorIs(t, err, ErrDuplicateIdentity)
}

func TestRefresh(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()
	seedPhoneUser(t, svc.db, "+821012345678")
	phoneToken, err := svc.IssuePhoneToken("+821012345678")
	require.NoError(t, err)
	res, err := svc.LoginWithPhone(ctx, "+821012345678", phoneToken)
	require.NoError(t, err)

	pair, err := svc.Refresh(ctx, res.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)

	_, err = svc.Refresh(ctx, res.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// a refresh token that was never stored
	unknown, err := jwtpkg.GenerateToken(res.User.ID, jwtpkg.RefreshToken, "test-secret", time.Hour)
	require.NoError(t, err)
	_, err = svc.Refresh(ctx, unknown)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestLogout_BlacklistsAccessToken(t *testing.T) {
	svc, mr := newTestAuthService(t)
	ctx := context.Background()
	seedPhoneUser(t, svc.db, "+821012345678")
	phoneToken, err := svc.IssuePhoneToken("+821012345678")
	require.NoError(t, err)
	res, err := svc.LoginWithPhone(ctx, "+821012345678", phoneToken)
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, res.User.ID, res.AccessToken))

	assert.True(t, mr.Exists(blacklistKey(res.AccessToken)))
	assert.Greater(t, mr.TTL(blacklistKey(res.AccessToken)), time.Duration(0))

	_, err = svc.ValidateAccessToken(ctx, res.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.Refresh(ctx, res.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateAccessToken_RedisDown(t *testing.T) {
	svc, mr := newTestAuthService(t)
	token, err := jwtpkg.GenerateToken(1, jwtpkg.AccessToken, "test-secret", time.Hour)
	require.NoError(t, err)

	mr.Close()
	claims, err := svc.ValidateAccessToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, uint(1), claims.UserID)
}

func TestValidateAccessToken_RejectsOtherTypes(t *testing.T) {
	svc, _ := newTestAuthService(t)
	phoneToken, err := svc.IssuePhoneToken("+821012345678")
	require.NoError(t, err)

	_, err = svc.ValidateAccessToken(context.Background(), phoneToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPurgeExpiredRefreshTokens(t *testing.T) {
	svc, _ := newTestAuthService(t)
	now := time.Now().UTC()
	require.NoError(t, svc.db.Create(&[]models.RefreshToken{
		{UserID: 1, Token: "old", ExpiresAt: now.Add(-time.Hour)},
		{UserID: 1, Token: "fresh", ExpiresAt: now.Add(time.Hour)},
	}).Error)

	n, err := svc.PurgeExpiredRefreshTokens(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
