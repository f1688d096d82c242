package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/seoulchess/backend/internal/config"
	"github.com/seoulchess/backend/internal/models"
	jwtpkg "github.com/seoulchess/backend/pkg/jwt"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type AuthService struct {
	db    *gorm.DB
	redis *redis.Client
	cfg   *config.Config
	now   func() time.Time
}

func NewAuthService(db *gorm.DB, redis *redis.Client, cfg *config.Config) *AuthService {
	return &AuthService{
		db:    db,
		redis: redis,
		cfg:   cfg,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type LoginResult struct {
	TokenPair
	User      *models.User `json:"user"`
	IsNewUser bool         `json:"is_new_user"`
}

// SocialIdentity is what a provider verifier reports about a user.
type SocialIdentity struct {
	Provider string
	SocialID string
	Email    *string
	Name     string
}

// IssuePhoneToken proves the holder verified phone.
func (s *AuthService) IssuePhoneToken(phone string) (string, error) {
	token, err := jwtpkg.GeneratePhoneToken(NormalizePhoneNumber(phone), s.cfg.JWTSecret, s.cfg.PhoneTokenDuration)
	if err != nil {
		return "", internalError(err)
	}
	return token, nil
}

// LoginWithPhone signs in the user owning phone. phoneToken must come from
// a successful code verification for the same number.
func (s *AuthService) LoginWithPhone(ctx context.Context, phone, phoneToken string) (*LoginResult, error) {
	phone = NormalizePhoneNumber(phone)

	claims, err := jwtpkg.ValidateToken(phoneToken, s.cfg.JWTSecret)
	if err != nil || claims.TokenType != jwtpkg.PhoneToken {
		return nil, ErrInvalidToken
	}
	if claims.PhoneNumber != phone {
		return nil, ErrPhoneMismatch
	}

	var user models.User
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("phone_number = ?", phone).First(&user).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUserNotFound
		}
		if err != nil {
			return err
		}
		return recordVisit(tx, &user)
	})
	if err != nil {
		return nil, asServiceError(err)
	}

	pair, err := s.issueTokens(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return &LoginResult{TokenPair: *pair, User: &user}, nil
}

// SocialLogin finds or creates the user for a provider identity. Returning
// users get their name and email refreshed and a visit counted.
func (s *AuthService) SocialLogin(ctx context.Context, id SocialIdentity) (*LoginResult, error) {
	if id.Provider == "" || id.SocialID == "" {
		return nil, invalidError("social identity is incomplete")
	}

	var user models.User
	isNew := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("social_provider = ? AND social_id = ?", id.Provider, id.SocialID).First(&user).Error
		switch {
		case err == nil:
			updates := map[string]interface{}{}
			if id.Name != "" {
				updates["name"] = id.Name
			}
			if id.Email != nil {
				updates["email"] = *id.Email
			}
			if len(updates) > 0 {
				if err := tx.Model(&user).Updates(updates).Error; err != nil {
					return err
				}
				if id.Name != "" {
					user.Name = id.Name
				}
				if id.Email != nil {
					user.Email = id.Email
				}
			}
			return recordVisit(tx, &user)

		case errors.Is(err, gorm.ErrRecordNotFound):
			provider, socialID := id.Provider, id.SocialID
			name := id.Name
			if name == "" {
				name = defaultSocialName(provider)
			}
			user = models.User{
				Name:           name,
				Email:          id.Email,
				SocialProvider: &provider,
				SocialID:       &socialID,
				TotalVisits:    1,
			}
			isNew = true
			return tx.Create(&user).Error

		default:
			return err
		}
	})
	if err != nil {
		if isDuplicateKey(err) {
			return nil, ErrDuplicateIdentity
		}
		return nil, asServiceError(err)
	}

	pair, err := s.issueTokens(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return &LoginResult{TokenPair: *pair, User: &user, IsNewUser: isNew}, nil
}

// Refresh exchanges a stored refresh token for a new access token.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := jwtpkg.ValidateToken(refreshToken, s.cfg.JWTSecret)
	if err != nil || claims.TokenType != jwtpkg.RefreshToken {
		return nil, ErrInvalidToken
	}

	var stored models.RefreshToken
	err = s.db.WithContext(ctx).Where("token = ?", refreshToken).First(&stored).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, internalError(err)
	}
	if s.now().After(stored.ExpiresAt) {
		return nil, ErrInvalidToken
	}

	access, err := jwtpkg.GenerateToken(claims.UserID, jwtpkg.AccessToken, s.cfg.JWTSecret, s.cfg.JWTAccessTokenDuration)
	if err != nil {
		return nil, internalError(err)
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
		ExpiresIn:    int64(s.cfg.JWTAccessTokenDuration.Seconds()),
	}, nil
}

// Logout deletes the user's refresh tokens and blacklists accessToken for
// the rest of its lifetime.
func (s *AuthService) Logout(ctx context.Context, userID uint, accessToken string) error {
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.RefreshToken{}).Error; err != nil {
		return internalError(err)
	}

	if s.redis == nil || accessToken == "" {
		return nil
	}
	claims, err := jwtpkg.ValidateToken(accessToken, s.cfg.JWTSecret)
	if err != nil || claims.ExpiresAt == nil {
		return nil
	}
	ttl := claims.ExpiresAt.Time.Sub(time.Now())
	if ttl <= 0 {
		return nil
	}
	if err := s.redis.Set(ctx, blacklistKey(accessToken), "1", ttl).Err(); err != nil {
		zap.L().Warn("Could not blacklist token in Redis", zap.Error(err))
	}
	return nil
}

// ValidateAccessToken checks signature, type and the logout blacklist.
// An unreachable Redis doesn't block authentication.
func (s *AuthService) ValidateAccessToken(ctx context.Context, token string) (*jwtpkg.Claims, error) {
	claims, err := jwtpkg.ValidateToken(token, s.cfg.JWTSecret)
	if err != nil || claims.TokenType != jwtpkg.AccessToken {
		return nil, ErrInvalidToken
	}

	if s.redis != nil {
		exists, err := s.redis.Exists(ctx, blacklistKey(token)).Result()
		if err != nil {
			zap.L().Warn("Could not connect to Redis to check token blacklist", zap.Error(err))
		} else if exists > 0 {
			return nil, ErrInvalidToken
		}
	}
	return claims, nil
}

// PurgeExpiredRefreshTokens removes refresh tokens past their expiry.
func (s *AuthService) PurgeExpiredRefreshTokens(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at < ?", s.now()).Delete(&models.RefreshToken{})
	return res.RowsAffected, res.Error
}

func (s *AuthService) issueTokens(ctx context.Context, userID uint) (*TokenPair, error) {
	access, err := jwtpkg.GenerateToken(userID, jwtpkg.AccessToken, s.cfg.JWTSecret, s.cfg.JWTAccessTokenDuration)
	if err != nil {
		return nil, internalError(err)
	}
	refresh, err := jwtpkg.GenerateToken(userID, jwtpkg.RefreshToken, s.cfg.JWTSecret, s.cfg.JWTRefreshTokenDuration)
	if err != nil {
		return nil, internalError(err)
	}

	err = s.db.WithContext(ctx).Create(&models.RefreshToken{
		UserID:    userID,
		Token:     refresh,
		ExpiresAt: s.now().Add(s.cfg.JWTRefreshTokenDuration),
	}).Error
	if err != nil {
		return nil, internalError(err)
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int64(s.cfg.JWTAccessTokenDuration.Seconds()),
	}, nil
}

// recordVisit increments the counter in the store and on u.
func recordVisit(tx *gorm.DB, u *models.User) error {
	if err := tx.Model(u).UpdateColumn("total_visits", gorm.Expr("total_visits + 1")).Error; err != nil {
		return err
	}
	u.RecordVisit()
	return nil
}

func defaultSocialName(provider string) string {
	switch provider {
	case models.SocialProviderApple:
		return "Apple User"
	case models.SocialProviderKakao:
		return "Kakao User"
	}
	return "User"
}

func blacklistKey(token string) string {
	return fmt.Sprintf("blacklist:token:%s", token)
}
