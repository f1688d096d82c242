package services

import (
	"context"
	"errors"
	"strings"

	"github.com/seoulchess/backend/internal/config"
	"github.com/seoulchess/backend/internal/models"
	"github.com/seoulchess/backend/pkg/crypto"
	jwtpkg "github.com/seoulchess/backend/pkg/jwt"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type OperatorService struct {
	db  *gorm.DB
	cfg *config.Config
}

func NewOperatorService(db *gorm.DB, cfg *config.Config) *OperatorService {
	return &OperatorService{db: db, cfg: cfg}
}

// EnsureDefault creates the configured operator account when it doesn't
// exist yet. Without a configured password nothing is seeded.
func (s *OperatorService) EnsureDefault(ctx context.Context) error {
	username := strings.TrimSpace(s.cfg.OperatorUsername)
	if username == "" || s.cfg.OperatorPassword == "" {
		zap.L().Warn("No operator password configured, skipping operator seed")
		return nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Operator{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	_, err := s.Create(ctx, username, s.cfg.OperatorPassword)
	if err == nil {
		zap.L().Info("Seeded default operator", zap.String("username", username))
	}
	return err
}

// Create adds an operator account with a bcrypt-hashed password.
func (s *OperatorService) Create(ctx context.Context, username, password string) (*models.Operator, error) {
	username = strings.TrimSpace(username)
	if username == "" || len(password) < 8 {
		return nil, invalidError("username is required and password must be at least 8 characters")
	}

	hash, err := crypto.HashPassword(password, s.cfg.BcryptCost)
	if err != nil {
		return nil, internalError(err)
	}

	op := &models.Operator{Username: username, PasswordHash: hash}
	if err := s.db.WithContext(ctx).Create(op).Error; err != nil {
		if isDuplicateKey(err) {
			return nil, &Error{Kind: KindConflict, Code: "operator_exists", Message: "Operator already exists"}
		}
		return nil, internalError(err)
	}
	return op, nil
}

// Login checks the credentials and returns an operator token.
func (s *OperatorService) Login(ctx context.Context, username, password string) (string, *models.Operator, error) {
	var op models.Operator
	err := s.db.WithContext(ctx).Where("username = ?", strings.TrimSpace(username)).First(&op).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil, ErrInvalidCredential
	}
	if err != nil {
		return "", nil, internalError(err)
	}

	if !crypto.CheckPassword(password, op.PasswordHash) {
		return "", nil, ErrInvalidCredential
	}

	token, err := jwtpkg.GenerateOperatorToken(op.ID, s.cfg.JWTSecret, s.cfg.JWTAccessTokenDuration)
	if err != nil {
		return "", nil, internalError(err)
	}
	return token, &op, nil
}

// ValidateToken accepts operator tokens only.
func (s *OperatorService) ValidateToken(token string) (*jwtpkg.Claims, error) {
	claims, err := jwtpkg.ValidateToken(token, s.cfg.JWTSecret)
	if err != nil || claims.TokenType != jwtpkg.OperatorToken || claims.OperatorID == 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
