package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenType represents the type of JWT token
type TokenType string

const (
	AccessToken   TokenType = "access"
	RefreshToken  TokenType = "refresh"
	PhoneToken    TokenType = "phone"
	OperatorToken TokenType = "operator"
	CheckInToken  TokenType = "checkin"
)

// Claims represents the JWT claims
type Claims struct {
	UserID      uint      `json:"user_id,omitempty"`
	OperatorID  uint      `json:"operator_id,omitempty"`
	PhoneNumber string    `json:"phone_number,omitempty"`
	TokenType   TokenType `json:"token_type"`
	// RegistrationID is set on check-in tokens only
	RegistrationID uint `json:"registration_id,omitempty"`
	jwt.RegisteredClaims
}

func newClaims(tokenType TokenType, duration time.Duration) Claims {
	now := time.Now()
	return Claims{
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(duration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
}

func sign(claims Claims, secret string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// GenerateToken generates a user token of the given type
func GenerateToken(userID uint, tokenType TokenType, secret string, duration time.Duration) (string, error) {
	claims := newClaims(tokenType, duration)
	claims.UserID = userID
	return sign(claims, secret)
}

// GeneratePhoneToken generates a short-lived token proving ownership of a phone number
func GeneratePhoneToken(phoneNumber string, secret string, duration time.Duration) (string, error) {
	claims := newClaims(PhoneToken, duration)
	claims.PhoneNumber = phoneNumber
	return sign(claims, secret)
}

// GenerateOperatorToken generates a token for an operator account
func GenerateOperatorToken(operatorID uint, secret string, duration time.Duration) (string, error) {
	claims := newClaims(OperatorToken, duration)
	claims.OperatorID = operatorID
	return sign(claims, secret)
}

// GenerateCheckInToken generates a token embedded in a registration's QR code
func GenerateCheckInToken(userID, registrationID uint, secret string, duration time.Duration) (string, error) {
	claims := newClaims(CheckInToken, duration)
	claims.UserID = userID
	claims.RegistrationID = registrationID
	return sign(claims, secret)
}

// ValidateToken validates a JWT token and returns the claims
func ValidateToken(tokenString string, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}
