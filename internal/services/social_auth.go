package services

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/seoulchess/backend/internal/config"
	"github.com/seoulchess/backend/internal/metrics"
	"github.com/seoulchess/backend/internal/models"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// jwks is the JSON Web Key Set served by Apple
type jwks struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type appleClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// AppleUserInfo is the name payload Apple sends on first sign-in only.
type AppleUserInfo struct {
	Name struct {
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
	} `json:"name"`
}

// AppleVerifier checks Sign in with Apple identity tokens against Apple's
// published keys. Keys are cached and refetched on an unknown kid.
type AppleVerifier struct {
	keysURL  string
	issuer   string
	clientID string
	client   *http.Client

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	lastFetch time.Time
}

func NewAppleVerifier(cfg *config.Config) *AppleVerifier {
	return &AppleVerifier{
		keysURL:  cfg.AppleKeysURL,
		issuer:   cfg.AppleIssuer,
		clientID: cfg.AppleClientID,
		client:   &http.Client{Timeout: 10 * time.Second},
		keys:     make(map[string]*rsa.PublicKey),
	}
}

// Verify validates identityToken and returns the identity it asserts. Name
// comes from userInfo and is empty when Apple did not send one.
func (v *AppleVerifier) Verify(ctx context.Context, identityToken string, userInfo *AppleUserInfo) (*SocialIdentity, error) {
	if err := v.ensureKeysFresh(ctx); err != nil {
		return nil, upstreamError("Could not fetch Apple signing keys", err)
	}

	claims := &appleClaims{}
	_, err := jwt.ParseWithClaims(identityToken, claims, func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("missing 'kid' in token header")
		}
		if key := v.key(kid); key != nil {
			return key, nil
		}

		zap.L().Info("Apple key not found, refreshing JWKS", zap.String("kid", kid))
		if err := v.fetchJWKS(ctx); err != nil {
			return nil, fmt.Errorf("failed to refresh JWKS: %w", err)
		}
		if key := v.key(kid); key != nil {
			return key, nil
		}
		return nil, fmt.Errorf("no public key found for kid: %s", kid)
	},
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.clientID),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		zap.L().Warn("Apple identity token rejected", zap.Error(err))
		return nil, &Error{Kind: KindUnauthorized, Code: ErrInvalidToken.Code, Message: "Invalid Apple ID token", Err: err}
	}
	if claims.Subject == "" {
		return nil, &Error{Kind: KindUnauthorized, Code: ErrInvalidToken.Code, Message: "Apple ID token has no subject"}
	}

	id := &SocialIdentity{Provider: models.SocialProviderApple, SocialID: claims.Subject}
	if claims.Email != "" {
		email := claims.Email
		id.Email = &email
	}
	if userInfo != nil {
		id.Name = strings.TrimSpace(userInfo.Name.LastName + userInfo.Name.FirstName)
	}
	return id, nil
}

func (v *AppleVerifier) key(kid string) *rsa.PublicKey {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.keys[kid]
}

// ensureKeysFresh refetches keys older than an hour
func (v *AppleVerifier) ensureKeysFresh(ctx context.Context) error {
	v.mu.RLock()
	stale := len(v.keys) == 0 || time.Since(v.lastFetch) > time.Hour
	v.mu.RUnlock()
	if stale {
		return v.fetchJWKS(ctx)
	}
	return nil
}

func (v *AppleVerifier) fetchJWKS(ctx context.Context) error {
	start := time.Now()
	defer metrics.ObserveExternal("apple", "jwks", start)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.keysURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	var set jwks
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("failed to parse JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		pub, err := buildRSAPublicKey(k.N, k.E)
		if err != nil {
			zap.L().Warn("Failed to build RSA public key", zap.String("kid", k.Kid), zap.Error(err))
			continue
		}
		keys[k.Kid] = pub
	}

	v.mu.Lock()
	v.keys = keys
	v.lastFetch = time.Now()
	v.mu.Unlock()
	return nil
}

// buildRSAPublicKey constructs an RSA public key from base64url modulus and exponent
func buildRSAPublicKey(nStr, eStr string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(nStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(eStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}

	n := new(big.Int).SetBytes(nBytes)
	e := new(big.Int).SetBytes(eBytes)
	if !e.IsInt64() || e.Int64() < 2 {
		return nil, fmt.Errorf("invalid exponent")
	}
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

type kakaoUser struct {
	ID           int64 `json:"id"`
	KakaoAccount struct {
		Email   string `json:"email"`
		Profile struct {
			Nickname string `json:"nickname"`
		} `json:"profile"`
	} `json:"kakao_account"`
}

// KakaoClient resolves a Kakao access token to the account it belongs to.
type KakaoClient struct {
	userURL string
	client  *http.Client
}

func NewKakaoClient(cfg *config.Config) *KakaoClient {
	return &KakaoClient{
		userURL: cfg.KakaoUserURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (k *KakaoClient) Verify(ctx context.Context, accessToken string) (*SocialIdentity, error) {
	if accessToken == "" {
		return nil, ErrInvalidToken
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, k.client)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.userURL, nil)
	if err != nil {
		return nil, internalError(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=utf-8")

	resp, err := client.Do(req)
	metrics.ObserveExternal("kakao", "user_me", start)
	if err != nil {
		return nil, upstreamError("Error connecting to Kakao API", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Kind: KindUnauthorized, Code: ErrInvalidToken.Code, Message: "Invalid Kakao access token"}
	}

	var u kakaoUser
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return nil, upstreamError("Malformed Kakao user response", err)
	}
	if u.ID == 0 {
		return nil, upstreamError("Kakao user response has no id", errors.New("missing id"))
	}

	id := &SocialIdentity{
		Provider: models.SocialProviderKakao,
		SocialID: strconv.FormatInt(u.ID, 10),
		Name:     u.KakaoAccount.Profile.Nickname,
	}
	if u.KakaoAccount.Email != "" {
		email := u.KakaoAccount.Email
		id.Email = &email
	}
	return id, nil
}
