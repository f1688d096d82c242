package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/seoulchess/backend/internal/config"
	"github.com/seoulchess/backend/internal/models"
	"github.com/seoulchess/backend/internal/services"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeSMS struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeSMS) Send(_ context.Context, to, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to)
	return nil
}

type fakeKakao struct {
	identity *services.SocialIdentity
}

func (f fakeKakao) Verify(_ context.Context, token string) (*services.SocialIdentity, error) {
	if token != "kakao-ok" {
		return nil, services.ErrInvalidToken
	}
	return f.identity, nil
}

type fakeApple struct{}

func (fakeApple) Verify(_ context.Context, token string, info *services.AppleUserInfo) (*services.SocialIdentity, error) {
	if token != "apple-ok" {
		return nil, services.ErrInvalidToken
	}
	name := ""
	if info != nil {
		name = info.Name.LastName + info.Name.FirstName
	}
	return &services.SocialIdentity{Provider: models.SocialProviderApple, SocialID: "apple-001", Name: name}, nil
}

type fakeGenerator struct {
	reply string
}

func (g fakeGenerator) Generate(context.Context, string, []services.ChatTurn, string) (string, error) {
	return g.reply, nil
}

type testServer struct {
	t      *testing.T
	router *gin.Engine
	db     *gorm.DB
	redis  *miniredis.Miniredis
	sms    *fakeSMS
	cfg    *config.Config
}

func testConfig() *config.Config {
	return &config.Config{
		Env:                     "test",
		FrontendURL:             "http://localhost:3000",
		JWTSecret:               "test-secret",
		JWTAccessTokenDuration:  time.Hour,
		JWTRefreshTokenDuration: 24 * time.Hour,
		PhoneTokenDuration:      10 * time.Minute,
		OperatorUsername:        "operator",
		OperatorPassword:        "operator-password",
		BcryptCost:              4,
		RateLimitRequests:       1000,
		RateLimitDuration:       time.Minute,
		LoginMaxFailures:        5,
		LoginFailureWindow:      15 * time.Minute,
		LoginBlockDuration:      time.Hour,
		AllowedOrigins:          []string{"http://localhost:3000"},
		AllowedMethods:          []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:          []string{"Content-Type", "Authorization"},
		SMSVerificationEnabled:  true,
		SMSProvider:             "log",
		CodeCooldown:            30 * time.Second,
		CodeTTL:                 5 * time.Minute,
		SMSDailyLimit:           20,
		UserRegistrationLimit:   30,
		KnowledgeBasePath:       "testdata/knowledge_base.txt",
	}
}

func newTestServer(t *testing.T, mutate ...func(*config.Config)) *testServer {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(cfg)
	}

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, models.Migrate(db))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	sms := &fakeSMS{}
	auth := services.NewAuthService(db, rdb, cfg)
	operators := services.NewOperatorService(db, cfg)
	require.NoError(t, operators.EnsureDefault(context.Background()))

	router := NewRouter(Deps{
		Config:       cfg,
		DB:           db,
		Redis:        rdb,
		Verification: services.NewVerificationService(db, cfg, sms),
		Auth:         auth,
		Users:        services.NewUserService(db, cfg),
		Meetings:     services.NewMeetingService(db),
		Operators:    operators,
		QR:           services.NewQRService(db, cfg),
		Chat:         services.NewChatService(fakeGenerator{reply: "매주 토요일에 모여요 ♟️"}, nil),
		Knowledge:    services.NewKnowledgeService(db, nil),
		Audit:        services.NewAuditService(db),
		Apple:        fakeApple{},
		Kakao: fakeKakao{identity: &services.SocialIdentity{
			Provider: models.SocialProviderKakao,
			SocialID: "kakao-123",
			Name:     "김철수",
		}},
	})

	return &testServer{t: t, router: router, db: db, redis: mr, sms: sms, cfg: cfg}
}

func (s *testServer) do(method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

// latestCode reads the stored verification code for phone.
func (s *testServer) latestCode(phone string) string {
	s.t.Helper()
	var vc models.VerificationCode
	require.NoError(s.t, s.db.Where("phone_number = ?", phone).Order("id DESC").First(&vc).Error)
	return vc.Code
}

func (s *testServer) createMeeting(capacity int) uint {
	s.t.Helper()
	m := models.Meeting{
		Title:    "Saturday Blitz",
		DateTime: time.Now().Add(48 * time.Hour),
		Location: "Gangnam",
		Capacity: capacity,
	}
	require.NoError(s.t, s.db.Create(&m).Error)
	return m.ID
}

func (s *testServer) registerUser(name, phone string) uint {
	s.t.Helper()
	w := s.do(http.MethodPost, "/api/v1/register", map[string]interface{}{
		"name":             name,
		"phone_number":     phone,
		"gender":           "MALE",
		"chess_experience": "KNOW_RULES_ONLY",
	}, "")
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	return uint(decode(s.t, w)["id"].(float64))
}

// login runs the SMS flow and returns an access token.
func (s *testServer) login(phone string) string {
	s.t.Helper()
	w := s.do(http.MethodPost, "/api/v1/sms/request", map[string]string{"phone_number": phone}, "")
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodPost, "/api/v1/sms/verify", map[string]string{
		"phone_number": phone,
		"code":         s.latestCode(services.NormalizePhoneNumber(phone)),
	}, "")
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())
	phoneToken := decode(s.t, w)["phone_token"].(string)

	w = s.do(http.MethodPost, "/api/v1/auth/login", map[string]string{
		"phone_number": phone,
		"phone_token":  phoneToken,
	}, "")
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())
	return decode(s.t, w)["access_token"].(string)
}

func (s *testServer) operatorToken() string {
	s.t.Helper()
	w := s.do(http.MethodPost, "/api/v1/operator/login", map[string]string{
		"username": s.cfg.OperatorUsername,
		"password": s.cfg.OperatorPassword,
	}, "")
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())
	return decode(s.t, w)["access_token"].(string)
}
