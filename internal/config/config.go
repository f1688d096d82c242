package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	// Server
	Port        string
	Env         string
	LogLevel    string
	FrontendURL string

	// Database
	DBDriver   string // "sqlite" | "postgres"
	DBPath     string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// JWT
	JWTSecret               string
	JWTAccessTokenDuration  time.Duration
	JWTRefreshTokenDuration time.Duration
	PhoneTokenDuration      time.Duration

	// Operator
	OperatorUsername string
	OperatorPassword string
	BcryptCost       int

	// Security
	RateLimitRequests  int
	RateLimitDuration  time.Duration
	LoginMaxFailures   int
	LoginFailureWindow time.Duration
	LoginBlockDuration time.Duration

	// CORS
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string

	// SMS Verification
	SMSVerificationEnabled bool
	SMSProvider            string // "log" | "twilio" | "seven"
	SMSFrom                string
	TwilioAccountSID       string
	TwilioAuthToken        string
	SevenAPIKey            string
	CodeCooldown           time.Duration
	CodeTTL                time.Duration
	SMSDailyLimit          int

	// Registration
	UserRegistrationLimit int

	// Social login
	AppleClientID string
	AppleKeysURL  string
	AppleIssuer   string
	KakaoUserURL  string

	// Chatbot
	GeminiAPIKey        string
	GeminiModel         string
	GeminiEmbedModel    string
	KnowledgeBasePath   string
	KnowledgeLoadOnBoot bool

	// Object storage for knowledge base sources and roster archives
	S3Enabled         bool
	S3Endpoint        string
	S3Region          string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3UsePathStyle    bool
	S3Bucket          string
	S3PresignTTL      time.Duration

	// Maintenance
	CleanupSchedule string

	// Roster PDF, a UTF-8 TTF for Hangul names
	RosterFontPath string
}

// Load assembles the configuration from defaults, an optional config file
// and the environment. An empty path skips the file lookup.
func Load(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file, %w", err)
		}
	}

	cfg := &Config{
		Port:        v.GetString("port"),
		Env:         v.GetString("env"),
		LogLevel:    v.GetString("log_level"),
		FrontendURL: v.GetString("frontend_url"),

		DBDriver:   strings.ToLower(v.GetString("db_driver")),
		DBPath:     v.GetString("db_path"),
		DBHost:     v.GetString("db_host"),
		DBPort:     v.GetString("db_port"),
		DBUser:     v.GetString("db_user"),
		DBPassword: v.GetString("db_password"),
		DBName:     v.GetString("db_name"),
		DBSSLMode:  v.GetString("db_ssl_mode"),

		RedisHost:     v.GetString("redis_host"),
		RedisPort:     v.GetString("redis_port"),
		RedisPassword: v.GetString("redis_password"),
		RedisDB:       v.GetInt("redis_db"),

		JWTSecret:               v.GetString("jwt_secret_key"),
		JWTAccessTokenDuration:  v.GetDuration("jwt_access_token_duration"),
		JWTRefreshTokenDuration: v.GetDuration("jwt_refresh_token_duration"),
		PhoneTokenDuration:      v.GetDuration("phone_token_duration"),

		OperatorUsername: v.GetString("operator_username"),
		OperatorPassword: v.GetString("operator_password"),
		BcryptCost:       v.GetInt("bcrypt_cost"),

		RateLimitRequests:  v.GetInt("rate_limit_requests"),
		RateLimitDuration:  v.GetDuration("rate_limit_duration"),
		LoginMaxFailures:   v.GetInt("login_max_failures"),
		LoginFailureWindow: v.GetDuration("login_failure_window"),
		LoginBlockDuration: v.GetDuration("login_block_duration"),

		AllowedOrigins: splitList(v.GetString("allowed_origins")),
		AllowedMethods: splitList(v.GetString("allowed_methods")),
		AllowedHeaders: splitList(v.GetString("allowed_headers")),

		SMSVerificationEnabled: v.GetBool("sms_verification_enabled"),
		SMSProvider:            strings.ToLower(v.GetString("sms_provider")),
		SMSFrom:                v.GetString("sms_from"),
		TwilioAccountSID:       v.GetString("twilio_account_sid"),
		TwilioAuthToken:        v.GetString("twilio_auth_token"),
		SevenAPIKey:            v.GetString("seven_api_key"),
		CodeCooldown:           v.GetDuration("code_cooldown"),
		CodeTTL:                v.GetDuration("code_ttl"),
		SMSDailyLimit:          v.GetInt("sms_daily_limit"),

		UserRegistrationLimit: v.GetInt("user_registration_limit"),

		AppleClientID: v.GetString("apple_client_id"),
		AppleKeysURL:  v.GetString("apple_keys_url"),
		AppleIssuer:   v.GetString("apple_issuer"),
		KakaoUserURL:  v.GetString("kakao_user_url"),

		GeminiAPIKey:        v.GetString("gemini_api_key"),
		GeminiModel:         v.GetString("gemini_model"),
		GeminiEmbedModel:    v.GetString("gemini_embed_model"),
		KnowledgeBasePath:   v.GetString("knowledge_base_path"),
		KnowledgeLoadOnBoot: v.GetBool("knowledge_load_on_boot"),

		S3Enabled:         v.GetBool("s3_enabled"),
		S3Endpoint:        v.GetString("s3_endpoint"),
		S3Region:          v.GetString("s3_region"),
		S3AccessKeyID:     v.GetString("s3_access_key_id"),
		S3SecretAccessKey: v.GetString("s3_secret_access_key"),
		S3UsePathStyle:    v.GetBool("s3_use_path_style"),
		S3Bucket:          v.GetString("s3_bucket"),
		S3PresignTTL:      v.GetDuration("s3_presign_ttl"),

		CleanupSchedule: v.GetString("cleanup_schedule"),

		RosterFontPath: v.GetString("roster_font_path"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("frontend_url", "http://localhost:3000")

	v.SetDefault("db_driver", "sqlite")
	v.SetDefault("db_path", "./community_control.db")
	v.SetDefault("db_host", "localhost")
	v.SetDefault("db_port", "5432")
	v.SetDefault("db_user", "community")
	v.SetDefault("db_password", "password")
	v.SetDefault("db_name", "community_db")
	v.SetDefault("db_ssl_mode", "disable")

	v.SetDefault("redis_host", "localhost")
	v.SetDefault("redis_port", "6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)

	v.SetDefault("jwt_secret_key", "your-secret-key-change-this-in-production")
	v.SetDefault("jwt_access_token_duration", "168h")
	v.SetDefault("jwt_refresh_token_duration", "720h")
	v.SetDefault("phone_token_duration", "10m")

	v.SetDefault("operator_username", "operator")
	v.SetDefault("operator_password", "")
	v.SetDefault("bcrypt_cost", 12)

	v.SetDefault("rate_limit_requests", 100)
	v.SetDefault("rate_limit_duration", "1m")
	v.SetDefault("login_max_failures", 5)
	v.SetDefault("login_failure_window", "15m")
	v.SetDefault("login_block_duration", "1h")

	v.SetDefault("allowed_origins", "http://localhost:3000")
	v.SetDefault("allowed_methods", "GET,POST,PUT,DELETE,OPTIONS")
	v.SetDefault("allowed_headers", "Content-Type,Authorization")

	v.SetDefault("sms_verification_enabled", true)
	v.SetDefault("sms_provider", "log")
	v.SetDefault("sms_from", "")
	v.SetDefault("code_cooldown", "30s")
	v.SetDefault("code_ttl", "5m")
	v.SetDefault("sms_daily_limit", 20)

	v.SetDefault("user_registration_limit", 30)

	v.SetDefault("apple_client_id", "com.yourcompany.communitycontrol")
	v.SetDefault("apple_keys_url", "https://appleid.apple.com/auth/keys")
	v.SetDefault("apple_issuer", "https://appleid.apple.com")
	v.SetDefault("kakao_user_url", "https://kapi.kakao.com/v2/user/me")

	v.SetDefault("gemini_model", "gemini-2.0-flash")
	v.SetDefault("gemini_embed_model", "gemini-embedding-001")
	v.SetDefault("knowledge_base_path", "knowledge_base.txt")
	v.SetDefault("knowledge_load_on_boot", true)

	v.SetDefault("s3_enabled", false)
	v.SetDefault("s3_endpoint", "")
	v.SetDefault("s3_region", "ap-northeast-2")
	v.SetDefault("s3_use_path_style", false)
	v.SetDefault("s3_bucket", "")
	v.SetDefault("s3_presign_ttl", "15m")

	v.SetDefault("cleanup_schedule", "@every 5m")
	v.SetDefault("roster_font_path", "")
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("invalid db_driver %q", c.DBDriver)
	}

	switch c.SMSProvider {
	case "log", "twilio", "seven":
	default:
		return fmt.Errorf("invalid sms_provider %q", c.SMSProvider)
	}

	if c.JWTSecret == "" {
		return errors.New("jwt_secret_key can't be empty")
	}
	if c.CodeCooldown <= 0 || c.CodeTTL <= 0 {
		return errors.New("code_cooldown and code_ttl must be positive")
	}
	if c.S3Enabled && c.S3Region == "" {
		return errors.New("s3_region is required when s3_enabled is set")
	}
	if c.UserRegistrationLimit < 0 {
		return errors.New("user_registration_limit must not be negative")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
