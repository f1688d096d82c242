package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/seoulchess/backend/internal/config"
	"github.com/seoulchess/backend/internal/metrics"
	"github.com/seoulchess/backend/internal/models"
	"github.com/seoulchess/backend/pkg/validation"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// VerificationService issues and checks one-time SMS codes. Rows are keyed
// by the normalized phone number.
type VerificationService struct {
	db       *gorm.DB
	sms      SMSSender
	cooldown time.Duration
	ttl      time.Duration

	now     func() time.Time
	newCode func() (string, error)
}

func NewVerificationService(db *gorm.DB, cfg *config.Config, sms SMSSender) *VerificationService {
	return &VerificationService{
		db:       db,
		sms:      sms,
		cooldown: cfg.CodeCooldown,
		ttl:      cfg.CodeTTL,
		now:      func() time.Time { return time.Now().UTC() },
		newCode:  generateCode,
	}
}

// RequestCode stores a fresh code for phone and texts it. A code issued
// less than the cooldown ago blocks the request with a cooldown error.
func (s *VerificationService) RequestCode(ctx context.Context, phone string) error {
	phone = NormalizePhoneNumber(phone)
	if phone == "" {
		return invalidError("phone_number is required")
	}
	if !validation.ValidateE164(phone) {
		return invalidError("invalid phone_number")
	}

	code, err := s.newCode()
	if err != nil {
		return internalError(err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := advisoryLock(tx, phone); err != nil {
			return err
		}

		var existing []models.VerificationCode
		if err := tx.Where("phone_number = ?", phone).Find(&existing).Error; err != nil {
			return err
		}

		now := s.now()
		for _, rec := range existing {
			if age := rec.Age(now); age < s.cooldown {
				return cooldownError(s.remaining(age))
			}
		}

		if len(existing) > 0 {
			if err := tx.Where("phone_number = ?", phone).Delete(&models.VerificationCode{}).Error; err != nil {
				return err
			}
		}

		return tx.Create(&models.VerificationCode{
			PhoneNumber: phone,
			Code:        code,
			CreatedAt:   now,
			ExpiresAt:   now.Add(s.ttl),
		}).Error
	})
	metrics.VerificationCodes.WithLabelValues("request", metrics.Outcome(err)).Inc()
	if err != nil {
		return asServiceError(err)
	}

	// Send only after the code is durable. Delivery failures are not
	// reported to the caller, who can request a new code after the cooldown.
	if err := s.sms.Send(ctx, phone, verificationMessage(code, s.ttl)); err != nil {
		zap.L().Error("Failed to send verification SMS", zap.String("phone", phone), zap.Error(err))
	}
	return nil
}

// VerifyCode consumes a matching code. Expired codes are deleted and
// reported as expired; a consumed code can't be verified twice.
func (s *VerificationService) VerifyCode(ctx context.Context, phone, code string) error {
	phone = NormalizePhoneNumber(phone)

	expired := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := advisoryLock(tx, phone); err != nil {
			return err
		}

		var rec models.VerificationCode
		err := tx.Where("phone_number = ? AND code = ?", phone, code).First(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrCodeInvalid
		}
		if err != nil {
			return err
		}

		expired = rec.IsExpired(s.now())
		return tx.Delete(&rec).Error
	})

	switch {
	case err != nil:
		metrics.VerificationCodes.WithLabelValues("verify", "failure").Inc()
		return asServiceError(err)
	case expired:
		metrics.VerificationCodes.WithLabelValues("verify", "expired").Inc()
		return ErrCodeExpired
	}
	metrics.VerificationCodes.WithLabelValues("verify", "success").Inc()
	return nil
}

// PurgeExpired deletes every code past its expiry.
func (s *VerificationService) PurgeExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at < ?", s.now()).Delete(&models.VerificationCode{})
	return res.RowsAffected, res.Error
}

// remaining is the cooldown left in whole seconds, never less than one.
func (s *VerificationService) remaining(age time.Duration) int {
	if age < 0 {
		age = 0
	}
	secs := int(math.Ceil((s.cooldown - age).Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// lockPhone serializes concurrent transactions for one number on PostgreSQL.
// The lock is released at commit or rollback.
// advisoryLock serializes transactions on key until commit. Only postgres
// needs it; sqlite writers are already serialized.
func advisoryLock(tx *gorm.DB, key string) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	return tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", key).Error
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("failed to generate verification code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func verificationMessage(code string, ttl time.Duration) string {
	return fmt.Sprintf("[체스 모임] 인증번호 %s (%d분 이내 입력)", code, int(ttl.Minutes()))
}
