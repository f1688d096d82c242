package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/seoulchess/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVerificationService(t *testing.T) (*VerificationService, *fakeClock, *fakeSMS) {
	t.Helper()
	clock := newFakeClock()
	sms := &fakeSMS{}
	svc := NewVerificationService(setupTestDB(t), testConfig(), sms)
	svc.now = clock.Now

	codes := 0
	svc.newCode = func() (string, error) {
		codes++
		return fmt.Sprintf("%06d", codes), nil
	}
	return svc, clock, sms
}

func TestRequestCode_StoresAndSends(t *testing.T) {
	svc, clock, sms := newTestVerificationService(t)
	ctx := context.Background()

	require.NoError(t, svc.RequestCode(ctx, "01012345678"))

	var rec models.VerificationCode
	require.NoError(t, svc.db.Where("phone_number = ?", "+821012345678").First(&rec).Error)
	assert.Equal(t, "000001", rec.Code)
	assert.True(t, rec.ExpiresAt.Equal(clock.Now().Add(5*time.Minute)))

	require.Equal(t, 1, sms.count())
	assert.Equal(t, "+821012345678", sms.sent[0].To)
	assert.Contains(t, sms.sent[0].Body, "000001")
}

func TestRequestCode_Cooldown(t *testing.T) {
	tests := []struct {
		name    string
		wait    time.Duration
		wantErr bool
		retry   int
	}{
		{"immediately", 0, true, 30},
		{"after 10s", 10 * time.Second, true, 20},
		{"after 29.5s", 29500 * time.Millisecond, true, 1},
		{"after 30s", 30 * time.Second, false, 0},
		{"after 31s", 31 * time.Second, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, clock, _ := newTestVerificationService(t)
			ctx := context.Background()
			require.NoError(t, svc.RequestCode(ctx, "+821012345678"))

			clock.Advance(tt.wait)
			err := svc.RequestCode(ctx, "+821012345678")
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}

			require.ErrorIs(t, err, ErrCooldown)
			var svcErr *Error
			require.True(t, errors.As(err, &svcErr))
			assert.Equal(t, KindRateLimited, svcErr.Kind)
			assert.Equal(t, tt.retry, svcErr.RetryAfter)
			assert.Greater(t, svcErr.RetryAfter, 0)
			assert.LessOrEqual(t, svcErr.RetryAfter, 30)
		})
	}
}

func TestRequestCode_AnyRecentRowBlocks(t *testing.T) {
	svc, clock, _ := newTestVerificationService(t)
	now := clock.Now()

	require.NoError(t, svc.db.Create(&[]models.VerificationCode{
		{PhoneNumber: "+821012345678", Code: "111111", CreatedAt: now.Add(-2 * time.Minute), ExpiresAt: now.Add(3 * time.Minute)},
		{PhoneNumber: "+821012345678", Code: "222222", CreatedAt: now.Add(-5 * time.Second), ExpiresAt: now.Add(5 * time.Minute)},
	}).Error)

	err := svc.RequestCode(context.Background(), "+821012345678")
	require.ErrorIs(t, err, ErrCooldown)

	var count int64
	svc.db.Model(&models.VerificationCode{}).Count(&count)
	assert.Equal(t, int64(2), count, "blocked request must not touch existing rows")
}

func TestRequestCode_ReplacesAllPriorRows(t *testing.T) {
	svc, clock, _ := newTestVerificationService(t)
	now := clock.Now()

	require.NoError(t, svc.db.Create(&[]models.VerificationCode{
		{PhoneNumber: "+821012345678", Code: "111111", CreatedAt: now.Add(-2 * time.Minute), ExpiresAt: now.Add(3 * time.Minute)},
		{PhoneNumber: "+821012345678", Code: "222222", CreatedAt: now.Add(-time.Minute), ExpiresAt: now.Add(4 * time.Minute)},
		{PhoneNumber: "+821099999999", Code: "333333", CreatedAt: now.Add(-time.Minute), ExpiresAt: now.Add(4 * time.Minute)},
	}).Error)

	require.NoError(t, svc.RequestCode(context.Background(), "+821012345678"))

	var codes []models.VerificationCode
	require.NoError(t, svc.db.Where("phone_number = ?", "+821012345678").Find(&codes).Error)
	require.Len(t, codes, 1)
	assert.Equal(t, "000001", codes[0].Code)

	var other int64
	svc.db.Model(&models.VerificationCode{}).Where("phone_number = ?", "+821099999999").Count(&other)
	assert.Equal(t, int64(1), other)
}

func TestRequestCode_SMSFailureIsNotSurfaced(t *testing.T) {
	svc, _, sms := newTestVerificationService(t)
	sms.err = errors.New("provider down")

	require.NoError(t, svc.RequestCode(context.Background(), "+821012345678"))

	var count int64
	svc.db.Model(&models.VerificationCode{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestRequestCode_EmptyPhone(t *testing.T) {
	svc, _, sms := newTestVerificationService(t)
	err := svc.RequestCode(context.Background(), "   ")

	var svcErr *Error
	require.True(t, errors.As(err, &svcErr))
	assert.Equal(t, KindInvalid, svcErr.Kind)
	assert.Zero(t, sms.count())
}

func TestRequestCode_SeparatedPhoneIsStoredNormalized(t *testing.T) {
	svc, _, sms := newTestVerificationService(t)
	ctx := context.Background()

	require.NoError(t, svc.RequestCode(ctx, "010-2222-3333"))

	var rec models.VerificationCode
	require.NoError(t, svc.db.First(&rec).Error)
	assert.Equal(t, "+821022223333", rec.PhoneNumber)
	assert.Equal(t, 1, sms.count())

	err := svc.RequestCode(ctx, "010 2222 3333")
	assert.ErrorIs(t, err, ErrCooldown)
}

func TestRequestCode_MalformedPhone(t *testing.T) {
	svc, _, sms := newTestVerificationService(t)
	err := svc.RequestCode(context.Background(), "010-abcd")

	var svcErr *Error
	require.True(t, errors.As(err, &svcErr))
	assert.Equal(t, KindInvalid, svcErr.Kind)
	assert.Zero(t, sms.count())
}

func TestVerifyCode_SingleUse(t *testing.T) {
	svc, _, _ := newTestVerificationService(t)
	ctx := context.Background()
	require.NoError(t, svc.RequestCode(ctx, "+821012345678"))

	require.NoError(t, svc.VerifyCode(ctx, "+821012345678", "000001"))
	assert.ErrorIs(t, svc.VerifyCode(ctx, "+821012345678", "000001"), ErrCodeInvalid)
}

func TestVerifyCode_WrongCode(t *testing.T) {
	svc, _, _ := newTestVerificationService(t)
	ctx := context.Background()
	require.NoError(t, svc.RequestCode(ctx, "+821012345678"))

	assert.ErrorIs(t, svc.VerifyCode(ctx, "+821012345678", "999999"), ErrCodeInvalid)
	assert.ErrorIs(t, svc.VerifyCode(ctx, "+821099999999", "000001"), ErrCodeInvalid)
	// the right code still works after failed attempts
	assert.NoError(t, svc.VerifyCode(ctx, "+821012345678", "000001"))
}

func TestVerifyCode_MatchesNormalizedNumber(t *testing.T) {
	svc, _, _ := newTestVerificationService(t)
	ctx := context.Background()
	require.NoError(t, svc.RequestCode(ctx, "01012345678"))

	assert.NoError(t, svc.VerifyCode(ctx, "+821012345678", "000001"))
}

func TestVerifyCode_Expired(t *testing.T) {
	svc, clock, _ := newTestVerificationService(t)
	ctx := context.Background()
	require.NoError(t, svc.RequestCode(ctx, "+821012345678"))

	clock.Advance(5*time.Minute + time.Second)
	assert.ErrorIs(t, svc.VerifyCode(ctx, "+821012345678", "000001"), ErrCodeExpired)

	var count int64
	svc.db.Model(&models.VerificationCode{}).Count(&count)
	assert.Zero(t, count, "expired code must be deleted")

	assert.ErrorIs(t, svc.VerifyCode(ctx, "+821012345678", "000001"), ErrCodeInvalid)
}

func TestVerifyCode_ExactlyAtExpiryStillValid(t *testing.T) {
	svc, clock, _ := newTestVerificationService(t)
	ctx := context.Background()
	require.NoError(t, svc.RequestCode(ctx, "+821012345678"))

	clock.Advance(5 * time.Minute)
	assert.NoError(t, svc.VerifyCode(ctx, "+821012345678", "000001"))
}

func TestScenario_RequestWaitRequestInvalidatesFirst(t *testing.T) {
	svc, clock, sms := newTestVerificationService(t)
	ctx := context.Background()

	require.NoError(t, svc.RequestCode(ctx, "+821012345678"))
	clock.Advance(31 * time.Second)
	require.NoError(t, svc.RequestCode(ctx, "+821012345678"))
	assert.Equal(t, 2, sms.count())

	assert.ErrorIs(t, svc.VerifyCode(ctx, "+821012345678", "000001"), ErrCodeInvalid)
	assert.NoError(t, svc.VerifyCode(ctx, "+821012345678", "000002"))
}

func TestPurgeExpired(t *testing.T) {
	svc, clock, _ := newTestVerificationService(t)
	now := clock.Now()
	require.NoError(t, svc.db.Create(&[]models.VerificationCode{
		{PhoneNumber: "+821011111111", Code: "111111", CreatedAt: now.Add(-10 * time.Minute), ExpiresAt: now.Add(-5 * time.Minute)},
		{PhoneNumber: "+821022222222", Code: "222222", CreatedAt: now, ExpiresAt: now.Add(5 * time.Minute)},
	}).Error)

	n, err := svc.PurgeExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestGenerateCode(t *testing.T) {
	for i := 0; i < 100; i++ {
		code, err := generateCode()
		require.NoError(t, err)
		assert.Len(t, code, 6)
	}
}

func TestRequestCode_StoreFailureRollsBack(t *testing.T) {
	db, mock := setupMockDB(t)
	sms := &fakeSMS{}
	svc := NewVerificationService(db, testConfig(), sms)

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := svc.RequestCode(context.Background(), "+821012345678")

	var svcErr *Error
	require.True(t, errors.As(err, &svcErr))
	assert.Equal(t, KindInternal, svcErr.Kind)
	assert.Zero(t, sms.count())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifyCode_TakesAdvisoryLockOnPostgres(t *testing.T) {
	db, mock := setupMockDB(t)
	svc := NewVerificationService(db, testConfig(), &fakeSMS{})

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").
		WithArgs("+821012345678").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT \* FROM "verification_codes"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "phone_number", "code", "created_at", "expires_at"}))
	mock.ExpectRollback()

	assert.ErrorIs(t, svc.VerifyCode(context.Background(), "+821012345678", "123456"), ErrCodeInvalid)
	assert.NoError(t, mock.ExpectationsWereMet())
}
