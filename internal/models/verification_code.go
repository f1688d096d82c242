package models

import "time"

// VerificationCode is a one-time SMS code. Rows are inserted and deleted,
// never updated.
type VerificationCode struct {
	ID          uint      `gorm:"primaryKey"`
	PhoneNumber string    `gorm:"not null;index"`
	Code        string    `gorm:"not null;size:6"`
	CreatedAt   time.Time `gorm:"not null"`
	ExpiresAt   time.Time `gorm:"not null;index"`
}

// Age returns how long ago the code was issued.
func (v *VerificationCode) Age(now time.Time) time.Duration {
	return now.Sub(v.CreatedAt)
}

// IsExpired reports whether now is past the expiry instant.
func (v *VerificationCode) IsExpired(now time.Time) bool {
	return now.After(v.ExpiresAt)
}
