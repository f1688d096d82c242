package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	GenderMale   = "MALE"
	GenderFemale = "FEMALE"
	GenderOther  = "OTHER"
)

const (
	ExperienceNoButWantToLearn = "NO_BUT_WANT_TO_LEARN"
	ExperienceKnowRulesOnly    = "KNOW_RULES_ONLY"
	ExperienceOccasionallyPlay = "OCCASIONALLY_PLAY"
	ExperiencePlayWell         = "PLAY_WELL"
)

const (
	RatingIDontKnow        = "I_DONT_KNOW"
	RatingUnder1000        = "UNDER_1000"
	RatingBetween1000_1500 = "BETWEEN_1000_1500"
	RatingBetween1500_2000 = "BETWEEN_1500_2000"
	RatingOver2000         = "OVER_2000"
)

const (
	SocialProviderApple = "apple"
	SocialProviderKakao = "kakao"
)

// User is identified by phone number or by the (social_provider, social_id)
// pair. Both columns are nullable so social-only accounts can exist.
type User struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Name            string    `gorm:"not null" json:"name"`
	PhoneNumber     *string   `gorm:"uniqueIndex" json:"phone_number"`
	Email           *string   `gorm:"uniqueIndex" json:"email"`
	Gender          string    `gorm:"not null;default:''" json:"gender"`
	BirthYear       *int      `json:"birth_year"`
	ChessExperience string    `gorm:"not null;default:''" json:"chess_experience"`
	ChessRating     *string   `json:"chess_rating"`
	TotalVisits     int       `gorm:"not null;default:1" json:"total_visits"`
	SocialProvider  *string   `gorm:"uniqueIndex:idx_users_social" json:"social_provider"`
	SocialID        *string   `gorm:"uniqueIndex:idx_users_social" json:"social_id"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	// Relations
	Meetings []UserMeeting `gorm:"foreignKey:UserID" json:"attended_meetings"`
}

// RecordVisit bumps the visit counter for a returning user.
func (u *User) RecordVisit() {
	u.TotalVisits++
}

type RefreshToken struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key"`
	UserID    uint      `gorm:"not null;index"`
	Token     string    `gorm:"uniqueIndex;not null"`
	ExpiresAt time.Time `gorm:"not null;index"`
	CreatedAt time.Time
}

func (r *RefreshToken) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
