package models

import "time"

const (
	StatusConfirmed = "CONFIRMED"
	StatusPending   = "PENDING"
	StatusCancelled = "CANCELLED"
)

// ActiveStatuses hold a capacity slot.
var ActiveStatuses = []string{StatusConfirmed, StatusPending}

// UserMeeting is the registration of one user for one meeting. Rows are
// never deleted; cancellation and reactivation mutate Status in place.
type UserMeeting struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	UserID       uint      `gorm:"not null;uniqueIndex:idx_user_meeting" json:"user_id"`
	MeetingID    uint      `gorm:"not null;uniqueIndex:idx_user_meeting;index" json:"meeting_id"`
	Status       string    `gorm:"not null;default:'CONFIRMED'" json:"status"`
	RegisteredAt time.Time `gorm:"not null" json:"registered_at"`

	// Relations
	User    *User    `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Meeting *Meeting `gorm:"foreignKey:MeetingID" json:"meeting,omitempty"`
}

// IsValidIntent reports whether status can be requested at registration.
func IsValidIntent(status string) bool {
	return status == StatusConfirmed || status == StatusPending
}
