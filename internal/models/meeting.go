package models

import (
	"time"

	"gorm.io/gorm"
)

// Meeting capacity is not enforced by the row itself; it bounds the number
// of registrations in active states.
type Meeting struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Title     string    `gorm:"not null" json:"title"`
	DateTime  time.Time `gorm:"not null" json:"date_time"`
	Location  string    `gorm:"not null" json:"location"`
	Capacity  int       `gorm:"not null" json:"capacity"`
	CreatedAt time.Time `json:"created_at"`

	// Relations
	Participants []UserMeeting `gorm:"foreignKey:MeetingID" json:"participants"`
}

// CountInStatus returns the number of registrations for the meeting whose
// status is one of statuses.
func CountInStatus(db *gorm.DB, meetingID uint, statuses ...string) (int64, error) {
	var count int64
	err := db.Model(&UserMeeting{}).
		Where("meeting_id = ? AND status IN ?", meetingID, statuses).
		Count(&count).Error
	return count, err
}
