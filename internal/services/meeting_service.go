package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/seoulchess/backend/internal/metrics"
	"github.com/seoulchess/backend/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type MeetingService struct {
	db  *gorm.DB
	now func() time.Time
}

func NewMeetingService(db *gorm.DB) *MeetingService {
	return &MeetingService{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// RegisterResult is the registration row after a successful Register.
// Created is false when a cancelled registration was reactivated.
type RegisterResult struct {
	Registration models.UserMeeting
	Created      bool
}

type MeetingInput struct {
	Title    string
	DateTime time.Time
	Location string
	Capacity int
}

// MeetingSummary is a meeting with derived registration counts. MyStatus is
// the caller's registration status, empty for anonymous callers or when
// the caller has none.
type MeetingSummary struct {
	models.Meeting
	ConfirmedCount int    `json:"confirmed_count"`
	PendingCount   int    `json:"pending_count"`
	AvailableSpots int    `json:"available_spots"`
	MyStatus       string `json:"my_status,omitempty"`
}

// Register moves the (user, meeting) pair to desired, creating the
// registration or reactivating a cancelled one. CONFIRMED requests are
// checked against confirmed registrations only; PENDING requests against
// confirmed and pending together.
func (s *MeetingService) Register(ctx context.Context, userID, meetingID uint, desired string) (*RegisterResult, error) {
	if !models.IsValidIntent(desired) {
		return nil, invalidError("status must be CONFIRMED or PENDING")
	}

	var result RegisterResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.Select("id").First(&user, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		// Row lock on the meeting serializes registrations for it.
		var meeting models.Meeting
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&meeting, meetingID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMeetingNotFound
			}
			return err
		}

		var existing models.UserMeeting
		err := tx.Where("user_id = ? AND meeting_id = ?", userID, meetingID).First(&existing).Error
		found := err == nil
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if found {
			switch existing.Status {
			case models.StatusConfirmed:
				if desired == models.StatusConfirmed {
					return ErrAlreadyRegistered
				}
				return ErrAlreadyConfirmed
			case models.StatusPending:
				if desired == models.StatusConfirmed {
					return ErrAlreadyRegistered
				}
				return ErrAlreadyPending
			}
		}

		counted := []string{models.StatusConfirmed}
		if desired == models.StatusPending {
			counted = models.ActiveStatuses
		}
		booked, err := models.CountInStatus(tx, meeting.ID, counted...)
		if err != nil {
			return err
		}
		if int(booked) >= meeting.Capacity {
			return fullError(meeting.Capacity)
		}

		now := s.now()
		if found {
			err := tx.Model(&existing).Updates(map[string]interface{}{
				"status":        desired,
				"registered_at": now,
			}).Error
			if err != nil {
				return err
			}
			existing.Status = desired
			existing.RegisteredAt = now
			result = RegisterResult{Registration: existing}
			return nil
		}

		reg := models.UserMeeting{
			UserID:       userID,
			MeetingID:    meetingID,
			Status:       desired,
			RegisteredAt: now,
		}
		if err := tx.Create(&reg).Error; err != nil {
			if isDuplicateKey(err) {
				return ErrAlreadyRegistered
			}
			return err
		}
		result = RegisterResult{Registration: reg, Created: true}
		return nil
	})

	metrics.MeetingRegistrations.WithLabelValues(desired, registrationOutcome(err)).Inc()
	if err != nil {
		return nil, asServiceError(err)
	}
	return &result, nil
}

// Cancel releases the user's slot. The row is kept so a later Register
// reactivates it.
func (s *MeetingService) Cancel(ctx context.Context, userID, meetingID uint) (*models.UserMeeting, error) {
	var reg models.UserMeeting
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND meeting_id = ?", userID, meetingID).
			First(&reg).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRegistrationNotFound
		}
		if err != nil {
			return err
		}
		if reg.Status == models.StatusCancelled {
			return ErrAlreadyCancelled
		}

		if err := tx.Model(&reg).Update("status", models.StatusCancelled).Error; err != nil {
			return err
		}
		reg.Status = models.StatusCancelled
		return nil
	})
	if err != nil {
		return nil, asServiceError(err)
	}
	return &reg, nil
}

// CreateMeeting validates and stores a new meeting.
func (s *MeetingService) CreateMeeting(ctx context.Context, in MeetingInput) (*models.Meeting, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Location = strings.TrimSpace(in.Location)

	switch {
	case in.Title == "":
		return nil, invalidError("title is required")
	case in.Location == "":
		return nil, invalidError("location is required")
	case in.DateTime.IsZero():
		return nil, invalidError("date_time is required")
	case in.Capacity <= 0:
		return nil, invalidError("capacity must be greater than 0")
	}

	meeting := models.Meeting{
		Title:    in.Title,
		DateTime: in.DateTime.UTC(),
		Location: in.Location,
		Capacity: in.Capacity,
	}
	if err := s.db.WithContext(ctx).Create(&meeting).Error; err != nil {
		return nil, internalError(err)
	}
	return &meeting, nil
}

// ListMeetings returns every meeting ordered by start time, with counts.
// A non-zero viewerID fills MyStatus.
func (s *MeetingService) ListMeetings(ctx context.Context, viewerID uint) ([]MeetingSummary, error) {
	db := s.db.WithContext(ctx)

	var meetings []models.Meeting
	if err := db.Preload("Participants").Order("date_time ASC").Find(&meetings).Error; err != nil {
		return nil, internalError(err)
	}

	out := make([]MeetingSummary, 0, len(meetings))
	for _, m := range meetings {
		out = append(out, summarize(m, viewerID))
	}
	return out, nil
}

// GetMeeting returns one meeting with its participants.
func (s *MeetingService) GetMeeting(ctx context.Context, meetingID, viewerID uint) (*MeetingSummary, error) {
	var meeting models.Meeting
	err := s.db.WithContext(ctx).Preload("Participants").First(&meeting, meetingID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMeetingNotFound
	}
	if err != nil {
		return nil, internalError(err)
	}

	summary := summarize(meeting, viewerID)
	return &summary, nil
}

// GetRoster loads a meeting with participant user records, for operators.
func (s *MeetingService) GetRoster(ctx context.Context, meetingID uint) (*models.Meeting, error) {
	var meeting models.Meeting
	err := s.db.WithContext(ctx).
		Preload("Participants", func(db *gorm.DB) *gorm.DB {
			return db.Order("registered_at ASC")
		}).
		Preload("Participants.User").
		First(&meeting, meetingID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMeetingNotFound
	}
	if err != nil {
		return nil, internalError(err)
	}
	return &meeting, nil
}

// UserMeetings lists the user's registrations in every status, newest first.
func (s *MeetingService) UserMeetings(ctx context.Context, userID uint) ([]models.UserMeeting, error) {
	var regs []models.UserMeeting
	err := s.db.WithContext(ctx).
		Preload("Meeting").
		Where("user_id = ?", userID).
		Order("registered_at DESC").
		Find(&regs).Error
	if err != nil {
		return nil, internalError(err)
	}
	return regs, nil
}

// GetRegistration returns the user's registration for a meeting.
func (s *MeetingService) GetRegistration(ctx context.Context, userID, meetingID uint) (*models.UserMeeting, error) {
	var reg models.UserMeeting
	err := s.db.WithContext(ctx).
		Preload("Meeting").
		Preload("User").
		Where("user_id = ? AND meeting_id = ?", userID, meetingID).
		First(&reg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRegistrationNotFound
	}
	if err != nil {
		return nil, internalError(err)
	}
	return &reg, nil
}

func summarize(m models.Meeting, viewerID uint) MeetingSummary {
	summary := MeetingSummary{Meeting: m}
	for _, p := range m.Participants {
		switch p.Status {
		case models.StatusConfirmed:
			summary.ConfirmedCount++
		case models.StatusPending:
			summary.PendingCount++
		}
		if viewerID != 0 && p.UserID == viewerID {
			summary.MyStatus = p.Status
		}
	}
	summary.AvailableSpots = m.Capacity - summary.ConfirmedCount - summary.PendingCount
	if summary.AvailableSpots < 0 {
		summary.AvailableSpots = 0
	}
	return summary
}

func registrationOutcome(err error) string {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return string(svcErr.Kind)
	}
	return metrics.Outcome(err)
}
