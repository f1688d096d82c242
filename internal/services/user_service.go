package services

import (
	"context"
	"errors"
	"strings"

	"github.com/seoulchess/backend/internal/config"
	"github.com/seoulchess/backend/internal/models"
	"github.com/seoulchess/backend/pkg/validation"
	"gorm.io/gorm"
)

// registrationLockKey guards the registration ceiling count.
const registrationLockKey = "user_registration"

type UserService struct {
	db    *gorm.DB
	limit int
}

func NewUserService(db *gorm.DB, cfg *config.Config) *UserService {
	return &UserService{db: db, limit: cfg.UserRegistrationLimit}
}

type RegisterUserInput struct {
	Name            string
	PhoneNumber     string
	Email           *string
	Gender          string
	BirthYear       *int
	ChessExperience string
	ChessRating     *string
}

// ProfileUpdate carries the fields a user may change; nil leaves a field as is.
type ProfileUpdate struct {
	Name            *string
	Email           *string
	Gender          *string
	BirthYear       *int
	ChessExperience *string
	ChessRating     *string
}

// Register creates the user for a phone number, or refreshes an existing
// user's fields and counts the visit. created reports which happened.
func (s *UserService) Register(ctx context.Context, in RegisterUserInput) (user *models.User, created bool, err error) {
	in.PhoneNumber = NormalizePhoneNumber(in.PhoneNumber)
	in.Name = validation.SanitizeString(in.Name)
	if err := validateRegistration(in); err != nil {
		return nil, false, err
	}

	var out models.User
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if s.limit > 0 {
			if err := advisoryLock(tx, registrationLockKey); err != nil {
				return err
			}
		}

		var existing models.User
		err := tx.Where("phone_number = ?", in.PhoneNumber).First(&existing).Error
		switch {
		case err == nil:
			err := tx.Model(&existing).Updates(map[string]interface{}{
				"name":             in.Name,
				"email":            nullable(in.Email),
				"gender":           in.Gender,
				"birth_year":       nullable(in.BirthYear),
				"chess_experience": in.ChessExperience,
				"chess_rating":     nullable(in.ChessRating),
				"total_visits":     gorm.Expr("total_visits + 1"),
			}).Error
			if err != nil {
				return err
			}
			return tx.First(&out, existing.ID).Error

		case errors.Is(err, gorm.ErrRecordNotFound):
			if s.limit > 0 {
				var count int64
				if err := tx.Model(&models.User{}).Count(&count).Error; err != nil {
					return err
				}
				if count >= int64(s.limit) {
					return closedError(s.limit)
				}
			}

			phone := in.PhoneNumber
			out = models.User{
				Name:            in.Name,
				PhoneNumber:     &phone,
				Email:           in.Email,
				Gender:          in.Gender,
				BirthYear:       in.BirthYear,
				ChessExperience: in.ChessExperience,
				ChessRating:     in.ChessRating,
				TotalVisits:     1,
			}
			created = true
			return tx.Create(&out).Error

		default:
			return err
		}
	})
	if err != nil {
		if isDuplicateKey(err) {
			return nil, false, ErrDuplicateIdentity
		}
		return nil, false, asServiceError(err)
	}
	return &out, created, nil
}

// GetByPhone returns the user with their registrations and meetings.
func (s *UserService) GetByPhone(ctx context.Context, phone string) (*models.User, error) {
	phone = NormalizePhoneNumber(phone)
	if phone == "" {
		return nil, invalidError("phone_number is required")
	}

	var user models.User
	err := s.withMeetings(ctx).Where("phone_number = ?", phone).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, internalError(err)
	}
	return &user, nil
}

// GetByID returns the user with their registrations and meetings.
func (s *UserService) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	err := s.withMeetings(ctx).First(&user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, internalError(err)
	}
	return &user, nil
}

// UpdateProfile applies the non-nil fields of upd.
func (s *UserService) UpdateProfile(ctx context.Context, id uint, upd ProfileUpdate) (*models.User, error) {
	updates := make(map[string]interface{})
	if upd.Name != nil {
		name := validation.SanitizeString(*upd.Name)
		if name == "" {
			return nil, invalidError("name must not be empty")
		}
		updates["name"] = name
	}
	if upd.Email != nil {
		if *upd.Email == "" {
			updates["email"] = nil
		} else if !validation.ValidateEmail(*upd.Email) {
			return nil, invalidError("invalid email")
		} else {
			updates["email"] = strings.TrimSpace(*upd.Email)
		}
	}
	if upd.Gender != nil {
		if !validation.ValidateGender(*upd.Gender) {
			return nil, invalidError("invalid gender")
		}
		updates["gender"] = *upd.Gender
	}
	if upd.BirthYear != nil {
		if !validation.ValidateBirthYear(*upd.BirthYear) {
			return nil, invalidError("invalid birth_year")
		}
		updates["birth_year"] = *upd.BirthYear
	}
	if upd.ChessExperience != nil {
		if !validation.ValidateChessExperience(*upd.ChessExperience) {
			return nil, invalidError("invalid chess_experience")
		}
		updates["chess_experience"] = *upd.ChessExperience
	}
	if upd.ChessRating != nil {
		if !validation.ValidateChessRating(*upd.ChessRating) {
			return nil, invalidError("invalid chess_rating")
		}
		updates["chess_rating"] = *upd.ChessRating
	}

	if len(updates) == 0 {
		return nil, invalidError("no valid fields to update")
	}

	result := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		if isDuplicateKey(result.Error) {
			return nil, ErrDuplicateIdentity
		}
		return nil, internalError(result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrUserNotFound
	}
	return s.GetByID(ctx, id)
}

// List pages through users, most recent first.
func (s *UserService) List(ctx context.Context, page, pageSize int) ([]models.User, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	var total int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Count(&total).Error; err != nil {
		return nil, 0, internalError(err)
	}

	var users []models.User
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&users).Error
	if err != nil {
		return nil, 0, internalError(err)
	}
	return users, total, nil
}

func (s *UserService) withMeetings(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Preload("Meetings").Preload("Meetings.Meeting")
}

func validateRegistration(in RegisterUserInput) error {
	switch {
	case in.Name == "":
		return invalidError("name is required")
	case !validation.ValidateE164(in.PhoneNumber):
		return invalidError("invalid phone_number")
	case in.Email != nil && !validation.ValidateEmail(*in.Email):
		return invalidError("invalid email")
	case !validation.ValidateGender(in.Gender):
		return invalidError("invalid gender")
	case in.BirthYear != nil && !validation.ValidateBirthYear(*in.BirthYear):
		return invalidError("invalid birth_year")
	case !validation.ValidateChessExperience(in.ChessExperience):
		return invalidError("invalid chess_experience")
	case in.ChessRating != nil && !validation.ValidateChessRating(*in.ChessRating):
		return invalidError("invalid chess_rating")
	}
	return nil
}

// nullable turns a nil pointer into SQL NULL for map-based updates.
func nullable[T any](p *T) interface{} {
	if p == nil {
		return nil
	}
	return *p
}
