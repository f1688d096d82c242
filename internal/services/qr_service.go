package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/seoulchess/backend/internal/config"
	"github.com/seoulchess/backend/internal/models"
	jwtpkg "github.com/seoulchess/backend/pkg/jwt"
	qrcode "github.com/skip2/go-qrcode"
	"gorm.io/gorm"
)

// checkInGrace keeps a check-in code valid for a day after the meeting starts.
const checkInGrace = 24 * time.Hour

type QRService struct {
	db      *gorm.DB
	cfg     *config.Config
	archive ObjectArchive
	now     func() time.Time
}

func NewQRService(db *gorm.DB, cfg *config.Config) *QRService {
	return &QRService{db: db, cfg: cfg, now: time.Now}
}

// WithArchive enables ArchiveRosterPDF.
func (s *QRService) WithArchive(archive ObjectArchive) *QRService {
	s.archive = archive
	return s
}

// RosterArchive points at a stored roster PDF.
type RosterArchive struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// CheckIn is the result of scanning a registration code.
type CheckIn struct {
	Registration models.UserMeeting `json:"registration"`
	Valid        bool               `json:"valid"`
}

// RegistrationQR renders a PNG QR code that operators scan at the door.
// Only confirmed registrations get one.
func (s *QRService) RegistrationQR(reg *models.UserMeeting) ([]byte, error) {
	if reg.Status != models.StatusConfirmed {
		return nil, &Error{Kind: KindConflict, Code: "not_confirmed", Message: "Only confirmed registrations have a check-in code"}
	}

	token, err := s.checkInToken(reg)
	if err != nil {
		return nil, internalError(err)
	}

	checkInURL := fmt.Sprintf("%s/checkin?token=%s", s.cfg.FrontendURL, token)
	png, err := qrcode.Encode(checkInURL, qrcode.Medium, 512)
	if err != nil {
		return nil, internalError(err)
	}
	return png, nil
}

// checkInToken expires a day after the meeting starts.
func (s *QRService) checkInToken(reg *models.UserMeeting) (string, error) {
	expires := s.now().Add(checkInGrace)
	if reg.Meeting != nil {
		expires = reg.Meeting.DateTime.Add(checkInGrace)
	}
	return jwtpkg.GenerateCheckInToken(reg.UserID, reg.ID, s.cfg.JWTSecret, expires.Sub(s.now()))
}

// VerifyCheckIn resolves a scanned token to its registration. Valid is
// false when the registration is no longer confirmed.
func (s *QRService) VerifyCheckIn(ctx context.Context, token string) (*CheckIn, error) {
	claims, err := jwtpkg.ValidateToken(token, s.cfg.JWTSecret)
	if err != nil || claims.TokenType != jwtpkg.CheckInToken {
		return nil, ErrInvalidToken
	}

	var reg models.UserMeeting
	err = s.db.WithContext(ctx).
		Preload("User").
		Preload("Meeting").
		Where("id = ? AND user_id = ?", claims.RegistrationID, claims.UserID).
		First(&reg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRegistrationNotFound
	}
	if err != nil {
		return nil, internalError(err)
	}
	return &CheckIn{Registration: reg, Valid: reg.Status == models.StatusConfirmed}, nil
}

// MeetingRosterPDF renders an A4 participant list for a meeting loaded with
// participants and their users.
func (s *QRService) MeetingRosterPDF(meeting *models.Meeting) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	family := "Arial"
	if s.cfg.RosterFontPath != "" {
		pdf.AddUTF8Font("roster", "", s.cfg.RosterFontPath)
		family = "roster"
	}

	pdf.AddPage()
	pdf.SetFont(family, "", 18)
	pdf.Cell(0, 10, meeting.Title)
	pdf.Ln(12)
	pdf.SetFont(family, "", 12)
	pdf.MultiCell(0, 6, fmt.Sprintf("%s\n%s\nCapacity: %d",
		meeting.DateTime.Format("2006-01-02 15:04"), meeting.Location, meeting.Capacity), "", "L", false)
	pdf.Ln(6)

	widths := []float64{12, 70, 45, 35}
	for i, h := range []string{"#", "Name", "Phone", "Status"} {
		pdf.CellFormat(widths[i], 8, h, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	n := 0
	for _, p := range meeting.Participants {
		if p.Status == models.StatusCancelled {
			continue
		}
		n++
		name, phone := "", ""
		if p.User != nil {
			name = p.User.Name
			if p.User.PhoneNumber != nil {
				phone = *p.User.PhoneNumber
			}
		}
		row := []string{fmt.Sprint(n), name, phone, p.Status}
		for i, v := range row {
			pdf.CellFormat(widths[i], 8, v, "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}

	if pdf.Err() {
		return nil, internalError(pdf.Error())
	}
	var out bytes.Buffer
	if err := pdf.Output(&out); err != nil {
		return nil, internalError(err)
	}
	return out.Bytes(), nil
}

// ArchiveRosterPDF renders the roster, stores it under
// rosters/meeting-<id>/<timestamp>.pdf and returns a temporary link.
func (s *QRService) ArchiveRosterPDF(ctx context.Context, meeting *models.Meeting) (*RosterArchive, error) {
	if s.archive == nil {
		return nil, ErrStorageUnavailable
	}

	pdf, err := s.MeetingRosterPDF(meeting)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("rosters/meeting-%d/%s.pdf", meeting.ID, s.now().UTC().Format("20060102T150405Z"))
	if err := s.archive.PutObject(ctx, key, pdf, "application/pdf"); err != nil {
		return nil, upstreamError("Failed to archive roster", err)
	}

	link, err := s.archive.PresignGet(ctx, key)
	if err != nil {
		return nil, upstreamError("Failed to sign roster link", err)
	}
	return &RosterArchive{Key: key, URL: link}, nil
}
