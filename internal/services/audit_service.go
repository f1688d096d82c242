package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/seoulchess/backend/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type AuditService struct {
	db  *gorm.DB
	now func() time.Time
}

func NewAuditService(db *gorm.DB) *AuditService {
	return &AuditService{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// AuditEntry describes one operator action.
type AuditEntry struct {
	OperatorID uint
	Action     string
	TargetType string
	TargetID   uint
	Details    map[string]interface{}
	IPAddress  string
	UserAgent  string
}

// AuditStats summarizes the audit log for the dashboard.
type AuditStats struct {
	TotalActions   int64         `json:"total_actions"`
	ActionsByType  []ActionCount `json:"actions_by_type"`
	ActionsLast24h int64         `json:"actions_last_24h"`
}

type ActionCount struct {
	Action string `json:"action"`
	Count  int64  `json:"count"`
}

// LogAction stores entry. Failures are logged and returned; callers treat
// them as non-fatal.
func (s *AuditService) LogAction(ctx context.Context, entry AuditEntry) error {
	details := ""
	if entry.Details != nil {
		if b, err := json.Marshal(entry.Details); err == nil {
			details = string(b)
		}
	}

	log := &models.AuditLog{
		OperatorID: entry.OperatorID,
		Action:     entry.Action,
		TargetType: entry.TargetType,
		TargetID:   entry.TargetID,
		Details:    details,
		IPAddress:  entry.IPAddress,
		UserAgent:  entry.UserAgent,
		CreatedAt:  s.now(),
	}
	if err := s.db.WithContext(ctx).Create(log).Error; err != nil {
		zap.L().Warn("Failed to write audit log", zap.String("action", entry.Action), zap.Error(err))
		return internalError(err)
	}
	return nil
}

// Recent lists audit entries newest first. A zero operatorID or empty
// action disables that filter.
func (s *AuditService) Recent(ctx context.Context, page, limit int, operatorID uint, action string) ([]models.AuditLog, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}

	query := s.db.WithContext(ctx).Model(&models.AuditLog{})
	if operatorID != 0 {
		query = query.Where("operator_id = ?", operatorID)
	}
	if action != "" {
		query = query.Where("action = ?", action)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, internalError(err)
	}

	var logs []models.AuditLog
	err := query.Preload("Operator").
		Order("created_at DESC").Order("id DESC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&logs).Error
	if err != nil {
		return nil, 0, internalError(err)
	}
	return logs, total, nil
}

// ActionCount returns how many times operatorID performed action since.
func (s *AuditService) ActionCount(ctx context.Context, operatorID uint, action string, since time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.AuditLog{}).
		Where("operator_id = ? AND action = ? AND created_at > ?", operatorID, action, since).
		Count(&count).Error
	return count, err
}

func (s *AuditService) Stats(ctx context.Context) (*AuditStats, error) {
	db := s.db.WithContext(ctx)
	stats := &AuditStats{ActionsByType: []ActionCount{}}

	if err := db.Model(&models.AuditLog{}).Count(&stats.TotalActions).Error; err != nil {
		return nil, internalError(err)
	}

	if err := db.Model(&models.AuditLog{}).
		Select("action, COUNT(*) as count").
		Group("action").
		Order("count DESC").
		Scan(&stats.ActionsByType).Error; err != nil {
		return nil, internalError(err)
	}

	if err := db.Model(&models.AuditLog{}).
		Where("created_at > ?", s.now().Add(-24*time.Hour)).
		Count(&stats.ActionsLast24h).Error; err != nil {
		return nil, internalError(err)
	}
	return stats, nil
}
