package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/huangang/taskhub/backend/internal/config"
	"github.com/huangang/taskhub/backend/internal/models"
	"github.com/huangang/taskhub/backend/pkg/logger"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

const auditModule = "membership"

type SystemLogService struct {
	db     *gorm.DB
	policy *AuthorizationPolicy
}

func NewSystemLogService(db *gorm.DB, policy *AuthorizationPolicy) *SystemLogService {
	return &SystemLogService{db: db, policy: policy}
}

// RecordEvent stores ev as an audit row. It is the queue's EventProcessor.
func (s *SystemLogService) RecordEvent(ctx context.Context, ev *MembershipEvent) error {
	extra, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	row := &models.SystemLog{
		Level:     "info",
		Module:    auditModule,
		Action:    ev.Action,
		Message:   describeEvent(ev),
		ProjectID: uintPtr(ev.ProjectID),
		UserID:    uintPtr(ev.ActorID),
		Extra:     string(extra),
		CreatedAt: ev.OccurredAt,
	}
	if ev.TargetUserID != 0 {
		row.TargetUserID = uintPtr(ev.TargetUserID)
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}
	return s.db.WithContext(ctx).Create(row).Error
}

func describeEvent(ev *MembershipEvent) string {
	switch ev.Action {
	case ActionMemberJoined:
		return fmt.Sprintf("user %d joined project %d as %s via share link %d", ev.TargetUserID, ev.ProjectID, ev.Role, ev.ShareLinkID)
	case ActionRoleAssigned:
		return fmt.Sprintf("user %d set role of user %d to %s", ev.ActorID, ev.TargetUserID, ev.Role)
	case ActionMemberKicked:
		return fmt.Sprintf("user %d removed user %d", ev.ActorID, ev.TargetUserID)
	case ActionMemberLeft:
		return fmt.Sprintf("user %d left project %d", ev.ActorID, ev.ProjectID)
	case ActionShareLinkCreated, ActionShareLinkDeleted, ActionShareLinkDeactivated:
		return fmt.Sprintf("user %d: %s (link %d)", ev.ActorID, ev.Action, ev.ShareLinkID)
	default:
		return fmt.Sprintf("user %d: %s", ev.ActorID, ev.Action)
	}
}

func uintPtr(v uint) *uint { return &v }

type SystemLogListRequest struct {
	Page     int    `form:"page" binding:"omitempty,min=1"`
	PageSize int    `form:"page_size" binding:"omitempty,min=1,max=100"`
	Action   string `form:"action"`
}

type SystemLogListResponse struct {
	Total    int64              `json:"total"`
	Page     int                `json:"page"`
	PageSize int                `json:"page_size"`
	Items    []models.SystemLog `json:"items"`
}

// ListForProject returns the audit trail of one project. Admin or owner only.
func (s *SystemLogService) ListForProject(ctx context.Context, projectID, actorID uint, req *SystemLogListRequest) (*SystemLogListResponse, error) {
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PageSize == 0 {
		req.PageSize = 20
	}

	db := s.db.WithContext(ctx)
	project, err := findProject(db, projectID, false)
	if err != nil {
		return nil, finish("list audit logs", err)
	}
	if _, err := s.policy.require(db, actorID, project, models.RoleAdmin); err != nil {
		return nil, finish("list audit logs", err)
	}

	query := db.Model(&models.SystemLog{}).Where("project_id = ?", projectID)
	if req.Action != "" {
		query = query.Where("action = ?", req.Action)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, internalError("count audit logs", err)
	}

	var logs []models.SystemLog
	offset := (req.Page - 1) * req.PageSize
	if err := query.Offset(offset).Limit(req.PageSize).Order("created_at DESC, id DESC").Find(&logs).Error; err != nil {
		return nil, internalError("list audit logs", err)
	}

	return &SystemLogListResponse{
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Items:    logs,
	}, nil
}

// CleanupOldLogs deletes logs older than the specified number of days
// Returns the number of deleted records
func (s *SystemLogService) CleanupOldLogs(retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}

	cutoffTime := time.Now().AddDate(0, 0, -retentionDays)
	result := s.db.Where("created_at < ?", cutoffTime).Delete(&models.SystemLog{})
	if result.Error != nil {
		return 0, result.Error
	}

	return result.RowsAffected, nil
}

// StartLogCleanupScheduler runs the retention job on cfg.CleanupSpec. The
// caller stops the returned scheduler on shutdown.
func StartLogCleanupScheduler(service *SystemLogService, cfg *config.LogConfig) (*cron.Cron, error) {
	spec := cfg.CleanupSpec
	if spec == "" {
		spec = "@daily"
	}

	c := cron.New()
	if _, err := c.AddFunc(spec, func() { runCleanup(service, cfg.RetentionDays) }); err != nil {
		return nil, fmt.Errorf("invalid log cleanup schedule %q: %w", spec, err)
	}
	c.Start()

	go runCleanup(service, cfg.RetentionDays)
	return c, nil
}

func runCleanup(service *SystemLogService, retentionDays int) {
	if retentionDays <= 0 {
		logger.Infof("[SystemLog] Log cleanup disabled (retention_days <= 0)")
		return
	}

	deleted, err := service.CleanupOldLogs(retentionDays)
	if err != nil {
		logger.Errorf("[SystemLog] Failed to cleanup old logs: %v", err)
		return
	}

	if deleted > 0 {
		logger.Infof("[SystemLog] Cleaned up %d logs older than %d days", deleted, retentionDays)
	}
}
