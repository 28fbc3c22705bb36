package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"roadwatch-reports/internal/models"
)

// NotificationsRepository 通知历史仓库（对应 notification_history 表）
// 通知记录独立于报告生命周期：来源报告过期后记录仍保留
type NotificationsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewNotificationsRepository 创建通知历史仓库
func NewNotificationsRepository(db *sql.DB, logger *zap.Logger) *NotificationsRepository {
	return &NotificationsRepository{
		db:     db,
		logger: logger,
	}
}

const notificationColumns = `
	notification_id,
	user_id,
	title,
	body,
	category,
	report_id,
	priority,
	status,
	sound_played,
	vibration_played,
	channel,
	created_at,
	read_at,
	dismissed_at
`

// CreateNotification 创建通知记录
func (r *NotificationsRepository) CreateNotification(ctx context.Context, record *models.NotificationRecord) error {
	if record == nil {
		return fmt.Errorf("record is required")
	}
	if record.UserID == "" {
		return fmt.Errorf("user_id is required")
	}

	query := `
		INSERT INTO notification_history (
			notification_id,
			user_id,
			title,
			body,
			category,
			report_id,
			priority,
			status,
			sound_played,
			vibration_played,
			channel,
			created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		record.NotificationID,
		record.UserID,
		record.Title,
		record.Body,
		record.Category,
		record.ReportID,
		record.Priority,
		record.Status,
		record.SoundPlayed,
		record.VibrationPlayed,
		record.Channel,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}

	return nil
}

// UpdateDeliveryMetadata 投递成功后回写投递元数据
func (r *NotificationsRepository) UpdateDeliveryMetadata(ctx context.Context, notificationID string, soundPlayed, vibrationPlayed bool, channel string) error {
	if notificationID == "" {
		return fmt.Errorf("notification_id is required")
	}

	query := `
		UPDATE notification_history
		SET sound_played = $1,
		    vibration_played = $2,
		    channel = $3
		WHERE notification_id = $4
	`

	result, err := r.db.ExecContext(ctx, query, soundPlayed, vibrationPlayed, channel, notificationID)
	if err != nil {
		return fmt.Errorf("failed to update delivery metadata: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("notification not found: notification_id=%s", notificationID)
	}

	return nil
}

// MarkRead 标记已读（仅 unread → read）
func (r *NotificationsRepository) MarkRead(ctx context.Context, userID, notificationID string) error {
	return r.transition(ctx, userID, notificationID, models.NotificationUnread, models.NotificationRead, "read_at")
}

// Dismiss 用户撤销通知
func (r *NotificationsRepository) Dismiss(ctx context.Context, userID, notificationID string) error {
	query := `
		UPDATE notification_history
		SET status = 'dismissed',
		    dismissed_at = CURRENT_TIMESTAMP
		WHERE notification_id = $1
		  AND user_id = $2
		  AND status IN ('unread', 'read')
	`

	result, err := r.db.ExecContext(ctx, query, notificationID, userID)
	if err != nil {
		return fmt.Errorf("failed to dismiss notification: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("notification not found or already dismissed: notification_id=%s", notificationID)
	}

	return nil
}

// Archive 归档通知
func (r *NotificationsRepository) Archive(ctx context.Context, userID, notificationID string) error {
	query := `
		UPDATE notification_history
		SET status = 'archived'
		WHERE notification_id = $1
		  AND user_id = $2
		  AND status <> 'archived'
	`

	result, err := r.db.ExecContext(ctx, query, notificationID, userID)
	if err != nil {
		return fmt.Errorf("failed to archive notification: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("notification not found or already archived: notification_id=%s", notificationID)
	}

	return nil
}

// ListByUser 列表查询（按创建时间倒序，分页）
func (r *NotificationsRepository) ListByUser(ctx context.Context, userID string, page, size int) ([]*models.NotificationRecord, int, error) {
	if userID == "" {
		return []*models.NotificationRecord{}, 0, nil
	}
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	offset := (page - 1) * size

	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notification_history WHERE user_id = $1`,
		userID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count notifications: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM notification_history
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, notificationColumns)

	rows, err := r.db.QueryContext(ctx, query, userID, size, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	records := []*models.NotificationRecord{}
	for rows.Next() {
		var record models.NotificationRecord
		var readAt, dismissedAt sql.NullTime

		err := rows.Scan(
			&record.NotificationID,
			&record.UserID,
			&record.Title,
			&record.Body,
			&record.Category,
			&record.ReportID,
			&record.Priority,
			&record.Status,
			&record.SoundPlayed,
			&record.VibrationPlayed,
			&record.Channel,
			&record.CreatedAt,
			&readAt,
			&dismissedAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan notification: %w", err)
		}

		// 处理可空字段
		if readAt.Valid {
			record.ReadAt = &readAt.Time
		}
		if dismissedAt.Valid {
			record.DismissedAt = &dismissedAt.Time
		}

		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate notifications: %w", err)
	}

	return records, total, nil
}

// DeleteOlderThan 按时长清理通知历史（自动清理扫描）
// 返回删除的行数
func (r *NotificationsRepository) DeleteOlderThan(ctx context.Context, userID string, age time.Duration) (int64, error) {
	if userID == "" {
		return 0, fmt.Errorf("user_id is required")
	}
	if age <= 0 {
		return 0, nil
	}

	threshold := time.Now().Add(-age)

	result, err := r.db.ExecContext(ctx,
		`DELETE FROM notification_history WHERE user_id = $1 AND created_at < $2`,
		userID, threshold,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old notifications: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}

// transition 状态转换辅助（带时间戳列）
func (r *NotificationsRepository) transition(ctx context.Context, userID, notificationID, from, to, timestampColumn string) error {
	if notificationID == "" {
		return fmt.Errorf("notification_id is required")
	}
	if userID == "" {
		return fmt.Errorf("user_id is required")
	}

	query := fmt.Sprintf(`
		UPDATE notification_history
		SET status = $1,
		    %s = CURRENT_TIMESTAMP
		WHERE notification_id = $2
		  AND user_id = $3
		  AND status = $4
	`, timestampColumn)

	result, err := r.db.ExecContext(ctx, query, to, notificationID, userID, from)
	if err != nil {
		return fmt.Errorf("failed to update notification status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("notification not found or not %s: notification_id=%s", from, notificationID)
	}

	return nil
}
