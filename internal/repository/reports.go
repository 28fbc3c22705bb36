package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"roadwatch-reports/internal/models"
)

// ReportsRepository 报告仓库（报告存储网关的 PostgreSQL 实现）
// 过期清扫器和变更中继只依赖其中的一个小接口子集
type ReportsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewReportsRepository 创建报告仓库
func NewReportsRepository(db *sql.DB, logger *zap.Logger) *ReportsRepository {
	return &ReportsRepository{
		db:     db,
		logger: logger,
	}
}

const reportColumns = `
	r.report_id,
	r.author_id,
	COALESCE(u.display_name, ''),
	r.category,
	r.description,
	r.latitude,
	r.longitude,
	r.status,
	r.created_at,
	r.updated_at
`

// FetchActive 获取活跃报告（按最近更新倒序，带作者名和附件，分页）
func (r *ReportsRepository) FetchActive(ctx context.Context, limit, offset int) ([]*models.Report, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM reports r
		LEFT JOIN users u ON r.author_id = u.user_id
		WHERE r.status = 'active'
		ORDER BY r.updated_at DESC
		LIMIT $1 OFFSET $2
	`, reportColumns)

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query active reports: %w", err)
	}
	defer rows.Close()

	reports := []*models.Report{}
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reports: %w", err)
	}

	if err := r.attachMedia(ctx, reports); err != nil {
		return nil, err
	}

	return reports, nil
}

// FetchByID 根据 report_id 获取单个报告（带作者名和附件）
// 未找到返回 (nil, nil)，调用方按事件水合失败处理
func (r *ReportsRepository) FetchByID(ctx context.Context, reportID string) (*models.Report, error) {
	if reportID == "" {
		return nil, fmt.Errorf("report_id is required")
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM reports r
		LEFT JOIN users u ON r.author_id = u.user_id
		WHERE r.report_id = $1
	`, reportColumns)

	row := r.db.QueryRowContext(ctx, query, reportID)
	report, err := scanReport(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // 报告不存在（可能在事件到达和水合之间被删除）
		}
		return nil, fmt.Errorf("failed to get report: %w", err)
	}

	if err := r.attachMedia(ctx, []*models.Report{report}); err != nil {
		return nil, err
	}

	return report, nil
}

// BulkMarkExpired 批量标记过期：status='expired'，刷新 updated_at
// 只命中仍为 active 的行，重复调用无副作用（过期标记幂等）
// 返回实际更新的行数；部分应用由下一轮清扫自然补齐
func (r *ReportsRepository) BulkMarkExpired(ctx context.Context, reportIDs []string) (int64, error) {
	if len(reportIDs) == 0 {
		return 0, nil
	}

	query := `
		UPDATE reports
		SET status = 'expired',
		    updated_at = CURRENT_TIMESTAMP
		WHERE report_id = ANY($1)
		  AND status = 'active'
	`

	result, err := r.db.ExecContext(ctx, query, pq.Array(reportIDs))
	if err != nil {
		return 0, fmt.Errorf("failed to bulk mark expired: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}

// MarkResolved 用户主动解除报告（active → resolved，过期路径之外的转换）
func (r *ReportsRepository) MarkResolved(ctx context.Context, reportID, authorID string) error {
	if reportID == "" {
		return fmt.Errorf("report_id is required")
	}
	if authorID == "" {
		return fmt.Errorf("author_id is required")
	}

	query := `
		UPDATE reports
		SET status = 'resolved',
		    updated_at = CURRENT_TIMESTAMP
		WHERE report_id = $1
		  AND author_id = $2
		  AND status = 'active'
	`

	result, err := r.db.ExecContext(ctx, query, reportID, authorID)
	if err != nil {
		return fmt.Errorf("failed to mark report resolved: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("report not found or not active: report_id=%s", reportID)
	}

	return nil
}

// CountActive 统计活跃报告数量
func (r *ReportsRepository) CountActive(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reports WHERE status = 'active'`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active reports: %w", err)
	}
	return count, nil
}

// attachMedia 批量加载报告附件
func (r *ReportsRepository) attachMedia(ctx context.Context, reports []*models.Report) error {
	if len(reports) == 0 {
		return nil
	}

	ids := make([]string, 0, len(reports))
	byID := make(map[string]*models.Report, len(reports))
	for _, report := range reports {
		ids = append(ids, report.ReportID)
		byID[report.ReportID] = report
	}

	query := `
		SELECT media_id, report_id, media_type, url, filename
		FROM report_media
		WHERE report_id = ANY($1)
		ORDER BY media_id
	`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to query report media: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var media models.ReportMedia
		if err := rows.Scan(&media.MediaID, &media.ReportID, &media.MediaType, &media.URL, &media.Filename); err != nil {
			return fmt.Errorf("failed to scan report media: %w", err)
		}
		if report, ok := byID[media.ReportID]; ok {
			report.Media = append(report.Media, media)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate report media: %w", err)
	}

	return nil
}

// scanner 兼容 *sql.Row 和 *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanReport(s scanner) (*models.Report, error) {
	var report models.Report
	err := s.Scan(
		&report.ReportID,
		&report.AuthorID,
		&report.AuthorName,
		&report.Category,
		&report.Description,
		&report.Latitude,
		&report.Longitude,
		&report.Status,
		&report.CreatedAt,
		&report.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &report, nil
}
