package notifier

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"roadwatch-reports/internal/models"
)

// SettingsProvider 通知设置来源
type SettingsProvider interface {
	Get(ctx context.Context, userID string) (*models.NotificationSettings, error)
}

// HistoryStore 通知历史持久化
type HistoryStore interface {
	CreateNotification(ctx context.Context, record *models.NotificationRecord) error
	UpdateDeliveryMetadata(ctx context.Context, notificationID string, soundPlayed, vibrationPlayed bool, channel string) error
	DeleteOlderThan(ctx context.Context, userID string, age time.Duration) (int64, error)
}

// Dispatcher 系统通知投递渠道
type Dispatcher interface {
	Dispatch(ctx context.Context, userID string, record *models.NotificationRecord, sound, vibration bool) error
	Channel() string
}

// categoryDisplay 分类展示属性
type categoryDisplay struct {
	name  string
	emoji string
}

var categoryDisplays = map[string]categoryDisplay{
	models.CategoryPoliceCheckpoint: {name: "Police Checkpoint", emoji: "🚓"},
	models.CategoryAccident:         {name: "Accident", emoji: "🚨"},
	models.CategoryRoadHazard:       {name: "Road Hazard", emoji: "⚠️"},
	models.CategoryTrafficJam:       {name: "Traffic Jam", emoji: "🚗"},
	models.CategoryWeatherAlert:     {name: "Weather Alert", emoji: "🌧️"},
	models.CategoryGeneral:          {name: "Report", emoji: "📍"},
}

// Coordinator 通知协调器
// 每个报告事件走固定决策链：全局开关 → 分类开关 → 免打扰窗口 → 频率节流，
// 全部通过后才构建通知、写入历史并按渠道投递。
// 任一环节短路时不产生任何持久化记录
type Coordinator struct {
	settings   SettingsProvider
	history    HistoryStore
	dispatcher Dispatcher // 可为 nil（不投递系统通知）
	logger     *zap.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time // 每分类最近一次通知时间（进程内，重启即重置）

	now func() time.Time
}

// NewCoordinator 创建通知协调器
func NewCoordinator(settings SettingsProvider, history HistoryStore, dispatcher Dispatcher, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		settings:   settings,
		history:    history,
		dispatcher: dispatcher,
		logger:     logger,
		lastSent:   make(map[string]time.Time),
		now:        time.Now,
	}
}

// NotifyForReportEvent 为一个报告事件走完整通知决策链
// 返回生成的通知记录；被任一环节短路时返回 (nil, nil)
func (c *Coordinator) NotifyForReportEvent(ctx context.Context, userID string, report *models.Report, eventKind string) (*models.NotificationRecord, error) {
	if report == nil {
		return nil, fmt.Errorf("report is required")
	}

	settingsKey, ok := categorySettingsKey[report.Category]
	if !ok {
		// 未知分类不通知（与过期判定同样 fail-closed）
		c.logger.Warn("Unknown report category, notification skipped",
			zap.String("category", report.Category),
		)
		return nil, nil
	}

	settings, err := c.settings.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load notification settings: %w", err)
	}

	// 1. 全局开关
	if !settings.Global.Enabled {
		return nil, nil
	}

	// 2. 分类开关
	catSettings, ok := settings.Categories[settingsKey]
	if !ok || !catSettings.Enabled {
		return nil, nil
	}

	now := c.now()

	// 3. 免打扰窗口（支持跨夜 + 工作日集合）
	if settings.Global.QuietHoursEnabled &&
		inQuietHours(now, settings.Global.QuietHoursStart, settings.Global.QuietHoursEnd, settings.Global.QuietHoursDays) {
		c.logger.Debug("Notification suppressed by quiet hours",
			zap.String("category", report.Category),
		)
		return nil, nil
	}

	// 4. 频率节流（按分类）
	if c.throttled(report.Category, catSettings.Frequency, now) {
		c.logger.Debug("Notification suppressed by frequency throttle",
			zap.String("category", report.Category),
			zap.String("frequency", catSettings.Frequency),
		)
		return nil, nil
	}

	// 5. 构建并持久化通知记录
	record := c.buildRecord(userID, report, eventKind, catSettings, now)
	if err := c.history.CreateNotification(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to persist notification: %w", err)
	}

	c.mu.Lock()
	c.lastSent[report.Category] = now
	c.mu.Unlock()

	// 6. 系统渠道投递（可选）；失败只记日志，历史记录保留
	if catSettings.ShowSystem && c.dispatcher != nil {
		if err := c.dispatcher.Dispatch(ctx, userID, record, catSettings.Sound, catSettings.Vibration); err != nil {
			c.logger.Warn("Failed to dispatch system notification",
				zap.String("notification_id", record.NotificationID),
				zap.String("channel", c.dispatcher.Channel()),
				zap.Error(err),
			)
		} else {
			record.SoundPlayed = catSettings.Sound
			record.VibrationPlayed = catSettings.Vibration
			record.Channel = c.dispatcher.Channel()
			if err := c.history.UpdateDeliveryMetadata(ctx, record.NotificationID, record.SoundPlayed, record.VibrationPlayed, record.Channel); err != nil {
				c.logger.Warn("Failed to update delivery metadata",
					zap.String("notification_id", record.NotificationID),
					zap.Error(err),
				)
			}
		}
	}

	c.logger.Info("Notification created",
		zap.String("notification_id", record.NotificationID),
		zap.String("category", report.Category),
		zap.String("event_kind", eventKind),
		zap.String("priority", record.Priority),
	)

	return record, nil
}

// CleanupHistory 按用户设置清理过旧的通知历史
func (c *Coordinator) CleanupHistory(ctx context.Context, userID string) error {
	settings, err := c.settings.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load notification settings: %w", err)
	}
	if settings.Global.AutoCleanupDays <= 0 {
		return nil
	}

	age := time.Duration(settings.Global.AutoCleanupDays) * 24 * time.Hour
	deleted, err := c.history.DeleteOlderThan(ctx, userID, age)
	if err != nil {
		return fmt.Errorf("failed to cleanup notification history: %w", err)
	}

	if deleted > 0 {
		c.logger.Info("Notification history cleaned up",
			zap.String("user_id", userID),
			zap.Int64("deleted", deleted),
			zap.Int("retention_days", settings.Global.AutoCleanupDays),
		)
	}

	return nil
}

// buildRecord 构建通知记录
func (c *Coordinator) buildRecord(userID string, report *models.Report, eventKind string, catSettings models.CategorySettings, now time.Time) *models.NotificationRecord {
	display := categoryDisplays[report.Category]

	verb := "reported"
	kindWord := "New"
	if eventKind == models.EventUpdate {
		verb = "updated"
		kindWord = ""
	}

	title := strings.TrimSpace(fmt.Sprintf("%s %s %s %s", display.emoji, kindWord, display.name, verb))

	body := report.Description
	if report.AuthorName != "" {
		body = fmt.Sprintf("%s: %s", report.AuthorName, report.Description)
	}

	return &models.NotificationRecord{
		NotificationID: uuid.New().String(),
		UserID:         userID,
		Title:          title,
		Body:           body,
		Category:       report.Category,
		ReportID:       report.ReportID,
		Priority:       catSettings.Priority,
		Status:         models.NotificationUnread,
		Channel:        models.ChannelNone,
		CreatedAt:      now,
	}
}

// throttled 频率节流判断（持久化前检查，不消耗节流窗口）
func (c *Coordinator) throttled(category, frequency string, now time.Time) bool {
	interval := throttleInterval(frequency)
	if interval == 0 {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	last, ok := c.lastSent[category]
	if !ok {
		return false
	}
	return now.Sub(last) < interval
}

// throttleInterval 节流频率对应的最小间隔
func throttleInterval(frequency string) time.Duration {
	switch frequency {
	case models.FrequencyEvery5Min:
		return 5 * time.Minute
	case models.FrequencyEvery15Min:
		return 15 * time.Minute
	case models.FrequencyHourly:
		return time.Hour
	case models.FrequencyDaily:
		return 24 * time.Hour
	default: // immediate 或未知值都不节流
		return 0
	}
}

// inQuietHours 免打扰窗口判断
// start > end 时窗口跨夜（如 22:00–07:00 覆盖晚 22 点到次日早 7 点）；
// days 为空表示每天生效
func inQuietHours(now time.Time, start, end string, days []int) bool {
	startMin, ok1 := parseClock(start)
	endMin, ok2 := parseClock(end)
	if !ok1 || !ok2 || startMin == endMin {
		return false
	}

	if len(days) > 0 {
		weekday := int(now.Weekday())
		// 跨夜窗口的凌晨一段归属前一天的工作日设置
		if startMin > endMin {
			nowMin := now.Hour()*60 + now.Minute()
			if nowMin < endMin {
				weekday = int(now.AddDate(0, 0, -1).Weekday())
			}
		}
		matched := false
		for _, d := range days {
			if d == weekday {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	nowMin := now.Hour()*60 + now.Minute()
	if startMin < endMin {
		return nowMin >= startMin && nowMin < endMin
	}
	// 跨夜
	return nowMin >= startMin || nowMin < endMin
}

// parseClock 解析 "HH:MM" 为当日分钟数
func parseClock(value string) (int, bool) {
	parts := strings.Split(value, ":")
	if len(parts) != 2 {
		return 0, false
	}
	hour, err1 := strconv.Atoi(parts[0])
	minute, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, false
	}
	return hour*60 + minute, true
}
