package models

import (
	"time"
)

// 通知状态
const (
	NotificationUnread    = "unread"
	NotificationRead      = "read"
	NotificationDismissed = "dismissed"
	NotificationArchived  = "archived"
)

// 通知投递渠道
const (
	ChannelNone        = "none"
	ChannelMQTT        = "mqtt"
	ChannelPushGateway = "push_gateway"
)

// NotificationRecord 通知历史记录（对应 notification_history 表）
// 本地持久化的通知记录是投递的事实来源：系统渠道投递失败不会删除记录
type NotificationRecord struct {
	NotificationID  string     `json:"notification_id" db:"notification_id"`
	UserID          string     `json:"user_id" db:"user_id"`
	Title           string     `json:"title" db:"title"`
	Body            string     `json:"body" db:"body"`
	Category        string     `json:"category" db:"category"`
	ReportID        string     `json:"report_id" db:"report_id"`
	Priority        string     `json:"priority" db:"priority"` // min, low, default, high, max
	Status          string     `json:"status" db:"status"`     // unread, read, dismissed, archived
	SoundPlayed     bool       `json:"sound_played" db:"sound_played"`
	VibrationPlayed bool       `json:"vibration_played" db:"vibration_played"`
	Channel         string     `json:"channel" db:"channel"` // none, mqtt, push_gateway
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	ReadAt          *time.Time `json:"read_at,omitempty" db:"read_at"`
	DismissedAt     *time.Time `json:"dismissed_at,omitempty" db:"dismissed_at"`
}

// 通知频率节流
const (
	FrequencyImmediate  = "immediate"
	FrequencyEvery5Min  = "every_5_min"
	FrequencyEvery15Min = "every_15_min"
	FrequencyHourly     = "hourly"
	FrequencyDaily      = "daily"
)

// CategorySettings 单个分类的通知设置
type CategorySettings struct {
	Enabled            bool   `json:"enabled"`
	Sound              bool   `json:"sound"`
	Vibration          bool   `json:"vibration"`
	Frequency          string `json:"frequency"` // immediate, every_5_min, every_15_min, hourly, daily
	ShowSystem         bool   `json:"show_system"`
	Priority           string `json:"priority"` // min, low, default, high, max
	DisplayDurationSec int    `json:"display_duration_sec"`
}

// GlobalSettings 全局通知设置
// 免打扰窗口支持跨夜（start > end，如 22:00–07:00）
type GlobalSettings struct {
	Enabled           bool    `json:"enabled"`
	QuietHoursEnabled bool    `json:"quiet_hours_enabled"`
	QuietHoursStart   string  `json:"quiet_hours_start"` // "HH:MM"
	QuietHoursEnd     string  `json:"quiet_hours_end"`   // "HH:MM"
	QuietHoursDays    []int   `json:"quiet_hours_days"`  // time.Weekday 值，0=Sunday
	LocationFilter    bool    `json:"location_filter"`
	RadiusKm          float64 `json:"radius_km"`
	Batching          bool    `json:"batching"`
	AutoCleanupDays   int     `json:"auto_cleanup_days"` // 0 表示不清理
}

// NotificationSettings 用户通知设置（全局块 + 每分类块）
// 以 JSON 形式整体存储，无版本化/迁移
type NotificationSettings struct {
	Global     GlobalSettings              `json:"global"`
	Categories map[string]CategorySettings `json:"categories"` // key: 设置块名称（police_checkpoints 等）
}
