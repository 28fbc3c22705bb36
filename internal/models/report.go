package models

import (
	"time"
)

// 报告分类（固定 6 个枚举值）
const (
	CategoryPoliceCheckpoint = "police_checkpoint"
	CategoryAccident         = "accident"
	CategoryRoadHazard       = "road_hazard"
	CategoryTrafficJam       = "traffic_jam"
	CategoryWeatherAlert     = "weather_alert"
	CategoryGeneral          = "general"
)

// AllCategories 全部报告分类（用于配置校验）
var AllCategories = []string{
	CategoryPoliceCheckpoint,
	CategoryAccident,
	CategoryRoadHazard,
	CategoryTrafficJam,
	CategoryWeatherAlert,
	CategoryGeneral,
}

// 报告状态
const (
	StatusActive   = "active"
	StatusResolved = "resolved"
	StatusExpired  = "expired"
)

// Report 社区安全报告（对应 reports 表）
// AuthorName 和 Media 通过 JOIN 获取，不在 reports 表内
type Report struct {
	ReportID    string        `json:"report_id" db:"report_id"`
	AuthorID    string        `json:"author_id" db:"author_id"`
	AuthorName  string        `json:"author_name,omitempty"`
	Category    string        `json:"category" db:"category"` // police_checkpoint, accident, road_hazard, traffic_jam, weather_alert, general
	Description string        `json:"description" db:"description"`
	Latitude    float64       `json:"latitude" db:"latitude"`
	Longitude   float64       `json:"longitude" db:"longitude"`
	Status      string        `json:"status" db:"status"` // active, resolved, expired
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at" db:"updated_at"`
	Media       []ReportMedia `json:"media,omitempty"`
}

// 媒体类型
const (
	MediaPhoto = "photo"
	MediaAudio = "audio"
)

// ReportMedia 报告附件（对应 report_media 表）
type ReportMedia struct {
	MediaID   string `json:"media_id" db:"media_id"`
	ReportID  string `json:"report_id" db:"report_id"`
	MediaType string `json:"media_type" db:"media_type"` // photo, audio
	URL       string `json:"url" db:"url"`
	Filename  string `json:"filename" db:"filename"`
}

// 变更事件类型（reports:changes 流上的 event_type）
const (
	ChangeInsert = "insert"
	ChangeUpdate = "update"
	ChangeDelete = "delete"
)

// ReportChangeEvent 报告表的行级变更事件（通过 Redis Streams 分发）
// UpdatedAtMs 是服务端版本号（毫秒时间戳），消费端用它做 last-write-wins 判断
type ReportChangeEvent struct {
	EventType   string `json:"event_type"` // insert, update, delete
	ReportID    string `json:"report_id"`
	UpdatedAtMs int64  `json:"updated_at_ms,omitempty"`
}

// 通知事件类型（传给通知协调器的事件种类）
const (
	EventNew    = "new"
	EventUpdate = "update"
	EventDelete = "delete"
)
