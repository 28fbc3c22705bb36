package notifier

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"roadwatch-reports/internal/models"
)

// 分类标识到设置块名称的映射
var categorySettingsKey = map[string]string{
	models.CategoryPoliceCheckpoint: "police_checkpoints",
	models.CategoryAccident:         "accidents",
	models.CategoryRoadHazard:       "road_hazards",
	models.CategoryTrafficJam:       "traffic_jams",
	models.CategoryWeatherAlert:     "weather_alerts",
	models.CategoryGeneral:          "general",
}

// SettingsStore 用户通知设置存储（Redis，JSON 整体读写）
// 首次读取时返回默认设置，不做版本化
type SettingsStore struct {
	redisClient *redis.Client
	keyPrefix   string
	logger      *zap.Logger
}

// NewSettingsStore 创建通知设置存储
func NewSettingsStore(redisClient *redis.Client, keyPrefix string, logger *zap.Logger) *SettingsStore {
	if keyPrefix == "" {
		keyPrefix = "reports:settings:"
	}
	return &SettingsStore{
		redisClient: redisClient,
		keyPrefix:   keyPrefix,
		logger:      logger,
	}
}

// Get 读取用户通知设置；不存在时返回默认设置
func (s *SettingsStore) Get(ctx context.Context, userID string) (*models.NotificationSettings, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	data, err := s.redisClient.Get(ctx, s.keyPrefix+userID).Result()
	if err == redis.Nil {
		return DefaultSettings(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get notification settings: %w", err)
	}

	var settings models.NotificationSettings
	if err := json.Unmarshal([]byte(data), &settings); err != nil {
		// 设置损坏时回退默认值，不阻断通知管道
		s.logger.Warn("Corrupt notification settings, falling back to defaults",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return DefaultSettings(), nil
	}
	if settings.Categories == nil {
		settings.Categories = DefaultSettings().Categories
	}

	return &settings, nil
}

// Save 整体保存用户通知设置
func (s *SettingsStore) Save(ctx context.Context, userID string, settings *models.NotificationSettings) error {
	if userID == "" {
		return fmt.Errorf("user_id is required")
	}
	if settings == nil {
		return fmt.Errorf("settings is required")
	}

	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal notification settings: %w", err)
	}

	if err := s.redisClient.Set(ctx, s.keyPrefix+userID, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save notification settings: %w", err)
	}

	return nil
}

// DefaultSettings 默认通知设置
// 全局开启、免打扰关闭；高危分类（检查点/事故）高优先级即时通知，
// 低频分类（路况/拥堵）节流
func DefaultSettings() *models.NotificationSettings {
	return &models.NotificationSettings{
		Global: models.GlobalSettings{
			Enabled:           true,
			QuietHoursEnabled: false,
			QuietHoursStart:   "22:00",
			QuietHoursEnd:     "07:00",
			QuietHoursDays:    []int{0, 1, 2, 3, 4, 5, 6},
			LocationFilter:    false,
			RadiusKm:          10,
			Batching:          false,
			AutoCleanupDays:   30,
		},
		Categories: map[string]models.CategorySettings{
			"police_checkpoints": {
				Enabled:            true,
				Sound:              true,
				Vibration:          true,
				Frequency:          models.FrequencyImmediate,
				ShowSystem:         true,
				Priority:           "high",
				DisplayDurationSec: 10,
			},
			"accidents": {
				Enabled:            true,
				Sound:              true,
				Vibration:          true,
				Frequency:          models.FrequencyImmediate,
				ShowSystem:         true,
				Priority:           "max",
				DisplayDurationSec: 10,
			},
			"road_hazards": {
				Enabled:            true,
				Sound:              true,
				Vibration:          false,
				Frequency:          models.FrequencyEvery5Min,
				ShowSystem:         true,
				Priority:           "default",
				DisplayDurationSec: 8,
			},
			"traffic_jams": {
				Enabled:            true,
				Sound:              false,
				Vibration:          false,
				Frequency:          models.FrequencyEvery15Min,
				ShowSystem:         true,
				Priority:           "low",
				DisplayDurationSec: 5,
			},
			"weather_alerts": {
				Enabled:            true,
				Sound:              true,
				Vibration:          true,
				Frequency:          models.FrequencyImmediate,
				ShowSystem:         true,
				Priority:           "high",
				DisplayDurationSec: 10,
			},
			"general": {
				Enabled:            true,
				Sound:              false,
				Vibration:          false,
				Frequency:          models.FrequencyEvery15Min,
				ShowSystem:         true,
				Priority:           "default",
				DisplayDurationSec: 5,
			},
		},
	}
}
