package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"roadwatch-reports/internal/config"
	"roadwatch-reports/internal/models"
	"roadwatch-reports/internal/mqttx"
)

// MQTTDispatcher MQTT 渠道投递器
// 按用户主题发布通知负载：<prefix><user_id>/notifications
type MQTTDispatcher struct {
	client      *mqttx.Client
	topicPrefix string
	qos         byte
	logger      *zap.Logger
}

// NewMQTTDispatcher 创建 MQTT 投递器
func NewMQTTDispatcher(client *mqttx.Client, cfg *config.Config, logger *zap.Logger) *MQTTDispatcher {
	return &MQTTDispatcher{
		client:      client,
		topicPrefix: cfg.Push.TopicPrefix,
		qos:         cfg.MQTT.QoS,
		logger:      logger,
	}
}

// mqttPayload MQTT 通知负载
type mqttPayload struct {
	NotificationID string `json:"notification_id"`
	Title          string `json:"title"`
	Body           string `json:"body"`
	Category       string `json:"category"`
	ReportID       string `json:"report_id"`
	Priority       string `json:"priority"`
	Sound          bool   `json:"sound"`
	Vibration      bool   `json:"vibration"`
	CreatedAt      int64  `json:"created_at"`
}

// Dispatch 发布通知到用户主题
func (d *MQTTDispatcher) Dispatch(ctx context.Context, userID string, record *models.NotificationRecord, sound, vibration bool) error {
	payload, err := json.Marshal(mqttPayload{
		NotificationID: record.NotificationID,
		Title:          record.Title,
		Body:           record.Body,
		Category:       record.Category,
		ReportID:       record.ReportID,
		Priority:       record.Priority,
		Sound:          sound,
		Vibration:      vibration,
		CreatedAt:      record.CreatedAt.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal notification payload: %w", err)
	}

	topic := fmt.Sprintf("%s%s/notifications", d.topicPrefix, userID)
	if err := d.client.Publish(topic, d.qos, false, payload); err != nil {
		return err
	}

	d.logger.Debug("Notification published to MQTT",
		zap.String("topic", topic),
		zap.String("notification_id", record.NotificationID),
	)

	return nil
}

// Channel 渠道标识
func (d *MQTTDispatcher) Channel() string {
	return models.ChannelMQTT
}

// PushGatewayDispatcher 推送网关渠道投递器（HTTP）
type PushGatewayDispatcher struct {
	client *resty.Client
	logger *zap.Logger
}

// NewPushGatewayDispatcher 创建推送网关投递器
func NewPushGatewayDispatcher(cfg *config.Config, logger *zap.Logger) *PushGatewayDispatcher {
	client := resty.New().
		SetBaseURL(cfg.Push.GatewayURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json")

	if cfg.Push.GatewayKey != "" {
		client.SetHeader("X-API-Key", cfg.Push.GatewayKey)
	}

	return &PushGatewayDispatcher{
		client: client,
		logger: logger,
	}
}

// pushRequest 推送网关请求体
type pushRequest struct {
	UserID         string `json:"user_id"`
	NotificationID string `json:"notification_id"`
	Title          string `json:"title"`
	Body           string `json:"body"`
	Category       string `json:"category"`
	ReportID       string `json:"report_id"`
	Priority       string `json:"priority"` // "high" 或 "normal"
	Sound          bool   `json:"sound"`
	Vibration      bool   `json:"vibration"`
}

// pushResponse 推送网关响应体
type pushResponse struct {
	Status int    `json:"status"`
	Msg    string `json:"msg"`
}

// Dispatch 通过推送网关投递通知
func (d *PushGatewayDispatcher) Dispatch(ctx context.Context, userID string, record *models.NotificationRecord, sound, vibration bool) error {
	var result pushResponse

	resp, err := d.client.R().
		SetContext(ctx).
		SetBody(pushRequest{
			UserID:         userID,
			NotificationID: record.NotificationID,
			Title:          record.Title,
			Body:           record.Body,
			Category:       record.Category,
			ReportID:       record.ReportID,
			Priority:       gatewayPriority(record.Priority),
			Sound:          sound,
			Vibration:      vibration,
		}).
		SetResult(&result).
		Post("/v1/push/send")
	if err != nil {
		return fmt.Errorf("failed to call push gateway: %w", err)
	}

	if resp.StatusCode() != 200 {
		return fmt.Errorf("push gateway returned HTTP %d", resp.StatusCode())
	}
	if result.Status != 0 {
		return fmt.Errorf("push gateway rejected notification: status=%d msg=%s", result.Status, result.Msg)
	}

	d.logger.Debug("Notification pushed via gateway",
		zap.String("notification_id", record.NotificationID),
	)

	return nil
}

// Channel 渠道标识
func (d *PushGatewayDispatcher) Channel() string {
	return models.ChannelPushGateway
}

// gatewayPriority 本地优先级映射为网关优先级
func gatewayPriority(priority string) string {
	switch priority {
	case "high", "max":
		return "high"
	default:
		return "normal"
	}
}
