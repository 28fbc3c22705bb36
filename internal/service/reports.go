package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"roadwatch-reports/internal/config"
	"roadwatch-reports/internal/models"
	"roadwatch-reports/internal/mqttx"
	"roadwatch-reports/internal/notifier"
	"roadwatch-reports/internal/policy"
	"roadwatch-reports/internal/redisx"
	"roadwatch-reports/internal/relay"
	"roadwatch-reports/internal/repository"
	"roadwatch-reports/internal/sweeper"
)

// ReportService 报告生命周期服务（整合各层）
type ReportService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqttx.Client
	logger      *zap.Logger
	userID      string

	// 各层组件
	reportsRepo       *repository.ReportsRepository
	notificationsRepo *repository.NotificationsRepository
	settingsStore     *notifier.SettingsStore
	coordinator       *notifier.Coordinator
	changeRelay       *relay.Relay
	expirySweeper     *sweeper.Sweeper
}

// NewReportService 创建报告生命周期服务
func NewReportService(cfg *config.Config, logger *zap.Logger, userID string) (*ReportService, error) {
	// 1. 校验分类 TTL 策略表（配置错误必须在启动时暴露）
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid category TTL policy: %w", err)
	}

	// 2. 连接数据库
	db, err := sql.Open("postgres", cfg.Database.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdle)

	// 测试数据库连接
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// 3. 连接 Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	// 4. 创建 Repository 层
	reportsRepo := repository.NewReportsRepository(db, logger)
	notificationsRepo := repository.NewNotificationsRepository(db, logger)

	// 5. 创建通知层（设置存储 + 投递渠道 + 协调器）
	settingsStore := notifier.NewSettingsStore(redisClient, cfg.Report.SettingsKeyPrefix, logger)

	var mqttClient *mqttx.Client
	var dispatcher notifier.Dispatcher
	switch cfg.Push.Mode {
	case "mqtt":
		mqttClient, err = mqttx.NewClient(&cfg.MQTT, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect mqtt: %w", err)
		}
		dispatcher = notifier.NewMQTTDispatcher(mqttClient, cfg, logger)
	case "gateway":
		dispatcher = notifier.NewPushGatewayDispatcher(cfg, logger)
	case "none":
		dispatcher = nil
	default:
		return nil, fmt.Errorf("unknown push mode: %s", cfg.Push.Mode)
	}

	coordinator := notifier.NewCoordinator(settingsStore, notificationsRepo, dispatcher, logger)

	// 6. 创建变更流中继（通知入口挂到协调器）
	notify := func(ctx context.Context, report *models.Report, eventKind string) {
		if _, err := coordinator.NotifyForReportEvent(ctx, userID, report, eventKind); err != nil {
			logger.Error("Failed to process notification for report event",
				zap.String("report_id", report.ReportID),
				zap.String("event_kind", eventKind),
				zap.Error(err),
			)
		}
	}
	changeRelay := relay.NewRelay(cfg, redisClient, reportsRepo, logger, userID, notify)

	// 7. 创建过期清扫器
	publisher := &streamPublisher{
		redisClient: redisClient,
		stream:      cfg.Report.ChangeStream,
	}
	cleaner := &historyCleaner{
		coordinator: coordinator,
		userID:      userID,
	}
	expirySweeper := sweeper.NewSweeper(cfg, reportsRepo, publisher, cleaner, logger)

	return &ReportService{
		config:            cfg,
		db:                db,
		redisClient:       redisClient,
		mqttClient:        mqttClient,
		logger:            logger,
		userID:            userID,
		reportsRepo:       reportsRepo,
		notificationsRepo: notificationsRepo,
		settingsStore:     settingsStore,
		coordinator:       coordinator,
		changeRelay:       changeRelay,
		expirySweeper:     expirySweeper,
	}, nil
}

// Start 启动服务（清扫器后台运行，中继阻塞消费）
func (s *ReportService) Start(ctx context.Context) error {
	s.logger.Info("Starting report service",
		zap.String("user_id", s.userID),
	)

	s.expirySweeper.Start(ctx)

	if err := s.changeRelay.Run(ctx); err != nil {
		return fmt.Errorf("failed to run change relay: %w", err)
	}

	return nil
}

// Stop 停止服务
func (s *ReportService) Stop() error {
	s.logger.Info("Stopping report service")

	s.expirySweeper.Stop()

	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}

	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close database",
			zap.Error(err),
		)
	}

	if err := s.redisClient.Close(); err != nil {
		s.logger.Error("Failed to close redis",
			zap.Error(err),
		)
	}

	return nil
}

// Subscribe 订阅规范化报告事件
func (s *ReportService) Subscribe(handlers relay.Handlers) func() {
	return s.changeRelay.Subscribe(handlers)
}

// ActiveReports 当前活跃报告快照（最新更新在前）
func (s *ReportService) ActiveReports() []*models.Report {
	return s.changeRelay.Snapshot()
}

// Refresh 手动触发全量对账（下拉刷新）
func (s *ReportService) Refresh(ctx context.Context) error {
	return s.changeRelay.Reconcile(ctx)
}

// ResolveReport 报告作者手动解除自己的报告
func (s *ReportService) ResolveReport(ctx context.Context, reportID string) error {
	return s.reportsRepo.MarkResolved(ctx, reportID, s.userID)
}

// RemainingMinutes 报告剩余有效分钟数（向下取整，永不为负）
func (s *ReportService) RemainingMinutes(report *models.Report) int {
	return policy.RemainingMinutes(report.Category, report.UpdatedAt)
}

// IsReportExpired 报告是否已过期
func (s *ReportService) IsReportExpired(report *models.Report) bool {
	return policy.IsExpired(report.Category, report.UpdatedAt)
}

// IsReportAboutToExpire 报告是否即将过期（UI 紧急程度着色用）
func (s *ReportService) IsReportAboutToExpire(report *models.Report) bool {
	return policy.IsAboutToExpire(report.Category, report.UpdatedAt)
}

// NotificationHistory 分页查询当前用户的通知历史
func (s *ReportService) NotificationHistory(ctx context.Context, page, size int) ([]*models.NotificationRecord, int, error) {
	return s.notificationsRepo.ListByUser(ctx, s.userID, page, size)
}

// MarkNotificationRead 标记通知已读
func (s *ReportService) MarkNotificationRead(ctx context.Context, notificationID string) error {
	return s.notificationsRepo.MarkRead(ctx, s.userID, notificationID)
}

// DismissNotification 撤销通知
func (s *ReportService) DismissNotification(ctx context.Context, notificationID string) error {
	return s.notificationsRepo.Dismiss(ctx, s.userID, notificationID)
}

// NotificationSettings 读取当前用户的通知设置（首次读取返回默认值）
func (s *ReportService) NotificationSettings(ctx context.Context) (*models.NotificationSettings, error) {
	return s.settingsStore.Get(ctx, s.userID)
}

// SaveNotificationSettings 保存当前用户的通知设置
func (s *ReportService) SaveNotificationSettings(ctx context.Context, settings *models.NotificationSettings) error {
	return s.settingsStore.Save(ctx, s.userID, settings)
}

// streamPublisher 清扫器的变更事件发布适配（Redis Streams）
type streamPublisher struct {
	redisClient *redis.Client
	stream      string
}

func (p *streamPublisher) PublishChange(ctx context.Context, event *models.ReportChangeEvent) error {
	_, err := redisx.PublishJSONToStream(ctx, p.redisClient, p.stream, event)
	return err
}

// historyCleaner 清扫器的通知历史清理适配（按当前用户设置执行）
type historyCleaner struct {
	coordinator *notifier.Coordinator
	userID      string
}

func (c *historyCleaner) CleanupHistory(ctx context.Context) error {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return c.coordinator.CleanupHistory(cleanupCtx, c.userID)
}
