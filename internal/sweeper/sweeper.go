package sweeper

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"roadwatch-reports/internal/config"
	"roadwatch-reports/internal/models"
	"roadwatch-reports/internal/policy"
)

// ReportStore 清扫器对报告存储网关的依赖
type ReportStore interface {
	FetchActive(ctx context.Context, limit, offset int) ([]*models.Report, error)
	// BulkMarkExpired 批量标记过期（仅命中仍为 active 的行）
	BulkMarkExpired(ctx context.Context, reportIDs []string) (int64, error)
}

// ChangePublisher 过期转换后发布变更事件，驱动各中继收敛
type ChangePublisher interface {
	PublishChange(ctx context.Context, event *models.ReportChangeEvent) error
}

// HistoryCleaner 通知历史自动清理入口
type HistoryCleaner interface {
	CleanupHistory(ctx context.Context) error
}

// Sweeper 过期清扫器
// 定时扫描活跃报告，按分类 TTL 判定过期并批量转换状态；
// 同一时刻最多一轮清扫在执行，慢清扫会跳过后续触发而不是排队
type Sweeper struct {
	config    *config.Config
	store     ReportStore
	publisher ChangePublisher // 可为 nil（单机模式）
	cleaner   HistoryCleaner  // 可为 nil（未启用自动清理）
	logger    *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	sweepInFlight int32
	lastCleanup   time.Time
}

// NewSweeper 创建过期清扫器
func NewSweeper(
	cfg *config.Config,
	store ReportStore,
	publisher ChangePublisher,
	cleaner HistoryCleaner,
	logger *zap.Logger,
) *Sweeper {
	return &Sweeper{
		config:    cfg,
		store:     store,
		publisher: publisher,
		cleaner:   cleaner,
		logger:    logger,
	}
}

// Start 启动清扫循环（已启动时为幂等空操作）
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Warn("Sweeper already running, start ignored")
		return
	}
	s.running = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.run(runCtx)

	s.logger.Info("Expiry sweeper started",
		zap.Int("sweep_interval_seconds", s.sweepInterval()),
	)
}

// Stop 停止清扫循环（未启动时为幂等空操作）
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()

	s.logger.Info("Expiry sweeper stopped")
}

// run 清扫主循环：启动立即清扫一次，之后按固定间隔触发
func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()

	s.sweep(ctx)
	s.maybeCleanupHistory(ctx)

	ticker := time.NewTicker(time.Duration(s.sweepInterval()) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
			s.maybeCleanupHistory(ctx)
		}
	}
}

// sweep 执行一轮清扫
// 上一轮仍在执行时跳过本次触发，保证同一时刻只有一轮在跑
func (s *Sweeper) sweep(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&s.sweepInFlight, 0, 1) {
		s.logger.Warn("Previous sweep still in progress, skipping this tick")
		return
	}
	defer atomic.StoreInt32(&s.sweepInFlight, 0)

	startTime := time.Now()

	expiredIDs, scanned, err := s.collectExpired(ctx)
	if err != nil {
		// 单轮失败不终止循环，下一轮重试
		s.logger.Error("Failed to scan active reports",
			zap.Error(err),
		)
		return
	}

	if len(expiredIDs) == 0 {
		s.logger.Debug("Sweep completed, no expired reports",
			zap.Int("scanned", scanned),
			zap.Duration("duration", time.Since(startTime)),
		)
		return
	}

	affected, err := s.store.BulkMarkExpired(ctx, expiredIDs)
	if err != nil {
		s.logger.Error("Failed to mark reports expired",
			zap.Int("candidate_count", len(expiredIDs)),
			zap.Error(err),
		)
		return
	}

	// 广播 update 事件，让各中继把过期报告移出本地视图
	s.publishExpiryEvents(ctx, expiredIDs)

	s.logger.Info("Sweep completed",
		zap.Int("scanned", scanned),
		zap.Int("expired", len(expiredIDs)),
		zap.Int64("transitioned", affected),
		zap.Duration("duration", time.Since(startTime)),
	)
}

// collectExpired 分页扫描活跃报告，按分类 TTL 收集已过期的 report_id
func (s *Sweeper) collectExpired(ctx context.Context) ([]string, int, error) {
	batchSize := s.config.Report.FetchBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	expiredIDs := []string{}
	scanned := 0

	for offset := 0; ; offset += batchSize {
		page, err := s.store.FetchActive(ctx, batchSize, offset)
		if err != nil {
			return nil, scanned, err
		}
		scanned += len(page)

		for _, report := range page {
			// 未知分类永不过期（fail-closed 由 policy 保证）
			if policy.IsExpired(report.Category, report.UpdatedAt) {
				expiredIDs = append(expiredIDs, report.ReportID)
			}
		}

		if len(page) < batchSize {
			break
		}
	}

	return expiredIDs, scanned, nil
}

// publishExpiryEvents 为每个过期报告发布 update 变更事件
func (s *Sweeper) publishExpiryEvents(ctx context.Context, reportIDs []string) {
	if s.publisher == nil {
		return
	}

	nowMs := time.Now().UnixMilli()
	for _, reportID := range reportIDs {
		event := &models.ReportChangeEvent{
			EventType:   models.ChangeUpdate,
			ReportID:    reportID,
			UpdatedAtMs: nowMs,
		}
		if err := s.publisher.PublishChange(ctx, event); err != nil {
			s.logger.Warn("Failed to publish expiry change event",
				zap.String("report_id", reportID),
				zap.Error(err),
			)
		}
	}
}

// maybeCleanupHistory 按清理间隔触发通知历史自动清理
func (s *Sweeper) maybeCleanupHistory(ctx context.Context) {
	if s.cleaner == nil {
		return
	}

	interval := time.Duration(s.config.Report.CleanupInterval) * time.Second
	if interval <= 0 {
		interval = time.Hour
	}
	if !s.lastCleanup.IsZero() && time.Since(s.lastCleanup) < interval {
		return
	}
	s.lastCleanup = time.Now()

	if err := s.cleaner.CleanupHistory(ctx); err != nil {
		s.logger.Warn("Failed to cleanup notification history",
			zap.Error(err),
		)
	}
}

func (s *Sweeper) sweepInterval() int {
	if s.config.Report.SweepInterval > 0 {
		return s.config.Report.SweepInterval
	}
	return 30
}
