package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"roadwatch-reports/internal/config"
	"roadwatch-reports/internal/models"
	"roadwatch-reports/internal/redisx"
)

// ReportStore 变更中继对报告存储网关的依赖
type ReportStore interface {
	// FetchByID 水合裸变更事件为完整报告（含作者名、附件）；未找到返回 (nil, nil)
	FetchByID(ctx context.Context, reportID string) (*models.Report, error)
	// FetchActive 全量对账用
	FetchActive(ctx context.Context, limit, offset int) ([]*models.Report, error)
}

// NotifyFunc 通知协调器入口（非自发 new/update 事件时调用）
type NotifyFunc func(ctx context.Context, report *models.Report, eventKind string)

// Handlers 订阅方回调（地图、时间线等消费者）
type Handlers struct {
	OnNew    func(report *models.Report)
	OnUpdate func(report *models.Report)
	OnDelete func(reportID string)
}

// Relay 变更流中继
// 订阅 reports:changes 流，水合裸事件为完整报告，维护本地有序视图，
// 并按到达顺序向订阅方分发规范化事件
type Relay struct {
	config        *config.Config
	redisClient   *redis.Client
	store         ReportStore
	logger        *zap.Logger
	currentUserID string
	notify        NotifyFunc

	view *ActiveView

	mu     sync.Mutex
	subs   map[int]Handlers
	nextID int
}

// NewRelay 创建变更流中继
func NewRelay(
	cfg *config.Config,
	redisClient *redis.Client,
	store ReportStore,
	logger *zap.Logger,
	currentUserID string,
	notify NotifyFunc,
) *Relay {
	return &Relay{
		config:        cfg,
		redisClient:   redisClient,
		store:         store,
		logger:        logger,
		currentUserID: currentUserID,
		notify:        notify,
		view:          NewActiveView(),
		subs:          make(map[int]Handlers),
	}
}

// Subscribe 订阅规范化事件，返回取消订阅函数
// 取消订阅后不再收到任何回调
func (r *Relay) Subscribe(handlers Handlers) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++
	r.subs[id] = handlers

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs, id)
	}
}

// Snapshot 当前活跃报告视图快照
func (r *Relay) Snapshot() []*models.Report {
	return r.view.Snapshot()
}

// Run 启动中继（阻塞消费，带指数退避）
// 启动时和读取出错后都做一次全量对账，弥补断连期间丢失的事件
func (r *Relay) Run(ctx context.Context) error {
	stream := r.config.Report.ChangeStream
	group := r.config.Report.ConsumerGroup

	if err := redisx.CreateConsumerGroup(ctx, r.redisClient, stream, group); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	if err := r.Reconcile(ctx); err != nil {
		r.logger.Error("Failed to reconcile on startup",
			zap.Error(err),
		)
	}

	r.logger.Info("Change feed relay started",
		zap.String("stream", stream),
		zap.String("consumer_group", group),
		zap.String("consumer_name", r.config.Report.ConsumerName),
	)

	// 消费事件（带指数退避）
	backoffDuration := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Change feed relay stopped")
			return nil
		default:
			if err := r.consumeEvents(ctx); err != nil {
				r.logger.Error("Failed to consume change events",
					zap.Error(err),
					zap.Duration("backoff", backoffDuration),
				)

				select {
				case <-ctx.Done():
					return nil
				case <-time.After(backoffDuration):
					backoffDuration *= 2
					if backoffDuration > maxBackoff {
						backoffDuration = maxBackoff
					}
				}

				// 断连期间的事件不会回放，用全量对账修复视图
				if err := r.Reconcile(ctx); err != nil {
					r.logger.Error("Failed to reconcile after consume error",
						zap.Error(err),
					)
				}
			} else {
				backoffDuration = time.Second
			}
		}
	}
}

// Reconcile 全量对账：用存储中的活跃报告整体替换本地视图
func (r *Relay) Reconcile(ctx context.Context) error {
	batchSize := r.config.Report.FetchBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	all := []*models.Report{}
	for offset := 0; ; offset += batchSize {
		page, err := r.store.FetchActive(ctx, batchSize, offset)
		if err != nil {
			return fmt.Errorf("failed to fetch active reports: %w", err)
		}
		all = append(all, page...)
		if len(page) < batchSize {
			break
		}
	}

	r.view.ReplaceAll(all)

	r.logger.Debug("Reconciled local view",
		zap.Int("report_count", len(all)),
	)

	return nil
}

// consumeEvents 读取并处理一批变更事件
func (r *Relay) consumeEvents(ctx context.Context) error {
	messages, err := redisx.ReadFromStream(
		ctx,
		r.redisClient,
		r.config.Report.ChangeStream,
		r.config.Report.ConsumerGroup,
		r.config.Report.ConsumerName,
		int64(r.config.Report.FetchBatchSize),
	)
	if err != nil {
		return fmt.Errorf("failed to read from stream: %w", err)
	}

	for _, msg := range messages {
		if err := r.processMessage(ctx, msg); err != nil {
			r.logger.Error("Failed to process change event",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
			// 继续处理下一条消息，不中断
		}
		// 已处理（含水合失败被丢弃的）事件都确认，避免反复重投
		if err := redisx.AckMessage(ctx, r.redisClient, r.config.Report.ChangeStream, r.config.Report.ConsumerGroup, msg.ID); err != nil {
			r.logger.Warn("Failed to ack message",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
		}
	}

	return nil
}

// processMessage 处理单条变更事件
func (r *Relay) processMessage(ctx context.Context, msg redisx.StreamMessage) error {
	event, err := parseChangeEvent(msg)
	if err != nil {
		return fmt.Errorf("failed to parse change event: %w", err)
	}

	switch event.EventType {
	case models.ChangeInsert:
		return r.handleInsert(ctx, event)
	case models.ChangeUpdate:
		return r.handleUpdate(ctx, event)
	case models.ChangeDelete:
		r.handleDelete(event.ReportID)
		return nil
	default:
		r.logger.Warn("Unknown change event type",
			zap.String("event_type", event.EventType),
		)
		return nil
	}
}

// handleInsert 处理插入事件
func (r *Relay) handleInsert(ctx context.Context, event *models.ReportChangeEvent) error {
	// 去重：本地乐观插入 + 服务端回显会产生重复投递
	if r.view.Contains(event.ReportID) {
		r.logger.Debug("Duplicate insert event skipped",
			zap.String("report_id", event.ReportID),
		)
		return nil
	}

	report, err := r.store.FetchByID(ctx, event.ReportID)
	if err != nil {
		return fmt.Errorf("failed to hydrate inserted report: %w", err)
	}
	if report == nil {
		// 事件到达和水合之间报告已消失，静默丢弃
		r.logger.Debug("Inserted report not found, event dropped",
			zap.String("report_id", event.ReportID),
		)
		return nil
	}

	if !r.view.Insert(report) {
		return nil // 重复或过时的水合结果
	}

	r.emit(func(h Handlers) {
		if h.OnNew != nil {
			h.OnNew(report)
		}
	})

	// 自发事件只更新本地状态，不进通知管道
	if report.AuthorID != r.currentUserID && r.notify != nil {
		r.notify(ctx, report, models.EventNew)
	}

	return nil
}

// handleUpdate 处理更新事件
func (r *Relay) handleUpdate(ctx context.Context, event *models.ReportChangeEvent) error {
	report, err := r.store.FetchByID(ctx, event.ReportID)
	if err != nil {
		return fmt.Errorf("failed to hydrate updated report: %w", err)
	}
	if report == nil {
		r.logger.Debug("Updated report not found, event dropped",
			zap.String("report_id", event.ReportID),
		)
		return nil
	}

	// 拉到的状态已非 active（过期/解除）=> 从活跃视图移除
	if report.Status != models.StatusActive {
		if r.view.Remove(report.ReportID) {
			r.emit(func(h Handlers) {
				if h.OnDelete != nil {
					h.OnDelete(report.ReportID)
				}
			})
		}
		return nil
	}

	if !r.view.Update(report) {
		// 乱序完成的旧水合结果，按 last-write-wins 丢弃
		r.logger.Debug("Stale update discarded",
			zap.String("report_id", report.ReportID),
		)
		return nil
	}

	r.emit(func(h Handlers) {
		if h.OnUpdate != nil {
			h.OnUpdate(report)
		}
	})

	if report.AuthorID != r.currentUserID && r.notify != nil {
		r.notify(ctx, report, models.EventUpdate)
	}

	return nil
}

// handleDelete 处理删除事件（无条件移除并分发）
func (r *Relay) handleDelete(reportID string) {
	r.view.Remove(reportID)

	r.emit(func(h Handlers) {
		if h.OnDelete != nil {
			h.OnDelete(reportID)
		}
	})
}

// emit 按订阅顺序分发事件（持锁快照后调用，取消订阅即不再收到）
func (r *Relay) emit(fn func(Handlers)) {
	r.mu.Lock()
	subs := make([]Handlers, 0, len(r.subs))
	for _, h := range r.subs {
		subs = append(subs, h)
	}
	r.mu.Unlock()

	for _, h := range subs {
		fn(h)
	}
}

// parseChangeEvent 解析变更事件消息
func parseChangeEvent(msg redisx.StreamMessage) (*models.ReportChangeEvent, error) {
	// 优先从 data 字段解析 JSON
	if dataStr, ok := msg.Values["data"].(string); ok {
		var event models.ReportChangeEvent
		if err := json.Unmarshal([]byte(dataStr), &event); err == nil && event.EventType != "" {
			return &event, nil
		}
	}

	// data 字段不存在时直接从 Values 解析
	event := &models.ReportChangeEvent{}
	if eventType, ok := msg.Values["event_type"].(string); ok {
		event.EventType = eventType
	}
	if reportID, ok := msg.Values["report_id"].(string); ok {
		event.ReportID = reportID
	}

	if event.EventType == "" || event.ReportID == "" {
		return nil, fmt.Errorf("invalid change event: missing event_type or report_id")
	}

	return event, nil
}
