package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"roadwatch-reports/internal/config"
	"roadwatch-reports/internal/models"
	"roadwatch-reports/internal/redisx"
)

// fakeReportStore 测试用存储：按 report_id 返回预置报告
type fakeReportStore struct {
	reports map[string]*models.Report
	active  []*models.Report
	fetches int
}

func (s *fakeReportStore) FetchByID(ctx context.Context, reportID string) (*models.Report, error) {
	s.fetches++
	return s.reports[reportID], nil
}

func (s *fakeReportStore) FetchActive(ctx context.Context, limit, offset int) ([]*models.Report, error) {
	if offset >= len(s.active) {
		return []*models.Report{}, nil
	}
	end := offset + limit
	if end > len(s.active) {
		end = len(s.active)
	}
	return s.active[offset:end], nil
}

type notifyCall struct {
	reportID  string
	eventKind string
}

func setupRelay(t *testing.T, store *fakeReportStore, currentUserID string) (*Relay, *[]notifyCall) {
	cfg := &config.Config{}
	cfg.Report.ChangeStream = "reports:changes"
	cfg.Report.ConsumerGroup = "report-relay"
	cfg.Report.ConsumerName = "relay-test"
	cfg.Report.FetchBatchSize = 2

	calls := &[]notifyCall{}
	notify := func(ctx context.Context, report *models.Report, eventKind string) {
		*calls = append(*calls, notifyCall{reportID: report.ReportID, eventKind: eventKind})
	}

	return NewRelay(cfg, nil, store, zap.NewNop(), currentUserID, notify), calls
}

func changeMessage(t *testing.T, eventType, reportID string) redisx.StreamMessage {
	payload, err := json.Marshal(models.ReportChangeEvent{
		EventType: eventType,
		ReportID:  reportID,
	})
	require.NoError(t, err)

	return redisx.StreamMessage{
		ID:     fmt.Sprintf("%d-0", time.Now().UnixMilli()),
		Values: map[string]interface{}{"data": string(payload)},
	}
}

func TestRelay_InsertHydratesAndNotifies(t *testing.T) {
	report := makeReport(models.CategoryPoliceCheckpoint, time.Now())
	store := &fakeReportStore{reports: map[string]*models.Report{report.ReportID: report}}
	relay, calls := setupRelay(t, store, uuid.New().String())

	var received *models.Report
	relay.Subscribe(Handlers{OnNew: func(r *models.Report) { received = r }})

	err := relay.processMessage(context.Background(), changeMessage(t, models.ChangeInsert, report.ReportID))

	require.NoError(t, err)
	require.NotNil(t, received)
	assert.Equal(t, report.ReportID, received.ReportID)
	assert.True(t, relay.view.Contains(report.ReportID))
	require.Len(t, *calls, 1)
	assert.Equal(t, models.EventNew, (*calls)[0].eventKind)
}

func TestRelay_DuplicateInsertSkipsHydration(t *testing.T) {
	report := makeReport(models.CategoryAccident, time.Now())
	store := &fakeReportStore{reports: map[string]*models.Report{report.ReportID: report}}
	relay, calls := setupRelay(t, store, uuid.New().String())

	msg := changeMessage(t, models.ChangeInsert, report.ReportID)
	require.NoError(t, relay.processMessage(context.Background(), msg))
	require.NoError(t, relay.processMessage(context.Background(), msg))

	// 第二次投递不应再水合、再通知
	assert.Equal(t, 1, store.fetches)
	assert.Len(t, *calls, 1)
	assert.Equal(t, 1, relay.view.Len())
}

func TestRelay_SelfAuthoredEventSuppressesNotification(t *testing.T) {
	report := makeReport(models.CategoryRoadHazard, time.Now())
	store := &fakeReportStore{reports: map[string]*models.Report{report.ReportID: report}}
	relay, calls := setupRelay(t, store, report.AuthorID)

	emitted := false
	relay.Subscribe(Handlers{OnNew: func(r *models.Report) { emitted = true }})

	require.NoError(t, relay.processMessage(context.Background(), changeMessage(t, models.ChangeInsert, report.ReportID)))

	// 本地视图照常更新并分发，但不进通知管道
	assert.True(t, emitted)
	assert.True(t, relay.view.Contains(report.ReportID))
	assert.Empty(t, *calls)
}

func TestRelay_MissingReportDroppedSilently(t *testing.T) {
	store := &fakeReportStore{reports: map[string]*models.Report{}}
	relay, calls := setupRelay(t, store, uuid.New().String())

	err := relay.processMessage(context.Background(), changeMessage(t, models.ChangeInsert, uuid.New().String()))

	require.NoError(t, err)
	assert.Equal(t, 0, relay.view.Len())
	assert.Empty(t, *calls)
}

func TestRelay_UpdateEmitsAndNotifies(t *testing.T) {
	now := time.Now()
	report := makeReport(models.CategoryTrafficJam, now)
	store := &fakeReportStore{reports: map[string]*models.Report{report.ReportID: report}}
	relay, calls := setupRelay(t, store, uuid.New().String())

	require.NoError(t, relay.processMessage(context.Background(), changeMessage(t, models.ChangeInsert, report.ReportID)))

	updated := *report
	updated.Description = "still jammed"
	updated.UpdatedAt = now.Add(time.Minute)
	store.reports[report.ReportID] = &updated

	var received *models.Report
	relay.Subscribe(Handlers{OnUpdate: func(r *models.Report) { received = r }})

	require.NoError(t, relay.processMessage(context.Background(), changeMessage(t, models.ChangeUpdate, report.ReportID)))

	require.NotNil(t, received)
	assert.Equal(t, "still jammed", received.Description)
	require.Len(t, *calls, 2)
	assert.Equal(t, models.EventUpdate, (*calls)[1].eventKind)
}

func TestRelay_UpdateToNonActiveRemoves(t *testing.T) {
	now := time.Now()
	report := makeReport(models.CategoryAccident, now)
	store := &fakeReportStore{reports: map[string]*models.Report{report.ReportID: report}}
	relay, calls := setupRelay(t, store, uuid.New().String())

	require.NoError(t, relay.processMessage(context.Background(), changeMessage(t, models.ChangeInsert, report.ReportID)))

	expired := *report
	expired.Status = models.StatusExpired
	expired.UpdatedAt = now.Add(2 * time.Minute)
	store.reports[report.ReportID] = &expired

	var removedID string
	relay.Subscribe(Handlers{OnDelete: func(id string) { removedID = id }})

	require.NoError(t, relay.processMessage(context.Background(), changeMessage(t, models.ChangeUpdate, report.ReportID)))

	assert.Equal(t, report.ReportID, removedID)
	assert.False(t, relay.view.Contains(report.ReportID))
	// 过期/解除只移除视图，不产生新通知
	assert.Len(t, *calls, 1)
}

func TestRelay_DeleteEmitsUnconditionally(t *testing.T) {
	store := &fakeReportStore{reports: map[string]*models.Report{}}
	relay, _ := setupRelay(t, store, uuid.New().String())

	reportID := uuid.New().String()
	var removedID string
	relay.Subscribe(Handlers{OnDelete: func(id string) { removedID = id }})

	// 视图中不存在也要分发移除事件（本地可能已乐观移除）
	require.NoError(t, relay.processMessage(context.Background(), changeMessage(t, models.ChangeDelete, reportID)))

	assert.Equal(t, reportID, removedID)
	assert.Equal(t, 0, store.fetches)
}

func TestRelay_UnsubscribeStopsCallbacks(t *testing.T) {
	report := makeReport(models.CategoryGeneral, time.Now())
	store := &fakeReportStore{reports: map[string]*models.Report{report.ReportID: report}}
	relay, _ := setupRelay(t, store, uuid.New().String())

	count := 0
	unsubscribe := relay.Subscribe(Handlers{OnNew: func(r *models.Report) { count++ }})
	unsubscribe()

	require.NoError(t, relay.processMessage(context.Background(), changeMessage(t, models.ChangeInsert, report.ReportID)))

	assert.Equal(t, 0, count)
}

func TestRelay_ReconcileReplacesView(t *testing.T) {
	now := time.Now()
	stale := makeReport(models.CategoryGeneral, now.Add(-time.Hour))
	fresh1 := makeReport(models.CategoryAccident, now)
	fresh2 := makeReport(models.CategoryWeatherAlert, now)
	fresh3 := makeReport(models.CategoryRoadHazard, now)

	store := &fakeReportStore{
		reports: map[string]*models.Report{},
		active:  []*models.Report{fresh1, fresh2, fresh3}, // 批大小 2，覆盖分页
	}
	relay, _ := setupRelay(t, store, uuid.New().String())
	relay.view.Insert(stale)

	require.NoError(t, relay.Reconcile(context.Background()))

	snapshot := relay.Snapshot()
	require.Len(t, snapshot, 3)
	assert.False(t, relay.view.Contains(stale.ReportID))
	assert.True(t, relay.view.Contains(fresh1.ReportID))
}

func TestRelay_UnknownEventTypeIgnored(t *testing.T) {
	store := &fakeReportStore{reports: map[string]*models.Report{}}
	relay, calls := setupRelay(t, store, uuid.New().String())

	err := relay.processMessage(context.Background(), changeMessage(t, "truncate", uuid.New().String()))

	require.NoError(t, err)
	assert.Empty(t, *calls)
}
