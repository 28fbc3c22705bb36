package notifier

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"roadwatch-reports/internal/models"
)

type fakeSettings struct {
	settings *models.NotificationSettings
	err      error
}

func (s *fakeSettings) Get(ctx context.Context, userID string) (*models.NotificationSettings, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.settings, nil
}

type fakeHistory struct {
	created        []*models.NotificationRecord
	deliveryCalls  int
	deletedCount   int64
	deleteRequests []time.Duration
}

func (h *fakeHistory) CreateNotification(ctx context.Context, record *models.NotificationRecord) error {
	h.created = append(h.created, record)
	return nil
}

func (h *fakeHistory) UpdateDeliveryMetadata(ctx context.Context, notificationID string, soundPlayed, vibrationPlayed bool, channel string) error {
	h.deliveryCalls++
	return nil
}

func (h *fakeHistory) DeleteOlderThan(ctx context.Context, userID string, age time.Duration) (int64, error) {
	h.deleteRequests = append(h.deleteRequests, age)
	return h.deletedCount, nil
}

type fakeDispatcher struct {
	dispatched []*models.NotificationRecord
	err        error
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, userID string, record *models.NotificationRecord, sound, vibration bool) error {
	if d.err != nil {
		return d.err
	}
	d.dispatched = append(d.dispatched, record)
	return nil
}

func (d *fakeDispatcher) Channel() string {
	return models.ChannelMQTT
}

func sampleReport(category string) *models.Report {
	return &models.Report{
		ReportID:   uuid.New().String(),
		AuthorID:   uuid.New().String(),
		AuthorName: "Alice",
		Category:   category,
		Description: "Checkpoint on Main St",
		Status:     models.StatusActive,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
}

// at 构造指定星期和时刻的测试时间（2026-08-17 是周一）
func at(weekday time.Weekday, clock string) time.Time {
	base := time.Date(2026, 8, 17, 0, 0, 0, 0, time.Local)
	base = base.AddDate(0, 0, (int(weekday)-int(time.Monday)+7)%7)
	var hour, minute int
	fmt.Sscanf(clock, "%d:%d", &hour, &minute)
	return time.Date(base.Year(), base.Month(), base.Day(), hour, minute, 0, 0, time.Local)
}

func newTestCoordinator(settings *models.NotificationSettings, dispatcher Dispatcher) (*Coordinator, *fakeHistory) {
	history := &fakeHistory{}
	c := NewCoordinator(&fakeSettings{settings: settings}, history, dispatcher, zap.NewNop())
	return c, history
}

func TestNotify_CreatesRecordAndDispatches(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	c, history := newTestCoordinator(DefaultSettings(), dispatcher)

	record, err := c.NotifyForReportEvent(context.Background(), "user-1", sampleReport(models.CategoryPoliceCheckpoint), models.EventNew)

	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "🚓 New Police Checkpoint reported", record.Title)
	assert.Equal(t, "Alice: Checkpoint on Main St", record.Body)
	assert.Equal(t, "high", record.Priority)
	assert.Equal(t, models.NotificationUnread, record.Status)

	require.Len(t, history.created, 1)
	require.Len(t, dispatcher.dispatched, 1)
	assert.Equal(t, 1, history.deliveryCalls)
	assert.Equal(t, models.ChannelMQTT, record.Channel)
	assert.True(t, record.SoundPlayed)
}

func TestNotify_UpdateEventTitle(t *testing.T) {
	c, _ := newTestCoordinator(DefaultSettings(), nil)

	record, err := c.NotifyForReportEvent(context.Background(), "user-1", sampleReport(models.CategoryRoadHazard), models.EventUpdate)

	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "⚠️ Road Hazard updated", record.Title)
}

func TestNotify_GlobalDisableShortCircuits(t *testing.T) {
	settings := DefaultSettings()
	settings.Global.Enabled = false
	c, history := newTestCoordinator(settings, nil)

	record, err := c.NotifyForReportEvent(context.Background(), "user-1", sampleReport(models.CategoryAccident), models.EventNew)

	require.NoError(t, err)
	assert.Nil(t, record)
	assert.Empty(t, history.created) // 短路时不产生任何持久化记录
}

func TestNotify_CategoryDisableShortCircuits(t *testing.T) {
	settings := DefaultSettings()
	cat := settings.Categories["accidents"]
	cat.Enabled = false
	settings.Categories["accidents"] = cat
	c, history := newTestCoordinator(settings, nil)

	record, err := c.NotifyForReportEvent(context.Background(), "user-1", sampleReport(models.CategoryAccident), models.EventNew)

	require.NoError(t, err)
	assert.Nil(t, record)
	assert.Empty(t, history.created)
}

func TestNotify_UnknownCategorySkipped(t *testing.T) {
	c, history := newTestCoordinator(DefaultSettings(), nil)

	record, err := c.NotifyForReportEvent(context.Background(), "user-1", sampleReport("mystery"), models.EventNew)

	require.NoError(t, err)
	assert.Nil(t, record)
	assert.Empty(t, history.created)
}

func TestNotify_QuietHoursProduceNoRecord(t *testing.T) {
	settings := DefaultSettings()
	settings.Global.QuietHoursEnabled = true
	settings.Global.QuietHoursStart = "22:00"
	settings.Global.QuietHoursEnd = "07:00"
	c, history := newTestCoordinator(settings, nil)
	c.now = func() time.Time { return at(time.Tuesday, "23:30") }

	record, err := c.NotifyForReportEvent(context.Background(), "user-1", sampleReport(models.CategoryAccident), models.EventNew)

	require.NoError(t, err)
	assert.Nil(t, record)
	assert.Empty(t, history.created)
}

func TestNotify_ThrottleSuppressesSecondNotification(t *testing.T) {
	settings := DefaultSettings()
	cat := settings.Categories["traffic_jams"]
	cat.Frequency = models.FrequencyHourly
	settings.Categories["traffic_jams"] = cat
	c, history := newTestCoordinator(settings, nil)

	base := at(time.Wednesday, "12:00")
	c.now = func() time.Time { return base }

	first, err := c.NotifyForReportEvent(context.Background(), "user-1", sampleReport(models.CategoryTrafficJam), models.EventNew)
	require.NoError(t, err)
	require.NotNil(t, first)

	// 30 分钟后仍在节流窗口内
	c.now = func() time.Time { return base.Add(30 * time.Minute) }
	second, err := c.NotifyForReportEvent(context.Background(), "user-1", sampleReport(models.CategoryTrafficJam), models.EventNew)
	require.NoError(t, err)
	assert.Nil(t, second)

	// 61 分钟后窗口过期
	c.now = func() time.Time { return base.Add(61 * time.Minute) }
	third, err := c.NotifyForReportEvent(context.Background(), "user-1", sampleReport(models.CategoryTrafficJam), models.EventNew)
	require.NoError(t, err)
	assert.NotNil(t, third)

	assert.Len(t, history.created, 2)
}

func TestNotify_ThrottleIsPerCategory(t *testing.T) {
	settings := DefaultSettings()
	cat := settings.Categories["traffic_jams"]
	cat.Frequency = models.FrequencyHourly
	settings.Categories["traffic_jams"] = cat
	c, _ := newTestCoordinator(settings, nil)

	base := at(time.Wednesday, "12:00")
	c.now = func() time.Time { return base }

	first, err := c.NotifyForReportEvent(context.Background(), "user-1", sampleReport(models.CategoryTrafficJam), models.EventNew)
	require.NoError(t, err)
	require.NotNil(t, first)

	// 其他分类不受拥堵分类的节流影响
	second, err := c.NotifyForReportEvent(context.Background(), "user-1", sampleReport(models.CategoryAccident), models.EventNew)
	require.NoError(t, err)
	assert.NotNil(t, second)
}

func TestNotify_DispatchFailureKeepsRecord(t *testing.T) {
	dispatcher := &fakeDispatcher{err: fmt.Errorf("broker unreachable")}
	c, history := newTestCoordinator(DefaultSettings(), dispatcher)

	record, err := c.NotifyForReportEvent(context.Background(), "user-1", sampleReport(models.CategoryAccident), models.EventNew)

	// 投递失败不是错误：历史记录是事实来源
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Len(t, history.created, 1)
	assert.Equal(t, models.ChannelNone, record.Channel)
	assert.False(t, record.SoundPlayed)
	assert.Equal(t, 0, history.deliveryCalls)
}

func TestNotify_ShowSystemDisabledSkipsDispatch(t *testing.T) {
	settings := DefaultSettings()
	cat := settings.Categories["accidents"]
	cat.ShowSystem = false
	settings.Categories["accidents"] = cat

	dispatcher := &fakeDispatcher{}
	c, history := newTestCoordinator(settings, dispatcher)

	record, err := c.NotifyForReportEvent(context.Background(), "user-1", sampleReport(models.CategoryAccident), models.EventNew)

	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Len(t, history.created, 1)
	assert.Empty(t, dispatcher.dispatched)
	assert.Equal(t, models.ChannelNone, record.Channel)
}

func TestInQuietHours_OvernightWraparound(t *testing.T) {
	days := []int{0, 1, 2, 3, 4, 5, 6}

	assert.True(t, inQuietHours(at(time.Tuesday, "23:30"), "22:00", "07:00", days))
	assert.True(t, inQuietHours(at(time.Tuesday, "06:30"), "22:00", "07:00", days))
	assert.True(t, inQuietHours(at(time.Tuesday, "22:00"), "22:00", "07:00", days)) // 起点含
	assert.False(t, inQuietHours(at(time.Tuesday, "07:00"), "22:00", "07:00", days)) // 终点不含
	assert.False(t, inQuietHours(at(time.Tuesday, "12:00"), "22:00", "07:00", days))
}

func TestInQuietHours_SameDayWindow(t *testing.T) {
	days := []int{0, 1, 2, 3, 4, 5, 6}

	assert.True(t, inQuietHours(at(time.Friday, "13:30"), "13:00", "14:00", days))
	assert.False(t, inQuietHours(at(time.Friday, "14:30"), "13:00", "14:00", days))
}

func TestInQuietHours_WeekdaySet(t *testing.T) {
	weekdaysOnly := []int{1, 2, 3, 4, 5}

	assert.True(t, inQuietHours(at(time.Tuesday, "23:30"), "22:00", "07:00", weekdaysOnly))
	assert.False(t, inQuietHours(at(time.Saturday, "23:30"), "22:00", "07:00", weekdaysOnly))
	// 周六凌晨属于周五晚间的跨夜窗口
	assert.True(t, inQuietHours(at(time.Saturday, "02:00"), "22:00", "07:00", weekdaysOnly))
	// 周一凌晨属于周日晚间，周日不在集合内
	assert.False(t, inQuietHours(at(time.Monday, "02:00"), "22:00", "07:00", weekdaysOnly))
}

func TestInQuietHours_InvalidClock(t *testing.T) {
	assert.False(t, inQuietHours(at(time.Tuesday, "23:30"), "25:00", "07:00", nil))
	assert.False(t, inQuietHours(at(time.Tuesday, "23:30"), "", "07:00", nil))
}

func TestCleanupHistory_UsesRetentionDays(t *testing.T) {
	settings := DefaultSettings()
	settings.Global.AutoCleanupDays = 7
	c, history := newTestCoordinator(settings, nil)
	history.deletedCount = 3

	err := c.CleanupHistory(context.Background(), "user-1")

	require.NoError(t, err)
	require.Len(t, history.deleteRequests, 1)
	assert.Equal(t, 7*24*time.Hour, history.deleteRequests[0])
}

func TestCleanupHistory_DisabledWhenZero(t *testing.T) {
	settings := DefaultSettings()
	settings.Global.AutoCleanupDays = 0
	c, history := newTestCoordinator(settings, nil)

	err := c.CleanupHistory(context.Background(), "user-1")

	require.NoError(t, err)
	assert.Empty(t, history.deleteRequests)
}
