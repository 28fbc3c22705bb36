package notifier

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"roadwatch-reports/internal/models"
)

func setupSettingsStore(t *testing.T) (*SettingsStore, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewSettingsStore(client, "reports:settings:", zap.NewNop()), mr
}

func TestSettingsGet_DefaultsOnFirstRead(t *testing.T) {
	store, _ := setupSettingsStore(t)

	settings, err := store.Get(context.Background(), "user-1")

	require.NoError(t, err)
	assert.True(t, settings.Global.Enabled)
	assert.False(t, settings.Global.QuietHoursEnabled)
	assert.Equal(t, 30, settings.Global.AutoCleanupDays)

	// 每个分类都有默认设置块
	for _, category := range models.AllCategories {
		key := categorySettingsKey[category]
		cat, ok := settings.Categories[key]
		require.True(t, ok, "missing default settings for %s", key)
		assert.True(t, cat.Enabled)
	}
}

func TestSettingsSaveAndGet_RoundTrip(t *testing.T) {
	store, _ := setupSettingsStore(t)
	ctx := context.Background()

	settings := DefaultSettings()
	settings.Global.QuietHoursEnabled = true
	settings.Global.QuietHoursStart = "23:00"
	cat := settings.Categories["traffic_jams"]
	cat.Enabled = false
	settings.Categories["traffic_jams"] = cat

	require.NoError(t, store.Save(ctx, "user-1", settings))

	loaded, err := store.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, loaded.Global.QuietHoursEnabled)
	assert.Equal(t, "23:00", loaded.Global.QuietHoursStart)
	assert.False(t, loaded.Categories["traffic_jams"].Enabled)

	// 其他用户不受影响
	other, err := store.Get(ctx, "user-2")
	require.NoError(t, err)
	assert.False(t, other.Global.QuietHoursEnabled)
}

func TestSettingsGet_CorruptFallsBackToDefaults(t *testing.T) {
	store, mr := setupSettingsStore(t)

	require.NoError(t, mr.Set("reports:settings:user-1", "{not json"))

	settings, err := store.Get(context.Background(), "user-1")

	require.NoError(t, err)
	assert.True(t, settings.Global.Enabled)
	assert.NotEmpty(t, settings.Categories)
}

func TestSettingsGet_EmptyUserID(t *testing.T) {
	store, _ := setupSettingsStore(t)

	settings, err := store.Get(context.Background(), "")

	assert.Error(t, err)
	assert.Nil(t, settings)
}

func TestSettingsSave_NilSettings(t *testing.T) {
	store, _ := setupSettingsStore(t)

	err := store.Save(context.Background(), "user-1", nil)

	assert.Error(t, err)
}
