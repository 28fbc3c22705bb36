package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roadwatch-reports/internal/models"
)

func TestValidate_AllCategoriesCovered(t *testing.T) {
	err := Validate()
	require.NoError(t, err)
}

func TestTTLFor_KnownCategories(t *testing.T) {
	expected := map[string]time.Duration{
		models.CategoryPoliceCheckpoint: 5 * time.Minute,
		models.CategoryAccident:         2 * time.Minute,
		models.CategoryWeatherAlert:     2 * time.Minute,
		models.CategoryGeneral:          10 * time.Minute,
		models.CategoryRoadHazard:       15 * time.Minute,
		models.CategoryTrafficJam:       15 * time.Minute,
	}

	for category, want := range expected {
		ttl, ok := TTLFor(category)
		require.True(t, ok, category)
		assert.Equal(t, want, ttl, category)
	}
}

func TestTTLFor_UnknownCategory(t *testing.T) {
	_, ok := TTLFor("unknown_category")
	assert.False(t, ok)
}

func TestExpiryTime_ExactOffset(t *testing.T) {
	lastUpdated := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// 过期时间点 - 最后更新时间 == TTL，无漂移
	for _, category := range models.AllCategories {
		ttl, ok := TTLFor(category)
		require.True(t, ok)

		expiry, ok := ExpiryTime(category, lastUpdated)
		require.True(t, ok)
		assert.Equal(t, ttl, expiry.Sub(lastUpdated), category)
	}
}

func TestExpiryTime_UnknownCategory(t *testing.T) {
	_, ok := ExpiryTime("unknown_category", time.Now())
	assert.False(t, ok)
}

func TestIsExpiredAt_Boundaries(t *testing.T) {
	// police_checkpoint TTL = 5 分钟
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// T0+4m59s 仍然有效
	assert.False(t, IsExpiredAt(models.CategoryPoliceCheckpoint, t0, t0.Add(4*time.Minute+59*time.Second)))

	// 正好到达过期时间点即过期（now >= expiry）
	assert.True(t, IsExpiredAt(models.CategoryPoliceCheckpoint, t0, t0.Add(5*time.Minute)))

	// T0+5m01s 已过期
	assert.True(t, IsExpiredAt(models.CategoryPoliceCheckpoint, t0, t0.Add(5*time.Minute+time.Second)))
}

func TestIsExpiredAt_UnknownCategoryNeverExpires(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	assert.False(t, IsExpiredAt("unknown_category", t0, t0.Add(24*time.Hour)))
}

func TestRemainingMinutesAt_FloorsAndNeverNegative(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// 剩 59 秒报告 0 分钟（向下取整）但尚未过期
	now := t0.Add(4*time.Minute + 1*time.Second)
	assert.Equal(t, 0, RemainingMinutesAt(models.CategoryPoliceCheckpoint, t0, now))
	assert.False(t, IsExpiredAt(models.CategoryPoliceCheckpoint, t0, now))

	// 剩 2 分 30 秒报告 2 分钟
	assert.Equal(t, 2, RemainingMinutesAt(models.CategoryPoliceCheckpoint, t0, t0.Add(2*time.Minute+30*time.Second)))

	// 已过期很久也不为负
	assert.Equal(t, 0, RemainingMinutesAt(models.CategoryPoliceCheckpoint, t0, t0.Add(time.Hour)))
}

func TestRemainingMinutes_ConsistentWithIsExpired(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// 对任意分类和时间点：已过期 => 剩余 0；剩余 > 0 => 未过期
	offsets := []time.Duration{
		0, 30 * time.Second, time.Minute, 90 * time.Second,
		2 * time.Minute, 5 * time.Minute, 5*time.Minute + time.Second,
		10 * time.Minute, 15 * time.Minute, time.Hour,
	}
	for _, category := range models.AllCategories {
		for _, offset := range offsets {
			now := t0.Add(offset)
			remaining := RemainingMinutesAt(category, t0, now)
			expired := IsExpiredAt(category, t0, now)

			if expired {
				assert.Equal(t, 0, remaining, "%s at +%v", category, offset)
			}
			if remaining > 0 {
				assert.False(t, expired, "%s at +%v", category, offset)
			}
		}
	}
}

func TestIsAboutToExpireAt(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// 剩 1 分 30 秒 => 剩余 1 分钟，即将过期
	assert.True(t, IsAboutToExpireAt(models.CategoryPoliceCheckpoint, t0, t0.Add(3*time.Minute+30*time.Second)))

	// 剩 3 分钟 => 不算即将过期
	assert.False(t, IsAboutToExpireAt(models.CategoryPoliceCheckpoint, t0, t0.Add(2*time.Minute)))

	// 剩 30 秒 => 剩余 0 分钟，不算即将过期（由 IsExpired 之外的 UI 逻辑处理）
	assert.False(t, IsAboutToExpireAt(models.CategoryPoliceCheckpoint, t0, t0.Add(4*time.Minute+30*time.Second)))

	// 已过期 => 不算即将过期
	assert.False(t, IsAboutToExpireAt(models.CategoryPoliceCheckpoint, t0, t0.Add(6*time.Minute)))
}
