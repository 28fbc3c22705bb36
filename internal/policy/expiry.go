package policy

import (
	"time"
)

// 过期计算器：纯函数，无 I/O，无副作用
// 后台清扫器和 UI 倒计时共用同一套计算

// ExpiryTime 计算过期时间点：lastUpdated + TTL(category)
// 未知分类返回 ok=false（永不过期）
func ExpiryTime(category string, lastUpdated time.Time) (time.Time, bool) {
	ttl, ok := TTLFor(category)
	if !ok {
		return time.Time{}, false
	}
	return lastUpdated.Add(ttl), true
}

// IsExpiredAt 判断在 now 时刻报告是否已过期
func IsExpiredAt(category string, lastUpdated, now time.Time) bool {
	expiry, ok := ExpiryTime(category, lastUpdated)
	if !ok {
		return false
	}
	return !now.Before(expiry)
}

// IsExpired 判断报告当前是否已过期
func IsExpired(category string, lastUpdated time.Time) bool {
	return IsExpiredAt(category, lastUpdated, time.Now())
}

// RemainingMinutesAt 计算在 now 时刻的剩余分钟数
// 向下取整且永不为负：剩 59 秒返回 0，调用方用 IsExpired 区分"剩 0 分钟"和"已过期"
func RemainingMinutesAt(category string, lastUpdated, now time.Time) int {
	expiry, ok := ExpiryTime(category, lastUpdated)
	if !ok {
		return 0
	}
	remaining := expiry.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(remaining / time.Minute)
}

// RemainingMinutes 计算当前剩余分钟数
func RemainingMinutes(category string, lastUpdated time.Time) int {
	return RemainingMinutesAt(category, lastUpdated, time.Now())
}

// IsAboutToExpireAt 判断在 now 时刻是否即将过期（0 < 剩余分钟数 <= 1）
// 仅用于 UI 紧急程度着色，不参与状态转换决策
func IsAboutToExpireAt(category string, lastUpdated, now time.Time) bool {
	m := RemainingMinutesAt(category, lastUpdated, now)
	return m > 0 && m <= 1
}

// IsAboutToExpire 判断当前是否即将过期
func IsAboutToExpire(category string, lastUpdated time.Time) bool {
	return IsAboutToExpireAt(category, lastUpdated, time.Now())
}
