package policy

import (
	"fmt"
	"time"

	"roadwatch-reports/internal/models"
)

// categoryTTL 分类 TTL 表（固定配置，运行时不可修改）
// 报告在最后更新后超过 TTL 即视为过期
var categoryTTL = map[string]time.Duration{
	models.CategoryPoliceCheckpoint: 5 * time.Minute,
	models.CategoryAccident:         2 * time.Minute,
	models.CategoryWeatherAlert:     2 * time.Minute,
	models.CategoryGeneral:          10 * time.Minute,
	models.CategoryRoadHazard:       15 * time.Minute,
	models.CategoryTrafficJam:       15 * time.Minute,
}

// TTLFor 返回分类的 TTL
// 未知分类返回 ok=false，调用方按"永不过期"处理（fail closed）
func TTLFor(category string) (time.Duration, bool) {
	ttl, ok := categoryTTL[category]
	return ttl, ok
}

// Validate 校验每个分类枚举值都有且仅有一个 TTL 条目
// 在服务启动时调用，配置缺口直接失败
func Validate() error {
	for _, category := range models.AllCategories {
		ttl, ok := categoryTTL[category]
		if !ok {
			return fmt.Errorf("category %q has no TTL entry", category)
		}
		if ttl <= 0 {
			return fmt.Errorf("category %q has invalid TTL %v", category, ttl)
		}
	}
	for category := range categoryTTL {
		known := false
		for _, c := range models.AllCategories {
			if c == category {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("TTL entry for unknown category %q", category)
		}
	}
	return nil
}
