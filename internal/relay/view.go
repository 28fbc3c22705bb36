package relay

import (
	"sync"
	"time"

	"roadwatch-reports/internal/models"
)

// ActiveView 活跃报告的本地有序视图（最新更新在前）
// 保证任一 report_id 至多出现一次；所有变更带 last-write-wins 版本判断，
// 两条近邻事件的水合结果乱序完成时，旧版本会被丢弃
type ActiveView struct {
	mu      sync.RWMutex
	order   []string
	byID    map[string]*models.Report
	applied map[string]time.Time // 每个 id 最后应用的 updated_at（移除后保留，挡住迟到的旧事件）
}

// NewActiveView 创建本地视图
func NewActiveView() *ActiveView {
	return &ActiveView{
		byID:    make(map[string]*models.Report),
		applied: make(map[string]time.Time),
	}
}

// Insert 插入报告（去重：已存在则忽略）
// 返回是否实际插入
func (v *ActiveView) Insert(report *models.Report) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, exists := v.byID[report.ReportID]; exists {
		return false // 重复投递（如本地乐观插入 + 服务端回显）
	}
	if !v.shouldApply(report.ReportID, report.UpdatedAt) {
		return false
	}

	v.byID[report.ReportID] = report
	v.order = append([]string{report.ReportID}, v.order...)
	v.applied[report.ReportID] = report.UpdatedAt
	return true
}

// Update 原位替换报告；视图中不存在时按新报告插入
// 返回是否实际应用（旧版本被丢弃时返回 false）
func (v *ActiveView) Update(report *models.Report) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.shouldApply(report.ReportID, report.UpdatedAt) {
		return false
	}

	if _, exists := v.byID[report.ReportID]; exists {
		v.byID[report.ReportID] = report
	} else {
		v.byID[report.ReportID] = report
		v.order = append([]string{report.ReportID}, v.order...)
	}
	v.applied[report.ReportID] = report.UpdatedAt
	return true
}

// Remove 移除报告
// 返回是否实际移除
func (v *ActiveView) Remove(reportID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, exists := v.byID[reportID]; !exists {
		return false
	}

	delete(v.byID, reportID)
	for i, id := range v.order {
		if id == reportID {
			v.order = append(v.order[:i], v.order[i+1:]...)
			break
		}
	}
	return true
}

// ReplaceAll 整体替换视图内容（重连后的全量对账）
func (v *ActiveView) ReplaceAll(reports []*models.Report) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.order = make([]string, 0, len(reports))
	v.byID = make(map[string]*models.Report, len(reports))
	for _, report := range reports {
		if _, exists := v.byID[report.ReportID]; exists {
			continue
		}
		v.byID[report.ReportID] = report
		v.order = append(v.order, report.ReportID)
		if report.UpdatedAt.After(v.applied[report.ReportID]) {
			v.applied[report.ReportID] = report.UpdatedAt
		}
	}
}

// Snapshot 返回当前视图快照（有序副本）
func (v *ActiveView) Snapshot() []*models.Report {
	v.mu.RLock()
	defer v.mu.RUnlock()

	reports := make([]*models.Report, 0, len(v.order))
	for _, id := range v.order {
		reports = append(reports, v.byID[id])
	}
	return reports
}

// Contains 检查报告是否在视图中
func (v *ActiveView) Contains(reportID string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()

	_, exists := v.byID[reportID]
	return exists
}

// Len 视图中的报告数量
func (v *ActiveView) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()

	return len(v.order)
}

// shouldApply last-write-wins 版本判断（调用方持锁）
func (v *ActiveView) shouldApply(reportID string, updatedAt time.Time) bool {
	last, ok := v.applied[reportID]
	if !ok {
		return true
	}
	return !updatedAt.Before(last)
}
