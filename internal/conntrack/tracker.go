package conntrack

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hewenyu/relay-fleet/internal/config"
)

// defaultTTL 活跃连接记录的默认存活时长
const defaultTTL = 24 * time.Hour

// Tracker 连接计数协作方的内存实现。
// 选择接口每次把客户端指向某个节点时记一笔；活跃连接按TTL
// 自然过期，聚合引擎只读取计数。
type Tracker struct {
	ttl time.Duration

	mu     sync.Mutex
	active map[int][]time.Time
	total  map[int]int64
}

// NewTracker 创建连接计数器，ttl<=0时使用默认值
func NewTracker(ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Tracker{
		ttl:    ttl,
		active: make(map[int][]time.Time),
		total:  make(map[int]int64),
	}
}

// Track 记录一次指向节点的连接
func (t *Tracker) Track(nodeID int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.active[nodeID] = append(t.active[nodeID], time.Now())
	t.total[nodeID]++
}

// ActiveConnections 获取节点当前活跃连接数
func (t *Tracker) ActiveConnections(nodeID int) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pruneLocked(nodeID)
	return len(t.active[nodeID])
}

// TotalConnections 获取节点累计连接数
func (t *Tracker) TotalConnections(nodeID int) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total[nodeID]
}

// Sweep 清理所有节点的过期连接记录
func (t *Tracker) Sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for nodeID := range t.active {
		t.pruneLocked(nodeID)
		if len(t.active[nodeID]) == 0 {
			delete(t.active, nodeID)
		}
	}
}

// StartSweeper 启动过期连接清理定时任务
func (t *Tracker) StartSweeper(ctx context.Context, interval time.Duration, logger config.Logger) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.Sweep()
				logger.Debug("已清理过期连接记录", zap.Duration("ttl", t.ttl))
			}
		}
	}()
}

// pruneLocked 删除节点的过期连接记录，调用方必须持有锁
func (t *Tracker) pruneLocked(nodeID int) {
	entries := t.active[nodeID]
	if len(entries) == 0 {
		return
	}

	cutoff := time.Now().Add(-t.ttl)
	kept := entries[:0]
	for _, ts := range entries {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	t.active[nodeID] = kept
}
