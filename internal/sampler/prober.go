package sampler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hewenyu/relay-fleet/pkg/model"
)

// Result 一次探测的结果
type Result struct {
	// ResponseTime 响应时间，毫秒
	ResponseTime float64
	Success      bool
	// Error 失败原因，成功时为空
	Error string
}

// Prober 定义节点探测接口，便于在测试中替换为假实现
type Prober interface {
	// Probe 对节点执行一次健康探测，超时与取消由ctx控制
	Probe(ctx context.Context, node *model.Node) Result
}

// HTTPProber 通过节点健康端点执行HTTP探测
type HTTPProber struct {
	client *http.Client
}

// NewHTTPProber 创建HTTP探测器
func NewHTTPProber() *HTTPProber {
	return &HTTPProber{
		// 超时完全由每次探测的ctx控制
		client: &http.Client{},
	}
}

// Probe 对节点的/health端点执行一次GET探测。
// 超时、连接失败、非200响应都视为失败，原因写入Result.Error。
func (p *HTTPProber) Probe(ctx context.Context, node *model.Node) Result {
	start := time.Now()

	url := fmt.Sprintf("http://%s:%d/health", node.Address, node.APIPort)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{
			ResponseTime: elapsedMillis(start),
			Error:        "构造探测请求失败: " + err.Error(),
		}
	}

	resp, err := p.client.Do(req)
	if err != nil {
		result := Result{ResponseTime: elapsedMillis(start)}
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			result.Error = "Timeout"
		} else {
			result.Error = "Connection error: " + err.Error()
		}
		return result
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{
			ResponseTime: elapsedMillis(start),
			Error:        fmt.Sprintf("HTTP %d", resp.StatusCode),
		}
	}

	return Result{
		ResponseTime: elapsedMillis(start),
		Success:      true,
	}
}

// elapsedMillis 计算自start以来的毫秒数
func elapsedMillis(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}
