package model

import "time"

// HostStrategy 负载均衡主机的服务端选择策略
type HostStrategy string

const (
	// StrategyRoundRobin 轮询
	StrategyRoundRobin HostStrategy = "round_robin"
	// StrategyRandom 随机
	StrategyRandom HostStrategy = "random"
)

// ParseHostStrategy 解析主机策略字符串，未识别的取值返回false
func ParseHostStrategy(s string) (HostStrategy, bool) {
	switch HostStrategy(s) {
	case StrategyRoundRobin, StrategyRandom:
		return HostStrategy(s), true
	default:
		return "", false
	}
}

// LoadBalancerHost 虚拟负载均衡主机：绑定一个节点组和一个服务端策略。
// TLS与路由展示属性对健康逻辑完全不透明，引擎只做透传。
type LoadBalancerHost struct {
	ID   int    `json:"id"`
	Name string `json:"name"` // 对外域名
	// GroupID 绑定的弹性节点组
	GroupID  int          `json:"group_id"`
	Strategy HostStrategy `json:"strategy"`

	// 以下字段透传给下游展示层，引擎不解释
	SNI             string `json:"sni,omitempty"`
	Host            string `json:"host,omitempty"`
	ALPN            string `json:"alpn,omitempty"`
	Fingerprint     string `json:"fingerprint,omitempty"`
	RandomUserAgent bool   `json:"random_user_agent"`

	// SubscriptionToken 管理界面创建主机时生成的访问令牌
	SubscriptionToken string    `json:"subscription_token,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}
