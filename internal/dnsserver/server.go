package dnsserver

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/hewenyu/relay-fleet/internal/config"
	"github.com/hewenyu/relay-fleet/internal/observability"
	"github.com/hewenyu/relay-fleet/internal/strategy"
	"github.com/hewenyu/relay-fleet/pkg/registry"
)

// Server DNS接入面：负载均衡主机域名的A查询由策略引擎现场选出
// 一个成员节点并返回其地址，未知域名返回NXDOMAIN。
type Server struct {
	udpServer *dns.Server
	tcpServer *dns.Server
	cfg       *config.Config
	logger    config.Logger
	registry  registry.Registry
	engine    *strategy.Engine
	metrics   *observability.Metrics
}

// NewServer 创建DNS服务器
func NewServer(
	cfg *config.Config,
	logger config.Logger,
	reg registry.Registry,
	engine *strategy.Engine,
	metrics *observability.Metrics,
) *Server {
	return &Server{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		engine:   engine,
		metrics:  metrics,
	}
}

// Start 按配置的协议启动DNS服务器
func (s *Server) Start() error {
	s.logger.Info("启动DNS服务器",
		zap.String("address", s.cfg.DNS.ListenAddress),
		zap.Int("port", s.cfg.DNS.Port),
		zap.String("protocol", s.cfg.DNS.Protocol))

	handler := dns.NewServeMux()
	handler.HandleFunc(".", s.handleDNSRequest)

	addr := net.JoinHostPort(s.cfg.DNS.ListenAddress, strconv.Itoa(s.cfg.DNS.Port))

	switch s.cfg.DNS.Protocol {
	case "udp":
		return s.startUDPServer(addr, handler)
	case "tcp":
		return s.startTCPServer(addr, handler)
	case "both":
		if err := s.startUDPServer(addr, handler); err != nil {
			return err
		}
		return s.startTCPServer(addr, handler)
	default:
		return fmt.Errorf("不支持的DNS协议: %s", s.cfg.DNS.Protocol)
	}
}

// startUDPServer 启动UDP服务器
func (s *Server) startUDPServer(addr string, handler dns.Handler) error {
	s.udpServer = &dns.Server{
		Addr:    addr,
		Net:     "udp",
		Handler: handler,
	}

	go func() {
		if err := s.udpServer.ListenAndServe(); err != nil {
			s.logger.Error("UDP DNS服务器错误", zap.Error(err))
		}
	}()

	return nil
}

// startTCPServer 启动TCP服务器
func (s *Server) startTCPServer(addr string, handler dns.Handler) error {
	s.tcpServer = &dns.Server{
		Addr:    addr,
		Net:     "tcp",
		Handler: handler,
	}

	go func() {
		if err := s.tcpServer.ListenAndServe(); err != nil {
			s.logger.Error("TCP DNS服务器错误", zap.Error(err))
		}
	}()

	return nil
}

// Shutdown 优雅关闭DNS服务器
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("正在关闭DNS服务器...")

	if s.udpServer != nil {
		if err := s.udpServer.ShutdownContext(ctx); err != nil {
			s.logger.Error("关闭UDP DNS服务器出错", zap.Error(err))
			return err
		}
	}

	if s.tcpServer != nil {
		if err := s.tcpServer.ShutdownContext(ctx); err != nil {
			s.logger.Error("关闭TCP DNS服务器出错", zap.Error(err))
			return err
		}
	}

	return nil
}

// handleDNSRequest 处理DNS请求
func (s *Server) handleDNSRequest(w dns.ResponseWriter, r *dns.Msg) {
	m := new(dns.Msg)
	m.SetReply(r)
	m.Authoritative = true

	for _, q := range r.Question {
		s.logger.Debug("收到DNS查询",
			zap.String("name", q.Name),
			zap.String("type", dns.TypeToString[q.Qtype]),
			zap.String("client", w.RemoteAddr().String()))

		if !s.handleQuery(q, m) {
			m.SetRcode(r, dns.RcodeNameError)
			s.metrics.RecordDNSQuery("nxdomain")
		} else {
			s.metrics.RecordDNSQuery("answered")
		}
	}

	if err := w.WriteMsg(m); err != nil {
		s.logger.Error("发送DNS响应失败", zap.Error(err))
	}
}

// handleQuery 处理单个查询问题。
// 只应答负载均衡主机域名的A查询，答案是策略引擎当场选出的成员节点地址。
func (s *Server) handleQuery(q dns.Question, m *dns.Msg) bool {
	if q.Qtype != dns.TypeA {
		return false
	}

	domain := strings.TrimSuffix(strings.ToLower(q.Name), ".")

	ctx := context.Background()
	host, err := s.registry.GetHostByName(ctx, domain)
	if err != nil {
		s.logger.Debug("域名未绑定负载均衡主机", zap.String("domain", domain))
		return false
	}

	node, err := s.engine.SelectForHost(ctx, host)
	if err != nil {
		s.logger.Warn("DNS查询选择节点失败",
			zap.String("domain", domain),
			zap.Int("group_id", host.GroupID),
			zap.Error(err))
		return false
	}

	rr, err := dns.NewRR(fmt.Sprintf("%s. A %s", domain, node.Address))
	if err != nil {
		s.logger.Error("创建A记录失败", zap.Error(err))
		return false
	}

	m.Answer = append(m.Answer, rr)
	return true
}
