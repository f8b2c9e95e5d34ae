package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hewenyu/relay-fleet/internal/config"
	"github.com/hewenyu/relay-fleet/internal/conntrack"
	"github.com/hewenyu/relay-fleet/internal/dnsserver"
	"github.com/hewenyu/relay-fleet/internal/health"
	"github.com/hewenyu/relay-fleet/internal/observability"
	"github.com/hewenyu/relay-fleet/internal/sampler"
	"github.com/hewenyu/relay-fleet/internal/strategy"
	"github.com/hewenyu/relay-fleet/internal/window"
	"github.com/hewenyu/relay-fleet/pkg/api"
	"github.com/hewenyu/relay-fleet/pkg/registry/etcd"
	"github.com/hewenyu/relay-fleet/pkg/registry/memory"
)

var configFile string

func init() {
	flag.StringVar(&configFile, "config", "", "配置文件路径")
}

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	logger.Info("Relay Fleet Engine Starting...",
		zap.String("version", "0.1.0"),
		zap.String("registry_backend", cfg.Registry.Backend),
		zap.Int("management_api_port", cfg.API.Management.Port),
		zap.Bool("dns_enabled", cfg.DNS.Enabled),
	)

	// 选择注册表后端
	var store api.RegistryStore
	switch cfg.Registry.Backend {
	case "etcd":
		etcdReg, err := etcd.NewEtcdRegistry(cfg, logger)
		if err != nil {
			logger.Error("连接etcd失败", zap.Error(err))
			os.Exit(1)
		}
		defer etcdReg.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := etcdReg.Ping(pingCtx); err != nil {
			cancel()
			logger.Error("etcd健康检查失败", zap.Error(err))
			os.Exit(1)
		}
		cancel()
		logger.Info("etcd连接成功并通过健康检查")
		store = etcdReg
	case "memory":
		store = memory.NewMemoryRegistry()
		logger.Info("使用内存注册表后端")
	default:
		logger.Error("不支持的注册表后端", zap.String("backend", cfg.Registry.Backend))
		os.Exit(1)
	}

	metrics := observability.NewMetrics()
	samples := window.NewStore(cfg.Sampler.WindowSize, cfg.Sampler.MaxSampleAge)
	classifier := health.NewClassifier(health.ThresholdsFromConfig(cfg))
	tracker := conntrack.NewTracker(0)
	aggregator := health.NewAggregator(store, samples, classifier, tracker, logger)

	seed := cfg.Strategy.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	engine := strategy.NewEngine(store, samples, classifier, tracker, logger, metrics, seed)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// 后台采样与连接记录清理
	s := sampler.NewSampler(store, samples, sampler.NewHTTPProber(), cfg, logger, metrics)
	s.Start(rootCtx)
	tracker.StartSweeper(rootCtx, time.Hour, logger)

	// 管理API
	apiServer := api.NewServer(cfg, logger, store, aggregator, engine, tracker)
	if err := apiServer.Start(); err != nil {
		logger.Error("启动管理API失败", zap.Error(err))
		os.Exit(1)
	}

	// DNS接入面（可选）
	var dnsServer *dnsserver.Server
	if cfg.DNS.Enabled {
		dnsServer = dnsserver.NewServer(cfg, logger, store, engine, metrics)
		if err := dnsServer.Start(); err != nil {
			logger.Error("启动DNS服务器失败", zap.Error(err))
			os.Exit(1)
		}
	}

	// 等待信号以优雅关闭
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("接收到关闭信号，正在优雅关闭...")
	rootCancel()
	s.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if dnsServer != nil {
		if err := dnsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("关闭DNS服务器出错", zap.Error(err))
		}
	}
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("关闭管理API出错", zap.Error(err))
	}

	logger.Info("服务已退出")
}
