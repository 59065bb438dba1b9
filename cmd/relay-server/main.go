// Package main 提供独立的 formnet 中继服务器
//
// 中继服务器帮助 NAT 后的节点建立会话，并在两端之间转发 UDP 数据包。
//
// 使用方法:
//
//	relay-server -config /etc/formnet/relay.json
//	relay-server -listen 0.0.0.0:51820 -region eu-west
//
// 首次部署时可生成默认配置（含随机公钥）:
//
//	relay-server -init /etc/formnet/relay.json
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	formnet "github.com/dep2p/go-formnet"
	"github.com/dep2p/go-formnet/config"
	"github.com/dep2p/go-formnet/internal/util/logger"
	"github.com/dep2p/go-formnet/pkg/types"
)

var log = logger.Logger("cmd.relay")

// ═══════════════════════════════════════════════════════════════════════════
// 命令行参数
// ═══════════════════════════════════════════════════════════════════════════
//
//   命令行参数：运行时覆盖 / 快速测试
//   JSON 配置文件：持久化配置 / 长期运行
//
// ═══════════════════════════════════════════════════════════════════════════
var (
	configFile  = flag.String("config", "", "配置文件路径（JSON）")
	listenAddr  = flag.String("listen", "", "UDP 监听地址，覆盖配置")
	region      = flag.String("region", "", "区域标签，覆盖配置")
	publicKey   = flag.String("pubkey", "", "中继公钥（64 位十六进制），覆盖配置")
	endpoints   = flag.String("endpoints", "", "对外通告地址（逗号分隔），覆盖配置")
	bootstrap   = flag.String("bootstrap", "", "引导中继（逗号分隔），设置后启用后台发现")
	metricsAddr = flag.String("metrics", "", "指标监听地址，覆盖配置")
	noMetrics   = flag.Bool("no-metrics", false, "关闭指标导出")

	initConfig = flag.String("init", "", "把默认配置（含随机公钥）写入该路径后退出")
	logFile    = flag.String("log", "", "日志文件路径（默认输出到 stderr）")
	fxLog      = flag.Bool("fx-log", false, "输出 fx 依赖注入日志")

	showVersion = flag.Bool("version", false, "显示版本信息")
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flag.Parse()

	if *showVersion {
		fmt.Println(formnet.VersionInfo())
		return nil
	}
	if *initConfig != "" {
		return writeDefaultConfig(*initConfig)
	}

	closeLog, err := setupLogging()
	if err != nil {
		return err
	}
	defer closeLog()

	opts, err := buildOptions()
	if err != nil {
		return fmt.Errorf("配置错误: %w", err)
	}

	relay, err := formnet.New(opts...)
	if err != nil {
		return fmt.Errorf("创建中继失败: %w", err)
	}

	startCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := relay.Start(startCtx); err != nil {
		return fmt.Errorf("启动失败: %w", err)
	}

	printRelayInfo(relay)
	sig := waitForSignal()
	log.Info("收到信号，正在关闭", "signal", sig.String())

	return relay.Close()
}

// buildOptions 依次叠加配置文件、环境变量与命令行参数
func buildOptions() ([]formnet.Option, error) {
	var opts []formnet.Option
	if *configFile != "" {
		opts = append(opts, formnet.WithConfigFile(*configFile))
	}

	envOpts, err := envOptions()
	if err != nil {
		return nil, err
	}
	opts = append(opts, envOpts...)

	if *listenAddr != "" {
		opts = append(opts, formnet.WithListenAddr(*listenAddr))
	}
	if isFlagSet("region") {
		opts = append(opts, formnet.WithRegion(*region))
	}
	if *publicKey != "" {
		pk, err := types.ParsePeerKey(*publicKey)
		if err != nil {
			return nil, err
		}
		opts = append(opts, formnet.WithPublicKey(pk))
	}
	if *endpoints != "" {
		opts = append(opts, formnet.WithEndpoints(splitAndTrim(*endpoints, ",")...))
	}
	if *bootstrap != "" {
		opts = append(opts, formnet.WithBootstrapRelays(splitAndTrim(*bootstrap, ",")...))
	}
	switch {
	case *noMetrics:
		opts = append(opts, formnet.WithMetrics(false, ""))
	case *metricsAddr != "":
		opts = append(opts, formnet.WithMetrics(true, *metricsAddr))
	}

	if *fxLog {
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		opts = append(opts, formnet.WithFxLogger(l))
	}
	return opts, nil
}

func isFlagSet(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// writeDefaultConfig 写入默认配置
func writeDefaultConfig(path string) error {
	cfg := config.DefaultConfig()
	cfg.PublicKey = types.GeneratePeerKey()
	if err := cfg.Save(path); err != nil {
		return err
	}
	fmt.Printf("默认配置已写入 %s\n", cfg.Path())
	fmt.Printf("中继公钥: %s\n", cfg.PublicKey)
	return nil
}

// setupLogging 日志输出到文件（-log 或 FORMNET_LOG_FILE），返回关闭函数
func setupLogging() (func(), error) {
	path := *logFile
	if path == "" {
		path = getLogFileFromEnv()
	}
	if path == "" {
		return func() {}, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600) //nolint:gosec // G304: 用户指定的日志路径是预期行为
	if err != nil {
		return nil, fmt.Errorf("打开日志文件: %w", err)
	}
	logger.SetOutput(f)
	return func() {
		logger.SetOutput(os.Stderr)
		_ = f.Close()
	}, nil
}

// waitForSignal 等待退出信号
func waitForSignal() os.Signal {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	return <-signals
}

// printRelayInfo 打印中继信息
func printRelayInfo(relay *formnet.Relay) {
	info := relay.Info()
	cfg := relay.Config()

	fmt.Println("╔══════════════════════════════════════════════════════╗")
	fmt.Println("║                formnet relay server                  ║")
	fmt.Println("╚══════════════════════════════════════════════════════╝")
	fmt.Printf("版本:     %s\n", formnet.VersionInfo())
	fmt.Printf("公钥:     %s\n", info.PublicKey)
	fmt.Printf("监听:     %s\n", relay.Addr())
	fmt.Printf("通告地址: %s\n", strings.Join(info.Endpoints, ", "))
	if info.Region != "" {
		fmt.Printf("区域:     %s\n", info.Region)
	}
	fmt.Printf("能力:     %s\n", info.Capabilities)
	fmt.Printf("会话上限: %d（单客户端 %d）\n", cfg.Limits.MaxSessions, cfg.Limits.MaxSessionsPerClient)
	if addr := relay.MetricsAddr(); addr != "" {
		fmt.Printf("指标:     http://%s/metrics\n", addr)
	}
	if cfg.Discovery.Enabled {
		fmt.Printf("后台发现: %d 个引导中继，每 %s 刷新\n", len(cfg.Discovery.BootstrapRelays), cfg.Discovery.Interval)
	}
	fmt.Println("按 Ctrl+C 停止服务器")
}
