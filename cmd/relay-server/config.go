package main

import (
	"os"
	"strings"

	formnet "github.com/dep2p/go-formnet"
	"github.com/dep2p/go-formnet/pkg/types"
)

// ============================================================================
//                              环境变量覆盖（CLI 专用）
// ============================================================================

// 环境变量名（均使用 FORMNET_ 前缀）
const (
	envPrefix          = "FORMNET_"
	envListenAddr      = "LISTEN_ADDR"
	envRegion          = "REGION"
	envPublicKey       = "PUBLIC_KEY"
	envEndpoints       = "ENDPOINTS"
	envBootstrapRelays = "BOOTSTRAP_RELAYS"
	envRegistryPath    = "REGISTRY_PATH"
	envMetricsAddr     = "METRICS_ADDR"
	envLogFile         = "LOG_FILE"
)

// envOptions 把环境变量转换为选项
//
// 环境变量优先级高于配置文件，但低于命令行参数（命令行选项追加在其后）。
// 无法解析的值返回错误，避免静默忽略部署配置。
func envOptions() ([]formnet.Option, error) {
	var opts []formnet.Option

	if v := getenv(envListenAddr); v != "" {
		opts = append(opts, formnet.WithListenAddr(v))
	}
	if v := getenv(envRegion); v != "" {
		opts = append(opts, formnet.WithRegion(v))
	}
	if v := getenv(envPublicKey); v != "" {
		pk, err := types.ParsePeerKey(v)
		if err != nil {
			return nil, err
		}
		opts = append(opts, formnet.WithPublicKey(pk))
	}
	if v := getenv(envEndpoints); v != "" {
		opts = append(opts, formnet.WithEndpoints(splitAndTrim(v, ",")...))
	}
	if v := getenv(envBootstrapRelays); v != "" {
		opts = append(opts, formnet.WithBootstrapRelays(splitAndTrim(v, ",")...))
	}
	if v := getenv(envRegistryPath); v != "" {
		opts = append(opts, formnet.WithRegistryPath(v))
	}
	if v := getenv(envMetricsAddr); v != "" {
		opts = append(opts, formnet.WithMetrics(true, v))
	}
	return opts, nil
}

// getLogFileFromEnv 从环境变量获取日志文件路径
func getLogFileFromEnv() string {
	return getenv(envLogFile)
}

// ============================================================================
//                              辅助函数
// ============================================================================

func getenv(name string) string {
	return strings.TrimSpace(os.Getenv(envPrefix + name))
}

// splitAndTrim 分割字符串并去除空白
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
