package config

import "errors"

var (
	// ErrConfigNotFound 配置文件不存在
	ErrConfigNotFound = errors.New("config: file not found")

	// ErrInvalidConfig 配置无法解析或校验失败
	ErrInvalidConfig = errors.New("config: invalid config")
)
