package discovery

import "errors"

var (
	// ErrNoBootstrap 未配置引导中继
	ErrNoBootstrap = errors.New("discovery: no bootstrap relays")

	// ErrQueryTimeout 引导中继在超时内无响应
	ErrQueryTimeout = errors.New("discovery: query timed out")

	// ErrUnexpectedResponse 响应与查询不匹配
	ErrUnexpectedResponse = errors.New("discovery: unexpected response")
)
