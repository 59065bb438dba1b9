package server

import (
	"errors"
	"fmt"
)

var (
	// ErrIO 套接字读写失败
	ErrIO = errors.New("relay: i/o error")

	// ErrServerClosed 节点未运行或已停止
	ErrServerClosed = errors.New("relay server closed")

	// ErrAlreadyStarted 节点已在运行
	ErrAlreadyStarted = errors.New("relay server already started")

	// ErrDropped 数据报因大小或速率被丢弃
	ErrDropped = errors.New("relay: datagram dropped")

	// ErrOversized 数据报超过 MaxPacketSize
	ErrOversized = fmt.Errorf("%w: oversized", ErrDropped)
)
