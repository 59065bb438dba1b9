package discovery

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Service 后台发现任务
type Service struct {
	registry RelayRegistry
	interval time.Duration
	clock    clock.Clock

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewService 创建后台发现任务
func NewService(registry RelayRegistry, interval time.Duration, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		registry: registry,
		interval: interval,
		clock:    clk,
	}
}

// Start 启动任务；已在运行时什么也不做
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)

	log.Info("后台中继发现已启动", "interval", s.interval)
}

// Stop 取消任务并等待其退出
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	log.Info("后台中继发现已停止")
}

// Running 任务是否在运行
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Service) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()

	s.round(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.round(ctx)
		}
	}
}

// round 执行一轮刷新与剪除
func (s *Service) round(ctx context.Context) {
	added, err := s.registry.RefreshFromBootstrap(ctx)
	switch {
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		log.Warn("引导刷新部分失败", "added", added, "error", err)
	case added > 0:
		log.Info("发现新中继", "added", added)
	}

	if pruned := s.registry.Prune(); pruned > 0 {
		log.Info("剪除过期中继", "pruned", pruned)
	}
}
