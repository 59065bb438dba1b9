package discovery

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/dep2p/go-formnet/config"
	"github.com/dep2p/go-formnet/internal/core/relay/protocol"
	"github.com/dep2p/go-formnet/internal/core/storage/kv"
	"github.com/dep2p/go-formnet/internal/util/logger"
	"github.com/dep2p/go-formnet/pkg/types"
)

var log = logger.Logger("relay.discovery")

// StorePrefix 注册表在 kv 中的前缀
const StorePrefix = "relay/"

// maxResponseSize 发现响应的读缓冲
const maxResponseSize = 64 * 1024

// RelayRegistry 外部中继注册表
//
// 中继节点只通过该接口驱动后台发现。
type RelayRegistry interface {
	// RefreshFromBootstrap 向引导中继查询并合并结果，返回新增中继数
	RefreshFromBootstrap(ctx context.Context) (int, error)

	// Prune 剪除过期中继，返回剪除数
	Prune() int
}

// Entry 注册表条目
type Entry struct {
	Info     types.RelayNodeInfo `json:"info"`
	LastSeen time.Time           `json:"last_seen"`
	// Source 提供该条目的引导中继地址
	Source string `json:"source"`
}

// Registry 已知中继注册表
type Registry struct {
	self    types.PeerKey
	cfg     config.DiscoveryConfig
	clock   clock.Clock
	timeout *AdaptiveTimeout
	store   *kv.Store

	mu     sync.RWMutex
	relays map[types.PeerKey]*Entry
}

// Option 注册表选项
type Option func(*Registry)

// WithClock 注入时钟（测试用）
func WithClock(c clock.Clock) Option {
	return func(r *Registry) { r.clock = c }
}

// WithStore 持久化到 kv
func WithStore(s *kv.Store) Option {
	return func(r *Registry) { r.store = s }
}

// NewRegistry 创建注册表；配置了存储时恢复已保存的条目
//
// self 为本中继公钥，永远不会进入注册表。
func NewRegistry(self types.PeerKey, cfg config.DiscoveryConfig, opts ...Option) (*Registry, error) {
	r := &Registry{
		self:    self,
		cfg:     cfg,
		clock:   clock.New(),
		timeout: NewAdaptiveTimeout(cfg.AdaptiveTimeout),
		relays:  make(map[types.PeerKey]*Entry),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.store != nil {
		if err := r.restore(); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) restore() error {
	var decodeErr error
	err := r.store.ForEach(func(key, value []byte) bool {
		var e Entry
		if err := json.Unmarshal(value, &e); err != nil {
			decodeErr = multierr.Append(decodeErr, fmt.Errorf("entry %s: %w", key, err))
			return true
		}
		if e.Info.PublicKey.IsZero() || e.Info.PublicKey == r.self {
			return true
		}
		r.relays[e.Info.PublicKey] = &e
		return true
	})
	if err != nil {
		return fmt.Errorf("restore relay registry: %w", err)
	}
	if decodeErr != nil {
		log.Warn("跳过损坏的注册表条目", "error", decodeErr)
	}
	log.Debug("恢复中继注册表", "relays", len(r.relays))
	return nil
}

// ============================================================================
//                              刷新
// ============================================================================

type queryResult struct {
	source string
	relays []types.RelayNodeInfo
}

// RefreshFromBootstrap 向所有引导中继并发查询
//
// 网络 I/O 不持有注册表锁；全部查询结束后在写锁内一次性合并。
// 部分引导中继失败时仍合并其余结果，并返回合并后的错误。
func (r *Registry) RefreshFromBootstrap(ctx context.Context) (int, error) {
	if len(r.cfg.BootstrapRelays) == 0 {
		return 0, ErrNoBootstrap
	}

	var (
		resMu   sync.Mutex
		results []queryResult
		errs    error
	)

	var g errgroup.Group
	g.SetLimit(max(r.cfg.Concurrency, 1))
	for _, addr := range r.cfg.BootstrapRelays {
		g.Go(func() error {
			relays, err := r.query(ctx, addr)

			resMu.Lock()
			defer resMu.Unlock()
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("query %s: %w", addr, err))
				return nil
			}
			results = append(results, queryResult{source: addr, relays: relays})
			return nil
		})
	}
	_ = g.Wait()

	added, changed := r.merge(results)
	r.persist(changed)

	log.Debug("引导刷新完成",
		"bootstrap", len(r.cfg.BootstrapRelays),
		"responded", len(results),
		"added", added,
		"timeout", r.timeout.Timeout())
	return added, errs
}

// query 向单个引导中继发送 DiscoveryQuery 并等待匹配的响应
func (r *Registry) query(ctx context.Context, addr string) ([]types.RelayNodeInfo, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	nonce := randomNonce()
	req, err := protocol.Encode(&protocol.DiscoveryQuery{Nonce: nonce})
	if err != nil {
		return nil, err
	}

	timeout := r.timeout.Timeout()
	deadline := time.Now().Add(timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}

	// ctx 取消时立即结束读取
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	start := time.Now()
	if _, err := conn.Write(req); err != nil {
		return nil, err
	}

	buf := make([]byte, maxResponseSize)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				r.timeout.Backoff()
				return nil, fmt.Errorf("%w after %s", ErrQueryTimeout, timeout)
			}
			return nil, err
		}

		var resp protocol.DiscoveryResponse
		if err := resp.UnmarshalBinary(buf[:n]); err != nil {
			log.Debug("忽略非发现响应", "from", addr, "error", err)
			continue
		}
		if resp.RequestNonce != nonce {
			log.Debug("忽略 nonce 不匹配的响应", "from", addr)
			continue
		}
		r.timeout.Observe(time.Since(start))
		return resp.Relays, nil
	}
}

// merge 在写锁内合并查询结果，返回新增数与需要持久化的条目
func (r *Registry) merge(results []queryResult) (int, []Entry) {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	added := 0
	var changed []Entry
	for _, res := range results {
		for _, info := range res.relays {
			if info.PublicKey.IsZero() || info.PublicKey == r.self {
				continue
			}
			e, ok := r.relays[info.PublicKey]
			if !ok {
				e = &Entry{}
				r.relays[info.PublicKey] = e
				added++
			}
			e.Info = info
			e.LastSeen = now
			e.Source = res.source
			changed = append(changed, *e)
		}
	}
	return added, changed
}

func (r *Registry) persist(entries []Entry) {
	if r.store == nil {
		return
	}
	for i := range entries {
		key := []byte(entries[i].Info.PublicKey.String())
		if err := r.store.PutJSON(key, &entries[i]); err != nil {
			log.Warn("保存中继失败", "relay", entries[i].Info.PublicKey.ShortString(), "error", err)
		}
	}
}

// ============================================================================
//                              剪除与查询
// ============================================================================

// Prune 剪除超过 StaleAfter 未再出现的中继
func (r *Registry) Prune() int {
	cutoff := r.clock.Now().Add(-r.cfg.StaleAfter.Std())

	r.mu.Lock()
	var stale []types.PeerKey
	for pk, e := range r.relays {
		if e.LastSeen.Before(cutoff) {
			stale = append(stale, pk)
			delete(r.relays, pk)
		}
	}
	r.mu.Unlock()

	if r.store != nil {
		for _, pk := range stale {
			if err := r.store.Delete([]byte(pk.String())); err != nil {
				log.Warn("删除中继失败", "relay", pk.ShortString(), "error", err)
			}
		}
	}
	if len(stale) > 0 {
		log.Debug("剪除过期中继", "count", len(stale))
	}
	return len(stale)
}

// Add 手动添加中继
func (r *Registry) Add(info types.RelayNodeInfo) bool {
	if info.PublicKey.IsZero() || info.PublicKey == r.self {
		return false
	}
	added, changed := r.merge([]queryResult{{source: "manual", relays: []types.RelayNodeInfo{info}}})
	r.persist(changed)
	return added > 0
}

// Get 返回指定中继的条目
func (r *Registry) Get(pk types.PeerKey) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.relays[pk]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Relays 返回所有已知中继（按公钥排序）
func (r *Registry) Relays() []types.RelayNodeInfo {
	r.mu.RLock()
	out := make([]types.RelayNodeInfo, 0, len(r.relays))
	for _, e := range r.relays {
		out = append(out, e.Info)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b types.RelayNodeInfo) int {
		return bytes.Compare(a.PublicKey[:], b.PublicKey[:])
	})
	return out
}

// Len 返回已知中继数
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.relays)
}

// Timeout 返回当前查询超时
func (r *Registry) Timeout() time.Duration {
	return r.timeout.Timeout()
}

func randomNonce() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return binary.BigEndian.Uint64(b[:])
}

var _ RelayRegistry = (*Registry)(nil)
