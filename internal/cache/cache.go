package cache

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
)

// Store はキャッシュのバックエンド。
type Store interface {
	// Get はキーの値を返す。存在しないか期限切れの場合は ok=false。
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// Set は値をgroupに所属させて保存する。
	Set(ctx context.Context, group, key string, value []byte, ttl time.Duration) error
	// DeleteGroups はグループに属する全キーを削除する。
	DeleteGroups(ctx context.Context, groups ...string) error
	// Flush は全キーを削除する。
	Flush(ctx context.Context) error
}

// Metrics はキャッシュの利用状況を記録するインターフェース。
type Metrics interface {
	RecordCacheResult(kind string, hit bool)
}

// Service は型付きキーによるキャッシュアサイドと無効化を提供する。
// nilの*Serviceは常にロード関数を直接呼び出す。
type Service struct {
	store   Store
	ttl     time.Duration
	metrics Metrics
	logger  *slog.Logger

	// epoch は無効化のたびに進む。ロード中に無効化が起きた結果は保存しない。
	epoch atomic.Uint64
}

// Option はServiceの設定を変更する。
type Option func(*Service)

// WithMetrics はメトリクス記録先を設定する。
func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger はロガーを設定する。
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New はServiceを生成する。
func New(store Store, ttl time.Duration, opts ...Option) *Service {
	s := &Service{
		store:  store,
		ttl:    ttl,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fetch はキーの値をキャッシュから返し、なければloadの結果を保存して返す。
// キャッシュの障害はログに記録し、loadの結果をそのまま返す。
func Fetch[T any](ctx context.Context, s *Service, key Key, load func(ctx context.Context) (T, error)) (T, error) {
	if s == nil {
		return load(ctx)
	}

	k := key.String()
	raw, ok, err := s.store.Get(ctx, k)
	if err != nil {
		s.logger.Warn("cache get failed", slog.String("key", k), slog.String("error", err.Error()))
	}
	if ok {
		var v T
		if err := sonic.Unmarshal(raw, &v); err == nil {
			s.record(key, true)
			return v, nil
		}
		s.logger.Warn("cache decode failed", slog.String("key", k))
	}
	s.record(key, false)

	epoch := s.epoch.Load()
	v, err := load(ctx)
	if err != nil {
		return v, err
	}

	if s.epoch.Load() != epoch {
		return v, nil
	}
	encoded, err := sonic.Marshal(v)
	if err != nil {
		s.logger.Warn("cache encode failed", slog.String("key", k), slog.String("error", err.Error()))
		return v, nil
	}
	if err := s.store.Set(ctx, key.Group(), k, encoded, s.ttl); err != nil {
		s.logger.Warn("cache set failed", slog.String("key", k), slog.String("error", err.Error()))
		return v, nil
	}
	// 確認からSetまでの間に無効化が走った場合、保存した値は古い可能性がある
	if s.epoch.Load() != epoch {
		if err := s.store.DeleteGroups(ctx, key.Group()); err != nil {
			s.logger.Warn("cache invalidation failed", slog.String("key", k), slog.String("error", err.Error()))
		}
	}
	return v, nil
}

// Invalidate はキーが属するグループを削除する。
func (s *Service) Invalidate(ctx context.Context, keys ...Key) {
	if s == nil || len(keys) == 0 {
		return
	}
	s.epoch.Add(1)

	seen := make(map[string]struct{}, len(keys))
	groups := make([]string, 0, len(keys))
	for _, k := range keys {
		g := k.Group()
		if _, ok := seen[g]; ok {
			continue
		}
		seen[g] = struct{}{}
		groups = append(groups, g)
	}

	if err := s.store.DeleteGroups(ctx, groups...); err != nil {
		s.logger.Warn("cache invalidation failed",
			slog.Any("groups", groups),
			slog.String("error", err.Error()),
		)
	}
}

// Flush は全エントリを削除する。
// 変更通知を取りこぼした可能性がある場合に使う。
func (s *Service) Flush(ctx context.Context) {
	if s == nil {
		return
	}
	s.epoch.Add(1)
	if err := s.store.Flush(ctx); err != nil {
		s.logger.Warn("cache flush failed", slog.String("error", err.Error()))
	}
}

func (s *Service) record(key Key, hit bool) {
	if s.metrics != nil {
		s.metrics.RecordCacheResult(string(key.Kind()), hit)
	}
}
