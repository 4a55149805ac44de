package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/taskboard/internal/model"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate     rate.Limit // API全般のレート（req/sec）
	GeneralBurst    int
	InviteRate      rate.Limit // 招待作成のレート（req/sec）
	InviteBurst     int
	CleanupInterval time.Duration
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// API全般 120 req/min/user、招待作成 20 req/min/user。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return PerMinuteRateLimiterConfig(120, 20)
}

// PerMinuteRateLimiterConfig は1分あたりの上限からRateLimiterConfigを生成する。
// バーストは1分あたりの上限と同じ。
func PerMinuteRateLimiterConfig(general, invite int) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(float64(general) / 60),
		GeneralBurst:    general,
		InviteRate:      rate.Limit(float64(invite) / 60),
		InviteBurst:     invite,
		CleanupInterval: 5 * time.Minute,
	}
}

// limiterSet はユーザーごとのトークンバケット。
type limiterSet struct {
	name  string
	limit rate.Limit
	burst int

	mu      sync.Mutex
	entries map[string]*limiterEntry
}

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

func newLimiterSet(name string, limit rate.Limit, burst int) *limiterSet {
	return &limiterSet{name: name, limit: limit, burst: burst, entries: make(map[string]*limiterEntry)}
}

func (s *limiterSet) allow(userID string, now time.Time) bool {
	s.mu.Lock()
	e, ok := s.entries[userID]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.entries[userID] = e
	}
	e.lastAccess = now
	s.mu.Unlock()
	return e.limiter.AllowN(now, 1)
}

func (s *limiterSet) evictIdle(now time.Time, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for userID, e := range s.entries {
		if now.Sub(e.lastAccess) > ttl {
			delete(s.entries, userID)
		}
	}
}

func (s *limiterSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// middleware はセッションミドルウェアの後に配置する。
func (s *limiterSet) middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := UserIDFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthRequiredError())
				return
			}
			if !s.allow(userID, time.Now()) {
				slog.Warn("rate limit exceeded",
					slog.String("user_id", userID),
					slog.String("limit_type", s.name),
				)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(s.limit)))
				WriteErrorResponse(w, http.StatusTooManyRequests, newRateLimitedError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimiter はユーザーごとのレート制限を管理する。
// API全般と招待作成の制限は独立して消費される。
type RateLimiter struct {
	config  RateLimiterConfig
	general *limiterSet
	invite  *limiterSet

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimiter はRateLimiterを生成し、アイドルエントリの削除を開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	rl := &RateLimiter{
		config:  config,
		general: newLimiterSet("general", config.GeneralRate, config.GeneralBurst),
		invite:  newLimiterSet("invitation", config.InviteRate, config.InviteBurst),
		stopCh:  make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Stop はバックグラウンドの削除処理を停止する。複数回呼んでもよい。
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// GeneralMiddleware はAPI全般のレート制限ミドルウェアを返す。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return rl.general.middleware()
}

// InvitationMiddleware は招待作成のレート制限ミドルウェアを返す。
func (rl *RateLimiter) InvitationMiddleware() func(next http.Handler) http.Handler {
	return rl.invite.middleware()
}

// LimiterCounts は管理中のエントリ数を(API全般, 招待作成)で返す。
func (rl *RateLimiter) LimiterCounts() (general, invite int) {
	return rl.general.len(), rl.invite.len()
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			rl.cleanup(now)
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセスからCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup(now time.Time) {
	ttl := rl.config.CleanupInterval * 2
	rl.general.evictIdle(now, ttl)
	rl.invite.evictIdle(now, ttl)
}

// retryAfterSeconds は1トークンが補充されるまでの秒数を返す。
func retryAfterSeconds(limit rate.Limit) int {
	if limit <= 0 {
		return 60
	}
	sec := int(math.Ceil(1 / float64(limit)))
	if sec < 1 {
		sec = 1
	}
	return sec
}
