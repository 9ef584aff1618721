package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/strmonitor/internal/model"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	AdminRate       rate.Limit    // 管理APIのレート（req/sec）。60/60 = 1 req/sec
	AdminBurst      int           // 管理APIのバーストサイズ
	WebhookRate     rate.Limit    // 決済Webhookのレート（req/sec）。300/60 = 5 req/sec
	WebhookBurst    int           // 決済Webhookのバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// 管理API 60 req/min/IP、決済Webhook 300 req/min/IP。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return NewRateLimiterConfig(60, 300)
}

// NewRateLimiterConfig は1分あたりのリクエスト数からRateLimiterConfigを生成する。
func NewRateLimiterConfig(adminPerMin, webhookPerMin int) RateLimiterConfig {
	return RateLimiterConfig{
		AdminRate:       perMinute(adminPerMin),
		AdminBurst:      max(adminPerMin, 1),
		WebhookRate:     perMinute(webhookPerMin),
		WebhookBurst:    max(webhookPerMin, 1),
		CleanupInterval: 5 * time.Minute,
	}
}

func perMinute(n int) rate.Limit {
	if n <= 0 {
		return rate.Inf
	}
	return rate.Limit(float64(n) / 60.0)
}

// clientLimiter はクライアントごとのレートリミッターとアクセス時刻を保持する。
type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// limiterPool は同一レート設定のクライアント別リミッター群。
type limiterPool struct {
	name  string
	rate  rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*clientLimiter
}

func newLimiterPool(name string, r rate.Limit, burst int) *limiterPool {
	return &limiterPool{
		name:     name,
		rate:     r,
		burst:    burst,
		limiters: make(map[string]*clientLimiter),
	}
}

// get はクライアントのリミッターを取得または作成する。
func (p *limiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if cl, ok := p.limiters[key]; ok {
		cl.lastAccess = now
		return cl.limiter
	}

	limiter := rate.NewLimiter(p.rate, p.burst)
	p.limiters[key] = &clientLimiter{limiter: limiter, lastAccess: now}
	return limiter
}

// sweep は最終アクセス時刻がttlを超えたエントリを削除する。
func (p *limiterPool) sweep(now time.Time, ttl time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, cl := range p.limiters {
		if now.Sub(cl.lastAccess) > ttl {
			delete(p.limiters, key)
		}
	}
}

func (p *limiterPool) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.limiters)
}

// middleware はクライアントIPごとにレート制限するミドルウェアを返す。
func (p *limiterPool) middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if !p.get(ip).Allow() {
				writeRateLimitResponse(w, p.rate)
				slog.Warn("rate limit exceeded",
					slog.String("client_ip", ip),
					slog.String("limit_type", p.name),
				)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimiter はクライアントIPごとのレート制限を管理する。
// 管理APIと決済Webhookの2種類を独立に提供する。
type RateLimiter struct {
	config  RateLimiterConfig
	admin   *limiterPool
	webhook *limiterPool

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:  config,
		admin:   newLimiterPool("admin", config.AdminRate, config.AdminBurst),
		webhook: newLimiterPool("webhook", config.WebhookRate, config.WebhookBurst),
		stopCh:  make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。複数回呼んでもよい。
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// AdminMiddleware は管理APIのレート制限ミドルウェアを返す。
func (rl *RateLimiter) AdminMiddleware() func(next http.Handler) http.Handler {
	return rl.admin.middleware()
}

// WebhookMiddleware は決済Webhookのレート制限ミドルウェアを返す。
func (rl *RateLimiter) WebhookMiddleware() func(next http.Handler) http.Handler {
	return rl.webhook.middleware()
}

// AdminLimiterCount は現在管理されている管理APIリミッターのエントリ数を返す。テスト用。
func (rl *RateLimiter) AdminLimiterCount() int {
	return rl.admin.len()
}

// WebhookLimiterCount は現在管理されている決済Webhookリミッターのエントリ数を返す。テスト用。
func (rl *RateLimiter) WebhookLimiterCount() int {
	return rl.webhook.len()
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup() {
	ttl := rl.config.CleanupInterval * 2
	now := time.Now()
	rl.admin.sweep(now, ttl)
	rl.webhook.sweep(now, ttl)
}

// clientIP はリクエスト元IPを返す。chiのRealIPミドルウェア適用後のRemoteAddrを使う。
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	retryAfterSec := 1
	if r > 0 && r != rate.Inf {
		retryAfterSec = max(int(math.Ceil(1.0/float64(r))), 1)
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	WriteAPIError(w, http.StatusTooManyRequests, &model.APIError{
		Code:     "RATE_LIMIT_EXCEEDED",
		Message:  "Too many requests",
		Category: "system",
		Action:   "Wait and retry after the time given in Retry-After.",
	})
}
