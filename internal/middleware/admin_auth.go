// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/strmonitor/internal/config"
	"github.com/hitoshi/strmonitor/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// adminContextKey は管理者認証を通過したリクエストであることを示すキー。
	adminContextKey = contextKey("admin")
	// adminProbeKey はリクエストログが管理者フラグを受け取るためのキー。
	adminProbeKey = contextKey("admin_probe")
)

// NewAdminAuthMiddleware は管理APIの認証ミドルウェアを返す。
//
// enforcedモードでは Authorization: Bearer <token> を定数時間で比較し、不一致は401を返す。
// トークン未設定の場合は500 ADMIN_NOT_CONFIGUREDを返す。
// disabledモードではすべてのリクエストを通過させる。
func NewAdminAuthMiddleware(mode config.AuthMode, token string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if mode == config.AuthModeDisabled {
				next.ServeHTTP(w, r.WithContext(ContextWithAdmin(r.Context())))
				return
			}

			if token == "" {
				slog.Error("admin token is not configured")
				WriteAPIError(w, http.StatusInternalServerError, model.NewAdminNotConfiguredError())
				return
			}

			presented, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				slog.Warn("admin authentication failed",
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr),
				)
				WriteAPIError(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithAdmin(r.Context())))
		})
	}
}

// bearerToken はAuthorizationヘッダーからBearerトークンを取り出す。
func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	t := strings.TrimSpace(header[len(prefix):])
	return t, t != ""
}

// IsAdmin はリクエストが管理者認証を通過したかを返す。
func IsAdmin(ctx context.Context) bool {
	v, _ := ctx.Value(adminContextKey).(bool)
	return v
}

// ContextWithAdmin はコンテキストに管理者フラグを注入する。
func ContextWithAdmin(ctx context.Context) context.Context {
	if probe, ok := ctx.Value(adminProbeKey).(*bool); ok {
		*probe = true
	}
	return context.WithValue(ctx, adminContextKey, true)
}

func contextWithAdminProbe(ctx context.Context, probe *bool) context.Context {
	return context.WithValue(ctx, adminProbeKey, probe)
}
