package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/strmonitor/internal/config"
	"github.com/hitoshi/strmonitor/internal/model"
)

func adminProbeHandler(called *bool, admin *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		*admin = IsAdmin(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestAdminAuth_Enforced_ValidToken(t *testing.T) {
	var called, admin bool
	handler := NewAdminAuthMiddleware(config.AuthModeEnforced, "s3cret")(adminProbeHandler(&called, &admin))

	req := httptest.NewRequest(http.MethodPost, "/api/admin/approve-change", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !called || !admin {
		t.Error("認証済みリクエストは管理者として次のハンドラーに渡されるべきです")
	}
}

func TestAdminAuth_Enforced_SchemeIsCaseInsensitive(t *testing.T) {
	var called, admin bool
	handler := NewAdminAuthMiddleware(config.AuthModeEnforced, "s3cret")(adminProbeHandler(&called, &admin))

	req := httptest.NewRequest(http.MethodPost, "/api/admin/approve-change", nil)
	req.Header.Set("Authorization", "bearer s3cret")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestAdminAuth_Enforced_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"ヘッダーなし", ""},
		{"トークン不一致", "Bearer wrong"},
		{"Bearerなし", "s3cret"},
		{"Basic認証", "Basic czNjcmV0"},
		{"トークンが空", "Bearer "},
		{"前方一致のみ", "Bearer s3cretx"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var called, admin bool
			handler := NewAdminAuthMiddleware(config.AuthModeEnforced, "s3cret")(adminProbeHandler(&called, &admin))

			req := httptest.NewRequest(http.MethodPost, "/api/admin/send-alerts", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
			if called {
				t.Error("未認証リクエストは次のハンドラーに渡されるべきではありません")
			}

			var body ErrorResponseBody
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
			if body.Error != "Unauthorized" {
				t.Errorf("error = %q, want %q", body.Error, "Unauthorized")
			}
			if body.Code != model.ErrCodeUnauthorized {
				t.Errorf("code = %q, want %q", body.Code, model.ErrCodeUnauthorized)
			}
		})
	}
}

func TestAdminAuth_Enforced_TokenNotConfigured(t *testing.T) {
	var called, admin bool
	handler := NewAdminAuthMiddleware(config.AuthModeEnforced, "")(adminProbeHandler(&called, &admin))

	req := httptest.NewRequest(http.MethodPost, "/api/admin/send-alerts", nil)
	req.Header.Set("Authorization", "Bearer ")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if called {
		t.Error("トークン未設定時は次のハンドラーに渡されるべきではありません")
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Code != model.ErrCodeAdminNotConfigured {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeAdminNotConfigured)
	}
}

func TestAdminAuth_Disabled_PassesThrough(t *testing.T) {
	var called, admin bool
	handler := NewAdminAuthMiddleware(config.AuthModeDisabled, "")(adminProbeHandler(&called, &admin))

	req := httptest.NewRequest(http.MethodPost, "/api/admin/send-alerts", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !called || !admin {
		t.Error("disabledモードではすべてのリクエストが通過するべきです")
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"BEARER abc ", "abc", true},
		{"Bearer", "", false},
		{"Token abc", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := bearerToken(tt.header)
		if got != tt.want || ok != tt.ok {
			t.Errorf("bearerToken(%q) = (%q, %v), want (%q, %v)", tt.header, got, ok, tt.want, tt.ok)
		}
	}
}
