package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/farha/internal/model"
)

// --- モック定義 ---

type mockAuthenticator struct {
	calls          int
	lastToken      string
	authenticateFn func(token string) (*model.User, error)
}

func (m *mockAuthenticator) Authenticate(_ context.Context, token string) (*model.User, error) {
	m.calls++
	m.lastToken = token
	if m.authenticateFn != nil {
		return m.authenticateFn(token)
	}
	if token == "" {
		return nil, model.NewAuthenticationRequiredError()
	}
	return nil, model.NewInvalidOrExpiredSessionError()
}

var _ Authenticator = (*mockAuthenticator)(nil)

// --- テスト ---

func TestAuthMiddleware_ValidToken_InjectsUser(t *testing.T) {
	authn := &mockAuthenticator{
		authenticateFn: func(token string) (*model.User, error) {
			if token == "valid-token" {
				return &model.User{ID: "user-1", Email: "a@example.com"}, nil
			}
			return nil, model.NewInvalidOrExpiredSessionError()
		},
	}

	var captured *model.User
	handler := NewAuthMiddleware(authn)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = UserFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/user/profile", nil)
	req.Header.Set("Authorization", "Bearer valid-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if captured == nil || captured.ID != "user-1" {
		t.Errorf("user in context = %+v, want user-1", captured)
	}
}

func TestAuthMiddleware_FailureMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantBody string
	}{
		{"missing credential", model.NewAuthenticationRequiredError(), http.StatusUnauthorized, model.ErrCodeAuthenticationRequired},
		{"invalid or expired", model.NewInvalidOrExpiredSessionError(), http.StatusUnauthorized, model.ErrCodeInvalidOrExpiredSession},
		{"orphaned session", model.NewUserNotFoundError(), http.StatusNotFound, model.ErrCodeUserNotFound},
		{"store failure", model.NewPersistenceFailureError(errors.New("db down")), http.StatusInternalServerError, model.ErrCodePersistenceFailure},
		{"unexpected error", errors.New("plain"), http.StatusInternalServerError, model.ErrCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			authn := &mockAuthenticator{
				authenticateFn: func(string) (*model.User, error) { return nil, tt.err },
			}
			handlerCalled := false
			handler := NewAuthMiddleware(authn)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handlerCalled = true
			}))

			req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
			req.Header.Set("Authorization", "Bearer tok")
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if handlerCalled {
				t.Error("handler should not be called")
			}
			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tt.wantCode)
			}
			var body ErrorResponseBody
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode: %v", err)
			}
			if body.Code != tt.wantBody {
				t.Errorf("code = %s, want %s", body.Code, tt.wantBody)
			}
		})
	}
}

// TestAuthMiddleware_NoHeader_PassesEmptyToken はヘッダーなしの場合に空トークンで判定されることを検証する。
func TestAuthMiddleware_NoHeader_PassesEmptyToken(t *testing.T) {
	authn := &mockAuthenticator{}
	handler := NewAuthMiddleware(authn)(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/chat", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if authn.lastToken != "" {
		t.Errorf("token = %q, want empty", authn.lastToken)
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"標準形式", "Bearer abc123", "abc123"},
		{"小文字スキーム", "bearer abc123", "abc123"},
		{"余分な空白", "Bearer   abc123  ", "abc123"},
		{"ヘッダーなし", "", ""},
		{"スキームのみ", "Bearer", ""},
		{"Basic認証", "Basic dXNlcjpwYXNz", ""},
		{"スキームなし", "abc123", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if got := BearerToken(req); got != tt.want {
				t.Errorf("BearerToken() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUserFromContext_Missing(t *testing.T) {
	if _, err := UserFromContext(context.Background()); err == nil {
		t.Error("expected error for context without user")
	}
	if _, err := UserIDFromContext(context.Background()); err == nil {
		t.Error("expected error for context without user")
	}
}

func TestContextWithUser_RoundTrip(t *testing.T) {
	ctx := ContextWithUser(context.Background(), &model.User{ID: "user-ctx"})
	id, err := UserIDFromContext(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "user-ctx" {
		t.Errorf("user ID = %q, want user-ctx", id)
	}
}
