package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/farha/internal/auth"
	"github.com/hitoshi/farha/internal/chat"
	"github.com/hitoshi/farha/internal/middleware"
	"github.com/hitoshi/farha/internal/model"
	"github.com/hitoshi/farha/internal/repository"
	"github.com/hitoshi/farha/internal/security"
	"github.com/hitoshi/farha/internal/voice"
)

// --- インメモリストア ---

type memState struct {
	mu       sync.Mutex
	users    map[string]*model.User
	sessions map[string]*model.AuthSession
	messages []*model.ChatMessage
}

func newMemState() *memState {
	return &memState{
		users:    make(map[string]*model.User),
		sessions: make(map[string]*model.AuthSession),
	}
}

type memUsers struct{ *memState }

func (m memUsers) FindByID(_ context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (m memUsers) FindByEmail(_ context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m memUsers) Insert(_ context.Context, user *model.User) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email {
			return false, nil
		}
	}
	if _, ok := m.users[user.ID]; ok {
		return false, repository.ErrDuplicateKey
	}
	cp := *user
	m.users[user.ID] = &cp
	return true, nil
}

type memSessions struct{ *memState }

func (m memSessions) Insert(_ context.Context, session *model.AuthSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[session.SessionToken]; ok && existing.UserID != session.UserID {
		return repository.ErrDuplicateKey
	}
	cp := *session
	m.sessions[session.SessionToken] = &cp
	return nil
}

func (m memSessions) FindValid(_ context.Context, token string, now time.Time) (*model.AuthSession, *model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[token]
	if !ok || !s.IsValidAt(now) {
		return nil, nil, nil
	}
	cs := *s
	u, ok := m.users[s.UserID]
	if !ok {
		return &cs, nil, nil
	}
	cu := *u
	return &cs, &cu, nil
}

func (m memSessions) DeleteByUserID(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for token, s := range m.sessions {
		if s.UserID == userID {
			delete(m.sessions, token)
			n++
		}
	}
	return n, nil
}

func (m memSessions) DeleteExpiredBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for token, s := range m.sessions {
		if s.ExpiresAt.Before(cutoff) {
			delete(m.sessions, token)
			n++
		}
	}
	return n, nil
}

type memChat struct{ *memState }

func (m memChat) Create(_ context.Context, msg *model.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *msg
	m.messages = append(m.messages, &cp)
	return nil
}

func (m memChat) ListByUserID(_ context.Context, userID string, limit int) ([]*model.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.ChatMessage
	for _, msg := range m.messages {
		if msg.UserID == userID {
			cp := *msg
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var (
	_ repository.UserRepository        = memUsers{}
	_ repository.SessionRepository     = memSessions{}
	_ repository.ChatMessageRepository = memChat{}
)

// stubResolver は登録済みの外部セッションIDだけを受け付けるIDプロバイダ。
type stubResolver struct {
	identities map[string]*auth.Identity
}

func (s *stubResolver) Resolve(_ context.Context, externalSessionID string) (*auth.Identity, error) {
	id, ok := s.identities[externalSessionID]
	if !ok {
		return nil, auth.ErrProviderRejected
	}
	cp := *id
	return &cp, nil
}

// --- テスト用サーバー ---

type testServer struct {
	handler http.Handler
	state   *memState
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	state := newMemState()
	resolver := &stubResolver{identities: map[string]*auth.Identity{
		"ext-alice": {Email: "alice@example.com", Name: "Alice", SessionToken: "tok-alice"},
		"ext-bob":   {Email: "bob@example.com", Name: "Bob", SessionToken: "tok-bob"},
	}}
	sanitizer := security.NewTextSanitizer()

	authService := auth.NewService(auth.ServiceDeps{
		Resolver:    resolver,
		UserRepo:    memUsers{state},
		SessionRepo: memSessions{state},
		Sanitizer:   sanitizer,
		URLGuard:    security.NewOutboundGuard(),
	})
	chatService := chat.NewService(chat.NewMockResponder(), memChat{state}, sanitizer, nil, nil, 0)

	cfg := middleware.DefaultRateLimiterConfig()
	cfg.CleanupInterval = time.Hour
	limiter := middleware.NewRateLimiter(cfg)
	t.Cleanup(limiter.Stop)

	h := NewRouter(&RouterDeps{
		Authenticator: authService,
		RateLimiter:   limiter,
		CORSOrigins:   []string{"http://localhost:3000"},
		AuthService:   authService,
		ChatService:   chatService,
		VoiceService:  voice.NewStubService(),
	})
	return &testServer{handler: h, state: state}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.RemoteAddr = "192.0.2.10:54321"
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func (ts *testServer) login(t *testing.T, externalID string) string {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/api/auth/session", "", map[string]string{"session_id": externalID})
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		SessionToken string `json:"session_token"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode login response: %v", err)
	}
	return resp.SessionToken
}

func decodeErrorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v (raw=%q)", err, w.Body.String())
	}
	return body.Code
}

// --- テスト ---

func TestRouter_Health_IsPublic(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestRouter_CreateSession_ReturnsUserAndToken(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/auth/session", "", map[string]string{"session_id": "ext-alice"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		User struct {
			ID      string  `json:"id"`
			Email   string  `json:"email"`
			Name    string  `json:"name"`
			Picture *string `json:"picture"`
		} `json:"user"`
		SessionToken string    `json:"session_token"`
		ExpiresAt    time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if resp.User.Email != "alice@example.com" || resp.User.Name != "Alice" {
		t.Errorf("user = %+v", resp.User)
	}
	if resp.User.Picture != nil {
		t.Errorf("picture = %v, want null", *resp.User.Picture)
	}
	if resp.SessionToken != "tok-alice" {
		t.Errorf("session_token = %q, want tok-alice", resp.SessionToken)
	}
	wantExpiry := time.Now().Add(auth.SessionTTL)
	if d := resp.ExpiresAt.Sub(wantExpiry); d > time.Minute || d < -time.Minute {
		t.Errorf("expires_at = %v, want about %v", resp.ExpiresAt, wantExpiry)
	}
}

func TestRouter_CreateSession_UnknownExternalID_Returns400(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/auth/session", "", map[string]string{"session_id": "mock_session_id_for_testing"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if code := decodeErrorCode(t, w); code != model.ErrCodeInvalidSession {
		t.Errorf("code = %q, want %q", code, model.ErrCodeInvalidSession)
	}
	if len(ts.state.users) != 0 || len(ts.state.sessions) != 0 {
		t.Errorf("store was modified: users=%d sessions=%d", len(ts.state.users), len(ts.state.sessions))
	}
}

func TestRouter_CreateSession_MissingSessionID_Returns400(t *testing.T) {
	ts := newTestServer(t)

	for _, body := range []string{`{}`, `{"session_id":""}`, `{"session_id":"   "}`} {
		w := ts.do(t, http.MethodPost, "/api/auth/session", "", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want %d", body, w.Code, http.StatusBadRequest)
			continue
		}
		if code := decodeErrorCode(t, w); code != model.ErrCodeSessionIDRequired {
			t.Errorf("body %s: code = %q, want %q", body, code, model.ErrCodeSessionIDRequired)
		}
	}
}

func TestRouter_CreateSession_MalformedBody_Returns400(t *testing.T) {
	ts := newTestServer(t)

	for _, body := range []string{`not json`, `{"session_id":"ext-alice","extra":1}`, `{"session_id":1}`} {
		w := ts.do(t, http.MethodPost, "/api/auth/session", "", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want %d", body, w.Code, http.StatusBadRequest)
			continue
		}
		if code := decodeErrorCode(t, w); code != model.ErrCodeInvalidRequest {
			t.Errorf("body %s: code = %q, want %q", body, code, model.ErrCodeInvalidRequest)
		}
	}
}

func TestRouter_ProtectedRoutes_WithoutCredential_Return401(t *testing.T) {
	ts := newTestServer(t)

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/chat"},
		{http.MethodGet, "/api/chat/history"},
		{http.MethodPost, "/api/voice/tts"},
		{http.MethodPost, "/api/voice/stt"},
		{http.MethodGet, "/api/voice/voices"},
		{http.MethodGet, "/api/user/profile"},
		{http.MethodPost, "/api/auth/logout"},
	}
	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			w := ts.do(t, rt.method, rt.path, "", nil)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
			if code := decodeErrorCode(t, w); code != model.ErrCodeAuthenticationRequired {
				t.Errorf("code = %q, want %q", code, model.ErrCodeAuthenticationRequired)
			}
		})
	}
}

func TestRouter_UnknownToken_Returns401(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/user/profile", "never-issued", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if code := decodeErrorCode(t, w); code != model.ErrCodeInvalidOrExpiredSession {
		t.Errorf("code = %q, want %q", code, model.ErrCodeInvalidOrExpiredSession)
	}
}

func TestRouter_Profile_ReturnsGateResolvedUser(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t, "ext-alice")

	w := ts.do(t, http.MethodGet, "/api/user/profile", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp userResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if resp.Email != "alice@example.com" {
		t.Errorf("email = %q, want alice@example.com", resp.Email)
	}
}

func TestRouter_RepeatedLogin_ReusesUser(t *testing.T) {
	ts := newTestServer(t)

	ts.login(t, "ext-alice")
	ts.login(t, "ext-alice")

	if len(ts.state.users) != 1 {
		t.Errorf("users = %d, want 1", len(ts.state.users))
	}
}

func TestRouter_Logout_RevokesAllSessionsOfUser(t *testing.T) {
	ts := newTestServer(t)
	aliceToken := ts.login(t, "ext-alice")
	bobToken := ts.login(t, "ext-bob")

	w := ts.do(t, http.MethodPost, "/api/auth/logout", aliceToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("logout status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if resp["message"] != "Logged out successfully" {
		t.Errorf("message = %q", resp["message"])
	}

	w = ts.do(t, http.MethodGet, "/api/user/profile", aliceToken, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("reused token status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	w = ts.do(t, http.MethodGet, "/api/user/profile", bobToken, nil)
	if w.Code != http.StatusOK {
		t.Errorf("other user's token status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestRouter_Chat_SendAndHistory(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t, "ext-alice")

	w := ts.do(t, http.MethodPost, "/api/chat", token, map[string]any{"message": "hello"})
	if w.Code != http.StatusOK {
		t.Fatalf("send status = %d, body = %s", w.Code, w.Body.String())
	}
	var sent chatResponse
	if err := json.NewDecoder(w.Body).Decode(&sent); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if !strings.Contains(sent.Response, "hello") || sent.MessageID == "" {
		t.Errorf("response = %+v", sent)
	}

	w = ts.do(t, http.MethodGet, "/api/chat/history", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("history status = %d, body = %s", w.Code, w.Body.String())
	}
	var history []chatMessageResponse
	if err := json.NewDecoder(w.Body).Decode(&history); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(history) != 1 || history[0].ID != sent.MessageID || history[0].Message != "hello" {
		t.Errorf("history = %+v", history)
	}
}

func TestRouter_Chat_HistoryIsScopedToUser(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.login(t, "ext-alice")
	bob := ts.login(t, "ext-bob")

	ts.do(t, http.MethodPost, "/api/chat", alice, map[string]any{"message": "from alice"})

	w := ts.do(t, http.MethodGet, "/api/chat/history", bob, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var history []chatMessageResponse
	if err := json.NewDecoder(w.Body).Decode(&history); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("bob sees %d messages, want 0", len(history))
	}
}

func TestRouter_Voices_ReturnsPremadeList(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t, "ext-alice")

	w := ts.do(t, http.MethodGet, "/api/voice/voices", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Voices []voice.Voice `json:"voices"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(resp.Voices) != 3 || resp.Voices[0].Name != "Rachel" {
		t.Errorf("voices = %+v", resp.Voices)
	}
}

func TestRouter_CORSPreflight(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Allow-Origin = %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(got, "Authorization") {
		t.Errorf("Allow-Headers = %q, want Authorization", got)
	}
}

func TestRouter_SecurityHeadersOnEveryResponse(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/user/profile", "", nil)
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
}

// TestRouter_LoginRateLimit_IgnoresForwardedHeaders は転送系ヘッダーを偽装しても
// ログインのレート制限を回避できないことをテストする。
func TestRouter_LoginRateLimit_IgnoresForwardedHeaders(t *testing.T) {
	ts := newTestServer(t)
	burst := middleware.DefaultRateLimiterConfig().LoginBurst

	var last *httptest.ResponseRecorder
	for i := 0; i <= burst; i++ {
		spoofed := fmt.Sprintf("203.0.113.%d", i+1)
		req := httptest.NewRequest(http.MethodPost, "/api/auth/session", strings.NewReader(`{"session_id":"unknown"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", spoofed)
		req.Header.Set("X-Real-IP", spoofed)
		req.Header.Set("True-Client-IP", spoofed)
		req.RemoteAddr = "192.0.2.10:54321"
		last = httptest.NewRecorder()
		ts.handler.ServeHTTP(last, req)
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("status after %d spoofed requests = %d, want %d", burst+1, last.Code, http.StatusTooManyRequests)
	}
}

func TestRouter_LoginRateLimit(t *testing.T) {
	ts := newTestServer(t)
	burst := middleware.DefaultRateLimiterConfig().LoginBurst

	var last *httptest.ResponseRecorder
	for i := 0; i <= burst; i++ {
		last = ts.do(t, http.MethodPost, "/api/auth/session", "", map[string]string{"session_id": "unknown"})
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("status after %d requests = %d, want %d", burst+1, last.Code, http.StatusTooManyRequests)
	}
	if last.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header is missing")
	}
}

func TestRouter_MetricsNotExposedWithoutGatherer(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/metrics", "", nil)
	if w.Code == http.StatusOK {
		t.Errorf("status = %d, want non-200 when no gatherer is configured", w.Code)
	}
}
