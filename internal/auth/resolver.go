package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/farha/internal/metrics"
	"github.com/hitoshi/farha/internal/security"
)

const (
	// DefaultProviderURL は外部IDプロバイダのセッションデータ取得エンドポイント。
	DefaultProviderURL = "https://demobackend.emergentagent.com/auth/v1/env/oauth/session-data"

	// sessionIDHeader は外部セッションIDを運ぶリクエストヘッダー。
	sessionIDHeader = "X-Session-ID"

	maxProviderResponseSize = 1 << 20

	// email と session_token はbtreeインデックスの対象のため、インデックス行の上限を超えない長さに制限する。
	maxEmailLength        = 320
	maxSessionTokenLength = 2048
)

var (
	// ErrProviderRejected はIDプロバイダが外部セッションIDを拒否した（200以外を返した）ことを表す。
	ErrProviderRejected = errors.New("identity provider rejected session id")

	// ErrProviderUnavailable はIDプロバイダに到達できない、またはレスポンスが解釈できないことを表す。
	ErrProviderUnavailable = errors.New("identity provider unavailable")
)

// Identity はIDプロバイダが検証したユーザー情報と永続セッショントークン。
type Identity struct {
	Email        string
	Name         string
	Picture      string
	SessionToken string
}

// IdentityResolver は外部セッションIDを検証済みIdentityに交換する。
type IdentityResolver interface {
	// Resolve はプロバイダへ1回だけ問い合わせる。リトライは行わない。
	// 拒否された場合はErrProviderRejected、通信失敗やタイムアウトの場合はErrProviderUnavailableをラップして返す。
	Resolve(ctx context.Context, externalSessionID string) (*Identity, error)
}

// providerResponse はIDプロバイダの成功レスポンス。
type providerResponse struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	Picture      string `json:"picture"`
	SessionToken string `json:"session_token"`
}

// HTTPResolver はHTTP GETでIDプロバイダに問い合わせるIdentityResolver実装。
type HTTPResolver struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    metrics.MetricsCollector
	endpoint   string
}

// NewHTTPResolver はHTTPResolverを生成する。
// httpClientのTimeoutが問い合わせ全体の上限となる。
// 問い合わせは常に1回のリクエストで完結させるため、httpClientの複製でリダイレクト追跡を無効化する。
func NewHTTPResolver(httpClient *http.Client, endpoint string, logger *slog.Logger, mc metrics.MetricsCollector) *HTTPResolver {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	client := *httpClient
	client.CheckRedirect = security.NoRedirect
	httpClient = &client

	if endpoint == "" {
		endpoint = DefaultProviderURL
	}
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	return &HTTPResolver{
		httpClient: httpClient,
		logger:     logger,
		metrics:    mc,
		endpoint:   endpoint,
	}
}

// Resolve は外部セッションIDをX-Session-IDヘッダーで送信し、プロフィールとトークンを取得する。
func (r *HTTPResolver) Resolve(ctx context.Context, externalSessionID string) (*Identity, error) {
	start := time.Now()
	defer func() {
		r.metrics.RecordIdentityResolveLatency(time.Since(start))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: リクエストの作成に失敗しました: %v", ErrProviderUnavailable, err)
	}
	req.Header.Set(sessionIDHeader, externalSessionID)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "FARHA/1.0")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.logger.Error("IDプロバイダの呼び出しに失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxProviderResponseSize))
		r.logger.Warn("IDプロバイダがセッションIDを拒否しました",
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, fmt.Errorf("%w: status %d", ErrProviderRejected, resp.StatusCode)
	}

	var body providerResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxProviderResponseSize)).Decode(&body); err != nil {
		r.logger.Error("IDプロバイダのレスポンスのパースに失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: レスポンスJSONのパースに失敗しました: %v", ErrProviderUnavailable, err)
	}

	if body.Email == "" || body.SessionToken == "" {
		r.logger.Error("IDプロバイダのレスポンスに必須項目がありません",
			slog.Bool("has_email", body.Email != ""),
			slog.Bool("has_session_token", body.SessionToken != ""),
		)
		return nil, fmt.Errorf("%w: email または session_token が欠落しています", ErrProviderUnavailable)
	}

	if len(body.Email) > maxEmailLength || len(body.SessionToken) > maxSessionTokenLength {
		r.logger.Warn("IDプロバイダのレスポンスが長さ上限を超えています",
			slog.Int("email_length", len(body.Email)),
			slog.Int("session_token_length", len(body.SessionToken)),
		)
		return nil, fmt.Errorf("%w: email または session_token が長すぎます", ErrProviderRejected)
	}

	return &Identity{
		Email:        body.Email,
		Name:         body.Name,
		Picture:      body.Picture,
		SessionToken: body.SessionToken,
	}, nil
}

var _ IdentityResolver = (*HTTPResolver)(nil)
