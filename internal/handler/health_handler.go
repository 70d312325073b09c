package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/farha/internal/database"
)

const (
	serviceName   = "F.A.R.H.A AI Assistant"
	healthTimeout = 2 * time.Second
)

// HealthHandler はヘルスチェックのHTTPハンドラー。
type HealthHandler struct {
	pinger database.Pinger
}

// NewHealthHandler はHealthHandlerを生成する。pingerがnilの場合はDB確認を省略する。
func NewHealthHandler(pinger database.Pinger) *HealthHandler {
	return &HealthHandler{pinger: pinger}
}

type healthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// Health はサービスとデータベースの稼働状態を返す。
// GET /api/health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := h.pinger.PingContext(ctx); err != nil {
			slog.Error("health check failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unhealthy", Service: serviceName})
			return
		}
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "healthy", Service: serviceName})
}
