package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/qaboard/internal/database"
)

// healthPingTimeout はヘルスチェック時のDB疎通確認のタイムアウト。
const healthPingTimeout = 2 * time.Second

type healthResponse struct {
	Status string `json:"status"`
}

// NewHealthHandler はヘルスチェック用のハンドラーを返す。
// pingerがnilの場合（インメモリストレージ）はDB確認を行わず常に200を返す。
// GET /health
func NewHealthHandler(pinger database.Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if pinger != nil {
			if err := database.Ping(r.Context(), pinger, healthPingTimeout); err != nil {
				slog.Warn("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	}
}
