package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/netip"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"peershare/internal/models"
)

// Tracker API 需要的 Tracker 操作
type Tracker interface {
	Stats(ctx context.Context) ([]models.FileWithStats, error)
	Upload(entry models.FileEntry) (int32, error)
	Sources(ctx context.Context, ids []int32) ([]netip.AddrPort, error)
}

// Handler 状态 API 处理器
type Handler struct {
	tracker Tracker
	logger  zerolog.Logger
}

// NewHandler 创建状态 API 处理器
func NewHandler(tracker Tracker, logger zerolog.Logger) *Handler {
	return &Handler{
		tracker: tracker,
		logger:  logger.With().Str("component", "api").Logger(),
	}
}

// corsMiddleware 简单的 CORS 中间件，允许前端跨域
func corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		// 放行 OPTIONS 预检请求
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	}
}

// RegisterRoutes 注册所有的 API 路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /api/v1/files", corsMiddleware(h.ListFiles))
	mux.HandleFunc("GET /api/v1/files/{id}/sources", corsMiddleware(h.ListSources))
	mux.HandleFunc("POST /api/v1/publish", corsMiddleware(h.PublishFile))
	mux.HandleFunc("OPTIONS /api/v1/", corsMiddleware(func(http.ResponseWriter, *http.Request) {}))
}

// Health 存活检查
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	JSONRes(w, http.StatusOK, map[string]string{"status": "ok"})
}

// JSONRes 返回 JSON 响应
func JSONRes(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Warn().Err(err).Msg("failed to encode json response")
	}
}

// ErrorRes 返回错误 JSON 响应
func ErrorRes(w http.ResponseWriter, status int, message string) {
	JSONRes(w, status, map[string]string{"error": message})
}
