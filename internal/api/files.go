package api

import (
	"net/http"
	"net/netip"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"peershare/internal/models"
)

// ListFiles 获取文件列表及在线做种数 (GET /api/v1/files?name=)
func (h *Handler) ListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := h.tracker.Stats(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to collect file stats")
		ErrorRes(w, http.StatusInternalServerError, "failed to fetch files")
		return
	}

	if name := r.URL.Query().Get("name"); name != "" {
		files = lo.Filter(files, func(f models.FileWithStats, _ int) bool {
			return strings.Contains(strings.ToLower(f.Name), strings.ToLower(name))
		})
	}

	// 如果为空，返回空列表而非 nil
	if files == nil {
		files = []models.FileWithStats{}
	}

	JSONRes(w, http.StatusOK, map[string]interface{}{
		"total": len(files),
		"data":  files,
	})
}

// ListSources 获取某个文件当前的做种者 (GET /api/v1/files/{id}/sources)
func (h *Handler) ListSources(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 32)
	if err != nil || id < 0 {
		ErrorRes(w, http.StatusBadRequest, "invalid file id")
		return
	}

	addrs, err := h.tracker.Sources(r.Context(), []int32{int32(id)})
	if err != nil {
		h.logger.Error().Err(err).Int64("file", id).Msg("failed to query sources")
		ErrorRes(w, http.StatusInternalServerError, "failed to fetch sources")
		return
	}

	JSONRes(w, http.StatusOK, map[string]interface{}{
		"id":      id,
		"sources": lo.Map(addrs, func(a netip.AddrPort, _ int) string { return a.String() }),
	})
}
