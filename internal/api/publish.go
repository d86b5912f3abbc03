package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"peershare/internal/models"
	"peershare/internal/protocol"
)

// PublishRequest 登记文件的请求结构
type PublishRequest struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// PublishFile 登记新文件，效果与协议中的 UPLOAD 相同 (POST /api/v1/publish)
func (h *Handler) PublishFile(w http.ResponseWriter, r *http.Request) {
	var req PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorRes(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// 基础校验
	if strings.TrimSpace(req.Name) == "" || req.Size < 0 {
		ErrorRes(w, http.StatusBadRequest, "name is required and size must not be negative")
		return
	}

	id, err := h.tracker.Upload(models.NewFileEntry(req.Name, req.Size))
	if errors.Is(err, protocol.ErrPrecondition) {
		ErrorRes(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("name", req.Name).Msg("failed to publish file")
		ErrorRes(w, http.StatusInternalServerError, "failed to publish file")
		return
	}

	JSONRes(w, http.StatusCreated, map[string]interface{}{
		"message": "file published",
		"id":      id,
	})
}
