package companion

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cheqin-app/backend/internal/model/companion"
	"github.com/cheqin-app/backend/pkg/utils"
)

// Handler companion服务的HTTP处理器
type Handler struct {
	companions companion.Store
}

// New 创建companion处理器
func New(companions companion.Store) *Handler {
	return &Handler{
		companions: companions,
	}
}

// RegisterRoutes 注册companion相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/companions", h.handleListCompanions)
}

// handleListCompanions 列出所有可选的陪伴角色
func (h *Handler) handleListCompanions(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.companions.List())
}
