package companion

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/companion-chat/internal/model/companion"
	"github.com/zhouzirui/companion-chat/pkg/utils"
)

// Handler 伙伴列表的HTTP处理器
type Handler struct {
	companions companion.Store
}

// New 创建伙伴处理器
func New(companions companion.Store) *Handler {
	return &Handler{
		companions: companions,
	}
}

// RegisterRoutes 注册伙伴相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/companions", h.handleList)
	r.Get("/companions/{id}", h.handleGet)
}

// handleList 列出所有伙伴
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.companions.List())
}

// handleGet 按ID返回单个伙伴
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid companion id")
		return
	}

	c, ok := h.companions.FindByID(id)
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "companion not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, c)
}
