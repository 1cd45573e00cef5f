package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/companion-chat/internal/handler/chat"
	companionHandler "github.com/zhouzirui/companion-chat/internal/handler/companion"
	"github.com/zhouzirui/companion-chat/internal/handler/socket"
	"github.com/zhouzirui/companion-chat/internal/metrics"
	middlewarePkg "github.com/zhouzirui/companion-chat/internal/middleware"
	"github.com/zhouzirui/companion-chat/internal/model/companion"
	aiService "github.com/zhouzirui/companion-chat/internal/service/ai"
	chatService "github.com/zhouzirui/companion-chat/internal/service/chat"
	"github.com/zhouzirui/companion-chat/pkg/utils"
)

// Dependencies 汇总路由需要的服务
type Dependencies struct {
	Companions companion.Store
	Store      chatService.Store
	Responder  aiService.Responder
	Socket     socket.Options
	Logger     zerolog.Logger
	// Registry 为 nil 时不暴露 /metrics
	Registry *prometheus.Registry
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(deps.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	var serverMetrics *metrics.Server
	if deps.Registry != nil {
		serverMetrics = metrics.NewServer(deps.Registry)
		r.Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	socketHandler := socket.New(deps.Companions, deps.Store, deps.Responder, deps.Socket, deps.Logger, serverMetrics)
	socketHandler.RegisterRoutes(r)

	r.Route("/api", func(api chi.Router) {
		companionHandler.New(deps.Companions).RegisterRoutes(api)
		chat.New(deps.Store, deps.Companions).RegisterRoutes(api)
	})

	return r
}
