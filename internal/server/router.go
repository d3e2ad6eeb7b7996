package server

import (
	"net/http"
	"time"

	"github.com/Wawayooo/ONLINE-INVOICING/internal/config"
	"github.com/Wawayooo/ONLINE-INVOICING/internal/metrics"
	"github.com/Wawayooo/ONLINE-INVOICING/internal/mw"
	"github.com/Wawayooo/ONLINE-INVOICING/internal/service"
	"github.com/Wawayooo/ONLINE-INVOICING/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/csrf"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// SetupRouter 统一初始化 Gin 中间件、REST API、CSRF 认证入口与 WebSocket 端点。
func SetupRouter(cfg config.Config, db *gorm.DB, hub *ws.Hub) *gin.Engine {
	roomSvc := service.NewRoomService(db, cfg, hub)
	invSvc := service.NewInvoiceService(db, roomSvc, hub)
	h := NewHandler(roomSvc, invSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env))
	// 控制单个 IP+路由的速率，避免教学环境被刷爆。
	r.Use(mw.RateLimit(rate.Every(time.Second/20), 40))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")

	api.GET("/room/:room/", h.GetRoom)
	api.POST("/invoice/create/", h.CreateInvoice)
	api.POST("/buyer/:room/join/", h.BuyerJoin)
	api.POST("/buyer/:room/approve/", h.Approve)
	api.POST("/buyer/:room/disapprove/", h.Disapprove)
	api.POST("/buyer/:room/mark-paid/", h.MarkPaid)

	api.PUT("/seller/:room/edit-invoice/", h.EditInvoice)
	api.PUT("/seller/:room/edit-single-invoice/", h.EditSingleInvoice)
	api.POST("/seller/:room/confirm-payment/", h.ConfirmPayment)

	// 认证入口走双重提交 cookie 的 CSRF 保护，token 从 /csrf 或
	// 任意响应头取得，提交时放在 X-CSRF-Token。
	authMux := http.NewServeMux()
	authMux.HandleFunc("/csrf", h.CSRFToken)
	authMux.HandleFunc("/seller_authenticate/", h.SellerAuthenticate)
	authMux.HandleFunc("/seller_room_authenticate/", h.SellerRoomAuthenticate)
	protect := csrf.Protect(
		[]byte(cfg.CSRFKey),
		csrf.Secure(cfg.Env != "dev"),
		csrf.Path("/"),
		csrf.RequestHeader("X-CSRF-Token"),
	)
	protected := protect(authMux)
	r.GET("/csrf", gin.WrapH(protected))
	r.POST("/seller_authenticate/", gin.WrapH(protected))
	r.POST("/seller_room_authenticate/", gin.WrapH(protected))

	r.GET("/ws/negotiation/:room/", ws.Serve(hub, invSvc.Snapshot))

	return r
}
