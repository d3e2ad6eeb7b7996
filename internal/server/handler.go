package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/Wawayooo/ONLINE-INVOICING/internal/invoice"
	"github.com/Wawayooo/ONLINE-INVOICING/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/csrf"
	"github.com/rs/zerolog/log"
)

// Handler 聚合所有 HTTP handler，依赖注入 service 层。
type Handler struct {
	roomSvc *service.RoomService
	invSvc  *service.InvoiceService
}

func NewHandler(roomSvc *service.RoomService, invSvc *service.InvoiceService) *Handler {
	return &Handler{roomSvc: roomSvc, invSvc: invSvc}
}

// respondErr 按错误类型映射 HTTP 状态码。校验错误整体回给调用方，
// 其余失败只给出通用文案，细节进日志。
func respondErr(c *gin.Context, err error) {
	var fieldErrs invoice.FieldErrors
	switch {
	case errors.Is(err, service.ErrRoomNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
	case errors.Is(err, service.ErrRoomOccupied):
		c.JSON(http.StatusForbidden, gin.H{"error": "room occupied"})
	case errors.Is(err, service.ErrInvalidBuyerHash), errors.Is(err, service.ErrInvalidSecretKey):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	case errors.Is(err, service.ErrIllegalTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "action not allowed in current invoice status"})
	case errors.As(err, &fieldErrs):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// GetRoom 返回房间详情（卖家、买家、发票）。
func (h *Handler) GetRoom(c *gin.Context) {
	dto, err := h.roomSvc.Get(c.Param("room"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, dto)
}

// CreateInvoice 卖家建房并提交首版发票，单/多条目共用一个入口。
func (h *Handler) CreateInvoice(c *gin.Context) {
	in, err := parseCreateForm(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	dto, err := h.roomSvc.Create(in)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room_hash": dto.RoomHash, "room": dto})
}

// BuyerJoin 买家加入房间，房间已被占用时返回 403。
func (h *Handler) BuyerJoin(c *gin.Context) {
	in := service.BuyerJoinInput{
		Fullname:    strings.TrimSpace(c.PostForm("fullname")),
		Email:       strings.TrimSpace(c.PostForm("email")),
		Phone:       strings.TrimSpace(c.PostForm("phone")),
		SocialMedia: strings.TrimSpace(c.PostForm("social_media")),
	}
	result, err := h.roomSvc.BuyerJoin(c.Param("room"), in)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type buyerActionReq struct {
	BuyerHash string `json:"buyer_hash"`
}

// Approve / Disapprove / MarkPaid 三个买家动作共用同一解析与响应路径。
func (h *Handler) Approve(c *gin.Context)    { h.buyerAction(c, h.invSvc.Approve) }
func (h *Handler) Disapprove(c *gin.Context) { h.buyerAction(c, h.invSvc.Disapprove) }
func (h *Handler) MarkPaid(c *gin.Context)   { h.buyerAction(c, h.invSvc.MarkPaid) }

func (h *Handler) buyerAction(c *gin.Context, fn func(roomHash, buyerHash string) (*service.ActionResult, error)) {
	var req buyerActionReq
	if err := c.ShouldBindJSON(&req); err != nil || req.BuyerHash == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := fn(c.Param("room"), req.BuyerHash)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// EditInvoice 卖家改票（多条目入口，JSON 或表单均可）。
func (h *Handler) EditInvoice(c *gin.Context) {
	in, err := parseEditPayload(c, true)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	dto, err := h.invSvc.Edit(c.Param("room"), in)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoice": dto.Invoice, "room": dto})
}

// EditSingleInvoice 单条目入口：忽略 items，只收平铺字段。
func (h *Handler) EditSingleInvoice(c *gin.Context) {
	in, err := parseEditPayload(c, false)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	dto, err := h.invSvc.Edit(c.Param("room"), in)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoice": dto.Invoice, "room": dto})
}

// ConfirmPayment 卖家确认收款，发票终态化并返回凭证页地址。
func (h *Handler) ConfirmPayment(c *gin.Context) {
	result, err := h.invSvc.ConfirmPayment(c.Param("room"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// parseCreateForm 解析建房表单：卖家资料、密钥、发票字段与 items-N-* 条目。
func parseCreateForm(c *gin.Context) (service.CreateRoomInput, error) {
	in := service.CreateRoomInput{
		SellerFullname:    strings.TrimSpace(c.PostForm("seller_fullname")),
		SellerEmail:       strings.TrimSpace(c.PostForm("seller_email")),
		SellerPhone:       strings.TrimSpace(c.PostForm("seller_phone")),
		SellerSocialMedia: strings.TrimSpace(c.PostForm("seller_social_media")),
		SecretKey:         c.PostForm("seller_secret_key"),
		InvoiceDate:       c.PostForm("invoice_date"),
		DueDate:           c.PostForm("due_date"),
		Description:       c.PostForm("description"),
		PaymentMethod:     c.PostForm("payment_method"),
	}
	in.Quantity, _ = strconv.Atoi(c.PostForm("quantity"))
	in.UnitPrice, _ = strconv.ParseFloat(c.PostForm("unit_price"), 64)

	count, _ := strconv.Atoi(c.PostForm("items-count"))
	for i := 0; i < count; i++ {
		prefix := "items-" + strconv.Itoa(i) + "-"
		qty, _ := strconv.Atoi(c.PostForm(prefix + "quantity"))
		price, _ := strconv.ParseFloat(c.PostForm(prefix+"unit_price"), 64)
		in.Items = append(in.Items, invoice.Item{
			ProductName: strings.TrimSpace(c.PostForm(prefix + "product_name")),
			Description: c.PostForm(prefix + "description"),
			Quantity:    qty,
			UnitPrice:   invoice.Amount(price),
			LineTotal:   invoice.Amount(float64(qty) * price),
		})
	}
	return in, nil
}

type editReq struct {
	InvoiceDate   string         `json:"invoice_date"`
	DueDate       string         `json:"due_date"`
	Description   string         `json:"description"`
	Quantity      int            `json:"quantity"`
	UnitPrice     invoice.Amount `json:"unit_price"`
	PaymentMethod string         `json:"payment_method"`
	Items         []invoice.Item `json:"items"`
}

// parseEditPayload 支持 JSON 与表单两种提交；withItems=false 时丢弃条目。
func parseEditPayload(c *gin.Context, withItems bool) (service.EditInvoiceInput, error) {
	var in service.EditInvoiceInput
	if strings.Contains(c.ContentType(), "json") {
		var req editReq
		if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
			return in, err
		}
		in = service.EditInvoiceInput{
			InvoiceDate:   req.InvoiceDate,
			DueDate:       req.DueDate,
			Description:   req.Description,
			Quantity:      req.Quantity,
			UnitPrice:     float64(req.UnitPrice),
			PaymentMethod: req.PaymentMethod,
		}
		if withItems {
			in.Items = req.Items
		}
		return in, nil
	}

	in = service.EditInvoiceInput{
		InvoiceDate:   c.PostForm("invoice_date"),
		DueDate:       c.PostForm("due_date"),
		Description:   c.PostForm("description"),
		PaymentMethod: c.PostForm("payment_method"),
	}
	in.Quantity, _ = strconv.Atoi(c.PostForm("quantity"))
	in.UnitPrice, _ = strconv.ParseFloat(c.PostForm("unit_price"), 64)
	if withItems {
		count, _ := strconv.Atoi(c.PostForm("items-count"))
		for i := 0; i < count; i++ {
			prefix := "items-" + strconv.Itoa(i) + "-"
			qty, _ := strconv.Atoi(c.PostForm(prefix + "quantity"))
			price, _ := strconv.ParseFloat(c.PostForm(prefix+"unit_price"), 64)
			in.Items = append(in.Items, invoice.Item{
				ProductName: strings.TrimSpace(c.PostForm(prefix + "product_name")),
				Description: c.PostForm(prefix + "description"),
				Quantity:    qty,
				UnitPrice:   invoice.Amount(price),
				LineTotal:   invoice.Amount(float64(qty) * price),
			})
		}
	}
	return in, nil
}

// ===== CSRF 保护的认证入口（stdlib handler，由 gorilla/csrf 包一层）=====

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// CSRFToken 下发当前会话的 CSRF token，浏览器端等价于 meta 标签读取。
func (h *Handler) CSRFToken(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"csrf_token": csrf.Token(r)})
}

// SellerAuthenticate 卖家密钥认证。显式拒绝返回 401，
// 客户端的 guard 只对这种失败计数。
func (h *Handler) SellerAuthenticate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		if err := r.ParseForm(); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
			return
		}
	}
	secretKey := r.FormValue("secret_key")
	if secretKey == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "secret key is required"})
		return
	}
	result, err := h.roomSvc.AuthenticateSeller(secretKey)
	if err != nil {
		if errors.Is(err, service.ErrInvalidSecretKey) {
			writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"success": false, "error": "invalid secret key"})
			return
		}
		log.Error().Err(err).Msg("seller authenticate")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// SellerRoomAuthenticate 校验卖家提交的房间句柄。
func (h *Handler) SellerRoomAuthenticate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		if err := r.ParseForm(); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
			return
		}
	}
	roomHash := strings.TrimSpace(r.FormValue("room_hash"))
	if roomHash == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "room hash is required"})
		return
	}
	result, err := h.roomSvc.AuthenticateRoom(roomHash)
	if err != nil {
		if errors.Is(err, service.ErrRoomNotFound) {
			writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"success": false, "error": "unknown room"})
			return
		}
		log.Error().Err(err).Msg("seller room authenticate")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, result)
}
