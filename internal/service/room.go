package service

import (
	"errors"
	"time"

	"github.com/Wawayooo/ONLINE-INVOICING/internal/auth"
	"github.com/Wawayooo/ONLINE-INVOICING/internal/config"
	"github.com/Wawayooo/ONLINE-INVOICING/internal/invoice"
	"github.com/Wawayooo/ONLINE-INVOICING/internal/metrics"
	"github.com/Wawayooo/ONLINE-INVOICING/internal/models"
	"github.com/Wawayooo/ONLINE-INVOICING/internal/ws"

	"gorm.io/gorm"
)

const dateLayout = "2006-01-02"

// RoomService 封装房间生命周期：创建、查询、买家加入与卖家认证。
type RoomService struct {
	db  *gorm.DB
	cfg config.Config
	hub *ws.Hub
}

func NewRoomService(db *gorm.DB, cfg config.Config, hub *ws.Hub) *RoomService {
	return &RoomService{db: db, cfg: cfg, hub: hub}
}

// SellerDTO / BuyerDTO 是对外输出的参与方数据。
type SellerDTO struct {
	Fullname       string `json:"fullname"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	SocialMedia    string `json:"social_media"`
	ProfilePicture string `json:"profile_picture,omitempty"`
}

type BuyerDTO struct {
	Fullname       string `json:"fullname"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	SocialMedia    string `json:"social_media"`
	ProfilePicture string `json:"profile_picture,omitempty"`
	BuyerHash      string `json:"buyer_hash"`
}

// RoomDetailDTO 是 GET /api/room/{room}/ 的响应主体。
// 发票部分直接复用线上形状（invoice.Wire），保证与客户端解析约定一致。
type RoomDetailDTO struct {
	RoomHash        string        `json:"room_hash"`
	IsBuyerAssigned bool          `json:"is_buyer_assigned"`
	Seller          *SellerDTO    `json:"seller"`
	Buyer           *BuyerDTO     `json:"buyer,omitempty"`
	Invoice         *invoice.Wire `json:"invoice,omitempty"`
}

// CreateRoomInput 是卖家建房的全部输入：卖家资料、密钥与首版发票。
type CreateRoomInput struct {
	SellerFullname    string
	SellerEmail       string
	SellerPhone       string
	SellerSocialMedia string
	SellerPicture     string
	SecretKey         string

	InvoiceDate   string
	DueDate       string
	Description   string
	Quantity      int
	UnitPrice     float64
	PaymentMethod string
	Items         []invoice.Item
}

// detail 把输入固化为 tagged union，多于零条 items 即为多条目形状。
func (in CreateRoomInput) detail() *invoice.Detail {
	if len(in.Items) > 0 {
		return &invoice.Detail{
			Kind:          invoice.KindMulti,
			InvoiceDate:   in.InvoiceDate,
			DueDate:       in.DueDate,
			PaymentMethod: in.PaymentMethod,
			Items:         in.Items,
		}
	}
	return &invoice.Detail{
		Kind:          invoice.KindSingle,
		InvoiceDate:   in.InvoiceDate,
		DueDate:       in.DueDate,
		PaymentMethod: in.PaymentMethod,
		Description:   in.Description,
		Quantity:      in.Quantity,
		UnitPrice:     in.UnitPrice,
	}
}

// Create 建房：房间、卖家（密钥散列）与 draft 状态的首版发票在一个事务里落库。
func (s *RoomService) Create(in CreateRoomInput) (*RoomDetailDTO, error) {
	d := in.detail()
	if err := invoice.ValidateFields(d, time.Now()); err != nil {
		return nil, err
	}
	if err := invoice.ValidateSellerProfile(in.SellerFullname, in.SellerEmail, in.SellerPhone, in.SellerSocialMedia); err != nil {
		return nil, err
	}
	if err := invoice.ValidateSecretKey(in.SecretKey); err != nil {
		return nil, err
	}
	keyHash, err := auth.HashSecretKey(in.SecretKey)
	if err != nil {
		return nil, err
	}

	roomHash := auth.NewRoomHash()
	err = s.db.Transaction(func(tx *gorm.DB) error {
		room := models.Room{RoomHash: roomHash}
		if err := tx.Create(&room).Error; err != nil {
			return err
		}
		seller := models.Seller{
			RoomID:         room.ID,
			Fullname:       in.SellerFullname,
			Email:          in.SellerEmail,
			Phone:          in.SellerPhone,
			SocialMedia:    in.SellerSocialMedia,
			ProfilePicture: in.SellerPicture,
			SecretKeyHash:  keyHash,
		}
		if err := tx.Create(&seller).Error; err != nil {
			return err
		}
		return createInvoice(tx, room.ID, d)
	})
	if err != nil {
		return nil, err
	}
	return s.Get(roomHash)
}

// createInvoice 按 tagged union 落库：多条目写哨兵占位行加条目表。
func createInvoice(tx *gorm.DB, roomID uint, d *invoice.Detail) error {
	w := d.Wire()
	invDate, err := time.Parse(dateLayout, w.InvoiceDate)
	if err != nil {
		return err
	}
	inv := models.Invoice{
		RoomID:        roomID,
		InvoiceDate:   invDate,
		Description:   w.Description,
		Quantity:      w.Quantity,
		UnitPrice:     float64(w.UnitPrice),
		LineTotal:     float64(w.LineTotal),
		PaymentMethod: w.PaymentMethod,
		Status:        string(invoice.StatusDraft),
	}
	if w.DueDate != "" {
		due, err := time.Parse(dateLayout, w.DueDate)
		if err != nil {
			return err
		}
		inv.DueDate = &due
	}
	if err := tx.Create(&inv).Error; err != nil {
		return err
	}
	for _, it := range w.Items {
		item := models.InvoiceItem{
			InvoiceID:   inv.ID,
			ProductName: it.ProductName,
			Description: it.Description,
			Quantity:    it.Quantity,
			UnitPrice:   float64(it.UnitPrice),
			LineTotal:   float64(it.LineTotal),
		}
		if err := tx.Create(&item).Error; err != nil {
			return err
		}
	}
	return nil
}

// Get 取房间详情。房间不存在返回 ErrRoomNotFound，渲染侧据此直接中止。
func (s *RoomService) Get(roomHash string) (*RoomDetailDTO, error) {
	var room models.Room
	if err := s.db.Where("room_hash = ?", roomHash).First(&room).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	dto := &RoomDetailDTO{RoomHash: room.RoomHash, IsBuyerAssigned: room.IsBuyerAssigned}

	var seller models.Seller
	if err := s.db.Where("room_id = ?", room.ID).First(&seller).Error; err == nil {
		dto.Seller = &SellerDTO{
			Fullname:       seller.Fullname,
			Email:          seller.Email,
			Phone:          seller.Phone,
			SocialMedia:    seller.SocialMedia,
			ProfilePicture: seller.ProfilePicture,
		}
	}
	var buyer models.Buyer
	if err := s.db.Where("room_id = ?", room.ID).First(&buyer).Error; err == nil {
		dto.Buyer = &BuyerDTO{
			Fullname:       buyer.Fullname,
			Email:          buyer.Email,
			Phone:          buyer.Phone,
			SocialMedia:    buyer.SocialMedia,
			ProfilePicture: buyer.ProfilePicture,
			BuyerHash:      buyer.BuyerHash,
		}
	}
	var inv models.Invoice
	if err := s.db.Where("room_id = ?", room.ID).First(&inv).Error; err == nil {
		w, err := s.invoiceWire(inv)
		if err != nil {
			return nil, err
		}
		dto.Invoice = w
	}
	return dto, nil
}

// invoiceWire 把库里的发票行还原成线上形状并补上 total_amount。
func (s *RoomService) invoiceWire(inv models.Invoice) (*invoice.Wire, error) {
	w := invoice.Wire{
		InvoiceDate:   inv.InvoiceDate.Format(dateLayout),
		Description:   inv.Description,
		Quantity:      inv.Quantity,
		UnitPrice:     invoice.Amount(inv.UnitPrice),
		LineTotal:     invoice.Amount(inv.LineTotal),
		PaymentMethod: inv.PaymentMethod,
		Status:        invoice.Status(inv.Status),
	}
	if inv.DueDate != nil {
		w.DueDate = inv.DueDate.Format(dateLayout)
	}
	var items []models.InvoiceItem
	if err := s.db.Where("invoice_id = ?", inv.ID).Order("id").Find(&items).Error; err != nil {
		return nil, err
	}
	for _, it := range items {
		w.Items = append(w.Items, invoice.Item{
			ProductName: it.ProductName,
			Description: it.Description,
			Quantity:    it.Quantity,
			UnitPrice:   invoice.Amount(it.UnitPrice),
			LineTotal:   invoice.Amount(it.LineTotal),
		})
	}
	total := invoice.Amount(invoice.Parse(w).GrandTotal())
	w.TotalAmount = &total
	return &w, nil
}

// BuyerJoinInput 是买家加入表单。
type BuyerJoinInput struct {
	Fullname       string
	Email          string
	Phone          string
	SocialMedia    string
	ProfilePicture string
}

// JoinResult 含一次性下发的 buyer hash 与跳转地址。
type JoinResult struct {
	BuyerHash   string `json:"buyer_hash"`
	RedirectURL string `json:"redirect_url"`
}

// BuyerJoin 处理买家加入。每个房间只允许一个买家，
// 第二次加入返回 ErrRoomOccupied（403 occupied 信号）。
func (s *RoomService) BuyerJoin(roomHash string, in BuyerJoinInput) (*JoinResult, error) {
	if in.Fullname == "" {
		return nil, invoice.FieldErrors{"full name is required"}
	}
	buyerHash := auth.NewBuyerHash()
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var room models.Room
		if err := tx.Where("room_hash = ?", roomHash).First(&room).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRoomNotFound
			}
			return err
		}
		if room.IsBuyerAssigned {
			return ErrRoomOccupied
		}
		buyer := models.Buyer{
			RoomID:         room.ID,
			Fullname:       in.Fullname,
			Email:          in.Email,
			Phone:          in.Phone,
			SocialMedia:    in.SocialMedia,
			ProfilePicture: in.ProfilePicture,
			BuyerHash:      buyerHash,
		}
		if err := tx.Create(&buyer).Error; err != nil {
			return err
		}
		if err := tx.Model(&room).Update("is_buyer_assigned", true).Error; err != nil {
			return err
		}
		hist := models.NegotiationHistory{RoomID: room.ID, Action: "joined", Actor: "buyer", Notes: "Buyer joined the room"}
		return tx.Create(&hist).Error
	})
	if err != nil {
		return nil, err
	}
	s.hub.BroadcastUpdate(roomHash, map[string]string{"event": "buyer_joined"})
	return &JoinResult{
		BuyerHash:   buyerHash,
		RedirectURL: "/buyer_invoice_room/" + roomHash + "/" + buyerHash + "/",
	}, nil
}

// AuthResult 是卖家两步认证的响应。
type AuthResult struct {
	Success     bool   `json:"success"`
	RedirectURL string `json:"redirect_url,omitempty"`
	NextStep    string `json:"next_step,omitempty"`
	RoomToken   string `json:"room_token,omitempty"`
}

// AuthenticateSeller 用密钥定位卖家。密钥只存 bcrypt 散列，
// 逐个比对（教学规模下可接受），命中后签发房间 token。
func (s *RoomService) AuthenticateSeller(secretKey string) (*AuthResult, error) {
	var sellers []models.Seller
	if err := s.db.Order("id").Find(&sellers).Error; err != nil {
		return nil, err
	}
	for _, seller := range sellers {
		if !auth.VerifySecretKey(seller.SecretKeyHash, secretKey) {
			continue
		}
		var room models.Room
		if err := s.db.First(&room, seller.RoomID).Error; err != nil {
			return nil, err
		}
		token, err := auth.GenerateRoomToken(room.RoomHash, s.cfg.JWTSecret, s.cfg.RoomTokenTTLMinutes)
		if err != nil {
			return nil, err
		}
		return &AuthResult{
			Success:     true,
			RedirectURL: "/seller_room/" + room.RoomHash + "/",
			RoomToken:   token,
		}, nil
	}
	metrics.AuthFailuresTotal.Inc()
	return nil, ErrInvalidSecretKey
}

// AuthenticateRoom 校验卖家手里的房间句柄，通过后给出跳转地址。
func (s *RoomService) AuthenticateRoom(roomHash string) (*AuthResult, error) {
	var room models.Room
	if err := s.db.Where("room_hash = ?", roomHash).First(&room).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return &AuthResult{Success: true, RedirectURL: "/seller_room/" + room.RoomHash + "/"}, nil
}
