package service

import (
	"errors"
	"time"

	"github.com/Wawayooo/ONLINE-INVOICING/internal/invoice"
	"github.com/Wawayooo/ONLINE-INVOICING/internal/metrics"
	"github.com/Wawayooo/ONLINE-INVOICING/internal/models"
	"github.com/Wawayooo/ONLINE-INVOICING/internal/ws"

	"gorm.io/gorm"
)

// InvoiceService 执行状态机迁移。客户端的状态机只是顾问，
// 这里的迁移表校验才是权威。
type InvoiceService struct {
	db    *gorm.DB
	rooms *RoomService
	hub   *ws.Hub
}

func NewInvoiceService(db *gorm.DB, rooms *RoomService, hub *ws.Hub) *InvoiceService {
	return &InvoiceService{db: db, rooms: rooms, hub: hub}
}

// ActionResult 把迁移后的发票以线上形状内嵌返回，
// 客户端必须以它为准重渲染，不得沿用提交前的本地状态。
type ActionResult struct {
	Invoice *invoice.Wire `json:"invoice"`
}

// Approve 买家同意发票：draft/negotiating → pending。
func (s *InvoiceService) Approve(roomHash, buyerHash string) (*ActionResult, error) {
	return s.buyerAction(roomHash, buyerHash, invoice.ActionApprove, "Invoice approved by buyer")
}

// Disapprove 买家驳回发票：draft → negotiating。
func (s *InvoiceService) Disapprove(roomHash, buyerHash string) (*ActionResult, error) {
	return s.buyerAction(roomHash, buyerHash, invoice.ActionDisapprove, "Invoice disapproved by buyer")
}

// MarkPaid 买家声明已付款：pending → unconfirmed_payment。
func (s *InvoiceService) MarkPaid(roomHash, buyerHash string) (*ActionResult, error) {
	return s.buyerAction(roomHash, buyerHash, invoice.ActionMarkPaid, "Buyer marked the invoice as paid")
}

func (s *InvoiceService) buyerAction(roomHash, buyerHash string, action invoice.Action, note string) (*ActionResult, error) {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		room, inv, err := roomInvoice(tx, roomHash)
		if err != nil {
			return err
		}
		var buyer models.Buyer
		if err := tx.Where("room_id = ?", room.ID).First(&buyer).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInvalidBuyerHash
			}
			return err
		}
		if buyer.BuyerHash != buyerHash {
			return ErrInvalidBuyerHash
		}
		to, ok := invoice.CanTransition(invoice.Status(inv.Status), action, invoice.ActorBuyer)
		if !ok {
			return ErrIllegalTransition
		}
		if err := tx.Model(inv).Update("status", string(to)).Error; err != nil {
			return err
		}
		hist := models.NegotiationHistory{RoomID: room.ID, Action: string(action), Actor: "buyer", Notes: note}
		return tx.Create(&hist).Error
	})
	result := "ok"
	if err != nil {
		result = "rejected"
	}
	metrics.InvoiceActionsTotal.WithLabelValues(string(action), result).Inc()
	if err != nil {
		return nil, err
	}
	return s.result(roomHash, string(action))
}

// EditInvoiceInput 是卖家改票输入。Items 非空时整表替换旧条目。
type EditInvoiceInput struct {
	InvoiceDate   string
	DueDate       string
	Description   string
	Quantity      int
	UnitPrice     float64
	PaymentMethod string
	Items         []invoice.Item
}

// Edit 卖家修改发票。只在 draft / negotiating 可改；
// 改完回到 draft 重新送审，与迁移表一致。
func (s *InvoiceService) Edit(roomHash string, in EditInvoiceInput) (*RoomDetailDTO, error) {
	d := CreateRoomInput{
		InvoiceDate:   in.InvoiceDate,
		DueDate:       in.DueDate,
		Description:   in.Description,
		Quantity:      in.Quantity,
		UnitPrice:     in.UnitPrice,
		PaymentMethod: in.PaymentMethod,
		Items:         in.Items,
	}.detail()
	if err := invoice.ValidateFields(d, time.Now()); err != nil {
		return nil, err
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		room, inv, err := roomInvoice(tx, roomHash)
		if err != nil {
			return err
		}
		if _, ok := invoice.CanTransition(invoice.Status(inv.Status), invoice.ActionEdit, invoice.ActorSeller); !ok {
			return ErrIllegalTransition
		}
		w := d.Wire()
		invDate, err := time.Parse(dateLayout, w.InvoiceDate)
		if err != nil {
			return err
		}
		inv.InvoiceDate = invDate
		inv.DueDate = nil
		if w.DueDate != "" {
			due, err := time.Parse(dateLayout, w.DueDate)
			if err != nil {
				return err
			}
			inv.DueDate = &due
		}
		inv.Description = w.Description
		inv.Quantity = w.Quantity
		inv.UnitPrice = float64(w.UnitPrice)
		inv.LineTotal = float64(w.LineTotal)
		inv.PaymentMethod = w.PaymentMethod
		inv.Status = string(invoice.StatusDraft)
		if err := tx.Save(inv).Error; err != nil {
			return err
		}
		if err := tx.Where("invoice_id = ?", inv.ID).Delete(&models.InvoiceItem{}).Error; err != nil {
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
		hist := models.NegotiationHistory{RoomID: room.ID, Action: "edited", Actor: "seller", Notes: "Invoice edited by seller"}
		return tx.Create(&hist).Error
	})
	if err != nil {
		return nil, err
	}
	s.hub.BroadcastUpdate(roomHash, map[string]string{"event": "invoice_edited", "status": string(invoice.StatusDraft)})
	return s.rooms.Get(roomHash)
}

// ConfirmResult 是确认收款的响应，finalized 后客户端强制跳转凭证页。
type ConfirmResult struct {
	InvoiceStatus string `json:"invoice_status"`
	RedirectURL   string `json:"redirect_url"`
}

// ConfirmPayment 卖家确认收款：unconfirmed_payment → finalized（终态）。
func (s *InvoiceService) ConfirmPayment(roomHash string) (*ConfirmResult, error) {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		room, inv, err := roomInvoice(tx, roomHash)
		if err != nil {
			return err
		}
		to, ok := invoice.CanTransition(invoice.Status(inv.Status), invoice.ActionConfirmPayment, invoice.ActorSeller)
		if !ok {
			return ErrIllegalTransition
		}
		if err := tx.Model(inv).Update("status", string(to)).Error; err != nil {
			return err
		}
		hist := models.NegotiationHistory{RoomID: room.ID, Action: "confirm-payment", Actor: "seller", Notes: "Seller confirmed the payment"}
		return tx.Create(&hist).Error
	})
	if err != nil {
		return nil, err
	}
	s.hub.BroadcastUpdate(roomHash, map[string]string{"event": "payment_confirmed", "status": string(invoice.StatusFinalized)})
	metrics.InvoiceActionsTotal.WithLabelValues(string(invoice.ActionConfirmPayment), "ok").Inc()
	return &ConfirmResult{
		InvoiceStatus: string(invoice.StatusFinalized),
		RedirectURL:   "/proof_transaction/" + roomHash + "/",
	}, nil
}

// Snapshot 给 websocket 层提供连接时的房间快照。
func (s *InvoiceService) Snapshot(roomHash string) (*ws.Snapshot, error) {
	dto, err := s.rooms.Get(roomHash)
	if err != nil {
		return nil, err
	}
	snap := &ws.Snapshot{
		RoomHash:        dto.RoomHash,
		IsBuyerAssigned: dto.IsBuyerAssigned,
		HasBuyer:        dto.Buyer != nil,
		HasInvoice:      dto.Invoice != nil,
	}
	if dto.Invoice != nil {
		snap.InvoiceStatus = string(dto.Invoice.Status)
	}
	return snap, nil
}

func (s *InvoiceService) result(roomHash, event string) (*ActionResult, error) {
	dto, err := s.rooms.Get(roomHash)
	if err != nil {
		return nil, err
	}
	status := ""
	if dto.Invoice != nil {
		status = string(dto.Invoice.Status)
	}
	s.hub.BroadcastUpdate(roomHash, map[string]string{"event": event, "status": status})
	return &ActionResult{Invoice: dto.Invoice}, nil
}

func roomInvoice(tx *gorm.DB, roomHash string) (*models.Room, *models.Invoice, error) {
	var room models.Room
	if err := tx.Where("room_hash = ?", roomHash).First(&room).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrRoomNotFound
		}
		return nil, nil, err
	}
	var inv models.Invoice
	if err := tx.Where("room_id = ?", room.ID).First(&inv).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrRoomNotFound
		}
		return nil, nil, err
	}
	return &room, &inv, nil
}
