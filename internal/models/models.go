package models

import "time"

// Room 是一次协商会话：一个卖家、至多一个买家、一张发票。
type Room struct {
	ID              uint   `gorm:"primaryKey"`
	RoomHash        string `gorm:"uniqueIndex;size:64;not null"`
	IsBuyerAssigned bool   `gorm:"not null;default:false"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Seller struct {
	ID             uint   `gorm:"primaryKey"`
	RoomID         uint   `gorm:"uniqueIndex;not null"`
	Fullname       string `gorm:"size:255;not null"`
	Email          string `gorm:"size:255"`
	Phone          string `gorm:"size:64"`
	SocialMedia    string `gorm:"size:255"`
	ProfilePicture string `gorm:"size:512"`
	SecretKeyHash  string `gorm:"not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Buyer 的 BuyerHash 在加入时生成，只发给买家一次，
// 之后作为其访问买家发票房间的身份令牌。
type Buyer struct {
	ID             uint   `gorm:"primaryKey"`
	RoomID         uint   `gorm:"uniqueIndex;not null"`
	Fullname       string `gorm:"size:255;not null"`
	Email          string `gorm:"size:255"`
	Phone          string `gorm:"size:64"`
	SocialMedia    string `gorm:"size:255"`
	ProfilePicture string `gorm:"size:512"`
	BuyerHash      string `gorm:"uniqueIndex;size:64;not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Invoice 的多条目形状复用平铺字段作占位（描述为哨兵串，数字字段清零），
// 具体条目见 InvoiceItem。
type Invoice struct {
	ID            uint      `gorm:"primaryKey"`
	RoomID        uint      `gorm:"uniqueIndex;not null"`
	InvoiceDate   time.Time `gorm:"not null"`
	DueDate       *time.Time
	Description   string  `gorm:"type:text;not null"`
	Quantity      int     `gorm:"not null"`
	UnitPrice     float64 `gorm:"not null"`
	LineTotal     float64 `gorm:"not null"`
	PaymentMethod string  `gorm:"size:50;not null"`
	Status        string  `gorm:"size:50;not null;default:draft"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type InvoiceItem struct {
	ID          uint    `gorm:"primaryKey"`
	InvoiceID   uint    `gorm:"index;not null"`
	ProductName string  `gorm:"size:255;not null"`
	Description string  `gorm:"type:text"`
	Quantity    int     `gorm:"not null"`
	UnitPrice   float64 `gorm:"not null"`
	LineTotal   float64 `gorm:"not null"`
	CreatedAt   time.Time
}

// NegotiationHistory 记录每次状态迁移，供审计与凭证页展示。
type NegotiationHistory struct {
	ID        uint   `gorm:"primaryKey"`
	RoomID    uint   `gorm:"index;not null"`
	Action    string `gorm:"size:50;not null"`
	Actor     string `gorm:"size:20;not null"`
	Notes     string `gorm:"type:text"`
	CreatedAt time.Time
}
