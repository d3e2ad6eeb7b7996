package invoice

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Status 是发票协商状态机的有限状态集合。
type Status string

const (
	StatusDraft              Status = "draft"
	StatusNegotiating        Status = "negotiating"
	StatusPending            Status = "pending"
	StatusUnconfirmedPayment Status = "unconfirmed_payment"
	StatusFinalized          Status = "finalized"
)

// Known 报告状态是否属于状态机定义的五个状态之一。
func (s Status) Known() bool {
	switch s {
	case StatusDraft, StatusNegotiating, StatusPending, StatusUnconfirmedPayment, StatusFinalized:
		return true
	}
	return false
}

// MultiItemSentinel 是线上协议用来区分单条目/多条目形状的魔法描述串。
// 后端兼容性要求按原样保留，内部只在解析时判定一次。
const MultiItemSentinel = "multi-item invoice"

// PaymentMethods 是后端接受的支付方式枚举。
var PaymentMethods = []string{"cash", "gcash", "paypal", "bank_transfer", "other"}

// ValidPaymentMethod 报告 m 是否为合法支付方式。
func ValidPaymentMethod(m string) bool {
	for _, v := range PaymentMethods {
		if v == m {
			return true
		}
	}
	return false
}

// Amount 兼容后端把金额序列化为字符串或数字两种写法。
type Amount float64

func (a *Amount) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(bytes.TrimSpace(b), `"`)
	if len(b) == 0 || string(b) == "null" {
		*a = 0
		return nil
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	*a = Amount(f)
	return nil
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatFloat(float64(a), 'f', 2, 64)), nil
}

// Item 是多条目发票中的一行商品。
type Item struct {
	ProductName string `json:"product_name"`
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	UnitPrice   Amount `json:"unit_price"`
	LineTotal   Amount `json:"line_total"`
}

// Wire 是 GET /api/room/{room}/ 等接口返回的发票原始形状。
// 单条目发票用平铺字段，多条目发票用 items 数组加哨兵描述。
type Wire struct {
	InvoiceDate   string  `json:"invoice_date"`
	DueDate       string  `json:"due_date,omitempty"`
	Description   string  `json:"description"`
	Quantity      int     `json:"quantity"`
	UnitPrice     Amount  `json:"unit_price"`
	LineTotal     Amount  `json:"line_total"`
	PaymentMethod string  `json:"payment_method"`
	Status        Status  `json:"status"`
	TotalAmount   *Amount `json:"total_amount,omitempty"`
	Items         []Item  `json:"items,omitempty"`
}

// Kind 标记发票的两种互斥形状。
type Kind int

const (
	KindSingle Kind = iota
	KindMulti
)

// Detail 是解析后的发票视图模型：形状判定只在 Parse 里做一次，
// 之后所有代码走显式的 Kind 分支而不是反复比对哨兵串。
type Detail struct {
	Kind          Kind
	Status        Status
	InvoiceDate   string
	DueDate       string
	PaymentMethod string

	// 单条目字段，Kind == KindSingle 时有效。
	Description string
	Quantity    int
	UnitPrice   float64
	totalAmount *float64

	// 多条目字段，Kind == KindMulti 时有效。
	Items []Item
}

// Parse 把线上形状规整为 tagged union。哨兵描述串是唯一判定依据，
// 比较时忽略大小写并去掉首尾空白。
func Parse(w Wire) *Detail {
	d := &Detail{
		Status:        w.Status,
		InvoiceDate:   w.InvoiceDate,
		DueDate:       w.DueDate,
		PaymentMethod: w.PaymentMethod,
	}
	if strings.EqualFold(strings.TrimSpace(w.Description), MultiItemSentinel) {
		d.Kind = KindMulti
		d.Items = make([]Item, len(w.Items))
		copy(d.Items, w.Items)
		for i := range d.Items {
			if d.Items[i].LineTotal == 0 {
				d.Items[i].LineTotal = Amount(float64(d.Items[i].Quantity) * float64(d.Items[i].UnitPrice))
			}
		}
		return d
	}
	d.Kind = KindSingle
	d.Description = w.Description
	d.Quantity = w.Quantity
	d.UnitPrice = float64(w.UnitPrice)
	if w.TotalAmount != nil {
		t := float64(*w.TotalAmount)
		d.totalAmount = &t
	}
	return d
}

// ParseJSON 从原始 JSON 解出 Detail，供各 API 响应里内嵌的 invoice 对象复用。
func ParseJSON(raw []byte) (*Detail, error) {
	var w Wire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	return Parse(w), nil
}

// GrandTotal 计算总金额：多条目为各行小计之和，
// 单条目为数量×单价，后端给出 total_amount 时以其为准。
func (d *Detail) GrandTotal() float64 {
	if d.Kind == KindMulti {
		var sum float64
		for _, it := range d.Items {
			sum += float64(it.LineTotal)
		}
		return sum
	}
	if d.totalAmount != nil {
		return *d.totalAmount
	}
	return float64(d.Quantity) * d.UnitPrice
}

// Wire 还原线上形状。多条目发票写回哨兵描述并把平铺数字字段清零，
// 与后端创建多条目发票时的占位约定一致。
func (d *Detail) Wire() Wire {
	w := Wire{
		InvoiceDate:   d.InvoiceDate,
		DueDate:       d.DueDate,
		PaymentMethod: d.PaymentMethod,
		Status:        d.Status,
	}
	if d.Kind == KindMulti {
		w.Description = MultiItemSentinel
		w.Items = make([]Item, len(d.Items))
		copy(w.Items, d.Items)
		for i := range w.Items {
			w.Items[i].LineTotal = Amount(float64(w.Items[i].Quantity) * float64(w.Items[i].UnitPrice))
		}
		return w
	}
	w.Description = d.Description
	w.Quantity = d.Quantity
	w.UnitPrice = Amount(d.UnitPrice)
	w.LineTotal = Amount(float64(d.Quantity) * d.UnitPrice)
	return w
}
