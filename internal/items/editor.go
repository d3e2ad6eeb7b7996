package items

import (
	"errors"
	"fmt"

	"github.com/Wawayooo/ONLINE-INVOICING/internal/invoice"
)

// ErrLastItem 拒绝删除最后一行：发票任何时刻都至少要有一条条目。
var ErrLastItem = errors.New("an invoice must keep at least one item")

// Editor 维护提交前的有序条目列表，负责增删改和同步重算小计/总额。
// 重算是当前字段的纯函数，每次变更后立即执行，不做防抖。
type Editor struct {
	items []invoice.Item
}

// NewEditor 创建带一行空白条目的编辑器。
func NewEditor() *Editor {
	return &Editor{items: []invoice.Item{{Quantity: 1}}}
}

// Add 追加一行空白条目，返回其下标。
func (e *Editor) Add() int {
	e.items = append(e.items, invoice.Item{Quantity: 1})
	return len(e.items) - 1
}

// Remove 删除第 i 行。只剩一行时拒绝并返回 ErrLastItem。
func (e *Editor) Remove(i int) error {
	if i < 0 || i >= len(e.items) {
		return fmt.Errorf("item index %d out of range", i)
	}
	if len(e.items) == 1 {
		return ErrLastItem
	}
	e.items = append(e.items[:i], e.items[i+1:]...)
	return nil
}

// Set 更新第 i 行的字段并重算该行小计。
func (e *Editor) Set(i int, productName, description string, quantity int, unitPrice float64) error {
	if i < 0 || i >= len(e.items) {
		return fmt.Errorf("item index %d out of range", i)
	}
	e.items[i] = invoice.Item{
		ProductName: productName,
		Description: description,
		Quantity:    quantity,
		UnitPrice:   invoice.Amount(unitPrice),
		LineTotal:   invoice.Amount(float64(quantity) * unitPrice),
	}
	return nil
}

// Len 返回条目行数。
func (e *Editor) Len() int { return len(e.items) }

// Items 返回条目副本，每行小计已按当前字段算好。
func (e *Editor) Items() []invoice.Item {
	out := make([]invoice.Item, len(e.items))
	copy(out, e.items)
	for i := range out {
		out[i].LineTotal = invoice.Amount(float64(out[i].Quantity) * float64(out[i].UnitPrice))
	}
	return out
}

// GrandTotal 返回全部条目小计之和。
func (e *Editor) GrandTotal() float64 {
	var sum float64
	for _, it := range e.Items() {
		sum += float64(it.LineTotal)
	}
	return sum
}

// Detail 把当前条目固化为提交形状：恰好一行走单条目，
// 多行走多条目（哨兵描述），与线上判定约定保持一致。
func (e *Editor) Detail(invoiceDate, dueDate, paymentMethod string) *invoice.Detail {
	items := e.Items()
	if len(items) == 1 {
		desc := items[0].ProductName
		if items[0].Description != "" {
			desc += " - " + items[0].Description
		}
		return &invoice.Detail{
			Kind:          invoice.KindSingle,
			InvoiceDate:   invoiceDate,
			DueDate:       dueDate,
			PaymentMethod: paymentMethod,
			Description:   desc,
			Quantity:      items[0].Quantity,
			UnitPrice:     float64(items[0].UnitPrice),
		}
	}
	return &invoice.Detail{
		Kind:          invoice.KindMulti,
		InvoiceDate:   invoiceDate,
		DueDate:       dueDate,
		PaymentMethod: paymentMethod,
		Items:         items,
	}
}
